package httpapi

import (
	"net/http"
	"time"

	"github.com/BearBump/trackengine/internal/auth"
	"github.com/BearBump/trackengine/internal/logger"
	"github.com/go-chi/chi/v5/middleware"
)

type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"requestId", middleware.GetReqID(r.Context()))
		})
	}
}

// authenticate requires a valid bearer token and stores the principal in the context.
func authenticate(v TokenVerifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := v.Verify(auth.BearerToken(r.Header.Get("Authorization")))
			if err != nil {
				writeError(w, log, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}
