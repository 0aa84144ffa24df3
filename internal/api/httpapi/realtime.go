package httpapi

import (
	"context"
	"net/http"

	"github.com/BearBump/trackengine/internal/auth"
	"github.com/BearBump/trackengine/internal/realtime"
	"github.com/go-chi/chi/v5"
)

type Realtime interface {
	Connect(ctx context.Context, token string) (*realtime.Client, error)
	Command(ctx context.Context, clientID, token string, cmd realtime.Command) error
	ServeHTTP(w http.ResponseWriter, r *http.Request, c *realtime.Client)
}

// requestToken reads the bearer header, falling back to the access_token query parameter
// because browser EventSource cannot set headers.
func requestToken(r *http.Request) string {
	if t := auth.BearerToken(r.Header.Get("Authorization")); t != "" {
		return t
	}
	return r.URL.Query().Get("access_token")
}

func (a *API) stream(w http.ResponseWriter, r *http.Request) {
	c, err := a.hub.Connect(r.Context(), requestToken(r))
	if err != nil {
		writeError(w, a.log, err)
		return
	}
	a.hub.ServeHTTP(w, r, c)
}

func (a *API) command(w http.ResponseWriter, r *http.Request) {
	var cmd realtime.Command
	if err := decode(w, r, &cmd); err != nil {
		writeError(w, a.log, err)
		return
	}
	if err := a.hub.Command(r.Context(), chi.URLParam(r, "connectionId"), requestToken(r), cmd); err != nil {
		writeError(w, a.log, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
