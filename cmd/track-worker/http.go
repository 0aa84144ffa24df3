package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/trackengine/config"
	"github.com/BearBump/trackengine/internal/logger"
	"github.com/BearBump/trackengine/internal/services/poller"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	poller *poller.Poller
	cfg    *config.Config
	log    *logger.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func workerRouter(opts workerHTTPOpts) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		if opts.poller == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "poller not wired"})
			return
		}
		writeJSON(w, http.StatusOK, opts.poller.Stats())
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "config not wired"})
			return
		}
		// Operational settings only, no credentials.
		wc := opts.cfg.Worker
		writeJSON(w, http.StatusOK, map[string]any{
			"pollIntervalSeconds":       wc.PollIntervalSeconds,
			"batchSize":                 wc.BatchSize,
			"concurrency":               wc.Concurrency,
			"leaseSeconds":              wc.LeaseSeconds,
			"rateLimitPerMinute":        wc.RateLimitPerMinute,
			"carrierRateLimits":         wc.CarrierRateLimits,
			"nextCheckMovingMinSeconds": wc.NextCheckMovingMinSeconds,
			"nextCheckMovingMaxSeconds": wc.NextCheckMovingMaxSeconds,
			"nextCheckIdleSeconds":      wc.NextCheckIdleSeconds,
			"carrierMode":               wc.CarrierMode,
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if opts.poller == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "poller not wired"})
			return
		}
		opts.poller.Trigger()
		writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
	})

	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})

		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}
	return r
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	log := logger.OrNop(opts.log)

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", opts.httpAddr)
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: workerRouter(opts), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("worker HTTP listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
