package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/trackengine/internal/logger"
	"github.com/BearBump/trackengine/internal/realtime"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

type trackAPIOpts struct {
	httpAddr string
	topic    string
	group    string

	onListen func(httpAddr string)
}

type carrierEventConsumer interface {
	Consume(ctx context.Context, handler func(ctx context.Context, key, value []byte) error) error
}

type realtimeForwarder interface {
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
}

type scheduledJob interface {
	Start() error
	Stop()
}

type trackAPIRuntime struct {
	handler        http.Handler
	consumer       carrierEventConsumer
	onCarrierEvent func(ctx context.Context, key, value []byte) error
	forwarder      realtimeForwarder
	deliver        func(m realtime.Message)
	jobs           []scheduledJob
	log            *logger.Logger
}

// runTrackAPI serves HTTP, consumes carrier events and forwards realtime messages until
// ctx is done or one of them fails. A consumer failure stops the process so the
// uncommitted message is redelivered to the next instance.
func runTrackAPI(ctx context.Context, opts trackAPIOpts, rt trackAPIRuntime) error {
	log := logger.OrNop(rt.log)
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", opts.httpAddr)
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	for _, j := range rt.jobs {
		if err := j.Start(); err != nil {
			_ = lis.Close()
			return errors.Wrap(err, "start job")
		}
		defer j.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	// Request contexts derive from gctx so open realtime streams end when the
	// process stops instead of holding Shutdown until its timeout.
	srv := &http.Server{
		Handler:           rt.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}
	g.Go(func() error {
		log.Info("HTTP server listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if rt.consumer != nil && rt.onCarrierEvent != nil {
		g.Go(func() error {
			log.Info("kafka consumer started", "topic", opts.topic, "group", opts.group)
			if err := rt.consumer.Consume(gctx, rt.onCarrierEvent); err != nil {
				log.Error("kafka consumer stopped", "error", err.Error())
				return err
			}
			return nil
		})
	}

	if rt.forwarder != nil && rt.deliver != nil {
		g.Go(func() error {
			return rt.forwarder.StartForwarder(gctx, rt.deliver)
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return err
}
