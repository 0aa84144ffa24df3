package main

import (
	"context"
	"strings"
	"time"

	"github.com/BearBump/trackengine/config"
	"github.com/BearBump/trackengine/internal/broker/kafka"
	"github.com/BearBump/trackengine/internal/cache/rediscache"
	"github.com/BearBump/trackengine/internal/integrations/carrier"
	"github.com/BearBump/trackengine/internal/integrations/carrier/emulatorv1"
	"github.com/BearBump/trackengine/internal/integrations/carrier/fake"
	"github.com/BearBump/trackengine/internal/logger"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/BearBump/trackengine/internal/services/poller"
	"github.com/BearBump/trackengine/internal/storage/pgtracking"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type workerFactories struct {
	newStorage       func(cfg *config.Config) (repo poller.Repository, closeFn func(), err error)
	newProducer      func(cfg *config.Config) poller.Producer
	newRateLimiter   func(cfg *config.Config) poller.RateLimiter
	newCarrierClient func(cfg *config.Config) carrier.Client
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (poller.Repository, func(), error) {
			st, err := pgtracking.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) poller.Producer {
			return kafka.NewProducer(cfg.Kafka.Brokers())
		},
		newRateLimiter: func(cfg *config.Config) poller.RateLimiter {
			rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr()})
			return rediscache.NewRateLimiterFromClient(rdb, cfg.Redis.KeyPrefix)
		},
		newCarrierClient: func(cfg *config.Config) carrier.Client {
			// The emulator needs a base url; without one the local fake is used.
			if cfg.Worker.CarrierMode == "emulator" && cfg.Worker.CarrierBaseURL != "" {
				return emulatorv1.New(cfg.Worker.CarrierBaseURL, cfg.Worker.CarrierAPIKey)
			}
			return fake.New()
		},
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func plannerConfig(w config.WorkerConfig) poller.PlannerConfig {
	// Zero values are replaced with defaults by the planner.
	return poller.PlannerConfig{
		MovingMinDelay: seconds(w.NextCheckMovingMinSeconds),
		MovingMaxDelay: seconds(w.NextCheckMovingMaxSeconds),
		IdleDelay:      seconds(w.NextCheckIdleSeconds),
		Backoff1:       seconds(w.Backoff1Seconds),
		Backoff2:       seconds(w.Backoff2Seconds),
		Backoff3:       seconds(w.Backoff3Seconds),
		Backoff4:       seconds(w.Backoff4Seconds),
	}
}

func carrierLimits(in map[string]int) map[models.CarrierName]int {
	out := make(map[models.CarrierName]int, len(in))
	for name, n := range in {
		out[models.CarrierName(strings.ToLower(strings.TrimSpace(name)))] = n
	}
	return out
}

func newWorkerPoller(cfg *config.Config, repo poller.Repository, f workerFactories, log *logger.Logger) *poller.Poller {
	// Only the scheduling decision reads the status here; track-api normalizes for real.
	reader := carrier.NewNormalizer(nil)

	return poller.New(repo, f.newCarrierClient(cfg), f.newProducer(cfg), f.newRateLimiter(cfg), reader, log).
		WithTopic(cfg.Kafka.CarrierEventsTopic).
		WithSettings(
			seconds(cfg.Worker.PollIntervalSeconds),
			cfg.Worker.BatchSize,
			cfg.Worker.Concurrency,
			seconds(cfg.Worker.LeaseSeconds),
			int64(cfg.Worker.RateLimitPerMinute),
		).
		WithPlanner(plannerConfig(cfg.Worker)).
		WithCarrierRateLimits(carrierLimits(cfg.Worker.CarrierRateLimits))
}

// RunTrackWorker polls carriers and serves the worker's operational HTTP endpoints
// until ctx is done.
func RunTrackWorker(ctx context.Context, cfg *config.Config, f workerFactories, httpOpts workerHTTPOpts, log *logger.Logger) error {
	log = logger.OrNop(log)

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	p := newWorkerPoller(cfg, repo, f, log)
	httpOpts.poller = p
	httpOpts.cfg = cfg
	httpOpts.log = log

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("poller started", "carrier_mode", cfg.Worker.CarrierMode)
		return p.Run(gctx)
	})
	if httpOpts.httpAddr != "" {
		g.Go(func() error {
			return runWorkerHTTPServer(gctx, httpOpts)
		})
	}
	return g.Wait()
}
