package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/trackengine/config"
	"github.com/BearBump/trackengine/internal/api/httpapi"
	"github.com/BearBump/trackengine/internal/auth"
	"github.com/BearBump/trackengine/internal/broker/kafka"
	"github.com/BearBump/trackengine/internal/broker/messages"
	"github.com/BearBump/trackengine/internal/cache/rediscache"
	"github.com/BearBump/trackengine/internal/integrations/carrier"
	"github.com/BearBump/trackengine/internal/integrations/shop"
	"github.com/BearBump/trackengine/internal/jobs"
	"github.com/BearBump/trackengine/internal/logger"
	"github.com/BearBump/trackengine/internal/realtime"
	"github.com/BearBump/trackengine/internal/realtime/bus"
	"github.com/BearBump/trackengine/internal/services/dispatch"
	"github.com/BearBump/trackengine/internal/services/exceptions"
	"github.com/BearBump/trackengine/internal/services/ledger"
	"github.com/BearBump/trackengine/internal/services/ordersync"
	"github.com/BearBump/trackengine/internal/services/prediction"
	"github.com/BearBump/trackengine/internal/services/scanner"
	"github.com/BearBump/trackengine/internal/services/trackings"
	"github.com/BearBump/trackengine/internal/storage/pgtracking"
	goredis "github.com/redis/go-redis/v9"
)

type trackAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   trackAPIOpts
	rt     trackAPIRuntime
	log    *logger.Logger

	dispatcher *dispatch.Dispatcher
	consumer   *kafka.Consumer
	rdb        *goredis.Client
	closeDB    func()
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Logger.Mode, cfg.Logger.Level)
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	log = log.With("service", "track-api")

	if cfg.Auth.JWTSecret == "" {
		panic("auth.jwt_secret is required")
	}

	consumerGroup := cfg.API.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "track-api"
	}
	topic := cfg.Kafka.CarrierEventsTopic
	if topic == "" {
		topic = messages.TopicCarrierEvents
	}
	cacheTTL := time.Duration(cfg.API.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	ingressLimit := cfg.Realtime.IngressLimitPerMinute
	if ingressLimit <= 0 {
		ingressLimit = 100
	}

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second, log)

	rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr()})
	rc := rediscache.NewFromClient(rdb, cfg.Redis.KeyPrefix)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)
	shopClient := shop.New(cfg.Shop.BaseURL, cfg.Shop.ServiceToken)

	realtimeBus := bus.NewRedisBus(rdb, cfg.Realtime.RedisChannel, log)
	hub := realtime.NewHub(verifier, shopClient, log).
		WithSettings(realtime.Settings{
			OutboundBuffer:    cfg.Realtime.OutboundBuffer,
			IngressLimit:      ingressLimit,
			IngressWindow:     time.Minute,
			HeartbeatInterval: time.Duration(cfg.Realtime.HeartbeatSeconds) * time.Second,
		}).
		WithBroker(realtimeBus)

	led := ledger.New(st, log)
	delays := scanner.New(st, 0)
	dispatcher := dispatch.New(hub, ordersync.New(shopClient, log), log,
		time.Duration(cfg.API.DispatchTimeoutSeconds)*time.Second)

	svc := trackings.New(trackings.Deps{
		Ledger:     led,
		Repo:       st,
		Normalizer: carrier.NewNormalizer(nil),
		Exceptions: exceptions.New(led, log),
		Predictor:  prediction.New(led, log),
		Scanner:    delays,
		Dispatcher: dispatcher,
	}, rc, cacheTTL, log)

	api := httpapi.New(svc, hub, verifier, httpapi.Options{
		SwaggerPath:    os.Getenv("swaggerPath"),
		AllowedOrigins: cfg.API.AllowedOrigins,
		Readiness:      map[string]httpapi.Pinger{"postgres": st, "redis": rc},
	}, log)

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers(), topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &trackAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: trackAPIOpts{
			httpAddr: cfg.API.HTTPAddr,
			topic:    topic,
			group:    consumerGroup,
		},
		rt: trackAPIRuntime{
			handler:        api.Handler(),
			consumer:       consumer,
			onCarrierEvent: svc.HandleCarrierEvent,
			forwarder:      realtimeBus,
			deliver:        hub.Deliver,
			jobs: []scheduledJob{
				jobs.NewDelayedScanJob(delays, hub, cfg.API.DelayedScanSchedule, log),
			},
			log: log,
		},
		log:        log,
		dispatcher: dispatcher,
		consumer:   consumer,
		rdb:        rdb,
		closeDB:    st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration, log *logger.Logger) *pgtracking.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgtracking.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		log.Warn("postgres is not ready yet", "error", err.Error())
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	// Side effects still in flight need the database and redis.
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
	a.log.Sync()
}

func (a *trackAPIApp) Run() error {
	return runTrackAPI(a.ctx, a.opts, a.rt)
}
