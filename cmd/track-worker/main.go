package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BearBump/trackengine/config"
	"github.com/BearBump/trackengine/internal/logger"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Logger.Mode, cfg.Logger.Level)
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	log = log.With("service", "track-worker")
	defer log.Sync()

	httpAddr := cfg.Worker.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8082"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = RunTrackWorker(ctx, cfg, defaultWorkerFactories(), workerHTTPOpts{
		httpAddr:    httpAddr,
		swaggerPath: os.Getenv("workerSwaggerPath"),
	}, log)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("track-worker stopped", "error", err.Error())
		panic(err)
	}
}
