package main

import (
	"context"
	"errors"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real deployments pass the environment directly.
	_ = godotenv.Load()

	app := mustBootstrapTrackAPI()
	defer app.Close()

	if err := app.Run(); err != nil && !errors.Is(err, context.Canceled) {
		app.log.Error("track-api stopped", "error", err.Error())
		panic(err)
	}
}
