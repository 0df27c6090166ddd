package main

import (
	"context"
	"log"

	"contract-backend/internal/bootstrap"
	"contract-backend/internal/shared/config"
	"contract-backend/internal/shared/server"
	"contract-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()
	defer telemetry.Sync()

	app, err := bootstrap.Build(context.Background(), cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	addr := server.Addr(cfg.Port)
	telemetry.Info("api.start", map[string]any{"addr": addr, "env": cfg.Env, "queue": app.Queue != nil})

	if err := app.Router.Run(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
