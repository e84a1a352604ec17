package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	httpapi "genqueue/internal/http"
	"genqueue/internal/http/handlers"
	"genqueue/internal/infra"
	"genqueue/internal/queue"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store queue.Service
	if cfg.QueueBackend == "redis" {
		store = queue.NewRedis(cfg.RedisAddr, cfg.RedisPassword, logger)
	} else {
		store = queue.NewPostgres(cfg.DatabaseURL, logger)
	}
	if err := store.Initialize(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: queue store unavailable")
	}

	app := handlers.NewApp(store, nil, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})

	srv := infra.NewHTTPServer(cfg, router)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api: server failed")
		}
	}()
	logger.Info().Str("port", cfg.Port).Str("backend", cfg.QueueBackend).Msg("api: started")

	<-ctx.Done()
	logger.Info().Msg("api: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = store.Shutdown(shutdownCtx)
	logger.Info().Msg("api: stopped")
}
