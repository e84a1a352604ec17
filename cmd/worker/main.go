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
	"genqueue/internal/processor"
	"genqueue/internal/providers/nanobanana"
	"genqueue/internal/queue"
	"genqueue/internal/resilience"
	"genqueue/internal/worker"
	"genqueue/internal/ws"
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

	store := newQueueStore(cfg, logger)

	providerClient, err := nanobanana.NewClient(nanobanana.Options{
		APIKey:  cfg.NanoBananaAPIKey,
		BaseURL: cfg.NanoBananaBaseURL,
		Model:   cfg.NanoBananaModel,
		Logger:  &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure provider client")
	}
	if !providerClient.HasCredentials() {
		logger.Warn().Str("model", providerClient.Model()).Msg("worker: provider api key missing, calls will fail")
	}

	proc := processor.New(providerClient, "nanoBanana", resilience.DefaultConfig(), logger)

	qw := worker.New(store, proc, worker.Config{
		Concurrency:         cfg.Concurrency,
		PollInterval:        cfg.PollInterval,
		MaxRetries:          cfg.MaxRetries,
		RetryDelay:          cfg.RetryDelay,
		HealthCheckInterval: cfg.HealthCheckInterval,
		StaleJobThreshold:   cfg.StaleJobThreshold,
		ShutdownTimeout:     cfg.ShutdownTimeout,
		ErrorRateCeiling:    cfg.ErrorRateCeiling,
	}, logger)

	if err := qw.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: start failed")
	}

	// Status and event-stream surface for operators and the broadcast layer.
	hub := ws.NewHub(logger)
	events, unsubscribe := qw.Subscribe()
	go hub.Run(ctx, events)

	app := handlers.NewApp(store, qw, logger)
	router := httpapi.NewRouter(app, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		EventStream:    hub,
	})
	srv := infra.NewHTTPServer(cfg, router)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("worker: status server failed")
		}
	}()
	logger.Info().Str("port", cfg.Port).Str("backend", cfg.QueueBackend).Msg("worker: started")

	<-ctx.Done()
	logger.Info().Msg("worker: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout+5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	unsubscribe()
	if err := qw.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("worker: stop reported errors")
	}
	logger.Info().Msg("worker: stopped")
}

func newQueueStore(cfg *infra.Config, logger infra.Logger) queue.Service {
	if cfg.QueueBackend == "redis" {
		return queue.NewRedis(cfg.RedisAddr, cfg.RedisPassword, logger)
	}
	return queue.NewPostgres(cfg.DatabaseURL, logger)
}
