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
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/draftroom/go/internal/draft/outbox"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}
	setupLogging()

	cfg, err := loadConfig(getEnv("DRAFT_CONFIG", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	driver := getEnv("STORE_DRIVER", "postgres")
	// Without the outbox relay nothing else drives timers, so the memory
	// store runs the scheduler in-process by default.
	cfg.Scheduler.Embedded = getEnvAsBool("EMBEDDED_SCHEDULER", cfg.Scheduler.Embedded || driver == "memory")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	store, err := setupStore(ctx, cfg, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up draft store")
	}
	defer store.Close()

	var nc *nats.Conn
	if natsURL := getEnv("NATS_URL", ""); natsURL != "" {
		nc, err = outbox.Connect(natsURL, -1, 2*time.Second)
		if err != nil {
			log.Warn().Err(err).Str("nats_url", natsURL).Msg("NATS unavailable; benchmarks and broker fan-out disabled")
		} else {
			defer nc.Close()
		}
	}

	services, err := setupServices(cfg, store, nc, driver == "memory", clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}

	server := setupServer(services)

	errCh := make(chan error, 2)
	go func() {
		errCh <- services.Run(ctx)
	}()
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("store", driver).
			Bool("embedded_scheduler", cfg.Scheduler.Embedded).
			Msg("draft API server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("draft API component failed")
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("draft API shutdown complete")
}

// setupLogging reads LOG_LEVEL and LOG_FORMAT ("console" or "json").
func setupLogging() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if getEnv("LOG_FORMAT", "console") == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
