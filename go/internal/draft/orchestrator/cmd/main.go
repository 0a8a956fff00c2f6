package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/draftroom/go/internal/auth"
	"github.com/mcdev12/draftroom/go/internal/dbconfig"
	"github.com/mcdev12/draftroom/go/internal/draft/orchestrator"
	"github.com/mcdev12/draftroom/go/internal/draft/outbox"
	"github.com/mcdev12/draftroom/go/internal/draft/pick"
	"github.com/mcdev12/draftroom/go/internal/draft/repository"
)

const serviceUser = "draft-orchestrator"

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	draftServiceURL := getEnv("DRAFT_SERVICE_URL", "http://localhost:8080")
	natsURL := getEnv("NATS_URL", nats.DefaultURL)

	cfg := orchestrator.DefaultConfig()
	cfg.BatchSize = getEnvAsInt("ORCHESTRATOR_BATCH_SIZE", cfg.BatchSize)
	cfg.Workers = getEnvAsInt("ORCHESTRATOR_WORKERS", cfg.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Deadlines are read straight from the draft tables.
	dbCfg := dbconfig.NewConfigFromEnv()
	pool, err := dbCfg.NewPool(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	store := repository.NewPostgres(pool)

	log.Info().
		Str("database", dbCfg.Database).
		Str("draft_service_url", draftServiceURL).
		Str("nats_url", natsURL).
		Msg("starting draft orchestrator")

	// Ticks go through the API so the coordinator's side effects run there.
	authn := auth.NewAuthenticator(getEnv("JWT_SECRET", "dev-secret"), getEnv("JWT_ISSUER", "draftroom"), nil)
	httpClient := &http.Client{Timeout: 30 * time.Second}
	ticker := pick.NewTickClient(httpClient, draftServiceURL, func() (string, error) {
		return authn.Issue(serviceUser, 5*time.Minute)
	})

	orch := orchestrator.NewOrchestrator(store, ticker, cfg, nil)

	errCh := make(chan error, 3)
	go func() {
		log.Info().Msg("starting orchestrator scheduler")
		errCh <- orch.RunScheduler(ctx)
	}()

	// NATS wake-ups are optional; without them the scheduler still polls.
	nc, err := outbox.Connect(natsURL, -1, 2*time.Second)
	if err != nil {
		log.Warn().Err(err).Msg("NATS unavailable; relying on polling")
	} else {
		defer nc.Close()
		if err := startWakeConsumer(ctx, nc, orch, errCh); err != nil {
			log.Warn().Err(err).Msg("failed to start wake consumer; relying on polling")
		}
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	server := &http.Server{
		Addr:         ":" + getEnv("ORCHESTRATOR_PORT", "8083"),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health check server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("orchestrator component failed")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health check server shutdown failed")
	}
	log.Info().Msg("draft orchestrator shutdown complete")
}

func startWakeConsumer(ctx context.Context, nc *nats.Conn, orch *orchestrator.Orchestrator, errCh chan<- error) error {
	js, err := jetstream.New(nc)
	if err != nil {
		return err
	}
	consumer, err := orchestrator.NewWakeConsumer(ctx, js, outbox.DefaultJetStreamConfig().StreamName, orch)
	if err != nil {
		return err
	}
	go func() {
		log.Info().Msg("starting NATS wake consumer")
		errCh <- consumer.Start(ctx)
	}()
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
