package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/draftroom/go/internal/auth"
	draftapp "github.com/mcdev12/draftroom/go/internal/draft/draft"
	"github.com/mcdev12/draftroom/go/internal/draft/events"
	"github.com/mcdev12/draftroom/go/internal/draft/gateway"
	"github.com/mcdev12/draftroom/go/internal/draft/orchestrator"
	"github.com/mcdev12/draftroom/go/internal/draft/outbox"
	"github.com/mcdev12/draftroom/go/internal/draft/pick"
	"github.com/mcdev12/draftroom/go/internal/metrics"
	"github.com/mcdev12/draftroom/go/internal/models"
)

type Services struct {
	Authn   *auth.Authenticator
	Metrics *metrics.Metrics

	PickApp *pick.App
	Picks   *pick.Service
	Drafts  *draftapp.Service

	Connections *gateway.ConnectionManager
	WebSocket   *gateway.WebSocketHandler

	// Scheduler is nil unless the orchestrator runs in this process.
	Scheduler *orchestrator.Orchestrator
}

// setupServices wires the engine: store -> apps -> HTTP services. nc may be
// nil. directPublish sends events straight to JetStream when no outbox relay
// runs behind the store.
func setupServices(cfg *Config, store *Store, nc *nats.Conn, directPublish bool, clock clockwork.Clock) (*Services, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	authn := auth.NewAuthenticator(getEnv("JWT_SECRET", "dev-secret"), getEnv("JWT_ISSUER", "draftroom"), clock)

	fallback, err := fallbackStrategy(cfg)
	if err != nil {
		return nil, err
	}

	connections := gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), m, clock)
	publishers := events.Fanout{connections}

	var benchmarks pick.BenchmarkTrigger = pick.NoopBenchmarks{}
	if nc != nil {
		benchmarks = outbox.NewBenchmarkTrigger(nc)
		if directPublish {
			js, err := outbox.NewJetStreamPublisher(nc, outbox.DefaultJetStreamConfig())
			if err != nil {
				return nil, fmt.Errorf("failed to create JetStream publisher: %w", err)
			}
			publishers = append(publishers, events.PublisherFunc(func(ctx context.Context, ev models.DraftEvent) error {
				return js.Publish(ctx, outbox.Record{DraftEvent: ev})
			}))
		}
	}

	services := &Services{
		Authn:       authn,
		Metrics:     m,
		Connections: connections,
		WebSocket:   gateway.NewWebSocketHandler(connections, authn),
	}

	// The embedded scheduler hears about commits directly instead of over NATS.
	var publisher events.Publisher = publishers
	wake := &schedulerWake{}
	if cfg.Scheduler.Embedded {
		publisher = append(publishers, wake)
	}

	// Picks and lifecycle changes share one post-commit queue so each draft's
	// events leave in version order.
	seq := events.NewSequencer(cfg.Engine.SideEffectBuffer)

	pickApp := pick.NewApp(store, fallback,
		pick.WithSequencer(seq),
		pick.WithClock(clock),
		pick.WithPublisher(publisher),
		pick.WithBenchmarks(benchmarks),
		pick.WithMetrics(m),
		pick.WithConfig(cfg.pickConfig()),
	)
	services.PickApp = pickApp
	services.Picks = pick.NewService(pickApp)
	services.Drafts = draftapp.NewService(draftapp.NewApp(store, publisher, clock, draftapp.WithSequencer(seq)))

	if cfg.Scheduler.Embedded {
		services.Scheduler = orchestrator.NewOrchestrator(store, pickApp, cfg.schedulerConfig(), clock)
		wake.orch = services.Scheduler
	}
	return services, nil
}

func fallbackStrategy(cfg *Config) (pick.FallbackSelector, error) {
	if cfg.Engine.FallbackStrategy == "random" && cfg.Engine.RandomSeed != 0 {
		return orchestrator.NewRandomStrategy(cfg.Engine.RandomSeed), nil
	}
	strategy, err := orchestrator.NewStrategy(cfg.Engine.FallbackStrategy)
	if err != nil {
		return nil, fmt.Errorf("invalid fallback strategy: %w", err)
	}
	return strategy, nil
}

// schedulerWake forwards committed events to the in-process scheduler.
type schedulerWake struct {
	orch *orchestrator.Orchestrator
}

func (w *schedulerWake) Publish(_ context.Context, ev models.DraftEvent) error {
	if w.orch != nil {
		orchestrator.HandleDomainEvent(w.orch, ev.Type)
	}
	return nil
}

// Run starts the background loops and blocks until ctx is done or one fails.
func (s *Services) Run(ctx context.Context) error {
	go s.Connections.Start(ctx)
	go s.PickApp.Run(ctx)

	if s.Scheduler == nil {
		<-ctx.Done()
	} else {
		log.Info().Msg("starting embedded draft scheduler")
		if err := s.Scheduler.RunScheduler(ctx); err != nil && ctx.Err() == nil {
			return fmt.Errorf("scheduler stopped: %w", err)
		}
	}

	// Let queued side effects flush before the process exits.
	done := make(chan struct{})
	go func() {
		s.PickApp.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("timed out waiting for pick side effects")
	}
	return nil
}
