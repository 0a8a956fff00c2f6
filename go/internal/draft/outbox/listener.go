package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/mcdev12/draftroom/go/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Relay moves committed events from the store to the broker in version order.
type Relay struct {
	store     Store
	publisher Publisher
	cfg       ListenerConfig
	clock     clockwork.Clock
	metrics   *metrics.Metrics

	mu        sync.Mutex
	processed uint64
	lastSent  time.Time
}

func NewRelay(store Store, publisher Publisher, cfg ListenerConfig, m *metrics.Metrics, clock clockwork.Clock) *Relay {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Relay{store: store, publisher: publisher, cfg: cfg, clock: clock, metrics: m}
}

// Run drains on every signal from wake and on the fallback interval until
// ctx is done.
func (r *Relay) Run(ctx context.Context, wake <-chan struct{}) error {
	fallback := r.clock.NewTicker(r.cfg.FallbackInterval)
	defer fallback.Stop()

	// Catch up on anything committed while the relay was down.
	r.drainLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
			r.drainLogged(ctx)
		case <-fallback.Chan():
			r.drainLogged(ctx)
		}
	}
}

func (r *Relay) drainLogged(ctx context.Context) {
	if _, err := r.DrainAll(ctx); err != nil {
		log.Error().Err(err).Msg("failed to relay unsent events")
	}
}

// DrainAll relays batches until a batch comes back short.
func (r *Relay) DrainAll(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.store.Drain(ctx, r.cfg.BatchSize, r.publishWithRetry)
		total += n
		r.metrics.OutboxBatch.Observe(float64(n))
		if err != nil {
			return total, err
		}
		if n > 0 {
			r.mu.Lock()
			r.processed += uint64(n)
			r.lastSent = r.clock.Now()
			r.mu.Unlock()
		}
		if n < r.cfg.BatchSize {
			break
		}
	}

	if pending, err := r.store.CountUnsent(ctx); err == nil {
		r.metrics.OutboxLag.Set(float64(pending))
	}
	return total, nil
}

// Stats reports how many events were relayed and when the last one went out.
func (r *Relay) Stats() (uint64, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed, r.lastSent
}

// publishWithRetry attempts to publish a record with a linear backoff.
func (r *Relay) publishWithRetry(ctx context.Context, rec Record) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(r.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := r.publisher.Publish(ctx, rec); err != nil {
			lastErr = err
			r.metrics.EventsPublished.WithLabelValues("jetstream", "error").Inc()
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", rec.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		r.metrics.EventsPublished.WithLabelValues("jetstream", "ok").Inc()
		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", rec.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}

// Listener turns Postgres notifications on the event channel into relay wake-ups.
type Listener struct {
	listener *pq.Listener
	cfg      ListenerConfig
	wake     chan struct{}
}

func NewListener(cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for notifications")

	return &Listener{
		listener: l,
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
	}, nil
}

// Wake signals once per burst of notifications.
func (l *Listener) Wake() <-chan struct{} {
	return l.wake
}

// Start forwards notifications until ctx is done.
func (l *Listener) Start(ctx context.Context) error {
	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.listener.Close()
		case note := <-l.listener.Notify:
			// A nil notification follows a reconnect; events may have been
			// missed so drain anyway.
			if note != nil {
				log.Debug().Str("event_id", note.Extra).Msg("draft event notification")
			}
			select {
			case l.wake <- struct{}{}:
			default:
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}
