package outbox

import (
	"context"
	"time"

	"github.com/mcdev12/draftroom/go/internal/models"
)

// Record is a committed draft event waiting to be relayed, with any transport
// headers stored alongside it.
type Record struct {
	models.DraftEvent
	Headers map[string]string
}

// Publisher delivers one record to the broker.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
}

// Store is the event log as seen by the relay.
type Store interface {
	// Drain hands unsent records to fn in (draft, version) order and marks
	// those fn accepted as sent. Once fn fails for a draft, later versions of
	// that draft are left for the next drain.
	Drain(ctx context.Context, limit int, fn func(ctx context.Context, rec Record) error) (sent int, err error)
	CountUnsent(ctx context.Context) (int, error)
}

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to poll for missed events
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel:    "draft_events",
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}
