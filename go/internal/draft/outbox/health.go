package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/draftroom/go/internal/apperr"
	"github.com/nats-io/nats.go"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	LastEventTime     time.Time `json:"last_event_time"`
	EventsProcessed   uint64    `json:"events_processed"`
	PendingEvents     int       `json:"pending_events"`
	OldestPendingAge  string    `json:"oldest_pending_age,omitempty"`
	DatabaseConnected bool      `json:"database_connected"`
	NATSConnected     bool      `json:"nats_connected"`
	Errors            []string  `json:"errors"`
}

type oldestUnsent interface {
	OldestUnsent(ctx context.Context) (*time.Time, error)
}

// HealthChecker reports whether the relay is keeping up.
type HealthChecker struct {
	relay     *Relay
	db        *sql.DB
	natsConn  *nats.Conn
	clock     clockwork.Clock
	threshold time.Duration // How long pending events may sit before unhealthy
}

func NewHealthChecker(relay *Relay, db *sql.DB, natsConn *nats.Conn, threshold time.Duration) *HealthChecker {
	return &HealthChecker{
		relay:     relay,
		db:        db,
		natsConn:  natsConn,
		clock:     relay.clock,
		threshold: threshold,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, Errors: []string{}}
	status.EventsProcessed, status.LastEventTime = h.relay.Stats()

	if err := h.db.PingContext(ctx); err != nil {
		status.Healthy = false
		status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
	} else {
		status.DatabaseConnected = true
	}

	if h.natsConn != nil {
		status.NATSConnected = h.natsConn.IsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if status.DatabaseConnected {
		pending, err := h.relay.store.CountUnsent(ctx)
		if err != nil {
			status.Errors = append(status.Errors, err.Error())
		} else {
			status.PendingEvents = pending
		}
		if o, ok := h.relay.store.(oldestUnsent); ok && status.PendingEvents > 0 {
			if at, err := o.OldestUnsent(ctx); err != nil {
				status.Errors = append(status.Errors, err.Error())
			} else if at != nil {
				status.OldestPendingAge = h.clock.Since(*at).Round(time.Millisecond).String()
			}
		}
	}

	if status.PendingEvents > 0 && !status.LastEventTime.IsZero() {
		if since := h.clock.Since(status.LastEventTime); since > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no events relayed for %s", since))
		}
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	apperr.WriteJSON(w, code, status)
}
