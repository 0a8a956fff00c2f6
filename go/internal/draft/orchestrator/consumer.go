package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/draftroom/go/internal/draft/events"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	consumerName          = "draft-orchestrator"
	consumerMaxDeliver    = 3
	consumerAckWait       = 30 * time.Second
	consumerMaxAckPending = 100
)

// WakeConsumer wakes the scheduler whenever a committed event may have set a
// sooner deadline than the one it is sleeping on.
type WakeConsumer struct {
	orch     *Orchestrator
	consumer jetstream.Consumer
}

// NewWakeConsumer creates or updates the orchestrator's durable consumer on stream.
func NewWakeConsumer(ctx context.Context, js jetstream.JetStream, stream string, orch *Orchestrator) (*WakeConsumer, error) {
	s, err := js.Stream(ctx, stream)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}

	// Deadlines are re-read from the store on wake, so old events are useless.
	consumer, err := s.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		Description:   "Draft orchestrator deadline wake-ups",
		FilterSubject: "draft.events.>",
		DeliverPolicy: jetstream.DeliverNewPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    consumerMaxDeliver,
		AckWait:       consumerAckWait,
		MaxAckPending: consumerMaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	return &WakeConsumer{orch: orch, consumer: consumer}, nil
}

// Start consumes until ctx is done.
func (c *WakeConsumer) Start(ctx context.Context) error {
	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		if err := c.processEvent(msg.Data()); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process event")
			_ = msg.Term()
			return
		}
		_ = msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("start JetStream consumer: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	return nil
}

func (c *WakeConsumer) processEvent(data []byte) error {
	var ev models.DraftEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	if HandleDomainEvent(c.orch, ev.Type) {
		log.Debug().
			Int64("draft_id", ev.DraftID).
			Str("event_type", ev.Type).
			Msg("deadline may have moved; waking scheduler")
	}
	return nil
}

// HandleDomainEvent wakes o for events that start or move a pick clock and
// reports whether it did.
func HandleDomainEvent(o *Orchestrator, eventType string) bool {
	switch eventType {
	case events.TypeDraftStarted, events.TypeDraftResumed, events.TypePickSubmitted:
		o.Wake()
		return true
	default:
		// Paused drafts drop out of NextDeadline on the next pass.
		return false
	}
}
