package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/draftroom/go/internal/models"
)

// ErrUnknownEventType is returned by Apply for event types it cannot fold.
var ErrUnknownEventType = errors.New("unknown event type")

// Apply folds one event delta into a snapshot. The caller is responsible for
// version ordering; Apply only records env.Version as the new version.
func Apply(s *models.Snapshot, env Envelope) error {
	switch env.EventType {
	case TypePickSubmitted:
		var p PickSubmittedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s: %w", env.EventType, err)
		}
		s.Picks = append(s.Picks, p.Pick)
		applyHeader(&s.Draft, p.Draft)

	case TypeDraftStarted:
		var p DraftStartedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s: %w", env.EventType, err)
		}
		s.Seats = p.Seats
		applyHeader(&s.Draft, p.Draft)

	case TypeDraftPaused:
		var p DraftPausedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s: %w", env.EventType, err)
		}
		applyHeader(&s.Draft, p.Draft)

	case TypeDraftResumed:
		var p DraftResumedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode %s: %w", env.EventType, err)
		}
		applyHeader(&s.Draft, p.Draft)

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEventType, env.EventType)
	}

	s.Version = env.Version
	s.Draft.Version = env.Version
	return nil
}

func applyHeader(d *models.Draft, h DraftHeader) {
	d.Status = h.Status
	d.CurrentPickNumber = h.CurrentPickNumber
	d.PickDeadlineAt = h.PickDeadlineAt
	if h.StartedAt != nil {
		d.StartedAt = h.StartedAt
	}
	if h.CompletedAt != nil {
		d.CompletedAt = h.CompletedAt
	}
}
