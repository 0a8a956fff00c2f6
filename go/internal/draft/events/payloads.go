package events

import (
	"time"

	"github.com/mcdev12/draftroom/go/internal/models"
)

// Event types appended to a draft's event log.
const (
	TypePickSubmitted = "draft.pick.submitted"
	TypeDraftStarted  = "draft.started"
	TypeDraftPaused   = "draft.paused"
	TypeDraftResumed  = "draft.resumed"
)

// DraftHeader carries the mutable header fields of a draft after a change.
type DraftHeader struct {
	Status            models.DraftStatus `json:"status"`
	CurrentPickNumber *int               `json:"current_pick_number"`
	PickDeadlineAt    *time.Time         `json:"pick_deadline_at"`
	StartedAt         *time.Time         `json:"started_at,omitempty"`
	CompletedAt       *time.Time         `json:"completed_at,omitempty"`
}

// HeaderOf extracts the header delta from a draft.
func HeaderOf(d *models.Draft) DraftHeader {
	c := d.Clone()
	return DraftHeader{
		Status:            c.Status,
		CurrentPickNumber: c.CurrentPickNumber,
		PickDeadlineAt:    c.PickDeadlineAt,
		StartedAt:         c.StartedAt,
		CompletedAt:       c.CompletedAt,
	}
}

// PickSubmittedPayload is the payload for a draft.pick.submitted event
type PickSubmittedPayload struct {
	Pick  models.DraftPick `json:"pick"`
	Draft DraftHeader      `json:"draft"`
}

// DraftStartedPayload is the payload for a draft.started event. Seat order is
// only revealed once the draft starts.
type DraftStartedPayload struct {
	Draft DraftHeader   `json:"draft"`
	Seats []models.Seat `json:"seats"`
}

// DraftPausedPayload is the payload for a draft.paused event
type DraftPausedPayload struct {
	Draft    DraftHeader `json:"draft"`
	PausedBy string      `json:"paused_by,omitempty"`
}

// DraftResumedPayload is the payload for a draft.resumed event
type DraftResumedPayload struct {
	Draft     DraftHeader `json:"draft"`
	ResumedBy string      `json:"resumed_by,omitempty"`
}
