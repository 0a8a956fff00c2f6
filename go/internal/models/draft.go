package models

import (
	"time"
)

// DraftStatus defines the status of a draft.
type DraftStatus string

const (
	DraftStatusPending    DraftStatus = "PENDING"
	DraftStatusInProgress DraftStatus = "IN_PROGRESS"
	DraftStatusPaused     DraftStatus = "PAUSED"
	DraftStatusCompleted  DraftStatus = "COMPLETED"
)

// Draft is the header of a draft aggregate.
type Draft struct {
	ID                     int64       `json:"id"`
	SeasonID               int64       `json:"season_id"`
	Status                 DraftStatus `json:"status"`
	CurrentPickNumber      *int        `json:"current_pick_number"`
	PickDeadlineAt         *time.Time  `json:"pick_deadline_at"`
	PickTimerSeconds       *int        `json:"pick_timer_seconds"`
	PicksPerSeat           int         `json:"picks_per_seat"`
	AllowDraftingAfterLock bool        `json:"allow_drafting_after_lock"`
	Version                int64       `json:"version"`
	StartedAt              *time.Time  `json:"started_at,omitempty"`
	CompletedAt            *time.Time  `json:"completed_at,omitempty"`
	CreatedAt              time.Time   `json:"created_at"`
	UpdatedAt              time.Time   `json:"updated_at"`
}

// Timed reports whether picks in this draft run against a clock.
func (d *Draft) Timed() bool {
	return d.PickTimerSeconds != nil && *d.PickTimerSeconds > 0
}

// Clone returns a deep copy of the draft header.
func (d *Draft) Clone() *Draft {
	if d == nil {
		return nil
	}
	c := *d
	if d.CurrentPickNumber != nil {
		n := *d.CurrentPickNumber
		c.CurrentPickNumber = &n
	}
	if d.PickDeadlineAt != nil {
		t := *d.PickDeadlineAt
		c.PickDeadlineAt = &t
	}
	if d.PickTimerSeconds != nil {
		s := *d.PickTimerSeconds
		c.PickTimerSeconds = &s
	}
	if d.StartedAt != nil {
		t := *d.StartedAt
		c.StartedAt = &t
	}
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
