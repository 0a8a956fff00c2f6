package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DraftEvent is an entry in a draft's event log. Versions are contiguous per draft.
type DraftEvent struct {
	ID        uuid.UUID       `json:"id"`
	DraftID   int64           `json:"draft_id"`
	Version   int64           `json:"version"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// Snapshot is the full authoritative state of a draft at Version.
type Snapshot struct {
	Draft   Draft       `json:"draft"`
	Seats   []Seat      `json:"seats"`
	Picks   []DraftPick `json:"picks"`
	Version int64       `json:"version"`
	// PicksRequired is the pick count that completes the draft, after any
	// season override.
	PicksRequired int `json:"picks_required"`
}
