package models

import (
	"time"
)

// DraftPick is a single committed pick. Picks are append-only.
type DraftPick struct {
	ID           int64     `json:"id"`
	DraftID      int64     `json:"draft_id"`
	PickNumber   int       `json:"pick_number"`
	RoundNumber  int       `json:"round_number"`
	SeatNumber   int       `json:"seat_number"`
	NominationID int64     `json:"nomination_id"`
	RequestID    string    `json:"request_id"`
	UserID       string    `json:"user_id"`
	Auto         bool      `json:"auto"`
	MadeAt       time.Time `json:"made_at"`
}
