package models

// SeasonStatus is the lifecycle state of the ceremony season a draft belongs to.
type SeasonStatus string

const (
	SeasonStatusActive    SeasonStatus = "ACTIVE"
	SeasonStatusCancelled SeasonStatus = "CANCELLED"
	SeasonStatusArchived  SeasonStatus = "ARCHIVED"
)

// Season is read-only reference data owned by the ceremony administration.
type Season struct {
	ID                   int64        `json:"id"`
	Status               SeasonStatus `json:"status"`
	DraftLocked          bool         `json:"draft_locked"`
	PicksPerSeatOverride *int         `json:"picks_per_seat_override,omitempty"`
}

// Nomination is a claimable item in a season's catalog.
type Nomination struct {
	ID       int64  `json:"id"`
	SeasonID int64  `json:"season_id"`
	Name     string `json:"name"`
}
