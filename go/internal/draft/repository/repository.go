// Package repository is the durable draft aggregate: header, seats, pick ledger
// and event log. It owns locking; callers mutate a draft only inside WithDraftLock.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mcdev12/draftroom/go/internal/draft/turn"
	"github.com/mcdev12/draftroom/go/internal/models"
)

var (
	// ErrNotFound is returned when a draft, season, pick or event does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned by InsertPick when any uniqueness constraint on
	// the ledger rejects the row. The caller decides which dimension collided.
	ErrDuplicate = errors.New("duplicate pick")
)

// Store is the draft state store.
type Store interface {
	// WithDraftLock runs fn with exclusive access to one draft aggregate.
	// Nothing fn writes is visible unless fn returns nil.
	WithDraftLock(ctx context.Context, draftID int64, fn func(ctx context.Context, tx DraftTx) error) error

	// FindPickByRequestID is a lock-free read used for the idempotent fast path.
	FindPickByRequestID(ctx context.Context, draftID int64, requestID string) (*models.DraftPick, error)

	// Snapshot returns a consistent view of the draft at its current version.
	Snapshot(ctx context.Context, draftID int64) (*models.Snapshot, error)

	// DueDrafts lists in-progress drafts whose pick deadline is before now.
	DueDrafts(ctx context.Context, now time.Time, limit int) ([]int64, error)

	// NextDeadline returns the earliest pending pick deadline, or nil if none.
	NextDeadline(ctx context.Context) (*time.Time, error)
}

// DraftTx is the view of a locked draft. It is only valid inside WithDraftLock.
type DraftTx interface {
	Draft(ctx context.Context) (*models.Draft, error)
	Season(ctx context.Context) (*models.Season, error)
	Seats(ctx context.Context) ([]models.Seat, error)
	CountPicks(ctx context.Context) (int, error)

	PickByRequestID(ctx context.Context, requestID string) (*models.DraftPick, error)
	PickByNumber(ctx context.Context, pickNumber int) (*models.DraftPick, error)
	PickByNomination(ctx context.Context, nominationID int64) (*models.DraftPick, error)

	NominationExists(ctx context.Context, nominationID int64) (bool, error)
	AvailableNominations(ctx context.Context, limit int) ([]models.Nomination, error)

	// InsertPick stores p and sets p.ID. Uniqueness conflicts return ErrDuplicate
	// and leave the transaction usable.
	InsertPick(ctx context.Context, p *models.DraftPick) error

	// UpdateDraft persists the mutable header fields. It never touches Version.
	UpdateDraft(ctx context.Context, d *models.Draft) error

	// AppendEvent records the next event for the draft. The version is the
	// draft's current version plus one and the draft version is bumped with it.
	AppendEvent(ctx context.Context, eventType string, payload json.RawMessage) (*models.DraftEvent, error)
}

// PicksRequired is the number of picks that completes d, applying the season's
// per-seat override when one is set. season may be nil.
func PicksRequired(d models.Draft, season *models.Season, seats int) int {
	perSeat := d.PicksPerSeat
	if season != nil && season.PicksPerSeatOverride != nil {
		perSeat = *season.PicksPerSeatOverride
	}
	return turn.RequiredPicks(seats, perSeat)
}
