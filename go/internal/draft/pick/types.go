package pick

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/mcdev12/draftroom/go/internal/draft/repository"
	"github.com/mcdev12/draftroom/go/internal/models"
)

// MaxRequestIDLength bounds the caller-supplied idempotency key.
const MaxRequestIDLength = 128

// SystemActor is recorded on lifecycle changes the engine makes itself.
const SystemActor = "system"

// ForcedRequestIDPrefix marks request ids written by forced picks. Callers
// may not use it.
const ForcedRequestIDPrefix = "auto:"

func forcedRequestID(draftID int64, pickNumber int) string {
	return fmt.Sprintf("%s%d:%d", ForcedRequestIDPrefix, draftID, pickNumber)
}

func notReserved(value interface{}) error {
	if s, _ := value.(string); strings.HasPrefix(s, ForcedRequestIDPrefix) {
		return fmt.Errorf("must not start with %q", ForcedRequestIDPrefix)
	}
	return nil
}

// SubmitPickRequest represents a user's request to claim a nomination
type SubmitPickRequest struct {
	DraftID      int64  `json:"draft_id"`
	UserID       string `json:"user_id"`
	NominationID int64  `json:"nomination_id"`
	RequestID    string `json:"request_id"`
}

// Validate checks the request shape before any state is read.
func (r SubmitPickRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.DraftID, validation.Required, validation.Min(int64(1))),
		validation.Field(&r.UserID, validation.Required),
		validation.Field(&r.NominationID, validation.Required, validation.Min(int64(1))),
		validation.Field(&r.RequestID, validation.Required, validation.RuneLength(1, MaxRequestIDLength), validation.By(notReserved)),
	)
}

// PickResult is the outcome of SubmitPick. Replayed is set when the request id
// had already been accepted and no new state was written.
type PickResult struct {
	Pick     models.DraftPick `json:"pick"`
	Replayed bool             `json:"replayed"`
	Draft    *models.Draft    `json:"draft,omitempty"`
}

// TickResult is the outcome of a heartbeat.
type TickResult struct {
	Draft    *models.Draft     `json:"draft"`
	AutoPick *models.DraftPick `json:"auto_pick"`
}

// Commit describes one pick written inside an exclusive section.
type Commit struct {
	Pick      models.DraftPick
	Draft     *models.Draft
	Event     models.DraftEvent
	Completed bool
	// NextSeat is the seat on the clock after this pick; nil once completed.
	NextSeat *models.Seat
	// Paused is set when no pick was made and the draft was paused instead.
	Paused bool
}

// FallbackSelector chooses the nomination for a forced pick.
type FallbackSelector interface {
	SelectNomination(ctx context.Context, tx repository.DraftTx, draft *models.Draft, seat models.Seat) (int64, error)
}

// BenchmarkTrigger asks the scoring side to recompute once a draft completes.
type BenchmarkTrigger interface {
	RecomputeBenchmarks(ctx context.Context, draftID int64) error
}

// AutoDraftService decides whether a seat should be picked for as soon as it
// comes on the clock.
type AutoDraftService interface {
	AutoPickEnabled(ctx context.Context, draftID int64, seat models.Seat) (bool, error)
}

// Config tunes the coordinator.
type Config struct {
	RateLimitAttempts int
	RateLimitWindow   time.Duration
	SideEffectTimeout time.Duration
	SideEffectBuffer  int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RateLimitAttempts: 3,
		RateLimitWindow:   2 * time.Second,
		SideEffectTimeout: 10 * time.Second,
		SideEffectBuffer:  1024,
	}
}

// SeatFlagAutoDraft enables auto-draft for seats flagged auto_pick.
type SeatFlagAutoDraft struct{}

func (SeatFlagAutoDraft) AutoPickEnabled(_ context.Context, _ int64, seat models.Seat) (bool, error) {
	return seat.AutoPick, nil
}

// NoopBenchmarks ignores recompute requests.
type NoopBenchmarks struct{}

func (NoopBenchmarks) RecomputeBenchmarks(context.Context, int64) error { return nil }
