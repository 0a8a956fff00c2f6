package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/draftroom/go/internal/apperr"
	"github.com/mcdev12/draftroom/go/internal/draft/events"
	"github.com/mcdev12/draftroom/go/internal/draft/repository"
	"github.com/mcdev12/draftroom/go/internal/draft/turn"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/rs/zerolog/log"
)

// App handles the draft lifecycle and snapshot reads.
type App struct {
	store     repository.Store
	publisher events.Publisher
	clock     clockwork.Clock
	seq       *events.Sequencer
}

// Option configures an App.
type Option func(*App)

// WithSequencer publishes lifecycle events through the queue the pick
// coordinator uses, keeping each draft's events in version order. Without it
// events are published synchronously after commit.
func WithSequencer(s *events.Sequencer) Option { return func(a *App) { a.seq = s } }

// NewApp creates a new draft App
func NewApp(store repository.Store, publisher events.Publisher, clock clockwork.Clock, opts ...Option) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if publisher == nil {
		publisher = events.Fanout{}
	}
	a := &App{store: store, publisher: publisher, clock: clock}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start opens a pending draft for picks.
func (a *App) Start(ctx context.Context, draftID int64, actor string) (*models.Draft, error) {
	return a.transition(ctx, draftID, TransitionStart, actor)
}

// Pause stops the pick clock.
func (a *App) Pause(ctx context.Context, draftID int64, actor string) (*models.Draft, error) {
	return a.transition(ctx, draftID, TransitionPause, actor)
}

// Resume restarts the pick clock with a fresh deadline.
func (a *App) Resume(ctx context.Context, draftID int64, actor string) (*models.Draft, error) {
	return a.transition(ctx, draftID, TransitionResume, actor)
}

func (a *App) transition(ctx context.Context, draftID int64, t Transition, actor string) (*models.Draft, error) {
	rule, ok := allowedTransitions[t]
	if !ok {
		return nil, apperr.New(apperr.CodeInvalidRequest, "unknown transition %q", t)
	}

	var (
		updated *models.Draft
		event   *models.DraftEvent
		slot    *events.Slot
	)
	err := a.store.WithDraftLock(context.WithoutCancel(ctx), draftID, func(ctx context.Context, tx repository.DraftTx) error {
		slot.Cancel()
		slot = nil

		d, err := tx.Draft(ctx)
		if err != nil {
			return err
		}
		if d.Status != rule.from {
			return apperr.New(apperr.CodeInvalidTransition, "cannot %s a draft that is %s", t, d.Status)
		}

		now := a.clock.Now()
		next := d.Clone()
		next.Status = rule.to

		var payload any
		switch t {
		case TransitionStart:
			seats, err := a.checkStartable(ctx, tx, d)
			if err != nil {
				return err
			}
			count, err := tx.CountPicks(ctx)
			if err != nil {
				return err
			}
			pickNumber := count + 1
			next.CurrentPickNumber = &pickNumber
			next.StartedAt = &now
			next.PickDeadlineAt = deadline(next, now)
			payload = events.DraftStartedPayload{Draft: events.HeaderOf(next), Seats: seats}

		case TransitionPause:
			next.PickDeadlineAt = nil
			payload = events.DraftPausedPayload{Draft: events.HeaderOf(next), PausedBy: actor}

		case TransitionResume:
			next.PickDeadlineAt = deadline(next, now)
			payload = events.DraftResumedPayload{Draft: events.HeaderOf(next), ResumedBy: actor}
		}

		if err := tx.UpdateDraft(ctx, next); err != nil {
			return err
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		event, err = tx.AppendEvent(ctx, eventType(t), raw)
		if err != nil {
			return err
		}
		next.Version = event.Version
		updated = next
		if a.seq != nil {
			slot = a.seq.Reserve()
		}
		return nil
	})
	if err != nil {
		slot.Cancel()
		return nil, translate(err)
	}

	log.Info().
		Int64("draft_id", draftID).
		Str("transition", string(t)).
		Str("actor", actor).
		Int64("version", event.Version).
		Msg("draft status changed")

	ev := *event
	if slot != nil {
		slot.Commit(func(ctx context.Context) { a.publish(ctx, ev) })
	} else {
		if a.seq != nil {
			log.Warn().Int64("draft_id", draftID).Msg("side effect queue full, publishing lifecycle event inline")
		}
		a.publish(context.WithoutCancel(ctx), ev)
	}
	return updated, nil
}

func (a *App) publish(ctx context.Context, ev models.DraftEvent) {
	if err := a.publisher.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Int64("draft_id", ev.DraftID).Int64("version", ev.Version).Msg("failed to publish draft event")
	}
}

func (a *App) checkStartable(ctx context.Context, tx repository.DraftTx, d *models.Draft) ([]models.Seat, error) {
	season, err := tx.Season(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.New(apperr.CodeSeasonNotFound, "season %d not found", d.SeasonID)
	}
	if err != nil {
		return nil, err
	}
	if season.Status != models.SeasonStatusActive {
		return nil, apperr.New(apperr.CodeInvalidTransition, "season %d is %s", season.ID, season.Status)
	}
	if season.DraftLocked && !d.AllowDraftingAfterLock {
		return nil, apperr.New(apperr.CodeDraftLocked, "drafting is locked for season %d", season.ID)
	}

	seats, err := tx.Seats(ctx)
	if err != nil {
		return nil, err
	}
	if len(seats) == 0 {
		return nil, apperr.New(apperr.CodePrereqMissingSeats, "draft %d has no seats", d.ID)
	}

	if repository.PicksRequired(*d, season, len(seats)) == 0 {
		return nil, apperr.New(apperr.CodeInvalidTransition, "draft %d needs at least one pick per seat", d.ID)
	}
	return seats, nil
}

// Snapshot returns the authoritative state of a draft along with its pick
// ledger. Seat order and the ledger stay hidden until the draft starts.
func (a *App) Snapshot(ctx context.Context, draftID int64) (*SnapshotView, error) {
	snap, err := a.store.Snapshot(ctx, draftID)
	if err != nil {
		return nil, translate(err)
	}
	if snap.Picks == nil {
		snap.Picks = []models.DraftPick{}
	}
	view := &SnapshotView{Snapshot: snap, Ledger: []LedgerRow{}}
	if snap.Draft.Status == models.DraftStatusPending {
		snap.Seats = []models.Seat{}
		return view, nil
	}

	view.Ledger, err = buildLedger(snap)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeTurnResolution, err, "failed to build pick ledger")
	}
	return view, nil
}

// buildLedger lays the made picks over the full snake order.
func buildLedger(snap *models.Snapshot) ([]LedgerRow, error) {
	if snap.PicksRequired == 0 {
		return []LedgerRow{}, nil
	}
	seatCount := len(snap.Seats)
	schedule, err := turn.Schedule(seatCount, snap.PicksRequired/seatCount)
	if err != nil {
		return nil, err
	}

	made := make(map[int]models.DraftPick, len(snap.Picks))
	for _, p := range snap.Picks {
		made[p.PickNumber] = p
	}
	rows := make([]LedgerRow, len(schedule))
	for i, assign := range schedule {
		rows[i].Assignment = assign
		if p, ok := made[assign.PickNumber]; ok {
			rows[i].Pick = &p
		}
	}
	return rows, nil
}

func deadline(d *models.Draft, now time.Time) *time.Time {
	if !d.Timed() {
		return nil
	}
	t := now.Add(time.Duration(*d.PickTimerSeconds) * time.Second)
	return &t
}

func eventType(t Transition) string {
	switch t {
	case TransitionStart:
		return events.TypeDraftStarted
	case TransitionPause:
		return events.TypeDraftPaused
	default:
		return events.TypeDraftResumed
	}
}

func translate(err error) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Wrap(apperr.CodeDraftNotFound, err, "draft not found")
	}
	return apperr.Wrap(apperr.CodeInternal, err, "internal error")
}
