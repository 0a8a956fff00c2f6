package pick

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/draftroom/go/internal/apperr"
	"github.com/mcdev12/draftroom/go/internal/draft/events"
	"github.com/mcdev12/draftroom/go/internal/draft/repository"
	"github.com/mcdev12/draftroom/go/internal/draft/turn"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ErrNoNominations is returned by a FallbackSelector when nothing is left to pick.
var ErrNoNominations = errors.New("no available nominations")

// Forced pick triggers, used as metric labels.
const (
	triggerPrecheck  = "precheck"
	triggerTick      = "tick"
	triggerAutoDraft = "auto_draft"
)

// AutoPickIfExpired forces a pick for the seat on the clock when the pick
// deadline has passed. It must run inside the draft's exclusive section and
// returns nil when nothing was due.
func (a *App) AutoPickIfExpired(ctx context.Context, tx repository.DraftTx, draft *models.Draft) (*Commit, error) {
	return a.autoPickIfExpired(ctx, tx, draft, triggerTick)
}

func (a *App) autoPickIfExpired(ctx context.Context, tx repository.DraftTx, draft *models.Draft, trigger string) (*Commit, error) {
	if draft.Status != models.DraftStatusInProgress || !draft.Timed() || draft.PickDeadlineAt == nil {
		return nil, nil
	}
	if !a.clock.Now().After(*draft.PickDeadlineAt) {
		return nil, nil
	}
	return a.forcePick(ctx, tx, draft, trigger)
}

// forcePick makes the fallback selection for whichever seat owns the current pick.
func (a *App) forcePick(ctx context.Context, tx repository.DraftTx, draft *models.Draft, trigger string) (*Commit, error) {
	pos, err := a.locate(ctx, tx, draft)
	if err != nil {
		return nil, err
	}
	if pos.count >= pos.required {
		return nil, nil
	}

	assign, err := turn.Resolve(pos.current, len(pos.seats))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeTurnResolution, err, "failed to resolve turn")
	}
	seat, ok := models.SeatByNumber(pos.seats, assign.Seat)
	if !ok {
		return nil, apperr.New(apperr.CodeTurnResolution, "no seat %d for pick %d", assign.Seat, pos.current)
	}

	nominationID, err := a.fallback.SelectNomination(ctx, tx, draft, seat)
	if errors.Is(err, ErrNoNominations) {
		log.Warn().
			Int64("draft_id", draft.ID).
			Int("pick_number", pos.current).
			Msg("pick expired but no nominations are left to assign, pausing draft")
		return a.pauseExhausted(ctx, tx, draft)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select fallback nomination: %w", err)
	}

	res, err := a.commitPick(ctx, tx, draft, pickIntent{
		userID:       seat.UserID,
		nominationID: nominationID,
		requestID:    forcedRequestID(draft.ID, pos.current),
		auto:         true,
	})
	if err != nil {
		return nil, err
	}
	if res.commit == nil {
		// The pick number only moves forward, so a forced id can never
		// legitimately exist yet.
		replayed := 0
		if res.replay != nil {
			replayed = res.replay.PickNumber
		}
		return nil, apperr.New(apperr.CodeInternal,
			"forced pick %d of draft %d collided with existing pick %d", pos.current, draft.ID, replayed)
	}

	a.metrics.AutoPicks.WithLabelValues(trigger).Inc()
	log.Info().
		Int64("draft_id", draft.ID).
		Int("pick_number", res.commit.Pick.PickNumber).
		Int("seat_number", res.commit.Pick.SeatNumber).
		Int64("nomination_id", nominationID).
		Str("trigger", trigger).
		Msg("forced pick committed")
	return res.commit, nil
}

// pauseExhausted stops the clock on a draft whose catalog ran out so the
// expired deadline is not retried forever. A manager resumes it once more
// nominations exist.
func (a *App) pauseExhausted(ctx context.Context, tx repository.DraftTx, draft *models.Draft) (*Commit, error) {
	d := draft.Clone()
	d.Status = models.DraftStatusPaused
	d.PickDeadlineAt = nil
	if err := tx.UpdateDraft(ctx, d); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(events.DraftPausedPayload{Draft: events.HeaderOf(d), PausedBy: SystemActor})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pause payload: %w", err)
	}
	ev, err := tx.AppendEvent(ctx, events.TypeDraftPaused, payload)
	if err != nil {
		return nil, err
	}
	d.Version = ev.Version
	return &Commit{Draft: d, Event: *ev, Paused: true}, nil
}

// Tick is the heartbeat for a timed draft: it forces a pick if the current
// one has expired and returns the resulting header.
func (a *App) Tick(ctx context.Context, draftID int64) (*TickResult, error) {
	var (
		result TickResult
		commit *Commit
		slot   *events.Slot
	)
	err := a.store.WithDraftLock(context.WithoutCancel(ctx), draftID, func(ctx context.Context, tx repository.DraftTx) error {
		result, commit = TickResult{}, nil
		slot.Cancel()
		slot = nil

		draft, err := tx.Draft(ctx)
		if err != nil {
			return err
		}
		result.Draft = draft
		if draft.Status != models.DraftStatusInProgress {
			return nil
		}

		season, err := tx.Season(ctx)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if season == nil || checkSeason(draft, season) != nil {
			log.Debug().Int64("draft_id", draftID).Msg("tick skipped, season does not allow picks")
			return nil
		}

		commit, err = a.autoPickIfExpired(ctx, tx, draft, triggerTick)
		if err != nil {
			return err
		}
		if commit != nil {
			result.Draft = commit.Draft
			if !commit.Paused {
				result.AutoPick = &commit.Pick
			}
			slot = a.reserve(draftID)
		}
		return nil
	})
	if err != nil {
		slot.Cancel()
		return nil, translateStoreError(err)
	}

	if commit != nil {
		a.afterCommit(slot, commit)
	}
	return &result, nil
}

// autoDraftTurn picks for a seat that has auto-draft enabled, provided the
// draft is still waiting on pickNumber.
func (a *App) autoDraftTurn(ctx context.Context, draftID int64, pickNumber int) error {
	var (
		commit *Commit
		slot   *events.Slot
	)
	err := a.store.WithDraftLock(ctx, draftID, func(ctx context.Context, tx repository.DraftTx) error {
		commit = nil
		slot.Cancel()
		slot = nil

		draft, err := tx.Draft(ctx)
		if err != nil {
			return err
		}
		if draft.Status != models.DraftStatusInProgress ||
			draft.CurrentPickNumber == nil || *draft.CurrentPickNumber != pickNumber {
			return nil
		}
		commit, err = a.forcePick(ctx, tx, draft, triggerAutoDraft)
		if err != nil {
			return err
		}
		if commit != nil {
			slot = a.reserve(draftID)
		}
		return nil
	})
	if err != nil {
		slot.Cancel()
		return err
	}
	if commit != nil {
		a.afterCommit(slot, commit)
	}
	return nil
}
