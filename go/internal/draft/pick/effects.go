package pick

import (
	"context"

	"github.com/mcdev12/draftroom/go/internal/draft/events"
	"github.com/rs/zerolog/log"
)

// Run dispatches post-commit side effects until ctx is done. Events are
// published in commit order; benchmark and auto-draft work runs on its own
// goroutine. Failures are logged and never reach the pick caller.
func (a *App) Run(ctx context.Context) {
	a.seq.Run(ctx)
}

// Wait blocks until every queued side effect has finished.
func (a *App) Wait() {
	a.seq.Wait()
}

// reserve claims the next post-commit position for draftID. It must be called
// inside the draft's exclusive section.
func (a *App) reserve(draftID int64) *events.Slot {
	slot := a.seq.Reserve()
	if slot == nil {
		log.Warn().
			Int64("draft_id", draftID).
			Msg("side effect queue full, dropping post-commit work")
	}
	return slot
}

func (a *App) afterCommit(slot *events.Slot, commits ...*Commit) {
	if len(commits) == 0 {
		slot.Cancel()
		return
	}
	slot.Commit(func(ctx context.Context) {
		for _, c := range commits {
			a.dispatch(ctx, c)
		}
	})
}

func (a *App) dispatch(ctx context.Context, c *Commit) {
	pubCtx, cancel := context.WithTimeout(ctx, a.cfg.SideEffectTimeout)
	err := a.publisher.Publish(pubCtx, c.Event)
	cancel()
	if err != nil {
		a.metrics.EventsPublished.WithLabelValues("coordinator", "error").Inc()
		log.Error().Err(err).
			Int64("draft_id", c.Event.DraftID).
			Int64("version", c.Event.Version).
			Msg("failed to publish draft event")
	} else {
		a.metrics.EventsPublished.WithLabelValues("coordinator", "ok").Inc()
	}

	switch {
	case c.Completed:
		a.goTracked(ctx, func(ctx context.Context) {
			if err := a.benchmarks.RecomputeBenchmarks(ctx, c.Pick.DraftID); err != nil {
				log.Error().Err(err).Int64("draft_id", c.Pick.DraftID).Msg("failed to trigger benchmark recompute")
			}
		})
	case c.NextSeat != nil && c.Draft != nil && c.Draft.CurrentPickNumber != nil:
		seat, pickNumber := *c.NextSeat, *c.Draft.CurrentPickNumber
		a.goTracked(ctx, func(ctx context.Context) {
			enabled, err := a.autoDraft.AutoPickEnabled(ctx, c.Pick.DraftID, seat)
			if err != nil {
				log.Error().Err(err).Int64("draft_id", c.Pick.DraftID).Int("seat_number", seat.SeatNumber).Msg("failed to check auto-draft")
				return
			}
			if !enabled {
				return
			}
			if err := a.autoDraftTurn(ctx, c.Pick.DraftID, pickNumber); err != nil {
				log.Error().Err(err).Int64("draft_id", c.Pick.DraftID).Int("pick_number", pickNumber).Msg("auto-draft pick failed")
			}
		})
	}
}

func (a *App) goTracked(ctx context.Context, fn func(ctx context.Context)) {
	done := a.seq.Track()
	go func() {
		defer done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.SideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}
