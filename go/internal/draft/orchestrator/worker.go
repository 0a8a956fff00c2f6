package orchestrator

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// worker ticks drafts from the work channel
func (o *Orchestrator) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	log.Debug().
		Str("instance", o.instanceID).
		Int("worker_id", workerID).
		Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			log.Debug().
				Str("instance", o.instanceID).
				Int("worker_id", workerID).
				Msg("worker shutting down")
			return
		case draftID := <-o.workCh:
			moved := o.handleTimeout(ctx, draftID, workerID)
			// Clean up in-flight tracking regardless of success/failure
			o.release(draftID)
			if moved {
				o.Wake()
			}
		}
	}
}

// handleTimeout reports whether the draft's clock moved.
func (o *Orchestrator) handleTimeout(ctx context.Context, draftID int64, workerID int) bool {
	res, err := o.ticker.Tick(ctx, draftID)
	if err != nil {
		log.Error().
			Err(err).
			Int64("draft_id", draftID).
			Str("instance", o.instanceID).
			Int("worker_id", workerID).
			Msg("tick failed")
		return false
	}
	if res.AutoPick != nil {
		log.Info().
			Int64("draft_id", draftID).
			Int("pick_number", res.AutoPick.PickNumber).
			Int64("nomination_id", res.AutoPick.NominationID).
			Str("instance", o.instanceID).
			Msg("auto-pick made for expired turn")
		return true
	}
	return false
}
