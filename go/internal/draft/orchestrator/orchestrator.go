// Package orchestrator drives expired pick clocks. It sleeps until the next
// deadline any draft has, then ticks every draft that is due.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/draftroom/go/internal/draft/pick"
	"github.com/rs/zerolog/log"
)

// Ticker runs the heartbeat for one draft. pick.App and pick.TickClient both
// satisfy it.
type Ticker interface {
	Tick(ctx context.Context, draftID int64) (*pick.TickResult, error)
}

// Deadlines is the read side the scheduler polls.
type Deadlines interface {
	NextDeadline(ctx context.Context) (*time.Time, error)
	DueDrafts(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

type Config struct {
	BatchSize    int           // how many due drafts to claim at once
	Workers      int           // size of the tick worker pool
	IdlePoll     time.Duration // sleep when no draft has a deadline
	RetryBackoff time.Duration // base wait after a failed or empty pass
	MaxRetries   int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    100,
		Workers:      10,
		IdlePoll:     5 * time.Second,
		RetryBackoff: time.Second,
		MaxRetries:   3,
	}
}

type Orchestrator struct {
	deadlines  Deadlines
	ticker     Ticker
	clock      clockwork.Clock
	cfg        Config
	instanceID string // unique ID for this scheduler instance

	wakeCh chan struct{}
	workCh chan int64

	// Track in-flight work to prevent duplicate processing
	inFlight   map[int64]bool
	inFlightMu sync.Mutex
}

// NewOrchestrator creates a scheduler with its worker pool.
func NewOrchestrator(deadlines Deadlines, ticker Ticker, cfg Config, clock clockwork.Clock) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		deadlines:  deadlines,
		ticker:     ticker,
		clock:      clock,
		cfg:        cfg,
		instanceID: uuid.New().String()[:8], // short ID for logging
		wakeCh:     make(chan struct{}, 1),
		workCh:     make(chan int64, cfg.Workers*2),
		inFlight:   make(map[int64]bool),
	}
}

// Wake makes the scheduler re-read the next deadline, e.g. after a draft
// started or resumed with a sooner clock.
func (o *Orchestrator) Wake() {
	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
}

// RunScheduler loops until ctx is done, sleeping until the next deadline and
// handing due drafts to the workers.
func (o *Orchestrator) RunScheduler(ctx context.Context) error {
	log.Info().Str("instance", o.instanceID).Int("workers", o.cfg.Workers).Msg("scheduler started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	for i := 0; i < o.cfg.Workers; i++ {
		wg.Add(1)
		go o.worker(workerCtx, &wg, i)
	}

	defer func() {
		log.Info().Str("instance", o.instanceID).Msg("shutting down workers")
		cancelWorkers()
		wg.Wait()
		log.Info().Str("instance", o.instanceID).Msg("all workers shut down")
	}()

	retryCount := 0
	for {
		select {
		case <-o.wakeCh:
		default:
		}

		next, err := o.deadlines.NextDeadline(ctx)
		if err != nil {
			retryCount++
			if retryCount > o.cfg.MaxRetries {
				log.Error().Err(err).Str("instance", o.instanceID).Msg("error fetching next deadline after retries")
				return err
			}
			log.Error().
				Err(err).
				Int("retry", retryCount).
				Str("instance", o.instanceID).
				Msg("error fetching next deadline, retrying")
			if !o.sleep(ctx, o.cfg.RetryBackoff*time.Duration(retryCount), false) {
				return nil
			}
			continue
		}
		retryCount = 0

		if next == nil {
			log.Debug().Str("instance", o.instanceID).Dur("poll", o.cfg.IdlePoll).Msg("no running clocks; idling")
			if !o.sleep(ctx, o.cfg.IdlePoll, true) {
				return nil
			}
			continue
		}

		// A turn expires strictly after its deadline.
		if wait := next.Sub(o.clock.Now()); wait >= 0 {
			if !o.sleep(ctx, wait+time.Millisecond, true) {
				return nil
			}
			continue
		}

		queued, err := o.dispatchDue(ctx)
		if err != nil {
			log.Error().Err(err).Str("instance", o.instanceID).Msg("error fetching due drafts")
		}
		if queued > 0 {
			log.Debug().Int("queued", queued).Str("instance", o.instanceID).Msg("waiting for workers")
		}
		// Workers wake the loop once a clock moves; a draft whose tick made no
		// progress is retried after the backoff.
		if !o.sleep(ctx, o.cfg.RetryBackoff, true) {
			return nil
		}
	}
}

// sleep waits for d. It reports false once ctx is done.
func (o *Orchestrator) sleep(ctx context.Context, d time.Duration, wakeable bool) bool {
	timer := o.clock.NewTimer(d)
	defer stopAndDrainTimer(timer)

	var wake <-chan struct{}
	if wakeable {
		wake = o.wakeCh
	}
	select {
	case <-timer.Chan():
		return true
	case <-wake:
		log.Debug().Str("instance", o.instanceID).Msg("woken up early")
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) dispatchDue(ctx context.Context) (int, error) {
	due, err := o.deadlines.DueDrafts(ctx, o.clock.Now(), o.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, draftID := range due {
		o.inFlightMu.Lock()
		if o.inFlight[draftID] {
			o.inFlightMu.Unlock()
			log.Debug().Int64("draft_id", draftID).Str("instance", o.instanceID).Msg("skipping draft already in flight")
			continue
		}
		o.inFlight[draftID] = true
		o.inFlightMu.Unlock()

		select {
		case <-ctx.Done():
			o.release(draftID)
			return queued, nil
		case o.workCh <- draftID:
			queued++
		}
	}

	if len(due) > 0 {
		log.Info().
			Int("count_due", len(due)).
			Int("queued", queued).
			Str("instance", o.instanceID).
			Msg("processing due drafts")
	}
	return queued, nil
}

func (o *Orchestrator) release(draftID int64) {
	o.inFlightMu.Lock()
	delete(o.inFlight, draftID)
	o.inFlightMu.Unlock()
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
