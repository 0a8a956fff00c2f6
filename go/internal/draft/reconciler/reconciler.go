// Package reconciler keeps a viewer's copy of a draft in step with the server.
// Events are applied in version order; anything it cannot prove contiguous
// is answered with a full snapshot fetch.
package reconciler

import (
	"context"
	"sync"

	"github.com/mcdev12/draftroom/go/internal/draft/events"
	"github.com/mcdev12/draftroom/go/internal/metrics"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/rs/zerolog/log"
)

// State is where the reconciler is in its sync cycle.
type State int

const (
	StateResyncing State = iota
	StateSynced
)

func (s State) String() string {
	if s == StateSynced {
		return "SYNCED"
	}
	return "RESYNCING"
}

// Resync reasons, used as metric labels.
const (
	ReasonInitial   = "initial"
	ReasonGap       = "gap"
	ReasonReconnect = "reconnect"
	ReasonPending   = "pending"
	ReasonApply     = "apply_error"
	ReasonRetry     = "retry"
)

// SnapshotFetcher loads the authoritative state of a draft.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, draftID int64) (*models.Snapshot, error)
}

// Reconciler is owned by one subscription to one draft. It is safe for
// concurrent use.
type Reconciler struct {
	draftID  int64
	fetcher  SnapshotFetcher
	metrics  *metrics.Metrics
	onChange func(models.Snapshot)

	mu         sync.Mutex
	state      State
	snapshot   *models.Snapshot
	generation uint64 // bumped by every resync; only the latest may install
	inFlight   int
	fetches    sync.WaitGroup
}

type Option func(*Reconciler)

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithOnChange registers a callback invoked with a copy of the snapshot after
// every applied event or installed resync.
func WithOnChange(fn func(models.Snapshot)) Option {
	return func(r *Reconciler) { r.onChange = fn }
}

func New(draftID int64, fetcher SnapshotFetcher, opts ...Option) *Reconciler {
	r := &Reconciler{
		draftID: draftID,
		fetcher: fetcher,
		state:   StateResyncing,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.New(nil)
	}
	return r
}

// State reports the sync state and the last applied version.
func (r *Reconciler) State() (State, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot == nil {
		return r.state, 0
	}
	return r.state, r.snapshot.Version
}

// Snapshot returns a copy of the local state. ok is false before the first sync.
func (r *Reconciler) Snapshot() (models.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot == nil {
		return models.Snapshot{}, false
	}
	return cloneSnapshot(r.snapshot), true
}

// Wait blocks until every fetch started so far has returned.
func (r *Reconciler) Wait() {
	r.fetches.Wait()
}

// HandleReconnect always resyncs; a new connection cannot prove nothing was missed.
func (r *Reconciler) HandleReconnect(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startResyncLocked(ctx, ReasonReconnect)
}

// HandleEvent folds env into the local state or starts a resync.
func (r *Reconciler) HandleEvent(ctx context.Context, env events.Envelope) {
	if env.DraftID != r.draftID {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateResyncing {
		// The pending fetch covers this event. If nothing is in flight the
		// last fetch failed, so try again.
		if r.inFlight == 0 {
			reason := ReasonRetry
			if r.snapshot == nil {
				reason = ReasonInitial
			}
			r.startResyncLocked(ctx, reason)
		}
		return
	}

	local := r.snapshot.Version
	switch {
	case env.Version <= local:
		return
	case r.snapshot.Draft.Status == models.DraftStatusPending && env.EventType != events.TypeDraftStarted:
		// Seats are withheld until start, so activity on a draft we still
		// think is pending means we missed the start.
		r.startResyncLocked(ctx, ReasonPending)
		return
	case env.Version > local+1:
		log.Debug().
			Int64("draft_id", r.draftID).
			Int64("local_version", local).
			Int64("version", env.Version).
			Msg("version gap; resyncing")
		r.startResyncLocked(ctx, ReasonGap)
		return
	}

	next := cloneSnapshot(r.snapshot)
	if err := events.Apply(&next, env); err != nil {
		log.Warn().Err(err).
			Int64("draft_id", r.draftID).
			Int64("version", env.Version).
			Str("event_type", env.EventType).
			Msg("failed to apply event; resyncing")
		r.startResyncLocked(ctx, ReasonApply)
		return
	}
	r.snapshot = &next
	r.notifyLocked()
}

func (r *Reconciler) startResyncLocked(ctx context.Context, reason string) {
	r.state = StateResyncing
	r.generation++
	r.inFlight++
	gen := r.generation
	r.metrics.Resyncs.WithLabelValues(reason).Inc()

	log.Debug().
		Int64("draft_id", r.draftID).
		Str("reason", reason).
		Uint64("generation", gen).
		Msg("resync started")

	r.fetches.Add(1)
	go func() {
		defer r.fetches.Done()
		snap, err := r.fetcher.FetchSnapshot(ctx, r.draftID)
		r.finishResync(gen, snap, err)
	}()
}

func (r *Reconciler) finishResync(gen uint64, snap *models.Snapshot, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight--

	if gen != r.generation {
		log.Debug().
			Int64("draft_id", r.draftID).
			Uint64("generation", gen).
			Uint64("latest", r.generation).
			Msg("discarding superseded snapshot")
		return
	}
	if err != nil {
		log.Warn().Err(err).Int64("draft_id", r.draftID).Msg("snapshot fetch failed")
		return
	}

	s := cloneSnapshot(snap)
	r.snapshot = &s
	r.state = StateSynced
	r.notifyLocked()
}

func (r *Reconciler) notifyLocked() {
	if r.onChange != nil {
		r.onChange(cloneSnapshot(r.snapshot))
	}
}

func cloneSnapshot(s *models.Snapshot) models.Snapshot {
	return models.Snapshot{
		Draft:   *s.Draft.Clone(),
		Seats:   append([]models.Seat(nil), s.Seats...),
		Picks:   append([]models.DraftPick(nil), s.Picks...),
		Version: s.Version,
	}
}
