package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mcdev12/draftroom/go/internal/draft/events"
	"github.com/mcdev12/draftroom/go/internal/metrics"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const draftID = 42

type fetchResult struct {
	snap *models.Snapshot
	err  error
}

// gatedFetcher blocks every fetch until the test releases it, unless auto is set.
type gatedFetcher struct {
	mu    sync.Mutex
	auto  func() (*models.Snapshot, error)
	gates []chan fetchResult
}

func (f *gatedFetcher) FetchSnapshot(ctx context.Context, id int64) (*models.Snapshot, error) {
	f.mu.Lock()
	ch := make(chan fetchResult, 1)
	f.gates = append(f.gates, ch)
	auto := f.auto
	f.mu.Unlock()

	if auto != nil {
		return auto()
	}
	select {
	case r := <-ch:
		return r.snap, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *gatedFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.gates)
}

func (f *gatedFetcher) waitCalls(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.calls() >= n }, time.Second, time.Millisecond)
}

func (f *gatedFetcher) release(t *testing.T, i int, snap *models.Snapshot, err error) {
	t.Helper()
	require.Eventually(t, func() bool { return f.calls() > i }, time.Second, time.Millisecond)
	f.mu.Lock()
	ch := f.gates[i]
	f.mu.Unlock()
	ch <- fetchResult{snap: snap, err: err}
}

func snapshotAt(status models.DraftStatus, version int64, picks int) *models.Snapshot {
	pointer := picks + 1
	s := &models.Snapshot{
		Draft: models.Draft{
			ID:                draftID,
			Status:            status,
			CurrentPickNumber: &pointer,
			Version:           version,
		},
		Version: version,
	}
	for i := 1; i <= picks; i++ {
		s.Picks = append(s.Picks, models.DraftPick{DraftID: draftID, PickNumber: i})
	}
	if status != models.DraftStatusPending {
		s.Seats = []models.Seat{{SeatNumber: 1, UserID: "user-1"}, {SeatNumber: 2, UserID: "user-2"}}
	}
	return s
}

func staticFetcher(snap *models.Snapshot) *gatedFetcher {
	return &gatedFetcher{auto: func() (*models.Snapshot, error) { return snap, nil }}
}

func pickEvent(t *testing.T, version int64, pickNumber int) events.Envelope {
	t.Helper()
	next := pickNumber + 1
	payload, err := json.Marshal(events.PickSubmittedPayload{
		Pick:  models.DraftPick{DraftID: draftID, PickNumber: pickNumber, NominationID: int64(100 + pickNumber)},
		Draft: events.DraftHeader{Status: models.DraftStatusInProgress, CurrentPickNumber: &next},
	})
	require.NoError(t, err)
	return events.Envelope{DraftID: draftID, EventType: events.TypePickSubmitted, Version: version, Payload: payload}
}

func startedEvent(t *testing.T, version int64) events.Envelope {
	t.Helper()
	one := 1
	payload, err := json.Marshal(events.DraftStartedPayload{
		Draft: events.DraftHeader{Status: models.DraftStatusInProgress, CurrentPickNumber: &one},
		Seats: []models.Seat{{SeatNumber: 1, UserID: "user-1"}, {SeatNumber: 2, UserID: "user-2"}},
	})
	require.NoError(t, err)
	return events.Envelope{DraftID: draftID, EventType: events.TypeDraftStarted, Version: version, Payload: payload}
}

func synced(t *testing.T, r *Reconciler) int64 {
	t.Helper()
	r.Wait()
	state, version := r.State()
	require.Equal(t, StateSynced, state)
	return version
}

func TestReconciler_AppliesContiguousEvents(t *testing.T) {
	fetcher := staticFetcher(snapshotAt(models.DraftStatusInProgress, 3, 2))
	var changes int
	r := New(draftID, fetcher, WithOnChange(func(models.Snapshot) { changes++ }))
	ctx := context.Background()

	r.HandleReconnect(ctx)
	assert.Equal(t, int64(3), synced(t, r))

	r.HandleEvent(ctx, pickEvent(t, 4, 3))
	assert.Equal(t, int64(4), synced(t, r))

	snap, ok := r.Snapshot()
	require.True(t, ok)
	assert.Len(t, snap.Picks, 3)
	assert.Equal(t, 4, *snap.Draft.CurrentPickNumber)
	assert.Equal(t, int64(4), snap.Draft.Version)
	assert.Equal(t, 1, fetcher.calls())
	assert.Equal(t, 2, changes)
}

func TestReconciler_IgnoresStaleAndForeignEvents(t *testing.T) {
	fetcher := staticFetcher(snapshotAt(models.DraftStatusInProgress, 5, 4))
	r := New(draftID, fetcher)
	ctx := context.Background()
	r.HandleReconnect(ctx)
	synced(t, r)

	r.HandleEvent(ctx, pickEvent(t, 5, 4))
	r.HandleEvent(ctx, pickEvent(t, 2, 1))
	foreign := pickEvent(t, 6, 5)
	foreign.DraftID = draftID + 1
	r.HandleEvent(ctx, foreign)

	assert.Equal(t, int64(5), synced(t, r))
	snap, _ := r.Snapshot()
	assert.Len(t, snap.Picks, 4)
	assert.Equal(t, 1, fetcher.calls())
}

func TestReconciler_GapResyncs(t *testing.T) {
	current := snapshotAt(models.DraftStatusInProgress, 3, 2)
	var mu sync.Mutex
	fetcher := &gatedFetcher{auto: func() (*models.Snapshot, error) {
		mu.Lock()
		defer mu.Unlock()
		return current, nil
	}}
	m := metrics.New(nil)
	r := New(draftID, fetcher, WithMetrics(m))
	ctx := context.Background()
	r.HandleReconnect(ctx)
	synced(t, r)

	mu.Lock()
	current = snapshotAt(models.DraftStatusInProgress, 7, 6)
	mu.Unlock()

	r.HandleEvent(ctx, pickEvent(t, 6, 5))
	assert.Equal(t, int64(7), synced(t, r))
	assert.Equal(t, 2, fetcher.calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Resyncs.WithLabelValues(ReasonGap)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Resyncs.WithLabelValues(ReasonReconnect)))

	// Back in step: the next contiguous event applies without a fetch.
	r.HandleEvent(ctx, pickEvent(t, 8, 7))
	assert.Equal(t, int64(8), synced(t, r))
	assert.Equal(t, 2, fetcher.calls())
}

func TestReconciler_ReconnectAlwaysResyncs(t *testing.T) {
	fetcher := staticFetcher(snapshotAt(models.DraftStatusInProgress, 3, 2))
	r := New(draftID, fetcher)
	ctx := context.Background()

	r.HandleReconnect(ctx)
	synced(t, r)
	r.HandleReconnect(ctx)
	synced(t, r)
	assert.Equal(t, 2, fetcher.calls())
}

func TestReconciler_PendingGuardResyncsOnce(t *testing.T) {
	fetcher := &gatedFetcher{}
	m := metrics.New(nil)
	r := New(draftID, fetcher, WithMetrics(m))
	ctx := context.Background()

	r.HandleReconnect(ctx)
	fetcher.release(t, 0, snapshotAt(models.DraftStatusPending, 0, 0), nil)
	synced(t, r)

	// The start event was missed; a pick arrives on a draft we think is pending.
	r.HandleEvent(ctx, pickEvent(t, 1, 1))
	r.HandleEvent(ctx, pickEvent(t, 2, 2))
	r.HandleEvent(ctx, pickEvent(t, 3, 3))

	fetcher.release(t, 1, snapshotAt(models.DraftStatusInProgress, 3, 2), nil)
	assert.Equal(t, int64(3), synced(t, r))
	assert.Equal(t, 2, fetcher.calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Resyncs.WithLabelValues(ReasonPending)))

	snap, _ := r.Snapshot()
	assert.Len(t, snap.Seats, 2)
}

func TestReconciler_PendingAppliesStart(t *testing.T) {
	fetcher := staticFetcher(snapshotAt(models.DraftStatusPending, 0, 0))
	r := New(draftID, fetcher)
	ctx := context.Background()
	r.HandleReconnect(ctx)
	synced(t, r)

	r.HandleEvent(ctx, startedEvent(t, 1))
	assert.Equal(t, int64(1), synced(t, r))
	assert.Equal(t, 1, fetcher.calls())

	snap, _ := r.Snapshot()
	assert.Equal(t, models.DraftStatusInProgress, snap.Draft.Status)
	assert.Len(t, snap.Seats, 2)

	r.HandleEvent(ctx, pickEvent(t, 2, 1))
	assert.Equal(t, int64(2), synced(t, r))
	assert.Equal(t, 1, fetcher.calls())
}

func TestReconciler_LastResyncWins(t *testing.T) {
	fetcher := &gatedFetcher{}
	r := New(draftID, fetcher)
	ctx := context.Background()

	r.HandleReconnect(ctx)
	fetcher.waitCalls(t, 1)
	r.HandleReconnect(ctx)

	// The newer fetch lands first; the older one must not overwrite it.
	fetcher.release(t, 1, snapshotAt(models.DraftStatusInProgress, 5, 4), nil)
	require.Eventually(t, func() bool {
		state, _ := r.State()
		return state == StateSynced
	}, time.Second, time.Millisecond)
	fetcher.release(t, 0, snapshotAt(models.DraftStatusInProgress, 3, 2), nil)

	assert.Equal(t, int64(5), synced(t, r))
}

func TestReconciler_StaleFetchDoesNotEndResync(t *testing.T) {
	fetcher := &gatedFetcher{}
	r := New(draftID, fetcher)
	ctx := context.Background()

	r.HandleReconnect(ctx)
	fetcher.waitCalls(t, 1)
	r.HandleReconnect(ctx)
	fetcher.release(t, 0, snapshotAt(models.DraftStatusInProgress, 3, 2), nil)

	// Only the first fetch has returned.
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.inFlight == 1
	}, time.Second, time.Millisecond)
	state, _ := r.State()
	assert.Equal(t, StateResyncing, state)

	fetcher.release(t, 1, snapshotAt(models.DraftStatusInProgress, 4, 3), nil)
	assert.Equal(t, int64(4), synced(t, r))
}

func TestReconciler_FailedFetchRetriesOnNextEvent(t *testing.T) {
	fetcher := &gatedFetcher{}
	m := metrics.New(nil)
	r := New(draftID, fetcher, WithMetrics(m))
	ctx := context.Background()

	r.HandleReconnect(ctx)
	fetcher.release(t, 0, nil, errors.New("503"))
	r.Wait()
	state, _ := r.State()
	assert.Equal(t, StateResyncing, state)
	_, ok := r.Snapshot()
	assert.False(t, ok)

	r.HandleEvent(ctx, pickEvent(t, 4, 3))
	fetcher.release(t, 1, snapshotAt(models.DraftStatusInProgress, 4, 3), nil)
	assert.Equal(t, int64(4), synced(t, r))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Resyncs.WithLabelValues(ReasonInitial)))
}

func TestReconciler_UnknownEventResyncs(t *testing.T) {
	fetcher := staticFetcher(snapshotAt(models.DraftStatusInProgress, 3, 2))
	m := metrics.New(nil)
	r := New(draftID, fetcher, WithMetrics(m))
	ctx := context.Background()
	r.HandleReconnect(ctx)
	synced(t, r)

	r.HandleEvent(ctx, events.Envelope{DraftID: draftID, EventType: "draft.renamed", Version: 4, Payload: json.RawMessage(`{}`)})
	synced(t, r)
	assert.Equal(t, 2, fetcher.calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Resyncs.WithLabelValues(ReasonApply)))
}
