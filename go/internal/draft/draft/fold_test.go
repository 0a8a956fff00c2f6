package draft

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/draftroom/go/internal/draft/events"
	"github.com/mcdev12/draftroom/go/internal/draft/pick"
	"github.com/mcdev12/draftroom/go/internal/draft/repository"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type firstNomination struct{}

func (firstNomination) SelectNomination(ctx context.Context, tx repository.DraftTx, _ *models.Draft, _ models.Seat) (int64, error) {
	noms, err := tx.AvailableNominations(ctx, 1)
	if err != nil {
		return 0, err
	}
	if len(noms) == 0 {
		return 0, pick.ErrNoNominations
	}
	return noms[0].ID, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []models.DraftEvent
}

func (l *eventLog) Publish(_ context.Context, ev models.DraftEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) versions() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]int64, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Version
	}
	return out
}

type pickRow struct {
	Number     int
	Seat       int
	Nomination int64
	Auto       bool
}

func pickRows(picks []models.DraftPick) []pickRow {
	out := make([]pickRow, len(picks))
	for i, p := range picks {
		out[i] = pickRow{Number: p.PickNumber, Seat: p.SeatNumber, Nomination: p.NominationID, Auto: p.Auto}
	}
	return out
}

// A subscriber that folds every event onto the pre-start snapshot ends up at
// the same state the store reports, across lifecycle changes and forced picks.
func TestEventLogFoldsToSnapshot(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(start)
	store := repository.NewMemory(clock)

	var noms []models.Nomination
	for i := 1; i <= 4; i++ {
		noms = append(noms, models.Nomination{ID: int64(10 + i), Name: fmt.Sprintf("n%d", i)})
	}
	store.PutSeason(activeSeason(), noms...)

	timer := 60
	d, err := store.CreateDraft(models.Draft{SeasonID: 7, PicksPerSeat: 2, PickTimerSeconds: &timer}, []models.Seat{
		{SeatNumber: 1, UserID: "user-1"},
		{SeatNumber: 2, UserID: "user-2"},
	})
	require.NoError(t, err)

	base, err := store.Snapshot(ctx, d.ID)
	require.NoError(t, err)

	seq := events.NewSequencer(64)
	log := &eventLog{}
	lifecycle := NewApp(store, log, clock, WithSequencer(seq))
	picks := pick.NewApp(store, firstNomination{},
		pick.WithClock(clock),
		pick.WithPublisher(log),
		pick.WithSequencer(seq),
	)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go picks.Run(runCtx)

	submit := func(user string, nomination int64, requestID string) {
		t.Helper()
		_, err := picks.SubmitPick(ctx, pick.SubmitPickRequest{DraftID: d.ID, UserID: user, NominationID: nomination, RequestID: requestID})
		require.NoError(t, err)
	}

	_, err = lifecycle.Start(ctx, d.ID, "mgr")
	require.NoError(t, err)
	submit("user-1", 11, "req-1")
	_, err = lifecycle.Pause(ctx, d.ID, "mgr")
	require.NoError(t, err)
	_, err = lifecycle.Resume(ctx, d.ID, "mgr")
	require.NoError(t, err)

	clock.Advance(61 * time.Second)
	res, err := picks.Tick(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, res.AutoPick)
	assert.Equal(t, 2, res.AutoPick.PickNumber)

	submit("user-2", 13, "req-3")
	submit("user-1", 14, "req-4")
	picks.Wait()

	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7}, log.versions())

	folded := *base
	for _, ev := range store.Events(d.ID) {
		require.NoError(t, events.Apply(&folded, events.EnvelopeOf(ev)), "version %d", ev.Version)
	}

	want, err := store.Snapshot(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusCompleted, want.Draft.Status)
	assert.Equal(t, want.Version, folded.Version)
	assert.Equal(t, want.Draft.Status, folded.Draft.Status)
	assert.Equal(t, want.Draft.CurrentPickNumber, folded.Draft.CurrentPickNumber)
	assert.Equal(t, want.Draft.PickDeadlineAt, folded.Draft.PickDeadlineAt)
	assert.Equal(t, pickRows(want.Picks), pickRows(folded.Picks))
	assert.Len(t, folded.Seats, 2)
}

// Picks and lifecycle changes racing on one draft still reach subscribers in
// version order when they share a sequencer.
func TestSharedSequencerOrdersConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(start)
	store := repository.NewMemory(clock)

	var noms []models.Nomination
	for i := 1; i <= 8; i++ {
		noms = append(noms, models.Nomination{ID: int64(i), Name: fmt.Sprintf("n%d", i)})
	}
	store.PutSeason(activeSeason(), noms...)
	d, err := store.CreateDraft(models.Draft{SeasonID: 7, PicksPerSeat: 8}, []models.Seat{{SeatNumber: 1, UserID: "u"}})
	require.NoError(t, err)

	seq := events.NewSequencer(64)
	log := &eventLog{}
	lifecycle := NewApp(store, log, clock, WithSequencer(seq))
	picks := pick.NewApp(store, firstNomination{},
		pick.WithClock(clock),
		pick.WithPublisher(log),
		pick.WithSequencer(seq),
	)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go picks.Run(runCtx)

	_, err = lifecycle.Start(ctx, d.ID, "mgr")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = picks.SubmitPick(ctx, pick.SubmitPickRequest{
				DraftID:      d.ID,
				UserID:       "u",
				NominationID: int64(n),
				RequestID:    fmt.Sprintf("req-%d", n),
			})
		}(i)
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = lifecycle.Pause(ctx, d.ID, "mgr")
	}()
	go func() {
		defer wg.Done()
		_, _ = lifecycle.Resume(ctx, d.ID, "mgr")
	}()
	wg.Wait()
	picks.Wait()

	want, err := store.Snapshot(ctx, d.ID)
	require.NoError(t, err)
	versions := log.versions()
	require.Len(t, versions, int(want.Version))
	for i, v := range versions {
		assert.Equal(t, int64(i+1), v)
	}
}
