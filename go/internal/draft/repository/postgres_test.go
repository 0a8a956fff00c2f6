package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPostgres starts a throwaway Postgres, migrates it and returns a pool.
func newPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}

	dpool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := dpool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	resource, err := dpool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=draftroom",
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_DB=draftroom",
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = dpool.Purge(resource) })
	_ = resource.Expire(120)

	dsn := fmt.Sprintf("postgres://draftroom:secret@%s/draftroom?sslmode=disable", resource.GetHostPort("5432/tcp"))

	var pool *pgxpool.Pool
	dpool.MaxWait = time.Minute
	require.NoError(t, dpool.Retry(func() error {
		p, err := pgxpool.New(context.Background(), dsn)
		if err != nil {
			return err
		}
		if err := p.Ping(context.Background()); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}))
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(dsn))
	return pool
}

func seedDraft(t *testing.T, pool *pgxpool.Pool, deadline *time.Time) int64 {
	t.Helper()
	ctx := context.Background()

	var seasonID int64
	require.NoError(t, pool.QueryRow(ctx, `INSERT INTO seasons (status) VALUES ('ACTIVE') RETURNING id`).Scan(&seasonID))
	for _, name := range []string{"a", "b", "c"} {
		_, err := pool.Exec(ctx, `INSERT INTO nominations (season_id, name) VALUES ($1, $2)`, seasonID, name)
		require.NoError(t, err)
	}

	var draftID int64
	require.NoError(t, pool.QueryRow(ctx, `
		INSERT INTO drafts (season_id, status, current_pick_number, pick_deadline_at, pick_timer_seconds, picks_per_seat)
		VALUES ($1, 'IN_PROGRESS', 1, $2, 30, 1) RETURNING id`, seasonID, deadline).Scan(&draftID))
	for n := 1; n <= 2; n++ {
		_, err := pool.Exec(ctx, `INSERT INTO draft_seats (draft_id, seat_number, member_id, user_id) VALUES ($1, $2, $2, $3)`,
			draftID, n, fmt.Sprintf("user-%d", n))
		require.NoError(t, err)
	}
	return draftID
}

func TestPostgres_PickLedger(t *testing.T) {
	pool := newPostgres(t)
	store := NewPostgres(pool)
	ctx := context.Background()
	draftID := seedDraft(t, pool, nil)

	err := store.WithDraftLock(ctx, draftID, func(ctx context.Context, tx DraftTx) error {
		open, err := tx.AvailableNominations(ctx, 10)
		require.NoError(t, err)
		require.Len(t, open, 3)

		first := &models.DraftPick{PickNumber: 1, RoundNumber: 1, SeatNumber: 1, NominationID: open[0].ID, RequestID: "r1", UserID: "user-1", MadeAt: time.Now()}
		require.NoError(t, tx.InsertPick(ctx, first))
		assert.NotZero(t, first.ID)

		// The savepoint keeps the transaction usable after a conflict.
		dup := &models.DraftPick{PickNumber: 2, RoundNumber: 1, SeatNumber: 2, NominationID: open[0].ID, RequestID: "r2", UserID: "user-2", MadeAt: time.Now()}
		assert.ErrorIs(t, tx.InsertPick(ctx, dup), ErrDuplicate)

		n, err := tx.CountPicks(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		byReq, err := tx.PickByRequestID(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, byReq.ID)

		_, err = tx.PickByNumber(ctx, 2)
		assert.ErrorIs(t, err, ErrNotFound)

		ev, err := tx.AppendEvent(ctx, "draft.pick.submitted", json.RawMessage(`{"pick":{}}`))
		require.NoError(t, err)
		assert.Equal(t, int64(1), ev.Version)
		return nil
	})
	require.NoError(t, err)

	snap, err := store.Snapshot(ctx, draftID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)
	assert.Len(t, snap.Picks, 1)
	assert.Len(t, snap.Seats, 2)

	found, err := store.FindPickByRequestID(ctx, draftID, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, found.PickNumber)

	var unsent int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM draft_events WHERE sent_at IS NULL`).Scan(&unsent))
	assert.Equal(t, 1, unsent)
}

func TestPostgres_RollbackAndLocking(t *testing.T) {
	pool := newPostgres(t)
	store := NewPostgres(pool)
	ctx := context.Background()
	draftID := seedDraft(t, pool, nil)

	err := store.WithDraftLock(ctx, draftID, func(ctx context.Context, tx DraftTx) error {
		if _, err := tx.AppendEvent(ctx, "draft.paused", json.RawMessage(`{}`)); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	snap, err := store.Snapshot(ctx, draftID)
	require.NoError(t, err)
	assert.Zero(t, snap.Version)

	// Concurrent sections on one draft serialize, so versions stay contiguous.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.WithDraftLock(ctx, draftID, func(ctx context.Context, tx DraftTx) error {
				_, err := tx.AppendEvent(ctx, "draft.paused", json.RawMessage(`{}`))
				return err
			}))
		}()
	}
	wg.Wait()

	rows, err := pool.Query(ctx, `SELECT version FROM draft_events WHERE draft_id = $1 ORDER BY version`, draftID)
	require.NoError(t, err)
	var versions []int64
	for rows.Next() {
		var v int64
		require.NoError(t, rows.Scan(&v))
		versions = append(versions, v)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, versions)

	err = store.WithDraftLock(ctx, 999999, func(context.Context, DraftTx) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_Deadlines(t *testing.T) {
	pool := newPostgres(t)
	store := NewPostgres(pool)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute).UTC().Truncate(time.Microsecond)
	future := time.Now().Add(time.Hour).UTC()
	dueID := seedDraft(t, pool, &past)
	seedDraft(t, pool, &future)

	next, err := store.NextDeadline(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(past))

	due, err := store.DueDrafts(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{dueID}, due)
}
