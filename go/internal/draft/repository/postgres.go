package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/mcdev12/draftroom/go/internal/sqlutil"
)

// NotifyChannel is the LISTEN/NOTIFY channel that carries new event ids.
const NotifyChannel = "draft_events"

const draftColumns = `id, season_id, status, current_pick_number, pick_deadline_at,
	pick_timer_seconds, picks_per_seat, allow_drafting_after_lock, version,
	started_at, completed_at, created_at, updated_at`

const pickColumns = `id, draft_id, pick_number, round_number, seat_number,
	nomination_id, request_id, user_id, auto, made_at`

// Postgres is the Store backed by pgx. The exclusive section is a row lock
// on the draft header held for the duration of one transaction.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres store on an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ Store = (*Postgres)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (*models.Draft, error) {
	var d models.Draft
	var status string
	err := row.Scan(&d.ID, &d.SeasonID, &status, &d.CurrentPickNumber, &d.PickDeadlineAt,
		&d.PickTimerSeconds, &d.PicksPerSeat, &d.AllowDraftingAfterLock, &d.Version,
		&d.StartedAt, &d.CompletedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d.Status = models.DraftStatus(status)
	return &d, nil
}

func scanPick(row rowScanner) (*models.DraftPick, error) {
	var p models.DraftPick
	err := row.Scan(&p.ID, &p.DraftID, &p.PickNumber, &p.RoundNumber, &p.SeatNumber,
		&p.NominationID, &p.RequestID, &p.UserID, &p.Auto, &p.MadeAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) WithDraftLock(ctx context.Context, draftID int64, fn func(ctx context.Context, tx DraftTx) error) error {
	return sqlutil.RunPgx(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		_, err := scanDraft(tx.QueryRow(ctx,
			`SELECT `+draftColumns+` FROM drafts WHERE id = $1 FOR UPDATE`, draftID))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("draft %d: %w", draftID, ErrNotFound)
			}
			return fmt.Errorf("failed to lock draft: %w", err)
		}
		return fn(ctx, &pgTx{tx: tx, draftID: draftID})
	})
}

func (s *Postgres) FindPickByRequestID(ctx context.Context, draftID int64, requestID string) (*models.DraftPick, error) {
	return scanPick(s.pool.QueryRow(ctx,
		`SELECT `+pickColumns+` FROM draft_picks WHERE draft_id = $1 AND request_id = $2`,
		draftID, requestID))
}

func (s *Postgres) Snapshot(ctx context.Context, draftID int64) (*models.Snapshot, error) {
	var snap models.Snapshot
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err := sqlutil.RunPgx(ctx, s.pool, opts, func(tx pgx.Tx) error {
		d, err := scanDraft(tx.QueryRow(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id = $1`, draftID))
		if err != nil {
			return err
		}
		snap.Draft = *d
		snap.Version = d.Version

		q := &pgTx{tx: tx, draftID: draftID}
		if snap.Seats, err = q.Seats(ctx); err != nil {
			return err
		}
		season, err := q.Season(ctx)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		snap.PicksRequired = PicksRequired(*d, season, len(snap.Seats))
		snap.Picks, err = q.picks(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("draft %d: %w", draftID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return &snap, nil
}

func (s *Postgres) DueDrafts(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM drafts
		WHERE status = 'IN_PROGRESS' AND pick_deadline_at IS NOT NULL AND pick_deadline_at < $1
		ORDER BY pick_deadline_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due drafts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan due drafts: %w", err)
	}
	return ids, nil
}

func (s *Postgres) NextDeadline(ctx context.Context) (*time.Time, error) {
	var next *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT min(pick_deadline_at) FROM drafts
		WHERE status = 'IN_PROGRESS' AND pick_deadline_at IS NOT NULL`).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("failed to query next deadline: %w", err)
	}
	return next, nil
}

type pgTx struct {
	tx      pgx.Tx
	draftID int64
}

func (t *pgTx) Draft(ctx context.Context) (*models.Draft, error) {
	d, err := scanDraft(t.tx.QueryRow(ctx, `SELECT `+draftColumns+` FROM drafts WHERE id = $1`, t.draftID))
	if err != nil {
		return nil, fmt.Errorf("failed to read draft: %w", err)
	}
	return d, nil
}

func (t *pgTx) Season(ctx context.Context) (*models.Season, error) {
	var s models.Season
	var status string
	err := t.tx.QueryRow(ctx, `
		SELECT s.id, s.status, s.draft_locked, s.picks_per_seat_override
		FROM seasons s JOIN drafts d ON d.season_id = s.id
		WHERE d.id = $1`, t.draftID).Scan(&s.ID, &status, &s.DraftLocked, &s.PicksPerSeatOverride)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read season: %w", err)
	}
	s.Status = models.SeasonStatus(status)
	return &s, nil
}

func (t *pgTx) Seats(ctx context.Context) ([]models.Seat, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT draft_id, seat_number, member_id, user_id, auto_pick
		FROM draft_seats WHERE draft_id = $1 ORDER BY seat_number`, t.draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to query seats: %w", err)
	}
	seats, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Seat, error) {
		var s models.Seat
		err := row.Scan(&s.DraftID, &s.SeatNumber, &s.MemberID, &s.UserID, &s.AutoPick)
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan seats: %w", err)
	}
	return seats, nil
}

func (t *pgTx) picks(ctx context.Context) ([]models.DraftPick, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+pickColumns+` FROM draft_picks WHERE draft_id = $1 ORDER BY pick_number`, t.draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to query picks: %w", err)
	}
	picks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.DraftPick, error) {
		p, err := scanPick(row)
		if err != nil {
			return models.DraftPick{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan picks: %w", err)
	}
	return picks, nil
}

func (t *pgTx) CountPicks(ctx context.Context) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, `SELECT count(*) FROM draft_picks WHERE draft_id = $1`, t.draftID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count picks: %w", err)
	}
	return n, nil
}

func (t *pgTx) pickWhere(ctx context.Context, cond string, arg any) (*models.DraftPick, error) {
	p, err := scanPick(t.tx.QueryRow(ctx,
		`SELECT `+pickColumns+` FROM draft_picks WHERE draft_id = $1 AND `+cond+` = $2`, t.draftID, arg))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to read pick by %s: %w", cond, err)
	}
	return p, err
}

func (t *pgTx) PickByRequestID(ctx context.Context, requestID string) (*models.DraftPick, error) {
	return t.pickWhere(ctx, "request_id", requestID)
}

func (t *pgTx) PickByNumber(ctx context.Context, pickNumber int) (*models.DraftPick, error) {
	return t.pickWhere(ctx, "pick_number", pickNumber)
}

func (t *pgTx) PickByNomination(ctx context.Context, nominationID int64) (*models.DraftPick, error) {
	return t.pickWhere(ctx, "nomination_id", nominationID)
}

func (t *pgTx) NominationExists(ctx context.Context, nominationID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM nominations n JOIN drafts d ON d.season_id = n.season_id
			WHERE d.id = $1 AND n.id = $2
		)`, t.draftID, nominationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check nomination: %w", err)
	}
	return exists, nil
}

func (t *pgTx) AvailableNominations(ctx context.Context, limit int) ([]models.Nomination, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT n.id, n.season_id, n.name
		FROM nominations n
		JOIN drafts d ON d.season_id = n.season_id
		WHERE d.id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM draft_picks p WHERE p.draft_id = d.id AND p.nomination_id = n.id
		  )
		ORDER BY n.id
		LIMIT $2`, t.draftID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query available nominations: %w", err)
	}
	noms, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Nomination, error) {
		var n models.Nomination
		err := row.Scan(&n.ID, &n.SeasonID, &n.Name)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan available nominations: %w", err)
	}
	return noms, nil
}

// InsertPick runs under a savepoint so a unique violation does not abort the
// outer transaction; the caller still needs it to classify the conflict.
func (t *pgTx) InsertPick(ctx context.Context, p *models.DraftPick) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}

	err = sp.QueryRow(ctx, `
		INSERT INTO draft_picks (draft_id, pick_number, round_number, seat_number,
			nomination_id, request_id, user_id, auto, made_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		t.draftID, p.PickNumber, p.RoundNumber, p.SeatNumber,
		p.NominationID, p.RequestID, p.UserID, p.Auto, p.MadeAt).Scan(&p.ID)
	if err != nil {
		_ = sp.Rollback(ctx)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert pick: %w", err)
	}
	p.DraftID = t.draftID

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateDraft(ctx context.Context, d *models.Draft) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE drafts SET
			status = $2,
			current_pick_number = $3,
			pick_deadline_at = $4,
			started_at = $5,
			completed_at = $6,
			updated_at = now()
		WHERE id = $1`,
		t.draftID, string(d.Status), d.CurrentPickNumber, d.PickDeadlineAt, d.StartedAt, d.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update draft: %w", err)
	}
	return nil
}

func (t *pgTx) AppendEvent(ctx context.Context, eventType string, payload json.RawMessage) (*models.DraftEvent, error) {
	ev := models.DraftEvent{
		ID:      uuid.New(),
		DraftID: t.draftID,
		Type:    eventType,
		Payload: payload,
	}

	if err := t.tx.QueryRow(ctx,
		`UPDATE drafts SET version = version + 1 WHERE id = $1 RETURNING version`, t.draftID,
	).Scan(&ev.Version); err != nil {
		return nil, fmt.Errorf("failed to bump draft version: %w", err)
	}

	if err := t.tx.QueryRow(ctx, `
		INSERT INTO draft_events (id, draft_id, version, event_type, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		ev.ID, ev.DraftID, ev.Version, ev.Type, []byte(payload)).Scan(&ev.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert draft event: %w", err)
	}

	if _, err := t.tx.Exec(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, ev.ID.String()); err != nil {
		return nil, fmt.Errorf("failed to notify draft event: %w", err)
	}
	return &ev, nil
}
