package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/draftroom/go/internal/sqlutil"
	"github.com/sqlc-dev/pqtype"
)

// Repository reads the draft_events table through database/sql and lib/pq.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const fetchUnsent = `
SELECT id, draft_id, version, event_type, payload, headers, created_at
FROM draft_events
WHERE sent_at IS NULL
ORDER BY draft_id, version
LIMIT $1
FOR UPDATE SKIP LOCKED`

const markSent = `UPDATE draft_events SET sent_at = now() WHERE id = $1`

func (r *Repository) Drain(ctx context.Context, limit int, fn func(ctx context.Context, rec Record) error) (int, error) {
	sent := 0
	err := sqlutil.Run(ctx, r.db, func(tx *sql.Tx) error {
		sent = 0
		records, err := r.fetch(ctx, tx, limit)
		if err != nil {
			return err
		}

		blocked := make(map[int64]bool)
		for _, rec := range records {
			if blocked[rec.DraftID] {
				continue
			}
			if err := fn(ctx, rec); err != nil {
				blocked[rec.DraftID] = true
				continue
			}
			if _, err := tx.ExecContext(ctx, markSent, rec.ID); err != nil {
				return fmt.Errorf("failed to mark event %s as sent: %w", rec.ID, err)
			}
			sent++
		}
		return nil
	})
	return sent, err
}

func (r *Repository) fetch(ctx context.Context, tx *sql.Tx, limit int) ([]Record, error) {
	rows, err := tx.QueryContext(ctx, fetchUnsent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec     Record
			payload []byte
			headers pqtype.NullRawMessage
		)
		if err := rows.Scan(&rec.ID, &rec.DraftID, &rec.Version, &rec.Type, &payload, &headers, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.Payload = payload
		if headers.Valid {
			if err := json.Unmarshal(headers.RawMessage, &rec.Headers); err != nil {
				return nil, fmt.Errorf("failed to decode headers of event %s: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) CountUnsent(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM draft_events WHERE sent_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unsent events: %w", err)
	}
	return n, nil
}

// OldestUnsent returns when the oldest unrelayed event was committed, or nil
// when the log is fully relayed.
func (r *Repository) OldestUnsent(ctx context.Context) (*time.Time, error) {
	var oldest sql.NullTime
	if err := r.db.QueryRowContext(ctx, `SELECT MIN(created_at) FROM draft_events WHERE sent_at IS NULL`).Scan(&oldest); err != nil {
		return nil, fmt.Errorf("failed to read oldest unsent event: %w", err)
	}
	return sqlutil.FromSqlTime(oldest), nil
}
