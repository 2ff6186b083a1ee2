package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/attribstream/attribstream/pkg/types"
)

// DefaultLimit caps Query results when the caller sets no limit.
const DefaultLimit = 500

const schema = `
CREATE TABLE IF NOT EXISTS records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id TEXT NOT NULL,
    received_at INTEGER NOT NULL,
    total_conversions INTEGER NOT NULL,
    total_value REAL NOT NULL,
    confidence REAL NOT NULL,
    health_state TEXT NOT NULL,
    health_score REAL NOT NULL,
    record TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_received ON records(received_at);
CREATE INDEX IF NOT EXISTS idx_records_source ON records(source_id, received_at);
`

// Entry is one stored record.
type Entry struct {
	ID         int64                `json:"id"`
	SourceID   string               `json:"source_id"`
	ReceivedAt time.Time            `json:"received_at"`
	Record     *types.MetricsRecord `json:"record"`
}

// Query selects history rows. Zero fields do not filter.
type Query struct {
	SourceID string
	Since    time.Time
	Limit    int
}

// Store is a SQLite-backed record history. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %q: %w", path, err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends rec, stamped with the current time.
func (s *Store) Record(ctx context.Context, rec *types.MetricsRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("history: marshal record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (source_id, received_at, total_conversions, total_value, confidence, health_state, health_score, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SourceID, s.now().UnixMilli(), rec.TotalConversions, rec.TotalValue,
		rec.AttributionStats.Confidence, rec.Health.State, rec.Health.Score, string(body),
	)
	if err != nil {
		return fmt.Errorf("history: insert record: %w", err)
	}
	return nil
}

// Query returns matching entries, newest first.
func (s *Store) Query(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 || limit > DefaultLimit {
		limit = DefaultLimit
	}
	var since int64
	if !q.Since.IsZero() {
		since = q.Since.UnixMilli()
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, received_at, record FROM records
		 WHERE (? = '' OR source_id = ?) AND received_at >= ?
		 ORDER BY received_at DESC, id DESC
		 LIMIT ?`,
		q.SourceID, q.SourceID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var e Entry
		var receivedAt int64
		var body string
		if err := rows.Scan(&e.ID, &e.SourceID, &receivedAt, &body); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.ReceivedAt = time.UnixMilli(receivedAt).UTC()
		e.Record = &types.MetricsRecord{}
		if err := json.Unmarshal([]byte(body), e.Record); err != nil {
			return nil, fmt.Errorf("history: unmarshal record %d: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	return out, nil
}

// Prune deletes rows received before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE received_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: prune rows affected: %w", err)
	}
	return n, nil
}

// Run prunes rows older than retention until ctx is cancelled. It ticks at a
// quarter of the retention, clamped to [1m, 1h].
func (s *Store) Run(ctx context.Context, retention time.Duration) {
	interval := retention / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	if interval > time.Hour {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Prune(ctx, s.now().Add(-retention))
			if err != nil {
				slog.Warn("history: prune failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("history: pruned records", "count", n)
			}
		}
	}
}
