package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the journal in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Recorder = (*PostgresStore)(nil)

// NewPostgresStore creates the journal table if needed. The store owns pool
// and closes it on Close.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS connection_events (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		from_state TEXT NOT NULL DEFAULT '',
		to_state TEXT NOT NULL DEFAULT '',
		code INTEGER NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		delay_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("create journal table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Record stores ev.
func (s *PostgresStore) Record(ctx context.Context, ev Event) error {
	ev = Stamp(ev)

	_, err := s.pool.Exec(ctx, `INSERT INTO connection_events
		(id, session_id, kind, from_state, to_state, code, reason, delay_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ev.ID, ev.SessionID, string(ev.Kind), ev.From, ev.To,
		ev.Code, ev.Reason, ev.Delay.Milliseconds(), ev.At,
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, session_id, kind, from_state, to_state, code, reason, delay_ms, created_at
		FROM connection_events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var ev Event
		var kind string
		var delayMS int64
		err := row.Scan(&ev.ID, &ev.SessionID, &kind, &ev.From, &ev.To, &ev.Code, &ev.Reason, &delayMS, &ev.At)
		ev.Kind = Kind(kind)
		ev.Delay = time.Duration(delayMS) * time.Millisecond
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return events, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
