// Package archive persists call transcripts to PostgreSQL. The archive is
// optional: when no DSN is configured the runtime simply skips it, and a
// failed write at teardown is logged rather than surfaced to the call path.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ringline-ai/ringline/pkg/types"
)

// Schema is the DDL for the call_transcripts table. [Open] applies it on
// connect; it can also be applied manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS call_transcripts (
    call_id     TEXT         PRIMARY KEY,
    tenant_id   TEXT         NOT NULL,
    caller_id   TEXT         NOT NULL DEFAULT '',
    reason      TEXT         NOT NULL DEFAULT '',
    duration_ms BIGINT       NOT NULL DEFAULT 0,
    turns       JSONB        NOT NULL DEFAULT '[]',
    ended_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_call_transcripts_tenant ON call_transcripts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_call_transcripts_ended_at ON call_transcripts(ended_at);
`

// Record is one archived call as read back from the table.
type Record struct {
	Transcript types.Transcript
	Reason     string
	EndedAt    time.Time
}

// DB is the database surface the archive needs. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store writes and reads archived transcripts.
type Store struct {
	db DB

	// close releases the pool when the store owns it (built via Open).
	close func()
}

// NewStore wraps an existing connection or pool. The caller is responsible
// for running [Store.Migrate] before issuing queries.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Open connects to the database at dsn, verifies the connection, and applies
// the schema. Close the returned store when the process exits.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}
	s := &Store{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the [Schema] DDL.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool when the store owns one.
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// Save archives one finished call. Saving the same call id twice replaces
// the earlier row; teardown runs exactly once, so a conflict means a retry
// of the same write.
func (s *Store) Save(ctx context.Context, tr types.Transcript, reason string) error {
	if tr.CallID == "" {
		return errors.New("archive: transcript has no call id")
	}
	turns := tr.Turns
	if turns == nil {
		turns = []types.Turn{}
	}
	turnsJSON, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("archive: marshal turns: %w", err)
	}

	const q = `
		INSERT INTO call_transcripts (call_id, tenant_id, caller_id, reason, duration_ms, turns)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (call_id) DO UPDATE SET
			tenant_id   = EXCLUDED.tenant_id,
			caller_id   = EXCLUDED.caller_id,
			reason      = EXCLUDED.reason,
			duration_ms = EXCLUDED.duration_ms,
			turns       = EXCLUDED.turns,
			ended_at    = now()`

	_, err = s.db.Exec(ctx, q,
		tr.CallID, tr.TenantID, tr.CallerID, reason, tr.Duration.Milliseconds(), turnsJSON,
	)
	if err != nil {
		return fmt.Errorf("archive: save %q: %w", tr.CallID, err)
	}
	return nil
}

// Get retrieves one archived call. It returns (nil, nil) when the call id is
// unknown.
func (s *Store) Get(ctx context.Context, callID string) (*Record, error) {
	const q = `
		SELECT call_id, tenant_id, caller_id, reason, duration_ms, turns, ended_at
		FROM call_transcripts
		WHERE call_id = $1`

	rec, err := scanRecord(s.db.QueryRow(ctx, q, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("archive: get %q: %w", callID, err)
	}
	return rec, nil
}

// ListRecent returns up to limit archived calls for a tenant, newest first.
func (s *Store) ListRecent(ctx context.Context, tenantID string, limit int) ([]Record, error) {
	const q = `
		SELECT call_id, tenant_id, caller_id, reason, duration_ms, turns, ended_at
		FROM call_transcripts
		WHERE tenant_id = $1
		ORDER BY ended_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, q, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: list recent: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("archive: list recent scan: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive: list recent: %w", err)
	}
	return recs, nil
}

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec        Record
		durationMS int64
		turnsJSON  []byte
	)
	if err := row.Scan(
		&rec.Transcript.CallID,
		&rec.Transcript.TenantID,
		&rec.Transcript.CallerID,
		&rec.Reason,
		&durationMS,
		&turnsJSON,
		&rec.EndedAt,
	); err != nil {
		return nil, err
	}
	rec.Transcript.Duration = time.Duration(durationMS) * time.Millisecond
	if err := json.Unmarshal(turnsJSON, &rec.Transcript.Turns); err != nil {
		return nil, fmt.Errorf("unmarshal turns: %w", err)
	}
	return &rec, nil
}
