// Package pg persists console audit events in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"mssecurity.org/internal/audit"
)

const pgErrUniqueViolation = "23505"

// ErrUnavailable is returned when the store has no database connection.
var ErrUnavailable = errors.New("database connection unavailable")

type Store struct {
	db *sql.DB
}

var _ audit.Recorder = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Audit writes are small and bursty around sign-in.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers; used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrUnavailable
	}
	return s.db.PingContext(ctx)
}

// Record inserts one event. Re-recording an event id is a no-op.
func (s *Store) Record(ctx context.Context, e audit.Event) error {
	if s.db == nil {
		return ErrUnavailable
	}
	e, err := audit.Normalize(ctx, e)
	if err != nil {
		return err
	}
	fields := []byte("{}")
	if len(e.Fields) > 0 {
		fields, err = json.Marshal(e.Fields)
		if err != nil {
			return fmt.Errorf("marshal audit fields: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		insert into console_audit (id, occurred_at, name, session_id, actor, provider, request_id, fields)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.At.UTC(), e.Name, e.SessionID, e.Actor, e.Provider, e.RequestID, fields)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return nil
		}
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent returns the newest events, newest first. A non-empty sessionID
// restricts the result to one console session.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]audit.Event, error) {
	if s.db == nil {
		return nil, ErrUnavailable
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, occurred_at, name, session_id, actor, provider, request_id, fields
		from console_audit
		where ($1 = '' or session_id = $1)
		order by occurred_at desc, id desc
		limit $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []audit.Event
	for rows.Next() {
		var (
			e   audit.Event
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.At, &e.Name, &e.SessionID, &e.Actor, &e.Provider, &e.RequestID, &raw); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Fields); err != nil {
				return nil, fmt.Errorf("decode audit fields: %w", err)
			}
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
