// Package sqldb is the SQL implementation of the pipeline storage ports,
// supporting multiple database dialects.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/chainflow/pipeline/internal/retry"
	"github.com/chainflow/pipeline/internal/storage"
	"github.com/chainflow/pipeline/internal/storage/dialect"
)

// Store implements storage.UserStore and storage.AuditStore.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var (
	_ storage.UserStore  = (*Store)(nil)
	_ storage.AuditStore = (*Store)(nil)
)

// Config holds database connection configuration.
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New opens the database, verifies connectivity under the given retry policy,
// and initializes the schema. Connectivity is the only retried operation.
func New(ctx context.Context, cfg Config, policy retry.Policy) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	if err := policy.Do(ctx, db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Ping verifies the store is still reachable. Used by health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	d := s.dialect
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id %s,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			created_at %s NOT NULL DEFAULT %s,
			total_requests INTEGER NOT NULL DEFAULT 0,
			last_request_at %s
		)`, d.AutoIncrementClause(), d.TimestampType(), d.CurrentTimestamp(), d.TimestampType()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS request_traces (
			id %s,
			trace_id TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			order_id INTEGER NOT NULL,
			service_name TEXT NOT NULL,
			request_data TEXT NOT NULL,
			processing_time_ms INTEGER NOT NULL DEFAULT 0,
			request_timestamp %s NOT NULL DEFAULT %s
		)`, d.AutoIncrementClause(), d.TimestampType(), d.CurrentTimestamp()),
		`CREATE INDEX IF NOT EXISTS idx_request_traces_trace ON request_traces(trace_id)`,
		`CREATE INDEX IF NOT EXISTS idx_request_traces_time ON request_traces(request_timestamp)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

const userColumns = `id, name, email, created_at, total_requests, last_request_at`

// ResolveByID looks up a user by id and bumps its usage counters. The lookup
// and the increment run in one transaction so the returned record always
// reflects this traversal's update.
func (s *Store) ResolveByID(ctx context.Context, id int64) (*storage.User, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	user, err := s.getUserTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := s.touchUserTx(ctx, tx, user); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return user, nil
}

// ResolveByEmail finds a user by email and bumps its counters, or creates it
// with total_requests initialized to 1.
func (s *Store) ResolveByEmail(ctx context.Context, name, email string) (*storage.User, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var user storage.User
	query := s.dialect.Rebind(`SELECT ` + userColumns + ` FROM users WHERE email = ?`)
	err = tx.GetContext(ctx, &user, query, email)

	switch {
	case err == sql.ErrNoRows:
		created, err := s.insertResolvedTx(ctx, tx, name, email)
		if err == storage.ErrDuplicateEmail {
			// Lost a create race; another traversal inserted the row between
			// our lookup and insert. Resolve against the existing record.
			tx.Rollback()
			user, _, rerr := s.ResolveByEmail(ctx, name, email)
			return user, false, rerr
		}
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit: %w", err)
		}
		return created, true, nil

	case err != nil:
		return nil, false, fmt.Errorf("failed to query user by email: %w", err)
	}

	if err := s.touchUserTx(ctx, tx, &user); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit: %w", err)
	}

	return &user, false, nil
}

// CreateUser inserts a new user directly, with counters at their zero state.
func (s *Store) CreateUser(ctx context.Context, name, email string) (*storage.User, error) {
	now := time.Now().UTC()
	id, err := s.insert(ctx, s.db,
		`INSERT INTO users (name, email, created_at) VALUES (?, ?, ?)`,
		name, email, now)
	if err != nil {
		if s.dialect.IsDuplicate(err) {
			return nil, storage.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}

	return &storage.User{
		ID:        id,
		Name:      name,
		Email:     email,
		CreatedAt: now,
	}, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*storage.User, error) {
	var user storage.User
	query := s.dialect.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	err := s.db.GetContext(ctx, &user, query, id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*storage.User, error) {
	var users []*storage.User
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id DESC`
	if err := s.db.SelectContext(ctx, &users, query); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// InsertTrace persists one audit record and returns its assigned id.
func (s *Store) InsertTrace(ctx context.Context, rec *storage.AuditRecord) (int64, error) {
	if rec.RequestTimestamp.IsZero() {
		rec.RequestTimestamp = time.Now().UTC()
	}

	id, err := s.insert(ctx, s.db,
		`INSERT INTO request_traces (trace_id, user_id, order_id, service_name, request_data, processing_time_ms, request_timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.UserID, rec.OrderID, rec.ServiceName,
		string(rec.RequestData), rec.ProcessingTimeMS, rec.RequestTimestamp)
	if err != nil {
		return 0, fmt.Errorf("failed to insert audit record: %w", err)
	}

	rec.ID = id
	return id, nil
}

const traceColumns = `id, trace_id, user_id, order_id, service_name, request_data, processing_time_ms, request_timestamp`

func (s *Store) ListRecent(ctx context.Context, limit int) ([]*storage.AuditRecord, error) {
	if limit <= 0 {
		limit = 50 // default limit
	}

	var records []*storage.AuditRecord
	query := s.dialect.Rebind(`SELECT ` + traceColumns + ` FROM request_traces
		ORDER BY request_timestamp DESC, id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	return records, nil
}

func (s *Store) ByTraceID(ctx context.Context, traceID string) ([]*storage.AuditRecord, error) {
	var records []*storage.AuditRecord
	query := s.dialect.Rebind(`SELECT ` + traceColumns + ` FROM request_traces
		WHERE trace_id = ? ORDER BY request_timestamp ASC, id ASC`)
	if err := s.db.SelectContext(ctx, &records, query, traceID); err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	if len(records) == 0 {
		return nil, storage.ErrNotFound
	}
	return records, nil
}

func (s *Store) CountTraces(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM request_traces`); err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
}

// insert runs an INSERT and returns the assigned id, using RETURNING where
// the dialect supports it.
func (s *Store) insert(ctx context.Context, e execer, query string, args ...any) (int64, error) {
	if s.dialect.SupportsReturning() {
		var id int64
		q := s.dialect.Rebind(query + ` RETURNING id`)
		if err := e.QueryRowxContext(ctx, q, args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}

	res, err := e.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) getUserTx(ctx context.Context, tx *sqlx.Tx, id int64) (*storage.User, error) {
	var user storage.User
	query := s.dialect.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	err := tx.GetContext(ctx, &user, query, id)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// touchUserTx bumps the counter and last-access timestamp, mutating user to
// match what was written.
func (s *Store) touchUserTx(ctx context.Context, tx *sqlx.Tx, user *storage.User) error {
	now := time.Now().UTC()
	query := s.dialect.Rebind(
		`UPDATE users SET total_requests = total_requests + 1, last_request_at = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, query, now, user.ID); err != nil {
		return fmt.Errorf("failed to update user statistics: %w", err)
	}

	user.TotalRequests++
	user.LastRequestAt = &now
	return nil
}

func (s *Store) insertResolvedTx(ctx context.Context, tx *sqlx.Tx, name, email string) (*storage.User, error) {
	now := time.Now().UTC()
	id, err := s.insert(ctx, tx,
		`INSERT INTO users (name, email, created_at, total_requests, last_request_at)
		 VALUES (?, ?, ?, 1, ?)`,
		name, email, now, now)
	if err != nil {
		if s.dialect.IsDuplicate(err) {
			return nil, storage.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	last := now
	return &storage.User{
		ID:            id,
		Name:          name,
		Email:         email,
		CreatedAt:     now,
		TotalRequests: 1,
		LastRequestAt: &last,
	}, nil
}
