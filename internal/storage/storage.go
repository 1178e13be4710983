// Package storage defines the persistence ports for the pipeline stages.
// The identity stage owns the users table; the audit stage owns the
// request_traces table. Consistency across concurrent traversals is
// delegated to the store's transactional guarantees.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound signals a definitive absence of the requested entity. It is
// never retried.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail signals a unique-constraint violation on the users email
// column.
var ErrDuplicateEmail = errors.New("email already exists")

// User is a persisted identity record. TotalRequests increases by exactly one
// per successful identity-stage traversal that references the record.
type User struct {
	ID            int64      `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	Email         string     `db:"email" json:"email"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	TotalRequests int64      `db:"total_requests" json:"total_requests"`
	LastRequestAt *time.Time `db:"last_request_at" json:"last_request_at,omitempty"`
}

// AuditRecord is the durable trace of one completed chain traversal. At most
// one is written per successful traversal.
type AuditRecord struct {
	ID               int64           `db:"id" json:"id"`
	TraceID          string          `db:"trace_id" json:"trace_id"`
	UserID           int64           `db:"user_id" json:"user_id"`
	OrderID          int64           `db:"order_id" json:"order_id"`
	ServiceName      string          `db:"service_name" json:"service_name"`
	RequestData      json.RawMessage `db:"request_data" json:"request_data"`
	ProcessingTimeMS int64           `db:"processing_time_ms" json:"processing_time_ms"`
	RequestTimestamp time.Time       `db:"request_timestamp" json:"request_timestamp"`
}

// UserStore is the identity stage's port to the users table.
type UserStore interface {
	// ResolveByID looks up a user and bumps its usage counters in one
	// transaction. Returns ErrNotFound on a definitive miss.
	ResolveByID(ctx context.Context, id int64) (*User, error)

	// ResolveByEmail finds a user by email and bumps its counters, or
	// creates it with the counter initialized to 1. The boolean reports
	// whether a new record was created.
	ResolveByEmail(ctx context.Context, name, email string) (*User, bool, error)

	// CreateUser inserts a new user directly. Returns ErrDuplicateEmail when
	// the email is already taken.
	CreateUser(ctx context.Context, name, email string) (*User, error)

	// GetUser fetches a user without mutating it.
	GetUser(ctx context.Context, id int64) (*User, error)

	// ListUsers returns all users, newest first.
	ListUsers(ctx context.Context) ([]*User, error)

	// CountUsers reports the total number of users; used by health checks.
	CountUsers(ctx context.Context) (int, error)
}

// AuditStore is the audit stage's port to the request_traces table.
type AuditStore interface {
	// InsertTrace persists one audit record and returns its assigned id.
	InsertTrace(ctx context.Context, rec *AuditRecord) (int64, error)

	// ListRecent returns up to limit records, most recent first.
	ListRecent(ctx context.Context, limit int) ([]*AuditRecord, error)

	// ByTraceID returns all records for a trace, oldest first. Returns
	// ErrNotFound when none exist.
	ByTraceID(ctx context.Context, traceID string) ([]*AuditRecord, error)

	// CountTraces reports the total number of audit records; used by health
	// checks.
	CountTraces(ctx context.Context) (int, error)
}
