package sqldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/chainflow/pipeline/internal/retry"
	"github.com/chainflow/pipeline/internal/storage"
)

var memdbSeq int

// newTestStore opens a fresh in-memory SQLite store with shared cache so the
// pool's connections see the same database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	memdbSeq++
	dsn := fmt.Sprintf("file:memdb%d?mode=memory&cache=shared", memdbSeq)

	store, err := New(context.Background(), Config{Driver: "sqlite", DSN: dsn}, retry.Policy{MaxAttempts: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestResolveByEmailCreatesThenFinds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, created, err := store.ResolveByEmail(ctx, "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("ResolveByEmail() error = %v", err)
	}
	if !created {
		t.Fatal("first resolution should create the record")
	}
	if first.ID != 1 {
		t.Errorf("ID = %d, want 1", first.ID)
	}
	if first.TotalRequests != 1 {
		t.Errorf("TotalRequests = %d, want 1", first.TotalRequests)
	}

	second, created, err := store.ResolveByEmail(ctx, "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("ResolveByEmail() second call error = %v", err)
	}
	if created {
		t.Fatal("second resolution must not create a duplicate")
	}
	if second.ID != first.ID {
		t.Errorf("second ID = %d, want %d", second.ID, first.ID)
	}
	if second.TotalRequests != first.TotalRequests+1 {
		t.Errorf("TotalRequests = %d, want %d", second.TotalRequests, first.TotalRequests+1)
	}

	count, err := store.CountUsers(ctx)
	if err != nil {
		t.Fatalf("CountUsers() error = %v", err)
	}
	if count != 1 {
		t.Errorf("CountUsers() = %d, want 1", count)
	}
}

func TestResolveByEmailAdoptsStoredName(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, _, err := store.ResolveByEmail(ctx, "Ada", "ada@example.com"); err != nil {
		t.Fatalf("ResolveByEmail() error = %v", err)
	}

	// Caller-supplied name differs; the stored record is the source of truth.
	user, created, err := store.ResolveByEmail(ctx, "Someone Else", "ada@example.com")
	if err != nil {
		t.Fatalf("ResolveByEmail() error = %v", err)
	}
	if created {
		t.Fatal("must not create a duplicate for a known email")
	}
	if user.Name != "Ada" {
		t.Errorf("Name = %q, want Ada", user.Name)
	}
}

func TestResolveByIDBumpsCounter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, _, err := store.ResolveByEmail(ctx, "Grace", "grace@example.com")
	if err != nil {
		t.Fatalf("ResolveByEmail() error = %v", err)
	}

	for want := created.TotalRequests + 1; want <= created.TotalRequests+3; want++ {
		user, err := store.ResolveByID(ctx, created.ID)
		if err != nil {
			t.Fatalf("ResolveByID() error = %v", err)
		}
		if user.TotalRequests != want {
			t.Errorf("TotalRequests = %d, want %d", user.TotalRequests, want)
		}
		if user.LastRequestAt == nil {
			t.Error("LastRequestAt should be set after resolution")
		}
	}
}

func TestResolveByIDNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ResolveByID(context.Background(), 12345)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ResolveByID() error = %v, want ErrNotFound", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.CreateUser(ctx, "Ada", "ada@example.com"); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	_, err := store.CreateUser(ctx, "Impostor", "ada@example.com")
	if !errors.Is(err, storage.ErrDuplicateEmail) {
		t.Errorf("CreateUser() error = %v, want ErrDuplicateEmail", err)
	}

	count, err := store.CountUsers(ctx)
	if err != nil {
		t.Fatalf("CountUsers() error = %v", err)
	}
	if count != 1 {
		t.Errorf("CountUsers() = %d, want 1", count)
	}
}

func TestCreateUserStartsAtZeroRequests(t *testing.T) {
	store := newTestStore(t)

	user, err := store.CreateUser(context.Background(), "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if user.TotalRequests != 0 {
		t.Errorf("TotalRequests = %d, want 0", user.TotalRequests)
	}

	got, err := store.GetUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.LastRequestAt != nil {
		t.Errorf("LastRequestAt = %v, want nil before first resolution", got.LastRequestAt)
	}
}

func TestGetUserNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetUser(context.Background(), 999)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetUser() error = %v, want ErrNotFound", err)
	}
}

func TestListUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	emails := []string{"a@example.com", "b@example.com", "c@example.com"}
	for _, email := range emails {
		if _, err := store.CreateUser(ctx, "User", email); err != nil {
			t.Fatalf("CreateUser(%s) error = %v", email, err)
		}
	}

	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers() error = %v", err)
	}
	if len(users) != len(emails) {
		t.Errorf("ListUsers() count = %d, want %d", len(users), len(emails))
	}
}

func TestInsertTraceRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc, _ := json.Marshal(map[string]any{"order_data": map[string]any{"total": 89.99}})
	rec := &storage.AuditRecord{
		TraceID:          "trace-1",
		UserID:           1,
		OrderID:          2001,
		ServiceName:      "audit-service",
		RequestData:      doc,
		ProcessingTimeMS: 42,
	}

	id, err := store.InsertTrace(ctx, rec)
	if err != nil {
		t.Fatalf("InsertTrace() error = %v", err)
	}
	if id == 0 {
		t.Fatal("InsertTrace() returned zero id")
	}

	records, err := store.ByTraceID(ctx, "trace-1")
	if err != nil {
		t.Fatalf("ByTraceID() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ByTraceID() count = %d, want 1", len(records))
	}

	got := records[0]
	if got.ID != id {
		t.Errorf("ID = %d, want %d", got.ID, id)
	}
	if got.OrderID != 2001 {
		t.Errorf("OrderID = %d, want 2001", got.OrderID)
	}

	var decoded struct {
		OrderData struct {
			Total float64 `json:"total"`
		} `json:"order_data"`
	}
	if err := json.Unmarshal(got.RequestData, &decoded); err != nil {
		t.Fatalf("unmarshal request_data: %v", err)
	}
	if decoded.OrderData.Total != 89.99 {
		t.Errorf("order total = %v, want 89.99", decoded.OrderData.Total)
	}
}

func TestByTraceIDOrdersOldestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := &storage.AuditRecord{
			TraceID:     "trace-multi",
			UserID:      1,
			OrderID:     int64(2000 + i),
			ServiceName: "audit-service",
			RequestData: json.RawMessage(`{}`),
		}
		if _, err := store.InsertTrace(ctx, rec); err != nil {
			t.Fatalf("InsertTrace() error = %v", err)
		}
	}

	records, err := store.ByTraceID(ctx, "trace-multi")
	if err != nil {
		t.Fatalf("ByTraceID() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("ByTraceID() count = %d, want 3", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].ID < records[i-1].ID {
			t.Errorf("records out of order: id %d before %d", records[i-1].ID, records[i].ID)
		}
	}
}

func TestByTraceIDNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.ByTraceID(context.Background(), "missing-trace")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ByTraceID() error = %v, want ErrNotFound", err)
	}
}

func TestListRecentHonorsLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := &storage.AuditRecord{
			TraceID:     fmt.Sprintf("trace-%d", i),
			UserID:      1,
			OrderID:     int64(2000 + i),
			ServiceName: "audit-service",
			RequestData: json.RawMessage(`{}`),
		}
		if _, err := store.InsertTrace(ctx, rec); err != nil {
			t.Fatalf("InsertTrace() error = %v", err)
		}
	}

	records, err := store.ListRecent(ctx, 3)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("ListRecent() count = %d, want 3", len(records))
	}

	// Most recent first
	if records[0].ID < records[1].ID {
		t.Errorf("ListRecent() not ordered by recency: ids %d, %d", records[0].ID, records[1].ID)
	}

	count, err := store.CountTraces(ctx)
	if err != nil {
		t.Fatalf("CountTraces() error = %v", err)
	}
	if count != 5 {
		t.Errorf("CountTraces() = %d, want 5", count)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(context.Background(), Config{Driver: "oracle", DSN: ""}, retry.Policy{MaxAttempts: 1})
	if err == nil {
		t.Fatal("New() should fail for an unsupported driver")
	}
}
