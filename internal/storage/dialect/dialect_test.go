package dialect

import (
	"errors"
	"testing"
)

func TestFromDriverName(t *testing.T) {
	tests := []struct {
		driver  string
		want    string
		wantErr bool
	}{
		{"sqlite", "sqlite", false},
		{"sqlite3", "sqlite", false},
		{"SQLite", "sqlite", false},
		{"postgres", "postgres", false},
		{"pgx", "postgres", false},
		{"oracle", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		d, err := FromDriverName(tt.driver)
		if tt.wantErr {
			if err == nil {
				t.Errorf("FromDriverName(%q) should fail", tt.driver)
			}
			continue
		}
		if err != nil {
			t.Errorf("FromDriverName(%q) error = %v", tt.driver, err)
			continue
		}
		if d.Name() != tt.want {
			t.Errorf("FromDriverName(%q).Name() = %q, want %q", tt.driver, d.Name(), tt.want)
		}
	}
}

func TestPostgresRebind(t *testing.T) {
	d := &postgresDialect{}
	got := d.Rebind("INSERT INTO users (name, email) VALUES (?, ?)")
	want := "INSERT INTO users (name, email) VALUES ($1, $2)"
	if got != want {
		t.Errorf("Rebind() = %q, want %q", got, want)
	}
}

func TestSQLiteRebindIsIdentity(t *testing.T) {
	d := &sqliteDialect{}
	q := "SELECT * FROM users WHERE id = ?"
	if got := d.Rebind(q); got != q {
		t.Errorf("Rebind() = %q, want unchanged", got)
	}
}

func TestSQLiteIsDuplicate(t *testing.T) {
	d := &sqliteDialect{}
	if !d.IsDuplicate(errors.New("UNIQUE constraint failed: users.email")) {
		t.Error("unique constraint violation not detected")
	}
	if d.IsDuplicate(errors.New("no such table: users")) {
		t.Error("unrelated error misclassified as duplicate")
	}
	if d.IsDuplicate(nil) {
		t.Error("nil misclassified as duplicate")
	}
}

func TestPostgresIsDuplicate(t *testing.T) {
	d := &postgresDialect{}
	if !d.IsDuplicate(errors.New(`ERROR: duplicate key value violates unique constraint "users_email_key" (SQLSTATE 23505)`)) {
		t.Error("unique violation not detected")
	}
	if d.IsDuplicate(errors.New("connection refused")) {
		t.Error("unrelated error misclassified as duplicate")
	}
}
