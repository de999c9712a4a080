package verify

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/kazi/sqlapply/internal/database"
)

type fakeQuerier struct {
	value string
	err   error
}

func (f fakeQuerier) QueryScalar(context.Context, string) (string, error) {
	return f.value, f.err
}

type sqlQuerier struct{ db *sql.DB }

func (q sqlQuerier) QueryScalar(ctx context.Context, query string) (string, error) {
	var v sql.NullString
	if err := q.db.QueryRowContext(ctx, query).Scan(&v); err != nil {
		return "", err
	}
	return v.String, nil
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	for _, stmt := range []string{
		"CREATE TABLE notifications (id INTEGER PRIMARY KEY, user_id TEXT, is_read INTEGER DEFAULT 0)",
		"CREATE INDEX idx_notifications_user_id ON notifications(user_id)",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
	return db
}

func TestMatches(t *testing.T) {
	tests := []struct {
		expect, actual string
		want           bool
	}{
		{"true", "t", true},
		{"true", "1", true},
		{"TRUE", "true", true},
		{"false", "f", true},
		{"false", "0", true},
		{"true", "false", false},
		{"3", "3", true},
		{"3", " 3 ", true},
		{"3", "4", false},
		{"abc", "ABC", true},
		{"1", "t", true},
	}

	for _, tt := range tests {
		if got := Matches(tt.expect, tt.actual); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.expect, tt.actual, got, tt.want)
		}
	}
}

func TestEvaluate(t *testing.T) {
	c := Check{Name: "count", Query: "SELECT 1", Expect: "1"}

	out := Evaluate(context.Background(), fakeQuerier{value: "1"}, c)
	if !out.Passed || out.Actual != "1" || out.Expected != "1" {
		t.Errorf("unexpected outcome %+v", out)
	}

	out = Evaluate(context.Background(), fakeQuerier{value: "2"}, c)
	if out.Passed {
		t.Errorf("mismatch should fail: %+v", out)
	}

	out = Evaluate(context.Background(), fakeQuerier{err: errors.New("relation does not exist")}, c)
	if out.Passed || out.Error == "" {
		t.Errorf("query error should fail the check with an error: %+v", out)
	}
}

func TestBuiltinChecks_SQLite(t *testing.T) {
	db := openSQLite(t)
	q := sqlQuerier{db: db}
	ctx := context.Background()

	tests := []struct {
		name  string
		check Check
		want  bool
	}{
		{"table present", TableExists(database.KindSQLite, "notifications"), true},
		{"table missing", TableExists(database.KindSQLite, "missing"), false},
		{"index present", IndexExists(database.KindSQLite, "idx_notifications_user_id"), true},
		{"index missing", IndexExists(database.KindSQLite, "idx_missing"), false},
		{"column present", ColumnExists(database.KindSQLite, "notifications", "is_read"), true},
		{"column missing", ColumnExists(database.KindSQLite, "notifications", "read_at"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Evaluate(ctx, q, tt.check)
			if out.Error != "" {
				t.Fatalf("query failed: %s\n%s", out.Error, tt.check.Query)
			}
			if out.Passed != tt.want {
				t.Errorf("Passed = %v, want %v (actual %q)", out.Passed, tt.want, out.Actual)
			}
		})
	}
}

func TestPostgresQueries(t *testing.T) {
	c := TableExists(database.KindPostgres, "notifications")
	if !strings.Contains(c.Query, "table_schema = 'public'") || !strings.Contains(c.Query, "table_name = 'notifications'") {
		t.Errorf("unexpected table query: %s", c.Query)
	}

	c = IndexExists(database.KindPostgres, `app."Idx"`)
	if !strings.Contains(c.Query, "schemaname = 'app'") || !strings.Contains(c.Query, "indexname = 'Idx'") {
		t.Errorf("unexpected index query: %s", c.Query)
	}

	c = TableExists(database.KindREST, "o'brien")
	if !strings.Contains(c.Query, "'o''brien'") {
		t.Errorf("quote should be escaped: %s", c.Query)
	}
}

func TestPostgresOnlyChecks(t *testing.T) {
	if _, err := RLSEnabled(database.KindSQLite, "notifications"); err == nil {
		t.Error("rls check should be rejected on sqlite")
	}
	if _, err := PolicyExists(database.KindLibSQL, "notifications", "p"); err == nil {
		t.Error("policy check should be rejected on libsql")
	}

	c, err := PolicyExists(database.KindPostgres, "notifications", "Users can view their own notifications")
	if err != nil {
		t.Fatalf("PolicyExists: %v", err)
	}
	if !strings.Contains(c.Query, "pg_policies") {
		t.Errorf("unexpected policy query: %s", c.Query)
	}
}
