// Package verify evaluates post-condition checks against the live store.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/kazi/sqlapply/internal/database"
	"github.com/kazi/sqlapply/internal/report"
)

// Check is a post-condition query plus the value it must return.
type Check struct {
	Name   string
	Query  string
	Expect string
}

// Querier runs a query returning one scalar.
type Querier interface {
	QueryScalar(ctx context.Context, query string) (string, error)
}

// Validate ensures the check can be evaluated.
func (c Check) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("check has no name")
	}
	if strings.TrimSpace(c.Query) == "" {
		return fmt.Errorf("check %q has no query", c.Name)
	}
	return nil
}

// Evaluate runs the check once. Query errors fail the check; they never abort.
func Evaluate(ctx context.Context, q Querier, c Check) report.CheckOutcome {
	outcome := report.CheckOutcome{Name: c.Name, Expected: c.Expect}

	actual, err := q.QueryScalar(ctx, c.Query)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Actual = actual
	outcome.Passed = Matches(c.Expect, actual)
	return outcome
}

// Matches compares an expected and actual value. Boolean spellings used by
// postgres ("t"), sqlite ("1") and JSON ("true") are equivalent.
func Matches(expect, actual string) bool {
	e := strings.ToLower(strings.TrimSpace(expect))
	a := strings.ToLower(strings.TrimSpace(actual))
	if e == a {
		return true
	}
	if eb, ok := boolValue(e); ok {
		if ab, ok := boolValue(a); ok {
			return eb == ab
		}
	}
	return false
}

func boolValue(s string) (bool, bool) {
	switch s {
	case "t", "true", "1", "yes", "on":
		return true, true
	case "f", "false", "0", "no", "off":
		return false, true
	}
	return false, false
}

// TableExists checks that a table exists. name may be schema-qualified.
func TableExists(kind database.Kind, name string) Check {
	schema, table := splitQualified(kind, name)
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = %s AND table_name = %s)",
		quote(schema), quote(table))
	if isSQLite(kind) {
		query = fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = %s)", quote(table))
	}
	return Check{Name: fmt.Sprintf("table %s exists", name), Query: query, Expect: "true"}
}

// IndexExists checks that an index exists.
func IndexExists(kind database.Kind, name string) Check {
	schema, index := splitQualified(kind, name)
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE schemaname = %s AND indexname = %s)",
		quote(schema), quote(index))
	if isSQLite(kind) {
		query = fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'index' AND name = %s)", quote(index))
	}
	return Check{Name: fmt.Sprintf("index %s exists", name), Query: query, Expect: "true"}
}

// ColumnExists checks that a table has a column.
func ColumnExists(kind database.Kind, tableName, column string) Check {
	schema, table := splitQualified(kind, tableName)
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_schema = %s AND table_name = %s AND column_name = %s)",
		quote(schema), quote(table), quote(column))
	if isSQLite(kind) {
		query = fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM pragma_table_info(%s) WHERE name = %s)", quote(table), quote(column))
	}
	return Check{Name: fmt.Sprintf("column %s.%s exists", tableName, column), Query: query, Expect: "true"}
}

// RLSEnabled checks that row level security is enabled on a postgres table.
func RLSEnabled(kind database.Kind, name string) (Check, error) {
	if isSQLite(kind) {
		return Check{}, fmt.Errorf("row level security is not available on %s", kind)
	}
	schema, table := splitQualified(kind, name)
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace WHERE n.nspname = %s AND c.relname = %s AND c.relrowsecurity)",
		quote(schema), quote(table))
	return Check{Name: fmt.Sprintf("rls enabled on %s", name), Query: query, Expect: "true"}, nil
}

// PolicyExists checks that a row level security policy exists on a table.
func PolicyExists(kind database.Kind, tableName, policy string) (Check, error) {
	if isSQLite(kind) {
		return Check{}, fmt.Errorf("policies are not available on %s", kind)
	}
	schema, table := splitQualified(kind, tableName)
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM pg_policies WHERE schemaname = %s AND tablename = %s AND policyname = %s)",
		quote(schema), quote(table), quote(policy))
	return Check{Name: fmt.Sprintf("policy %q on %s exists", policy, tableName), Query: query, Expect: "true"}, nil
}

func isSQLite(kind database.Kind) bool {
	return kind == database.KindSQLite || kind == database.KindLibSQL
}

func splitQualified(kind database.Kind, name string) (string, string) {
	name = strings.TrimSpace(name)
	defaultSchema := "public"
	if isSQLite(kind) {
		defaultSchema = "main"
	}
	if schema, rel, ok := strings.Cut(name, "."); ok {
		return unquoteIdent(schema), unquoteIdent(rel)
	}
	return defaultSchema, unquoteIdent(name)
}

func unquoteIdent(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `""`, `"`)
	}
	return s
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
