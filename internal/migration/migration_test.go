package migration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseScript(t *testing.T) {
	script := `CREATE TABLE IF NOT EXISTS notifications (id UUID PRIMARY KEY);

-- sqlapply:optional
ALTER PUBLICATION supabase_realtime ADD TABLE notifications;
`
	stmts, err := ParseScript(script, "notifications.sql", 1, ParseOptions{})
	if err != nil {
		t.Fatalf("ParseScript: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(stmts))
	}
	if stmts[0].Optional {
		t.Error("first statement should not be optional")
	}
	if !stmts[1].Optional {
		t.Error("second statement should be optional")
	}
	if got := stmts[1].Label(); got != "notifications.sql:4" {
		t.Errorf("Label() = %q", got)
	}
	if stmts[1].Index != 2 {
		t.Errorf("expected index 2, got %d", stmts[1].Index)
	}
}

func TestParseScript_Errors(t *testing.T) {
	if _, err := ParseScript("SELECT 'oops;", "bad.sql", 1, ParseOptions{}); err == nil || !strings.Contains(err.Error(), "bad.sql") {
		t.Errorf("expected error naming the file, got %v", err)
	}
	if _, err := ParseScript("SELECT 1;", "", 1, ParseOptions{Mode: "regex"}); err == nil {
		t.Error("unknown splitter should be rejected")
	}
	if _, err := ParseScript("SELECT 1;;", "", 1, ParseOptions{Mode: SplitPostgres, Delimiter: ";;"}); err == nil {
		t.Error("pg splitter with custom delimiter should be rejected")
	}
}

func TestFromStrings(t *testing.T) {
	stmts := FromStrings([]string{" SELECT 1; ", "-- sqlapply:optional\nSELECT 2;"})
	if stmts[0].SQL != "SELECT 1;" || stmts[0].Index != 1 {
		t.Errorf("unexpected first statement %+v", stmts[0])
	}
	if !stmts[1].Optional || stmts[1].Index != 2 {
		t.Errorf("unexpected second statement %+v", stmts[1])
	}
	if stmts[0].Label() != "#1" {
		t.Errorf("Label() = %q", stmts[0].Label())
	}
}

func TestOptionalMarker(t *testing.T) {
	tests := []struct {
		name   string
		script string
		want   []bool
	}{
		{"leading line comment", "SELECT 1;\n-- sqlapply:optional\nSELECT 2;", []bool{false, true}},
		{"comment trailing the delimiter", "CREATE TABLE a(id int); -- sqlapply:optional\nCREATE TABLE b(id int);", []bool{true, false}},
		{"trailing the last statement", "SELECT 1;\nSELECT 2; -- sqlapply:optional", []bool{false, true}},
		{"inside the statement", "ALTER PUBLICATION p -- sqlapply:optional\n  ADD TABLE t;", []bool{true}},
		{"block comment", "/* sqlapply:optional */ SELECT 1;", []bool{true}},
		{"string literal", "INSERT INTO t VALUES ('-- sqlapply:optional');\nSELECT 2;", []bool{false, false}},
		{"dollar body", "DO $$ BEGIN -- sqlapply:optional\nEND $$;", []bool{false}},
		{"other marker", "-- sqlapply:optionally\nSELECT 1;", []bool{false}},
	}

	for _, mode := range []SplitMode{SplitLexical, SplitPostgres} {
		for _, tt := range tests {
			t.Run(string(mode)+"/"+tt.name, func(t *testing.T) {
				stmts, err := ParseScript(tt.script, "", 1, ParseOptions{Mode: mode})
				if err != nil {
					t.Fatalf("ParseScript: %v", err)
				}
				if len(stmts) != len(tt.want) {
					t.Fatalf("expected %d statements, got %d", len(tt.want), len(stmts))
				}
				for i, want := range tt.want {
					if stmts[i].Optional != want {
						t.Errorf("statement %d: optional = %v, want %v", i+1, stmts[i].Optional, want)
					}
				}
			})
		}
	}
}

func TestFromStrings_MarkerInLiteral(t *testing.T) {
	stmts := FromStrings([]string{
		"INSERT INTO notes (body) VALUES ('-- sqlapply:optional');",
		"SELECT 1; -- sqlapply:optional",
	})
	if stmts[0].Optional {
		t.Error("marker inside a string literal should not make the statement optional")
	}
	if !stmts[1].Optional {
		t.Error("trailing marker comment should make the statement optional")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		stmts   []Statement
		wantErr bool
	}{
		{"empty list", nil, true},
		{"blank sql", []Statement{{Index: 1, SQL: "  "}}, true},
		{"decreasing", []Statement{{Index: 2, SQL: "a"}, {Index: 1, SQL: "b"}}, true},
		{"duplicate", []Statement{{Index: 1, SQL: "a"}, {Index: 1, SQL: "b"}}, true},
		{"gaps allowed", []Statement{{Index: 1, SQL: "a"}, {Index: 4, SQL: "b"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.stmts)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	stmts := FromStrings([]string{"a", "b", "c", "d"})

	got, err := Select(stmts, []int{4, 2})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 2 || got[0].Index != 2 || got[1].Index != 4 {
		t.Errorf("expected statements 2 and 4 in order, got %+v", got)
	}

	if _, err := Select(stmts, []int{5}); err == nil {
		t.Error("unknown index should be rejected")
	}

	all, err := Select(stmts, nil)
	if err != nil || len(all) != 4 {
		t.Errorf("empty selection should keep everything, got %d (%v)", len(all), err)
	}
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "002_index.sql", "CREATE INDEX IF NOT EXISTS idx_t ON t(id);\n")
	writeFile(t, dir, "001_table.sql", "CREATE TABLE IF NOT EXISTS t (id INT);\nCREATE TABLE IF NOT EXISTS u (id INT);\n")
	writeFile(t, dir, "README.md", "not sql")
	if err := os.Mkdir(filepath.Join(dir, "nested.sql"), 0o755); err != nil {
		t.Fatal(err)
	}

	set, err := Load(dir, ParseOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(set.Statements) != 3 {
		t.Fatalf("expected 3 statements, got %d", len(set.Statements))
	}
	want := []string{"001_table.sql:1", "001_table.sql:2", "002_index.sql:1"}
	for i, s := range set.Statements {
		if s.Index != i+1 {
			t.Errorf("statement %d has index %d", i, s.Index)
		}
		if s.Label() != want[i] {
			t.Errorf("statement %d label = %q, want %q", i, s.Label(), want[i])
		}
	}
}

func TestLoad_EmptyDirectory(t *testing.T) {
	if _, err := Load(t.TempDir(), ParseOptions{}); err == nil {
		t.Error("expected error for directory without .sql files")
	}
}

func TestLoad_UnsupportedFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "schema.yaml", "x: 1")
	if _, err := Load(path, ParseOptions{}); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

func TestLoadManifest(t *testing.T) {
	data := []byte(`{
  "statements": [
    "CREATE TABLE IF NOT EXISTS t (id INT);",
    {"sql": "ALTER PUBLICATION supabase_realtime ADD TABLE t;", "optional": true, "description": "realtime"}
  ],
  "checks": [
    {"type": "table_exists", "target": "t"},
    {"name": "one row", "query": "SELECT 1", "expect": "1"}
  ]
}`)

	set, err := LoadManifest(data, "manifest.json")
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(set.Statements) != 2 || len(set.Checks) != 2 {
		t.Fatalf("unexpected set %+v", set)
	}
	if !set.Statements[1].Optional || set.Statements[1].Description != "realtime" {
		t.Errorf("unexpected second statement %+v", set.Statements[1])
	}
	if set.Statements[1].Label() != "manifest.json#2" {
		t.Errorf("Label() = %q", set.Statements[1].Label())
	}
	if set.Checks[0].Type != "table_exists" {
		t.Errorf("unexpected check %+v", set.Checks[0])
	}
}

func TestLoadManifest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no statements", `{}`},
		{"empty statements", `{"statements": []}`},
		{"unknown field", `{"statements": ["SELECT 1"], "steps": []}`},
		{"statement without sql", `{"statements": [{"optional": true}]}`},
		{"bad check type", `{"statements": ["SELECT 1"], "checks": [{"type": "nope", "target": "t"}]}`},
		{"not json", `statements: [SELECT 1]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadManifest([]byte(tt.data), "m.json"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadScript(t *testing.T) {
	set, err := LoadScript("SELECT 1; SELECT 2;", "stdin", ParseOptions{})
	if err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if len(set.Statements) != 2 {
		t.Errorf("expected 2 statements, got %d", len(set.Statements))
	}

	if _, err := LoadScript("-- nothing here\n", "stdin", ParseOptions{}); err == nil {
		t.Error("expected error for script with no statements")
	}
}
