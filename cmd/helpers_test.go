package cmd

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/kazi/sqlapply/internal/config"
	"github.com/kazi/sqlapply/internal/database"
	"github.com/kazi/sqlapply/internal/migration"
)

func TestParseIndices(t *testing.T) {
	tests := []struct {
		input   string
		want    []int
		wantErr bool
	}{
		{input: "3", want: []int{3}},
		{input: "1,4,7-9", want: []int{1, 4, 7, 8, 9}},
		{input: "5, 2 ,2", want: []int{2, 5}},
		{input: "2-4,3", want: []int{2, 3, 4}},
		{input: "0", wantErr: true},
		{input: "4-2", wantErr: true},
		{input: "a", wantErr: true},
		{input: "1-b", wantErr: true},
		{input: " , ", wantErr: true},
		{input: "10", want: []int{10}},
		{input: "11", wantErr: true},
		{input: "1-2000000000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseIndices(tt.input, 10)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseOptions(t *testing.T) {
	cfg := &config.Config{Apply: config.ApplyConfig{Delimiter: "$$", Splitter: "lexical"}}

	opts, err := parseOptions(cfg, sourceFlags{})
	if err != nil {
		t.Fatal(err)
	}
	if opts.Delimiter != "$$" || opts.Mode != migration.SplitLexical {
		t.Errorf("expected config values, got %+v", opts)
	}

	opts, err = parseOptions(cfg, sourceFlags{delimiter: ";", splitter: "pg"})
	if err != nil {
		t.Fatal(err)
	}
	if opts.Delimiter != ";" || opts.Mode != migration.SplitPostgres {
		t.Errorf("expected flags to win, got %+v", opts)
	}

	if _, err := parseOptions(cfg, sourceFlags{splitter: "regex"}); err == nil {
		t.Error("expected error for unknown splitter")
	}
}

func TestResolveEndpoint(t *testing.T) {
	workspace(t)
	cfg := &config.Config{}

	var stderr bytes.Buffer
	if _, err := resolveEndpoint(cfg, endpointFlags{}, &stderr); err == nil {
		t.Fatal("expected error without a URL")
	}
	if !strings.Contains(stderr.String(), "--url") {
		t.Errorf("expected hint on stderr, got %q", stderr.String())
	}

	ep, err := resolveEndpoint(cfg, endpointFlags{url: "app.db"}, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if ep.Kind != database.KindSQLite || ep.ConnectTimeout == 0 {
		t.Errorf("unexpected endpoint %+v", ep)
	}

	ep, err = resolveEndpoint(cfg, endpointFlags{url: "postgres://localhost/db", kind: "pg"}, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	if ep.Kind != database.KindPostgres {
		t.Errorf("expected postgres, got %s", ep.Kind)
	}

	if _, err := resolveEndpoint(cfg, endpointFlags{url: "https://abc.supabase.co"}, &stderr); err == nil {
		t.Error("expected error for rest endpoint without credential")
	}
}

func TestBuildChecks(t *testing.T) {
	checks, err := buildChecks(database.KindSQLite, nil, checkFlags{
		tables:  []string{"notifications"},
		indexes: []string{"idx_notifications_user_id"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(checks))
	}
	if !strings.Contains(checks[0].Name, "notifications") || !strings.Contains(checks[1].Name, "idx_notifications_user_id") {
		t.Errorf("unexpected check names %q, %q", checks[0].Name, checks[1].Name)
	}
}

func TestCheckFormat(t *testing.T) {
	for _, f := range []string{"text", "json"} {
		if err := checkFormat(f); err != nil {
			t.Errorf("%s: %v", f, err)
		}
	}
	if err := checkFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}
