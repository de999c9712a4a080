package database

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Kind identifies how statements reach the target store.
type Kind string

const (
	KindPostgres Kind = "postgres"
	KindSQLite   Kind = "sqlite"
	KindLibSQL   Kind = "libsql"
	// KindREST sends statements through a PostgREST RPC function over HTTPS.
	KindREST Kind = "rest"
)

// Kinds lists every supported endpoint kind.
var Kinds = []Kind{KindPostgres, KindSQLite, KindLibSQL, KindREST}

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultExecFunction   = "exec_sql"
	DefaultExecParam      = "sql"
	DefaultQueryFunction  = "pg_query"
	DefaultQueryParam     = "query"
)

// Endpoint holds the connection parameters of the store's execution interface.
// It is built once per run and not mutated afterwards.
type Endpoint struct {
	Name       string
	Kind       Kind
	URL        string
	Credential string

	ConnectTimeout   time.Duration
	StatementTimeout time.Duration

	// RPC settings, only used by KindREST
	ExecFunction  string
	ExecParam     string
	QueryFunction string
	QueryParam    string
}

// ParseKind normalizes a user supplied kind name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return KindPostgres, nil
	case "sqlite", "sqlite3":
		return KindSQLite, nil
	case "libsql", "turso":
		return KindLibSQL, nil
	case "rest", "postgrest", "supabase":
		return KindREST, nil
	default:
		return "", fmt.Errorf("unsupported endpoint kind: %q", s)
	}
}

// DetectKind guesses the endpoint kind from a URL or file path.
func DetectKind(connStr string) Kind {
	lower := strings.ToLower(strings.TrimSpace(connStr))

	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return KindPostgres
	case strings.HasPrefix(lower, "libsql://"):
		return KindLibSQL
	case strings.HasPrefix(lower, "sqlite://"), strings.HasPrefix(lower, "file:"), lower == ":memory:":
		return KindSQLite
	case strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return KindSQLite
	case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
		// Hosted backends (Supabase and friends) expose SQL through PostgREST RPC
		return KindREST
	}

	return KindPostgres
}

// SQLDriverName returns the database/sql driver registered for a kind.
func SQLDriverName(kind Kind) string {
	switch kind {
	case KindPostgres:
		return "postgres"
	case KindSQLite:
		return "sqlite"
	case KindLibSQL:
		return "libsql"
	default:
		return string(kind)
	}
}

// WithDefaults fills unset optional fields.
func (e Endpoint) WithDefaults() Endpoint {
	if e.Kind == "" {
		e.Kind = DetectKind(e.URL)
	}
	if e.ConnectTimeout == 0 {
		e.ConnectTimeout = DefaultConnectTimeout
	}
	if e.ExecFunction == "" {
		e.ExecFunction = DefaultExecFunction
	}
	if e.ExecParam == "" {
		e.ExecParam = DefaultExecParam
	}
	if e.QueryFunction == "" {
		e.QueryFunction = DefaultQueryFunction
	}
	if e.QueryParam == "" {
		e.QueryParam = DefaultQueryParam
	}
	return e
}

// Validate reports whether the endpoint can be used to open an executor.
func (e Endpoint) Validate() error {
	if strings.TrimSpace(e.URL) == "" {
		return fmt.Errorf("endpoint %q: url is required", e.Name)
	}
	if _, err := ParseKind(string(e.Kind)); err != nil {
		return fmt.Errorf("endpoint %q: %w", e.Name, err)
	}
	if e.Kind == KindREST && e.Credential == "" {
		return fmt.Errorf("endpoint %q: rest endpoints require a credential", e.Name)
	}
	if e.ConnectTimeout < 0 || e.StatementTimeout < 0 {
		return fmt.Errorf("endpoint %q: timeouts must not be negative", e.Name)
	}
	return nil
}

// Redacted returns the endpoint URL with passwords and tokens masked.
func (e Endpoint) Redacted() string {
	return RedactURL(e.URL)
}

// RedactURL masks the password and auth token query parameters of a URL.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return raw
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	q := u.Query()
	for _, key := range []string{"authToken", "password", "apikey"} {
		if q.Has(key) {
			q.Set(key, "xxxxx")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
