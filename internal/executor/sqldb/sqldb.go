// Package sqldb implements the execution interface on top of database/sql,
// the client-library path: postgres through lib/pq, sqlite through
// modernc.org/sqlite and libSQL/Turso through libsql-client-go.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lib/pq"

	"github.com/kazi/sqlapply/internal/database"
	"github.com/kazi/sqlapply/internal/executor"
)

// Executor implements executor.Executor for a database/sql connection pool.
type Executor struct {
	db       *sql.DB
	endpoint database.Endpoint
}

// Open prepares a pool for the endpoint. No connection is made until Ping.
func Open(ep database.Endpoint) (*Executor, error) {
	ep = ep.WithDefaults()

	dsn := ep.URL
	switch ep.Kind {
	case database.KindPostgres:
		dsn = postgresDSN(ep)
	case database.KindSQLite:
		dsn = sqliteDSN(ep.URL)
	case database.KindLibSQL:
		dsn = libsqlDSN(ep)
	default:
		return nil, fmt.Errorf("sqldb: unsupported endpoint kind %q", ep.Kind)
	}

	db, err := sql.Open(database.SQLDriverName(ep.Kind), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	// Statements run one at a time and an in-memory sqlite database only
	// exists on the connection that created it.
	db.SetMaxOpenConns(1)

	return &Executor{db: db, endpoint: ep}, nil
}

// New wraps an existing pool.
func New(db *sql.DB, kind database.Kind) *Executor {
	return &Executor{db: db, endpoint: database.Endpoint{Kind: kind}.WithDefaults()}
}

// Name returns the endpoint kind.
func (e *Executor) Name() string {
	return string(e.endpoint.Kind)
}

// Ping opens a connection within the connect timeout.
func (e *Executor) Ping(ctx context.Context) error {
	if e.endpoint.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.endpoint.ConnectTimeout)
		defer cancel()
	}

	if err := e.db.PingContext(ctx); err != nil {
		return executor.Unreachable(fmt.Errorf("failed to ping database: %w", err))
	}
	return nil
}

// Exec runs a statement. Errors the server reports are rejections;
// connection-level failures are transport errors.
func (e *Executor) Exec(ctx context.Context, statement string) error {
	if _, err := e.db.ExecContext(ctx, statement); err != nil {
		return classify(err)
	}
	return nil
}

// QueryScalar returns the first column of the first row as text.
func (e *Executor) QueryScalar(ctx context.Context, query string) (string, error) {
	var value sql.NullString
	if err := e.db.QueryRowContext(ctx, query).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", classify(err)
	}
	if !value.Valid {
		return "", nil
	}
	return value.String, nil
}

// Close releases the pool.
func (e *Executor) Close() error {
	return e.db.Close()
}

func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		diag := pqErr.Message
		if pqErr.Detail != "" {
			diag += ": " + pqErr.Detail
		}
		if pqErr.Hint != "" {
			diag += " (hint: " + pqErr.Hint + ")"
		}
		return &executor.RejectedError{Code: string(pqErr.Code), Diagnostic: diag, Err: err}
	}

	if isTransportError(err) {
		return executor.Unreachable(err)
	}

	// sqlite and libsql report statement errors as plain errors
	return executor.Rejected(err)
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "no such host", "broken pipe", "connection reset", "bad connection", "i/o timeout"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// postgresDSN injects the credential as the password when the URL has none,
// and disables TLS for local servers.
func postgresDSN(ep database.Endpoint) string {
	dsn := ep.URL
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
		if ep.Credential != "" && u.User != nil {
			if _, hasPassword := u.User.Password(); !hasPassword {
				u.User = url.UserPassword(u.User.Username(), ep.Credential)
				dsn = u.String()
			}
		}
		if !u.Query().Has("sslmode") && isLocalHost(u.Hostname()) {
			dsn = appendQuery(dsn, "sslmode=disable")
		}
	}
	return dsn
}

func sqliteDSN(connStr string) string {
	if strings.HasPrefix(connStr, "sqlite://") {
		return strings.TrimPrefix(connStr, "sqlite://")
	}
	return connStr
}

func libsqlDSN(ep database.Endpoint) string {
	if ep.Credential != "" && !strings.Contains(ep.URL, "authToken=") {
		return appendQuery(ep.URL, "authToken="+ep.Credential)
	}
	return ep.URL
}

func appendQuery(dsn, kv string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + kv
	}
	return dsn + "?" + kv
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
