// Package rest sends statements to a hosted Postgres through PostgREST RPC
// functions (for example Supabase's /rest/v1/rpc/exec_sql).
//
// The target database must expose two SECURITY DEFINER functions: one that
// executes a statement (default exec_sql(sql text)) and one that returns the
// result of a query as JSON (default pg_query(query text)).
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kazi/sqlapply/internal/database"
	"github.com/kazi/sqlapply/internal/executor"
)

const maxBodyBytes = 1 << 20

// Executor implements executor.Executor over HTTPS.
type Executor struct {
	base     *url.URL
	endpoint database.Endpoint
	client   *http.Client
}

// Option customizes an Executor.
type Option func(*Executor)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// New builds an executor for the endpoint.
func New(ep database.Endpoint, opts ...Option) (*Executor, error) {
	ep = ep.WithDefaults()
	if ep.Credential == "" {
		return nil, fmt.Errorf("rest: credential is required")
	}

	base, err := url.Parse(strings.TrimRight(ep.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("rest: invalid base url %q", ep.URL)
	}

	dialer := &net.Dialer{Timeout: ep.ConnectTimeout}
	e := &Executor{
		base:     base,
		endpoint: ep,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: ep.ConnectTimeout,
			},
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Name returns "rest".
func (e *Executor) Name() string {
	return string(database.KindREST)
}

// Ping requests the PostgREST root. A refused credential counts as unreachable.
func (e *Executor) Ping(ctx context.Context) error {
	if e.endpoint.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.endpoint.ConnectTimeout)
		defer cancel()
	}

	req, err := e.newRequest(ctx, http.MethodGet, "/rest/v1/", nil)
	if err != nil {
		return err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return executor.Unreachable(err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return executor.Unreachable(fmt.Errorf("credential rejected: status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		return executor.Unreachable(fmt.Errorf("server error: status %d", resp.StatusCode))
	}
	return nil
}

// Exec calls the exec RPC function with the statement.
func (e *Executor) Exec(ctx context.Context, statement string) error {
	body, err := e.rpc(ctx, e.endpoint.ExecFunction, e.endpoint.ExecParam, statement)
	if err != nil {
		return err
	}

	// exec_sql variants that trap exceptions report them in a 200 body
	if msg := gjson.GetBytes(body, "error"); msg.Exists() && msg.Type == gjson.String && msg.String() != "" {
		return &executor.RejectedError{Diagnostic: msg.String()}
	}
	return nil
}

// QueryScalar calls the query RPC function and returns the first scalar value
// found in the JSON response, e.g. `[{"exists": true}]` yields "true".
func (e *Executor) QueryScalar(ctx context.Context, query string) (string, error) {
	body, err := e.rpc(ctx, e.endpoint.QueryFunction, e.endpoint.QueryParam, query)
	if err != nil {
		return "", err
	}
	return firstScalar(gjson.ParseBytes(body)), nil
}

// Close releases idle connections.
func (e *Executor) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *Executor) rpc(ctx context.Context, function, param, sql string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{param: sql})
	if err != nil {
		return nil, fmt.Errorf("rest: encode request: %w", err)
	}

	req, err := e.newRequest(ctx, http.MethodPost, "/rest/v1/rpc/"+url.PathEscape(function), payload)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, executor.Unreachable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, executor.Unreachable(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	if resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout {
		return nil, executor.Unreachable(fmt.Errorf("request failed with status code %d", resp.StatusCode))
	}
	return nil, rejection(resp.StatusCode, body)
}

func (e *Executor) newRequest(ctx context.Context, method, path string, payload []byte) (*http.Request, error) {
	u := *e.base
	u.Path = strings.TrimRight(u.Path, "/") + path

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("apikey", e.endpoint.Credential)
	req.Header.Set("Authorization", "Bearer "+e.endpoint.Credential)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// rejection turns a PostgREST error body into a RejectedError.
func rejection(status int, body []byte) error {
	parsed := gjson.ParseBytes(body)

	diag := parsed.Get("message").String()
	if diag == "" {
		diag = strings.TrimSpace(string(body))
	}
	if diag == "" {
		diag = http.StatusText(status)
	}
	if details := parsed.Get("details").String(); details != "" {
		diag += ": " + details
	}
	if hint := parsed.Get("hint").String(); hint != "" {
		diag += " (hint: " + hint + ")"
	}

	code := parsed.Get("code").String()
	if code == "" {
		code = fmt.Sprintf("HTTP %d", status)
	}
	return &executor.RejectedError{Code: code, Diagnostic: diag}
}

func firstScalar(v gjson.Result) string {
	for {
		switch {
		case v.IsArray():
			items := v.Array()
			if len(items) == 0 {
				return ""
			}
			v = items[0]
		case v.IsObject():
			var first gjson.Result
			found := false
			v.ForEach(func(_, value gjson.Result) bool {
				first = value
				found = true
				return false
			})
			if !found {
				return ""
			}
			v = first
		case v.Type == gjson.Null:
			return ""
		default:
			return v.String()
		}
	}
}
