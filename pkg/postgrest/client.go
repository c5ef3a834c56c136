// Package postgrest is a minimal client for the two PostgREST surfaces the
// pipeline needs: the privileged ensure_table RPC and batched row inserts.
// There is no database driver, no connection, no transaction: every call is
// one authenticated HTTP request.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tabflow/tabflow/pkg/errors"
)

// Schema-cache errors carry this PostgREST code when a just-created table
// or column is not yet visible to the REST layer.
const schemaCacheErrCode = "PGRST205"

// Default function names for the privileged RPCs. The ensure_table function
// must exist in the database and be granted only to the ingestion role.
const (
	ensureTableFn  = "ensure_table"
	reloadSchemaFn = "reload_schema_cache"
)

// Config holds client configuration.
type Config struct {
	// BaseURL is the project REST root, e.g. "https://xyz.supabase.co".
	BaseURL string

	// ServiceKey is the elevated service-role key. It is sent as both the
	// apikey header and the bearer token.
	ServiceKey string

	// RPCTimeout bounds schema-reconciliation calls.
	RPCTimeout time.Duration

	// WriteTimeout bounds one batch insert.
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults for a base URL and key.
func DefaultConfig(baseURL, serviceKey string) Config {
	return Config{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		ServiceKey:   serviceKey,
		RPCTimeout:   30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// Client issues PostgREST requests.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a PostgREST client.
func New(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RPCTimeout == 0 {
		cfg.RPCTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
	}
}

// EnsureTable invokes the idempotent DDL function: creates the schema and
// table if absent and adds any missing columns with the requested types.
// Existing columns are never altered, so concurrent calls for the same
// target are safe under arbitrary interleaving.
func (c *Client) EnsureTable(ctx context.Context, schema, table string, cols map[string]string) error {
	if len(cols) == 0 {
		return nil
	}

	payload := map[string]interface{}{
		"p_schema": schema,
		"p_table":  table,
		"p_cols":   cols,
	}
	if err := c.rpc(ctx, ensureTableFn, payload); err != nil {
		return errors.Wrap(err, errors.CodeReconcileFailed, "ensure_table rpc failed").
			WithContext("schema", schema).
			WithContext("table", table)
	}
	return nil
}

// ReloadSchema signals PostgREST to reload its schema cache so columns
// added by EnsureTable are visible to the inserts that follow. Without this
// a fresh column can 404 until the cache refreshes on its own.
func (c *Client) ReloadSchema(ctx context.Context) error {
	if err := c.rpc(ctx, reloadSchemaFn, map[string]interface{}{}); err != nil {
		return errors.Wrap(err, errors.CodeReconcileFailed, "schema cache reload failed")
	}
	return nil
}

// Insert appends one batch of rows to schema.table. Rows must already be
// keyed by sanitized column names. The call either fully succeeds or fails
// as a unit; the caller owns retries.
func (c *Client) Insert(ctx context.Context, schema, table string, rows []map[string]interface{}) error {
	if len(rows) == 0 {
		return nil
	}

	body, err := json.Marshal(rows)
	if err != nil {
		return errors.Wrap(err, errors.CodeBatchWriteFailed, "failed to encode batch")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/rest/v1/%s", c.cfg.BaseURL, table)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.CodeBatchWriteFailed, "failed to build insert request")
	}
	c.setHeaders(req)
	// Writes outside the default schema are routed via Content-Profile.
	if schema != "" && schema != "public" {
		req.Header.Set("Content-Profile", schema)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(err, errors.CodeBatchWriteFailed, "insert request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return c.apiError(resp, errors.CodeBatchWriteFailed, "insert rejected").
		WithContext("table", table)
}

// rpc posts to /rest/v1/rpc/<fn> with the RPC timeout.
func (c *Client) rpc(ctx context.Context, fn string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RPCTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/rest/v1/rpc/%s", c.cfg.BaseURL, fn)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return c.apiError(resp, errors.CodeUnknown, "rpc "+fn+" rejected")
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("apikey", c.cfg.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+c.cfg.ServiceKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")
}

// apiError classifies a non-2xx response. A PGRST205 body means the schema
// cache has not caught up with a fresh column yet, which is retryable rather
// than a real rejection.
func (c *Client) apiError(resp *http.Response, code errors.Code, msg string) *errors.Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))

	if strings.Contains(string(body), schemaCacheErrCode) {
		return errors.New(errors.CodeSchemaCacheStale, "schema cache not yet reloaded").
			WithContext("status", resp.StatusCode)
	}

	return errors.New(code, msg).
		WithContext("status", resp.StatusCode).
		WithContext("body", truncate(string(body), 800))
}

func (c *Client) transportError(err error, code errors.Code, msg string) *errors.Error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, errors.CodeWriteTimeout, msg)
	}
	return errors.Wrap(err, code, msg)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
