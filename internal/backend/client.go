// Package backend talks to the collaborator that owns durable traffic history:
// paging older records and clearing history.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/proxy_history/internal/types"
)

const (
	DefaultListPath  = "/api/v1/proxy/requests"
	DefaultClearPath = "/api/v1/proxy/requests/clear"

	maxResponseBytes = 32 << 20
)

// Client issues paginated fetch and clear-history commands over HTTP.
type Client struct {
	baseURL   string
	listPath  string
	clearPath string
	http      *http.Client
}

// Option customizes a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

func WithPaths(list, clear string) Option {
	return func(cl *Client) {
		if list != "" {
			cl.listPath = list
		}
		if clear != "" {
			cl.clearPath = clear
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		listPath:  DefaultListPath,
		clearPath: DefaultClearPath,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// fetchEnvelope defers record decoding so one bad row does not fail the page.
type fetchEnvelope struct {
	Success bool              `json:"success"`
	Data    []json.RawMessage `json:"data"`
	Error   string            `json:"error,omitempty"`
}

// Fetch returns a newest-first page of older records. Malformed rows are
// dropped and logged.
func (c *Client) Fetch(ctx context.Context, req types.FetchRequest) ([]types.TrafficRecord, error) {
	var env fetchEnvelope
	if err := c.post(ctx, c.listPath, req, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("backend: fetch: %s", fallback(env.Error, "request rejected"))
	}

	records := make([]types.TrafficRecord, 0, len(env.Data))
	for _, raw := range env.Data {
		rec, err := types.DecodeRecord(raw)
		if err != nil {
			slog.Debug("backend: dropped malformed record", "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Clear asks the backend to drop its history.
func (c *Client) Clear(ctx context.Context) error {
	var resp types.ClearResponse
	if err := c.post(ctx, c.clearPath, struct{}{}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("backend: clear: %s", fallback(resp.Error, "request rejected"))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("backend: encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("backend: build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("backend: read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend: %s: status=%d body=%s", path, resp.StatusCode, truncate(string(data), 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}

func fallback(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
