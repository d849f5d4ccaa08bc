// Package notify surfaces transient, non-fatal problems to the user.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"

	defaultKeep = 50
	sendTimeout = 10 * time.Second
)

// Notification is one user-facing message.
type Notification struct {
	ID      string    `json:"id"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Publisher receives every notification, typically the relay broker.
type Publisher interface {
	PublishJSON(feed string, v any) error
}

// Center records recent notifications, relays them to UI clients and
// optionally forwards them to an ntfy endpoint.
type Center struct {
	feed      string
	publisher Publisher
	endpoint  string
	client    *http.Client

	mu     sync.Mutex
	recent []Notification
	keep   int
	now    func() time.Time
}

// NewCenter creates a Center. publisher and endpoint may be empty.
func NewCenter(publisher Publisher, feed, endpoint string, client *http.Client) *Center {
	return &Center{
		feed:      feed,
		publisher: publisher,
		endpoint:  endpoint,
		client:    client,
		keep:      defaultKeep,
		now:       time.Now,
	}
}

// Notify never blocks on the network; ntfy delivery runs in the background.
func (c *Center) Notify(level, message string) {
	n := Notification{
		ID:      uuid.NewString(),
		Level:   normalizeLevel(level),
		Message: message,
		At:      c.now().UTC(),
	}

	c.mu.Lock()
	c.recent = append(c.recent, n)
	if len(c.recent) > c.keep {
		c.recent = append([]Notification(nil), c.recent[len(c.recent)-c.keep:]...)
	}
	c.mu.Unlock()

	slog.Info("notification", "level", n.Level, "message", n.Message)

	if c.publisher != nil {
		if err := c.publisher.PublishJSON(c.feed, n); err != nil {
			slog.Debug("notify: relay failed", "error", err)
		}
	}
	if c.endpoint != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := Send(ctx, c.client, c.endpoint, fmt.Sprintf("[%s] %s", n.Level, n.Message)); err != nil {
				slog.Debug("notify: ntfy delivery failed", "error", err)
			}
		}()
	}
}

// Recent returns the retained notifications, oldest first.
func (c *Center) Recent() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.recent...)
}

func normalizeLevel(level string) string {
	switch strings.ToLower(level) {
	case LevelWarn, "warning":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

// Send posts a plain-text message to an ntfy-style endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
