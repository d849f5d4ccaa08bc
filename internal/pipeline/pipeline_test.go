package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/proxy_history/internal/config"
	"github.com/dgnsrekt/proxy_history/internal/history"
	"github.com/dgnsrekt/proxy_history/internal/relay"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Source:        config.SourceNone,
		MaxInMemory:   10,
		InboxLimit:    100,
		StateDir:      filepath.Join(dir, "state"),
		QuarantineDir: filepath.Join(dir, "quarantine"),
		BufferSize:    16,
		MaxFileSizeMB: 1,
		Tuning: config.Tuning{
			BatchThreshold: 1,
			BatchIdleDelay: time.Millisecond,
			PageSize:       10,
		},
	}
}

func TestRunRelaysChangesAndQuarantinesMalformed(t *testing.T) {
	cfg := testConfig(t)
	heard := make(chan history.Change, 8)
	p, err := New(cfg, WithChangeListener(func(c history.Change) {
		select {
		case heard <- c:
		default:
		}
	}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	subID, events := p.Broker.Subscribe()
	defer p.Broker.Unsubscribe(subID)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Engine.Submit([]byte(`{"id":1,"url":"https://a.test/x","method":"GET","status_code":200}`))
	p.Engine.Submit([]byte(`{"id":"nope"}`))

	select {
	case evt := <-events:
		if evt.Feed != relay.FeedChange {
			t.Fatalf("Feed = %q; want %q", evt.Feed, relay.FeedChange)
		}
		var c history.Change
		if err := json.Unmarshal([]byte(evt.Payload), &c); err != nil {
			t.Fatalf("decode change: %v", err)
		}
		if c.Kind != history.ChangeBatch || c.Total != 1 {
			t.Fatalf("change = %+v; want one-record batch", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no change relayed")
	}
	select {
	case <-heard:
	case <-time.After(time.Second):
		t.Fatalf("change listener not called")
	}

	counts, err := p.Engine.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if got, want := counts.Total, 1; got != want {
		t.Fatalf("Total = %d; want %d", got, want)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}

	files, _ := filepath.Glob(filepath.Join(cfg.QuarantineDir, "*", "malformed.jsonl"))
	if len(files) != 1 {
		t.Fatalf("quarantine files = %v; want one", files)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("read quarantine: %v", err)
	}
	if !strings.Contains(string(data), "nope") {
		t.Fatalf("quarantine = %s; want the rejected payload", data)
	}
}

func TestNewLoadsTuningFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.TuningFile = filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(cfg.TuningFile, []byte("page_size: 25\n"), 0o644); err != nil {
		t.Fatalf("write tuning: %v", err)
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Layout == nil || p.Engine == nil || p.Notices == nil {
		t.Fatalf("New() left components nil: %+v", p)
	}
	p.shutdown()
}

func TestRunFailsWhenSourceCannotStart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source = config.SourceCDP
	cfg.CDPAddress = "127.0.0.1"
	cfg.CDPPort = 1

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Run(ctx); err == nil || !strings.Contains(err.Error(), "cdp source") {
		t.Fatalf("Run() error = %v; want cdp source failure", err)
	}
}
