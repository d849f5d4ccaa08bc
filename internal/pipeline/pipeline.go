// Package pipeline assembles the history engine and its collaborators from
// configuration: event source, backend, notifications, quarantine, layout and
// the change relay.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/dgnsrekt/proxy_history/internal/backend"
	"github.com/dgnsrekt/proxy_history/internal/browser"
	"github.com/dgnsrekt/proxy_history/internal/capture"
	"github.com/dgnsrekt/proxy_history/internal/cdp"
	"github.com/dgnsrekt/proxy_history/internal/config"
	"github.com/dgnsrekt/proxy_history/internal/feed"
	"github.com/dgnsrekt/proxy_history/internal/history"
	"github.com/dgnsrekt/proxy_history/internal/kv"
	"github.com/dgnsrekt/proxy_history/internal/layout"
	"github.com/dgnsrekt/proxy_history/internal/notify"
	"github.com/dgnsrekt/proxy_history/internal/relay"
	"github.com/dgnsrekt/proxy_history/internal/storage"
)

// Pipeline owns every long-lived component behind the API and the viewer.
type Pipeline struct {
	cfg        *config.Config
	Engine     *history.Engine
	Broker     *relay.Broker
	Notices    *notify.Center
	Layout     *layout.Model
	quarantine *storage.JSONLWriter
	launcher   *browser.Launcher
	listeners  []func(history.Change)
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithChangeListener registers fn for every engine change. fn runs on the
// engine goroutine and must not block.
func WithChangeListener(fn func(history.Change)) Option {
	return func(p *Pipeline) { p.listeners = append(p.listeners, fn) }
}

// New builds the components. Nothing runs until Run is called.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{cfg: cfg, Broker: relay.NewBroker()}
	for _, opt := range opts {
		opt(p)
	}

	store, err := kv.NewFileStore(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("pipeline: state store: %w", err)
	}
	p.Layout, err = layout.Load(store, layout.DefaultKey)
	if err != nil {
		// Load still returns a usable default model.
		slog.Warn("layout reset to defaults", "error", err)
	}

	tuning := cfg.Tuning
	if cfg.TuningFile != "" {
		t, err := config.LoadTuning(cfg.TuningFile, tuning)
		switch {
		case err == nil:
			tuning = t
		case errors.Is(err, os.ErrNotExist):
			slog.Debug("tuning file not found", "path", cfg.TuningFile)
		default:
			slog.Warn("tuning file ignored", "path", cfg.TuningFile, "error", err)
		}
	}

	p.Notices = notify.NewCenter(p.Broker, relay.FeedNotification, cfg.NTFYURL, &http.Client{Timeout: 10 * time.Second})
	p.quarantine = storage.NewJSONLWriter(cfg.QuarantineDir, "malformed", cfg.BufferSize, cfg.MaxFileSizeMB)

	opt := history.Options{
		MaxInMemory: cfg.MaxInMemory,
		Batch: history.BatchConfig{
			Threshold: tuning.BatchThreshold,
			IdleDelay: tuning.BatchIdleDelay,
		},
		PageSize:             tuning.PageSize,
		PaginationDistancePx: tuning.PaginationDistancePx,
		MaxRenderRows:        tuning.MaxRenderRows,
		InboxLimit:           cfg.InboxLimit,
		MaxDecodedBytes:      cfg.MaxDecodedBytes,
		Notifier:             p.Notices,
		Quarantine:           p.quarantine,
		OnChange:             p.publish,
	}
	if cfg.BackendURL != "" {
		client := backend.New(cfg.BackendURL)
		opt.Fetcher = client
		opt.Clearer = client
	}
	p.Engine = history.NewEngine(opt)
	return p, nil
}

func (p *Pipeline) publish(c history.Change) {
	if err := p.Broker.PublishJSON(relay.FeedChange, c); err != nil {
		slog.Debug("relay change failed", "error", err)
	}
	for _, fn := range p.listeners {
		fn(c)
	}
}

// Run starts the engine, the configured event source and the tuning watcher,
// and blocks until ctx is done and the engine has stopped.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineErr := make(chan error, 1)
	go func() { engineErr <- p.Engine.Run(ctx) }()

	if err := p.startSource(ctx); err != nil {
		cancel()
		<-p.Engine.Done()
		p.shutdown()
		return err
	}

	if p.cfg.TuningFile != "" {
		go func() {
			apply := func(t config.Tuning) {
				applyCtx, applyCancel := context.WithTimeout(ctx, 5*time.Second)
				defer applyCancel()
				if err := p.Engine.ApplyTuning(applyCtx, historyTuning(t)); err != nil {
					slog.Warn("apply tuning failed", "error", err)
				}
			}
			if err := config.WatchTuning(ctx, p.cfg.TuningFile, p.cfg.Tuning, apply); err != nil {
				slog.Warn("tuning watcher stopped", "path", p.cfg.TuningFile, "error", err)
			}
		}()
	}

	<-ctx.Done()
	err := <-engineErr
	p.shutdown()
	return err
}

func (p *Pipeline) startSource(ctx context.Context) error {
	switch p.cfg.Source {
	case config.SourceWebSocket:
		sub := feed.New(p.cfg.EventsURL, p.Engine.Submit,
			feed.WithBackoff(500*time.Millisecond, time.Duration(p.cfg.ReconnectMaxMS)*time.Millisecond))
		p.Engine.Track(sub)
		if err := sub.Start(ctx); err != nil {
			return fmt.Errorf("pipeline: event feed: %w", err)
		}
		slog.Info("event feed started", "url", p.cfg.EventsURL)
	case config.SourceCDP:
		if p.cfg.LaunchBrowser {
			p.launcher = browser.NewLauncher(browser.Config{
				CDPAddress:  p.cfg.CDPAddress,
				CDPPort:     p.cfg.CDPPort,
				StartURL:    p.cfg.BrowserStartURL,
				ProfileDir:  p.cfg.BrowserProfile,
				ProxyServer: p.cfg.BrowserProxy,
			})
			if err := p.launcher.Launch(ctx); err != nil {
				return fmt.Errorf("pipeline: launch browser: %w", err)
			}
		}
		ids := capture.NewIDSequence(time.Now().UnixMicro())
		httpCapture := capture.NewHTTPCapture(p.Engine.SubmitRecord, ids, p.cfg.HTTPMaxBodyBytes)
		client := cdp.NewClient(cdp.Options{
			URL:            p.cfg.CDPURL(),
			TabURLFilter:   p.cfg.TabURLFilter,
			ReloadOnAttach: p.cfg.ReloadOnAttach,
		}, httpCapture)
		p.Engine.Track(client)
		if err := client.Connect(ctx); err != nil {
			return fmt.Errorf("pipeline: cdp source: %w", err)
		}
	case config.SourceNone:
		slog.Info("no live event source configured")
	}
	return nil
}

func (p *Pipeline) shutdown() {
	if p.launcher != nil {
		p.launcher.Stop()
	}
	if err := p.quarantine.Close(); err != nil {
		slog.Debug("quarantine close failed", "error", err)
	}
	slog.Info("quarantine closed", "written", p.quarantine.Written(), "dropped", p.quarantine.Dropped())
	p.Broker.Close()
}

func historyTuning(t config.Tuning) history.Tuning {
	return history.Tuning{
		BatchThreshold:       t.BatchThreshold,
		BatchIdleDelay:       t.BatchIdleDelay,
		MaxRenderRows:        t.MaxRenderRows,
		PaginationDistancePx: t.PaginationDistancePx,
		PageSize:             t.PageSize,
	}
}
