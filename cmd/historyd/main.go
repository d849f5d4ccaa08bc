package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/proxy_history/internal/api"
	"github.com/dgnsrekt/proxy_history/internal/config"
	"github.com/dgnsrekt/proxy_history/internal/controller"
	"github.com/dgnsrekt/proxy_history/internal/netutil"
	"github.com/dgnsrekt/proxy_history/internal/pipeline"
	"github.com/dgnsrekt/proxy_history/internal/relay"
	"github.com/dgnsrekt/proxy_history/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("historyd config loaded",
		"bind_addr", cfg.BindAddr,
		"source", cfg.Source,
		"events_url", cfg.EventsURL,
		"backend_url", cfg.BackendURL,
		"max_in_memory", cfg.MaxInMemory,
		"batch_threshold", cfg.Tuning.BatchThreshold,
		"batch_idle", cfg.Tuning.BatchIdleDelay,
		"tuning_file", cfg.TuningFile,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	p, err := pipeline.New(cfg)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to bind", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	addr := ln.Addr().String()

	svc := controller.NewService(p.Engine, p.Layout, p.Notices, cfg.ExportDir)
	hub := websocket.NewHub(p.Broker, nil)
	h := api.NewServer(svc, api.Streams{
		SSE:       relay.SSEHandler(p.Broker),
		WebSocket: http.HandlerFunc(hub.ServeWS),
	})
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(ctx) }()

	go func() {
		slog.Info("historyd listening", "addr", addr, "docs", "http://"+addr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("historyd server failed", "error", err)
			stop()
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = <-runDone
	case runErr = <-runDone:
		slog.Error("history pipeline stopped", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("historyd shutdown failed", "error", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
