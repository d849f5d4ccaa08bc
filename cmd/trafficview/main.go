package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/proxy_history/internal/config"
	"github.com/dgnsrekt/proxy_history/internal/history"
	"github.com/dgnsrekt/proxy_history/internal/pipeline"
	"github.com/dgnsrekt/proxy_history/internal/tui"
)

const version = "0.1.0"

type flags struct {
	source      string
	eventsURL   string
	backendURL  string
	maxInMemory int
	tuningFile  string
	stateDir    string
	logFile     string
	logLevel    string
	launch      bool
	proxy       string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "trafficview",
		Short: "Terminal viewer for live proxy history",
		Long: `trafficview subscribes to the proxy event feed and shows captured traffic in a
scrollable, filterable table with a raw/pretty/hex detail pane.

Settings come from HISTORY_* environment variables (or .env); flags override them.

Examples:
  # Follow the default event feed
  trafficview

  # Capture from a Chromium tab over CDP instead
  trafficview --source cdp

  # Start Chromium behind the recording proxy and capture its tabs
  trafficview --source cdp --launch-browser --browser-proxy http://127.0.0.1:8080

  # Offline: page history from the backend only
  trafficview --source none --backend-url http://127.0.0.1:8080`,
		Version:      version,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &f, cfg); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&f.source, "source", "", "Event source: ws, cdp or none")
	cmd.Flags().StringVar(&f.eventsURL, "events-url", "", "WebSocket URL of the proxy event feed")
	cmd.Flags().StringVar(&f.backendURL, "backend-url", "", "Base URL for paging and clearing history")
	cmd.Flags().IntVar(&f.maxInMemory, "max-in-memory", 0, "Records kept in memory")
	cmd.Flags().StringVar(&f.tuningFile, "tuning-file", "", "YAML file with batching and window tunables")
	cmd.Flags().StringVar(&f.stateDir, "state-dir", "", "Directory for the persisted column layout")
	cmd.Flags().StringVar(&f.logFile, "log-file", "logs/trafficview.log", "Log file (the terminal is reserved for the UI)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().BoolVar(&f.launch, "launch-browser", false, "Start Chromium for the cdp source if none is listening")
	cmd.Flags().StringVar(&f.proxy, "browser-proxy", "", "Proxy server for a launched Chromium")
	return cmd
}

// applyFlags overlays flags the user set explicitly onto cfg.
func applyFlags(cmd *cobra.Command, f *flags, cfg *config.Config) error {
	set := cmd.Flags().Changed
	if set("source") {
		cfg.Source = strings.ToLower(f.source)
	}
	if set("events-url") {
		cfg.EventsURL = f.eventsURL
	}
	if set("backend-url") {
		cfg.BackendURL = f.backendURL
	}
	if set("max-in-memory") {
		cfg.MaxInMemory = f.maxInMemory
	}
	if set("tuning-file") {
		cfg.TuningFile = f.tuningFile
	}
	if set("state-dir") {
		cfg.StateDir = f.stateDir
	}
	if set("log-level") {
		cfg.LogLevel = strings.ToLower(f.logLevel)
	}
	if set("launch-browser") {
		cfg.LaunchBrowser = f.launch
	}
	if set("browser-proxy") {
		cfg.BrowserProxy = f.proxy
	}
	cfg.LogFile = f.logFile
	return cfg.Validate()
}

func run(ctx context.Context, cfg *config.Config) error {
	setupLogger(cfg.LogLevel, cfg.LogFile)

	changes := make(chan history.Change, 64)
	p, err := pipeline.New(cfg, pipeline.WithChangeListener(func(c history.Change) {
		select {
		case changes <- c:
		default:
			// Dropped; the next change triggers the same refresh.
		}
	}))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := tui.New(tui.Config{
		Engine:  p.Engine,
		Layout:  p.Layout,
		Changes: changes,
		Source:  cfg.Source,
	})
	prog := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	pipeErr := make(chan error, 1)
	go func() {
		err := p.Run(ctx)
		if err != nil {
			slog.Error("history pipeline stopped", "error", err)
			prog.Quit()
		}
		pipeErr <- err
	}()

	_, uiErr := prog.Run()
	cancel()
	if err := <-pipeErr; err != nil {
		return err
	}
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return uiErr
	}
	return nil
}

func setupLogger(level, filename string) {
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

	h := slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
}
