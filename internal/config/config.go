package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Event sources the daemon can ingest from.
const (
	SourceWebSocket = "ws"
	SourceCDP       = "cdp"
	SourceNone      = "none"
)

// Config holds all configuration for the history daemon and viewer.
type Config struct {
	// HTTP API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Logging
	LogLevel string
	LogFile  string

	// Collaborators
	Source     string
	EventsURL  string
	BackendURL string

	// CDP event source
	CDPAddress       string
	CDPPort          int
	TabURLFilter     string
	ReloadOnAttach   bool
	HTTPMaxBodyBytes int
	LaunchBrowser    bool
	BrowserProfile   string
	BrowserStartURL  string
	BrowserProxy     string

	// Engine
	MaxInMemory int
	Tuning      Tuning
	InboxLimit  int
	// MaxDecodedBytes bounds decoded bodies in the pretty detail view.
	MaxDecodedBytes int

	// Files
	StateDir       string
	QuarantineDir  string
	ExportDir      string
	MaxFileSizeMB  int
	BufferSize     int
	TuningFile     string
	NTFYURL        string
	ReconnectMaxMS int
}

// Tuning holds the engine values that may change while running.
type Tuning struct {
	BatchThreshold       int
	BatchIdleDelay       time.Duration
	MaxRenderRows        int
	PaginationDistancePx int
	PageSize             int
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:         getEnvOrDefault("HISTORY_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   getEnvListOrDefault("HISTORY_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192"}),
		PortAutoFallback: getEnvBoolOrDefault("HISTORY_PORT_AUTO_FALLBACK", true),
		LogLevel:         strings.ToLower(getEnvOrDefault("HISTORY_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("HISTORY_LOG_FILE", "logs/historyd.log"),
		Source:           strings.ToLower(getEnvOrDefault("HISTORY_SOURCE", SourceWebSocket)),
		EventsURL:        getEnvOrDefault("HISTORY_EVENTS_URL", "ws://127.0.0.1:8080/api/v1/proxy/events"),
		BackendURL:       getEnvOrDefault("HISTORY_BACKEND_URL", "http://127.0.0.1:8080"),
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		TabURLFilter:     getEnvOrDefault("HISTORY_TAB_URL_FILTER", ""),
		ReloadOnAttach:   getEnvBoolOrDefault("HISTORY_RELOAD_ON_ATTACH", false),
		HTTPMaxBodyBytes: getEnvIntOrDefault("HISTORY_HTTP_MAX_BODY_BYTES", 5*1024*1024),
		LaunchBrowser:    getEnvBoolOrDefault("HISTORY_LAUNCH_BROWSER", false),
		BrowserProfile:   getEnvOrDefault("CHROMIUM_PROFILE_DIR", "./browser-profile"),
		BrowserStartURL:  getEnvOrDefault("CHROMIUM_START_URL", "about:blank"),
		BrowserProxy:     getEnvOrDefault("CHROMIUM_PROXY_SERVER", ""),
		MaxInMemory:      getEnvIntOrDefault("HISTORY_MAX_IN_MEMORY", 500),
		InboxLimit:       getEnvIntOrDefault("HISTORY_INBOX_LIMIT", 10000),
		MaxDecodedBytes:  getEnvIntOrDefault("HISTORY_MAX_DECODED_BYTES", 8<<20),
		Tuning: Tuning{
			BatchThreshold:       getEnvIntOrDefault("HISTORY_BATCH_THRESHOLD", 5),
			BatchIdleDelay:       getEnvDurationMSOrDefault("HISTORY_BATCH_IDLE_MS", 50*time.Millisecond),
			MaxRenderRows:        getEnvIntOrDefault("HISTORY_MAX_RENDER_ROWS", 200),
			PaginationDistancePx: getEnvIntOrDefault("HISTORY_PAGINATION_DISTANCE_PX", 200),
			PageSize:             getEnvIntOrDefault("HISTORY_PAGE_SIZE", 100),
		},
		StateDir:       getEnvOrDefault("HISTORY_STATE_DIR", "./state"),
		QuarantineDir:  getEnvOrDefault("HISTORY_QUARANTINE_DIR", "./quarantine"),
		ExportDir:      getEnvOrDefault("HISTORY_EXPORT_DIR", "./exports"),
		MaxFileSizeMB:  getEnvIntOrDefault("HISTORY_MAX_FILE_SIZE_MB", 50),
		BufferSize:     getEnvIntOrDefault("HISTORY_BUFFER_SIZE", 1000),
		TuningFile:     getEnvOrDefault("HISTORY_TUNING_FILE", ""),
		NTFYURL:        getEnvOrDefault("HISTORY_NTFY_URL", ""),
		ReconnectMaxMS: getEnvIntOrDefault("HISTORY_RECONNECT_MAX_MS", 10000),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceWebSocket, SourceCDP, SourceNone:
	default:
		return fmt.Errorf("config: HISTORY_SOURCE=%q: want ws, cdp or none", c.Source)
	}
	if c.MaxInMemory < 1 {
		return fmt.Errorf("config: HISTORY_MAX_IN_MEMORY must be positive, got %d", c.MaxInMemory)
	}
	if c.Tuning.PageSize < 1 {
		return fmt.Errorf("config: HISTORY_PAGE_SIZE must be positive, got %d", c.Tuning.PageSize)
	}
	if c.Tuning.BatchThreshold < 1 {
		return fmt.Errorf("config: HISTORY_BATCH_THRESHOLD must be positive, got %d", c.Tuning.BatchThreshold)
	}
	return nil
}

// CDPURL returns the CDP HTTP endpoint used by the chromedp remote allocator.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationMSOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
