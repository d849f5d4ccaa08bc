// Package browser starts a local Chromium with remote debugging enabled so the
// CDP event source has something to attach to.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

// ErrNoBrowser is returned when no Chromium-family binary is installed.
var ErrNoBrowser = errors.New("browser: no chromium, chromium-browser or google-chrome binary found")

// Config holds browser launch configuration.
type Config struct {
	CDPAddress string
	CDPPort    int
	StartURL   string
	ProfileDir string
	// ProxyServer routes page traffic through the recording proxy when set.
	ProxyServer string
	ReadyWithin time.Duration
}

// Launcher owns a browser process it started. It never stops a browser that
// was already listening on the CDP port.
type Launcher struct {
	cfg     Config
	lookup  func(string) (string, error)
	cmd     *exec.Cmd
	exited  chan struct{}
	started bool
}

// NewLauncher returns a Launcher; nothing is started until Launch.
func NewLauncher(cfg Config) *Launcher {
	if cfg.ReadyWithin <= 0 {
		cfg.ReadyWithin = 15 * time.Second
	}
	if cfg.StartURL == "" {
		cfg.StartURL = "about:blank"
	}
	return &Launcher{cfg: cfg, lookup: exec.LookPath}
}

func (l *Launcher) detect() (string, error) {
	for _, name := range []string{"chromium", "chromium-browser", "google-chrome"} {
		if path, err := l.lookup(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		const mac = "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(mac); err == nil {
			return mac, nil
		}
	}
	return "", ErrNoBrowser
}

func (l *Launcher) endpoint() string {
	return net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
}

func (l *Launcher) listening() bool {
	conn, err := net.DialTimeout("tcp", l.endpoint(), time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// args builds the command line. Traffic capture needs the network stack
// unthrottled in background tabs, so those switches are always on.
func (l *Launcher) args() []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(l.cfg.CDPPort),
		"--remote-debugging-address=" + l.cfg.CDPAddress,
		"--user-data-dir=" + l.cfg.ProfileDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		"--disable-background-networking",
		"--disable-background-timer-throttling",
		"--disable-renderer-backgrounding",
	}
	if l.cfg.ProxyServer != "" {
		args = append(args, "--proxy-server="+l.cfg.ProxyServer, "--ignore-certificate-errors")
	}
	return append(args, l.cfg.StartURL)
}

// Launch starts the browser unless the CDP port already answers, then waits
// for /json/version to respond.
func (l *Launcher) Launch(ctx context.Context) error {
	if l.listening() {
		slog.Info("browser already listening, skipping launch", "endpoint", l.endpoint())
		return nil
	}

	path, err := l.detect()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("browser: profile dir: %w", err)
	}

	l.cmd = exec.Command(path, l.args()...)
	if err := l.cmd.Start(); err != nil {
		return fmt.Errorf("browser: start %s: %w", path, err)
	}
	l.started = true
	l.exited = make(chan struct{})
	go func() {
		_ = l.cmd.Wait()
		close(l.exited)
	}()
	slog.Info("browser started", "path", path, "pid", l.cmd.Process.Pid, "proxy", l.cfg.ProxyServer)

	if err := l.waitReady(ctx); err != nil {
		l.Stop()
		return err
	}
	slog.Info("cdp endpoint ready", "endpoint", l.endpoint())
	return nil
}

func (l *Launcher) waitReady(ctx context.Context) error {
	url := "http://" + l.endpoint() + "/json/version"
	deadline := time.NewTimer(l.cfg.ReadyWithin)
	defer deadline.Stop()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.exited:
			return fmt.Errorf("browser: exited before %s answered", url)
		case <-deadline.C:
			return fmt.Errorf("browser: %s not ready within %s", url, l.cfg.ReadyWithin)
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Started reports whether this Launcher spawned the running browser.
func (l *Launcher) Started() bool { return l.started }

// Stop terminates a browser this Launcher started, escalating to SIGKILL
// after five seconds. It is a no-op otherwise.
func (l *Launcher) Stop() {
	if !l.started || l.cmd == nil || l.cmd.Process == nil {
		return
	}
	slog.Info("stopping browser", "pid", l.cmd.Process.Pid)
	_ = l.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-l.exited:
	case <-time.After(5 * time.Second):
		slog.Warn("browser ignored SIGTERM, killing", "pid", l.cmd.Process.Pid)
		_ = l.cmd.Process.Kill()
		<-l.exited
	}
	l.started = false
}
