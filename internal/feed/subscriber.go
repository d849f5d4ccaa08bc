// Package feed subscribes to the live traffic event stream over WebSocket.
package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
)

// Handler receives the payload of each text frame. It must not block.
type Handler func(payload []byte)

// Option customizes a Subscriber.
type Option func(*Subscriber)

// WithBackoff sets the reconnect delay bounds.
func WithBackoff(minDelay, maxDelay time.Duration) Option {
	return func(s *Subscriber) {
		if minDelay > 0 {
			s.minBackoff = minDelay
		}
		if maxDelay >= s.minBackoff {
			s.maxBackoff = maxDelay
		}
	}
}

// WithHeader adds a request header to the handshake.
func WithHeader(name, value string) Option {
	return func(s *Subscriber) {
		s.headers = append(s.headers, [2]string{name, value})
	}
}

// Subscriber keeps one WebSocket connection to the event source open,
// reconnecting with exponential backoff until closed.
type Subscriber struct {
	url        string
	handle     Handler
	minBackoff time.Duration
	maxBackoff time.Duration
	headers    [][2]string

	mu      sync.Mutex
	conn    net.Conn
	closed  bool
	started bool
	done    chan struct{}
	stopped chan struct{}

	received   atomic.Int64
	reconnects atomic.Int64
}

func New(url string, handle Handler, opts ...Option) *Subscriber {
	s := &Subscriber{
		url:        url,
		handle:     handle,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the connection loop in the background. It returns an error if
// the subscriber was already started or closed.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("feed: subscriber closed")
	}
	if s.started {
		return errors.New("feed: subscriber already started")
	}
	s.started = true
	go s.run(ctx)
	return nil
}

// Close stops reconnecting, drops the live connection and waits for the
// loop to exit. It is safe to call more than once.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	var err error
	if s.conn != nil {
		err = s.conn.Close()
		s.conn = nil
	}
	started := s.started
	s.mu.Unlock()

	if started {
		<-s.stopped
	}
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("feed: close: %w", err)
	}
	return nil
}

// Received returns the number of frames handed to the handler.
func (s *Subscriber) Received() int64 { return s.received.Load() }

// Reconnects returns how many times the connection was re-established.
func (s *Subscriber) Reconnects() int64 { return s.reconnects.Load() }

func (s *Subscriber) run(ctx context.Context) {
	defer close(s.stopped)

	backoff := s.minBackoff
	for attempt := 0; ; attempt++ {
		connected, err := s.session(ctx, attempt > 0)
		if connected {
			backoff = s.minBackoff
		}
		if err != nil {
			slog.Debug("feed session ended", "url", s.url, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.maxBackoff)
	}
}

// session dials once and reads until the connection fails.
func (s *Subscriber) session(ctx context.Context, reconnect bool) (bool, error) {
	dialer := ws.Dialer{}
	if len(s.headers) > 0 {
		dialer.Header = ws.HandshakeHeaderFunc(func(w io.Writer) (int64, error) {
			var n int64
			for _, h := range s.headers {
				m, err := fmt.Fprintf(w, "%s: %s\r\n", h[0], h[1])
				n += int64(m)
				if err != nil {
					return n, err
				}
			}
			return n, nil
		})
	}

	conn, br, _, err := dialer.Dial(ctx, s.url)
	if err != nil {
		return false, fmt.Errorf("feed: dial: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return false, nil
	}
	s.conn = conn
	s.mu.Unlock()

	if reconnect {
		s.reconnects.Add(1)
	}
	slog.Info("feed connected", "url", s.url)

	stopWatch := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stopWatch()
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
		if br != nil {
			ws.PutReader(br)
		}
	}()

	var rw io.ReadWriter = conn
	if br != nil {
		rw = bufferedConn{Reader: br, Writer: conn}
	}

	for {
		data, op, err := wsutil.ReadServerData(rw)
		if err != nil {
			return true, fmt.Errorf("feed: read: %w", err)
		}
		if op != ws.OpText {
			continue
		}
		s.received.Add(1)
		s.handle(data)
	}
}

// bufferedConn reads frames the handshake already buffered before the socket.
type bufferedConn struct {
	*bufio.Reader
	io.Writer
}
