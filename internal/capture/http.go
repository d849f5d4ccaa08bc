// Package capture correlates Chrome DevTools network events into traffic
// records.
package capture

import (
	"encoding/base64"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"

	"github.com/dgnsrekt/proxy_history/internal/types"
)

const staleAfter = 5 * time.Minute

// BodyFunc fetches a finished response's body.
type BodyFunc func() ([]byte, error)

// IDSequence hands out monotonically increasing record ids.
type IDSequence struct {
	last atomic.Int64
}

// NewIDSequence starts after seed. Seeding from the wall clock keeps ids
// increasing across restarts.
func NewIDSequence(seed int64) *IDSequence {
	s := &IDSequence{}
	s.last.Store(seed)
	return s
}

func (s *IDSequence) Next() int64 { return s.last.Add(1) }

type pendingExchange struct {
	rec     types.TrafficRecord
	started time.Time
	seen    time.Time
}

// HTTPCapture correlates request, response and completion events by request
// id and emits one TrafficRecord per finished exchange.
type HTTPCapture struct {
	emit         func(types.TrafficRecord)
	ids          *IDSequence
	maxBodyBytes int

	pending   map[string]*pendingExchange
	pendingMu sync.Mutex

	emitted atomic.Int64
	failed  atomic.Int64

	now  func() time.Time
	done chan struct{}
	once sync.Once
}

func NewHTTPCapture(emit func(types.TrafficRecord), ids *IDSequence, maxBodyBytes int) *HTTPCapture {
	h := &HTTPCapture{
		emit:         emit,
		ids:          ids,
		maxBodyBytes: maxBodyBytes,
		pending:      make(map[string]*pendingExchange),
		now:          time.Now,
		done:         make(chan struct{}),
	}
	go h.cleanupLoop()
	return h
}

func (h *HTTPCapture) Close() {
	h.once.Do(func() { close(h.done) })
}

// Emitted returns how many records were produced.
func (h *HTTPCapture) Emitted() int64 { return h.emitted.Load() }

// Failed returns how many exchanges ended in a loading failure.
func (h *HTTPCapture) Failed() int64 { return h.failed.Load() }

func (h *HTTPCapture) OnRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	if ev.Request == nil || !capturable(ev.Request.URL) {
		return
	}
	key := string(ev.RequestID)

	// A redirect reuses the request id; the previous hop is complete.
	if ev.RedirectResponse != nil {
		h.pendingMu.Lock()
		prev, ok := h.pending[key]
		delete(h.pending, key)
		h.pendingMu.Unlock()
		if ok {
			applyResponse(&prev.rec, ev.RedirectResponse)
			prev.rec.ResponseTimeMs = elapsedMs(prev.started, monotonic(ev.Timestamp))
			h.finish(prev.rec)
		}
	}

	wall := h.now().UTC()
	if ev.WallTime != nil {
		wall = ev.WallTime.Time().UTC()
	}
	rec := types.TrafficRecord{
		URL:            ev.Request.URL,
		Method:         ev.Request.Method,
		RequestHeaders: headersFromCDP(ev.Request.Headers),
		RequestBody:    postData(ev.Request),
		Timestamp:      wall,
	}
	rec.Host, rec.Protocol = hostAndProtocol(ev.Request.URL)

	h.pendingMu.Lock()
	h.pending[key] = &pendingExchange{rec: rec, started: monotonic(ev.Timestamp), seen: h.now()}
	h.pendingMu.Unlock()
}

func (h *HTTPCapture) OnResponseReceived(ev *network.EventResponseReceived) {
	if ev.Response == nil {
		return
	}
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	if p, ok := h.pending[string(ev.RequestID)]; ok {
		applyResponse(&p.rec, ev.Response)
	}
}

// OnLoadingFinished completes the exchange. The body is fetched off the
// event goroutine; getBody may be nil.
func (h *HTTPCapture) OnLoadingFinished(ev *network.EventLoadingFinished, getBody BodyFunc) {
	h.pendingMu.Lock()
	p, ok := h.pending[string(ev.RequestID)]
	if ok {
		delete(h.pending, string(ev.RequestID))
	}
	h.pendingMu.Unlock()
	if !ok {
		return
	}

	rec := p.rec
	rec.ResponseTimeMs = elapsedMs(p.started, monotonic(ev.Timestamp))
	if ev.EncodedDataLength > 0 {
		rec.ResponseSizeBytes = int64(ev.EncodedDataLength)
	}

	go func() {
		if getBody != nil && rec.StatusCode != 0 {
			body, err := getBody()
			if err != nil {
				slog.Debug("response body unavailable", "request_id", ev.RequestID, "error", err)
			} else if len(body) > 0 {
				clip := clipBody(body, h.maxBodyBytes)
				if clip.Clipped() {
					slog.Warn("response body clipped", "url", rec.URL, "original_size", clip.OriginalSize, "kept_size", len(clip.Data), "sha256", clip.SHA256)
				}
				rec.ResponseBody = types.Body(clip.Data)
				if rec.ResponseSizeBytes == 0 {
					rec.ResponseSizeBytes = int64(clip.OriginalSize)
				}
			}
		}
		h.finish(rec)
	}()
}

func (h *HTTPCapture) OnLoadingFailed(ev *network.EventLoadingFailed) {
	h.pendingMu.Lock()
	_, ok := h.pending[string(ev.RequestID)]
	delete(h.pending, string(ev.RequestID))
	h.pendingMu.Unlock()
	if ok {
		h.failed.Add(1)
		slog.Debug("request failed", "request_id", ev.RequestID, "error", ev.ErrorText, "canceled", ev.Canceled)
	}
}

// Pending returns the number of exchanges awaiting completion.
func (h *HTTPCapture) Pending() int {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	return len(h.pending)
}

func (h *HTTPCapture) finish(rec types.TrafficRecord) {
	rec.ID = h.ids.Next()
	h.emitted.Add(1)
	h.emit(rec)
}

func (h *HTTPCapture) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.cleanupStale()
		case <-h.done:
			return
		}
	}
}

func (h *HTTPCapture) cleanupStale() int {
	threshold := h.now().Add(-staleAfter)

	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()

	removed := 0
	for id, p := range h.pending {
		if p.seen.Before(threshold) {
			delete(h.pending, id)
			removed++
		}
	}
	return removed
}

func applyResponse(rec *types.TrafficRecord, resp *network.Response) {
	rec.StatusCode = int(resp.Status)
	rec.ResponseHeaders = headersFromCDP(resp.Headers)
	if resp.EncodedDataLength > 0 {
		rec.ResponseSizeBytes = int64(resp.EncodedDataLength)
	}
}

// capturable keeps plain HTTP(S) exchanges; data:, blob: and extension
// schemes have no place in proxy history.
func capturable(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func hostAndProtocol(rawURL string) (string, types.Protocol) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", types.ProtocolHTTP
	}
	proto := types.ProtocolHTTP
	if strings.EqualFold(u.Scheme, "https") {
		proto = types.ProtocolHTTPS
	}
	return u.Host, proto
}

func postData(req *network.Request) types.Body {
	if !req.HasPostData || len(req.PostDataEntries) == 0 {
		return nil
	}
	var out []byte
	for _, entry := range req.PostDataEntries {
		if entry.Bytes == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			out = append(out, entry.Bytes...)
			continue
		}
		out = append(out, decoded...)
	}
	return types.Body(out)
}

func headersFromCDP(headers network.Headers) types.Headers {
	m := make(map[string]string, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			m[k] = s
		}
	}
	return types.HeadersFromMap(m)
}

func elapsedMs(start, end time.Time) int64 {
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start).Milliseconds()
}
