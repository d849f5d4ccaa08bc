package capture

import (
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"

	"github.com/dgnsrekt/proxy_history/internal/types"
)

type sink chan types.TrafficRecord

func (s sink) emit(rec types.TrafficRecord) { s <- rec }

func (s sink) next(t *testing.T) types.TrafficRecord {
	t.Helper()
	select {
	case rec := <-s:
		return rec
	case <-time.After(2 * time.Second):
		t.Fatalf("no record emitted")
		return types.TrafficRecord{}
	}
}

func mono(t time.Time) *cdp.MonotonicTime {
	m := cdp.MonotonicTime(t)
	return &m
}

func wall(t time.Time) *cdp.TimeSinceEpoch {
	w := cdp.TimeSinceEpoch(t)
	return &w
}

func newCapture(t *testing.T, maxBody int) (*HTTPCapture, sink) {
	t.Helper()
	out := make(sink, 8)
	h := NewHTTPCapture(out.emit, NewIDSequence(1000), maxBody)
	t.Cleanup(h.Close)
	return h, out
}

func TestExchangeBecomesRecord(t *testing.T) {
	h, out := newCapture(t, 0)
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	h.OnRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID: "r1",
		Request: &network.Request{
			URL:             "https://api.example.com/login",
			Method:          "POST",
			Headers:         network.Headers{"Content-Type": "application/json", "X-Num": 3},
			HasPostData:     true,
			PostDataEntries: []*network.PostDataEntry{{Bytes: "eyJ1Ijoi"}, {Bytes: "YSJ9"}},
		},
		Timestamp: mono(t0),
		WallTime:  wall(t0),
	})
	h.OnResponseReceived(&network.EventResponseReceived{
		RequestID: "r1",
		Response:  &network.Response{Status: 201, Headers: network.Headers{"Content-Type": "application/json"}},
	})
	h.OnLoadingFinished(&network.EventLoadingFinished{
		RequestID:         "r1",
		Timestamp:         mono(t0.Add(42 * time.Millisecond)),
		EncodedDataLength: 17,
	}, func() ([]byte, error) { return []byte(`{"ok":true}`), nil })

	rec := out.next(t)
	if got, want := rec.ID, int64(1001); got != want {
		t.Fatalf("ID = %d; want %d", got, want)
	}
	if rec.Host != "api.example.com" || rec.Protocol != types.ProtocolHTTPS || rec.StatusCode != 201 {
		t.Fatalf("record = %+v", rec)
	}
	if got, want := string(rec.RequestBody), `{"u":"a"}`; got != want {
		t.Fatalf("RequestBody = %q; want %q", got, want)
	}
	if got, want := rec.ResponseTimeMs, int64(42); got != want {
		t.Fatalf("ResponseTimeMs = %d; want %d", got, want)
	}
	if got, want := rec.ResponseSizeBytes, int64(17); got != want {
		t.Fatalf("ResponseSizeBytes = %d; want %d", got, want)
	}
	if got := rec.RequestHeaders.Get("x-num"); got != "" {
		t.Fatalf("non-string header kept: %q", got)
	}
	if !rec.Timestamp.Equal(t0) {
		t.Fatalf("Timestamp = %v; want %v", rec.Timestamp, t0)
	}
	if h.Pending() != 0 {
		t.Fatalf("Pending() = %d; want 0", h.Pending())
	}
}

func TestRedirectEmitsEachHop(t *testing.T) {
	h, out := newCapture(t, 0)
	t0 := time.Now()

	h.OnRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID: "r1",
		Request:   &network.Request{URL: "http://example.com/", Method: "GET"},
		Timestamp: mono(t0),
	})
	h.OnRequestWillBeSent(&network.EventRequestWillBeSent{
		RequestID:        "r1",
		Request:          &network.Request{URL: "https://example.com/", Method: "GET"},
		RedirectResponse: &network.Response{Status: 301},
		Timestamp:        mono(t0.Add(5 * time.Millisecond)),
	})
	first := out.next(t)
	if first.StatusCode != 301 || first.Protocol != types.ProtocolHTTP || first.ResponseTimeMs != 5 {
		t.Fatalf("redirect hop = %+v", first)
	}

	h.OnResponseReceived(&network.EventResponseReceived{RequestID: "r1", Response: &network.Response{Status: 200}})
	h.OnLoadingFinished(&network.EventLoadingFinished{RequestID: "r1", Timestamp: mono(t0.Add(9 * time.Millisecond))}, nil)
	second := out.next(t)
	if second.StatusCode != 200 || second.Protocol != types.ProtocolHTTPS || second.ID <= first.ID {
		t.Fatalf("final hop = %+v after %+v", second, first)
	}
}

func TestBodyTruncatedAndFailureTolerated(t *testing.T) {
	h, out := newCapture(t, 4)
	for _, id := range []network.RequestID{"a", "b"} {
		h.OnRequestWillBeSent(&network.EventRequestWillBeSent{RequestID: id, Request: &network.Request{URL: "https://x.test/" + string(id), Method: "GET"}})
		h.OnResponseReceived(&network.EventResponseReceived{RequestID: id, Response: &network.Response{Status: 200}})
	}

	h.OnLoadingFinished(&network.EventLoadingFinished{RequestID: "a"}, func() ([]byte, error) { return []byte("0123456789"), nil })
	rec := out.next(t)
	if got, want := string(rec.ResponseBody), "0123"; got != want {
		t.Fatalf("ResponseBody = %q; want %q", got, want)
	}
	if got, want := rec.ResponseSizeBytes, int64(10); got != want {
		t.Fatalf("ResponseSizeBytes = %d; want original %d", got, want)
	}

	h.OnLoadingFinished(&network.EventLoadingFinished{RequestID: "b"}, func() ([]byte, error) { return nil, errors.New("No resource") })
	if rec := out.next(t); rec.ResponseBody != nil {
		t.Fatalf("ResponseBody = %q; want nil when body fetch fails", rec.ResponseBody)
	}
}

func TestIgnoredAndFailedRequests(t *testing.T) {
	h, out := newCapture(t, 0)
	h.OnRequestWillBeSent(&network.EventRequestWillBeSent{RequestID: "d", Request: &network.Request{URL: "data:image/png;base64,AA", Method: "GET"}})
	h.OnRequestWillBeSent(&network.EventRequestWillBeSent{RequestID: "f", Request: &network.Request{URL: "https://x.test/", Method: "GET"}})
	if got, want := h.Pending(), 1; got != want {
		t.Fatalf("Pending() = %d; want %d", got, want)
	}
	h.OnLoadingFailed(&network.EventLoadingFailed{RequestID: "f", ErrorText: "net::ERR_ABORTED"})
	h.OnLoadingFinished(&network.EventLoadingFinished{RequestID: "f"}, nil)

	select {
	case rec := <-out:
		t.Fatalf("unexpected record %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}
	if got, want := h.Failed(), int64(1); got != want {
		t.Fatalf("Failed() = %d; want %d", got, want)
	}
}

func TestCleanupStale(t *testing.T) {
	h, _ := newCapture(t, 0)
	now := time.Now()
	h.now = func() time.Time { return now }
	h.OnRequestWillBeSent(&network.EventRequestWillBeSent{RequestID: "old", Request: &network.Request{URL: "https://x.test/", Method: "GET"}})

	h.now = func() time.Time { return now.Add(staleAfter + time.Second) }
	if got, want := h.cleanupStale(), 1; got != want {
		t.Fatalf("cleanupStale() = %d; want %d", got, want)
	}
}
