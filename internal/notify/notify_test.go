package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

const sampleMessage = "history fetch failed: connection refused"

func TestSendPostsMessage(t *testing.T) {
	ctx := context.Background()

	var receivedMethod string
	var receivedPath string
	var receivedBody string
	var receivedContentType string

	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			receivedMethod = r.Method
			receivedPath = r.URL.Path
			receivedContentType = r.Header.Get("Content-Type")
			rawBody, err := io.ReadAll(r.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			receivedBody = string(rawBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("ok")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	if err := Send(ctx, client, "http://example.com/notifications", sampleMessage); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got, want := receivedMethod, http.MethodPost; got != want {
		t.Fatalf("method = %q; want %q", got, want)
	}
	if got, want := receivedPath, "/notifications"; got != want {
		t.Fatalf("path = %q; want %q", got, want)
	}
	if got, want := receivedContentType, "text/plain"; got != want {
		t.Fatalf("content-type = %q; want %q", got, want)
	}
	if got, want := receivedBody, sampleMessage; got != want {
		t.Fatalf("body = %q; want %q", got, want)
	}
}

func TestSendReturnsErrorForServerError(t *testing.T) {
	client := &http.Client{
		Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusInternalServerError,
				Body:       io.NopCloser(strings.NewReader("server failure")),
				Header:     make(http.Header),
			}, nil
		}),
	}

	err := Send(context.Background(), client, "http://example.com/notifications", sampleMessage)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "ntfy notification failed") {
		t.Fatalf("error = %q; want to contain %q", err, "ntfy notification failed")
	}
}

func TestSendDisallowsMissingEndpoint(t *testing.T) {
	if err := Send(context.Background(), http.DefaultClient, "", sampleMessage); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

type capturePublisher struct {
	feed    string
	payload []byte
	err     error
}

func (p *capturePublisher) PublishJSON(feed string, v any) error {
	p.feed = feed
	p.payload, _ = json.Marshal(v)
	return p.err
}

func TestCenterRelaysAndRetains(t *testing.T) {
	pub := &capturePublisher{}
	c := NewCenter(pub, "notification", "", nil)
	c.now = func() time.Time { return time.Unix(100, 0) }

	c.Notify("WARNING", sampleMessage)

	recent := c.Recent()
	if got, want := len(recent), 1; got != want {
		t.Fatalf("len(Recent()) = %d; want %d", got, want)
	}
	if got, want := recent[0].Level, LevelWarn; got != want {
		t.Fatalf("Level = %q; want %q", got, want)
	}
	if recent[0].ID == "" {
		t.Fatalf("notification has no id")
	}
	if got, want := pub.feed, "notification"; got != want {
		t.Fatalf("feed = %q; want %q", got, want)
	}
	if !strings.Contains(string(pub.payload), sampleMessage) {
		t.Fatalf("payload = %s; want message", pub.payload)
	}
}

func TestCenterKeepsNewest(t *testing.T) {
	c := NewCenter(&capturePublisher{err: errors.New("closed")}, "notification", "", nil)
	c.keep = 3
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		c.Notify(LevelInfo, msg)
	}
	recent := c.Recent()
	if got, want := len(recent), 3; got != want {
		t.Fatalf("len(Recent()) = %d; want %d", got, want)
	}
	if recent[0].Message != "c" || recent[2].Message != "e" {
		t.Fatalf("Recent() = %+v; want c..e", recent)
	}
}

func TestCenterForwardsToEndpoint(t *testing.T) {
	got := make(chan string, 1)
	client := &http.Client{
		Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(r.Body)
			got <- string(body)
			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("")), Header: make(http.Header)}, nil
		}),
	}
	c := NewCenter(nil, "notification", "http://ntfy.test/topic", client)
	c.Notify(LevelError, "clear failed")

	select {
	case body := <-got:
		if want := "[error] clear failed"; body != want {
			t.Fatalf("body = %q; want %q", body, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ntfy endpoint was not called")
	}
}
