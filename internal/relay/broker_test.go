package relay

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPublishFansOutAndDropsForSlowSubscribers(t *testing.T) {
	b := NewBroker()
	id, ch := b.Subscribe()
	_, slow := b.Subscribe()

	for i := 0; i < subscriberBufSize+3; i++ {
		b.Publish(Event{Feed: FeedChange, Payload: "{}"})
		<-ch
	}
	if got, want := len(slow), subscriberBufSize; got != want {
		t.Fatalf("slow subscriber buffered %d; want %d", got, want)
	}
	if got, want := b.Dropped(), int64(3); got != want {
		t.Fatalf("Dropped() = %d; want %d", got, want)
	}

	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after Unsubscribe")
	}
	if got, want := b.ClientCount(), 1; got != want {
		t.Fatalf("ClientCount() = %d; want %d", got, want)
	}
}

func TestPublishJSONAssignsIDs(t *testing.T) {
	b := NewBroker()
	_, ch := b.Subscribe()
	if err := b.PublishJSON(FeedNotification, map[string]string{"level": "warn"}); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}
	evt := <-ch
	if evt.ID == "" || evt.Feed != FeedNotification || evt.Payload != `{"level":"warn"}` {
		t.Fatalf("event = %+v", evt)
	}
	if err := b.PublishJSON(FeedChange, make(chan int)); err == nil {
		t.Fatalf("PublishJSON(chan) error = nil; want encode error")
	}
}

func TestCloseReleasesSubscribers(t *testing.T) {
	b := NewBroker()
	_, ch := b.Subscribe()
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("subscriber channel open after Close")
	}
	_, late := b.Subscribe()
	if _, ok := <-late; ok {
		t.Fatalf("subscription after Close is open")
	}
	if got := b.ClientCount(); got != 0 {
		t.Fatalf("ClientCount() = %d; want 0", got)
	}
}

func TestSSEHandlerFiltersFeeds(t *testing.T) {
	b := NewBroker()
	srv := httptest.NewServer(SSEHandler(b))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?feeds=notification", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()
	if got, want := resp.Header.Get("Content-Type"), "text/event-stream"; got != want {
		t.Fatalf("Content-Type = %q; want %q", got, want)
	}

	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Publish(Event{ID: "1", Feed: FeedChange, Payload: `{"kind":"batch"}`})
	b.Publish(Event{ID: "2", Feed: FeedNotification, Payload: `{"message":"hi"}`})

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" && len(lines) > 0 {
			break
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	got := strings.Join(lines, "\n")
	want := "id: 2\nevent: notification\ndata: {\"message\":\"hi\"}"
	if got != want {
		t.Fatalf("stream = %q; want %q", got, want)
	}
}

func TestParseFeeds(t *testing.T) {
	if parseFeeds("") != nil || parseFeeds(" , ") != nil {
		t.Fatalf("parseFeeds(empty) != nil")
	}
	got := parseFeeds("change, notification")
	if !got[FeedChange] || !got[FeedNotification] || len(got) != 2 {
		t.Fatalf("parseFeeds() = %v", got)
	}
}
