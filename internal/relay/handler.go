package relay

import (
	"fmt"
	"net/http"
	"strings"
)

// SSEHandler streams events as server-sent events. Clients may restrict
// feeds with ?feeds=change,notification.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		feeds := parseFeeds(r.URL.Query().Get("feeds"))

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if feeds != nil && !feeds[evt.Feed] {
					continue
				}
				fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Feed, evt.Payload)
				flusher.Flush()
			}
		}
	}
}

// parseFeeds returns nil when every feed is wanted.
func parseFeeds(q string) map[string]bool {
	if q == "" {
		return nil
	}
	feeds := make(map[string]bool)
	for _, f := range strings.Split(q, ",") {
		if f = strings.TrimSpace(f); f != "" {
			feeds[f] = true
		}
	}
	if len(feeds) == 0 {
		return nil
	}
	return feeds
}
