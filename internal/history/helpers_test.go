package history

import (
	"fmt"
	"sync"
	"time"

	"github.com/dgnsrekt/proxy_history/internal/types"
)

func testRecord(id int64, status int) types.TrafficRecord {
	return types.TrafficRecord{
		ID:                id,
		URL:               fmt.Sprintf("https://api.example.com/items/%d", id),
		Host:              "api.example.com",
		Method:            "GET",
		Protocol:          types.ProtocolHTTPS,
		StatusCode:        status,
		ResponseSizeBytes: id * 10,
		ResponseTimeMs:    id % 97,
		Timestamp:         time.Unix(1700000000+id, 0).UTC(),
	}
}

func testRecords(from, to int64) []types.TrafficRecord {
	out := make([]types.TrafficRecord, 0, to-from+1)
	for id := from; id <= to; id++ {
		out = append(out, testRecord(id, 200))
	}
	return out
}

func ids(records []types.TrafficRecord) []int64 {
	out := make([]int64, len(records))
	for i, rec := range records {
		out[i] = rec.ID
	}
	return out
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock records timers and fires them only when told to.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

// FireAll runs every timer that is neither stopped nor fired, including ones
// that were stopped too late to matter when stale is true.
func (c *fakeClock) FireAll(stale bool) int {
	c.mu.Lock()
	timers := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()
	n := 0
	for _, t := range timers {
		if t.fired || (t.stopped && !stale) {
			continue
		}
		t.fired = true
		t.fn()
		n++
	}
	return n
}

func (c *fakeClock) Armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
