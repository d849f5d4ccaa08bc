package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/proxy_history/internal/export"
	"github.com/dgnsrekt/proxy_history/internal/types"
)

type fetcherFunc func(ctx context.Context, req types.FetchRequest) ([]types.TrafficRecord, error)

func (f fetcherFunc) Fetch(ctx context.Context, req types.FetchRequest) ([]types.TrafficRecord, error) {
	return f(ctx, req)
}

type clearerFunc func(ctx context.Context) error

func (f clearerFunc) Clear(ctx context.Context) error { return f(ctx) }

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, level+": "+message)
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type memoryQuarantine struct {
	mu      sync.Mutex
	entries []any
}

func (q *memoryQuarantine) Write(record any) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, record)
	return nil
}

type closeCounter struct{ closed atomic.Int32 }

func (c *closeCounter) Close() error {
	c.closed.Add(1)
	return nil
}

func payload(id int64, status int) []byte {
	return []byte(fmt.Sprintf(`{"id":%d,"url":"https://api.example.com/r/%d","method":"GET","status_code":%d,"response_time":%d}`, id, id, status, id))
}

func startEngine(t *testing.T, opts Options, before func(e *Engine)) (*Engine, <-chan Change) {
	t.Helper()
	changes := make(chan Change, 64)
	opts.OnChange = func(c Change) { changes <- c }
	if opts.Clock == nil {
		opts.Clock = &fakeClock{}
	}
	e := NewEngine(opts)
	if before != nil {
		before(e)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	})
	return e, changes
}

func waitChange(t *testing.T, changes <-chan Change, kind ChangeKind) Change {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c := <-changes:
			if c.Kind == kind {
				return c
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s change", kind)
		}
	}
}

func TestEngineCoalescesDeliveryIntoOneFlush(t *testing.T) {
	clock := &fakeClock{}
	e, changes := startEngine(t, Options{
		Clock: clock,
		Batch: BatchConfig{Threshold: 5, IdleDelay: 50 * time.Millisecond},
	}, func(e *Engine) {
		for id := int64(1); id <= 6; id++ {
			e.Submit(payload(id, 200))
		}
	})

	c := waitChange(t, changes, ChangeBatch)
	if got, want := c.Admitted, 6; got != want {
		t.Fatalf("Admitted = %d; want %d", got, want)
	}
	clock.FireAll(true)

	ctx := context.Background()
	var flushes int
	if err := e.do(ctx, func() { flushes = e.batcher.Flushes() }); err != nil {
		t.Fatalf("do() error = %v", err)
	}
	if got, want := flushes, 1; got != want {
		t.Fatalf("flushes = %d; want %d", got, want)
	}
	page, err := e.View(ctx, 0, 10)
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if got, want := ids(page.Records), []int64{6, 5, 4, 3, 2, 1}; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("View() ids = %v; want %v", got, want)
	}
}

func TestEngineDropsMalformedWithoutBlockingBatch(t *testing.T) {
	q := &memoryQuarantine{}
	e, changes := startEngine(t, Options{
		Batch:      BatchConfig{Threshold: 2},
		Quarantine: q,
	}, func(e *Engine) {
		e.Submit(payload(1, 200))
		e.Submit([]byte(`{"id":`))
		e.Submit(payload(1, 500))
		e.Submit(payload(2, 404))
	})

	waitChange(t, changes, ChangeBatch)
	st, err := e.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if st.Total != 2 || st.DroppedInvalid != 1 || st.DroppedDup != 1 {
		t.Fatalf("Stats() = total %d invalid %d dup %d; want 2/1/1", st.Total, st.DroppedInvalid, st.DroppedDup)
	}
	if got, want := len(q.entries), 1; got != want {
		t.Fatalf("quarantined = %d; want %d", got, want)
	}
}

func TestEnginePaginationStopsAfterEmptyPage(t *testing.T) {
	var calls atomic.Int32
	fetcher := fetcherFunc(func(ctx context.Context, req types.FetchRequest) ([]types.TrafficRecord, error) {
		calls.Add(1)
		return nil, nil
	})
	e, changes := startEngine(t, Options{Fetcher: fetcher, PageSize: 100}, nil)
	ctx := context.Background()
	vp := ViewportState{ContainerHeightPx: 400, ItemHeightPx: 40}

	res, err := e.Scroll(ctx, vp)
	if err != nil || !res.FetchStarted {
		t.Fatalf("Scroll() = %+v, %v; want a fetch", res, err)
	}
	c := waitChange(t, changes, ChangePage)
	if c.HasMore {
		t.Fatalf("HasMore = true; want false after an empty page")
	}
	res, _ = e.Scroll(ctx, vp)
	if res.FetchStarted {
		t.Fatalf("second Scroll() started a fetch; want none")
	}
	if got, want := calls.Load(), int32(1); got != want {
		t.Fatalf("fetch calls = %d; want %d", got, want)
	}
}

func TestEnginePaginationFailureNotifies(t *testing.T) {
	n := &recordingNotifier{}
	fetcher := fetcherFunc(func(ctx context.Context, req types.FetchRequest) ([]types.TrafficRecord, error) {
		return nil, errors.New("backend down")
	})
	e, _ := startEngine(t, Options{Fetcher: fetcher, Notifier: n}, nil)
	ctx := context.Background()

	if _, err := e.Scroll(ctx, ViewportState{ContainerHeightPx: 400, ItemHeightPx: 40}); err != nil {
		t.Fatalf("Scroll() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(n.Messages()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	msgs := n.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "backend down") {
		t.Fatalf("notifications = %v; want one mentioning the failure", msgs)
	}
	res, _ := e.Scroll(ctx, ViewportState{ContainerHeightPx: 400, ItemHeightPx: 40})
	if !res.HasMore || !res.FetchStarted {
		t.Fatalf("Scroll() after failure = %+v; want hasMore kept and a new fetch", res)
	}
}

func TestEngineClear(t *testing.T) {
	n := &recordingNotifier{}
	fail := atomic.Bool{}
	fail.Store(true)
	clearer := clearerFunc(func(ctx context.Context) error {
		if fail.Load() {
			return errors.New("timeout")
		}
		return nil
	})
	e, changes := startEngine(t, Options{Clearer: clearer, Notifier: n, Batch: BatchConfig{Threshold: 1}}, func(e *Engine) {
		e.Submit(payload(1, 200))
		e.Submit(payload(2, 200))
	})
	waitChange(t, changes, ChangeBatch)
	ctx := context.Background()
	if _, err := e.Select(ctx, 2); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	_, err := e.Clear(ctx)
	var ce *CodedError
	if !errors.As(err, &ce) || ce.Code != CodeTransientIO {
		t.Fatalf("Clear() error = %v; want TRANSIENT_IO", err)
	}
	if c, _ := e.Count(ctx); c.Total != 2 {
		t.Fatalf("Count() after failed clear = %+v; want 2 records kept", c)
	}
	if len(n.Messages()) != 1 {
		t.Fatalf("notifications = %v; want one", n.Messages())
	}

	fail.Store(false)
	cleared, err := e.Clear(ctx)
	if err != nil || cleared != 2 {
		t.Fatalf("Clear() = %d, %v; want 2, nil", cleared, err)
	}
	st, _ := e.Stats(ctx)
	if st.Total != 0 || len(st.ByMethod) != 0 {
		t.Fatalf("Stats() after clear = %+v; want reset", st)
	}
	sel, _ := e.Selection(ctx)
	if sel.Selected {
		t.Fatalf("Selection() after clear = %+v; want none", sel)
	}
}

func TestEngineSelectionClearedWhenFilteredOut(t *testing.T) {
	e, changes := startEngine(t, Options{Batch: BatchConfig{Threshold: 2}}, func(e *Engine) {
		e.Submit(payload(1, 200))
		e.Submit(payload(2, 404))
	})
	waitChange(t, changes, ChangeBatch)
	ctx := context.Background()

	sel, err := e.Select(ctx, 1)
	if err != nil || !sel.Selected || sel.ID != 1 {
		t.Fatalf("Select(1) = %+v, %v; want selected", sel, err)
	}
	counts, err := e.SetFilter(ctx, Predicate{StatusClass: 4})
	if err != nil || counts.Matched != 1 || counts.Total != 2 {
		t.Fatalf("SetFilter() = %+v, %v; want 1 of 2", counts, err)
	}
	sel, _ = e.Selection(ctx)
	if sel.Selected {
		t.Fatalf("Selection() = %+v; want cleared once filtered out", sel)
	}

	sel, _ = e.Select(ctx, 1)
	if sel.Selected {
		t.Fatalf("Select(filtered-out id) = %+v; want cleared", sel)
	}
	sel, _ = e.Select(ctx, 2)
	if !sel.Selected {
		t.Fatalf("Select(2) = %+v; want selected", sel)
	}
	text, err := e.DetailTab(ctx, TabRaw)
	if err != nil || !strings.Contains(text, "HTTP/1.1 404 Not Found") {
		t.Fatalf("DetailTab(raw) = %q, %v", text, err)
	}
}

func TestEngineExportUsesFilteredView(t *testing.T) {
	e, changes := startEngine(t, Options{Batch: BatchConfig{Threshold: 3}}, func(e *Engine) {
		e.Submit(payload(1, 200))
		e.Submit(payload(2, 404))
		e.Submit(payload(3, 403))
	})
	waitChange(t, changes, ChangeBatch)
	ctx := context.Background()
	if _, err := e.SetFilter(ctx, Predicate{StatusClass: 4}); err != nil {
		t.Fatalf("SetFilter() error = %v", err)
	}

	var buf bytes.Buffer
	if err := e.Export(ctx, &buf, export.FormatText, ScopeFiltered); err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "/r/3") || !strings.Contains(out, "/r/2") || strings.Contains(out, "/r/1\n") {
		t.Fatalf("Export(filtered) = %q; want records 3 and 2 only", out)
	}
	if !strings.Contains(out, "# filter status=4xx") {
		t.Fatalf("Export(filtered) missing filter line: %q", out)
	}

	if err := e.Export(ctx, &buf, export.FormatHAR, "everything"); err == nil {
		t.Fatalf("Export(bad scope) error = nil; want VALIDATION")
	}
}

func TestEngineTeardownReleasesSubscriptions(t *testing.T) {
	sub := &closeCounter{}
	e := NewEngine(Options{Clock: &fakeClock{}})
	e.Track(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()
	<-done

	if got, want := sub.closed.Load(), int32(1); got != want {
		t.Fatalf("subscription closed %d times; want %d", got, want)
	}
	if _, err := e.Count(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Count() after teardown error = %v; want ErrClosed", err)
	}

	late := &closeCounter{}
	e.Track(late)
	if got := late.closed.Load(); got != 1 {
		t.Fatalf("late subscription closed %d times; want 1", got)
	}
}

func TestEngineSelectionClearedOnEviction(t *testing.T) {
	e, changes := startEngine(t, Options{MaxInMemory: 3, Batch: BatchConfig{Threshold: 3}}, func(e *Engine) {
		for id := int64(1); id <= 3; id++ {
			e.SubmitRecord(testRecord(id, 200))
		}
	})
	waitChange(t, changes, ChangeBatch)
	ctx := context.Background()

	if sel, err := e.Select(ctx, 1); err != nil || !sel.Selected {
		t.Fatalf("Select(1) = %+v, %v; want selected", sel, err)
	}
	for id := int64(4); id <= 6; id++ {
		e.SubmitRecord(testRecord(id, 200))
	}

	c := waitChange(t, changes, ChangeBatch)
	if got, want := c.Evicted, 3; got != want {
		t.Fatalf("Evicted = %d; want %d", got, want)
	}
	if !c.SelectionCleared {
		t.Fatalf("Change = %+v; want SelectionCleared after the selected record was evicted", c)
	}
	sel, err := e.Selection(ctx)
	if err != nil {
		t.Fatalf("Selection() error = %v", err)
	}
	if sel.Selected {
		t.Fatalf("Selection() = %+v; want none", sel)
	}
	if _, err := e.DetailTab(ctx, TabRaw); err == nil {
		t.Fatalf("DetailTab() after eviction error = nil; want NOT_FOUND")
	}
}

func TestEnginePaginationAppendsFullPage(t *testing.T) {
	var gotReq types.FetchRequest
	fetcher := fetcherFunc(func(ctx context.Context, req types.FetchRequest) ([]types.TrafficRecord, error) {
		gotReq = req
		return []types.TrafficRecord{testRecord(8, 200), testRecord(7, 404), testRecord(6, 500)}, nil
	})
	e, changes := startEngine(t, Options{Fetcher: fetcher, PageSize: 3, Batch: BatchConfig{Threshold: 2}}, func(e *Engine) {
		e.SubmitRecord(testRecord(9, 200))
		e.SubmitRecord(testRecord(10, 201))
	})
	waitChange(t, changes, ChangeBatch)
	ctx := context.Background()

	res, err := e.Scroll(ctx, ViewportState{ContainerHeightPx: 400, ItemHeightPx: 40})
	if err != nil || !res.FetchStarted {
		t.Fatalf("Scroll() = %+v, %v; want a fetch", res, err)
	}
	c := waitChange(t, changes, ChangePage)
	if got, want := c.Admitted, 3; got != want {
		t.Fatalf("Admitted = %d; want %d", got, want)
	}
	if got, want := c.Total, 5; got != want {
		t.Fatalf("Total = %d; want %d", got, want)
	}
	if !c.HasMore {
		t.Fatalf("HasMore = false; want true after a full page")
	}
	if gotReq.Limit != 3 || gotReq.Offset != 2 {
		t.Fatalf("fetch request = %+v; want limit 3 offset 2", gotReq)
	}

	page, err := e.View(ctx, 0, 10)
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	if got, want := ids(page.Records), []int64{10, 9, 8, 7, 6}; fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("View() ids = %v; want %v", got, want)
	}
	st, err := e.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if want := ComputeStats(page.Records); !sameStoreStats(st, want) {
		t.Fatalf("Stats() = %+v; want full recompute %+v", st, want)
	}
	if got, want := st.Capacity, DefaultMaxInMemory; got != want {
		t.Fatalf("Capacity = %d; want %d", got, want)
	}
}

func TestEngineDetailTabBoundsDecodedBody(t *testing.T) {
	rec := testRecord(1, 200)
	rec.ResponseHeaders = types.Headers{{Name: "Content-Encoding", Value: "gzip"}}
	rec.ResponseBody = gzipZeros(t, 2<<20)

	e, changes := startEngine(t, Options{MaxDecodedBytes: 1 << 20, Batch: BatchConfig{Threshold: 1}}, func(e *Engine) {
		e.SubmitRecord(rec)
	})
	waitChange(t, changes, ChangeBatch)
	ctx := context.Background()
	if _, err := e.Select(ctx, 1); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	text, err := e.DetailTab(ctx, TabPretty)
	if err != nil {
		t.Fatalf("DetailTab(pretty) error = %v", err)
	}
	if !strings.Contains(text, "exceeds 1048576 bytes") {
		t.Fatalf("DetailTab(pretty) = %q; want the oversize notice", text)
	}

	e.SubmitRecord(testRecord(2, 200))
	if c := waitChange(t, changes, ChangeBatch); c.Total != 2 {
		t.Fatalf("Total after render = %d; want 2", c.Total)
	}
}
