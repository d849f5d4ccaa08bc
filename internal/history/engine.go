package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/proxy_history/internal/export"
	"github.com/dgnsrekt/proxy_history/internal/types"
)

// ErrClosed is returned by every call made after the engine stopped.
var ErrClosed = &CodedError{Code: CodeClosed, Message: "history engine is closed"}

// Clearer asks the collaborator that owns durable history to drop it.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Notifier surfaces transient, non-fatal problems to the user.
type Notifier interface {
	Notify(level, message string)
}

// Quarantine receives events that were dropped as malformed.
type Quarantine interface {
	Write(record any) error
}

// Subscription is an event source the engine releases on teardown.
type Subscription interface {
	Close() error
}

// ChangeKind names what a Change reports.
type ChangeKind string

const (
	ChangeBatch     ChangeKind = "batch"
	ChangePage      ChangeKind = "page"
	ChangeClear     ChangeKind = "clear"
	ChangeFilter    ChangeKind = "filter"
	ChangeSelection ChangeKind = "selection"
)

// Change is published after a mutation completes.
type Change struct {
	Kind             ChangeKind `json:"kind"`
	Admitted         int        `json:"admitted,omitempty"`
	Evicted          int        `json:"evicted,omitempty"`
	Total            int        `json:"total"`
	Matched          int        `json:"matched"`
	Version          uint64     `json:"version"`
	HasMore          bool       `json:"has_more"`
	SelectedID       int64      `json:"selected_id,omitempty"`
	SelectionCleared bool       `json:"selection_cleared,omitempty"`
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	MaxInMemory          int
	Batch                BatchConfig
	PageSize             int
	PaginationDistancePx int
	MaxRenderRows        int
	// InboxLimit bounds events queued between deliveries. When full, the
	// oldest queued event is shed.
	InboxLimit int
	// MaxDecodedBytes bounds a body after content decoding in the pretty
	// detail tab.
	MaxDecodedBytes int

	Clock      Clock
	Fetcher    Fetcher
	Clearer    Clearer
	Notifier   Notifier
	Quarantine Quarantine
	OnChange   func(Change)
}

// Tuning holds the values that may change while running.
type Tuning struct {
	BatchThreshold       int
	BatchIdleDelay       time.Duration
	MaxRenderRows        int
	PaginationDistancePx int
	PageSize             int
}

// Page is a slice of the filtered view.
type Page struct {
	Records []types.TrafficRecord `json:"records"`
	Offset  int                   `json:"offset"`
	Limit   int                   `json:"limit"`
	Matched int                   `json:"matched"`
	Total   int                   `json:"total"`
	HasMore bool                  `json:"has_more"`
}

// Counts reports the filtered and total record counts.
type Counts struct {
	Matched int `json:"matched"`
	Total   int `json:"total"`
}

// ScrollResult is the rows to render for a viewport.
type ScrollResult struct {
	Window       Window                `json:"window"`
	Rows         []types.TrafficRecord `json:"rows"`
	Matched      int                   `json:"matched"`
	FetchStarted bool                  `json:"fetch_started"`
	HasMore      bool                  `json:"has_more"`
}

// SelectionState describes the detail pane.
type SelectionState struct {
	Selected bool                 `json:"selected"`
	ID       int64                `json:"id,omitempty"`
	Tab      DetailTab            `json:"tab"`
	Record   *types.TrafficRecord `json:"record,omitempty"`
}

// Scope selects which records an export covers.
type Scope string

const (
	ScopeFiltered Scope = "filtered"
	ScopeAll      Scope = "all"
)

type inbound struct {
	rec     types.TrafficRecord
	err     error
	payload []byte
}

type pageResult struct {
	ticket  PageTicket
	records []types.TrafficRecord
	err     error
}

type quarantined struct {
	ReceivedAt time.Time `json:"received_at"`
	Error      string    `json:"error"`
	Payload    string    `json:"payload"`
}

// Engine owns the store and every component derived from it. All state is
// touched only by the goroutine running Run; other goroutines talk to it
// through Submit and the query/command methods, which post closures into
// the loop and wait for the result.
type Engine struct {
	opts Options

	inboxMu     sync.Mutex
	inbox       []inbound
	inboxSignal chan struct{}
	shed        atomic.Int64

	cmds    chan func()
	idle    chan uint64
	pages   chan pageResult
	done    chan struct{}
	started atomic.Bool

	subsMu     sync.Mutex
	subs       []Subscription
	subsClosed bool

	// loop-owned
	store   *RecordStore
	stats   *StatsAggregator
	filter  *FilterEngine
	batcher *Batcher
	pager   *PaginationController
	detail  *DetailPane
	maxRows int
	runCtx  context.Context
}

func NewEngine(opts Options) *Engine {
	if opts.MaxInMemory <= 0 {
		opts.MaxInMemory = DefaultMaxInMemory
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PaginationDistancePx <= 0 {
		opts.PaginationDistancePx = DefaultPaginationDistancePx
	}
	if opts.MaxRenderRows <= 0 {
		opts.MaxRenderRows = DefaultMaxRenderRows
	}
	if opts.InboxLimit <= 0 {
		opts.InboxLimit = 20 * opts.MaxInMemory
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}

	e := &Engine{
		opts:        opts,
		inboxSignal: make(chan struct{}, 1),
		cmds:        make(chan func()),
		idle:        make(chan uint64, 1),
		pages:       make(chan pageResult, 1),
		done:        make(chan struct{}),
		store:       NewRecordStore(opts.MaxInMemory),
		stats:       NewStatsAggregator(),
		filter:      NewFilterEngine(),
		pager:       NewPaginationController(opts.PageSize, opts.PaginationDistancePx),
		detail:      NewDetailPane(),
		maxRows:     opts.MaxRenderRows,
	}
	e.detail.SetMaxDecoded(opts.MaxDecodedBytes)
	e.batcher = NewBatcher(opts.Batch, opts.Clock, e.postIdle, e.flush)
	return e
}

// Run drives the engine until ctx is cancelled. Teardown cancels the batch
// timer, abandons any in-flight fetch and closes tracked subscriptions.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("history: engine already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	e.runCtx = ctx
	defer cancel()
	defer e.teardown()

	slog.Info("history engine started",
		"max_in_memory", e.opts.MaxInMemory,
		"batch_threshold", e.batcher.Config().Threshold,
		"batch_idle", e.batcher.Config().IdleDelay,
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.inboxSignal:
			e.deliver()
		case gen := <-e.idle:
			e.batcher.IdleElapsed(gen)
		case res := <-e.pages:
			e.applyPage(res)
		case fn := <-e.cmds:
			fn()
		}
	}
}

func (e *Engine) teardown() {
	close(e.done)
	discarded := e.batcher.Stop()

	e.subsMu.Lock()
	subs := e.subs
	e.subs = nil
	e.subsClosed = true
	e.subsMu.Unlock()
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			slog.Debug("history: close subscription", "error", err)
		}
	}

	st := e.stats.Snapshot()
	slog.Info("history engine stopped",
		"records", e.store.Len(),
		"discarded_pending", discarded,
		"dropped_invalid", st.DroppedInvalid,
		"dropped_duplicate", st.DroppedDup,
		"shed", e.shed.Load(),
	)
}

// Track registers a subscription to be closed on teardown. If the engine has
// already stopped, sub is closed immediately.
func (e *Engine) Track(sub Subscription) {
	e.subsMu.Lock()
	if e.subsClosed {
		e.subsMu.Unlock()
		_ = sub.Close()
		return
	}
	e.subs = append(e.subs, sub)
	e.subsMu.Unlock()
}

// Done is closed once the engine has stopped.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Submit decodes one event payload and queues it. It never blocks.
func (e *Engine) Submit(payload []byte) {
	rec, err := types.DecodeRecord(payload)
	if err != nil {
		e.enqueue(inbound{err: err, payload: append([]byte(nil), payload...)})
		return
	}
	e.enqueue(inbound{rec: rec})
}

// SubmitRecord queues an already decoded record. It never blocks.
func (e *Engine) SubmitRecord(rec types.TrafficRecord) {
	if err := validateRecord(rec); err != nil {
		e.enqueue(inbound{err: err})
		return
	}
	e.enqueue(inbound{rec: rec})
}

func validateRecord(rec types.TrafficRecord) error {
	switch {
	case rec.ID <= 0:
		return fmt.Errorf("%w: id must be positive", types.ErrMalformed)
	case rec.Method == "":
		return fmt.Errorf("%w: method is required", types.ErrMalformed)
	case !rec.Protocol.Valid():
		return fmt.Errorf("%w: unknown protocol %q", types.ErrMalformed, rec.Protocol)
	}
	return nil
}

func (e *Engine) enqueue(in inbound) {
	select {
	case <-e.done:
		return
	default:
	}
	e.inboxMu.Lock()
	if len(e.inbox) >= e.opts.InboxLimit {
		e.inbox = e.inbox[1:]
		e.shed.Add(1)
	}
	e.inbox = append(e.inbox, in)
	e.inboxMu.Unlock()

	select {
	case e.inboxSignal <- struct{}{}:
	default:
	}
}

// deliver hands everything queued since the last wakeup to the batcher as
// one delivery.
func (e *Engine) deliver() {
	e.inboxMu.Lock()
	items := e.inbox
	e.inbox = nil
	e.inboxMu.Unlock()

	records := make([]types.TrafficRecord, 0, len(items))
	invalid := 0
	for _, in := range items {
		if in.err != nil {
			invalid++
			e.quarantine(in)
			continue
		}
		records = append(records, in.rec)
	}
	dups := e.batcher.Submit(records...)
	e.stats.CountDropped(invalid, dups)
}

func (e *Engine) quarantine(in inbound) {
	slog.Debug("history: dropped malformed event", "error", in.err)
	if e.opts.Quarantine == nil || len(in.payload) == 0 {
		return
	}
	_ = e.opts.Quarantine.Write(quarantined{
		ReceivedAt: time.Now().UTC(),
		Error:      in.err.Error(),
		Payload:    string(in.payload),
	})
}

func (e *Engine) postIdle(gen uint64) {
	select {
	case e.idle <- gen:
	case <-e.done:
	}
}

// flush is the batcher sink: one prepend, one stats pass.
func (e *Engine) flush(batch []types.TrafficRecord) {
	dups := 0
	for _, rec := range batch {
		if e.store.Contains(rec.ID) {
			dups++
		}
	}
	admitted, evicted := e.store.Prepend(batch)
	e.stats.Apply(admitted, evicted)
	e.stats.CountDropped(0, dups)
	if len(admitted) == 0 {
		return
	}
	e.emit(Change{Kind: ChangeBatch, Admitted: len(admitted), Evicted: len(evicted)})
}

func (e *Engine) applyPage(res pageResult) {
	if res.err != nil {
		if !e.pager.Fail(res.ticket) {
			return
		}
		slog.Warn("history: page fetch failed", "offset", res.ticket.Request.Offset, "error", res.err)
		e.notify("warn", fmt.Sprintf("loading older history failed: %v", res.err))
		return
	}
	hasMore := len(res.records) > 0 && len(res.records) >= res.ticket.Request.Limit
	if !e.pager.Complete(res.ticket, hasMore) {
		return
	}
	admitted, _ := e.store.AppendOlder(res.records, res.ticket.Request.Limit)
	e.stats.Apply(admitted, nil)
	e.emit(Change{Kind: ChangePage, Admitted: len(admitted)})
}

// emit reconciles the selection with the current view and publishes c.
func (e *Engine) emit(c Change) {
	if id, ok := e.detail.SelectedID(); ok && !e.filter.Contains(e.store, id) {
		e.detail.Clear()
		c.SelectionCleared = true
	}
	c.Total = e.store.Len()
	c.Matched = len(e.filter.View(e.store))
	c.Version = e.store.Version()
	c.HasMore = e.pager.HasMore()
	if id, ok := e.detail.SelectedID(); ok {
		c.SelectedID = id
	}
	if e.opts.OnChange != nil {
		e.opts.OnChange(c)
	}
}

func (e *Engine) notify(level, msg string) {
	if e.opts.Notifier != nil {
		e.opts.Notifier.Notify(level, msg)
	}
}

// do runs fn on the engine goroutine and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case e.cmds <- wrapped:
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// SetFilter installs a predicate and returns the new counts.
func (e *Engine) SetFilter(ctx context.Context, p Predicate) (Counts, error) {
	var (
		out    Counts
		setErr error
	)
	err := e.do(ctx, func() {
		changed, err := e.filter.SetPredicate(p)
		if err != nil {
			setErr = err
			return
		}
		if changed {
			e.emit(Change{Kind: ChangeFilter})
		}
		out = e.counts()
	})
	if err != nil {
		return Counts{}, err
	}
	return out, setErr
}

// Filter returns the active predicate.
func (e *Engine) Filter(ctx context.Context) (Predicate, error) {
	var p Predicate
	err := e.do(ctx, func() { p = e.filter.Predicate() })
	return p, err
}

// View returns limit records of the filtered view starting at offset.
func (e *Engine) View(ctx context.Context, offset, limit int) (Page, error) {
	if offset < 0 {
		return Page{}, newError(CodeValidation, "offset must not be negative", nil)
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	var page Page
	err := e.do(ctx, func() {
		view := e.filter.View(e.store)
		start := min(offset, len(view))
		end := min(start+limit, len(view))
		page = Page{
			Records: view[start:end:end],
			Offset:  offset,
			Limit:   limit,
			Matched: len(view),
			Total:   e.store.Len(),
			HasMore: e.pager.HasMore(),
		}
	})
	return page, err
}

// Count returns the filtered and total counts.
func (e *Engine) Count(ctx context.Context) (Counts, error) {
	var c Counts
	err := e.do(ctx, func() { c = e.counts() })
	return c, err
}

func (e *Engine) counts() Counts {
	return Counts{Matched: len(e.filter.View(e.store)), Total: e.store.Len()}
}

// Stats returns the maintained aggregates.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := e.do(ctx, func() {
		st = e.stats.Snapshot()
		st.Capacity = e.store.Cap()
	})
	st.Shed = e.shed.Load()
	return st, err
}

// Record looks up one stored record.
func (e *Engine) Record(ctx context.Context, id int64) (types.TrafficRecord, error) {
	var (
		rec types.TrafficRecord
		ok  bool
	)
	if err := e.do(ctx, func() { rec, ok = e.store.ByID(id) }); err != nil {
		return types.TrafficRecord{}, err
	}
	if !ok {
		return types.TrafficRecord{}, newError(CodeNotFound, fmt.Sprintf("record %d not found", id), nil)
	}
	return rec, nil
}

// Scroll computes the window for vp over the filtered view and starts a
// backward fetch if the viewport is near the end of loaded data.
func (e *Engine) Scroll(ctx context.Context, vp ViewportState) (ScrollResult, error) {
	var res ScrollResult
	err := e.do(ctx, func() {
		view := e.filter.View(e.store)
		w := ComputeWindow(vp, len(view), e.maxRows)
		res = ScrollResult{
			Window:  w,
			Rows:    view[w.Start:w.End:w.End],
			Matched: len(view),
		}
		if e.opts.Fetcher != nil {
			if t, ok := e.pager.Trigger(vp, len(view), e.store.Len(), e.store.Full()); ok {
				res.FetchStarted = true
				go e.fetch(e.runCtx, t)
			}
		}
		res.HasMore = e.pager.HasMore()
	})
	return res, err
}

func (e *Engine) fetch(ctx context.Context, t PageTicket) {
	records, err := e.opts.Fetcher.Fetch(ctx, t.Request)
	if err != nil && !errors.Is(err, context.Canceled) {
		err = newError(CodeTransientIO, "fetch older records", err)
	}
	select {
	case e.pages <- pageResult{ticket: t, records: records, err: err}:
	case <-e.done:
	}
}

// Select makes id the selection. A record that is not in the current view
// clears the selection instead.
func (e *Engine) Select(ctx context.Context, id int64) (SelectionState, error) {
	var st SelectionState
	err := e.do(ctx, func() {
		if e.filter.Contains(e.store, id) {
			e.detail.Select(e.store, id)
		} else {
			e.detail.Clear()
		}
		e.emit(Change{Kind: ChangeSelection})
		st = e.selection()
	})
	return st, err
}

// ClearSelection closes the detail pane.
func (e *Engine) ClearSelection(ctx context.Context) error {
	return e.do(ctx, func() {
		e.detail.Clear()
		e.emit(Change{Kind: ChangeSelection})
	})
}

// Selection reports the detail pane state.
func (e *Engine) Selection(ctx context.Context) (SelectionState, error) {
	var st SelectionState
	err := e.do(ctx, func() { st = e.selection() })
	return st, err
}

func (e *Engine) selection() SelectionState {
	rec, ok := e.detail.Selected()
	st := SelectionState{Selected: ok, Tab: e.detail.Tab()}
	if ok {
		st.ID = rec.ID
		st.Record = &rec
	}
	return st
}

// DetailTab switches the detail pane to tab and returns its rendering.
// Rendering runs on the caller's goroutine so a large body never holds up
// ingestion; the result is cached only if the selection is unchanged.
func (e *Engine) DetailTab(ctx context.Context, tab DetailTab) (string, error) {
	var (
		out        string
		rec        types.TrafficRecord
		cached     bool
		maxDecoded int
		lookupErr  error
	)
	err := e.do(ctx, func() {
		if lookupErr = e.detail.SetTab(tab); lookupErr != nil {
			return
		}
		out, rec, cached, lookupErr = e.detail.lookup(tab)
		maxDecoded = e.detail.MaxDecoded()
	})
	if err != nil {
		return "", err
	}
	if lookupErr != nil || cached {
		return out, lookupErr
	}

	out = RenderTab(rec, tab, maxDecoded)
	if err := e.do(ctx, func() { e.detail.keep(rec.ID, tab, out) }); err != nil {
		slog.Debug("history: detail not cached", "id", rec.ID, "error", err)
	}
	return out, nil
}

// Clear asks the collaborator to clear history and, on success, empties the
// store, resets aggregates and drops the selection. On failure nothing local
// changes and a notification is raised.
func (e *Engine) Clear(ctx context.Context) (int, error) {
	if e.opts.Clearer != nil {
		if err := e.opts.Clearer.Clear(ctx); err != nil {
			slog.Warn("history: clear failed", "error", err)
			e.notify("error", fmt.Sprintf("clearing history failed: %v", err))
			return 0, newError(CodeTransientIO, "clear history", err)
		}
	}
	var n int
	err := e.do(ctx, func() {
		e.batcher.Discard()
		n = e.store.Clear()
		e.stats.Reset()
		e.pager.Reset()
		e.detail.Clear()
		e.emit(Change{Kind: ChangeClear, Evicted: n})
	})
	return n, err
}

// Export writes the filtered or full record set to w. The snapshot is taken
// on the engine goroutine; serialization happens on the caller's.
func (e *Engine) Export(ctx context.Context, w io.Writer, format export.Format, scope Scope) error {
	if scope == "" {
		scope = ScopeFiltered
	}
	if scope != ScopeFiltered && scope != ScopeAll {
		return newError(CodeValidation, fmt.Sprintf("unknown export scope %q", scope), nil)
	}
	if _, err := export.ParseFormat(string(format)); err != nil {
		return newError(CodeValidation, "export", err)
	}
	var (
		records []types.TrafficRecord
		pred    Predicate
	)
	err := e.do(ctx, func() {
		pred = e.filter.Predicate()
		if scope == ScopeAll {
			records = e.store.Snapshot()
			return
		}
		records = e.filter.View(e.store)
	})
	if err != nil {
		return err
	}
	meta := export.Meta{Scope: string(scope)}
	if scope == ScopeFiltered && !pred.IsEmpty() {
		meta.Filter = pred.String()
	}
	return export.Write(w, format, records, meta)
}

// ApplyTuning replaces the runtime tunables. Zero fields keep their value.
func (e *Engine) ApplyTuning(ctx context.Context, t Tuning) error {
	return e.do(ctx, func() {
		cfg := e.batcher.Config()
		if t.BatchThreshold > 0 {
			cfg.Threshold = t.BatchThreshold
		}
		if t.BatchIdleDelay > 0 {
			cfg.IdleDelay = t.BatchIdleDelay
		}
		e.batcher.SetConfig(cfg)
		if t.MaxRenderRows > 0 {
			e.maxRows = t.MaxRenderRows
		}
		e.pager.SetTuning(t.PageSize, t.PaginationDistancePx)
		slog.Info("history tuning applied",
			"batch_threshold", cfg.Threshold,
			"batch_idle", cfg.IdleDelay,
			"max_render_rows", e.maxRows,
			"page_size", e.pager.PageSize(),
		)
	})
}
