package history

import (
	"context"

	"github.com/dgnsrekt/proxy_history/internal/types"
)

const (
	DefaultPageSize             = 100
	DefaultPaginationDistancePx = 200
)

// Fetcher pages older records from the collaborator that owns durable history.
type Fetcher interface {
	Fetch(ctx context.Context, req types.FetchRequest) ([]types.TrafficRecord, error)
}

// PageTicket identifies one in-flight fetch.
type PageTicket struct {
	Epoch   uint64
	Request types.FetchRequest
}

// PaginationController decides when to load older pages. It holds at most one
// fetch in flight and never retries on its own.
type PaginationController struct {
	distancePx int
	pageSize   int
	hasMore    bool
	inFlight   bool
	epoch      uint64
	fetches    int
}

func NewPaginationController(pageSize, distancePx int) *PaginationController {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if distancePx < 0 {
		distancePx = DefaultPaginationDistancePx
	}
	return &PaginationController{
		distancePx: distancePx,
		pageSize:   pageSize,
		hasMore:    true,
	}
}

// Trigger starts a fetch if the viewport is near the bottom of the loaded
// view, more data may exist, nothing is in flight and the store has room.
// offset is the number of records already held.
func (p *PaginationController) Trigger(vp ViewportState, viewTotal, offset int, storeFull bool) (PageTicket, bool) {
	if !p.hasMore || p.inFlight || storeFull {
		return PageTicket{}, false
	}
	if DistanceToBottomPx(vp, viewTotal) > p.distancePx {
		return PageTicket{}, false
	}
	p.inFlight = true
	p.fetches++
	return PageTicket{
		Epoch:   p.epoch,
		Request: types.FetchRequest{Limit: p.pageSize, Offset: offset},
	}, true
}

// Complete records a successful page. It reports false when the ticket was
// invalidated by Reset, in which case the page must be discarded.
func (p *PaginationController) Complete(t PageTicket, hasMore bool) bool {
	if t.Epoch != p.epoch {
		return false
	}
	p.inFlight = false
	p.hasMore = hasMore
	return true
}

// Fail releases the in-flight slot and leaves hasMore unchanged.
func (p *PaginationController) Fail(t PageTicket) bool {
	if t.Epoch != p.epoch {
		return false
	}
	p.inFlight = false
	return true
}

// Reset forgets any in-flight fetch and assumes more data again.
func (p *PaginationController) Reset() {
	p.epoch++
	p.inFlight = false
	p.hasMore = true
}

// SetTuning replaces the trigger distance and page size. Non-positive
// values keep the current setting.
func (p *PaginationController) SetTuning(pageSize, distancePx int) {
	if pageSize > 0 {
		p.pageSize = pageSize
	}
	if distancePx > 0 {
		p.distancePx = distancePx
	}
}

func (p *PaginationController) HasMore() bool  { return p.hasMore }
func (p *PaginationController) InFlight() bool { return p.inFlight }
func (p *PaginationController) PageSize() int  { return p.pageSize }
func (p *PaginationController) Fetches() int   { return p.fetches }
