package history

import "github.com/dgnsrekt/proxy_history/internal/types"

// Stats is a point-in-time copy of the aggregates over the live store.
type Stats struct {
	Total              int64            `json:"total"`
	ByProtocol         map[string]int64 `json:"by_protocol"`
	ByMethod           map[string]int64 `json:"by_method"`
	ByStatusClass      map[string]int64 `json:"by_status_class"`
	AvgResponseTimeMs  float64          `json:"avg_response_time_ms"`
	TotalResponseBytes int64            `json:"total_response_bytes"`
	// Capacity is the in-memory record limit.
	Capacity int `json:"capacity"`

	// Diagnostics; these are lifetime counters, not derived from the store.
	Evicted        int64 `json:"evicted"`
	DroppedInvalid int64 `json:"dropped_invalid"`
	DroppedDup     int64 `json:"dropped_duplicate"`
	Shed           int64 `json:"shed"`
}

// StatsAggregator maintains aggregates incrementally from store mutations.
// Every update costs O(records touched); queries never scan the store.
type StatsAggregator struct {
	total      int64
	byProtocol map[string]int64
	byMethod   map[string]int64
	byClass    map[string]int64
	timeSumMs  int64
	bytesSum   int64
	evicted    int64
	droppedBad int64
	droppedDup int64
}

func NewStatsAggregator() *StatsAggregator {
	a := &StatsAggregator{}
	a.Reset()
	return a
}

// Apply folds one store mutation into the aggregates.
func (a *StatsAggregator) Apply(admitted, evicted []types.TrafficRecord) {
	for _, rec := range admitted {
		a.add(rec, 1)
	}
	for _, rec := range evicted {
		a.add(rec, -1)
	}
	a.evicted += int64(len(evicted))
}

// CountDropped records events rejected before reaching the store.
func (a *StatsAggregator) CountDropped(invalid, duplicate int) {
	a.droppedBad += int64(invalid)
	a.droppedDup += int64(duplicate)
}

// Reset zeroes the store-derived aggregates. Diagnostic counters survive.
func (a *StatsAggregator) Reset() {
	a.total = 0
	a.byProtocol = make(map[string]int64)
	a.byMethod = make(map[string]int64)
	a.byClass = make(map[string]int64)
	a.timeSumMs = 0
	a.bytesSum = 0
}

// Total is an O(1) read of the live record count.
func (a *StatsAggregator) Total() int64 { return a.total }

// AvgResponseTimeMs is an O(1) read of the running mean.
func (a *StatsAggregator) AvgResponseTimeMs() float64 {
	if a.total == 0 {
		return 0
	}
	return float64(a.timeSumMs) / float64(a.total)
}

// Snapshot copies the aggregates. Cost is bounded by the number of distinct
// protocols, methods and status classes, not by the store size.
func (a *StatsAggregator) Snapshot() Stats {
	return Stats{
		Total:              a.total,
		ByProtocol:         copyCounts(a.byProtocol),
		ByMethod:           copyCounts(a.byMethod),
		ByStatusClass:      copyCounts(a.byClass),
		AvgResponseTimeMs:  a.AvgResponseTimeMs(),
		TotalResponseBytes: a.bytesSum,
		Evicted:            a.evicted,
		DroppedInvalid:     a.droppedBad,
		DroppedDup:         a.droppedDup,
	}
}

func (a *StatsAggregator) add(rec types.TrafficRecord, sign int64) {
	a.total += sign
	bump(a.byProtocol, string(rec.Protocol), sign)
	bump(a.byMethod, rec.Method, sign)
	bump(a.byClass, statusClassKey(rec), sign)
	a.timeSumMs += sign * rec.ResponseTimeMs
	a.bytesSum += sign * rec.ResponseSizeBytes
}

// ComputeStats recomputes the store-derived aggregates from scratch. It is the
// reference the incremental path must agree with.
func ComputeStats(records []types.TrafficRecord) Stats {
	a := NewStatsAggregator()
	for _, rec := range records {
		a.add(rec, 1)
	}
	return a.Snapshot()
}

func bump(m map[string]int64, key string, delta int64) {
	m[key] += delta
	if m[key] == 0 {
		delete(m, key)
	}
}

func statusClassKey(rec types.TrafficRecord) string {
	switch rec.StatusClass() {
	case 1:
		return "1xx"
	case 2:
		return "2xx"
	case 3:
		return "3xx"
	case 4:
		return "4xx"
	case 5:
		return "5xx"
	default:
		return "other"
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
