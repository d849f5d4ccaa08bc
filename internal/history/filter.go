package history

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/proxy_history/internal/types"
)

// Predicate is a conjunction of optional conditions. The zero value matches
// everything. Predicate is comparable so the FilterEngine can detect changes.
type Predicate struct {
	Protocol types.Protocol `json:"protocol,omitempty"`
	Method   string         `json:"method,omitempty"`
	// StatusClass selects one half-open bucket: 2 means [200,300).
	StatusClass int `json:"status_class,omitempty"`
	// StatusMin and StatusMax bound the code inclusively when non-zero.
	StatusMin int `json:"status_min,omitempty"`
	StatusMax int `json:"status_max,omitempty"`
	// Host matches a case-insensitive substring of the host only.
	Host string `json:"host,omitempty"`
	// Search matches a case-insensitive substring of url or host.
	Search string `json:"search,omitempty"`
}

// Normalize canonicalizes casing and whitespace so equal filters compare equal.
func (p Predicate) Normalize() Predicate {
	p.Protocol = types.Protocol(strings.ToLower(strings.TrimSpace(string(p.Protocol))))
	p.Method = strings.ToUpper(strings.TrimSpace(p.Method))
	p.Host = strings.ToLower(strings.TrimSpace(p.Host))
	p.Search = strings.ToLower(strings.TrimSpace(p.Search))
	return p
}

// Validate rejects predicates that could never be meaningful.
func (p Predicate) Validate() error {
	if p.Protocol != "" && !p.Protocol.Valid() {
		return newError(CodeValidation, fmt.Sprintf("unknown protocol %q", p.Protocol), nil)
	}
	if p.StatusClass != 0 && (p.StatusClass < 2 || p.StatusClass > 5) {
		return newError(CodeValidation, fmt.Sprintf("status class must be 2..5, got %d", p.StatusClass), nil)
	}
	if p.StatusMin < 0 || p.StatusMax < 0 {
		return newError(CodeValidation, "status bounds must not be negative", nil)
	}
	if p.StatusMin != 0 && p.StatusMax != 0 && p.StatusMin > p.StatusMax {
		return newError(CodeValidation, "status_min must not exceed status_max", nil)
	}
	return nil
}

// IsEmpty reports whether the predicate has no conditions.
func (p Predicate) IsEmpty() bool { return p == Predicate{} }

// Match evaluates the predicate against one record. p must be normalized.
func (p Predicate) Match(rec types.TrafficRecord) bool {
	if p.Protocol != "" && rec.Protocol != p.Protocol {
		return false
	}
	if p.Method != "" && !strings.EqualFold(rec.Method, p.Method) {
		return false
	}
	if p.StatusClass != 0 {
		lo := p.StatusClass * 100
		if rec.StatusCode < lo || rec.StatusCode >= lo+100 {
			return false
		}
	}
	if p.StatusMin != 0 && rec.StatusCode < p.StatusMin {
		return false
	}
	if p.StatusMax != 0 && rec.StatusCode > p.StatusMax {
		return false
	}
	if p.Host != "" && !strings.Contains(strings.ToLower(rec.Host), p.Host) {
		return false
	}
	if p.Search != "" &&
		!strings.Contains(strings.ToLower(rec.URL), p.Search) &&
		!strings.Contains(strings.ToLower(rec.Host), p.Search) {
		return false
	}
	return true
}

// String renders the predicate as space-separated key=value conditions.
func (p Predicate) String() string {
	var parts []string
	if p.Protocol != "" {
		parts = append(parts, "protocol="+string(p.Protocol))
	}
	if p.Method != "" {
		parts = append(parts, "method="+p.Method)
	}
	if p.StatusClass != 0 {
		parts = append(parts, fmt.Sprintf("status=%dxx", p.StatusClass))
	}
	if p.StatusMin != 0 {
		parts = append(parts, fmt.Sprintf("status_min=%d", p.StatusMin))
	}
	if p.StatusMax != 0 {
		parts = append(parts, fmt.Sprintf("status_max=%d", p.StatusMax))
	}
	if p.Host != "" {
		parts = append(parts, "host="+p.Host)
	}
	if p.Search != "" {
		parts = append(parts, fmt.Sprintf("search=%q", p.Search))
	}
	return strings.Join(parts, " ")
}

// ParseStatusClass turns "4xx" (or "4") into 4.
func ParseStatusClass(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "all" {
		return 0, nil
	}
	s = strings.TrimSuffix(s, "xx")
	if len(s) != 1 || s[0] < '2' || s[0] > '5' {
		return 0, newError(CodeValidation, fmt.Sprintf("invalid status class %q", s), nil)
	}
	return int(s[0] - '0'), nil
}

// Apply returns the records matching pred, in snapshot order. It never
// modifies the snapshot. An empty predicate returns the snapshot itself.
func Apply(pred Predicate, snapshot []types.TrafficRecord) []types.TrafficRecord {
	pred = pred.Normalize()
	if pred.IsEmpty() {
		return snapshot
	}
	out := make([]types.TrafficRecord, 0, len(snapshot))
	for _, rec := range snapshot {
		if pred.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// FilterEngine caches the derived view and recomputes only when the predicate
// or the store version changed.
type FilterEngine struct {
	pred       Predicate
	version    uint64
	valid      bool
	view       []types.TrafficRecord
	index      map[int64]int
	recomputes int
}

func NewFilterEngine() *FilterEngine {
	return &FilterEngine{}
}

// SetPredicate installs a new predicate; it reports whether anything changed.
func (f *FilterEngine) SetPredicate(p Predicate) (bool, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return false, err
	}
	if p == f.pred {
		return false, nil
	}
	f.pred = p
	f.valid = false
	return true, nil
}

func (f *FilterEngine) Predicate() Predicate { return f.pred }

// View returns the filtered view of store, recomputing only when needed.
func (f *FilterEngine) View(store *RecordStore) []types.TrafficRecord {
	if f.valid && f.version == store.Version() {
		return f.view
	}
	f.view = Apply(f.pred, store.Snapshot())
	f.index = nil
	f.version = store.Version()
	f.valid = true
	f.recomputes++
	return f.view
}

// Contains reports whether id is in the current view.
func (f *FilterEngine) Contains(store *RecordStore, id int64) bool {
	view := f.View(store)
	if f.pred.IsEmpty() {
		return store.Contains(id)
	}
	if f.index == nil {
		f.index = make(map[int64]int, len(view))
		for i, rec := range view {
			f.index[rec.ID] = i
		}
	}
	_, ok := f.index[id]
	return ok
}

// Recomputes counts how many times the view was rebuilt.
func (f *FilterEngine) Recomputes() int { return f.recomputes }
