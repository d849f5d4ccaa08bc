package history

import "github.com/dgnsrekt/proxy_history/internal/types"

// DefaultMaxInMemory is the working-set cap used when none is configured.
const DefaultMaxInMemory = 500

// RecordStore is a bounded, newest-first, id-deduplicated sequence of traffic
// records. It is not safe for concurrent use; the Engine goroutine owns it.
//
// Mutations are copy-on-write: every mutation installs a fresh backing slice,
// so a slice returned by Snapshot is never modified afterwards.
type RecordStore struct {
	capacity int
	records  []types.TrafficRecord
	byID     map[int64]int // id -> position in records
	version  uint64
}

// NewRecordStore creates a store holding at most capacity records.
func NewRecordStore(capacity int) *RecordStore {
	if capacity <= 0 {
		capacity = DefaultMaxInMemory
	}
	return &RecordStore{
		capacity: capacity,
		byID:     make(map[int64]int),
	}
}

// Prepend inserts a batch given in arrival order. The latest arrival ends up at
// the head. Records whose id is already stored, or repeated inside the batch,
// are skipped (first occurrence wins). Overflow is evicted from the tail.
func (s *RecordStore) Prepend(batch []types.TrafficRecord) (admitted, evicted []types.TrafficRecord) {
	if len(batch) == 0 {
		return nil, nil
	}

	seen := make(map[int64]struct{}, len(batch))
	admitted = make([]types.TrafficRecord, 0, len(batch))
	for _, rec := range batch {
		if _, dup := s.byID[rec.ID]; dup {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		admitted = append(admitted, rec)
	}
	if len(admitted) == 0 {
		return nil, nil
	}

	total := len(admitted) + len(s.records)
	next := make([]types.TrafficRecord, 0, min(total, s.capacity))
	for i := len(admitted) - 1; i >= 0 && len(next) < s.capacity; i-- {
		next = append(next, admitted[i])
	}
	// A batch larger than the cap never admits its own oldest members.
	if len(admitted) > s.capacity {
		admitted = admitted[len(admitted)-s.capacity:]
	}

	keep := s.capacity - len(next)
	if keep > len(s.records) {
		keep = len(s.records)
	}
	next = append(next, s.records[:keep]...)
	if keep < len(s.records) {
		evicted = append([]types.TrafficRecord(nil), s.records[keep:]...)
	}

	s.install(next)
	return admitted, evicted
}

// AppendOlder adds a page of older records (newest-first, as the backend
// returns them) at the tail. Duplicates are skipped and anything past the cap
// is discarded. hasMore is false once the page is shorter than pageSize.
func (s *RecordStore) AppendOlder(page []types.TrafficRecord, pageSize int) (admitted []types.TrafficRecord, hasMore bool) {
	hasMore = len(page) >= pageSize && len(page) > 0

	room := s.capacity - len(s.records)
	if room <= 0 || len(page) == 0 {
		return nil, hasMore
	}

	seen := make(map[int64]struct{}, len(page))
	for _, rec := range page {
		if len(admitted) == room {
			break
		}
		if _, dup := s.byID[rec.ID]; dup {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		admitted = append(admitted, rec)
	}
	if len(admitted) == 0 {
		return nil, hasMore
	}

	next := make([]types.TrafficRecord, 0, len(s.records)+len(admitted))
	next = append(next, s.records...)
	next = append(next, admitted...)
	s.install(next)
	return admitted, hasMore
}

// Clear empties the store and returns how many records were dropped.
func (s *RecordStore) Clear() int {
	n := len(s.records)
	s.install(nil)
	return n
}

// ByID looks a record up in O(1).
func (s *RecordStore) ByID(id int64) (types.TrafficRecord, bool) {
	pos, ok := s.byID[id]
	if !ok {
		return types.TrafficRecord{}, false
	}
	return s.records[pos], true
}

// Contains reports whether id is stored.
func (s *RecordStore) Contains(id int64) bool {
	_, ok := s.byID[id]
	return ok
}

// Snapshot returns the current records, newest first. Callers must not modify it.
func (s *RecordStore) Snapshot() []types.TrafficRecord { return s.records }

func (s *RecordStore) Len() int { return len(s.records) }

func (s *RecordStore) Cap() int { return s.capacity }

// Full reports whether the store holds capacity records.
func (s *RecordStore) Full() bool { return len(s.records) >= s.capacity }

// Version increases on every mutation that changed the contents.
func (s *RecordStore) Version() uint64 { return s.version }

func (s *RecordStore) install(next []types.TrafficRecord) {
	s.records = next
	s.byID = make(map[int64]int, len(next))
	for i, rec := range next {
		s.byID[rec.ID] = i
	}
	s.version++
}
