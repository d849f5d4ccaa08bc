package history

import (
	"time"

	"github.com/dgnsrekt/proxy_history/internal/types"
)

const (
	DefaultBatchThreshold = 5
	DefaultBatchIdleDelay = 50 * time.Millisecond
)

// Timer is a cancellable handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is backed by time.AfterFunc.
var SystemClock Clock = realClock{}

// BatchConfig holds the batcher tunables.
type BatchConfig struct {
	Threshold int
	IdleDelay time.Duration
}

func (c BatchConfig) normalized() BatchConfig {
	if c.Threshold <= 0 {
		c.Threshold = DefaultBatchThreshold
	}
	if c.IdleDelay <= 0 {
		c.IdleDelay = DefaultBatchIdleDelay
	}
	return c
}

// Batcher accumulates records until either the threshold is reached or the
// idle delay since the first pending record elapses, then hands the whole
// batch to the sink in arrival order.
//
// Batcher is owned by one goroutine. The idle timer never flushes directly:
// it calls onIdle with the generation it was armed for, and the owner calls
// IdleElapsed from its own goroutine. A flush bumps the generation, so a timer
// that fires after a threshold flush is ignored.
type Batcher struct {
	cfg        BatchConfig
	clock      Clock
	onIdle     func(gen uint64)
	sink       func(batch []types.TrafficRecord)
	pending    []types.TrafficRecord
	pendingIDs map[int64]struct{}
	timer      Timer
	gen        uint64
	flushes    int
	stopped    bool
}

func NewBatcher(cfg BatchConfig, clock Clock, onIdle func(gen uint64), sink func([]types.TrafficRecord)) *Batcher {
	if clock == nil {
		clock = SystemClock
	}
	return &Batcher{
		cfg:        cfg.normalized(),
		clock:      clock,
		onIdle:     onIdle,
		sink:       sink,
		pendingIDs: make(map[int64]struct{}),
	}
}

// Submit queues one delivery of records. The threshold is checked once the
// whole delivery is queued. It returns how many were dropped as repeats of a
// pending record.
func (b *Batcher) Submit(records ...types.TrafficRecord) (duplicates int) {
	if b.stopped {
		return 0
	}
	for _, rec := range records {
		if _, dup := b.pendingIDs[rec.ID]; dup {
			duplicates++
			continue
		}
		b.pendingIDs[rec.ID] = struct{}{}
		b.pending = append(b.pending, rec)
	}
	if len(b.pending) == 0 {
		return duplicates
	}
	if len(b.pending) >= b.cfg.Threshold {
		b.Flush()
		return duplicates
	}
	if b.timer == nil {
		gen := b.gen
		b.timer = b.clock.AfterFunc(b.cfg.IdleDelay, func() { b.onIdle(gen) })
	}
	return duplicates
}

// IdleElapsed flushes if gen still names the current accumulation.
func (b *Batcher) IdleElapsed(gen uint64) bool {
	if b.stopped || gen != b.gen || len(b.pending) == 0 {
		return false
	}
	b.Flush()
	return true
}

// Flush hands pending records to the sink now.
func (b *Batcher) Flush() {
	b.disarm()
	if len(b.pending) == 0 {
		return
	}
	batch := b.pending
	b.pending = nil
	b.pendingIDs = make(map[int64]struct{})
	b.flushes++
	b.sink(batch)
}

// Pending returns the number of queued records.
func (b *Batcher) Pending() int { return len(b.pending) }

// Flushes counts sink invocations.
func (b *Batcher) Flushes() int { return b.flushes }

// SetConfig replaces the tunables. An armed timer keeps its original delay.
func (b *Batcher) SetConfig(cfg BatchConfig) {
	b.cfg = cfg.normalized()
	if len(b.pending) >= b.cfg.Threshold {
		b.Flush()
	}
}

func (b *Batcher) Config() BatchConfig { return b.cfg }

// Discard cancels the idle timer and drops pending records, returning how
// many were dropped.
func (b *Batcher) Discard() int {
	b.disarm()
	n := len(b.pending)
	b.pending = nil
	b.pendingIDs = make(map[int64]struct{})
	return n
}

// Stop discards pending records and makes Submit a no-op.
func (b *Batcher) Stop() int {
	b.stopped = true
	return b.Discard()
}

func (b *Batcher) disarm() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.gen++
}
