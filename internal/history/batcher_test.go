package history

import (
	"reflect"
	"testing"
	"time"

	"github.com/dgnsrekt/proxy_history/internal/types"
)

type batchRecorder struct {
	batches [][]types.TrafficRecord
}

func (r *batchRecorder) sink(batch []types.TrafficRecord) {
	r.batches = append(r.batches, batch)
}

func newTestBatcher(threshold int) (*Batcher, *fakeClock, *batchRecorder) {
	clock := &fakeClock{}
	rec := &batchRecorder{}
	var b *Batcher
	b = NewBatcher(BatchConfig{Threshold: threshold, IdleDelay: 50 * time.Millisecond}, clock,
		func(gen uint64) { b.IdleElapsed(gen) }, rec.sink)
	return b, clock, rec
}

func TestBatcherThresholdCrossedMidDeliveryFlushesOnce(t *testing.T) {
	b, clock, rec := newTestBatcher(5)

	b.Submit(testRecords(1, 6)...)

	if got, want := len(rec.batches), 1; got != want {
		t.Fatalf("flushes = %d; want %d", got, want)
	}
	if got, want := ids(rec.batches[0]), []int64{1, 2, 3, 4, 5, 6}; !reflect.DeepEqual(got, want) {
		t.Fatalf("batch = %v; want %v", got, want)
	}
	if n := clock.FireAll(true); n != 0 {
		t.Fatalf("timers fired = %d; want none armed", n)
	}
	if got, want := len(rec.batches), 1; got != want {
		t.Fatalf("flushes after idle = %d; want %d", got, want)
	}
}

func TestBatcherIdleFlush(t *testing.T) {
	b, clock, rec := newTestBatcher(5)

	b.Submit(testRecord(1, 200))
	b.Submit(testRecord(2, 200))
	if got := len(rec.batches); got != 0 {
		t.Fatalf("flushes before idle = %d; want 0", got)
	}
	if got, want := clock.Armed(), 1; got != want {
		t.Fatalf("armed timers = %d; want %d (armed once, from the first pending record)", got, want)
	}
	if got, want := clock.timers[0].delay, 50*time.Millisecond; got != want {
		t.Fatalf("timer delay = %v; want %v", got, want)
	}

	clock.FireAll(false)
	if got, want := len(rec.batches), 1; got != want {
		t.Fatalf("flushes = %d; want %d", got, want)
	}
	if got, want := ids(rec.batches[0]), []int64{1, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("batch = %v; want %v", got, want)
	}
}

func TestBatcherIgnoresStaleTimer(t *testing.T) {
	b, clock, rec := newTestBatcher(3)

	b.Submit(testRecord(1, 200))
	b.Submit(testRecord(2, 200), testRecord(3, 200))
	if got, want := len(rec.batches), 1; got != want {
		t.Fatalf("flushes = %d; want %d", got, want)
	}

	// The timer armed for record 1 fires late, after the threshold flush.
	clock.FireAll(true)
	if got, want := len(rec.batches), 1; got != want {
		t.Fatalf("flushes after stale timer = %d; want %d", got, want)
	}
	if got := b.Pending(); got != 0 {
		t.Fatalf("Pending() = %d; want 0", got)
	}
}

func TestBatcherDeduplicatesPending(t *testing.T) {
	b, clock, rec := newTestBatcher(10)

	dups := b.Submit(testRecord(1, 200), testRecord(1, 500), testRecord(2, 200))
	dups += b.Submit(testRecord(2, 404))
	if got, want := dups, 2; got != want {
		t.Fatalf("duplicates = %d; want %d", got, want)
	}
	clock.FireAll(false)
	if got, want := ids(rec.batches[0]), []int64{1, 2}; !reflect.DeepEqual(got, want) {
		t.Fatalf("batch = %v; want %v", got, want)
	}
	if got, want := rec.batches[0][0].StatusCode, 200; got != want {
		t.Fatalf("kept status = %d; want first occurrence %d", got, want)
	}
}

func TestBatcherStopReleasesTimer(t *testing.T) {
	b, clock, rec := newTestBatcher(5)

	b.Submit(testRecord(1, 200))
	if got, want := b.Stop(), 1; got != want {
		t.Fatalf("Stop() = %d; want %d", got, want)
	}
	if got := clock.Armed(); got != 0 {
		t.Fatalf("armed timers after Stop = %d; want 0", got)
	}
	b.Submit(testRecords(2, 10)...)
	clock.FireAll(true)
	if got := len(rec.batches); got != 0 {
		t.Fatalf("flushes after Stop = %d; want 0", got)
	}
}

func TestBatcherSetConfigLowersThreshold(t *testing.T) {
	b, _, rec := newTestBatcher(10)
	b.Submit(testRecords(1, 3)...)
	b.SetConfig(BatchConfig{Threshold: 2, IdleDelay: time.Second})
	if got, want := len(rec.batches), 1; got != want {
		t.Fatalf("flushes = %d; want %d", got, want)
	}
}

func TestBatcherSeparateDeliveriesFlushAtThreshold(t *testing.T) {
	b, clock, rec := newTestBatcher(5)

	for id := int64(1); id <= 6; id++ {
		b.Submit(testRecord(id, 200))
	}
	if got, want := len(rec.batches), 1; got != want {
		t.Fatalf("flushes before idle = %d; want %d", got, want)
	}
	if got, want := ids(rec.batches[0]), []int64{1, 2, 3, 4, 5}; !reflect.DeepEqual(got, want) {
		t.Fatalf("first batch = %v; want %v", got, want)
	}

	clock.FireAll(false)
	if got, want := len(rec.batches), 2; got != want {
		t.Fatalf("flushes after idle = %d; want %d", got, want)
	}
	if got, want := ids(rec.batches[1]), []int64{6}; !reflect.DeepEqual(got, want) {
		t.Fatalf("second batch = %v; want %v", got, want)
	}
}
