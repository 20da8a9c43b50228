// Package window implements the bucket table of spec.md §4.F: a time range
// [start, end) cut into fixed-width buckets, each lazily backed by one
// operator.Op, merged bucket-wise across partitions.
package window

import (
	"github.com/metridb/metridb/internal/operator"
	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/pkg/merrors"
)

// Len returns (end-start)/duration, the number of fixed-width buckets a
// [start,end) range splits into. Zero duration yields zero buckets.
func Len(start, end, duration uint64) int {
	if duration == 0 || end <= start {
		return 0
	}
	return int((end - start) / duration)
}

// Table is one window's bucket array. Buckets are created lazily on first
// Add so an untouched window costs one nil slice entry, not an allocated
// operator.
type Table struct {
	start, end, duration uint64
	newOp                func() operator.Op
	buckets              []operator.Op
}

// New builds a Table covering [start, end) in buckets of duration ticks.
// newOp constructs a fresh operator for a bucket the first time it is
// touched.
func New(start, end, duration uint64, newOp func() operator.Op) *Table {
	return &Table{
		start:    start,
		end:      end,
		duration: duration,
		newOp:    newOp,
		buckets:  make([]operator.Op, Len(start, end, duration)),
	}
}

// Len is the bucket count.
func (t *Table) Len() int { return len(t.buckets) }

// GetWindowIndex is (ts - start) / duration, spec.md §4.F.
func (t *Table) GetWindowIndex(ts uint64) int {
	if ts < t.start {
		return -1
	}
	return int((ts - t.start) / t.duration)
}

// Timestamp returns bucket i's start, in external seconds: (start + i *
// duration) / TIME_SCALE.
func (t *Table) Timestamp(i int) float64 {
	return types.TicksToSeconds(int64(t.start + uint64(i)*t.duration))
}

// Get returns bucket i's operator, or false if nothing has landed in it yet.
func (t *Table) Get(i int) (operator.Op, bool) {
	b := t.buckets[i]
	return b, b != nil
}

// Add routes one sample into the bucket its ts falls in, reporting whether
// ts was within [start, end).
func (t *Table) Add(ts uint64, v types.Value) bool {
	i := t.GetWindowIndex(ts)
	if i < 0 || i >= len(t.buckets) {
		return false
	}
	if t.buckets[i] == nil {
		t.buckets[i] = t.newOp()
	}
	t.buckets[i].Add(ts, v)
	return true
}

// Merge folds other's buckets into t, index by index. t and other must
// share the same start/end/duration — the windowing-alignment invariant
// (spec.md §8 invariant 5) is what makes this meaningful across partitions.
func (t *Table) Merge(other *Table) error {
	if t.start != other.start || t.end != other.end || t.duration != other.duration {
		return merrors.NewQueryError(nil, merrors.ErrorCodeUnexpectedResult, "window table merge requires identical start/end/duration").
			WithReason("cross-partition windows must share one time axis")
	}
	for i, b := range other.buckets {
		if b == nil {
			continue
		}
		if t.buckets[i] == nil {
			t.buckets[i] = t.newOp()
		}
		if err := t.buckets[i].Merge(b); err != nil {
			return err
		}
	}
	return nil
}

// Point is one windowed output sample; HasValue is false for a bucket that
// never received a sample ("(t, None)", spec.md §4.H).
type Point struct {
	Time     float64
	Value    float64
	HasValue bool
}

// Points renders every bucket in order. Callers that need
// remove_empty_datapoints semantics (spec.md §4.H) filter !HasValue entries
// themselves; Points always returns the full aligned axis.
func (t *Table) Points() []Point {
	out := make([]Point, len(t.buckets))
	for i, b := range t.buckets {
		out[i].Time = t.Timestamp(i)
		if b != nil {
			out[i].Value, out[i].HasValue = b.Value()
		}
	}
	return out
}
