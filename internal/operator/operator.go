// Package operator implements Component F: the streaming aggregators of
// spec.md §4.E. Every operator satisfies the uniform Op contract
// (add/value/merge) described in spec.md's Design Notes §9 ("tagged
// variants … with uniform add/value/merge semantics"); composition
// (Transform(Filter(Inner))) is expressed by wrapping one Op in another.
package operator

import (
	"math"

	"github.com/influxdata/tdigest"

	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/pkg/merrors"
)

// Op is the uniform streaming-aggregator contract. Merge must be
// associative and commutative over a batch split any way (invariant 4,
// spec.md §8): value(merge(op(A), op(B))) == value(op(A ++ B)).
type Op interface {
	// Add admits one sample observed at ts (ticks) carrying v.
	Add(ts uint64, v types.Value)
	// Value returns the aggregate so far, or false if no sample qualified.
	Value() (float64, bool)
	// Merge folds other's accumulated state into the receiver. other must
	// be the same concrete operator type.
	Merge(other Op) error
}

func typeMismatch(want, got Op) error {
	return merrors.NewQueryError(nil, merrors.ErrorCodeUnexpectedResult, "operator merge type mismatch").
		WithReason("expected same operator type")
}

// valueAsFloat extracts the scalar an operator accumulates from v, given
// the metric kind that produced it. Ratio metrics are never read directly
// this way — RatioValue bridges them into a synthetic gauge reading first.
func valueAsFloat(kind types.Kind, v types.Value) float64 {
	switch kind {
	case types.KindGauge:
		return float64(v.Gauge)
	case types.KindCount:
		return float64(v.Count)
	default:
		return 0
	}
}

func gaugeOf(x float64) types.Value { return types.Value{Gauge: float32(x)} }

// RatioAware is implemented by operators that, in addition to their scalar
// Value(), track the raw numerator/denominator totals behind it — so an
// output_filter/output_transform can reference InputNumerator/
// InputDenominator against the aggregate itself (spec.md §8 scenario S4).
// Wrapper operators (Filter, Transform, Convert) delegate to their inner
// operator so the property survives composition.
type RatioAware interface {
	Totals() (num, den float64, ok bool)
}

// Sum is a running additive sum.
type Sum struct {
	kind  types.Kind
	total float64
	any   bool
}

func NewSum(kind types.Kind) *Sum { return &Sum{kind: kind} }

func (s *Sum) Add(ts uint64, v types.Value) {
	s.total += valueAsFloat(s.kind, v)
	s.any = true
}

func (s *Sum) Value() (float64, bool) { return s.total, s.any }

func (s *Sum) Merge(o Op) error {
	other, ok := o.(*Sum)
	if !ok {
		return typeMismatch(s, o)
	}
	s.total += other.total
	s.any = s.any || other.any
	return nil
}

// Average is sum/count.
type Average struct {
	kind  types.Kind
	sum   float64
	count uint64
}

func NewAverage(kind types.Kind) *Average { return &Average{kind: kind} }

func (a *Average) Add(ts uint64, v types.Value) {
	a.sum += valueAsFloat(a.kind, v)
	a.count++
}

func (a *Average) Value() (float64, bool) {
	if a.count == 0 {
		return 0, false
	}
	return a.sum / float64(a.count), true
}

func (a *Average) Merge(o Op) error {
	other, ok := o.(*Average)
	if !ok {
		return typeMismatch(a, o)
	}
	a.sum += other.sum
	a.count += other.count
	return nil
}

// TimeAverage is sum / (t_end - t_start), in seconds.
type TimeAverage struct {
	kind           types.Kind
	sum            float64
	tStart, tEnd   uint64
	any            bool
}

func NewTimeAverage(kind types.Kind) *TimeAverage { return &TimeAverage{kind: kind} }

func (a *TimeAverage) Add(ts uint64, v types.Value) {
	a.sum += valueAsFloat(a.kind, v)
	if !a.any || ts < a.tStart {
		a.tStart = ts
	}
	if !a.any || ts > a.tEnd {
		a.tEnd = ts
	}
	a.any = true
}

func (a *TimeAverage) Value() (float64, bool) {
	if !a.any || a.tEnd <= a.tStart {
		return 0, false
	}
	duration := types.TicksToSeconds(int64(a.tEnd - a.tStart))
	if duration <= 0 {
		return 0, false
	}
	return a.sum / duration, true
}

func (a *TimeAverage) Merge(o Op) error {
	other, ok := o.(*TimeAverage)
	if !ok {
		return typeMismatch(a, o)
	}
	a.sum += other.sum
	if !other.any {
		return nil
	}
	if !a.any || other.tStart < a.tStart {
		a.tStart = other.tStart
	}
	if !a.any || other.tEnd > a.tEnd {
		a.tEnd = other.tEnd
	}
	a.any = true
	return nil
}

// Min is a running minimum.
type Min struct {
	kind types.Kind
	v    float64
	any  bool
}

func NewMin(kind types.Kind) *Min { return &Min{kind: kind} }

func (m *Min) Add(ts uint64, v types.Value) {
	x := valueAsFloat(m.kind, v)
	if !m.any || x < m.v {
		m.v = x
	}
	m.any = true
}

func (m *Min) Value() (float64, bool) { return m.v, m.any }

func (m *Min) Merge(o Op) error {
	other, ok := o.(*Min)
	if !ok {
		return typeMismatch(m, o)
	}
	if other.any && (!m.any || other.v < m.v) {
		m.v = other.v
		m.any = true
	}
	return nil
}

// Max is a running maximum.
type Max struct {
	kind types.Kind
	v    float64
	any  bool
}

func NewMax(kind types.Kind) *Max { return &Max{kind: kind} }

func (m *Max) Add(ts uint64, v types.Value) {
	x := valueAsFloat(m.kind, v)
	if !m.any || x > m.v {
		m.v = x
	}
	m.any = true
}

func (m *Max) Value() (float64, bool) { return m.v, m.any }

func (m *Max) Merge(o Op) error {
	other, ok := o.(*Max)
	if !ok {
		return typeMismatch(m, o)
	}
	if other.any && (!m.any || other.v > m.v) {
		m.v = other.v
		m.any = true
	}
	return nil
}

// Convert wraps inner, post-processing its value with f.
type Convert struct {
	inner Op
	f     func(float64) float64
}

func NewConvert(inner Op, f func(float64) float64) *Convert { return &Convert{inner: inner, f: f} }

func (c *Convert) Add(ts uint64, v types.Value) { c.inner.Add(ts, v) }

func (c *Convert) Value() (float64, bool) {
	x, ok := c.inner.Value()
	if !ok {
		return 0, false
	}
	return c.f(x), true
}

func (c *Convert) Merge(o Op) error {
	other, ok := o.(*Convert)
	if !ok {
		return typeMismatch(c, o)
	}
	return c.inner.Merge(other.inner)
}

func (c *Convert) Totals() (float64, float64, bool) {
	if ra, ok := c.inner.(RatioAware); ok {
		return ra.Totals()
	}
	return 0, 0, false
}

// TransformFunc evaluates a TransformExpression; ok is false on domain
// violation (spec.md §4.H "None is returned on domain violations").
type TransformFunc func(x float64) (y float64, ok bool)

// Transform pre-applies fn to each input before handing it to inner,
// dropping inputs fn rejects.
type Transform struct {
	kind  types.Kind
	fn    TransformFunc
	inner Op
}

func NewTransform(kind types.Kind, fn TransformFunc, inner Op) *Transform {
	return &Transform{kind: kind, fn: fn, inner: inner}
}

func (t *Transform) Add(ts uint64, v types.Value) {
	x := valueAsFloat(t.kind, v)
	y, ok := t.fn(x)
	if !ok {
		return
	}
	t.inner.Add(ts, gaugeOf(y))
}

func (t *Transform) Value() (float64, bool) { return t.inner.Value() }

func (t *Transform) Merge(o Op) error {
	other, ok := o.(*Transform)
	if !ok {
		return typeMismatch(t, o)
	}
	return t.inner.Merge(other.inner)
}

func (t *Transform) Totals() (float64, float64, bool) {
	if ra, ok := t.inner.(RatioAware); ok {
		return ra.Totals()
	}
	return 0, 0, false
}

// FilterPredicate evaluates a FilterExpression against a raw sample.
type FilterPredicate func(kind types.Kind, v types.Value) bool

// Filter admits only inputs satisfying pred before handing them to inner.
type Filter struct {
	kind  types.Kind
	pred  FilterPredicate
	inner Op
}

func NewFilter(kind types.Kind, pred FilterPredicate, inner Op) *Filter {
	return &Filter{kind: kind, pred: pred, inner: inner}
}

func (f *Filter) Add(ts uint64, v types.Value) {
	if f.pred(f.kind, v) {
		f.inner.Add(ts, v)
	}
}

func (f *Filter) Value() (float64, bool) { return f.inner.Value() }

func (f *Filter) Merge(o Op) error {
	other, ok := o.(*Filter)
	if !ok {
		return typeMismatch(f, o)
	}
	return f.inner.Merge(other.inner)
}

func (f *Filter) Totals() (float64, float64, bool) {
	if ra, ok := f.inner.(RatioAware); ok {
		return ra.Totals()
	}
	return 0, 0, false
}

// RatioValue forwards num/den (skipping den == 0) into an inner f64
// operator, bridging a Ratio-kind metric into any scalar aggregator. It
// additionally accumulates the raw numerator/denominator totals it has seen,
// exposed via Totals, so an output_filter/output_transform can reference
// InputNumerator/InputDenominator against the aggregate (spec.md §8 S4).
type RatioValue struct {
	inner              Op
	totalNum, totalDen float64
	anyDen             bool
}

func NewRatioValue(inner Op) *RatioValue { return &RatioValue{inner: inner} }

func (r *RatioValue) Add(ts uint64, v types.Value) {
	ratio, ok := v.Ratio()
	if !ok {
		return
	}
	r.inner.Add(ts, gaugeOf(ratio))
	r.totalNum += float64(v.Num)
	r.totalDen += float64(v.Den)
	r.anyDen = true
}

func (r *RatioValue) Value() (float64, bool) { return r.inner.Value() }

func (r *RatioValue) Totals() (float64, float64, bool) { return r.totalNum, r.totalDen, r.anyDen }

func (r *RatioValue) Merge(o Op) error {
	other, ok := o.(*RatioValue)
	if !ok {
		return typeMismatch(r, o)
	}
	r.totalNum += other.totalNum
	r.totalDen += other.totalDen
	r.anyDen = r.anyDen || other.anyDen
	return r.inner.Merge(other.inner)
}

// HistogramPercentile approximates a percentile via equal-width buckets
// over [min,max] with ~sqrt(N) buckets, parameterized from a one-pass
// statistics sweep (spec.md §4.E/§4.G).
type HistogramPercentile struct {
	kind       types.Kind
	percentile float64 // 0-100
	min, max   float64
	counts     []uint64
	total      uint64
}

// NewHistogramPercentile builds the operator from the stats-sweep result
// {count, min, max} over the matching range.
func NewHistogramPercentile(kind types.Kind, percentile float64, min, max float64, count uint64) *HistogramPercentile {
	n := int(math.Sqrt(float64(count)))
	if n < 1 {
		n = 1
	}
	return &HistogramPercentile{
		kind:       kind,
		percentile: percentile,
		min:        min,
		max:        max,
		counts:     make([]uint64, n),
	}
}

func (h *HistogramPercentile) width() float64 {
	if len(h.counts) == 0 {
		return 0
	}
	return (h.max - h.min) / float64(len(h.counts))
}

func (h *HistogramPercentile) bucketOf(x float64) int {
	w := h.width()
	if w <= 0 {
		return 0
	}
	i := int((x - h.min) / w)
	if i < 0 {
		i = 0
	}
	// Values equal to max clamp into the last bucket (spec.md §9 open
	// question, resolved as-specified: this biases the top bucket slightly).
	if i >= len(h.counts) {
		i = len(h.counts) - 1
	}
	return i
}

func (h *HistogramPercentile) Add(ts uint64, v types.Value) {
	x := valueAsFloat(h.kind, v)
	h.counts[h.bucketOf(x)]++
	h.total++
}

func (h *HistogramPercentile) Value() (float64, bool) {
	if h.total == 0 {
		return 0, false
	}
	targetRank := h.percentile / 100 * float64(h.total)
	w := h.width()
	var cumulative uint64
	for i, c := range h.counts {
		prevCumulative := cumulative
		cumulative += c
		if float64(cumulative) >= targetRank {
			bucketStart := h.min + float64(i)*w
			if c == 0 {
				return bucketStart, true
			}
			frac := (targetRank - float64(prevCumulative)) / float64(c)
			return bucketStart + frac*w, true
		}
	}
	return h.max, true
}

// Merge rebuilds a common-range histogram by re-binning each side's bucket
// centers, weighted by their counts, into a fresh histogram sized for the
// combined total (spec.md §4.E merge note).
func (h *HistogramPercentile) Merge(o Op) error {
	other, ok := o.(*HistogramPercentile)
	if !ok {
		return typeMismatch(h, o)
	}
	if other.total == 0 {
		return nil
	}
	if h.total == 0 {
		h.min, h.max, h.total, h.counts = other.min, other.max, other.total, append([]uint64(nil), other.counts...)
		return nil
	}

	newMin := math.Min(h.min, other.min)
	newMax := math.Max(h.max, other.max)
	newTotal := h.total + other.total
	n := int(math.Sqrt(float64(newTotal)))
	if n < 1 {
		n = 1
	}
	newCounts := make([]uint64, n)
	rebin := func(src *HistogramPercentile) {
		w := src.width()
		for i, c := range src.counts {
			if c == 0 {
				continue
			}
			center := src.min + (float64(i)+0.5)*w
			newWidth := (newMax - newMin) / float64(n)
			idx := 0
			if newWidth > 0 {
				idx = int((center - newMin) / newWidth)
			}
			if idx < 0 {
				idx = 0
			}
			if idx >= n {
				idx = n - 1
			}
			newCounts[idx] += c
		}
	}
	rebin(h)
	rebin(other)

	h.min, h.max, h.total, h.counts = newMin, newMax, newTotal, newCounts
	return nil
}

// TDigestPercentile approximates a percentile via a t-digest, for cases
// that don't have a cheap a priori range (or want better tail accuracy than
// the histogram variant).
type TDigestPercentile struct {
	kind       types.Kind
	percentile float64
	td         *tdigest.TDigest
}

// NewTDigestPercentile builds a t-digest bounded to compression centroids.
func NewTDigestPercentile(kind types.Kind, percentile, compression float64) *TDigestPercentile {
	return &TDigestPercentile{kind: kind, percentile: percentile, td: tdigest.NewWithCompression(compression)}
}

func (t *TDigestPercentile) Add(ts uint64, v types.Value) {
	t.td.Add(valueAsFloat(t.kind, v), 1)
}

func (t *TDigestPercentile) Value() (float64, bool) {
	if t.td.Count() == 0 {
		return 0, false
	}
	return t.td.Quantile(t.percentile / 100), true
}

func (t *TDigestPercentile) Merge(o Op) error {
	other, ok := o.(*TDigestPercentile)
	if !ok {
		return typeMismatch(t, o)
	}
	t.td.Merge(other.td)
	return nil
}
