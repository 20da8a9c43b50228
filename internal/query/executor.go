package query

import (
	"github.com/metridb/metridb/internal/expr"
	"github.com/metridb/metridb/internal/operator"
	"github.com/metridb/metridb/internal/partition"
	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/internal/window"
	"github.com/metridb/metridb/pkg/merrors"
)

// DefaultTDigestCompression is the centroid bound used for
// AggTDigestPercentile when a Query doesn't override it.
const DefaultTDigestCompression = 100

// Executor runs Query/OperationResult requests against one metric's
// partitions (spec.md §4.G).
type Executor struct {
	Kind       types.Kind
	Partitions []*partition.Partition
}

// NewExecutor builds an Executor over a metric's current partition set.
func NewExecutor(kind types.Kind, partitions []*partition.Partition) *Executor {
	return &Executor{Kind: kind, Partitions: partitions}
}

// Run executes q and returns its OperationResult (spec.md §4.G steps 1-7).
func (e *Executor) Run(q Query) (OperationResult, error) {
	if q.GroupBy != "" {
		return e.runGrouped(q)
	}

	start, end, err := e.ticksRange(q.TimeRange)
	if err != nil {
		return OperationResult{Kind: ResultNotSupported}, err
	}

	if q.Window != nil {
		return e.runWindowed(q, start, end, "")
	}
	return e.runScalar(q, start, end, "")
}

// ticksRange validates and converts q's time_range (spec.md §4.G step 1).
func (e *Executor) ticksRange(tr TimeRange) (start, end uint64, err error) {
	s := types.SecondsToTicks(tr.Start)
	en := types.SecondsToTicks(tr.End)
	if en <= s {
		return 0, 0, merrors.NewQueryError(nil, merrors.ErrorCodeInvalidQueryInput, "time_range end must be after start").
			WithReason("empty_range")
	}
	return uint64(s), uint64(en), nil
}

// effectiveKind is the kind a per-partition operator's baseline aggregator
// is built against: Ratio metrics bridge to Gauge via operator.RatioValue
// before reaching the baseline.
func (e *Executor) effectiveKind() types.Kind {
	if e.Kind == types.KindRatio {
		return types.KindGauge
	}
	return e.Kind
}

// newBaseline constructs the innermost aggregator named by q.Aggregator.
func (e *Executor) newBaseline(q Query, stats Stats) operator.Op {
	kind := e.effectiveKind()
	switch q.Aggregator {
	case AggSum:
		return operator.NewSum(kind)
	case AggAverage:
		return operator.NewAverage(kind)
	case AggTimeAverage:
		return operator.NewTimeAverage(kind)
	case AggMin:
		return operator.NewMin(kind)
	case AggMax:
		return operator.NewMax(kind)
	case AggHistogramPercentile:
		return operator.NewHistogramPercentile(kind, q.Percentile, stats.Min, stats.Max, stats.Count)
	case AggTDigestPercentile:
		c := q.TDigestCompression
		if c <= 0 {
			c = DefaultTDigestCompression
		}
		return operator.NewTDigestPercentile(kind, q.Percentile, c)
	default:
		return operator.NewSum(kind)
	}
}

// wrapPipeline bridges Ratio metrics through operator.RatioValue, then
// layers q's input_transform/input_filter as Transform(Filter(Inner)) per
// spec.md's Design Notes composition convention.
func (e *Executor) wrapPipeline(q Query, baseline operator.Op) operator.Op {
	op := baseline
	if e.Kind == types.KindRatio {
		op = operator.NewRatioValue(op)
	}
	if q.InputFilter != nil {
		pred := func(kind types.Kind, v types.Value) bool {
			pass, ok := q.InputFilter.Eval(sampleInput(kind, v))
			return ok && pass
		}
		op = operator.NewFilter(e.Kind, pred, op)
	}
	if q.InputTransform != nil {
		fn := func(x float64) (float64, bool) { return q.InputTransform.Eval(expr.ScalarInput(x)) }
		op = operator.NewTransform(e.Kind, fn, op)
	}
	return op
}

// sampleInput builds the expr.Input a raw sample presents to input_filter,
// per its stored kind (spec.md §4.H "forwarding InputDenominator/
// InputNumerator when evaluated against a ratio").
func sampleInput(kind types.Kind, v types.Value) expr.Input {
	switch kind {
	case types.KindGauge:
		return expr.ScalarInput(float64(v.Gauge))
	case types.KindCount:
		return expr.ScalarInput(float64(v.Count))
	case types.KindRatio:
		return expr.RatioInput(float64(v.Num), float64(v.Den))
	default:
		return expr.Input{}
	}
}

// outputInput builds the expr.Input an output_filter/output_transform
// evaluates against one aggregate result, exposing InputNumerator/
// InputDenominator when the operator tracked them (operator.RatioAware).
func outputInput(op operator.Op, v float64, ok bool) expr.Input {
	in := expr.Input{Value: v, HasValue: ok}
	if ra, supports := op.(operator.RatioAware); supports {
		if num, den, hasND := ra.Totals(); hasND {
			in.Numerator, in.Denominator, in.HasNumDenominator = num, den, true
		}
	}
	return in
}

// applyOutput runs q's output_filter then output_transform against one
// aggregate result (spec.md §4.G step 7).
func applyOutput(q Query, op operator.Op, v float64, ok bool) (float64, bool) {
	if !ok {
		return 0, false
	}
	in := outputInput(op, v, true)
	if q.OutputFilter != nil {
		pass, present := q.OutputFilter.Eval(in)
		if !present || !pass {
			return 0, false
		}
	}
	if q.OutputTransform != nil {
		return q.OutputTransform.Eval(in)
	}
	return v, true
}

// compilePartition compiles q's tags_filter against p's primary label,
// reporting skip=true when the partition can never match (spec.md §4.G
// step 2). extraTag, when non-empty, ANDs one more required "key:value" tag
// in — group-by's AND(tags_filter, [k=v]) step (spec.md §4.G "Group-by").
func compilePartition(p *partition.Partition, q Query, extraTag string) (tagMask, bool, error) {
	base, skip, err := p.TagIndex().CompilePrimary(p.Label(), q.TagsFilter)
	if err != nil || skip || extraTag == "" {
		return base, skip, err
	}
	bit, ok := p.TagIndex().Lookup(extraTag)
	if !ok {
		return nil, true, nil
	}
	return andMask{base: base, extra: types.Tags{}.Set(bit)}, false, nil
}

// needsStatsSweep reports whether q's aggregator requires the a priori
// {count,min,max} sweep before its real operator can be constructed
// (spec.md §4.E "Percentile operators that require a priori range
// (histogram)"; t-digest does not).
func needsStatsSweep(q Query) bool { return q.Aggregator == AggHistogramPercentile }

// globalStats runs the one-pass statistics sweep of spec.md §4.G step 5
// across every surviving partition, through the same input pipeline the
// real sweep will use, so the histogram sees exactly the samples it will
// later aggregate.
func (e *Executor) globalStats(q Query, start, end uint64, extraTag string) (Stats, error) {
	var s sampleStats
	kind := e.effectiveKind()

	for _, p := range e.Partitions {
		mask, skip, err := compilePartition(p, q, extraTag)
		if err != nil {
			return Stats{}, err
		}
		if skip {
			continue
		}
		rec := &recorder{kind: kind, stats: &s}
		op := e.wrapPipeline(q, rec)
		if err := scan(p, e.Kind, mask, start, end, q.Strict, func(ts uint64, v types.Value) { op.Add(ts, v) }); err != nil {
			return Stats{}, err
		}
	}
	return Stats{Count: s.count, Min: s.min, Max: s.max}, nil
}

// partitionOperator runs one partition's scan into a fresh, fully wrapped
// operator built from stats.
func (e *Executor) partitionOperator(p *partition.Partition, q Query, mask tagMask, start, end uint64, stats Stats) (operator.Op, error) {
	op := e.wrapPipeline(q, e.newBaseline(q, stats))
	if err := scan(p, e.Kind, mask, start, end, q.Strict, func(ts uint64, v types.Value) { op.Add(ts, v) }); err != nil {
		return nil, err
	}
	return op, nil
}

// runScalar implements a non-windowed, non-grouped Query. extraTag, when
// non-empty, is group-by's per-value AND(tags_filter, [k=v]) constraint.
func (e *Executor) runScalar(q Query, start, end uint64, extraTag string) (OperationResult, error) {
	var stats Stats
	if needsStatsSweep(q) {
		var err error
		stats, err = e.globalStats(q, start, end, extraTag)
		if err != nil {
			return OperationResult{Kind: ResultNotSupported}, err
		}
	}

	var merged operator.Op
	for _, p := range e.Partitions {
		mask, skip, err := compilePartition(p, q, extraTag)
		if err != nil {
			return OperationResult{Kind: ResultNotSupported}, err
		}
		if skip {
			continue
		}
		op, err := e.partitionOperator(p, q, mask, start, end, stats)
		if err != nil {
			return OperationResult{Kind: ResultNotSupported}, err
		}
		if merged == nil {
			merged = op
			continue
		}
		if err := merged.Merge(op); err != nil {
			return OperationResult{Kind: ResultNotSupported}, err
		}
	}
	if merged == nil {
		merged = e.wrapPipeline(q, e.newBaseline(q, stats))
	}

	v, ok := merged.Value()
	v, ok = applyOutput(q, merged, v, ok)
	return OperationResult{Kind: ResultValue, Value: v, HasValue: ok}, nil
}

// runWindowed implements a windowed (bucketed) Query. extraTag, when
// non-empty, is group-by's per-value AND(tags_filter, [k=v]) constraint.
func (e *Executor) runWindowed(q Query, start, end uint64, extraTag string) (OperationResult, error) {
	duration := uint64(types.SecondsToTicks(q.Window.Duration))
	if duration == 0 {
		return OperationResult{Kind: ResultNotSupported}, merrors.NewQueryError(nil, merrors.ErrorCodeInvalidQueryInput, "window duration must be positive").
			WithReason("non_positive_duration")
	}

	var stats Stats
	if needsStatsSweep(q) {
		var err error
		stats, err = e.globalStats(q, start, end, extraTag)
		if err != nil {
			return OperationResult{Kind: ResultNotSupported}, err
		}
	}

	newOp := func() operator.Op { return e.wrapPipeline(q, e.newBaseline(q, stats)) }

	var merged *window.Table
	for _, p := range e.Partitions {
		mask, skip, err := compilePartition(p, q, extraTag)
		if err != nil {
			return OperationResult{Kind: ResultNotSupported}, err
		}
		if skip {
			continue
		}
		table := window.New(start, end, duration, newOp)
		if err := scan(p, e.Kind, mask, start, end, q.Strict, func(ts uint64, v types.Value) { table.Add(ts, v) }); err != nil {
			return OperationResult{Kind: ResultNotSupported}, err
		}
		if merged == nil {
			merged = table
			continue
		}
		if err := merged.Merge(table); err != nil {
			return OperationResult{Kind: ResultNotSupported}, err
		}
	}
	if merged == nil {
		merged = window.New(start, end, duration, newOp)
	}

	out := renderWindow(q, merged)
	return OperationResult{Kind: ResultTimeValues, TimeValues: out}, nil
}

// renderWindow applies output_filter/output_transform per bucket, then
// optionally drops empty buckets (spec.md §4.G step 7, §4.F).
func renderWindow(q Query, table *window.Table) []TimeValue {
	out := make([]TimeValue, 0, table.Len())
	for i := 0; i < table.Len(); i++ {
		tv := TimeValue{Time: table.Timestamp(i)}
		if op, present := table.Get(i); present {
			v, ok := op.Value()
			tv.Value, tv.HasValue = applyOutput(q, op, v, ok)
		}
		if !tv.HasValue && q.RemoveEmptyDatapoints {
			continue
		}
		out = append(out, tv)
	}
	return out
}

// Stats is the {count, min, max} sweep result of spec.md §4.G step 5.
type Stats struct {
	Count    uint64
	Min, Max float64
}

type sampleStats struct {
	count    uint64
	min, max float64
	any      bool
}

func (s *sampleStats) observe(x float64) {
	if !s.any || x < s.min {
		s.min = x
	}
	if !s.any || x > s.max {
		s.max = x
	}
	s.count++
	s.any = true
}

// recorder is a probe Op standing in for the real baseline aggregator
// during the statistics sweep: it observes exactly the values the real
// baseline would receive (after input_filter/input_transform/ratio
// bridging) without needing a priori range itself.
type recorder struct {
	kind  types.Kind
	stats *sampleStats
}

func (r *recorder) Add(ts uint64, v types.Value) {
	switch r.kind {
	case types.KindGauge:
		r.stats.observe(float64(v.Gauge))
	case types.KindCount:
		r.stats.observe(float64(v.Count))
	}
}

func (r *recorder) Value() (float64, bool) { return 0, false }
func (r *recorder) Merge(operator.Op) error { return nil }
