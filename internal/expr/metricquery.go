package expr

import "errors"

// ErrAxisMismatch is returned when two windowed operands of a
// MetricQueryExpression don't share one time axis (spec.md §4.H "the
// windowed form must ensure argument time-axes align").
var ErrAxisMismatch = errors.New("metric query operands do not share one time axis")

// AggKind names a MetricQueryExpression leaf's aggregator.
type AggKind int

const (
	AggAverage AggKind = iota
	AggSum
	AggMax
	AggMin
	AggPercentile
)

// TimeValue is one windowed sample of a MetricQueryExpression evaluation —
// the expr-package-local mirror of internal/window.Point, kept local so
// this package never needs to import the query executor.
type TimeValue struct {
	Time     float64
	Value    float64
	HasValue bool
}

// MetricLeaf names one cross-metric query: the target metric, its
// aggregator (and percentile, if AggPercentile), and an opaque Query value
// the caller's resolver knows how to interpret (internal/query.Query, kept
// as `any` here so expr never imports internal/query — see the package
// doc comment).
type MetricLeaf struct {
	Agg        AggKind
	MetricName string
	Query      any
	Percentile float64
}

// ScalarResolver runs one MetricLeaf's query and returns its scalar result.
type ScalarResolver func(leaf MetricLeaf) (float64, bool, error)

// WindowResolver runs one MetricLeaf's windowed query and returns its
// aligned time series.
type WindowResolver func(leaf MetricLeaf) ([]TimeValue, error)

// MetricQueryExpr is a cross-metric composition tree (spec.md §4.H
// "MetricQueryExpression"), evaluated in one of two modes: scalar
// (EvalScalar) or windowed (EvalWindow).
type MetricQueryExpr interface {
	EvalScalar(resolve ScalarResolver) (float64, bool, error)
	EvalWindow(resolve WindowResolver) ([]TimeValue, error)
}

// MetricLeafExpr wraps a MetricLeaf as a tree leaf.
type MetricLeafExpr struct{ Leaf MetricLeaf }

func (e MetricLeafExpr) EvalScalar(resolve ScalarResolver) (float64, bool, error) {
	return resolve(e.Leaf)
}

func (e MetricLeafExpr) EvalWindow(resolve WindowResolver) ([]TimeValue, error) {
	return resolve(e.Leaf)
}

// MetricValueExpr is a constant leaf. In windowed mode it returns a
// length-1 sentinel series that MetricArithmeticExpr/MetricFunctionExpr
// broadcast across the other operand's real time axis (spec.md §4.H "a
// scalar × time-series broadcasts by repetition").
type MetricValueExpr struct{ V float64 }

func (e MetricValueExpr) EvalScalar(ScalarResolver) (float64, bool, error) { return e.V, true, nil }

func (e MetricValueExpr) EvalWindow(WindowResolver) ([]TimeValue, error) {
	return []TimeValue{{Value: e.V, HasValue: true}}, nil
}

// MetricArithmeticExpr combines two MetricQueryExpr operands with op.
type MetricArithmeticExpr struct {
	Op          ArithOp
	Left, Right MetricQueryExpr
}

func (e MetricArithmeticExpr) EvalScalar(resolve ScalarResolver) (float64, bool, error) {
	l, lok, err := e.Left.EvalScalar(resolve)
	if err != nil || !lok {
		return 0, false, err
	}
	r, rok, err := e.Right.EvalScalar(resolve)
	if err != nil || !rok {
		return 0, false, err
	}
	v, ok := applyArith(e.Op, l, r)
	return v, ok, nil
}

func (e MetricArithmeticExpr) EvalWindow(resolve WindowResolver) ([]TimeValue, error) {
	l, err := e.Left.EvalWindow(resolve)
	if err != nil {
		return nil, err
	}
	r, err := e.Right.EvalWindow(resolve)
	if err != nil {
		return nil, err
	}
	l, r, err = alignBroadcast(l, r)
	if err != nil {
		return nil, err
	}

	out := make([]TimeValue, len(l))
	for i := range l {
		out[i].Time = l[i].Time
		if !l[i].HasValue || !r[i].HasValue {
			continue
		}
		v, ok := applyArith(e.Op, l[i].Value, r[i].Value)
		out[i].Value, out[i].HasValue = v, ok
	}
	return dropEmpty(out), nil
}

// MetricFunctionExpr applies a TransformExpression-style function across
// one or more MetricQueryExpr operands (Max, Min, Power, Log take two; the
// rest take one).
type MetricFunctionExpr struct {
	Name FuncName
	Args []MetricQueryExpr
}

func (e MetricFunctionExpr) EvalScalar(resolve ScalarResolver) (float64, bool, error) {
	vals := make([]float64, len(e.Args))
	for i, a := range e.Args {
		v, ok, err := a.EvalScalar(resolve)
		if err != nil || !ok {
			return 0, false, err
		}
		vals[i] = v
	}
	v, ok := applyFunc(e.Name, vals)
	return v, ok, nil
}

func (e MetricFunctionExpr) EvalWindow(resolve WindowResolver) ([]TimeValue, error) {
	series := make([][]TimeValue, len(e.Args))
	for i, a := range e.Args {
		s, err := a.EvalWindow(resolve)
		if err != nil {
			return nil, err
		}
		series[i] = s
	}
	series, err := alignBroadcastAll(series)
	if err != nil {
		return nil, err
	}

	n := len(series[0])
	out := make([]TimeValue, n)
	vals := make([]float64, len(series))
	for i := 0; i < n; i++ {
		out[i].Time = series[0][i].Time
		complete := true
		for j, s := range series {
			if !s[i].HasValue {
				complete = false
				break
			}
			vals[j] = s[i].Value
		}
		if !complete {
			continue
		}
		v, ok := applyFunc(e.Name, vals)
		out[i].Value, out[i].HasValue = v, ok
	}
	return dropEmpty(out), nil
}

// alignBroadcast reconciles two windowed operands: if one is the length-1
// constant sentinel, it is repeated across the other's real axis; if both
// are length-1, neither has a real axis, and they're left as-is (a purely
// constant expression, degenerate but well-defined); otherwise the axes
// must already match.
func alignBroadcast(l, r []TimeValue) ([]TimeValue, []TimeValue, error) {
	switch {
	case len(l) == 1 && len(r) > 1:
		l = broadcast(l[0], r)
	case len(r) == 1 && len(l) > 1:
		r = broadcast(r[0], l)
	case len(l) != len(r):
		return nil, nil, ErrAxisMismatch
	default:
		for i := range l {
			if l[i].Time != r[i].Time {
				return nil, nil, ErrAxisMismatch
			}
		}
	}
	return l, r, nil
}

// alignBroadcastAll applies alignBroadcast pairwise against the first
// non-constant series found, so every series in the set ends up on one
// common axis.
func alignBroadcastAll(series [][]TimeValue) ([][]TimeValue, error) {
	axisLen := 1
	for _, s := range series {
		if len(s) > 1 {
			axisLen = len(s)
			break
		}
	}
	if axisLen == 1 {
		return series, nil
	}
	out := make([][]TimeValue, len(series))
	for i, s := range series {
		if len(s) == axisLen {
			out[i] = s
			continue
		}
		if len(s) != 1 {
			return nil, ErrAxisMismatch
		}
		// use the first real-axis series found as the broadcast template.
		var template []TimeValue
		for _, other := range series {
			if len(other) == axisLen {
				template = other
				break
			}
		}
		out[i] = broadcast(s[0], template)
	}
	return out, nil
}

func broadcast(v TimeValue, axis []TimeValue) []TimeValue {
	out := make([]TimeValue, len(axis))
	for i, a := range axis {
		out[i] = TimeValue{Time: a.Time, Value: v.Value, HasValue: v.HasValue}
	}
	return out
}

// dropEmpty removes (t, None) buckets from the final windowed output
// (spec.md §4.H "Final output drops (t, None) buckets").
func dropEmpty(in []TimeValue) []TimeValue {
	out := in[:0]
	for _, v := range in {
		if v.HasValue {
			out = append(out, v)
		}
	}
	return out
}
