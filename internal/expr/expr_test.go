package expr_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metridb/metridb/internal/expr"
)

func TestTransformArithmetic(t *testing.T) {
	e := expr.ArithmeticExpr{
		Op:    expr.Mul,
		Left:  expr.InputValueExpr{},
		Right: expr.ValueExpr{V: 2},
	}
	v, ok := e.Eval(expr.ScalarInput(3))
	require.True(t, ok)
	require.Equal(t, 6.0, v)
}

func TestTransformDivisionByZeroIsDomainViolation(t *testing.T) {
	e := expr.ArithmeticExpr{Op: expr.Div, Left: expr.InputValueExpr{}, Right: expr.ValueExpr{V: 0}}
	_, ok := e.Eval(expr.ScalarInput(1))
	require.False(t, ok)
}

func TestTransformSqrtDomainViolation(t *testing.T) {
	e := expr.FunctionExpr{Name: expr.FuncSqrt, Args: []expr.TransformExpr{expr.InputValueExpr{}}}
	_, ok := e.Eval(expr.ScalarInput(-1))
	require.False(t, ok)

	v, ok := e.Eval(expr.ScalarInput(9))
	require.True(t, ok)
	require.Equal(t, 3.0, v)
}

func TestTransformLnDomainViolation(t *testing.T) {
	e := expr.FunctionExpr{Name: expr.FuncLn, Args: []expr.TransformExpr{expr.InputValueExpr{}}}
	_, ok := e.Eval(expr.ScalarInput(0))
	require.False(t, ok)
}

func TestTransformMaxMin(t *testing.T) {
	maxE := expr.FunctionExpr{Name: expr.FuncMax, Args: []expr.TransformExpr{expr.ValueExpr{V: 3}, expr.ValueExpr{V: 7}}}
	v, ok := maxE.Eval(expr.Input{})
	require.True(t, ok)
	require.Equal(t, 7.0, v)

	minE := expr.FunctionExpr{Name: expr.FuncMin, Args: []expr.TransformExpr{expr.ValueExpr{V: 3}, expr.ValueExpr{V: 7}}}
	v, ok = minE.Eval(expr.Input{})
	require.True(t, ok)
	require.Equal(t, 3.0, v)
}

func TestTransformMaxWithMissingArgReportsNotOkInsteadOfPanicking(t *testing.T) {
	e := expr.FunctionExpr{Name: expr.FuncMax, Args: []expr.TransformExpr{expr.ValueExpr{V: 3}}}
	_, ok := e.Eval(expr.Input{})
	require.False(t, ok)
}

func TestFilterCompareRatio(t *testing.T) {
	f := expr.CompareExpr{Op: expr.CmpGt, Left: expr.InputDenominatorExpr{}, Right: expr.ValueExpr{V: 10000}}
	ok, present := f.Eval(expr.RatioInput(1, 20000))
	require.True(t, present)
	require.True(t, ok)

	ok, present = f.Eval(expr.RatioInput(1, 5))
	require.True(t, present)
	require.False(t, ok)
}

func TestFilterRejectsOnAbsentInput(t *testing.T) {
	f := expr.CompareExpr{Op: expr.CmpGt, Left: expr.InputValueExpr{}, Right: expr.ValueExpr{V: 0}}
	_, present := f.Eval(expr.RatioInput(1, 2)) // Input.Value absent on a ratio-shaped Input
	require.False(t, present)
}

func TestFilterAndOr(t *testing.T) {
	gt0 := expr.CompareExpr{Op: expr.CmpGt, Left: expr.InputValueExpr{}, Right: expr.ValueExpr{V: 0}}
	lt10 := expr.CompareExpr{Op: expr.CmpLt, Left: expr.InputValueExpr{}, Right: expr.ValueExpr{V: 10}}
	and := expr.AndExpr{Left: gt0, Right: lt10}

	ok, present := and.Eval(expr.ScalarInput(5))
	require.True(t, present)
	require.True(t, ok)

	ok, present = and.Eval(expr.ScalarInput(15))
	require.True(t, present)
	require.False(t, ok)
}

func TestMetricQueryScalarArithmetic(t *testing.T) {
	avgCPU1 := expr.MetricLeafExpr{Leaf: expr.MetricLeaf{Agg: expr.AggAverage, MetricName: "cpu1"}}
	avgCPU2 := expr.MetricLeafExpr{Leaf: expr.MetricLeaf{Agg: expr.AggAverage, MetricName: "cpu2"}}
	tree := expr.MetricArithmeticExpr{Op: expr.Div, Left: avgCPU1, Right: avgCPU2}

	resolve := func(leaf expr.MetricLeaf) (float64, bool, error) {
		switch leaf.MetricName {
		case "cpu1":
			return 2, true, nil
		case "cpu2":
			return 4, true, nil
		}
		return 0, false, nil
	}

	v, ok, err := tree.EvalScalar(resolve)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0.5, v)
}

func TestMetricQueryWindowedBroadcast(t *testing.T) {
	series := expr.MetricLeafExpr{Leaf: expr.MetricLeaf{Agg: expr.AggSum, MetricName: "cpu1"}}
	constant := expr.MetricValueExpr{V: 2}
	tree := expr.MetricArithmeticExpr{Op: expr.Mul, Left: series, Right: constant}

	resolve := func(leaf expr.MetricLeaf) ([]expr.TimeValue, error) {
		return []expr.TimeValue{
			{Time: 0, Value: 1, HasValue: true},
			{Time: 1, Value: 2, HasValue: true},
		}, nil
	}

	out, err := tree.EvalWindow(resolve)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 2.0, out[0].Value)
	require.Equal(t, 4.0, out[1].Value)
}

func TestMetricQueryWindowedAxisMismatch(t *testing.T) {
	a := expr.MetricLeafExpr{Leaf: expr.MetricLeaf{Agg: expr.AggSum, MetricName: "a"}}
	b := expr.MetricLeafExpr{Leaf: expr.MetricLeaf{Agg: expr.AggSum, MetricName: "b"}}
	tree := expr.MetricArithmeticExpr{Op: expr.Add, Left: a, Right: b}

	resolveMismatch := func(leaf expr.MetricLeaf) ([]expr.TimeValue, error) {
		if leaf.MetricName == "a" {
			return []expr.TimeValue{{Time: 0, Value: 1, HasValue: true}, {Time: 1, Value: 1, HasValue: true}}, nil
		}
		return []expr.TimeValue{{Time: 0, Value: 1, HasValue: true}, {Time: 2, Value: 1, HasValue: true}}, nil
	}

	_, err := tree.EvalWindow(resolveMismatch)
	require.ErrorIs(t, err, expr.ErrAxisMismatch)
}

func TestMetricQueryWindowedDropsEmptyBuckets(t *testing.T) {
	a := expr.MetricLeafExpr{Leaf: expr.MetricLeaf{Agg: expr.AggSum, MetricName: "a"}}
	tree := expr.MetricFunctionExpr{Name: expr.FuncSqrt, Args: []expr.MetricQueryExpr{a}}

	resolve := func(leaf expr.MetricLeaf) ([]expr.TimeValue, error) {
		return []expr.TimeValue{
			{Time: 0, Value: 4, HasValue: true},
			{Time: 1, Value: -1, HasValue: true}, // domain violation -> dropped
			{Time: 2, HasValue: false},            // already empty -> dropped
		}, nil
	}

	out, err := tree.EvalWindow(resolve)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 2.0, out[0].Value)
}
