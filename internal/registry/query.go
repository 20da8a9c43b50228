package registry

import (
	"github.com/metridb/metridb/internal/expr"
	"github.com/metridb/metridb/internal/partition"
	"github.com/metridb/metridb/internal/query"
	"github.com/metridb/metridb/pkg/merrors"
)

// Query runs q against one metric's partitions and returns its tagged-union
// result (spec.md §6 "Query API: (name, Query) -> OperationResult").
func (r *Registry) Query(metric string, q query.Query) (query.OperationResult, error) {
	e, ok := r.get(metric)
	if !ok {
		return query.OperationResult{Kind: query.ResultNotSupported},
			merrors.NewMetricError(nil, merrors.ErrorCodeMetricNotFound, "metric not found").WithName(metric)
	}

	e.mu.RLock()
	parts := make([]*partition.Partition, 0, len(e.partitions))
	for _, p := range e.partitions {
		parts = append(parts, p)
	}
	kind := e.kind
	e.mu.RUnlock()

	ex := query.NewExecutor(kind, parts)
	return ex.Run(q)
}

// MetricQuery evaluates a cross-metric composition tree (spec.md §4.H),
// resolving each leaf by recursing into Query against the leaf's own
// metric name.
func (r *Registry) MetricQuery(tree expr.MetricQueryExpr, windowed bool) (query.OperationResult, error) {
	if !windowed {
		scalarResolve := func(leaf expr.MetricLeaf) (float64, bool, error) {
			q, ok := leaf.Query.(query.Query)
			if !ok {
				return 0, false, merrors.NewMetricError(nil, merrors.ErrorCodeInvalidQueryInput, "metric leaf query is not a query.Query")
			}
			res, err := r.Query(leaf.MetricName, q)
			if err != nil {
				return 0, false, err
			}
			return res.Value, res.HasValue, nil
		}
		v, has, err := tree.EvalScalar(scalarResolve)
		if err != nil {
			return query.OperationResult{Kind: query.ResultNotSupported}, err
		}
		return query.OperationResult{Kind: query.ResultValue, Value: v, HasValue: has}, nil
	}

	windowResolve := func(leaf expr.MetricLeaf) ([]expr.TimeValue, error) {
		q, ok := leaf.Query.(query.Query)
		if !ok {
			return nil, merrors.NewMetricError(nil, merrors.ErrorCodeInvalidQueryInput, "metric leaf query is not a query.Query")
		}
		res, err := r.Query(leaf.MetricName, q)
		if err != nil {
			return nil, err
		}
		out := make([]expr.TimeValue, 0, len(res.TimeValues))
		for _, tv := range res.TimeValues {
			out = append(out, expr.TimeValue{Time: tv.Time, Value: tv.Value, HasValue: tv.HasValue})
		}
		return out, nil
	}
	points, err := tree.EvalWindow(windowResolve)
	if err != nil {
		return query.OperationResult{Kind: query.ResultNotSupported}, err
	}
	out := make([]query.TimeValue, 0, len(points))
	for _, p := range points {
		out = append(out, query.TimeValue{Time: p.Time, Value: p.Value, HasValue: p.HasValue})
	}
	return query.OperationResult{Kind: query.ResultTimeValues, TimeValues: out}, nil
}
