// Package query implements Component G: the query executor of spec.md
// §4.G, running scalar and windowed aggregations (with optional percentile
// two-sweep, group-by, and input/output filter/transform) over a metric's
// partitions.
package query

import (
	"github.com/metridb/metridb/internal/expr"
	"github.com/metridb/metridb/internal/tagindex"
)

// Aggregator names the per-partition operator a Query builds (spec.md §4.E).
type Aggregator int

const (
	AggSum Aggregator = iota
	AggAverage
	AggTimeAverage
	AggMin
	AggMax
	AggHistogramPercentile
	AggTDigestPercentile
)

// TimeRange is a half-open [Start, End) range in external float64 seconds.
type TimeRange struct {
	Start, End float64
}

// WindowSpec requests a windowed (bucketed) result instead of one scalar.
// Duration is the bucket width in seconds.
type WindowSpec struct {
	Duration float64
}

// Query is one request to the executor, per spec.md §4.G's input shape.
type Query struct {
	TimeRange  TimeRange
	TagsFilter tagindex.Filter
	Aggregator Aggregator
	// Percentile (0-100) parameterizes AggHistogramPercentile/AggTDigestPercentile.
	Percentile float64
	// TDigestCompression overrides the executor's default centroid bound for
	// AggTDigestPercentile when > 0.
	TDigestCompression float64

	// Window requests a TimeValues/GroupTimeValues result bucketed at this
	// width; nil requests a scalar Value/GroupValues result.
	Window *WindowSpec

	InputFilter     expr.FilterExpr
	InputTransform  expr.TransformExpr
	OutputFilter    expr.FilterExpr
	OutputTransform expr.TransformExpr

	// GroupBy names a secondary-tag key to group results by (spec.md §4.G
	// "Group-by"); "" requests an ungrouped result.
	GroupBy string

	RemoveEmptyDatapoints bool
	// Strict requests the cross-sub-block merge-by-peek scan (spec.md §4.G
	// step 4) instead of the cheaper per-sub-block-then-next scan order.
	Strict bool
}

// ResultKind discriminates OperationResult's tagged-union shape (spec.md §6).
type ResultKind int

const (
	ResultValue ResultKind = iota
	ResultTimeValues
	ResultGroupValues
	ResultGroupTimeValues
	ResultNotSupported
)

// TimeValue is one windowed output sample; HasValue is false for "(t, None)".
type TimeValue struct {
	Time     float64
	Value    float64
	HasValue bool
}

// GroupValue is one group-by scalar result.
type GroupValue struct {
	Group    string
	Value    float64
	HasValue bool
}

// GroupTimeSeries is one group-by windowed result.
type GroupTimeSeries struct {
	Group  string
	Points []TimeValue
}

// OperationResult is the executor's tagged-union return value (spec.md §6).
type OperationResult struct {
	Kind ResultKind

	Value    float64
	HasValue bool

	TimeValues []TimeValue

	GroupValues     []GroupValue
	GroupTimeValues []GroupTimeSeries
}
