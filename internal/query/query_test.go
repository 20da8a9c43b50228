package query_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metridb/metridb/internal/expr"
	"github.com/metridb/metridb/internal/partition"
	"github.com/metridb/metridb/internal/query"
	"github.com/metridb/metridb/internal/tagindex"
	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/pkg/options"
)

func testOptions(t *testing.T) options.Options {
	t.Helper()
	opts := options.NewDefaultOptions()
	opts.BlockDuration = 10 * time.Second
	opts.SegmentDuration = 30 * time.Second
	opts.SubBlocksPerBlock = 8
	opts.DefaultSubBlockCapacity = 8
	opts.SubBlockGrowthFactor = 2
	opts.MaxSegmentFileSize = 16 << 20
	return opts
}

func openPartition(t *testing.T, label string, kind types.Kind) *partition.Partition {
	t.Helper()
	p, err := partition.Open(t.TempDir(), label, kind, testOptions(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func seconds(s float64) uint64 { return uint64(types.SecondsToTicks(s)) }

func TestRunScalarSum(t *testing.T) {
	p := openPartition(t, "", types.KindGauge)
	require.NoError(t, p.Add(seconds(1), nil, types.GaugeValue(10)))
	require.NoError(t, p.Add(seconds(2), nil, types.GaugeValue(20)))
	require.NoError(t, p.Add(seconds(3), nil, types.GaugeValue(30)))

	ex := query.NewExecutor(types.KindGauge, []*partition.Partition{p})
	res, err := ex.Run(query.Query{
		TimeRange:  query.TimeRange{Start: 0, End: 10},
		Aggregator: query.AggSum,
	})
	require.NoError(t, err)
	require.Equal(t, query.ResultValue, res.Kind)
	require.True(t, res.HasValue)
	require.InDelta(t, 60, res.Value, 1e-6)
}

func TestRunScalarEmptyRangeIsNoValue(t *testing.T) {
	p := openPartition(t, "", types.KindGauge)
	require.NoError(t, p.Add(seconds(1), nil, types.GaugeValue(10)))

	ex := query.NewExecutor(types.KindGauge, []*partition.Partition{p})
	res, err := ex.Run(query.Query{
		TimeRange:  query.TimeRange{Start: 100, End: 200},
		Aggregator: query.AggSum,
	})
	require.NoError(t, err)
	require.False(t, res.HasValue)
}

func TestRunScalarInvalidTimeRange(t *testing.T) {
	p := openPartition(t, "", types.KindGauge)
	ex := query.NewExecutor(types.KindGauge, []*partition.Partition{p})
	_, err := ex.Run(query.Query{TimeRange: query.TimeRange{Start: 10, End: 5}})
	require.Error(t, err)
}

func TestRunWindowedBucketsAverages(t *testing.T) {
	p := openPartition(t, "", types.KindGauge)
	require.NoError(t, p.Add(seconds(0), nil, types.GaugeValue(1)))
	require.NoError(t, p.Add(seconds(1), nil, types.GaugeValue(3)))
	require.NoError(t, p.Add(seconds(2), nil, types.GaugeValue(9)))

	ex := query.NewExecutor(types.KindGauge, []*partition.Partition{p})
	res, err := ex.Run(query.Query{
		TimeRange:  query.TimeRange{Start: 0, End: 3},
		Aggregator: query.AggAverage,
		Window:     &query.WindowSpec{Duration: 1},
	})
	require.NoError(t, err)
	require.Equal(t, query.ResultTimeValues, res.Kind)
	require.Len(t, res.TimeValues, 3)
	require.InDelta(t, 1, res.TimeValues[0].Value, 1e-6)
	require.InDelta(t, 3, res.TimeValues[1].Value, 1e-6)
	require.InDelta(t, 9, res.TimeValues[2].Value, 1e-6)
}

func TestRunWindowedRemovesEmptyBuckets(t *testing.T) {
	p := openPartition(t, "", types.KindGauge)
	require.NoError(t, p.Add(seconds(0), nil, types.GaugeValue(1)))
	require.NoError(t, p.Add(seconds(2), nil, types.GaugeValue(5)))

	ex := query.NewExecutor(types.KindGauge, []*partition.Partition{p})
	res, err := ex.Run(query.Query{
		TimeRange:             query.TimeRange{Start: 0, End: 3},
		Aggregator:            query.AggSum,
		Window:                &query.WindowSpec{Duration: 1},
		RemoveEmptyDatapoints: true,
	})
	require.NoError(t, err)
	require.Len(t, res.TimeValues, 2)
	require.InDelta(t, 1, res.TimeValues[0].Value, 1e-6)
	require.InDelta(t, 5, res.TimeValues[1].Value, 1e-6)
}

func TestRunSkipsPartitionNotNamedByAndFilter(t *testing.T) {
	east := openPartition(t, "region:us-east", types.KindGauge)
	west := openPartition(t, "region:us-west", types.KindGauge)
	require.NoError(t, east.Add(seconds(1), nil, types.GaugeValue(100)))
	require.NoError(t, west.Add(seconds(1), nil, types.GaugeValue(999)))

	ex := query.NewExecutor(types.KindGauge, []*partition.Partition{east, west})
	res, err := ex.Run(query.Query{
		TimeRange:  query.TimeRange{Start: 0, End: 10},
		Aggregator: query.AggSum,
		TagsFilter: tagindex.Filter{Kind: tagindex.FilterAnd, Tags: []string{"region:us-east"}},
	})
	require.NoError(t, err)
	require.True(t, res.HasValue)
	require.InDelta(t, 100, res.Value, 1e-6)
}

func TestRunGroupByScalar(t *testing.T) {
	p := openPartition(t, "", types.KindGauge)
	require.NoError(t, p.Add(seconds(1), []string{"core:0"}, types.GaugeValue(10)))
	require.NoError(t, p.Add(seconds(1), []string{"core:1"}, types.GaugeValue(5)))
	require.NoError(t, p.Add(seconds(2), []string{"core:0"}, types.GaugeValue(20)))

	ex := query.NewExecutor(types.KindGauge, []*partition.Partition{p})
	res, err := ex.Run(query.Query{
		TimeRange:  query.TimeRange{Start: 0, End: 10},
		Aggregator: query.AggSum,
		GroupBy:    "core",
	})
	require.NoError(t, err)
	require.Equal(t, query.ResultGroupValues, res.Kind)
	require.Len(t, res.GroupValues, 2)
	require.Equal(t, "0", res.GroupValues[0].Group)
	require.InDelta(t, 30, res.GroupValues[0].Value, 1e-6)
	require.Equal(t, "1", res.GroupValues[1].Group)
	require.InDelta(t, 5, res.GroupValues[1].Value, 1e-6)
}

func TestRunOutputFilterUsesRatioTotals(t *testing.T) {
	p := openPartition(t, "", types.KindRatio)
	require.NoError(t, p.Add(seconds(1), nil, types.RatioValue(1, 2)))
	require.NoError(t, p.Add(seconds(2), nil, types.RatioValue(1, 2)))

	ex := query.NewExecutor(types.KindRatio, []*partition.Partition{p})

	belowThreshold := query.Query{
		TimeRange:  query.TimeRange{Start: 0, End: 10},
		Aggregator: query.AggSum,
		OutputFilter: expr.CompareExpr{
			Op:    expr.CmpGt,
			Left:  expr.InputDenominatorExpr{},
			Right: expr.ValueExpr{V: 10},
		},
	}
	res, err := ex.Run(belowThreshold)
	require.NoError(t, err)
	require.False(t, res.HasValue, "denominator total is 4, must not pass > 10")

	aboveThreshold := belowThreshold
	aboveThreshold.OutputFilter = expr.CompareExpr{
		Op:    expr.CmpGt,
		Left:  expr.InputDenominatorExpr{},
		Right: expr.ValueExpr{V: 1},
	}
	res, err = ex.Run(aboveThreshold)
	require.NoError(t, err)
	require.True(t, res.HasValue)
}

func TestRunStrictScanCoversAllSubBlocks(t *testing.T) {
	p := openPartition(t, "", types.KindGauge)
	require.NoError(t, p.Add(seconds(1), []string{"host:a"}, types.GaugeValue(1)))
	require.NoError(t, p.Add(seconds(2), []string{"host:b"}, types.GaugeValue(2)))
	require.NoError(t, p.Add(seconds(3), []string{"host:a"}, types.GaugeValue(3)))

	ex := query.NewExecutor(types.KindGauge, []*partition.Partition{p})
	res, err := ex.Run(query.Query{
		TimeRange:  query.TimeRange{Start: 0, End: 10},
		Aggregator: query.AggMax,
		Strict:     true,
	})
	require.NoError(t, err)
	require.True(t, res.HasValue)
	require.InDelta(t, 3, res.Value, 1e-6)
}

func TestRunHistogramPercentileSweepsStatsFirst(t *testing.T) {
	p := openPartition(t, "", types.KindGauge)
	for i := 1; i <= 100; i++ {
		require.NoError(t, p.Add(seconds(float64(i)), nil, types.GaugeValue(float32(i))))
	}

	ex := query.NewExecutor(types.KindGauge, []*partition.Partition{p})
	res, err := ex.Run(query.Query{
		TimeRange:  query.TimeRange{Start: 0, End: 200},
		Aggregator: query.AggHistogramPercentile,
		Percentile: 50,
	})
	require.NoError(t, err)
	require.True(t, res.HasValue)
	require.InDelta(t, 50, res.Value, 5)
}

func TestRunTDigestPercentileIsSinglePass(t *testing.T) {
	p := openPartition(t, "", types.KindGauge)
	for i := 1; i <= 100; i++ {
		require.NoError(t, p.Add(seconds(float64(i)), nil, types.GaugeValue(float32(i))))
	}

	ex := query.NewExecutor(types.KindGauge, []*partition.Partition{p})
	res, err := ex.Run(query.Query{
		TimeRange:          query.TimeRange{Start: 0, End: 200},
		Aggregator:         query.AggTDigestPercentile,
		Percentile:         50,
		TDigestCompression: 50,
	})
	require.NoError(t, err)
	require.True(t, res.HasValue)
	require.InDelta(t, 50, res.Value, 10)
}

func TestRunInputFilterDropsSamples(t *testing.T) {
	p := openPartition(t, "", types.KindGauge)
	require.NoError(t, p.Add(seconds(1), nil, types.GaugeValue(5)))
	require.NoError(t, p.Add(seconds(2), nil, types.GaugeValue(50)))

	ex := query.NewExecutor(types.KindGauge, []*partition.Partition{p})
	res, err := ex.Run(query.Query{
		TimeRange:  query.TimeRange{Start: 0, End: 10},
		Aggregator: query.AggSum,
		InputFilter: expr.CompareExpr{
			Op:    expr.CmpGt,
			Left:  expr.InputValueExpr{},
			Right: expr.ValueExpr{V: 10},
		},
	})
	require.NoError(t, err)
	require.True(t, res.HasValue)
	require.InDelta(t, 50, res.Value, 1e-6)
}
