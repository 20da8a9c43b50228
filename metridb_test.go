package metridb_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metridb/metridb"
	"github.com/metridb/metridb/internal/expr"
	"github.com/metridb/metridb/internal/query"
	"github.com/metridb/metridb/internal/tagindex"
	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/pkg/options"
)

func filterAnd(tag string) tagindex.Filter {
	return tagindex.Filter{Kind: tagindex.FilterAnd, Tags: []string{tag}}
}

func testOpts() []options.OptionFunc {
	return []options.OptionFunc{
		options.WithBlockDuration(10 * time.Second),
		options.WithSegmentDuration(30 * time.Second),
		options.WithSubBlocksPerBlock(8),
		options.WithDefaultSubBlockCapacity(8),
		options.WithSubBlockGrowthFactor(2),
		options.WithMaxSegmentFileSize(16 << 20),
		options.WithFlushInterval(0),
	}
}

func openDB(t *testing.T, dir string) *metridb.DB {
	t.Helper()
	db, err := metridb.Open(context.Background(), "metridb-test", dir, testOpts()...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestGaugeHandleIngestAndQuery(t *testing.T) {
	db := openDB(t, t.TempDir())
	require.NoError(t, db.CreateMetric(metridb.MetricConfig{Name: "cpu", Kind: types.KindGauge}))

	g, err := db.Gauge("cpu")
	require.NoError(t, err)
	require.NoError(t, g.Add(1, 1))
	require.NoError(t, g.Add(2, 3))
	require.NoError(t, g.Add(3, 9))

	res, err := db.Query("cpu", query.Query{
		TimeRange:  query.TimeRange{Start: 0, End: 10},
		Aggregator: query.AggAverage,
	})
	require.NoError(t, err)
	require.True(t, res.HasValue)
	require.InDelta(t, 13.0/3.0, res.Value, 1e-6)
}

func TestCountHandleWithNamedPrimaryTags(t *testing.T) {
	db := openDB(t, t.TempDir())
	require.NoError(t, db.CreateMetric(metridb.MetricConfig{
		Name:        "requests",
		Kind:        types.KindCount,
		PrimaryTags: []string{"tag:T1", "tag:T2"},
	}))

	c, err := db.Count("requests")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		label := "tag:T1"
		if i%2 == 1 {
			label = "tag:T2"
		}
		require.NoError(t, c.Add(float64(i+1), 1, label))
	}

	res, err := db.Query("requests", query.Query{
		TimeRange:  query.TimeRange{Start: 0, End: 20},
		Aggregator: query.AggSum,
	})
	require.NoError(t, err)
	require.InDelta(t, 10, res.Value, 1e-6)
}

func TestRatioHandleOutputFilterOnDenominatorTotal(t *testing.T) {
	db := openDB(t, t.TempDir())
	require.NoError(t, db.CreateMetric(metridb.MetricConfig{Name: "hitrate", Kind: types.KindRatio}))

	r, err := db.Ratio("hitrate")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Add(float64(i+1), 1, 2))
	}

	res, err := db.Query("hitrate", query.Query{
		TimeRange:  query.TimeRange{Start: 0, End: 10},
		Aggregator: query.AggSum,
		OutputFilter: expr.CompareExpr{
			Op:    expr.CmpGt,
			Left:  expr.InputDenominatorExpr{},
			Right: expr.ValueExpr{V: 5},
		},
	})
	require.NoError(t, err)
	require.True(t, res.HasValue, "denominator total is 10, must pass > 5")
}

func TestMetricQueryCrossMetricArithmetic(t *testing.T) {
	db := openDB(t, t.TempDir())
	require.NoError(t, db.CreateMetric(metridb.MetricConfig{Name: "cpu1", Kind: types.KindGauge}))
	require.NoError(t, db.CreateMetric(metridb.MetricConfig{Name: "cpu2", Kind: types.KindGauge}))

	g1, err := db.Gauge("cpu1")
	require.NoError(t, err)
	g2, err := db.Gauge("cpu2")
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, g1.Add(float64(i), 2))
		require.NoError(t, g2.Add(float64(i), 4))
	}

	q := query.Query{TimeRange: query.TimeRange{Start: 0, End: 10}, Aggregator: query.AggAverage}
	tree := expr.MetricArithmeticExpr{
		Op:   expr.Div,
		Left: expr.MetricLeafExpr{Leaf: expr.MetricLeaf{MetricName: "cpu1", Query: q}},
		Right: expr.MetricLeafExpr{Leaf: expr.MetricLeaf{MetricName: "cpu2", Query: q}},
	}

	res, err := db.MetricQuery(tree, false)
	require.NoError(t, err)
	require.True(t, res.HasValue)
	require.InDelta(t, 0.5, res.Value, 1e-6)
}

func TestAutoPrimaryTagAndReload(t *testing.T) {
	dir := t.TempDir()

	db := openDB(t, dir)
	require.NoError(t, db.CreateMetric(metridb.MetricConfig{
		Name:               "latency",
		Kind:               types.KindGauge,
		AutoPrimaryTagKeys: []string{"host"},
	}))
	g, err := db.Gauge("latency")
	require.NoError(t, err)
	require.NoError(t, g.Add(1, 10, "host:a"))
	require.NoError(t, g.Add(2, 20, "host:a"))
	require.NoError(t, g.Add(1, 100, "host:b"))
	require.NoError(t, db.Close())

	db2 := openDB(t, dir)
	g2, err := db2.Gauge("latency")
	require.NoError(t, err)
	require.NoError(t, g2.Add(3, 30, "host:a"))

	res, err := db2.Query("latency", query.Query{
		TimeRange:  query.TimeRange{Start: 0, End: 10},
		Aggregator: query.AggSum,
		TagsFilter: filterAnd("host:a"),
	})
	require.NoError(t, err)
	require.InDelta(t, 60, res.Value, 1e-6)
}
