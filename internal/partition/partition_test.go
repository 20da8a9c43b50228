package partition_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metridb/metridb/internal/partition"
	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/pkg/options"
)

func testOptions(t *testing.T) options.Options {
	t.Helper()
	opts := options.NewDefaultOptions()
	opts.BlockDuration = 10 * time.Second
	opts.SegmentDuration = 30 * time.Second
	opts.SubBlocksPerBlock = 4
	opts.DefaultSubBlockCapacity = 4
	opts.SubBlockGrowthFactor = 2
	opts.MaxSegmentFileSize = 16 << 20
	return opts
}

func TestAddAndReopenRoundTrips(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(t)

	p, err := partition.Open(dir, "region:us-east", types.KindCount, opts, nil)
	require.NoError(t, err)
	require.NoError(t, p.Add(1_000_000, []string{"host:a"}, types.CountValue(1)))
	require.NoError(t, p.Add(1_000_000+2_000_000, []string{"host:a"}, types.CountValue(1)))
	require.NoError(t, p.Sync(false))
	require.NoError(t, p.Close())

	p2, err := partition.Open(dir, "region:us-east", types.KindCount, opts, nil)
	require.NoError(t, err)
	defer p2.Close()

	require.Len(t, p2.Segments(), 1)
	seg := p2.Segments()[0]
	require.Equal(t, 1, seg.NumBlocks())
	blk, ok := seg.ActiveBlock()
	require.True(t, ok)
	dps := blk.Datapoints(types.KindCount, 0)
	require.Len(t, dps, 2)
}

func TestSegmentRotatesAfterSegmentDuration(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(t)

	p, err := partition.Open(dir, "", types.KindGauge, opts, nil)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Add(1_000_000, nil, types.GaugeValue(1)))
	require.NoError(t, p.Add(1_000_000+40_000_000, nil, types.GaugeValue(2)))

	require.Len(t, p.Segments(), 2)
}

func TestMaxSegmentsPrunesOldest(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(t)
	opts.MaxSegments = 1

	p, err := partition.Open(dir, "", types.KindGauge, opts, nil)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Add(1_000_000, nil, types.GaugeValue(1)))
	require.NoError(t, p.Add(1_000_000+40_000_000, nil, types.GaugeValue(2)))
	require.NoError(t, p.Add(1_000_000+80_000_000, nil, types.GaugeValue(3)))

	require.Len(t, p.Segments(), 1, "FIFO pruning must keep only max_segments segments")
}
