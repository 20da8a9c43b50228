package segment_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metridb/metridb/internal/segment"
	"github.com/metridb/metridb/internal/types"
)

func openTestSegment(t *testing.T) *segment.Segment {
	t.Helper()
	dir := t.TempDir()
	seg, err := segment.Open(filepath.Join(dir, "storage"), filepath.Join(dir, "index"), 64<<20, 8, 2, 4)
	require.NoError(t, err)
	t.Cleanup(func() { seg.Close() })
	return seg
}

func TestAddDatapointCreatesFirstBlockAndAppends(t *testing.T) {
	seg := openTestSegment(t)

	require.Equal(t, 0, seg.NumBlocks())
	err := seg.AddDatapoint(types.KindCount, 1000, types.Tags{}.Set(0), types.CountValue(1), 600, 0)
	require.NoError(t, err)
	require.Equal(t, 1, seg.NumBlocks())

	blk, ok := seg.ActiveBlock()
	require.True(t, ok)
	require.EqualValues(t, 1000, blk.StartTime())
	require.EqualValues(t, 1000, blk.EndTime())
}

func TestAddDatapointRejectsOutOfOrderTime(t *testing.T) {
	seg := openTestSegment(t)
	require.NoError(t, seg.AddDatapoint(types.KindCount, 1000, types.Tags{}.Set(0), types.CountValue(1), 600, 0))
	require.NoError(t, seg.AddDatapoint(types.KindCount, 1010, types.Tags{}.Set(0), types.CountValue(1), 600, 0))

	err := seg.AddDatapoint(types.KindCount, 1005, types.Tags{}.Set(0), types.CountValue(1), 600, 0)
	require.Error(t, err)
}

func TestAddDatapointRotatesBlockAfterDuration(t *testing.T) {
	seg := openTestSegment(t)
	require.NoError(t, seg.AddDatapoint(types.KindCount, 1000, types.Tags{}.Set(0), types.CountValue(1), 600, 0))
	require.NoError(t, seg.AddDatapoint(types.KindCount, 1700, types.Tags{}.Set(0), types.CountValue(1), 600, 0))

	require.Equal(t, 2, seg.NumBlocks())
	blk, ok := seg.ActiveBlock()
	require.True(t, ok)
	require.EqualValues(t, 1700, blk.StartTime())
}

func TestAddDatapointCoalescesWithinDatapointDuration(t *testing.T) {
	seg := openTestSegment(t)
	tag := types.Tags{}.Set(0)
	require.NoError(t, seg.AddDatapoint(types.KindCount, 1000, tag, types.CountValue(1), 600, 5))
	require.NoError(t, seg.AddDatapoint(types.KindCount, 1003, tag, types.CountValue(1), 600, 5))

	blk, ok := seg.ActiveBlock()
	require.True(t, ok)
	idx, d, ok := blk.FindLiveSubBlock(tag)
	require.True(t, ok)
	require.EqualValues(t, 1, d.Count, "coalesced samples must not append a second datapoint")

	dp, ok := blk.LastDatapoint(types.KindCount, d)
	require.True(t, ok)
	require.EqualValues(t, 2, dp.Value.Count, "count coalescing is additive")
	_ = idx
}

func TestBinarySearchFromStart(t *testing.T) {
	seg := openTestSegment(t)
	require.NoError(t, seg.AddDatapoint(types.KindCount, 1000, types.Tags{}.Set(0), types.CountValue(1), 600, 0))
	require.NoError(t, seg.AddDatapoint(types.KindCount, 1700, types.Tags{}.Set(0), types.CountValue(1), 600, 0))
	require.NoError(t, seg.AddDatapoint(types.KindCount, 2400, types.Tags{}.Set(0), types.CountValue(1), 600, 0))

	idx, ok := seg.BinarySearchFromStart(1650)
	require.True(t, ok)
	require.Equal(t, 1, idx)

	_, ok = seg.BinarySearchFromStart(10000)
	require.False(t, ok)
}

func TestReopenPreservesBlocks(t *testing.T) {
	dir := t.TempDir()
	storagePath := filepath.Join(dir, "storage")
	indexPath := filepath.Join(dir, "index")

	seg1, err := segment.Open(storagePath, indexPath, 64<<20, 8, 2, 4)
	require.NoError(t, err)
	require.NoError(t, seg1.AddDatapoint(types.KindCount, 1000, types.Tags{}.Set(0), types.CountValue(7), 600, 0))
	require.NoError(t, seg1.Sync(false))
	require.NoError(t, seg1.Close())

	seg2, err := segment.Open(storagePath, indexPath, 64<<20, 8, 2, 4)
	require.NoError(t, err)
	defer seg2.Close()

	require.Equal(t, 1, seg2.NumBlocks())
	blk, ok := seg2.ActiveBlock()
	require.True(t, ok)
	require.EqualValues(t, 1000, blk.StartTime())
	dps := blk.Datapoints(types.KindCount, 0)
	require.Len(t, dps, 1)
	require.EqualValues(t, 7, dps[0].Value.Count)
}
