package query

import (
	"container/heap"

	"github.com/metridb/metridb/internal/block"
	"github.com/metridb/metridb/internal/partition"
	"github.com/metridb/metridb/internal/types"
)

// tagMask is anything that can test a sub-block's tag bitmap against a
// compiled filter: types.MaskFilter for a plain query, andMask for
// group-by's extra AND(key=value) constraint (spec.md §4.G "Group-by").
type tagMask interface {
	Accept(tags types.Tags) bool
}

// andMask conjoins a base mask with one extra required bit, without needing
// a recursive filter tree: group-by compiles its AND(tags_filter, [k=v])
// step this way rather than reshaping tagindex.Filter into a general tree.
type andMask struct {
	base  tagMask
	extra types.Tags
}

func (m andMask) Accept(tags types.Tags) bool {
	return m.base.Accept(tags) && tags.Contains(m.extra)
}

// scan implements steps 3-4 of spec.md §4.G over one partition: binary
// search to the first block that can overlap [start, end), then scan
// forward, visiting every datapoint in range whose sub-block satisfies mask.
func scan(p *partition.Partition, kind types.Kind, mask tagMask, start, end uint64, strict bool, visit func(ts uint64, v types.Value)) error {
	segments := p.Segments()
	started := false

	for _, seg := range segments {
		n := seg.NumBlocks()
		from := 0
		if !started {
			idx, ok := seg.BinarySearchFromStart(start)
			if !ok {
				continue
			}
			from = idx
			started = true
		}

		for i := from; i < n; i++ {
			blk, err := seg.Block(i)
			if err != nil {
				return err
			}
			if blk.StartTime() >= end {
				return nil
			}
			if strict {
				scanBlockStrict(blk, kind, mask, start, end, visit)
			} else {
				scanBlock(blk, kind, mask, start, end, visit)
			}
		}
	}
	return nil
}

// scanBlock iterates live, mask-matching sub-blocks in descriptor order,
// each in its own stored append order — cheap, but not globally time-sorted
// across sub-blocks within the block.
func scanBlock(blk *block.Block, kind types.Kind, mask tagMask, start, end uint64, visit func(ts uint64, v types.Value)) {
	for i := 0; i < blk.NumDescriptorSlots(); i++ {
		d := blk.Descriptor(i)
		if !d.Live() || !mask.Accept(d.Tags) {
			continue
		}
		for _, dp := range blk.Datapoints(kind, i) {
			ts := blk.StartTime() + uint64(dp.TimeOffset)
			if ts < start || ts >= end {
				continue
			}
			visit(ts, dp.Value)
		}
	}
}

// subBlockCursor is one matching sub-block's remaining datapoints, for the
// strict k-way merge scan.
type subBlockCursor struct {
	slot int // descriptor slot, used as the stable tie-break key.
	dps  []types.Datapoint
	pos  int
}

// cursorHeap orders cursors by their head datapoint's time_offset, breaking
// ties by ascending descriptor slot (spec.md §4.G "stable tie-break by
// sub-block index").
type cursorHeap []*subBlockCursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	a, b := h[i].dps[h[i].pos], h[j].dps[h[j].pos]
	if a.TimeOffset != b.TimeOffset {
		return a.TimeOffset < b.TimeOffset
	}
	return h[i].slot < h[j].slot
}
func (h cursorHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)        { *h = append(*h, x.(*subBlockCursor)) }
func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// scanBlockStrict merges every matching sub-block's datapoints into one
// globally time-ordered stream before visiting (spec.md §4.G "strict
// ordering across sub-blocks").
func scanBlockStrict(blk *block.Block, kind types.Kind, mask tagMask, start, end uint64, visit func(ts uint64, v types.Value)) {
	h := make(cursorHeap, 0, blk.NumDescriptorSlots())
	for i := 0; i < blk.NumDescriptorSlots(); i++ {
		d := blk.Descriptor(i)
		if !d.Live() || !mask.Accept(d.Tags) {
			continue
		}
		dps := blk.Datapoints(kind, i)
		if len(dps) == 0 {
			continue
		}
		h = append(h, &subBlockCursor{slot: i, dps: dps})
	}
	heap.Init(&h)

	for h.Len() > 0 {
		cur := h[0]
		dp := cur.dps[cur.pos]
		ts := blk.StartTime() + uint64(dp.TimeOffset)
		if ts >= start && ts < end {
			visit(ts, dp.Value)
		}
		cur.pos++
		if cur.pos >= len(cur.dps) {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
	}
}
