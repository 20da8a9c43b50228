package query

import (
	"sort"
	"strings"
)

// runGrouped implements spec.md §4.G's group-by algorithm: enumerate every
// distinct value observed for secondary-tag key q.GroupBy across all
// partitions, then run the otherwise-identical query once per value with an
// extra AND(tags_filter, [key=value]) constraint, sorting by group value.
func (e *Executor) runGrouped(q Query) (OperationResult, error) {
	start, end, err := e.ticksRange(q.TimeRange)
	if err != nil {
		return OperationResult{Kind: ResultNotSupported}, err
	}

	values := e.distinctGroupValues(q.GroupBy)

	sub := q
	sub.GroupBy = ""

	if sub.Window == nil {
		out := make([]GroupValue, 0, len(values))
		for _, v := range values {
			res, err := e.runScalar(sub, start, end, q.GroupBy+":"+v)
			if err != nil {
				return OperationResult{Kind: ResultNotSupported}, err
			}
			out = append(out, GroupValue{Group: v, Value: res.Value, HasValue: res.HasValue})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
		return OperationResult{Kind: ResultGroupValues, GroupValues: out}, nil
	}

	out := make([]GroupTimeSeries, 0, len(values))
	for _, v := range values {
		res, err := e.runWindowed(sub, start, end, q.GroupBy+":"+v)
		if err != nil {
			return OperationResult{Kind: ResultNotSupported}, err
		}
		out = append(out, GroupTimeSeries{Group: v, Points: res.TimeValues})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return OperationResult{Kind: ResultGroupTimeValues, GroupTimeValues: out}, nil
}

// distinctGroupValues scans every live sub-block descriptor across every
// partition's segments, decodes its tag bitmap back to "key:value" strings
// via tagindex.Index.Decode, and collects the distinct values seen for key.
// Observed bitmaps, not the tag index's interned key space, are the source
// of truth: a key can be interned without ever appearing on a live
// sub-block (e.g. after a prune), and group-by only cares about live data.
func (e *Executor) distinctGroupValues(key string) []string {
	prefix := key + ":"
	seen := map[string]struct{}{}

	for _, p := range e.Partitions {
		idx := p.TagIndex()
		for _, seg := range p.Segments() {
			n := seg.NumBlocks()
			for i := 0; i < n; i++ {
				blk, err := seg.Block(i)
				if err != nil {
					continue
				}
				for s := 0; s < blk.NumDescriptorSlots(); s++ {
					d := blk.Descriptor(s)
					if !d.Live() {
						continue
					}
					for _, tag := range idx.Decode(d.Tags) {
						if v, ok := strings.CutPrefix(tag, prefix); ok {
							seen[v] = struct{}{}
						}
					}
				}
			}
		}
	}

	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
