// Package segment implements Component C of the engine: a memory-mapped
// storage file holding a header plus an append array of blocks, paired with
// a memory-mapped index file holding each block's start offset (spec.md
// §4.C). A Segment is single-writer (the owning partition holds the
// metric's write lock while appending) but safe for concurrent readers
// once a block is no longer active.
package segment

import (
	"encoding/binary"
	"sort"

	"github.com/metridb/metridb/internal/block"
	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/internal/mmapfile"
	"github.com/metridb/metridb/pkg/merrors"
)

// HeaderSize is the storage file's fixed header: num_blocks,
// active_block_index, active_block_start — 3 x uint64.
const HeaderSize = 24

// Segment owns one storage/index mmap'd file pair.
type Segment struct {
	storage *mmapfile.File
	index   *mmapfile.File
	s       int // sub_blocks_per_block

	growthFactor    int
	defaultCapacity int
}

// Open maps the storage and index files at the given paths, each capped at
// maxSize. A freshly created pair starts with a zero-valued header, which
// reads naturally as "zero blocks" — no separate init step is required.
// growthFactor and defaultSubBlockCapacity mirror the like-named options
// and are applied to every block this segment creates.
func Open(storagePath, indexPath string, maxSize int64, subBlocksPerBlock, growthFactor, defaultSubBlockCapacity int) (*Segment, error) {
	storage, err := mmapfile.Open(storagePath, maxSize)
	if err != nil {
		return nil, err
	}
	index, err := mmapfile.Open(indexPath, maxSize)
	if err != nil {
		storage.Close()
		return nil, err
	}
	return &Segment{
		storage:         storage,
		index:           index,
		s:               subBlocksPerBlock,
		growthFactor:    growthFactor,
		defaultCapacity: defaultSubBlockCapacity,
	}, nil
}

// Close unmaps both files.
func (seg *Segment) Close() error {
	ierr := seg.index.Close()
	serr := seg.storage.Close()
	if serr != nil {
		return serr
	}
	return ierr
}

// Sync flushes both mapped files.
func (seg *Segment) Sync(async bool) error {
	if err := seg.storage.Sync(async); err != nil {
		return err
	}
	return seg.index.Sync(async)
}

func (seg *Segment) headerU64(off int64) uint64 {
	if seg.storage.Size() < off+8 {
		return 0
	}
	return binary.NativeEndian.Uint64(seg.storage.Bytes()[off : off+8])
}

func (seg *Segment) setHeaderU64(off int64, v uint64) {
	binary.NativeEndian.PutUint64(seg.storage.Bytes()[off:off+8], v)
}

// NumBlocks returns how many blocks the segment holds.
func (seg *Segment) NumBlocks() int { return int(seg.headerU64(0)) }

// activeBlockStart returns the byte offset (within the storage file) of the
// currently active block, or HeaderSize if no block has been created yet.
func (seg *Segment) activeBlockStart() uint64 {
	if seg.NumBlocks() == 0 {
		return HeaderSize
	}
	return seg.headerU64(16)
}

// Block returns a view of block i (0-based).
func (seg *Segment) Block(i int) (*block.Block, error) {
	if i < 0 || i >= seg.NumBlocks() {
		return nil, merrors.NewStorageError(nil, merrors.ErrorCodeInvalidInput, "block index out of range").
			WithDetail("index", i).WithDetail("num_blocks", seg.NumBlocks())
	}
	off := binary.NativeEndian.Uint64(seg.index.Bytes()[i*8 : i*8+8])
	return block.New(seg.storage.Bytes()[off:], seg.s), nil
}

// ActiveBlock returns the currently active (last, appendable) block, or
// false if the segment has no blocks yet.
func (seg *Segment) ActiveBlock() (*block.Block, bool) {
	if seg.NumBlocks() == 0 {
		return nil, false
	}
	blk, err := seg.Block(seg.NumBlocks() - 1)
	if err != nil {
		return nil, false
	}
	return blk, true
}

// ActiveBlockStartTime returns the active block's start_time.
func (seg *Segment) ActiveBlockStartTime() (uint64, bool) {
	blk, ok := seg.ActiveBlock()
	if !ok {
		return 0, false
	}
	return blk.StartTime(), true
}

// blockStorage adapts a Segment's mmapfile.File to block.Storage for the
// single block currently being appended to.
type blockStorage struct {
	seg        *Segment
	blockStart int64
}

func (bs *blockStorage) Extend(n int) ([]byte, error) {
	needed := bs.blockStart + int64(bs.currentBlockLen()) + int64(n) - bs.seg.storage.Size()
	if needed > 0 {
		if err := bs.seg.storage.Extend(needed); err != nil {
			return nil, err
		}
	}
	return bs.seg.storage.Bytes()[bs.blockStart:], nil
}

func (bs *blockStorage) currentBlockLen() uint64 {
	return block.New(bs.seg.storage.Bytes()[bs.blockStart:], bs.seg.s).Size()
}

// CreateBlock appends a fresh block starting at t, advancing the header
// cursors and the index file, per spec.md §4.C.
func (seg *Segment) CreateBlock(t uint64) error {
	n := seg.NumBlocks()
	newStart := uint64(HeaderSize)
	if n > 0 {
		prevStart := seg.activeBlockStart()
		prevBlk := block.New(seg.storage.Bytes()[prevStart:], seg.s)
		newStart = prevStart + prevBlk.Size()
	}

	headerRegion := int64(block.HeaderRegionSize(seg.s))
	needed := int64(newStart) + headerRegion - seg.storage.Size()
	if needed > 0 {
		if err := seg.storage.Extend(needed); err != nil {
			return err
		}
	}

	blk := block.New(seg.storage.Bytes()[newStart:], seg.s)
	blk.InitHeader(t)

	idxOff := int64(n) * 8
	idxNeeded := idxOff + 8 - seg.index.Size()
	if idxNeeded > 0 {
		if err := seg.index.Extend(idxNeeded); err != nil {
			return err
		}
	}
	binary.NativeEndian.PutUint64(seg.index.Bytes()[idxOff:idxOff+8], newStart)

	seg.setHeaderU64(0, uint64(n+1))
	seg.setHeaderU64(8, uint64(n))
	seg.setHeaderU64(16, newStart)
	return nil
}

// AddDatapoint appends one sample of the given kind, applying block
// rotation (spec.md §4.D) and, when datapointDuration > 0, same-tag
// coalescing within that interval. blockDuration and datapointDuration are
// in ticks.
func (seg *Segment) AddDatapoint(kind types.Kind, absTime uint64, tagMask types.Tags, val types.Value, blockDuration, datapointDuration uint64) error {
	if seg.NumBlocks() == 0 {
		if err := seg.CreateBlock(absTime); err != nil {
			return err
		}
	} else {
		blk, _ := seg.ActiveBlock()
		if absTime < blk.EndTime() {
			return merrors.NewValidationError(nil, merrors.ErrorCodeInvalidTimeOrder, "sample time precedes the active block's end time").
				WithField("time").WithProvided(absTime).WithExpected(blk.EndTime())
		}

		if datapointDuration > 0 {
			if idx, d, ok := blk.FindLiveSubBlock(tagMask); ok {
				if last, ok2 := blk.LastDatapoint(kind, d); ok2 {
					lastAbs := blk.StartTime() + uint64(last.TimeOffset)
					if absTime-lastAbs <= datapointDuration {
						blk.CoalesceLast(kind, idx, d, val)
						return nil
					}
				}
			}
		}

		if absTime-blk.StartTime() >= blockDuration {
			if err := seg.CreateBlock(absTime); err != nil {
				return err
			}
		}
	}

	activeStart := seg.activeBlockStart()
	blk := block.New(seg.storage.Bytes()[activeStart:], seg.s)
	bs := &blockStorage{seg: seg, blockStart: int64(activeStart)}
	return blk.Append(bs, kind, seg.growthFactor, seg.defaultCapacity, absTime, tagMask, val)
}

// BinarySearchFromStart returns the smallest block index i with
// block[i].EndTime() >= start, and false if no such block exists
// (invariant 2 of spec.md §8).
func (seg *Segment) BinarySearchFromStart(start uint64) (int, bool) {
	n := seg.NumBlocks()
	i := sort.Search(n, func(i int) bool {
		blk, err := seg.Block(i)
		if err != nil {
			return false
		}
		return blk.EndTime() >= start
	})
	if i >= n {
		return 0, false
	}
	return i, true
}
