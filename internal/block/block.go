// Package block implements the on-disk layout and insertion policy of a
// block: a fixed-cardinality sub-block descriptor table plus the
// variable-length datapoint payloads that table points into (spec.md §4.D
// — "the interesting hot path").
//
// A Block is a thin, stateless codec over a byte region handed to it by
// internal/segment; it never owns memory itself. Growing a block's region
// (sub-block append-in-place, grow-in-place, or allocating a fresh
// sub-block) is delegated to the Storage the caller supplies, since only
// the segment knows how to extend the underlying memory-mapped file and
// reslice from it.
package block

import (
	"encoding/binary"
	"math"

	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/pkg/merrors"
)

// Field widths of the host-endian packed layout described in spec.md §6.
const (
	HeaderSize     = 40 // size, start_time, end_time, num_sub_blocks, next_sub_block_offset: 5 x uint64.
	DescriptorSize = 32 // offset:uint64, capacity:uint32, count:uint32, tags:2x uint64.
	DatapointSize  = 12 // time_offset:uint32, value: 2x uint32 slots.
)

// DescriptorTableSize returns the byte size of s descriptors.
func DescriptorTableSize(s int) int { return s * DescriptorSize }

// HeaderRegionSize returns the byte size of the header plus an s-entry
// descriptor table — the offset at which sub-block payloads begin.
func HeaderRegionSize(s int) int { return HeaderSize + DescriptorTableSize(s) }

// Descriptor mirrors one sub-block descriptor entry.
type Descriptor struct {
	Offset   uint64 // byte offset from the block's payload base.
	Capacity uint32 // 0 means unused; Count == 0 with Capacity > 0 means freed.
	Count    uint32
	Tags     types.Tags
}

func (d Descriptor) unused() bool { return d.Capacity == 0 }
func (d Descriptor) live() bool   { return d.Capacity > 0 && d.Count > 0 }
func (d Descriptor) freed() bool  { return d.Capacity > 0 && d.Count == 0 }

// Live reports whether d is a populated, in-use sub-block descriptor —
// exported for callers (internal/query's scan step) that need to skip
// unused/freed descriptor slots without reaching into block internals.
func (d Descriptor) Live() bool { return d.live() }

// Storage is what a Block needs from its owning segment: the ability to
// grow this (the last, active) block's region by n bytes at its tail and
// get back the region re-sliced from the underlying mapping.
type Storage interface {
	Extend(n int) ([]byte, error)
}

// Block is a read/write view over one block's byte region: header,
// descriptor table, and payload.
type Block struct {
	buf []byte
	s   int // sub_blocks_per_block (S)
}

// New wraps buf — a block's full region, header through current payload
// end — as a Block with an s-entry descriptor table.
func New(buf []byte, s int) *Block {
	return &Block{buf: buf, s: s}
}

// InitHeader writes a fresh block header: size = HeaderRegionSize(s),
// start_time = end_time = t, zero sub-blocks, zero descriptors (relies on
// the region already being zero-filled, which mmapfile.Extend guarantees
// for freshly grown pages).
func (b *Block) InitHeader(t uint64) {
	b.setSize(uint64(HeaderRegionSize(b.s)))
	b.SetStartTime(t)
	b.SetEndTime(t)
	b.setNumSubBlocks(0)
	b.setNextSubBlockOffset(0)
}

func (b *Block) Size() uint64               { return binary.NativeEndian.Uint64(b.buf[0:8]) }
func (b *Block) setSize(n uint64)           { binary.NativeEndian.PutUint64(b.buf[0:8], n) }
func (b *Block) StartTime() uint64          { return binary.NativeEndian.Uint64(b.buf[8:16]) }
func (b *Block) SetStartTime(t uint64)      { binary.NativeEndian.PutUint64(b.buf[8:16], t) }
func (b *Block) EndTime() uint64            { return binary.NativeEndian.Uint64(b.buf[16:24]) }
func (b *Block) SetEndTime(t uint64)        { binary.NativeEndian.PutUint64(b.buf[16:24], t) }
func (b *Block) NumSubBlocks() uint64       { return binary.NativeEndian.Uint64(b.buf[24:32]) }
func (b *Block) setNumSubBlocks(n uint64)   { binary.NativeEndian.PutUint64(b.buf[24:32], n) }
func (b *Block) NextSubBlockOffset() uint64 { return binary.NativeEndian.Uint64(b.buf[32:40]) }
func (b *Block) setNextSubBlockOffset(n uint64) {
	binary.NativeEndian.PutUint64(b.buf[32:40], n)
}

// Rebind replaces the block's backing region after the caller has grown it
// (the underlying array may have been extended in place, but the slice
// header must be refreshed so buf's length matches the new logical size).
func (b *Block) Rebind(buf []byte) { b.buf = buf }

func (b *Block) descriptorOffset(i int) int { return HeaderSize + i*DescriptorSize }

// Descriptor reads sub-block descriptor i.
func (b *Block) Descriptor(i int) Descriptor {
	off := b.descriptorOffset(i)
	return Descriptor{
		Offset:   binary.NativeEndian.Uint64(b.buf[off : off+8]),
		Capacity: binary.NativeEndian.Uint32(b.buf[off+8 : off+12]),
		Count:    binary.NativeEndian.Uint32(b.buf[off+12 : off+16]),
		Tags: types.Tags{
			binary.NativeEndian.Uint64(b.buf[off+16 : off+24]),
			binary.NativeEndian.Uint64(b.buf[off+24 : off+32]),
		},
	}
}

// SetDescriptor writes sub-block descriptor i.
func (b *Block) SetDescriptor(i int, d Descriptor) {
	off := b.descriptorOffset(i)
	binary.NativeEndian.PutUint64(b.buf[off:off+8], d.Offset)
	binary.NativeEndian.PutUint32(b.buf[off+8:off+12], d.Capacity)
	binary.NativeEndian.PutUint32(b.buf[off+12:off+16], d.Count)
	binary.NativeEndian.PutUint64(b.buf[off+16:off+24], d.Tags[0])
	binary.NativeEndian.PutUint64(b.buf[off+24:off+32], d.Tags[1])
}

// PayloadBase returns the offset at which sub-block payloads begin.
func (b *Block) PayloadBase() int { return HeaderRegionSize(b.s) }

// NumDescriptorSlots returns the fixed descriptor-table size S this block
// was opened with — the valid index range for Descriptor/SetDescriptor.
func (b *Block) NumDescriptorSlots() int { return b.s }

func (b *Block) datapointOffset(d Descriptor, index uint32) int {
	return b.PayloadBase() + int(d.Offset) + int(index)*DatapointSize
}

// readDatapoint reads datapoint index within sub-block d, decoded under kind.
func (b *Block) readDatapoint(kind types.Kind, d Descriptor, index uint32) types.Datapoint {
	off := b.datapointOffset(d, index)
	timeOffset := binary.NativeEndian.Uint32(b.buf[off : off+4])
	slot0 := binary.NativeEndian.Uint32(b.buf[off+4 : off+8])
	slot1 := binary.NativeEndian.Uint32(b.buf[off+8 : off+12])
	return types.Datapoint{TimeOffset: timeOffset, Value: decodeValue(kind, slot0, slot1)}
}

// writeDatapoint writes datapoint index within sub-block d.
func (b *Block) writeDatapoint(kind types.Kind, d Descriptor, index uint32, dp types.Datapoint) {
	off := b.datapointOffset(d, index)
	binary.NativeEndian.PutUint32(b.buf[off:off+4], dp.TimeOffset)
	slot0, slot1 := encodeValue(kind, dp.Value)
	binary.NativeEndian.PutUint32(b.buf[off+4:off+8], slot0)
	binary.NativeEndian.PutUint32(b.buf[off+8:off+12], slot1)
}

// FindLiveSubBlock returns the live descriptor (and its index) carrying
// exactly tagMask, if any — exported for the datapoint-coalescing decision
// made by internal/segment (spec.md §4.D "Datapoint coalescing").
func (b *Block) FindLiveSubBlock(tagMask types.Tags) (int, Descriptor, bool) {
	return b.findLive(tagMask)
}

// LastDatapoint returns the most recently appended datapoint of descriptor d.
func (b *Block) LastDatapoint(kind types.Kind, d Descriptor) (types.Datapoint, bool) {
	if d.Count == 0 {
		return types.Datapoint{}, false
	}
	return b.readDatapoint(kind, d, d.Count-1), true
}

// CoalesceLast overwrites descriptor idx's most recent datapoint with val
// combined per kind (gauge: last-wins; count/ratio: additive) instead of
// appending a new one, per spec.md §4.D "Datapoint coalescing".
func (b *Block) CoalesceLast(kind types.Kind, idx int, d Descriptor, val types.Value) {
	last, _ := b.LastDatapoint(kind, d)
	var combined types.Value
	switch kind {
	case types.KindGauge:
		combined = val
	case types.KindCount:
		combined = types.Value{Count: last.Value.Count + val.Count}
	case types.KindRatio:
		combined = types.Value{Num: last.Value.Num + val.Num, Den: last.Value.Den + val.Den}
	}
	b.writeDatapoint(kind, d, d.Count-1, types.Datapoint{TimeOffset: last.TimeOffset, Value: combined})
}

// Datapoints returns every stored datapoint of sub-block i in append order.
func (b *Block) Datapoints(kind types.Kind, i int) []types.Datapoint {
	d := b.Descriptor(i)
	out := make([]types.Datapoint, d.Count)
	for j := uint32(0); j < d.Count; j++ {
		out[j] = b.readDatapoint(kind, d, j)
	}
	return out
}

func encodeValue(kind types.Kind, v types.Value) (slot0, slot1 uint32) {
	switch kind {
	case types.KindGauge:
		return math.Float32bits(v.Gauge), 0
	case types.KindCount:
		return v.Count, 0
	case types.KindRatio:
		return v.Num, v.Den
	default:
		return 0, 0
	}
}

func decodeValue(kind types.Kind, slot0, slot1 uint32) types.Value {
	switch kind {
	case types.KindGauge:
		return types.Value{Gauge: math.Float32frombits(slot0)}
	case types.KindCount:
		return types.Value{Count: slot0}
	case types.KindRatio:
		return types.Value{Num: slot0, Den: slot1}
	default:
		return types.Value{}
	}
}

// Append implements the sub-block insertion policy of spec.md §4.D for tag
// mask tagMask and absolute time absTime (already validated by the caller
// against block-rotation and coalescing rules — Append only ever grows the
// block, never rejects on time order).
func (b *Block) Append(storage Storage, kind types.Kind, growthFactor, defaultCapacity int, absTime uint64, tagMask types.Tags, val types.Value) error {
	timeOffset := uint32(absTime - b.StartTime())

	if idx, d, ok := b.findLive(tagMask); ok {
		if d.Count < d.Capacity {
			b.writeDatapoint(kind, d, d.Count, types.Datapoint{TimeOffset: timeOffset, Value: val})
			d.Count++
			b.SetDescriptor(idx, d)
		} else if b.isLast(idx, d) {
			if err := b.growInPlace(storage, idx, d, growthFactor); err != nil {
				return err
			}
			d = b.Descriptor(idx)
			b.writeDatapoint(kind, d, d.Count, types.Datapoint{TimeOffset: timeOffset, Value: val})
			d.Count++
			b.SetDescriptor(idx, d)
		} else {
			newIdx, newDesc, err := b.copyToNew(storage, kind, idx, d, defaultCapacity)
			if err != nil {
				return err
			}
			b.writeDatapoint(kind, newDesc, newDesc.Count, types.Datapoint{TimeOffset: timeOffset, Value: val})
			newDesc.Count++
			b.SetDescriptor(newIdx, newDesc)
		}
	} else {
		idx, d, err := b.selectForNewTag(storage, tagMask, defaultCapacity)
		if err != nil {
			return err
		}
		b.writeDatapoint(kind, d, 0, types.Datapoint{TimeOffset: timeOffset, Value: val})
		d.Count = 1
		b.SetDescriptor(idx, d)
	}

	if absTime > b.EndTime() {
		b.SetEndTime(absTime)
	}
	b.setSize(uint64(b.PayloadBase()) + b.NextSubBlockOffset())
	return nil
}

// findLive returns the live descriptor (and its index) carrying exactly tagMask.
func (b *Block) findLive(tagMask types.Tags) (int, Descriptor, bool) {
	for i := 0; i < b.s; i++ {
		d := b.Descriptor(i)
		if d.live() && d.Tags == tagMask {
			return i, d, true
		}
	}
	return 0, Descriptor{}, false
}

// isLast reports whether descriptor idx (with payload offset d.Offset) is
// the live sub-block with the highest offset, i.e. the one whose payload
// directly precedes next_sub_block_offset and can be extended without
// displacing any other sub-block's bytes.
func (b *Block) isLast(idx int, d Descriptor) bool {
	for i := 0; i < b.s; i++ {
		if i == idx {
			continue
		}
		other := b.Descriptor(i)
		if other.live() && other.Offset > d.Offset {
			return false
		}
	}
	return true
}

// growInPlace doubles (or multiplies by growthFactor) the capacity of the
// last live sub-block by extending the block's storage at its tail.
func (b *Block) growInPlace(storage Storage, idx int, d Descriptor, growthFactor int) error {
	newCapacity := d.Count * uint32(growthFactor)
	if newCapacity <= d.Capacity {
		newCapacity = d.Capacity + 1
	}
	delta := int(newCapacity-d.Capacity) * DatapointSize

	buf, err := storage.Extend(delta)
	if err != nil {
		return err
	}
	b.Rebind(buf)

	d = b.Descriptor(idx)
	d.Capacity = newCapacity
	b.SetDescriptor(idx, d)
	b.setNextSubBlockOffset(b.NextSubBlockOffset() + uint64(delta))
	return nil
}

// copyToNew allocates a fresh sub-block for tagMask, copies old's live
// datapoints into it, and frees the old descriptor — step 1c of spec.md
// §4.D; the vacated bytes are intentionally not reclaimed within the
// block's lifetime.
func (b *Block) copyToNew(storage Storage, kind types.Kind, oldIdx int, old Descriptor, defaultCapacity int) (int, Descriptor, error) {
	newIdx, newDesc, err := b.allocate(storage, old.Tags, max(defaultCapacity, int(old.Count)*2))
	if err != nil {
		return 0, Descriptor{}, err
	}

	for i := uint32(0); i < old.Count; i++ {
		dp := b.readDatapoint(kind, old, i)
		b.writeDatapoint(kind, newDesc, i, dp)
	}
	newDesc.Count = old.Count
	b.SetDescriptor(newIdx, newDesc)

	old.Count = 0
	old.Tags = types.Tags{}
	b.SetDescriptor(oldIdx, old)

	return newIdx, b.Descriptor(newIdx), nil
}

// selectForNewTag implements step 2 of spec.md §4.D: reuse a freed
// descriptor with enough capacity, or allocate a fresh one.
func (b *Block) selectForNewTag(storage Storage, tagMask types.Tags, defaultCapacity int) (int, Descriptor, error) {
	for i := 0; i < b.s; i++ {
		d := b.Descriptor(i)
		if d.freed() && d.Capacity >= uint32(defaultCapacity) {
			d.Tags = tagMask
			d.Count = 0
			b.SetDescriptor(i, d)
			return i, d, nil
		}
	}
	return b.allocate(storage, tagMask, defaultCapacity)
}

// allocate extends the block by capacity datapoints for a brand-new
// descriptor carrying tagMask, taking the first wholly unused slot. Fails
// with ErrorCodeSubBlockTableFull if none remains (spec.md §9 open
// question, resolved in DESIGN.md: reject rather than spill or compact).
func (b *Block) allocate(storage Storage, tagMask types.Tags, capacity int) (int, Descriptor, error) {
	slot := -1
	for i := 0; i < b.s; i++ {
		if b.Descriptor(i).unused() {
			slot = i
			break
		}
	}
	if slot < 0 {
		return 0, Descriptor{}, merrors.NewStorageError(nil, merrors.ErrorCodeSubBlockTableFull,
			"block sub-block descriptor table is full")
	}

	delta := capacity * DatapointSize
	buf, err := storage.Extend(delta)
	if err != nil {
		return 0, Descriptor{}, err
	}
	b.Rebind(buf)

	d := Descriptor{
		Offset:   b.NextSubBlockOffset(),
		Capacity: uint32(capacity),
		Count:    0,
		Tags:     tagMask,
	}
	b.SetDescriptor(slot, d)
	b.setNextSubBlockOffset(b.NextSubBlockOffset() + uint64(delta))
	b.setNumSubBlocks(b.NumSubBlocks() + 1)
	return slot, d, nil
}
