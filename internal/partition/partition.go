// Package partition implements Component E: one primary-tag value's segment
// chain plus its secondary-tag index (spec.md §3 "Partition"). The Default
// partition (primary label "") is just a Partition whose label is empty; the
// query layer compiles its filters with tagindex.CompilePrimary("", f) like
// any other partition, which naturally degrades to a plain secondary mask.
package partition

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/metridb/metridb/internal/segment"
	"github.com/metridb/metridb/internal/tagindex"
	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/pkg/merrors"
	"github.com/metridb/metridb/pkg/options"
	"github.com/metridb/metridb/pkg/seginfo"
)

// Partition owns a chain of segments and a secondary-tag index for one
// primary-tag value of one metric.
type Partition struct {
	dir          string
	segmentsRoot string
	label        string
	kind         types.Kind
	opts         options.Options
	log          *zap.SugaredLogger

	tagIdx     *tagindex.Index
	segments   []*segment.Segment
	segmentIDs []uint64
}

// Open loads (or creates) the partition rooted at dir for the given primary
// label ("" for Default) and metric kind.
func Open(dir, label string, kind types.Kind, opts options.Options, log *zap.SugaredLogger) (*Partition, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, merrors.ClassifyDirectoryCreationError(err, dir)
	}

	tagIdx, err := tagindex.Open(dir)
	if err != nil {
		return nil, err
	}

	segmentsRoot := filepath.Join(dir, opts.SegmentDirName)
	ids, err := seginfo.ListIDs(segmentsRoot)
	if err != nil {
		return nil, merrors.NewStorageError(err, merrors.ErrorCodeIO, "failed to list segments").WithPath(segmentsRoot)
	}
	if len(ids) == 0 {
		ids = []uint64{0}
	}

	p := &Partition{
		dir:          dir,
		segmentsRoot: segmentsRoot,
		label:        label,
		kind:         kind,
		opts:         opts,
		log:          log,
		tagIdx:       tagIdx,
		segments:     make([]*segment.Segment, 0, len(ids)),
		segmentIDs:   ids,
	}

	for _, id := range ids {
		seg, err := p.openSegment(id)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.segments = append(p.segments, seg)
	}

	return p, nil
}

func (p *Partition) openSegment(id uint64) (*segment.Segment, error) {
	if err := os.MkdirAll(seginfo.SegmentDir(p.segmentsRoot, id), 0755); err != nil {
		return nil, merrors.ClassifyDirectoryCreationError(err, seginfo.SegmentDir(p.segmentsRoot, id))
	}
	return segment.Open(
		seginfo.StoragePath(p.segmentsRoot, id),
		seginfo.IndexPath(p.segmentsRoot, id),
		int64(p.opts.MaxSegmentFileSize),
		p.opts.SubBlocksPerBlock,
		p.opts.SubBlockGrowthFactor,
		p.opts.DefaultSubBlockCapacity,
	)
}

// Label returns the partition's primary-tag label ("" for Default).
func (p *Partition) Label() string { return p.label }

// TagIndex returns the partition's secondary-tag index.
func (p *Partition) TagIndex() *tagindex.Index { return p.tagIdx }

// Segments returns the partition's segments in time order (oldest first).
func (p *Partition) Segments() []*segment.Segment { return p.segments }

func (p *Partition) activeSegment() *segment.Segment {
	return p.segments[len(p.segments)-1]
}

// Add encodes tags against the partition's secondary-tag index and appends
// one sample, rotating the active segment and pruning expired ones as
// configured.
func (p *Partition) Add(absTime uint64, tags []string, val types.Value) error {
	mask, err := p.tagIdx.Encode(tags)
	if err != nil {
		return err
	}

	if err := p.maybeRotate(absTime); err != nil {
		return err
	}

	blockDuration := uint64(p.opts.BlockDuration / time.Microsecond)
	datapointDuration := uint64(p.opts.DatapointDuration / time.Microsecond)
	return p.activeSegment().AddDatapoint(p.kind, absTime, mask, val, blockDuration, datapointDuration)
}

// maybeRotate starts a fresh segment once the active one's first block is
// older than segment_duration, then prunes the oldest segment(s) if
// max_segments is exceeded (FIFO, per spec.md §4.D "Segment rotation").
func (p *Partition) maybeRotate(absTime uint64) error {
	active := p.activeSegment()
	if p.opts.SegmentDuration > 0 {
		if firstBlock, err := active.Block(0); err == nil {
			segmentDurationTicks := uint64(p.opts.SegmentDuration / time.Microsecond)
			if absTime-firstBlock.StartTime() >= segmentDurationTicks {
				if err := p.rotate(); err != nil {
					return err
				}
			}
		}
	}

	if p.opts.MaxSegments > 0 {
		for len(p.segments) > p.opts.MaxSegments {
			if err := p.pruneOldest(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Partition) rotate() error {
	if err := p.activeSegment().Sync(false); err != nil {
		return err
	}

	nextID := p.segmentIDs[len(p.segmentIDs)-1] + 1
	seg, err := p.openSegment(nextID)
	if err != nil {
		return err
	}

	p.segments = append(p.segments, seg)
	p.segmentIDs = append(p.segmentIDs, nextID)
	if p.log != nil {
		p.log.Infow("rotated segment", "partition", p.label, "segment_id", nextID)
	}
	return nil
}

// pruneOldest archives (if a codec is configured) then deletes the oldest
// segment.
func (p *Partition) pruneOldest() error {
	oldest := p.segments[0]
	oldestID := p.segmentIDs[0]

	if codec := segment.NewCodec(p.opts.SegmentCodec); codec != nil {
		archiveDir := filepath.Join(p.dir, "archive", seginfo.DirName(oldestID))
		if err := os.MkdirAll(archiveDir, 0755); err != nil {
			return merrors.ClassifyDirectoryCreationError(err, archiveDir)
		}
		if err := oldest.Archive(codec,
			filepath.Join(archiveDir, seginfo.StorageFileName+".archive"),
			filepath.Join(archiveDir, seginfo.IndexFileName+".archive"),
		); err != nil {
			return err
		}
	}

	if err := oldest.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(seginfo.SegmentDir(p.segmentsRoot, oldestID)); err != nil {
		return merrors.NewStorageError(err, merrors.ErrorCodeIO, "failed to remove pruned segment").
			WithPath(seginfo.SegmentDir(p.segmentsRoot, oldestID))
	}

	p.segments = p.segments[1:]
	p.segmentIDs = p.segmentIDs[1:]
	if p.log != nil {
		p.log.Infow("pruned segment", "partition", p.label, "segment_id", oldestID)
	}
	return nil
}

// Sync flushes every open segment.
func (p *Partition) Sync(async bool) error {
	for _, seg := range p.segments {
		if err := seg.Sync(async); err != nil {
			return err
		}
	}
	return nil
}

// Close unmaps every open segment.
func (p *Partition) Close() error {
	var first error
	for _, seg := range p.segments {
		if err := seg.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
