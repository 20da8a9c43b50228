// Package mmapfile provides a contiguous, growable memory-mapped byte region
// backed by a file — Component A of the engine (spec.md §4.A).
//
// The mapping is reserved at its hard maximum size up front
// (mmap.MapRegion over the full max_size, MAP_SHARED) so that offsets handed
// out by higher layers (internal/segment, internal/block) stay stable for
// the File's entire lifetime: nothing ever needs to be remapped. The backing
// file, on the other hand, starts small and is only grown (via Extend) to
// cover the pages a caller is about to touch — touching a mapped page the
// file doesn't yet back raises SIGBUS, so Extend must run before any write
// past the previous logical size.
package mmapfile

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/metridb/metridb/pkg/merrors"
)

// File is one memory-mapped, growable byte region over one on-disk file.
type File struct {
	mu      sync.Mutex
	f       *os.File
	data    mmap.MMap
	path    string
	size    int64 // logical size: how many bytes the caller has reserved via Extend.
	maxSize int64 // hard cap of the mapping; Extend past it fails.
	pageSz  int64
}

// Open maps maxSize bytes of path into the address space. A freshly created
// or empty file is truncated to one page; a file that already has content
// keeps its length as the File's logical size — the recovery path for
// reopening a segment that already holds data.
func Open(path string, maxSize int64) (*File, error) {
	flags := os.O_CREATE | os.O_RDWR
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, merrors.ClassifyFileOpenError(err, path, filenameOf(path))
	}

	pageSz := int64(os.Getpagesize())

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, merrors.NewStorageError(err, merrors.ErrorCodeIO, "failed to stat segment file").
			WithPath(path)
	}

	size := info.Size()
	if size == 0 {
		if err := f.Truncate(pageSz); err != nil {
			f.Close()
			return nil, merrors.NewStorageError(err, merrors.ErrorCodeIO, "failed to initialize segment file").
				WithPath(path)
		}
	}

	data, err := mmap.MapRegion(f, int(maxSize), mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, merrors.NewStorageError(err, merrors.ErrorCodeMemoryFile, "failed to mmap segment file").
			WithPath(path)
	}

	return &File{
		f:       f,
		data:    data,
		path:    path,
		size:    size,
		maxSize: maxSize,
		pageSz:  pageSz,
	}, nil
}

// Bytes returns the full mapped region. Bytes at offsets >= Size() are not
// yet backed by the file and must not be touched until a matching Extend
// has run.
func (mf *File) Bytes() []byte {
	return mf.data
}

// Size returns the current logical size — how many bytes have been reserved
// (and are safe to read/write) via Extend.
func (mf *File) Size() int64 {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	return mf.size
}

// MaxSize returns the hard cap of the mapping.
func (mf *File) MaxSize() int64 {
	return mf.maxSize
}

// Extend reserves n more logical bytes, growing the backing file to the
// next page multiple if needed. It fails if the new logical size would
// exceed MaxSize.
func (mf *File) Extend(n int64) error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	newSize := mf.size + n
	if newSize > mf.maxSize {
		return merrors.NewStorageError(nil, merrors.ErrorCodeMemoryFile, "segment file exceeds maximum size").
			WithPath(mf.path).
			WithDetail("requested", newSize).
			WithDetail("max", mf.maxSize)
	}

	fileLen, err := mf.fileLen()
	if err != nil {
		return err
	}

	if newSize > fileLen {
		target := nextPageMultiple(newSize, mf.pageSz)
		if target > mf.maxSize {
			target = mf.maxSize
		}
		if err := mf.f.Truncate(target); err != nil {
			return merrors.ClassifySyncError(err, filenameOf(mf.path), mf.path, newSize)
		}
	}

	mf.size = newSize
	return nil
}

// Sync flushes the mapped region to disk (msync). With async, the flush runs
// on a new goroutine and Sync returns nil at once; an error from that flush
// is discarded. mmap-go's Flush is always synchronous, so "async" is a
// dispatch decision, not a different syscall; see internal/registry's flush
// ticker.
func (mf *File) Sync(async bool) error {
	flush := func() error {
		if err := mf.data.Flush(); err != nil {
			return merrors.ClassifySyncError(err, filenameOf(mf.path), mf.path, mf.Size())
		}
		return nil
	}

	if !async {
		return flush()
	}

	go func() {
		_ = flush()
	}()
	return nil
}

// Close unmaps the region and closes the backing file.
func (mf *File) Close() error {
	if err := mf.data.Unmap(); err != nil {
		return merrors.NewStorageError(err, merrors.ErrorCodeMemoryFile, "failed to unmap segment file").
			WithPath(mf.path)
	}
	return mf.f.Close()
}

func (mf *File) fileLen() (int64, error) {
	info, err := mf.f.Stat()
	if err != nil {
		return 0, merrors.NewStorageError(err, merrors.ErrorCodeIO, "failed to stat segment file").
			WithPath(mf.path)
	}
	return info.Size(), nil
}

func nextPageMultiple(n, pageSz int64) int64 {
	if n%pageSz == 0 {
		return n
	}
	return (n/pageSz + 1) * pageSz
}

func filenameOf(path string) string {
	return filepath.Base(path)
}
