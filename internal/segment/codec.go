package segment

import (
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/metridb/metridb/pkg/merrors"
	"github.com/metridb/metridb/pkg/options"
)

// Codec compresses a rotated-out segment's storage bytes for cold,
// read-mostly archival — mirrors the small Codec interface the pack's
// mebo/compress package wraps around the same two libraries.
type Codec interface {
	Compress(dst io.Writer, src []byte) error
}

// NewCodec returns the Codec for c, or nil for options.CodecNone (no
// archival compression).
func NewCodec(c options.Codec) Codec {
	switch c {
	case options.CodecZstd:
		return zstdCodec{}
	case options.CodecLZ4:
		return lz4Codec{}
	default:
		return nil
	}
}

type zstdCodec struct{}

func (zstdCodec) Compress(dst io.Writer, src []byte) error {
	w, err := zstd.NewWriter(dst)
	if err != nil {
		return merrors.NewStorageError(err, merrors.ErrorCodeIO, "failed to open zstd writer")
	}
	if _, err := w.Write(src); err != nil {
		w.Close()
		return merrors.NewStorageError(err, merrors.ErrorCodeIO, "failed to compress segment")
	}
	return w.Close()
}

type lz4Codec struct{}

func (lz4Codec) Compress(dst io.Writer, src []byte) error {
	w := lz4.NewWriter(dst)
	if _, err := w.Write(src); err != nil {
		w.Close()
		return merrors.NewStorageError(err, merrors.ErrorCodeIO, "failed to compress segment")
	}
	return w.Close()
}

// Archive writes a compressed copy of the segment's current storage and
// index bytes to storageArchivePath/indexArchivePath using codec. The live
// mmap'd files are untouched — this produces a cold, space-efficient
// artifact for a segment that is being retired (rotated out and about to be
// pruned), not a replacement for the active query path.
func (seg *Segment) Archive(codec Codec, storageArchivePath, indexArchivePath string) error {
	if codec == nil {
		return nil
	}

	if err := archiveOne(codec, storageArchivePath, seg.storage.Bytes()[:seg.storage.Size()]); err != nil {
		return err
	}
	return archiveOne(codec, indexArchivePath, seg.index.Bytes()[:seg.index.Size()])
}

func archiveOne(codec Codec, path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return merrors.ClassifyFileOpenError(err, path, path)
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := codec.Compress(&buf, data); err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		return merrors.NewStorageError(err, merrors.ErrorCodeIO, "failed to write archive file").WithPath(path)
	}
	return nil
}
