// Package seginfo locates and names the numbered segment directories a
// partition's segment chain is made of.
//
// Layout: <partitionRoot>/segments/<n>/storage and
// <partitionRoot>/segments/<n>/index, where <n> is a monotonically
// increasing, unpadded decimal segment ID starting at 0. This is the
// directory-chain analogue of the teacher's
// "prefix_NNNNN_timestamp.seg" flat-file naming: discovery still works by
// listing the directory and taking the highest ID, just over `os.ReadDir`
// entries instead of a glob over file names.
package seginfo

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
)

const (
	StorageFileName = "storage"
	IndexFileName   = "index"
)

// DirName returns the directory name for segment id.
func DirName(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// ParseDirID parses a segment directory name back into its numeric ID.
func ParseDirID(name string) (uint64, error) {
	id, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("segment directory %q is not a valid segment id: %w", name, err)
	}
	return id, nil
}

// SegmentDir returns the full path to segment id's directory under segmentsRoot.
func SegmentDir(segmentsRoot string, id uint64) string {
	return filepath.Join(segmentsRoot, DirName(id))
}

// StoragePath returns the path to segment id's storage file.
func StoragePath(segmentsRoot string, id uint64) string {
	return filepath.Join(SegmentDir(segmentsRoot, id), StorageFileName)
}

// IndexPath returns the path to segment id's index file.
func IndexPath(segmentsRoot string, id uint64) string {
	return filepath.Join(SegmentDir(segmentsRoot, id), IndexFileName)
}

// ListIDs scans segmentsRoot and returns every segment ID found, sorted
// ascending. A missing segmentsRoot is not an error; it yields an empty
// slice (the bootstrap case — no segments exist yet).
func ListIDs(segmentsRoot string) ([]uint64, error) {
	entries, err := os.ReadDir(segmentsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read segments directory %s: %w", segmentsRoot, err)
	}

	ids := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := ParseDirID(entry.Name())
		if err != nil {
			// Skip stray non-segment entries rather than failing discovery.
			continue
		}
		ids = append(ids, id)
	}

	slices.Sort(ids)
	return ids, nil
}

// LatestID returns the highest segment ID under segmentsRoot. ok is false
// when no segments exist yet (the bootstrap case).
func LatestID(segmentsRoot string) (id uint64, ok bool, err error) {
	ids, err := ListIDs(segmentsRoot)
	if err != nil {
		return 0, false, err
	}
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[len(ids)-1], true, nil
}
