// Package tagindex implements the per-partition secondary tag bitmap index
// (spec.md §4.B): it interns "key:value" tag strings into bit positions,
// encodes tag lists into types.Tags bitmasks, and compiles an external,
// string-based query filter into a types.MaskFilter — taking into account
// which tag (if any) is the partition's own primary label.
package tagindex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/pkg/merrors"
)

// ManifestFileName is the JSON file an Index persists its interning table to,
// relative to the partition directory it serves.
const ManifestFileName = "tags.json"

// Index is a bidirectional tag-string <-> bit-position map for one
// partition. Safe for concurrent use.
type Index struct {
	mu        sync.RWMutex
	path      string
	tagToBit  map[string]uint8
	bitToTag  []string // index i holds the tag interned at bit i; len == next.
	next      uint8
	checksums map[string]uint64 // tag -> xxhash fingerprint, for manifest integrity checks.
}

type manifestEntry struct {
	Tag      string `json:"tag"`
	Bit      uint8  `json:"bit"`
	Checksum uint64 `json:"checksum"`
}

// Open loads the tag manifest at <partitionDir>/tags.json if present, or
// starts a fresh, empty index otherwise.
func Open(partitionDir string) (*Index, error) {
	idx := &Index{
		path:      filepath.Join(partitionDir, ManifestFileName),
		tagToBit:  make(map[string]uint8),
		bitToTag:  make([]string, 0, types.MaxSecondaryTags),
		checksums: make(map[string]uint64),
	}

	raw, err := os.ReadFile(idx.path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, merrors.NewTagError(err, merrors.ErrorCodeSecondaryTagLoad, "failed to read tag manifest").
			WithOperation("load")
	}

	var entries []manifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, merrors.NewTagError(err, merrors.ErrorCodeSecondaryTagLoad, "failed to parse tag manifest").
			WithOperation("load")
	}

	for _, e := range entries {
		if xxhash.Sum64String(e.Tag) != e.Checksum {
			return nil, merrors.NewTagError(nil, merrors.ErrorCodeSecondaryTagLoad, "tag manifest checksum mismatch").
				WithTag(e.Tag).
				WithOperation("load")
		}
		idx.tagToBit[e.Tag] = e.Bit
		idx.checksums[e.Tag] = e.Checksum
		for len(idx.bitToTag) <= int(e.Bit) {
			idx.bitToTag = append(idx.bitToTag, "")
		}
		idx.bitToTag[e.Bit] = e.Tag
		if e.Bit+1 > idx.next {
			idx.next = e.Bit + 1
		}
	}

	return idx, nil
}

// save persists the manifest. Caller must hold mu.
func (idx *Index) save() error {
	entries := make([]manifestEntry, 0, len(idx.tagToBit))
	for tag, bit := range idx.tagToBit {
		entries = append(entries, manifestEntry{Tag: tag, Bit: bit, Checksum: idx.checksums[tag]})
	}

	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return merrors.NewTagError(err, merrors.ErrorCodeSecondaryTagSave, "failed to encode tag manifest").
			WithOperation("save")
	}

	if err := os.MkdirAll(filepath.Dir(idx.path), 0755); err != nil {
		return merrors.NewTagError(err, merrors.ErrorCodeSecondaryTagSave, "failed to create partition directory").
			WithOperation("save")
	}

	if err := os.WriteFile(idx.path, raw, 0644); err != nil {
		return merrors.NewTagError(err, merrors.ErrorCodeSecondaryTagSave, "failed to write tag manifest").
			WithOperation("save")
	}

	return nil
}

// Lookup returns the bit position interned for tag, if any.
func (idx *Index) Lookup(tag string) (uint8, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	bit, ok := idx.tagToBit[tag]
	return bit, ok
}

// Intern assigns tag a bit position, reusing an existing one if tag was
// already interned. Fails with ExceededSecondaryTags once 128 distinct tags
// have been interned (invariant 6 of spec.md §6).
func (idx *Index) Intern(tag string) (uint8, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if bit, ok := idx.tagToBit[tag]; ok {
		return bit, nil
	}

	if int(idx.next) >= types.MaxSecondaryTags {
		return 0, merrors.NewTagError(nil, merrors.ErrorCodeExceededSecondaryTags, "secondary tag capacity exceeded").
			WithTag(tag)
	}

	bit := idx.next
	idx.next++
	idx.tagToBit[tag] = bit
	idx.checksums[tag] = xxhash.Sum64String(tag)
	idx.bitToTag = append(idx.bitToTag, tag)

	if err := idx.save(); err != nil {
		// Roll back the in-memory assignment so a failed persist doesn't
		// leave the index diverged from disk.
		delete(idx.tagToBit, tag)
		delete(idx.checksums, tag)
		idx.bitToTag = idx.bitToTag[:len(idx.bitToTag)-1]
		idx.next--
		return 0, err
	}

	return bit, nil
}

// Encode ORs together the bits of every tag in tags, interning any that are
// new. It fails if interning would exceed the 128-tag capacity.
func (idx *Index) Encode(tags []string) (types.Tags, error) {
	var out types.Tags
	for _, tag := range tags {
		bit, err := idx.Intern(tag)
		if err != nil {
			return types.Tags{}, err
		}
		out = out.Set(bit)
	}
	return out, nil
}

// encodeKnown ORs together the bits of only the tags already interned,
// silently dropping unknown ones. Used when compiling a filter clause for a
// specific partition: a tag that belongs to another partition's secondary
// space is simply irrelevant here, not an error.
func (idx *Index) encodeKnown(tags []string) types.Tags {
	var out types.Tags
	for _, tag := range tags {
		if bit, ok := idx.Lookup(tag); ok {
			out = out.Set(bit)
		}
	}
	return out
}

// Decode returns the tag strings set in t, in ascending bit order. Used by
// group-by (spec.md §4.G) to turn an observed sub-block bitmask back into its
// constituent {key,value} tag strings.
func (idx *Index) Decode(t types.Tags) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []string
	for bit := 0; bit < len(idx.bitToTag); bit++ {
		if t.Test(uint8(bit)) {
			out = append(out, idx.bitToTag[bit])
		}
	}
	return out
}

// FilterKind mirrors types.FilterKind over string tag lists — the
// external, query-facing shape before compilation against a partition.
type FilterKind = types.FilterKind

const (
	FilterNone  = types.FilterNone
	FilterAnd   = types.FilterAnd
	FilterOr    = types.FilterOr
	FilterOrAnd = types.FilterOrAnd
)

// Filter is a query's tags_filter clause expressed over raw tag strings, per
// spec.md §4.B. Tags holds the operand for And/Or; Left/Right hold the two
// OR-groups combined by AND for OrAnd.
type Filter struct {
	Kind        FilterKind
	Tags        []string
	Left, Right []string
}

// CompilePrimary compiles f against idx for a partition whose primary tag is
// primaryLabel ("" for the Default partition: every branch below guards on
// primaryLabel != "", so an empty label simply never matches and f compiles
// as a plain secondary mask). skip reports that the partition can never
// match f and should be excluded from the scan entirely, per the
// compilation rules of spec.md §4.B:
//
//   - And: if primaryLabel is not named by the conjunction, the partition is
//     skipped; otherwise primaryLabel is dropped from the list and the rest
//     is ANDed as a secondary mask (empty remainder means "accept all").
//   - Or: if primaryLabel is named by the disjunction, the partition
//     trivially accepts every sample; otherwise the remaining tags known to
//     this partition are ORed as a secondary mask.
//   - OrAnd: each side is treated as its own Or-clause against primaryLabel,
//     then the two per-side results are combined.
func (idx *Index) CompilePrimary(primaryLabel string, f Filter) (mask types.MaskFilter, skip bool, err error) {
	switch f.Kind {
	case FilterNone:
		return types.MaskFilter{Kind: types.FilterNone}, false, nil

	case FilterAnd:
		remaining, found := consumePrimary(f.Tags, primaryLabel)
		if primaryLabel != "" && !found {
			return types.MaskFilter{}, true, nil
		}
		m, err := idx.encodeAndStrict(remaining)
		if err != nil {
			// An AND tag this partition has never seen can never be
			// satisfied: skip rather than surface a query error.
			return types.MaskFilter{}, true, nil
		}
		return types.MaskFilter{Kind: types.FilterAnd, M: m}, false, nil

	case FilterOr:
		trivial, mask := idx.compileOrGroup(primaryLabel, f.Tags)
		if trivial {
			return types.MaskFilter{Kind: types.FilterNone}, false, nil
		}
		return types.MaskFilter{Kind: types.FilterOr, M: mask}, false, nil

	case FilterOrAnd:
		lTrivial, lMask := idx.compileOrGroup(primaryLabel, f.Left)
		rTrivial, rMask := idx.compileOrGroup(primaryLabel, f.Right)
		switch {
		case lTrivial && rTrivial:
			return types.MaskFilter{Kind: types.FilterNone}, false, nil
		case lTrivial:
			return types.MaskFilter{Kind: types.FilterOr, M: rMask}, false, nil
		case rTrivial:
			return types.MaskFilter{Kind: types.FilterOr, M: lMask}, false, nil
		default:
			return types.MaskFilter{Kind: types.FilterOrAnd, L: lMask, R: rMask}, false, nil
		}

	default:
		return types.MaskFilter{}, false, merrors.NewValidationError(nil, merrors.ErrorCodeInvalidInput, "unknown tags_filter kind").
			WithField("tags_filter.kind").
			WithProvided(f.Kind)
	}
}

// consumePrimary removes primaryLabel from tags if present, reporting
// whether it was found.
func consumePrimary(tags []string, primaryLabel string) (remaining []string, found bool) {
	for _, t := range tags {
		if primaryLabel != "" && t == primaryLabel {
			found = true
			continue
		}
		remaining = append(remaining, t)
	}
	return remaining, found
}

// encodeAndStrict encodes an AND clause's remaining tags against idx,
// failing if any tag was never interned by this partition (meaning the
// partition has never recorded a sample with that tag, so the conjunction
// can never hold).
func (idx *Index) encodeAndStrict(tags []string) (types.Tags, error) {
	var out types.Tags
	for _, tag := range tags {
		bit, ok := idx.Lookup(tag)
		if !ok {
			return types.Tags{}, merrors.NewTagError(nil, merrors.ErrorCodeSecondaryTagLoad, "tag not known to partition").
				WithTag(tag)
		}
		out = out.Set(bit)
	}
	return out, nil
}

// compileOrGroup compiles one Or-clause's tags against idx for a partition
// whose primary label is primaryLabel. trivial reports that primaryLabel
// itself satisfies the clause, making the mask irrelevant.
func (idx *Index) compileOrGroup(primaryLabel string, tags []string) (trivial bool, mask types.Tags) {
	remaining := make([]string, 0, len(tags))
	for _, t := range tags {
		if primaryLabel != "" && t == primaryLabel {
			trivial = true
			continue
		}
		remaining = append(remaining, t)
	}
	if trivial {
		return true, types.Tags{}
	}
	return false, idx.encodeKnown(remaining)
}
