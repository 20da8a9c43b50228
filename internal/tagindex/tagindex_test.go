package tagindex_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/metridb/metridb/internal/tagindex"
	"github.com/metridb/metridb/internal/types"
	"github.com/metridb/metridb/pkg/merrors"
)

func TestInternAssignsDistinctBits(t *testing.T) {
	idx, err := tagindex.Open(t.TempDir())
	require.NoError(t, err)

	seen := map[uint8]bool{}
	for i := 0; i < types.MaxSecondaryTags; i++ {
		tag := fmt.Sprintf("host:node-%d", i)
		bit, err := idx.Intern(tag)
		require.NoError(t, err)
		require.False(t, seen[bit], "bit %d reused", bit)
		seen[bit] = true
	}

	// The 129th distinct tag must fail capacity.
	_, err = idx.Intern("host:node-overflow")
	require.Error(t, err)
	require.Equal(t, merrors.ErrorCodeExceededSecondaryTags, merrors.GetErrorCode(err))
}

func TestInternIsIdempotent(t *testing.T) {
	idx, err := tagindex.Open(t.TempDir())
	require.NoError(t, err)

	b1, err := idx.Intern("region:us-east")
	require.NoError(t, err)
	b2, err := idx.Intern("region:us-east")
	require.NoError(t, err)
	require.Equal(t, b1, b2)
}

func TestCompilePrimaryForDefaultPartitionAndOrOrAnd(t *testing.T) {
	idx, err := tagindex.Open(t.TempDir())
	require.NoError(t, err)

	_, err = idx.Intern("host:a")
	require.NoError(t, err)
	_, err = idx.Intern("host:b")
	require.NoError(t, err)
	_, err = idx.Intern("env:prod")
	require.NoError(t, err)

	tagsAB, err := idx.Encode([]string{"host:a", "env:prod"})
	require.NoError(t, err)

	// The Default partition's primary label is "", so CompilePrimary never
	// finds a primary-label match and compiles every clause as a plain
	// secondary mask.
	andFilter, skip, err := idx.CompilePrimary("", tagindex.Filter{Kind: tagindex.FilterAnd, Tags: []string{"host:a", "env:prod"}})
	require.NoError(t, err)
	require.False(t, skip)
	require.True(t, andFilter.Accept(tagsAB))

	tagsB, _ := idx.Encode([]string{"host:b"})
	require.False(t, andFilter.Accept(tagsB))

	orFilter, skip, err := idx.CompilePrimary("", tagindex.Filter{Kind: tagindex.FilterOr, Tags: []string{"host:a", "host:b"}})
	require.NoError(t, err)
	require.False(t, skip)
	require.True(t, orFilter.Accept(tagsAB))
	require.True(t, orFilter.Accept(tagsB))

	tagsNone, _ := idx.Encode([]string{"env:prod"})
	require.False(t, orFilter.Accept(tagsNone))

	orAndFilter, skip, err := idx.CompilePrimary("", tagindex.Filter{
		Kind:  tagindex.FilterOrAnd,
		Left:  []string{"host:a", "host:b"},
		Right: []string{"env:prod"},
	})
	require.NoError(t, err)
	require.False(t, skip)
	require.True(t, orAndFilter.Accept(tagsAB))
	require.False(t, orAndFilter.Accept(tagsB))
}

func TestCompilePrimaryAndSkipsNonMatchingPartition(t *testing.T) {
	idx, err := tagindex.Open(t.TempDir())
	require.NoError(t, err)
	_, err = idx.Intern("env:prod")
	require.NoError(t, err)

	// Partition's primary label is "region:us-east". An AND filter that
	// names a different region must skip this partition entirely.
	_, skip, err := idx.CompilePrimary("region:us-east", tagindex.Filter{
		Kind: tagindex.FilterAnd,
		Tags: []string{"region:eu-west", "env:prod"},
	})
	require.NoError(t, err)
	require.True(t, skip)

	// An AND filter naming this partition's own primary label compiles to a
	// secondary mask over the remaining tags.
	mask, skip, err := idx.CompilePrimary("region:us-east", tagindex.Filter{
		Kind: tagindex.FilterAnd,
		Tags: []string{"region:us-east", "env:prod"},
	})
	require.NoError(t, err)
	require.False(t, skip)
	prodTags, _ := idx.Encode([]string{"env:prod"})
	require.True(t, mask.Accept(prodTags))
}

func TestCompilePrimaryOrTrivialAccept(t *testing.T) {
	idx, err := tagindex.Open(t.TempDir())
	require.NoError(t, err)

	// The Or filter names this partition's primary label, so every sample
	// in the partition trivially matches regardless of secondary tags.
	mask, skip, err := idx.CompilePrimary("region:us-east", tagindex.Filter{
		Kind: tagindex.FilterOr,
		Tags: []string{"region:us-east", "region:eu-west"},
	})
	require.NoError(t, err)
	require.False(t, skip)
	require.Equal(t, types.FilterNone, mask.Kind)
	require.True(t, mask.Accept(types.Tags{}))
}

func TestManifestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	idx1, err := tagindex.Open(dir)
	require.NoError(t, err)
	bit, err := idx1.Intern("host:a")
	require.NoError(t, err)

	idx2, err := tagindex.Open(dir)
	require.NoError(t, err)
	reopened, ok := idx2.Lookup("host:a")
	require.True(t, ok)
	require.Equal(t, bit, reopened)
}
