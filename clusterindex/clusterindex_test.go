package clusterindex

import (
	"context"
	"testing"

	"github.com/grailbio/snapper/model"
	"github.com/stretchr/testify/require"
)

func TestSetAddressAndLookup(t *testing.T) {
	idx := NewMemIndex(nil)
	ctx := context.Background()
	require.NoError(t, idx.SetAddress(ctx, 1, model.Address{1, 1, 2, 2, 3, 3, 4}))
	addr, err := idx.Lookup(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, model.Address{1, 1, 2, 2, 3, 3, 4}, addr)
}

func TestLookupUnknownSample(t *testing.T) {
	idx := NewMemIndex(nil)
	_, err := idx.Lookup(context.Background(), 99)
	require.Error(t, err)
}

func TestMembersFiltersOutliers(t *testing.T) {
	outliers := map[model.SampleID]bool{2: true}
	idx := NewMemIndex(func(s model.SampleID) bool { return outliers[s] })
	ctx := context.Background()
	require.NoError(t, idx.SetAddress(ctx, 1, model.Address{5, 5, 5, 5, 5, 5, 5}))
	require.NoError(t, idx.SetAddress(ctx, 2, model.Address{5, 5, 5, 5, 5, 5, 5}))

	members, err := idx.Members(ctx, 0, 5, false)
	require.NoError(t, err)
	require.Equal(t, []model.SampleID{1}, members)

	withOutliers, err := idx.Members(ctx, 0, 5, true)
	require.NoError(t, err)
	require.Equal(t, []model.SampleID{1, 2}, withOutliers)
}

func TestRenameMovesAllSamplesAtLevel(t *testing.T) {
	idx := NewMemIndex(nil)
	ctx := context.Background()
	require.NoError(t, idx.SetAddress(ctx, 1, model.Address{0, 0, 0, 0, 7, 0, 0}))
	require.NoError(t, idx.SetAddress(ctx, 2, model.Address{0, 0, 0, 0, 7, 0, 0}))
	require.NoError(t, idx.SetAddress(ctx, 3, model.Address{0, 0, 0, 0, 9, 0, 0}))

	count, err := idx.Rename(ctx, 4, 7, 9)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	addr1, _ := idx.Lookup(ctx, 1)
	require.Equal(t, 9, addr1[4])
	addr3, _ := idx.Lookup(ctx, 3)
	require.Equal(t, 9, addr3[4])
}

func TestAllocNewIDIsMaxPlusOne(t *testing.T) {
	idx := NewMemIndex(nil)
	ctx := context.Background()
	id, err := idx.AllocNewID(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, id)

	require.NoError(t, idx.SetAddress(ctx, 1, model.Address{3, 0, 0, 0, 0, 0, 0}))
	require.NoError(t, idx.SetAddress(ctx, 2, model.Address{7, 0, 0, 0, 0, 0, 0}))
	id, err = idx.AllocNewID(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 8, id)
}

func TestRemoveSampleDropsRow(t *testing.T) {
	idx := NewMemIndex(nil)
	ctx := context.Background()
	require.NoError(t, idx.SetAddress(ctx, 1, model.Address{1, 1, 1, 1, 1, 1, 1}))
	require.NoError(t, idx.RemoveSample(ctx, 1))
	_, err := idx.Lookup(ctx, 1)
	require.Error(t, err)
}
