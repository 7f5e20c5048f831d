package registrar

import (
	"context"
	"testing"
	"time"

	"github.com/grailbio/snapper/clusterindex"
	"github.com/grailbio/snapper/clusterstats"
	"github.com/grailbio/snapper/config"
	"github.com/grailbio/snapper/distance"
	"github.com/grailbio/snapper/historylog"
	"github.com/grailbio/snapper/mergelog"
	"github.com/grailbio/snapper/model"
	"github.com/grailbio/snapper/posset"
	"github.com/grailbio/snapper/snaperr"
	"github.com/grailbio/snapper/variantstore"
	"github.com/stretchr/testify/require"
)

const universe = 1 << 20

// buildStore returns a MemStore and a constructor that admits a sample with
// weight private variant positions disjoint from every other sample built
// from the same constructor, so that d(i,j) == weight_i + weight_j exactly.
func buildStore(t *testing.T) (*variantstore.MemStore, func(name string, weight int) model.SampleID) {
	t.Helper()
	store := variantstore.NewMemStore()
	ctx := context.Background()
	require.NoError(t, store.PutReference(ctx, []variantstore.Contig{{Name: "chr1", Length: universe}}))
	next := 0
	mk := func(name string, weight int) model.SampleID {
		positions := make([]int, weight)
		for i := range positions {
			positions[i] = next
			next++
		}
		sets := map[string]*variantstore.ContigSets{
			"chr1": {
				A:   posset.FromSlice(universe, positions),
				C:   posset.New(universe),
				G:   posset.New(universe),
				T:   posset.New(universe),
				N:   posset.New(universe),
				Gap: posset.New(universe),
			},
		}
		id, err := store.PutSample(ctx, name, sets, model.Annotations{})
		require.NoError(t, err)
		return id
	}
	return store, mk
}

func buildRegistrar(store variantstore.Store) *Registrar {
	reg := New(
		store,
		clusterindex.NewMemIndex(nil),
		clusterstats.NewMemStore(),
		clusterstats.NewMemSampleMeans(),
		historylog.NewMemLog(),
		mergelog.NewMemLog(),
		distance.NewEngine(store),
		config.Clustering{ZScoreClusterReject: -1.75, ZScoreMemberReject: -1.0},
	)
	reg.Now = func() time.Time { return time.Unix(1700000000, 0) }
	return reg
}

// S1 — Singleton admit: a sample with no existing neighbours gets a fresh
// singleton cluster at every level.
func TestAdmitSingletonWhenStoreEmpty(t *testing.T) {
	store, mk := buildStore(t)
	reg := buildRegistrar(store)
	ctx := context.Background()

	a := mk("A", 300)
	res, err := reg.Admit(ctx, a, false)
	require.NoError(t, err)
	require.Equal(t, model.Address{1, 1, 1, 1, 1, 1, 1}, res.Address)
	require.Empty(t, res.Merges)

	for level := 0; level < model.NumLevels; level++ {
		st, err := reg.Stats.Get(ctx, level, 1)
		require.NoError(t, err)
		require.Equal(t, 1, st.NofMembers)
		require.False(t, st.HasStats())

		mean, err := reg.Means.Get(ctx, a, level)
		require.NoError(t, err)
		require.Nil(t, mean)
	}
}

// S2 — Join at t10 (and every wider level): a sample closer to both existing
// members than they are to each other joins their cluster, and the joined
// cluster's stats match spec.md §8 S2 exactly.
func TestAdmitJoinsExistingClusterAtWiderLevels(t *testing.T) {
	store, mk := buildStore(t)
	reg := buildRegistrar(store)
	ctx := context.Background()

	b := mk("B", 2)
	c := mk("C", 2) // d(B,C) = 4
	d := mk("D", 1) // d(D,B) = d(D,C) = 3

	_, err := reg.Admit(ctx, b, false)
	require.NoError(t, err)
	_, err = reg.Admit(ctx, c, false)
	require.NoError(t, err)

	res, err := reg.Admit(ctx, d, false)
	require.NoError(t, err)
	require.Empty(t, res.Merges)

	// t0 gets a fresh id; t5 upward copy B's cluster.
	require.Equal(t, 3, res.Address[0])
	for level := 1; level < model.NumLevels; level++ {
		require.Equal(t, 1, res.Address[level], "level %d", level)
	}

	const t10 = 2
	st, err := reg.Stats.Get(ctx, t10, 1)
	require.NoError(t, err)
	require.Equal(t, 3, st.NofMembers)
	require.Equal(t, 3, st.NofPairwiseDists)
	require.InDelta(t, (4.0+3.0+3.0)/3.0, st.Mean(), 1e-9)
}

// S3 — Merge at t50: a new sample within threshold of two previously
// distinct clusters forces them to merge into the larger one, and — since
// both sources were singletons — the merged cluster's stats are built from
// the union's pairwise distances directly (spec.md §4.6, and the Open
// Question about an all-singleton-sources merge path: the union of all
// members is exactly what computeMergePlan feeds to ConstructFromDistances
// below).
func TestAdmitMergesDistinctClustersWithinThreshold(t *testing.T) {
	store, mk := buildStore(t)
	reg := buildRegistrar(store)
	ctx := context.Background()

	a := mk("A", 40)
	b := mk("B", 40) // d(A,B) = 80: distinct clusters at t50 (>50), same at t100.
	cSample := mk("C", 0) // d(A,C) = d(B,C) = 40: close enough to both to merge them at t50.

	_, err := reg.Admit(ctx, a, false)
	require.NoError(t, err)
	resB, err := reg.Admit(ctx, b, false)
	require.NoError(t, err)
	require.Equal(t, 2, resB.Address[4]) // t50: B got its own id.
	require.Equal(t, 1, resB.Address[5]) // t100: B kept A's id.

	res, err := reg.Admit(ctx, cSample, false)
	require.NoError(t, err)
	require.Len(t, res.Merges, 1)
	merge := res.Merges[0]
	require.Equal(t, 4, merge.Level) // t50
	require.Equal(t, 1, merge.Target)
	require.Equal(t, []int{2}, merge.Sources)

	const t50 = 4
	st, err := reg.Stats.Get(ctx, t50, 1)
	require.NoError(t, err)
	require.Equal(t, 3, st.NofMembers)
	require.Equal(t, 3, st.NofPairwiseDists)
	require.InDelta(t, (80.0+40.0+40.0)/3.0, st.Mean(), 1e-9)

	history, err := reg.History.ForSample(ctx, b)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, 2, history[0].Old[t50])
	require.Equal(t, 1, history[0].New[t50])

	mergeEntries, err := reg.Merges.ForLevel(ctx, t50)
	require.NoError(t, err)
	require.Len(t, mergeEntries, 1)
	require.Equal(t, 2, mergeEntries[0].Source)
	require.Equal(t, 1, mergeEntries[0].Target)
}

// S4 — z-score rejection: a sample whose distances to an existing cluster
// are far enough outside the cluster's post-addition distribution is
// rejected, and nothing is committed.
func TestAdmitRejectsStatisticalOutlierUnlessBypassed(t *testing.T) {
	store, mk := buildStore(t)
	reg := buildRegistrar(store)
	ctx := context.Background()

	const n = 10
	members := make([]model.SampleID, n)
	for i := 0; i < n; i++ {
		members[i] = mk("member", 2) // every pair among these: d == 4.
	}
	for _, m := range members {
		_, err := reg.Admit(ctx, m, false)
		require.NoError(t, err)
	}
	outlier := mk("outlier", 16) // d(outlier, member) == 18 for every member.

	const t25 = 3
	before, err := reg.Stats.Get(ctx, t25, 1)
	require.NoError(t, err)
	require.Equal(t, n, before.NofMembers)
	require.InDelta(t, 4.0, before.Mean(), 1e-9)

	_, err = reg.Admit(ctx, outlier, false)
	require.Error(t, err)
	require.True(t, snaperr.Is(snaperr.StatisticalReject, err))

	after, err := reg.Stats.Get(ctx, t25, 1)
	require.NoError(t, err)
	require.Equal(t, n, after.NofMembers, "rejected admit must not mutate cluster stats")

	res, err := reg.Admit(ctx, outlier, true)
	require.NoError(t, err)
	require.True(t, res.ZScoreBypassed)

	sample, err := store.SampleByID(ctx, outlier)
	require.NoError(t, err)
	require.True(t, sample.IgnoreZScore)
}
