package remover

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
	"github.com/grailbio/snapper/registrar"
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

type fixture struct {
	index   *clusterindex.MemIndex
	stats   *clusterstats.MemStore
	means   *clusterstats.MemSampleMeans
	history *historylog.MemLog
	rm      *Remover
}

func buildRemover(store variantstore.Store) *fixture {
	idx := clusterindex.NewMemIndex(nil)
	stats := clusterstats.NewMemStore()
	means := clusterstats.NewMemSampleMeans()
	history := historylog.NewMemLog()
	rm := New(
		store, idx, stats, means, history,
		distance.NewEngine(store),
		config.Clustering{ZScoreClusterReject: -1.75, ZScoreMemberReject: -1.0},
	)
	rm.Now = func() time.Time { return time.Unix(1700000100, 0) }
	return &fixture{index: idx, stats: stats, means: means, history: history, rm: rm}
}

// setUniformAddress gives every sample in group the same cluster id at every
// level, and writes stats built from dists (every pairwise distance among
// group, in (0,1),(0,2),...,(1,2),... order) to every level.
func setUniformAddress(t *testing.T, ctx context.Context, f *fixture, id int, group []model.SampleID, dists []float64) {
	t.Helper()
	var addr model.Address
	for i := range addr {
		addr[i] = id
	}
	for _, s := range group {
		require.NoError(t, f.index.SetAddress(ctx, s, addr))
	}
	st := clusterstats.ConstructFromDistances(len(group), dists)
	for level := 0; level < model.NumLevels; level++ {
		require.NoError(t, f.stats.Put(ctx, level, id, st.Clone()))
	}
}

// S5 — Split on remove: a sample bridging two otherwise-unreachable members
// forces a split at the levels whose threshold is too tight for the
// survivors' own distance, but not at the wider levels where the survivors
// are directly within threshold of each other.
func TestRemoveSplitsOnlyAtLevelsWhereSurvivorsStayDisconnected(t *testing.T) {
	store, mk := buildStore(t)
	f := buildRemover(store)
	ctx := context.Background()

	a := mk("A", 0)
	b := mk("B", 5)  // d(A,B) = 5
	c := mk("C", 50) // d(B,C) = 55, d(A,C) = 50

	setUniformAddress(t, ctx, f, 1, []model.SampleID{a, b, c}, []float64{5, 50, 55})

	res, err := f.rm.Remove(ctx, b, ModeIgnore)
	require.NoError(t, err)

	splitLevels := map[int]bool{}
	for _, s := range res.Splits {
		splitLevels[s.Level] = true
	}
	// t0=0, t5=5, t10=10, t25=25: d(A,C)=50 exceeds every one of these, so A
	// and C end up in separate components once B is gone.
	for _, level := range []int{0, 1, 2, 3} {
		require.True(t, splitLevels[level], "expected a split at level %d", level)
	}
	// t50=50, t100=100, t250=250: d(A,C)=50 is within threshold, so A and C
	// stay in one component.
	for _, level := range []int{4, 5, 6} {
		require.False(t, splitLevels[level], "expected no split at level %d", level)
	}

	const t10 = 2
	retained, err := f.stats.Get(ctx, t10, 1)
	require.NoError(t, err)
	require.Equal(t, 1, retained.NofMembers)
	require.False(t, retained.HasStats())

	split := res.Splits[2] // level index 2 == t10, the third entry given levels 0,1,2,3 all split
	require.Equal(t, 2, split.Level)
	require.Equal(t, 1, split.RetainedID)
	require.Len(t, split.NewGroups, 1)
	require.Equal(t, []model.SampleID{c}, split.NewGroups[0].Members)

	newStats, err := f.stats.Get(ctx, t10, split.NewGroups[0].ID)
	require.NoError(t, err)
	require.Equal(t, 1, newStats.NofMembers)
	require.False(t, newStats.HasStats())

	history, err := f.history.ForSample(ctx, c)
	require.NoError(t, err)
	require.Len(t, history, 4) // one rename per splitting level
	changedLevels := map[int]bool{}
	for _, e := range history {
		for level := 0; level < model.NumLevels; level++ {
			if e.Old[level] != e.New[level] {
				require.Equal(t, 1, e.Old[level])
				require.NotEqual(t, 1, e.New[level])
				changedLevels[level] = true
			}
		}
	}
	require.Equal(t, map[int]bool{0: true, 1: true, 2: true, 3: true}, changedLevels)

	const t50 = 4
	keptTogether, err := f.stats.Get(ctx, t50, 1)
	require.NoError(t, err)
	require.Equal(t, 2, keptTogether.NofMembers)
	require.InDelta(t, 50.0, keptTogether.Mean(), 1e-9)
	require.InDelta(t, 0.0, keptTogether.StdDev(), 1e-9)
}

// Removing a sample whose neighbours stay mutually reachable through other
// edges never splits the cluster.
func TestRemoveDoesNotSplitWhenOtherEdgesKeepClusterConnected(t *testing.T) {
	store, mk := buildStore(t)
	f := buildRemover(store)
	ctx := context.Background()

	a := mk("A", 0)
	b := mk("B", 3) // d(A,B) = 3
	c := mk("C", 0) // d(B,C) = 3, d(A,C) = 0

	setUniformAddress(t, ctx, f, 1, []model.SampleID{a, b, c}, []float64{3, 0, 3})

	res, err := f.rm.Remove(ctx, b, ModeIgnore)
	require.NoError(t, err)
	require.Empty(t, res.Splits)

	const t10 = 2
	st, err := f.stats.Get(ctx, t10, 1)
	require.NoError(t, err)
	require.Equal(t, 2, st.NofMembers)
	require.InDelta(t, 0.0, st.Mean(), 1e-9)
}

// S6 — Known-outlier demotion: the sample keeps its address, is flagged
// ignore_zscore, its own per-level means are nulled, and its contribution
// is reversed out of every level's ClusterStats.
func TestRemoveKnownOutlierRetainsAddressAndReversesStats(t *testing.T) {
	store, mk := buildStore(t)
	ctx := context.Background()

	reg := registrar.New(
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

	const n = 4
	members := make([]model.SampleID, n)
	for i := 0; i < n; i++ {
		members[i] = mk("member", 2) // every pair among these: d == 4.
		_, err := reg.Admit(ctx, members[i], false)
		require.NoError(t, err)
	}

	rm := &Remover{
		VariantStore: store,
		Index:        reg.Index,
		Stats:        reg.Stats,
		Means:        reg.Means,
		History:      reg.History,
		Distances:    reg.Distances,
		Clustering:   reg.Clustering,
		Now:          func() time.Time { return time.Unix(1700000200, 0) },
	}

	victim := members[0]
	addrBefore, err := reg.Index.Lookup(ctx, victim)
	require.NoError(t, err)

	res, err := rm.Remove(ctx, victim, ModeKnownOutlier)
	require.NoError(t, err)
	require.Empty(t, res.Splits)

	addrAfter, err := reg.Index.Lookup(ctx, victim)
	require.NoError(t, err)
	require.Equal(t, addrBefore, addrAfter, "known-outlier must keep its address")

	sample, err := store.SampleByID(ctx, victim)
	require.NoError(t, err)
	require.True(t, sample.IgnoreZScore)

	const t25 = 3
	mean, err := reg.Means.Get(ctx, victim, t25)
	require.NoError(t, err)
	require.Nil(t, mean)

	st, err := reg.Stats.Get(ctx, t25, addrBefore[t25])
	require.NoError(t, err)
	require.Equal(t, n-1, st.NofMembers)
	require.InDelta(t, 4.0, st.Mean(), 1e-9)
	require.InDelta(t, 0.0, st.StdDev(), 1e-9)

	for _, m := range members[1:] {
		mean, err := reg.Means.Get(ctx, m, t25)
		require.NoError(t, err)
		require.NotNil(t, mean)
		require.InDelta(t, 4.0, *mean, 1e-9)
	}
}
