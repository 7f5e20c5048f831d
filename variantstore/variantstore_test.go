package variantstore

import (
	"context"
	"testing"

	"github.com/grailbio/snapper/model"
	"github.com/grailbio/snapper/posset"
	"github.com/stretchr/testify/require"
)

func newInitializedStore(t *testing.T) *MemStore {
	t.Helper()
	s := NewMemStore()
	err := s.PutReference(context.Background(), []Contig{
		{Name: "chr1", Length: 1000},
	})
	require.NoError(t, err)
	return s
}

func TestPutReferenceOnlyOnce(t *testing.T) {
	s := newInitializedStore(t)
	err := s.PutReference(context.Background(), []Contig{{Name: "chr2", Length: 10}})
	require.Error(t, err)
}

func TestPutSampleRequiresInitializedStore(t *testing.T) {
	s := NewMemStore()
	_, err := s.PutSample(context.Background(), "A", nil, model.Annotations{})
	require.Error(t, err)
}

func TestPutSampleRejectsDuplicateName(t *testing.T) {
	s := newInitializedStore(t)
	ctx := context.Background()
	_, err := s.PutSample(ctx, "A", map[string]*ContigSets{
		"chr1": emptyContigSets(1000),
	}, model.Annotations{})
	require.NoError(t, err)

	_, err = s.PutSample(ctx, "A", map[string]*ContigSets{
		"chr1": emptyContigSets(1000),
	}, model.Annotations{})
	require.Error(t, err)
}

func TestPutSampleRejectsNonDisjointSets(t *testing.T) {
	s := newInitializedStore(t)
	cs := emptyContigSets(1000)
	cs.A.Add(5)
	cs.C.Add(5) // overlaps with A
	_, err := s.PutSample(context.Background(), "A", map[string]*ContigSets{"chr1": cs}, model.Annotations{})
	require.Error(t, err)
}

func TestPutSampleSubtractsIgnoredPositions(t *testing.T) {
	s := NewMemStore()
	ignored := posset.FromSlice(1000, []int{10, 20})
	err := s.PutReference(context.Background(), []Contig{{Name: "chr1", Length: 1000, Ignored: ignored}})
	require.NoError(t, err)

	cs := emptyContigSets(1000)
	cs.A.Add(10)
	cs.A.Add(11)
	id, err := s.PutSample(context.Background(), "A", map[string]*ContigSets{"chr1": cs}, model.Annotations{})
	require.NoError(t, err)

	stored, err := s.GetSampleSets(context.Background(), id)
	require.NoError(t, err)
	require.False(t, stored["chr1"].A.Contains(10))
	require.True(t, stored["chr1"].A.Contains(11))
}

func TestPutSampleFillsMissingContigsEmpty(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.PutReference(context.Background(), []Contig{
		{Name: "chr1", Length: 100},
		{Name: "chr2", Length: 100},
	}))
	id, err := s.PutSample(context.Background(), "A", map[string]*ContigSets{
		"chr1": emptyContigSets(100),
	}, model.Annotations{})
	require.NoError(t, err)
	sets, err := s.GetSampleSets(context.Background(), id)
	require.NoError(t, err)
	require.Contains(t, sets, "chr2")
	require.Equal(t, 0, sets["chr2"].A.Count())
}

func TestGetContigSetsBatched(t *testing.T) {
	s := newInitializedStore(t)
	ctx := context.Background()
	idA, _ := s.PutSample(ctx, "A", map[string]*ContigSets{"chr1": emptyContigSets(1000)}, model.Annotations{})
	idB, _ := s.PutSample(ctx, "B", map[string]*ContigSets{"chr1": emptyContigSets(1000)}, model.Annotations{})

	out, err := s.GetContigSets(ctx, "chr1", []model.SampleID{idA, idB})
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestAllSampleIDsExcludesIgnored(t *testing.T) {
	s := newInitializedStore(t)
	ctx := context.Background()
	idA, _ := s.PutSample(ctx, "A", map[string]*ContigSets{"chr1": emptyContigSets(1000)}, model.Annotations{})
	idB, _ := s.PutSample(ctx, "B", map[string]*ContigSets{"chr1": emptyContigSets(1000)}, model.Annotations{})
	require.NoError(t, s.SetIgnoreSample(ctx, idB, true))

	ids, err := s.AllSampleIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []model.SampleID{idA}, ids)
}
