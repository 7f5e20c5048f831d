// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package distance implements spec.md §4.2's SNP-distance engine: a pure
// function of two samples' variant sets, with single-pair, one-to-many,
// and all-pairs batch forms.
//
// The package name and "pure function over loaded inputs" shape are
// grounded on grailbio-bio/util's Levenshtein distance package; the
// parallel fan-out in OneToMany is grounded on grailbio-bio/
// markduplicates' use of github.com/grailbio/base/traverse.Each.
package distance

import (
	"context"
	"sort"

	"github.com/grailbio/base/traverse"
	"github.com/grailbio/snapper/model"
	"github.com/grailbio/snapper/posset"
	"github.com/grailbio/snapper/variantstore"
)

// Pair computes d(s1, s2): for every contig, the symmetric difference of
// the four base sets (A,C,G,T), minus any position that is N or gap in
// either sample, summed across contigs (spec.md §4.2).
func Pair(s1, s2 map[string]*variantstore.ContigSets) int {
	total := 0
	seen := map[string]bool{}
	for contig, c1 := range s1 {
		seen[contig] = true
		total += pairContig(c1, s2[contig])
	}
	for contig, c2 := range s2 {
		if !seen[contig] {
			total += pairContig(nil, c2)
		}
	}
	return total
}

func pairContig(c1, c2 *variantstore.ContigSets) int {
	if c1 == nil && c2 == nil {
		return 0
	}
	if c1 == nil {
		c1 = &variantstore.ContigSets{A: posset.New(0), C: posset.New(0), G: posset.New(0), T: posset.New(0), N: posset.New(0), Gap: posset.New(0)}
	}
	if c2 == nil {
		c2 = &variantstore.ContigSets{A: posset.New(0), C: posset.New(0), G: posset.New(0), T: posset.New(0), N: posset.New(0), Gap: posset.New(0)}
	}
	diff := posset.Union(
		posset.Union(posset.Xor(c1.A, c2.A), posset.Xor(c1.C, c2.C)),
		posset.Union(posset.Xor(c1.G, c2.G), posset.Xor(c1.T, c2.T)),
	)
	masked := posset.Union(posset.Union(c1.N, c2.N), posset.Union(c1.Gap, c2.Gap))
	return posset.AndNot(diff, masked).Count()
}

// Ranked is one entry of a OneToMany result: a target sample and its
// distance to the query sample.
type Ranked struct {
	Target   model.SampleID
	Distance int
}

// Engine computes distances by reading variant sets from a
// variantstore.Store, per contig, for whichever samples are requested.
type Engine struct {
	Store       variantstore.Store
	Parallelism int // 0 means unbounded-by-us (traverse.Each picks a default)
}

// NewEngine returns an Engine reading from store.
func NewEngine(store variantstore.Store) *Engine {
	return &Engine{Store: store}
}

// Pair computes the distance between two samples already in the store.
func (e *Engine) Pair(ctx context.Context, s1, s2 model.SampleID) (int, error) {
	sets1, err := e.Store.GetSampleSets(ctx, s1)
	if err != nil {
		return 0, err
	}
	sets2, err := e.Store.GetSampleSets(ctx, s2)
	if err != nil {
		return 0, err
	}
	return Pair(sets1, sets2), nil
}

// OneToMany computes the distance from s to every sample in targets,
// returning results sorted ascending by distance, ties broken by
// ascending sample id (spec.md §4.2). Per-target distance computation is
// parallelised across a bounded worker pool.
func (e *Engine) OneToMany(ctx context.Context, s model.SampleID, targets []model.SampleID) ([]Ranked, error) {
	sSets, err := e.Store.GetSampleSets(ctx, s)
	if err != nil {
		return nil, err
	}
	results := make([]Ranked, len(targets))
	work := func(i int) error {
		tSets, err := e.Store.GetSampleSets(ctx, targets[i])
		if err != nil {
			return err
		}
		results[i] = Ranked{Target: targets[i], Distance: Pair(sSets, tSets)}
		return nil
	}
	if e.Parallelism > 0 {
		err = traverse.Limit(e.Parallelism).Each(len(targets), work)
	} else {
		err = traverse.Each(len(targets), work)
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].Target < results[j].Target
	})
	return results, nil
}

// Relevant computes s's distance to every non-ignored sample other than
// itself (spec.md §4.2's relevant(s)).
func (e *Engine) Relevant(ctx context.Context, s model.SampleID) ([]Ranked, error) {
	all, err := e.Store.AllSampleIDs(ctx)
	if err != nil {
		return nil, err
	}
	targets := make([]model.SampleID, 0, len(all))
	for _, id := range all {
		if id != s {
			targets = append(targets, id)
		}
	}
	return e.OneToMany(ctx, s, targets)
}

// PairKey is an unordered pair of sample ids, normalized so PairKey{a,b}
// == PairKey{b,a}'s canonical form for use as a map key in AllPairs.
type PairKey struct {
	A, B model.SampleID
}

func pairKey(a, b model.SampleID) PairKey {
	if a > b {
		a, b = b, a
	}
	return PairKey{A: a, B: b}
}

// AllPairs computes the upper-triangle of pairwise distances among
// samples.
func (e *Engine) AllPairs(ctx context.Context, samples []model.SampleID) (map[PairKey]int, error) {
	sets := make(map[model.SampleID]map[string]*variantstore.ContigSets, len(samples))
	for _, id := range samples {
		s, err := e.Store.GetSampleSets(ctx, id)
		if err != nil {
			return nil, err
		}
		sets[id] = s
	}
	out := make(map[PairKey]int)
	for i := 0; i < len(samples); i++ {
		for j := i + 1; j < len(samples); j++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			out[pairKey(samples[i], samples[j])] = Pair(sets[samples[i]], sets[samples[j]])
		}
	}
	return out, nil
}

// Matrix returns a symmetric, zero-diagonal distance matrix for samples,
// in the same order as samples.
func (e *Engine) Matrix(ctx context.Context, samples []model.SampleID) ([][]int, error) {
	pairs, err := e.AllPairs(ctx, samples)
	if err != nil {
		return nil, err
	}
	n := len(samples)
	m := make([][]int, n)
	for i := range m {
		m[i] = make([]int, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := pairs[pairKey(samples[i], samples[j])]
			m[i][j] = d
			m[j][i] = d
		}
	}
	return m, nil
}
