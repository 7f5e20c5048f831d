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

// Package remover implements spec.md §4.7: removing a sample from the
// clustering, either provisionally (ignore, known-outlier) or for good
// (hard-delete), including the connectivity check that decides whether a
// cluster must split once the sample's edges are gone.
package remover

import (
	"context"
	"sort"
	"time"

	"github.com/grailbio/snapper/clusterindex"
	"github.com/grailbio/snapper/clusterstats"
	"github.com/grailbio/snapper/config"
	"github.com/grailbio/snapper/distance"
	"github.com/grailbio/snapper/historylog"
	"github.com/grailbio/snapper/model"
	"github.com/grailbio/snapper/variantstore"
)

// Mode selects how Remove finalises a departing sample (spec.md §4.7).
type Mode int

const (
	// ModeIgnore archives the sample: ignore_sample is set, its
	// cluster-index and history rows are dropped, its variant data stays.
	ModeIgnore Mode = iota
	// ModeKnownOutlier flags the sample as ignore_zscore: it keeps its
	// address, but its contribution is reversed out of every level's
	// ClusterStats and its own per-level means are nulled.
	ModeKnownOutlier
	// ModeHardDelete does everything ModeIgnore does, then deletes the
	// sample's variant rows outright.
	ModeHardDelete
)

// Remover removes samples from the clustering, per spec.md §4.7.
type Remover struct {
	VariantStore variantstore.Store
	Index        clusterindex.Index
	Stats        clusterstats.Store
	Means        clusterstats.SampleMeans
	History      historylog.Log
	Distances    *distance.Engine
	Clustering   config.Clustering

	// Now returns the current time; overridable by tests.
	Now func() time.Time
}

// New wires a Remover from its collaborators.
func New(
	vs variantstore.Store,
	idx clusterindex.Index,
	stats clusterstats.Store,
	means clusterstats.SampleMeans,
	history historylog.Log,
	dist *distance.Engine,
	clustering config.Clustering,
) *Remover {
	return &Remover{
		VariantStore: vs,
		Index:        idx,
		Stats:        stats,
		Means:        means,
		History:      history,
		Distances:    dist,
		Clustering:   clustering,
		Now:          time.Now,
	}
}

func (r *Remover) numLevels() int {
	if n := len(r.Clustering.Thresholds); n > 0 {
		return n
	}
	return model.NumLevels
}

func (r *Remover) threshold(level int) int {
	if level < len(r.Clustering.Thresholds) {
		return r.Clustering.Thresholds[level]
	}
	return model.Thresholds[level]
}

// NewGroup is one connected component that split away from its original
// cluster id and was given a fresh one.
type NewGroup struct {
	ID      int
	Members []model.SampleID
}

// SplitRecord describes a single level at which removing the sample left
// its former cluster disconnected, so one or more NewGroups were carved
// out of it (spec.md §4.7's integrity check).
type SplitRecord struct {
	Level      int
	RetainedID int
	NewGroups  []NewGroup
}

// Result is the outcome of a successful Remove.
type Result struct {
	Sample model.SampleID
	Mode   Mode
	Splits []SplitRecord
}

// Remove drops sample out of every level's cluster, splitting any cluster
// that the sample's edges were holding together, reverses its contribution
// out of ClusterStats/SampleClusterStats at every level, and finalises per
// mode (spec.md §4.7).
func (r *Remover) Remove(ctx context.Context, sample model.SampleID, mode Mode) (*Result, error) {
	addr, err := r.Index.Lookup(ctx, sample)
	if err != nil {
		return nil, err
	}
	now := r.Now()
	n := r.numLevels()
	memo := newDistanceMemo(r.Distances)

	var splits []SplitRecord
	for i := 0; i < n; i++ {
		c := addr[i]
		members, err := r.Index.Members(ctx, i, c, false)
		if err != nil {
			return nil, err
		}
		rest := without(members, sample)

		if len(rest) == 0 {
			if err := r.Stats.Delete(ctx, i, c); err != nil {
				return nil, err
			}
			continue
		}

		components, err := connectedComponents(ctx, rest, r.threshold(i), memo.dist)
		if err != nil {
			return nil, err
		}

		// Pop the sample's own contribution, then every departing
		// component's, out of the cluster's pre-removal stats — each call
		// passes the departing member's distances to whichever members are
		// still counted in the stats object at that moment (spec.md §4.7:
		// "remove_member with its recorded distances to current members").
		st, err := r.Stats.Get(ctx, i, c)
		if err != nil {
			return nil, err
		}
		remaining := append([]model.SampleID{sample}, rest...)
		popOne := func(m model.SampleID) error {
			dists := make([]float64, 0, len(remaining)-1)
			for _, x := range remaining {
				if x == m {
					continue
				}
				d, err := memo.dist(ctx, m, x)
				if err != nil {
					return err
				}
				dists = append(dists, float64(d))
			}
			st.RemoveMember(dists)
			remaining = without(remaining, m)
			return nil
		}
		if err := popOne(sample); err != nil {
			return nil, err
		}
		for _, comp := range components[1:] {
			for _, m := range comp {
				if err := popOne(m); err != nil {
					return nil, err
				}
			}
		}
		if err := r.Stats.Put(ctx, i, c, st); err != nil {
			return nil, err
		}
		if err := r.recomputeMeans(ctx, i, components[0], memo); err != nil {
			return nil, err
		}

		var newGroups []NewGroup
		for _, comp := range components[1:] {
			newID, err := r.Index.AllocNewID(ctx, i)
			if err != nil {
				return nil, err
			}
			for _, m := range comp {
				old, err := r.Index.Lookup(ctx, m)
				if err != nil {
					return nil, err
				}
				newAddr := old
				newAddr[i] = newID
				if err := r.Index.SetLevel(ctx, m, i, newID); err != nil {
					return nil, err
				}
				if err := r.History.Append(ctx, historylog.Entry{
					Sample: m, Old: old, New: newAddr, RenamedAt: now,
				}); err != nil {
					return nil, err
				}
			}
			groupStats, err := statsFromMembers(ctx, comp, memo)
			if err != nil {
				return nil, err
			}
			if err := r.Stats.Put(ctx, i, newID, groupStats); err != nil {
				return nil, err
			}
			if err := r.recomputeMeans(ctx, i, comp, memo); err != nil {
				return nil, err
			}
			newGroups = append(newGroups, NewGroup{ID: newID, Members: comp})
		}
		if len(newGroups) > 0 {
			splits = append(splits, SplitRecord{Level: i, RetainedID: c, NewGroups: newGroups})
		}
	}

	switch mode {
	case ModeIgnore, ModeHardDelete:
		if err := r.VariantStore.SetIgnoreSample(ctx, sample, true); err != nil {
			return nil, err
		}
		if err := r.History.Delete(ctx, sample); err != nil {
			return nil, err
		}
		if err := r.Index.RemoveSample(ctx, sample); err != nil {
			return nil, err
		}
		if mode == ModeHardDelete {
			if err := r.VariantStore.DeleteSample(ctx, sample); err != nil {
				return nil, err
			}
		}
	case ModeKnownOutlier:
		if err := r.VariantStore.SetIgnoreZScore(ctx, sample, true); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			if err := r.Means.Set(ctx, sample, i, nil); err != nil {
				return nil, err
			}
		}
	}

	return &Result{Sample: sample, Mode: mode, Splits: splits}, nil
}

// recomputeMeans writes every member's from-scratch mean distance to every
// other member of the same (now finalised) group.
func (r *Remover) recomputeMeans(ctx context.Context, level int, members []model.SampleID, memo *distanceMemo) error {
	if len(members) < 2 {
		for _, m := range members {
			if err := r.Means.Set(ctx, m, level, nil); err != nil {
				return err
			}
		}
		return nil
	}
	for _, m := range members {
		var sum float64
		for _, o := range members {
			if o == m {
				continue
			}
			d, err := memo.dist(ctx, m, o)
			if err != nil {
				return err
			}
			sum += float64(d)
		}
		mean := sum / float64(len(members)-1)
		if err := r.Means.Set(ctx, m, level, &mean); err != nil {
			return err
		}
	}
	return nil
}

// statsFromMembers builds a fresh Stats for a departed component from its
// full pairwise distances (spec.md §4.4 ConstructFromDistances, §4.7).
func statsFromMembers(ctx context.Context, members []model.SampleID, memo *distanceMemo) (*clusterstats.Stats, error) {
	if len(members) == 1 {
		return clusterstats.Singleton(), nil
	}
	var dists []float64
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			d, err := memo.dist(ctx, members[i], members[j])
			if err != nil {
				return nil, err
			}
			dists = append(dists, float64(d))
		}
	}
	return clusterstats.ConstructFromDistances(len(members), dists), nil
}

func without(members []model.SampleID, s model.SampleID) []model.SampleID {
	out := make([]model.SampleID, 0, len(members))
	for _, m := range members {
		if m != s {
			out = append(out, m)
		}
	}
	return out
}

// connectedComponents groups nodes into connected components of the graph
// where an edge joins any two nodes at most threshold apart, sorted
// descending by size (ties broken by the smallest member id), each
// component's own members sorted ascending. The first returned component
// is always the one that keeps the cluster's original id.
//
// spec.md §4.7 phrases the integrity check as "do the removee's direct
// neighbours stay mutually reachable without it"; that check and "compute
// the connected components of the remaining members" decide the same
// split, since the removee's neighbours fail to stay mutually reachable
// exactly when the remaining members form more than one component. Working
// directly from components is simpler to get right and to test.
func connectedComponents(ctx context.Context, nodes []model.SampleID, threshold int, dist func(context.Context, model.SampleID, model.SampleID) (int, error)) ([][]model.SampleID, error) {
	visited := map[model.SampleID]bool{}
	var components [][]model.SampleID
	for _, start := range nodes {
		if visited[start] {
			continue
		}
		queue := []model.SampleID{start}
		visited[start] = true
		var comp []model.SampleID
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			comp = append(comp, cur)
			for _, other := range nodes {
				if visited[other] || other == cur {
					continue
				}
				d, err := dist(ctx, cur, other)
				if err != nil {
					return nil, err
				}
				if d <= threshold {
					visited[other] = true
					queue = append(queue, other)
				}
			}
		}
		sort.Slice(comp, func(a, b int) bool { return comp[a] < comp[b] })
		components = append(components, comp)
	}
	sort.Slice(components, func(a, b int) bool {
		if len(components[a]) != len(components[b]) {
			return len(components[a]) > len(components[b])
		}
		return components[a][0] < components[b][0]
	})
	return components, nil
}

// distanceMemo caches pairwise distances for the lifetime of a single
// Remove call, avoiding repeat store reads across the connectivity check,
// the stats recomputation, and the per-member mean recomputation.
type distanceMemo struct {
	engine *distance.Engine
	cache  map[distance.PairKey]int
}

func newDistanceMemo(e *distance.Engine) *distanceMemo {
	return &distanceMemo{engine: e, cache: map[distance.PairKey]int{}}
}

func (m *distanceMemo) dist(ctx context.Context, a, b model.SampleID) (int, error) {
	key := pairKey(a, b)
	if d, ok := m.cache[key]; ok {
		return d, nil
	}
	d, err := m.engine.Pair(ctx, a, b)
	if err != nil {
		return 0, err
	}
	m.cache[key] = d
	return d, nil
}

func pairKey(a, b model.SampleID) distance.PairKey {
	if a > b {
		a, b = b, a
	}
	return distance.PairKey{A: a, B: b}
}
