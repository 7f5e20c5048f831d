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

// Package query implements spec.md §4.8's read-only Query façade
// (k-nearest, samples-within-distance, nearest threshold band), plus the
// SPEC_FULL.md §C supplemented read-only operations: a periodic
// cluster-integrity auditor and an ignored-sample listing.
package query

import (
	"context"
	"sort"

	"github.com/grailbio/snapper/clusterindex"
	"github.com/grailbio/snapper/clusterstats"
	"github.com/grailbio/snapper/config"
	"github.com/grailbio/snapper/distance"
	"github.com/grailbio/snapper/historylog"
	"github.com/grailbio/snapper/model"
	"github.com/grailbio/snapper/snaperr"
	"github.com/grailbio/snapper/variantstore"
)

// Query answers read-only questions about the current clustering state
// (spec.md §4.8).
type Query struct {
	VariantStore variantstore.Store
	Index        clusterindex.Index
	Stats        clusterstats.Store
	HistoryLog   historylog.Log
	Distances    *distance.Engine
	Clustering   config.Clustering
}

// New wires a Query from its collaborators.
func New(
	vs variantstore.Store,
	idx clusterindex.Index,
	stats clusterstats.Store,
	history historylog.Log,
	dist *distance.Engine,
	clustering config.Clustering,
) *Query {
	return &Query{
		VariantStore: vs,
		Index:        idx,
		Stats:        stats,
		HistoryLog:   history,
		Distances:    dist,
		Clustering:   clustering,
	}
}

func (q *Query) numLevels() int {
	if n := len(q.Clustering.Thresholds); n > 0 {
		return n
	}
	return model.NumLevels
}

func (q *Query) threshold(level int) int {
	if level < len(q.Clustering.Thresholds) {
		return q.Clustering.Thresholds[level]
	}
	return model.Thresholds[level]
}

// KNearest implements spec.md §4.8's k-nearest(name, k): fetch the
// sample's address, accumulate same-cluster members from t0 upward until
// at least k candidates are available, compute distances to that pool,
// and return the k smallest distances, including ties for the k-th place.
// If the full address (every level up to t250) still has fewer than k
// other members, it falls back to distances against every relevant
// (non-ignored, non-self) sample.
func (q *Query) KNearest(ctx context.Context, name string, k int) ([]distance.Ranked, error) {
	sample, err := q.VariantStore.SampleByName(ctx, name)
	if err != nil {
		return nil, err
	}
	addr, err := q.Index.Lookup(ctx, sample.ID)
	if err != nil {
		return nil, err
	}

	n := q.numLevels()
	pool := map[model.SampleID]bool{}
	var ranked []distance.Ranked
	for level := 0; level < n; level++ {
		members, err := q.Index.Members(ctx, level, addr[level], false)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if m == sample.ID || pool[m] {
				continue
			}
			pool[m] = true
		}
		if len(pool) >= k {
			break
		}
	}

	if len(pool) < k {
		relevant, err := q.Distances.Relevant(ctx, sample.ID)
		if err != nil {
			return nil, err
		}
		return topKWithTies(relevant, k), nil
	}

	targets := make([]model.SampleID, 0, len(pool))
	for m := range pool {
		targets = append(targets, m)
	}
	ranked, err = q.Distances.OneToMany(ctx, sample.ID, targets)
	if err != nil {
		return nil, err
	}
	return topKWithTies(ranked, k), nil
}

// topKWithTies returns the k smallest entries of ranked (already sorted
// ascending by distance, per distance.Engine's contract), including every
// entry tied with the k-th distance.
func topKWithTies(ranked []distance.Ranked, k int) []distance.Ranked {
	if k <= 0 || len(ranked) == 0 {
		return nil
	}
	if k > len(ranked) {
		k = len(ranked)
	}
	cutoff := ranked[k-1].Distance
	end := k
	for end < len(ranked) && ranked[end].Distance == cutoff {
		end++
	}
	return ranked[:end]
}

// Within implements spec.md §4.8's within(name, d): use the smallest
// T[i] >= d as the candidate pool (the sample's same-cluster members at
// that level); if d exceeds the widest threshold, scan the full
// non-ignored population instead. Returns every sample whose distance is
// <= d, sorted ascending by distance then id.
func (q *Query) Within(ctx context.Context, name string, d int) ([]distance.Ranked, error) {
	sample, err := q.VariantStore.SampleByName(ctx, name)
	if err != nil {
		return nil, err
	}
	addr, err := q.Index.Lookup(ctx, sample.ID)
	if err != nil {
		return nil, err
	}

	n := q.numLevels()
	var targets []model.SampleID
	widest := q.threshold(n - 1)
	if d > widest {
		relevant, err := q.Distances.Relevant(ctx, sample.ID)
		if err != nil {
			return nil, err
		}
		return filterWithin(relevant, d), nil
	}

	level := 0
	for level < n && q.threshold(level) < d {
		level++
	}
	members, err := q.Index.Members(ctx, level, addr[level], false)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m != sample.ID {
			targets = append(targets, m)
		}
	}

	ranked, err := q.Distances.OneToMany(ctx, sample.ID, targets)
	if err != nil {
		return nil, err
	}
	return filterWithin(ranked, d), nil
}

func filterWithin(ranked []distance.Ranked, d int) []distance.Ranked {
	var out []distance.Ranked
	for _, r := range ranked {
		if r.Distance <= d {
			out = append(out, r)
		}
	}
	return out
}

// NearestBand implements spec.md §4.8's nearest-band(name): the smallest
// threshold at which the sample's cluster has at least one other member.
// Returns (threshold, true) for that threshold, or (model.Thresholds's
// widest value, false) if the sample is alone even at the widest level.
func (q *Query) NearestBand(ctx context.Context, name string) (int, bool, error) {
	sample, err := q.VariantStore.SampleByName(ctx, name)
	if err != nil {
		return 0, false, err
	}
	addr, err := q.Index.Lookup(ctx, sample.ID)
	if err != nil {
		return 0, false, err
	}
	n := q.numLevels()
	for level := 0; level < n; level++ {
		members, err := q.Index.Members(ctx, level, addr[level], false)
		if err != nil {
			return 0, false, err
		}
		if len(members) >= 2 {
			return q.threshold(level), true, nil
		}
	}
	return q.threshold(n - 1), false, nil
}

// VerifyClusterIntegrity implements SPEC_FULL.md §C.4: walks every cluster
// id at level and confirms the chain-connectivity invariant of spec.md §8
// holds — every member reachable from every other member via a chain of
// pairwise distances each <= threshold(level) — returning the ids of any
// cluster that violates it, without mutating anything.
func (q *Query) VerifyClusterIntegrity(ctx context.Context, level int) ([]int, error) {
	ids, err := q.clusterIDsAtLevel(ctx, level)
	if err != nil {
		return nil, err
	}
	threshold := q.threshold(level)
	var violating []int
	for _, id := range ids {
		members, err := q.Index.Members(ctx, level, id, false)
		if err != nil {
			return nil, err
		}
		if len(members) < 2 {
			continue
		}
		pairs, err := q.Distances.AllPairs(ctx, members)
		if err != nil {
			return nil, err
		}
		if !isConnected(members, threshold, pairs) {
			violating = append(violating, id)
		}
	}
	sort.Ints(violating)
	return violating, nil
}

// clusterIDsAtLevel returns every distinct cluster id at level, derived
// from the non-ignored sample population (there is no direct "list every
// cluster id" index operation, matching spec.md §4.3's sample->address
// orientation).
func (q *Query) clusterIDsAtLevel(ctx context.Context, level int) ([]int, error) {
	all, err := q.VariantStore.AllSampleIDs(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[int]bool{}
	var ids []int
	for _, s := range all {
		addr, err := q.Index.Lookup(ctx, s)
		if err != nil {
			continue
		}
		if !seen[addr[level]] {
			seen[addr[level]] = true
			ids = append(ids, addr[level])
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func isConnected(members []model.SampleID, threshold int, pairs map[distance.PairKey]int) bool {
	visited := map[model.SampleID]bool{members[0]: true}
	queue := []model.SampleID{members[0]}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, other := range members {
			if visited[other] || other == cur {
				continue
			}
			a, b := cur, other
			if a > b {
				a, b = b, a
			}
			if pairs[distance.PairKey{A: a, B: b}] <= threshold {
				visited[other] = true
				queue = append(queue, other)
			}
		}
	}
	return len(visited) == len(members)
}

// ListIgnored implements SPEC_FULL.md §C.5: every sample with
// ignore_sample set, i.e. archived but never forgotten. variantstore.
// Store's AllSampleIDs deliberately excludes ignore_sample rows (it backs
// clustering, not archival listing), so this reads AllSamples instead,
// which includes them.
func (q *Query) ListIgnored(ctx context.Context) ([]model.Sample, error) {
	samples, err := q.VariantStore.AllSamples(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Sample
	for _, s := range samples {
		if s.IgnoreSample {
			out = append(out, s)
		}
	}
	return out, nil
}

// ClusterStats returns the ClusterStats row for one (level, cluster id):
// a cluster's current member count, mean and stddev.
func (q *Query) ClusterStats(ctx context.Context, level, id int) (*clusterstats.Stats, error) {
	return q.Stats.Get(ctx, level, id)
}

// History implements SPEC_FULL.md §C.2's get-history parity: every rename
// recorded for name, oldest first.
func (q *Query) History(ctx context.Context, name string) ([]historylog.Entry, error) {
	sample, err := q.VariantStore.SampleByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if sample.ID == model.ReferenceSampleID {
		return nil, snaperr.E(snaperr.Input, "reference sample has no history")
	}
	return q.HistoryLog.ForSample(ctx, sample.ID)
}
