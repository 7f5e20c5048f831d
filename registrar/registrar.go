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

// Package registrar implements spec.md §4.5 (admitting a new sample) and
// §4.6 (the merges that admission can trigger): computing a proposed SNP
// address, checking z-score admissibility against every level's current
// cluster statistics, and then writing the address, merges, and recomputed
// statistics.
package registrar

import (
	"context"
	"sort"
	"time"

	"github.com/grailbio/base/log"
	"github.com/grailbio/snapper/clusterindex"
	"github.com/grailbio/snapper/clusterstats"
	"github.com/grailbio/snapper/config"
	"github.com/grailbio/snapper/distance"
	"github.com/grailbio/snapper/historylog"
	"github.com/grailbio/snapper/mergelog"
	"github.com/grailbio/snapper/model"
	"github.com/grailbio/snapper/snaperr"
	"github.com/grailbio/snapper/variantstore"
)

// newCluster marks a not-yet-allocated level in a proposed address; it is
// never a valid cluster id (clusterindex.AllocNewID starts at 1).
const newCluster = 0

// Registrar admits samples into the clustering, per spec.md §4.5.
type Registrar struct {
	VariantStore variantstore.Store
	Index        clusterindex.Index
	Stats        clusterstats.Store
	Means        clusterstats.SampleMeans
	History      historylog.Log
	Merges       mergelog.Log
	Distances    *distance.Engine
	Clustering   config.Clustering

	// Now returns the current time; overridable by tests.
	Now func() time.Time
}

// New wires a Registrar from its collaborators.
func New(
	vs variantstore.Store,
	idx clusterindex.Index,
	stats clusterstats.Store,
	means clusterstats.SampleMeans,
	history historylog.Log,
	merges mergelog.Log,
	dist *distance.Engine,
	clustering config.Clustering,
) *Registrar {
	return &Registrar{
		VariantStore: vs,
		Index:        idx,
		Stats:        stats,
		Means:        means,
		History:      history,
		Merges:       merges,
		Distances:    dist,
		Clustering:   clustering,
		Now:          time.Now,
	}
}

func (r *Registrar) numLevels() int {
	if n := len(r.Clustering.Thresholds); n > 0 {
		return n
	}
	return model.NumLevels
}

func (r *Registrar) threshold(level int) int {
	if level < len(r.Clustering.Thresholds) {
		return r.Clustering.Thresholds[level]
	}
	return model.Thresholds[level]
}

// MergeRecord describes one cluster merge performed while admitting a
// sample (spec.md §4.6).
type MergeRecord struct {
	Level   int
	Target  int
	Sources []int
}

// Result is the outcome of a successful Admit.
type Result struct {
	Sample         model.SampleID
	Address        model.Address
	Merges         []MergeRecord
	ZScoreBypassed bool
}

// Admit computes sample's SNP address, performs whatever merges that
// address requires, and writes the address, merges, and every affected
// cluster's statistics. If bypassZScore is false and the admissibility
// check of spec.md §4.5 step 4 fails at any level, Admit returns a
// snaperr.StatisticalReject error and makes no change at all, since that
// check runs before any write. The writes go to each collaborator one by
// one and are not wrapped in a transaction: an error partway through
// leaves the writes already made in place.
func (r *Registrar) Admit(ctx context.Context, sample model.SampleID, bypassZScore bool) (*Result, error) {
	relevant, err := r.Distances.Relevant(ctx, sample)
	if err != nil {
		return nil, err
	}
	now := r.Now()
	n := r.numLevels()

	if len(relevant) == 0 {
		addr, err := r.admitSingleton(ctx, sample, n)
		if err != nil {
			return nil, err
		}
		return &Result{Sample: sample, Address: addr}, nil
	}

	distanceOf := make(map[model.SampleID]int, len(relevant))
	for _, rk := range relevant {
		distanceOf[rk.Target] = rk.Distance
	}

	closest := relevant[0]
	closestAddr, err := r.Index.Lookup(ctx, closest.Target)
	if err != nil {
		return nil, err
	}

	proposed := closestAddr
	plans := make(map[int]*mergePlan, n)
	for i := 0; i < n; i++ {
		if closest.Distance > r.threshold(i) {
			proposed[i] = newCluster
			continue
		}
		ids, err := r.clusterIDsWithin(ctx, i, relevant)
		if err != nil {
			return nil, err
		}
		if len(ids) > 1 {
			plan, err := r.computeMergePlan(ctx, i, ids)
			if err != nil {
				return nil, err
			}
			plans[i] = plan
			proposed[i] = plan.target
		}
	}

	rejected, err := r.checkAdmissibility(ctx, n, proposed, plans, distanceOf)
	if err != nil {
		return nil, err
	}
	if rejected != "" && !bypassZScore {
		return nil, snaperr.E(snaperr.StatisticalReject, rejected)
	}

	var records []MergeRecord
	for i := 0; i < n; i++ {
		plan, ok := plans[i]
		if !ok {
			continue
		}
		if err := r.commitMerge(ctx, plan, now); err != nil {
			return nil, err
		}
		records = append(records, MergeRecord{Level: plan.level, Target: plan.target, Sources: plan.sources})
	}

	if err := r.commitAdmission(ctx, sample, n, proposed, plans, distanceOf); err != nil {
		return nil, err
	}

	if rejected != "" && bypassZScore {
		if err := r.VariantStore.SetIgnoreZScore(ctx, sample, true); err != nil {
			return nil, err
		}
		log.Error.Printf("registrar: admitted %d despite failed admissibility check (%s)", sample, rejected)
	}

	return &Result{Sample: sample, Address: proposed, Merges: records, ZScoreBypassed: rejected != "" && bypassZScore}, nil
}

// admitSingleton handles the case where sample has no other non-ignored
// sample to compare against: every level gets a brand-new, single-member
// cluster.
func (r *Registrar) admitSingleton(ctx context.Context, sample model.SampleID, n int) (model.Address, error) {
	var addr model.Address
	for i := 0; i < n; i++ {
		id, err := r.Index.AllocNewID(ctx, i)
		if err != nil {
			return addr, err
		}
		if err := r.Stats.Put(ctx, i, id, clusterstats.Singleton()); err != nil {
			return addr, err
		}
		if err := r.Means.Set(ctx, sample, i, nil); err != nil {
			return addr, err
		}
		addr[i] = id
	}
	if err := r.Index.SetAddress(ctx, sample, addr); err != nil {
		return addr, err
	}
	return addr, nil
}

// clusterIDsWithin returns the distinct cluster ids, at level, of every
// relevant sample within threshold(level).
func (r *Registrar) clusterIDsWithin(ctx context.Context, level int, relevant []distance.Ranked) ([]int, error) {
	seen := map[int]bool{}
	var ids []int
	for _, rk := range relevant {
		if rk.Distance > r.threshold(level) {
			continue
		}
		addr, err := r.Index.Lookup(ctx, rk.Target)
		if err != nil {
			return nil, err
		}
		if !seen[addr[level]] {
			seen[addr[level]] = true
			ids = append(ids, addr[level])
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// mergePlan is the fully-computed, not-yet-committed result of merging the
// clusters at one level, per spec.md §4.6.
type mergePlan struct {
	level   int
	target  int
	sources []int // other ids, renamed away into target

	// members is the final, post-merge, non-outlier membership at level,
	// not including the sample being admitted.
	members []model.SampleID
	// stats is members' ClusterStats before the admitted sample joins.
	stats *clusterstats.Stats
	// meanToOthers is each member's from-scratch recomputed mean distance
	// to every other member, before the admitted sample joins.
	meanToOthers map[model.SampleID]float64
}

// computeMergePlan picks the merge target (largest non-ignored membership,
// ties broken by smallest id) among ids, then builds its post-merge Stats
// by folding every other cluster's members in one at a time, seeded from
// the target's own current Stats — except when the target was itself a
// singleton, where spec.md §4.6 calls for reconstructing Stats from the
// full union's pairwise distances directly, since there is no meaningful
// streaming state to seed from.
func (r *Registrar) computeMergePlan(ctx context.Context, level int, ids []int) (*mergePlan, error) {
	membersOf := make(map[int][]model.SampleID, len(ids))
	for _, id := range ids {
		m, err := r.Index.Members(ctx, level, id, false)
		if err != nil {
			return nil, err
		}
		membersOf[id] = m
	}

	target := ids[0]
	for _, id := range ids[1:] {
		switch {
		case len(membersOf[id]) > len(membersOf[target]):
			target = id
		case len(membersOf[id]) == len(membersOf[target]) && id < target:
			target = id
		}
	}

	var sources []int
	var allMembers []model.SampleID
	allMembers = append(allMembers, membersOf[target]...)
	for _, id := range ids {
		if id == target {
			continue
		}
		sources = append(sources, id)
		allMembers = append(allMembers, membersOf[id]...)
	}
	sort.Ints(sources)

	pairs, err := r.Distances.AllPairs(ctx, allMembers)
	if err != nil {
		return nil, err
	}
	dist := func(a, b model.SampleID) float64 {
		if a > b {
			a, b = b, a
		}
		return float64(pairs[distance.PairKey{A: a, B: b}])
	}

	targetStats, err := r.Stats.Get(ctx, level, target)
	if err != nil {
		return nil, err
	}

	var stats *clusterstats.Stats
	if targetStats.NofMembers <= 1 {
		var dists []float64
		for i := 0; i < len(allMembers); i++ {
			for j := i + 1; j < len(allMembers); j++ {
				dists = append(dists, dist(allMembers[i], allMembers[j]))
			}
		}
		stats = clusterstats.ConstructFromDistances(len(allMembers), dists)
	} else {
		stats = targetStats.Clone()
		growing := append([]model.SampleID(nil), membersOf[target]...)
		for _, id := range sources {
			for _, m := range membersOf[id] {
				ds := make([]float64, len(growing))
				for i, g := range growing {
					ds[i] = dist(m, g)
				}
				stats.AddMember(ds)
				growing = append(growing, m)
			}
		}
	}

	meanToOthers := make(map[model.SampleID]float64, len(allMembers))
	for _, s := range allMembers {
		if len(allMembers) < 2 {
			continue
		}
		var sum float64
		for _, o := range allMembers {
			if o == s {
				continue
			}
			sum += dist(s, o)
		}
		meanToOthers[s] = sum / float64(len(allMembers)-1)
	}

	return &mergePlan{
		level:        level,
		target:       target,
		sources:      sources,
		members:      allMembers,
		stats:        stats,
		meanToOthers: meanToOthers,
	}, nil
}

// commitMerge writes the rename, one HistoryEntry per renamed sample, one
// MergeEntry per source cluster, the merged target's Stats, and every
// final member's recomputed SampleClusterStats mean.
func (r *Registrar) commitMerge(ctx context.Context, plan *mergePlan, now time.Time) error {
	for _, source := range plan.sources {
		renamed, err := r.Index.Members(ctx, plan.level, source, true)
		if err != nil {
			return err
		}
		oldAddrs := make(map[model.SampleID]model.Address, len(renamed))
		for _, s := range renamed {
			addr, err := r.Index.Lookup(ctx, s)
			if err != nil {
				return err
			}
			oldAddrs[s] = addr
		}
		if _, err := r.Index.Rename(ctx, plan.level, source, plan.target); err != nil {
			return err
		}
		for _, s := range renamed {
			newAddr := oldAddrs[s]
			newAddr[plan.level] = plan.target
			if err := r.History.Append(ctx, historylog.Entry{
				Sample: s, Old: oldAddrs[s], New: newAddr, RenamedAt: now,
			}); err != nil {
				return err
			}
		}
		if err := r.Merges.Append(ctx, mergelog.Entry{
			Level: plan.level, Source: source, Target: plan.target, OccurredAt: now,
		}); err != nil {
			return err
		}
		if err := r.Stats.Delete(ctx, plan.level, source); err != nil {
			return err
		}
	}
	if err := r.Stats.Put(ctx, plan.level, plan.target, plan.stats); err != nil {
		return err
	}
	for _, m := range plan.members {
		if err := r.Means.Set(ctx, m, plan.level, meanPtr(plan, m)); err != nil {
			return err
		}
	}
	return nil
}

func meanPtr(plan *mergePlan, m model.SampleID) *float64 {
	if len(plan.members) < 2 {
		return nil
	}
	v := plan.meanToOthers[m]
	return &v
}

// checkAdmissibility runs spec.md §4.5 step 4's z-score test at every level
// whose proposed id is not brand-new, returning a non-empty reason if any
// level rejects, or "" if every level is admissible.
func (r *Registrar) checkAdmissibility(
	ctx context.Context,
	n int,
	proposed model.Address,
	plans map[int]*mergePlan,
	distanceOf map[model.SampleID]int,
) (string, error) {
	for i := 0; i < n; i++ {
		if proposed[i] == newCluster {
			continue
		}
		var members []model.SampleID
		var base *clusterstats.Stats
		var meanToOthers map[model.SampleID]float64

		if plan, ok := plans[i]; ok {
			members = plan.members
			base = plan.stats
			meanToOthers = plan.meanToOthers
		} else {
			var err error
			members, err = r.Index.Members(ctx, i, proposed[i], false)
			if err != nil {
				return "", err
			}
			base, err = r.Stats.Get(ctx, i, proposed[i])
			if err != nil {
				return "", err
			}
			meanToOthers = map[model.SampleID]float64{}
			for _, m := range members {
				v, err := r.Means.Get(ctx, m, i)
				if err != nil {
					return "", err
				}
				if v != nil {
					meanToOthers[m] = *v
				}
			}
		}

		if len(members) == 0 {
			continue
		}
		newDists := make([]float64, len(members))
		var sum float64
		for j, m := range members {
			d := float64(distanceOf[m])
			newDists[j] = d
			sum += d
		}
		avg := sum / float64(len(members))

		after := base.Clone()
		after.AddMember(newDists)
		if !after.HasStats() || after.StdDev() == 0 {
			continue
		}
		// Sign convention: a sample whose distances place it far outside the
		// cluster's post-addition distribution pulls the post-addition mean
		// up but leaves it well below its own average distance, so reject on
		// a very negative
		// (mean_after - candidate) / stddev_after (spec.md §8 S4's worked
		// example, followed in preference to §4.5's textual formula where
		// the two disagree — see the registrar entry in DESIGN.md).
		zCluster := (after.Mean() - avg) / after.StdDev()
		if zCluster <= r.Clustering.ZScoreClusterReject {
			return "cluster-wide z-score rejected at level", nil
		}
		// Each member's post-admission "others" count is len(members): its
		// pre-admission others (len(members)-1, since members excludes the
		// candidate) plus the candidate itself.
		k := len(members)
		for _, m := range members {
			old, ok := meanToOthers[m]
			if !ok {
				continue
			}
			newMean := (old*float64(k-1) + float64(distanceOf[m])) / float64(k)
			zMember := (after.Mean() - newMean) / after.StdDev()
			if zMember <= r.Clustering.ZScoreMemberReject {
				return "member z-score rejected at level", nil
			}
		}
	}
	return "", nil
}

// commitAdmission writes the final address, every level's cluster stats
// and sample means for the newly admitted sample, allocating new ids for
// levels that proposed one.
func (r *Registrar) commitAdmission(
	ctx context.Context,
	sample model.SampleID,
	n int,
	proposed model.Address,
	plans map[int]*mergePlan,
	distanceOf map[model.SampleID]int,
) error {
	for i := 0; i < n; i++ {
		if proposed[i] == newCluster {
			id, err := r.Index.AllocNewID(ctx, i)
			if err != nil {
				return err
			}
			proposed[i] = id
			if err := r.Stats.Put(ctx, i, id, clusterstats.Singleton()); err != nil {
				return err
			}
			if err := r.Means.Set(ctx, sample, i, nil); err != nil {
				return err
			}
			continue
		}

		var members []model.SampleID
		var base *clusterstats.Stats
		if plan, ok := plans[i]; ok {
			members = plan.members
			base = plan.stats
		} else {
			var err error
			members, err = r.Index.Members(ctx, i, proposed[i], false)
			if err != nil {
				return err
			}
			base, err = r.Stats.Get(ctx, i, proposed[i])
			if err != nil {
				return err
			}
		}

		newDists := make([]float64, len(members))
		var sum float64
		for j, m := range members {
			d := float64(distanceOf[m])
			newDists[j] = d
			sum += d
		}
		after := base.Clone()
		after.AddMember(newDists)
		if err := r.Stats.Put(ctx, i, proposed[i], after); err != nil {
			return err
		}

		if len(members) > 0 {
			// See checkAdmissibility: post-admission others count is
			// len(members), not len(members)+1.
			k := len(members)
			for _, m := range members {
				old, err := r.Means.Get(ctx, m, i)
				if err != nil {
					return err
				}
				var prev float64
				if old != nil {
					prev = *old
				}
				newMean := (prev*float64(k-1) + float64(distanceOf[m])) / float64(k)
				if err := r.Means.Set(ctx, m, i, &newMean); err != nil {
					return err
				}
			}
			avg := sum / float64(len(members))
			if err := r.Means.Set(ctx, sample, i, &avg); err != nil {
				return err
			}
		} else {
			if err := r.Means.Set(ctx, sample, i, nil); err != nil {
				return err
			}
		}
	}
	return r.Index.SetAddress(ctx, sample, proposed)
}
