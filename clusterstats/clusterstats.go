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

// Package clusterstats implements spec.md §4.4: per-cluster running
// moments (member count, pairwise-distance count, mean, stddev) kept
// consistent under online add_member/remove_member and one-shot
// construct_from_distances.
//
// ConstructFromDistances' exact mean/stddev computation uses
// gonum.org/v1/gonum/stat.MeanStdDev, matching spec.md §4.4's rationale
// that a from-scratch batch pass ("the only-one-member shortcut avoids
// numerically-unstable streaming from an empty state") should not reuse
// the streaming Welford path.
package clusterstats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Stats is spec.md §3's ClusterStats(level, id): (nof_members,
// nof_pairwise_dists, mean_pw_dist, stddev). Mean/stddev are meaningless
// (HasStats() == false) when NofMembers < 2.
type Stats struct {
	NofMembers       int
	NofPairwiseDists int
	mean             float64
	m2               float64 // Welford's running sum of squared deviations
	valid            bool    // true iff NofPairwiseDists > 0
}

// HasStats reports whether Mean/StdDev are meaningful (spec.md §3: "null
// iff n < 2").
func (s *Stats) HasStats() bool {
	return s.valid
}

// Mean returns the running mean pairwise distance. Only meaningful when
// HasStats() is true.
func (s *Stats) Mean() float64 {
	return s.mean
}

// StdDev returns the running (population) standard deviation of pairwise
// distances. Only meaningful when HasStats() is true.
func (s *Stats) StdDev() float64 {
	if !s.valid || s.NofPairwiseDists == 0 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.NofPairwiseDists))
}

// Singleton returns the Stats of a freshly created, single-member
// cluster: zero pairwise distances, no mean/stddev.
func Singleton() *Stats {
	return &Stats{NofMembers: 1}
}

// Empty returns the Stats of a cluster with zero members.
func Empty() *Stats {
	return &Stats{}
}

// Clone returns an independent copy, used by Registrar to speculatively
// evaluate z-score admissibility without mutating the committed stats
// (spec.md §4.5 step 4: "call ClusterStats.add_member on a fresh copy").
func (s *Stats) Clone() *Stats {
	c := *s
	return &c
}

// AddMember folds in newDistances — the new member's distance to every
// current member, in any order — via the online Welford update of
// spec.md §4.4. len(newDistances) must equal the pre-call NofMembers.
func (s *Stats) AddMember(newDistances []float64) {
	for _, d := range newDistances {
		prevMean := s.mean
		k := s.NofPairwiseDists + 1
		s.mean = s.mean + (d-prevMean)/float64(k)
		s.m2 = s.m2 + (d-prevMean)*(d-s.mean)
		s.NofPairwiseDists = k
	}
	s.NofMembers++
	s.valid = s.NofPairwiseDists > 0
}

// RemoveMember is AddMember's algebraic inverse: it pops oldDistances
// (the departing member's distances to every remaining member) in
// reverse order, undoing the Welford update that added them. Precondition
// (spec.md §4.4): NofMembers >= 2 before the call.
func (s *Stats) RemoveMember(oldDistances []float64) {
	for i := len(oldDistances) - 1; i >= 0; i-- {
		d := oldDistances[i]
		k := s.NofPairwiseDists
		// Invert: mean_k = mean_{k-1} + (d - mean_{k-1})/k
		//      => mean_{k-1} = (mean_k*k - d) / (k-1), for k > 1.
		var prevMean float64
		if k > 1 {
			prevMean = (s.mean*float64(k) - d) / float64(k-1)
		}
		s.m2 = s.m2 - (d-prevMean)*(d-s.mean)
		s.mean = prevMean
		s.NofPairwiseDists = k - 1
	}
	s.NofMembers--
	s.valid = s.NofPairwiseDists > 0
	if s.NofMembers < 2 {
		s.mean = 0
		s.m2 = 0
	}
}

// ConstructFromDistances builds Stats directly from the full list of
// pairwise distances within a cluster of nMembers (so len(dists) must be
// nMembers*(nMembers-1)/2). Used by merges where the target cluster had
// at most one member before the merge, and by split/remove's recomputation
// of a resulting component's stats (spec.md §4.4, §4.6, §4.7).
func ConstructFromDistances(nMembers int, dists []float64) *Stats {
	s := &Stats{NofMembers: nMembers, NofPairwiseDists: len(dists)}
	if len(dists) == 0 {
		return s
	}
	mean, std := stat.MeanStdDev(dists, nil)
	s.mean = mean
	// stat.MeanStdDev returns the sample (Bessel-corrected) stddev; spec.md
	// §4.4 defines stddev as sqrt(M2/n), the population form, so convert.
	s.m2 = std * std * float64(len(dists)-1)
	if len(dists) == 1 {
		s.m2 = 0
	}
	s.valid = true
	return s
}
