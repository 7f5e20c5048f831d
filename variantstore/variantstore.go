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

// Package variantstore implements spec.md §4.1: per-sample, per-contig
// variant position sets, and the reference's globally-ignored positions
// that get subtracted from every sample at write time.
package variantstore

import (
	"context"
	"sort"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/snapper/model"
	"github.com/grailbio/snapper/posset"
	"github.com/grailbio/snapper/snaperr"
)

// ContigSets holds one sample's six disjoint position sets for a single
// contig (spec.md §3 VariantSet).
type ContigSets struct {
	A, C, G, T, N, Gap *posset.Set
}

// byBase returns the Set for a given Base.
func (c *ContigSets) byBase(b model.Base) *posset.Set {
	switch b {
	case model.BaseA:
		return c.A
	case model.BaseC:
		return c.C
	case model.BaseG:
		return c.G
	case model.BaseT:
		return c.T
	case model.BaseN:
		return c.N
	case model.BaseGap:
		return c.Gap
	default:
		return nil
	}
}

func emptyContigSets(universe int) *ContigSets {
	return &ContigSets{
		A:   posset.New(universe),
		C:   posset.New(universe),
		G:   posset.New(universe),
		T:   posset.New(universe),
		N:   posset.New(universe),
		Gap: posset.New(universe),
	}
}

// Contig describes a reference contig (spec.md §3 Reference).
type Contig struct {
	Name    string
	Length  int
	Ignored *posset.Set // globally-ignored positions, treated as N everywhere
}

// Store is the VariantStore contract of spec.md §4.1.
type Store interface {
	// PutReference initializes the store exactly once. contigs gives each
	// contig's name and length; each Contig's optional Ignored set holds
	// that contig's globally ignored positions. Fails with a snaperr.State
	// error if the store is not empty.
	PutReference(ctx context.Context, contigs []Contig) error

	// PutSample stores one sample's per-contig sets, subtracting the
	// reference's ignored set from every input set first. Fails with a
	// snaperr.Input error if the name already exists, and with a
	// snaperr.Integrity error if any of the six sets for a contig are not
	// pairwise disjoint.
	PutSample(ctx context.Context, name string, sets map[string]*ContigSets, ann model.Annotations) (model.SampleID, error)

	// GetSampleSets returns one sample's per-contig sets.
	GetSampleSets(ctx context.Context, id model.SampleID) (map[string]*ContigSets, error)

	// GetContigSets is the batched read used by DistanceEngine: for one
	// contig, the per-contig sets of every requested sample.
	GetContigSets(ctx context.Context, contig string, ids []model.SampleID) (map[model.SampleID]*ContigSets, error)

	// Contigs returns the reference's contig list.
	Contigs(ctx context.Context) ([]Contig, error)

	// SampleByName resolves a sample name to its id and flags.
	SampleByName(ctx context.Context, name string) (model.Sample, error)

	// SampleByID resolves a sample id to its flags.
	SampleByID(ctx context.Context, id model.SampleID) (model.Sample, error)

	// SetIgnoreSample flips the archival ignore_sample flag.
	SetIgnoreSample(ctx context.Context, id model.SampleID, ignore bool) error

	// SetIgnoreZScore flips the known-outlier ignore_zscore flag.
	SetIgnoreZScore(ctx context.Context, id model.SampleID, ignore bool) error

	// DeleteSample hard-deletes a sample's variant rows.
	DeleteSample(ctx context.Context, id model.SampleID) error

	// AllSampleIDs returns every sample id that is not ignore_sample.
	AllSampleIDs(ctx context.Context) ([]model.SampleID, error)

	// AllSamples returns every sample's identity and flags, including
	// ignore_sample ones (used by archival listing, SPEC_FULL.md §C.5;
	// clustering code should use AllSampleIDs instead).
	AllSamples(ctx context.Context) ([]model.Sample, error)
}

// assertDisjoint checks the VariantSet invariant of spec.md §3: the six
// per-contig sets are pairwise disjoint.
func assertDisjoint(sets *ContigSets) error {
	all := []*posset.Set{sets.A, sets.C, sets.G, sets.T, sets.N, sets.Gap}
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if !posset.Disjoint(all[i], all[j]) {
				return snaperr.E(snaperr.Integrity, "variant sets are not pairwise disjoint")
			}
		}
	}
	return nil
}

// subtractIgnored removes the contig's globally-ignored positions from
// every one of sets' six base sets, per spec.md §4.1 "subtracts reference
// N-set from every input set before storing".
func subtractIgnored(sets *ContigSets, ignored *posset.Set) *ContigSets {
	if ignored == nil || ignored.Count() == 0 {
		return sets
	}
	return &ContigSets{
		A:   posset.AndNot(sets.A, ignored),
		C:   posset.AndNot(sets.C, ignored),
		G:   posset.AndNot(sets.G, ignored),
		T:   posset.AndNot(sets.T, ignored),
		N:   posset.AndNot(sets.N, ignored),
		Gap: posset.AndNot(sets.Gap, ignored),
	}
}

// MemStore is an in-memory Store, used directly by unit tests and as the
// reference implementation that PGStore's SQL must agree with.
type MemStore struct {
	mu          sync.Mutex
	initialized bool
	contigs     []Contig
	contigByNm  map[string]*Contig
	nextID      model.SampleID
	samples     map[model.SampleID]*model.Sample
	nameToID    map[string]model.SampleID
	// sets[sampleID][contigName]
	sets map[model.SampleID]map[string]*ContigSets
	ann  map[model.SampleID]model.Annotations
}

// NewMemStore returns an empty, uninitialized MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		contigByNm: map[string]*Contig{},
		samples:    map[model.SampleID]*model.Sample{},
		nameToID:   map[string]model.SampleID{},
		sets:       map[model.SampleID]map[string]*ContigSets{},
		ann:        map[model.SampleID]model.Annotations{},
		nextID:     model.ReferenceSampleID + 1,
	}
}

func (m *MemStore) PutReference(ctx context.Context, contigs []Contig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return snaperr.E(snaperr.State, "reference already initialised")
	}
	m.contigs = append([]Contig(nil), contigs...)
	for i := range m.contigs {
		c := &m.contigs[i]
		if c.Ignored == nil {
			c.Ignored = posset.New(c.Length)
		}
		m.contigByNm[c.Name] = c
	}
	m.initialized = true
	log.Debug.Printf("variantstore: reference initialised with %d contigs", len(contigs))
	return nil
}

func (m *MemStore) PutSample(ctx context.Context, name string, sets map[string]*ContigSets, ann model.Annotations) (model.SampleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return 0, snaperr.E(snaperr.State, "reference not initialised")
	}
	if _, exists := m.nameToID[name]; exists {
		return 0, snaperr.E(snaperr.Input, "duplicate sample name", name)
	}
	stored := map[string]*ContigSets{}
	for _, c := range m.contigs {
		cs, ok := sets[c.Name]
		if !ok {
			cs = emptyContigSets(c.Length)
		}
		if err := assertDisjoint(cs); err != nil {
			return 0, err
		}
		stored[c.Name] = subtractIgnored(cs, c.Ignored)
	}
	for contigName := range sets {
		if _, ok := m.contigByNm[contigName]; !ok {
			return 0, snaperr.E(snaperr.Input, "unknown contig", contigName)
		}
	}
	id := m.nextID
	m.nextID++
	m.samples[id] = &model.Sample{ID: id, Name: name}
	m.nameToID[name] = id
	m.sets[id] = stored
	m.ann[id] = ann
	return id, nil
}

func (m *MemStore) GetSampleSets(ctx context.Context, id model.SampleID) (map[string]*ContigSets, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sets, ok := m.sets[id]
	if !ok {
		return nil, snaperr.E(snaperr.Input, "unknown sample", id)
	}
	return sets, nil
}

func (m *MemStore) GetContigSets(ctx context.Context, contig string, ids []model.SampleID) (map[model.SampleID]*ContigSets, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[model.SampleID]*ContigSets, len(ids))
	for _, id := range ids {
		sampleSets, ok := m.sets[id]
		if !ok {
			continue
		}
		if cs, ok := sampleSets[contig]; ok {
			out[id] = cs
		}
	}
	return out, nil
}

func (m *MemStore) Contigs(ctx context.Context) ([]Contig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Contig(nil), m.contigs...), nil
}

func (m *MemStore) SampleByName(ctx context.Context, name string) (model.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.nameToID[name]
	if !ok {
		return model.Sample{}, snaperr.E(snaperr.Input, "unknown sample name", name)
	}
	return *m.samples[id], nil
}

func (m *MemStore) SampleByID(ctx context.Context, id model.SampleID) (model.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.samples[id]
	if !ok {
		return model.Sample{}, snaperr.E(snaperr.Input, "unknown sample id", id)
	}
	return *s, nil
}

func (m *MemStore) SetIgnoreSample(ctx context.Context, id model.SampleID, ignore bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.samples[id]
	if !ok {
		return snaperr.E(snaperr.Input, "unknown sample id", id)
	}
	s.IgnoreSample = ignore
	return nil
}

func (m *MemStore) SetIgnoreZScore(ctx context.Context, id model.SampleID, ignore bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.samples[id]
	if !ok {
		return snaperr.E(snaperr.Input, "unknown sample id", id)
	}
	s.IgnoreZScore = ignore
	return nil
}

func (m *MemStore) DeleteSample(ctx context.Context, id model.SampleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.samples[id]
	if !ok {
		return snaperr.E(snaperr.Input, "unknown sample id", id)
	}
	delete(m.nameToID, s.Name)
	delete(m.samples, id)
	delete(m.sets, id)
	delete(m.ann, id)
	return nil
}

func (m *MemStore) AllSampleIDs(ctx context.Context) ([]model.SampleID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SampleID, 0, len(m.samples))
	for id, s := range m.samples {
		if !s.IgnoreSample {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *MemStore) AllSamples(ctx context.Context) ([]model.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Sample, 0, len(m.samples))
	for _, s := range m.samples {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
