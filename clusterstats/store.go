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

package clusterstats

import (
	"context"
	"sync"

	"github.com/grailbio/snapper/model"
	"github.com/grailbio/snapper/snaperr"
)

// key identifies one cluster's Stats row.
type key struct {
	Level int
	ID    int
}

// Store persists one Stats per (level, cluster id) — the cluster_stats
// table of spec.md §6.
type Store interface {
	Get(ctx context.Context, level, id int) (*Stats, error)
	Put(ctx context.Context, level, id int, s *Stats) error
	Delete(ctx context.Context, level, id int) error
}

// MemStore is an in-memory Store.
type MemStore struct {
	mu   sync.Mutex
	byID map[key]*Stats
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{byID: map[key]*Stats{}}
}

func (s *MemStore) Get(ctx context.Context, level, id int) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[key{level, id}]
	if !ok {
		return nil, snaperr.E(snaperr.Input, "no cluster stats for", level, id)
	}
	return st.Clone(), nil
}

func (s *MemStore) Put(ctx context.Context, level, id int, st *Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[key{level, id}] = st.Clone()
	return nil
}

func (s *MemStore) Delete(ctx context.Context, level, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, key{level, id})
	return nil
}

var _ Store = (*MemStore)(nil)

// SampleMeans persists spec.md §3's SampleClusterStats: for each sample
// and level, the mean of its distances to every other non-ignored member
// of its level-cluster. A nil *float64 represents the spec's "null"
// (singleton clusters, ignore_zscore samples).
type SampleMeans interface {
	Get(ctx context.Context, sample model.SampleID, level int) (*float64, error)
	Set(ctx context.Context, sample model.SampleID, level int, mean *float64) error
}

// MemSampleMeans is an in-memory SampleMeans.
type MemSampleMeans struct {
	mu    sync.Mutex
	means map[model.SampleID][model.NumLevels]*float64
}

// NewMemSampleMeans returns an empty MemSampleMeans.
func NewMemSampleMeans() *MemSampleMeans {
	return &MemSampleMeans{means: map[model.SampleID][model.NumLevels]*float64{}}
}

func (m *MemSampleMeans) Get(ctx context.Context, sample model.SampleID, level int) (*float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.means[sample][level], nil
}

func (m *MemSampleMeans) Set(ctx context.Context, sample model.SampleID, level int, mean *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.means[sample]
	arr[level] = mean
	m.means[sample] = arr
	return nil
}

var _ SampleMeans = (*MemSampleMeans)(nil)
