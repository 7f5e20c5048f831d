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

// Package clusterindex implements spec.md §4.3: the sample -> SnpAddress
// mapping, and its inverse, level+id -> member set.
package clusterindex

import (
	"context"
	"sort"
	"sync"

	"github.com/grailbio/snapper/model"
	"github.com/grailbio/snapper/snaperr"
)

// Index is the ClusterIndex contract of spec.md §4.3.
type Index interface {
	// Lookup returns sample's current address.
	Lookup(ctx context.Context, sample model.SampleID) (model.Address, error)

	// Members returns the set of sample ids sharing cluster id at level,
	// excluding ignore_sample always, and excluding ignore_zscore unless
	// includeOutliers is true.
	Members(ctx context.Context, level int, id int, includeOutliers bool) ([]model.SampleID, error)

	// SetAddress assigns sample's full address, e.g. on first registration.
	SetAddress(ctx context.Context, sample model.SampleID, addr model.Address) error

	// SetLevel overwrites a single level's cluster id for sample, used by
	// splits.
	SetLevel(ctx context.Context, sample model.SampleID, level int, id int) error

	// Rename atomically moves every sample at (level, from) to (level, to)
	// and returns how many samples moved.
	Rename(ctx context.Context, level int, from, to int) (int, error)

	// AllocNewID returns max(existing ids at level)+1, or 1 if the level is
	// empty.
	AllocNewID(ctx context.Context, level int) (int, error)

	// RemoveSample drops sample's cluster-index row entirely (used by
	// ignore/hard-delete finalisation, spec.md §4.7).
	RemoveSample(ctx context.Context, sample model.SampleID) error
}

// outlierFlags is supplied by callers that need to distinguish
// ignore_zscore members from ordinary ones; clusterindex itself does not
// own sample flags (variantstore does), so Members takes a lookup
// function rather than querying variantstore directly and creating an
// import cycle.
type outlierFlags = func(model.SampleID) (ignoreZScore bool)

// MemIndex is an in-memory Index.
type MemIndex struct {
	mu        sync.Mutex
	addressOf map[model.SampleID]model.Address
	isOutlier outlierFlags
}

// NewMemIndex returns an empty MemIndex. isOutlier, if non-nil, is
// consulted by Members to decide whether to exclude a sample as a known
// outlier; pass nil to never exclude.
func NewMemIndex(isOutlier outlierFlags) *MemIndex {
	return &MemIndex{
		addressOf: map[model.SampleID]model.Address{},
		isOutlier: isOutlier,
	}
}

func (idx *MemIndex) Lookup(ctx context.Context, sample model.SampleID) (model.Address, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	addr, ok := idx.addressOf[sample]
	if !ok {
		return model.Address{}, snaperr.E(snaperr.Input, "sample has no cluster address", sample)
	}
	return addr, nil
}

func (idx *MemIndex) Members(ctx context.Context, level int, id int, includeOutliers bool) ([]model.SampleID, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	var out []model.SampleID
	for s, addr := range idx.addressOf {
		if addr[level] != id {
			continue
		}
		if !includeOutliers && idx.isOutlier != nil && idx.isOutlier(s) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (idx *MemIndex) SetAddress(ctx context.Context, sample model.SampleID, addr model.Address) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.addressOf[sample] = addr
	return nil
}

func (idx *MemIndex) SetLevel(ctx context.Context, sample model.SampleID, level int, id int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	addr, ok := idx.addressOf[sample]
	if !ok {
		return snaperr.E(snaperr.Input, "sample has no cluster address", sample)
	}
	addr[level] = id
	idx.addressOf[sample] = addr
	return nil
}

func (idx *MemIndex) Rename(ctx context.Context, level int, from, to int) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	count := 0
	for s, addr := range idx.addressOf {
		if addr[level] == from {
			addr[level] = to
			idx.addressOf[s] = addr
			count++
		}
	}
	return count, nil
}

func (idx *MemIndex) AllocNewID(ctx context.Context, level int) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	max := 0
	for _, addr := range idx.addressOf {
		if addr[level] > max {
			max = addr[level]
		}
	}
	return max + 1, nil
}

func (idx *MemIndex) RemoveSample(ctx context.Context, sample model.SampleID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.addressOf, sample)
	return nil
}

var _ Index = (*MemIndex)(nil)
