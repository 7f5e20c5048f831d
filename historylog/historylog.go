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

// Package historylog implements spec.md §2 item 7: an append-only record
// of every SNP-address rename (sample, old address, new address,
// timestamp), used to audit merges and splits.
package historylog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/grailbio/snapper/model"
)

// Entry is one HistoryEntry (spec.md §3).
type Entry struct {
	Sample    model.SampleID
	Old       model.Address
	New       model.Address
	RenamedAt time.Time
}

// Log is the HistoryLog contract.
type Log interface {
	// Append records one rename. All entries from a single transaction
	// must carry the same RenamedAt (spec.md §5).
	Append(ctx context.Context, e Entry) error

	// ForSample returns every entry for sample, oldest first.
	ForSample(ctx context.Context, sample model.SampleID) ([]Entry, error)

	// Delete drops every entry for sample (spec.md §4.7 ignore/hard-delete
	// finalisation: "remove cluster-index and history rows for this
	// sample").
	Delete(ctx context.Context, sample model.SampleID) error
}

// MemLog is an in-memory Log.
type MemLog struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemLog returns an empty MemLog.
func NewMemLog() *MemLog {
	return &MemLog{}
}

func (l *MemLog) Append(ctx context.Context, e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

func (l *MemLog) ForSample(ctx context.Context, sample model.SampleID) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.Sample == sample {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RenamedAt.Before(out[j].RenamedAt) })
	return out, nil
}

func (l *MemLog) Delete(ctx context.Context, sample model.SampleID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.Sample != sample {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	return nil
}

var _ Log = (*MemLog)(nil)
