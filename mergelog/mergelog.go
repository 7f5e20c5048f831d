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

// Package mergelog implements spec.md §2 item 8: an append-only record of
// every cluster merge (level, source cluster, target cluster, timestamp).
package mergelog

import (
	"context"
	"sync"
	"time"
)

// Entry is one MergeEntry (spec.md §3).
type Entry struct {
	Level      int
	Source     int
	Target     int
	OccurredAt time.Time
}

// Log is the MergeLog contract.
type Log interface {
	// Append records one merge.
	Append(ctx context.Context, e Entry) error

	// ForLevel returns every merge recorded at level, oldest first.
	ForLevel(ctx context.Context, level int) ([]Entry, error)
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

func (l *MemLog) ForLevel(ctx context.Context, level int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out, nil
}

var _ Log = (*MemLog)(nil)
