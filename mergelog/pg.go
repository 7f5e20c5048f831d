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

package mergelog

import (
	"context"

	"github.com/grailbio/snapper/snaperr"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PGLog is the merge_log-table-backed Log of spec.md §6.
type PGLog struct {
	pool *pgxpool.Pool
}

// NewPGLog wraps an already-open pool.
func NewPGLog(pool *pgxpool.Pool) *PGLog {
	return &PGLog{pool: pool}
}

func (l *PGLog) Append(ctx context.Context, e Entry) error {
	_, err := l.pool.Exec(ctx,
		"INSERT INTO merge_log (level, source, target, occurred_at) VALUES ($1,$2,$3,$4)",
		levelName(e.Level), e.Source, e.Target, e.OccurredAt)
	if err != nil {
		return snaperr.E(snaperr.Store, err, "appending merge entry")
	}
	return nil
}

func (l *PGLog) ForLevel(ctx context.Context, level int) ([]Entry, error) {
	rows, err := l.pool.Query(ctx,
		"SELECT source, target, occurred_at FROM merge_log WHERE level = $1 ORDER BY occurred_at ASC, id ASC",
		levelName(level))
	if err != nil {
		return nil, snaperr.E(snaperr.Store, err, "querying merge log")
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e := Entry{Level: level}
		if err := rows.Scan(&e.Source, &e.Target, &e.OccurredAt); err != nil {
			return nil, snaperr.E(snaperr.Store, err, "scanning merge log row")
		}
		out = append(out, e)
	}
	return out, nil
}

var levelNames = [7]string{"t0", "t5", "t10", "t25", "t50", "t100", "t250"}

func levelName(i int) string {
	return levelNames[i]
}

var _ Log = (*PGLog)(nil)
