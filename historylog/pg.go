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

package historylog

import (
	"context"

	"github.com/grailbio/snapper/model"
	"github.com/grailbio/snapper/snaperr"
	"github.com/jackc/pgx/v4/pgxpool"
)

// PGLog is the sample_history-table-backed Log of spec.md §6.
type PGLog struct {
	pool *pgxpool.Pool
}

// NewPGLog wraps an already-open pool.
func NewPGLog(pool *pgxpool.Pool) *PGLog {
	return &PGLog{pool: pool}
}

func (l *PGLog) Append(ctx context.Context, e Entry) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO sample_history
		 (sample_id, t0_old, t5_old, t10_old, t25_old, t50_old, t100_old, t250_old,
		  t0_new, t5_new, t10_new, t25_new, t50_new, t100_new, t250_new, renamed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		int64(e.Sample),
		e.Old[0], e.Old[1], e.Old[2], e.Old[3], e.Old[4], e.Old[5], e.Old[6],
		e.New[0], e.New[1], e.New[2], e.New[3], e.New[4], e.New[5], e.New[6],
		e.RenamedAt)
	if err != nil {
		return snaperr.E(snaperr.Store, err, "appending history entry")
	}
	return nil
}

func (l *PGLog) ForSample(ctx context.Context, sample model.SampleID) ([]Entry, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT t0_old, t5_old, t10_old, t25_old, t50_old, t100_old, t250_old,
		        t0_new, t5_new, t10_new, t25_new, t50_new, t100_new, t250_new, renamed_at
		 FROM sample_history WHERE sample_id = $1 ORDER BY renamed_at ASC, id ASC`, int64(sample))
	if err != nil {
		return nil, snaperr.E(snaperr.Store, err, "querying history")
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e := Entry{Sample: sample}
		if err := rows.Scan(
			&e.Old[0], &e.Old[1], &e.Old[2], &e.Old[3], &e.Old[4], &e.Old[5], &e.Old[6],
			&e.New[0], &e.New[1], &e.New[2], &e.New[3], &e.New[4], &e.New[5], &e.New[6],
			&e.RenamedAt,
		); err != nil {
			return nil, snaperr.E(snaperr.Store, err, "scanning history row")
		}
		out = append(out, e)
	}
	return out, nil
}

func (l *PGLog) Delete(ctx context.Context, sample model.SampleID) error {
	_, err := l.pool.Exec(ctx, "DELETE FROM sample_history WHERE sample_id = $1", int64(sample))
	if err != nil {
		return snaperr.E(snaperr.Store, err, "deleting history rows")
	}
	return nil
}

var _ Log = (*PGLog)(nil)
