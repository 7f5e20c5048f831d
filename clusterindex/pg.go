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

package clusterindex

import (
	"context"

	"github.com/grailbio/snapper/model"
	"github.com/grailbio/snapper/snaperr"
	"github.com/jackc/pgx/v4/pgxpool"
)

var levelColumns = [model.NumLevels]string{"t0", "t5", "t10", "t25", "t50", "t100", "t250"}

// PGIndex is the sample_clusters-table-backed Index of spec.md §6.
type PGIndex struct {
	pool *pgxpool.Pool
}

// NewPGIndex wraps an already-open pool.
func NewPGIndex(pool *pgxpool.Pool) *PGIndex {
	return &PGIndex{pool: pool}
}

func (idx *PGIndex) Lookup(ctx context.Context, sample model.SampleID) (model.Address, error) {
	var addr model.Address
	row := idx.pool.QueryRow(ctx,
		"SELECT t0, t5, t10, t25, t50, t100, t250 FROM sample_clusters WHERE sample_id = $1", int64(sample))
	if err := row.Scan(&addr[0], &addr[1], &addr[2], &addr[3], &addr[4], &addr[5], &addr[6]); err != nil {
		return model.Address{}, snaperr.E(snaperr.Input, err, "sample has no cluster address", sample)
	}
	return addr, nil
}

func (idx *PGIndex) Members(ctx context.Context, level int, id int, includeOutliers bool) ([]model.SampleID, error) {
	query := `SELECT sc.sample_id FROM sample_clusters sc
	          JOIN samples s ON s.id = sc.sample_id
	          WHERE sc.` + levelColumns[level] + ` = $1 AND s.ignore_sample = false`
	if !includeOutliers {
		query += " AND s.ignore_zscore = false"
	}
	rows, err := idx.pool.Query(ctx, query, id)
	if err != nil {
		return nil, snaperr.E(snaperr.Store, err, "querying cluster members")
	}
	defer rows.Close()
	var out []model.SampleID
	for rows.Next() {
		var s int64
		if err := rows.Scan(&s); err != nil {
			return nil, snaperr.E(snaperr.Store, err, "scanning member row")
		}
		out = append(out, model.SampleID(s))
	}
	return out, nil
}

func (idx *PGIndex) SetAddress(ctx context.Context, sample model.SampleID, addr model.Address) error {
	_, err := idx.pool.Exec(ctx,
		`INSERT INTO sample_clusters (sample_id, t0, t5, t10, t25, t50, t100, t250)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (sample_id) DO UPDATE SET
		   t0 = EXCLUDED.t0, t5 = EXCLUDED.t5, t10 = EXCLUDED.t10, t25 = EXCLUDED.t25,
		   t50 = EXCLUDED.t50, t100 = EXCLUDED.t100, t250 = EXCLUDED.t250`,
		int64(sample), addr[0], addr[1], addr[2], addr[3], addr[4], addr[5], addr[6])
	if err != nil {
		return snaperr.E(snaperr.Store, err, "writing sample address")
	}
	return nil
}

func (idx *PGIndex) SetLevel(ctx context.Context, sample model.SampleID, level int, id int) error {
	_, err := idx.pool.Exec(ctx,
		"UPDATE sample_clusters SET "+levelColumns[level]+" = $1 WHERE sample_id = $2", id, int64(sample))
	if err != nil {
		return snaperr.E(snaperr.Store, err, "updating sample level")
	}
	return nil
}

func (idx *PGIndex) Rename(ctx context.Context, level int, from, to int) (int, error) {
	tag, err := idx.pool.Exec(ctx,
		"UPDATE sample_clusters SET "+levelColumns[level]+" = $1 WHERE "+levelColumns[level]+" = $2", to, from)
	if err != nil {
		return 0, snaperr.E(snaperr.Store, err, "renaming cluster")
	}
	return int(tag.RowsAffected()), nil
}

func (idx *PGIndex) AllocNewID(ctx context.Context, level int) (int, error) {
	var max *int
	err := idx.pool.QueryRow(ctx, "SELECT max("+levelColumns[level]+") FROM sample_clusters").Scan(&max)
	if err != nil {
		return 0, snaperr.E(snaperr.Store, err, "computing next cluster id")
	}
	if max == nil {
		return 1, nil
	}
	return *max + 1, nil
}

func (idx *PGIndex) RemoveSample(ctx context.Context, sample model.SampleID) error {
	_, err := idx.pool.Exec(ctx, "DELETE FROM sample_clusters WHERE sample_id = $1", int64(sample))
	if err != nil {
		return snaperr.E(snaperr.Store, err, "removing sample from cluster index")
	}
	return nil
}

var _ Index = (*PGIndex)(nil)
