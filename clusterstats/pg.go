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
	"math"

	"github.com/grailbio/snapper/model"
	"github.com/grailbio/snapper/snaperr"
	"github.com/jackc/pgx/v4/pgxpool"
)

var levelNames = [model.NumLevels]string{"t0", "t5", "t10", "t25", "t50", "t100", "t250"}

// PGStore is the cluster_stats-table-backed Store of spec.md §6.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps an already-open pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Get(ctx context.Context, level, id int) (*Stats, error) {
	var st Stats
	var mean, stddev *float64
	err := s.pool.QueryRow(ctx,
		"SELECT nof_members, nof_pairwise_dists, mean_pwise_dist, stddev FROM cluster_stats WHERE level = $1 AND cluster_name = $2",
		levelNames[level], id,
	).Scan(&st.NofMembers, &st.NofPairwiseDists, &mean, &stddev)
	if err != nil {
		return nil, snaperr.E(snaperr.Input, err, "no cluster stats for", level, id)
	}
	if mean != nil {
		st.mean = *mean
		st.valid = true
	}
	if stddev != nil {
		st.m2 = (*stddev) * (*stddev) * float64(st.NofPairwiseDists)
	}
	return &st, nil
}

func (s *PGStore) Put(ctx context.Context, level, id int, st *Stats) error {
	var meanPtr, stddevPtr *float64
	if st.HasStats() {
		mean := st.Mean()
		stddev := st.StdDev()
		meanPtr, stddevPtr = &mean, &stddev
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cluster_stats (level, cluster_name, nof_members, nof_pairwise_dists, mean_pwise_dist, stddev)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (level, cluster_name) DO UPDATE SET
		   nof_members = EXCLUDED.nof_members, nof_pairwise_dists = EXCLUDED.nof_pairwise_dists,
		   mean_pwise_dist = EXCLUDED.mean_pwise_dist, stddev = EXCLUDED.stddev`,
		levelNames[level], id, st.NofMembers, st.NofPairwiseDists, meanPtr, stddevPtr)
	if err != nil {
		return snaperr.E(snaperr.Store, err, "writing cluster stats")
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, level, id int) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM cluster_stats WHERE level = $1 AND cluster_name = $2", levelNames[level], id)
	if err != nil {
		return snaperr.E(snaperr.Store, err, "deleting cluster stats")
	}
	return nil
}

var _ Store = (*PGStore)(nil)

// PGSampleMeans is the sample_clusters.t*_mean-column-backed SampleMeans.
type PGSampleMeans struct {
	pool *pgxpool.Pool
}

// NewPGSampleMeans wraps an already-open pool.
func NewPGSampleMeans(pool *pgxpool.Pool) *PGSampleMeans {
	return &PGSampleMeans{pool: pool}
}

var meanColumns = [model.NumLevels]string{"t0_mean", "t5_mean", "t10_mean", "t25_mean", "t50_mean", "t100_mean", "t250_mean"}

func (m *PGSampleMeans) Get(ctx context.Context, sample model.SampleID, level int) (*float64, error) {
	var mean *float64
	err := m.pool.QueryRow(ctx,
		"SELECT "+meanColumns[level]+" FROM sample_clusters WHERE sample_id = $1", int64(sample),
	).Scan(&mean)
	if err != nil {
		return nil, snaperr.E(snaperr.Input, err, "no sample cluster row for", sample)
	}
	return mean, nil
}

func (m *PGSampleMeans) Set(ctx context.Context, sample model.SampleID, level int, mean *float64) error {
	var value interface{}
	if mean != nil && !math.IsNaN(*mean) {
		value = *mean
	}
	_, err := m.pool.Exec(ctx,
		"UPDATE sample_clusters SET "+meanColumns[level]+" = $1 WHERE sample_id = $2", value, int64(sample))
	if err != nil {
		return snaperr.E(snaperr.Store, err, "writing sample cluster mean")
	}
	return nil
}

var _ SampleMeans = (*PGSampleMeans)(nil)
