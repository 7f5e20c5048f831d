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

package variantstore

import (
	"context"
	"encoding/binary"

	"github.com/grailbio/snapper/model"
	"github.com/grailbio/snapper/posset"
	"github.com/grailbio/snapper/snaperr"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/klauspost/compress/zstd"
)

// PGStore is the Postgres-backed Store of spec.md §6: contigs, samples and
// variants map directly onto the logical tables of the same name. Position
// sets are serialized to a varint-delta position list and zstd-compressed
// before being stored in the variants table's bytea columns, mirroring the
// teacher's use of klauspost/compress for BAM/FASTQ payloads.
type PGStore struct {
	pool *pgxpool.Pool
	enc  *zstd.Encoder
	dec  *zstd.Decoder
}

// NewPGStore wraps an already-open pool.
func NewPGStore(pool *pgxpool.Pool) (*PGStore, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, snaperr.E(snaperr.Store, err, "creating zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, snaperr.E(snaperr.Store, err, "creating zstd decoder")
	}
	return &PGStore{pool: pool, enc: enc, dec: dec}, nil
}

// encodePositions serializes a position set as delta-encoded varints,
// then zstd-compresses the result.
func (s *PGStore) encodePositions(set *posset.Set) []byte {
	positions := set.ToSlice()
	raw := make([]byte, 0, len(positions)*2)
	buf := make([]byte, binary.MaxVarintLen64)
	prev := 0
	for _, p := range positions {
		n := binary.PutUvarint(buf, uint64(p-prev))
		raw = append(raw, buf[:n]...)
		prev = p
	}
	return s.enc.EncodeAll(raw, nil)
}

func (s *PGStore) decodePositions(universe int, blob []byte) (*posset.Set, error) {
	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, snaperr.E(snaperr.Store, err, "decompressing position set")
	}
	set := posset.New(universe)
	prev := 0
	for len(raw) > 0 {
		delta, n := binary.Uvarint(raw)
		if n <= 0 {
			return nil, snaperr.E(snaperr.Integrity, "corrupt position-set varint stream")
		}
		raw = raw[n:]
		prev += int(delta)
		set.Add(prev)
	}
	return set, nil
}

func (s *PGStore) PutReference(ctx context.Context, contigs []Contig) error {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM contigs").Scan(&n); err != nil {
		return snaperr.E(snaperr.Store, err, "checking contigs table")
	}
	if n > 0 {
		return snaperr.E(snaperr.State, "reference already initialised")
	}
	for _, c := range contigs {
		var id int
		if err := s.pool.QueryRow(ctx,
			"INSERT INTO contigs (name, length) VALUES ($1, $2) RETURNING id", c.Name, c.Length,
		).Scan(&id); err != nil {
			return snaperr.E(snaperr.Store, err, "inserting contig", c.Name)
		}
		ignored := c.Ignored
		if ignored == nil {
			ignored = posset.New(c.Length)
		}
		if _, err := s.pool.Exec(ctx,
			"INSERT INTO contig_ignored (contig_id, pos) VALUES ($1, $2)", id, s.encodePositions(ignored),
		); err != nil {
			return snaperr.E(snaperr.Store, err, "inserting ignored set for contig", c.Name)
		}
	}
	return nil
}

func (s *PGStore) PutSample(ctx context.Context, name string, sets map[string]*ContigSets, ann model.Annotations) (model.SampleID, error) {
	contigs, err := s.Contigs(ctx)
	if err != nil {
		return 0, err
	}
	ignoredByContig := map[string]*posset.Set{}
	idByContig := map[string]int{}
	rows, err := s.pool.Query(ctx, "SELECT id, name FROM contigs")
	if err != nil {
		return 0, snaperr.E(snaperr.Store, err, "listing contigs")
	}
	for rows.Next() {
		var id int
		var nm string
		if err := rows.Scan(&id, &nm); err != nil {
			rows.Close()
			return 0, snaperr.E(snaperr.Store, err, "scanning contig row")
		}
		idByContig[nm] = id
	}
	rows.Close()
	for _, c := range contigs {
		ignoredByContig[c.Name] = c.Ignored
	}

	for contigName := range sets {
		if _, ok := idByContig[contigName]; !ok {
			return 0, snaperr.E(snaperr.Input, "unknown contig", contigName)
		}
	}

	var sampleID model.SampleID
	err = s.pool.QueryRow(ctx,
		`INSERT INTO samples (name, coverage_meta, nlessness_meta) VALUES ($1, $2, $3) RETURNING id`,
		name, ann.CoverageMetaData, ann.NlessnessMetaData,
	).Scan(&sampleID)
	if err != nil {
		return 0, snaperr.E(snaperr.Input, err, "duplicate sample name or insert failure", name)
	}

	for _, c := range contigs {
		cs, ok := sets[c.Name]
		if !ok {
			cs = emptyContigSets(c.Length)
		}
		if err := assertDisjoint(cs); err != nil {
			return 0, err
		}
		cs = subtractIgnored(cs, ignoredByContig[c.Name])
		_, err = s.pool.Exec(ctx,
			`INSERT INTO variants (sample_id, contig_id, a_pos, c_pos, g_pos, t_pos, n_pos, gap_pos)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			sampleID, idByContig[c.Name],
			s.encodePositions(cs.A), s.encodePositions(cs.C), s.encodePositions(cs.G),
			s.encodePositions(cs.T), s.encodePositions(cs.N), s.encodePositions(cs.Gap),
		)
		if err != nil {
			return 0, snaperr.E(snaperr.Store, err, "inserting variants row", c.Name)
		}
	}
	return sampleID, nil
}

func (s *PGStore) GetSampleSets(ctx context.Context, id model.SampleID) (map[string]*ContigSets, error) {
	contigs, err := s.Contigs(ctx)
	if err != nil {
		return nil, err
	}
	lengthByName := map[string]int{}
	for _, c := range contigs {
		lengthByName[c.Name] = c.Length
	}
	rows, err := s.pool.Query(ctx,
		`SELECT c.name, v.a_pos, v.c_pos, v.g_pos, v.t_pos, v.n_pos, v.gap_pos
		 FROM variants v JOIN contigs c ON c.id = v.contig_id WHERE v.sample_id = $1`, id)
	if err != nil {
		return nil, snaperr.E(snaperr.Store, err, "querying variants")
	}
	defer rows.Close()
	out := map[string]*ContigSets{}
	for rows.Next() {
		var name string
		var aBlob, cBlob, gBlob, tBlob, nBlob, gapBlob []byte
		if err := rows.Scan(&name, &aBlob, &cBlob, &gBlob, &tBlob, &nBlob, &gapBlob); err != nil {
			return nil, snaperr.E(snaperr.Store, err, "scanning variants row")
		}
		universe := lengthByName[name]
		cs := &ContigSets{}
		if cs.A, err = s.decodePositions(universe, aBlob); err != nil {
			return nil, err
		}
		if cs.C, err = s.decodePositions(universe, cBlob); err != nil {
			return nil, err
		}
		if cs.G, err = s.decodePositions(universe, gBlob); err != nil {
			return nil, err
		}
		if cs.T, err = s.decodePositions(universe, tBlob); err != nil {
			return nil, err
		}
		if cs.N, err = s.decodePositions(universe, nBlob); err != nil {
			return nil, err
		}
		if cs.Gap, err = s.decodePositions(universe, gapBlob); err != nil {
			return nil, err
		}
		out[name] = cs
	}
	return out, nil
}

func (s *PGStore) GetContigSets(ctx context.Context, contig string, ids []model.SampleID) (map[model.SampleID]*ContigSets, error) {
	var universe int
	if err := s.pool.QueryRow(ctx, "SELECT length FROM contigs WHERE name = $1", contig).Scan(&universe); err != nil {
		return nil, snaperr.E(snaperr.Input, err, "unknown contig", contig)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT v.sample_id, v.a_pos, v.c_pos, v.g_pos, v.t_pos, v.n_pos, v.gap_pos
		 FROM variants v JOIN contigs c ON c.id = v.contig_id
		 WHERE c.name = $1 AND v.sample_id = ANY($2)`, contig, ids)
	if err != nil {
		return nil, snaperr.E(snaperr.Store, err, "querying batched variants")
	}
	defer rows.Close()
	out := map[model.SampleID]*ContigSets{}
	for rows.Next() {
		var id model.SampleID
		var aBlob, cBlob, gBlob, tBlob, nBlob, gapBlob []byte
		if err := rows.Scan(&id, &aBlob, &cBlob, &gBlob, &tBlob, &nBlob, &gapBlob); err != nil {
			return nil, snaperr.E(snaperr.Store, err, "scanning batched variants row")
		}
		cs := &ContigSets{}
		if cs.A, err = s.decodePositions(universe, aBlob); err != nil {
			return nil, err
		}
		if cs.C, err = s.decodePositions(universe, cBlob); err != nil {
			return nil, err
		}
		if cs.G, err = s.decodePositions(universe, gBlob); err != nil {
			return nil, err
		}
		if cs.T, err = s.decodePositions(universe, tBlob); err != nil {
			return nil, err
		}
		if cs.N, err = s.decodePositions(universe, nBlob); err != nil {
			return nil, err
		}
		if cs.Gap, err = s.decodePositions(universe, gapBlob); err != nil {
			return nil, err
		}
		out[id] = cs
	}
	return out, nil
}

func (s *PGStore) Contigs(ctx context.Context) ([]Contig, error) {
	rows, err := s.pool.Query(ctx, "SELECT c.name, c.length, ci.pos FROM contigs c JOIN contig_ignored ci ON ci.contig_id = c.id")
	if err != nil {
		return nil, snaperr.E(snaperr.Store, err, "listing contigs")
	}
	defer rows.Close()
	var out []Contig
	for rows.Next() {
		var name string
		var length int
		var blob []byte
		if err := rows.Scan(&name, &length, &blob); err != nil {
			return nil, snaperr.E(snaperr.Store, err, "scanning contig row")
		}
		ignored, err := s.decodePositions(length, blob)
		if err != nil {
			return nil, err
		}
		out = append(out, Contig{Name: name, Length: length, Ignored: ignored})
	}
	return out, nil
}

func (s *PGStore) SampleByName(ctx context.Context, name string) (model.Sample, error) {
	var sm model.Sample
	var id int64
	if err := s.pool.QueryRow(ctx,
		"SELECT id, name, ignore_sample, ignore_zscore FROM samples WHERE name = $1", name,
	).Scan(&id, &sm.Name, &sm.IgnoreSample, &sm.IgnoreZScore); err != nil {
		return model.Sample{}, snaperr.E(snaperr.Input, err, "unknown sample name", name)
	}
	sm.ID = model.SampleID(id)
	return sm, nil
}

func (s *PGStore) SampleByID(ctx context.Context, id model.SampleID) (model.Sample, error) {
	var sm model.Sample
	sm.ID = id
	if err := s.pool.QueryRow(ctx,
		"SELECT name, ignore_sample, ignore_zscore FROM samples WHERE id = $1", int64(id),
	).Scan(&sm.Name, &sm.IgnoreSample, &sm.IgnoreZScore); err != nil {
		return model.Sample{}, snaperr.E(snaperr.Input, err, "unknown sample id", id)
	}
	return sm, nil
}

func (s *PGStore) SetIgnoreSample(ctx context.Context, id model.SampleID, ignore bool) error {
	_, err := s.pool.Exec(ctx, "UPDATE samples SET ignore_sample = $1 WHERE id = $2", ignore, int64(id))
	if err != nil {
		return snaperr.E(snaperr.Store, err, "updating ignore_sample")
	}
	return nil
}

func (s *PGStore) SetIgnoreZScore(ctx context.Context, id model.SampleID, ignore bool) error {
	_, err := s.pool.Exec(ctx, "UPDATE samples SET ignore_zscore = $1 WHERE id = $2", ignore, int64(id))
	if err != nil {
		return snaperr.E(snaperr.Store, err, "updating ignore_zscore")
	}
	return nil
}

func (s *PGStore) DeleteSample(ctx context.Context, id model.SampleID) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM samples WHERE id = $1", int64(id))
	if err != nil {
		return snaperr.E(snaperr.Store, err, "deleting sample")
	}
	return nil
}

func (s *PGStore) AllSampleIDs(ctx context.Context) ([]model.SampleID, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM samples WHERE ignore_sample = false ORDER BY id")
	if err != nil {
		return nil, snaperr.E(snaperr.Store, err, "listing sample ids")
	}
	defer rows.Close()
	var out []model.SampleID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, snaperr.E(snaperr.Store, err, "scanning sample id")
		}
		out = append(out, model.SampleID(id))
	}
	return out, nil
}

func (s *PGStore) AllSamples(ctx context.Context) ([]model.Sample, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, name, ignore_sample, ignore_zscore FROM samples ORDER BY id")
	if err != nil {
		return nil, snaperr.E(snaperr.Store, err, "listing samples")
	}
	defer rows.Close()
	var out []model.Sample
	for rows.Next() {
		var sm model.Sample
		var id int64
		if err := rows.Scan(&id, &sm.Name, &sm.IgnoreSample, &sm.IgnoreZScore); err != nil {
			return nil, snaperr.E(snaperr.Store, err, "scanning sample row")
		}
		sm.ID = model.SampleID(id)
		out = append(out, sm)
	}
	return out, nil
}

var _ Store = (*PGStore)(nil)
