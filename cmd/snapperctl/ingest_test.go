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

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/snapper/variantstore"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *variantstore.MemStore {
	t.Helper()
	store := variantstore.NewMemStore()
	require.NoError(t, store.PutReference(context.Background(), []variantstore.Contig{
		{Name: "chr1", Length: 1000},
	}))
	return store
}

func TestLoadIngestDocParsesTheDocumentedSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.json")
	raw := `{
		"positions": {"chr1": {"A": [1, 2], "C": [], "G": [], "T": [9], "N": [], "-": []}},
		"annotations": {"coverageMetaData": "mean=30", "nlessnessMetaData": "n50=12"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	doc, err := loadIngestDoc(path)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, doc.Positions["chr1"].A)
	require.Equal(t, []int{9}, doc.Positions["chr1"].T)
	require.Equal(t, "mean=30", doc.Annotations.CoverageMetaData)
	require.Equal(t, "n50=12", doc.Annotations.NlessnessMetaData)
}

func TestLoadIngestDocRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := loadIngestDoc(path)
	require.Error(t, err)
}

func TestToContigSetsBuildsDisjointPositionSets(t *testing.T) {
	store := newTestStore(t)
	doc := &ingestDoc{
		Positions: map[string]ingestContig{
			"chr1": {A: []int{1, 2, 3}, T: []int{500}},
		},
	}

	sets, err := toContigSets(context.Background(), store, doc)
	require.NoError(t, err)
	require.Contains(t, sets, "chr1")
	require.Equal(t, 3, sets["chr1"].A.Count())
	require.Equal(t, 1, sets["chr1"].T.Count())
	require.Equal(t, 0, sets["chr1"].C.Count())
}

func TestToContigSetsRejectsUnknownContig(t *testing.T) {
	store := newTestStore(t)
	doc := &ingestDoc{
		Positions: map[string]ingestContig{
			"chr2": {A: []int{1}},
		},
	}

	_, err := toContigSets(context.Background(), store, doc)
	require.Error(t, err)
}

func TestToAnnotationsCarriesMetadataVerbatim(t *testing.T) {
	doc := &ingestDoc{}
	doc.Annotations.CoverageMetaData = "mean=10"
	doc.Annotations.NlessnessMetaData = "n50=5"

	ann := toAnnotations(doc)
	require.Equal(t, "mean=10", ann.CoverageMetaData)
	require.Equal(t, "n50=5", ann.NlessnessMetaData)
}

func TestParseModeAcceptsTheThreeDocumentedModes(t *testing.T) {
	for _, name := range []string{"ignore", "known-outlier", "hard-delete"} {
		_, err := parseMode(name)
		require.NoError(t, err)
	}
	_, err := parseMode("bogus")
	require.Error(t, err)
}
