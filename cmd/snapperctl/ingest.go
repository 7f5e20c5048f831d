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
	"encoding/json"
	"os"

	"github.com/grailbio/snapper/model"
	"github.com/grailbio/snapper/posset"
	"github.com/grailbio/snapper/snaperr"
	"github.com/grailbio/snapper/variantstore"
)

// ingestDoc mirrors spec.md §6's variant ingest JSON schema:
//
//	{ "positions": { <contig>: { "A":[…], "C":[…], "G":[…], "T":[…], "N":[…], "-":[…] } },
//	  "annotations": { optional "coverageMetaData": "…", "nlessnessMetaData": "…" } }
//
// Parsing this document is the only ingest surface this command implements;
// turning a FASTA/BAM alignment into position lists stays out of scope.
type ingestDoc struct {
	Positions   map[string]ingestContig `json:"positions"`
	Annotations ingestAnnotations       `json:"annotations"`
}

type ingestContig struct {
	A []int `json:"A"`
	C []int `json:"C"`
	G []int `json:"G"`
	T []int `json:"T"`
	N []int `json:"N"`
	M []int `json:"-"`
}

type ingestAnnotations struct {
	CoverageMetaData  string `json:"coverageMetaData"`
	NlessnessMetaData string `json:"nlessnessMetaData"`
}

// loadIngestDoc reads and parses a variant ingest JSON file from disk.
func loadIngestDoc(path string) (*ingestDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, snaperr.E(snaperr.Input, err, "reading variant file")
	}
	var doc ingestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, snaperr.E(snaperr.Input, err, "parsing variant JSON")
	}
	return &doc, nil
}

// toContigSets converts doc's per-contig position lists into the
// variantstore.ContigSets the Store interface expects, sizing every
// posset.Set against the reference's recorded contig length.
func toContigSets(ctx context.Context, vs variantstore.Store, doc *ingestDoc) (map[string]*variantstore.ContigSets, error) {
	contigs, err := vs.Contigs(ctx)
	if err != nil {
		return nil, err
	}
	lengthOf := make(map[string]int, len(contigs))
	for _, c := range contigs {
		lengthOf[c.Name] = c.Length
	}

	out := make(map[string]*variantstore.ContigSets, len(doc.Positions))
	for name, ic := range doc.Positions {
		length, ok := lengthOf[name]
		if !ok {
			return nil, snaperr.E(snaperr.Input, "unknown contig", name)
		}
		out[name] = &variantstore.ContigSets{
			A:   posset.FromSlice(length, ic.A),
			C:   posset.FromSlice(length, ic.C),
			G:   posset.FromSlice(length, ic.G),
			T:   posset.FromSlice(length, ic.T),
			N:   posset.FromSlice(length, ic.N),
			Gap: posset.FromSlice(length, ic.M),
		}
	}
	return out, nil
}

func toAnnotations(doc *ingestDoc) model.Annotations {
	return model.Annotations{
		CoverageMetaData:  doc.Annotations.CoverageMetaData,
		NlessnessMetaData: doc.Annotations.NlessnessMetaData,
	}
}
