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

// Package model holds the data types shared across every component of the
// clustering engine (spec.md §3), so that variantstore, distance,
// clusterindex, clusterstats, registrar, remover and query can all refer to
// the same vocabulary without import cycles.
package model

import "fmt"

// SampleID is an opaque per-sample identifier (spec.md §3 Sample).
type SampleID int64

// ReferenceSampleID is the identity reserved for the reference sequence
// itself; its address is fixed at (1,1,1,1,1,1,1).
const ReferenceSampleID SampleID = 0

// Thresholds are the seven fixed SNP-distance cluster levels, widest first
// in textual form but index 0..6 here from tightest to widest (spec.md §6:
// "Hard thresholds are fixed").
var Thresholds = [7]int{0, 5, 10, 25, 50, 100, 250}

// NumLevels is len(Thresholds).
const NumLevels = 7

// Base identifies one of the six disjoint per-position call classes a
// sample's variant set is split into (spec.md §3 VariantSet).
type Base int

const (
	BaseA Base = iota
	BaseC
	BaseG
	BaseT
	BaseN
	BaseGap
)

// Bases lists every Base in stable iteration order.
var Bases = [6]Base{BaseA, BaseC, BaseG, BaseT, BaseN, BaseGap}

func (b Base) String() string {
	switch b {
	case BaseA:
		return "A"
	case BaseC:
		return "C"
	case BaseG:
		return "G"
	case BaseT:
		return "T"
	case BaseN:
		return "N"
	case BaseGap:
		return "-"
	default:
		return "?"
	}
}

// Address is the 7-tuple SNP address of spec.md §3, one cluster id per
// threshold level, index 0 = t0 .. index 6 = t250.
type Address [NumLevels]int

// ReferenceAddress is the fixed address of the reference sample.
var ReferenceAddress = Address{1, 1, 1, 1, 1, 1, 1}

// String renders an Address in the wire text form of spec.md §6:
// "t250.t100.t50.t25.t10.t5.t0" — widest threshold first.
func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d.%d.%d.%d", a[6], a[5], a[4], a[3], a[2], a[1], a[0])
}

// Level returns the cluster id at threshold T[i].
func (a Address) Level(i int) int {
	return a[i]
}

// Annotations carries the free-form ingest metadata of spec.md §6's
// variant JSON schema ("coverageMetaData", "nlessnessMetaData"). The core
// never parses or interprets these; variantstore.Store.PutSample stores
// them verbatim, and no Store method reads them back (SPEC_FULL.md §C.3).
type Annotations struct {
	CoverageMetaData  string
	NlessnessMetaData string
}

// Sample is the identity and lifecycle record of spec.md §3 Sample.
type Sample struct {
	ID           SampleID
	Name         string
	IgnoreSample bool // archival: excluded from every cluster computation
	IgnoreZScore bool // known outlier: clustered but excluded from stats
}
