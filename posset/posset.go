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

// Package posset implements dense, word-parallel position sets over a
// single reference contig. A Set tracks which 0-based genome positions a
// sample's variant call belongs to for one base (A/C/G/T/N/gap).
//
// The representation and word-level algebra (Union, Xor, AndNot, Count) are
// adapted from grailbio/bio/circular.Bitmap, dropping the circular-buffer
// indexing that package needs for streaming BAM coordinates: contig length
// is known up front here, so a single flat []uintptr word array suffices.
// Bit enumeration goes through grailbio/base/bitset, the same
// package circular.Bitmap builds its row scanning on; popcounts go through
// grailbio/base/simd, which backs the word-parallel counting circular.Bitmap
// and markduplicates otherwise hand off to.
package posset

import (
	"sort"
	"unsafe"

	"github.com/grailbio/base/bitset"
	"github.com/grailbio/base/simd"
)

// BitsPerWord is the number of usable bits per backing word.
const BitsPerWord = simd.BitsPerWord

// word is the backing storage unit, matching circular.Bitmap's bits
// []uintptr and bitset.NonzeroWordScanner's expected word type.
type word = uintptr

const wordBytes = BitsPerWord / 8

// Set is a sparse-looking, densely-backed set of non-negative integer
// positions bounded by a fixed universe size. The zero Set is not usable;
// construct with New.
type Set struct {
	words   []word
	n       int // number of set bits, maintained incrementally
	nonzero int // number of nonzero words, maintained incrementally
}

// New returns an empty Set able to hold positions in [0, universe).
func New(universe int) *Set {
	if universe < 0 {
		universe = 0
	}
	return &Set{words: make([]word, wordsFor(universe))}
}

func wordsFor(universe int) int {
	return (universe + BitsPerWord - 1) / BitsPerWord
}

// FromSlice builds a Set from an explicit list of positions. universe must
// be >= max(positions)+1.
func FromSlice(universe int, positions []int) *Set {
	s := New(universe)
	for _, p := range positions {
		s.Add(p)
	}
	return s
}

// Add inserts pos into the set. It is a no-op if already present.
func (s *Set) Add(pos int) {
	s.growTo(pos + 1)
	w := pos / BitsPerWord
	bit := word(1) << uint(pos%BitsPerWord)
	if s.words[w]&bit == 0 {
		if s.words[w] == 0 {
			s.nonzero++
		}
		s.words[w] |= bit
		s.n++
	}
}

// Remove deletes pos from the set. It is a no-op if absent or out of range.
func (s *Set) Remove(pos int) {
	w := pos / BitsPerWord
	if w >= len(s.words) {
		return
	}
	bit := word(1) << uint(pos%BitsPerWord)
	if s.words[w]&bit != 0 {
		s.words[w] &^= bit
		s.n--
		if s.words[w] == 0 {
			s.nonzero--
		}
	}
}

// Contains reports whether pos is a member.
func (s *Set) Contains(pos int) bool {
	w := pos / BitsPerWord
	if w >= len(s.words) || pos < 0 {
		return false
	}
	return s.words[w]&(word(1)<<uint(pos%BitsPerWord)) != 0
}

// Count returns the number of members.
func (s *Set) Count() int {
	return s.n
}

func (s *Set) growTo(nWords int) {
	need := wordsFor(nWords)
	if need <= len(s.words) {
		return
	}
	grown := make([]word, need)
	copy(grown, s.words)
	s.words = grown
}

// commonWords returns the number of words shared between a and b's backing
// arrays, i.e. min(len(a.words), len(b.words)).
func commonWords(a, b *Set) int {
	if len(a.words) < len(b.words) {
		return len(a.words)
	}
	return len(b.words)
}

// popcountWords returns the total number of set bits across ws, via
// simd.Popcnt over the words' raw bytes rather than a per-word math/bits
// loop (the same accelerated counter circular.Bitmap's word-parallel
// scanning is built on).
func popcountWords(ws []word) int {
	if len(ws) == 0 {
		return 0
	}
	return simd.Popcnt(unsafe.Slice((*byte)(unsafe.Pointer(&ws[0])), len(ws)*wordBytes))
}

// SymmetricDifferenceCount returns |a XOR b|, the number of positions
// present in exactly one of a, b. This is the word-parallel core of
// DistanceEngine's pairwise comparison (spec.md §4.2).
func SymmetricDifferenceCount(a, b *Set) int {
	common := commonWords(a, b)
	xored := make([]word, common)
	for i := 0; i < common; i++ {
		xored[i] = a.words[i] ^ b.words[i]
	}
	count := popcountWords(xored)
	longer, commonLen := a, common
	if len(b.words) > len(a.words) {
		longer = b
	}
	count += popcountWords(longer.words[commonLen:])
	return count
}

// Union returns a new Set containing every position in a or b.
func Union(a, b *Set) *Set {
	n := len(a.words)
	if len(b.words) > n {
		n = len(b.words)
	}
	out := &Set{words: make([]word, n)}
	for i := 0; i < n; i++ {
		var wa, wb word
		if i < len(a.words) {
			wa = a.words[i]
		}
		if i < len(b.words) {
			wb = b.words[i]
		}
		out.words[i] = wa | wb
	}
	out.finalizeCounts()
	return out
}

// AndNot returns a new Set containing every position in a that is not in b
// (a \ b).
func AndNot(a, b *Set) *Set {
	out := &Set{words: make([]word, len(a.words))}
	common := commonWords(a, b)
	for i := 0; i < common; i++ {
		out.words[i] = a.words[i] &^ b.words[i]
	}
	for i := common; i < len(a.words); i++ {
		out.words[i] = a.words[i]
	}
	out.finalizeCounts()
	return out
}

// Intersect returns a new Set containing every position in both a and b.
func Intersect(a, b *Set) *Set {
	common := commonWords(a, b)
	out := &Set{words: make([]word, common)}
	for i := 0; i < common; i++ {
		out.words[i] = a.words[i] & b.words[i]
	}
	out.finalizeCounts()
	return out
}

// Xor returns a new Set containing every position in exactly one of a, b.
func Xor(a, b *Set) *Set {
	n := len(a.words)
	if len(b.words) > n {
		n = len(b.words)
	}
	out := &Set{words: make([]word, n)}
	for i := 0; i < n; i++ {
		var wa, wb word
		if i < len(a.words) {
			wa = a.words[i]
		}
		if i < len(b.words) {
			wb = b.words[i]
		}
		out.words[i] = wa ^ wb
	}
	out.finalizeCounts()
	return out
}

// finalizeCounts derives n and nonzero from words after a bulk word-algebra
// op has filled them in directly.
func (s *Set) finalizeCounts() {
	s.n = popcountWords(s.words)
	s.nonzero = 0
	for _, w := range s.words {
		if w != 0 {
			s.nonzero++
		}
	}
}

// Disjoint reports whether a and b share no member position.
func Disjoint(a, b *Set) bool {
	common := commonWords(a, b)
	for i := 0; i < common; i++ {
		if a.words[i]&b.words[i] != 0 {
			return false
		}
	}
	return true
}

// ToSlice returns the sorted list of member positions.
func (s *Set) ToSlice() []int {
	out := make([]int, 0, s.n)
	if s.nonzero == 0 {
		return out
	}
	scanner, pos := bitset.NewNonzeroWordScanner(s.words, s.nonzero)
	for pos >= 0 {
		out = append(out, pos)
		pos = scanner.Next()
	}
	sort.Ints(out)
	return out
}

// Clone returns an independent copy of s.
func (s *Set) Clone() *Set {
	out := &Set{words: make([]word, len(s.words)), n: s.n, nonzero: s.nonzero}
	copy(out.words, s.words)
	return out
}
