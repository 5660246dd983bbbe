// Package bitvec provides the fixed-size bit vectors used by the
// liveness and interference passes. The representation matches the
// dense-index IR handles: bit i tracks value i.
package bitvec

import "math/bits"

const wordBits = 64

// BitVec is a fixed-size bit vector.
type BitVec struct {
	n     int
	words []uint64
}

// New returns a bit vector of n bits, all clear.
func New(n int) BitVec {
	return BitVec{n: n, words: make([]uint64, (n+wordBits-1)/wordBits)}
}

// Len returns the number of bits.
func (bv BitVec) Len() int { return bv.n }

// Get reports whether bit i is set.
func (bv BitVec) Get(i int) bool {
	return bv.words[i/wordBits]&(1<<uint(i%wordBits)) != 0
}

// Set sets bit i.
func (bv BitVec) Set(i int) {
	bv.words[i/wordBits] |= 1 << uint(i%wordBits)
}

// Unset clears bit i.
func (bv BitVec) Unset(i int) {
	bv.words[i/wordBits] &^= 1 << uint(i%wordBits)
}

// Or sets bv = a | b. All three must have the same length.
func (bv BitVec) Or(a, b BitVec) {
	for i, w := range a.words {
		bv.words[i] = w | b.words[i]
	}
}

// AndNot sets bv = a &^ b.
func (bv BitVec) AndNot(a, b BitVec) {
	for i, w := range a.words {
		bv.words[i] = w &^ b.words[i]
	}
}

// Copy sets bv = a.
func (bv BitVec) Copy(a BitVec) {
	copy(bv.words, a.words)
}

// Clear clears every bit.
func (bv BitVec) Clear() {
	for i := range bv.words {
		bv.words[i] = 0
	}
}

// Eq reports whether bv and a hold the same bits.
func (bv BitVec) Eq(a BitVec) bool {
	for i, w := range bv.words {
		if w != a.words[i] {
			return false
		}
	}
	return true
}

// Count returns the number of set bits.
func (bv BitVec) Count() int {
	n := 0
	for _, w := range bv.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Next returns the index of the first set bit at or after i, or -1
// when no such bit exists. Typical iteration:
//
//	for i := bv.Next(0); i >= 0; i = bv.Next(i + 1) { ... }
func (bv BitVec) Next(i int) int {
	if i >= bv.n {
		return -1
	}
	w := i / wordBits
	word := bv.words[w] >> uint(i%wordBits)
	if word != 0 {
		return i + bits.TrailingZeros64(word)
	}
	for w++; w < len(bv.words); w++ {
		if bv.words[w] != 0 {
			return w*wordBits + bits.TrailingZeros64(bv.words[w])
		}
	}
	return -1
}
