package encoder

import "math/bits"

// Vec is a fixed-width unsigned integer stored as little-endian 64-bit words.
// Bit 0 of word 0 is the least significant bit. All binary operations
// require operands of the same width; bits shifted past the top are dropped.
type Vec []uint64

// NewVec returns a zero Vec of the given word count.
func NewVec(words int) Vec {
	return make(Vec, words)
}

// Clone returns a copy of v.
func (v Vec) Clone() Vec {
	c := make(Vec, len(v))
	copy(c, v)
	return c
}

// Reset clears all bits.
func (v Vec) Reset() {
	clear(v)
}

// Set copies src into v.
func (v Vec) Set(src Vec) {
	copy(v, src)
}

// IsZero reports whether no bit is set.
func (v Vec) IsZero() bool {
	for _, w := range v {
		if w != 0 {
			return false
		}
	}
	return true
}

// Equal reports whether v and o hold the same value.
func (v Vec) Equal(o Vec) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

// Rsh sets v = src >> n. v and src may alias.
func (v Vec) Rsh(src Vec, n int) {
	if n <= 0 {
		copy(v, src)
		return
	}
	ws, bs := n/64, uint(n%64)
	for i := range v {
		j := i + ws
		if j >= len(src) {
			v[i] = 0
			continue
		}
		w := src[j] >> bs
		if bs != 0 && j+1 < len(src) {
			w |= src[j+1] << (64 - bs)
		}
		v[i] = w
	}
}

// Lsh sets v = src << n, truncated to the width of v. v and src may alias.
func (v Vec) Lsh(src Vec, n int) {
	if n <= 0 {
		copy(v, src)
		return
	}
	ws, bs := n/64, uint(n%64)
	for i := len(v) - 1; i >= 0; i-- {
		j := i - ws
		if j < 0 {
			v[i] = 0
			continue
		}
		w := src[j] << bs
		if bs != 0 && j > 0 {
			w |= src[j-1] >> (64 - bs)
		}
		v[i] = w
	}
}

// And sets v = a & b.
func (v Vec) And(a, b Vec) {
	for i := range v {
		v[i] = a[i] & b[i]
	}
}

// Or sets v = a | b.
func (v Vec) Or(a, b Vec) {
	for i := range v {
		v[i] = a[i] | b[i]
	}
}

// Xor sets v = a ^ b.
func (v Vec) Xor(a, b Vec) {
	for i := range v {
		v[i] = a[i] ^ b[i]
	}
}

// OnesCount returns the number of set bits.
func (v Vec) OnesCount() int {
	n := 0
	for _, w := range v {
		n += bits.OnesCount64(w)
	}
	return n
}

// Bits returns the n bits starting at bit lo, shifted down to bit 0.
// n must be at most 64.
func (v Vec) Bits(lo, n int) uint64 {
	if n == 0 {
		return 0
	}
	i, off := lo/64, uint(lo%64)
	w := v[i] >> off
	if off != 0 && int(off)+n > 64 && i+1 < len(v) {
		w |= v[i+1] << (64 - off)
	}
	if n < 64 {
		w &= 1<<uint(n) - 1
	}
	return w
}

// SetBits overwrites the n bits starting at bit lo with the low bits of x.
func (v Vec) SetBits(lo, n int, x uint64) {
	if n == 0 {
		return
	}
	var m uint64 = ^uint64(0)
	if n < 64 {
		m = 1<<uint(n) - 1
		x &= m
	}
	i, off := lo/64, uint(lo%64)
	v[i] = v[i]&^(m<<off) | x<<off
	if off != 0 && int(off)+n > 64 {
		rest := 64 - off
		v[i+1] = v[i+1]&^(m>>rest) | x>>rest
	}
}
