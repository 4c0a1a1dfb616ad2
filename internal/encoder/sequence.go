// Package encoder packs DNA bases into fixed-width bit vectors and provides
// the quality score transforms used by the archive writer.
package encoder

import (
	"errors"
	"fmt"
	"math/bits"
)

// MaxReadLength is the longest read a packer accepts.
const MaxReadLength = 1024

// Base codes. The 2-bit alphabet uses A..T only; the 3-bit alphabet adds N.
const (
	CodeA byte = 0
	CodeC byte = 1
	CodeG byte = 2
	CodeT byte = 3
	CodeN byte = 4
)

var (
	ErrInvalidBase = errors.New("invalid base")
	ErrTooLong     = errors.New("sequence longer than packer maximum")
)

const invalidCode = 0xff

var (
	codeTable [256]byte
	letters   = [5]byte{'A', 'C', 'G', 'T', 'N'}
)

func init() {
	for i := range codeTable {
		codeTable[i] = invalidCode
	}
	for code, b := range letters {
		codeTable[b] = byte(code)
		codeTable[b|0x20] = byte(code) // lowercase
	}
}

// HasN reports whether seq contains an N (either case).
func HasN(seq []byte) bool {
	for _, b := range seq {
		if b == 'N' || b == 'n' {
			return true
		}
	}
	return false
}

// Code returns the code for a base letter of either case.
func Code(b byte) (byte, bool) {
	c := codeTable[b]
	return c, c != invalidCode
}

// Letter returns the base letter for a code.
func Letter(code byte) byte {
	return letters[code]
}

// Complement returns the complementary code. N maps to itself.
func Complement(code byte) byte {
	if code == CodeN {
		return CodeN
	}
	return CodeT - code
}

// ComplementLetter returns the complementary base letter.
func ComplementLetter(b byte) byte {
	c := codeTable[b]
	if c == invalidCode {
		return b
	}
	return letters[Complement(c)]
}

// AppendReverseComplement appends the reverse complement of seq to dst.
func AppendReverseComplement(dst, seq []byte) []byte {
	for i := len(seq) - 1; i >= 0; i-- {
		dst = append(dst, ComplementLetter(seq[i]))
	}
	return dst
}

// Packer converts sequences of at most MaxLen bases to Vecs of a fixed width
// with 2 (ACGT) or 3 (ACGTN) bits per base.
type Packer struct {
	maxLen  int
	bits    int
	words   int
	masks   *MaskTable
	lowBits Vec // lowest bit of every base slot
}

// NewPacker returns a packer for reads up to maxLen bases.
func NewPacker(maxLen, bitsPerBase int) (*Packer, error) {
	if bitsPerBase != 2 && bitsPerBase != 3 {
		return nil, fmt.Errorf("unsupported bits per base %d", bitsPerBase)
	}
	if maxLen <= 0 || maxLen > MaxReadLength {
		return nil, fmt.Errorf("max length %d out of range [1,%d]", maxLen, MaxReadLength)
	}
	p := &Packer{
		maxLen: maxLen,
		bits:   bitsPerBase,
		words:  wordsFor(maxLen, bitsPerBase),
		masks:  BuildPositionMasks(maxLen, bitsPerBase),
	}
	p.lowBits = NewVec(p.words)
	for i := range maxLen {
		p.lowBits.SetBits(i*bitsPerBase, 1, 1)
	}
	return p, nil
}

// MaxLen returns the maximum sequence length.
func (p *Packer) MaxLen() int { return p.maxLen }

// BitsPerBase returns 2 or 3.
func (p *Packer) BitsPerBase() int { return p.bits }

// Words returns the Vec width in 64-bit words.
func (p *Packer) Words() int { return p.words }

// Masks returns the position mask table for this width.
func (p *Packer) Masks() *MaskTable { return p.masks }

// NewVec returns a zero Vec of this packer's width.
func (p *Packer) NewVec() Vec { return NewVec(p.words) }

// Pack encodes seq into a new Vec.
func (p *Packer) Pack(seq []byte) (Vec, error) {
	v := p.NewVec()
	if err := p.PackInto(v, seq); err != nil {
		return nil, err
	}
	return v, nil
}

// PackInto encodes seq into dst, which is cleared first.
func (p *Packer) PackInto(dst Vec, seq []byte) error {
	if len(seq) > p.maxLen {
		return fmt.Errorf("%w: %d > %d", ErrTooLong, len(seq), p.maxLen)
	}
	dst.Reset()
	for i, b := range seq {
		c := codeTable[b]
		if c == invalidCode || (c == CodeN && p.bits == 2) {
			return fmt.Errorf("%w %q at position %d", ErrInvalidBase, b, i)
		}
		dst.SetBits(i*p.bits, p.bits, uint64(c))
	}
	return nil
}

// Unpack decodes the first n bases of v.
func (p *Packer) Unpack(v Vec, n int) []byte {
	return p.AppendUnpack(nil, v, n)
}

// AppendUnpack appends the first n bases of v to dst.
func (p *Packer) AppendUnpack(dst []byte, v Vec, n int) []byte {
	for i := range n {
		dst = append(dst, letters[v.Bits(i*p.bits, p.bits)])
	}
	return dst
}

// Base returns the code at position i.
func (p *Packer) Base(v Vec, i int) byte {
	return byte(v.Bits(i*p.bits, p.bits))
}

// SetBase writes code at position i.
func (p *Packer) SetBase(v Vec, i int, code byte) {
	v.SetBits(i*p.bits, p.bits, uint64(code))
}

// Key returns bases [start,end] of v shifted down to bit 0.
func (p *Packer) Key(v Vec, start, end int) uint64 {
	return v.Bits(start*p.bits, (end-start+1)*p.bits)
}

// ReverseComplement returns the reverse complement of the first n bases of v.
func (p *Packer) ReverseComplement(v Vec, n int) Vec {
	dst := p.NewVec()
	p.ReverseComplementInto(dst, v, n)
	return dst
}

// ReverseComplementInto writes the reverse complement of the first n bases
// of src into dst. dst and src must not alias.
func (p *Packer) ReverseComplementInto(dst, src Vec, n int) {
	if p.bits == 2 {
		// Complementing a 2-bit code is a bitwise NOT; reversing the whole
		// vector then swapping each pair back keeps codes intact.
		w := len(src)
		for i := range w {
			dst[i] = swapPairs(bits.Reverse64(^src[w-1-i]))
		}
		dst.Rsh(dst, 2*(w*32-n))
		dst.And(dst, p.masks.Prefix(n))
		return
	}
	dst.Reset()
	for i := range n {
		p.SetBase(dst, n-1-i, Complement(p.Base(src, i)))
	}
}

func swapPairs(x uint64) uint64 {
	const even = 0x5555555555555555
	return (x>>1)&even | (x&even)<<1
}

// Hamming returns the number of differing bases among the first n positions
// of a and b.
func (p *Packer) Hamming(a, b Vec, n int) int {
	mask := p.masks.Prefix(n)
	d := 0
	for i := range a {
		x := (a[i] ^ b[i]) & mask[i]
		var next uint64
		if i+1 < len(a) {
			next = (a[i+1] ^ b[i+1]) & mask[i+1]
		}
		f := x | (x>>1 | next<<63)
		if p.bits == 3 {
			f |= x>>2 | next<<62
		}
		d += bits.OnesCount64(f & p.lowBits[i])
	}
	return d
}
