package encoder

// MaskTable holds precomputed position masks for one packer width.
// Prefix(k) selects bases [0,k) and Suffix(k) selects bases [k,maxLen).
type MaskTable struct {
	maxLen int
	words  int
	prefix []uint64
	suffix []uint64
}

// BuildPositionMasks precomputes prefix and suffix masks for every
// k in [0, maxLen].
func BuildPositionMasks(maxLen, bitsPerBase int) *MaskTable {
	words := wordsFor(maxLen, bitsPerBase)
	t := &MaskTable{
		maxLen: maxLen,
		words:  words,
		prefix: make([]uint64, (maxLen+1)*words),
		suffix: make([]uint64, (maxLen+1)*words),
	}
	full := maxLen * bitsPerBase
	for k := 0; k <= maxLen; k++ {
		p := Vec(t.prefix[k*words : (k+1)*words])
		s := Vec(t.suffix[k*words : (k+1)*words])
		fillRange(p, 0, k*bitsPerBase)
		fillRange(s, k*bitsPerBase, full)
	}
	return t
}

// Prefix returns the mask of bases [0,k). The result must not be modified.
func (t *MaskTable) Prefix(k int) Vec {
	k = clampLen(k, t.maxLen)
	return Vec(t.prefix[k*t.words : (k+1)*t.words : (k+1)*t.words])
}

// Suffix returns the mask of bases [k,maxLen). The result must not be modified.
func (t *MaskTable) Suffix(k int) Vec {
	k = clampLen(k, t.maxLen)
	return Vec(t.suffix[k*t.words : (k+1)*t.words : (k+1)*t.words])
}

func clampLen(k, maxLen int) int {
	if k < 0 {
		return 0
	}
	if k > maxLen {
		return maxLen
	}
	return k
}

// fillRange sets bits [lo,hi) of v.
func fillRange(v Vec, lo, hi int) {
	for lo < hi {
		n := min(64-lo%64, hi-lo)
		v.SetBits(lo, n, ^uint64(0))
		lo += n
	}
}

func wordsFor(maxLen, bitsPerBase int) int {
	return max(1, (maxLen*bitsPerBase+63)/64)
}
