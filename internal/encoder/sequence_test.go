package encoder

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustPacker(t testing.TB, maxLen, bitsPerBase int) *Packer {
	t.Helper()
	p, err := NewPacker(maxLen, bitsPerBase)
	require.NoError(t, err)
	return p
}

func randomSeq(rng *rand.Rand, n int, alphabet string) []byte {
	seq := make([]byte, n)
	for i := range seq {
		seq[i] = alphabet[rng.IntN(len(alphabet))]
	}
	return seq
}

func reverseComplementString(s string) string {
	out := make([]byte, len(s))
	for i := range len(s) {
		out[len(s)-1-i] = ComplementLetter(s[i])
	}
	return string(out)
}

func TestPack_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		bits   int
		maxLen int
		input  string
	}{
		{name: "ACGT pattern", bits: 2, maxLen: 16, input: "ACGTACGTACGTACGT"},
		{name: "single base", bits: 2, maxLen: 16, input: "G"},
		{name: "empty", bits: 2, maxLen: 16, input: ""},
		{name: "word boundary", bits: 2, maxLen: 40, input: strings.Repeat("TGCA", 10)},
		{name: "with N", bits: 3, maxLen: 30, input: "ACNGTNNACGT"},
		{name: "3-bit straddling word", bits: 3, maxLen: 30, input: strings.Repeat("ACGTN", 6)},
		{name: "152bp illumina", bits: 2, maxLen: 152, input: strings.Repeat("ACGT", 38)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := mustPacker(t, tt.maxLen, tt.bits)
			v, err := p.Pack([]byte(tt.input))
			require.NoError(t, err)
			assert.Len(t, v, p.Words())
			assert.Equal(t, tt.input, string(p.Unpack(v, len(tt.input))))
		})
	}
}

func TestPack_RandomRoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(1, 2))
	for _, bpb := range []int{2, 3} {
		alphabet := "ACGT"
		if bpb == 3 {
			alphabet = "ACGTN"
		}
		p := mustPacker(t, 300, bpb)
		for range 200 {
			seq := randomSeq(rng, rng.IntN(301), alphabet)
			v, err := p.Pack(seq)
			require.NoError(t, err)
			assert.Equal(t, string(seq), string(p.Unpack(v, len(seq))))
		}
	}
}

func TestPack_Lowercase(t *testing.T) {
	t.Parallel()

	p := mustPacker(t, 8, 2)
	v, err := p.Pack([]byte("acgt"))
	require.NoError(t, err)
	assert.Equal(t, "ACGT", string(p.Unpack(v, 4)))
}

func TestPack_Errors(t *testing.T) {
	t.Parallel()

	p2 := mustPacker(t, 8, 2)
	_, err := p2.Pack([]byte("ACGN"))
	require.ErrorIs(t, err, ErrInvalidBase)

	_, err = p2.Pack([]byte("ACGTACGTA"))
	require.ErrorIs(t, err, ErrTooLong)

	p3 := mustPacker(t, 8, 3)
	_, err = p3.Pack([]byte("ACXT"))
	require.ErrorIs(t, err, ErrInvalidBase)
	assert.Contains(t, err.Error(), "position 2")
}

func TestNewPacker_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NewPacker(10, 4)
	require.Error(t, err)
	_, err = NewPacker(0, 2)
	require.Error(t, err)
	_, err = NewPacker(MaxReadLength+1, 2)
	require.Error(t, err)
}

func TestReverseComplement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bits  int
		input string
		want  string
	}{
		{2, "AAAACCCCGG", "CCGGGGTTTT"},
		{2, "ACGTACGTAC", "GTACGTACGT"},
		{2, "A", "T"},
		{3, "ACGNT", "ANCGT"},
		{3, "NNNN", "NNNN"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			p := mustPacker(t, 70, tt.bits)
			v, err := p.Pack([]byte(tt.input))
			require.NoError(t, err)
			rc := p.ReverseComplement(v, len(tt.input))
			assert.Equal(t, tt.want, string(p.Unpack(rc, len(tt.input))))

			want, err := p.Pack([]byte(tt.want))
			require.NoError(t, err)
			assert.True(t, want.Equal(rc), "padding bits must stay clear")
		})
	}
}

func TestReverseComplement_Involution(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(7, 7))
	for _, bpb := range []int{2, 3} {
		p := mustPacker(t, 200, bpb)
		for range 200 {
			seq := randomSeq(rng, rng.IntN(201), "ACGT")
			v, err := p.Pack(seq)
			require.NoError(t, err)

			rc := p.ReverseComplement(v, len(seq))
			assert.Equal(t, reverseComplementString(string(seq)), string(p.Unpack(rc, len(seq))))
			assert.True(t, v.Equal(p.ReverseComplement(rc, len(seq))))
		}
	}
}

func TestHamming(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bits int
		a, b string
		n    int
		want int
	}{
		{"identical", 2, "ACGTACGTAC", "ACGTACGTAC", 10, 0},
		{"one trailing", 2, "AAAACCCCGG", "AAAACCCCGT", 10, 1},
		{"outside window", 2, "AAAACCCCGG", "AAAACCCCGT", 9, 0},
		{"every base", 2, "AAAA", "CCCC", 4, 4},
		{"N against A", 3, "ANAA", "AAAA", 4, 1},
		{"3-bit straddle", 3, strings.Repeat("A", 22) + "C", strings.Repeat("A", 22) + "G", 23, 1},
		{"2-bit word boundary", 2, strings.Repeat("A", 32) + "T", strings.Repeat("A", 32) + "G", 33, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := mustPacker(t, 40, tt.bits)
			a, err := p.Pack([]byte(tt.a))
			require.NoError(t, err)
			b, err := p.Pack([]byte(tt.b))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Hamming(a, b, tt.n))
		})
	}
}

func TestHamming_MatchesNaive(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 9))
	for _, bpb := range []int{2, 3} {
		alphabet := "ACGT"
		if bpb == 3 {
			alphabet = "ACGTN"
		}
		p := mustPacker(t, 150, bpb)
		for range 100 {
			n := rng.IntN(151)
			a := randomSeq(rng, n, alphabet)
			b := randomSeq(rng, n, alphabet)
			want := 0
			for i := range n {
				if a[i] != b[i] {
					want++
				}
			}
			va, err := p.Pack(a)
			require.NoError(t, err)
			vb, err := p.Pack(b)
			require.NoError(t, err)
			assert.Equal(t, want, p.Hamming(va, vb, n))
		}
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	p := mustPacker(t, 40, 2)
	v, err := p.Pack([]byte("ACGTTGCA"))
	require.NoError(t, err)

	w, err := p.Pack([]byte("TTGC"))
	require.NoError(t, err)
	assert.Equal(t, w[0], p.Key(v, 3, 6))
	assert.Equal(t, uint64(CodeT), p.Key(v, 3, 3))
}

func TestSetBase(t *testing.T) {
	t.Parallel()

	p := mustPacker(t, 30, 3)
	v, err := p.Pack([]byte(strings.Repeat("A", 30)))
	require.NoError(t, err)
	p.SetBase(v, 21, CodeN)
	p.SetBase(v, 0, CodeT)
	assert.Equal(t, CodeN, p.Base(v, 21))
	assert.Equal(t, "T"+strings.Repeat("A", 20)+"N"+strings.Repeat("A", 8), string(p.Unpack(v, 30)))
}

func TestHasN(t *testing.T) {
	t.Parallel()

	assert.True(t, HasN([]byte("ACGn")))
	assert.False(t, HasN([]byte("ACGT")))
}

func BenchmarkPack(b *testing.B) {
	p := mustPacker(b, 152, 2)
	seq := []byte(strings.Repeat("ACGT", 38))
	v := p.NewVec()

	b.ResetTimer()
	b.SetBytes(int64(len(seq)))

	for i := 0; i < b.N; i++ {
		_ = p.PackInto(v, seq)
	}
}

func BenchmarkHamming(b *testing.B) {
	p := mustPacker(b, 152, 2)
	x, _ := p.Pack([]byte(strings.Repeat("ACGT", 38)))
	y, _ := p.Pack([]byte(strings.Repeat("ACGA", 38)))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Hamming(x, y, 152)
	}
}

func BenchmarkReverseComplement(b *testing.B) {
	p := mustPacker(b, 152, 2)
	x, _ := p.Pack([]byte(strings.Repeat("ACGT", 38)))
	dst := p.NewVec()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.ReverseComplementInto(dst, x, 152)
	}
}
