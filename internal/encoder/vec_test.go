package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec_ShiftAcrossWords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    Vec
		shift int
		left  Vec
		right Vec
	}{
		{"carry into next word", Vec{1 << 63, 0}, 1, Vec{0, 1}, Vec{1 << 62, 0}},
		{"whole word", Vec{0xff, 0x1}, 64, Vec{0, 0xff}, Vec{0x1, 0}},
		{"top bit dropped", Vec{0, 1 << 63}, 1, Vec{0, 0}, Vec{0, 1 << 62}},
		{"zero shift", Vec{5, 6}, 0, Vec{5, 6}, Vec{5, 6}},
		{"past width", Vec{5, 6}, 130, Vec{0, 0}, Vec{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l := NewVec(2)
			l.Lsh(tt.in, tt.shift)
			assert.Equal(t, tt.left, l)

			r := NewVec(2)
			r.Rsh(tt.in, tt.shift)
			assert.Equal(t, tt.right, r)
		})
	}
}

func TestVec_ShiftInPlace(t *testing.T) {
	t.Parallel()

	v := Vec{0x0123456789abcdef, 0xfedcba9876543210}
	want := NewVec(2)
	want.Rsh(v, 12)
	v.Rsh(v, 12)
	assert.True(t, v.Equal(want))

	v = Vec{0x0123456789abcdef, 0xfedcba9876543210}
	want.Lsh(v, 70)
	v.Lsh(v, 70)
	assert.True(t, v.Equal(want))
}

func TestVec_Logic(t *testing.T) {
	t.Parallel()

	a := Vec{0b1100, 1}
	b := Vec{0b1010, 3}
	v := NewVec(2)

	v.And(a, b)
	assert.Equal(t, Vec{0b1000, 1}, v)
	v.Or(a, b)
	assert.Equal(t, Vec{0b1110, 3}, v)
	v.Xor(a, b)
	assert.Equal(t, Vec{0b0110, 2}, v)
	assert.Equal(t, 3, v.OnesCount())

	v.Xor(a, a)
	assert.True(t, v.IsZero())
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(Vec{0b1100}))
}

func TestVec_BitsStraddleWords(t *testing.T) {
	t.Parallel()

	v := NewVec(2)
	v.SetBits(60, 8, 0xab)
	assert.Equal(t, uint64(0xab), v.Bits(60, 8))
	assert.Equal(t, uint64(0xb), v[0]>>60)
	assert.Equal(t, uint64(0xa), v[1])
	assert.Equal(t, 5, v.OnesCount())

	v.SetBits(60, 8, 0)
	assert.True(t, v.IsZero())

	v.SetBits(0, 64, ^uint64(0))
	assert.Equal(t, ^uint64(0), v.Bits(0, 64))
	assert.Zero(t, v.Bits(64, 0))
}

func TestVec_CloneSetReset(t *testing.T) {
	t.Parallel()

	v := Vec{1, 2}
	c := v.Clone()
	c[0] = 9
	assert.Equal(t, Vec{1, 2}, v)

	c.Set(v)
	assert.True(t, c.Equal(v))
	c.Reset()
	assert.True(t, c.IsZero())
	assert.Equal(t, Vec{1, 2}, v)
}
