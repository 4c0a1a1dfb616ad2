package mphf

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func distinctKeys(n int, seed uint64) []uint64 {
	rng := rand.New(rand.NewPCG(seed, seed))
	seen := make(map[uint64]struct{}, n)
	keys := make([]uint64, 0, n)
	for len(keys) < n {
		k := rng.Uint64()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

func TestNew_Bijective(t *testing.T) {
	t.Parallel()

	for _, n := range []int{1, 2, 63, 64, 1000, 50000} {
		keys := distinctKeys(n, uint64(n))
		h, err := New(keys, DefaultGamma)
		require.NoError(t, err)
		assert.Equal(t, uint64(n), h.Len())

		seen := make([]bool, n)
		for _, k := range keys {
			idx, ok := h.Lookup(k)
			require.True(t, ok)
			require.Less(t, idx, uint64(n))
			require.False(t, seen[idx], "index %d assigned twice", idx)
			seen[idx] = true
		}
	}
}

func TestNew_SmallKeys(t *testing.T) {
	t.Parallel()

	keys := make([]uint64, 256)
	for i := range keys {
		keys[i] = uint64(i)
	}
	h, err := New(keys, 1.0)
	require.NoError(t, err)

	got := make(map[uint64]bool)
	for _, k := range keys {
		idx, ok := h.Lookup(k)
		require.True(t, ok)
		got[idx] = true
	}
	assert.Len(t, got, len(keys))
}

func TestNew_Empty(t *testing.T) {
	t.Parallel()

	h, err := New(nil, DefaultGamma)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), h.Len())
	_, ok := h.Lookup(42)
	assert.False(t, ok)
}

func TestNew_DuplicateKeys(t *testing.T) {
	t.Parallel()

	_, err := New([]uint64{5, 9, 5}, DefaultGamma)
	require.ErrorIs(t, err, ErrDuplicateKey)
}

func TestLookup_AbsentKeyInRange(t *testing.T) {
	t.Parallel()

	keys := distinctKeys(500, 11)
	h, err := New(keys, DefaultGamma)
	require.NoError(t, err)

	// Absent keys either miss or land somewhere in range; never out of range.
	for _, k := range distinctKeys(500, 12) {
		if idx, ok := h.Lookup(k); ok {
			assert.Less(t, idx, h.Len())
		}
	}
}

func BenchmarkLookup(b *testing.B) {
	keys := distinctKeys(100000, 1)
	h, err := New(keys, DefaultGamma)
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h.Lookup(keys[i%len(keys)])
	}
}
