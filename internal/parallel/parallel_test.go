package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRange_CoversEveryIndexOnce(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ n, workers int }{{0, 4}, {1, 4}, {10, 3}, {1000, 8}, {7, 100}} {
		hits := make([]atomic.Int32, tc.n)
		err := Range(context.Background(), tc.n, tc.workers, func(_ context.Context, lo, hi int) error {
			for i := lo; i < hi; i++ {
				hits[i].Add(1)
			}
			return nil
		})
		require.NoError(t, err)
		for i := range hits {
			assert.Equal(t, int32(1), hits[i].Load(), "n=%d i=%d", tc.n, i)
		}
	}
}

func TestEach_CoversEveryIndexOnce(t *testing.T) {
	t.Parallel()

	hits := make([]atomic.Int32, 500)
	err := Each(context.Background(), len(hits), 6, func(_ context.Context, _, i int) error {
		hits[i].Add(1)
		return nil
	})
	require.NoError(t, err)
	for i := range hits {
		assert.Equal(t, int32(1), hits[i].Load())
	}
}

func TestEach_PropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := Each(context.Background(), 100, 4, func(_ context.Context, _, i int) error {
		if i == 17 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
}

func TestRange_PropagatesError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	err := Range(context.Background(), 100, 4, func(_ context.Context, lo, _ int) error {
		if lo == 0 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
}
