package dict

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/springpack/internal/encoder"
	"github.com/vertti/springpack/internal/params"
)

func buildDict(t *testing.T, seqs []string, r params.KeyRange, threads int) (*Dict, *encoder.Packer, []encoder.Vec) {
	t.Helper()

	maxLen := 0
	for _, s := range seqs {
		maxLen = max(maxLen, len(s))
	}
	p, err := encoder.NewPacker(maxLen, 2)
	require.NoError(t, err)

	reads := make([]encoder.Vec, len(seqs))
	lengths := make([]uint16, len(seqs))
	for i, s := range seqs {
		reads[i], err = p.Pack([]byte(s))
		require.NoError(t, err)
		lengths[i] = uint16(len(s))
	}

	d, err := Build(context.Background(), p, reads, lengths, r, threads, 64)
	require.NoError(t, err)
	return d, p, reads
}

func binIDs(d *Dict, bin int) []uint32 {
	s, e := d.BinBounds(bin)
	ids := make([]uint32, 0, e-s)
	for i := s; i < e; i++ {
		ids = append(ids, d.ID(i))
	}
	return ids
}

func TestBuild_BinsGroupSharedKeys(t *testing.T) {
	t.Parallel()

	seqs := []string{
		"ACGTACGTAC",
		"TTTTTTTTTT",
		"ACGTAGGGGG", // shares bases [0,4] with read 0
		"ACGTACGTAC",
		"GGG", // too short to index
	}
	d, p, reads := buildDict(t, seqs, params.KeyRange{Start: 0, End: 4}, 2)

	assert.Equal(t, 2, d.NumKeys())
	bin, ok := d.Lookup(d.Key(reads[0]))
	require.True(t, ok)
	assert.Equal(t, []uint32{0, 2, 3}, binIDs(d, bin))

	bin, ok = d.Lookup(d.Key(reads[1]))
	require.True(t, ok)
	assert.Equal(t, []uint32{1}, binIDs(d, bin))

	absent, err := p.Pack([]byte("CCCCCCCCCC"))
	require.NoError(t, err)
	_, ok = d.Lookup(d.Key(absent))
	assert.False(t, ok)
}

func TestBuild_Completeness(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(5, 5))
	seqs := make([]string, 2000)
	for i := range seqs {
		b := make([]byte, 30)
		for j := range b {
			b[j] = "ACGT"[rng.IntN(3)] // skewed alphabet so keys repeat
		}
		seqs[i] = string(b)
	}

	r := params.KeyRange{Start: 2, End: 7}
	for _, threads := range []int{1, 4} {
		d, _, reads := buildDict(t, seqs, r, threads)
		for i := range seqs {
			bin, ok := d.Lookup(d.Key(reads[i]))
			require.True(t, ok)
			assert.Contains(t, binIDs(d, bin), uint32(i))
		}
		for bin := range d.NumKeys() {
			ids := binIDs(d, bin)
			assert.IsIncreasing(t, ids)
		}
	}
}

func TestRemove_LiveLengthDecreasesByOne(t *testing.T) {
	t.Parallel()

	seqs := []string{"AAAAACCCCC", "AAAAAGGGGG", "AAAAATTTTT", "AAAAAACGTA"}
	d, _, reads := buildDict(t, seqs, params.KeyRange{Start: 0, End: 4}, 1)

	bin, ok := d.Lookup(d.Key(reads[0]))
	require.True(t, ok)
	assert.Equal(t, []uint32{0, 1, 2, 3}, binIDs(d, bin))

	require.True(t, d.Remove(bin, 2))
	assert.Equal(t, []uint32{0, 1, 3}, binIDs(d, bin))

	assert.False(t, d.Remove(bin, 2), "second removal is a no-op")
	assert.Equal(t, []uint32{0, 1, 3}, binIDs(d, bin))

	require.True(t, d.Remove(bin, 0))
	require.True(t, d.Remove(bin, 3))
	assert.Equal(t, []uint32{1}, binIDs(d, bin))
	assert.False(t, d.Empty(bin))

	require.True(t, d.Remove(bin, 1))
	assert.True(t, d.Empty(bin))
	s, e := d.BinBounds(bin)
	assert.Equal(t, s, e)
	assert.Equal(t, uint32(1), d.ID(s), "last ID stays in its slot")

	assert.False(t, d.Remove(bin, 1))
	s2, e2 := d.BinBounds(bin)
	assert.Equal(t, s, s2)
	assert.Equal(t, e, e2)
}

func TestRemove_DoesNotTouchOtherBins(t *testing.T) {
	t.Parallel()

	seqs := []string{"AAAAACCCCC", "CCCCCAAAAA", "AAAAAGGGGG"}
	d, _, reads := buildDict(t, seqs, params.KeyRange{Start: 0, End: 4}, 1)

	require.True(t, d.RemoveRead(0, reads[0], 10))
	other, ok := d.Lookup(d.Key(reads[1]))
	require.True(t, ok)
	assert.Equal(t, []uint32{1}, binIDs(d, other))

	bin, ok := d.Lookup(d.Key(reads[2]))
	require.True(t, ok)
	assert.Equal(t, []uint32{2}, binIDs(d, bin))
}

func TestRemoveRead_ShortRead(t *testing.T) {
	t.Parallel()

	seqs := []string{"AAAAACCCCC", "AAA"}
	d, _, reads := buildDict(t, seqs, params.KeyRange{Start: 0, End: 4}, 1)
	assert.False(t, d.RemoveRead(1, reads[1], 3))
}

func TestScan_NewestFirstWithLimit(t *testing.T) {
	t.Parallel()

	seqs := []string{"ACGTAAAAAA", "ACGTACCCCC", "ACGTAGGGGG", "ACGTATTTTT"}
	d, _, reads := buildDict(t, seqs, params.KeyRange{Start: 0, End: 4}, 1)
	bin, ok := d.Lookup(d.Key(reads[0]))
	require.True(t, ok)

	var visited []uint32
	_, found := d.Scan(bin, 2, func(id uint32) bool {
		visited = append(visited, id)
		return false
	})
	assert.False(t, found)
	assert.Equal(t, []uint32{3, 2}, visited)

	id, found := d.Scan(bin, 10, func(id uint32) bool { return id == 1 })
	assert.True(t, found)
	assert.Equal(t, uint32(1), id)
}

func TestRemove_Concurrent(t *testing.T) {
	t.Parallel()

	seqs := make([]string, 500)
	for i := range seqs {
		seqs[i] = "ACGTACGTAC"
	}
	d, _, reads := buildDict(t, seqs, params.KeyRange{Start: 0, End: 4}, 4)
	bin, ok := d.Lookup(d.Key(reads[0]))
	require.True(t, ok)

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := w; i < len(seqs); i += 4 {
				assert.True(t, d.Remove(bin, uint32(i)))
			}
		}()
	}
	wg.Wait()
	assert.True(t, d.Empty(bin))
}

func TestLockPool_Bucket(t *testing.T) {
	t.Parallel()

	p := NewLockPool(16)
	assert.Equal(t, 3, p.Bucket(3))
	assert.Equal(t, 3, p.Bucket(19))
	p.Lock(19)
	p.Unlock(3)
}
