// Package dict implements the read dictionary: a minimal perfect hash over the
// keys cut from a fixed base window of every read, and for each key the
// ascending list of read IDs that share it.
package dict

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/vertti/springpack/internal/encoder"
	"github.com/vertti/springpack/internal/mphf"
	"github.com/vertti/springpack/internal/parallel"
	"github.com/vertti/springpack/internal/params"
)

// Dict maps keys to bins of read IDs. Bins only shrink after Build.
type Dict struct {
	Range  params.KeyRange
	packer *encoder.Packer
	hash   *mphf.MPHF
	keys   []uint64 // key stored per bin, to reject keys outside the build set
	start  []uint32 // bin b occupies ids[start[b]:start[b+1]]
	live   []uint32 // live IDs at the front of each bin
	ids    []uint32
	locks  *LockPool
}

// Build indexes every read longer than r.End. Key extraction and bin
// assignment run on threads workers over static ranges; the bins are then
// filled with a sequential counting sort so IDs within a bin ascend.
func Build(ctx context.Context, packer *encoder.Packer, reads []encoder.Vec, lengths []uint16, r params.KeyRange, threads, numLocks int) (*Dict, error) {
	if len(reads) != len(lengths) {
		return nil, fmt.Errorf("dictionary build: %d reads but %d lengths", len(reads), len(lengths))
	}
	d := &Dict{Range: r, packer: packer, locks: NewLockPool(numLocks)}

	n := len(reads)
	keys := make([]uint64, n)
	if err := parallel.Range(ctx, n, threads, func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			if d.Indexes(int(lengths[i])) {
				keys[i] = packer.Key(reads[i], r.Start, r.End)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	distinct := make([]uint64, 0, n)
	for i, k := range keys {
		if d.Indexes(int(lengths[i])) {
			distinct = append(distinct, k)
		}
	}
	slices.Sort(distinct)
	distinct = slices.Compact(distinct)

	h, err := mphf.New(distinct, mphf.DefaultGamma)
	if err != nil {
		return nil, fmt.Errorf("building perfect hash: %w", err)
	}
	d.hash = h
	d.keys = make([]uint64, len(distinct))
	for _, k := range distinct {
		idx, _ := h.Lookup(k)
		d.keys[idx] = k
	}

	bins := make([]uint32, n)
	if err := parallel.Range(ctx, n, threads, func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			if d.Indexes(int(lengths[i])) {
				idx, _ := h.Lookup(keys[i])
				bins[i] = uint32(idx)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	// Pass one counts, pass two places.
	numBins := len(distinct)
	d.start = make([]uint32, numBins+1)
	d.live = make([]uint32, numBins)
	total := 0
	for i := range n {
		if d.Indexes(int(lengths[i])) {
			d.live[bins[i]]++
			total++
		}
	}
	for b := range numBins {
		d.start[b+1] = d.start[b] + d.live[b]
	}
	d.ids = make([]uint32, total)
	fill := make([]uint32, numBins)
	copy(fill, d.start[:numBins])
	for i := range n {
		if d.Indexes(int(lengths[i])) {
			b := bins[i]
			d.ids[fill[b]] = uint32(i)
			fill[b]++
		}
	}
	return d, nil
}

// Indexes reports whether a read of the given length has a key in this dictionary.
func (d *Dict) Indexes(length int) bool { return length > d.Range.End }

// NumKeys returns the number of distinct keys, which is also the bin count.
func (d *Dict) NumKeys() int { return len(d.keys) }

// Key extracts the dictionary key of a packed read.
func (d *Dict) Key(v encoder.Vec) uint64 {
	return d.packer.Key(v, d.Range.Start, d.Range.End)
}

// Lookup returns the bin holding key. ok is false for keys never inserted.
func (d *Dict) Lookup(key uint64) (bin int, ok bool) {
	idx, found := d.hash.Lookup(key)
	if !found || idx >= uint64(len(d.keys)) || d.keys[idx] != key {
		return 0, false
	}
	return int(idx), true
}

// BinBounds returns the live range [start,end) of bin inside the ID array.
func (d *Dict) BinBounds(bin int) (start, end int) {
	d.locks.Lock(uint64(bin))
	defer d.locks.Unlock(uint64(bin))
	return d.bounds(bin)
}

func (d *Dict) bounds(bin int) (int, int) {
	s := int(d.start[bin])
	return s, s + int(d.live[bin])
}

// Empty reports whether every ID of bin has been removed.
func (d *Dict) Empty(bin int) bool {
	s, e := d.BinBounds(bin)
	return s == e
}

// ID returns the read ID stored at position pos of the ID array.
func (d *Dict) ID(pos int) uint32 { return d.ids[pos] }

// Scan visits at most limit live IDs of bin, most recently inserted first,
// while holding the bin lock. It stops at the first ID for which fn returns
// true and reports that ID. fn must not call back into the dictionary.
func (d *Dict) Scan(bin, limit int, fn func(id uint32) bool) (uint32, bool) {
	d.locks.Lock(uint64(bin))
	defer d.locks.Unlock(uint64(bin))

	s, e := d.bounds(bin)
	for i := e - 1; i >= max(s, e-limit); i-- {
		if fn(d.ids[i]) {
			return d.ids[i], true
		}
	}
	return 0, false
}

// Remove deletes id from bin and reports whether it was present. Removing
// the last live ID leaves it in its storage slot but marks the bin empty.
func (d *Dict) Remove(bin int, id uint32) bool {
	d.locks.Lock(uint64(bin))
	defer d.locks.Unlock(uint64(bin))

	s, e := d.bounds(bin)
	ids := d.ids[s:e]
	i := sort.Search(len(ids), func(k int) bool { return ids[k] >= id })
	if i == len(ids) || ids[i] != id {
		return false
	}
	if len(ids) > 1 {
		copy(ids[i:], ids[i+1:])
	}
	d.live[bin]--
	return true
}

// RemoveRead deletes read id, whose packed sequence is v, from the bin its
// key maps to.
func (d *Dict) RemoveRead(id uint32, v encoder.Vec, length int) bool {
	if !d.Indexes(length) {
		return false
	}
	bin, ok := d.Lookup(d.Key(v))
	if !ok {
		return false
	}
	return d.Remove(bin, id)
}
