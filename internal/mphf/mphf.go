// Package mphf builds minimal perfect hash functions over distinct uint64 keys.
//
// The construction is levelled (BBHash): each level hashes the keys that are
// still unplaced into a bit array of gamma*n slots, keeps the slots hit by
// exactly one key and forwards colliding keys to the next level. A key's
// index is the rank of its slot across all levels, so indices are dense in
// [0, n). Keys surviving every level land in a small fallback map.
package mphf

import (
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/twmb/murmur3"
)

const maxLevels = 25

// DefaultGamma trades space for construction speed; 2 bits of slot space per
// key keeps the level count low.
const DefaultGamma = 2.0

var ErrDuplicateKey = errors.New("duplicate key")

type level struct {
	bits   []uint64
	ranks  []uint64 // ones in bits[:i]
	offset uint64   // keys placed by earlier levels
}

func (l *level) size() uint64 { return uint64(len(l.bits)) * 64 }

func (l *level) get(i uint64) bool { return l.bits[i/64]&(1<<(i%64)) != 0 }

func (l *level) rank(i uint64) uint64 {
	w := i / 64
	return l.ranks[w] + uint64(bits.OnesCount64(l.bits[w]&(1<<(i%64)-1)))
}

// MPHF maps each key of the build set to a distinct index in [0, Len()).
// Keys outside the build set map to an arbitrary index or to none.
type MPHF struct {
	levels   []level
	fallback map[uint64]uint64
	n        uint64
}

// New builds a minimal perfect hash over keys. Keys must be distinct.
func New(keys []uint64, gamma float64) (*MPHF, error) {
	if gamma < 1 {
		gamma = DefaultGamma
	}
	h := &MPHF{n: uint64(len(keys))}

	remaining := keys
	var offset uint64
	for lvl := 0; len(remaining) > 0 && lvl < maxLevels; lvl++ {
		slots := uint64(gamma * float64(len(remaining)))
		words := max(1, (slots+63)/64)
		l := level{bits: make([]uint64, words), offset: offset}
		collide := make([]uint64, words)
		m := l.size()

		for _, k := range remaining {
			i := hash(k, lvl) % m
			if l.get(i) {
				collide[i/64] |= 1 << (i % 64)
			}
			l.bits[i/64] |= 1 << (i % 64)
		}

		l.ranks = make([]uint64, words)
		var ones uint64
		for w := range l.bits {
			l.bits[w] &^= collide[w]
			l.ranks[w] = ones
			ones += uint64(bits.OnesCount64(l.bits[w]))
		}

		var next []uint64
		for _, k := range remaining {
			if !l.get(hash(k, lvl) % m) {
				next = append(next, k)
			}
		}

		h.levels = append(h.levels, l)
		offset += ones
		remaining = next
	}

	if len(remaining) > 0 {
		h.fallback = make(map[uint64]uint64, len(remaining))
		for _, k := range remaining {
			if _, ok := h.fallback[k]; ok {
				return nil, ErrDuplicateKey
			}
			h.fallback[k] = offset
			offset++
		}
	}
	if offset != h.n {
		return nil, ErrDuplicateKey
	}
	return h, nil
}

// Len returns the number of keys in the build set.
func (h *MPHF) Len() uint64 { return h.n }

// Lookup returns the index of k. ok is false when k hit no level and is not
// in the fallback map; such a key was definitely not in the build set.
func (h *MPHF) Lookup(k uint64) (idx uint64, ok bool) {
	for lvl := range h.levels {
		l := &h.levels[lvl]
		i := hash(k, lvl) % l.size()
		if l.get(i) {
			return l.offset + l.rank(i), true
		}
	}
	idx, ok = h.fallback[k]
	return idx, ok
}

func hash(k uint64, lvl int) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], k)
	return murmur3.SeedSum64(uint64(lvl), buf[:])
}
