// Package consensus turns reorder output into contigs: a majority-vote
// consensus string per contig plus, for each member read, its position and the
// few bases where it disagrees with the consensus.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/vertti/springpack/internal/encoder"
	"github.com/vertti/springpack/internal/parallel"
	"github.com/vertti/springpack/internal/reorder"
)

var ErrEmptyContig = errors.New("empty contig")

// Mismatch is one base where a read differs from the consensus. Delta counts
// positions from the previous mismatch (or the read start) in consensus
// orientation.
type Mismatch struct {
	Delta uint16
	Base  byte
}

// Member is a read placed in a contig.
type Member struct {
	ReadID      uint32
	Offset      int64 // start within the consensus
	Orientation reorder.Orientation
	Length      uint16
	Mismatches  []Mismatch
}

// Contig is a consensus string and the reads that cover it, ordered by offset.
type Contig struct {
	Consensus []byte
	Members   []Member
}

// Source returns the bases of a read by its original index.
type Source func(id uint32) []byte

// Build computes consensus and mismatches for every group of records. Each
// group is one contig as written by the reorder engine.
func Build(ctx context.Context, groups [][]reorder.Record, seq Source, threads int) ([]Contig, error) {
	contigs := make([]Contig, len(groups))
	err := parallel.Each(ctx, len(groups), threads, func(_ context.Context, _, i int) error {
		c, err := buildContig(groups[i], seq)
		if err != nil {
			return fmt.Errorf("contig %d: %w", i, err)
		}
		contigs[i] = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return contigs, nil
}

func buildContig(recs []reorder.Record, seq Source) (Contig, error) {
	if len(recs) == 0 {
		return Contig{}, ErrEmptyContig
	}
	recs = slices.Clone(recs)
	slices.SortStableFunc(recs, func(a, b reorder.Record) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})
	base := recs[0].Offset
	var end int64
	for _, r := range recs {
		end = max(end, r.Offset-base+int64(r.Length))
	}

	oriented := make([][]byte, len(recs))
	counts := make([][4]uint32, end)
	for i, r := range recs {
		s := orient(seq(r.Order), r.Orientation)
		if len(s) != int(r.Length) {
			return Contig{}, fmt.Errorf("read %d has %d bases, record says %d", r.Order, len(s), r.Length)
		}
		oriented[i] = s
		off := r.Offset - base
		for k, b := range s {
			if c, ok := encoder.Code(b); ok && c < encoder.CodeN {
				counts[off+int64(k)][c]++
			}
		}
	}

	cons := make([]byte, end)
	for i, c := range counts {
		best := 0
		for b := 1; b < 4; b++ {
			if c[b] > c[best] {
				best = b
			}
		}
		cons[i] = encoder.Letter(byte(best))
	}

	members := make([]Member, len(recs))
	for i, r := range recs {
		off := r.Offset - base
		members[i] = Member{
			ReadID:      r.Order,
			Offset:      off,
			Orientation: r.Orientation,
			Length:      r.Length,
			Mismatches:  Diff(cons[off:off+int64(r.Length)], oriented[i]),
		}
	}
	return Contig{Consensus: cons, Members: members}, nil
}

func orient(s []byte, o reorder.Orientation) []byte {
	if o == reorder.Reverse {
		return encoder.AppendReverseComplement(make([]byte, 0, len(s)), s)
	}
	return s
}

// Diff lists the positions where read differs from ref. Both have the same
// length and orientation.
func Diff(ref, read []byte) []Mismatch {
	var out []Mismatch
	prev := 0
	for i := range read {
		if read[i] != ref[i] {
			out = append(out, Mismatch{Delta: uint16(i - prev), Base: read[i]}) //nolint:gosec // i < MaxReadLength
			prev = i + 1
		}
	}
	return out
}

// Reconstruct returns m's bases in their original orientation.
func Reconstruct(consensus []byte, m Member) []byte {
	s := slices.Clone(consensus[m.Offset : m.Offset+int64(m.Length)])
	pos := 0
	for _, mm := range m.Mismatches {
		pos += int(mm.Delta)
		s[pos] = mm.Base
		pos++
	}
	if m.Orientation == reorder.Reverse {
		return encoder.AppendReverseComplement(make([]byte, 0, len(s)), s)
	}
	return s
}
