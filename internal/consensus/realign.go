package consensus

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/vertti/springpack/internal/dict"
	"github.com/vertti/springpack/internal/encoder"
	"github.com/vertti/springpack/internal/parallel"
	"github.com/vertti/springpack/internal/params"
	"github.com/vertti/springpack/internal/reorder"
)

// PoolRead is a read left outside every contig: a singleton or a read with N.
type PoolRead struct {
	ID  uint32
	Seq []byte
}

type realigner struct {
	p       params.Params
	packer  *encoder.Packer
	pool    []PoolRead
	fwd     []encoder.Vec
	rev     []encoder.Vec
	lengths []uint16
	dicts   [2]*dict.Dict
	claimed []atomic.Bool
}

type scratch struct {
	window, rcWindow encoder.Vec
	hits             []uint32
}

// Realign slides a read-length window along every contig whose consensus is
// at least p.MaxReadLen long and pulls in pool reads within
// p.EncoderHammingThreshold of it, in either orientation. Matched reads are
// appended to their contig with mismatches against the existing consensus,
// which is never recomputed. The reads nobody claimed are returned sorted by ID.
func Realign(ctx context.Context, contigs []Contig, pool []PoolRead, p params.Params, log logrus.FieldLogger) ([]PoolRead, error) {
	if len(pool) == 0 || len(contigs) == 0 {
		return sortPool(pool), nil
	}
	packer, err := encoder.NewPacker(p.MaxReadLen, 3)
	if err != nil {
		return nil, err
	}
	r := &realigner{
		p:       p,
		packer:  packer,
		pool:    pool,
		fwd:     make([]encoder.Vec, len(pool)),
		rev:     make([]encoder.Vec, len(pool)),
		lengths: make([]uint16, len(pool)),
		claimed: make([]atomic.Bool, len(pool)),
	}
	if err := parallel.Range(ctx, len(pool), p.Threads, func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			v, err := packer.Pack(pool[i].Seq)
			if err != nil {
				return fmt.Errorf("pool read %d: %w", pool[i].ID, err)
			}
			r.fwd[i] = v
			r.rev[i] = packer.ReverseComplement(v, len(pool[i].Seq))
			r.lengths[i] = uint16(len(pool[i].Seq)) //nolint:gosec // bounded by packer
		}
		return nil
	}); err != nil {
		return nil, err
	}
	for i, kr := range p.EncoderKeyRanges {
		d, err := dict.Build(ctx, packer, r.fwd, r.lengths, kr, p.Threads, p.NumLocks)
		if err != nil {
			return nil, fmt.Errorf("building realignment dictionary %d: %w", i, err)
		}
		r.dicts[i] = d
	}

	workers := max(1, min(p.Threads, len(contigs)))
	scratches := make([]scratch, workers)
	for i := range scratches {
		scratches[i] = scratch{window: packer.NewVec(), rcWindow: packer.NewVec()}
	}
	var aligned atomic.Int64
	err = parallel.Each(ctx, len(contigs), workers, func(_ context.Context, w, i int) error {
		n, err := r.contig(&contigs[i], &scratches[w])
		aligned.Add(int64(n))
		return err
	})
	if err != nil {
		return nil, err
	}

	var rest []PoolRead
	for i := range pool {
		if !r.claimed[i].Load() {
			rest = append(rest, pool[i])
		}
	}
	log.WithFields(logrus.Fields{
		"pool":      len(pool),
		"aligned":   aligned.Load(),
		"unaligned": len(rest),
	}).Info("realignment finished")
	return sortPool(rest), nil
}

func sortPool(pool []PoolRead) []PoolRead {
	slices.SortFunc(pool, func(a, b PoolRead) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return pool
}

// contig searches one contig and returns how many reads it took.
func (r *realigner) contig(c *Contig, s *scratch) (int, error) {
	l := r.p.MaxReadLen
	cons := c.Consensus
	if len(cons) < l {
		return 0, nil
	}
	p := r.packer
	if err := p.PackInto(s.window, cons[:l]); err != nil {
		return 0, fmt.Errorf("packing consensus: %w", err)
	}
	p.ReverseComplementInto(s.rcWindow, s.window, l)
	prefix := p.Masks().Prefix(l)

	before := len(c.Members)
	for pos := 0; ; pos++ {
		r.align(c, s, pos)
		if pos+l >= len(cons) {
			break
		}
		code, _ := encoder.Code(cons[pos+l])
		s.window.Rsh(s.window, 3)
		p.SetBase(s.window, l-1, code)
		s.rcWindow.Lsh(s.rcWindow, 3)
		p.SetBase(s.rcWindow, 0, encoder.Complement(code))
		s.rcWindow.And(s.rcWindow, prefix)
	}
	if len(c.Members) > before {
		slices.SortStableFunc(c.Members, func(a, b Member) int {
			switch {
			case a.Offset < b.Offset:
				return -1
			case a.Offset > b.Offset:
				return 1
			}
			return 0
		})
	}
	return len(c.Members) - before, nil
}

// align claims every pool read matching the window at pos.
func (r *realigner) align(c *Contig, s *scratch, pos int) {
	for _, d := range r.dicts {
		r.tryBin(c, s, d, d.Key(s.window), pos, reorder.Forward)
		r.tryBin(c, s, d, d.Key(s.rcWindow), pos, reorder.Reverse)
	}
}

func (r *realigner) tryBin(c *Contig, s *scratch, d *dict.Dict, key uint64, pos int, o reorder.Orientation) {
	bin, ok := d.Lookup(key)
	if !ok {
		return
	}
	cands := r.fwd
	if o == reorder.Reverse {
		cands = r.rev
	}
	s.hits = s.hits[:0]
	d.Scan(bin, r.p.EncoderMaxCandidates, func(id uint32) bool {
		if r.claimed[id].Load() {
			return false
		}
		if r.packer.Hamming(s.window, cands[id], int(r.lengths[id])) > r.p.EncoderHammingThreshold {
			return false
		}
		if r.claimed[id].CompareAndSwap(false, true) {
			s.hits = append(s.hits, id)
		}
		return false
	})
	for _, id := range s.hits {
		for _, dd := range r.dicts {
			dd.RemoveRead(id, r.fwd[id], int(r.lengths[id]))
		}
		n := int64(r.lengths[id])
		read := orient(r.pool[id].Seq, o)
		c.Members = append(c.Members, Member{
			ReadID:      r.pool[id].ID,
			Offset:      int64(pos),
			Orientation: o,
			Length:      r.lengths[id],
			Mismatches:  Diff(c.Consensus[pos:int64(pos)+n], read),
		})
	}
}
