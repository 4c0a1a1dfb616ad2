// Package spring runs the whole pipeline: it packs raw reads, reorders the
// N-free ones into contigs, builds consensus sequences and finally realigns
// singletons and reads with N against those consensus sequences.
package spring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vertti/springpack/internal/consensus"
	"github.com/vertti/springpack/internal/encoder"
	"github.com/vertti/springpack/internal/parallel"
	"github.com/vertti/springpack/internal/params"
	"github.com/vertti/springpack/internal/reorder"
	"github.com/vertti/springpack/internal/spill"
)

var (
	ErrNoReads           = errors.New("no reads")
	ErrReadTooLong       = errors.New("read longer than maximum read length")
	ErrPairCountMismatch = errors.New("paired inputs have different read counts")
)

// minReadLen keeps the default key ranges non-empty for very short reads.
const minReadLen = 16

// Input holds raw base strings. Mates, when present, must be the same length
// as Reads; mate i gets read ID len(Reads)+i.
type Input struct {
	Reads [][]byte
	Mates [][]byte
}

// Options configures Run. A zero Params selects params.Default for the
// longest read and a positive Threads overrides its worker count. A nil
// Store keeps spill streams in memory and a nil Logger discards log output.
type Options struct {
	Params  params.Params
	Threads int
	Store   spill.Store
	Logger  logrus.FieldLogger
}

// Stats summarizes a run.
type Stats struct {
	Reorder   reorder.Stats
	NReads    int // reads containing N, never reordered
	Realigned int // pool reads spliced into a contig
}

// Result is everything downstream encoding needs.
type Result struct {
	Reorder    []reorder.Record // reorder output in worker order
	Contigs    []consensus.Contig
	Unaligned  []consensus.PoolRead // sorted by ID
	Singletons []uint32             // reads the reorder pass left alone
	NumReads   int
	Paired     bool
	MaxReadLen int
	Stats      Stats
}

// Run executes the pipeline. It either returns a complete result or the
// first error; there is no partial output.
func Run(ctx context.Context, in Input, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	start := time.Now()

	reads, err := collect(in)
	if err != nil {
		return nil, err
	}
	longest := 0
	for _, r := range reads {
		longest = max(longest, len(r))
	}
	p := opts.Params
	if p.MaxReadLen == 0 {
		p = params.Default(max(longest, minReadLen))
	}
	if opts.Threads > 0 {
		p.Threads = opts.Threads
	}
	if longest > p.MaxReadLen {
		return nil, fmt.Errorf("%w: %d > %d", ErrReadTooLong, longest, p.MaxReadLen)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	store := opts.Store
	if store == nil {
		mem := spill.NewMemory()
		defer func() { _ = mem.Close() }()
		store = mem
	}

	packer, err := encoder.NewPacker(p.MaxReadLen, 2)
	if err != nil {
		return nil, err
	}
	rin, nPool, err := pack(ctx, packer, reads, p.Threads)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"reads":   len(reads),
		"n_reads": len(nPool),
		"max_len": p.MaxReadLen,
	}).Info("reads packed")

	ro, err := reorder.Run(ctx, store, packer, rin, p, log)
	if err != nil {
		return nil, fmt.Errorf("reorder: %w", err)
	}

	res := &Result{
		NumReads:   len(reads),
		Paired:     len(in.Mates) > 0,
		MaxReadLen: p.MaxReadLen,
	}
	res.Stats.Reorder = ro.Stats
	res.Stats.NReads = len(nPool)

	var groups [][]reorder.Record
	if err := reorder.ReadRecords(store, ro.Workers, func(r reorder.Record) error {
		if r.NewContig || len(groups) == 0 {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], r)
		res.Reorder = append(res.Reorder, r)
		return nil
	}); err != nil {
		return nil, err
	}
	if res.Singletons, err = reorder.ReadSingletons(store, ro.Workers); err != nil {
		return nil, err
	}

	res.Contigs, err = consensus.Build(ctx, groups, func(id uint32) []byte { return reads[id] }, p.Threads)
	if err != nil {
		return nil, fmt.Errorf("consensus: %w", err)
	}

	pool := make([]consensus.PoolRead, 0, len(res.Singletons)+len(nPool))
	for _, id := range res.Singletons {
		pool = append(pool, consensus.PoolRead{ID: id, Seq: reads[id]})
	}
	pool = append(pool, nPool...)
	res.Unaligned, err = consensus.Realign(ctx, res.Contigs, pool, p, log)
	if err != nil {
		return nil, fmt.Errorf("realignment: %w", err)
	}
	res.Stats.Realigned = len(pool) - len(res.Unaligned)

	log.WithFields(logrus.Fields{
		"reads":     res.NumReads,
		"contigs":   len(res.Contigs),
		"unaligned": len(res.Unaligned),
		"elapsed":   time.Since(start).Round(time.Millisecond),
	}).Info("pipeline finished")
	return res, nil
}

// collect concatenates reads and mates and upper-cases every base.
func collect(in Input) ([][]byte, error) {
	if len(in.Reads) == 0 {
		return nil, ErrNoReads
	}
	if len(in.Mates) > 0 && len(in.Mates) != len(in.Reads) {
		return nil, fmt.Errorf("%w: %d and %d", ErrPairCountMismatch, len(in.Reads), len(in.Mates))
	}
	all := make([][]byte, 0, len(in.Reads)+len(in.Mates))
	all = append(all, in.Reads...)
	all = append(all, in.Mates...)

	out := make([][]byte, len(all))
	for i, r := range all {
		if len(r) > encoder.MaxReadLength {
			return nil, fmt.Errorf("%w: read %d has %d bases", ErrReadTooLong, i, len(r))
		}
		s := make([]byte, len(r))
		for k, b := range r {
			c, ok := encoder.Code(b)
			if !ok {
				return nil, fmt.Errorf("read %d: %w %q at position %d", i, encoder.ErrInvalidBase, b, k)
			}
			s[k] = encoder.Letter(c)
		}
		out[i] = s
	}
	return out, nil
}

// pack splits reads into the N-free set handed to the reorder engine and the
// reads with N that go straight to the realignment pool.
func pack(ctx context.Context, packer *encoder.Packer, reads [][]byte, threads int) (reorder.Input, []consensus.PoolRead, error) {
	var in reorder.Input
	var nPool []consensus.PoolRead
	for i, r := range reads {
		if encoder.HasN(r) {
			nPool = append(nPool, consensus.PoolRead{ID: uint32(i), Seq: r}) //nolint:gosec // read count fits uint32
			continue
		}
		in.IDs = append(in.IDs, uint32(i))              //nolint:gosec // read count fits uint32
		in.Lengths = append(in.Lengths, uint16(len(r))) //nolint:gosec // <= MaxReadLength
	}
	in.Reads = make([]encoder.Vec, len(in.IDs))
	err := parallel.Range(ctx, len(in.IDs), threads, func(_ context.Context, lo, hi int) error {
		for k := lo; k < hi; k++ {
			v, err := packer.Pack(reads[in.IDs[k]])
			if err != nil {
				return fmt.Errorf("read %d: %w", in.IDs[k], err)
			}
			in.Reads[k] = v
		}
		return nil
	})
	if err != nil {
		return reorder.Input{}, nil, err
	}
	return in, nPool, nil
}

// Partition checks that every read appears exactly once, either as a contig
// member or in the unaligned pool.
func (r *Result) Partition() error {
	seen := make([]uint8, r.NumReads)
	mark := func(id uint32) error {
		if int(id) >= r.NumReads {
			return fmt.Errorf("read ID %d out of range", id)
		}
		if seen[id] != 0 {
			return fmt.Errorf("read %d placed twice", id)
		}
		seen[id] = 1
		return nil
	}
	for _, c := range r.Contigs {
		for _, m := range c.Members {
			if err := mark(m.ReadID); err != nil {
				return err
			}
		}
	}
	for _, u := range r.Unaligned {
		if err := mark(u.ID); err != nil {
			return err
		}
	}
	for id, s := range seen {
		if s == 0 {
			return fmt.Errorf("read %d missing", id)
		}
	}
	return nil
}

// Sequences rebuilds every read, indexed by read ID.
func (r *Result) Sequences() [][]byte {
	out := make([][]byte, r.NumReads)
	for _, c := range r.Contigs {
		for _, m := range c.Members {
			out[m.ReadID] = consensus.Reconstruct(c.Consensus, m)
		}
	}
	for _, u := range r.Unaligned {
		out[u.ID] = u.Seq
	}
	return out
}
