// Package reorder clusters reads into contigs. Each worker greedily grows a
// contig from a seed read, finding overlapping reads through two dictionaries
// keyed on fixed base windows and accepting those within a Hamming threshold
// of the contig's running majority-vote reference.
package reorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vertti/springpack/internal/dict"
	"github.com/vertti/springpack/internal/encoder"
	"github.com/vertti/springpack/internal/parallel"
	"github.com/vertti/springpack/internal/params"
	"github.com/vertti/springpack/internal/spill"
)

// Input is the set of N-free reads to reorder.
type Input struct {
	Reads   []encoder.Vec // 2 bits per base
	Lengths []uint16
	IDs     []uint32 // original index of each read, written as Record.Order
}

// Stats summarizes a run.
type Stats struct {
	Contigs      int // contigs with at least two reads
	Singletons   int
	Placed       int // reads placed by search, seeds excluded
	EarlyStopped int // workers that gave up searching
}

func (s *Stats) add(o Stats) {
	s.Contigs += o.Contigs
	s.Singletons += o.Singletons
	s.Placed += o.Placed
	s.EarlyStopped += o.EarlyStopped
}

// Result describes where a run left its output.
type Result struct {
	Workers int
	Stats   Stats
}

type engine struct {
	p       params.Params
	packer  *encoder.Packer
	in      Input
	rev     []encoder.Vec
	dicts   [2]*dict.Dict
	claimed []atomic.Bool

	seedMu sync.Mutex
	cursor int // NewSeed scans downward from here
}

// Run reorders in and writes one record stream and one singleton stream per
// worker to store. Read them back with ReadRecords and ReadSingletons.
func Run(ctx context.Context, store spill.Store, packer *encoder.Packer, in Input, p params.Params, log logrus.FieldLogger) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if packer.BitsPerBase() != 2 {
		return nil, errors.New("reorder requires a 2-bit packer")
	}
	n := len(in.Reads)
	if len(in.Lengths) != n || len(in.IDs) != n {
		return nil, fmt.Errorf("reorder input: %d reads, %d lengths, %d ids", n, len(in.Lengths), len(in.IDs))
	}
	if n == 0 {
		return &Result{}, nil
	}
	start := time.Now()

	e := &engine{
		p:       p,
		packer:  packer,
		in:      in,
		rev:     make([]encoder.Vec, n),
		claimed: make([]atomic.Bool, n),
		cursor:  n - 1,
	}
	if err := parallel.Range(ctx, n, p.Threads, func(_ context.Context, lo, hi int) error {
		for i := lo; i < hi; i++ {
			e.rev[i] = packer.ReverseComplement(in.Reads[i], int(in.Lengths[i]))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	for i, r := range p.KeyRanges {
		d, err := dict.Build(ctx, packer, in.Reads, in.Lengths, r, p.Threads, p.NumLocks)
		if err != nil {
			return nil, fmt.Errorf("building dictionary %d: %w", i, err)
		}
		e.dicts[i] = d
		log.WithFields(logrus.Fields{"dict": i, "start": r.Start, "end": r.End, "keys": d.NumKeys()}).Debug("dictionary built")
	}

	threads := min(p.Threads, n)
	workers := make([]*worker, 0, threads)
	closeAll := func() {
		for _, w := range workers {
			_ = w.close()
		}
	}
	for id := range threads {
		w, err := newWorker(e, id, store)
		if err != nil {
			closeAll()
			return nil, err
		}
		workers = append(workers, w)
	}

	var barrier sync.WaitGroup
	barrier.Add(threads)
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			seed := uint32(w.id * n / threads) //nolint:gosec // bounded by read count
			return w.run(gctx, seed, &barrier)
		})
	}
	err := g.Wait()
	for _, w := range workers {
		if cerr := w.close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return nil, err
	}

	res := &Result{Workers: threads}
	for _, w := range workers {
		res.Stats.add(w.stats)
		log.WithFields(logrus.Fields{
			"worker":     w.id,
			"contigs":    w.stats.Contigs,
			"singletons": w.stats.Singletons,
			"placed":     w.stats.Placed,
			"early_stop": w.stopped,
		}).Debug("reorder worker finished")
	}
	log.WithFields(logrus.Fields{
		"reads":      n,
		"contigs":    res.Stats.Contigs,
		"singletons": res.Stats.Singletons,
		"elapsed":    time.Since(start).Round(time.Millisecond),
	}).Info("reorder finished")
	return res, nil
}

// removeFromDicts drops a claimed read from every dictionary it was indexed in.
func (e *engine) removeFromDicts(id uint32) {
	for _, d := range e.dicts {
		d.RemoveRead(id, e.in.Reads[id], int(e.in.Lengths[id]))
	}
}

// nextSeed claims the highest unclaimed read.
func (e *engine) nextSeed() (uint32, bool) {
	e.seedMu.Lock()
	defer e.seedMu.Unlock()
	for e.cursor >= 0 {
		id := uint32(e.cursor) //nolint:gosec // cursor < read count
		e.cursor--
		if e.claimed[id].CompareAndSwap(false, true) {
			return id, true
		}
	}
	return 0, false
}

type streamWriter struct {
	wc io.WriteCloser
	bw *bufio.Writer
}

func createStream(store spill.Store, name string) (*streamWriter, error) {
	wc, err := store.Create(name)
	if err != nil {
		return nil, err
	}
	return &streamWriter{wc: wc, bw: bufio.NewWriterSize(wc, 1<<16)}, nil
}

func (s *streamWriter) close() error {
	if s == nil || s.wc == nil {
		return nil
	}
	err := s.bw.Flush()
	if cerr := s.wc.Close(); err == nil {
		err = cerr
	}
	s.wc = nil
	return err
}
