package reorder

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/vertti/springpack/internal/dict"
	"github.com/vertti/springpack/internal/encoder"
	"github.com/vertti/springpack/internal/spill"
)

// match is the read most recently claimed by a search.
type match struct {
	id     uint32
	orient Orientation // in the worker's current frame
	shift  int
}

// worker owns one contig at a time. In forward search its frame is the
// contig's own; in left search it is the reverse complement of the seed, and
// placements are mapped back to contig coordinates as they are written.
type worker struct {
	e  *engine
	id int
	l  int // longest read

	counts  []uint32 // counts[4*i+b] votes for base b at window position i
	ref     encoder.Vec
	revRef  encoder.Vec
	shifted encoder.Vec
	refLen  int
	// windowPos is the frame offset of window position 0.
	windowPos int64

	seed       uint32
	seedLen    int
	leftFrame  bool
	contigSize int
	pending    Record // seed record, written once a second read joins
	m          match

	out     *streamWriter
	singles *streamWriter
	buf     []byte

	processed int
	unmatched int
	stopped   bool
	stats     Stats
}

func newWorker(e *engine, id int, store spill.Store) (*worker, error) {
	out, err := createStream(store, recordStream(id))
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}
	singles, err := createStream(store, singletonStream(id))
	if err != nil {
		_ = out.close()
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}
	l := e.packer.MaxLen()
	return &worker{
		e:       e,
		id:      id,
		l:       l,
		counts:  make([]uint32, 4*l),
		ref:     e.packer.NewVec(),
		revRef:  e.packer.NewVec(),
		shifted: e.packer.NewVec(),
		out:     out,
		singles: singles,
		buf:     make([]byte, 0, RecordSize),
	}, nil
}

func (w *worker) close() error {
	err := w.out.close()
	if serr := w.singles.close(); err == nil {
		err = serr
	}
	return err
}

// run claims seed, waits for every other worker to claim theirs, then walks
// the state machine until no unclaimed read is left. barrier.Done is called
// exactly once before anything can fail.
func (w *worker) run(ctx context.Context, seed uint32, barrier *sync.WaitGroup) error {
	claimed := w.e.claimed[seed].CompareAndSwap(false, true)
	barrier.Done()
	barrier.Wait()

	state := StateNewSeed
	if claimed {
		w.e.removeFromDicts(seed)
		w.seed = seed
		state = StateSeedPick
	}
	for step := 0; state != StateDone; step++ {
		if step&1023 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		ok, err := w.step(state)
		if err != nil {
			return err
		}
		next := state.Next(ok)
		if state == StateForwardSearch && next == StateLeftSearch {
			w.startLeft()
		}
		state = next
	}
	return nil
}

func (w *worker) step(state State) (bool, error) {
	switch state {
	case StateSeedPick:
		w.startContig()
		return true, nil
	case StateForwardSearch, StateLeftSearch:
		if !w.search() {
			w.unmatched++
			return false, nil
		}
		return true, w.place()
	case StateNewSeed:
		if err := w.closeContig(); err != nil {
			return false, err
		}
		id, ok := w.e.nextSeed()
		if ok {
			w.e.removeFromDicts(id)
			w.seed = id
		}
		return ok, nil
	default:
		return false, nil
	}
}

func (w *worker) startContig() {
	in := w.e.in
	w.seedLen = int(in.Lengths[w.seed])
	w.leftFrame = false
	w.contigSize = 1
	w.pending = Record{Order: in.IDs[w.seed], NewContig: true, Length: in.Lengths[w.seed]}
	w.load(in.Reads[w.seed])
	w.tick()
}

// startLeft restarts the window from the reverse complement of the seed.
func (w *worker) startLeft() {
	w.leftFrame = true
	w.load(w.e.rev[w.seed])
}

func (w *worker) load(v encoder.Vec) {
	clear(w.counts)
	w.vote(v, w.seedLen)
	w.refLen = w.seedLen
	w.windowPos = 0
	w.rebuild()
}

func (w *worker) vote(v encoder.Vec, n int) {
	for i := range n {
		w.counts[4*i+int(w.e.packer.Base(v, i))]++
	}
}

// rebuild recomputes the majority reference. Ties go to the lowest code.
func (w *worker) rebuild() {
	p := w.e.packer
	w.ref.Reset()
	for i := range w.refLen {
		c := w.counts[4*i : 4*i+4]
		best := 0
		for b := 1; b < 4; b++ {
			if c[b] > c[best] {
				best = b
			}
		}
		if best != 0 {
			p.SetBase(w.ref, i, byte(best))
		}
	}
	p.ReverseComplementInto(w.revRef, w.ref, w.refLen)
}

// search tries every shift of the window against both dictionaries, forward
// then reverse, and claims the first read that fits.
func (w *worker) search() bool {
	if w.stopped {
		return false
	}
	p := w.e.packer
	for j := 0; j <= w.e.p.MaxShift && j < w.refLen; j++ {
		w.shifted.Rsh(w.ref, 2*j)
		// Reverse keys assume a full-length read ending where the window ends.
		d := j + w.l - w.refLen
		for _, dct := range w.e.dicts {
			r := dct.Range
			if w.refLen-j > r.End && w.tryBin(dct, dct.Key(w.shifted), j, Forward) {
				return true
			}
			if r.Start >= d && w.tryBin(dct, p.Key(w.revRef, r.Start-d, r.End-d), j, Reverse) {
				return true
			}
		}
	}
	return false
}

func (w *worker) tryBin(dct *dict.Dict, key uint64, shift int, o Orientation) bool {
	bin, ok := dct.Lookup(key)
	if !ok {
		return false
	}
	e := w.e
	cands := e.in.Reads
	if o == Reverse {
		cands = e.rev
	}
	span := w.refLen - shift
	id, found := dct.Scan(bin, e.p.MaxCandidates, func(id uint32) bool {
		if e.claimed[id].Load() {
			return false
		}
		n := min(span, int(e.in.Lengths[id]))
		if e.packer.Hamming(w.shifted, cands[id], n) > e.p.HammingThreshold {
			return false
		}
		return e.claimed[id].CompareAndSwap(false, true)
	})
	if !found {
		return false
	}
	e.removeFromDicts(id)
	w.m = match{id: id, orient: o, shift: shift}
	return true
}

// place writes the claimed read and folds it into the window.
func (w *worker) place() error {
	e, m := w.e, w.m
	n := int(e.in.Lengths[m.id])
	pos := w.windowPos + int64(m.shift)

	rec := Record{Order: e.in.IDs[m.id], Orientation: m.orient, Length: uint16(n), Offset: pos} //nolint:gosec // n <= MaxReadLength
	if w.leftFrame {
		rec.Offset = int64(w.seedLen) - pos - int64(n)
		rec.Orientation = m.orient.Flip()
	}

	if m.shift > 0 {
		copy(w.counts, w.counts[4*m.shift:])
		clear(w.counts[4*(w.l-m.shift):])
	}
	placed := e.in.Reads[m.id]
	if m.orient == Reverse {
		placed = e.rev[m.id]
	}
	w.vote(placed, n)
	w.refLen = max(w.refLen-m.shift, n)
	w.windowPos = pos
	w.rebuild()

	w.stats.Placed++
	w.tick()
	return w.emit(rec)
}

func (w *worker) emit(rec Record) error {
	if w.contigSize == 1 {
		if err := w.write(w.pending); err != nil {
			return err
		}
	}
	w.contigSize++
	return w.write(rec)
}

func (w *worker) write(rec Record) error {
	w.buf = rec.AppendBinary(w.buf[:0])
	if _, err := w.out.bw.Write(w.buf); err != nil {
		return fmt.Errorf("writing reorder record: %w", err)
	}
	return nil
}

func (w *worker) closeContig() error {
	switch {
	case w.contigSize == 0:
		return nil
	case w.contigSize == 1:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], w.pending.Order)
		if _, err := w.singles.bw.Write(b[:]); err != nil {
			return fmt.Errorf("writing singleton: %w", err)
		}
		w.stats.Singletons++
	default:
		w.stats.Contigs++
	}
	w.contigSize = 0
	return nil
}

// tick counts a read entering a contig and, at the end of each window,
// disables searching if too many searches came back empty.
func (w *worker) tick() {
	w.processed++
	if w.processed%w.e.p.EarlyStopWindow != 0 {
		return
	}
	if !w.stopped && float64(w.unmatched) > w.e.p.EarlyStopRatio*float64(w.e.p.EarlyStopWindow) {
		w.stopped = true
		w.stats.EarlyStopped++
	}
	w.unmatched = 0
}
