// Package compress converts FASTQ files to SPR archives and back. Reads are
// clustered into contigs by the spring pipeline; the archive stores consensus
// sequences, per-read mismatches, the unaligned remainder, headers and
// qualities as separate zstd streams.
package compress

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"runtime"
	"slices"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vertti/springpack/internal/consensus"
	"github.com/vertti/springpack/internal/encoder"
	"github.com/vertti/springpack/internal/format"
	"github.com/vertti/springpack/internal/params"
	"github.com/vertti/springpack/internal/parser"
	"github.com/vertti/springpack/internal/reorder"
	"github.com/vertti/springpack/internal/spill"
	"github.com/vertti/springpack/internal/spring"
)

// Stream order inside an archive.
const (
	streamConsensus = iota
	streamMembers
	streamUnaligned
	streamHeaders
	streamQuality
	numStreams
)

var errTruncated = errors.New("truncated archive stream")

// Options configures compression.
type Options struct {
	Workers int           // default NumCPU
	Params  params.Params // zero selects defaults for the longest read
	TempDir string        // spill reorder output here instead of memory
	Logger  logrus.FieldLogger
}

// DecompressOptions configures decompression.
type DecompressOptions struct {
	Workers int // default NumCPU
}

// Compress reads FASTQ from r, and mates from r2 when it is non-nil, and
// writes an archive to w.
func Compress(r, r2 io.Reader, w io.Writer, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	recs, err := parser.ReadAll(r)
	if err != nil {
		return fmt.Errorf("parsing FASTQ: %w", err)
	}
	paired := r2 != nil
	var mates []parser.Record
	if paired {
		if mates, err = parser.ReadAll(r2); err != nil {
			return fmt.Errorf("parsing mate FASTQ: %w", err)
		}
		if len(mates) != len(recs) {
			return fmt.Errorf("%w: %d and %d", spring.ErrPairCountMismatch, len(recs), len(mates))
		}
	}
	all := slices.Concat(recs, mates)

	qualities := make([][]byte, len(all))
	for i := range all {
		qualities[i] = all[i].Quality
	}
	qualEnc := encoder.DetectEncoding(qualities)

	header := format.FileHeader{Version: format.CurrentVersion, NumReads: uint32(len(all))} //nolint:gosec // read count fits uint32
	if paired {
		header.Flags |= format.FlagPaired
	}
	if qualEnc == encoder.EncodingPhred64 {
		header.Flags |= format.FlagPhred64
	}

	var res *spring.Result
	if len(all) > 0 {
		if res, err = runPipeline(recs, mates, opts, workers); err != nil {
			return err
		}
		header.MaxReadLen = uint16(res.MaxReadLen) //nolint:gosec // <= MaxReadLength
	}

	raw, err := buildStreams(res, all, qualEnc)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression), zstd.WithEncoderConcurrency(workers))
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	defer enc.Close() //nolint:errcheck // encoder close during cleanup

	encoded := make([][]byte, numStreams)
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range raw {
		g.Go(func() error {
			encoded[i] = format.EncodeStream(enc, raw[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := header.Write(w); err != nil {
		return fmt.Errorf("writing file header: %w", err)
	}
	for i, b := range encoded {
		if _, err := w.Write(b); err != nil {
			return fmt.Errorf("writing stream %d: %w", i, err)
		}
	}
	return nil
}

func runPipeline(recs, mates []parser.Record, opts *Options, workers int) (*spring.Result, error) {
	in := spring.Input{Reads: sequences(recs)}
	if mates != nil {
		in.Mates = sequences(mates)
	}
	sopts := spring.Options{Params: opts.Params, Threads: workers, Logger: opts.Logger}
	if opts.TempDir != "" {
		dir, err := spill.NewDir(opts.TempDir)
		if err != nil {
			return nil, fmt.Errorf("creating spill directory: %w", err)
		}
		defer func() { _ = dir.Close() }()
		sopts.Store = dir
	}
	res, err := spring.Run(context.Background(), in, sopts)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func sequences(recs []parser.Record) [][]byte {
	out := make([][]byte, len(recs))
	for i := range recs {
		out[i] = recs[i].Sequence
	}
	return out
}

// buildStreams serializes the pipeline result and the FASTQ side channels.
func buildStreams(res *spring.Result, all []parser.Record, qualEnc encoder.QualityEncoding) ([][]byte, error) {
	raw := make([][]byte, numStreams)
	if res != nil {
		raw[streamConsensus], raw[streamMembers] = encodeContigs(res.Contigs)
		var err error
		if raw[streamUnaligned], err = encodeUnaligned(res.Unaligned, res.MaxReadLen); err != nil {
			return nil, err
		}
	}

	var headers bytes.Buffer
	var quals []byte
	for i := range all {
		if i > 0 {
			headers.WriteByte('\n')
		}
		headers.WriteString(all[i].Header)
		start := len(quals)
		quals = append(quals, all[i].Quality...)
		encoder.EncodeQuality(quals[start:], qualEnc)
	}
	raw[streamHeaders] = headers.Bytes()
	raw[streamQuality] = quals
	return raw, nil
}

func encodeContigs(contigs []consensus.Contig) (cons, members []byte) {
	cons = binary.AppendUvarint(cons, uint64(len(contigs)))
	for _, c := range contigs {
		cons = binary.AppendUvarint(cons, uint64(len(c.Consensus)))
		cons = append(cons, c.Consensus...)

		members = binary.AppendUvarint(members, uint64(len(c.Members)))
		for _, m := range c.Members {
			members = binary.AppendUvarint(members, uint64(m.ReadID))
			members = binary.AppendUvarint(members, uint64(m.Offset)) //nolint:gosec // offsets are rebased to >= 0
			members = append(members, byte(m.Orientation))
			members = binary.AppendUvarint(members, uint64(m.Length))
			members = binary.AppendUvarint(members, uint64(len(m.Mismatches)))
			for _, mm := range m.Mismatches {
				members = binary.AppendUvarint(members, uint64(mm.Delta))
				members = append(members, mm.Base)
			}
		}
	}
	return cons, members
}

// encodeUnaligned stores each read 3-bit packed, using only the words its
// length needs.
func encodeUnaligned(pool []consensus.PoolRead, maxLen int) ([]byte, error) {
	packer, err := encoder.NewPacker(max(maxLen, 1), 3)
	if err != nil {
		return nil, err
	}
	out := binary.AppendUvarint(nil, uint64(len(pool)))
	for _, r := range pool {
		v, err := packer.Pack(r.Seq)
		if err != nil {
			return nil, fmt.Errorf("packing read %d: %w", r.ID, err)
		}
		out = binary.AppendUvarint(out, uint64(r.ID))
		out = binary.AppendUvarint(out, uint64(len(r.Seq)))
		for _, word := range v[:packedWords(len(r.Seq))] {
			out = binary.LittleEndian.AppendUint64(out, word)
		}
	}
	return out, nil
}

func packedWords(n int) int { return (3*n + 63) / 64 }

// Decompress reads an archive from r and writes FASTQ to w. For paired
// archives mates go to w2, or are interleaved into w when w2 is nil.
func Decompress(r io.Reader, w, w2 io.Writer, opts *DecompressOptions) error {
	if opts == nil {
		opts = &DecompressOptions{}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	header, err := format.ReadFileHeader(r)
	if err != nil {
		return fmt.Errorf("reading file header: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(workers))
	if err != nil {
		return fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()

	raw := make([][]byte, numStreams)
	for i := range raw {
		if raw[i], err = format.ReadStream(r, dec); err != nil {
			return fmt.Errorf("reading stream %d: %w", i, err)
		}
	}

	n := int(header.NumReads)
	seqs, err := decodeSequences(raw, n, int(header.MaxReadLen))
	if err != nil {
		return err
	}
	headers := bytes.Split(raw[streamHeaders], []byte{'\n'})
	if n == 0 {
		headers = nil
	}
	if len(headers) != n {
		return fmt.Errorf("%w: %d headers for %d reads", errTruncated, len(headers), n)
	}

	qualEnc := encoder.EncodingPhred33
	if header.Flags&format.FlagPhred64 != 0 {
		qualEnc = encoder.EncodingPhred64
	}
	quals := raw[streamQuality]
	recs := make([]parser.Record, n)
	for i := range recs {
		l := len(seqs[i])
		if len(quals) < l {
			return fmt.Errorf("%w: quality stream", errTruncated)
		}
		q := quals[:l:l]
		quals = quals[l:]
		encoder.DecodeQuality(q, qualEnc)
		recs[i] = parser.Record{Header: string(headers[i]), Sequence: seqs[i], Quality: q}
	}

	return writeRecords(recs, header.Flags&format.FlagPaired != 0, w, w2)
}

func writeRecords(recs []parser.Record, paired bool, w, w2 io.Writer) error {
	out := parser.NewWriter(w)
	if !paired {
		for _, rec := range recs {
			if err := out.Write(rec); err != nil {
				return err
			}
		}
		return out.Flush()
	}

	half := len(recs) / 2
	if w2 == nil {
		for i := range half {
			if err := out.Write(recs[i]); err != nil {
				return err
			}
			if err := out.Write(recs[half+i]); err != nil {
				return err
			}
		}
		return out.Flush()
	}
	out2 := parser.NewWriter(w2)
	for i := range half {
		if err := out.Write(recs[i]); err != nil {
			return err
		}
		if err := out2.Write(recs[half+i]); err != nil {
			return err
		}
	}
	if err := out.Flush(); err != nil {
		return err
	}
	return out2.Flush()
}

// streamReader decodes the primitives written by encodeContigs and
// encodeUnaligned. The first failure sticks.
type streamReader struct {
	b   []byte
	err error
}

func (s *streamReader) uvarint() uint64 {
	if s.err != nil {
		return 0
	}
	v, n := binary.Uvarint(s.b)
	if n <= 0 {
		s.err = errTruncated
		return 0
	}
	s.b = s.b[n:]
	return v
}

func (s *streamReader) readByte() byte {
	if b := s.next(1); b != nil {
		return b[0]
	}
	return 0
}

func (s *streamReader) next(n int) []byte {
	if s.err != nil {
		return nil
	}
	if n < 0 || len(s.b) < n {
		s.err = errTruncated
		return nil
	}
	out := s.b[:n:n]
	s.b = s.b[n:]
	return out
}

func decodeSequences(raw [][]byte, n, maxLen int) ([][]byte, error) {
	seqs := make([][]byte, n)
	set := func(id uint64, seq []byte) error {
		if id >= uint64(n) {
			return fmt.Errorf("read ID %d out of range", id)
		}
		if seqs[id] != nil {
			return fmt.Errorf("read %d stored twice", id)
		}
		seqs[id] = seq
		return nil
	}
	if n == 0 {
		return seqs, nil
	}

	cons := &streamReader{b: raw[streamConsensus]}
	mem := &streamReader{b: raw[streamMembers]}
	numContigs := cons.uvarint()
	for range numContigs {
		consensusSeq := cons.next(int(cons.uvarint())) //nolint:gosec // checked by next
		numMembers := mem.uvarint()
		if err := errors.Join(cons.err, mem.err); err != nil {
			return nil, err
		}
		for range numMembers {
			m := consensus.Member{
				ReadID:      uint32(mem.uvarint()), //nolint:gosec // checked by set
				Offset:      int64(mem.uvarint()),  //nolint:gosec // checked below
				Orientation: reorder.Orientation(mem.readByte() & 1),
				Length:      uint16(mem.uvarint()), //nolint:gosec // checked below
			}
			numMM := mem.uvarint()
			for range numMM {
				delta := uint16(mem.uvarint()) //nolint:gosec // checked below
				base := mem.readByte()
				if mem.err != nil {
					break
				}
				m.Mismatches = append(m.Mismatches, consensus.Mismatch{Delta: delta, Base: base})
			}
			if mem.err != nil {
				return nil, mem.err
			}
			if err := checkMember(m, len(consensusSeq)); err != nil {
				return nil, err
			}
			if err := set(uint64(m.ReadID), consensus.Reconstruct(consensusSeq, m)); err != nil {
				return nil, err
			}
		}
	}

	packer, err := encoder.NewPacker(max(maxLen, 1), 3)
	if err != nil {
		return nil, err
	}
	un := &streamReader{b: raw[streamUnaligned]}
	count := un.uvarint()
	for range count {
		id := un.uvarint()
		l := int(un.uvarint()) //nolint:gosec // checked below
		if un.err == nil && l > packer.MaxLen() {
			return nil, fmt.Errorf("%w: unaligned read of %d bases", errTruncated, l)
		}
		words := un.next(8 * packedWords(l))
		if un.err != nil {
			return nil, un.err
		}
		v := packer.NewVec()
		for k := range packedWords(l) {
			v[k] = binary.LittleEndian.Uint64(words[8*k:])
		}
		if err := set(id, packer.AppendUnpack(make([]byte, 0, l), v, l)); err != nil {
			return nil, err
		}
	}
	if un.err != nil {
		return nil, un.err
	}

	for id, s := range seqs {
		if s == nil {
			return nil, fmt.Errorf("read %d missing from archive", id)
		}
	}
	return seqs, nil
}

func checkMember(m consensus.Member, consLen int) error {
	end := m.Offset + int64(m.Length)
	if m.Offset < 0 || end > int64(consLen) {
		return fmt.Errorf("%w: read %d spans [%d,%d) of a %d-base consensus", errTruncated, m.ReadID, m.Offset, end, consLen)
	}
	pos := 0
	for _, mm := range m.Mismatches {
		pos += int(mm.Delta) + 1
	}
	if pos > int(m.Length) {
		return fmt.Errorf("%w: mismatches of read %d run past its end", errTruncated, m.ReadID)
	}
	return nil
}
