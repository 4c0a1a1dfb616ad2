package reorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vertti/springpack/internal/spill"
)

// Orientation of a read relative to its contig.
type Orientation uint8

const (
	Forward Orientation = iota
	Reverse
)

// Flip returns the opposite orientation.
func (o Orientation) Flip() Orientation { return o ^ 1 }

func (o Orientation) String() string {
	if o == Reverse {
		return "r"
	}
	return "d"
}

// Record flags.
const (
	flagReverse   uint8 = 1 << 0
	flagNewContig uint8 = 1 << 1
)

// RecordSize is the encoded size of a Record.
const RecordSize = 15

// Record places one read inside a contig.
type Record struct {
	Order       uint32 // original index of the read
	Orientation Orientation
	NewContig   bool  // first record of a contig
	Length      uint16
	Offset      int64 // relative to the contig's first read, may be negative
}

// AppendBinary appends the little-endian encoding of r to dst.
func (r Record) AppendBinary(dst []byte) []byte {
	var flags uint8
	if r.Orientation == Reverse {
		flags |= flagReverse
	}
	if r.NewContig {
		flags |= flagNewContig
	}
	dst = binary.LittleEndian.AppendUint32(dst, r.Order)
	dst = append(dst, flags)
	dst = binary.LittleEndian.AppendUint16(dst, r.Length)
	return binary.LittleEndian.AppendUint64(dst, uint64(r.Offset))
}

// DecodeRecord decodes a record from the first RecordSize bytes of b.
func DecodeRecord(b []byte) Record {
	flags := b[4]
	r := Record{
		Order:     binary.LittleEndian.Uint32(b[0:4]),
		NewContig: flags&flagNewContig != 0,
		Length:    binary.LittleEndian.Uint16(b[5:7]),
		Offset:    int64(binary.LittleEndian.Uint64(b[7:15])), //nolint:gosec // round-trips AppendBinary
	}
	if flags&flagReverse != 0 {
		r.Orientation = Reverse
	}
	return r
}

func recordStream(worker int) string    { return fmt.Sprintf("reorder-%d.rec", worker) }
func singletonStream(worker int) string { return fmt.Sprintf("singleton-%d.ids", worker) }

// ReadRecords streams the reorder output of every worker, worker by worker,
// to fn. Each worker's stream starts with a NewContig record.
func ReadRecords(store spill.Store, workers int, fn func(Record) error) error {
	for w := range workers {
		if err := readStream(store, recordStream(w), RecordSize, func(b []byte) error {
			return fn(DecodeRecord(b))
		}); err != nil {
			return err
		}
	}
	return nil
}

// ReadSingletons returns the original IDs of reads that formed no contig.
func ReadSingletons(store spill.Store, workers int) ([]uint32, error) {
	var ids []uint32
	for w := range workers {
		if err := readStream(store, singletonStream(w), 4, func(b []byte) error {
			ids = append(ids, binary.LittleEndian.Uint32(b))
			return nil
		}); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func readStream(store spill.Store, name string, size int, fn func([]byte) error) error {
	rc, err := store.Open(name)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	br := bufio.NewReaderSize(rc, 1<<16)
	buf := make([]byte, size)
	for {
		if _, err := io.ReadFull(br, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading %s: %w", name, err)
		}
		if err := fn(buf); err != nil {
			return err
		}
	}
}
