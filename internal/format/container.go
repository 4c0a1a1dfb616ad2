// Package format defines the SPR archive layout: a fixed file header followed
// by zstd-compressed streams, each preceded by a header carrying its sizes
// and an xxhash64 of the raw bytes.
package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// Magic bytes identifying an SPR archive.
var Magic = [4]byte{'S', 'P', 'R', 0x00}

// Format flags.
const (
	FlagPaired  uint8 = 1 << 0 // second half of the reads are mates of the first
	FlagPhred64 uint8 = 1 << 1 // quality scores are Phred+64 encoded
)

// CurrentVersion is the only version this package writes or reads.
const CurrentVersion uint8 = 1

const (
	fileHeaderSize   = 8
	streamHeaderSize = 24
	// maxStreamSize caps allocations driven by a corrupt header.
	maxStreamSize = 1 << 40
)

var (
	ErrBadMagic    = errors.New("invalid magic bytes: not an SPR archive")
	ErrVersion     = errors.New("unsupported archive version")
	ErrChecksum    = errors.New("stream checksum mismatch")
	ErrCorrupt     = errors.New("corrupt stream header")
	ErrStreamLimit = errors.New("stream larger than supported")
)

// FileHeader is written at the start of every archive.
type FileHeader struct {
	Version    uint8
	Flags      uint8
	MaxReadLen uint16
	NumReads   uint32
}

// Write serializes the file header.
func (h *FileHeader) Write(w io.Writer) error {
	buf := make([]byte, 0, len(Magic)+fileHeaderSize)
	buf = append(buf, Magic[:]...)
	buf = append(buf, h.Version, h.Flags)
	buf = binary.LittleEndian.AppendUint16(buf, h.MaxReadLen)
	buf = binary.LittleEndian.AppendUint32(buf, h.NumReads)
	_, err := w.Write(buf)
	return err
}

// ReadFileHeader reads and validates a file header.
func ReadFileHeader(r io.Reader) (*FileHeader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, ErrBadMagic
	}
	buf := make([]byte, fileHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	h := &FileHeader{
		Version:    buf[0],
		Flags:      buf[1],
		MaxReadLen: binary.LittleEndian.Uint16(buf[2:4]),
		NumReads:   binary.LittleEndian.Uint32(buf[4:8]),
	}
	if h.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	return h, nil
}

// StreamHeader precedes each compressed stream.
type StreamHeader struct {
	RawSize        uint64
	CompressedSize uint64
	Checksum       uint64 // xxhash64 of the raw bytes
}

func (s *StreamHeader) appendBinary(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, s.RawSize)
	buf = binary.LittleEndian.AppendUint64(buf, s.CompressedSize)
	return binary.LittleEndian.AppendUint64(buf, s.Checksum)
}

func readStreamHeader(r io.Reader) (*StreamHeader, error) {
	buf := make([]byte, streamHeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &StreamHeader{
		RawSize:        binary.LittleEndian.Uint64(buf[0:8]),
		CompressedSize: binary.LittleEndian.Uint64(buf[8:16]),
		Checksum:       binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}

// EncodeStream compresses raw with enc and returns it with its header, ready
// to be written. Safe for concurrent use with a shared encoder.
func EncodeStream(enc *zstd.Encoder, raw []byte) []byte {
	var compressed []byte
	if len(raw) > 0 {
		compressed = enc.EncodeAll(raw, nil)
	}
	h := StreamHeader{
		RawSize:        uint64(len(raw)),
		CompressedSize: uint64(len(compressed)),
		Checksum:       xxhash.Sum64(raw),
	}
	return append(h.appendBinary(make([]byte, 0, streamHeaderSize+len(compressed))), compressed...)
}

// WriteStream compresses raw with enc and writes it with its header.
func WriteStream(w io.Writer, enc *zstd.Encoder, raw []byte) error {
	_, err := w.Write(EncodeStream(enc, raw))
	return err
}

// ReadStream reads one stream written by WriteStream and verifies its
// checksum.
func ReadStream(r io.Reader, dec *zstd.Decoder) ([]byte, error) {
	h, err := readStreamHeader(r)
	if err != nil {
		return nil, err
	}
	if h.CompressedSize > maxStreamSize || h.RawSize > maxStreamSize {
		return nil, ErrStreamLimit
	}
	if h.CompressedSize == 0 {
		if h.RawSize != 0 || h.Checksum != xxhash.Sum64(nil) {
			return nil, ErrCorrupt
		}
		return []byte{}, nil
	}
	compressed := make([]byte, h.CompressedSize)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, fmt.Errorf("reading stream body: %w", err)
	}
	raw, err := dec.DecodeAll(compressed, make([]byte, 0, h.RawSize))
	if err != nil {
		return nil, fmt.Errorf("decompressing stream: %w", err)
	}
	if uint64(len(raw)) != h.RawSize {
		return nil, fmt.Errorf("%w: %d bytes, header says %d", ErrCorrupt, len(raw), h.RawSize)
	}
	if xxhash.Sum64(raw) != h.Checksum {
		return nil, ErrChecksum
	}
	return raw, nil
}
