// Package spill provides named byte streams used to hand intermediate
// per-worker output from one phase to the next without holding it all in
// memory.
package spill

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var ErrNotFound = errors.New("spill stream not found")

// Store creates and reopens named streams. A stream is written once, closed,
// then read back any number of times.
type Store interface {
	Create(name string) (io.WriteCloser, error)
	Open(name string) (io.ReadCloser, error)
	Close() error
}

// Memory keeps streams in RAM.
type Memory struct {
	mu      sync.Mutex
	streams map[string]*bytes.Buffer
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{streams: make(map[string]*bytes.Buffer)}
}

type memWriter struct {
	bytes.Buffer
	store *Memory
	name  string
}

func (w *memWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.streams[w.name] = &w.Buffer
	return nil
}

// Create starts a new stream, replacing any stream of the same name on Close.
func (m *Memory) Create(name string) (io.WriteCloser, error) {
	return &memWriter{store: m, name: name}, nil
}

// Open returns a reader over a closed stream.
func (m *Memory) Open(name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.streams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

// Close drops all streams.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.streams)
	return nil
}

// Dir writes each stream as a zstd-compressed file in a private temp
// directory that Close removes.
type Dir struct {
	path string
}

// NewDir creates a temp directory under parent (os.TempDir when empty).
func NewDir(parent string) (*Dir, error) {
	path, err := os.MkdirTemp(parent, "springpack-")
	if err != nil {
		return nil, fmt.Errorf("creating spill directory: %w", err)
	}
	return &Dir{path: path}, nil
}

// Path returns the directory holding the streams.
func (d *Dir) Path() string { return d.path }

type fileWriter struct {
	f  *os.File
	bw *bufio.Writer
	zw *zstd.Encoder
}

func (w *fileWriter) Write(p []byte) (int, error) { return w.zw.Write(p) }

func (w *fileWriter) Close() error {
	err := w.zw.Close()
	if ferr := w.bw.Flush(); err == nil {
		err = ferr
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Create opens a new compressed stream file.
func (d *Dir) Create(name string) (io.WriteCloser, error) {
	f, err := os.Create(filepath.Join(d.path, name)) //nolint:gosec // name is chosen by the engine
	if err != nil {
		return nil, fmt.Errorf("creating spill stream %s: %w", name, err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	zw, err := zstd.NewWriter(bw,
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderCRC(false))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return &fileWriter{f: f, bw: bw, zw: zw}, nil
}

type fileReader struct {
	f  *os.File
	zr *zstd.Decoder
}

func (r *fileReader) Read(p []byte) (int, error) { return r.zr.Read(p) }

func (r *fileReader) Close() error {
	r.zr.Close()
	return r.f.Close()
}

// Open reopens a closed stream file.
func (d *Dir) Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(d.path, name)) //nolint:gosec // name is chosen by the engine
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("opening spill stream %s: %w", name, err)
	}
	zr, err := zstd.NewReader(bufio.NewReaderSize(f, 1<<20), zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &fileReader{f: f, zr: zr}, nil
}

// Close removes the directory and every stream in it.
func (d *Dir) Close() error {
	return os.RemoveAll(d.path)
}
