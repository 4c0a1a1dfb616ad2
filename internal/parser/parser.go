// Package parser reads and writes FASTQ records for the command line tools.
package parser

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed is returned for input that is not four-line FASTQ.
var ErrMalformed = errors.New("invalid FASTQ")

// Record is a single FASTQ record.
type Record struct {
	Header   string // without the leading '@'
	Sequence []byte
	Quality  []byte
}

// Parser reads FASTQ records from an input stream.
type Parser struct {
	reader *bufio.Reader
	line   []byte
	lineNo int
}

// New creates a new FASTQ parser.
func New(r io.Reader) *Parser {
	return &Parser{
		reader: bufio.NewReaderSize(r, 1<<20),
		line:   make([]byte, 0, 512),
	}
}

// Next returns the next record, or io.EOF after the last one. Sequence and
// Quality are freshly allocated and safe to retain.
func (p *Parser) Next() (Record, error) {
	var rec Record
	line, err := p.readLine()
	if err != nil {
		return rec, err
	}
	if len(line) == 0 || line[0] != '@' {
		return rec, p.malformed("header line must start with @")
	}
	rec.Header = string(line[1:])

	if line, err = p.readRequired(); err != nil {
		return rec, err
	}
	rec.Sequence = bytes.Clone(line)

	if line, err = p.readRequired(); err != nil {
		return rec, err
	}
	if len(line) == 0 || line[0] != '+' {
		return rec, p.malformed("separator line must start with +")
	}

	if line, err = p.readRequired(); err != nil {
		return rec, err
	}
	rec.Quality = bytes.Clone(line)

	if len(rec.Sequence) != len(rec.Quality) {
		return rec, p.malformed("sequence and quality lengths differ")
	}
	return rec, nil
}

// ReadAll parses every record of r.
func ReadAll(r io.Reader) ([]Record, error) {
	p := New(r)
	var recs []Record
	for {
		rec, err := p.Next()
		if errors.Is(err, io.EOF) {
			return recs, nil
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
}

func (p *Parser) malformed(msg string) error {
	return fmt.Errorf("%w: line %d: %s", ErrMalformed, p.lineNo, msg)
}

// readRequired reads a line inside a record, where EOF means truncation.
func (p *Parser) readRequired() ([]byte, error) {
	line, err := p.readLine()
	if errors.Is(err, io.EOF) {
		return nil, p.malformed("truncated record")
	}
	return line, err
}

// readLine returns the next line without its line ending. The slice is
// reused by the following call.
func (p *Parser) readLine() ([]byte, error) {
	p.line = p.line[:0]
	for {
		segment, isPrefix, err := p.reader.ReadLine()
		if err != nil {
			return nil, err
		}
		p.line = append(p.line, segment...)
		if !isPrefix {
			break
		}
	}
	p.lineNo++
	p.line = bytes.TrimSuffix(p.line, []byte{'\r'})
	return p.line, nil
}

// Writer writes FASTQ records.
type Writer struct {
	w *bufio.Writer
}

// NewWriter returns a buffered FASTQ writer. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 1<<20)}
}

// Write writes one record with a bare '+' separator.
func (w *Writer) Write(rec Record) error {
	w.w.WriteByte('@')
	w.w.WriteString(rec.Header)
	w.w.WriteByte('\n')
	w.w.Write(rec.Sequence)
	w.w.WriteString("\n+\n")
	w.w.Write(rec.Quality)
	return w.w.WriteByte('\n')
}

// Flush writes any buffered data.
func (w *Writer) Flush() error { return w.w.Flush() }
