// readsim samples FASTQ reads from a random genome for benchmarking.
//
// Reads come from either strand and carry configurable substitution and N
// rates, so the output has the overlap structure real shotgun data has
// without containing any real sequence.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"

	"github.com/vertti/springpack/internal/encoder"
	"github.com/vertti/springpack/internal/parser"
)

type simConfig struct {
	genomeLen int
	readLen   int
	reads     int
	paired    bool
	insert    int
	subRate   float64
	nRate     float64
	seed      uint64
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg simConfig
	outputFile := flag.String("o", "", "output FASTQ file (default: stdout)")
	outputFile2 := flag.String("o2", "", "mate FASTQ file; enables paired output")
	flag.IntVar(&cfg.genomeLen, "g", 100000, "genome length")
	flag.IntVar(&cfg.readLen, "l", 150, "read length")
	flag.IntVar(&cfg.reads, "n", 10000, "number of reads (pairs when -o2 is set)")
	flag.IntVar(&cfg.insert, "insert", 400, "fragment length for paired reads")
	flag.Float64Var(&cfg.subRate, "sub", 0.005, "per-base substitution rate")
	flag.Float64Var(&cfg.nRate, "nrate", 0.001, "per-base N rate")
	flag.Uint64Var(&cfg.seed, "seed", 42, "random seed for reproducibility")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `readsim - Simulate shotgun FASTQ reads

Usage:
  readsim -g 1000000 -l 150 -n 50000 -o reads.fq
  readsim -n 20000 -o r1.fq -o2 r2.fq

Options:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg.paired = *outputFile2 != ""
	if err := cfg.validate(); err != nil {
		return err
	}

	w1, close1, err := openOutput(*outputFile)
	if err != nil {
		return err
	}
	var w2 io.Writer
	close2 := func() error { return nil }
	if cfg.paired {
		if w2, close2, err = openOutput(*outputFile2); err != nil {
			_ = close1()
			return err
		}
	}

	err = simulate(cfg, w1, w2)
	return errors.Join(err, close1(), close2())
}

func (c simConfig) validate() error {
	switch {
	case c.readLen <= 0 || c.reads < 0:
		return errors.New("read length must be positive and read count non-negative")
	case c.genomeLen < c.readLen:
		return fmt.Errorf("genome length %d shorter than read length %d", c.genomeLen, c.readLen)
	case c.paired && (c.insert < c.readLen || c.insert > c.genomeLen):
		return fmt.Errorf("insert size %d must be between read length and genome length", c.insert)
	case c.subRate < 0 || c.subRate > 1 || c.nRate < 0 || c.nRate > 1:
		return errors.New("rates must be within [0, 1]")
	}
	return nil
}

func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path) //nolint:gosec // CLI tool needs to create user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create output: %w", err)
	}
	return f, f.Close, nil
}

// simulate writes cfg.reads records to w1, and their mates to w2 when paired.
func simulate(cfg simConfig, w1, w2 io.Writer) error {
	//nolint:gosec // intentionally using math/rand for reproducibility, not security
	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15))

	genome := make([]byte, cfg.genomeLen)
	for i := range genome {
		genome[i] = "ACGT"[rng.IntN(4)]
	}

	out1 := parser.NewWriter(w1)
	var out2 *parser.Writer
	if w2 != nil {
		out2 = parser.NewWriter(w2)
	}

	span := cfg.readLen
	if cfg.paired {
		span = cfg.insert
	}
	for i := range cfg.reads {
		pos := rng.IntN(cfg.genomeLen - span + 1)
		fragment := genome[pos : pos+span]
		forward := rng.IntN(2) == 0

		first := fragment[:cfg.readLen]
		if !forward {
			first = encoder.AppendReverseComplement(nil, fragment[span-cfg.readLen:])
		}
		if err := out1.Write(mutate(rng, cfg, first, fmt.Sprintf("sim_%d pos=%d/1", i, pos))); err != nil {
			return err
		}
		if out2 == nil {
			continue
		}
		second := encoder.AppendReverseComplement(nil, fragment[span-cfg.readLen:])
		if !forward {
			second = fragment[:cfg.readLen]
		}
		if err := out2.Write(mutate(rng, cfg, second, fmt.Sprintf("sim_%d pos=%d/2", i, pos))); err != nil {
			return err
		}
	}

	if out2 != nil {
		if err := out2.Flush(); err != nil {
			return err
		}
	}
	return out1.Flush()
}

// mutate copies seq, applies sequencing errors, and attaches qualities that
// drop where errors were introduced.
func mutate(rng *rand.Rand, cfg simConfig, seq []byte, header string) parser.Record {
	read := make([]byte, len(seq))
	qual := make([]byte, len(seq))
	for i, b := range seq {
		q := byte(30 + rng.IntN(12))
		switch r := rng.Float64(); {
		case r < cfg.nRate:
			b, q = 'N', 2
		case r < cfg.nRate+cfg.subRate:
			b = "ACGT"[(baseIndex(b)+1+rng.IntN(3))%4]
			q = byte(5 + rng.IntN(10))
		}
		read[i] = b
		qual[i] = '!' + q
	}
	return parser.Record{Header: header, Sequence: read, Quality: qual}
}

func baseIndex(b byte) int {
	switch b {
	case 'C':
		return 1
	case 'G':
		return 2
	case 'T':
		return 3
	}
	return 0
}
