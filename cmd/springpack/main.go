// springpack compresses FASTQ files by reordering reads into contigs and
// storing each read as a consensus position plus mismatches.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/vertti/springpack/internal/compress"
	"github.com/vertti/springpack/internal/params"
)

var version = "dev"

const (
	exitSuccess = 0
	exitError   = 1
)

type config struct {
	decompress  bool
	inputFile   string
	inputFile2  string
	outputFile  string
	outputFile2 string
	workers     int
	maxReadLen  int
	tempDir     string
	verbose     bool
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, done := parseFlags()
	if done {
		return exitSuccess
	}
	if err := execute(cfg, newLogger(cfg.verbose)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitError
	}
	return exitSuccess
}

func newLogger(verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetLevel(logrus.WarnLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func parseFlags() (config, bool) {
	var cfg config
	var showVersion, showHelp bool

	flag.BoolVar(&cfg.decompress, "d", false, "decompress mode")
	flag.StringVar(&cfg.inputFile, "i", "", "input file (default: stdin)")
	flag.StringVar(&cfg.inputFile2, "i2", "", "mate FASTQ for paired-end input")
	flag.StringVar(&cfg.outputFile, "o", "", "output file (default: stdout)")
	flag.StringVar(&cfg.outputFile2, "o2", "", "mate output when decompressing paired data (default: interleave into -o)")
	flag.IntVar(&cfg.workers, "w", 0, "workers (default: NumCPU)")
	flag.IntVar(&cfg.maxReadLen, "l", 0, "maximum read length (default: longest read)")
	flag.StringVar(&cfg.tempDir, "tmp", "", "spill intermediate reorder output to this directory")
	flag.BoolVar(&cfg.verbose, "v", false, "verbose logging to stderr")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.BoolVar(&showHelp, "h", false, "show help")

	flag.Usage = usage
	flag.Parse()

	if showHelp {
		flag.Usage()
		return cfg, true
	}
	if showVersion {
		fmt.Printf("springpack version %s\n", version)
		return cfg, true
	}

	args := flag.Args()
	if len(args) > 0 && cfg.inputFile == "" {
		cfg.inputFile = args[0]
	}
	if len(args) > 1 && cfg.outputFile == "" {
		cfg.outputFile = args[1]
	}
	return cfg, false
}

func usage() {
	fmt.Fprintf(os.Stderr, `springpack - reference-free FASTQ compression by read reordering

Usage:
  springpack [options] [-i in.fq] [-i2 mates.fq] [-o out.spr]   Compress FASTQ
  springpack -d [-i in.spr] [-o out.fq] [-o2 mates.fq]          Decompress

Options:
`)
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  springpack -i sample.fq -o sample.spr                       Compress file
  springpack -i r1.fq.gz -i2 r2.fq.gz -o pair.spr             Compress paired gzip input
  springpack -d -i pair.spr -o r1.fq -o2 r2.fq                Decompress pairs
  springpack -l 250 -tmp /scratch -v -i big.fq -o big.spr     Long reads, disk spill
`)
}

func execute(cfg config, log logrus.FieldLogger) error {
	input, closeIn, err := openInput(cfg.inputFile, cfg.decompress)
	if err != nil {
		return err
	}
	defer closeIn()

	var input2 io.Reader
	if cfg.inputFile2 != "" {
		if cfg.decompress {
			return errors.New("-i2 is only valid when compressing")
		}
		r, closeIn2, err := openInput(cfg.inputFile2, false)
		if err != nil {
			return err
		}
		defer closeIn2()
		input2 = r
	}

	output, closeOut, err := openOutput(cfg.outputFile)
	if err != nil {
		return err
	}

	if cfg.decompress {
		var output2 io.Writer
		closeOut2 := func() error { return nil }
		if cfg.outputFile2 != "" {
			if output2, closeOut2, err = openOutput(cfg.outputFile2); err != nil {
				_ = closeOut()
				return err
			}
		}
		err = compress.Decompress(input, output, output2, &compress.DecompressOptions{Workers: cfg.workers})
		return errors.Join(err, closeOut(), closeOut2())
	}

	opts := &compress.Options{
		Workers: cfg.workers,
		TempDir: cfg.tempDir,
		Logger:  log,
	}
	if cfg.maxReadLen > 0 {
		opts.Params = params.Default(cfg.maxReadLen)
	}
	err = compress.Compress(input, input2, output, opts)
	return errors.Join(err, closeOut())
}

func openInput(path string, decompress bool) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		if decompress {
			return os.Stdin, func() {}, nil
		}
		return wrapInputMaybeGzip(path, os.Stdin, func() {})
	}

	f, err := os.Open(path) //nolint:gosec // CLI tool needs to open user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open input: %w", err)
	}
	cleanup := func() { _ = f.Close() }
	if decompress {
		return bufio.NewReaderSize(f, 1<<20), cleanup, nil
	}
	return wrapInputMaybeGzip(path, f, cleanup)
}

func wrapInputMaybeGzip(path string, in io.Reader, closeInput func()) (io.Reader, func(), error) {
	br := bufio.NewReaderSize(in, 1<<20)
	hasGzipMagic, err := inputHasGzipMagic(br)
	if err != nil {
		closeInput()
		return nil, nil, fmt.Errorf("cannot inspect input: %w", err)
	}

	if strings.HasSuffix(strings.ToLower(path), ".gz") || hasGzipMagic {
		gz, err := gzip.NewReader(br)
		if err != nil {
			closeInput()
			return nil, nil, fmt.Errorf("cannot open gzip input: %w", err)
		}
		return gz, func() {
			_ = gz.Close()
			closeInput()
		}, nil
	}
	return br, closeInput, nil
}

func inputHasGzipMagic(br *bufio.Reader) (bool, error) {
	header, err := br.Peek(2)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return len(header) == 2 && header[0] == 0x1f && header[1] == 0x8b, nil
}

// openOutput returns a buffered writer and a function that flushes and closes it.
func openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		bw := bufio.NewWriterSize(os.Stdout, 1<<20)
		return bw, bw.Flush, nil
	}

	f, err := os.Create(path) //nolint:gosec // CLI tool needs to create user-specified files
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create output: %w", err)
	}
	bw := bufio.NewWriterSize(f, 1<<20)
	return bw, func() error {
		return errors.Join(bw.Flush(), f.Close())
	}, nil
}
