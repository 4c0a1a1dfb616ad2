// Package params holds the tuning constants shared by the reorder engine and
// the consensus encoder.
package params

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/vertti/springpack/internal/encoder"
)

// KeyRange is an inclusive window of base positions used as a dictionary key.
type KeyRange struct {
	Start int
	End   int
}

// Len returns the number of bases in the range.
func (r KeyRange) Len() int { return r.End - r.Start + 1 }

// Default tuning constants.
const (
	DefaultHammingThreshold        = 4
	DefaultEncoderHammingThreshold = 24
	DefaultMaxCandidates           = 1000
	DefaultEarlyStopRatio          = 0.5
	DefaultEarlyStopWindow         = 1000000
	DefaultNumLocks                = 1 << 16
)

var ErrInvalid = errors.New("invalid parameters")

// Params configures both engines. The engines never substitute defaults for
// zero fields; callers start from Default and override.
type Params struct {
	MaxReadLen int

	// Reorder engine (2 bits per base).
	KeyRanges        [2]KeyRange
	HammingThreshold int
	MaxCandidates    int
	MaxShift         int
	EarlyStopRatio   float64
	EarlyStopWindow  int

	// Singleton/N realignment (3 bits per base).
	EncoderKeyRanges        [2]KeyRange
	EncoderHammingThreshold int
	EncoderMaxCandidates    int

	Threads  int
	NumLocks int
}

// Default returns the standard constants for reads up to maxReadLen bases.
func Default(maxReadLen int) Params {
	ranges := keyRanges(maxReadLen)
	return Params{
		MaxReadLen:              maxReadLen,
		KeyRanges:               ranges,
		HammingThreshold:        DefaultHammingThreshold,
		MaxCandidates:           DefaultMaxCandidates,
		MaxShift:                max(1, maxReadLen/2),
		EarlyStopRatio:          DefaultEarlyStopRatio,
		EarlyStopWindow:         DefaultEarlyStopWindow,
		EncoderKeyRanges:        ranges,
		EncoderHammingThreshold: DefaultEncoderHammingThreshold,
		EncoderMaxCandidates:    DefaultMaxCandidates,
		Threads:                 runtime.NumCPU(),
		NumLocks:                DefaultNumLocks,
	}
}

// keyRanges places two adjacent 21-base windows at the read start, scaled
// down proportionally for reads of 50 bases or fewer.
func keyRanges(l int) [2]KeyRange {
	if l > 50 {
		return [2]KeyRange{{0, 20}, {21, 41}}
	}
	return [2]KeyRange{{0, 20 * l / 50}, {20*l/50 + 1, 41 * l / 50}}
}

// Validate reports the first inconsistent field.
func (p Params) Validate() error {
	if p.MaxReadLen <= 0 || p.MaxReadLen > encoder.MaxReadLength {
		return fmt.Errorf("%w: max read length %d out of range [1,%d]", ErrInvalid, p.MaxReadLen, encoder.MaxReadLength)
	}
	if err := validateRanges("key range", p.KeyRanges, 2, p.MaxReadLen); err != nil {
		return err
	}
	if err := validateRanges("encoder key range", p.EncoderKeyRanges, 3, p.MaxReadLen); err != nil {
		return err
	}
	switch {
	case p.HammingThreshold < 0:
		return fmt.Errorf("%w: negative hamming threshold", ErrInvalid)
	case p.EncoderHammingThreshold < 0:
		return fmt.Errorf("%w: negative encoder hamming threshold", ErrInvalid)
	case p.MaxCandidates <= 0 || p.EncoderMaxCandidates <= 0:
		return fmt.Errorf("%w: max candidates must be positive", ErrInvalid)
	case p.MaxShift <= 0 || p.MaxShift >= p.MaxReadLen && p.MaxReadLen > 1:
		return fmt.Errorf("%w: max shift %d out of range", ErrInvalid, p.MaxShift)
	case p.EarlyStopRatio <= 0 || p.EarlyStopRatio > 1:
		return fmt.Errorf("%w: early stop ratio %v not in (0,1]", ErrInvalid, p.EarlyStopRatio)
	case p.EarlyStopWindow <= 0:
		return fmt.Errorf("%w: early stop window must be positive", ErrInvalid)
	case p.Threads <= 0:
		return fmt.Errorf("%w: thread count must be positive", ErrInvalid)
	case p.NumLocks <= 0 || p.NumLocks&(p.NumLocks-1) != 0:
		return fmt.Errorf("%w: lock count %d is not a power of two", ErrInvalid, p.NumLocks)
	}
	return nil
}

func validateRanges(name string, ranges [2]KeyRange, bitsPerBase, maxLen int) error {
	for i, r := range ranges {
		if r.Start < 0 || r.End < r.Start || r.End >= maxLen {
			return fmt.Errorf("%w: %s %d [%d,%d] outside read length %d", ErrInvalid, name, i, r.Start, r.End, maxLen)
		}
		if r.Len()*bitsPerBase > 64 {
			return fmt.Errorf("%w: %s %d spans %d bases, key exceeds 64 bits", ErrInvalid, name, i, r.Len())
		}
	}
	if ranges[0].End >= ranges[1].Start && ranges[1].End >= ranges[0].Start {
		return fmt.Errorf("%w: %s windows overlap", ErrInvalid, name)
	}
	return nil
}
