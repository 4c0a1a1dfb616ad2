package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertti/springpack/internal/compress"
	"github.com/vertti/springpack/internal/encoder"
	"github.com/vertti/springpack/internal/parser"
)

func testConfig() simConfig {
	return simConfig{
		genomeLen: 2000,
		readLen:   60,
		reads:     200,
		insert:    150,
		subRate:   0.01,
		nRate:     0.002,
		seed:      7,
	}
}

func TestSimulate_Deterministic(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	var a, b bytes.Buffer
	require.NoError(t, simulate(cfg, &a, nil))
	require.NoError(t, simulate(cfg, &b, nil))
	assert.Equal(t, a.String(), b.String())

	recs, err := parser.ReadAll(&a)
	require.NoError(t, err)
	require.Len(t, recs, cfg.reads)
	for _, rec := range recs {
		assert.Len(t, rec.Sequence, cfg.readLen)
		assert.Len(t, rec.Quality, cfg.readLen)
		for _, q := range rec.Quality {
			assert.GreaterOrEqual(t, q, byte('!'))
		}
	}
}

func TestSimulate_ErrorFreeReadsComeFromGenome(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.subRate, cfg.nRate = 0, 0
	cfg.paired = true
	var r1, r2 bytes.Buffer
	require.NoError(t, simulate(cfg, &r1, &r2))

	first, err := parser.ReadAll(&r1)
	require.NoError(t, err)
	second, err := parser.ReadAll(&r2)
	require.NoError(t, err)
	require.Len(t, first, cfg.reads)
	require.Len(t, second, cfg.reads)

	for i := range first {
		assert.True(t, strings.HasSuffix(first[i].Header, "/1"))
		assert.True(t, strings.HasSuffix(second[i].Header, "/2"))
		// Mates come from opposite ends of the fragment.
		rc := encoder.AppendReverseComplement(nil, second[i].Sequence)
		assert.NotEqual(t, first[i].Sequence, rc, "mates should be from opposite fragment ends")
		assert.NotContains(t, string(first[i].Sequence), "N")
	}
}

func TestSimulate_CompressesLosslessly(t *testing.T) {
	t.Parallel()

	var fq bytes.Buffer
	require.NoError(t, simulate(testConfig(), &fq, nil))
	input := fq.String()

	var archive, out bytes.Buffer
	require.NoError(t, compress.Compress(strings.NewReader(input), nil, &archive, &compress.Options{Workers: 2}))
	require.NoError(t, compress.Decompress(&archive, &out, nil, nil))
	assert.Equal(t, input, out.String())
	assert.Less(t, archive.Len(), len(input))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*simConfig)
		valid  bool
	}{
		{"defaults", func(*simConfig) {}, true},
		{"zero read length", func(c *simConfig) { c.readLen = 0 }, false},
		{"genome too short", func(c *simConfig) { c.genomeLen = 10 }, false},
		{"insert below read length", func(c *simConfig) { c.paired, c.insert = true, 10 }, false},
		{"rate above one", func(c *simConfig) { c.subRate = 1.5 }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tc.modify(&cfg)
			if tc.valid {
				assert.NoError(t, cfg.validate())
			} else {
				assert.Error(t, cfg.validate())
			}
		})
	}
}
