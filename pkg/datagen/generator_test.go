package datagen

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/cardbench/pkg/domain"
)

func TestCovariance(t *testing.T) {
	sigma, err := Covariance(3, 2, 0.5)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == j {
				assert.InDelta(t, 4.0, sigma.At(i, j), 1e-12)
			} else {
				assert.InDelta(t, 2.0, sigma.At(i, j), 1e-12)
			}
		}
	}
}

func TestCovarianceInvalid(t *testing.T) {
	tests := []struct {
		name   string
		dims   int
		stddev float64
		rho    float64
	}{
		{"zero dims", 0, 1, 0.5},
		{"zero stddev", 2, 0, 0.5},
		{"negative stddev", 2, -1, 0.5},
		{"rho above one", 2, 1, 1.01},
		{"rho below minus one", 2, 1, -1.5},
		{"rho NaN", 2, 1, math.NaN()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Covariance(tt.dims, tt.stddev, tt.rho)
			require.Error(t, err)
			assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidParameters))
		})
	}
}

func TestFactorReconstructsCovariance(t *testing.T) {
	sigma, err := Covariance(4, 340, 0.9)
	require.NoError(t, err)
	a, err := factor(sigma)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for k := 0; k < 4; k++ {
				sum += a.At(i, k) * a.At(j, k)
			}
			assert.InDelta(t, sigma.At(i, j), sum, 1e-6)
		}
	}
}

func TestGenerateCorrelation(t *testing.T) {
	if testing.Short() {
		t.Skip("large sample")
	}
	ds, err := Generate(context.Background(), Params{
		Dims:        2,
		Rows:        500000,
		StdDev:      340,
		Correlation: 0.9,
		Quantize:    QuantizeTruncate,
		Seed:        42,
	})
	require.NoError(t, err)
	require.Equal(t, 500000, ds.Len())

	assert.InDelta(t, 0.9, ds.SampleCorrelation(0, 1), 0.02)
}

func TestGenerateTiers(t *testing.T) {
	for _, rho := range []float64{0.1, 0.5} {
		ds, err := Generate(context.Background(), Params{
			Dims: 3, Rows: 100000, StdDev: 340, Correlation: rho, Seed: 7,
		})
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			for j := i + 1; j < 3; j++ {
				assert.InDelta(t, rho, ds.SampleCorrelation(i, j), 0.02, "pair (%d,%d)", i, j)
			}
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	p := Params{Dims: 3, Rows: 1000, StdDev: 10, Correlation: 0.5, Seed: 99}
	a, err := Generate(context.Background(), p)
	require.NoError(t, err)
	b, err := Generate(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, a.Values, b.Values)

	p.Seed = 100
	c, err := Generate(context.Background(), p)
	require.NoError(t, err)
	assert.NotEqual(t, a.Values, c.Values)
}

func TestGeneratePerfectCorrelation(t *testing.T) {
	ds, err := Generate(context.Background(), Params{
		Dims: 3, Rows: 2000, StdDev: 340, Correlation: 1, Quantize: QuantizeRound, Seed: 3,
	})
	require.NoError(t, err)
	for i := 0; i < ds.Len(); i++ {
		row := ds.Row(i)
		assert.InDelta(t, row[0], row[1], 1)
		assert.InDelta(t, row[0], row[2], 1)
	}
}

func TestGenerateNegativeCorrelation(t *testing.T) {
	ds, err := Generate(context.Background(), Params{
		Dims: 2, Rows: 2000, StdDev: 340, Correlation: -1, Quantize: QuantizeRound, Seed: 3,
	})
	require.NoError(t, err)
	for i := 0; i < ds.Len(); i++ {
		row := ds.Row(i)
		assert.InDelta(t, -row[0], row[1], 1)
	}

	_, err = Generate(context.Background(), Params{
		Dims: 3, Rows: 10, StdDev: 340, Correlation: -1, Seed: 3,
	})
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidParameters))
}

func TestGenerateMean(t *testing.T) {
	ds, err := Generate(context.Background(), Params{
		Dims: 2, Rows: 20000, StdDev: 1, Correlation: 0, Mean: []float64{500, -500}, Quantize: QuantizeRound, Seed: 5,
	})
	require.NoError(t, err)

	var sum0, sum1 float64
	for i := 0; i < ds.Len(); i++ {
		sum0 += float64(ds.Row(i)[0])
		sum1 += float64(ds.Row(i)[1])
	}
	assert.InDelta(t, 500, sum0/float64(ds.Len()), 0.1)
	assert.InDelta(t, -500, sum1/float64(ds.Len()), 0.1)
}

func TestGenerateInvalidParams(t *testing.T) {
	base := Params{Dims: 2, Rows: 10, StdDev: 1, Correlation: 0.5}
	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"zero dims", func(p *Params) { p.Dims = 0 }},
		{"zero rows", func(p *Params) { p.Rows = 0 }},
		{"zero stddev", func(p *Params) { p.StdDev = 0 }},
		{"correlation out of range", func(p *Params) { p.Correlation = 2 }},
		{"mean length", func(p *Params) { p.Mean = []float64{1, 2, 3} }},
		{"quantize", func(p *Params) { p.Quantize = "ceil" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			_, err := Generate(context.Background(), p)
			require.Error(t, err)
			assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidParameters))
		})
	}
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Generate(ctx, Params{Dims: 2, Rows: 10, StdDev: 1, Correlation: 0})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQuantizeModes(t *testing.T) {
	tests := []struct {
		mode QuantizeMode
		in   float64
		want int64
	}{
		{QuantizeTruncate, 2.7, 2},
		{QuantizeTruncate, -2.7, -2},
		{QuantizeFloor, 2.7, 2},
		{QuantizeFloor, -2.2, -3},
		{QuantizeRound, 2.5, 3},
		{QuantizeRound, -2.5, -3},
		{QuantizeRound, -2.4, -2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.mode.Apply(tt.in), "%s(%v)", tt.mode, tt.in)
	}

	mode, err := ParseQuantizeMode("")
	require.NoError(t, err)
	assert.Equal(t, QuantizeTruncate, mode)
}

func TestSeedFor(t *testing.T) {
	assert.Equal(t, SeedFor(1, "low2"), SeedFor(1, "low2"))
	assert.NotEqual(t, SeedFor(1, "low2"), SeedFor(1, "low3"))
	assert.NotEqual(t, SeedFor(1, "low2"), SeedFor(2, "low2"))
}
