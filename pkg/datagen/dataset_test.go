package datagen

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuganosora/cardbench/pkg/domain"
)

func TestDatasetWriteFormat(t *testing.T) {
	ds := &Dataset{Dims: 2, Values: []int64{1, -2, 300, 4}}

	var buf bytes.Buffer
	n, err := ds.WriteTo(&buf, ',')
	require.NoError(t, err)
	assert.Equal(t, "1,-2\n300,4\n", buf.String())
	assert.Equal(t, int64(buf.Len()), n)

	buf.Reset()
	_, err = ds.WriteTo(&buf, '|')
	require.NoError(t, err)
	assert.Equal(t, "1|-2\n300|4\n", buf.String())
}

func TestDatasetRoundTrip(t *testing.T) {
	ds, err := Generate(context.Background(), Params{
		Dims: 3, Rows: 5000, StdDev: 340, Correlation: 0.5, Seed: 11,
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sub", "med3.csv")
	require.NoError(t, ds.WriteFile(path, '\t'))

	back, err := ReadFile(path, 3, '\t')
	require.NoError(t, err)
	assert.Equal(t, ds.Dims, back.Dims)
	assert.Equal(t, ds.Values, back.Values)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		dims  int
	}{
		{"wrong field count", "1,2\n3\n", 2},
		{"not an integer", "1,x\n", 2},
		{"float", "1,2.5\n", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input), tt.dims, ',')
			require.Error(t, err)
			assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidParameters))
		})
	}
}

func TestInvalidDelimiter(t *testing.T) {
	ds := &Dataset{Dims: 1, Values: []int64{1}}
	for _, delim := range []rune{'-', '5', '\n', '"'} {
		_, err := ds.WriteTo(&bytes.Buffer{}, delim)
		assert.Error(t, err, "delimiter %q", delim)
	}
}

func TestCountInBox(t *testing.T) {
	ds := &Dataset{Dims: 2, Values: []int64{
		0, 0,
		5, 5,
		10, 0,
		-4, 4,
		-5, 0,
	}}
	// open interval (-5, 5) on both axes
	assert.Equal(t, int64(2), ds.CountInBox([]int64{0, 0}, 5))
	assert.Equal(t, int64(0), ds.CountInBox([]int64{100, 100}, 5))
	assert.Equal(t, []int64{0, 5, 10, -4, -5}, ds.Column(0))
}
