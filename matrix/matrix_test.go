package matrix

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFlatRowMajor(t *testing.T) {
	m, err := FromFlat([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)

	grid := m.Grid()
	require.Len(t, grid, 2)
	assert.Equal(t, []float32{1, 2, 3}, grid[0])
	assert.Equal(t, []float32{4, 5, 6}, grid[1])

	for i := 0; i < m.Rows; i++ {
		for j := 0; j < m.Cols; j++ {
			assert.Equal(t, m.Data[i*m.Cols+j], grid[i][j])
		}
	}
}

func TestFromFlatWrongLength(t *testing.T) {
	_, err := FromFlat([]float32{1, 2, 3}, 2, 2)
	require.ErrorIs(t, err, ErrShape)

	_, err = FromFlat(nil, -1, 2)
	require.ErrorIs(t, err, ErrShape)
}

func TestFromFlatCopies(t *testing.T) {
	src := []float32{1, 2}
	m, err := FromFlat(src, 1, 2)
	require.NoError(t, err)

	src[0] = 42
	assert.Equal(t, float32(1), m.At(0, 0))
}

func TestRoundTrip(t *testing.T) {
	shapes := [][2]int{{0, 0}, {1, 1}, {1, 7}, {7, 1}, {3, 5}, {16, 9}}

	for _, s := range shapes {
		m := New(s[0], s[1])
		for i := range m.Data {
			m.Data[i] = float32(i)*0.5 - 3
		}

		back, err := FromFlat(m.Flat(), m.Rows, m.Cols)
		require.NoError(t, err)
		assert.True(t, m.Equal(back), "shape %s", m.Shape())

		fromGrid, err := FromGrid(m.Grid())
		require.NoError(t, err)
		if m.Rows > 0 {
			assert.True(t, m.Equal(fromGrid), "shape %s", m.Shape())
		}
	}
}

func TestFromGridRagged(t *testing.T) {
	_, err := FromGrid([][]float32{{1, 2}, {3}})
	require.ErrorIs(t, err, ErrShape)
}

func TestCheckMultiply(t *testing.T) {
	a := New(1, 2)
	b := New(3, 1)

	err := CheckMultiply(a, b)
	require.ErrorIs(t, err, ErrDimensionMismatch)

	var dimErr *DimensionError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, "1x2", dimErr.A)
	assert.Equal(t, "3x1", dimErr.B)
	assert.Contains(t, err.Error(), "1x2")
	assert.Contains(t, err.Error(), "3x1")

	assert.NoError(t, CheckMultiply(New(2, 3), New(3, 4)))
	assert.NoError(t, CheckMultiply(New(0, 0), New(0, 0)))
}

func TestCheckMultiplyMalformed(t *testing.T) {
	bad := Matrix{Rows: 2, Cols: 2, Data: []float32{1}}
	err := CheckMultiply(bad, New(2, 2))
	require.ErrorIs(t, err, ErrShape)
	assert.NotErrorIs(t, err, ErrDimensionMismatch)
}
