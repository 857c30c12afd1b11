// Package matrix holds the dense float32 matrices exchanged with the
// coordinator and handed to accelerator backends.
//
// Storage is row-major: element (i, j) lives at Data[i*Cols+j]. The flat form
// travels over the wire, the grid form is for callers that index by row.
package matrix

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch is matched by every DimensionError.
var ErrDimensionMismatch = errors.New("matrix: dimension mismatch")

// ErrShape reports flat data whose length disagrees with the declared shape.
var ErrShape = errors.New("matrix: invalid shape")

type Matrix struct {
	Rows int
	Cols int
	Data []float32
}

// New returns a zero-filled rows x cols matrix.
func New(rows, cols int) Matrix {
	if rows < 0 || cols < 0 {
		panic(fmt.Sprintf("matrix: negative shape %dx%d", rows, cols))
	}

	return Matrix{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

// FromFlat reshapes row-major data into a rows x cols matrix. The data is
// copied so the caller keeps ownership of its slice.
func FromFlat(data []float32, rows, cols int) (Matrix, error) {
	if rows < 0 || cols < 0 {
		return Matrix{}, fmt.Errorf("%w: negative shape %dx%d", ErrShape, rows, cols)
	}

	if len(data) != rows*cols {
		return Matrix{}, fmt.Errorf("%w: %d values for %dx%d", ErrShape, len(data), rows, cols)
	}

	m := New(rows, cols)
	copy(m.Data, data)

	return m, nil
}

// FromGrid flattens a rectangular grid.
func FromGrid(grid [][]float32) (Matrix, error) {
	rows := len(grid)
	if rows == 0 {
		return New(0, 0), nil
	}

	cols := len(grid[0])
	m := New(rows, cols)

	for i, row := range grid {
		if len(row) != cols {
			return Matrix{}, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(row), cols)
		}

		copy(m.Data[i*cols:(i+1)*cols], row)
	}

	return m, nil
}

// Grid returns a 2D view. Rows alias the matrix storage.
func (m Matrix) Grid() [][]float32 {
	grid := make([][]float32, m.Rows)
	for i := range grid {
		grid[i] = m.Data[i*m.Cols : (i+1)*m.Cols : (i+1)*m.Cols]
	}

	return grid
}

// Flat returns a copy of the row-major data.
func (m Matrix) Flat() []float32 {
	out := make([]float32, len(m.Data))
	copy(out, m.Data)

	return out
}

func (m Matrix) At(i, j int) float32 {
	return m.Data[i*m.Cols+j]
}

func (m Matrix) Set(i, j int, v float32) {
	m.Data[i*m.Cols+j] = v
}

// Len is the number of elements, Rows*Cols.
func (m Matrix) Len() int {
	return m.Rows * m.Cols
}

// Valid reports whether the storage matches the declared shape.
func (m Matrix) Valid() bool {
	return m.Rows >= 0 && m.Cols >= 0 && len(m.Data) == m.Rows*m.Cols
}

func (m Matrix) Shape() string {
	return fmt.Sprintf("%dx%d", m.Rows, m.Cols)
}

// Equal compares shape and every element exactly.
func (m Matrix) Equal(o Matrix) bool {
	if m.Rows != o.Rows || m.Cols != o.Cols || len(m.Data) != len(o.Data) {
		return false
	}

	for i := range m.Data {
		if m.Data[i] != o.Data[i] {
			return false
		}
	}

	return true
}
