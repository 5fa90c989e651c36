package storage

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrTooLarge is returned when a matrix shape cannot be allocated.
var ErrTooLarge = errors.New("matrix too large")

// MaxElements caps a single matrix allocation (64 GiB of float32).
const MaxElements = 1 << 34

// Matrix is a dense row-major float32 matrix.
type Matrix struct {
	data []float32 // rows*cols elements
	rows int       // Number of rows
	cols int       // Number of columns
}

// MatrixStats describes the shape and footprint of a matrix
type MatrixStats struct {
	Rows  int // Number of rows
	Cols  int // Number of columns
	Bytes int // Size of the backing buffer in bytes
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) (*Matrix, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("%w: shape %dx%d", ErrTooLarge, rows, cols)
	}
	if cols != 0 && rows > MaxElements/cols {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d elements", ErrTooLarge, rows, cols, MaxElements)
	}
	return &Matrix{
		data: make([]float32, rows*cols),
		rows: rows,
		cols: cols,
	}, nil
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// Row returns row i as a view into the backing buffer.
// Writes through the view modify the matrix.
func (m *Matrix) Row(i int) []float32 {
	return m.data[i*m.cols : (i+1)*m.cols : (i+1)*m.cols]
}

// AddRow accumulates delta into row i.
func (m *Matrix) AddRow(i int, delta []float32) {
	row := m.Row(i)
	for j := range row {
		row[j] += delta[j]
	}
}

// FlushRow adds row i of scratch into row i of m and zeroes the scratch row.
func (m *Matrix) FlushRow(i int, scratch *Matrix) {
	row, acc := m.Row(i), scratch.Row(i)
	for j := range row {
		row[j] += acc[j]
		acc[j] = 0
	}
}

// Fill overwrites every element with a uniform sample from [min, max).
func (m *Matrix) Fill(rng *rand.Rand, min, max float32) {
	span := max - min
	for i := range m.data {
		m.data[i] = min + span*rng.Float32()
	}
}

// Stats returns the matrix shape and footprint.
func (m *Matrix) Stats() MatrixStats {
	return MatrixStats{
		Rows:  m.rows,
		Cols:  m.cols,
		Bytes: len(m.data) * 4,
	}
}
