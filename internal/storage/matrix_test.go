package storage

import (
	"errors"
	"math/rand"
	"testing"
)

// TestNewMatrix tests matrix allocation
func TestNewMatrix(t *testing.T) {
	tests := []struct {
		name       string
		rows, cols int
		wantErr    bool
	}{
		{name: "small matrix", rows: 4, cols: 3},
		{name: "empty matrix", rows: 0, cols: 8},
		{name: "negative rows", rows: -1, cols: 2, wantErr: true},
		{name: "exceeds limit", rows: MaxElements, cols: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMatrix(tt.rows, tt.cols)
			if tt.wantErr {
				if !errors.Is(err, ErrTooLarge) {
					t.Fatalf("Expected ErrTooLarge, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Failed to allocate matrix: %v", err)
			}
			if m.Rows() != tt.rows || m.Cols() != tt.cols {
				t.Errorf("Expected %dx%d, got %dx%d", tt.rows, tt.cols, m.Rows(), m.Cols())
			}
			if got := m.Stats().Bytes; got != tt.rows*tt.cols*4 {
				t.Errorf("Expected %d bytes, got %d", tt.rows*tt.cols*4, got)
			}
		})
	}
}

// TestMatrixRowOperations tests row views, accumulation and flushing
func TestMatrixRowOperations(t *testing.T) {
	t.Run("row view writes through", func(t *testing.T) {
		m, _ := NewMatrix(3, 2)
		m.Row(1)[0] = 5
		if m.data[2] != 5 {
			t.Errorf("Expected write through row view, got %v", m.data)
		}
	})

	t.Run("row views do not overlap", func(t *testing.T) {
		m, _ := NewMatrix(2, 2)
		row := m.Row(0)
		row = append(row, 9)
		if m.Row(1)[0] != 0 {
			t.Errorf("Append to row 0 clobbered row 1: %v", m.data)
		}
		_ = row
	})

	t.Run("add row accumulates", func(t *testing.T) {
		m, _ := NewMatrix(2, 3)
		m.AddRow(1, []float32{1, 2, 3})
		m.AddRow(1, []float32{1, 1, 1})
		want := []float32{2, 3, 4}
		for j, v := range m.Row(1) {
			if v != want[j] {
				t.Errorf("Column %d: expected %v, got %v", j, want[j], v)
			}
		}
	})

	t.Run("flush row moves scratch", func(t *testing.T) {
		m, _ := NewMatrix(1, 2)
		scratch, _ := NewMatrix(1, 2)
		m.AddRow(0, []float32{1, 1})
		scratch.AddRow(0, []float32{0.5, -2})
		m.FlushRow(0, scratch)
		if m.Row(0)[0] != 1.5 || m.Row(0)[1] != -1 {
			t.Errorf("Unexpected flushed row %v", m.Row(0))
		}
		if scratch.Row(0)[0] != 0 || scratch.Row(0)[1] != 0 {
			t.Errorf("Scratch not zeroed: %v", scratch.Row(0))
		}
	})
}

// TestMatrixFill tests deterministic initialization
func TestMatrixFill(t *testing.T) {
	a, _ := NewMatrix(10, 10)
	b, _ := NewMatrix(10, 10)
	a.Fill(rand.New(rand.NewSource(997)), -0.5, 0.5)
	b.Fill(rand.New(rand.NewSource(997)), -0.5, 0.5)

	for i := range a.data {
		if a.data[i] != b.data[i] {
			t.Fatalf("Fill is not deterministic at %d: %v vs %v", i, a.data[i], b.data[i])
		}
		if a.data[i] < -0.5 || a.data[i] >= 0.5 {
			t.Errorf("Value %v outside [-0.5, 0.5)", a.data[i])
		}
	}
}
