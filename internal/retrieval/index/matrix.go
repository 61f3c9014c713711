package index

import (
	"fmt"
	"math"
)

// Matrix is a sparse rows×cols matrix in compressed sparse row form. Row r
// owns Indices[Indptr[r]:Indptr[r+1]] and the matching Data entries, with
// column indices strictly increasing within a row.
type Matrix struct {
	Rows    int
	Cols    int
	Indptr  []int
	Indices []int32
	Data    []float64
}

// NNZ returns the number of stored entries.
func (m *Matrix) NNZ() int { return len(m.Data) }

// Row returns the column indices and weights of row r. The slices alias the
// matrix and must not be modified.
func (m *Matrix) Row(r int) ([]int32, []float64) {
	lo, hi := m.Indptr[r], m.Indptr[r+1]
	return m.Indices[lo:hi], m.Data[lo:hi]
}

// Validate checks the structural invariants of the CSR arrays.
func (m *Matrix) Validate() error {
	if m.Rows < 0 || m.Cols < 0 {
		return fmt.Errorf("negative shape %dx%d", m.Rows, m.Cols)
	}
	if len(m.Indptr) != m.Rows+1 {
		return fmt.Errorf("indptr has %d entries, want %d", len(m.Indptr), m.Rows+1)
	}
	if len(m.Indices) != len(m.Data) {
		return fmt.Errorf("indices has %d entries but data has %d", len(m.Indices), len(m.Data))
	}
	if m.Indptr[0] != 0 || m.Indptr[m.Rows] != len(m.Data) {
		return fmt.Errorf("indptr bounds [%d, %d] do not span %d entries", m.Indptr[0], m.Indptr[m.Rows], len(m.Data))
	}
	for r := 0; r < m.Rows; r++ {
		lo, hi := m.Indptr[r], m.Indptr[r+1]
		if hi < lo {
			return fmt.Errorf("indptr decreases at row %d", r)
		}
		prev := int32(-1)
		for k := lo; k < hi; k++ {
			col := m.Indices[k]
			if col <= prev || int(col) >= m.Cols {
				return fmt.Errorf("row %d has out-of-order or out-of-range column %d", r, col)
			}
			if w := m.Data[k]; math.IsNaN(w) || math.IsInf(w, 0) {
				return fmt.Errorf("row %d column %d has non-finite weight", r, col)
			}
			prev = col
		}
	}
	return nil
}
