// Package coords holds the canonical Coordinate Matrix and the single
// normalisation step every input representation funnels through.
package coords

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/coordcluster/internal/clustererr"
)

// Dims is the number of coordinate columns (longitude, latitude).
const Dims = 2

// Source is anything that can be read as a table of numeric cells.
// Value reports cell-level defects as a *clustererr.ValidationError.
type Source interface {
	Dims() (rows, cols int)
	Value(i, j int) (float64, error)
}

// Matrix is a validated n×2 matrix of finite coordinates. It is read-only
// once built by Normalize.
type Matrix struct {
	d *mat.Dense
}

// Normalize validates src and copies it into a Matrix. The checks run in
// order: shape, then per-cell parse defects, then NaN (missing) and ±Inf
// (non-finite) values.
func Normalize(src Source) (*Matrix, error) {
	if src == nil {
		return nil, clustererr.Validation(clustererr.DefectShape, "input is nil")
	}
	r, c := src.Dims()
	if c != Dims {
		return nil, clustererr.Validation(clustererr.DefectShape, "expected %d coordinate columns, got %d", Dims, c)
	}
	if r == 0 {
		return nil, clustererr.Validation(clustererr.DefectShape, "input has no rows")
	}

	data := make([]float64, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v, err := src.Value(i, j)
			if err != nil {
				return nil, err
			}
			switch {
			case math.IsNaN(v):
				return nil, clustererr.ValidationAt(clustererr.DefectMissing, i, j, "input contains NaN")
			case math.IsInf(v, 0):
				return nil, clustererr.ValidationAt(clustererr.DefectNonFinite, i, j, "input contains infinity")
			}
			data[i*c+j] = v
		}
	}
	return &Matrix{d: mat.NewDense(r, c, data)}, nil
}

// Len returns the number of points.
func (m *Matrix) Len() int {
	r, _ := m.d.Dims()
	return r
}

// Point returns row i. The slice aliases the matrix and must not be modified.
func (m *Matrix) Point(i int) []float64 {
	return m.d.RawRowView(i)
}

// Column returns a copy of column j.
func (m *Matrix) Column(j int) []float64 {
	return mat.Col(nil, j, m.d)
}

// Dense returns a copy of the underlying matrix.
func (m *Matrix) Dense() *mat.Dense {
	return mat.DenseCopyOf(m.d)
}

// Bounds returns the per-column minimum and maximum.
func (m *Matrix) Bounds() (lo, hi [Dims]float64) {
	for j := 0; j < Dims; j++ {
		col := m.Column(j)
		lo[j] = floats.Min(col)
		hi[j] = floats.Max(col)
	}
	return lo, hi
}
