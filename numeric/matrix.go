// Package numeric provides the dense matrix and random-draw primitives the
// estimator needs: Cholesky factorization, symmetric inverse, element-wise
// masking, and column/row slicing. It is a thin layer over gonum/mat so the
// rest of the module never imports gonum/mat directly.
package numeric

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a dense, row-major numeric matrix.
type Matrix struct {
	d *mat.Dense
}

// NewMatrix allocates an r x c matrix of zeros.
func NewMatrix(r, c int) *Matrix {
	return &Matrix{d: mat.NewDense(r, c, nil)}
}

// NewMatrixFromSlice wraps a row-major slice of length r*c.
func NewMatrixFromSlice(r, c int, data []float64) *Matrix {
	return &Matrix{d: mat.NewDense(r, c, data)}
}

// Dims returns the number of rows and columns.
func (m *Matrix) Dims() (int, int) { return m.d.Dims() }

// Rows returns the number of rows.
func (m *Matrix) Rows() int { r, _ := m.d.Dims(); return r }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { _, c := m.d.Dims(); return c }

// At returns element (i,j).
func (m *Matrix) At(i, j int) float64 { return m.d.At(i, j) }

// Set assigns element (i,j).
func (m *Matrix) Set(i, j int, v float64) { m.d.Set(i, j, v) }

// Raw exposes the underlying gonum matrix for the rare case a caller wants
// to compose with gonum directly.
func (m *Matrix) Raw() *mat.Dense { return m.d }

// Col returns a copy of column j.
func (m *Matrix) Col(j int) []float64 {
	r := m.Rows()
	out := make([]float64, r)
	mat.Col(out, j, m.d)
	return out
}

// Row returns a copy of row i.
func (m *Matrix) Row(i int) []float64 {
	c := m.Cols()
	out := make([]float64, c)
	mat.Row(out, i, m.d)
	return out
}

// SetRow overwrites row i.
func (m *Matrix) SetRow(i int, v []float64) {
	for j, x := range v {
		m.d.Set(i, j, x)
	}
}

// SetCol overwrites column j.
func (m *Matrix) SetCol(j int, v []float64) {
	for i, x := range v {
		m.d.Set(i, j, x)
	}
}

// SubRows returns a new matrix holding rows [lo, hi).
func (m *Matrix) SubRows(lo, hi int) *Matrix {
	_, c := m.d.Dims()
	out := NewMatrix(hi-lo, c)
	out.d.Copy(m.d.Slice(lo, hi, 0, c))
	return out
}

// Copy returns a deep copy.
func (m *Matrix) Copy() *Matrix {
	r, c := m.d.Dims()
	out := NewMatrix(r, c)
	out.d.Copy(m.d)
	return out
}

// Mul returns m*other.
func (m *Matrix) Mul(other *Matrix) *Matrix {
	r, _ := m.d.Dims()
	_, c := other.d.Dims()
	out := NewMatrix(r, c)
	out.d.Mul(m.d, other.d)
	return out
}

// T returns the transpose as a new matrix.
func (m *Matrix) T() *Matrix {
	r, c := m.d.Dims()
	out := NewMatrix(c, r)
	out.d.Copy(m.d.T())
	return out
}

// Add returns m+other.
func (m *Matrix) Add(other *Matrix) *Matrix {
	r, c := m.d.Dims()
	out := NewMatrix(r, c)
	out.d.Add(m.d, other.d)
	return out
}

// Sub returns m-other.
func (m *Matrix) Sub(other *Matrix) *Matrix {
	r, c := m.d.Dims()
	out := NewMatrix(r, c)
	out.d.Sub(m.d, other.d)
	return out
}

// Scale returns m*s.
func (m *Matrix) Scale(s float64) *Matrix {
	r, c := m.d.Dims()
	out := NewMatrix(r, c)
	out.d.Scale(s, m.d)
	return out
}

// MulElem returns the element-wise (Hadamard) product of m and other.
func (m *Matrix) MulElem(other *Matrix) *Matrix {
	r, c := m.d.Dims()
	out := NewMatrix(r, c)
	out.d.MulElem(m.d, other.d)
	return out
}

// Apply returns a new matrix with f applied element-wise.
func (m *Matrix) Apply(f func(i, j int, v float64) float64) *Matrix {
	r, c := m.d.Dims()
	out := NewMatrix(r, c)
	out.d.Apply(func(i, j int, v float64) float64 { return f(i, j, v) }, m.d)
	return out
}

// Sum returns the sum of the absolute value of every entry, matching the
// teacher's cmodel.Sum convention.
func (m *Matrix) Sum() (s float64) {
	r, c := m.d.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s += math.Abs(m.d.At(i, j))
		}
	}
	return
}

// Diag returns the diagonal entries of a square matrix.
func (m *Matrix) Diag() []float64 {
	n := m.Rows()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = m.d.At(i, i)
	}
	return out
}

// SetDiag overwrites the diagonal entries of a square matrix in place.
func (m *Matrix) SetDiag(d []float64) {
	for i, v := range d {
		m.d.Set(i, i, v)
	}
}

// Identity returns the n x n identity matrix.
func Identity(n int) *Matrix {
	m := NewMatrix(n, n)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// Cholesky computes the lower Cholesky factor L such that m = L*L^T. m must
// be symmetric positive-definite; an error is returned otherwise (the
// caller, per spec.md §7, is expected to propagate it up and retry with a
// different seed or a stronger covariance floor).
func (m *Matrix) Cholesky() (*Matrix, error) {
	n := m.Rows()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, m.At(i, j))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, fmt.Errorf("numeric: covariance is not positive-definite")
	}
	var L mat.TriDense
	chol.LTo(&L)
	out := NewMatrix(n, n)
	out.d.Copy(&L)
	return out, nil
}

// SymInverse returns the inverse of a symmetric positive-definite matrix via
// its Cholesky factorization.
func (m *Matrix) SymInverse() (*Matrix, error) {
	n := m.Rows()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, m.At(i, j))
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, fmt.Errorf("numeric: covariance is not positive-definite")
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("numeric: inverse failed: %w", err)
	}
	out := NewMatrix(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.Set(i, j, inv.At(i, j))
		}
	}
	return out, nil
}

// MaskApply zeroes out entries of m where mask is zero, leaving other
// entries untouched -- the `ue`/`covstruct1` masking pattern used throughout
// the driver.
func MaskApply(m, mask *Matrix) *Matrix {
	return m.MulElem(mask)
}

// ColMeans returns the mean of every column.
func ColMeans(m *Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, c)
	for j := 0; j < c; j++ {
		var s float64
		for i := 0; i < r; i++ {
			s += m.At(i, j)
		}
		out[j] = s / float64(r)
	}
	return out
}
