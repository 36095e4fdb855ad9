// Package tensor provides flat, grid-blocked storage for the photonic
// compute core. A large matrix is tiled into a [Rows, Cols] grid of small
// square k×k blocks; every representation of a layer (dense weights,
// orthogonal factors, mesh phase layouts) is stored in one of the two
// container types defined here.
//
// Storage is a single row-major float64 buffer per container, with the
// explicit offset formulas documented on the accessors. Accessors return
// sub-slices of the backing buffer, never copies, so conversions can
// mutate representations in place.
package tensor

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// BlockMatrix is a [Rows, Cols, K, K] grid of square blocks backed by a
// flat buffer. Block (r, c) occupies Data[(r*Cols+c)*K*K : (r*Cols+c+1)*K*K]
// in row-major order.
type BlockMatrix struct {
	Rows int // grid rows
	Cols int // grid cols
	K    int // block edge length
	Data []float64
}

// NewBlockMatrix allocates a zero-initialized block matrix.
func NewBlockMatrix(rows, cols, k int) *BlockMatrix {
	return &BlockMatrix{
		Rows: rows,
		Cols: cols,
		K:    k,
		Data: make([]float64, rows*cols*k*k),
	}
}

// Block returns the flat k*k slice of block (r, c). The slice aliases the
// backing buffer; writes are visible to all other views.
func (t *BlockMatrix) Block(r, c int) []float64 {
	kk := t.K * t.K
	off := (r*t.Cols + c) * kk
	return t.Data[off : off+kk : off+kk]
}

// At returns element (i, j) of block (r, c).
func (t *BlockMatrix) At(r, c, i, j int) float64 {
	return t.Block(r, c)[i*t.K+j]
}

// Set assigns element (i, j) of block (r, c).
func (t *BlockMatrix) Set(r, c, i, j int, v float64) {
	t.Block(r, c)[i*t.K+j] = v
}

// Dense wraps block (r, c) as a gonum dense matrix without copying.
// Mutations through the returned matrix write into the backing buffer.
func (t *BlockMatrix) Dense(r, c int) *mat.Dense {
	return mat.NewDense(t.K, t.K, t.Block(r, c))
}

// Clone returns a deep copy with an independent buffer.
func (t *BlockMatrix) Clone() *BlockMatrix {
	out := NewBlockMatrix(t.Rows, t.Cols, t.K)
	copy(out.Data, t.Data)
	return out
}

// CopyFrom copies src's buffer into t. The two must have identical shape.
func (t *BlockMatrix) CopyFrom(src *BlockMatrix) {
	copy(t.Data, src.Data)
}

// SameShape reports whether t and o have identical grid and block sizes.
func (t *BlockMatrix) SameShape(o *BlockMatrix) bool {
	return t.Rows == o.Rows && t.Cols == o.Cols && t.K == o.K
}

// BlockVector is a [Rows, Cols, N] grid of length-N vectors backed by a
// flat buffer. Vector (r, c) occupies Data[(r*Cols+c)*N : (r*Cols+c+1)*N].
// N is k for diagonal vectors, k(k-1)/2 for condensed mesh-angle vectors,
// and 1 for per-block scalars.
type BlockVector struct {
	Rows int
	Cols int
	N    int
	Data []float64
}

// NewBlockVector allocates a zero-initialized block vector.
func NewBlockVector(rows, cols, n int) *BlockVector {
	return &BlockVector{
		Rows: rows,
		Cols: cols,
		N:    n,
		Data: make([]float64, rows*cols*n),
	}
}

// Vec returns the length-N slice of cell (r, c), aliasing the backing buffer.
func (v *BlockVector) Vec(r, c int) []float64 {
	off := (r*v.Cols + c) * v.N
	return v.Data[off : off+v.N : off+v.N]
}

// Clone returns a deep copy with an independent buffer.
func (v *BlockVector) Clone() *BlockVector {
	out := NewBlockVector(v.Rows, v.Cols, v.N)
	copy(out.Data, v.Data)
	return out
}

// CopyFrom copies src's buffer into v. The two must have identical shape.
func (v *BlockVector) CopyFrom(src *BlockVector) {
	copy(v.Data, src.Data)
}

// SameShape reports whether v and o have identical grid and vector sizes.
func (v *BlockVector) SameShape(o *BlockVector) bool {
	return v.Rows == o.Rows && v.Cols == o.Cols && v.N == o.N
}

// MaxAbs returns the largest absolute value in s, or 0 for an empty slice.
func MaxAbs(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	lo, hi := floats.Min(s), floats.Max(s)
	if -lo > hi {
		return -lo
	}
	return hi
}
