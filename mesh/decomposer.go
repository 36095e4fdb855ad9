package mesh

import (
	"fmt"
	"math"

	"github.com/sunfishho/pytorch-onn-maml/tensor"
)

// Algorithm selects the decomposition scheme and, with it, the mesh
// topology the angles live on.
type Algorithm int

const (
	// Francis eliminates one column at a time with rotations on adjacent
	// mode pairs, yielding a Triangle mesh of depth k(k-1)/2.
	Francis Algorithm = iota
	// Clements interleaves row and column eliminations along diagonal
	// wavefronts, yielding a Rectangle mesh evaluable in k layers.
	Clements
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case Francis:
		return "francis"
	case Clements:
		return "clements"
	default:
		return "unknown"
	}
}

// Topology returns the mesh topology the algorithm produces.
func (a Algorithm) Topology() Topology {
	if a == Clements {
		return Rectangle
	}
	return Triangle
}

// Decomposer factors real orthogonal matrices into a mesh of two-mode
// rotation angles plus a diagonal correction, and rebuilds them. It is
// stateless after construction; Decompose and Reconstruct are pure
// functions of their inputs and operate independently per grid cell.
//
// Inputs are not assumed to be exactly orthogonal: elimination always
// succeeds, and the reconstruction error grows with the input's deviation
// from orthogonality on top of floating-point rounding.
type Decomposer struct {
	alg   Algorithm
	codec Codec
}

// NewDecomposer returns a decomposer for the given algorithm.
func NewDecomposer(alg Algorithm) (*Decomposer, error) {
	if alg != Francis && alg != Clements {
		return nil, fmt.Errorf("decomposer algorithm %d: %w", alg, ErrUnknownTopology)
	}
	codec, err := NewCodec(alg.Topology())
	if err != nil {
		return nil, err
	}
	return &Decomposer{alg: alg, codec: codec}, nil
}

// Algorithm returns the decomposition scheme in use.
func (d *Decomposer) Algorithm() Algorithm { return d.alg }

// Codec returns the angle codec matching the decomposer's topology.
func (d *Decomposer) Codec() Codec { return d.codec }

// Decompose factors every k×k block of u into a length-k diagonal
// correction and a k×k mesh-angle layout, such that Reconstruct inverts
// it up to floating-point error. u is left untouched.
//
// k <= 1 degenerates to an empty mesh: delta carries the block diagonal
// and the layout is all zeros.
func (d *Decomposer) Decompose(u *tensor.BlockMatrix) (*tensor.BlockVector, *tensor.BlockMatrix, error) {
	k := u.K
	delta := tensor.NewBlockVector(u.Rows, u.Cols, k)
	phi := tensor.NewBlockMatrix(u.Rows, u.Cols, k)
	work := make([]float64, k*k)
	for r := 0; r < u.Rows; r++ {
		for c := 0; c < u.Cols; c++ {
			copy(work, u.Block(r, c))
			switch d.alg {
			case Clements:
				clementsDecompose(work, k, delta.Vec(r, c), phi.Block(r, c))
			default:
				francisDecompose(work, k, delta.Vec(r, c), phi.Block(r, c))
			}
		}
	}
	return delta, phi, nil
}

// Reconstruct rebuilds every k×k block from its diagonal correction and
// mesh-angle layout. It is deterministic and has no hidden state; calling
// it with angles that never came from Decompose (for example quantized
// ones) yields the orthogonal matrix the perturbed mesh would realize.
func (d *Decomposer) Reconstruct(delta *tensor.BlockVector, phi *tensor.BlockMatrix) (*tensor.BlockMatrix, error) {
	if delta.Rows != phi.Rows || delta.Cols != phi.Cols {
		return nil, fmt.Errorf("delta grid [%d,%d] vs layout grid [%d,%d]: %w",
			delta.Rows, delta.Cols, phi.Rows, phi.Cols, ErrShapeMismatch)
	}
	if delta.N != phi.K {
		return nil, fmt.Errorf("delta length %d vs mesh size %d: %w", delta.N, phi.K, ErrShapeMismatch)
	}
	k := phi.K
	out := tensor.NewBlockMatrix(phi.Rows, phi.Cols, k)
	for r := 0; r < phi.Rows; r++ {
		for c := 0; c < phi.Cols; c++ {
			switch d.alg {
			case Clements:
				clementsReconstruct(delta.Vec(r, c), phi.Block(r, c), k, out.Block(r, c))
			default:
				francisReconstruct(delta.Vec(r, c), phi.Block(r, c), k, out.Block(r, c))
			}
		}
	}
	return out, nil
}

// rotateRows applies the plane rotation with angle theta to rows p and
// p+1 of the k×k matrix a: (row_p, row_p+1) <- (c·row_p + s·row_p+1,
// -s·row_p + c·row_p+1).
func rotateRows(a []float64, k, p int, cos, sin float64) {
	top, bot := a[p*k:(p+1)*k], a[(p+1)*k:(p+2)*k]
	for j := 0; j < k; j++ {
		x, y := top[j], bot[j]
		top[j] = cos*x + sin*y
		bot[j] = -sin*x + cos*y
	}
}

// rotateRowsT applies the transposed rotation to rows p and p+1.
func rotateRowsT(a []float64, k, p int, cos, sin float64) {
	top, bot := a[p*k:(p+1)*k], a[(p+1)*k:(p+2)*k]
	for j := 0; j < k; j++ {
		x, y := top[j], bot[j]
		top[j] = cos*x - sin*y
		bot[j] = sin*x + cos*y
	}
}

// rotateCols applies the plane rotation to columns p and p+1 from the
// right: (col_p, col_p+1) <- (c·col_p - s·col_p+1, s·col_p + c·col_p+1).
func rotateCols(a []float64, k, p int, cos, sin float64) {
	for i := 0; i < k; i++ {
		x, y := a[i*k+p], a[i*k+p+1]
		a[i*k+p] = cos*x - sin*y
		a[i*k+p+1] = sin*x + cos*y
	}
}

// rotateColsT applies the transposed rotation to columns p and p+1.
func rotateColsT(a []float64, k, p int, cos, sin float64) {
	for i := 0; i < k; i++ {
		x, y := a[i*k+p], a[i*k+p+1]
		a[i*k+p] = cos*x + sin*y
		a[i*k+p+1] = -sin*x + cos*y
	}
}

// francisDecompose reduces a (destroyed) to diagonal form by eliminating
// the strict lower triangle column by column, bottom row first, with
// rotations on adjacent rows. The rotation that zeroes element (r, c)
// stores its angle at layout cell (c, r) in the strict upper triangle.
func francisDecompose(a []float64, k int, delta, phi []float64) {
	for c := 0; c < k-1; c++ {
		for r := k - 1; r > c; r-- {
			theta := math.Atan2(a[r*k+c], a[(r-1)*k+c])
			sin, cos := math.Sincos(theta)
			rotateRows(a, k, r-1, cos, sin)
			phi[c*k+r] = theta
		}
	}
	for i := 0; i < k; i++ {
		delta[i] = a[i*k+i]
	}
}

// francisReconstruct rebuilds the matrix by undoing the elimination
// rotations in reverse order, starting from diag(delta).
func francisReconstruct(delta, phi []float64, k int, out []float64) {
	for i := range out {
		out[i] = 0
	}
	for i := 0; i < k; i++ {
		out[i*k+i] = delta[i]
	}
	for c := k - 2; c >= 0; c-- {
		for r := c + 1; r < k; r++ {
			sin, cos := math.Sincos(phi[c*k+r])
			rotateRowsT(out, k, r-1, cos, sin)
		}
	}
}

// clementsOp is one elimination step of the Clements sweep: a rotation on
// mode pair (p, p+1), applied to rows (fromLeft) or columns, that zeroes
// the matrix element (row, col).
type clementsOp struct {
	fromLeft bool
	p        int
	row, col int
	cell     int // flat layout index holding the angle
}

// clementsOps enumerates the elimination sequence for a k-mode mesh.
// Sweep l walks the l-th anti-diagonal from the bottom-left corner; even
// sweeps eliminate with column rotations, odd sweeps with row rotations.
// Each op lands on the next free layer of its mode-pair row in the
// checkerboard layout, so the full sequence fills the occupied cells
// exactly once.
func clementsOps(k int) []clementsOp {
	ops := make([]clementsOp, 0, AngleCount(k))
	layer := make([]int, k) // next free layer counter per mode pair
	for l := 0; l < k-1; l++ {
		for j := 0; j <= l; j++ {
			var op clementsOp
			if l%2 == 0 {
				op = clementsOp{fromLeft: false, p: l - j, row: k - 1 - j, col: l - j}
			} else {
				row := k - 1 - l + j
				op = clementsOp{fromLeft: true, p: row - 1, row: row, col: j}
			}
			t := op.p%2 + 2*layer[op.p]
			layer[op.p]++
			op.cell = op.p*k + t
			ops = append(ops, op)
		}
	}
	return ops
}

// clementsDecompose reduces a (destroyed) to diagonal form with the
// interleaved row/column elimination sweeps, storing each angle at its
// checkerboard cell.
func clementsDecompose(a []float64, k int, delta, phi []float64) {
	for _, op := range clementsOps(k) {
		var theta float64
		if op.fromLeft {
			theta = math.Atan2(a[op.row*k+op.col], a[(op.row-1)*k+op.col])
			sin, cos := math.Sincos(theta)
			rotateRows(a, k, op.p, cos, sin)
		} else {
			theta = math.Atan2(a[op.row*k+op.col], a[op.row*k+op.col+1])
			sin, cos := math.Sincos(theta)
			rotateCols(a, k, op.p, cos, sin)
		}
		phi[op.cell] = theta
	}
	for i := 0; i < k; i++ {
		delta[i] = a[i*k+i]
	}
}

// clementsReconstruct rebuilds the matrix by undoing the elimination ops
// in reverse order, starting from diag(delta).
func clementsReconstruct(delta, phi []float64, k int, out []float64) {
	for i := range out {
		out[i] = 0
	}
	for i := 0; i < k; i++ {
		out[i*k+i] = delta[i]
	}
	ops := clementsOps(k)
	for m := len(ops) - 1; m >= 0; m-- {
		op := ops[m]
		sin, cos := math.Sincos(phi[op.cell])
		if op.fromLeft {
			rotateRowsT(out, k, op.p, cos, sin)
		} else {
			rotateColsT(out, k, op.p, cos, sin)
		}
	}
}
