// Package mesh implements the parametrization of real orthogonal matrices
// as networks of two-mode planar rotations, the way an MZI (Mach-Zehnder
// interferometer) mesh realizes them in photonic hardware.
//
// Two mesh arrangements are supported:
//
//   - Triangle: a sequential "staircase" mesh produced by Givens-style
//     elimination one column at a time (Reck/Francis). Angles pack into
//     the strict upper triangle of a k×k layout.
//   - Rectangle: a depth-k mesh of interleaved rotation layers (Clements).
//     Angles pack into a checkerboard pattern of the k×k layout: cell
//     (i, j) is occupied when i <= k-2 and i+j is even, with row i naming
//     the mode pair (i, i+1) and column j the temporal layer.
//
// A Codec moves the k(k-1)/2 condensed angles between their vector and
// layout forms; a Decomposer maps orthogonal matrices to angles and back.
// Both operate batched over a [rows, cols] grid of independent blocks.
package mesh

import (
	"errors"
	"fmt"

	"github.com/sunfishho/pytorch-onn-maml/tensor"
)

// Topology selects the physical arrangement of rotation units.
type Topology int

const (
	// Triangle is the sequential staircase arrangement (Reck/Francis).
	Triangle Topology = iota
	// Rectangle is the layered checkerboard arrangement (Clements).
	Rectangle
)

// String returns the topology name.
func (t Topology) String() string {
	switch t {
	case Triangle:
		return "triangle"
	case Rectangle:
		return "rectangle"
	default:
		return "unknown"
	}
}

// Sentinel errors for the mesh package. Wrapped errors carry context;
// match with errors.Is.
var (
	// ErrShapeMismatch indicates an angle vector or layout whose size does
	// not fit the k(k-1)/2 contract.
	ErrShapeMismatch = errors.New("mesh: shape mismatch")

	// ErrUnknownTopology indicates a Topology value outside the defined set.
	ErrUnknownTopology = errors.New("mesh: unknown topology")
)

// AngleCount returns the number of rotation angles in a k-mode mesh.
func AngleCount(k int) int {
	return k * (k - 1) / 2
}

// modesForAngles solves k(k-1)/2 == n for k. Returns false when n is not
// a triangular number. n == 0 maps to k == 1 (an empty mesh).
func modesForAngles(n int) (int, bool) {
	if n == 0 {
		return 1, true
	}
	k := 1
	for AngleCount(k) < n {
		k++
	}
	return k, AngleCount(k) == n
}

// Codec packs condensed angle vectors into 2D mesh layouts and back for
// one topology. The zero value is the Triangle codec; construct with
// NewCodec to select. Codec is immutable and safe to copy.
type Codec struct {
	topo Topology
}

// NewCodec returns the codec for the given topology.
func NewCodec(topo Topology) (Codec, error) {
	if topo != Triangle && topo != Rectangle {
		return Codec{}, fmt.Errorf("codec topology %d: %w", topo, ErrUnknownTopology)
	}
	return Codec{topo: topo}, nil
}

// Topology returns the codec's topology.
func (c Codec) Topology() Topology { return c.topo }

// positions lists the occupied cells of a k×k layout as flat row-major
// indices, in condensed-vector order.
func (c Codec) positions(k int) []int {
	pos := make([]int, 0, AngleCount(k))
	switch c.topo {
	case Rectangle:
		for i := 0; i < k-1; i++ {
			for j := 0; j < k; j++ {
				if (i+j)%2 == 0 {
					pos = append(pos, i*k+j)
				}
			}
		}
	default: // Triangle
		for i := 0; i < k-1; i++ {
			for j := i + 1; j < k; j++ {
				pos = append(pos, i*k+j)
			}
		}
	}
	return pos
}

// ToLayout scatters a batched condensed angle vector into its k×k mesh
// layout. Unoccupied cells are zero. The vector length must be a
// triangular number k(k-1)/2; anything else is a shape error.
func (c Codec) ToLayout(vec *tensor.BlockVector) (*tensor.BlockMatrix, error) {
	k, ok := modesForAngles(vec.N)
	if !ok {
		return nil, fmt.Errorf("vector length %d is not k(k-1)/2 for any k: %w", vec.N, ErrShapeMismatch)
	}
	out := tensor.NewBlockMatrix(vec.Rows, vec.Cols, k)
	pos := c.positions(k)
	for r := 0; r < vec.Rows; r++ {
		for q := 0; q < vec.Cols; q++ {
			src := vec.Vec(r, q)
			dst := out.Block(r, q)
			for m, p := range pos {
				dst[p] = src[m]
			}
		}
	}
	return out, nil
}

// ToVector gathers the occupied cells of a batched k×k mesh layout back
// into the condensed angle vector. Unoccupied cells are ignored, so
// ToVector(ToLayout(v)) == v exactly.
func (c Codec) ToVector(layout *tensor.BlockMatrix) (*tensor.BlockVector, error) {
	k := layout.K
	pos := c.positions(k)
	out := tensor.NewBlockVector(layout.Rows, layout.Cols, len(pos))
	for r := 0; r < layout.Rows; r++ {
		for q := 0; q < layout.Cols; q++ {
			src := layout.Block(r, q)
			dst := out.Vec(r, q)
			for m, p := range pos {
				dst[m] = src[p]
			}
		}
	}
	return out, nil
}
