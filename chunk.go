package onn

import (
	"fmt"

	"github.com/sunfishho/pytorch-onn-maml/tensor"
)

// GridDims returns the block-grid shape covering an (out, in) matrix with
// k×k blocks: ceil(out/k) rows by ceil(in/k) cols.
func GridDims(out, in, k int) (rows, cols int) {
	return (out + k - 1) / k, (in + k - 1) / k
}

// PartitionToBlocks tiles a dense (out, in) row-major matrix into a
// [rows, cols, k, k] block grid, zero-padding the right and bottom edges
// up to the next multiple of k. MergeChunks is its inverse up to the
// padding, which TrimChunks removes.
func PartitionToBlocks(w []float64, out, in, k int) (*tensor.BlockMatrix, error) {
	if out <= 0 || in <= 0 || k <= 0 {
		return nil, NewInvalidArgError("PartitionToBlocks",
			fmt.Sprintf("dimensions must be positive, got out=%d in=%d k=%d", out, in, k))
	}
	if len(w) != out*in {
		return nil, NewShapeError("PartitionToBlocks",
			fmt.Sprintf("weight length %d does not match %d x %d", len(w), out, in))
	}
	rows, cols := GridDims(out, in, k)
	t := tensor.NewBlockMatrix(rows, cols, k)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			blk := t.Block(r, c)
			for i := 0; i < k; i++ {
				gi := r*k + i
				if gi >= out {
					break
				}
				for j := 0; j < k; j++ {
					gj := c*k + j
					if gj >= in {
						break
					}
					blk[i*k+j] = w[gi*in+gj]
				}
			}
		}
	}
	return t, nil
}

// MergeChunks flattens a [rows, cols, k, k] block grid into the dense
// padded (rows*k, cols*k) row-major matrix.
func MergeChunks(t *tensor.BlockMatrix) []float64 {
	k := t.K
	outPad, inPad := t.Rows*k, t.Cols*k
	w := make([]float64, outPad*inPad)
	for r := 0; r < t.Rows; r++ {
		for c := 0; c < t.Cols; c++ {
			blk := t.Block(r, c)
			for i := 0; i < k; i++ {
				copy(w[(r*k+i)*inPad+c*k:(r*k+i)*inPad+c*k+k], blk[i*k:(i+1)*k])
			}
		}
	}
	return w
}

// TrimChunks cuts the top-left (out, in) corner out of a padded
// (outPad, inPad) row-major matrix, undoing the zero padding added by
// PartitionToBlocks.
func TrimChunks(w []float64, outPad, inPad, out, in int) ([]float64, error) {
	if out > outPad || in > inPad {
		return nil, NewShapeError("TrimChunks",
			fmt.Sprintf("target %dx%d exceeds padded %dx%d", out, in, outPad, inPad))
	}
	if len(w) != outPad*inPad {
		return nil, NewShapeError("TrimChunks",
			fmt.Sprintf("matrix length %d does not match %d x %d", len(w), outPad, inPad))
	}
	trimmed := make([]float64, out*in)
	for i := 0; i < out; i++ {
		copy(trimmed[i*in:(i+1)*in], w[i*inPad:i*inPad+in])
	}
	return trimmed, nil
}
