package mesh

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/sunfishho/pytorch-onn-maml/tensor"
)

// randomOrthogonal writes a Haar-ish random orthogonal k×k matrix into
// block (r, c) of dst, via QR of a Gaussian draw.
func randomOrthogonal(dst *tensor.BlockMatrix, r, c int, rng *rand.Rand) {
	k := dst.K
	a := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}
	var qr mat.QR
	qr.Factorize(a)
	var q mat.Dense
	qr.QTo(&q)
	blk := dst.Block(r, c)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			blk[i*k+j] = q.At(i, j)
		}
	}
}

func maxAbsDiff(a, b []float64) float64 {
	max := 0.0
	for i := range a {
		if d := math.Abs(a[i] - b[i]); d > max {
			max = d
		}
	}
	return max
}

func TestDecomposeRoundTrip(t *testing.T) {
	const tol = 1e-4
	rng := rand.New(rand.NewSource(42))
	for _, alg := range []Algorithm{Francis, Clements} {
		dec, err := NewDecomposer(alg)
		require.NoError(t, err)
		for _, k := range []int{2, 3, 4, 8, 16, 32, 64} {
			u := tensor.NewBlockMatrix(1, 1, k)
			randomOrthogonal(u, 0, 0, rng)

			delta, phi, err := dec.Decompose(u)
			require.NoError(t, err, "%s k=%d", alg, k)

			back, err := dec.Reconstruct(delta, phi)
			require.NoError(t, err)
			diff := maxAbsDiff(u.Data, back.Data)
			assert.Less(t, diff, tol, "%s k=%d round-trip error %g", alg, k, diff)
		}
	}
}

func TestDecomposeBatchedIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, alg := range []Algorithm{Francis, Clements} {
		dec, _ := NewDecomposer(alg)
		k := 6
		u := tensor.NewBlockMatrix(2, 3, k)
		for r := 0; r < 2; r++ {
			for c := 0; c < 3; c++ {
				randomOrthogonal(u, r, c, rng)
			}
		}
		delta1, phi1, err := dec.Decompose(u)
		require.NoError(t, err)

		// Changing one block must leave every other block's result intact.
		randomOrthogonal(u, 1, 2, rng)
		delta2, phi2, err := dec.Decompose(u)
		require.NoError(t, err)

		for r := 0; r < 2; r++ {
			for c := 0; c < 3; c++ {
				if r == 1 && c == 2 {
					continue
				}
				assert.Equal(t, phi1.Block(r, c), phi2.Block(r, c), "%s block (%d,%d)", alg, r, c)
				assert.Equal(t, delta1.Vec(r, c), delta2.Vec(r, c), "%s block (%d,%d)", alg, r, c)
			}
		}
	}
}

func TestDecomposeAnglesMatchTopology(t *testing.T) {
	// Every angle the decomposition emits must land on an occupied cell
	// of its topology, so the condensed vector loses nothing.
	rng := rand.New(rand.NewSource(11))
	for _, alg := range []Algorithm{Francis, Clements} {
		dec, _ := NewDecomposer(alg)
		k := 7
		u := tensor.NewBlockMatrix(1, 1, k)
		randomOrthogonal(u, 0, 0, rng)
		delta, phi, err := dec.Decompose(u)
		require.NoError(t, err)

		vec, err := dec.Codec().ToVector(phi)
		require.NoError(t, err)
		layout, err := dec.Codec().ToLayout(vec)
		require.NoError(t, err)
		assert.Equal(t, phi.Data, layout.Data,
			"%s left angles outside its topology's occupied cells", alg)

		back, err := dec.Reconstruct(delta, layout)
		require.NoError(t, err)
		assert.Less(t, maxAbsDiff(u.Data, back.Data), 1e-6, "%s", alg)
	}
}

func TestDecomposeNearOrthogonalInput(t *testing.T) {
	// A slightly non-orthogonal input must not fail; the reconstruction
	// error tracks the deviation instead of exploding.
	rng := rand.New(rand.NewSource(5))
	for _, alg := range []Algorithm{Francis, Clements} {
		dec, _ := NewDecomposer(alg)
		k := 8
		u := tensor.NewBlockMatrix(1, 1, k)
		randomOrthogonal(u, 0, 0, rng)
		const eps = 1e-6
		for i := range u.Data {
			u.Data[i] += eps * rng.NormFloat64()
		}
		delta, phi, err := dec.Decompose(u)
		require.NoError(t, err)
		back, err := dec.Reconstruct(delta, phi)
		require.NoError(t, err)
		assert.Less(t, maxAbsDiff(u.Data, back.Data), 100*float64(k)*eps, "%s", alg)
	}
}

func TestDecomposeDegenerateSizes(t *testing.T) {
	for _, alg := range []Algorithm{Francis, Clements} {
		dec, _ := NewDecomposer(alg)
		u := tensor.NewBlockMatrix(2, 2, 1)
		for r := 0; r < 2; r++ {
			for c := 0; c < 2; c++ {
				u.Block(r, c)[0] = math.Pow(-1, float64(r+c))
			}
		}
		delta, phi, err := dec.Decompose(u)
		require.NoError(t, err, "%s k=1 must not fail", alg)
		for _, v := range phi.Data {
			assert.Zero(t, v, "%s k=1 mesh must be empty", alg)
		}
		back, err := dec.Reconstruct(delta, phi)
		require.NoError(t, err)
		assert.Equal(t, u.Data, back.Data, "%s", alg)
	}
}

func TestReconstructShapeMismatch(t *testing.T) {
	dec, _ := NewDecomposer(Francis)
	delta := tensor.NewBlockVector(1, 1, 3)
	phi := tensor.NewBlockMatrix(1, 1, 4)
	_, err := dec.Reconstruct(delta, phi)
	require.Error(t, err)

	delta = tensor.NewBlockVector(2, 1, 4)
	_, err = dec.Reconstruct(delta, phi)
	require.Error(t, err)
}

func TestReconstructIsOrthogonal(t *testing.T) {
	// Arbitrary angles (not produced by Decompose) with a ±1 delta must
	// still reconstruct an orthogonal matrix: the mesh cannot express
	// anything else.
	rng := rand.New(rand.NewSource(19))
	for _, alg := range []Algorithm{Francis, Clements} {
		dec, _ := NewDecomposer(alg)
		k := 5
		delta := tensor.NewBlockVector(1, 1, k)
		for i := range delta.Data {
			if rng.Intn(2) == 0 {
				delta.Data[i] = 1
			} else {
				delta.Data[i] = -1
			}
		}
		angles := tensor.NewBlockVector(1, 1, AngleCount(k))
		for i := range angles.Data {
			angles.Data[i] = rng.Float64() * 2 * math.Pi
		}
		layout, err := dec.Codec().ToLayout(angles)
		require.NoError(t, err)
		u, err := dec.Reconstruct(delta, layout)
		require.NoError(t, err)

		var uu mat.Dense
		ud := u.Dense(0, 0)
		uu.Mul(ud.T(), ud)
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				want := 0.0
				if i == j {
					want = 1.0
				}
				assert.InDelta(t, want, uu.At(i, j), 1e-10, "%s UᵀU[%d][%d]", alg, i, j)
			}
		}
	}
}
