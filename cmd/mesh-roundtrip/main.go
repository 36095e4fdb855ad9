// Command mesh-roundtrip decomposes random orthogonal matrices into mesh
// angles and reports the reconstruction error, as a quick numerical
// smoke test of the two parametrization schemes.
package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	onn "github.com/sunfishho/pytorch-onn-maml"
	"github.com/sunfishho/pytorch-onn-maml/mesh"
	"github.com/sunfishho/pytorch-onn-maml/tensor"
)

func main() {
	var (
		size   = flag.Int("size", 8, "Matrix size k")
		blocks = flag.Int("blocks", 4, "Number of blocks to decompose in one batch")
		seed   = flag.Int64("seed", 1, "RNG seed")
		algStr = flag.String("alg", "clements", "Decomposition scheme: francis or clements")
	)
	flag.Parse()

	var alg mesh.Algorithm
	switch *algStr {
	case "francis":
		alg = mesh.Francis
	case "clements":
		alg = mesh.Clements
	default:
		log.Fatalf("unknown algorithm %q", *algStr)
	}

	dec, err := mesh.NewDecomposer(alg)
	if err != nil {
		log.Fatal(err)
	}

	k := *size
	rng := rand.New(rand.NewSource(*seed))
	u := tensor.NewBlockMatrix(1, *blocks, k)
	for b := 0; b < *blocks; b++ {
		fillOrthogonal(u.Dense(0, b), k, rng)
	}
	want := append([]float64(nil), u.Data...)

	delta, phi, err := dec.Decompose(u)
	if err != nil {
		log.Fatal(err)
	}
	got, err := dec.Reconstruct(delta, phi)
	if err != nil {
		log.Fatal(err)
	}

	angles := mesh.AngleCount(k)
	fmt.Printf("scheme=%s k=%d blocks=%d angles/block=%d\n", alg, k, *blocks, angles)
	fmt.Printf("max reconstruction error: %.3g\n", onn.MaxAbsDiff(want, got.Data))

	res := onn.VerifySlice(want, got.Data, onn.DefaultTolerance())
	fmt.Println(res)
}

// fillOrthogonal overwrites dst with the Q factor of a random Gaussian
// matrix.
func fillOrthogonal(dst *mat.Dense, k int, rng *rand.Rand) {
	raw := make([]float64, k*k)
	for i := range raw {
		raw[i] = rng.NormFloat64()
	}
	var qr mat.QR
	qr.Factorize(mat.NewDense(k, k, raw))
	var q mat.Dense
	qr.QTo(&q)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			dst.Set(i, j, q.At(i, j))
		}
	}
}
