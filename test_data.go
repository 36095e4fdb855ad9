package onn

// Deterministic test data generators. These live outside the _test files
// so cmd/ tools and examples can reuse them for reproducible demos.

// GenerateFloat64 generates deterministic float64 test data in [0, 1)
// using a linear congruential generator (LCG). This ensures reproducible
// values across runs without touching the package-level rand state.
func GenerateFloat64(size int, seed uint64) []float64 {
	data := make([]float64, size)
	rng := seed
	for i := range data {
		rng = rng*6364136223846793005 + 1442695040888963407
		data[i] = float64(rng>>11) / float64(1<<53)
	}
	return data
}

// GenerateFloat64Range generates deterministic float64 data in [min, max).
func GenerateFloat64Range(size int, seed uint64, min, max float64) []float64 {
	data := GenerateFloat64(size, seed)
	scale := max - min
	for i := range data {
		data[i] = data[i]*scale + min
	}
	return data
}
