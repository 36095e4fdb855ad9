package quant

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInputQuantizeContinuousBypass(t *testing.T) {
	q := NewInputQuantizer(16)
	x := []float64{0.1, -0.7, 3.14159}
	orig := append([]float64(nil), x...)
	q.Quantize(x)
	assert.Equal(t, orig, x)
}

func TestInputQuantizeGrid(t *testing.T) {
	q := NewInputQuantizer(4)
	x := []float64{1.0, -1.0, 0.333, -0.499, 0.0}
	q.Quantize(x)

	levels := math.Exp2(3) - 1
	for i, v := range x {
		assert.InDelta(t, math.Round(v*levels), v*levels, 1e-9, "index %d off grid", i)
	}
	assert.Equal(t, 1.0, x[0], "the extreme value maps to itself")
	assert.Equal(t, -1.0, x[1])
	assert.Equal(t, 0.0, x[4])
}

func TestInputQuantizeZeroInput(t *testing.T) {
	q := NewInputQuantizer(4)
	x := []float64{0, 0, 0}
	q.Quantize(x)
	assert.Equal(t, []float64{0, 0, 0}, x)
}

func TestInputQuantizeOneBit(t *testing.T) {
	q := NewInputQuantizer(1)
	x := []float64{0.9, -0.4, 0.1}
	q.Quantize(x)
	for i, v := range x {
		assert.False(t, math.IsNaN(v), "index %d", i)
		assert.InDelta(t, math.Round(v/0.9), v/0.9, 1e-12)
	}
}
