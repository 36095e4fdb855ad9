package quant

import "math"

// InputQuantizer rounds activations to a uniform signed grid scaled by
// the batch's largest magnitude, the way a finite-precision modulator
// drives the mesh inputs. Like the phase quantizer it is a value rewrite
// with a straight-through gradient contract, and it is a no-op at >= 16
// bits.
type InputQuantizer struct {
	bits int
}

// NewInputQuantizer returns a quantizer for the given activation bit-width.
func NewInputQuantizer(bits int) *InputQuantizer {
	return &InputQuantizer{bits: bits}
}

// Bits returns the configured bit-width.
func (q *InputQuantizer) Bits() int { return q.bits }

// SetBitwidth changes the activation bit-width.
func (q *InputQuantizer) SetBitwidth(bits int) { q.bits = bits }

// Quantize rounds x in place to 2^bits signed uniform levels spanning
// [-max|x|, max|x|]. A constant-zero input is returned unchanged.
func (q *InputQuantizer) Quantize(x []float64) {
	if q.bits >= continuousBits || len(x) == 0 {
		return
	}
	scale := 0.0
	for _, v := range x {
		if a := math.Abs(v); a > scale {
			scale = a
		}
	}
	if scale == 0 {
		return
	}
	levels := math.Exp2(float64(q.bits)-1) - 1
	if levels < 1 {
		levels = 1
	}
	for i, v := range x {
		x[i] = math.Round(v/scale*levels) / levels * scale
	}
}
