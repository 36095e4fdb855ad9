// Package quant models the hardware fidelity of phase-shifter drives: the
// nonlinear voltage/phase relation, finite DAC bit-width, device-to-device
// gamma variation, thermal crosstalk between neighboring shifters, and
// input activation quantization for the forward pass.
//
// Every operation here is a best-effort value rewrite: it never fails and
// always produces finite output, even at bit-width 1 or crosstalk factor 1.
// None of it is differentiable in the analytic sense; callers embedding
// these ops in a training graph must treat their derivative as identity
// (a straight-through estimator).
package quant

import (
	"math"
	"math/rand"

	"github.com/sunfishho/pytorch-onn-maml/mesh"
	"github.com/sunfishho/pytorch-onn-maml/tensor"
)

// MeshMode tells a PhaseQuantizer what the quantized vector describes,
// which fixes the crosstalk neighborhood.
type MeshMode int

const (
	// ModeTriangle quantizes condensed angles of a triangular mesh;
	// crosstalk couples through a 3-tap neighborhood.
	ModeTriangle MeshMode = iota
	// ModeRectangle quantizes condensed angles of a rectangular mesh;
	// crosstalk couples through a 5-tap neighborhood.
	ModeRectangle
	// ModeDiagonal quantizes the diagonal attenuation phases (phase_S).
	// Diagonal shifters are physically isolated: crosstalk never applies.
	ModeDiagonal
)

// continuousBits is the bit-width at and above which rounding is skipped:
// the DAC is treated as effectively continuous.
const continuousBits = 16

// effectivelyZero is the threshold below which noise and crosstalk
// configuration values are treated as disabled.
const effectivelyZero = 1e-5

// PhaseQuantizerConfig collects the device parameters of one quantizer.
type PhaseQuantizerConfig struct {
	Bits                int      // DAC bit-width; >= 16 means continuous
	VPi                 float64  // voltage producing a pi phase shift
	VMax                float64  // maximum drive voltage
	GammaNoiseStd       float64  // std of device gamma variation
	CrosstalkFactor     float64  // neighbor coupling strength in [0, 1]
	CrosstalkFilterSize int      // neighborhood size: 3 (triangle) or 5 (rectangle)
	Mode                MeshMode // what the quantized vector describes
}

// PhaseQuantizer maps continuous phase values to the values the physical
// mesh would realize: it converts to the drive-voltage domain, clips and
// rounds to the DAC grid, perturbs the per-device gamma constant with the
// cached variation sample, converts back, and couples neighboring phases
// through the crosstalk kernel.
//
// The gamma variation sample is drawn once per SetGammaNoise call from the
// caller's seed and reused by every Quantize until the next call, so
// repeated materializations at one configuration see identical devices.
type PhaseQuantizer struct {
	cfg   PhaseQuantizerConfig
	gamma float64 // pi / VPi^2
	codec mesh.Codec

	gammaNoise *tensor.BlockVector // cached variation, nil when disabled
}

// NewPhaseQuantizer builds a quantizer from cfg. The crosstalk filter
// size defaults to 3 for triangle mode and 5 for rectangle mode when
// left zero.
func NewPhaseQuantizer(cfg PhaseQuantizerConfig) *PhaseQuantizer {
	if cfg.CrosstalkFilterSize == 0 {
		if cfg.Mode == ModeRectangle {
			cfg.CrosstalkFilterSize = 5
		} else {
			cfg.CrosstalkFilterSize = 3
		}
	}
	topo := mesh.Triangle
	if cfg.Mode == ModeRectangle {
		topo = mesh.Rectangle
	}
	codec, _ := mesh.NewCodec(topo)
	return &PhaseQuantizer{
		cfg:   cfg,
		gamma: math.Pi / (cfg.VPi * cfg.VPi),
		codec: codec,
	}
}

// Gamma returns the nominal voltage-squared-to-phase constant.
func (q *PhaseQuantizer) Gamma() float64 { return q.gamma }

// Bits returns the configured bit-width.
func (q *PhaseQuantizer) Bits() int { return q.cfg.Bits }

// SetBitwidth changes the DAC bit-width, effective on the next Quantize.
func (q *PhaseQuantizer) SetBitwidth(bits int) { q.cfg.Bits = bits }

// SetCrosstalkFactor changes the coupling strength, effective on the next
// Quantize.
func (q *PhaseQuantizer) SetCrosstalkFactor(factor float64) {
	q.cfg.CrosstalkFactor = factor
}

// SetGammaNoise redraws the cached device-variation sample for a batch of
// the given shape. The same (std, shape, seed) triple always produces the
// same sample; std 0 disables the perturbation.
func (q *PhaseQuantizer) SetGammaNoise(std float64, rows, cols, n int, seed int64) {
	q.cfg.GammaNoiseStd = std
	if std < effectivelyZero {
		q.gammaNoise = nil
		return
	}
	rng := rand.New(rand.NewSource(seed))
	noise := tensor.NewBlockVector(rows, cols, n)
	for i := range noise.Data {
		noise.Data[i] = rng.NormFloat64() * std
	}
	q.gammaNoise = noise
}

// enabled reports whether quantization would change anything at all.
func (q *PhaseQuantizer) enabled() bool {
	return q.cfg.Bits < continuousBits ||
		q.cfg.GammaNoiseStd >= effectivelyZero ||
		(q.cfg.Mode != ModeDiagonal && q.cfg.CrosstalkFactor >= effectivelyZero)
}

// Quantize returns the phases the device would realize for the requested
// ones. With bit-width >= 16, zero gamma noise, and zero crosstalk it is
// an exact copy. The input is never modified.
func (q *PhaseQuantizer) Quantize(phase *tensor.BlockVector) *tensor.BlockVector {
	out := phase.Clone()
	if !q.enabled() {
		return out
	}

	step := 0.0
	if q.cfg.Bits < continuousBits {
		levels := math.Exp2(float64(q.cfg.Bits)) - 1
		step = q.cfg.VMax / levels
	}
	for i, p := range out.Data {
		// Wrap into [0, 2pi): drive voltages only push phases forward.
		p = math.Mod(p, 2*math.Pi)
		if p < 0 {
			p += 2 * math.Pi
		}
		v := math.Sqrt(p / q.gamma)
		if v > q.cfg.VMax {
			v = q.cfg.VMax
		}
		if step > 0 {
			v = math.Round(v/step) * step
		}
		g := q.gamma
		if q.gammaNoise != nil && i < len(q.gammaNoise.Data) {
			g += q.gammaNoise.Data[i]
		}
		out.Data[i] = g * v * v
	}

	if q.cfg.Mode != ModeDiagonal && q.cfg.CrosstalkFactor >= effectivelyZero {
		q.applyCrosstalk(out)
	}
	return out
}

// applyCrosstalk couples each mesh angle with its physical neighbors:
// the condensed vector is scattered into its 2D layout, convolved with a
// square kernel (center weight 1, neighbors weighted by the crosstalk
// factor, zero padding), and gathered back. Unoccupied layout cells carry
// no phase and contribute nothing.
func (q *PhaseQuantizer) applyCrosstalk(phase *tensor.BlockVector) {
	layout, err := q.codec.ToLayout(phase)
	if err != nil {
		// Not a mesh-angle vector (length is not triangular); crosstalk
		// is undefined for it, leave the phases untouched.
		return
	}
	k := layout.K
	f := q.cfg.CrosstalkFilterSize
	half := f / 2
	conv := make([]float64, k*k)
	for r := 0; r < layout.Rows; r++ {
		for c := 0; c < layout.Cols; c++ {
			src := layout.Block(r, c)
			for i := 0; i < k; i++ {
				for j := 0; j < k; j++ {
					sum := src[i*k+j]
					for di := -half; di <= half; di++ {
						for dj := -half; dj <= half; dj++ {
							if di == 0 && dj == 0 {
								continue
							}
							ni, nj := i+di, j+dj
							if ni < 0 || ni >= k || nj < 0 || nj >= k {
								continue
							}
							sum += q.cfg.CrosstalkFactor * src[ni*k+nj]
						}
					}
					conv[i*k+j] = sum
				}
			}
			copy(src, conv)
		}
	}
	gathered, err := q.codec.ToVector(layout)
	if err != nil {
		return
	}
	phase.CopyFrom(gathered)
}
