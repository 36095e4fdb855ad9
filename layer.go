package onn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/sunfishho/pytorch-onn-maml/mesh"
	"github.com/sunfishho/pytorch-onn-maml/quant"
)

// LinearConfig defines parameters for a blocked photonic linear layer.
type LinearConfig struct {
	InFeatures  int
	OutFeatures int
	Miniblock   int            // block edge length k
	Mode        Mode           // trainable representation
	Algorithm   mesh.Algorithm // unitary decomposition scheme
	Bias        bool
	Photodetect bool // square the output, modeling intensity detection

	// Optional; zero values take the package defaults.
	WBits  int
	InBits int
	VPi    float64
	VMax   float64
}

// Validate checks if layer parameters are valid
func (p *LinearConfig) Validate() error {
	if p.InFeatures <= 0 || p.OutFeatures <= 0 {
		return NewInvalidArgError("LinearConfig.Validate",
			fmt.Sprintf("features must be positive, got in=%d out=%d", p.InFeatures, p.OutFeatures))
	}
	if p.Miniblock <= 0 {
		return NewInvalidArgError("LinearConfig.Validate",
			fmt.Sprintf("miniblock must be positive, got %d", p.Miniblock))
	}
	return nil
}

// BlockLinear is an SVD-based blocked linear layer built from cascaded
// two-mode rotation meshes. The (out, in) weight is tiled into a grid of
// k×k blocks; each block is held in the four equivalent representations
// managed by the embedded Core, and the forward pass consumes the
// materialized dense weight.
type BlockLinear struct {
	cfg LinearConfig

	gridRows, gridCols int
	inPad, outPad      int

	core    *Core
	bias    []float64
	inQuant *quant.InputQuantizer
}

// NewBlockLinear constructs the layer with all representation buffers
// allocated and the quantizers wired, but parameters uninitialized; call
// ResetParameters or FromWeights before the first forward pass.
func NewBlockLinear(cfg LinearConfig) (*BlockLinear, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.InBits == 0 {
		cfg.InBits = DefaultWBits
	}
	k := cfg.Miniblock
	rows, cols := GridDims(cfg.OutFeatures, cfg.InFeatures, k)
	core, err := NewCore(CoreConfig{
		GridRows:  rows,
		GridCols:  cols,
		Miniblock: k,
		Mode:      cfg.Mode,
		Algorithm: cfg.Algorithm,
		WBits:     cfg.WBits,
		VPi:       cfg.VPi,
		VMax:      cfg.VMax,
	})
	if err != nil {
		return nil, err
	}
	l := &BlockLinear{
		cfg:      cfg,
		gridRows: rows,
		gridCols: cols,
		inPad:    cols * k,
		outPad:   rows * k,
		core:     core,
		inQuant:  quant.NewInputQuantizer(cfg.InBits),
	}
	if cfg.Bias {
		l.bias = make([]float64, cfg.OutFeatures)
	}
	return l, nil
}

// Core exposes the representation state machine for direct conversions
// and fidelity configuration.
func (l *BlockLinear) Core() *Core { return l.core }

// Bias returns the bias slice, nil when the layer has none.
func (l *BlockLinear) Bias() []float64 { return l.bias }

// InFeatures returns the input width.
func (l *BlockLinear) InFeatures() int { return l.cfg.InFeatures }

// OutFeatures returns the output width.
func (l *BlockLinear) OutFeatures() int { return l.cfg.OutFeatures }

// ResetParameters initializes the active representation from a
// Kaiming-normal dense draw, reproducibly from seed. For usv mode the
// singular values reset to ones, giving an orthogonal-like start; for
// phase mode the draw is factored and decomposed through the full chain.
func (l *BlockLinear) ResetParameters(seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	std := math.Sqrt(2 / float64(l.cfg.InFeatures))
	w := l.core.Weight
	for i := range w.Data {
		w.Data[i] = rng.NormFloat64() * std
	}
	switch l.core.Mode() {
	case ModeWeight:
		// The draw is already the trainable representation.
	case ModeUSV:
		if err := l.core.BuildUSVFromWeight(w); err != nil {
			return err
		}
		for i := range l.core.S.Data {
			l.core.S.Data[i] = 1
		}
	case ModePhase:
		if err := l.core.BuildPhaseFromWeight(w); err != nil {
			return err
		}
	default:
		return NewNotImplementedError("ResetParameters",
			fmt.Sprintf("mode %s is not a trainable source", l.core.Mode()))
	}
	for i := range l.bias {
		l.bias[i] = 0
	}
	return nil
}

// FromWeights imports a pretrained dense (out, in) weight and optional
// bias: the weight is zero-padded into the block grid and every other
// representation is synchronized from it once.
func (l *BlockLinear) FromWeights(w []float64, bias []float64) error {
	blocks, err := PartitionToBlocks(w, l.cfg.OutFeatures, l.cfg.InFeatures, l.cfg.Miniblock)
	if err != nil {
		return err
	}
	l.core.Weight.CopyFrom(blocks)
	if err := l.core.SyncParameters(ModeWeight); err != nil {
		return err
	}
	if bias != nil {
		if !l.cfg.Bias {
			return NewInvalidArgError("FromWeights", "layer was built without bias")
		}
		if len(bias) != l.cfg.OutFeatures {
			return NewShapeError("FromWeights",
				fmt.Sprintf("bias length %d does not match out features %d", len(bias), l.cfg.OutFeatures))
		}
		copy(l.bias, bias)
	}
	return nil
}

// SwitchMode changes the trainable representation, synchronizing from
// the current one first so the new source starts from equivalent values.
func (l *BlockLinear) SwitchMode(m Mode) error {
	if err := l.core.SyncParameters(l.core.Mode()); err != nil {
		return err
	}
	return l.core.switchMode(m)
}

// SetInputBitwidth changes the activation bit-width.
func (l *BlockLinear) SetInputBitwidth(bits int) {
	l.cfg.InBits = bits
	l.inQuant.SetBitwidth(bits)
}

// materializedWeight builds the dense (out, in) weight from the active
// representation, merged out of the block grid and trimmed of padding.
func (l *BlockLinear) materializedWeight() ([]float64, error) {
	blocks, err := l.core.BuildWeight()
	if err != nil {
		return nil, err
	}
	merged := MergeChunks(blocks)
	return TrimChunks(merged, l.outPad, l.inPad, l.cfg.OutFeatures, l.cfg.InFeatures)
}

// Forward computes y = x·Wᵀ (+ bias) for a row-major batch of
// activations x of shape [batch, in]. With Photodetect set the output
// passes through the intensity law |y|². The weight is rebuilt from the
// active representation on every call, so fidelity reconfigurations
// (bit-width, noise, crosstalk) take effect immediately.
func (l *BlockLinear) Forward(x []float64, batch int) ([]float64, error) {
	in, out := l.cfg.InFeatures, l.cfg.OutFeatures
	if batch <= 0 || len(x) != batch*in {
		return nil, NewShapeError("Forward",
			fmt.Sprintf("input length %d does not match batch %d x features %d", len(x), batch, in))
	}
	if l.cfg.InBits < continuousBits {
		x = append([]float64(nil), x...)
		l.inQuant.Quantize(x)
	}
	w, err := l.materializedWeight()
	if err != nil {
		return nil, err
	}
	y := make([]float64, batch*out)
	ym := mat.NewDense(batch, out, y)
	ym.Mul(mat.NewDense(batch, in, x), mat.NewDense(out, in, w).T())
	if l.cfg.Photodetect {
		for i, v := range y {
			y[i] = v * v
		}
	}
	if l.bias != nil {
		for b := 0; b < batch; b++ {
			row := y[b*out : (b+1)*out]
			for o, bv := range l.bias {
				row[o] += bv
			}
		}
	}
	return y, nil
}
