package onn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/sunfishho/pytorch-onn-maml/mesh"
	"github.com/sunfishho/pytorch-onn-maml/quant"
)

// ConvConfig defines parameters for a blocked photonic Conv2d layer.
type ConvConfig struct {
	// Input dimensions: [batch, channels, height, width]
	InChannels  int
	OutChannels int

	// Kernel dimensions
	KernelHeight int
	KernelWidth  int

	// Convolution parameters
	StrideH   int
	StrideW   int
	PadH      int
	PadW      int
	DilationH int
	DilationW int
	Groups    int

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

// Validate checks if convolution parameters are valid
func (p *ConvConfig) Validate() error {
	if p.InChannels <= 0 || p.OutChannels <= 0 {
		return NewInvalidArgError("ConvConfig.Validate", "invalid channel dimensions")
	}
	if p.KernelHeight <= 0 || p.KernelWidth <= 0 {
		return NewInvalidArgError("ConvConfig.Validate", "invalid kernel dimensions")
	}
	if p.StrideH <= 0 || p.StrideW <= 0 {
		return NewInvalidArgError("ConvConfig.Validate", "invalid stride")
	}
	if p.DilationH <= 0 || p.DilationW <= 0 {
		return NewInvalidArgError("ConvConfig.Validate", "invalid dilation")
	}
	if p.PadH < 0 || p.PadW < 0 {
		return NewInvalidArgError("ConvConfig.Validate", "invalid padding")
	}
	if p.Groups != 1 {
		return NewNotImplementedError("ConvConfig.Validate",
			fmt.Sprintf("group convolution is not supported, got groups=%d", p.Groups))
	}
	if p.Miniblock <= 0 {
		return NewInvalidArgError("ConvConfig.Validate",
			fmt.Sprintf("miniblock must be positive, got %d", p.Miniblock))
	}
	return nil
}

// OutputHeight computes the output height after convolution
func (p *ConvConfig) OutputHeight(inHeight int) int {
	effectiveKH := (p.KernelHeight-1)*p.DilationH + 1
	return (inHeight+2*p.PadH-effectiveKH)/p.StrideH + 1
}

// OutputWidth computes the output width after convolution
func (p *ConvConfig) OutputWidth(inWidth int) int {
	effectiveKW := (p.KernelWidth-1)*p.DilationW + 1
	return (inWidth+2*p.PadW-effectiveKW)/p.StrideW + 1
}

// BlockConv2d is an SVD-based blocked Conv2d layer built from cascaded
// two-mode rotation meshes. The flattened (outChannels, inChannels·kh·kw)
// kernel is tiled into k×k blocks held by the embedded Core; the forward
// pass materializes the dense kernel and applies it via im2col + GEMM.
type BlockConv2d struct {
	cfg ConvConfig

	inFlat             int // inChannels * kernelH * kernelW
	gridRows, gridCols int
	inPad, outPad      int

	core    *Core
	bias    []float64
	inQuant *quant.InputQuantizer
}

// NewBlockConv2d constructs the layer with all representation buffers
// allocated; call ResetParameters or FromWeights before the first
// forward pass. Stride, dilation and groups default to 1 when zero.
func NewBlockConv2d(cfg ConvConfig) (*BlockConv2d, error) {
	if cfg.StrideH == 0 {
		cfg.StrideH = 1
	}
	if cfg.StrideW == 0 {
		cfg.StrideW = 1
	}
	if cfg.DilationH == 0 {
		cfg.DilationH = 1
	}
	if cfg.DilationW == 0 {
		cfg.DilationW = 1
	}
	if cfg.Groups == 0 {
		cfg.Groups = 1
	}
	if cfg.InBits == 0 {
		cfg.InBits = DefaultWBits
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	k := cfg.Miniblock
	inFlat := cfg.InChannels * cfg.KernelHeight * cfg.KernelWidth
	rows, cols := GridDims(cfg.OutChannels, inFlat, k)
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
	l := &BlockConv2d{
		cfg:      cfg,
		inFlat:   inFlat,
		gridRows: rows,
		gridCols: cols,
		inPad:    cols * k,
		outPad:   rows * k,
		core:     core,
		inQuant:  quant.NewInputQuantizer(cfg.InBits),
	}
	if cfg.Bias {
		l.bias = make([]float64, cfg.OutChannels)
	}
	return l, nil
}

// Core exposes the representation state machine for direct conversions
// and fidelity configuration.
func (l *BlockConv2d) Core() *Core { return l.core }

// Bias returns the bias slice, nil when the layer has none.
func (l *BlockConv2d) Bias() []float64 { return l.bias }

// ResetParameters initializes the active representation from a
// Kaiming-normal dense draw, reproducibly from seed, through the same
// per-mode chains as BlockLinear.
func (l *BlockConv2d) ResetParameters(seed int64) error {
	helper := BlockLinear{
		cfg: LinearConfig{
			InFeatures:  l.inFlat,
			OutFeatures: l.cfg.OutChannels,
			Miniblock:   l.cfg.Miniblock,
		},
		core: l.core,
		bias: l.bias,
	}
	return helper.ResetParameters(seed)
}

// FromWeights imports a pretrained dense kernel of shape
// [outChannels, inChannels, kh, kw] (row-major, i.e. flattened to
// [outChannels, inFlat]) plus optional bias, zero-pads it into the block
// grid and synchronizes every representation from it once.
func (l *BlockConv2d) FromWeights(w []float64, bias []float64) error {
	blocks, err := PartitionToBlocks(w, l.cfg.OutChannels, l.inFlat, l.cfg.Miniblock)
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
		if len(bias) != l.cfg.OutChannels {
			return NewShapeError("FromWeights",
				fmt.Sprintf("bias length %d does not match out channels %d", len(bias), l.cfg.OutChannels))
		}
		copy(l.bias, bias)
	}
	return nil
}

// SwitchMode changes the trainable representation, synchronizing from
// the current one first.
func (l *BlockConv2d) SwitchMode(m Mode) error {
	if err := l.core.SyncParameters(l.core.Mode()); err != nil {
		return err
	}
	return l.core.switchMode(m)
}

// SetInputBitwidth changes the activation bit-width.
func (l *BlockConv2d) SetInputBitwidth(bits int) {
	l.cfg.InBits = bits
	l.inQuant.SetBitwidth(bits)
}

// Forward computes the convolution for a row-major input of shape
// [batch, inChannels, height, width], returning [batch, outChannels,
// outH, outW]. The kernel is materialized from the active representation
// on every call; with Photodetect set the output passes through the
// intensity law |y|² before the bias is added.
func (l *BlockConv2d) Forward(x []float64, batch, inHeight, inWidth int) ([]float64, error) {
	p := &l.cfg
	if batch <= 0 || len(x) != batch*p.InChannels*inHeight*inWidth {
		return nil, NewShapeError("Forward",
			fmt.Sprintf("input length %d does not match [%d, %d, %d, %d]",
				len(x), batch, p.InChannels, inHeight, inWidth))
	}
	outH := p.OutputHeight(inHeight)
	outW := p.OutputWidth(inWidth)
	if outH <= 0 || outW <= 0 {
		return nil, NewInvalidArgError("Forward",
			fmt.Sprintf("kernel does not fit input %dx%d", inHeight, inWidth))
	}

	if p.InBits < continuousBits {
		x = append([]float64(nil), x...)
		l.inQuant.Quantize(x)
	}

	wBlocks, err := l.core.BuildWeight()
	if err != nil {
		return nil, err
	}
	merged := MergeChunks(wBlocks)
	w, err := TrimChunks(merged, l.outPad, l.inPad, p.OutChannels, l.inFlat)
	if err != nil {
		return nil, err
	}
	weight := mat.NewDense(p.OutChannels, l.inFlat, w)

	colW := outH * outW
	col := make([]float64, l.inFlat*colW)
	y := make([]float64, batch*p.OutChannels*colW)
	for b := 0; b < batch; b++ {
		l.im2col(x[b*p.InChannels*inHeight*inWidth:], inHeight, inWidth, outH, outW, col)
		out := y[b*p.OutChannels*colW : (b+1)*p.OutChannels*colW]
		ym := mat.NewDense(p.OutChannels, colW, out)
		ym.Mul(weight, mat.NewDense(l.inFlat, colW, col))
		if p.Photodetect {
			for i, v := range out {
				out[i] = v * v
			}
		}
		if l.bias != nil {
			for o := 0; o < p.OutChannels; o++ {
				row := out[o*colW : (o+1)*colW]
				for i := range row {
					row[i] += l.bias[o]
				}
			}
		}
	}
	return y, nil
}

// im2col unfolds one image [inChannels, inHeight, inWidth] into the
// column matrix [inChannels*kh*kw, outH*outW] so the convolution reduces
// to a single GEMM against the flattened kernel.
func (l *BlockConv2d) im2col(img []float64, inHeight, inWidth, outH, outW int, col []float64) {
	p := &l.cfg
	colW := outH * outW
	for ch := 0; ch < p.InChannels; ch++ {
		for kh := 0; kh < p.KernelHeight; kh++ {
			for kw := 0; kw < p.KernelWidth; kw++ {
				row := (ch*p.KernelHeight+kh)*p.KernelWidth + kw
				dst := col[row*colW : (row+1)*colW]
				for oh := 0; oh < outH; oh++ {
					ih := oh*p.StrideH - p.PadH + kh*p.DilationH
					for ow := 0; ow < outW; ow++ {
						iw := ow*p.StrideW - p.PadW + kw*p.DilationW
						if ih < 0 || ih >= inHeight || iw < 0 || iw >= inWidth {
							dst[oh*outW+ow] = 0
						} else {
							dst[oh*outW+ow] = img[(ch*inHeight+ih)*inWidth+iw]
						}
					}
				}
			}
		}
	}
}
