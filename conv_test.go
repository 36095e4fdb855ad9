package onn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunfishho/pytorch-onn-maml/mesh"
)

// denseConv2d is the direct-loop reference convolution over a row-major
// [batch, inC, inH, inW] input with a [outC, inC, kh, kw] kernel.
func denseConv2d(x, w, bias []float64, cfg *ConvConfig, batch, inH, inW int, photodetect bool) []float64 {
	outH := cfg.OutputHeight(inH)
	outW := cfg.OutputWidth(inW)
	y := make([]float64, batch*cfg.OutChannels*outH*outW)
	for b := 0; b < batch; b++ {
		for o := 0; o < cfg.OutChannels; o++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					sum := 0.0
					for ch := 0; ch < cfg.InChannels; ch++ {
						for kh := 0; kh < cfg.KernelHeight; kh++ {
							ih := oh*cfg.StrideH - cfg.PadH + kh*cfg.DilationH
							if ih < 0 || ih >= inH {
								continue
							}
							for kw := 0; kw < cfg.KernelWidth; kw++ {
								iw := ow*cfg.StrideW - cfg.PadW + kw*cfg.DilationW
								if iw < 0 || iw >= inW {
									continue
								}
								wi := ((o*cfg.InChannels+ch)*cfg.KernelHeight+kh)*cfg.KernelWidth + kw
								xi := ((b*cfg.InChannels+ch)*inH+ih)*inW + iw
								sum += w[wi] * x[xi]
							}
						}
					}
					if photodetect {
						sum *= sum
					}
					if bias != nil {
						sum += bias[o]
					}
					y[((b*cfg.OutChannels+o)*outH+oh)*outW+ow] = sum
				}
			}
		}
	}
	return y
}

func TestConvForwardMatchesDirect(t *testing.T) {
	cfg := ConvConfig{
		InChannels:   2,
		OutChannels:  3,
		KernelHeight: 3,
		KernelWidth:  3,
		PadH:         1,
		PadW:         1,
		Miniblock:    4,
		Mode:         ModeWeight,
		Bias:         true,
	}
	l, err := NewBlockConv2d(cfg)
	require.NoError(t, err)

	inFlat := cfg.InChannels * cfg.KernelHeight * cfg.KernelWidth
	w := GenerateFloat64Range(cfg.OutChannels*inFlat, 41, -1, 1)
	bias := GenerateFloat64Range(cfg.OutChannels, 42, -0.5, 0.5)
	require.NoError(t, l.FromWeights(w, bias))

	batch, inH, inW := 2, 5, 6
	x := GenerateFloat64Range(batch*cfg.InChannels*inH*inW, 43, -1, 1)
	y, err := l.Forward(x, batch, inH, inW)
	require.NoError(t, err)

	want := denseConv2d(x, w, bias, &l.cfg, batch, inH, inW, false)
	require.Len(t, y, len(want))
	assert.InDelta(t, 0.0, MaxAbsDiff(want, y), 1e-10)
}

func TestConvStrideAndDilation(t *testing.T) {
	cfg := ConvConfig{
		InChannels:   1,
		OutChannels:  2,
		KernelHeight: 3,
		KernelWidth:  2,
		StrideH:      2,
		StrideW:      1,
		DilationH:    2,
		DilationW:    1,
		Miniblock:    4,
		Mode:         ModeWeight,
	}
	l, err := NewBlockConv2d(cfg)
	require.NoError(t, err)

	inFlat := cfg.InChannels * cfg.KernelHeight * cfg.KernelWidth
	w := GenerateFloat64Range(cfg.OutChannels*inFlat, 44, -1, 1)
	require.NoError(t, l.FromWeights(w, nil))

	batch, inH, inW := 1, 9, 7
	x := GenerateFloat64Range(batch*inH*inW, 45, -1, 1)
	y, err := l.Forward(x, batch, inH, inW)
	require.NoError(t, err)

	want := denseConv2d(x, w, nil, &l.cfg, batch, inH, inW, false)
	require.Len(t, y, len(want))
	assert.InDelta(t, 0.0, MaxAbsDiff(want, y), 1e-10)
}

func TestConvPhaseModeMatchesDirect(t *testing.T) {
	cfg := ConvConfig{
		InChannels:   2,
		OutChannels:  4,
		KernelHeight: 3,
		KernelWidth:  3,
		PadH:         1,
		PadW:         1,
		Miniblock:    4,
		Mode:         ModePhase,
		Algorithm:    mesh.Clements,
	}
	l, err := NewBlockConv2d(cfg)
	require.NoError(t, err)

	inFlat := cfg.InChannels * cfg.KernelHeight * cfg.KernelWidth
	w := GenerateFloat64Range(cfg.OutChannels*inFlat, 46, -1, 1)
	require.NoError(t, l.FromWeights(w, nil))

	batch, inH, inW := 2, 4, 4
	x := GenerateFloat64Range(batch*cfg.InChannels*inH*inW, 47, -1, 1)
	y, err := l.Forward(x, batch, inH, inW)
	require.NoError(t, err)

	want := denseConv2d(x, w, nil, &l.cfg, batch, inH, inW, false)
	res := VerifySlice(want, y, DefaultTolerance())
	assert.True(t, res.Pass(), "%s", res)
}

func TestConvPhotodetect(t *testing.T) {
	cfg := ConvConfig{
		InChannels:   1,
		OutChannels:  2,
		KernelHeight: 2,
		KernelWidth:  2,
		Miniblock:    4,
		Mode:         ModeWeight,
		Photodetect:  true,
		Bias:         true,
	}
	l, err := NewBlockConv2d(cfg)
	require.NoError(t, err)

	inFlat := cfg.InChannels * cfg.KernelHeight * cfg.KernelWidth
	w := GenerateFloat64Range(cfg.OutChannels*inFlat, 48, -1, 1)
	bias := GenerateFloat64Range(cfg.OutChannels, 49, -0.5, 0.5)
	require.NoError(t, l.FromWeights(w, bias))

	batch, inH, inW := 1, 4, 4
	x := GenerateFloat64Range(batch*inH*inW, 50, -1, 1)
	y, err := l.Forward(x, batch, inH, inW)
	require.NoError(t, err)

	want := denseConv2d(x, w, bias, &l.cfg, batch, inH, inW, true)
	assert.InDelta(t, 0.0, MaxAbsDiff(want, y), 1e-10)
}

func TestConvResetParametersReproducible(t *testing.T) {
	mk := func() []float64 {
		l, err := NewBlockConv2d(ConvConfig{
			InChannels:   2,
			OutChannels:  3,
			KernelHeight: 3,
			KernelWidth:  3,
			Miniblock:    4,
			Mode:         ModePhase,
			Algorithm:    mesh.Francis,
		})
		require.NoError(t, err)
		require.NoError(t, l.ResetParameters(7))
		x := GenerateFloat64Range(2*4*4, 51, -1, 1)
		y, err := l.Forward(x, 1, 4, 4)
		require.NoError(t, err)
		return y
	}
	assert.Equal(t, mk(), mk())
}

func TestConvSwitchModePreservesForward(t *testing.T) {
	l, err := NewBlockConv2d(ConvConfig{
		InChannels:   1,
		OutChannels:  2,
		KernelHeight: 3,
		KernelWidth:  3,
		PadH:         1,
		PadW:         1,
		Miniblock:    4,
		Mode:         ModeWeight,
		Algorithm:    mesh.Francis,
	})
	require.NoError(t, err)
	inFlat := 1 * 3 * 3
	w := GenerateFloat64Range(2*inFlat, 52, -1, 1)
	require.NoError(t, l.FromWeights(w, nil))

	x := GenerateFloat64Range(5*5, 53, -1, 1)
	before, err := l.Forward(x, 1, 5, 5)
	require.NoError(t, err)

	require.NoError(t, l.SwitchMode(ModePhase))
	after, err := l.Forward(x, 1, 5, 5)
	require.NoError(t, err)

	res := VerifySlice(before, after, DefaultTolerance())
	assert.True(t, res.Pass(), "%s", res)
}

func TestConvConfigValidation(t *testing.T) {
	_, err := NewBlockConv2d(ConvConfig{
		InChannels: 0, OutChannels: 2, KernelHeight: 3, KernelWidth: 3, Miniblock: 4,
	})
	assert.Error(t, err)

	_, err = NewBlockConv2d(ConvConfig{
		InChannels: 2, OutChannels: 2, KernelHeight: 3, KernelWidth: 3,
		Miniblock: 4, Groups: 2,
	})
	require.Error(t, err)
	assert.True(t, IsNotImplementedError(err))
}

func TestConvForwardShapeMismatch(t *testing.T) {
	l, err := NewBlockConv2d(ConvConfig{
		InChannels: 1, OutChannels: 1, KernelHeight: 3, KernelWidth: 3, Miniblock: 4,
		Mode: ModeWeight,
	})
	require.NoError(t, err)
	require.NoError(t, l.ResetParameters(1))

	_, err = l.Forward(make([]float64, 10), 1, 4, 4)
	require.Error(t, err)
	assert.True(t, IsShapeError(err))

	// A 3x3 kernel cannot cover a 2x2 image without padding.
	_, err = l.Forward(make([]float64, 4), 1, 2, 2)
	assert.Error(t, err)
}
