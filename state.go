package onn

import (
	"fmt"
	"math"
)

// Parameter snapshot keys. One snapshot is the set of all representation
// buffers plus the fidelity configuration scalars; there is no framing
// beyond the flat float64 slices.
const (
	KeyWeight = "weight"
	KeyU      = "U"
	KeyS      = "S"
	KeyV      = "V"
	KeyDeltaU = "delta_U"
	KeyPhaseU = "phase_U"
	KeyPhaseS = "phase_S"
	KeyDeltaV = "delta_V"
	KeyPhaseV = "phase_V"
	KeySScale = "S_scale"

	KeyWBits           = "w_bits"
	KeyGammaNoiseStd   = "gamma_noise_std"
	KeyCrosstalkFactor = "crosstalk_factor"
	KeyPhaseNoiseStd   = "phase_noise_std"
)

// Parameters returns the trainable buffers of the active mode, keyed by
// snapshot name. The returned slices alias the core's storage: an
// optimizer writing into them updates the representation directly.
func (c *Core) Parameters() map[string][]float64 {
	switch c.cfg.Mode {
	case ModeWeight:
		return map[string][]float64{KeyWeight: c.Weight.Data}
	case ModeUSV:
		return map[string][]float64{KeyU: c.U.Data, KeyS: c.S.Data, KeyV: c.V.Data}
	case ModePhase:
		return map[string][]float64{
			KeyPhaseU: c.PhaseU.Data,
			KeyPhaseS: c.PhaseS.Data,
			KeyPhaseV: c.PhaseV.Data,
			KeySScale: c.SScale.Data,
		}
	default:
		return nil
	}
}

// Buffers returns the non-trainable cached representations, keyed by
// snapshot name. Slices alias the core's storage.
func (c *Core) Buffers() map[string][]float64 {
	all := map[string][]float64{
		KeyWeight: c.Weight.Data,
		KeyU:      c.U.Data,
		KeyS:      c.S.Data,
		KeyV:      c.V.Data,
		KeyDeltaU: c.DeltaU.Data,
		KeyPhaseU: c.PhaseU.Data,
		KeyPhaseS: c.PhaseS.Data,
		KeyDeltaV: c.DeltaV.Data,
		KeyPhaseV: c.PhaseV.Data,
		KeySScale: c.SScale.Data,
	}
	for name := range c.Parameters() {
		delete(all, name)
	}
	return all
}

// StateDict snapshots every representation buffer and the fidelity
// configuration scalars into freshly allocated slices.
func (c *Core) StateDict() map[string][]float64 {
	dict := make(map[string][]float64)
	for name, data := range c.Parameters() {
		dict[name] = append([]float64(nil), data...)
	}
	for name, data := range c.Buffers() {
		dict[name] = append([]float64(nil), data...)
	}
	dict[KeyWBits] = []float64{float64(c.cfg.WBits)}
	dict[KeyGammaNoiseStd] = []float64{c.gammaNoiseStd}
	dict[KeyCrosstalkFactor] = []float64{c.crosstalkFactor}
	dict[KeyPhaseNoiseStd] = []float64{c.phaseNoiseStd}
	return dict
}

// LoadStateDict restores buffers and configuration from a snapshot.
// Unknown keys are rejected; missing keys keep their current values.
// A phase-mode core rebuilds its cached weight afterwards so stale
// factors never leak into the next forward pass.
func (c *Core) LoadStateDict(dict map[string][]float64) error {
	buffers := map[string][]float64{
		KeyWeight: c.Weight.Data,
		KeyU:      c.U.Data,
		KeyS:      c.S.Data,
		KeyV:      c.V.Data,
		KeyDeltaU: c.DeltaU.Data,
		KeyPhaseU: c.PhaseU.Data,
		KeyPhaseS: c.PhaseS.Data,
		KeyDeltaV: c.DeltaV.Data,
		KeyPhaseV: c.PhaseV.Data,
		KeySScale: c.SScale.Data,
	}
	for name, src := range dict {
		if dst, ok := buffers[name]; ok {
			if len(src) != len(dst) {
				return NewShapeError("LoadStateDict",
					fmt.Sprintf("%s has %d values, core expects %d", name, len(src), len(dst)))
			}
			copy(dst, src)
			continue
		}
		switch name {
		case KeyWBits, KeyGammaNoiseStd, KeyCrosstalkFactor, KeyPhaseNoiseStd:
			if len(src) != 1 {
				return NewShapeError("LoadStateDict",
					fmt.Sprintf("%s must hold exactly one value, got %d", name, len(src)))
			}
		default:
			return NewInvalidArgError("LoadStateDict", fmt.Sprintf("unknown snapshot key %q", name))
		}
		switch name {
		case KeyWBits:
			c.SetWeightBitwidth(int(math.Round(src[0])))
		case KeyGammaNoiseStd:
			c.SetGammaNoise(src[0], 0)
		case KeyCrosstalkFactor:
			c.SetCrosstalkFactor(src[0])
		case KeyPhaseNoiseStd:
			c.SetPhaseNoise(src[0], 0)
		}
	}
	if c.cfg.Mode == ModePhase {
		if _, err := c.BuildWeight(); err != nil {
			return err
		}
	}
	return nil
}
