package onn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/sunfishho/pytorch-onn-maml/mesh"
	"github.com/sunfishho/pytorch-onn-maml/quant"
	"github.com/sunfishho/pytorch-onn-maml/tensor"
)

// Default device constants of the simulated phase shifters.
const (
	// DefaultVMax is the maximum drive voltage in volts.
	DefaultVMax = 10.8
	// DefaultVPi is the drive voltage producing a pi phase shift.
	DefaultVPi = 4.36
	// DefaultWBits is the default weight/phase bit-width (continuous).
	DefaultWBits = 32
)

// continuousBits mirrors the quantizer threshold: bit-widths at or above
// it are treated as continuous and bypass just-in-time quantization.
const continuousBits = 16

// effectivelyZero is the threshold below which noise and crosstalk are
// considered disabled.
const effectivelyZero = 1e-5

// CoreConfig sizes and configures a representation core.
type CoreConfig struct {
	GridRows  int            // block grid rows
	GridCols  int            // block grid cols
	Miniblock int            // block edge length k
	Mode      Mode           // authoritative representation
	Algorithm mesh.Algorithm // unitary decomposition scheme

	// Optional; zero values take the package defaults.
	WBits int
	VPi   float64
	VMax  float64
}

// Validate checks the configuration for construction.
func (c *CoreConfig) Validate() error {
	if c.GridRows <= 0 || c.GridCols <= 0 || c.Miniblock <= 0 {
		return NewInvalidArgError("CoreConfig.Validate",
			fmt.Sprintf("grid [%d,%d] and miniblock %d must be positive", c.GridRows, c.GridCols, c.Miniblock))
	}
	if !c.Mode.valid() {
		return NewInvalidArgError("CoreConfig.Validate",
			fmt.Sprintf("mode %d is not one of weight, usv, phase, voltage", int(c.Mode)))
	}
	if c.Mode == ModeVoltage {
		return NewNotImplementedError("CoreConfig.Validate",
			"voltage is a conversion target, not a trainable source mode")
	}
	return nil
}

// Core owns the four equivalent representations of one blocked linear
// operator and keeps them consistent:
//
//	weight   dense k×k block per grid cell
//	usv      U · diag(S) · V with U, V orthogonal
//	phase    U, V as mesh angles plus diagonal corrections;
//	         S as SScale · cos(PhaseS)
//	voltage  each phase reparametrized as a drive voltage
//
// Only the representation matching the active mode is authoritative; the
// others are refreshed on demand by the Build* conversions. weight<->usv
// conversions are smooth; usv->phase snapshots a discrete rotation
// sequence and is not gradient-bearing.
//
// A Core is not safe for concurrent mutation; callers serialize access.
type Core struct {
	cfg CoreConfig

	Weight *tensor.BlockMatrix // [p, q, k, k]
	U      *tensor.BlockMatrix // [p, q, k, k]
	S      *tensor.BlockVector // [p, q, k]
	V      *tensor.BlockMatrix // [p, q, k, k], stored so Weight = U·diag(S)·V

	DeltaU *tensor.BlockVector // [p, q, k]
	PhaseU *tensor.BlockVector // [p, q, k(k-1)/2]
	PhaseS *tensor.BlockVector // [p, q, k]
	DeltaV *tensor.BlockVector // [p, q, k]
	PhaseV *tensor.BlockVector // [p, q, k(k-1)/2]
	SScale *tensor.BlockVector // [p, q, 1]

	VoltageU *tensor.BlockVector // [p, q, k(k-1)/2]
	VoltageS *tensor.BlockVector // [p, q, k]
	VoltageV *tensor.BlockVector // [p, q, k(k-1)/2]

	decomposer *mesh.Decomposer
	quantU     *quant.PhaseQuantizer
	quantS     *quant.PhaseQuantizer
	quantV     *quant.PhaseQuantizer

	gamma           float64
	gammaNoiseStd   float64
	crosstalkFactor float64
	phaseNoiseStd   float64
	phaseRng        *rand.Rand
}

// NewCore allocates all four representations for the given grid and
// wires the decomposer and quantizers matching the chosen algorithm.
func NewCore(cfg CoreConfig) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.WBits == 0 {
		cfg.WBits = DefaultWBits
	}
	if cfg.VPi == 0 {
		cfg.VPi = DefaultVPi
	}
	if cfg.VMax == 0 {
		cfg.VMax = DefaultVMax
	}

	dec, err := mesh.NewDecomposer(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	p, q, k := cfg.GridRows, cfg.GridCols, cfg.Miniblock
	angles := mesh.AngleCount(k)

	meshMode := quant.ModeTriangle
	filter := 3
	if cfg.Algorithm == mesh.Clements {
		meshMode = quant.ModeRectangle
		filter = 5
	}
	mkQuant := func(mode quant.MeshMode, size int) *quant.PhaseQuantizer {
		return quant.NewPhaseQuantizer(quant.PhaseQuantizerConfig{
			Bits:                cfg.WBits,
			VPi:                 cfg.VPi,
			VMax:                cfg.VMax,
			CrosstalkFilterSize: size,
			Mode:                mode,
		})
	}

	c := &Core{
		cfg:    cfg,
		Weight: tensor.NewBlockMatrix(p, q, k),
		U:      tensor.NewBlockMatrix(p, q, k),
		S:      tensor.NewBlockVector(p, q, k),
		V:      tensor.NewBlockMatrix(p, q, k),

		DeltaU: tensor.NewBlockVector(p, q, k),
		PhaseU: tensor.NewBlockVector(p, q, angles),
		PhaseS: tensor.NewBlockVector(p, q, k),
		DeltaV: tensor.NewBlockVector(p, q, k),
		PhaseV: tensor.NewBlockVector(p, q, angles),
		SScale: tensor.NewBlockVector(p, q, 1),

		VoltageU: tensor.NewBlockVector(p, q, angles),
		VoltageS: tensor.NewBlockVector(p, q, k),
		VoltageV: tensor.NewBlockVector(p, q, angles),

		decomposer: dec,
		quantU:     mkQuant(meshMode, filter),
		quantS:     mkQuant(quant.ModeDiagonal, filter),
		quantV:     mkQuant(meshMode, filter),
		gamma:      quant.Gamma(cfg.VPi),
	}
	return c, nil
}

// Mode returns the active authoritative representation.
func (c *Core) Mode() Mode { return c.cfg.Mode }

// Miniblock returns the block edge length k.
func (c *Core) Miniblock() int { return c.cfg.Miniblock }

// GridDims returns the block grid shape.
func (c *Core) GridDims() (rows, cols int) { return c.cfg.GridRows, c.cfg.GridCols }

// Gamma returns the nominal voltage-squared-to-phase device constant.
func (c *Core) Gamma() float64 { return c.gamma }

// WBits returns the active weight/phase bit-width.
func (c *Core) WBits() int { return c.cfg.WBits }

// Decomposer exposes the unitary decomposer for callers that operate on
// raw meshes.
func (c *Core) Decomposer() *mesh.Decomposer { return c.decomposer }

// BuildUSVFromWeight factors every block of w by full singular value
// decomposition into the stored U, S, V. This is the one smooth,
// differentiable path from the dense representation.
func (c *Core) BuildUSVFromWeight(w *tensor.BlockMatrix) error {
	if !w.SameShape(c.Weight) {
		return NewShapeError("BuildUSVFromWeight",
			fmt.Sprintf("weight grid [%d,%d,k=%d] does not match core [%d,%d,k=%d]",
				w.Rows, w.Cols, w.K, c.cfg.GridRows, c.cfg.GridCols, c.cfg.Miniblock))
	}
	k := w.K
	var svd mat.SVD
	var u, v mat.Dense
	for r := 0; r < w.Rows; r++ {
		for q := 0; q < w.Cols; q++ {
			if !svd.Factorize(w.Dense(r, q), mat.SVDFull) {
				return NewNumericalError("BuildUSVFromWeight",
					fmt.Sprintf("SVD failed to converge for block (%d,%d)", r, q), nil)
			}
			svd.UTo(&u)
			svd.VTo(&v)
			copy(c.S.Vec(r, q), svd.Values(nil))
			ub, vb := c.U.Block(r, q), c.V.Block(r, q)
			for i := 0; i < k; i++ {
				for j := 0; j < k; j++ {
					ub[i*k+j] = u.At(i, j)
					// gonum yields W = U·diag(S)·Vᵀ; we store Vᵀ so that
					// Weight = U·diag(S)·V holds for the stored V.
					vb[i*k+j] = v.At(j, i)
				}
			}
		}
	}
	return nil
}

// BuildWeightFromUSV materializes Weight = U·diag(S)·V per block. Smooth
// in all three factors.
func (c *Core) BuildWeightFromUSV(u *tensor.BlockMatrix, s *tensor.BlockVector, v *tensor.BlockMatrix) (*tensor.BlockMatrix, error) {
	if !u.SameShape(c.U) || !v.SameShape(c.V) || !s.SameShape(c.S) {
		return nil, NewShapeError("BuildWeightFromUSV", "factor shapes do not match core grid")
	}
	k := u.K
	sv := make([]float64, k*k)
	for r := 0; r < u.Rows; r++ {
		for q := 0; q < u.Cols; q++ {
			// diag(S)·V scales the rows of V.
			vb, sb := v.Block(r, q), s.Vec(r, q)
			for i := 0; i < k; i++ {
				for j := 0; j < k; j++ {
					sv[i*k+j] = sb[i] * vb[i*k+j]
				}
			}
			c.Weight.Dense(r, q).Mul(u.Dense(r, q), mat.NewDense(k, k, sv))
		}
	}
	return c.Weight, nil
}

// BuildPhaseFromUSV snapshots the factored form into the phase
// representation: U and V are decomposed independently into mesh angles,
// SScale picks up max|S| per block, and PhaseS = arccos(S / SScale).
// The decomposition fixes a discrete rotation sequence, so this
// conversion is not gradient-bearing.
//
// An all-zero S (a dark block) keeps SScale at 0 and parks PhaseS at
// pi/2, whose cosine reconstructs the exact zero without NaN.
func (c *Core) BuildPhaseFromUSV(u *tensor.BlockMatrix, s *tensor.BlockVector, v *tensor.BlockMatrix) error {
	if !u.SameShape(c.U) || !v.SameShape(c.V) || !s.SameShape(c.S) {
		return NewShapeError("BuildPhaseFromUSV", "factor shapes do not match core grid")
	}

	delta, phi, err := c.decomposer.Decompose(u)
	if err != nil {
		return err
	}
	c.DeltaU.CopyFrom(delta)
	vec, err := c.decomposer.Codec().ToVector(phi)
	if err != nil {
		return err
	}
	c.PhaseU.CopyFrom(vec)

	delta, phi, err = c.decomposer.Decompose(v)
	if err != nil {
		return err
	}
	c.DeltaV.CopyFrom(delta)
	vec, err = c.decomposer.Codec().ToVector(phi)
	if err != nil {
		return err
	}
	c.PhaseV.CopyFrom(vec)

	for r := 0; r < s.Rows; r++ {
		for q := 0; q < s.Cols; q++ {
			sb := s.Vec(r, q)
			scale := tensor.MaxAbs(sb)
			c.SScale.Vec(r, q)[0] = scale
			ps := c.PhaseS.Vec(r, q)
			for i, sv := range sb {
				if scale == 0 {
					ps[i] = math.Pi / 2
					continue
				}
				ps[i] = math.Acos(clamp(sv/scale, -1, 1))
			}
		}
	}
	return nil
}

// BuildUSVFromPhase rebuilds the factored form from the phase
// representation: U and V by mesh reconstruction, S = SScale · cos(PhaseS).
// Smooth in the phases, a discrete snapshot in the deltas. paths selects
// which factors to rebuild; omitted ones keep their cached values.
func (c *Core) BuildUSVFromPhase(deltaU, phaseU, deltaV, phaseV, phaseS, sScale *tensor.BlockVector, paths ...Path) error {
	set := resolvePaths(paths)
	codec := c.decomposer.Codec()

	if set.u {
		if !phaseU.SameShape(c.PhaseU) || !deltaU.SameShape(c.DeltaU) {
			return NewShapeError("BuildUSVFromPhase", "U phase shapes do not match core grid")
		}
		layout, err := codec.ToLayout(phaseU)
		if err != nil {
			return err
		}
		u, err := c.decomposer.Reconstruct(deltaU, layout)
		if err != nil {
			return err
		}
		c.U.CopyFrom(u)
	}
	if set.v {
		if !phaseV.SameShape(c.PhaseV) || !deltaV.SameShape(c.DeltaV) {
			return NewShapeError("BuildUSVFromPhase", "V phase shapes do not match core grid")
		}
		layout, err := codec.ToLayout(phaseV)
		if err != nil {
			return err
		}
		v, err := c.decomposer.Reconstruct(deltaV, layout)
		if err != nil {
			return err
		}
		c.V.CopyFrom(v)
	}
	if set.s {
		if !phaseS.SameShape(c.PhaseS) || !sScale.SameShape(c.SScale) {
			return NewShapeError("BuildUSVFromPhase", "S phase shapes do not match core grid")
		}
		for r := 0; r < phaseS.Rows; r++ {
			for q := 0; q < phaseS.Cols; q++ {
				scale := sScale.Vec(r, q)[0]
				ps := phaseS.Vec(r, q)
				sb := c.S.Vec(r, q)
				for i, p := range ps {
					sb[i] = scale * math.Cos(p)
				}
			}
		}
	}
	return nil
}

// BuildWeightFromPhase rebuilds the selected factors from the phase
// representation and materializes the dense weight from them.
func (c *Core) BuildWeightFromPhase(deltaU, phaseU, deltaV, phaseV, phaseS *tensor.BlockVector, paths ...Path) (*tensor.BlockMatrix, error) {
	if err := c.BuildUSVFromPhase(deltaU, phaseU, deltaV, phaseV, phaseS, c.SScale, paths...); err != nil {
		return nil, err
	}
	return c.BuildWeightFromUSV(c.U, c.S, c.V)
}

// BuildPhaseFromWeight chains weight -> usv -> phase.
func (c *Core) BuildPhaseFromWeight(w *tensor.BlockMatrix) error {
	if err := c.BuildUSVFromWeight(w); err != nil {
		return err
	}
	return c.BuildPhaseFromUSV(c.U, c.S, c.V)
}

// BuildVoltageFromPhase reparametrizes the stored phases as drive
// voltages under the device nonlinearity.
func (c *Core) BuildVoltageFromPhase(phaseU, phaseS, phaseV *tensor.BlockVector) error {
	if !phaseU.SameShape(c.PhaseU) || !phaseS.SameShape(c.PhaseS) || !phaseV.SameShape(c.PhaseV) {
		return NewShapeError("BuildVoltageFromPhase", "phase shapes do not match core grid")
	}
	c.VoltageU.CopyFrom(quant.PhaseToVoltage(phaseU, c.gamma))
	c.VoltageS.CopyFrom(quant.PhaseToVoltage(phaseS, c.gamma))
	c.VoltageV.CopyFrom(quant.PhaseToVoltage(phaseV, c.gamma))
	return nil
}

// BuildWeightFromVoltage recovers phases from the given voltages (each
// sub-path with its own gamma, so per-path device constants can differ)
// and materializes the dense weight from them.
func (c *Core) BuildWeightFromVoltage(deltaU, voltageU, deltaV, voltageV, voltageS *tensor.BlockVector, gammaU, gammaV, gammaS float64) (*tensor.BlockMatrix, error) {
	if !voltageU.SameShape(c.VoltageU) || !voltageV.SameShape(c.VoltageV) || !voltageS.SameShape(c.VoltageS) {
		return nil, NewShapeError("BuildWeightFromVoltage", "voltage shapes do not match core grid")
	}
	c.PhaseU.CopyFrom(quant.VoltageToPhase(voltageU, gammaU))
	c.PhaseV.CopyFrom(quant.VoltageToPhase(voltageV, gammaV))
	c.PhaseS.CopyFrom(quant.VoltageToPhase(voltageS, gammaS))
	return c.BuildWeightFromPhase(deltaU, c.PhaseU, deltaV, c.PhaseV, c.PhaseS)
}

// SyncParameters refreshes every other representation from the named
// source, e.g. after importing pretrained weights or after an optimizer
// step on the source parameters.
func (c *Core) SyncParameters(src Mode) error {
	switch src {
	case ModeWeight:
		return c.BuildPhaseFromWeight(c.Weight)
	case ModeUSV:
		if err := c.BuildPhaseFromUSV(c.U, c.S, c.V); err != nil {
			return err
		}
		_, err := c.BuildWeightFromUSV(c.U, c.S, c.V)
		return err
	case ModePhase:
		phaseU, phaseS, phaseV := c.maybeQuantizePhases()
		phaseU, phaseV = c.maybeDriftPhases(phaseU, phaseV)
		_, err := c.BuildWeightFromPhase(c.DeltaU, phaseU, c.DeltaV, phaseV, phaseS)
		return err
	case ModeVoltage:
		return NewNotImplementedError("SyncParameters", "voltage source synchronization is not supported")
	default:
		return NewInvalidArgError("SyncParameters", fmt.Sprintf("unknown source mode %d", int(src)))
	}
}

// BuildWeight materializes the dense weight from the active mode's
// representation. For phase mode the stored phases pass through the
// quantizers just in time whenever the bit-width is below 16 or noise or
// crosstalk is enabled; the stored phases themselves are never rewritten,
// so reconfiguring noise between reads changes only the materialized
// view. paths limits reconstruction to the sub-paths that changed.
func (c *Core) BuildWeight(paths ...Path) (*tensor.BlockMatrix, error) {
	switch c.cfg.Mode {
	case ModeWeight:
		return c.Weight, nil
	case ModeUSV:
		return c.BuildWeightFromUSV(c.U, c.S, c.V)
	case ModePhase:
		phaseU, phaseS, phaseV := c.maybeQuantizePhases()
		phaseU, phaseV = c.maybeDriftPhases(phaseU, phaseV)
		return c.BuildWeightFromPhase(c.DeltaU, phaseU, c.DeltaV, phaseV, phaseS, paths...)
	case ModeVoltage:
		return nil, NewNotImplementedError("BuildWeight", "voltage mode has no forward path")
	default:
		return nil, NewInvalidArgError("BuildWeight", fmt.Sprintf("unknown mode %d", int(c.cfg.Mode)))
	}
}

// maybeQuantizePhases returns the stored phases, passed through the
// quantizers when any fidelity degradation is active.
func (c *Core) maybeQuantizePhases() (phaseU, phaseS, phaseV *tensor.BlockVector) {
	if c.cfg.WBits < continuousBits || c.gammaNoiseStd > effectivelyZero || c.crosstalkFactor > effectivelyZero {
		return c.quantU.Quantize(c.PhaseU), c.quantS.Quantize(c.PhaseS), c.quantV.Quantize(c.PhaseV)
	}
	return c.PhaseU, c.PhaseS, c.PhaseV
}

// maybeDriftPhases adds truncated Gaussian phase drift to the U and V
// angle vectors. PhaseS is assumed protected, matching hardware designs
// that stabilize the attenuation stage. A fresh sample is drawn per
// materialization from the stream seeded by SetPhaseNoise.
func (c *Core) maybeDriftPhases(phaseU, phaseV *tensor.BlockVector) (*tensor.BlockVector, *tensor.BlockVector) {
	if c.phaseNoiseStd <= effectivelyZero || c.phaseRng == nil {
		return phaseU, phaseV
	}
	drift := func(src *tensor.BlockVector) *tensor.BlockVector {
		out := src
		if out == c.PhaseU || out == c.PhaseV {
			out = src.Clone()
		}
		bound := 2 * c.phaseNoiseStd
		for i := range out.Data {
			out.Data[i] += clamp(c.phaseRng.NormFloat64()*c.phaseNoiseStd, -bound, bound)
		}
		return out
	}
	return drift(phaseU), drift(phaseV)
}

// SetGammaNoise reseeds the device-variation sample of all three phase
// quantizers. The same (std, seed) pair reproduces identical devices.
func (c *Core) SetGammaNoise(std float64, seed int64) {
	c.gammaNoiseStd = std
	p, q := c.cfg.GridRows, c.cfg.GridCols
	c.quantU.SetGammaNoise(std, p, q, c.PhaseU.N, seed)
	c.quantS.SetGammaNoise(std, p, q, c.PhaseS.N, seed)
	c.quantV.SetGammaNoise(std, p, q, c.PhaseV.N, seed)
}

// SetCrosstalkFactor updates the neighbor-coupling strength, effective on
// the next materialization.
func (c *Core) SetCrosstalkFactor(factor float64) {
	c.crosstalkFactor = factor
	c.quantU.SetCrosstalkFactor(factor)
	c.quantS.SetCrosstalkFactor(factor)
	c.quantV.SetCrosstalkFactor(factor)
}

// SetWeightBitwidth updates the phase DAC bit-width, effective on the
// next materialization.
func (c *Core) SetWeightBitwidth(bits int) {
	c.cfg.WBits = bits
	c.quantU.SetBitwidth(bits)
	c.quantS.SetBitwidth(bits)
	c.quantV.SetBitwidth(bits)
}

// SetPhaseNoise configures additive phase drift on the U and V angles,
// drawn fresh on every materialization from the given seed's stream.
func (c *Core) SetPhaseNoise(std float64, seed int64) {
	c.phaseNoiseStd = std
	if std > effectivelyZero {
		c.phaseRng = rand.New(rand.NewSource(seed))
	} else {
		c.phaseRng = nil
	}
}

// switchMode changes the authoritative representation. Callers must sync
// from the old mode first so the new source holds current values.
func (c *Core) switchMode(m Mode) error {
	if !m.valid() {
		return NewInvalidArgError("SwitchMode", fmt.Sprintf("unknown mode %d", int(m)))
	}
	if m == ModeVoltage {
		return NewNotImplementedError("SwitchMode", "voltage is not a trainable source mode")
	}
	c.cfg.Mode = m
	return nil
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
