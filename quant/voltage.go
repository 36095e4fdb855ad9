package quant

import (
	"math"

	"github.com/sunfishho/pytorch-onn-maml/tensor"
)

// Gamma derives the voltage-squared-to-phase constant from the pi-shift
// voltage: a drive of vPi volts induces a phase shift of pi.
func Gamma(vPi float64) float64 {
	return math.Pi / (vPi * vPi)
}

// PhaseToVoltage maps phases to the drive voltages realizing them under
// phase = gamma * voltage^2. Phases are wrapped into [0, 2pi) first, so
// the result is always real and non-negative.
func PhaseToVoltage(phase *tensor.BlockVector, gamma float64) *tensor.BlockVector {
	out := phase.Clone()
	for i, p := range out.Data {
		p = math.Mod(p, 2*math.Pi)
		if p < 0 {
			p += 2 * math.Pi
		}
		out.Data[i] = math.Sqrt(p / gamma)
	}
	return out
}

// VoltageToPhase recovers phases from drive voltages via the forward
// nonlinearity phase = gamma * voltage^2.
func VoltageToPhase(voltage *tensor.BlockVector, gamma float64) *tensor.BlockVector {
	out := voltage.Clone()
	for i, v := range out.Data {
		out.Data[i] = gamma * v * v
	}
	return out
}
