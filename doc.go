// Package onn simulates photonic neural-network hardware inside a
// differentiable-training pipeline.
//
// A layer's weight matrix is tiled into a grid of k×k blocks, and every
// block is carried in four mathematically equivalent representations:
// the raw dense weight, its singular-value factorization (U, S, V), a
// physical phase-shifter configuration (meshes of two-mode rotations
// plus a cosine-law attenuation stage), and a drive-voltage
// configuration. The Core type keeps the four consistent and knows which
// conversions are smooth and which are snapshots; BlockLinear and
// BlockConv2d build trainable layers on top of it.
//
// Hardware fidelity is modeled on the way to the dense weight: finite
// DAC bit-width, device-to-device gamma variation, thermal crosstalk
// between neighboring phase shifters, and phase drift are applied just
// in time at materialization and never overwrite the stored parameters.
//
// Example usage:
//
//	layer, _ := onn.NewBlockLinear(onn.LinearConfig{
//		InFeatures:  8,
//		OutFeatures: 8,
//		Miniblock:   4,
//		Mode:        onn.ModePhase,
//		Algorithm:   mesh.Clements,
//	})
//	layer.ResetParameters(42)
//	layer.Core().SetWeightBitwidth(8)
//	y, _ := layer.Forward(x, batch)
package onn
