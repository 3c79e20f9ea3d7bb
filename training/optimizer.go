// Package training fits a classifier.Network on precomputed features and
// keeps the best and last checkpoints of the run.
package training

import (
	"fmt"
	"math"

	"github.com/Noofbiz/gesturefit/classifier"
)

// AdamConfig holds the Adam hyperparameters. Zero values get defaults.
type AdamConfig struct {
	Beta1   float64
	Beta2   float64
	Epsilon float64
	// ClipNorm bounds the global gradient norm. Zero disables clipping.
	ClipNorm float64
}

// Adam keeps first and second moment estimates per variable.
type Adam struct {
	cfg  AdamConfig
	m, v [][]float64
	step int
}

// NewAdam creates an optimizer for the given variables.
func NewAdam(vars []classifier.Variable, cfg AdamConfig) *Adam {
	if cfg.Beta1 == 0 {
		cfg.Beta1 = 0.9
	}
	if cfg.Beta2 == 0 {
		cfg.Beta2 = 0.999
	}
	if cfg.Epsilon == 0 {
		cfg.Epsilon = 1e-8
	}
	a := &Adam{cfg: cfg, m: make([][]float64, len(vars)), v: make([][]float64, len(vars))}
	for i, vr := range vars {
		a.m[i] = make([]float64, len(vr.Value))
		a.v[i] = make([]float64, len(vr.Value))
	}
	return a
}

// Step applies one update with learning rate lr. grads are the summed
// gradients of a batch and are divided by batchSize first.
func (a *Adam) Step(vars []classifier.Variable, grads [][]float32, lr float64, batchSize int) error {
	if len(vars) != len(a.m) || len(grads) != len(vars) {
		return fmt.Errorf("optimizer built for %d variables, got %d variables and %d gradients", len(a.m), len(vars), len(grads))
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	scale := 1.0 / float64(batchSize)
	if a.cfg.ClipNorm > 0 {
		var sq float64
		for _, g := range grads {
			for _, x := range g {
				sq += float64(x) * float64(x)
			}
		}
		if norm := math.Sqrt(sq) * scale; norm > a.cfg.ClipNorm {
			scale *= a.cfg.ClipNorm / norm
		}
	}

	a.step++
	b1, b2 := a.cfg.Beta1, a.cfg.Beta2
	corr1 := 1 - math.Pow(b1, float64(a.step))
	corr2 := 1 - math.Pow(b2, float64(a.step))
	for i, vr := range vars {
		m, v, g := a.m[i], a.v[i], grads[i]
		for j := range vr.Value {
			gj := float64(g[j]) * scale
			m[j] = b1*m[j] + (1-b1)*gj
			v[j] = b2*v[j] + (1-b2)*gj*gj
			mHat := m[j] / corr1
			vHat := v[j] / corr2
			vr.Value[j] -= float32(lr * mHat / (math.Sqrt(vHat) + a.cfg.Epsilon))
		}
	}
	return nil
}
