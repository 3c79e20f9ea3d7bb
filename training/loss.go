package training

import (
	"math"

	"github.com/Noofbiz/gesturefit/classifier"
)

// CrossEntropy returns the softmax cross-entropy of logits against label and
// the gradient with respect to the logits.
func CrossEntropy(logits []float32, label int) (float64, []float32) {
	p := append([]float32(nil), logits...)
	classifier.Softmax(p)
	loss := -math.Log(math.Max(float64(p[label]), 1e-12))
	p[label] -= 1
	return loss, p
}

// Argmax returns the index of the largest value.
func Argmax(v []float32) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}

// MeanRows averages rows element-wise.
func MeanRows(rows [][]float32) []float32 {
	if len(rows) == 0 {
		return nil
	}
	out := make([]float32, len(rows[0]))
	for _, r := range rows {
		for i, v := range r {
			out[i] += v
		}
	}
	inv := 1 / float32(len(rows))
	for i := range out {
		out[i] *= inv
	}
	return out
}
