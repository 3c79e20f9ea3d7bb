// Package classifier holds the trainable part of a gesture model: a logistic
// regression head, optionally preceded by the finetuned tail of the backbone.
package classifier

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/Noofbiz/gesturefit/checkpoint"
)

const (
	// WeightKey and BiasKey name the head parameters in checkpoints.
	WeightKey = "linear.weight"
	BiasKey   = "linear.bias"
)

// LogisticRegression is a single linear layer from NumIn features to NumOut
// class scores. With UseSoftmax the scores are turned into probabilities;
// training uses the raw logits.
type LogisticRegression struct {
	NumIn      int
	NumOut     int
	UseSoftmax bool

	// Weight has shape (NumOut, NumIn), row-major.
	Weight []float32
	Bias   []float32
}

// NewLogisticRegression creates a head with Xavier-uniform weights and zero
// biases.
func NewLogisticRegression(numIn, numOut int, useSoftmax bool, seed int64) (*LogisticRegression, error) {
	if numIn <= 0 || numOut <= 0 {
		return nil, fmt.Errorf("invalid head dimensions %dx%d", numIn, numOut)
	}
	m := &LogisticRegression{
		NumIn:      numIn,
		NumOut:     numOut,
		UseSoftmax: useSoftmax,
		Weight:     make([]float32, numIn*numOut),
		Bias:       make([]float32, numOut),
	}
	rng := rand.New(rand.NewSource(seed))
	limit := float32(math.Sqrt(6.0 / float64(numIn+numOut)))
	for i := range m.Weight {
		m.Weight[i] = (rng.Float32()*2.0 - 1.0) * limit
	}
	return m, nil
}

func (m *LogisticRegression) String() string {
	return fmt.Sprintf("LogisticRegression(num_in=%d, num_out=%d, use_softmax=%t)", m.NumIn, m.NumOut, m.UseSoftmax)
}

// Logits computes W x + b.
func (m *LogisticRegression) Logits(x []float32) []float32 {
	if len(x) != m.NumIn {
		panic(fmt.Sprintf("head input has %d values, want %d", len(x), m.NumIn))
	}
	out := make([]float32, m.NumOut)
	for o := range out {
		sum := m.Bias[o]
		row := m.Weight[o*m.NumIn : (o+1)*m.NumIn]
		for i, v := range x {
			sum += row[i] * v
		}
		out[o] = sum
	}
	return out
}

// Forward returns probabilities when UseSoftmax is set and logits otherwise.
func (m *LogisticRegression) Forward(x []float32) []float32 {
	out := m.Logits(x)
	if m.UseSoftmax {
		Softmax(out)
	}
	return out
}

// backward accumulates parameter gradients for one input row and returns the
// gradient with respect to x. dy is the gradient of the logits.
func (m *LogisticRegression) backward(x, dy, gradW, gradB []float32) []float32 {
	dx := make([]float32, m.NumIn)
	for o, g := range dy {
		if g == 0 {
			continue
		}
		gradB[o] += g
		row := m.Weight[o*m.NumIn : (o+1)*m.NumIn]
		gw := gradW[o*m.NumIn : (o+1)*m.NumIn]
		for i, v := range x {
			gw[i] += g * v
			dx[i] += g * row[i]
		}
	}
	return dx
}

// StateDict returns a copy of the head parameters.
func (m *LogisticRegression) StateDict() checkpoint.Checkpoint {
	return checkpoint.Checkpoint{
		WeightKey: {Shape: []int{m.NumOut, m.NumIn}, Data: append([]float32(nil), m.Weight...)},
		BiasKey:   {Shape: []int{m.NumOut}, Data: append([]float32(nil), m.Bias...)},
	}
}

// LoadStateDict copies head parameters from c, checking shapes.
func (m *LogisticRegression) LoadStateDict(c checkpoint.Checkpoint) error {
	if err := loadParam(c, WeightKey, []int{m.NumOut, m.NumIn}, m.Weight); err != nil {
		return err
	}
	return loadParam(c, BiasKey, []int{m.NumOut}, m.Bias)
}

// HeadFromStateDict builds a head whose dimensions come from the stored
// weight shape.
func HeadFromStateDict(c checkpoint.Checkpoint, useSoftmax bool) (*LogisticRegression, error) {
	w, ok := c[WeightKey]
	if !ok || len(w.Shape) != 2 {
		return nil, fmt.Errorf("checkpoint has no usable %s", WeightKey)
	}
	m, err := NewLogisticRegression(w.Shape[1], w.Shape[0], useSoftmax, 0)
	if err != nil {
		return nil, err
	}
	if err := m.LoadStateDict(c); err != nil {
		return nil, err
	}
	return m, nil
}

func loadParam(c checkpoint.Checkpoint, key string, shape []int, dst []float32) error {
	p, ok := c[key]
	if !ok {
		return fmt.Errorf("missing weights for %s", key)
	}
	if fmt.Sprint(p.Shape) != fmt.Sprint(shape) {
		return fmt.Errorf("weights for %s have shape %v, want %v", key, p.Shape, shape)
	}
	copy(dst, p.Data)
	return nil
}

// Softmax normalises v in place.
func Softmax(v []float32) {
	if len(v) == 0 {
		return
	}
	max := v[0]
	for _, x := range v[1:] {
		if x > max {
			max = x
		}
	}
	var sum float64
	for i, x := range v {
		e := math.Exp(float64(x - max))
		v[i] = float32(e)
		sum += e
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / sum)
	}
}
