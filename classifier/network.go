package classifier

import (
	"fmt"
	"strings"

	"github.com/Noofbiz/gesturefit/backbone"
	"github.com/Noofbiz/gesturefit/checkpoint"
)

// Kind tells the two trainable network shapes apart.
type Kind int

const (
	// ClassifierOnly applies the head to every feature row.
	ClassifierOnly Kind = iota
	// BackboneTailPlusClassifier runs the finetuned backbone layers before
	// the head.
	BackboneTailPlusClassifier
)

func (k Kind) String() string {
	if k == BackboneTailPlusClassifier {
		return "backbone-tail+classifier"
	}
	return "classifier-only"
}

// Network is the trainable network. The tail layers always run in
// backbone.BatchMode: every training sample is already a full window.
type Network struct {
	Kind Kind
	Tail []*backbone.TemporalConv
	Head *LogisticRegression
}

// New composes the given tail (possibly empty) with the head.
func New(tail []*backbone.TemporalConv, head *LogisticRegression) (*Network, error) {
	n := &Network{Kind: ClassifierOnly, Head: head}
	if len(tail) > 0 {
		n.Kind = BackboneTailPlusClassifier
		n.Tail = tail
		if out := tail[len(tail)-1].Out; out != head.NumIn {
			return nil, fmt.Errorf("head expects %d inputs but the backbone tail emits %d", head.NumIn, out)
		}
	}
	return n, nil
}

func (n *Network) String() string {
	if n.Kind == ClassifierOnly {
		return n.Head.String()
	}
	parts := make([]string, 0, len(n.Tail)+1)
	for _, l := range n.Tail {
		parts = append(parts, fmt.Sprintf("TemporalConv(%d, %d, kernel=%d, stride=%d)", l.In, l.Out, l.Kernel, l.Stride))
	}
	parts = append(parts, n.Head.String())
	return "Pipe(" + strings.Join(parts, ", ") + ")"
}

// RequiredRows is the number of input rows needed for one output.
func (n *Network) RequiredRows() int {
	need := 1
	for i := len(n.Tail) - 1; i >= 0; i-- {
		l := n.Tail[i]
		need = (need-1)*l.Stride + l.Kernel
	}
	return need
}

// Stride is the number of input rows between consecutive outputs.
func (n *Network) Stride() int {
	s := 1
	for _, l := range n.Tail {
		s *= l.Stride
	}
	return s
}

// OutputLen returns the number of outputs for t input rows.
func (n *Network) OutputLen(t int) int {
	for _, l := range n.Tail {
		t = l.OutputLen(t, backbone.BatchMode)
	}
	return t
}

// OutputRow is the last input row that output j depends on. Per-row labels
// are aligned with outputs through it.
func (n *Network) OutputRow(j int) int {
	return j*n.Stride() + n.RequiredRows() - 1
}

// Forward maps input rows to one score vector per output.
func (n *Network) Forward(x [][]float32) [][]float32 {
	for _, l := range n.Tail {
		x = l.Forward(x, backbone.BatchMode)
	}
	out := make([][]float32, len(x))
	for i, row := range x {
		out[i] = n.Head.Forward(row)
	}
	return out
}

// Cache holds the activations of a training forward pass.
type Cache struct {
	tail    []*backbone.ConvCache
	headIn  [][]float32
	outputs int
}

// ForwardTrain returns per-output logits and the cache Backward needs.
// Softmax is never applied here.
func (n *Network) ForwardTrain(x [][]float32) ([][]float32, *Cache) {
	c := &Cache{tail: make([]*backbone.ConvCache, len(n.Tail))}
	for i, l := range n.Tail {
		x, c.tail[i] = l.ForwardCached(x)
	}
	c.headIn = x
	c.outputs = len(x)
	out := make([][]float32, len(x))
	for i, row := range x {
		out[i] = n.Head.Logits(row)
	}
	return out, c
}

// Variable is a named view on one trainable parameter. Value aliases the
// network's storage.
type Variable struct {
	Key   string
	Shape []int
	Value []float32
}

// Variables lists the trainable parameters: tail layers first, head last.
func (n *Network) Variables() []Variable {
	vars := make([]Variable, 0, 2*len(n.Tail)+2)
	for _, l := range n.Tail {
		vars = append(vars,
			Variable{Key: l.WeightKey(), Shape: []int{l.Out, l.Kernel, l.In}, Value: l.Weight},
			Variable{Key: l.BiasKey(), Shape: []int{l.Out}, Value: l.Bias},
		)
	}
	return append(vars,
		Variable{Key: WeightKey, Shape: []int{n.Head.NumOut, n.Head.NumIn}, Value: n.Head.Weight},
		Variable{Key: BiasKey, Shape: []int{n.Head.NumOut}, Value: n.Head.Bias},
	)
}

// NewGradients allocates zeroed gradient buffers matching Variables.
func (n *Network) NewGradients() [][]float32 {
	vars := n.Variables()
	g := make([][]float32, len(vars))
	for i, v := range vars {
		g[i] = make([]float32, len(v.Value))
	}
	return g
}

// Backward accumulates the gradients of dLogits (one row per output) into
// grads, which must come from NewGradients.
func (n *Network) Backward(c *Cache, dLogits [][]float32, grads [][]float32) {
	if len(dLogits) != c.outputs {
		panic(fmt.Sprintf("got %d logit gradients for %d outputs", len(dLogits), c.outputs))
	}
	hw, hb := grads[len(grads)-2], grads[len(grads)-1]
	dx := make([][]float32, len(c.headIn))
	for i, row := range c.headIn {
		dx[i] = n.Head.backward(row, dLogits[i], hw, hb)
	}
	for i := len(n.Tail) - 1; i >= 0; i-- {
		dx = n.Tail[i].Backward(c.tail[i], dx, grads[2*i], grads[2*i+1])
	}
}

// StateDict returns copies of all parameters under their checkpoint keys, so
// the result merges directly into backbone weights.
func (n *Network) StateDict() checkpoint.Checkpoint {
	c := make(checkpoint.Checkpoint)
	for _, v := range n.Variables() {
		c[v.Key] = &checkpoint.Param{Shape: append([]int(nil), v.Shape...), Data: append([]float32(nil), v.Value...)}
	}
	return c
}

// LoadStateDict copies every parameter from c.
func (n *Network) LoadStateDict(c checkpoint.Checkpoint) error {
	for _, v := range n.Variables() {
		if err := loadParam(c, v.Key, v.Shape, v.Value); err != nil {
			return err
		}
	}
	return nil
}
