// Package backbone implements the pretrained video backbone: a frame
// embedding followed by a stack of temporal convolutions. It exposes the
// metadata the finetuning pipeline needs (feature dimensionality, temporal
// stride, and the number of input steps each finetuning depth requires).
package backbone

import (
	"fmt"
	"math/rand"

	"github.com/Noofbiz/gesturefit/checkpoint"
	"github.com/Noofbiz/gesturefit/video"
)

// Network is a backbone, or a prefix of one after Split.
type Network struct {
	Arch   Architecture
	Layers []*TemporalConv
}

// NewRandom builds a network with freshly initialised weights.
func NewRandom(arch Architecture, seed int64) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	n := &Network{Arch: arch}
	in := arch.InputDim()
	for i, spec := range arch.Layers {
		l := newTemporalConv(i, in, spec, rng)
		n.Layers = append(n.Layers, l)
		in = spec.Out
	}
	return n, nil
}

// New builds a network and loads its weights from c. Every layer parameter
// must be present with the expected shape; extra keys are ignored.
func New(arch Architecture, c checkpoint.Checkpoint) (*Network, error) {
	n, err := NewRandom(arch, 0)
	if err != nil {
		return nil, err
	}
	if err := n.LoadStateDict(c); err != nil {
		return nil, err
	}
	return n, nil
}

// LoadStateDict copies layer weights from c.
func (n *Network) LoadStateDict(c checkpoint.Checkpoint) error {
	for _, l := range n.Layers {
		if err := loadInto(c, l.WeightKey(), []int{l.Out, l.Kernel, l.In}, l.Weight); err != nil {
			return err
		}
		if err := loadInto(c, l.BiasKey(), []int{l.Out}, l.Bias); err != nil {
			return err
		}
	}
	return nil
}

func loadInto(c checkpoint.Checkpoint, key string, shape []int, dst []float32) error {
	p, ok := c[key]
	if !ok {
		return fmt.Errorf("missing weights for %s", key)
	}
	if len(p.Shape) != len(shape) {
		return fmt.Errorf("weights for %s have shape %v, want %v", key, p.Shape, shape)
	}
	for i := range shape {
		if p.Shape[i] != shape[i] {
			return fmt.Errorf("weights for %s have shape %v, want %v", key, p.Shape, shape)
		}
	}
	copy(dst, p.Data)
	return nil
}

// StateDict returns a copy of the network's weights keyed by layer name.
func (n *Network) StateDict() checkpoint.Checkpoint {
	c := make(checkpoint.Checkpoint, 2*len(n.Layers))
	for _, l := range n.Layers {
		c[l.WeightKey()] = &checkpoint.Param{Shape: []int{l.Out, l.Kernel, l.In}, Data: append([]float32(nil), l.Weight...)}
		c[l.BiasKey()] = &checkpoint.Param{Shape: []int{l.Out}, Data: append([]float32(nil), l.Bias...)}
	}
	return c
}

// FeatureDim is the width of the rows the network produces.
func (n *Network) FeatureDim() int {
	if len(n.Layers) == 0 {
		return n.Arch.InputDim()
	}
	return n.Layers[len(n.Layers)-1].Out
}

// FPS is the frame rate the network expects.
func (n *Network) FPS() float64 { return n.Arch.FPS }

// StepSize is the number of input frames consumed per output row, i.e. the
// product of the layer strides.
func (n *Network) StepSize() int {
	s := 1
	for _, l := range n.Layers {
		s *= l.Stride
	}
	return s
}

// RequiredFrames returns the per-layer temporal dependency table. Entry k
// (1 <= k <= len(Layers)) is the number of input rows the last k layers need
// to produce one output row in BatchMode. Entry 0 is the number of frames the
// whole network needs, and doubles as the sentinel for "no finetuning".
func (n *Network) RequiredFrames() map[int]int {
	table := make(map[int]int, len(n.Layers)+1)
	need := 1
	for k := 1; k <= len(n.Layers); k++ {
		l := n.Layers[len(n.Layers)-k]
		need = (need-1)*l.Stride + l.Kernel
		table[k] = need
	}
	table[0] = need
	return table
}

// MinimumFrames is the number of frames needed for one output row.
func (n *Network) MinimumFrames() int {
	return n.RequiredFrames()[0]
}

// Split removes the last k layers. It returns the remaining prefix and the
// removed tail; both share weights with n.
func (n *Network) Split(k int) (*Network, []*TemporalConv, error) {
	if k < 0 || k > len(n.Layers) {
		return nil, nil, fmt.Errorf("cannot split %d layers from a %d layer network", k, len(n.Layers))
	}
	cut := len(n.Layers) - k
	prefix := &Network{Arch: n.Arch, Layers: n.Layers[:cut:cut]}
	tail := append([]*TemporalConv(nil), n.Layers[cut:]...)
	return prefix, tail, nil
}

// Embed pools each frame into a vector of Arch.InputDim values in [-0.5, 0.5].
func (n *Network) Embed(frames []video.Image) [][]float32 {
	out := make([][]float32, len(frames))
	for i, im := range frames {
		out[i] = embedFrame(im, n.Arch.GridRows, n.Arch.GridCols)
	}
	return out
}

func embedFrame(im video.Image, rows, cols int) []float32 {
	vec := make([]float32, rows*cols*3)
	for r := 0; r < rows; r++ {
		y0, y1 := r*im.Height/rows, (r+1)*im.Height/rows
		for c := 0; c < cols; c++ {
			x0, x1 := c*im.Width/cols, (c+1)*im.Width/cols
			var sum [3]float64
			count := 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					rr, gg, bb := im.At(x, y)
					sum[0] += float64(rr)
					sum[1] += float64(gg)
					sum[2] += float64(bb)
					count++
				}
			}
			base := (r*cols + c) * 3
			for ch := 0; ch < 3; ch++ {
				if count > 0 {
					vec[base+ch] = float32(sum[ch]/float64(count)/255.0 - 0.5)
				}
			}
		}
	}
	return vec
}

// Forward runs all layers over embedded rows.
func (n *Network) Forward(x [][]float32, mode Mode) [][]float32 {
	for _, l := range n.Layers {
		x = l.Forward(x, mode)
	}
	return x
}

// ForwardFrames embeds frames and runs the network.
func (n *Network) ForwardFrames(frames []video.Image, mode Mode) [][]float32 {
	return n.Forward(n.Embed(frames), mode)
}
