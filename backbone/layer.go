package backbone

import (
	"fmt"
	"math"
	"math/rand"
)

// Mode selects how temporal layers treat the edges of a sequence.
type Mode int

const (
	// StreamingMode pads each temporal convolution causally with Kernel-1
	// zero rows, so a layer emits one row per Stride input rows. Used when
	// running over whole clips.
	StreamingMode Mode = iota
	// BatchMode disables padding: every output row sees a full window of real
	// input. Used for finetuning and for fixed-size windows.
	BatchMode
)

func (m Mode) String() string {
	switch m {
	case StreamingMode:
		return "streaming"
	case BatchMode:
		return "batch"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// TemporalConv is a 1D convolution over time on feature rows, optionally
// followed by ReLU.
type TemporalConv struct {
	// Index is the layer's position in the full network; it names the
	// parameters ("cnn.<Index>.weight").
	Index  int
	Kernel int
	Stride int
	In     int
	Out    int
	ReLU   bool

	// Weight has shape (Out, Kernel, In), row-major.
	Weight []float32
	Bias   []float32
}

// newTemporalConv allocates a layer with Xavier-uniform weights.
func newTemporalConv(index, in int, spec LayerSpec, rng *rand.Rand) *TemporalConv {
	l := &TemporalConv{
		Index:  index,
		Kernel: spec.Kernel,
		Stride: spec.Stride,
		In:     in,
		Out:    spec.Out,
		ReLU:   spec.ReLU,
		Weight: make([]float32, spec.Out*spec.Kernel*in),
		Bias:   make([]float32, spec.Out),
	}
	fanIn := spec.Kernel * in
	limit := float32(math.Sqrt(6.0 / float64(fanIn+spec.Out)))
	for i := range l.Weight {
		l.Weight[i] = (rng.Float32()*2.0 - 1.0) * limit
	}
	return l
}

// WeightKey and BiasKey are the checkpoint names of the layer's parameters.
func (l *TemporalConv) WeightKey() string { return fmt.Sprintf("cnn.%d.weight", l.Index) }
func (l *TemporalConv) BiasKey() string   { return fmt.Sprintf("cnn.%d.bias", l.Index) }

// OutputLen returns the number of rows produced from t input rows.
func (l *TemporalConv) OutputLen(t int, mode Mode) int {
	if mode == StreamingMode {
		if t <= 0 {
			return 0
		}
		return (t-1)/l.Stride + 1
	}
	if t < l.Kernel {
		return 0
	}
	return (t-l.Kernel)/l.Stride + 1
}

// ConvCache keeps what Backward needs from a BatchMode forward pass.
type ConvCache struct {
	Input [][]float32
	Pre   [][]float32
}

// Forward runs the layer over x (rows of length In).
func (l *TemporalConv) Forward(x [][]float32, mode Mode) [][]float32 {
	y, _ := l.forward(x, mode, false)
	return y
}

// ForwardCached runs the layer in BatchMode and keeps the activations for
// Backward.
func (l *TemporalConv) ForwardCached(x [][]float32) ([][]float32, *ConvCache) {
	return l.forward(x, BatchMode, true)
}

func (l *TemporalConv) forward(x [][]float32, mode Mode, keep bool) ([][]float32, *ConvCache) {
	if mode == StreamingMode && l.Kernel > 1 {
		padded := make([][]float32, 0, len(x)+l.Kernel-1)
		for i := 0; i < l.Kernel-1; i++ {
			padded = append(padded, make([]float32, l.In))
		}
		x = append(padded, x...)
	}
	n := l.OutputLen(len(x), BatchMode)
	y := make([][]float32, n)
	var cache *ConvCache
	if keep {
		cache = &ConvCache{Input: x, Pre: make([][]float32, n)}
	}
	span := l.Kernel * l.In
	for t := 0; t < n; t++ {
		start := t * l.Stride
		pre := make([]float32, l.Out)
		for o := 0; o < l.Out; o++ {
			sum := l.Bias[o]
			w := l.Weight[o*span : (o+1)*span]
			for k := 0; k < l.Kernel; k++ {
				row := x[start+k]
				if len(row) != l.In {
					panic(fmt.Sprintf("layer %d: input row has %d values, want %d", l.Index, len(row), l.In))
				}
				wk := w[k*l.In : (k+1)*l.In]
				for i, v := range row {
					sum += wk[i] * v
				}
			}
			pre[o] = sum
		}
		out := pre
		if l.ReLU {
			out = make([]float32, l.Out)
			for o, v := range pre {
				if v > 0 {
					out[o] = v
				}
			}
		}
		y[t] = out
		if keep {
			cache.Pre[t] = pre
		}
	}
	return y, cache
}

// Backward propagates dy (one row per output of the cached pass) through the
// layer. Parameter gradients are accumulated into gradW and gradB, which must
// have the shapes of Weight and Bias. It returns the gradient with respect to
// the cached input.
func (l *TemporalConv) Backward(c *ConvCache, dy [][]float32, gradW, gradB []float32) [][]float32 {
	dx := make([][]float32, len(c.Input))
	for i := range dx {
		dx[i] = make([]float32, l.In)
	}
	span := l.Kernel * l.In
	for t := range dy {
		start := t * l.Stride
		for o := 0; o < l.Out; o++ {
			g := dy[t][o]
			if l.ReLU && c.Pre[t][o] <= 0 {
				continue
			}
			if g == 0 {
				continue
			}
			gradB[o] += g
			base := o * span
			for k := 0; k < l.Kernel; k++ {
				row := c.Input[start+k]
				dRow := dx[start+k]
				off := base + k*l.In
				for i := range row {
					gradW[off+i] += g * row[i]
					dRow[i] += g * l.Weight[off+i]
				}
			}
		}
	}
	return dx
}
