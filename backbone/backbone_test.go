package backbone

import (
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/Noofbiz/gesturefit/video"
	"github.com/stretchr/testify/require"
)

func tinyArch() Architecture {
	return Architecture{
		Name:        "tiny",
		FPS:         8,
		FrameWidth:  8,
		FrameHeight: 8,
		GridRows:    2,
		GridCols:    2,
		Layers: []LayerSpec{
			{Kernel: 1, Stride: 1, Out: 6, ReLU: true},
			{Kernel: 3, Stride: 2, Out: 5, ReLU: true},
			{Kernel: 3, Stride: 1, Out: 4, ReLU: true},
		},
	}
}

func TestRequiredFramesTable(t *testing.T) {
	n, err := NewRandom(tinyArch(), 1)
	require.NoError(t, err)

	table := n.RequiredFrames()
	require.Len(t, table, 4)
	require.Equal(t, 3, table[1])
	require.Equal(t, 7, table[2]) // (3-1)*2 + 3
	require.Equal(t, 7, table[3])
	require.Equal(t, 7, table[0])
	require.Equal(t, 7, n.MinimumFrames())
	require.Equal(t, 2, n.StepSize())
}

func TestBuiltinArchitectures(t *testing.T) {
	for name, arch := range Architectures() {
		require.NoError(t, arch.Validate(), name)
		n, err := NewRandom(arch, 1)
		require.NoError(t, err)
		table := n.RequiredFrames()
		// The default finetuning depth must be supported.
		_, ok := table[9]
		require.True(t, ok, name)
		require.Equal(t, 4, n.StepSize(), name)
		require.Equal(t, 21, n.MinimumFrames(), name)
	}
	eff, err := ArchitectureFor("StridedInflatedEfficientNet")
	require.NoError(t, err)
	n, err := NewRandom(eff, 1)
	require.NoError(t, err)
	require.Equal(t, 256, n.FeatureDim())
	require.Equal(t, 19, n.RequiredFrames()[9])

	_, err = ArchitectureFor("nope")
	require.Error(t, err)
}

func TestOutputLengths(t *testing.T) {
	n, err := NewRandom(tinyArch(), 1)
	require.NoError(t, err)

	x := randomRows(rand.New(rand.NewSource(3)), 10, n.Arch.InputDim())

	// Streaming keeps one row per StepSize frames.
	y := n.Forward(x, StreamingMode)
	require.Len(t, y, 5)
	require.Len(t, y[0], 4)

	// Batch mode over exactly MinimumFrames yields one row.
	y = n.Forward(x[:7], BatchMode)
	require.Len(t, y, 1)

	// Too short for batch mode.
	require.Empty(t, n.Forward(x[:6], BatchMode))
}

func TestStateDictRoundTrip(t *testing.T) {
	a, err := NewRandom(tinyArch(), 1)
	require.NoError(t, err)
	b, err := New(tinyArch(), a.StateDict())
	require.NoError(t, err)
	require.Equal(t, a.Layers[2].Weight, b.Layers[2].Weight)

	sd := a.StateDict()
	require.Equal(t, []int{5, 3, 6}, sd["cnn.1.weight"].Shape)
	delete(sd, "cnn.2.bias")
	_, err = New(tinyArch(), sd)
	require.Error(t, err)

	sd = a.StateDict()
	sd["cnn.0.weight"].Shape = []int{1, 2, 3}
	_, err = New(tinyArch(), sd)
	require.Error(t, err)
}

func TestSplitSharesWeights(t *testing.T) {
	n, err := NewRandom(tinyArch(), 1)
	require.NoError(t, err)

	prefix, tail, err := n.Split(2)
	require.NoError(t, err)
	require.Len(t, prefix.Layers, 1)
	require.Len(t, tail, 2)
	require.Equal(t, 6, prefix.FeatureDim())
	require.Same(t, n.Layers[1], tail[0])

	// Running prefix then tail equals running the full network.
	x := randomRows(rand.New(rand.NewSource(4)), 9, n.Arch.InputDim())
	mid := prefix.Forward(x, BatchMode)
	for _, l := range tail {
		mid = l.Forward(mid, BatchMode)
	}
	full := n.Forward(x, BatchMode)
	require.Equal(t, full, mid)

	_, _, err = n.Split(4)
	require.Error(t, err)
}

func TestEmbedFrame(t *testing.T) {
	n, err := NewRandom(tinyArch(), 1)
	require.NoError(t, err)

	im := video.NewImage(8, 8)
	im.Fill(color.RGBA{R: 255, G: 0, B: 0, A: 255})
	rows := n.Embed([]video.Image{im})
	require.Len(t, rows, 1)
	require.Len(t, rows[0], 12)
	require.InDelta(t, 0.5, rows[0][0], 1e-6)
	require.InDelta(t, -0.5, rows[0][1], 1e-6)
}

func TestReLUClampsNegative(t *testing.T) {
	l := &TemporalConv{Kernel: 1, Stride: 1, In: 1, Out: 2, ReLU: true,
		Weight: []float32{1, -1}, Bias: []float32{0, 0}}
	y := l.Forward([][]float32{{2}}, BatchMode)
	require.Equal(t, []float32{2, 0}, y[0])
}

// TestBackwardMatchesFiniteDifferences checks the analytic gradient of
// sum(r * layer(x)) against central differences.
func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	l := newTemporalConv(0, 3, LayerSpec{Kernel: 3, Stride: 2, Out: 2}, rng)
	x := randomRows(rng, 7, 3)

	y, cache := l.ForwardCached(x)
	r := randomRows(rng, len(y), 2)

	gradW := make([]float32, len(l.Weight))
	gradB := make([]float32, len(l.Bias))
	dx := l.Backward(cache, r, gradW, gradB)

	objective := func() float64 {
		out := l.Forward(x, BatchMode)
		var s float64
		for t := range out {
			for o := range out[t] {
				s += float64(out[t][o] * r[t][o])
			}
		}
		return s
	}
	const eps = 1e-2
	for i := range l.Weight {
		orig := l.Weight[i]
		l.Weight[i] = orig + eps
		plus := objective()
		l.Weight[i] = orig - eps
		minus := objective()
		l.Weight[i] = orig
		require.InDelta(t, (plus-minus)/(2*eps), float64(gradW[i]), 1e-2, "weight %d", i)
	}
	for i := range l.Bias {
		orig := l.Bias[i]
		l.Bias[i] = orig + eps
		plus := objective()
		l.Bias[i] = orig - eps
		minus := objective()
		l.Bias[i] = orig
		require.InDelta(t, (plus-minus)/(2*eps), float64(gradB[i]), 1e-2, "bias %d", i)
	}
	for ti := range x {
		for i := range x[ti] {
			orig := x[ti][i]
			x[ti][i] = orig + eps
			plus := objective()
			x[ti][i] = orig - eps
			minus := objective()
			x[ti][i] = orig
			require.InDelta(t, (plus-minus)/(2*eps), float64(dx[ti][i]), 1e-2, "input %d,%d", ti, i)
		}
	}
	require.False(t, math.IsNaN(float64(gradW[0])))
}

func randomRows(rng *rand.Rand, n, dim int) [][]float32 {
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = make([]float32, dim)
		for j := range rows[i] {
			rows[i][j] = rng.Float32()*2 - 1
		}
	}
	return rows
}
