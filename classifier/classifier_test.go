package classifier

import (
	"math"
	"math/rand"
	"testing"

	"github.com/Noofbiz/gesturefit/backbone"
	"github.com/stretchr/testify/require"
)

func testTail(t *testing.T) []*backbone.TemporalConv {
	t.Helper()
	arch := backbone.Architecture{
		Name: "tiny", FPS: 8, FrameWidth: 8, FrameHeight: 8, GridRows: 2, GridCols: 2,
		Layers: []backbone.LayerSpec{
			{Kernel: 1, Stride: 1, Out: 6, ReLU: true},
			{Kernel: 3, Stride: 2, Out: 5, ReLU: true},
			{Kernel: 3, Stride: 1, Out: 4, ReLU: true},
		},
	}
	net, err := backbone.NewRandom(arch, 3)
	require.NoError(t, err)
	_, tail, err := net.Split(2)
	require.NoError(t, err)
	return tail
}

func randomRows(rng *rand.Rand, n, dim int) [][]float32 {
	x := make([][]float32, n)
	for i := range x {
		x[i] = make([]float32, dim)
		for j := range x[i] {
			x[i][j] = rng.Float32()*2 - 1
		}
	}
	return x
}

func TestLogisticRegressionString(t *testing.T) {
	m, err := NewLogisticRegression(256, 5, false, 1)
	require.NoError(t, err)
	require.Equal(t, "LogisticRegression(num_in=256, num_out=5, use_softmax=false)", m.String())

	_, err = NewLogisticRegression(0, 5, false, 1)
	require.Error(t, err)
}

func TestSoftmaxHeadYieldsDistribution(t *testing.T) {
	m, err := NewLogisticRegression(4, 3, true, 1)
	require.NoError(t, err)
	p := m.Forward([]float32{1, -2, 0.5, 3})
	var sum float64
	for _, v := range p {
		require.GreaterOrEqual(t, v, float32(0))
		sum += float64(v)
	}
	require.InDelta(t, 1.0, sum, 1e-5)

	// The training variant yields raw scores.
	m.UseSoftmax = false
	require.Equal(t, m.Logits([]float32{1, -2, 0.5, 3}), m.Forward([]float32{1, -2, 0.5, 3}))
}

func TestNetworkKinds(t *testing.T) {
	head, _ := NewLogisticRegression(4, 2, false, 1)
	only, err := New(nil, head)
	require.NoError(t, err)
	require.Equal(t, ClassifierOnly, only.Kind)
	require.Equal(t, 1, only.RequiredRows())
	require.Equal(t, 3, only.OutputLen(3))
	require.Len(t, only.Forward(randomRows(rand.New(rand.NewSource(1)), 3, 4)), 3)

	pipe, err := New(testTail(t), head)
	require.NoError(t, err)
	require.Equal(t, BackboneTailPlusClassifier, pipe.Kind)
	require.Equal(t, 7, pipe.RequiredRows())
	require.Equal(t, 2, pipe.Stride())
	require.Equal(t, 6, pipe.OutputRow(0))
	require.Equal(t, 8, pipe.OutputRow(1))
	// No padding: a window of exactly RequiredRows gives one output.
	require.Len(t, pipe.Forward(randomRows(rand.New(rand.NewSource(1)), 7, 6)), 1)
	require.Len(t, pipe.Forward(randomRows(rand.New(rand.NewSource(1)), 6, 6)), 0)
	require.Contains(t, pipe.String(), "Pipe(")

	wrong, _ := NewLogisticRegression(3, 2, false, 1)
	_, err = New(testTail(t), wrong)
	require.Error(t, err)
}

func TestStateDictKeys(t *testing.T) {
	head, _ := NewLogisticRegression(4, 2, false, 1)
	pipe, err := New(testTail(t), head)
	require.NoError(t, err)
	sd := pipe.StateDict()
	require.Equal(t, []string{"cnn.1.bias", "cnn.1.weight", "cnn.2.bias", "cnn.2.weight", "linear.bias", "linear.weight"}, sd.Keys())
	require.Equal(t, []int{2, 4}, sd["linear.weight"].Shape)

	// State dicts are copies.
	sd["linear.bias"].Data[0] = 42
	require.NotEqual(t, float32(42), head.Bias[0])

	other, _ := NewLogisticRegression(4, 2, false, 9)
	pipe2, err := New(testTail(t), other)
	require.NoError(t, err)
	require.NoError(t, pipe2.LoadStateDict(sd))
	require.Equal(t, float32(42), other.Bias[0])

	loaded, err := HeadFromStateDict(sd, true)
	require.NoError(t, err)
	require.Equal(t, 4, loaded.NumIn)
	require.Equal(t, 2, loaded.NumOut)
	require.True(t, loaded.UseSoftmax)
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	tail := testTail(t)
	// Linear layers keep the finite differences exact.
	for _, l := range tail {
		l.ReLU = false
	}
	head, _ := NewLogisticRegression(4, 3, false, 2)
	n, err := New(tail, head)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(5))
	x := randomRows(rng, 9, 6)
	logits, cache := n.ForwardTrain(x)
	require.Len(t, logits, 2)
	coef := randomRows(rng, len(logits), 3)

	loss := func() float64 {
		var s float64
		for j, row := range n.Forward(x) {
			for o, v := range row {
				s += float64(coef[j][o] * v)
			}
		}
		return s
	}

	grads := n.NewGradients()
	n.Backward(cache, coef, grads)

	const eps = 1e-2
	for vi, v := range n.Variables() {
		for i := range v.Value {
			orig := v.Value[i]
			v.Value[i] = orig + eps
			plus := loss()
			v.Value[i] = orig - eps
			minus := loss()
			v.Value[i] = orig
			numeric := (plus - minus) / (2 * eps)
			require.InDelta(t, numeric, float64(grads[vi][i]), 1e-2+1e-2*math.Abs(numeric), "%s[%d]", v.Key, i)
		}
	}
}
