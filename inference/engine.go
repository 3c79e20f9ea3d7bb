// Package inference runs a trained gesture classifier on a live frame stream.
package inference

import (
	"fmt"

	"github.com/Noofbiz/gesturefit/backbone"
	"github.com/Noofbiz/gesturefit/classifier"
	"github.com/Noofbiz/gesturefit/video"
)

// Engine keeps a rolling buffer of embedded frames and runs the full backbone
// plus head every StepSize frames.
type Engine struct {
	net  *backbone.Network
	head *classifier.LogisticRegression

	window int
	step   int
	buf    [][]float32
	since  int
}

// NewEngine combines a backbone with a trained head. The head must yield
// probabilities.
func NewEngine(net *backbone.Network, head *classifier.LogisticRegression) (*Engine, error) {
	if head.NumIn != net.FeatureDim() {
		return nil, fmt.Errorf("classifier expects %d features but the backbone produces %d", head.NumIn, net.FeatureDim())
	}
	if !head.UseSoftmax {
		return nil, fmt.Errorf("inference needs a softmax head")
	}
	e := &Engine{
		net:    net,
		head:   head,
		window: net.MinimumFrames(),
		step:   net.StepSize(),
	}
	e.buf = make([][]float32, 0, e.window)
	return e, nil
}

// Arch describes the frames the engine expects.
func (e *Engine) Arch() backbone.Architecture { return e.net.Arch }

// ExpectedFPS is the frame rate the camera should deliver.
func (e *Engine) ExpectedFPS() float64 { return e.net.FPS() }

// StepSize is the number of frames consumed per prediction.
func (e *Engine) StepSize() int { return e.step }

// InferenceFPS is the number of predictions per second at ExpectedFPS.
func (e *Engine) InferenceFPS() float64 { return e.net.FPS() / float64(e.step) }

// NumClasses returns the number of probabilities per prediction.
func (e *Engine) NumClasses() int { return e.head.NumOut }

// Push adds a frame. Every StepSize frames, once the buffer holds a full
// window, it returns class probabilities and true.
func (e *Engine) Push(frame video.Image) ([]float32, bool) {
	row := e.net.Embed([]video.Image{frame})[0]
	if len(e.buf) == e.window {
		copy(e.buf, e.buf[1:])
		e.buf[len(e.buf)-1] = row
	} else {
		e.buf = append(e.buf, row)
	}
	e.since++
	if e.since < e.step || len(e.buf) < e.window {
		return nil, false
	}
	e.since = 0
	return e.Predict(e.buf), true
}

// Predict classifies the last window of embedded rows.
func (e *Engine) Predict(rows [][]float32) []float32 {
	out := e.net.Forward(rows, backbone.BatchMode)
	if len(out) == 0 {
		return nil
	}
	return e.head.Forward(out[len(out)-1])
}

// Reset clears the frame buffer.
func (e *Engine) Reset() {
	e.buf = e.buf[:0]
	e.since = 0
}
