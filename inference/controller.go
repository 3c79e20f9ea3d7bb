package inference

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/Noofbiz/gesturefit/video"
	"github.com/cyclopcam/logs"
)

// Controller streams frames from Source through the Engine, logs label
// changes and writes annotated frames to Sink when one is set.
type Controller struct {
	Engine *Engine
	Post   *Postprocessor
	Ops    []DisplayOp
	Source video.Source
	// Sink is optional.
	Sink video.Sink
	Log  logs.Log

	now func() time.Time
}

// Stats summarises a Run.
type Stats struct {
	Frames      int
	Predictions int
	// CameraFPS and InferenceFPS are the last measured rates.
	CameraFPS    float64
	InferenceFPS float64
	// Last holds the predictions shown on the final frame.
	Last []Prediction
}

// Run processes frames until the source ends or ctx is cancelled. A
// cancelled context is a clean stop, not an error.
func (c *Controller) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	if c.Engine == nil || c.Post == nil || c.Source == nil || c.Log == nil {
		return stats, errors.New("controller needs an engine, a postprocessor, a source and a logger")
	}
	now := c.now
	if now == nil {
		now = time.Now
	}

	frames := make(chan video.Image, 4)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(frames)
		for {
			im, err := c.Source.Read()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- im:
			case <-done:
				return
			}
		}
	}()

	var state DisplayState
	var lastFrame, lastPrediction time.Time
	lastLabels := ""
	for {
		var im video.Image
		var ok bool
		select {
		case <-ctx.Done():
			c.Log.Infof("Stopping inference after %d frames", stats.Frames)
			return stats, nil
		case im, ok = <-frames:
		}
		if !ok {
			if err := <-readErr; err != io.EOF {
				return stats, err
			}
			c.Log.Infof("End of stream after %d frames", stats.Frames)
			return stats, nil
		}
		stats.Frames++
		t := now()
		if !lastFrame.IsZero() {
			if dt := t.Sub(lastFrame).Seconds(); dt > 0 {
				state.CameraFPS = 1 / dt
			}
		}
		lastFrame = t

		if probs, ready := c.Engine.Push(im); ready && probs != nil {
			stats.Predictions++
			if !lastPrediction.IsZero() {
				if dt := t.Sub(lastPrediction).Seconds(); dt > 0 {
					state.InferenceFPS = 1 / dt
				}
			}
			lastPrediction = t
			state.Predictions = c.Post.Process(probs)
			stats.Last = state.Predictions
			stats.InferenceFPS = state.InferenceFPS
			if labels := labelKey(state.Predictions); labels != lastLabels {
				c.Log.Infof("Prediction: %s", joinPredictions(state.Predictions))
				lastLabels = labels
			}
		}

		stats.CameraFPS = state.CameraFPS

		if c.Sink != nil {
			if err := c.Sink.Write(Render(im, c.Ops, state)); err != nil {
				return stats, err
			}
		}
	}
}

func joinPredictions(preds []Prediction) string {
	if len(preds) == 0 {
		return "-"
	}
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}

// labelKey identifies the displayed labels, ignoring probabilities.
func labelKey(preds []Prediction) string {
	names := make([]string, len(preds))
	for i, p := range preds {
		names[i] = p.Label
	}
	return strings.Join(names, "|")
}
