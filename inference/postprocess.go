package inference

import (
	"fmt"
	"sort"
)

// Prediction is one label and its smoothed probability.
type Prediction struct {
	Label string
	Prob  float32
}

func (p Prediction) String() string {
	return fmt.Sprintf("%s %.2f", p.Label, p.Prob)
}

// NoThreshold as PostprocessOptions.Threshold reports labels whatever their
// probability.
const NoThreshold float32 = -1

// PostprocessOptions configure a Postprocessor. Zero values get defaults.
type PostprocessOptions struct {
	// Smoothing is the number of recent outputs averaged (default 4).
	Smoothing int
	// TopK is the number of labels reported (default 1).
	TopK int
	// Threshold hides labels whose smoothed probability is below it
	// (default 0.1). Use NoThreshold to turn it off.
	Threshold float32
}

// Postprocessor turns raw per-step probabilities into a smoothed,
// thresholded top-K label list.
type Postprocessor struct {
	labels  []string
	opts    PostprocessOptions
	history [][]float32
}

// NewPostprocessor creates a postprocessor for labels in index order.
func NewPostprocessor(labels []string, opts PostprocessOptions) *Postprocessor {
	if opts.Smoothing <= 0 {
		opts.Smoothing = 4
	}
	if opts.TopK <= 0 {
		opts.TopK = 1
	}
	if opts.Threshold == 0 {
		opts.Threshold = 0.1
	}
	return &Postprocessor{labels: labels, opts: opts}
}

// Smooth records probs and returns the mean of the last Smoothing outputs.
func (p *Postprocessor) Smooth(probs []float32) []float32 {
	p.history = append(p.history, probs)
	if len(p.history) > p.opts.Smoothing {
		p.history = p.history[len(p.history)-p.opts.Smoothing:]
	}
	mean := make([]float32, len(probs))
	for _, h := range p.history {
		for i, v := range h {
			mean[i] += v
		}
	}
	for i := range mean {
		mean[i] /= float32(len(p.history))
	}
	return mean
}

// Process smooths probs and returns up to TopK labels above the threshold,
// most probable first.
func (p *Postprocessor) Process(probs []float32) []Prediction {
	return p.topK(p.Smooth(probs))
}

func (p *Postprocessor) topK(probs []float32) []Prediction {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })
	var out []Prediction
	for _, i := range idx {
		if len(out) == p.opts.TopK || probs[i] < p.opts.Threshold {
			break
		}
		label := fmt.Sprintf("class_%d", i)
		if i < len(p.labels) {
			label = p.labels[i]
		}
		out = append(out, Prediction{Label: label, Prob: probs[i]})
	}
	return out
}
