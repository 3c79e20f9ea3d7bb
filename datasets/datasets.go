// Package datasets turns precomputed per-video feature files into labelled
// training examples and batches them.
//
// Layout and intended usage:
//
// FeatureDataset
//   - Stores paths to feature files below features_<split>/.../<class>/
//   - Loads a video's feature rows on demand (lazy loading keeps memory low)
//   - Whole-video mode: one label per video, from label2int
//   - Temporal mode: one label per feature row, from the tag files below
//     tags_<split>/<class>/, sampled every `stride` frames so tags line up
//     with the rows the extractor produced
//
// Loader
//   - Training: shuffles videos every epoch, cuts one random window of
//     NumTimesteps rows per video and groups windows into batches
//   - Validation: batch size 1, dataset order, whole sequences
package datasets

// LabelMode selects how examples are labelled.
type LabelMode int

const (
	// WholeVideo gives every example the class of its video.
	WholeVideo LabelMode = iota
	// Temporal labels every feature row with a position-aware tag.
	Temporal
)

func (m LabelMode) String() string {
	if m == Temporal {
		return "temporal"
	}
	return "whole-video"
}

// Dataset is what a Loader iterates over.
type Dataset interface {
	Len() int
	Example(i int) (*Example, error)
}

// Example is one video's features with its labels.
type Example struct {
	// Video is the feature file the example was loaded from.
	Video    string
	Features [][]float32
	// Label is the video's class index (whole-video mode).
	Label int
	// Tags holds one label per feature row in temporal mode, nil otherwise.
	Tags []int
}
