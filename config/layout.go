package config

import (
	"path/filepath"
	"strconv"
)

// Dataset splits.
const (
	SplitTrain = "train"
	SplitValid = "valid"
)

// Layout describes where a dataset keeps its videos, tags and extracted
// features. A dataset root looks like:
//
//	<root>/videos_train/<class>/<video>.mp4
//	<root>/videos_valid/<class>/<video>.mp4
//	<root>/tags_train/<class>/<video>.json
//	<root>/features_train/<model>/<version>/<layers>/<class>/<video>.features
type Layout struct {
	Root string
}

// VideosDir returns the directory holding one sub-directory of videos per class.
func (l Layout) VideosDir(split string) string {
	return filepath.Join(l.Root, "videos_"+split)
}

// TagsDir returns the directory holding the per-frame temporal annotations.
func (l Layout) TagsDir(split string) string {
	return filepath.Join(l.Root, "tags_"+split)
}

// FeaturesDir returns the feature directory for a split. It is keyed by the
// backbone and the number of finetuned layers, so different finetuning
// configurations never collide.
func (l Layout) FeaturesDir(split string, model ModelConfig, numLayersToFinetune int) string {
	return filepath.Join(l.Root, "features_"+split, model.ModelName, model.Version, strconv.Itoa(numLayersToFinetune))
}
