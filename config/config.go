// Package config holds the explicit configuration that flows through the
// feature extraction, training and inference pipelines: which backbone is in
// use, where the dataset lives on disk, and the training run record.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrNoModelWeights is returned when none of the supported configurations
	// matching the requested name/version has a weight file on disk.
	ErrNoModelWeights = errors.New("no backbone weights found")

	// ErrInvalidFinetuneLayers is returned when num_layers_to_finetune is outside
	// the range supported by the backbone.
	ErrInvalidFinetuneLayers = errors.New("num of layers to finetune not compatible")
)

// ModelConfig identifies a pretrained backbone variant.
type ModelConfig struct {
	ModelName string
	Version   string
	// Features lists extra resources (e.g. downstream heads) that must ship
	// next to the backbone weights. Empty for plain backbones.
	Features []string
}

// String returns "name/version".
func (c ModelConfig) String() string {
	return c.ModelName + "/" + c.Version
}

// WeightsPath returns the location of the backbone weights for this config
// below weightsDir.
func (c ModelConfig) WeightsPath(weightsDir string) string {
	return filepath.Join(weightsDir, "backbone", fmt.Sprintf("%s_%s.ckpt", c.ModelName, c.Version))
}

// SupportedModelConfigurations returns the backbones the training tool can
// finetune, in order of preference.
func SupportedModelConfigurations() []ModelConfig {
	return []ModelConfig{
		{ModelName: "StridedInflatedEfficientNet", Version: "pro"},
		{ModelName: "StridedInflatedMobileNetV2", Version: "pro"},
		{ModelName: "StridedInflatedEfficientNet", Version: "lite"},
		{ModelName: "StridedInflatedMobileNetV2", Version: "lite"},
	}
}

// SelectModelConfig picks the first configuration matching the optional
// name and version filters whose weights exist below weightsDir. It returns
// the config together with the path of its weight file.
func SelectModelConfig(configs []ModelConfig, modelName, version, weightsDir string) (ModelConfig, string, error) {
	for _, c := range configs {
		if modelName != "" && c.ModelName != modelName {
			continue
		}
		if version != "" && c.Version != version {
			continue
		}
		path := c.WeightsPath(weightsDir)
		if _, err := os.Stat(path); err == nil {
			return c, path, nil
		}
	}
	return ModelConfig{}, "", fmt.Errorf("%w for model_name=%q version=%q in %s", ErrNoModelWeights, modelName, version, weightsDir)
}

// ValidateFinetuneLayers checks that n is an integer in [0, tableSize-1]. The
// table is the backbone's required-frames table whose zero entry is the
// sentinel for "no finetuning".
func ValidateFinetuneLayers(n, tableSize int) error {
	maxLayers := tableSize - 1
	if n < 0 || n > maxLayers {
		return fmt.Errorf("%w: got %d, must be an integer between 0 and %d", ErrInvalidFinetuneLayers, n, maxLayers)
	}
	return nil
}
