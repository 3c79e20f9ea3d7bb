// init_backbone writes a randomly initialised weight file for a supported
// backbone, so the training and inference tools can run without downloaded
// weights.
package main

import (
	"fmt"
	"os"

	"github.com/Noofbiz/gesturefit/backbone"
	"github.com/Noofbiz/gesturefit/checkpoint"
	"github.com/Noofbiz/gesturefit/config"
	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
)

type options struct {
	ModelName    string
	ModelVersion string
	WeightsDir   string
	Seed         int64
}

func main() {
	parser := argparse.NewParser("init_backbone", "Write randomly initialised backbone weights")
	modelName := parser.String("", "model_name", &argparse.Options{Help: "Backbone model name", Default: "StridedInflatedMobileNetV2"})
	modelVersion := parser.String("", "model_version", &argparse.Options{Help: "Backbone model version", Default: "pro"})
	weightsDir := parser.String("", "weights_dir", &argparse.Options{Help: "Directory to write backbone/<model>_<version>.ckpt into", Default: "resources"})
	seed := parser.Int("", "seed", &argparse.Options{Help: "Random seed", Default: 0})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	path, err := run(options{
		ModelName:    *modelName,
		ModelVersion: *modelVersion,
		WeightsDir:   *weightsDir,
		Seed:         int64(*seed),
	})
	if err != nil {
		logger.Errorf("%v", err)
		logger.Close()
		os.Exit(1)
	}
	logger.Infof("Wrote %s", path)
	logger.Close()
}

// run writes the weights and returns their path.
func run(opts options) (string, error) {
	var cfg config.ModelConfig
	found := false
	for _, c := range config.SupportedModelConfigurations() {
		if c.ModelName == opts.ModelName && c.Version == opts.ModelVersion {
			cfg, found = c, true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("unsupported backbone %s/%s", opts.ModelName, opts.ModelVersion)
	}
	arch, err := backbone.ArchitectureFor(cfg.ModelName)
	if err != nil {
		return "", err
	}
	net, err := backbone.NewRandom(arch, opts.Seed)
	if err != nil {
		return "", err
	}
	path := cfg.WeightsPath(opts.WeightsDir)
	if err := checkpoint.Save(path, net.StateDict()); err != nil {
		return "", err
	}
	return path, nil
}
