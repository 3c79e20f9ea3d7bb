package main

import (
	"testing"

	"github.com/Noofbiz/gesturefit/backbone"
	"github.com/Noofbiz/gesturefit/checkpoint"
	"github.com/Noofbiz/gesturefit/config"
	"github.com/stretchr/testify/require"
)

func TestRunWritesLoadableWeights(t *testing.T) {
	dir := t.TempDir()
	path, err := run(options{ModelName: "StridedInflatedEfficientNet", ModelVersion: "lite", WeightsDir: dir, Seed: 3})
	require.NoError(t, err)

	cfg, selected, err := config.SelectModelConfig(config.SupportedModelConfigurations(), "", "", dir)
	require.NoError(t, err)
	require.Equal(t, path, selected)
	require.Equal(t, "lite", cfg.Version)

	c, err := checkpoint.Load(path)
	require.NoError(t, err)
	arch, err := backbone.ArchitectureFor(cfg.ModelName)
	require.NoError(t, err)
	net, err := backbone.New(arch, c)
	require.NoError(t, err)
	require.Equal(t, 256, net.FeatureDim())
}

func TestRunRejectsUnknownConfig(t *testing.T) {
	_, err := run(options{ModelName: "StridedInflatedMobileNetV2", ModelVersion: "max", WeightsDir: t.TempDir()})
	require.ErrorContains(t, err, "unsupported backbone")
}
