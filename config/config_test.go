package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectModelConfig(t *testing.T) {
	dir := t.TempDir()
	configs := SupportedModelConfigurations()

	_, _, err := SelectModelConfig(configs, "", "", dir)
	require.True(t, errors.Is(err, ErrNoModelWeights))

	// Only the lite MobileNet weights exist.
	want := ModelConfig{ModelName: "StridedInflatedMobileNetV2", Version: "lite"}
	path := want.WeightsPath(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	got, gotPath, err := SelectModelConfig(configs, "", "", dir)
	require.NoError(t, err)
	require.Equal(t, want.String(), got.String())
	require.Equal(t, path, gotPath)

	_, _, err = SelectModelConfig(configs, "StridedInflatedEfficientNet", "", dir)
	require.ErrorIs(t, err, ErrNoModelWeights)

	got, _, err = SelectModelConfig(configs, "StridedInflatedMobileNetV2", "lite", dir)
	require.NoError(t, err)
	require.Equal(t, "lite", got.Version)
}

func TestValidateFinetuneLayers(t *testing.T) {
	// A table with 12 entries supports 0..11 layers.
	for _, n := range []int{0, 1, 9, 11} {
		require.NoError(t, ValidateFinetuneLayers(n, 12), "n=%d", n)
	}
	for _, n := range []int{-1, 12, 100} {
		err := ValidateFinetuneLayers(n, 12)
		require.ErrorIs(t, err, ErrInvalidFinetuneLayers, "n=%d", n)
	}
}

func TestLRScheduleRateAt(t *testing.T) {
	s := DefaultLRSchedule()
	require.Equal(t, 0.0001, s.RateAt(0))
	require.Equal(t, 0.0001, s.RateAt(39))
	require.Equal(t, 0.00001, s.RateAt(40))
	require.Equal(t, 0.00001, s.RateAt(79))

	sparse := LRSchedule{5: 0.5, 10: 0.1}
	require.Equal(t, 0.5, sparse.RateAt(0))
	require.Equal(t, 0.1, sparse.RateAt(12))
}

func TestTrainingRecordSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "config.json")
	r := &TrainingRecord{
		RunID:               "abc",
		BackboneName:        "StridedInflatedEfficientNet",
		BackboneVersion:     "pro",
		NumLayersToFinetune: 9,
		Classifier:          "LogisticRegression(num_in=256, num_out=2, use_softmax=false)",
		LRSchedule:          DefaultLRSchedule(),
		NumEpochs:           80,
		BatchSize:           16,
		StartTime:           "start",
	}
	require.NoError(t, r.Save(path))

	loaded, err := LoadTrainingRecord(path)
	require.NoError(t, err)
	require.Equal(t, r.LRSchedule, loaded.LRSchedule)
	require.Equal(t, 9, loaded.NumLayersToFinetune)
	require.Equal(t, "", loaded.EndTime)
}

func TestLayoutFeaturesDirKeyedByLayers(t *testing.T) {
	l := Layout{Root: "/data"}
	m := ModelConfig{ModelName: "StridedInflatedEfficientNet", Version: "pro"}
	require.NotEqual(t, l.FeaturesDir(SplitTrain, m, 0), l.FeaturesDir(SplitTrain, m, 9))
	require.NotEqual(t, l.FeaturesDir(SplitTrain, m, 9), l.FeaturesDir(SplitValid, m, 9))
	require.Equal(t, filepath.Join("/data", "videos_train"), l.VideosDir(SplitTrain))
}
