package datasets

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Noofbiz/gesturefit/features"
)

// writeFeatures stores a video with n rows of dim values; row i holds i+offset.
func writeFeatures(t *testing.T, path string, n, dim int, offset float32) {
	t.Helper()
	rows := make([][]float32, n)
	for i := range rows {
		rows[i] = make([]float32, dim)
		for j := range rows[i] {
			rows[i][j] = float32(i) + offset
		}
	}
	if err := features.Save(path, rows); err != nil {
		t.Fatalf("failed to save features %s: %v", path, err)
	}
}

func writeTags(t *testing.T, path string, tags []string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(TagFile{TimeAnnotation: tags})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		t.Fatal(err)
	}
}

// fixture lays out features for classes clap (2 videos) and wave (1 video).
func fixture(t *testing.T) (string, string, *LabelMap) {
	root := t.TempDir()
	featDir := filepath.Join(root, "features_train")
	tagsDir := filepath.Join(root, "tags_train")
	writeFeatures(t, filepath.Join(featDir, "clap", "c1.features"), 6, 3, 0)
	writeFeatures(t, filepath.Join(featDir, "clap", "c2.features"), 2, 3, 100)
	writeFeatures(t, filepath.Join(featDir, "wave", "w1.features"), 4, 3, 200)
	labels, err := NewLabelMap([]string{"clap", "wave"})
	if err != nil {
		t.Fatal(err)
	}
	return featDir, tagsDir, labels
}

func TestFeatureDataset_WholeVideo(t *testing.T) {
	featDir, _, labels := fixture(t)
	ds, err := NewFeatureDataset(Options{
		FeaturesDir: featDir,
		ClassNames:  labels.Names(),
		Labels:      labels,
	})
	if err != nil {
		t.Fatalf("NewFeatureDataset: %v", err)
	}
	if ds.Len() != 3 {
		t.Fatalf("expected 3 videos, got %d", ds.Len())
	}
	if ds.NumClasses() != 2 {
		t.Fatalf("expected 2 classes, got %d", ds.NumClasses())
	}
	ex, err := ds.Example(2)
	if err != nil {
		t.Fatalf("Example(2): %v", err)
	}
	if ex.Label != 1 || len(ex.Features) != 4 || ex.Features[0][0] != 200 {
		t.Fatalf("unexpected example: label=%d rows=%d first=%v", ex.Label, len(ex.Features), ex.Features[0])
	}
	if ex.Tags != nil {
		t.Fatalf("whole-video examples carry no tags")
	}
	if _, err := ds.Example(3); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestFeatureDataset_Annotations(t *testing.T) {
	featDir, _, labels := fixture(t)
	ds, err := NewFeatureDataset(Options{
		FeaturesDir: featDir,
		ClassNames:  labels.Names(),
		Labels:      labels,
		Annotations: []Annotation{{File: "c2.mp4", Label: "wave"}},
	})
	if err != nil {
		t.Fatalf("NewFeatureDataset: %v", err)
	}
	if ds.Len() != 1 || ds.Entry(0).Label != 1 {
		t.Fatalf("expected only c2 relabelled as wave, got %+v", ds.entries)
	}

	_, err = NewFeatureDataset(Options{
		FeaturesDir: featDir,
		ClassNames:  labels.Names(),
		Labels:      labels,
		Annotations: []Annotation{{File: "c2.mp4", Label: "jump"}},
	})
	if !errors.Is(err, ErrUnknownLabel) {
		t.Fatalf("expected ErrUnknownLabel, got %v", err)
	}
}

func TestFeatureDataset_TemporalTags(t *testing.T) {
	featDir, tagsDir, labels := fixture(t)
	temporal, _ := NewLabelMap(TemporalLabelNames(labels.Names()))
	// c1 has 6 rows, stride 2: frames 0,2,4,6,8,10.
	writeTags(t, filepath.Join(tagsDir, "clap", "c1.json"), []string{
		"counting_background", "counting_background",
		"clap_position_1", "clap_position_1",
		"clap_position_2", "clap_position_2",
		"counting_background",
	})
	ds, err := NewFeatureDataset(Options{
		FeaturesDir:    featDir,
		TagsDir:        tagsDir,
		ClassNames:     labels.Names(),
		Labels:         labels,
		TemporalLabels: temporal,
		Stride:         2,
		Mode:           Temporal,
	})
	if err != nil {
		t.Fatalf("NewFeatureDataset: %v", err)
	}
	// Videos without tag files are skipped.
	if ds.Len() != 1 {
		t.Fatalf("expected 1 tagged video, got %d", ds.Len())
	}
	if ds.NumClasses() != 5 {
		t.Fatalf("expected 5 temporal classes, got %d", ds.NumClasses())
	}
	ex, err := ds.Example(0)
	if err != nil {
		t.Fatal(err)
	}
	want := []int{0, 1, 2, 0, 0, 0}
	if !reflect.DeepEqual(ex.Tags, want) {
		t.Fatalf("tags = %v, want %v", ex.Tags, want)
	}
}

func TestFeatureDataset_TemporalUnknownTag(t *testing.T) {
	featDir, tagsDir, labels := fixture(t)
	temporal, _ := NewLabelMap(TemporalLabelNames(labels.Names()))
	writeTags(t, filepath.Join(tagsDir, "wave", "w1.json"), []string{"wave_position_3"})
	_, err := NewFeatureDataset(Options{
		FeaturesDir:    featDir,
		TagsDir:        tagsDir,
		ClassNames:     labels.Names(),
		Labels:         labels,
		TemporalLabels: temporal,
		Mode:           Temporal,
	})
	if !errors.Is(err, ErrUnknownLabel) {
		t.Fatalf("expected ErrUnknownLabel, got %v", err)
	}
}

func TestLoader_TrainingWindows(t *testing.T) {
	featDir, _, labels := fixture(t)
	ds, err := NewFeatureDataset(Options{FeaturesDir: featDir, ClassNames: labels.Names(), Labels: labels})
	if err != nil {
		t.Fatal(err)
	}
	l := NewLoader(ds, LoaderOptions{BatchSize: 2, Shuffle: true, NumTimesteps: 3, Seed: 7})
	if l.Len() != 2 {
		t.Fatalf("expected 2 batches, got %d", l.Len())
	}
	seen := 0
	for {
		b, err := l.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		for i, in := range b.Inputs {
			if len(in) != 3 {
				t.Fatalf("window %d has %d rows", i, len(in))
			}
			// Windows are contiguous, except for front padding.
			for r := 1; r < len(in); r++ {
				d := in[r][0] - in[r-1][0]
				if d != 0 && d != 1 {
					t.Fatalf("non contiguous window in %s: %v", b.Videos[i], in)
				}
			}
		}
		seen += b.Size()
	}
	if seen != 3 {
		t.Fatalf("expected 3 examples per epoch, got %d", seen)
	}
	if _, err := l.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after epoch, got %v", err)
	}
	l.Reset()
	if _, err := l.Next(); err != nil {
		t.Fatalf("Next after Reset: %v", err)
	}
}

func TestLoader_ShortSequencePadsFront(t *testing.T) {
	featDir, _, labels := fixture(t)
	ds, _ := NewFeatureDataset(Options{FeaturesDir: featDir, ClassNames: labels.Names(), Labels: labels})
	l := NewLoader(ds, LoaderOptions{BatchSize: 3, NumTimesteps: 4})
	b, err := l.Next()
	if err != nil {
		t.Fatal(err)
	}
	// c2 has two rows (100, 101): padded to 100,100,100,101.
	got := []float32{b.Inputs[1][0][0], b.Inputs[1][1][0], b.Inputs[1][2][0], b.Inputs[1][3][0]}
	if !reflect.DeepEqual(got, []float32{100, 100, 100, 101}) {
		t.Fatalf("unexpected padding %v", got)
	}
}

func TestValidationLoader_OrderAndBatchSize(t *testing.T) {
	featDir, _, labels := fixture(t)
	ds, _ := NewFeatureDataset(Options{FeaturesDir: featDir, ClassNames: labels.Names(), Labels: labels})
	l := NewValidationLoader(ds, 3)
	var videos []string
	var lengths []int
	for {
		b, err := l.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if b.Size() != 1 {
			t.Fatalf("validation batch size %d", b.Size())
		}
		videos = append(videos, filepath.Base(b.Videos[0]))
		lengths = append(lengths, len(b.Inputs[0]))
	}
	if !reflect.DeepEqual(videos, []string{"c1.features", "c2.features", "w1.features"}) {
		t.Fatalf("validation order changed: %v", videos)
	}
	if !reflect.DeepEqual(lengths, []int{6, 3, 4}) {
		t.Fatalf("expected whole sequences padded to 3 rows, got %v", lengths)
	}
}

