package datasets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Noofbiz/gesturefit/features"
)

// Options configures a FeatureDataset.
type Options struct {
	FeaturesDir string
	TagsDir     string
	// ClassNames are the class sub-directories to scan, in label order.
	ClassNames     []string
	Labels         *LabelMap
	TemporalLabels *LabelMap
	// Stride is the number of frames between consecutive feature rows.
	Stride int
	Mode   LabelMode
	// Annotations, when non-nil, restrict the dataset to the listed videos
	// and override their labels.
	Annotations []Annotation
}

// Entry is one video of the dataset.
type Entry struct {
	Path  string
	Class string
	Label int
	// FrameTags are the per-frame temporal labels (temporal mode only).
	FrameTags []int
}

// FeatureDataset lazily serves examples from feature files.
type FeatureDataset struct {
	opts    Options
	entries []Entry
}

// NewFeatureDataset scans FeaturesDir and, in temporal mode, loads and
// validates every tag file up front so label errors surface before training.
func NewFeatureDataset(opts Options) (*FeatureDataset, error) {
	if opts.Labels == nil {
		return nil, fmt.Errorf("dataset needs a label mapping")
	}
	if opts.Mode == Temporal && opts.TemporalLabels == nil {
		return nil, fmt.Errorf("temporal dataset needs a temporal label mapping")
	}
	if opts.Stride <= 0 {
		opts.Stride = 1
	}

	var selected map[string]string
	if opts.Annotations != nil {
		selected = make(map[string]string, len(opts.Annotations))
		for _, a := range opts.Annotations {
			if _, err := opts.Labels.Index(a.Label); err != nil {
				return nil, fmt.Errorf("annotation for %s: %w", a.File, err)
			}
			selected[stem(a.File)] = a.Label
		}
	}

	d := &FeatureDataset{opts: opts}
	for _, class := range opts.ClassNames {
		classDir := filepath.Join(opts.FeaturesDir, class)
		files, err := os.ReadDir(classDir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read features dir %s: %w", classDir, err)
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != features.FileExt {
				continue
			}
			name := stem(f.Name())
			label := class
			if selected != nil {
				l, ok := selected[name]
				if !ok {
					continue
				}
				label = l
			}
			idx, err := opts.Labels.Index(label)
			if err != nil {
				return nil, fmt.Errorf("features %s: %w", f.Name(), err)
			}
			e := Entry{
				Path:  filepath.Join(classDir, f.Name()),
				Class: class,
				Label: idx,
			}
			if opts.Mode == Temporal {
				tagsPath := filepath.Join(opts.TagsDir, class, name+".json")
				if _, err := os.Stat(tagsPath); os.IsNotExist(err) {
					continue
				}
				tags, err := LoadTags(tagsPath, opts.TemporalLabels)
				if err != nil {
					return nil, err
				}
				e.FrameTags = tags
			}
			d.entries = append(d.entries, e)
		}
	}
	return d, nil
}

func stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Len returns the number of videos.
func (d *FeatureDataset) Len() int { return len(d.entries) }

// Entry returns the i-th video's metadata.
func (d *FeatureDataset) Entry(i int) Entry { return d.entries[i] }

// Mode returns the labelling mode.
func (d *FeatureDataset) Mode() LabelMode { return d.opts.Mode }

// NumClasses is the number of output classes for the dataset's mode.
func (d *FeatureDataset) NumClasses() int {
	if d.opts.Mode == Temporal {
		return d.opts.TemporalLabels.Len()
	}
	return d.opts.Labels.Len()
}

// LabelNames returns the class names for the dataset's mode, in index order.
func (d *FeatureDataset) LabelNames() []string {
	if d.opts.Mode == Temporal {
		return d.opts.TemporalLabels.Names()
	}
	return d.opts.Labels.Names()
}

// Example loads the i-th video.
func (d *FeatureDataset) Example(i int) (*Example, error) {
	if i < 0 || i >= len(d.entries) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", i, len(d.entries))
	}
	e := d.entries[i]
	rows, err := features.Load(e.Path)
	if err != nil {
		return nil, err
	}
	ex := &Example{Video: e.Path, Features: rows, Label: e.Label}
	if d.opts.Mode == Temporal {
		ex.Tags = SampleTags(e.FrameTags, d.opts.Stride, len(rows))
	}
	return ex, nil
}
