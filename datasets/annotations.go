package datasets

import (
	"encoding/json"
	"fmt"
	"os"
)

// Annotation selects one video (by file name, without directory) and its
// class label. Annotation files are JSON arrays of these entries and restrict
// training or validation to a subset of the available videos.
type Annotation struct {
	File  string `json:"file"`
	Label string `json:"label"`
}

// LoadAnnotations reads an annotation file.
func LoadAnnotations(path string) ([]Annotation, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read annotations %s: %w", path, err)
	}
	var out []Annotation
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode annotations %s: %w", path, err)
	}
	return out, nil
}

// TagFile holds the per-frame temporal labels of one video.
type TagFile struct {
	TimeAnnotation []string `json:"time_annotation"`
}

// LoadTags reads a tag file and resolves every frame label through m.
// A label missing from m is a fatal data error naming the key.
func LoadTags(path string, m *LabelMap) ([]int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tags %s: %w", path, err)
	}
	var tf TagFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return nil, fmt.Errorf("decode tags %s: %w", path, err)
	}
	tags := make([]int, len(tf.TimeAnnotation))
	for i, name := range tf.TimeAnnotation {
		idx, err := m.Index(name)
		if err != nil {
			return nil, fmt.Errorf("tags %s frame %d: %w", path, i, err)
		}
		tags[i] = idx
	}
	return tags, nil
}

// SampleTags picks the frame tag aligned with each of n feature rows, given
// that row t was produced after frame t*stride. Rows past the end of the
// annotation reuse the last tag.
func SampleTags(frameTags []int, stride, n int) []int {
	out := make([]int, n)
	if len(frameTags) == 0 {
		return out
	}
	for t := range out {
		f := t * stride
		if f >= len(frameTags) {
			f = len(frameTags) - 1
		}
		out[t] = frameTags[f]
	}
	return out
}
