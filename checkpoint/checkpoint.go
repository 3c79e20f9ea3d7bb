// Package checkpoint stores named weight tensors on disk and implements the
// merge rule used to fold finetuned backbone layers back into a full
// backbone.
package checkpoint

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// formatVersion is incremented when the on-disk format changes.
const formatVersion = 1

// Param is a dense float32 tensor stored in row-major order.
type Param struct {
	Shape []int
	Data  []float32
}

// NewParam allocates a zeroed parameter of the given shape.
func NewParam(shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Param{Shape: append([]int(nil), shape...), Data: make([]float32, n)}
}

// Size returns the number of elements implied by Shape.
func (p *Param) Size() int {
	n := 1
	for _, d := range p.Shape {
		n *= d
	}
	return n
}

// Clone returns a deep copy.
func (p *Param) Clone() *Param {
	return &Param{
		Shape: append([]int(nil), p.Shape...),
		Data:  append([]float32(nil), p.Data...),
	}
}

// Checkpoint maps a layer parameter name (e.g. "cnn.3.weight") to its value.
type Checkpoint map[string]*Param

// Keys returns the parameter names in sorted order.
func (c Checkpoint) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies the checkpoint.
func (c Checkpoint) Clone() Checkpoint {
	out := make(Checkpoint, len(c))
	for k, v := range c {
		out[k] = v.Clone()
	}
	return out
}

// Merge folds a classifier checkpoint into backbone weights. Every key present
// in both takes the classifier's value; backbone-only keys are unchanged. The
// classifier keys that do not belong to the backbone are returned separately
// as the head's weights. Neither input is modified.
func Merge(backbone, classifier Checkpoint) (merged Checkpoint, head Checkpoint) {
	merged = make(Checkpoint, len(backbone))
	for k, v := range backbone {
		merged[k] = v
	}
	head = make(Checkpoint)
	for k, v := range classifier {
		if _, ok := backbone[k]; ok {
			merged[k] = v
		} else {
			head[k] = v
		}
	}
	return merged, head
}

// fileFormat is the gob payload.
type fileFormat struct {
	Version int
	Params  map[string]*Param
}

// Save writes the checkpoint to path with encoding/gob. It performs an atomic
// write (temp file then rename).
func Save(path string, c Checkpoint) error {
	if path == "" {
		return fmt.Errorf("empty checkpoint path")
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint file: %w", err)
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	for name, p := range c {
		if p.Size() != len(p.Data) {
			return fmt.Errorf("param %s: shape %v does not match %d values", name, p.Shape, len(p.Data))
		}
	}
	enc := gob.NewEncoder(tmpFile)
	if err := enc.Encode(&fileFormat{Version: formatVersion, Params: c}); err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp checkpoint file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp checkpoint to target: %w", err)
	}
	return nil
}

// Load reads a checkpoint written by Save. A missing file yields an error
// wrapping os.ErrNotExist.
func Load(path string) (Checkpoint, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", path, err)
	}
	defer fh.Close()

	var f fileFormat
	if err := gob.NewDecoder(fh).Decode(&f); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}
	if f.Version != formatVersion {
		return nil, fmt.Errorf("checkpoint version mismatch: file=%d expected=%d", f.Version, formatVersion)
	}
	c := Checkpoint(f.Params)
	if c == nil {
		c = make(Checkpoint)
	}
	for name, p := range c {
		if p.Size() != len(p.Data) {
			return nil, fmt.Errorf("checkpoint %s: param %s shape %v does not match %d values", path, name, p.Shape, len(p.Data))
		}
	}
	return c, nil
}
