package features

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// FileExt is the extension of per-video feature files.
const FileExt = ".features"

// videoExts are the container formats picked up from the videos directories.
var videoExts = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".webm": true,
	".mkv":  true,
}

// Save writes feature rows (num_timesteps x feature_dim) as a float32 gomlx
// tensor. The file is written to a temp path and renamed into place.
func Save(path string, rows [][]float32) error {
	if len(rows) == 0 {
		return fmt.Errorf("no feature rows to save to %s", path)
	}
	dim := len(rows[0])
	flat := make([]float32, 0, len(rows)*dim)
	for i, r := range rows {
		if len(r) != dim {
			return fmt.Errorf("feature row %d has %d values, want %d", i, len(r), dim)
		}
		flat = append(flat, r...)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp := path + ".tmp"
	t := tensors.FromFlatDataAndDimensions(flat, len(rows), dim)
	if err := t.Save(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save features %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename features into %s: %w", path, err)
	}
	return nil
}

// Load reads a feature file written by Save.
func Load(path string) ([][]float32, error) {
	t, err := tensors.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load features %s: %w", path, err)
	}
	if t.Shape().Rank() != 2 {
		return nil, fmt.Errorf("features %s: expected rank 2, got shape %s", path, t.Shape())
	}
	rows, ok := t.Value().([][]float32)
	if !ok {
		return nil, fmt.Errorf("features %s: expected float32 values, got %T", path, t.Value())
	}
	return rows, nil
}

// ListVideos returns videosDir/<class>/<video> paths in directory order.
// Hidden class directories are ignored.
func ListVideos(videosDir string) ([]string, error) {
	classes, err := os.ReadDir(videosDir)
	if err != nil {
		return nil, fmt.Errorf("read videos dir %s: %w", videosDir, err)
	}
	var out []string
	for _, c := range classes {
		if !c.IsDir() || strings.HasPrefix(c.Name(), ".") {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(videosDir, c.Name()))
		if err != nil {
			return nil, fmt.Errorf("read class dir %s: %w", c.Name(), err)
		}
		for _, e := range entries {
			if e.IsDir() || !videoExts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			out = append(out, filepath.Join(videosDir, c.Name(), e.Name()))
		}
	}
	return out, nil
}

// PathFor maps a video below videosDir to its feature file below featuresDir.
func PathFor(videosDir, featuresDir, videoPath string) (string, error) {
	rel, err := filepath.Rel(videosDir, videoPath)
	if err != nil {
		return "", fmt.Errorf("video %s is not below %s: %w", videoPath, videosDir, err)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + FileExt
	return filepath.Join(featuresDir, rel), nil
}
