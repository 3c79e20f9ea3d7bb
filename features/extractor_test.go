package features

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/Noofbiz/gesturefit/backbone"
	"github.com/Noofbiz/gesturefit/video"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func tinyNetwork(t *testing.T) *backbone.Network {
	t.Helper()
	arch := backbone.Architecture{
		Name:        "tiny",
		FPS:         8,
		FrameWidth:  8,
		FrameHeight: 8,
		GridRows:    2,
		GridCols:    2,
		Layers: []backbone.LayerSpec{
			{Kernel: 1, Stride: 1, Out: 6, ReLU: true},
			{Kernel: 3, Stride: 2, Out: 5, ReLU: true},
			{Kernel: 3, Stride: 1, Out: 4, ReLU: true},
		},
	}
	n, err := backbone.NewRandom(arch, 5)
	require.NoError(t, err)
	return n
}

// fakeOpen treats a "video" file as a decimal frame count and synthesises
// frames whose colour changes over time.
func fakeOpen(path string, fps float64, width, height int) (video.Source, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, fmt.Errorf("bad fake video %s: %w", path, err)
	}
	frames := make([]video.Image, n)
	for i := range frames {
		frames[i] = video.NewImage(width, height)
		frames[i].Fill(color.RGBA{R: uint8(i * 20), G: uint8(255 - i*10), B: 128, A: 255})
	}
	return video.NewMemorySource(frames), nil
}

func writeVideo(t *testing.T, videosDir, class, name string, frames int) string {
	t.Helper()
	dir := filepath.Join(videosDir, class)
	require.NoError(t, os.MkdirAll(dir, 0755))
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(strconv.Itoa(frames)), 0644))
	return p
}

func newTestExtractor(t *testing.T, net *backbone.Network, policy ShortVideoPolicy, timesteps int) *Extractor {
	t.Helper()
	full := tinyNetwork(t)
	e, err := NewExtractor(Options{
		Network:       net,
		MinimumFrames: full.MinimumFrames(),
		NumTimesteps:  timesteps,
		ShortVideos:   policy,
		Open:          fakeOpen,
		Log:           logs.NewTestingLog(t),
	})
	require.NoError(t, err)
	return e
}

func TestExtractWritesOneFilePerVideo(t *testing.T) {
	root := t.TempDir()
	videos := filepath.Join(root, "videos_train")
	feats := filepath.Join(root, "features_train")
	writeVideo(t, videos, "wave", "a.mp4", 12)
	writeVideo(t, videos, "clap", "b.avi", 9)
	writeVideo(t, videos, "clap", "notes.txt", 9)
	writeVideo(t, videos, ".hidden", "c.mp4", 9)

	e := newTestExtractor(t, tinyNetwork(t), PadShortVideos, 1)
	stats, err := e.Extract(videos, feats)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Videos)
	require.Equal(t, 2, stats.Written)

	rows, err := Load(filepath.Join(feats, "wave", "a"+FileExt))
	require.NoError(t, err)
	require.Len(t, rows, 6) // 12 frames, stride 2
	require.Len(t, rows[0], 4)

	rows, err = Load(filepath.Join(feats, "clap", "b"+FileExt))
	require.NoError(t, err)
	require.Len(t, rows, 5)
}

func TestExtractIsIdempotent(t *testing.T) {
	root := t.TempDir()
	videos := filepath.Join(root, "videos_valid")
	feats := filepath.Join(root, "features_valid")
	writeVideo(t, videos, "wave", "a.mp4", 15)

	e := newTestExtractor(t, tinyNetwork(t), PadShortVideos, 1)
	_, err := e.Extract(videos, feats)
	require.NoError(t, err)
	first, err := Load(filepath.Join(feats, "wave", "a"+FileExt))
	require.NoError(t, err)

	_, err = e.Extract(videos, feats)
	require.NoError(t, err)
	second, err := Load(filepath.Join(feats, "wave", "a"+FileExt))
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	require.Equal(t, len(first[0]), len(second[0]))
	require.Equal(t, first, second)
}

func TestShortVideoPadded(t *testing.T) {
	root := t.TempDir()
	videos := filepath.Join(root, "videos_train")
	feats := filepath.Join(root, "features_train")
	writeVideo(t, videos, "wave", "short.mp4", 3)

	e := newTestExtractor(t, tinyNetwork(t), PadShortVideos, 1)
	require.Equal(t, 7, e.RequiredFrames())
	stats, err := e.Extract(videos, feats)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Written)

	rows, err := Load(filepath.Join(feats, "wave", "short"+FileExt))
	require.NoError(t, err)
	require.Len(t, rows, 4) // padded to 7 frames, stride 2
}

func TestShortVideoSkipped(t *testing.T) {
	root := t.TempDir()
	videos := filepath.Join(root, "videos_train")
	feats := filepath.Join(root, "features_train")
	writeVideo(t, videos, "wave", "short.mp4", 3)
	writeVideo(t, videos, "wave", "long.mp4", 8)

	e := newTestExtractor(t, tinyNetwork(t), SkipShortVideos, 1)
	stats, err := e.Extract(videos, feats)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, 1, stats.Written)

	_, err = os.Stat(filepath.Join(feats, "wave", "short"+FileExt))
	require.True(t, os.IsNotExist(err))
}

// brokenSource yields no frames and fails on Close, like a decoder that
// exited with an error.
type brokenSource struct{}

func (brokenSource) Read() (video.Image, error) { return video.Image{}, io.EOF }
func (brokenSource) Close() error               { return errors.New("exit status 1") }

func TestDecodeFailureIsNotShortVideo(t *testing.T) {
	root := t.TempDir()
	videos := filepath.Join(root, "videos_train")
	writeVideo(t, videos, "wave", "corrupt.mp4", 0)

	e, err := NewExtractor(Options{
		Network:     tinyNetwork(t),
		ShortVideos: SkipShortVideos,
		Open: func(path string, fps float64, width, height int) (video.Source, error) {
			return brokenSource{}, nil
		},
		Log: logs.NewTestingLog(t),
	})
	require.NoError(t, err)
	_, err = e.Extract(videos, filepath.Join(root, "features_train"))
	require.ErrorContains(t, err, "exit status 1")
}

func TestEmptyVideoCannotBePadded(t *testing.T) {
	root := t.TempDir()
	videos := filepath.Join(root, "videos_train")
	writeVideo(t, videos, "wave", "empty.mp4", 0)

	e := newTestExtractor(t, tinyNetwork(t), PadShortVideos, 1)
	_, err := e.Extract(videos, filepath.Join(root, "features_train"))
	require.ErrorIs(t, err, ErrEmptyVideo)
}

func TestExtractTruncatedNetwork(t *testing.T) {
	root := t.TempDir()
	videos := filepath.Join(root, "videos_train")
	feats := filepath.Join(root, "features_train")
	writeVideo(t, videos, "wave", "a.mp4", 10)

	full := tinyNetwork(t)
	prefix, _, err := full.Split(2)
	require.NoError(t, err)
	timesteps := full.RequiredFrames()[2]

	e := newTestExtractor(t, prefix, PadShortVideos, timesteps)
	_, err = e.Extract(videos, feats)
	require.NoError(t, err)

	rows, err := Load(filepath.Join(feats, "wave", "a"+FileExt))
	require.NoError(t, err)
	require.Len(t, rows, 10) // prefix has stride 1
	require.Len(t, rows[0], 6)
}

func TestSkipExistingReusesFiles(t *testing.T) {
	root := t.TempDir()
	videos := filepath.Join(root, "videos_train")
	feats := filepath.Join(root, "features_train")
	writeVideo(t, videos, "wave", "a.mp4", 10)

	e := newTestExtractor(t, tinyNetwork(t), PadShortVideos, 1)
	_, err := e.Extract(videos, feats)
	require.NoError(t, err)

	e.opts.SkipExisting = true
	stats, err := e.Extract(videos, feats)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Reused)
	require.Equal(t, 0, stats.Written)
}

func TestParallelWorkers(t *testing.T) {
	root := t.TempDir()
	videos := filepath.Join(root, "videos_train")
	feats := filepath.Join(root, "features_train")
	for i := 0; i < 6; i++ {
		writeVideo(t, videos, "wave", fmt.Sprintf("v%d.mp4", i), 8+i)
	}
	e := newTestExtractor(t, tinyNetwork(t), PadShortVideos, 1)
	e.opts.Workers = 3
	stats, err := e.Extract(videos, feats)
	require.NoError(t, err)
	require.Equal(t, 6, stats.Written)
}

func TestParseShortVideoPolicy(t *testing.T) {
	p, err := ParseShortVideoPolicy("skip")
	require.NoError(t, err)
	require.Equal(t, SkipShortVideos, p)
	p, err = ParseShortVideoPolicy("")
	require.NoError(t, err)
	require.Equal(t, PadShortVideos, p)
	_, err = ParseShortVideoPolicy("trim")
	require.Error(t, err)
}

func TestPadFrames(t *testing.T) {
	a := video.NewImage(1, 1)
	a.Bytes[0] = 1
	b := video.NewImage(1, 1)
	b.Bytes[0] = 2
	out := PadFrames([]video.Image{a, b}, 4)
	require.Len(t, out, 4)
	require.Equal(t, byte(1), out[0].Bytes[0])
	require.Equal(t, byte(1), out[2].Bytes[0])
	require.Equal(t, byte(2), out[3].Bytes[0])
}
