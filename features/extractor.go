// Package features runs a (possibly truncated) backbone over every video of a
// dataset split and stores one feature file per video.
package features

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/Noofbiz/gesturefit/backbone"
	"github.com/Noofbiz/gesturefit/video"
	"github.com/cyclopcam/logs"
)

// ShortVideoPolicy decides what happens to videos with fewer frames than the
// network needs.
type ShortVideoPolicy int

const (
	// PadShortVideos repeats the first frame at the start of the clip until it
	// is long enough.
	PadShortVideos ShortVideoPolicy = iota
	// SkipShortVideos logs a warning and writes no feature file.
	SkipShortVideos
)

func (p ShortVideoPolicy) String() string {
	if p == SkipShortVideos {
		return "skip"
	}
	return "pad"
}

// ParseShortVideoPolicy parses "pad" or "skip".
func ParseShortVideoPolicy(s string) (ShortVideoPolicy, error) {
	switch s {
	case "", "pad":
		return PadShortVideos, nil
	case "skip":
		return SkipShortVideos, nil
	}
	return PadShortVideos, fmt.Errorf("unknown short video policy %q (want pad or skip)", s)
}

// ErrEmptyVideo is returned when a video decodes to zero frames.
var ErrEmptyVideo = errors.New("video has no frames")

// Options configures an Extractor.
type Options struct {
	// Network is the backbone with the finetuned layers already removed.
	Network *backbone.Network
	// MinimumFrames is the frame count the full backbone needs for one output.
	MinimumFrames int
	// NumTimesteps is the number of feature rows a training window needs at
	// the cut point. 1 when only the head is trained.
	NumTimesteps int
	ShortVideos  ShortVideoPolicy
	// SkipExisting keeps feature files from a previous run instead of
	// recomputing them.
	SkipExisting bool
	UseGPU       bool
	// Workers is the number of videos processed concurrently (default 1).
	Workers int
	// Open decodes a video file; defaults to video.OpenFile.
	Open video.Opener
	Log  logs.Log
}

// Stats summarises one Extract call.
type Stats struct {
	Videos  int
	Written int
	Skipped int
	Reused  int
}

// Extractor computes feature files.
type Extractor struct {
	opts Options
}

// NewExtractor validates opts and fills in defaults.
func NewExtractor(opts Options) (*Extractor, error) {
	if opts.Network == nil {
		return nil, fmt.Errorf("extractor needs a network")
	}
	if opts.Log == nil {
		return nil, fmt.Errorf("extractor needs a logger")
	}
	if opts.NumTimesteps <= 0 {
		opts.NumTimesteps = 1
	}
	if opts.MinimumFrames <= 0 {
		opts.MinimumFrames = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Open == nil {
		opts.Open = video.OpenFile
	}
	if opts.UseGPU {
		opts.Log.Warnf("GPU requested, but feature extraction runs on the CPU")
	}
	return &Extractor{opts: opts}, nil
}

// RequiredFrames is the number of frames a clip must have so that the
// network reaches MinimumFrames and the cut point yields NumTimesteps rows.
func (e *Extractor) RequiredFrames() int {
	need := (e.opts.NumTimesteps-1)*e.opts.Network.StepSize() + 1
	if e.opts.MinimumFrames > need {
		need = e.opts.MinimumFrames
	}
	return need
}

// Extract processes every video below videosDir, writing feature files to the
// mirrored location below featuresDir. The first error aborts the run; files
// written before it stay on disk.
func (e *Extractor) Extract(videosDir, featuresDir string) (Stats, error) {
	paths, err := ListVideos(videosDir)
	if err != nil {
		return Stats{}, err
	}
	n := len(paths)
	stats := Stats{Videos: n}
	e.opts.Log.Infof("Found %d videos to process in %s", n, videosDir)
	if n == 0 {
		return stats, nil
	}

	workers := e.opts.Workers
	if workers > runtime.NumCPU() {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}

	jobs := make(chan string, n)
	errCh := make(chan error, workers)
	var written, skipped, reused, done int64
	var failed atomic.Bool

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for videoPath := range jobs {
				if failed.Load() {
					continue
				}
				outPath, err := PathFor(videosDir, featuresDir, videoPath)
				if err != nil {
					failed.Store(true)
					errCh <- err
					return
				}
				if e.opts.SkipExisting {
					if _, err := os.Stat(outPath); err == nil {
						atomic.AddInt64(&reused, 1)
						atomic.AddInt64(&done, 1)
						continue
					}
				}
				ok, err := e.ExtractVideo(videoPath, outPath)
				if err != nil {
					failed.Store(true)
					errCh <- fmt.Errorf("extract %s: %w", videoPath, err)
					return
				}
				if ok {
					atomic.AddInt64(&written, 1)
				} else {
					atomic.AddInt64(&skipped, 1)
				}
				d := atomic.AddInt64(&done, 1)
				e.opts.Log.Infof("Extract features from video %d / %d", d, n)
			}
		}()
	}

	for _, p := range paths {
		jobs <- p
	}
	close(jobs)
	wg.Wait()
	close(errCh)

	stats.Written = int(written)
	stats.Skipped = int(skipped)
	stats.Reused = int(reused)

	if err := <-errCh; err != nil {
		return stats, err
	}
	return stats, nil
}

// ExtractVideo computes the features of one video and writes them to
// outPath, overwriting any previous file. It returns false when the video was
// skipped as too short.
func (e *Extractor) ExtractVideo(videoPath, outPath string) (bool, error) {
	arch := e.opts.Network.Arch
	src, err := e.opts.Open(videoPath, arch.FPS, arch.FrameWidth, arch.FrameHeight)
	if err != nil {
		return false, err
	}
	frames, err := video.ReadAll(src)
	if cerr := src.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return false, fmt.Errorf("decode %s: %w", videoPath, err)
	}

	need := e.RequiredFrames()
	if len(frames) < need {
		if e.opts.ShortVideos == SkipShortVideos {
			e.opts.Log.Warnf("Skipping %s: %d frames, need at least %d", videoPath, len(frames), need)
			return false, nil
		}
		if len(frames) == 0 {
			return false, ErrEmptyVideo
		}
		frames = PadFrames(frames, need)
	}

	rows := e.opts.Network.ForwardFrames(frames, backbone.StreamingMode)
	if err := Save(outPath, rows); err != nil {
		return false, err
	}
	return true, nil
}

// PadFrames repeats the first frame at the start of frames until there are n.
func PadFrames(frames []video.Image, n int) []video.Image {
	if len(frames) >= n || len(frames) == 0 {
		return frames
	}
	out := make([]video.Image, 0, n)
	for i := len(frames); i < n; i++ {
		out = append(out, frames[0])
	}
	return append(out, frames...)
}
