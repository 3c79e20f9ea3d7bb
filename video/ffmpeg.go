package video

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
)

// Source yields frames until it returns io.EOF.
type Source interface {
	Read() (Image, error)
	Close() error
}

// Sink consumes frames.
type Sink interface {
	Write(im Image) error
	Close() error
}

// Opener opens a video file as a frame source at the requested frame rate
// and size.
type Opener func(path string, fps float64, width, height int) (Source, error)

// FfmpegReader decodes frames from an ffmpeg process writing rawvideo rgb24
// to stdout.
type FfmpegReader struct {
	Cmd    *exec.Cmd
	Stdout io.ReadCloser
	Width  int
	Height int

	exited bool
}

// OpenFile is the default Opener: it decodes path with ffmpeg, resampled to
// fps and scaled to width x height.
func OpenFile(path string, fps float64, width, height int) (Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	rd, err := startReader(fps, width, height, "-i", path)
	if err != nil {
		return nil, err
	}
	return rd, nil
}

// OpenCamera captures frames from a v4l2 camera.
func OpenCamera(cameraID int, fps float64, width, height int) (Source, error) {
	rd, err := startReader(0, width, height,
		"-f", "v4l2",
		"-framerate", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", fmt.Sprintf("/dev/video%d", cameraID),
	)
	if err != nil {
		return nil, err
	}
	return rd, nil
}

// startReader runs ffmpeg on the given input arguments. A positive fps adds a
// resampling filter so every source yields frames at the network's rate.
func startReader(fps float64, width, height int, input ...string) (*FfmpegReader, error) {
	filter := fmt.Sprintf("scale=%dx%d", width, height)
	if fps > 0 {
		filter = "fps=" + strconv.FormatFloat(fps, 'f', -1, 64) + "," + filter
	}
	args := []string{"-loglevel", "error", "-threads", "2"}
	args = append(args, input...)
	args = append(args,
		"-c:v", "rawvideo", "-pix_fmt", "rgb24", "-f", "rawvideo",
		"-vf", filter,
		"-",
	)
	cmd := exec.Command("ffmpeg", args...)
	cmd.Stderr = os.Stderr
	return newReader(cmd, width, height)
}

// newReader starts cmd and reads rgb24 frames of width x height from its
// stdout.
func newReader(cmd *exec.Cmd, width, height int) (*FfmpegReader, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &FfmpegReader{
		Cmd:    cmd,
		Stdout: stdout,
		Width:  width,
		Height: height,
	}, nil
}

// Read returns the next frame, or io.EOF once the stream is exhausted and
// ffmpeg exited cleanly. A failed decode or a truncated last frame is an
// error.
func (rd *FfmpegReader) Read() (Image, error) {
	if rd.exited {
		return Image{}, io.EOF
	}
	buf := make([]byte, rd.Width*rd.Height*3)
	_, err := io.ReadFull(rd.Stdout, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		rd.exited = true
		if werr := rd.Cmd.Wait(); werr != nil {
			return Image{}, fmt.Errorf("ffmpeg: %w", werr)
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Image{}, fmt.Errorf("ffmpeg: truncated frame: %w", err)
		}
		return Image{}, io.EOF
	}
	if err != nil {
		return Image{}, err
	}
	return ImageFromBytes(rd.Width, rd.Height, buf), nil
}

// Close stops ffmpeg. Once Read has reported the end of the stream the exit
// status is already known; otherwise the caller stopped early, ffmpeg is
// killed by the closed pipe and its exit status is ignored.
func (rd *FfmpegReader) Close() error {
	if rd.exited {
		return nil
	}
	rd.exited = true
	rd.Stdout.Close()
	_ = rd.Cmd.Wait()
	return nil
}

// FfmpegWriter encodes frames to a video file.
type FfmpegWriter struct {
	Cmd   *exec.Cmd
	Stdin io.WriteCloser
}

// CreateFile starts an ffmpeg encoder writing to path.
func CreateFile(path string, fps float64, width, height int) (*FfmpegWriter, error) {
	cmd := exec.Command(
		"ffmpeg",
		"-loglevel", "error",
		"-y",
		"-f", "rawvideo", "-pix_fmt", "rgb24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "-",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		path,
	)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	return &FfmpegWriter{Cmd: cmd, Stdin: stdin}, nil
}

func (w *FfmpegWriter) Write(im Image) error {
	_, err := w.Stdin.Write(im.Bytes)
	return err
}

func (w *FfmpegWriter) Close() error {
	w.Stdin.Close()
	return w.Cmd.Wait()
}
