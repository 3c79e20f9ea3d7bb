package video

import "io"

// MemorySource replays a fixed list of frames.
type MemorySource struct {
	Frames []Image
	pos    int
}

// NewMemorySource returns a source over frames.
func NewMemorySource(frames []Image) *MemorySource {
	return &MemorySource{Frames: frames}
}

func (s *MemorySource) Read() (Image, error) {
	if s.pos >= len(s.Frames) {
		return Image{}, io.EOF
	}
	im := s.Frames[s.pos]
	s.pos++
	return im, nil
}

func (s *MemorySource) Close() error { return nil }

// MemorySink collects written frames.
type MemorySink struct {
	Frames []Image
	Closed bool
}

func (s *MemorySink) Write(im Image) error {
	s.Frames = append(s.Frames, im.Clone())
	return nil
}

func (s *MemorySink) Close() error {
	s.Closed = true
	return nil
}

// ReadAll drains a source.
func ReadAll(src Source) ([]Image, error) {
	var frames []Image
	for {
		im, err := src.Read()
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		frames = append(frames, im)
	}
}
