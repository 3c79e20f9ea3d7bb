package backbone

import "fmt"

// LayerSpec describes one temporal layer of an architecture.
type LayerSpec struct {
	Kernel int
	Stride int
	Out    int
	ReLU   bool
}

// Architecture is the static description of a backbone: its expected input
// (frame rate and size), how frames are embedded, and its layer stack.
type Architecture struct {
	Name        string
	FPS         float64
	FrameWidth  int
	FrameHeight int
	// GridRows x GridCols cells are average-pooled per RGB channel to embed a
	// frame into a vector of GridRows*GridCols*3 values.
	GridRows int
	GridCols int
	Layers   []LayerSpec
}

// InputDim is the length of an embedded frame.
func (a Architecture) InputDim() int {
	return a.GridRows * a.GridCols * 3
}

// Validate checks that the architecture can be built.
func (a Architecture) Validate() error {
	if a.FPS <= 0 {
		return fmt.Errorf("architecture %s: fps must be positive", a.Name)
	}
	if a.FrameWidth < a.GridCols || a.FrameHeight < a.GridRows || a.GridRows <= 0 || a.GridCols <= 0 {
		return fmt.Errorf("architecture %s: frame %dx%d cannot be pooled into %dx%d cells",
			a.Name, a.FrameWidth, a.FrameHeight, a.GridCols, a.GridRows)
	}
	if len(a.Layers) == 0 {
		return fmt.Errorf("architecture %s: no layers", a.Name)
	}
	for i, l := range a.Layers {
		if l.Kernel <= 0 || l.Stride <= 0 || l.Out <= 0 {
			return fmt.Errorf("architecture %s: layer %d has invalid spec %+v", a.Name, i, l)
		}
	}
	return nil
}

// alternating builds the pointwise/temporal layer pattern shared by the
// strided inflated networks: a 1-wide projection followed by a 3-wide
// temporal convolution, with stride 2 on the given temporal layers.
func alternating(widths []int, strided map[int]bool) []LayerSpec {
	layers := make([]LayerSpec, len(widths))
	for i, w := range widths {
		spec := LayerSpec{Kernel: 1, Stride: 1, Out: w, ReLU: true}
		if i%2 == 1 {
			spec.Kernel = 3
		}
		if strided[i] {
			spec.Stride = 2
		}
		layers[i] = spec
	}
	return layers
}

// Architectures returns the known backbone architectures keyed by model name.
func Architectures() map[string]Architecture {
	return map[string]Architecture{
		"StridedInflatedEfficientNet": {
			Name:        "StridedInflatedEfficientNet",
			FPS:         16,
			FrameWidth:  160,
			FrameHeight: 128,
			GridRows:    4,
			GridCols:    4,
			Layers: append(
				alternating([]int{64, 64, 96, 96, 128, 128, 160, 160, 192, 192}, map[int]bool{3: true, 7: true}),
				LayerSpec{Kernel: 1, Stride: 1, Out: 256, ReLU: true},
			),
		},
		"StridedInflatedMobileNetV2": {
			Name:        "StridedInflatedMobileNetV2",
			FPS:         16,
			FrameWidth:  160,
			FrameHeight: 128,
			GridRows:    4,
			GridCols:    4,
			Layers:      alternating([]int{32, 32, 64, 64, 96, 96, 128, 128, 160, 160}, map[int]bool{3: true, 7: true}),
		},
	}
}

// ArchitectureFor looks up an architecture by model name.
func ArchitectureFor(modelName string) (Architecture, error) {
	a, ok := Architectures()[modelName]
	if !ok {
		return Architecture{}, fmt.Errorf("unknown backbone model %q", modelName)
	}
	return a, nil
}
