package inference

import (
	"fmt"

	"github.com/Noofbiz/gesturefit/video"
	"github.com/fogleman/gg"
)

// DisplayState is what the overlay ops draw.
type DisplayState struct {
	// CameraFPS is the measured frame rate of the source and InferenceFPS
	// the measured prediction rate.
	CameraFPS    float64
	InferenceFPS float64
	Predictions  []Prediction
}

// DisplayOp draws one element of the overlay.
type DisplayOp interface {
	Draw(dc *gg.Context, s DisplayState)
}

const lineHeight = 16.0

// banner darkens a strip behind overlay text.
func banner(dc *gg.Context, y, h float64) {
	dc.SetRGBA(0, 0, 0, 0.6)
	dc.DrawRectangle(0, y, float64(dc.Width()), h)
	dc.Fill()
	dc.SetRGB(1, 1, 1)
}

// DisplayTitle writes a fixed title centred at the top of the frame.
type DisplayTitle struct {
	Title string
}

func (d DisplayTitle) Draw(dc *gg.Context, s DisplayState) {
	if d.Title == "" {
		return
	}
	banner(dc, 0, lineHeight+4)
	dc.DrawStringAnchored(d.Title, float64(dc.Width())/2, 2+lineHeight/2, 0.5, 0.5)
}

// DisplayFPS shows the measured camera and inference rates in the bottom
// right corner, each next to the rate the model expects.
type DisplayFPS struct {
	ExpectedCameraFPS    float64
	ExpectedInferenceFPS float64
}

func (d DisplayFPS) Draw(dc *gg.Context, s DisplayState) {
	lines := []string{
		fpsText("Camera", s.CameraFPS, d.ExpectedCameraFPS),
		fpsText("Model", s.InferenceFPS, d.ExpectedInferenceFPS),
	}
	y := float64(dc.Height()) - float64(len(lines))*lineHeight - 4
	banner(dc, y, float64(len(lines))*lineHeight+4)
	for i, text := range lines {
		w, _ := dc.MeasureString(text)
		dc.DrawString(text, float64(dc.Width())-w-4, y+float64(i+1)*lineHeight)
	}
}

func fpsText(name string, measured, expected float64) string {
	if expected > 0 {
		return fmt.Sprintf("%s FPS: %.1f / %.1f", name, measured, expected)
	}
	return fmt.Sprintf("%s FPS: %.1f", name, measured)
}

// DisplayTopKLabels lists the current predictions below the title.
type DisplayTopKLabels struct {
	// Offset leaves room for a title.
	Offset float64
}

func (d DisplayTopKLabels) Draw(dc *gg.Context, s DisplayState) {
	if len(s.Predictions) == 0 {
		return
	}
	banner(dc, d.Offset, float64(len(s.Predictions))*lineHeight+4)
	for i, p := range s.Predictions {
		dc.DrawString(p.String(), 4, d.Offset+float64(i+1)*lineHeight)
	}
}

// DefaultDisplayOps returns the overlay used by run_custom_classifier.
func DefaultDisplayOps(title string, expectedCameraFPS, expectedInferenceFPS float64) []DisplayOp {
	ops := []DisplayOp{DisplayFPS{ExpectedCameraFPS: expectedCameraFPS, ExpectedInferenceFPS: expectedInferenceFPS}}
	offset := 0.0
	if title != "" {
		ops = append(ops, DisplayTitle{Title: title})
		offset = lineHeight + 4
	}
	return append(ops, DisplayTopKLabels{Offset: offset})
}

// Render draws ops onto a copy of im.
func Render(im video.Image, ops []DisplayOp, s DisplayState) video.Image {
	rgba := im.ToRGBA()
	dc := gg.NewContextForRGBA(rgba)
	for _, op := range ops {
		op.Draw(dc, s)
	}
	return video.ImageFromRGBA(rgba)
}
