// Package video reads and writes raw RGB frames. Decoding, encoding and
// camera capture are delegated to an ffmpeg subprocess.
package video

import (
	"image"
	"image/color"
)

// Image is a packed RGB24 frame.
type Image struct {
	Width  int
	Height int
	Bytes  []byte
}

// NewImage allocates a black frame.
func NewImage(width, height int) Image {
	return Image{
		Width:  width,
		Height: height,
		Bytes:  make([]byte, width*height*3),
	}
}

// ImageFromBytes wraps an existing RGB24 buffer.
func ImageFromBytes(width, height int, bytes []byte) Image {
	return Image{Width: width, Height: height, Bytes: bytes}
}

// Fill sets every pixel to c.
func (im Image) Fill(c color.RGBA) {
	for i := 0; i+2 < len(im.Bytes); i += 3 {
		im.Bytes[i] = c.R
		im.Bytes[i+1] = c.G
		im.Bytes[i+2] = c.B
	}
}

// At returns the RGB value at (x, y).
func (im Image) At(x, y int) (r, g, b byte) {
	i := (y*im.Width + x) * 3
	return im.Bytes[i], im.Bytes[i+1], im.Bytes[i+2]
}

// Clone returns a copy that does not share the pixel buffer.
func (im Image) Clone() Image {
	return Image{Width: im.Width, Height: im.Height, Bytes: append([]byte(nil), im.Bytes...)}
}

// ToRGBA converts the frame for drawing.
func (im Image) ToRGBA() *image.RGBA {
	rgba := image.NewRGBA(image.Rect(0, 0, im.Width, im.Height))
	for p := 0; p < im.Width*im.Height; p++ {
		rgba.Pix[p*4] = im.Bytes[p*3]
		rgba.Pix[p*4+1] = im.Bytes[p*3+1]
		rgba.Pix[p*4+2] = im.Bytes[p*3+2]
		rgba.Pix[p*4+3] = 255
	}
	return rgba
}

// ImageFromRGBA packs an RGBA image back to RGB24, dropping alpha.
func ImageFromRGBA(rgba *image.RGBA) Image {
	b := rgba.Bounds()
	im := NewImage(b.Dx(), b.Dy())
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			src := rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
			dst := (y*im.Width + x) * 3
			copy(im.Bytes[dst:dst+3], rgba.Pix[src:src+3])
		}
	}
	return im
}
