// Package glctx implements fabric.Context on OpenGL 4.6 and renders materials
// over a full screen quad to an offscreen framebuffer.
//
// All calls must be made from the goroutine owning the GL context, which
// should be locked to its OS thread with runtime.LockOSThread.
package glctx

import (
	"image"
	"image/color"
)

// flipRows reverses the row order of img in place. GL textures and
// framebuffers store the bottom row first.
func flipRows(img *image.NRGBA) {
	h := img.Rect.Dy()
	row := make([]byte, img.Stride)
	for y := 0; y < h/2; y++ {
		top := img.Pix[y*img.Stride : (y+1)*img.Stride]
		bottom := img.Pix[(h-1-y)*img.Stride : (h-y)*img.Stride]
		copy(row, top)
		copy(top, bottom)
		copy(bottom, row)
	}
}

// PixelAt returns the color of the pixel at (x, y) of img with the origin at the top left.
func PixelAt(img *image.NRGBA, x, y int) [4]uint8 {
	c := img.At(x, y).(color.NRGBA)
	return [4]uint8{c.R, c.G, c.B, c.A}
}
