package stream

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// resizeToWidth scales the image to the target width, preserving the aspect
// ratio. Frames already at the target width (or degenerate ones) pass
// through unchanged.
func resizeToWidth(img image.Image, width int) image.Image {
	bounds := img.Bounds()
	if width <= 0 || bounds.Dx() <= 0 || bounds.Dy() <= 0 || bounds.Dx() == width {
		return img
	}

	height := bounds.Dy() * width / bounds.Dx()
	if height <= 0 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, xdraw.Src, nil)
	return dst
}
