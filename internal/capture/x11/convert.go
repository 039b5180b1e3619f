package x11

import (
	"image"
)

// convertInto copies ZPixmap BGRX data into dst, clipped to dst's bounds.
// Only 24 and 32 bit depths are supported; other depths leave dst unchanged.
func convertInto(dst *image.RGBA, data []byte, width, height, depth int) {
	if depth != 24 && depth != 32 {
		return
	}

	b := dst.Bounds()
	w := min(width, b.Dx())
	h := min(height, b.Dy())
	srcStride := width * 4

	for y := 0; y < h; y++ {
		row := y * srcStride
		out := dst.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < w; x++ {
			i := row + x*4
			if i+3 >= len(data) {
				return
			}
			o := out + x*4
			dst.Pix[o] = data[i+2]
			dst.Pix[o+1] = data[i+1]
			dst.Pix[o+2] = data[i]
			dst.Pix[o+3] = 255
		}
	}
}

// cursorImage converts XFixes premultiplied ARGB pixels into an image
func cursorImage(argb []uint32, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, p := range argb {
		if i >= width*height {
			break
		}
		o := i * 4
		img.Pix[o] = byte(p >> 16)
		img.Pix[o+1] = byte(p >> 8)
		img.Pix[o+2] = byte(p)
		img.Pix[o+3] = byte(p >> 24)
	}
	return img
}
