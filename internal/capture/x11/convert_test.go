package x11

import (
	"image"
	"image/color"
	"testing"
)

func TestConvertInto(t *testing.T) {
	// 2x2 BGRX
	data := []byte{
		1, 2, 3, 0, 4, 5, 6, 0,
		7, 8, 9, 0, 10, 11, 12, 0,
	}
	dst := image.NewRGBA(image.Rect(0, 0, 2, 2))
	convertInto(dst, data, 2, 2, 24)

	tests := []struct {
		x, y int
		want color.RGBA
	}{
		{0, 0, color.RGBA{3, 2, 1, 255}},
		{1, 0, color.RGBA{6, 5, 4, 255}},
		{0, 1, color.RGBA{9, 8, 7, 255}},
		{1, 1, color.RGBA{12, 11, 10, 255}},
	}
	for _, tt := range tests {
		if got := dst.RGBAAt(tt.x, tt.y); got != tt.want {
			t.Errorf("pixel (%d,%d) = %v, want %v", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestConvertIntoClips(t *testing.T) {
	data := make([]byte, 4*4*4)
	for i := range data {
		data[i] = 0x80
	}
	dst := image.NewRGBA(image.Rect(0, 0, 2, 2))
	convertInto(dst, data, 4, 4, 32)
	if dst.RGBAAt(1, 1) != (color.RGBA{0x80, 0x80, 0x80, 255}) {
		t.Errorf("clipped pixel = %v", dst.RGBAAt(1, 1))
	}
}

func TestConvertIntoUnsupportedDepth(t *testing.T) {
	dst := image.NewRGBA(image.Rect(0, 0, 1, 1))
	convertInto(dst, []byte{1, 2, 3, 4}, 1, 1, 16)
	if dst.RGBAAt(0, 0) != (color.RGBA{}) {
		t.Error("16-bit depth should leave dst untouched")
	}
}

func TestCursorImage(t *testing.T) {
	img := cursorImage([]uint32{0x80402010, 0xff000000}, 2, 1)
	if got := img.RGBAAt(0, 0); got != (color.RGBA{0x40, 0x20, 0x10, 0x80}) {
		t.Errorf("pixel 0 = %v", got)
	}
	if got := img.RGBAAt(1, 0); got != (color.RGBA{0, 0, 0, 0xff}) {
		t.Errorf("pixel 1 = %v", got)
	}
}
