package capture

import (
	"image"

	"golang.org/x/image/draw"
)

// overlayCursor draws the pointer onto dst. origin is the root coordinate
// of dst's top-left corner. Failures are ignored.
func overlayCursor(d Display, dst *image.RGBA, origin image.Point) {
	c, err := d.Cursor()
	if err != nil || c == nil || !c.Visible || c.Image == nil {
		return
	}

	at := c.Position.Sub(origin)
	r := c.Image.Bounds().Sub(c.Image.Bounds().Min).Add(at)
	if !r.Overlaps(dst.Bounds()) {
		return
	}
	draw.Draw(dst, r, c.Image, c.Image.Bounds().Min, draw.Over)
}
