package capture

import (
	"errors"
	"image"
	"image/color"
	"time"
)

// acquireResult scripts one AcquireFrame call
type acquireResult struct {
	fill color.RGBA
	err  error
}

type fakeSource struct {
	script   []acquireResult
	calls    int
	released int
	closed   bool
	size     image.Rectangle
}

func (s *fakeSource) AcquireFrame(time.Duration) (*image.RGBA, error) {
	if s.calls >= len(s.script) {
		return nil, ErrWaitTimeout
	}
	r := s.script[s.calls]
	s.calls++
	if r.err != nil {
		return nil, r.err
	}
	img := image.NewRGBA(s.size)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = r.fill.R, r.fill.G, r.fill.B, r.fill.A
	}
	return img, nil
}

func (s *fakeSource) ReleaseFrame() { s.released++ }

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeWindow struct {
	id      uint32
	title   string
	bounds  image.Rectangle
	fill    color.RGBA
	copyErr error
	closed  bool
}

func (w *fakeWindow) ID() uint32                       { return w.id }
func (w *fakeWindow) Title() string                    { return w.title }
func (w *fakeWindow) Bounds() (image.Rectangle, error) { return w.bounds, nil }

func (w *fakeWindow) CopyTo(dst *image.RGBA) error {
	if w.copyErr != nil {
		return w.copyErr
	}
	for i := 0; i < len(dst.Pix); i += 4 {
		dst.Pix[i], dst.Pix[i+1], dst.Pix[i+2], dst.Pix[i+3] = w.fill.R, w.fill.G, w.fill.B, w.fill.A
	}
	return nil
}

func (w *fakeWindow) Close() error {
	w.closed = true
	return nil
}

type fakeDisplay struct {
	bounds image.Rectangle

	// sources are handed out by successive Duplicate calls; dupErrs, when
	// non-nil for an index, is returned instead
	sources []*fakeSource
	dupErrs []error
	dups    int

	windows []*fakeWindow
	focused *fakeWindow
	cursor  *Cursor

	closed bool
}

func (d *fakeDisplay) Name() string { return "fake" }

func (d *fakeDisplay) OutputBounds(screenID int) (image.Rectangle, error) {
	if screenID != 0 {
		return image.Rectangle{}, errors.New("no such screen")
	}
	return d.bounds, nil
}

func (d *fakeDisplay) Duplicate(int) (Source, error) {
	i := d.dups
	d.dups++
	if i < len(d.dupErrs) && d.dupErrs[i] != nil {
		return nil, d.dupErrs[i]
	}
	if i >= len(d.sources) {
		return nil, ErrSourceUnavailable
	}
	return d.sources[i], nil
}

func (d *fakeDisplay) FindWindow(title string) (Window, error) {
	if title == "" {
		if d.focused == nil {
			return nil, errors.New("no focused window")
		}
		return d.focused, nil
	}
	for _, w := range d.windows {
		if w.title == title {
			return w, nil
		}
	}
	return nil, errors.New("no match")
}

func (d *fakeDisplay) Cursor() (*Cursor, error) {
	if d.cursor == nil {
		return nil, errors.New("no cursor")
	}
	return d.cursor, nil
}

func (d *fakeDisplay) Close() error {
	d.closed = true
	return nil
}

func openerFor(d *fakeDisplay) Opener {
	return func() (Display, error) { return d, nil }
}
