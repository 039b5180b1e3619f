package x11

import (
	"fmt"
	"image"

	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/capturepipe/internal/capture"
)

// FindWindow returns the top-level window titled exactly title, or the
// window holding input focus when title is empty
func (d *Display) FindWindow(title string) (capture.Window, error) {
	if title == "" {
		focus, err := xproto.GetInputFocus(d.conn).Reply()
		if err != nil {
			return nil, fmt.Errorf("failed to get input focus: %w", err)
		}
		if focus.Focus == xproto.WindowNone || focus.Focus == xproto.Window(xproto.InputFocusPointerRoot) {
			return nil, fmt.Errorf("no window has focus")
		}
		return d.newWindow(focus.Focus, d.windowTitle(focus.Focus)), nil
	}

	candidates, err := d.clientList()
	if err != nil || len(candidates) == 0 {
		d.log.Debug().Err(err).Msg("FindWindow: EWMH client list unavailable, falling back to QueryTree")
		candidates, err = d.rootChildren()
		if err != nil {
			return nil, err
		}
	}

	for _, win := range candidates {
		if d.windowTitle(win) == title {
			return d.newWindow(win, title), nil
		}
	}
	return nil, fmt.Errorf("no window titled %q among %d", title, len(candidates))
}

// WindowInfo describes a top-level window that can be captured by title
type WindowInfo struct {
	ID      uint32 `json:"id"`
	Title   string `json:"title"`
	Focused bool   `json:"focused"`
}

// ListWindows returns every titled top-level window
func (d *Display) ListWindows() ([]WindowInfo, error) {
	candidates, err := d.clientList()
	if err != nil || len(candidates) == 0 {
		candidates, err = d.rootChildren()
		if err != nil {
			return nil, err
		}
	}

	var focused xproto.Window
	if focus, err := xproto.GetInputFocus(d.conn).Reply(); err == nil {
		focused = focus.Focus
	}

	var out []WindowInfo
	for _, win := range candidates {
		title := d.windowTitle(win)
		if title == "" {
			continue
		}
		out = append(out, WindowInfo{ID: uint32(win), Title: title, Focused: win == focused})
	}
	return out, nil
}

// clientList reads _NET_CLIENT_LIST from every root
func (d *Display) clientList() ([]xproto.Window, error) {
	atom, err := d.getAtom("_NET_CLIENT_LIST")
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST atom: %w", err)
	}

	var windows []xproto.Window
	for _, scr := range d.setup.Roots {
		reply, err := xproto.GetProperty(
			d.conn,
			false,
			scr.Root,
			atom,
			xproto.GetPropertyTypeAny,
			0,
			(1<<32)-1,
		).Reply()
		if err != nil {
			return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST property: %w", err)
		}
		for i := 0; i+4 <= len(reply.Value); i += 4 {
			windows = append(windows, xproto.Window(uint32(reply.Value[i])|
				uint32(reply.Value[i+1])<<8|
				uint32(reply.Value[i+2])<<16|
				uint32(reply.Value[i+3])<<24))
		}
	}
	return windows, nil
}

func (d *Display) rootChildren() ([]xproto.Window, error) {
	var windows []xproto.Window
	for _, scr := range d.setup.Roots {
		tree, err := xproto.QueryTree(d.conn, scr.Root).Reply()
		if err != nil {
			return nil, fmt.Errorf("failed to query tree: %w", err)
		}
		windows = append(windows, tree.Children...)
	}
	return windows, nil
}

// windowTitle prefers _NET_WM_NAME and falls back to WM_NAME
func (d *Display) windowTitle(win xproto.Window) string {
	for _, name := range []string{"_NET_WM_NAME", "WM_NAME"} {
		atom, err := d.getAtom(name)
		if err != nil {
			continue
		}
		if title, err := d.getProperty(win, atom); err == nil && title != "" {
			return title
		}
	}
	return ""
}

func (d *Display) getAtom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(d.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	return reply.Atom, nil
}

func (d *Display) getProperty(win xproto.Window, atom xproto.Atom) (string, error) {
	reply, err := xproto.GetProperty(
		d.conn,
		false,
		win,
		atom,
		xproto.GetPropertyTypeAny,
		0,
		(1<<32)-1,
	).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property")
	}
	return string(reply.Value), nil
}

// window is a capture.Window. With Composite available the window is
// redirected so its contents survive being obscured.
type window struct {
	d          *Display
	id         xproto.Window
	title      string
	redirected bool
}

func (d *Display) newWindow(id xproto.Window, title string) *window {
	w := &window{d: d, id: id, title: title}
	if d.compositeEnabled {
		err := composite.RedirectWindowChecked(d.conn, id, composite.RedirectAutomatic).Check()
		if err != nil {
			d.log.Warn().
				Err(err).
				Uint32("window_id", uint32(id)).
				Msg("Failed to redirect window via Composite, falling back to direct capture")
		} else {
			w.redirected = true
		}
	}
	return w
}

func (w *window) ID() uint32 {
	return uint32(w.id)
}

func (w *window) Title() string {
	return w.title
}

// Bounds returns the window area translated into root coordinates
func (w *window) Bounds() (image.Rectangle, error) {
	geom, err := xproto.GetGeometry(w.d.conn, xproto.Drawable(w.id)).Reply()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to get window geometry: %w", err)
	}
	tr, err := xproto.TranslateCoordinates(w.d.conn, w.id, geom.Root, 0, 0).Reply()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to translate coordinates: %w", err)
	}
	x, y := int(tr.DstX), int(tr.DstY)
	return image.Rect(x, y, x+int(geom.Width), y+int(geom.Height)), nil
}

// CopyTo reads the window (or its composite pixmap) into dst
func (w *window) CopyTo(dst *image.RGBA) error {
	geom, err := xproto.GetGeometry(w.d.conn, xproto.Drawable(w.id)).Reply()
	if err != nil {
		return fmt.Errorf("failed to get window geometry: %w", err)
	}

	drawable := xproto.Drawable(w.id)
	if w.redirected {
		pixmap, err := xproto.NewPixmapId(w.d.conn)
		if err == nil {
			if err := composite.NameWindowPixmapChecked(w.d.conn, w.id, pixmap).Check(); err == nil {
				drawable = xproto.Drawable(pixmap)
				defer xproto.FreePixmap(w.d.conn, pixmap)
			}
		}
	}

	width := min(int(geom.Width), dst.Bounds().Dx())
	height := min(int(geom.Height), dst.Bounds().Dy())
	if width == 0 || height == 0 {
		return nil
	}

	reply, err := xproto.GetImage(
		w.d.conn,
		xproto.ImageFormatZPixmap,
		drawable,
		0, 0,
		uint16(width), uint16(height),
		0xffffffff,
	).Reply()
	if err != nil {
		return fmt.Errorf("failed to get image: %w", err)
	}

	convertInto(dst, reply.Data, width, height, int(geom.Depth))
	return nil
}

func (w *window) Close() error {
	if w.redirected {
		composite.UnredirectWindow(w.d.conn, w.id, composite.RedirectAutomatic)
		w.redirected = false
	}
	return nil
}
