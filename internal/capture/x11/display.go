// Package x11 implements the capture backend on top of an X11 (or XWayland)
// connection. Damage drives frame waits, XFixes supplies the cursor and
// Composite is used to read obscured windows.
package x11

import (
	"fmt"
	"image"
	"os"
	"sync"
	"sync/atomic"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/damage"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/capturepipe/internal/capture"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/rs/zerolog"
)

// Display is a capture.Display backed by one X connection
type Display struct {
	conn  *xgb.Conn
	setup *xproto.SetupInfo
	name  string
	log   zerolog.Logger

	compositeEnabled bool
	damageEnabled    bool
	xfixesEnabled    bool

	// damaged receives a token whenever a watched drawable changes
	damaged chan struct{}
	// resized is set when a root window reports a new geometry
	resized atomic.Bool

	mu     sync.Mutex
	closed bool
}

// Open connects to the display named by $DISPLAY
func Open() (capture.Display, error) {
	return OpenDisplay("")
}

// OpenDisplay connects to the named display, or $DISPLAY when name is empty
func OpenDisplay(name string) (*Display, error) {
	var (
		conn *xgb.Conn
		err  error
	)
	if name == "" {
		conn, err = xgb.NewConn()
		name = os.Getenv("DISPLAY")
	} else {
		conn, err = xgb.NewConnDisplay(name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	d := &Display{
		conn:    conn,
		setup:   xproto.Setup(conn),
		name:    name,
		log:     *logger.WithComponent("x11"),
		damaged: make(chan struct{}, 1),
	}
	d.initExtensions()

	go d.pumpEvents()
	return d, nil
}

func (d *Display) initExtensions() {
	if err := composite.Init(d.conn); err != nil {
		d.log.Warn().
			Err(err).
			Msg("Composite extension not available - obscured windows may capture incorrectly")
	} else {
		d.compositeEnabled = true
	}

	if err := xfixes.Init(d.conn); err != nil {
		d.log.Warn().Err(err).Msg("XFixes extension not available - cursor capture disabled")
	} else if _, err := xfixes.QueryVersion(d.conn, 4, 0).Reply(); err != nil {
		d.log.Warn().Err(err).Msg("XFixes version negotiation failed - cursor capture disabled")
	} else {
		d.xfixesEnabled = true
	}

	// Damage depends on XFixes regions
	if d.xfixesEnabled {
		if err := damage.Init(d.conn); err != nil {
			d.log.Warn().Err(err).Msg("Damage extension not available - polling for frames")
		} else if _, err := damage.QueryVersion(d.conn, 1, 1).Reply(); err != nil {
			d.log.Warn().Err(err).Msg("Damage version negotiation failed - polling for frames")
		} else {
			d.damageEnabled = true
		}
	}

	d.log.Debug().
		Bool("composite", d.compositeEnabled).
		Bool("xfixes", d.xfixesEnabled).
		Bool("damage", d.damageEnabled).
		Msg("X extensions initialized")
}

// pumpEvents forwards the events sources wait on. It exits when the
// connection closes.
func (d *Display) pumpEvents() {
	for {
		ev, err := d.conn.WaitForEvent()
		if ev == nil && err == nil {
			return
		}
		if err != nil {
			d.log.Debug().Str("error", err.Error()).Msg("X error event")
			continue
		}

		switch e := ev.(type) {
		case damage.NotifyEvent:
			select {
			case d.damaged <- struct{}{}:
			default:
			}
		case xproto.ConfigureNotifyEvent:
			if d.isRoot(e.Window) {
				d.resized.Store(true)
			}
		}
	}
}

func (d *Display) isRoot(w xproto.Window) bool {
	for _, s := range d.setup.Roots {
		if s.Root == w {
			return true
		}
	}
	return false
}

// Name returns the X display name
func (d *Display) Name() string {
	if d.name == "" {
		return "x11"
	}
	return "x11" + d.name
}

func (d *Display) screen(screenID int) (*xproto.ScreenInfo, error) {
	if screenID < 0 || screenID >= len(d.setup.Roots) {
		return nil, fmt.Errorf("screen %d does not exist (have %d)", screenID, len(d.setup.Roots))
	}
	return &d.setup.Roots[screenID], nil
}

// OutputBounds returns the root window size of the given screen
func (d *Display) OutputBounds(screenID int) (image.Rectangle, error) {
	scr, err := d.screen(screenID)
	if err != nil {
		return image.Rectangle{}, err
	}
	geom, err := xproto.GetGeometry(d.conn, xproto.Drawable(scr.Root)).Reply()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("failed to get root geometry: %w", err)
	}
	return image.Rect(0, 0, int(geom.Width), int(geom.Height)), nil
}

// Duplicate opens a frame source over the root window of the given screen
func (d *Display) Duplicate(screenID int) (capture.Source, error) {
	scr, err := d.screen(screenID)
	if err != nil {
		return nil, err
	}

	geom, err := xproto.GetGeometry(d.conn, xproto.Drawable(scr.Root)).Reply()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", capture.ErrSourceUnavailable, err)
	}

	// Root resizes arrive as ConfigureNotify
	if err := xproto.ChangeWindowAttributesChecked(
		d.conn,
		scr.Root,
		xproto.CwEventMask,
		[]uint32{xproto.EventMaskStructureNotify},
	).Check(); err != nil {
		d.log.Debug().Err(err).Msg("Failed to watch root geometry")
	}
	d.resized.Store(false)

	src := &rootSource{
		d:       d,
		root:    scr.Root,
		depth:   scr.RootDepth,
		width:   geom.Width,
		height:  geom.Height,
		pending: true,
		buf:     image.NewRGBA(image.Rect(0, 0, int(geom.Width), int(geom.Height))),
	}

	if d.damageEnabled {
		id, err := damage.NewDamageId(d.conn)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", capture.ErrSourceUnavailable, err)
		}
		if err := damage.CreateChecked(d.conn, id, xproto.Drawable(scr.Root), damage.ReportLevelNonEmpty).Check(); err != nil {
			d.log.Warn().Err(err).Msg("Failed to watch root damage - polling for frames")
		} else {
			src.damage = id
		}
	}

	d.log.Debug().
		Int("screen", screenID).
		Uint16("width", geom.Width).
		Uint16("height", geom.Height).
		Bool("damage", src.damage != 0).
		Msg("Duplicated output")
	return src, nil
}

// Cursor returns the current pointer image
func (d *Display) Cursor() (*capture.Cursor, error) {
	if !d.xfixesEnabled {
		return nil, fmt.Errorf("cursor capture unavailable")
	}
	reply, err := xfixes.GetCursorImage(d.conn).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor image: %w", err)
	}

	return &capture.Cursor{
		Image:    cursorImage(reply.CursorImage, int(reply.Width), int(reply.Height)),
		Position: image.Pt(int(reply.X)-int(reply.Xhot), int(reply.Y)-int(reply.Yhot)),
		Visible:  reply.Width > 0 && reply.Height > 0,
	}, nil
}

// Close releases the connection. Safe to call more than once.
func (d *Display) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.conn.Close()
	return nil
}
