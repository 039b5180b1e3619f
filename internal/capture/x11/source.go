package x11

import (
	"fmt"
	"image"
	"time"

	"github.com/BurntSushi/xgb/damage"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/bryanchriswhite/capturepipe/internal/capture"
)

// rootSource reads frames from a root window
type rootSource struct {
	d      *Display
	root   xproto.Window
	depth  byte
	width  uint16
	height uint16
	damage damage.Damage

	// pending forces a read without waiting for damage
	pending bool
	buf     *image.RGBA
}

// AcquireFrame waits for damage on the root window (when available), then
// reads the whole root. A changed root size reports capture.ErrAccessLost.
func (s *rootSource) AcquireFrame(timeout time.Duration) (*image.RGBA, error) {
	if s.d.resized.Swap(false) {
		if lost, err := s.geometryChanged(); err != nil || lost {
			return nil, fmt.Errorf("%w: root geometry changed", capture.ErrAccessLost)
		}
	}

	if s.damage != 0 && !s.pending {
		if !s.waitDamage(timeout) {
			return nil, capture.ErrWaitTimeout
		}
	}
	s.pending = false

	if s.damage != 0 {
		damage.Subtract(s.d.conn, s.damage, xfixes.Region(0), xfixes.Region(0))
	}

	reply, err := xproto.GetImage(
		s.d.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(s.root),
		0, 0,
		s.width, s.height,
		0xffffffff,
	).Reply()
	if err != nil {
		// a root that shrank underneath us fails with BadMatch
		if lost, gerr := s.geometryChanged(); gerr == nil && lost {
			return nil, fmt.Errorf("%w: %v", capture.ErrAccessLost, err)
		}
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	convertInto(s.buf, reply.Data, int(s.width), int(s.height), int(s.depth))
	return s.buf, nil
}

func (s *rootSource) waitDamage(timeout time.Duration) bool {
	select {
	case <-s.d.damaged:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.d.damaged:
		return true
	case <-t.C:
		return false
	}
}

func (s *rootSource) geometryChanged() (bool, error) {
	geom, err := xproto.GetGeometry(s.d.conn, xproto.Drawable(s.root)).Reply()
	if err != nil {
		return false, err
	}
	return geom.Width != s.width || geom.Height != s.height, nil
}

// ReleaseFrame is a no-op; the buffer is reused on the next acquire
func (s *rootSource) ReleaseFrame() {}

func (s *rootSource) Close() error {
	if s.damage != 0 {
		damage.Destroy(s.d.conn, s.damage)
		s.damage = 0
	}
	return nil
}
