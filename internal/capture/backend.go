// Package capture implements the video capture stages: whole-output
// duplication and single-window capture.
package capture

import (
	"errors"
	"image"
	"time"

	"github.com/bryanchriswhite/capturepipe/internal/pipeline"
)

var (
	// ErrWaitTimeout means no new frame arrived before the deadline
	ErrWaitTimeout = errors.New("frame wait timed out")

	// ErrAccessLost means the duplicated output changed (mode switch,
	// resolution change) and the source must be recreated
	ErrAccessLost = errors.New("capture source access lost")

	// ErrSourceUnavailable means a source could not be created right now but
	// may succeed on a later attempt
	ErrSourceUnavailable = errors.New("capture source unavailable")

	// ErrWindowNotFound is returned when no window matches the requested title
	ErrWindowNotFound = errors.New("could not find window")
)

// Display is a connection to a windowing system. It doubles as the shared
// device handle published to downstream stages.
type Display interface {
	pipeline.Device

	// OutputBounds returns the size of the given output
	OutputBounds(screenID int) (image.Rectangle, error)

	// Duplicate opens a frame source for the given output. A retriable
	// failure wraps ErrSourceUnavailable.
	Duplicate(screenID int) (Source, error)

	// FindWindow returns the window whose title matches exactly, or the
	// focused window when title is empty
	FindWindow(title string) (Window, error)

	// Cursor returns the current pointer image and position
	Cursor() (*Cursor, error)

	Close() error
}

// Source yields frames of one duplicated output
type Source interface {
	// AcquireFrame waits up to timeout for a new frame. The returned image
	// is only valid until ReleaseFrame.
	AcquireFrame(timeout time.Duration) (*image.RGBA, error)
	ReleaseFrame()
	Close() error
}

// Window is a single top-level window
type Window interface {
	ID() uint32
	Title() string

	// Bounds returns the client area in root coordinates
	Bounds() (image.Rectangle, error)

	// CopyTo copies the current window contents into dst, clipped to dst
	CopyTo(dst *image.RGBA) error

	Close() error
}

// Cursor is a pointer image placed at Position in root coordinates
type Cursor struct {
	Image    *image.RGBA
	Position image.Point
	Visible  bool
}

// Opener connects to a display
type Opener func() (Display, error)
