// Package encode implements the hardware video encoder stage. Vendors hide
// the encoder SDK behind a submit/drain session.
package encode

import (
	"image"
)

// Params configures an encoder session
type Params struct {
	Width     int
	Height    int
	FrameRate int
	// Bitrate in bits per second
	Bitrate   int
	GOPLength int
}

// Vendor is a hardware encoder implementation
type Vendor interface {
	Name() string

	// Available probes for drivers or plugins without opening a session
	Available() bool

	Open(p Params) (Session, error)
}

// Session encodes frames into H.264 access units
type Session interface {
	// Submit queues one frame for encoding
	Submit(img *image.RGBA) error

	// Drain returns at most one completed packet without waiting for more
	// than a short, bounded interval. Further packets stay queued inside the
	// session for later calls.
	Drain() ([][]byte, error)

	Close() error
}
