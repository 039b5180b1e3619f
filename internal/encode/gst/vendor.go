// Package gst implements hardware H.264 encoder vendors as GStreamer
// pipelines: appsrc ! videoconvert ! <encoder> ! h264parse ! appsink.
package gst

import (
	"fmt"
	"sync"

	"github.com/bryanchriswhite/capturepipe/internal/encode"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/tinyzimmer/go-gst/gst"
)

var initOnce sync.Once

func initGStreamer() {
	initOnce.Do(func() {
		gst.Init(nil)
	})
}

// Vendor is an encoder backed by one GStreamer element
type Vendor struct {
	name    string
	element string
	// props renders element properties for the given params
	props func(p encode.Params) string
}

// NVENC encodes on NVIDIA GPUs through nvh264enc
func NVENC() *Vendor {
	return &Vendor{
		name:    "nvenc",
		element: "nvh264enc",
		props: func(p encode.Params) string {
			return fmt.Sprintf("bitrate=%d gop-size=%d preset=low-latency-hq zerolatency=true",
				p.Bitrate/1000, p.GOPLength)
		},
	}
}

// AMF encodes on AMD GPUs through amfh264enc
func AMF() *Vendor {
	return &Vendor{
		name:    "amf",
		element: "amfh264enc",
		props: func(p encode.Params) string {
			return fmt.Sprintf("bitrate=%d gop-size=%d usage=low-latency",
				p.Bitrate/1000, p.GOPLength)
		},
	}
}

func (v *Vendor) Name() string {
	return v.name
}

// Available reports whether the encoder element is installed
func (v *Vendor) Available() bool {
	initGStreamer()
	factory := gst.Find(v.element)
	if factory == nil {
		logger.WithComponent("gst").Debug().
			Str("element", v.element).
			Msg("Encoder element not found")
		return false
	}
	return true
}

// Open builds and starts an encoding pipeline
func (v *Vendor) Open(p encode.Params) (encode.Session, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("invalid input size %dx%d", p.Width, p.Height)
	}
	initGStreamer()
	return newSession(v.element, v.props(p), p)
}

// pipelineString renders the launch line for an encoder session
func pipelineString(element, props string, p encode.Params) string {
	return fmt.Sprintf(
		"appsrc name=src format=time is-live=true do-timestamp=true "+
			"caps=video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1 ! "+
			"videoconvert ! "+
			"%s %s ! "+
			"h264parse config-interval=-1 ! "+
			"video/x-h264,stream-format=byte-stream,alignment=au ! "+
			"appsink name=sink emit-signals=false sync=false max-buffers=8",
		p.Width, p.Height, p.FrameRate,
		element, props,
	)
}
