// Package stages maps stage kinds onto their concrete backends.
package stages

import (
	"fmt"

	"github.com/bryanchriswhite/capturepipe/internal/audio"
	"github.com/bryanchriswhite/capturepipe/internal/audio/portaudio"
	"github.com/bryanchriswhite/capturepipe/internal/capture"
	"github.com/bryanchriswhite/capturepipe/internal/capture/x11"
	"github.com/bryanchriswhite/capturepipe/internal/encode"
	"github.com/bryanchriswhite/capturepipe/internal/encode/gst"
	"github.com/bryanchriswhite/capturepipe/internal/pipeline"
	"github.com/bryanchriswhite/capturepipe/internal/sink"
)

// Backends selects the platform implementation behind each stage kind
type Backends struct {
	Display  capture.Opener
	Audio    audio.Opener
	EncoderA encode.Vendor
	EncoderB encode.Vendor
}

// Default returns the X11, PortAudio and GStreamer backends
func Default() Backends {
	return Backends{
		Display:  x11.Open,
		Audio:    portaudio.Open,
		EncoderA: gst.NVENC(),
		EncoderB: gst.AMF(),
	}
}

// NewFactory returns a pipeline factory building stages on b
func NewFactory(b Backends) pipeline.Factory {
	return func(kind pipeline.Kind) (pipeline.Stage, error) {
		switch kind {
		case pipeline.KindCaptureDesktop:
			return capture.NewDesktopStage(b.Display), nil
		case pipeline.KindCaptureWindow:
			return capture.NewWindowStage(b.Display), nil
		case pipeline.KindEncodeA:
			return encode.NewStage(kind, b.EncoderA), nil
		case pipeline.KindEncodeB:
			return encode.NewStage(kind, b.EncoderB), nil
		case pipeline.KindAudioCapture:
			return audio.NewStage(b.Audio), nil
		case pipeline.KindWavSink:
			return sink.NewWavSink(), nil
		case pipeline.KindFileSink:
			return sink.NewFileSink(), nil
		default:
			return nil, fmt.Errorf("%w: %q", pipeline.ErrUnknownKind, kind)
		}
	}
}
