package gst

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/bryanchriswhite/capturepipe/internal/encode"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/rs/zerolog"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// firstPullTimeout bounds how long Drain waits for the frame just submitted
const firstPullTimeout = 5 * time.Millisecond

// puller hands out completed access units one at a time. It returns nil
// when nothing arrived within timeout.
type puller interface {
	Pull(timeout time.Duration) []byte
}

// appsinkPuller copies access units out of an appsink
type appsinkPuller struct {
	sink *app.Sink
}

func (p appsinkPuller) Pull(timeout time.Duration) []byte {
	sample := p.sink.TryPullSample(timeout)
	if sample == nil {
		return nil
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil
	}
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	packet := make([]byte, len(data))
	copy(packet, data)
	return packet
}

// session pushes RGBA frames into appsrc and polls appsink for access units.
// Polling avoids cgo callbacks into Go.
type session struct {
	pipeline *gst.Pipeline
	src      *app.Source
	samples  puller
	frameLen int
	log      zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func newSession(element, props string, p encode.Params) (*session, error) {
	log := logger.WithComponent("gst").With().Str("element", element).Logger()

	launch := pipelineString(element, props, p)
	log.Debug().Str("pipeline", launch).Msg("Creating encoder pipeline")

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	srcElement, err := pipeline.GetElementByName("src")
	if err != nil {
		pipeline.Unref()
		return nil, fmt.Errorf("failed to get appsrc: %w", err)
	}
	sinkElement, err := pipeline.GetElementByName("sink")
	if err != nil {
		pipeline.Unref()
		return nil, fmt.Errorf("failed to get appsink: %w", err)
	}

	s := &session{
		pipeline: pipeline,
		src:      app.SrcFromElement(srcElement),
		samples:  appsinkPuller{sink: app.SinkFromElement(sinkElement)},
		frameLen: p.Width * p.Height * 4,
		log:      log,
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		pipeline.Unref()
		return nil, fmt.Errorf("failed to start pipeline: %w", err)
	}

	log.Info().
		Int("width", p.Width).
		Int("height", p.Height).
		Msg("Encoder pipeline started")
	return s, nil
}

// Submit copies the frame into a GStreamer buffer and pushes it
func (s *session) Submit(img *image.RGBA) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session closed")
	}

	pix := img.Pix
	if len(pix) != s.frameLen {
		return fmt.Errorf("frame is %d bytes, encoder expects %d", len(pix), s.frameLen)
	}

	buf := gst.NewBufferFromBytes(pix)
	if ret := s.src.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("failed to push buffer: %s", ret.String())
	}
	return nil
}

// Drain pulls at most one access unit, waiting briefly for it. Frames that
// complete in a burst, such as the backlog queued while the encoder opens,
// stay in appsink and come out one per call.
func (s *session) Drain() ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("session closed")
	}

	packet := s.samples.Pull(firstPullTimeout)
	if packet == nil {
		return nil, nil
	}
	return [][]byte{packet}, nil
}

// Close stops the pipeline. Frames still queued inside the encoder are
// dropped.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.src.EndStream()
	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		s.log.Warn().Err(err).Msg("Failed to stop encoder pipeline")
	}
	s.pipeline.Unref()
	s.pipeline = nil

	s.log.Info().Msg("Encoder pipeline stopped")
	return nil
}
