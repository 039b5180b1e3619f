package capture

import (
	"fmt"
	"image"

	"github.com/bryanchriswhite/capturepipe/internal/config"
	"github.com/bryanchriswhite/capturepipe/internal/limiter"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/bryanchriswhite/capturepipe/internal/pipeline"
	"github.com/rs/zerolog"
)

// WindowStage captures the client area of a single window at a fixed rate
type WindowStage struct {
	pipeline.BaseStage

	open Opener
	log  zerolog.Logger

	display       Display
	window        Window
	captureCursor bool
	limiter       *limiter.Limiter
	frame         *pipeline.Frame
	closed        bool
}

// NewWindowStage creates a window capture stage using open to reach the
// display
func NewWindowStage(open Opener) *WindowStage {
	return &WindowStage{
		open: open,
		log:  *logger.WithComponent("capture-window"),
	}
}

func (s *WindowStage) Name() string {
	return string(pipeline.KindCaptureWindow)
}

func (s *WindowStage) IsSupported() bool {
	d, err := s.open()
	if err != nil {
		return false
	}
	d.Close()
	return true
}

func (s *WindowStage) Produces() []pipeline.Field {
	return []pipeline.Field{pipeline.FieldDevice, pipeline.FieldResolution}
}

func (s *WindowStage) Consumes() []pipeline.Field {
	return nil
}

func (s *WindowStage) Initialize(cfg *config.Config, pctx *pipeline.Context) error {
	if cfg.Video.FrameRate <= 0 {
		return fmt.Errorf("frame rate must be greater than 0")
	}
	s.captureCursor = cfg.Video.CaptureCursor

	display, err := s.open()
	if err != nil {
		return fmt.Errorf("failed to open display: %w", err)
	}
	s.display = display

	title := cfg.Video.Source.WindowTitle
	win, err := display.FindWindow(title)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrWindowNotFound, title, err)
	}
	s.window = win

	bounds, err := win.Bounds()
	if err != nil {
		return fmt.Errorf("failed to get window bounds: %w", err)
	}
	s.frame = &pipeline.Frame{Image: image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))}

	if err := pctx.SetDevice(display); err != nil {
		return err
	}
	if err := pctx.SetResolution(pipeline.Resolution{Width: bounds.Dx(), Height: bounds.Dy()}); err != nil {
		return err
	}

	s.limiter = limiter.New(cfg.Video.FrameRate)

	s.log.Info().
		Uint32("window_id", win.ID()).
		Str("title", win.Title()).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Msg("Window capture initialized")
	return nil
}

func (s *WindowStage) Process(pipeline.Token) (pipeline.Token, error) {
	s.limiter.Wait()

	if err := s.window.CopyTo(s.frame.Image); err != nil {
		return nil, fmt.Errorf("failed to copy window contents: %w", err)
	}
	s.frame.Seq++

	if s.captureCursor {
		if b, err := s.window.Bounds(); err == nil {
			overlayCursor(s.display, s.frame.Image, b.Min)
		}
	}

	return s.frame, nil
}

func (s *WindowStage) Resume() {
	if s.limiter != nil {
		s.limiter.Reset()
	}
}

func (s *WindowStage) Shutdown() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.window != nil {
		err = s.window.Close()
		s.window = nil
	}
	if s.display != nil {
		if cerr := s.display.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.display = nil
	}
	return err
}
