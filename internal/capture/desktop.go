package capture

import (
	"errors"
	"fmt"
	"image"

	"github.com/bryanchriswhite/capturepipe/internal/config"
	"github.com/bryanchriswhite/capturepipe/internal/limiter"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/bryanchriswhite/capturepipe/internal/pipeline"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
)

// DesktopStage duplicates one display output. While the output is
// unavailable it keeps returning the last captured frame.
type DesktopStage struct {
	pipeline.BaseStage

	open Opener
	log  zerolog.Logger

	display       Display
	source        Source
	screenID      int
	captureCursor bool
	limiter       *limiter.Limiter

	// frame is allocated on the first successful capture and reused
	frame       *pipeline.Frame
	totalFrames uint64
	closed      bool
}

// NewDesktopStage creates a desktop duplication stage using open to reach
// the display
func NewDesktopStage(open Opener) *DesktopStage {
	return &DesktopStage{
		open: open,
		log:  *logger.WithComponent("capture-desktop"),
	}
}

func (s *DesktopStage) Name() string {
	return string(pipeline.KindCaptureDesktop)
}

// IsSupported reports whether a display connection can be opened
func (s *DesktopStage) IsSupported() bool {
	d, err := s.open()
	if err != nil {
		return false
	}
	d.Close()
	return true
}

func (s *DesktopStage) Produces() []pipeline.Field {
	return []pipeline.Field{pipeline.FieldDevice, pipeline.FieldResolution}
}

func (s *DesktopStage) Consumes() []pipeline.Field {
	return nil
}

func (s *DesktopStage) Initialize(cfg *config.Config, pctx *pipeline.Context) error {
	if cfg.Video.FrameRate <= 0 {
		return fmt.Errorf("frame rate must be greater than 0")
	}
	s.screenID = cfg.Video.Source.ScreenID
	s.captureCursor = cfg.Video.CaptureCursor

	display, err := s.open()
	if err != nil {
		return fmt.Errorf("failed to open display: %w", err)
	}
	s.display = display

	bounds, err := display.OutputBounds(s.screenID)
	if err != nil {
		return fmt.Errorf("failed to get output %d bounds: %w", s.screenID, err)
	}

	if err := s.duplicate(); err != nil {
		return err
	}

	if err := pctx.SetDevice(display); err != nil {
		return err
	}
	if err := pctx.SetResolution(pipeline.Resolution{Width: bounds.Dx(), Height: bounds.Dy()}); err != nil {
		return err
	}

	s.limiter = limiter.New(cfg.Video.FrameRate)

	s.log.Info().
		Str("display", display.Name()).
		Int("screen", s.screenID).
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Int("fps", cfg.Video.FrameRate).
		Bool("cursor", s.captureCursor).
		Msg("Desktop capture initialized")
	return nil
}

// duplicate tries to (re)create the source. An unavailable source is not an
// error; the stage retries on the next tick.
func (s *DesktopStage) duplicate() error {
	src, err := s.display.Duplicate(s.screenID)
	if err != nil {
		if errors.Is(err, ErrSourceUnavailable) {
			s.log.Debug().Err(err).Msg("Output not available for duplication yet")
			return nil
		}
		return fmt.Errorf("failed to duplicate output %d: %w", s.screenID, err)
	}
	s.source = src
	return nil
}

func (s *DesktopStage) Process(pipeline.Token) (pipeline.Token, error) {
	if s.source == nil {
		s.limiter.Wait()
		if err := s.duplicate(); err != nil {
			return nil, err
		}
		if s.source == nil {
			s.totalFrames++
			return s.stale(), nil
		}
		s.log.Info().Int("screen", s.screenID).Msg("Reacquired output")
	}

	img, err := s.source.AcquireFrame(s.limiter.Deadline())
	s.totalFrames++
	s.limiter.Wait()

	if err != nil {
		switch {
		case errors.Is(err, ErrWaitTimeout):
			return s.stale(), nil
		case errors.Is(err, ErrAccessLost):
			s.log.Warn().Err(err).Msg("Lost access to output, holding last frame")
			s.source.Close()
			s.source = nil
			return s.stale(), nil
		default:
			return nil, fmt.Errorf("failed to acquire frame: %w", err)
		}
	}

	if s.frame == nil {
		b := img.Bounds()
		s.frame = &pipeline.Frame{Image: image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))}
	}
	dst := s.frame.Image
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
	s.source.ReleaseFrame()
	s.frame.Seq++

	if s.captureCursor {
		overlayCursor(s.display, dst, image.Point{})
	}

	return s.frame, nil
}

// stale returns the most recent frame, or NoOutput before the first capture
func (s *DesktopStage) stale() pipeline.Token {
	if s.frame == nil {
		return pipeline.NoOutput
	}
	return s.frame
}

// Resume rebases pacing so the stage does not burst after a pause
func (s *DesktopStage) Resume() {
	if s.limiter != nil {
		s.limiter.Reset()
	}
}

func (s *DesktopStage) Shutdown() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.source != nil {
		err = s.source.Close()
		s.source = nil
	}
	if s.display != nil {
		if cerr := s.display.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.display = nil
	}

	s.log.Info().Uint64("frames", s.totalFrames).Msg("Desktop capture stopped")
	return err
}
