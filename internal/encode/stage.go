package encode

import (
	"fmt"

	"github.com/bryanchriswhite/capturepipe/internal/config"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/bryanchriswhite/capturepipe/internal/pipeline"
	"github.com/rs/zerolog"
)

// Stage turns frames into compressed packets, at most one per tick
type Stage struct {
	pipeline.BaseStage

	kind   pipeline.Kind
	vendor Vendor
	log    zerolog.Logger

	session Session
	params  Params
	buf     []byte
	out     pipeline.Packet
	packets uint64
	closed  bool
}

// NewStage creates an encoder stage of the given kind backed by vendor
func NewStage(kind pipeline.Kind, vendor Vendor) *Stage {
	return &Stage{
		kind:   kind,
		vendor: vendor,
		log:    logger.WithComponent("encode").With().Str("vendor", vendor.Name()).Logger(),
	}
}

func (s *Stage) Name() string {
	return string(s.kind)
}

func (s *Stage) IsSupported() bool {
	return s.vendor.Available()
}

func (s *Stage) Produces() []pipeline.Field {
	return nil
}

func (s *Stage) Consumes() []pipeline.Field {
	return []pipeline.Field{pipeline.FieldResolution}
}

func (s *Stage) Initialize(cfg *config.Config, pctx *pipeline.Context) error {
	// A missing resolution stays zero and the vendor rejects it
	res, _ := pctx.Resolution()

	s.params = Params{
		Width:     res.Width,
		Height:    res.Height,
		FrameRate: cfg.Video.FrameRate,
		Bitrate:   cfg.Encoder.Bitrate,
		GOPLength: cfg.Video.FrameRate * 2,
	}
	if s.params.Width <= 0 || s.params.Height <= 0 {
		return fmt.Errorf("invalid input size %dx%d", s.params.Width, s.params.Height)
	}

	session, err := s.vendor.Open(s.params)
	if err != nil {
		return fmt.Errorf("failed to open %s encoder: %w", s.vendor.Name(), err)
	}
	s.session = session

	s.log.Info().
		Int("width", s.params.Width).
		Int("height", s.params.Height).
		Int("fps", s.params.FrameRate).
		Int("bitrate", s.params.Bitrate).
		Int("gop", s.params.GOPLength).
		Msg("Encoder initialized")
	return nil
}

func (s *Stage) Process(in pipeline.Token) (pipeline.Token, error) {
	frame, ok := in.(*pipeline.Frame)
	if !ok || frame.Image == nil {
		return nil, fmt.Errorf("%w: encoder expects a frame, got %T", pipeline.ErrInvariant, in)
	}

	if err := s.session.Submit(frame.Image); err != nil {
		return nil, fmt.Errorf("failed to submit frame: %w", err)
	}

	packets, err := s.session.Drain()
	if err != nil {
		return nil, fmt.Errorf("failed to drain encoder: %w", err)
	}

	switch len(packets) {
	case 0:
		// still warming up
		return pipeline.NoOutput, nil
	case 1:
	default:
		return nil, fmt.Errorf("%w: got %d packets from encoder, expected at most 1",
			pipeline.ErrInvariant, len(packets))
	}

	s.buf = append(s.buf[:0], packets[0]...)
	s.out.Data = s.buf
	s.packets++
	return &s.out, nil
}

func (s *Stage) Shutdown() error {
	if s.closed {
		return nil
	}
	s.closed = true

	s.log.Info().Uint64("packets", s.packets).Msg("Encoder stopped")
	if s.session == nil {
		return nil
	}
	err := s.session.Close()
	s.session = nil
	return err
}
