package audio

import (
	"fmt"
	"time"

	"github.com/bryanchriswhite/capturepipe/internal/config"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/bryanchriswhite/capturepipe/internal/pipeline"
	"github.com/rs/zerolog"
)

const (
	// InitialBufferFrames is the starting receive capacity
	InitialBufferFrames = 1024
	// MaxBufferFrames bounds receive buffer growth
	MaxBufferFrames = 32768

	defaultDevicePeriod = 10 * time.Millisecond
)

// Stage captures PCM from an input device, or from the system output
// through loopback
type Stage struct {
	pipeline.BaseStage

	open Opener
	log  zerolog.Logger

	device    Device
	capture   CaptureClient
	keepAlive RenderClient
	format    MixFormat
	wake      *time.Ticker

	buf      []byte
	capacity int
	out      pipeline.PCMBuffer
	closed   bool
}

// NewStage creates an audio capture stage using open to reach devices
func NewStage(open Opener) *Stage {
	return &Stage{
		open: open,
		log:  *logger.WithComponent("audio-capture"),
	}
}

func (s *Stage) Name() string {
	return string(pipeline.KindAudioCapture)
}

func (s *Stage) Produces() []pipeline.Field {
	return []pipeline.Field{pipeline.FieldAudioFormat}
}

func (s *Stage) Consumes() []pipeline.Field {
	return nil
}

func (s *Stage) Initialize(cfg *config.Config, pctx *pipeline.Context) error {
	loopback := cfg.Audio.Loopback()

	dev, err := s.open(cfg.Audio.DeviceName, loopback)
	if err != nil {
		return fmt.Errorf("failed to open audio device: %w", err)
	}
	s.device = dev

	mix, err := dev.MixFormat()
	if err != nil {
		return fmt.Errorf("failed to get mix format: %w", err)
	}
	s.format = CoercePCM16(mix)
	if s.format.BlockAlign() <= 0 {
		return fmt.Errorf("unusable mix format %+v", mix)
	}

	capture, err := dev.OpenCapture(s.format)
	if err != nil {
		return fmt.Errorf("failed to open capture client: %w", err)
	}
	s.capture = capture
	if err := capture.Start(); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}

	s.capacity = InitialBufferFrames
	s.buf = make([]byte, s.format.BlockAlign()*s.capacity)

	period := dev.DevicePeriod()
	if period <= 0 {
		period = defaultDevicePeriod
	}
	s.wake = time.NewTicker(period / 2)

	if err := pctx.SetAudioFormat(pipeline.AudioFormat{
		SampleRate:    s.format.SampleRate,
		Channels:      s.format.Channels,
		BitsPerSample: s.format.BitsPerSample,
	}); err != nil {
		return err
	}

	// Loopback delivers nothing while the system is silent, which would
	// leave the audio track shorter than the video. Playing silence keeps
	// packets flowing.
	if loopback {
		render, err := dev.OpenRender(s.format)
		if err != nil {
			return fmt.Errorf("failed to open keep-alive render client: %w", err)
		}
		s.keepAlive = render
		if err := render.Start(); err != nil {
			return fmt.Errorf("failed to start keep-alive render client: %w", err)
		}
	}

	s.log.Info().
		Str("device", dev.Name()).
		Bool("loopback", loopback).
		Str("mix_encoding", mix.Encoding.String()).
		Int("sample_rate", s.format.SampleRate).
		Int("channels", s.format.Channels).
		Int("bits", s.format.BitsPerSample).
		Dur("period", period).
		Msg("Audio capture initialized")
	return nil
}

func (s *Stage) Process(pipeline.Token) (pipeline.Token, error) {
	frames, err := s.capture.NextPacketSize()
	if err != nil {
		return nil, fmt.Errorf("failed to get next packet size: %w", err)
	}
	if frames == 0 {
		<-s.wake.C
		frames, err = s.capture.NextPacketSize()
		if err != nil {
			return nil, fmt.Errorf("failed to get next packet size: %w", err)
		}
		if frames == 0 {
			return pipeline.NoOutput, nil
		}
	}

	data, frames, err := s.capture.ReadPacket()
	if err != nil {
		return nil, fmt.Errorf("failed to read packet: %w", err)
	}

	if err := s.grow(frames); err != nil {
		s.capture.ReleasePacket(frames)
		return nil, err
	}

	n := frames * s.format.BlockAlign()
	copy(s.buf[:n], data)
	if err := s.capture.ReleasePacket(frames); err != nil {
		return nil, fmt.Errorf("failed to release packet: %w", err)
	}

	s.out.Data = s.buf[:n]
	s.out.Frames = frames
	return &s.out, nil
}

// grow doubles the receive buffer until it holds frames, failing past
// MaxBufferFrames
func (s *Stage) grow(frames int) error {
	if frames <= s.capacity {
		return nil
	}
	capacity := s.capacity
	for frames > capacity {
		capacity *= 2
		if capacity > MaxBufferFrames {
			s.log.Error().Int("frames", frames).Msg("Audio packet exceeded maximum buffer size")
			return fmt.Errorf("audio packet of %d frames overflowed buffer (max %d)", frames, MaxBufferFrames)
		}
	}
	s.log.Warn().
		Int("frames", frames).
		Int("capacity", capacity).
		Msg("Audio packet larger than buffer, resizing")
	s.capacity = capacity
	s.buf = make([]byte, s.format.BlockAlign()*capacity)
	return nil
}

func (s *Stage) Shutdown() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.wake != nil {
		s.wake.Stop()
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.keepAlive != nil {
		keep(s.keepAlive.Close())
	}
	if s.capture != nil {
		keep(s.capture.Close())
	}
	if s.device != nil {
		keep(s.device.Close())
	}
	s.buf = nil
	return firstErr
}
