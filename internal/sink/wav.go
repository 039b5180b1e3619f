package sink

import (
	"encoding/binary"
	"fmt"

	"github.com/bryanchriswhite/capturepipe/internal/config"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/bryanchriswhite/capturepipe/internal/pipeline"
	"github.com/rs/zerolog"
)

// HeaderSize is the length of the canonical RIFF/WAVE PCM header
const HeaderSize = 44

// wavHeader renders a PCM header for dataSize bytes of samples
func wavHeader(f pipeline.AudioFormat, dataSize uint32) []byte {
	buf := make([]byte, HeaderSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.ByteRate()))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(f.BitsPerSample))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataSize)
	return buf
}

// WavSink writes PCM into a WAV file. The header is written at initialize
// with zero-length size fields; with finalize enabled they are patched to
// the real sizes at shutdown.
type WavSink struct {
	pipeline.BaseStage
	writer
	log      zerolog.Logger
	format   pipeline.AudioFormat
	finalize bool
}

func NewWavSink() *WavSink {
	return &WavSink{log: *logger.WithComponent("wav-sink")}
}

func (s *WavSink) Name() string {
	return string(pipeline.KindWavSink)
}

func (s *WavSink) Produces() []pipeline.Field {
	return nil
}

func (s *WavSink) Consumes() []pipeline.Field {
	return []pipeline.Field{pipeline.FieldAudioFormat}
}

func (s *WavSink) Initialize(cfg *config.Config, pctx *pipeline.Context) error {
	format, ok := pctx.AudioFormat()
	if !ok {
		s.log.Warn().Msg("No audio format in context, header will be zeroed")
	}
	s.format = format
	s.finalize = cfg.Output.FinalizeWAVHeader

	if err := s.open(cfg.Output.FileName); err != nil {
		return err
	}
	if _, err := s.w.Write(wavHeader(format, 0)); err != nil {
		s.close()
		return fmt.Errorf("failed to write wav header: %w", err)
	}

	s.log.Info().
		Str("path", s.path).
		Int("sample_rate", format.SampleRate).
		Int("channels", format.Channels).
		Int("bits", format.BitsPerSample).
		Msg("WAV file opened")
	return nil
}

func (s *WavSink) Process(in pipeline.Token) (pipeline.Token, error) {
	if err := s.write(in); err != nil {
		return nil, err
	}
	return pipeline.NoOutput, nil
}

func (s *WavSink) Shutdown() error {
	if s.file == nil {
		return nil
	}

	dataSize := s.written
	if s.finalize {
		if err := s.w.Flush(); err != nil {
			s.close()
			return fmt.Errorf("failed to flush %s: %w", s.path, err)
		}
		if err := s.patchSizes(uint32(dataSize)); err != nil {
			s.log.Warn().Err(err).Msg("Failed to finalize WAV header")
		}
	}

	path := s.path
	err := s.close()
	s.log.Info().
		Str("path", path).
		Int64("data_bytes", dataSize).
		Bool("finalized", s.finalize).
		Msg("WAV file closed")
	return err
}

// patchSizes rewrites the RIFF and data chunk sizes in place
func (s *WavSink) patchSizes(dataSize uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], 36+dataSize)
	if _, err := s.file.WriteAt(b[:], 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b[:], dataSize)
	_, err := s.file.WriteAt(b[:], 40)
	return err
}
