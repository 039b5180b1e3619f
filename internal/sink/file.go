// Package sink holds the terminal stages that persist a pipeline's output.
package sink

import (
	"bufio"
	"fmt"
	"os"

	"github.com/bryanchriswhite/capturepipe/internal/config"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/bryanchriswhite/capturepipe/internal/pipeline"
	"github.com/rs/zerolog"
)

const bufferSize = 64 * 1024

// writer is the buffered file shared by both sinks
type writer struct {
	path    string
	file    *os.File
	w       *bufio.Writer
	written int64
}

func (w *writer) open(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	w.path = path
	w.file = f
	w.w = bufio.NewWriterSize(f, bufferSize)
	return nil
}

func (w *writer) write(in pipeline.Token) error {
	p, ok := in.(pipeline.Payload)
	if !ok {
		return fmt.Errorf("%w: sink expects a payload, got %T", pipeline.ErrInvariant, in)
	}
	n, err := w.w.Write(p.Bytes())
	w.written += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", w.path, err)
	}
	return nil
}

func (w *writer) close() error {
	if w.file == nil {
		return nil
	}
	flushErr := w.w.Flush()
	closeErr := w.file.Close()
	w.file = nil
	if flushErr != nil {
		return fmt.Errorf("failed to flush %s: %w", w.path, flushErr)
	}
	return closeErr
}

// FileSink writes every payload verbatim, producing a raw elementary stream
type FileSink struct {
	pipeline.BaseStage
	writer
	log zerolog.Logger
}

func NewFileSink() *FileSink {
	return &FileSink{log: *logger.WithComponent("file-sink")}
}

func (s *FileSink) Name() string {
	return string(pipeline.KindFileSink)
}

func (s *FileSink) Initialize(cfg *config.Config, _ *pipeline.Context) error {
	if err := s.open(cfg.Output.FileName); err != nil {
		return err
	}
	s.log.Info().Str("path", s.path).Msg("Output file opened")
	return nil
}

// Process writes the payload and ends the tick
func (s *FileSink) Process(in pipeline.Token) (pipeline.Token, error) {
	if err := s.write(in); err != nil {
		return nil, err
	}
	return pipeline.NoOutput, nil
}

func (s *FileSink) Shutdown() error {
	if s.file == nil {
		return nil
	}
	path := s.path
	err := s.close()
	s.log.Info().
		Str("path", path).
		Int64("bytes", s.written).
		Msg("Output file closed")
	return err
}
