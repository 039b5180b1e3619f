// Package mux combines the intermediate elementary streams of a recording
// into a single mp4 with ffmpeg.
package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/rs/zerolog"
)

const (
	VideoExt  = ".h264"
	AudioExt  = ".wav"
	OutputExt = ".mp4"
)

// Runner executes ffmpeg with args
type Runner func(ctx context.Context, ffmpegPath string, args []string) error

// Muxer runs ffmpeg over recording intermediates
type Muxer struct {
	ffmpegPath string
	frameRate  int
	run        Runner
	log        zerolog.Logger
}

// Option configures a Muxer
type Option func(*Muxer)

// WithFrameRate tells ffmpeg the rate of raw .h264 inputs, which carry no
// timing of their own
func WithFrameRate(fps int) Option {
	return func(m *Muxer) { m.frameRate = fps }
}

// WithRunner replaces process execution
func WithRunner(r Runner) Option {
	return func(m *Muxer) { m.run = r }
}

// New creates a muxer using the ffmpeg binary at ffmpegPath
func New(ffmpegPath string, opts ...Option) *Muxer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	m := &Muxer{
		ffmpegPath: ffmpegPath,
		run:        runFFmpeg,
		log:        *logger.WithComponent("mux"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Args builds the ffmpeg command line muxing inputs into output
func (m *Muxer) Args(output string, inputs []string) []string {
	args := []string{"-hide_banner", "-nostdin", "-v", "error", "-y"}

	audio := 0
	for _, in := range inputs {
		if strings.HasSuffix(in, VideoExt) && m.frameRate > 0 {
			args = append(args, "-framerate", strconv.Itoa(m.frameRate))
		}
		if strings.HasSuffix(in, AudioExt) {
			audio++
		}
		args = append(args, "-i", in)
	}

	args = append(args, "-c:v", "copy")
	if audio > 1 {
		args = append(args, "-filter_complex", fmt.Sprintf("amix=inputs=%d", audio))
	}
	return append(args, output)
}

// Process muxes inputs into output and deletes the inputs on success
func (m *Muxer) Process(ctx context.Context, output string, inputs []string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no inputs for %s", output)
	}

	args := m.Args(output, inputs)
	m.log.Info().
		Str("output", output).
		Strs("inputs", inputs).
		Msg("Muxing recording")
	m.log.Debug().Str("cmd", m.ffmpegPath+" "+strings.Join(args, " ")).Msg("Running ffmpeg")

	if err := m.run(ctx, m.ffmpegPath, args); err != nil {
		return fmt.Errorf("failed to mux %s: %w", output, err)
	}

	var errs []error
	for _, in := range inputs {
		if err := os.Remove(in); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to remove intermediates: %w", err)
	}
	return nil
}

// ProcessDirectory muxes every group of leftover intermediates in dir, as
// left behind by an interrupted recording. Files are grouped by the part of
// their name before the first dot. A failing group is logged and skipped;
// the returned slice lists the outputs that were written.
func (m *Muxer) ProcessDirectory(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	groups := Group(entries)
	prefixes := make([]string, 0, len(groups))
	for prefix := range groups {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)

	var written []string
	for _, prefix := range prefixes {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		inputs := make([]string, 0, len(groups[prefix]))
		for _, name := range groups[prefix] {
			inputs = append(inputs, filepath.Join(dir, name))
		}
		output := filepath.Join(dir, prefix+OutputExt)
		if err := m.Process(ctx, output, inputs); err != nil {
			m.log.Warn().Err(err).Str("prefix", prefix).Msg("Skipping recording")
			continue
		}
		written = append(written, output)
	}
	return written, nil
}

// Group collects intermediate file names by prefix, video first
func Group(entries []os.DirEntry) map[string][]string {
	groups := make(map[string][]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, VideoExt) || strings.HasSuffix(name, AudioExt)) {
			continue
		}
		prefix, _, _ := strings.Cut(name, ".")
		groups[prefix] = append(groups[prefix], name)
	}
	for _, names := range groups {
		sort.SliceStable(names, func(i, j int) bool {
			vi, vj := strings.HasSuffix(names[i], VideoExt), strings.HasSuffix(names[j], VideoExt)
			if vi != vj {
				return vi
			}
			return names[i] < names[j]
		})
	}
	return groups
}

func runFFmpeg(ctx context.Context, ffmpegPath string, args []string) error {
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(strings.TrimSpace(stderr.String()), 240))
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
