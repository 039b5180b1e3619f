// Package recorder drives a recording session: one video pipeline and one
// audio pipeline per configured source, started, paused and stopped together
// and muxed into a single file at the end.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/capturepipe/internal/config"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/bryanchriswhite/capturepipe/internal/mux"
	"github.com/bryanchriswhite/capturepipe/internal/observe"
	"github.com/bryanchriswhite/capturepipe/internal/pipeline"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrInvalidState is returned when an operation does not apply to the
	// session's current state
	ErrInvalidState = errors.New("invalid recording state")
	// ErrNoEncoder is returned when no hardware encoder is supported
	ErrNoEncoder = errors.New("no supported encoder")
)

// State is the lifecycle of a recording session
type State int

const (
	StateUnstarted State = iota
	StateCapturing
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateCapturing:
		return "capturing"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateUnstarted, StateCapturing, StatePaused, StateStopped} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown recording state %q", text)
}

// encoderKinds are tried in order; the first supported one is used
var encoderKinds = []pipeline.Kind{pipeline.KindEncodeA, pipeline.KindEncodeB}

// Recorder is one recording session. It is not reusable after Stop.
type Recorder struct {
	id      string
	cfg     config.Config
	factory pipeline.Factory
	muxer   *mux.Muxer
	metrics *observe.Metrics
	log     zerolog.Logger

	mu        sync.Mutex
	state     State
	engines   []*pipeline.Engine
	outputs   []string
	pending   []error
	startedAt time.Time
	result    string
}

// Option configures a Recorder
type Option func(*Recorder)

// WithMuxer replaces the ffmpeg muxer used at stop
func WithMuxer(m *mux.Muxer) Option {
	return func(r *Recorder) { r.muxer = m }
}

// WithMetrics records pipeline metrics on m
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// New creates an unstarted session. cfg.Output.FileName is the base name of
// every intermediate and of the final mp4.
func New(cfg *config.Config, factory pipeline.Factory, opts ...Option) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	r := &Recorder{
		id:      id,
		cfg:     *cfg,
		factory: factory,
		log:     logger.WithComponent("recorder").With().Str("session", id).Logger(),
	}
	r.cfg.Audio.Sources = append([]config.AudioSourceType(nil), cfg.Audio.Sources...)
	for _, opt := range opts {
		opt(r)
	}
	if r.muxer == nil {
		r.muxer = mux.New(cfg.Recording.FFmpegPath, mux.WithFrameRate(cfg.Video.FrameRate))
	}
	return r, nil
}

// ID returns the session identifier
func (r *Recorder) ID() string {
	return r.id
}

// Start builds, initializes and starts every pipeline. Pipelines initialize
// one after another since device backends are not safe to open
// concurrently. If any pipeline fails, all of them are stopped and the
// session stays unstarted.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureState(StateUnstarted); err != nil {
		return err
	}

	if err := r.build(); err != nil {
		r.abort(err)
		return err
	}

	for _, e := range r.engines {
		if err := ctx.Err(); err != nil {
			r.abort(err)
			return err
		}
		if err := e.Initialize(); err != nil {
			err = fmt.Errorf("%s: %w", e.Name(), err)
			r.abort(err)
			return err
		}
	}

	for _, e := range r.engines {
		if err := e.Start(); err != nil {
			err = fmt.Errorf("%s: %w", e.Name(), err)
			r.abort(err)
			return err
		}
	}

	r.state = StateCapturing
	r.startedAt = time.Now()
	if r.metrics != nil {
		r.metrics.ActiveRecordings.Add(ctx, 1)
	}

	r.log.Info().
		Int("pipelines", len(r.engines)).
		Strs("outputs", r.outputs).
		Msg("Recording started")
	return nil
}

// Pause pauses every pipeline
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureState(StateCapturing); err != nil {
		return err
	}
	r.poll()
	for _, e := range r.engines {
		e.Pause()
	}
	r.state = StatePaused
	r.log.Info().Msg("Recording paused")
	return nil
}

// Resume resumes every pipeline
func (r *Recorder) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureState(StatePaused); err != nil {
		return err
	}
	r.poll()
	for _, e := range r.engines {
		e.Resume()
	}
	r.state = StateCapturing
	r.log.Info().Msg("Recording resumed")
	return nil
}

// Stop stops every pipeline and, when post-processing is enabled, muxes the
// intermediates. It returns the path of the finished recording.
func (r *Recorder) Stop(ctx context.Context) (string, error) {
	r.mu.Lock()
	if err := r.ensureState(StateCapturing, StatePaused); err != nil {
		r.mu.Unlock()
		return "", err
	}
	r.poll()
	r.state = StateStopped
	engines := r.engines
	outputs := r.outputs
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveRecordings.Add(ctx, -1)
	}

	stopErr := stopAll(engines)
	if stopErr != nil {
		r.log.Warn().Err(stopErr).Msg("Pipeline shutdown reported errors")
	}

	r.mu.Lock()
	r.poll()
	r.mu.Unlock()

	base := r.cfg.Output.FileName
	if !r.cfg.Recording.PostProcess {
		r.setResult(base)
		r.log.Info().Strs("outputs", outputs).Msg("Recording stopped")
		return base, stopErr
	}

	final := base + mux.OutputExt
	if err := r.muxer.Process(ctx, final, outputs); err != nil {
		r.log.Error().Err(err).Str("output", final).Msg("Post-processing failed")
		return "", err
	}
	r.setResult(final)

	r.log.Info().
		Str("output", final).
		Dur("duration", time.Since(r.startedAt)).
		Msg("Recording finished")
	return final, nil
}

// PollErrors returns and clears every fatal error reported by the pipelines
// since the last call
func (r *Recorder) PollErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.poll()
	errs := r.pending
	r.pending = nil
	return errs
}

// State returns the session state
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// PipelineStatus describes one pipeline of the session
type PipelineStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// Status is a point-in-time snapshot of a session
type Status struct {
	ID        string           `json:"id"`
	State     State            `json:"state"`
	StartedAt time.Time        `json:"startedAt,omitzero"`
	Pipelines []PipelineStatus `json:"pipelines"`
	Outputs   []string         `json:"outputs"`
	Result    string           `json:"result,omitempty"`
}

// Status returns a snapshot of the session and its pipelines
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		ID:        r.id,
		State:     r.state,
		StartedAt: r.startedAt,
		Outputs:   append([]string(nil), r.outputs...),
		Result:    r.result,
	}
	for _, e := range r.engines {
		st.Pipelines = append(st.Pipelines, PipelineStatus{Name: e.Name(), State: e.State().String()})
	}
	return st
}

// build creates the video pipeline and one audio pipeline per source
func (r *Recorder) build() error {
	base := r.cfg.Output.FileName

	if r.cfg.Recording.Video {
		cfg := r.cfg
		cfg.Output.FileName = base + mux.VideoExt

		e, err := r.newEngine("video", &cfg)
		if err != nil {
			return err
		}
		captureKind := pipeline.KindCaptureDesktop
		if cfg.Video.Source.Type == config.VideoSourceWindow {
			captureKind = pipeline.KindCaptureWindow
		}
		encoderKind, err := firstSupported(e, encoderKinds)
		if err != nil {
			return err
		}
		for _, kind := range []pipeline.Kind{captureKind, encoderKind, pipeline.KindFileSink} {
			if err := e.AddStage(kind); err != nil {
				return err
			}
		}
		r.outputs = append(r.outputs, cfg.Output.FileName)
	}

	for _, source := range r.cfg.Audio.Sources {
		cfg := r.cfg
		cfg.Audio.Source.Type = source
		cfg.Output.FileName = fmt.Sprintf("%s.%s%s", base, source, mux.AudioExt)

		e, err := r.newEngine("audio-"+string(source), &cfg)
		if err != nil {
			return err
		}
		for _, kind := range []pipeline.Kind{pipeline.KindAudioCapture, pipeline.KindWavSink} {
			if err := e.AddStage(kind); err != nil {
				return err
			}
		}
		r.outputs = append(r.outputs, cfg.Output.FileName)
	}

	if len(r.engines) == 0 {
		return fmt.Errorf("%w: recording has neither video nor audio", config.ErrConfig)
	}
	return nil
}

func (r *Recorder) newEngine(name string, cfg *config.Config) (*pipeline.Engine, error) {
	opts := []pipeline.Option{
		pipeline.WithName(name),
		pipeline.WithFactory(r.factory),
	}
	if r.metrics != nil {
		opts = append(opts, pipeline.WithObserver(r.metrics.Observer(name)))
	}
	e, err := pipeline.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	r.engines = append(r.engines, e)
	return e, nil
}

func firstSupported(e *pipeline.Engine, kinds []pipeline.Kind) (pipeline.Kind, error) {
	for _, kind := range kinds {
		if e.SupportsStage(kind) {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: tried %v", ErrNoEncoder, kinds)
}

// abort stops whatever was built and resets the session to unstarted
func (r *Recorder) abort(err error) {
	stopAll(r.engines)
	r.engines = nil
	r.outputs = nil
	r.log.Error().Err(err).Msg("Recording failed to start")
}

func stopAll(engines []*pipeline.Engine) error {
	var g errgroup.Group
	for _, e := range engines {
		g.Go(e.Stop)
	}
	return g.Wait()
}

// poll moves pipeline errors into the pending list. Callers hold r.mu.
func (r *Recorder) poll() {
	for _, e := range r.engines {
		for _, err := range e.PollErrors() {
			r.log.Error().Err(err).Str("pipeline", e.Name()).Msg("Pipeline failed")
			r.pending = append(r.pending, err)
		}
	}
}

func (r *Recorder) setResult(path string) {
	r.mu.Lock()
	r.result = path
	r.mu.Unlock()
}

func (r *Recorder) ensureState(states ...State) error {
	for _, s := range states {
		if r.state == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s, expected one of %v", ErrInvalidState, r.state, states)
}
