// Package pipeline runs an ordered chain of stages on a dedicated goroutine
// with cooperative pause, resume and stop.
package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/capturepipe/internal/config"
	"github.com/bryanchriswhite/capturepipe/internal/logger"
	"github.com/rs/zerolog"
)

// State is the externally visible lifecycle state of an Engine
type State int

const (
	StateIdle State = iota
	StateInitialized
	StateRunning
	StatePaused
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type pauseState int

const (
	pauseNone pauseState = iota
	pauseRequested
	pausePaused
)

// Observer receives per-tick measurements from the execution goroutine
type Observer interface {
	TickCompleted(stalled bool)
	StageProcessed(stage string, d time.Duration)
	StageFailed(stage string)
}

type nopObserver struct{}

func (nopObserver) TickCompleted(bool)                   {}
func (nopObserver) StageProcessed(string, time.Duration) {}
func (nopObserver) StageFailed(string)                   {}

// Option configures an Engine
type Option func(*Engine)

// WithFactory sets the factory used by AddStage and SupportsStage
func WithFactory(f Factory) Option {
	return func(e *Engine) { e.factory = f }
}

// WithName labels the engine in logs and metrics
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// WithLogger replaces the component logger
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithObserver attaches a metrics observer
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.obs = o
		}
	}
}

// Engine owns an ordered list of stages and drives them on one goroutine.
// Pause, Resume and Stop assume a single controlling caller.
type Engine struct {
	name    string
	cfg     config.Config
	factory Factory
	log     zerolog.Logger
	obs     Observer

	mu       sync.Mutex
	cond     *sync.Cond
	stages   []Stage
	pctx     *Context
	initErr  error
	started  bool
	stopping bool
	stopped  bool
	pause    pauseState
	state    State
	lastErr  error
	done     chan struct{}
}

// New validates cfg and creates an engine with no stages
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: missing config", config.ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		name: "pipeline",
		cfg:  *cfg,
		log:  *logger.WithComponent("pipeline"),
		obs:  nopObserver{},
		done: make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)

	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().Str("pipeline", e.name).Logger()

	return e, nil
}

// Name returns the engine label
func (e *Engine) Name() string {
	return e.name
}

// AddStage constructs a stage of the given kind with the engine's factory
// and appends it
func (e *Engine) AddStage(kind Kind) error {
	if e.factory == nil {
		return fmt.Errorf("%w: no stage factory configured", ErrUnknownKind)
	}
	s, err := e.factory(kind)
	if err != nil {
		return fmt.Errorf("failed to create stage %s: %w", kind, err)
	}
	return e.Add(s)
}

// Add appends an already constructed stage. Only valid before Initialize.
func (e *Engine) Add(s Stage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pctx != nil || e.initErr != nil {
		return ErrInitialized
	}
	if e.stopped {
		return ErrStopped
	}

	e.stages = append(e.stages, s)
	e.log.Debug().
		Str("stage", s.Name()).
		Int("position", len(e.stages)-1).
		Msg("Stage added")
	return nil
}

// SupportsStage builds a throwaway stage of the given kind and probes it
func (e *Engine) SupportsStage(kind Kind) bool {
	if e.factory == nil {
		return false
	}
	s, err := e.factory(kind)
	if err != nil {
		return false
	}
	return s.IsSupported()
}

// Initialize runs every stage's Initialize in order. It is a no-op once it
// has succeeded. After a failure the engine cannot be initialized again.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initializeLocked()
}

func (e *Engine) initializeLocked() error {
	if e.pctx != nil {
		return nil
	}
	if e.initErr != nil {
		return e.initErr
	}
	if e.stopped {
		return ErrStopped
	}

	for _, w := range Lint(e.stages) {
		e.log.Warn().Msg(w)
	}

	pctx := NewContext()
	for i, s := range e.stages {
		e.log.Debug().Str("stage", s.Name()).Int("position", i).Msg("Initializing stage")
		if err := s.Initialize(&e.cfg, pctx); err != nil {
			e.initErr = &InitError{Stage: s.Name(), Err: err}
			e.log.Error().Err(err).Str("stage", s.Name()).Msg("Stage initialization failed")
			return e.initErr
		}
	}

	e.pctx = pctx
	e.state = StateInitialized
	e.log.Info().Int("stages", len(e.stages)).Msg("Pipeline initialized")
	return nil
}

// Context returns the context built during initialization, or nil
func (e *Engine) Context() *Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pctx
}

// Start initializes the pipeline if needed and launches the execution
// goroutine. It returns immediately.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped || e.stopping {
		return ErrStopped
	}
	if e.started {
		return ErrRunning
	}
	if err := e.initializeLocked(); err != nil {
		return err
	}

	e.started = true
	e.state = StateRunning
	go e.run()

	e.log.Info().Msg("Pipeline started")
	return nil
}

// Pause asks the execution goroutine to stop before its next tick. It does
// not wait for the current tick to finish.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pause == pauseNone && !e.stopping {
		e.pause = pauseRequested
	}
}

// Resume lets a paused execution goroutine continue. Stages are resumed on
// that goroutine before its next tick.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pause != pauseNone {
		e.pause = pauseNone
		e.cond.Broadcast()
	}
}

// Stop ends the execution goroutine, waits for it, then shuts down every
// stage in order. Calling Stop again is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped || e.stopping {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	e.cond.Broadcast()
	started := e.started
	e.mu.Unlock()

	if started {
		<-e.done
	} else {
		// Start refuses to run once stopping is set
		close(e.done)
	}

	var errs []error
	for _, s := range e.stages {
		if err := s.Shutdown(); err != nil {
			e.log.Warn().Err(err).Str("stage", s.Name()).Msg("Stage shutdown failed")
			errs = append(errs, fmt.Errorf("failed to shut down %s: %w", s.Name(), err))
		}
	}

	e.mu.Lock()
	e.stopped = true
	e.stopping = false
	if e.state != StateFailed {
		e.state = StateStopped
	}
	e.mu.Unlock()

	e.log.Info().Msg("Pipeline stopped")
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// PollErrors drains the fatal error mailbox. It returns nil when nothing is
// pending and never blocks.
func (e *Engine) PollErrors() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastErr == nil {
		return nil
	}
	err := e.lastErr
	e.lastErr = nil
	return []error{err}
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Done is closed when the execution goroutine exits, or by Stop for an
// engine that was never started
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) run() {
	defer close(e.done)
	e.log.Debug().Msg("Execution goroutine running")

	for {
		if !e.awaitTick() {
			e.log.Debug().Msg("Execution goroutine exiting")
			return
		}
		if err := e.tick(); err != nil {
			e.mu.Lock()
			e.lastErr = err
			e.state = StateFailed
			e.mu.Unlock()
			e.log.Error().Err(err).Msg("Pipeline failed")
			return
		}
	}
}

// awaitTick blocks while paused and reports whether another tick should run
func (e *Engine) awaitTick() bool {
	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return false
	}
	if e.pause == pauseNone {
		e.mu.Unlock()
		return true
	}

	e.pause = pausePaused
	e.state = StatePaused
	e.mu.Unlock()

	for _, s := range e.stages {
		s.Pause()
	}
	e.log.Info().Msg("Pipeline paused")

	e.mu.Lock()
	for e.pause != pauseNone && !e.stopping {
		e.cond.Wait()
	}
	if e.stopping {
		e.mu.Unlock()
		return false
	}
	e.state = StateRunning
	e.mu.Unlock()

	for _, s := range e.stages {
		s.Resume()
	}
	e.log.Info().Msg("Pipeline resumed")
	return true
}

// tick runs every stage once, stopping early on NoOutput
func (e *Engine) tick() error {
	var token Token = NoOutput
	for i, s := range e.stages {
		begin := time.Now()
		out, err := e.process(s, token)
		e.obs.StageProcessed(s.Name(), time.Since(begin))
		if err != nil {
			e.obs.StageFailed(s.Name())
			return &ProcessError{Stage: s.Name(), Err: err}
		}
		if Empty(out) {
			// a stalled tick is one that did not reach the last stage
			e.obs.TickCompleted(i < len(e.stages)-1)
			return nil
		}
		token = out
	}
	e.obs.TickCompleted(false)
	return nil
}

func (e *Engine) process(s Stage, in Token) (out Token, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Process(in)
}
