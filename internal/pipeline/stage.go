package pipeline

import "github.com/bryanchriswhite/capturepipe/internal/config"

// Stage is one processing unit of a pipeline: a capture source, an encoder
// or a sink.
type Stage interface {
	// Name returns a short human-readable identifier
	Name() string

	// Initialize acquires resources and publishes discovered values to pctx.
	// A returned error aborts pipeline initialization.
	Initialize(cfg *config.Config, pctx *Context) error

	// Process handles one tick. It returns NoOutput when there is nothing for
	// downstream stages yet. Blocking is only allowed for bounded,
	// pacing-driven waits. A returned error is fatal to the pipeline.
	Process(in Token) (Token, error)

	// Shutdown releases resources. Safe to call more than once and on a stage
	// that never initialized.
	Shutdown() error

	// Pause and Resume are called on the execution goroutine around a pause
	Pause()
	Resume()

	// IsSupported probes whether the stage can run on this machine
	IsSupported() bool
}

// BaseStage provides the default Pause, Resume and IsSupported behaviour
type BaseStage struct{}

func (BaseStage) Pause()            {}
func (BaseStage) Resume()           {}
func (BaseStage) IsSupported() bool { return true }

// ContextUser is implemented by stages that declare which context fields
// they write and read. It is only used to lint a composition.
type ContextUser interface {
	Produces() []Field
	Consumes() []Field
}

// Factory builds a fresh stage of the given kind
type Factory func(kind Kind) (Stage, error)
