package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cosmic-gao/nexo-machine/internal/hooks"
	"github.com/cosmic-gao/nexo-machine/internal/logging"
	"github.com/cosmic-gao/nexo-machine/internal/pipeline"
)

// TransformFunc derives the next phase's data from a finished phase.
type TransformFunc func(lc *Context) (any, error)

// RunOptions bound and shape a Run. Zero values run every phase.
type RunOptions struct {
	StartPhase Phase
	EndPhase   Phase
	SkipPhases []Phase
	Transform  TransformFunc
	Meta       map[string]any
}

// Runner drives the phases over a hook bus.
type Runner struct {
	bus    *hooks.Bus
	logger *slog.Logger

	mu      sync.Mutex
	current Phase
	ctx     *Context
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for phase tracing.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logging.OrNop(l)
	}
}

// NewRunner creates a runner dispatching on bus.
func NewRunner(bus *hooks.Bus, opts ...Option) *Runner {
	if bus == nil {
		bus = hooks.NewBus()
	}
	r := &Runner{bus: bus, logger: logging.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunPhase runs a single phase: it builds a fresh context, makes it the
// current one and dispatches the phase hook with it.
func (r *Runner) RunPhase(ctx context.Context, phase Phase, data any, meta map[string]any) (*Context, error) {
	if phase.index() < 0 {
		return nil, pipeline.Configf("invalid phase %q", phase)
	}
	if meta == nil {
		meta = make(map[string]any)
	}

	lc := &Context{Phase: phase, Data: data, Meta: meta}
	r.mu.Lock()
	r.current = phase
	r.ctx = lc
	r.mu.Unlock()

	r.logger.Debug("lifecycle phase", "phase", phase)
	if err := r.bus.CallHook(ctx, phase.HookName(), lc); err != nil {
		return nil, fmt.Errorf("lifecycle phase %s: %w", phase, err)
	}
	return lc, nil
}

// Run executes the phases from StartPhase to EndPhase inclusive, in table
// order, leaving out SkipPhases entirely. It stops after the first phase
// whose context is aborted and returns that context without an error. The
// returned context is the last one produced, or nil when every phase in
// range was skipped.
func (r *Runner) Run(ctx context.Context, data any, opts RunOptions) (*Context, error) {
	start, end := opts.StartPhase, opts.EndPhase
	if start == "" {
		start = PhaseInit
	}
	if end == "" {
		end = PhaseCleanup
	}

	si, ei := start.index(), end.index()
	if si < 0 {
		return nil, pipeline.Configf("invalid start phase %q", start)
	}
	if ei < 0 {
		return nil, pipeline.Configf("invalid end phase %q", end)
	}
	if si > ei {
		return nil, pipeline.Configf("start phase %q comes after end phase %q", start, end)
	}

	skip := make(map[Phase]bool, len(opts.SkipPhases))
	for _, p := range opts.SkipPhases {
		skip[p] = true
	}
	meta := opts.Meta
	if meta == nil {
		meta = make(map[string]any)
	}

	var last *Context
	current := data
	for i := si; i <= ei; i++ {
		phase := phaseOrder[i]
		if skip[phase] {
			continue
		}

		lc, err := r.RunPhase(ctx, phase, current, meta)
		if err != nil {
			return nil, err
		}
		last = lc

		if lc.Aborted() {
			r.logger.Debug("lifecycle aborted", "phase", phase, "reason", lc.AbortReason())
			return lc, nil
		}
		if i == ei {
			break
		}

		if opts.Transform != nil {
			next, err := opts.Transform(lc)
			if err != nil {
				return nil, fmt.Errorf("transforming %s output: %w", phase, err)
			}
			current = next
		} else {
			current = lc.Data
		}
	}
	return last, nil
}

// Abort aborts the current phase's context, if any.
func (r *Runner) Abort(reason string) {
	r.mu.Lock()
	lc := r.ctx
	r.mu.Unlock()
	if lc != nil {
		lc.Abort(reason)
	}
}

// Reset forgets the current phase and context.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = ""
	r.ctx = nil
}

// CurrentPhase returns the most recently started phase.
func (r *Runner) CurrentPhase() (Phase, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.current != ""
}

// Context returns the most recently built phase context.
func (r *Runner) Context() *Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}
