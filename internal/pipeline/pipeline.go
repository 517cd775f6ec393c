package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cosmic-gao/nexo-machine/internal/hooks"
	"github.com/cosmic-gao/nexo-machine/internal/logging"
)

// Hook names dispatched on the bus during Execute.
const (
	EventPipelineStart = "pipeline:start" // (pc *Context)
	EventPipelineEnd   = "pipeline:end"   // (output any, pc *Context)
	EventStageBefore   = "stage:before"   // (name string, input any, pc *Context)
	EventStageAfter    = "stage:after"    // (name string, output any, pc *Context)
	EventStageSkip     = "stage:skip"     // (name string, pc *Context)
	EventStageError    = "stage:error"    // (name string, err error, pc *Context)
)

// Result is what a successful Execute returns.
type Result struct {
	Output  any
	Context *Context
}

// Pipeline is an ordered set of stages bound to a hook bus.
type Pipeline struct {
	mu     sync.RWMutex
	opts   Options
	stages []Stage
	bus    *hooks.Bus
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used for stage tracing.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logging.OrNop(l)
	}
}

// New creates an empty pipeline. A nil bus gets a private one.
func New(bus *hooks.Bus, opts Options, options ...Option) *Pipeline {
	if bus == nil {
		bus = hooks.NewBus()
	}
	p := &Pipeline{
		opts:   opts.normalized(),
		bus:    bus,
		logger: logging.Nop(),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.opts.Name }

// Options returns the normalized options.
func (p *Pipeline) Options() Options { return p.opts }

// Bus returns the hook bus the pipeline dispatches on.
func (p *Pipeline) Bus() *hooks.Bus { return p.bus }

// AddStage appends a stage.
func (p *Pipeline) AddStage(s Stage) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, s)
	return p
}

// InsertStage inserts a stage at index, clamped to the valid range.
func (p *Pipeline) InsertStage(index int, s Stage) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	index = max(0, min(index, len(p.stages)))
	p.stages = slices.Insert(p.stages, index, s)
	return p
}

// InsertBefore inserts s before the stage called name. Nothing happens when
// no such stage exists; check Stages if that matters.
func (p *Pipeline) InsertBefore(name string, s Stage) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := p.indexOf(name); i >= 0 {
		p.stages = slices.Insert(p.stages, i, s)
	}
	return p
}

// InsertAfter inserts s after the stage called name. Nothing happens when
// no such stage exists.
func (p *Pipeline) InsertAfter(name string, s Stage) *Pipeline {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i := p.indexOf(name); i >= 0 {
		p.stages = slices.Insert(p.stages, i+1, s)
	}
	return p
}

// ReplaceStage swaps the stage called name for s, keeping its position.
func (p *Pipeline) ReplaceStage(name string, s Stage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexOf(name)
	if i < 0 {
		return false
	}
	p.stages[i] = s
	return true
}

// RemoveStage deletes the stage called name.
func (p *Pipeline) RemoveStage(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexOf(name)
	if i < 0 {
		return false
	}
	p.stages = slices.Delete(p.stages, i, i+1)
	return true
}

// Stages returns a copy of the stage list in add order.
func (p *Pipeline) Stages() []Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.stages)
}

func (p *Pipeline) indexOf(name string) int {
	return slices.IndexFunc(p.stages, func(s Stage) bool { return s.Name == name })
}

// Validate reports structural problems the engine would otherwise hit at
// run time: empty or duplicate names, missing bodies and dependencies on
// stages that do not exist.
func (p *Pipeline) Validate() error {
	stages := p.Stages()
	names := make(map[string]bool, len(stages))
	var problems []error

	for i, s := range stages {
		switch {
		case s.Name == "":
			problems = append(problems, fmt.Errorf("stage %d has no name", i))
		case names[s.Name]:
			problems = append(problems, fmt.Errorf("duplicate stage name %q", s.Name))
		}
		names[s.Name] = true
		if s.Execute == nil {
			problems = append(problems, fmt.Errorf("stage %q has no execute function", s.Name))
		}
	}
	for _, s := range stages {
		for _, d := range s.Dependencies {
			if !names[d] {
				problems = append(problems, fmt.Errorf("stage %q depends on unknown stage %q", s.Name, d))
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return &Error{Kind: KindConfig, Err: fmt.Errorf("pipeline %q: %w", p.opts.Name, errors.Join(problems...))}
}

// Abort marks a run as aborted. No stage starts after the flag is seen; a
// stage that is already running finishes normally.
func (p *Pipeline) Abort(pc *Context) {
	if pc != nil {
		pc.abort()
	}
}

// Execute runs every stage against input. On failure it marks the run
// context aborted and returns the error; no partial result is returned.
func (p *Pipeline) Execute(ctx context.Context, input any) (*Result, error) {
	stages := p.Stages()
	pc := newContext(p.opts.Name)
	log := p.logger.With("pipeline", p.opts.Name, "run", pc.RunID)

	log.Debug("pipeline starting", "stages", len(stages), "parallel", p.opts.Parallel, "on_error", p.opts.OnError)
	if err := p.bus.CallHook(ctx, EventPipelineStart, pc); err != nil {
		pc.abort()
		return nil, err
	}

	var (
		output any
		err    error
	)
	if p.opts.Parallel {
		output, err = p.runWaves(ctx, stages, input, pc)
	} else {
		output, err = p.runSequential(ctx, stages, input, pc)
	}
	if err != nil {
		pc.abort()
		log.Debug("pipeline failed", "error", err)
		return nil, err
	}

	if err := p.bus.CallHook(ctx, EventPipelineEnd, output, pc); err != nil {
		pc.abort()
		return nil, err
	}
	log.Debug("pipeline finished", "completed", len(pc.Results()), "skipped", len(pc.Skipped()), "aborted", pc.Aborted())
	return &Result{Output: output, Context: pc}, nil
}

func (p *Pipeline) runSequential(ctx context.Context, stages []Stage, input any, pc *Context) (any, error) {
	current := input
	for i, s := range stages {
		if pc.Aborted() {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pc.setIndex(i)
		out, err := p.executeStage(ctx, s, current, pc)
		if err != nil {
			return nil, err
		}
		current = out
	}
	return current, nil
}

// runWaves schedules stages by dependency. Each wave is every pending stage
// whose dependencies have settled; its members run concurrently on the same
// input and the last member's output becomes the next wave's input.
func (p *Pipeline) runWaves(ctx context.Context, stages []Stage, input any, pc *Context) (any, error) {
	pending := stages
	current := input

	for len(pending) > 0 {
		if pc.Aborted() {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var wave, waiting []Stage
		for _, s := range pending {
			if len(pc.missingDependencies(s.Dependencies)) == 0 {
				wave = append(wave, s)
			} else {
				waiting = append(waiting, s)
			}
		}
		if len(wave) == 0 {
			names := make([]string, len(waiting))
			for i, s := range waiting {
				names[i] = s.Name
			}
			return nil, &Error{Kind: KindCircularDependency, Names: names}
		}

		p.logger.Debug("starting wave", "pipeline", p.opts.Name, "run", pc.RunID, "stages", len(wave))
		outputs := make([]any, len(wave))
		var g errgroup.Group
		for i, s := range wave {
			g.Go(func() error {
				out, err := p.executeStage(ctx, s, current, pc)
				if err != nil {
					return err
				}
				outputs[i] = out
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		current = outputs[len(outputs)-1]
		pending = waiting
	}
	return current, nil
}

// executeStage runs one stage under the pipeline's error policy and returns
// its contribution to the chained value.
func (p *Pipeline) executeStage(ctx context.Context, s Stage, input any, pc *Context) (any, error) {
	log := p.logger.With("pipeline", p.opts.Name, "run", pc.RunID, "stage", s.Name)

	if s.Condition != nil && !s.Condition(ctx, pc) {
		if err := p.bus.CallHook(ctx, EventStageSkip, s.Name, pc); err != nil {
			return nil, err
		}
		pc.markSkipped(s.Name)
		log.Debug("stage skipped", "reason", "condition")
		return input, nil
	}

	if missing := pc.missingDependencies(s.Dependencies); len(missing) > 0 {
		return nil, &Error{Kind: KindDependency, Stage: s.Name, Names: missing}
	}
	if s.Execute == nil {
		return nil, Configf("stage %q has no execute function", s.Name)
	}

	if err := p.bus.CallHook(ctx, EventStageBefore, s.Name, input, pc); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		out, err := s.Execute(ctx, input, pc)
		if err == nil {
			pc.recordResult(s.Name, out)
			if hookErr := p.bus.CallHook(ctx, EventStageAfter, s.Name, out, pc); hookErr != nil {
				return nil, hookErr
			}
			log.Debug("stage completed", "attempt", attempt)
			return out, nil
		}

		if hookErr := p.bus.CallHook(ctx, EventStageError, s.Name, err, pc); hookErr != nil {
			return nil, hookErr
		}

		switch {
		case p.opts.OnError == OnErrorRetry && attempt <= p.opts.MaxRetries:
			log.Warn("stage failed, retrying", "attempt", attempt, "max_retries", p.opts.MaxRetries, "error", err)
			continue
		case p.opts.OnError == OnErrorContinue && s.Skippable:
			pc.markSkipped(s.Name)
			log.Warn("skippable stage failed, continuing", "error", err)
			return input, nil
		default:
			log.Debug("stage failed", "attempt", attempt, "error", err)
			return nil, err
		}
	}
}
