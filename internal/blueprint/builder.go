package blueprint

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cosmic-gao/nexo-machine/internal/branding"
	"github.com/cosmic-gao/nexo-machine/internal/hooks"
	"github.com/cosmic-gao/nexo-machine/internal/logging"
	"github.com/cosmic-gao/nexo-machine/internal/manifest"
	"github.com/cosmic-gao/nexo-machine/internal/pipeline"
	"github.com/cosmic-gao/nexo-machine/internal/plugin"
	"github.com/cosmic-gao/nexo-machine/internal/runtime"
)

// Builder builds pipelines from manifests.
type Builder struct {
	// Host supplies adapters and the hook bus. Without a host, adapter
	// stages fail to build and pipelines get a private bus.
	Host *plugin.Host
	// Defaults fill in options a manifest leaves unset.
	Defaults pipeline.Options
	// Overrides win over the manifest, included pipelines too.
	Overrides Overrides
	// Runtime runs `run` stages; nil means a runtime.Exec.
	Runtime runtime.Runtime
	Logger  *slog.Logger
}

// Overrides are per-invocation option settings, typically CLI flags.
// Zero fields leave the manifest's value alone.
type Overrides struct {
	Parallel   *bool
	OnError    pipeline.ErrorPolicy
	MaxRetries int
}

func (b *Builder) bus() *hooks.Bus {
	if b.Host != nil {
		return b.Host.Bus()
	}
	return nil
}

func (b *Builder) execRuntime() runtime.Runtime {
	if b.Runtime != nil {
		return b.Runtime
	}
	return &runtime.Exec{}
}

// BuildFile validates and builds the pipeline manifest at path.
func (b *Builder) BuildFile(path string) (*pipeline.Pipeline, error) {
	return b.buildFile(path, nil)
}

// Run builds the manifest at path and executes it. It satisfies
// plugin.PipelineRunner.
func (b *Builder) Run(ctx context.Context, path string, input any) (any, error) {
	p, err := b.BuildFile(path)
	if err != nil {
		return nil, err
	}
	res, err := p.Execute(ctx, input)
	if err != nil {
		return nil, err
	}
	return res.Output, nil
}

func (b *Builder) buildFile(path string, stack []string) (*pipeline.Pipeline, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	if slices.Contains(stack, abs) {
		return nil, pipeline.Configf("include cycle: %s", strings.Join(append(stack, abs), " -> "))
	}

	res, err := manifest.ValidateFile(abs)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, &pipeline.Error{Kind: pipeline.KindConfig, Err: fmt.Errorf("%s: %w", path, err)}
	}
	def, err := manifest.ParsePipeline(abs)
	if err != nil {
		return nil, err
	}
	return b.build(def, filepath.Dir(abs), append(stack, abs))
}

// Build builds def. Relative paths in def (includes, adapter dirs, run
// stage working directory) resolve against dir.
func (b *Builder) Build(def *manifest.PipelineManifest, dir string) (*pipeline.Pipeline, error) {
	return b.build(def, dir, nil)
}

func (b *Builder) build(def *manifest.PipelineManifest, dir string, stack []string) (*pipeline.Pipeline, error) {
	opts, err := b.options(def)
	if err != nil {
		return nil, err
	}

	var parts []*pipeline.Pipeline
	for _, inc := range def.Include {
		child, err := b.buildFile(resolve(dir, inc), stack)
		if err != nil {
			return nil, fmt.Errorf("including %s in %s: %w", inc, def.Name, err)
		}
		parts = append(parts, child)
	}

	p := pipeline.New(b.bus(), opts, pipeline.WithLogger(b.Logger))
	for _, spec := range def.Stages {
		stage, err := b.stage(def.Name, dir, spec)
		if err != nil {
			return nil, err
		}
		p.AddStage(stage)
	}
	if len(def.Stages) > 0 || len(parts) == 0 {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	if len(parts) == 0 {
		return p, nil
	}
	if len(def.Stages) > 0 {
		parts = append(parts, p)
	}
	logging.OrNop(b.Logger).Debug("composing pipeline", "pipeline", def.Name, "parts", len(parts))
	return pipeline.Compose(b.bus(), def.Name, parts, pipeline.WithLogger(b.Logger)), nil
}

// options layers the manifest's options over the builder defaults, then
// applies the overrides.
func (b *Builder) options(def *manifest.PipelineManifest) (pipeline.Options, error) {
	opts := b.Defaults
	opts.Name = def.Name
	if def.Parallel != nil {
		opts.Parallel = *def.Parallel
	}
	if def.OnError != "" {
		policy, err := pipeline.ParseErrorPolicy(def.OnError)
		if err != nil {
			return pipeline.Options{}, err
		}
		opts.OnError = policy
	}
	if def.MaxRetries > 0 {
		opts.MaxRetries = def.MaxRetries
	}

	if o := b.Overrides; o.Parallel != nil {
		opts.Parallel = *o.Parallel
	}
	if b.Overrides.OnError != "" {
		opts.OnError = b.Overrides.OnError
	}
	if b.Overrides.MaxRetries > 0 {
		opts.MaxRetries = b.Overrides.MaxRetries
	}
	return opts, nil
}

func (b *Builder) stage(pipelineName, dir string, spec manifest.StageSpec) (pipeline.Stage, error) {
	cond, err := ParseCondition(spec.When)
	if err != nil {
		return pipeline.Stage{}, fmt.Errorf("stage %s: %w", spec.Name, err)
	}
	s := pipeline.Stage{
		Name:         spec.Name,
		Dependencies: spec.DependsOn,
		Condition:    cond,
		Skippable:    spec.Skippable,
	}

	switch {
	case spec.Uses != "":
		s.Execute, err = b.adapterBody(dir, spec)
	case spec.Run != "":
		s.Execute = b.runBody(pipelineName, dir, spec)
	default:
		err = pipeline.Configf("stage %s: one of run or uses is required", spec.Name)
	}
	if err != nil {
		return pipeline.Stage{}, err
	}
	return s, nil
}

func (b *Builder) adapterBody(dir string, spec manifest.StageSpec) (pipeline.StageFunc, error) {
	name := spec.Adapter()
	if name == "" {
		return nil, pipeline.Configf("stage %s: uses %q must name an adapter as adapter:<name>", spec.Name, spec.Uses)
	}
	if b.Host == nil {
		return nil, pipeline.Configf("adapter not found: %s", name)
	}
	a, err := b.Host.Adapter(name)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, input any, _ *pipeline.Context) (any, error) {
		res, err := a.Build(ctx, plugin.BuildRequest{
			Stage: spec.Name,
			Dir:   dir,
			Input: input,
			With:  spec.With,
		})
		if err != nil {
			return nil, err
		}
		return res.Output, nil
	}, nil
}

func (b *Builder) runBody(pipelineName, dir string, spec manifest.StageSpec) pipeline.StageFunc {
	rt := b.execRuntime()
	return func(ctx context.Context, input any, pc *pipeline.Context) (any, error) {
		stageRT := rt
		if ex, ok := rt.(*runtime.Exec); ok {
			stageRT = ex.WithEnv(
				branding.EnvVar("pipeline")+"="+pipelineName,
				branding.EnvVar("stage")+"="+spec.Name,
				branding.EnvVar("run_id")+"="+pc.RunID,
			)
		}
		out, err := stageRT.Run(ctx, dir, spec.Run, input)
		if err != nil {
			return nil, err
		}
		if err := out.Err(spec.Run); err != nil {
			return nil, err
		}
		return out.Decode(), nil
	}
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
