package plugin

import (
	"context"
	"fmt"
	"sort"

	"github.com/cosmic-gao/nexo-machine/internal/pipeline"
	"github.com/cosmic-gao/nexo-machine/internal/runtime"
	"github.com/go-viper/mapstructure/v2"
)

// BuildRequest is what a pipeline stage hands to an adapter.
type BuildRequest struct {
	Stage string
	// Dir is the directory of the pipeline manifest.
	Dir   string
	Input any
	With  map[string]any
}

// BuildResult carries the adapter's output to the next stage.
type BuildResult struct {
	Output    any
	Artifacts []string
}

// Adapter is a named build step that pipeline stages reference with
// `uses: adapter:<name>`.
type Adapter interface {
	Name() string
	Build(ctx context.Context, req BuildRequest) (*BuildResult, error)
}

// RegisterAdapter adds an adapter. Names are unique.
func (h *Host) RegisterAdapter(a Adapter) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.adapters[a.Name()]; ok {
		return pipeline.Configf("adapter %q already registered", a.Name())
	}
	h.adapters[a.Name()] = a
	return nil
}

// Adapter returns the adapter registered under name.
func (h *Host) Adapter(name string) (Adapter, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	a, ok := h.adapters[name]
	if !ok {
		return nil, pipeline.Configf("adapter not found: %s", name)
	}
	return a, nil
}

// AdapterNames returns the registered adapter names, sorted.
func (h *Host) AdapterNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.adapters))
	for name := range h.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NoopAdapter passes its input through unchanged.
type NoopAdapter struct{}

func (NoopAdapter) Name() string { return "noop" }

func (NoopAdapter) Build(_ context.Context, req BuildRequest) (*BuildResult, error) {
	return &BuildResult{Output: req.Input}, nil
}

// ExecAdapter runs `with.command` through a runtime and yields its decoded
// stdout.
type ExecAdapter struct {
	Runtime runtime.Runtime
}

type execConfig struct {
	Command   string   `mapstructure:"command"`
	Dir       string   `mapstructure:"dir"`
	Artifacts []string `mapstructure:"artifacts"`
}

func (*ExecAdapter) Name() string { return "exec" }

func (a *ExecAdapter) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	var cfg execConfig
	if err := mapstructure.Decode(req.With, &cfg); err != nil {
		return nil, pipeline.Configf("exec adapter options for stage %q: %v", req.Stage, err)
	}
	if cfg.Command == "" {
		return nil, pipeline.Configf("exec adapter for stage %q requires with.command", req.Stage)
	}

	dir := req.Dir
	if cfg.Dir != "" {
		dir = resolvePath(req.Dir, cfg.Dir)
	}

	out, err := a.Runtime.Run(ctx, dir, cfg.Command, req.Input)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", req.Stage, err)
	}
	if err := out.Err(cfg.Command); err != nil {
		return nil, err
	}
	return &BuildResult{Output: out.Decode(), Artifacts: cfg.Artifacts}, nil
}
