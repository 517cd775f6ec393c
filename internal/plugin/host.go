package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cosmic-gao/nexo-machine/internal/hooks"
	"github.com/cosmic-gao/nexo-machine/internal/logging"
	"github.com/cosmic-gao/nexo-machine/internal/pipeline"
	"github.com/cosmic-gao/nexo-machine/internal/runtime"
)

// Hook events fired around every command.
const (
	EventCommandBefore = "command:before" // (name, Invocation)
	EventCommandAfter  = "command:after"  // (name, Invocation)
	EventCommandError  = "command:error"  // (name, error, Invocation)
)

// Invocation is the input to one command run.
type Invocation struct {
	Args   []string
	Input  map[string]any
	Dir    string
	Stdout io.Writer
}

// Command is a named operation a plugin (or the host) contributes.
type Command struct {
	Name        string
	Description string
	// Plugin is the contributing plugin's name; empty for built-ins.
	Plugin string
	Run    func(ctx context.Context, inv Invocation) error
}

// PipelineRunner executes the pipeline manifest at path and returns its
// output.
type PipelineRunner func(ctx context.Context, path string, input any) (any, error)

// Host owns the hook bus and the command and adapter registries.
type Host struct {
	bus         *hooks.Bus
	version     string
	logger      *slog.Logger
	runtime     runtime.Runtime
	runPipeline PipelineRunner
	hookTimeout time.Duration

	mu       sync.RWMutex
	commands map[string]Command
	adapters map[string]Adapter
	plugins  []*Plugin
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the host logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = logging.OrNop(l) }
}

// WithRuntime sets the runtime used by exec commands, exec hooks and the
// exec adapter.
func WithRuntime(rt runtime.Runtime) Option {
	return func(h *Host) { h.runtime = rt }
}

// WithPipelineRunner sets how commands declared with a pipeline file run.
func WithPipelineRunner(fn PipelineRunner) Option {
	return func(h *Host) { h.runPipeline = fn }
}

// WithHookTimeout bounds each hook listener a plugin manifest declares.
func WithHookTimeout(d time.Duration) Option {
	return func(h *Host) { h.hookTimeout = d }
}

// NewHost creates a host reporting version to plugin constraints. The
// noop and exec adapters are registered up front.
func NewHost(bus *hooks.Bus, version string, opts ...Option) *Host {
	if bus == nil {
		bus = hooks.NewBus()
	}
	h := &Host{
		bus:      bus,
		version:  version,
		logger:   logging.Nop(),
		runtime:  &runtime.Exec{},
		commands: make(map[string]Command),
		adapters: make(map[string]Adapter),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.adapters["noop"] = NoopAdapter{}
	h.adapters["exec"] = &ExecAdapter{Runtime: h.runtime}
	return h
}

// Bus returns the host's hook bus.
func (h *Host) Bus() *hooks.Bus { return h.bus }

// Version returns the host version.
func (h *Host) Version() string { return h.version }

// SetPipelineRunner replaces the pipeline runner after construction.
func (h *Host) SetPipelineRunner(fn PipelineRunner) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runPipeline = fn
}

// RegisterCommand adds a command. Names are unique across plugins.
func (h *Host) RegisterCommand(cmd Command) error {
	if cmd.Name == "" || cmd.Run == nil {
		return pipeline.Configf("command needs a name and a run function")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.commands[cmd.Name]; ok {
		return pipeline.Configf("command %q already registered by %s", cmd.Name, owner(existing.Plugin))
	}
	h.commands[cmd.Name] = cmd
	return nil
}

func owner(plugin string) string {
	if plugin == "" {
		return "the host"
	}
	return "plugin " + plugin
}

// Command returns the command registered under name.
func (h *Host) Command(name string) (Command, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cmd, ok := h.commands[name]
	return cmd, ok
}

// Commands returns every registered command sorted by name.
func (h *Host) Commands() []Command {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cmds := make([]Command, 0, len(h.commands))
	for _, c := range h.commands {
		cmds = append(cmds, c)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// RunCommand runs the registered command name through Dispatch.
func (h *Host) RunCommand(ctx context.Context, name string, inv Invocation) error {
	cmd, ok := h.Command(name)
	if !ok {
		return pipeline.Configf("command not found: %s", name)
	}
	return h.Dispatch(ctx, cmd, inv)
}

// Dispatch runs cmd between the command hooks. cmd need not be
// registered, so built-in CLI commands go through the same hooks. A
// failure, whether from command:before or the command itself, fires
// command:error and is then returned unchanged.
func (h *Host) Dispatch(ctx context.Context, cmd Command, inv Invocation) error {
	if cmd.Run == nil {
		return pipeline.Configf("command %q has no run function", cmd.Name)
	}
	if inv.Stdout == nil {
		inv.Stdout = io.Discard
	}

	name := cmd.Name
	h.logger.Debug("running command", "command", name, "plugin", cmd.Plugin)
	err := h.bus.CallHook(ctx, EventCommandBefore, name, inv)
	if err == nil {
		err = cmd.Run(ctx, inv)
	}
	if err != nil {
		if hookErr := h.bus.CallHook(ctx, EventCommandError, name, err, inv); hookErr != nil {
			h.logger.Warn("command:error listener failed", "command", name, "error", hookErr)
		}
		return err
	}
	return h.bus.CallHook(ctx, EventCommandAfter, name, inv)
}

// WriteOutput prints a command or pipeline result: strings as-is,
// everything else as indented JSON.
func WriteOutput(w io.Writer, v any) error {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return nil
		}
		_, err := fmt.Fprintln(w, s)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
