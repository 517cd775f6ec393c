package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"

	"github.com/cosmic-gao/nexo-machine/internal/hooks"
	"github.com/cosmic-gao/nexo-machine/internal/manifest"
	"github.com/cosmic-gao/nexo-machine/internal/pipeline"
)

// Plugin is a loaded plugin.
type Plugin struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Dir      string   `json:"dir"`
	Commands []string `json:"commands"`
	Hooks    []string `json:"hooks"`
}

// Plugins returns the loaded plugins in load order.
func (h *Host) Plugins() []*Plugin {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.plugins)
}

// Load registers a discovered plugin: its host-version constraint is
// checked first, then its commands and hook listeners are registered.
// A plugin that fails to load leaves nothing registered.
func (h *Host) Load(d Discovered) (*Plugin, error) {
	m := d.Manifest
	if m == nil {
		return nil, pipeline.Configf("plugin at %s has no manifest", d.Dir)
	}
	if err := CheckCompat(h.version, m.Requires); err != nil {
		return nil, fmt.Errorf("plugin %s: %w", m.Name, err)
	}

	h.mu.RLock()
	for _, p := range h.plugins {
		if p.Name == m.Name {
			h.mu.RUnlock()
			return nil, pipeline.Configf("plugin %q already loaded from %s", m.Name, p.Dir)
		}
	}
	h.mu.RUnlock()

	p := &Plugin{Name: m.Name, Version: m.Version, Dir: d.Dir}
	for _, spec := range m.Commands {
		if err := h.RegisterCommand(h.manifestCommand(m.Name, d.Dir, spec)); err != nil {
			h.unregister(p)
			return nil, fmt.Errorf("plugin %s: %w", m.Name, err)
		}
		p.Commands = append(p.Commands, spec.Name)
	}

	var ids []hooks.HookID
	for _, spec := range m.Hooks {
		ids = append(ids, h.bus.Hook(spec.Event, h.manifestHook(d.Dir, spec)))
		p.Hooks = append(p.Hooks, spec.Event)
	}

	h.mu.Lock()
	h.plugins = append(h.plugins, p)
	h.mu.Unlock()

	h.logger.Debug("plugin loaded", "plugin", m.Name, "version", m.Version,
		"commands", len(p.Commands), "hooks", len(ids))
	return p, nil
}

// LoadAll loads each discovered plugin, continuing past failures. The
// returned error joins every failure.
func (h *Host) LoadAll(ds []Discovered) ([]*Plugin, error) {
	var loaded []*Plugin
	var errs []error
	for _, d := range ds {
		p, err := h.Load(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		loaded = append(loaded, p)
	}
	return loaded, errors.Join(errs...)
}

func (h *Host) unregister(p *Plugin) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range p.Commands {
		delete(h.commands, name)
	}
}

func (h *Host) manifestCommand(plugin, dir string, spec manifest.CommandSpec) Command {
	cmd := Command{Name: spec.Name, Description: spec.Description, Plugin: plugin}

	if spec.Pipeline != "" {
		path := resolvePath(dir, spec.Pipeline)
		cmd.Run = func(ctx context.Context, inv Invocation) error {
			h.mu.RLock()
			run := h.runPipeline
			h.mu.RUnlock()
			if run == nil {
				return pipeline.Configf("command %s: no pipeline runner configured", spec.Name)
			}
			out, err := run(ctx, path, commandInput(inv))
			if err != nil {
				return err
			}
			return WriteOutput(inv.Stdout, out)
		}
		return cmd
	}

	cmd.Run = func(ctx context.Context, inv Invocation) error {
		out, err := h.runtime.Run(ctx, dir, spec.Run, commandInput(inv))
		if err != nil {
			return fmt.Errorf("command %s: %w", spec.Name, err)
		}
		if _, err := io.WriteString(inv.Stdout, out.Stdout); err != nil {
			return err
		}
		return out.Err(spec.Run)
	}
	return cmd
}

// commandInput is the value a plugin command's pipeline or shell command
// receives.
func commandInput(inv Invocation) map[string]any {
	input := make(map[string]any, len(inv.Input)+1)
	for k, v := range inv.Input {
		input[k] = v
	}
	if len(inv.Args) > 0 {
		input["args"] = inv.Args
	}
	return input
}

func (h *Host) manifestHook(dir string, spec manifest.HookSpec) hooks.Listener {
	fn := func(ctx context.Context, args ...any) error {
		out, err := h.runtime.Run(ctx, dir, spec.Run, hookPayload(spec.Event, args))
		if err != nil {
			return fmt.Errorf("hook %s: %w", spec.Event, err)
		}
		return out.Err(spec.Run)
	}
	return hooks.WithTimeout(fn, h.hookTimeout)
}

// hookPayload renders hook arguments as JSON-friendly values.
func hookPayload(event string, args []any) map[string]any {
	rendered := make([]any, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case error:
			rendered[i] = v.Error()
		case fmt.Stringer:
			rendered[i] = v.String()
		default:
			if _, err := json.Marshal(v); err != nil {
				rendered[i] = fmt.Sprintf("%v", v)
			} else {
				rendered[i] = v
			}
		}
	}
	return map[string]any{"event": event, "args": rendered}
}

func resolvePath(base, p string) string {
	if filepath.IsAbs(p) || base == "" {
		return p
	}
	return filepath.Join(base, p)
}
