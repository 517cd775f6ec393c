package manifest

import "strings"

// Manifest kinds, as written in the kind field.
const (
	KindPipeline = "pipeline"
	KindPlugin   = "plugin"
)

// AllKinds returns every supported manifest kind.
func AllKinds() []string {
	return []string{KindPipeline, KindPlugin}
}

// AdapterPrefix marks a stage body provided by a registered adapter.
const AdapterPrefix = "adapter:"

// BaseManifest contains fields shared by all manifest kinds.
type BaseManifest struct {
	Kind        string `yaml:"kind" json:"kind"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// PipelineManifest describes a pipeline and its stages.
type PipelineManifest struct {
	BaseManifest `yaml:",inline"`
	Parallel     *bool       `yaml:"parallel,omitempty" json:"parallel,omitempty"`
	OnError      string      `yaml:"on_error,omitempty" json:"on_error,omitempty"`
	MaxRetries   int         `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	Include      []string    `yaml:"include,omitempty" json:"include,omitempty"`
	Stages       []StageSpec `yaml:"stages,omitempty" json:"stages,omitempty"`
}

// StageSpec is one stage of a pipeline manifest. Exactly one of Run and
// Uses is set.
type StageSpec struct {
	Name      string         `yaml:"name" json:"name"`
	Run       string         `yaml:"run,omitempty" json:"run,omitempty"`
	Uses      string         `yaml:"uses,omitempty" json:"uses,omitempty"`
	With      map[string]any `yaml:"with,omitempty" json:"with,omitempty"`
	DependsOn []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	When      string         `yaml:"when,omitempty" json:"when,omitempty"`
	Skippable bool           `yaml:"skippable,omitempty" json:"skippable,omitempty"`
}

// Adapter returns the adapter name referenced by Uses, or "" when the
// stage is not adapter-backed.
func (s StageSpec) Adapter() string {
	name, ok := strings.CutPrefix(s.Uses, AdapterPrefix)
	if !ok {
		return ""
	}
	return name
}

// PluginManifest describes a plugin directory. Requires is a semver
// constraint on the host version.
type PluginManifest struct {
	BaseManifest `yaml:",inline"`
	Version      string        `yaml:"version" json:"version"`
	Requires     string        `yaml:"requires,omitempty" json:"requires,omitempty"`
	Commands     []CommandSpec `yaml:"commands,omitempty" json:"commands,omitempty"`
	Hooks        []HookSpec    `yaml:"hooks,omitempty" json:"hooks,omitempty"`
}

// CommandSpec is a command contributed by a plugin. Pipeline is a path
// relative to the plugin directory; Run is a shell command.
type CommandSpec struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Pipeline    string `yaml:"pipeline,omitempty" json:"pipeline,omitempty"`
	Run         string `yaml:"run,omitempty" json:"run,omitempty"`
}

// HookSpec subscribes a shell command to a hook event.
type HookSpec struct {
	Event string `yaml:"event" json:"event"`
	Run   string `yaml:"run" json:"run"`
}
