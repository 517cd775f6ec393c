// Package branding provides compile-time identity values for the CLI.
//
// The values live in branding.yaml next to this file and are baked into the
// binary with //go:embed, so a fork can rename the tool without touching
// Go code.
package branding

import (
	_ "embed"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed branding.yaml
var rawBranding []byte

var (
	once     sync.Once
	defaults brand
)

type brand struct {
	CLIName     string `yaml:"cli_name"`
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
	HomeDir     string `yaml:"home_dir"`
	EnvPrefix   string `yaml:"env_prefix"`
	GoModule    string `yaml:"go_module"`
	GitHubRepo  string `yaml:"github_repo"`
	ProjectFile string `yaml:"project_file"`
	PluginFile  string `yaml:"plugin_file"`
}

func load() {
	once.Do(func() {
		// Hard defaults in case the embedded file is empty.
		defaults = brand{
			CLIName:     "nexo",
			DisplayName: "Nexo",
			Description: "Pluggable scaffolding CLI",
			HomeDir:     ".nexo",
			EnvPrefix:   "NEXO",
			GoModule:    "github.com/cosmic-gao/nexo-machine",
			GitHubRepo:  "cosmic-gao/nexo-machine",
			ProjectFile: "nexo.yaml",
			PluginFile:  "plugin.yaml",
		}
		_ = yaml.Unmarshal(rawBranding, &defaults)
	})
}

// CLIName returns the root command name (e.g., "nexo").
func CLIName() string { load(); return defaults.CLIName }

// DisplayName returns the human-readable product name.
func DisplayName() string { load(); return defaults.DisplayName }

// Description returns the short product description.
func Description() string { load(); return defaults.Description }

// HomeDir returns the dot-directory name under $HOME (e.g., ".nexo").
func HomeDir() string { load(); return defaults.HomeDir }

// EnvPrefix returns the environment variable prefix (e.g., "NEXO").
func EnvPrefix() string { load(); return defaults.EnvPrefix }

// GoModule returns the Go module path. Templates use it for generated
// plugin imports.
func GoModule() string { load(); return defaults.GoModule }

// GitHubRepo returns the "owner/repo" string.
func GitHubRepo() string { load(); return defaults.GitHubRepo }

// ProjectFile is the per-project settings file name (e.g., "nexo.yaml").
func ProjectFile() string { load(); return defaults.ProjectFile }

// PluginFile is the manifest file name that marks a plugin directory.
func PluginFile() string { load(); return defaults.PluginFile }

// EnvVar returns a fully qualified env var name, e.g., EnvVar("input") → "NEXO_INPUT".
func EnvVar(suffix string) string {
	load()
	return defaults.EnvPrefix + "_" + strings.ToUpper(suffix)
}
