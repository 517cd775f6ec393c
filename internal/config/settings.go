package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cosmic-gao/nexo-machine/internal/branding"
	"github.com/cosmic-gao/nexo-machine/internal/pipeline"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// Settings is the merged configuration for one invocation.
type Settings struct {
	Pipeline PipelineSettings `mapstructure:"pipeline" yaml:"pipeline"`
	Log      LogSettings      `mapstructure:"log" yaml:"log"`
	Plugins  PluginSettings   `mapstructure:"plugins" yaml:"plugins"`
	Hooks    HookSettings     `mapstructure:"hooks" yaml:"hooks"`
}

// PipelineSettings are the defaults applied to pipelines that do not set
// their own options.
type PipelineSettings struct {
	Parallel   bool   `mapstructure:"parallel" yaml:"parallel"`
	OnError    string `mapstructure:"on_error" yaml:"on_error"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries"`
}

type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type PluginSettings struct {
	// Paths are searched for plugin directories, in order.
	Paths []string `mapstructure:"paths" yaml:"paths"`
}

type HookSettings struct {
	// Timeout bounds each listener; zero disables it.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.parallel", false)
	v.SetDefault("pipeline.on_error", string(pipeline.OnErrorStop))
	v.SetDefault("pipeline.max_retries", pipeline.DefaultMaxRetries)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("plugins.paths", []string{filepath.Join(Dir(), "plugins")})
	v.SetDefault("hooks.timeout", time.Duration(0))
}

// coerce converts a textual value to the type of the setting key's
// default. Unknown keys are rejected.
func coerce(key, value string) (any, error) {
	v := viper.New()
	setDefaults(v)
	key = strings.ToLower(key)
	if !slices.Contains(v.AllKeys(), key) {
		return nil, pipeline.Configf("unknown setting %q: expected one of %s", key, strings.Join(sorted(v.AllKeys()), ", "))
	}

	var (
		typed any
		err   error
	)
	switch v.Get(key).(type) {
	case bool:
		typed, err = cast.ToBoolE(value)
	case int:
		typed, err = cast.ToIntE(value)
	case time.Duration:
		typed, err = cast.ToDurationE(value)
	case []string:
		typed = strings.Split(value, ",")
	default:
		typed = value
	}
	if err != nil {
		return nil, pipeline.Configf("setting %s: %v", key, err)
	}

	if key == "pipeline.on_error" {
		if _, err := pipeline.ParseErrorPolicy(value); err != nil {
			return nil, err
		}
	}
	return typed, nil
}

func sorted(keys []string) []string {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	return keys
}

// LoadSettings reads the user config file, merges the project file from
// projectDir over it and applies NEXO_* environment overrides. Missing
// files are not an error.
func LoadSettings(projectDir string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType(fileType)
	v.SetEnvPrefix(branding.EnvPrefix())
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if err := mergeFile(v, FilePath()); err != nil {
		return nil, err
	}
	if projectDir != "" {
		if err := mergeFile(v, filepath.Join(projectDir, branding.ProjectFile())); err != nil {
			return nil, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	return &s, nil
}

func mergeFile(v *viper.Viper, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	if err := v.MergeConfig(f); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	return nil
}

// PipelineOptions converts the pipeline defaults into engine options for a
// pipeline called name.
func (s *Settings) PipelineOptions(name string) (pipeline.Options, error) {
	policy, err := pipeline.ParseErrorPolicy(s.Pipeline.OnError)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		Name:       name,
		Parallel:   s.Pipeline.Parallel,
		OnError:    policy,
		MaxRetries: s.Pipeline.MaxRetries,
	}, nil
}
