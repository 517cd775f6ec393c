package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cosmic-gao/nexo-machine/internal/blueprint"
	"github.com/cosmic-gao/nexo-machine/internal/branding"
	"github.com/cosmic-gao/nexo-machine/internal/config"
	"github.com/cosmic-gao/nexo-machine/internal/hooks"
	"github.com/cosmic-gao/nexo-machine/internal/logging"
	"github.com/cosmic-gao/nexo-machine/internal/plugin"
	"github.com/cosmic-gao/nexo-machine/internal/runtime"
	"github.com/spf13/cobra"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string
)

var (
	projectDir string
	logLevel   string
	logFormat  string
	verbose    bool
)

// app is what setup wires together for one invocation.
type app struct {
	settings *config.Settings
	logger   *slog.Logger
	bus      *hooks.Bus
	host     *plugin.Host
	builder  *blueprint.Builder
}

var state *app

var rootCmd = &cobra.Command{
	Use:   branding.CLIName(),
	Short: branding.Description(),
	Long: branding.DisplayName() + ` runs pipeline manifests, scaffolds new plugins and pipelines, and hosts
plugins that contribute commands, hook listeners and stage adapters.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&projectDir, "project-dir", "C", ".", "Project directory holding "+branding.ProjectFile())
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "", "Log format: text or json")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Same as --log-level=debug")
}

// Execute runs the root command with build info injected via ldflags.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	return rootCmd.Execute()
}

func hostVersion() string {
	if buildVersion == "" {
		return plugin.DevVersion
	}
	return buildVersion
}

// setup loads settings and builds the bus, host and pipeline builder,
// then loads plugins from the configured search paths.
func setup(cmd *cobra.Command) error {
	s, err := config.LoadSettings(projectDir)
	if err != nil {
		return err
	}

	level, format := s.Log.Level, s.Log.Format
	if logLevel != "" {
		level = logLevel
	}
	if verbose {
		level = "debug"
	}
	if logFormat != "" {
		format = logFormat
	}
	logger := logging.New(cmd.ErrOrStderr(), level, format)

	defaults, err := s.PipelineOptions("")
	if err != nil {
		return fmt.Errorf("pipeline settings: %w", err)
	}

	bus := hooks.NewBus(hooks.WithLogger(logger))
	// Stage stdout is the stage's result and is printed by the command, so
	// only stderr is streamed.
	rt := &runtime.Exec{Stderr: cmd.ErrOrStderr()}
	host := plugin.NewHost(bus, hostVersion(),
		plugin.WithLogger(logger),
		plugin.WithRuntime(rt),
		plugin.WithHookTimeout(s.Hooks.Timeout),
	)
	builder := &blueprint.Builder{Host: host, Defaults: defaults, Runtime: rt, Logger: logger}
	host.SetPipelineRunner(builder.Run)

	state = &app{settings: s, logger: logger, bus: bus, host: host, builder: builder}
	state.loadPlugins()
	return nil
}

// loadPlugins discovers and loads plugins. Broken plugins are logged and
// skipped so one bad manifest does not disable the CLI.
func (a *app) loadPlugins() {
	paths := make([]string, 0, len(a.settings.Plugins.Paths))
	for _, p := range a.settings.Plugins.Paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(projectDir, p)
		}
		paths = append(paths, p)
	}

	found, err := plugin.Discover(paths)
	if err != nil {
		a.logger.Warn("some plugins could not be read", "error", err)
	}
	loaded, err := a.host.LoadAll(found)
	if err != nil {
		a.logger.Warn("some plugins could not be loaded", "error", err)
	}
	a.logger.Debug("plugins loaded", "count", len(loaded), "paths", paths)
}
