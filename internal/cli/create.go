package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/cosmic-gao/nexo-machine/internal/branding"
	"github.com/cosmic-gao/nexo-machine/internal/plugin"
	"github.com/cosmic-gao/nexo-machine/internal/scaffold"
	"github.com/spf13/cobra"
)

// Shared flags for all create subcommands.
var (
	createOutputDir   string
	createDescription string
)

func init() {
	createCmd.PersistentFlags().StringVar(&createOutputDir, "output-dir", "", "Output directory")
	createCmd.PersistentFlags().StringVarP(&createDescription, "description", "d", "", "One-line description")
	rootCmd.AddCommand(createCmd)

	createCmd.AddCommand(createPluginCmd)
	createCmd.AddCommand(createPipelineCmd)
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Scaffold a new plugin or pipeline",
	Long: `Create a new plugin or pipeline from built-in templates.

Generation runs the scaffold lifecycle on the hook bus, so loaded plugins
can observe or abort it.`,
}

var createPluginCmd = &cobra.Command{
	Use:   "plugin <name>",
	Short: "Scaffold a new plugin",
	Long: `Scaffold a plugin directory holding a plugin.yaml, an example pipeline
and a README. Output goes to ./<name> unless --output-dir is set.

Examples:
  ` + branding.CLIName() + ` create plugin docs
  ` + branding.CLIName() + ` create plugin release-notes --output-dir ~/` + branding.HomeDir() + `/plugins/release-notes`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCreate(cmd, scaffold.KindPlugin, args)
	},
}

var createPipelineCmd = &cobra.Command{
	Use:   "pipeline <name>",
	Short: "Scaffold a new pipeline manifest",
	Long: `Write <name>.yaml holding a starter pipeline. Output goes to the current
directory unless --output-dir is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCreate(cmd, scaffold.KindPipeline, args)
	},
}

func runCreate(cmd *cobra.Command, kind string, args []string) error {
	name := args[0]
	req := scaffold.Request{
		Kind:        kind,
		Name:        name,
		Description: createDescription,
		OutputDir:   resolveOutputDir(kind, name),
		HostVersion: hostVersion(),
	}

	return dispatch(cmd, args, nil, func(ctx context.Context, inv plugin.Invocation) error {
		result, err := scaffold.Generate(ctx, state.bus, req, scaffold.WithLogger(state.logger))
		if err != nil {
			return err
		}
		printResult(inv.Stdout, kind, result)
		return nil
	})
}

func resolveOutputDir(kind, name string) string {
	if createOutputDir != "" {
		return createOutputDir
	}
	if kind == scaffold.KindPipeline {
		return "."
	}
	return filepath.Join(".", name)
}

func printResult(w io.Writer, kind string, result *scaffold.Result) {
	fmt.Fprintf(w, "Created %s at %s/\n", kind, result.OutputDir)
	for _, f := range result.Files {
		fmt.Fprintf(w, "  %s\n", f)
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}
