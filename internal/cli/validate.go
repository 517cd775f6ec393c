package cli

import (
	"context"
	"fmt"

	"github.com/cosmic-gao/nexo-machine/internal/manifest"
	"github.com/cosmic-gao/nexo-machine/internal/plugin"
	"github.com/spf13/cobra"
)

var validateBuild bool

var validateCmd = &cobra.Command{
	Use:   "validate <manifest.yaml>...",
	Short: "Validate manifests against the schema",
	Long: `Check pipeline and plugin manifests against the manifest schema.

With --build, pipeline manifests are also built: includes are resolved,
adapters looked up and stage dependencies checked.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateBuild, "build", false, "Also build pipeline manifests")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	return dispatch(cmd, args, nil, func(_ context.Context, inv plugin.Invocation) error {
		failed := 0
		for _, path := range args {
			if err := validateOne(path); err != nil {
				failed++
				fmt.Fprintf(inv.Stdout, "✗ %s\n%v\n", path, err)
				continue
			}
			fmt.Fprintf(inv.Stdout, "✓ %s\n", path)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d manifest(s) invalid", failed, len(args))
		}
		return nil
	})
}

func validateOne(path string) error {
	res, err := manifest.ValidateFile(path)
	if err != nil {
		return err
	}
	if err := res.Err(); err != nil {
		return err
	}
	if !validateBuild {
		return nil
	}

	m, err := manifest.ParseFile(path)
	if err != nil {
		return err
	}
	if _, ok := m.(*manifest.PipelineManifest); !ok {
		return nil
	}
	_, err = state.builder.BuildFile(path)
	return err
}
