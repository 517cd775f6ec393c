package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/cosmic-gao/nexo-machine/internal/blueprint"
	"github.com/cosmic-gao/nexo-machine/internal/manifest"
	"github.com/cosmic-gao/nexo-machine/internal/plugin"
	"github.com/cosmic-gao/nexo-machine/internal/watch"
	"github.com/spf13/cobra"
)

var (
	runInputs     []string
	runInputFile  string
	runParallel   bool
	runOnError    policyFlag
	runMaxRetries int
	runJSON       bool
	runWatch      bool
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline.yaml>",
	Short: "Run a pipeline manifest",
	Long: `Build and execute a pipeline manifest.

Inputs are provided as key=value pairs via --input flags, optionally on top
of a YAML or JSON mapping given with --input-file. Flags for parallelism
and error handling override what the manifest and config files set.

With --watch the pipeline re-runs whenever the manifest or one of its
includes changes.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringArrayVarP(&runInputs, "input", "i", nil, "Input key=value pairs (can be specified multiple times)")
	f.StringVar(&runInputFile, "input-file", "", "YAML or JSON file with pipeline input")
	f.BoolVar(&runParallel, "parallel", false, "Run independent stages concurrently")
	f.Var(&runOnError, "on-error", "Error policy: stop, continue or retry")
	f.IntVar(&runMaxRetries, "max-retries", 0, "Attempts per stage under the retry policy")
	f.BoolVar(&runJSON, "json", false, "Print a JSON run report")
	f.BoolVarP(&runWatch, "watch", "w", false, "Re-run when the manifest changes")
	rootCmd.AddCommand(runCmd)
}

// runReport is the --json output of a run.
type runReport struct {
	Pipeline string         `json:"pipeline"`
	RunID    string         `json:"run_id"`
	Output   any            `json:"output"`
	Results  map[string]any `json:"results"`
	Skipped  []string       `json:"skipped"`
}

func runRun(cmd *cobra.Command, args []string) error {
	path := args[0]
	input, err := collectInput(runInputFile, runInputs)
	if err != nil {
		return err
	}
	state.builder.Overrides = runOverrides(cmd)

	if !runWatch {
		return dispatch(cmd, args, input, func(ctx context.Context, inv plugin.Invocation) error {
			return runPipeline(ctx, inv.Stdout, cmd.ErrOrStderr(), path, input)
		})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	return watchPipeline(ctx, cmd, path, input)
}

func runOverrides(cmd *cobra.Command) blueprint.Overrides {
	var o blueprint.Overrides
	if cmd.Flags().Changed("parallel") {
		parallel := runParallel
		o.Parallel = &parallel
	}
	o.OnError = runOnError.policy
	o.MaxRetries = runMaxRetries
	return o
}

// runPipeline builds and executes the manifest at path once.
func runPipeline(ctx context.Context, stdout, stderr io.Writer, path string, input any) error {
	p, err := state.builder.BuildFile(path)
	if err != nil {
		return err
	}
	res, err := p.Execute(ctx, input)
	if err != nil {
		return err
	}

	if runJSON {
		report := runReport{
			Pipeline: p.Name(),
			RunID:    res.Context.RunID,
			Output:   res.Output,
			Results:  res.Context.Results(),
			Skipped:  res.Context.Skipped(),
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	if err := plugin.WriteOutput(stdout, res.Output); err != nil {
		return err
	}
	ran := len(res.Context.Results())
	if skipped := res.Context.Skipped(); len(skipped) > 0 {
		fmt.Fprintf(stderr, "Pipeline %s: %d stage(s) ran, skipped %v\n", p.Name(), ran, skipped)
	} else {
		fmt.Fprintf(stderr, "Pipeline %s: %d stage(s) ran\n", p.Name(), ran)
	}
	return nil
}

// watchFiles lists the manifest and the files it directly includes.
func watchFiles(path string) []string {
	files := []string{path}
	def, err := manifest.ParsePipeline(path)
	if err != nil {
		return files
	}
	dir := filepath.Dir(path)
	for _, inc := range def.Include {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(dir, inc)
		}
		files = append(files, inc)
	}
	return files
}

func watchPipeline(ctx context.Context, cmd *cobra.Command, path string, input any) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	if err := runPipeline(ctx, stdout, stderr, path, input); err != nil {
		fmt.Fprintf(stderr, "Run failed: %v\n", err)
	}

	w, err := watch.New(watchFiles(path))
	if err != nil {
		return err
	}
	w.Logger = state.logger
	fmt.Fprintf(stderr, "Watching %s for changes (Ctrl-C to stop)\n", path)

	return w.Run(ctx, func(ctx context.Context, changed []string) error {
		fmt.Fprintf(stderr, "Changed: %v\n", changed)
		return runPipeline(ctx, stdout, stderr, path, input)
	})
}
