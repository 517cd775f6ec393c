package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/cosmic-gao/nexo-machine/internal/plugin"
	"github.com/spf13/cobra"
)

var (
	pluginsJSON      bool
	pluginsInputs    []string
	pluginsInputFile string
)

func init() {
	pluginsListCmd.Flags().BoolVar(&pluginsJSON, "json", false, "Output in JSON format")
	pluginsRunCmd.Flags().StringArrayVarP(&pluginsInputs, "input", "i", nil, "Input key=value pairs (can be specified multiple times)")
	pluginsRunCmd.Flags().StringVar(&pluginsInputFile, "input-file", "", "YAML or JSON file with command input")

	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsRunCmd)
	rootCmd.AddCommand(pluginsCmd)
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect and run plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded plugins, commands and adapters",
	Args:  cobra.NoArgs,
	RunE:  runPluginsList,
}

var pluginsRunCmd = &cobra.Command{
	Use:   "run <command> [args...]",
	Short: "Run a command contributed by a plugin",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPluginsRun,
}

// pluginListing is the --json output of plugins list.
type pluginListing struct {
	Plugins  []*plugin.Plugin `json:"plugins"`
	Commands []commandEntry   `json:"commands"`
	Adapters []string         `json:"adapters"`
}

type commandEntry struct {
	Name        string `json:"name"`
	Plugin      string `json:"plugin"`
	Description string `json:"description,omitempty"`
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	listing := pluginListing{
		Plugins:  state.host.Plugins(),
		Adapters: state.host.AdapterNames(),
	}
	for _, c := range state.host.Commands() {
		listing.Commands = append(listing.Commands, commandEntry{Name: c.Name, Plugin: c.Plugin, Description: c.Description})
	}

	if pluginsJSON {
		out, err := json.MarshalIndent(listing, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	out := cmd.OutOrStdout()
	if len(listing.Plugins) == 0 {
		fmt.Fprintln(out, "No plugins loaded.")
	} else {
		w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "PLUGIN\tVERSION\tCOMMANDS\tHOOKS\tPATH")
		for _, p := range listing.Plugins {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.Version, orDash(p.Commands), orDash(p.Hooks), p.Dir)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "\nAdapters: %s\n", strings.Join(listing.Adapters, ", "))
	return nil
}

func orDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

func runPluginsRun(cmd *cobra.Command, args []string) error {
	input, err := collectInput(pluginsInputFile, pluginsInputs)
	if err != nil {
		return err
	}
	return state.host.RunCommand(cmd.Context(), args[0], plugin.Invocation{
		Args:   args[1:],
		Input:  input,
		Dir:    projectDir,
		Stdout: cmd.OutOrStdout(),
	})
}
