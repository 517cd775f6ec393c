package cli

import (
	"context"
	"fmt"
	"maps"
	"os"
	"strings"

	"github.com/cosmic-gao/nexo-machine/internal/pipeline"
	"github.com/cosmic-gao/nexo-machine/internal/plugin"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.yaml.in/yaml/v3"
)

// parseInputArgs parses --input key=value flags into a map. Values are
// read as YAML scalars or flow collections, so n=3 is a number, ok=true
// a bool and tags=[a,b] a list; anything else stays a string.
func parseInputArgs(inputs []string) (map[string]any, error) {
	result := make(map[string]any)
	for _, input := range inputs {
		key, raw, ok := strings.Cut(input, "=")
		if !ok {
			return nil, fmt.Errorf("invalid input format %q: expected key=value", input)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid input format %q: key cannot be empty", input)
		}
		result[key] = inputValue(strings.TrimSpace(raw))
	}
	return result, nil
}

func inputValue(raw string) any {
	if raw == "" {
		return ""
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
		return raw
	}
	return v
}

// readInputFile decodes a YAML or JSON mapping used as pipeline input.
func readInputFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading input file: %w", err)
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing input file %s: %w", path, err)
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	m, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, fmt.Errorf("input file %s must hold a mapping: %w", path, err)
	}
	return m, nil
}

// collectInput merges the input file (if any) with --input flags; flags
// win.
func collectInput(file string, inputs []string) (map[string]any, error) {
	input := map[string]any{}
	if file != "" {
		m, err := readInputFile(file)
		if err != nil {
			return nil, err
		}
		input = m
	}
	flags, err := parseInputArgs(inputs)
	if err != nil {
		return nil, err
	}
	maps.Copy(input, flags)
	return input, nil
}

// policyFlag is an error policy flag. Empty leaves the manifest's policy
// in place.
type policyFlag struct {
	policy pipeline.ErrorPolicy
}

var _ pflag.Value = (*policyFlag)(nil)

func (f *policyFlag) String() string { return string(f.policy) }

func (f *policyFlag) Set(s string) error {
	if s == "" {
		f.policy = ""
		return nil
	}
	p, err := pipeline.ParseErrorPolicy(s)
	if err != nil {
		return err
	}
	f.policy = p
	return nil
}

func (f *policyFlag) Type() string { return "policy" }

// dispatch runs a built-in command through the host so command hooks
// fire for it too, named by its path below the root ("create plugin").
func dispatch(cmd *cobra.Command, args []string, input map[string]any, run func(ctx context.Context, inv plugin.Invocation) error) error {
	inv := plugin.Invocation{
		Args:   args,
		Input:  input,
		Dir:    projectDir,
		Stdout: cmd.OutOrStdout(),
	}
	name := strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()+" ")
	return state.host.Dispatch(cmd.Context(), plugin.Command{Name: name, Run: run}, inv)
}
