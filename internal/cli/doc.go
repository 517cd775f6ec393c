// Package cli defines the Cobra command tree for the nexo CLI. Each file
// registers one top-level command (run, validate, create, plugins, config,
// version) with the root command. The root command wires the hook bus,
// plugin host and pipeline builder once per invocation; commands delegate
// to internal packages and only handle flags and output.
package cli
