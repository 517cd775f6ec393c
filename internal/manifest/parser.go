package manifest

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

// Parse reads a manifest file and returns only the base fields.
// Useful for quick kind detection without full parsing.
func Parse(path string) (*BaseManifest, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var base BaseManifest
	if err := yaml.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	return &base, nil
}

// ParseFile reads a manifest file, detects its kind, and returns the
// typed manifest: *PipelineManifest or *PluginManifest.
func ParseFile(path string) (any, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(data, path)
}

// ParseBytes is ParseFile for in-memory data. source names the data in
// error messages.
func ParseBytes(data []byte, source string) (any, error) {
	kind, err := detectKind(data)
	if err != nil {
		return nil, fmt.Errorf("detecting manifest kind in %s: %w", source, err)
	}

	switch kind {
	case KindPipeline:
		return parseTyped[PipelineManifest](data, source)
	case KindPlugin:
		return parseTyped[PluginManifest](data, source)
	default:
		return nil, fmt.Errorf("unknown manifest kind %q in %s", kind, source)
	}
}

// ParsePipeline reads a manifest file and parses it as a PipelineManifest.
func ParsePipeline(path string) (*PipelineManifest, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	m, err := parseTyped[PipelineManifest](data, path)
	if err != nil {
		return nil, err
	}
	if m.Kind != KindPipeline {
		return nil, fmt.Errorf("%s: kind is %q, want %q", path, m.Kind, KindPipeline)
	}
	return m, nil
}

// ParsePlugin reads a manifest file and parses it as a PluginManifest.
func ParsePlugin(path string) (*PluginManifest, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	m, err := parseTyped[PluginManifest](data, path)
	if err != nil {
		return nil, err
	}
	if m.Kind != KindPlugin {
		return nil, fmt.Errorf("%s: kind is %q, want %q", path, m.Kind, KindPlugin)
	}
	return m, nil
}

// parseTyped unmarshals YAML data into a typed manifest struct.
func parseTyped[T any](data []byte, source string) (*T, error) {
	var m T
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", source, err)
	}
	return &m, nil
}

// detectKind unmarshals YAML data into a generic map and extracts the kind field.
func detectKind(data []byte) (string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return "", fmt.Errorf("unmarshaling YAML: %w", err)
	}

	kindVal, ok := raw["kind"]
	if !ok {
		return "", fmt.Errorf("manifest missing required 'kind' field")
	}
	kind, ok := kindVal.(string)
	if !ok {
		return "", fmt.Errorf("manifest 'kind' field is not a string")
	}
	return kind, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return data, nil
}
