// Package manifest parses and validates the YAML manifests the CLI reads:
// pipeline definitions (kind: pipeline) and plugin descriptors
// (kind: plugin). Validation runs against an embedded JSON Schema.
package manifest
