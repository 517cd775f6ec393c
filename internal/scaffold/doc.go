// Package scaffold generates new plugins and pipelines from embedded
// templates. Generation runs as a lifecycle: validate checks the request,
// prepare claims the output directory, generate renders the templates,
// finalize schema-checks the written manifests and cleanup removes a
// half-written directory when an earlier phase failed. Other listeners on
// the same bus observe, and may abort, the same phases.
package scaffold
