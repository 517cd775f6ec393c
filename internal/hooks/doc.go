// Package hooks provides the named-event bus that plugins, the lifecycle
// runner and the pipeline engine use to publish extension points.
//
// Listeners for one name run in registration order, one at a time; a
// dispatch returns only after the last listener returns. A listener error
// stops the dispatch and is returned to whoever called CallHook, so a
// failing hook aborts the operation that fired it.
//
// A Bus is constructed once per application run and passed by reference
// to every component that needs it; there is no package-level registry.
package hooks
