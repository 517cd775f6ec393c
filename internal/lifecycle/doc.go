// Package lifecycle runs the fixed eight-phase state machine used by
// scaffolding commands: init, validate, prepare, execute, transform,
// generate, finalize and cleanup. Each phase dispatches the hook
// "lifecycle:<phase>" with a fresh *Context; any listener may abort the run,
// which stops it after that phase without producing an error.
package lifecycle
