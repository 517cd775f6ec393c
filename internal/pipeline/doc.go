// Package pipeline is nexo's staged execution engine.
//
// A Pipeline holds named stages with optional dependencies, run conditions
// and a skippable flag. Execute runs them against one input either strictly
// in the order they were added, or in dependency-driven waves where every
// stage whose dependencies are satisfied runs concurrently with the rest of
// its wave. Stage failures are handled by the pipeline's error policy: stop,
// continue past skippable stages, or retry a bounded number of times.
//
// Progress is published on a shared hooks.Bus under the names
// pipeline:start, pipeline:end, stage:before, stage:after, stage:skip and
// stage:error. Compose nests whole pipelines as stages of an outer one.
//
// Wave fan-in: stages in one wave all read the same input value, and only
// the output of the wave's last stage (in add order) is carried forward as
// the next wave's input. Outputs of the other stages in the wave remain
// available through Context.Result. Parallel mode is meant for independent
// stages whose real output channel is the results map or the shared store.
package pipeline
