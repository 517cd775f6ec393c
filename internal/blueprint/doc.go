// Package blueprint turns pipeline manifests into executable pipelines.
//
// Stage bodies come from `run` (a shell command) or `uses: adapter:<name>`
// (an adapter registered on the plugin host). The `when` field takes a
// small condition language:
//
//	always | never
//	env:NAME        NAME is set and non-empty
//	shared:KEY      the shared store holds a truthy value under KEY
//	result:STAGE    STAGE produced a result in this run
//
// Any expression may be negated with a leading "!". Included manifests
// are built first and run ahead of the including pipeline.
package blueprint
