// Package runtime runs shell commands on behalf of pipeline stages,
// plugin commands and plugin hooks. The stage input travels to the
// command as JSON in NEXO_INPUT; stdout comes back as the stage output.
package runtime
