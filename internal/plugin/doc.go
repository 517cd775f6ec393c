// Package plugin hosts the commands, build adapters and hook listeners
// that plugins contribute.
//
// A plugin is a directory holding a plugin.yaml manifest. Discover finds
// plugin directories on the configured search paths and Host.Load checks
// each plugin's host-version constraint before registering its commands
// and hooks. Commands run through Host.RunCommand, or Host.Dispatch for
// commands the host does not own, which bracket them with the
// command:before, command:after and command:error hooks.
package plugin
