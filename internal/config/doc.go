// Package config manages settings for the CLI.
//
// User-level settings live at ~/.nexo/config.yaml and are read and written
// through the package-level viper instance (nexo config get/set). Runs load
// a Settings value that merges the user file with the project's nexo.yaml
// and NEXO_* environment variables.
package config
