// Package logging builds the structured loggers used across nexo. It wraps
// log/slog so every component receives a *slog.Logger by injection, with a
// discard logger as the default when none is supplied.
package logging
