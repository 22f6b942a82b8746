// Package logging wires log/slog with the attribute helpers and context
// conventions used across arbiter.
package logging
