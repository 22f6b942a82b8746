// Package config loads, defaults, and validates the TOML configuration shared
// by the arbiter daemon and CLI.
package config
