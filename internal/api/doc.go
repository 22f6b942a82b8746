// Package api defines the JSON types exchanged between the arbiter daemon
// and its clients, plus the HTTP client the CLI uses to talk to a running
// daemon.
package api
