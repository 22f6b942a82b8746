// Package daemon coordinates the long-running arbiter process.
//
// It wires configuration, the job store, the pipeline manager, and the HTTP
// API into a single lifecycle with flock-based locking to prevent multiple
// instances. Individual pipeline stages live in their own packages; the
// daemon focuses on startup, shutdown, and high level coordination.
package daemon
