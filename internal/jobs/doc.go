// Package jobs persists analysis jobs and enforces the one-directional job
// state machine on top of SQLite.
package jobs
