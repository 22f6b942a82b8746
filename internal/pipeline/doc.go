// Package pipeline drives jobs through the analysis stage chain: retrieve,
// extract, analyze, aggregate, commit. The manager owns status transitions,
// cancellation, and terminal-state policy; the stage handlers own the work.
package pipeline
