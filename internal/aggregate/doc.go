// Package aggregate folds per-artifact provider judgments into the final
// deterministic report: weighted consensus scores, dispute flags, and a
// content hash suitable for provenance commits.
package aggregate
