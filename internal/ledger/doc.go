// Package ledger commits report provenance records to an external append-only
// ledger service. Commits are best-effort: the pipeline degrades rather than
// fails when the ledger is unreachable.
package ledger
