// Package retriever downloads source media through an external fetcher
// capability, enforcing size and duration ceilings with bounded retries.
package retriever
