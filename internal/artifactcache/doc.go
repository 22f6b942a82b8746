// Package artifactcache stores extracted artifact sets on disk keyed by job
// fingerprint, with TTL expiry and LRU eviction under a byte budget.
package artifactcache
