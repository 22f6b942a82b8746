// Package providers fans artifact judgments out to the configured LLM
// services. The gateway owns throttling, retry, and disqualification policy;
// the per-service subpackages hold single-attempt API clients.
package providers
