// Package notifications pushes job lifecycle updates to an ntfy topic when
// one is configured.
package notifications
