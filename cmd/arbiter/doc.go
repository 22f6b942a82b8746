// Command arbiter is the CLI for the media analysis pipeline. It runs the
// daemon in the foreground (serve) and talks to a running daemon over HTTP
// for everything else: submitting jobs, inspecting progress, fetching scored
// reports, and maintenance.
package main
