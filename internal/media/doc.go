// Package media holds the raw-media and artifact types that flow through the
// analysis pipeline.
package media
