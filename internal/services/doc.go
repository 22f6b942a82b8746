// Package services defines the error taxonomy and context conventions shared
// by every external capability the pipeline consumes.
package services
