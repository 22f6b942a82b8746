// Package fingerprint derives the deterministic cache key for a job's inputs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Params are the inputs that determine what the extractor will produce.
// Identical params always hash to the same fingerprint; nothing time- or
// randomness-dependent may be added here.
type Params struct {
	SourceRef         string
	Density           int
	AudioChunkSeconds int
	Transcribe        bool
}

// Compute returns the hex sha256 fingerprint for the given parameters.
func Compute(p Params) string {
	var b strings.Builder
	b.WriteString("v1\x00")
	b.WriteString(strings.TrimSpace(p.SourceRef))
	b.WriteString("\x00")
	fmt.Fprintf(&b, "density=%d\x00", p.Density)
	fmt.Fprintf(&b, "audio_chunk=%d\x00", p.AudioChunkSeconds)
	fmt.Fprintf(&b, "transcribe=%t", p.Transcribe)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
