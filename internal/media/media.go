package media

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Metadata describes a downloaded media file.
type Metadata struct {
	Title     string        `json:"title"`
	Format    string        `json:"format"`
	Duration  time.Duration `json:"duration"`
	SizeBytes int64         `json:"size_bytes"`
}

// RawMedia is the downloaded source a job operates on. The file lives in a
// scoped temp directory owned by the retriever; callers must invoke the
// release function handed out alongside it.
type RawMedia struct {
	Path        string   `json:"path"`
	Meta        Metadata `json:"meta"`
	Fingerprint string   `json:"fingerprint"`
}

// ArtifactKind identifies what an artifact was derived from.
type ArtifactKind string

const (
	KindFrame ArtifactKind = "frame"
	KindAudio ArtifactKind = "audio"
	KindText  ArtifactKind = "text"
)

// Artifact is one derived unit: a frame at a timestamp, an audio slice, or a
// text snippet. Immutable once produced; Ordinal is its stable index within
// the job's artifact sequence.
type Artifact struct {
	Kind    ArtifactKind  `json:"kind"`
	Ordinal int           `json:"ordinal"`
	Start   time.Duration `json:"start"`
	End     time.Duration `json:"end"`
	MIME    string        `json:"mime"`
	Payload []byte        `json:"payload"`
	Digest  string        `json:"digest"`
}

// NewArtifact builds an artifact and fills its content digest.
func NewArtifact(kind ArtifactKind, ordinal int, start, end time.Duration, mime string, payload []byte) Artifact {
	return Artifact{
		Kind:    kind,
		Ordinal: ordinal,
		Start:   start,
		End:     end,
		MIME:    mime,
		Payload: payload,
		Digest:  DigestBytes(payload),
	}
}

// DigestBytes returns the hex sha256 of payload.
func DigestBytes(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
