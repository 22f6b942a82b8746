package extract

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/logging"
	"arbiter/internal/media"
	"arbiter/internal/services"
)

// MediaInfo describes the decodable tracks discovered by probing.
type MediaInfo struct {
	Duration time.Duration
	HasVideo bool
	HasAudio bool
}

// Decoder is the media decoding capability. Implementations classify
// undecodable input with services.ErrUnprocessableMedia.
type Decoder interface {
	ProbeTracks(ctx context.Context, path string) (MediaInfo, error)
	ExtractFrame(ctx context.Context, path string, at time.Duration) ([]byte, error)
	ExtractAudioChunk(ctx context.Context, path string, start, length time.Duration) ([]byte, error)
}

// Transcriber converts an audio chunk into text. Optional; a nil transcriber
// disables transcript artifacts.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Result carries the derived artifacts plus any non-fatal degradations.
type Result struct {
	Artifacts []media.Artifact
	Warnings  []string
}

// Extractor derives frame, audio, and transcript artifacts from retrieved
// media deterministically: the same media and parameters always yield the
// same artifact sequence.
type Extractor struct {
	decoder     Decoder
	transcriber Transcriber
	cfg         config.Extractor
	logger      *slog.Logger
}

// New builds an extractor. transcriber may be nil.
func New(decoder Decoder, transcriber Transcriber, cfg config.Extractor, logger *slog.Logger) *Extractor {
	return &Extractor{
		decoder:     decoder,
		transcriber: transcriber,
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "extract"),
	}
}

// Extract derives artifacts from raw media. density is the requested frames
// per minute; zero selects the configured maximum. Missing audio degrades to
// a warning rather than failing the job.
func (e *Extractor) Extract(ctx context.Context, raw *media.RawMedia, density int) (*Result, error) {
	if raw == nil || raw.Path == "" {
		return nil, services.Wrap(services.ErrValidation, "extracting", "validate", "no media to extract", nil)
	}
	density = e.clampDensity(density)

	info, err := e.decoder.ProbeTracks(ctx, raw.Path)
	if err != nil {
		return nil, err
	}
	if !info.HasVideo {
		return nil, services.Wrap(services.ErrUnprocessableMedia, "extracting", "probe", "no decodable video track", nil)
	}
	duration := info.Duration
	if duration <= 0 {
		duration = raw.Meta.Duration
	}
	if duration <= 0 {
		return nil, services.Wrap(services.ErrUnprocessableMedia, "extracting", "probe", "media has no measurable duration", nil)
	}

	result := &Result{}
	ordinal := 0

	for _, at := range FrameTimestamps(duration, density) {
		if err := ctx.Err(); err != nil {
			return nil, services.Wrap(services.ErrCancelled, "extracting", "frames", "extraction interrupted", err)
		}
		payload, err := e.decoder.ExtractFrame(ctx, raw.Path, at)
		if err != nil {
			return nil, err
		}
		result.Artifacts = append(result.Artifacts, media.NewArtifact(media.KindFrame, ordinal, at, at, "image/jpeg", payload))
		ordinal++
	}

	if !info.HasAudio {
		result.Warnings = append(result.Warnings, "media has no audio track; skipping audio and transcript artifacts")
		e.logger.WarnContext(ctx, "no audio track", logging.String("path", raw.Path))
		return result, nil
	}

	chunkLen := time.Duration(e.cfg.AudioChunkSeconds) * time.Second
	if chunkLen <= 0 {
		chunkLen = 30 * time.Second
	}
	for start := time.Duration(0); start < duration; start += chunkLen {
		if err := ctx.Err(); err != nil {
			return nil, services.Wrap(services.ErrCancelled, "extracting", "audio", "extraction interrupted", err)
		}
		end := start + chunkLen
		if end > duration {
			end = duration
		}
		payload, err := e.decoder.ExtractAudioChunk(ctx, raw.Path, start, end-start)
		if err != nil {
			return nil, err
		}
		chunk := media.NewArtifact(media.KindAudio, ordinal, start, end, "audio/mpeg", payload)
		result.Artifacts = append(result.Artifacts, chunk)
		ordinal++

		if !e.cfg.Transcribe || e.transcriber == nil {
			continue
		}
		text, err := e.transcriber.Transcribe(ctx, payload, chunk.MIME)
		if err != nil {
			// Transcription is best-effort; the audio chunk itself already
			// made it into the artifact set.
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("transcription failed for audio %s-%s: %v", start, end, err))
			e.logger.WarnContext(ctx, "transcription failed",
				logging.Duration("start", start),
				logging.Error(err),
			)
			continue
		}
		result.Artifacts = append(result.Artifacts, media.NewArtifact(media.KindText, ordinal, start, end, "text/plain", []byte(text)))
		ordinal++
	}

	e.logger.InfoContext(ctx, "artifacts extracted",
		logging.Int("count", len(result.Artifacts)),
		logging.Int("density", density),
		logging.Duration("duration", duration),
	)
	return result, nil
}

func (e *Extractor) clampDensity(density int) int {
	max := e.cfg.MaxDensity
	if max <= 0 {
		max = 6
	}
	if density <= 0 || density > max {
		return max
	}
	return density
}

// FrameTimestamps returns the deterministic sample points for a media
// duration at the given frames-per-minute density. The first and last frame
// are always included and the remainder are spaced uniformly between them.
func FrameTimestamps(duration time.Duration, density int) []time.Duration {
	if duration <= 0 || density <= 0 {
		return nil
	}
	count := int(math.Round(duration.Minutes() * float64(density)))
	if count < 2 {
		count = 2
	}
	out := make([]time.Duration, count)
	step := duration / time.Duration(count-1)
	for i := 0; i < count-1; i++ {
		out[i] = time.Duration(i) * step
	}
	out[count-1] = duration
	return out
}
