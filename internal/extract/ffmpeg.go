package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/services"
)

// FFmpegDecoder shells out to ffmpeg and ffprobe.
type FFmpegDecoder struct {
	ffmpeg        string
	ffprobe       string
	commandOutput func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewFFmpegDecoder builds a decoder around the configured binaries.
func NewFFmpegDecoder(cfg config.Extractor) *FFmpegDecoder {
	ffmpeg := strings.TrimSpace(cfg.FFmpegBinary)
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	ffprobe := strings.TrimSpace(cfg.FFprobeBinary)
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &FFmpegDecoder{ffmpeg: ffmpeg, ffprobe: ffprobe}
}

// WithCommandOutput sets a custom command runner (for testing).
func (d *FFmpegDecoder) WithCommandOutput(runner func(ctx context.Context, name string, args ...string) ([]byte, error)) {
	d.commandOutput = runner
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

// ProbeTracks inspects the container for duration and track presence.
func (d *FFmpegDecoder) ProbeTracks(ctx context.Context, path string) (MediaInfo, error) {
	var info MediaInfo
	out, err := d.run(ctx, d.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return info, services.Wrap(services.ErrUnprocessableMedia, "extracting", "probe", "ffprobe failed", err)
	}

	var payload probeOutput
	if err := json.Unmarshal(out, &payload); err != nil {
		return info, services.Wrap(services.ErrUnprocessableMedia, "extracting", "probe", "parse ffprobe output", err)
	}
	if seconds, err := strconv.ParseFloat(strings.TrimSpace(payload.Format.Duration), 64); err == nil {
		info.Duration = time.Duration(seconds * float64(time.Second))
	}
	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video":
			info.HasVideo = true
		case "audio":
			info.HasAudio = true
		}
	}
	return info, nil
}

// ExtractFrame decodes a single JPEG frame at the given offset.
func (d *FFmpegDecoder) ExtractFrame(ctx context.Context, path string, at time.Duration) ([]byte, error) {
	out, err := d.run(ctx, d.ffmpeg,
		"-hide_banner",
		"-loglevel", "error",
		"-ss", formatSeconds(at),
		"-i", path,
		"-frames:v", "1",
		"-c:v", "mjpeg",
		"-f", "image2pipe",
		"pipe:1",
	)
	if err != nil {
		return nil, services.Wrap(services.ErrUnprocessableMedia, "extracting", "frame",
			fmt.Sprintf("decode frame at %s", at), err)
	}
	if len(out) == 0 {
		return nil, services.Wrap(services.ErrUnprocessableMedia, "extracting", "frame",
			fmt.Sprintf("empty frame at %s", at), nil)
	}
	return out, nil
}

// ExtractAudioChunk decodes an MP3 audio segment.
func (d *FFmpegDecoder) ExtractAudioChunk(ctx context.Context, path string, start, length time.Duration) ([]byte, error) {
	out, err := d.run(ctx, d.ffmpeg,
		"-hide_banner",
		"-loglevel", "error",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(length),
		"-i", path,
		"-vn",
		"-c:a", "libmp3lame",
		"-f", "mp3",
		"pipe:1",
	)
	if err != nil {
		return nil, services.Wrap(services.ErrUnprocessableMedia, "extracting", "audio",
			fmt.Sprintf("decode audio at %s", start), err)
	}
	return out, nil
}

func (d *FFmpegDecoder) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if d.commandOutput != nil {
		return d.commandOutput(ctx, name, args...)
	}
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
