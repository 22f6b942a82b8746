package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"arbiter/internal/media"
	"arbiter/internal/services"
)

// YtDlpFetcher shells out to yt-dlp for probing and downloading.
type YtDlpFetcher struct {
	binary        string
	commandOutput func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewYtDlpFetcher builds a fetcher around the configured yt-dlp binary.
func NewYtDlpFetcher(binary string) *YtDlpFetcher {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	return &YtDlpFetcher{binary: binary}
}

// WithCommandOutput sets a custom command runner (for testing).
func (f *YtDlpFetcher) WithCommandOutput(runner func(ctx context.Context, name string, args ...string) ([]byte, error)) {
	f.commandOutput = runner
}

type probePayload struct {
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Ext      string  `json:"ext"`
	Filesize int64   `json:"filesize"`
	// Approximate size reported when the exact size is unknown pre-download.
	FilesizeApprox int64 `json:"filesize_approx"`
}

// Probe queries media metadata without downloading.
func (f *YtDlpFetcher) Probe(ctx context.Context, sourceRef string) (media.Metadata, error) {
	var meta media.Metadata
	out, err := f.run(ctx,
		"--dump-single-json",
		"--no-download",
		"--no-warnings",
		sourceRef,
	)
	if err != nil {
		return meta, classifyYtDlpError("probe", err)
	}

	var payload probePayload
	if err := json.Unmarshal(out, &payload); err != nil {
		return meta, services.Wrap(services.ErrMalformedResponse, "retrieving", "probe", "parse yt-dlp metadata", err)
	}

	meta.Title = strings.TrimSpace(payload.Title)
	meta.Format = strings.TrimSpace(payload.Ext)
	meta.Duration = time.Duration(payload.Duration * float64(time.Second))
	meta.SizeBytes = payload.Filesize
	if meta.SizeBytes == 0 {
		meta.SizeBytes = payload.FilesizeApprox
	}
	return meta, nil
}

// Download fetches the media into destDir and returns the downloaded path.
func (f *YtDlpFetcher) Download(ctx context.Context, sourceRef, destDir string) (string, media.Metadata, error) {
	var meta media.Metadata
	template := filepath.Join(destDir, "media.%(ext)s")
	_, err := f.run(ctx,
		"--format", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best",
		"--merge-output-format", "mp4",
		"--no-warnings",
		"--output", template,
		sourceRef,
	)
	if err != nil {
		return "", meta, classifyYtDlpError("download", err)
	}

	// yt-dlp may pick a different container than requested; take whatever
	// single file landed in the scoped directory.
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", meta, services.Wrap(services.ErrNetwork, "retrieving", "download", "inspect download dir", err)
	}
	var path string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if path != "" {
			return "", meta, services.Wrap(services.ErrMalformedResponse, "retrieving", "download", "multiple files downloaded", nil)
		}
		path = filepath.Join(destDir, e.Name())
	}
	if path == "" {
		return "", meta, services.Wrap(services.ErrUnavailable, "retrieving", "download", "no file produced", nil)
	}

	if info, err := os.Stat(path); err == nil {
		meta.SizeBytes = info.Size()
	}
	meta.Format = strings.TrimPrefix(filepath.Ext(path), ".")
	return path, meta, nil
}

func (f *YtDlpFetcher) run(ctx context.Context, args ...string) ([]byte, error) {
	if f.commandOutput != nil {
		return f.commandOutput(ctx, f.binary, args...)
	}
	cmd := exec.CommandContext(ctx, f.binary, args...) //nolint:gosec
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s: %w: %s", f.binary, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s: %w", f.binary, err)
	}
	return out, nil
}

// classifyYtDlpError maps yt-dlp failure text onto the capability sentinels.
// Removed and private videos are permanent; everything else is assumed to be
// a transient network problem worth retrying.
func classifyYtDlpError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "has been removed"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "404"):
		return services.Wrap(services.ErrUnavailable, "retrieving", op, "source removed or missing", err)
	case strings.Contains(msg, "private video"),
		strings.Contains(msg, "sign in"),
		strings.Contains(msg, "age-restricted"),
		strings.Contains(msg, "not available in your country"),
		strings.Contains(msg, "geo restricted"):
		return services.Wrap(services.ErrBlocked, "retrieving", op, "source blocked or restricted", err)
	default:
		return services.Wrap(services.ErrNetwork, "retrieving", op, "yt-dlp failed", err)
	}
}
