package retriever

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/media"
	"arbiter/internal/services"
)

type fakeFetcher struct {
	probeMeta    media.Metadata
	probeErr     error
	probeErrs    []error
	downloadErr  error
	downloadErrs []error
	probeCalls   int
	downloads    int
}

func (f *fakeFetcher) Probe(ctx context.Context, sourceRef string) (media.Metadata, error) {
	f.probeCalls++
	if len(f.probeErrs) > 0 {
		err := f.probeErrs[0]
		f.probeErrs = f.probeErrs[1:]
		if err != nil {
			return media.Metadata{}, err
		}
		return f.probeMeta, nil
	}
	if f.probeErr != nil {
		return media.Metadata{}, f.probeErr
	}
	return f.probeMeta, nil
}

func (f *fakeFetcher) Download(ctx context.Context, sourceRef, destDir string) (string, media.Metadata, error) {
	f.downloads++
	if len(f.downloadErrs) > 0 {
		err := f.downloadErrs[0]
		f.downloadErrs = f.downloadErrs[1:]
		if err != nil {
			return "", media.Metadata{}, err
		}
	} else if f.downloadErr != nil {
		return "", media.Metadata{}, f.downloadErr
	}
	path := filepath.Join(destDir, "media.mp4")
	if err := os.WriteFile(path, []byte("fake video bytes"), 0o644); err != nil {
		return "", media.Metadata{}, err
	}
	return path, media.Metadata{Format: "mp4", Duration: f.probeMeta.Duration}, nil
}

func testRetriever(f Fetcher) *Retriever {
	cfg := config.Retriever{
		MaxSizeMiB:         1,
		MaxDurationMinutes: 10,
		RetryAttempts:      3,
		RetryBaseDelayMS:   1,
		RetryMaxDelayMS:    2,
	}
	r := New(f, cfg, nil)
	r.sleeper = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestFetchSuccess(t *testing.T) {
	fake := &fakeFetcher{probeMeta: media.Metadata{Title: "demo", Duration: 5 * time.Minute}}
	r := testRetriever(fake)

	raw, release, err := r.Fetch(context.Background(), "https://example.com/v/1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer release()

	if raw.Path == "" {
		t.Fatal("expected media path")
	}
	if _, err := os.Stat(raw.Path); err != nil {
		t.Fatalf("expected downloaded file: %v", err)
	}
	if raw.Meta.SizeBytes == 0 {
		t.Error("expected size populated from downloaded file")
	}

	release()
	if _, err := os.Stat(raw.Path); !os.IsNotExist(err) {
		t.Error("expected release to remove temp storage")
	}
}

func TestFetchRejectsUnsupportedScheme(t *testing.T) {
	r := testRetriever(&fakeFetcher{})
	for _, ref := range []string{"", "ftp://example.com/v", "file:///etc/passwd"} {
		if _, _, err := r.Fetch(context.Background(), ref); !errors.Is(err, services.ErrValidation) {
			t.Errorf("Fetch(%q) = %v, want validation error", ref, err)
		}
	}
}

func TestFetchTooLargeRejectedBeforeDownload(t *testing.T) {
	fake := &fakeFetcher{probeMeta: media.Metadata{Duration: 60 * time.Minute}}
	r := testRetriever(fake)

	_, _, err := r.Fetch(context.Background(), "https://example.com/v/long")
	if !errors.Is(err, services.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if fake.downloads != 0 {
		t.Errorf("download attempted %d times despite probe rejection", fake.downloads)
	}
}

func TestFetchRetriesTransientThenSucceeds(t *testing.T) {
	transient := services.Wrap(services.ErrNetwork, "retrieving", "probe", "flaky", nil)
	fake := &fakeFetcher{
		probeMeta: media.Metadata{Duration: time.Minute},
		probeErrs: []error{transient, transient, nil},
	}
	r := testRetriever(fake)

	_, release, err := r.Fetch(context.Background(), "https://example.com/v/1")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	release()
	if fake.probeCalls != 3 {
		t.Errorf("probe called %d times, want 3", fake.probeCalls)
	}
}

func TestFetchPermanentFailureNotRetried(t *testing.T) {
	fake := &fakeFetcher{probeErr: services.Wrap(services.ErrUnavailable, "retrieving", "probe", "removed", nil)}
	r := testRetriever(fake)

	_, _, err := r.Fetch(context.Background(), "https://example.com/v/gone")
	if !errors.Is(err, services.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if fake.probeCalls != 1 {
		t.Errorf("probe called %d times, want 1 (no retry)", fake.probeCalls)
	}
}

func TestFetchCleansUpOnDownloadFailure(t *testing.T) {
	fake := &fakeFetcher{
		probeMeta:   media.Metadata{Duration: time.Minute},
		downloadErr: services.Wrap(services.ErrBlocked, "retrieving", "download", "geo", nil),
	}
	r := testRetriever(fake)

	_, _, err := r.Fetch(context.Background(), "https://example.com/v/1")
	if !errors.Is(err, services.ErrBlocked) {
		t.Fatalf("expected ErrBlocked, got %v", err)
	}
}

func TestFetchRetryExhaustionSurfacesLastError(t *testing.T) {
	transient := services.Wrap(services.ErrTimeout, "retrieving", "probe", "slow upstream", nil)
	fake := &fakeFetcher{probeErrs: []error{transient, transient, transient}}
	r := testRetriever(fake)

	_, _, err := r.Fetch(context.Background(), "https://example.com/v/1")
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected ErrTimeout after exhaustion, got %v", err)
	}
	if fake.probeCalls != 3 {
		t.Errorf("probe called %d times, want 3", fake.probeCalls)
	}
}

func TestClassifyYtDlpError(t *testing.T) {
	cases := []struct {
		msg  string
		want error
	}{
		{"ERROR: Video unavailable", services.ErrUnavailable},
		{"ERROR: Private video. Sign in if you've been granted access", services.ErrBlocked},
		{"ERROR: This video is not available in your country", services.ErrBlocked},
		{"connection reset by peer", services.ErrNetwork},
	}
	for _, tc := range cases {
		got := classifyYtDlpError("probe", errors.New(tc.msg))
		if !errors.Is(got, tc.want) {
			t.Errorf("classify(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}
