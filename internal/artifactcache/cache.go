package artifactcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"arbiter/internal/config"
	"arbiter/internal/logging"
	"arbiter/internal/media"
)

const entryFile = "entry.json"

// Store is a fingerprint-keyed artifact cache on disk. Backend failures are
// logged and reported as misses; the cache never blocks the pipeline.
type Store struct {
	root     string
	maxBytes int64
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

type entry struct {
	Fingerprint string             `json:"fingerprint"`
	CreatedAt   time.Time          `json:"created_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
	Artifacts   []artifactManifest `json:"artifacts"`
}

type artifactManifest struct {
	Kind    media.ArtifactKind `json:"kind"`
	Ordinal int                `json:"ordinal"`
	Start   time.Duration      `json:"start"`
	End     time.Duration      `json:"end"`
	MIME    string             `json:"mime"`
	File    string             `json:"file"`
	Digest  string             `json:"digest"`
}

// New builds a cache store when enabled; returns nil when caching is disabled
// or misconfigured. A nil *Store is safe to use and always misses.
func New(cfg *config.Config, logger *slog.Logger) *Store {
	if cfg == nil || !cfg.Cache.Enabled {
		return nil
	}
	root := strings.TrimSpace(cfg.Cache.Dir)
	if root == "" || cfg.Cache.MaxMiB <= 0 {
		return nil
	}
	return &Store{
		root:     root,
		maxBytes: cfg.Cache.MaxMiB * 1024 * 1024,
		ttl:      time.Duration(cfg.Cache.TTLHours) * time.Hour,
		logger:   logging.NewComponentLogger(logger, "artifactcache"),
		now:      time.Now,
	}
}

// Get returns the cached artifact set for fingerprint, or a miss. Expired
// entries are removed on access.
func (s *Store) Get(ctx context.Context, fp string) ([]media.Artifact, bool) {
	if s == nil || strings.TrimSpace(fp) == "" {
		return nil, false
	}
	dir := filepath.Join(s.root, fp)
	data, err := os.ReadFile(filepath.Join(dir, entryFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.WarnContext(ctx, "cache read failed; treating as miss",
				logging.String("fingerprint", fp), logging.Error(err))
		}
		return nil, false
	}

	var ent entry
	if err := json.Unmarshal(data, &ent); err != nil {
		s.logger.WarnContext(ctx, "cache entry corrupt; treating as miss",
			logging.String("fingerprint", fp), logging.Error(err))
		_ = os.RemoveAll(dir)
		return nil, false
	}
	if s.now().After(ent.ExpiresAt) {
		_ = os.RemoveAll(dir)
		return nil, false
	}

	artifacts := make([]media.Artifact, 0, len(ent.Artifacts))
	for _, m := range ent.Artifacts {
		payload, err := os.ReadFile(filepath.Join(dir, m.File))
		if err != nil {
			s.logger.WarnContext(ctx, "cache payload unreadable; treating as miss",
				logging.String("fingerprint", fp), logging.Error(err))
			return nil, false
		}
		if media.DigestBytes(payload) != m.Digest {
			s.logger.WarnContext(ctx, "cache payload digest mismatch; treating as miss",
				logging.String("fingerprint", fp), logging.Int("ordinal", m.Ordinal))
			_ = os.RemoveAll(dir)
			return nil, false
		}
		artifacts = append(artifacts, media.Artifact{
			Kind:    m.Kind,
			Ordinal: m.Ordinal,
			Start:   m.Start,
			End:     m.End,
			MIME:    m.MIME,
			Payload: payload,
			Digest:  m.Digest,
		})
	}

	// Refresh mtime so LRU pruning keeps hot entries.
	now := s.now()
	_ = os.Chtimes(dir, now, now)
	return artifacts, true
}

// Put stores an artifact set under fingerprint. Failures are logged and
// swallowed; a Put that returns normally may still not have cached anything.
func (s *Store) Put(ctx context.Context, fp string, artifacts []media.Artifact) {
	if s == nil || strings.TrimSpace(fp) == "" || len(artifacts) == 0 {
		return
	}
	if err := s.put(fp, artifacts); err != nil {
		s.logger.WarnContext(ctx, "cache write failed",
			logging.String("fingerprint", fp), logging.Error(err))
		return
	}
	if err := s.prune(fp); err != nil {
		s.logger.WarnContext(ctx, "cache prune failed", logging.Error(err))
	}
}

func (s *Store) put(fp string, artifacts []media.Artifact) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("ensure cache root: %w", err)
	}
	tmp, err := os.MkdirTemp(s.root, "put-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	now := s.now()
	ent := entry{
		Fingerprint: fp,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		Artifacts:   make([]artifactManifest, 0, len(artifacts)),
	}
	for _, a := range artifacts {
		name := fmt.Sprintf("%04d.%s", a.Ordinal, extensionFor(a))
		if err := os.WriteFile(filepath.Join(tmp, name), a.Payload, 0o644); err != nil {
			return fmt.Errorf("write payload %s: %w", name, err)
		}
		ent.Artifacts = append(ent.Artifacts, artifactManifest{
			Kind:    a.Kind,
			Ordinal: a.Ordinal,
			Start:   a.Start,
			End:     a.End,
			MIME:    a.MIME,
			File:    name,
			Digest:  a.Digest,
		})
	}

	data, err := json.MarshalIndent(ent, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, entryFile), data, 0o644); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}

	dest := filepath.Join(s.root, fp)
	if err := os.RemoveAll(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove existing entry: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("publish entry: %w", err)
	}
	return nil
}

// Stats describes current cache usage.
type Stats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
	MaxBytes   int64 `json:"max_bytes"`
}

// Stats reports entry count and byte usage.
func (s *Store) Stats() (Stats, error) {
	if s == nil {
		return Stats{}, nil
	}
	entries, err := s.scan()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Entries: len(entries), MaxBytes: s.maxBytes}
	for _, e := range entries {
		stats.TotalBytes += e.size
	}
	return stats, nil
}

// Prune removes expired entries, then least-recently-used entries until the
// cache fits the byte budget.
func (s *Store) Prune() error {
	if s == nil {
		return nil
	}
	return s.prune("")
}

type scannedEntry struct {
	dir     string
	size    int64
	modTime time.Time
	expired bool
}

func (s *Store) scan() ([]scannedEntry, error) {
	dirs, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan cache root: %w", err)
	}

	now := s.now()
	var out []scannedEntry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, d.Name())
		info, err := d.Info()
		if err != nil {
			continue
		}
		se := scannedEntry{dir: dir, modTime: info.ModTime()}

		data, err := os.ReadFile(filepath.Join(dir, entryFile))
		if err != nil {
			se.expired = true
		} else {
			var ent entry
			if err := json.Unmarshal(data, &ent); err != nil || now.After(ent.ExpiresAt) {
				se.expired = true
			}
		}
		se.size = dirSize(dir)
		out = append(out, se)
	}
	return out, nil
}

func (s *Store) prune(keep string) error {
	entries, err := s.scan()
	if err != nil {
		return err
	}

	keepDir := ""
	if keep != "" {
		keepDir = filepath.Join(s.root, keep)
	}

	var total int64
	live := entries[:0]
	for _, e := range entries {
		if e.expired && e.dir != keepDir {
			_ = os.RemoveAll(e.dir)
			continue
		}
		total += e.size
		live = append(live, e)
	}

	if total <= s.maxBytes {
		return nil
	}

	sort.Slice(live, func(i, j int) bool { return live[i].modTime.Before(live[j].modTime) })
	for _, e := range live {
		if total <= s.maxBytes {
			break
		}
		if e.dir == keepDir {
			continue
		}
		if err := os.RemoveAll(e.dir); err != nil {
			return fmt.Errorf("evict %s: %w", e.dir, err)
		}
		total -= e.size
	}
	return nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

func extensionFor(a media.Artifact) string {
	switch a.Kind {
	case media.KindFrame:
		return "jpg"
	case media.KindAudio:
		return "wav"
	case media.KindText:
		return "txt"
	default:
		return "bin"
	}
}
