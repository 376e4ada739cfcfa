// Package media stores binary payloads content-addressed by fingerprint.
//
// Each distinct byte sequence is written to disk once. Later stores of the
// same bytes only bump the artifact's reference count in the index.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"CreatorScanner/internal/domain"
	"CreatorScanner/internal/hasher"
	"CreatorScanner/internal/ports"
)

const lockStripes = 256

// Option customises a Store.
type Option func(*Store)

// WithMaxBytes rejects payloads larger than n bytes. Zero disables the limit.
func WithMaxBytes(n int64) Option {
	return func(s *Store) { s.maxBytes = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithObserver registers a callback invoked after every successful store.
func WithObserver(fn func(deduplicated bool)) Option {
	return func(s *Store) { s.observe = fn }
}

// Store is the deduplicating media store.
type Store struct {
	root     string
	hasher   *hasher.Hasher
	repo     ports.ArtifactRepository
	maxBytes int64
	logger   *slog.Logger
	observe  func(deduplicated bool)

	locks [lockStripes]sync.Mutex
}

// New prepares the media root and returns a store writing below it.
func New(root string, h *hasher.Hasher, repo ports.ArtifactRepository, opts ...Option) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: media root is empty", domain.ErrValidation)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create media root %s: %w", domain.ErrIO, root, err)
	}

	s := &Store{
		root:   root,
		hasher: h,
		repo:   repo,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "media")
	return s, nil
}

// Root returns the directory artifacts are stored under.
func (s *Store) Root() string {
	return s.root
}

// Store persists data at most once and returns a handle to the shared file.
func (s *Store) Store(ctx context.Context, data []byte, declared domain.MediaType) (domain.MediaHandle, error) {
	if len(data) == 0 {
		return domain.MediaHandle{}, fmt.Errorf("%w: empty media payload", domain.ErrValidation)
	}
	if err := declared.Validate(); err != nil {
		return domain.MediaHandle{}, err
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return domain.MediaHandle{}, fmt.Errorf("%w: payload of %d bytes exceeds limit %d",
			domain.ErrValidation, len(data), s.maxBytes)
	}

	fingerprint := s.hasher.Sum(data)
	mu := s.lockFor(fingerprint)
	mu.Lock()
	defer mu.Unlock()

	existing, err := s.repo.AcquireArtifact(ctx, fingerprint)
	if err == nil {
		s.logger.Debug("media deduplicated", slog.String("fingerprint", fingerprint), slog.Int("refs", existing.RefCount))
		return s.done(existing, true), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.MediaHandle{}, fmt.Errorf("acquire artifact: %w", err)
	}

	kind := mimetype.Detect(data)
	rel, err := relativePath(fingerprint, kind.Extension())
	if err != nil {
		return domain.MediaHandle{}, err
	}
	if err := s.writeFile(rel, data); err != nil {
		return domain.MediaHandle{}, err
	}

	artifact, inserted, err := s.repo.InsertArtifact(ctx, domain.Artifact{
		Fingerprint: fingerprint,
		Path:        rel,
		Size:        int64(len(data)),
		Type:        declared,
		MIME:        kind.String(),
	})
	if err != nil {
		// The written file stays as an unindexed orphan and is reused by the next store.
		return domain.MediaHandle{}, fmt.Errorf("insert artifact: %w", err)
	}

	s.logger.Debug("media stored",
		slog.String("fingerprint", fingerprint),
		slog.String("path", rel),
		slog.Bool("inserted", inserted),
	)
	return s.done(artifact, !inserted), nil
}

// Release drops one reference. Files are never deleted here.
func (s *Store) Release(ctx context.Context, h domain.MediaHandle) (domain.MediaHandle, error) {
	artifact, err := s.repo.ReleaseArtifact(ctx, h.Fingerprint)
	if err != nil {
		return domain.MediaHandle{}, fmt.Errorf("release artifact: %w", err)
	}
	if artifact.RefCount == 0 {
		s.logger.Info("media unreferenced", slog.String("fingerprint", artifact.Fingerprint))
	}
	return s.handle(artifact, false), nil
}

// Lookup returns the handle for an already stored fingerprint.
func (s *Store) Lookup(ctx context.Context, fingerprint string) (domain.MediaHandle, error) {
	artifact, err := s.repo.Artifact(ctx, fingerprint)
	if err != nil {
		return domain.MediaHandle{}, fmt.Errorf("get artifact: %w", err)
	}
	return s.handle(artifact, false), nil
}

// Open opens the stored file behind the handle. Callers close it.
func (s *Store) Open(ctx context.Context, h domain.MediaHandle) (*os.File, error) {
	artifact, err := s.repo.Artifact(ctx, h.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	f, err := os.Open(s.FullPath(artifact.Path))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", domain.ErrIO, artifact.Path, err)
	}
	return f, nil
}

// Unreferenced lists artifacts with no remaining references.
func (s *Store) Unreferenced(ctx context.Context, limit int) ([]domain.MediaHandle, error) {
	artifacts, err := s.repo.UnreferencedArtifacts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list unreferenced: %w", err)
	}
	out := make([]domain.MediaHandle, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, s.handle(a, false))
	}
	return out, nil
}

// FullPath resolves a path relative to the media root.
func (s *Store) FullPath(rel string) string {
	return filepath.Join(s.root, rel)
}

func (s *Store) done(a domain.Artifact, deduplicated bool) domain.MediaHandle {
	if s.observe != nil {
		s.observe(deduplicated)
	}
	return s.handle(a, deduplicated)
}

func (s *Store) handle(a domain.Artifact, deduplicated bool) domain.MediaHandle {
	h := domain.HandleFor(a, deduplicated)
	h.Path = s.FullPath(a.Path)
	return h
}

func (s *Store) lockFor(fingerprint string) *sync.Mutex {
	var sum uint32
	for i := 0; i < len(fingerprint); i++ {
		sum = sum*31 + uint32(fingerprint[i])
	}
	return &s.locks[sum%lockStripes]
}

// relativePath fans files out as <algorithm>/ab/cd/<digest><ext>.
func relativePath(fingerprint, ext string) (string, error) {
	algorithm, digest, err := hasher.Split(fingerprint)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if len(digest) < 4 {
		return "", fmt.Errorf("%w: short digest in %s", domain.ErrValidation, fingerprint)
	}
	return filepath.Join(algorithm, digest[:2], digest[2:4], digest+ext), nil
}

// writeFile writes through a temp file, fsyncs and renames into place.
// An existing file of the right size is kept as is.
func (s *Store) writeFile(rel string, data []byte) error {
	full := s.FullPath(rel)
	if info, err := os.Stat(full); err == nil && info.Size() == int64(len(data)) {
		return nil
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: create dir %s: %w", domain.ErrIO, dir, err)
	}

	tmp := filepath.Join(dir, ".tmp-"+uuid.NewString())
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", domain.ErrIO, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: write %s: %w", domain.ErrIO, rel, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: fsync %s: %w", domain.ErrIO, rel, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: close %s: %w", domain.ErrIO, rel, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: rename into %s: %w", domain.ErrIO, rel, err)
	}
	return nil
}
