// Package resolver maps a (platform, native id) pair to a tracked Source,
// creating the owning Creator on first sight.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"CreatorScanner/internal/domain"
	"CreatorScanner/internal/ports"
)

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 10 * time.Minute
)

type sourceKey struct {
	platform string
	nativeID string
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithCache sizes the handle cache. A size of zero disables caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cacheSize = size
		r.cacheTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// Resolver is the source lookup-or-create service.
type Resolver struct {
	repo      ports.SourceRepository
	logger    *slog.Logger
	cacheSize int
	cacheTTL  time.Duration
	cache     *expirable.LRU[sourceKey, domain.SourceHandle]
}

// New builds a Resolver over the source repository.
func New(repo ports.SourceRepository, opts ...Option) *Resolver {
	r := &Resolver{
		repo:      repo,
		logger:    slog.Default(),
		cacheSize: defaultCacheSize,
		cacheTTL:  defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "resolver")
	if r.cacheSize > 0 {
		r.cache = expirable.NewLRU[sourceKey, domain.SourceHandle](r.cacheSize, nil, r.cacheTTL)
	}
	return r
}

// Resolve returns the Source for (platform, nativeID), creating it and, when no
// Creator named nameHint exists yet, its Creator. An empty hint names the
// creator after nativeID. A lost creation race surfaces as domain.ErrConflict;
// the caller should resolve again instead of retrying the create.
func (r *Resolver) Resolve(ctx context.Context, platform, nativeID, nameHint string) (domain.SourceHandle, error) {
	return r.ResolveSource(ctx, domain.NewSource{Platform: platform, NativeID: nativeID, CreatorName: nameHint})
}

// ResolveSource is Resolve that also records the profile URL when the source is created.
func (r *Resolver) ResolveSource(ctx context.Context, src domain.NewSource) (domain.SourceHandle, error) {
	src.Platform = strings.TrimSpace(src.Platform)
	src.NativeID = strings.TrimSpace(src.NativeID)
	if src.Platform == "" || src.NativeID == "" {
		return domain.SourceHandle{}, fmt.Errorf("%w: platform and native id are required", domain.ErrValidation)
	}

	key := sourceKey{src.Platform, src.NativeID}
	if h, ok := r.cached(key); ok {
		return h, nil
	}

	h, err := r.repo.FindSource(ctx, src.Platform, src.NativeID)
	if err == nil {
		r.remember(key, h)
		return h, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.SourceHandle{}, fmt.Errorf("find source: %w", err)
	}

	src.CreatorName = strings.TrimSpace(src.CreatorName)
	if src.CreatorName == "" {
		src.CreatorName = src.NativeID
	}

	h, err = r.repo.CreateSource(ctx, src)
	if err != nil {
		return domain.SourceHandle{}, fmt.Errorf("create source %s/%s: %w", src.Platform, src.NativeID, err)
	}

	r.logger.Info("source created",
		slog.String("platform", src.Platform),
		slog.String("native_id", src.NativeID),
		slog.String("creator", h.CreatorName),
		slog.Int64("source_id", h.SourceID),
	)

	cached := h
	cached.Created = false
	r.remember(key, cached)
	return h, nil
}

// MarkScanned stamps the source's last scan time.
func (r *Resolver) MarkScanned(ctx context.Context, sourceID int64, at time.Time) error {
	if err := r.repo.MarkSourceScanned(ctx, sourceID, at); err != nil {
		return fmt.Errorf("mark source scanned: %w", err)
	}
	return nil
}

// Deactivate stops the source from being scheduled. Its history is kept.
func (r *Resolver) Deactivate(ctx context.Context, h domain.SourceHandle) error {
	if err := r.repo.SetSourceActive(ctx, h.SourceID, false); err != nil {
		return fmt.Errorf("deactivate source: %w", err)
	}
	r.forget(sourceKey{h.Platform, h.NativeID})
	return nil
}

// Activate re-enables a deactivated source.
func (r *Resolver) Activate(ctx context.Context, h domain.SourceHandle) error {
	if err := r.repo.SetSourceActive(ctx, h.SourceID, true); err != nil {
		return fmt.Errorf("activate source: %w", err)
	}
	r.forget(sourceKey{h.Platform, h.NativeID})
	return nil
}

// ActiveSources lists sources eligible for scanning.
func (r *Resolver) ActiveSources(ctx context.Context) ([]domain.SourceHandle, error) {
	sources, err := r.repo.ListSources(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list active sources: %w", err)
	}
	return sources, nil
}

// Sources lists every source, active or not.
func (r *Resolver) Sources(ctx context.Context) ([]domain.SourceHandle, error) {
	sources, err := r.repo.ListSources(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return sources, nil
}

func (r *Resolver) cached(key sourceKey) (domain.SourceHandle, bool) {
	if r.cache == nil {
		return domain.SourceHandle{}, false
	}
	return r.cache.Get(key)
}

func (r *Resolver) remember(key sourceKey, h domain.SourceHandle) {
	if r.cache != nil {
		r.cache.Add(key, h)
	}
}

func (r *Resolver) forget(key sourceKey) {
	if r.cache != nil {
		r.cache.Remove(key)
	}
}
