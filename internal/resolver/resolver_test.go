package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CreatorScanner/internal/domain"
	"CreatorScanner/internal/infrastructure/storage/memory"
	"CreatorScanner/internal/ports"
)

type countingRepo struct {
	ports.SourceRepository
	finds int
}

func (c *countingRepo) FindSource(ctx context.Context, platform, nativeID string) (domain.SourceHandle, error) {
	c.finds++
	return c.SourceRepository.FindSource(ctx, platform, nativeID)
}

// racingRepo never sees the source on lookup, as if another worker created it
// between our lookup and our insert.
type racingRepo struct {
	ports.SourceRepository
}

func (racingRepo) FindSource(context.Context, string, string) (domain.SourceHandle, error) {
	return domain.SourceHandle{}, domain.ErrNotFound
}

func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	r := New(store, WithCache(0, 0))

	first, err := r.Resolve(ctx, "patreon", "astrobymax", "Astro By Max")
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := r.Resolve(ctx, "patreon", "astrobymax", "Astro By Max")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.SourceID, second.SourceID)
	assert.Equal(t, first.CreatorID, second.CreatorID)
	assert.Equal(t, 1, store.Creators())

	sources, err := r.Sources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 1)
}

func TestResolveReusesCreatorAcrossPlatforms(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	r := New(store)

	patreon, err := r.Resolve(ctx, "patreon", "astrobymax", "Astro By Max")
	require.NoError(t, err)
	youtube, err := r.ResolveSource(ctx, domain.NewSource{
		Platform:    "youtube",
		NativeID:    "UC123",
		ProfileURL:  "https://youtube.example/UC123",
		CreatorName: "Astro By Max",
	})
	require.NoError(t, err)

	assert.Equal(t, patreon.CreatorID, youtube.CreatorID)
	assert.NotEqual(t, patreon.SourceID, youtube.SourceID)
	assert.Equal(t, "https://youtube.example/UC123", youtube.ProfileURL)
	assert.Equal(t, 1, store.Creators())
}

func TestResolveEmptyHintUsesNativeID(t *testing.T) {
	t.Parallel()

	h, err := New(memory.New()).Resolve(context.Background(), "patreon", "astrobymax", "  ")
	require.NoError(t, err)
	assert.Equal(t, "astrobymax", h.CreatorName)
}

func TestResolveValidatesInput(t *testing.T) {
	t.Parallel()

	r := New(memory.New())
	for _, tc := range []struct{ platform, id string }{{"", "x"}, {"patreon", ""}, {" ", " "}} {
		_, err := r.Resolve(context.Background(), tc.platform, tc.id, "name")
		require.ErrorIs(t, err, domain.ErrValidation)
	}
}

func TestResolveReportsCreateRaceAsConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.New()
	_, err := New(store).Resolve(ctx, "patreon", "astrobymax", "Astro By Max")
	require.NoError(t, err)

	_, err = New(racingRepo{store}).Resolve(ctx, "patreon", "astrobymax", "Astro By Max")
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.True(t, domain.IsAlreadyDone(err))
}

func TestResolveCachesHandles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := &countingRepo{SourceRepository: memory.New()}
	r := New(repo, WithCache(16, time.Minute))

	created, err := r.Resolve(ctx, "patreon", "astrobymax", "")
	require.NoError(t, err)
	for range 3 {
		h, err := r.Resolve(ctx, "patreon", "astrobymax", "")
		require.NoError(t, err)
		assert.Equal(t, created.SourceID, h.SourceID)
		assert.False(t, h.Created)
	}
	assert.Equal(t, 1, repo.finds)

	require.NoError(t, r.Deactivate(ctx, created))
	active, err := r.ActiveSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	h, err := r.Resolve(ctx, "patreon", "astrobymax", "")
	require.NoError(t, err)
	assert.False(t, h.Active)
	assert.Equal(t, 2, repo.finds)

	require.NoError(t, r.Activate(ctx, created))
	require.NoError(t, r.MarkScanned(ctx, created.SourceID, time.Now()))
	active, err = r.ActiveSources(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestResolvePropagatesStorageFailures(t *testing.T) {
	t.Parallel()

	r := New(failingRepo{})
	_, err := r.Resolve(context.Background(), "patreon", "x", "")
	require.ErrorIs(t, err, domain.ErrStorage)
}

type failingRepo struct {
	ports.SourceRepository
}

func (failingRepo) FindSource(context.Context, string, string) (domain.SourceHandle, error) {
	return domain.SourceHandle{}, errors.Join(domain.ErrStorage, errors.New("db down"))
}
