// Package storagetest holds the behavioural contract every ports.Store must satisfy.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CreatorScanner/internal/domain"
	"CreatorScanner/internal/ports"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) ports.Store

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("sources", func(t *testing.T) { testSources(t, newStore(t)) })
	t.Run("items", func(t *testing.T) { testItems(t, newStore(t)) })
	t.Run("phases and attempts", func(t *testing.T) { testPhases(t, newStore(t)) })
	t.Run("pending pages", func(t *testing.T) { testPending(t, newStore(t)) })
	t.Run("attempt budget per phase", func(t *testing.T) { testPhaseBudget(t, newStore(t)) })
	t.Run("reporting", func(t *testing.T) { testReporting(t, newStore(t)) })
	t.Run("artifacts", func(t *testing.T) { testArtifacts(t, newStore(t)) })
	t.Run("media links and collections", func(t *testing.T) { testLinks(t, newStore(t)) })
}

func seedSource(t *testing.T, s ports.Store, platform, nativeID, creator string) domain.SourceHandle {
	t.Helper()
	h, err := s.CreateSource(context.Background(), domain.NewSource{
		Platform:    platform,
		NativeID:    nativeID,
		ProfileURL:  "https://" + platform + ".example/" + nativeID,
		CreatorName: creator,
	})
	require.NoError(t, err)
	return h
}

func seedItem(t *testing.T, s ports.Store, sourceID int64, nativeID string) domain.ItemHandle {
	t.Helper()
	h, err := s.CreateItem(context.Background(), sourceID, nativeID, "https://example/"+nativeID, base)
	require.NoError(t, err)
	return h
}

func testSources(t *testing.T, s ports.Store) {
	ctx := context.Background()

	_, err := s.FindSource(ctx, "patreon", "astrobymax")
	require.ErrorIs(t, err, domain.ErrNotFound)

	first := seedSource(t, s, "patreon", "astrobymax", "Astro By Max")
	assert.True(t, first.Created)
	assert.True(t, first.Active)
	assert.NotZero(t, first.SourceID)
	assert.NotZero(t, first.CreatorID)

	found, err := s.FindSource(ctx, "patreon", "astrobymax")
	require.NoError(t, err)
	assert.Equal(t, first.SourceID, found.SourceID)
	assert.Equal(t, "Astro By Max", found.CreatorName)
	assert.False(t, found.Created)

	_, err = s.CreateSource(ctx, domain.NewSource{Platform: "patreon", NativeID: "astrobymax", CreatorName: "Other"})
	require.ErrorIs(t, err, domain.ErrConflict)

	// same creator name on another platform reuses the creator
	second := seedSource(t, s, "youtube", "astrobymax", "Astro By Max")
	assert.Equal(t, first.CreatorID, second.CreatorID)
	assert.NotEqual(t, first.SourceID, second.SourceID)

	require.NoError(t, s.SetSourceActive(ctx, second.SourceID, false))
	require.NoError(t, s.MarkSourceScanned(ctx, first.SourceID, base))
	require.ErrorIs(t, s.SetSourceActive(ctx, 9999, false), domain.ErrNotFound)
	require.ErrorIs(t, s.MarkSourceScanned(ctx, 9999, base), domain.ErrNotFound)

	active, err := s.ListSources(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, first.SourceID, active[0].SourceID)

	all, err := s.ListSources(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func testItems(t *testing.T, s ports.Store) {
	ctx := context.Background()
	src := seedSource(t, s, "patreon", "astrobymax", "Astro By Max")

	_, err := s.CreateItem(ctx, 9999, "p1", "", base)
	require.ErrorIs(t, err, domain.ErrNotFound)

	item := seedItem(t, s, src.SourceID, "p1")
	assert.Equal(t, "p1", item.NativeID)

	_, err = s.CreateItem(ctx, src.SourceID, "p1", "", base)
	require.ErrorIs(t, err, domain.ErrDuplicateItem)

	seedItem(t, s, src.SourceID, "p2")
	known, err := s.KnownNativeIDs(ctx, src.SourceID, []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"p1": true, "p2": true}, known)

	status, err := s.ItemStatus(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, status.Discovery.Complete)
	assert.Zero(t, status.AttemptCount)
	assert.Empty(t, status.Errors)

	published := base.Add(-time.Hour)
	require.NoError(t, s.UpdateItemDetail(ctx, item.ID, domain.ItemDetail{
		Title:       "Episode 1",
		Body:        "text",
		Content:     []byte(`{"k":"v"}`),
		PublishedAt: published,
	}))
	got, err := s.Item(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Episode 1", got.Title)
	assert.JSONEq(t, `{"k":"v"}`, string(got.Content))
	assert.True(t, got.PublishedAt.Equal(published))
	assert.True(t, got.DeletedAt.IsZero())

	require.NoError(t, s.SetLegacySnapshot(ctx, item.ID, []byte("old-state")))
	status, err = s.ItemStatus(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("old-state"), status.LegacySnapshot)

	require.NoError(t, s.SoftDeleteItem(ctx, item.ID, base))
	require.NoError(t, s.SoftDeleteItem(ctx, item.ID, base.Add(time.Hour)))
	got, err = s.Item(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, got.DeletedAt.Equal(base))

	_, err = s.Item(ctx, 9999)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, s.UpdateItemDetail(ctx, 9999, domain.ItemDetail{}), domain.ErrNotFound)
}

func testPhases(t *testing.T, s ports.Store) {
	ctx := context.Background()
	src := seedSource(t, s, "patreon", "astrobymax", "Astro By Max")
	item := seedItem(t, s, src.SourceID, "p1")

	changed, err := s.MarkPhaseComplete(ctx, item.ID, domain.PhaseDiscovery, base)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.MarkPhaseComplete(ctx, item.ID, domain.PhaseDiscovery, base.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.MarkPhaseComplete(ctx, 9999, domain.PhaseDiscovery, base)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.MarkPhaseComplete(ctx, item.ID, domain.Phase("bogus"), base)
	require.ErrorIs(t, err, domain.ErrValidation)

	count, err := s.RecordAttempt(ctx, item.ID, domain.PhaseDetail, nil, base)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = s.RecordAttempt(ctx, item.ID, domain.PhaseDetail, &domain.ErrorRecord{
		Phase: domain.PhaseDetail, Message: "timeout", OccurredAt: base.Add(time.Minute),
	}, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, s.AppendError(ctx, item.ID, domain.ErrorRecord{
		Phase: domain.PhaseDetail, Message: "parse", OccurredAt: base.Add(2 * time.Minute),
	}))

	status, err := s.ItemStatus(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, status.Discovery.Complete)
	assert.True(t, status.Discovery.CompletedAt.Equal(base))
	assert.Equal(t, 2, status.AttemptCount)
	assert.Equal(t, 2, status.Detail.Attempts)
	assert.Zero(t, status.Discovery.Attempts)
	assert.Zero(t, status.Grouping.Attempts)
	assert.True(t, status.LastAttemptAt.Equal(base.Add(time.Minute)))
	require.Len(t, status.Errors, 2)
	assert.Equal(t, "timeout", status.Errors[0].Message)
	assert.Equal(t, "parse", status.Errors[1].Message)
	assert.Equal(t, domain.PhaseDetail, status.Errors[1].Phase)

	_, err = s.RecordAttempt(ctx, 9999, domain.PhaseDetail, nil, base)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.ErrorIs(t, s.AppendError(ctx, 9999, domain.ErrorRecord{}), domain.ErrNotFound)
}

func testPhaseBudget(t *testing.T, s ports.Store) {
	ctx := context.Background()
	src := seedSource(t, s, "patreon", "budget", "Budget")
	item := seedItem(t, s, src.SourceID, "p-1")

	_, err := s.MarkPhaseComplete(ctx, item.ID, domain.PhaseDiscovery, base)
	require.NoError(t, err)
	for range 3 {
		_, err := s.RecordAttempt(ctx, item.ID, domain.PhaseDetail, nil, base)
		require.NoError(t, err)
	}

	detail := domain.PendingQuery{
		SourceID: domain.AllSources, Phase: domain.PhaseDetail, RequirePrior: true, MaxAttempts: 3,
	}
	pending, err := s.PendingItems(ctx, detail)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = s.MarkPhaseComplete(ctx, item.ID, domain.PhaseDetail, base)
	require.NoError(t, err)

	grouping := detail
	grouping.Phase = domain.PhaseGrouping
	pending, err = s.PendingItems(ctx, grouping)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, item.ID, pending[0].ID)
	assert.Equal(t, 3, pending[0].AttemptCount)

	_, err = s.RecordAttempt(ctx, item.ID, domain.PhaseGrouping, nil, base)
	require.NoError(t, err)
	status, err := s.ItemStatus(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, status.AttemptCount)
	assert.Equal(t, 3, status.Detail.Attempts)
	assert.Equal(t, 1, status.Grouping.Attempts)
}

func testPending(t *testing.T, s ports.Store) {
	ctx := context.Background()
	a := seedSource(t, s, "patreon", "a", "A")
	b := seedSource(t, s, "patreon", "b", "B")

	var ids []int64
	for _, n := range []string{"1", "2", "3", "4", "5"} {
		ids = append(ids, seedItem(t, s, a.SourceID, n).ID)
	}
	other := seedItem(t, s, b.SourceID, "x")

	for _, id := range ids[:3] {
		_, err := s.MarkPhaseComplete(ctx, id, domain.PhaseDiscovery, base)
		require.NoError(t, err)
	}
	_, err := s.MarkPhaseComplete(ctx, ids[0], domain.PhaseDetail, base)
	require.NoError(t, err)
	_, err = s.RecordAttempt(ctx, ids[1], domain.PhaseDetail, nil, base)
	require.NoError(t, err)
	_, err = s.RecordAttempt(ctx, ids[1], domain.PhaseDetail, nil, base)
	require.NoError(t, err)
	require.NoError(t, s.SoftDeleteItem(ctx, ids[4], base))

	collect := func(q domain.PendingQuery) []int64 {
		t.Helper()
		page, err := s.PendingItems(ctx, q)
		require.NoError(t, err)
		out := []int64{}
		for _, h := range page {
			out = append(out, h.ID)
		}
		return out
	}

	assert.Equal(t, []int64{ids[1], ids[2], ids[3]},
		collect(domain.PendingQuery{SourceID: a.SourceID, Phase: domain.PhaseDetail}))
	assert.Equal(t, []int64{ids[1], ids[2]},
		collect(domain.PendingQuery{SourceID: a.SourceID, Phase: domain.PhaseDetail, RequirePrior: true}))
	assert.Equal(t, []int64{ids[2]},
		collect(domain.PendingQuery{SourceID: a.SourceID, Phase: domain.PhaseDetail, RequirePrior: true, MaxAttempts: 2}))
	assert.Equal(t, []int64{ids[1]},
		collect(domain.PendingQuery{SourceID: a.SourceID, Phase: domain.PhaseDetail, Limit: 1}))
	assert.Equal(t, []int64{ids[2], ids[3]},
		collect(domain.PendingQuery{SourceID: a.SourceID, Phase: domain.PhaseDetail, AfterID: ids[1]}))
	assert.Equal(t, []int64{ids[1], ids[2], ids[3], other.ID},
		collect(domain.PendingQuery{SourceID: domain.AllSources, Phase: domain.PhaseDetail}))
}

func testReporting(t *testing.T, s ports.Store) {
	ctx := context.Background()
	a := seedSource(t, s, "patreon", "a", "A")
	b := seedSource(t, s, "patreon", "b", "B")
	i1 := seedItem(t, s, a.SourceID, "1")
	i2 := seedItem(t, s, a.SourceID, "2")
	i3 := seedItem(t, s, b.SourceID, "3")

	for _, id := range []int64{i1.ID, i2.ID, i3.ID} {
		_, err := s.MarkPhaseComplete(ctx, id, domain.PhaseDiscovery, base)
		require.NoError(t, err)
	}
	_, err := s.MarkPhaseComplete(ctx, i1.ID, domain.PhaseDetail, base)
	require.NoError(t, err)

	_, err = s.RecordAttempt(ctx, i2.ID, domain.PhaseDetail, &domain.ErrorRecord{
		Phase: domain.PhaseDetail, Message: "older", OccurredAt: base,
	}, base)
	require.NoError(t, err)
	_, err = s.RecordAttempt(ctx, i2.ID, domain.PhaseDetail, &domain.ErrorRecord{
		Phase: domain.PhaseDetail, Message: "newest for 2", OccurredAt: base.Add(time.Minute),
	}, base.Add(time.Minute))
	require.NoError(t, err)
	_, err = s.RecordAttempt(ctx, i3.ID, domain.PhaseDetail, &domain.ErrorRecord{
		Phase: domain.PhaseDetail, Message: "only for 3", OccurredAt: base.Add(2 * time.Minute),
	}, base.Add(2*time.Minute))
	require.NoError(t, err)

	sum, err := s.Summary(ctx, domain.AllSources)
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{
		Total: 3, DiscoveryDone: 3, DetailDone: 1, GroupingDone: 0, ItemsWithErrors: 2, Attempts: 3,
	}, sum)

	sum, err = s.Summary(ctx, a.SourceID)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.ItemsWithErrors)

	failures, err := s.Failures(ctx, domain.AllSources, 0)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, i3.ID, failures[0].Item.ID)
	assert.Equal(t, "newest for 2", failures[1].LastError.Message)
	assert.Equal(t, 2, failures[1].Item.AttemptCount)

	failures, err = s.Failures(ctx, domain.AllSources, 1)
	require.NoError(t, err)
	assert.Len(t, failures, 1)

	// soft-deleted items leave reporting
	require.NoError(t, s.SoftDeleteItem(ctx, i3.ID, base))
	sum, err = s.Summary(ctx, domain.AllSources)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	failures, err = s.Failures(ctx, domain.AllSources, 0)
	require.NoError(t, err)
	assert.Len(t, failures, 1)
}

func testArtifacts(t *testing.T, s ports.Store) {
	ctx := context.Background()
	fp := "sha256:00aa"

	_, err := s.AcquireArtifact(ctx, fp)
	require.ErrorIs(t, err, domain.ErrNotFound)

	a, inserted, err := s.InsertArtifact(ctx, domain.Artifact{
		Fingerprint: fp, Path: "/media/00/aa/00aa.png", Size: 4, Type: domain.MediaImage, MIME: "image/png", CreatedAt: base,
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, 1, a.RefCount)

	a, inserted, err = s.InsertArtifact(ctx, domain.Artifact{Fingerprint: fp, Path: "/elsewhere", Size: 4, Type: domain.MediaImage})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 2, a.RefCount)
	assert.Equal(t, "/media/00/aa/00aa.png", a.Path)

	a, err = s.AcquireArtifact(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, 3, a.RefCount)

	for range 5 {
		a, err = s.ReleaseArtifact(ctx, fp)
		require.NoError(t, err)
	}
	assert.Zero(t, a.RefCount)

	got, err := s.Artifact(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, domain.MediaImage, got.Type)
	assert.Equal(t, "image/png", got.MIME)
	assert.Zero(t, got.RefCount)

	unref, err := s.UnreferencedArtifacts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unref, 1)
	assert.Equal(t, fp, unref[0].Fingerprint)

	_, err = s.ReleaseArtifact(ctx, "sha256:ffff")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testLinks(t *testing.T, s ports.Store) {
	ctx := context.Background()
	src := seedSource(t, s, "patreon", "astrobymax", "Astro By Max")
	item := seedItem(t, s, src.SourceID, "p1")

	_, err := s.LinkMedia(ctx, item.ID, "cover", "sha256:missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, _, err = s.InsertArtifact(ctx, domain.Artifact{Fingerprint: "sha256:01", Path: "p", Size: 1, Type: domain.MediaImage})
	require.NoError(t, err)

	linked, err := s.LinkMedia(ctx, item.ID, "cover", "sha256:01")
	require.NoError(t, err)
	assert.True(t, linked)

	linked, err = s.LinkMedia(ctx, item.ID, "cover", "sha256:01")
	require.NoError(t, err)
	assert.False(t, linked)

	media, err := s.ItemMedia(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"cover": "sha256:01"}, media)

	_, err = s.ItemMedia(ctx, 9999)
	require.ErrorIs(t, err, domain.ErrNotFound)

	groups := []domain.Collection{{NativeID: "season-1", Title: "Season 1"}, {NativeID: "tier-gold"}}
	require.NoError(t, s.AssignCollections(ctx, item.ID, groups))
	require.NoError(t, s.AssignCollections(ctx, item.ID, groups))
	require.ErrorIs(t, s.AssignCollections(ctx, 9999, groups), domain.ErrNotFound)
}
