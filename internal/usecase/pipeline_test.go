package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CreatorScanner/internal/diff"
	"CreatorScanner/internal/domain"
	"CreatorScanner/internal/hasher"
	"CreatorScanner/internal/infrastructure/storage/memory"
	"CreatorScanner/internal/media"
	"CreatorScanner/internal/metrics"
	"CreatorScanner/internal/ports"
	"CreatorScanner/internal/resolver"
	"CreatorScanner/internal/scanner"
	"CreatorScanner/internal/tracker"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), []byte("astro pixels")...)

type fakeScanner struct {
	mu        sync.Mutex
	pages     map[string]scanner.Page
	listErr   error
	details   map[string]scanner.Detail
	detailErr map[string]error
	groups    map[string][]domain.Collection
	cursors   []string
}

func newFakeScanner() *fakeScanner {
	return &fakeScanner{
		pages:     map[string]scanner.Page{},
		details:   map[string]scanner.Detail{},
		detailErr: map[string]error{},
		groups:    map[string][]domain.Collection{},
	}
}

func (f *fakeScanner) Name() string { return "fake" }

func (f *fakeScanner) ListPage(_ context.Context, _ scanner.Source, cursor string) (scanner.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	if f.listErr != nil {
		return scanner.Page{}, f.listErr
	}
	return f.pages[cursor], nil
}

func (f *fakeScanner) FetchDetail(_ context.Context, _ scanner.Source, item domain.ItemHandle) (scanner.Detail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.detailErr[item.NativeID]; err != nil {
		return scanner.Detail{}, err
	}
	d, ok := f.details[item.NativeID]
	if !ok {
		d = scanner.Detail{ItemDetail: domain.ItemDetail{Title: "post " + item.NativeID}}
	}
	return d, nil
}

func (f *fakeScanner) FetchGroups(_ context.Context, _ scanner.Source, item domain.ItemHandle) ([]domain.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups[item.NativeID], nil
}

func (f *fakeScanner) listed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.cursors...)
	f.cursors = nil
	return out
}

type fakeFetcher map[string][]byte

func (f fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if data, ok := f[url]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("GET %s: 404 Not Found", url)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) PublishDigest(_ context.Context, digest string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, digest)
	return nil
}

type staticTargets []scanner.Target

func (s staticTargets) Targets() ([]scanner.Target, error) { return s, nil }

type fixture struct {
	store    ports.Store
	tracker  *tracker.Tracker
	resolver *resolver.Resolver
	media    *media.Store
	hasher   *hasher.Hasher
	metrics  *metrics.Metrics
	notifier *fakeNotifier
}

func newFixture(t *testing.T, store ports.Store, trackerOpts ...tracker.Option) *fixture {
	t.Helper()

	h, err := hasher.New(hasher.SHA256)
	require.NoError(t, err)
	ms, err := media.New(t.TempDir(), h, store)
	require.NoError(t, err)

	return &fixture{
		store:    store,
		tracker:  tracker.New(store, trackerOpts...),
		resolver: resolver.New(store),
		media:    ms,
		hasher:   h,
		metrics:  metrics.New(nil),
		notifier: &fakeNotifier{},
	}
}

func (f *fixture) pipeline(targets []scanner.Target, fetcher ports.MediaFetcher) *Pipeline {
	return NewPipeline(PipelineDeps{
		Targets:     staticTargets(targets),
		Resolver:    f.resolver,
		Tracker:     f.tracker,
		Diff:        diff.New(f.tracker),
		Media:       f.media,
		Fetcher:     fetcher,
		Notifier:    f.notifier,
		Metrics:     f.metrics,
		MaxPages:    10,
		Concurrency: 2,
	})
}

func astroTarget(sc scanner.Scanner) scanner.Target {
	return scanner.Target{
		Source: scanner.Source{
			Platform: "patreon",
			NativeID: "astrobymax",
			Name:     "AstroByMax",
			URL:      "https://example.org/astrobymax",
		},
		Scanner: sc,
	}
}

func entries(ids ...string) []scanner.Entry {
	out := make([]scanner.Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, scanner.Entry{NativeID: id, URL: "https://example.org/posts/" + id})
	}
	return out
}

func TestPipelineRunsAllPhasesIncrementally(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, memory.New())

	sc := newFakeScanner()
	sc.pages[""] = scanner.Page{Entries: entries("p-3", "p-2"), Next: "older"}
	sc.pages["older"] = scanner.Page{Entries: entries("p-1")}
	sc.details["p-3"] = scanner.Detail{
		ItemDetail: domain.ItemDetail{Title: "Orion", Body: "nebula"},
		Media:      []scanner.MediaRef{{Role: "image-1", Type: domain.MediaImage, Data: pngBytes}},
	}
	sc.details["p-2"] = scanner.Detail{
		ItemDetail: domain.ItemDetail{Title: "Orion again"},
		Media:      []scanner.MediaRef{{Role: "image-1", Type: domain.MediaImage, URL: "https://cdn.example.org/orion.png"}},
	}
	sc.detailErr["p-1"] = errors.New("detail page timed out")
	sc.groups["p-3"] = []domain.Collection{{NativeID: "nebulae", Title: "Nebulae"}}
	sc.groups["p-2"] = []domain.Collection{{NativeID: "nebulae", Title: "Nebulae"}}

	fetcher := fakeFetcher{"https://cdn.example.org/orion.png": pngBytes}
	p := fx.pipeline([]scanner.Target{astroTarget(sc)}, fetcher)

	reports, err := p.Run(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	r := reports[0]
	assert.True(t, r.Created)
	assert.Equal(t, 2, r.Pages)
	assert.Equal(t, 3, r.Discovered)
	assert.Equal(t, 2, r.Detailed)
	assert.Equal(t, 2, r.Grouped)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, 1, r.MediaStored)
	assert.Equal(t, 1, r.MediaDeduplicated)
	assert.Equal(t, []string{"", "older"}, sc.listed())

	art, err := fx.media.Lookup(ctx, fx.hasher.Sum(pngBytes))
	require.NoError(t, err)
	assert.Equal(t, 2, art.RefCount, "one reference per linked item")

	sum, err := fx.tracker.Summary(ctx, r.SourceID)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 3, sum.DiscoveryDone)
	assert.Equal(t, 2, sum.DetailDone)
	assert.Equal(t, 2, sum.GroupingDone)
	assert.Equal(t, 1, sum.ItemsWithErrors)

	failures, err := fx.tracker.Failures(ctx, r.SourceID, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "p-1", failures[0].Item.NativeID)
	assert.Equal(t, domain.PhaseDetail, failures[0].LastError.Phase)
	assert.Contains(t, failures[0].LastError.Message, "timed out")

	assert.Equal(t, float64(3), testutil.ToFloat64(fx.metrics.ItemsDiscovered.WithLabelValues("patreon")))

	require.Len(t, fx.notifier.messages, 1)
	assert.Contains(t, fx.notifier.messages[0], "patreon/astrobymax: 3 new, 2 detailed, 2 grouped")
	assert.Contains(t, fx.notifier.messages[0], "1 failed")

	// a new post appears on top; the failed detail page recovers
	sc.pages[""] = scanner.Page{Entries: entries("p-4", "p-3", "p-2"), Next: "older"}
	delete(sc.detailErr, "p-1")

	reports, err = p.Run(ctx)
	require.NoError(t, err)
	r = reports[0]
	assert.False(t, r.Created)
	assert.Equal(t, 1, r.Pages, "discovery stops at the first known item")
	assert.Equal(t, 1, r.Discovered)
	assert.Equal(t, 2, r.Detailed)
	assert.Equal(t, 2, r.Grouped)
	assert.Zero(t, r.Failed)
	assert.Equal(t, []string{""}, sc.listed())

	item, err := fx.tracker.Item(ctx, failures[0].Item.ID)
	require.NoError(t, err)
	assert.Equal(t, "post p-1", item.Title)

	// nothing changed: quiet run, no digest
	reports, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, reports[0].Discovered)
	assert.Len(t, fx.notifier.messages, 2)
}

func TestPipelineStopsRetryingAtMaxAttempts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, memory.New(), tracker.WithMaxAttempts(2))

	sc := newFakeScanner()
	sc.pages[""] = scanner.Page{Entries: entries("broken")}
	sc.detailErr["broken"] = errors.New("parse error")
	p := fx.pipeline([]scanner.Target{astroTarget(sc)}, nil)

	for run, wantFailed := range []int{1, 1, 0} {
		reports, err := p.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, wantFailed, reports[0].Failed, "run %d", run+1)
	}

	failures, err := fx.tracker.Failures(ctx, domain.AllSources, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	status, err := fx.tracker.Status(ctx, failures[0].Item.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.AttemptCount)
	assert.Len(t, status.Errors, 2)
	assert.False(t, status.Detail.Complete)
}

func TestPipelineRetryBudgetIsPerPhase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const maxAttempts = 3
	fx := newFixture(t, memory.New(), tracker.WithMaxAttempts(maxAttempts))

	sc := newFakeScanner()
	sc.pages[""] = scanner.Page{Entries: entries("flaky")}
	sc.detailErr["flaky"] = errors.New("detail page timed out")
	sc.groups["flaky"] = []domain.Collection{{NativeID: "nebulae", Title: "Nebulae"}}
	p := fx.pipeline([]scanner.Target{astroTarget(sc)}, nil)

	for run := range maxAttempts - 1 {
		reports, err := p.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, reports[0].Failed, "run %d", run+1)
		assert.Zero(t, reports[0].Grouped, "run %d", run+1)
	}

	delete(sc.detailErr, "flaky")
	reports, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].Detailed)
	assert.Equal(t, 1, reports[0].Grouped, "detail retries do not use up the grouping budget")
	assert.Zero(t, reports[0].Failed)

	sum, err := fx.tracker.Summary(ctx, reports[0].SourceID)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.GroupingDone)

	failures, err := fx.tracker.Failures(ctx, domain.AllSources, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	status, err := fx.tracker.Status(ctx, failures[0].Item.ID)
	require.NoError(t, err)
	assert.Equal(t, maxAttempts, status.Detail.Attempts)
	assert.Equal(t, 1, status.Grouping.Attempts)
	assert.Equal(t, maxAttempts+1, status.AttemptCount)
	assert.True(t, status.Grouping.Complete)
}

func TestPipelineDiscoveryCountsNoAttempt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, memory.New())

	sc := newFakeScanner()
	sc.pages[""] = scanner.Page{Entries: entries("p-1")}
	sc.detailErr["p-1"] = errors.New("detail page timed out")
	p := fx.pipeline([]scanner.Target{astroTarget(sc)}, nil)

	_, err := p.Run(ctx)
	require.NoError(t, err)

	failures, err := fx.tracker.Failures(ctx, domain.AllSources, 10)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	status, err := fx.tracker.Status(ctx, failures[0].Item.ID)
	require.NoError(t, err)
	assert.True(t, status.Discovery.Complete)
	assert.Zero(t, status.Discovery.Attempts)
	assert.Equal(t, 1, status.Detail.Attempts)
	assert.Equal(t, 1, status.AttemptCount)
}

func TestPipelineTrimsPaddedListingIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, memory.New())

	sc := newFakeScanner()
	sc.pages[""] = scanner.Page{Entries: entries(" p-2 ", "p-1\t"), Next: "older"}
	p := fx.pipeline([]scanner.Target{astroTarget(sc)}, nil)

	reports, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, reports[0].Discovered)
	sc.listed()

	sc.pages[""] = scanner.Page{Entries: entries("p-3", " p-2 ", "p-1\t"), Next: "older"}
	reports, err = p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].Discovered)
	assert.Equal(t, []string{""}, sc.listed(), "padded known ids still stop discovery")

	sum, err := fx.tracker.Summary(ctx, reports[0].SourceID)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
}

func TestPipelineMissingMediaIsItemFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, memory.New())

	sc := newFakeScanner()
	sc.pages[""] = scanner.Page{Entries: entries("p-1")}
	sc.details["p-1"] = scanner.Detail{
		Media: []scanner.MediaRef{{Role: "video-1", Type: domain.MediaVideo, URL: "https://cdn.example.org/gone.mp4"}},
	}
	p := fx.pipeline([]scanner.Target{astroTarget(sc)}, fakeFetcher{})

	reports, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].Failed)
	assert.Zero(t, reports[0].Detailed)
	assert.Zero(t, fx.store.(*memory.Store).Artifacts())
}

func TestPipelineReleasesDuplicateRoleReference(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, memory.New())

	sc := newFakeScanner()
	sc.pages[""] = scanner.Page{Entries: entries("p-1")}
	sc.details["p-1"] = scanner.Detail{Media: []scanner.MediaRef{
		{Role: "cover", Type: domain.MediaImage, Data: pngBytes},
		{Role: "cover", Type: domain.MediaImage, Data: pngBytes},
	}}
	p := fx.pipeline([]scanner.Target{astroTarget(sc)}, nil)

	reports, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reports[0].Detailed)

	art, err := fx.media.Lookup(ctx, fx.hasher.Sum(pngBytes))
	require.NoError(t, err)
	assert.Equal(t, 1, art.RefCount)
}

func TestPipelineListingErrorKeepsRunGoing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, memory.New())

	sc := newFakeScanner()
	sc.listErr = errors.New("503 Service Unavailable")
	p := fx.pipeline([]scanner.Target{astroTarget(sc)}, nil)

	reports, err := p.Run(ctx)
	require.NoError(t, err)
	require.Error(t, reports[0].ListingErr)
	assert.Zero(t, reports[0].Pages)
	require.Len(t, fx.notifier.messages, 1)
	assert.Contains(t, fx.notifier.messages[0], "listing: 503")

	sources, err := fx.resolver.Sources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
}

func TestPipelineSkipsInactiveSources(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fx := newFixture(t, memory.New())

	h, err := fx.resolver.Resolve(ctx, "patreon", "astrobymax", "AstroByMax")
	require.NoError(t, err)
	require.NoError(t, fx.resolver.Deactivate(ctx, h))

	sc := newFakeScanner()
	p := fx.pipeline([]scanner.Target{astroTarget(sc)}, nil)

	reports, err := p.Run(ctx)
	require.NoError(t, err)
	assert.True(t, reports[0].Inactive)
	assert.Empty(t, sc.listed())
}

// brokenItems fails item creation for one platform as an unavailable database would.
type brokenItems struct {
	ports.Store
	platform string

	mu      sync.Mutex
	sources map[int64]string
}

func (b *brokenItems) CreateSource(ctx context.Context, src domain.NewSource) (domain.SourceHandle, error) {
	h, err := b.Store.CreateSource(ctx, src)
	if err == nil {
		b.mu.Lock()
		b.sources[h.SourceID] = src.Platform
		b.mu.Unlock()
	}
	return h, err
}

func (b *brokenItems) CreateItem(ctx context.Context, sourceID int64, nativeID, url string, at time.Time) (domain.ItemHandle, error) {
	b.mu.Lock()
	platform := b.sources[sourceID]
	b.mu.Unlock()
	if platform == b.platform {
		return domain.ItemHandle{}, fmt.Errorf("%w: insert item: connection refused", domain.ErrStorage)
	}
	return b.Store.CreateItem(ctx, sourceID, nativeID, url, at)
}

func TestPipelineStorageFailureAbortsOnlyThatSource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &brokenItems{Store: memory.New(), platform: "youtube", sources: map[int64]string{}}
	fx := newFixture(t, store)

	patreon := newFakeScanner()
	patreon.pages[""] = scanner.Page{Entries: entries("p-1")}
	youtube := newFakeScanner()
	youtube.pages[""] = scanner.Page{Entries: entries("v-1")}

	yt := astroTarget(youtube)
	yt.Source.Platform = "youtube"
	p := fx.pipeline([]scanner.Target{astroTarget(patreon), yt}, nil)

	reports, err := p.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.True(t, strings.Contains(err.Error(), "youtube/astrobymax"))

	assert.NoError(t, reports[0].Err)
	assert.Equal(t, 1, reports[0].Discovered)
	assert.ErrorIs(t, reports[1].Err, domain.ErrStorage)
	assert.NotEqual(t, reports[0].SourceID, reports[1].SourceID)
}

func TestBuildDigestMessageSkipsQuietSources(t *testing.T) {
	t.Parallel()

	assert.Empty(t, buildDigestMessage([]Report{{Platform: "patreon", NativeID: "quiet"}}))

	msg := buildDigestMessage([]Report{
		{Platform: "patreon", NativeID: "quiet"},
		{Platform: "patreon", NativeID: "astrobymax", Discovered: 2, Detailed: 2, MediaStored: 1},
		{Platform: "youtube", NativeID: "astrobymax", Err: errors.New("storage failure")},
	})
	assert.NotContains(t, msg, "quiet")
	assert.Contains(t, msg, "patreon/astrobymax: 2 new, 2 detailed, 0 grouped, media 1 stored/0 deduplicated")
	assert.Contains(t, msg, "aborted: storage failure")
}
