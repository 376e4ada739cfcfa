package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"CreatorScanner/internal/diff"
	"CreatorScanner/internal/domain"
	"CreatorScanner/internal/media"
	"CreatorScanner/internal/metrics"
	"CreatorScanner/internal/ports"
	"CreatorScanner/internal/resolver"
	"CreatorScanner/internal/scanner"
	"CreatorScanner/internal/tracker"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Targets  ports.TargetSource
	Resolver *resolver.Resolver
	Tracker  *tracker.Tracker
	Diff     *diff.Engine
	Media    *media.Store
	Fetcher  ports.MediaFetcher
	Notifier ports.Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time

	// MaxPages bounds listing pages read per source and run. Zero means no bound.
	MaxPages int
	// Concurrency is the number of sources scanned at once.
	Concurrency int
}

// Pipeline implements the three-phase creator scan.
type Pipeline struct {
	targets     ports.TargetSource
	resolver    *resolver.Resolver
	tracker     *tracker.Tracker
	diff        *diff.Engine
	media       *media.Store
	fetcher     ports.MediaFetcher
	notifier    ports.Notifier
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
	maxPages    int
	concurrency int
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	p := &Pipeline{
		targets:     deps.Targets,
		resolver:    deps.Resolver,
		tracker:     deps.Tracker,
		diff:        deps.Diff,
		media:       deps.Media,
		fetcher:     deps.Fetcher,
		notifier:    deps.Notifier,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Now,
		maxPages:    deps.MaxPages,
		concurrency: deps.Concurrency,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	if p.diff == nil && p.tracker != nil {
		p.diff = diff.New(p.tracker)
	}
	return p
}

// Report is the outcome of scanning one source.
type Report struct {
	Platform string
	NativeID string
	SourceID int64
	// Created reports that the source was first seen in this run.
	Created  bool
	Inactive bool

	Pages             int
	Discovered        int
	Detailed          int
	Grouped           int
	Failed            int
	MediaStored       int
	MediaDeduplicated int
	// ListingErr is the scanner error that ended discovery early, if any.
	ListingErr error
	Err        error
	Duration   time.Duration
}

// Run scans every configured source once and publishes the run digest.
// Per-item failures are recorded on the items; the returned error covers
// failures that aborted a source, such as an unavailable store.
func (p *Pipeline) Run(ctx context.Context) ([]Report, error) {
	if p.targets == nil {
		return nil, nil
	}

	targets, err := p.targets.Targets()
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}

	reports := make([]Report, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(p.concurrency)
	for i, target := range targets {
		g.Go(func() error {
			reports[i] = p.RunSource(ctx, target)
			if reports[i].Err != nil {
				return fmt.Errorf("source %s/%s: %w", target.Source.Platform, target.Source.NativeID, reports[i].Err)
			}
			return nil
		})
	}
	runErr := g.Wait()

	if err := p.publish(ctx, reports); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return reports, runErr
}

// RunSource resolves one source and runs discovery, detail and grouping for it.
func (p *Pipeline) RunSource(ctx context.Context, target scanner.Target) Report {
	start := p.now()
	report := Report{Platform: target.Source.Platform, NativeID: target.Source.NativeID}
	log := p.logger.With(
		slog.String("platform", target.Source.Platform),
		slog.String("source", target.Source.NativeID),
	)

	report.Err = p.runSource(ctx, target, &report, log)
	report.Duration = p.now().Sub(start)
	p.metrics.SourceRun(target.Source.Platform, report.Duration.Seconds(), report.Err)

	if report.Err != nil {
		log.Error("source run aborted", slog.Any("error", report.Err))
		return report
	}
	log.Info("source scanned",
		slog.Int("pages", report.Pages),
		slog.Int("discovered", report.Discovered),
		slog.Int("detailed", report.Detailed),
		slog.Int("grouped", report.Grouped),
		slog.Int("failed", report.Failed),
		slog.Duration("took", report.Duration),
	)
	return report
}

func (p *Pipeline) runSource(ctx context.Context, target scanner.Target, report *Report, log *slog.Logger) error {
	src, err := p.resolve(ctx, target.Source)
	if err != nil {
		return err
	}
	report.SourceID = src.SourceID
	report.Created = src.Created
	if !src.Active {
		report.Inactive = true
		log.Info("source inactive, skipped")
		return nil
	}

	if err := p.discover(ctx, target, src, report, log); err != nil {
		return err
	}
	if err := p.detail(ctx, target, src, report); err != nil {
		return err
	}
	if err := p.group(ctx, target, src, report); err != nil {
		return err
	}
	return p.resolver.MarkScanned(ctx, src.SourceID, p.now())
}

// resolve retries once when another process created the source first.
func (p *Pipeline) resolve(ctx context.Context, src scanner.Source) (domain.SourceHandle, error) {
	req := domain.NewSource{
		Platform:    src.Platform,
		NativeID:    src.NativeID,
		ProfileURL:  src.URL,
		CreatorName: src.Name,
	}
	h, err := p.resolver.ResolveSource(ctx, req)
	if domain.IsAlreadyDone(err) {
		h, err = p.resolver.ResolveSource(ctx, req)
	}
	if err != nil {
		return domain.SourceHandle{}, fmt.Errorf("resolve source: %w", err)
	}
	return h, nil
}

// discover walks the listing newest first until the diff engine finds known items.
func (p *Pipeline) discover(ctx context.Context, target scanner.Target, src domain.SourceHandle, report *Report, log *slog.Logger) error {
	cursor := ""
	for p.maxPages <= 0 || report.Pages < p.maxPages {
		page, err := target.Scanner.ListPage(ctx, target.Source, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.ListingErr = err
			log.Warn("listing failed, discovery stopped", slog.Int("page", report.Pages+1), slog.Any("error", err))
			return nil
		}
		report.Pages++

		ids := make([]string, 0, len(page.Entries))
		urls := make(map[string]string, len(page.Entries))
		for _, e := range page.Entries {
			id := strings.TrimSpace(e.NativeID)
			ids = append(ids, id)
			if _, ok := urls[id]; !ok {
				urls[id] = e.URL
			}
		}

		res, err := p.diff.Diff(ctx, src.SourceID, ids)
		if err != nil {
			return err
		}

		created := 0
		for _, id := range res.NewIDs {
			item, err := p.tracker.CreateItem(ctx, src.SourceID, id, urls[id])
			switch {
			case domain.IsAlreadyDone(err):
				continue
			case errors.Is(err, domain.ErrValidation):
				log.Warn("listing entry skipped", slog.String("native_id", id), slog.Any("error", err))
				continue
			case err != nil:
				return err
			}
			if _, err := p.tracker.MarkPhaseComplete(ctx, item.ID, domain.PhaseDiscovery, time.Time{}); err != nil {
				return err
			}
			log.Debug("item discovered", slog.Int64("item_id", item.ID), slog.String("native_id", id))
			created++
		}
		report.Discovered += created
		p.metrics.Discovered(src.Platform, created)

		if !res.Continue || page.Next == "" {
			return nil
		}
		cursor = page.Next
	}
	log.Info("page limit reached", slog.Int("pages", report.Pages))
	return nil
}

func (p *Pipeline) detail(ctx context.Context, target scanner.Target, src domain.SourceHandle, report *Report) error {
	for item, err := range p.tracker.ReadyForPhase(ctx, src.SourceID, domain.PhaseDetail) {
		if err != nil {
			return err
		}
		ok, err := p.attempt(ctx, item, domain.PhaseDetail, func() error {
			return p.enrich(ctx, target, item, report)
		})
		if err != nil {
			return err
		}
		if ok {
			report.Detailed++
		} else {
			report.Failed++
		}
	}
	return nil
}

func (p *Pipeline) group(ctx context.Context, target scanner.Target, src domain.SourceHandle, report *Report) error {
	for item, err := range p.tracker.ReadyForPhase(ctx, src.SourceID, domain.PhaseGrouping) {
		if err != nil {
			return err
		}
		ok, err := p.attempt(ctx, item, domain.PhaseGrouping, func() error {
			groups, err := target.Scanner.FetchGroups(ctx, target.Source, item)
			if err != nil {
				return fmt.Errorf("fetch groups: %w", err)
			}
			if err := p.tracker.AssignCollections(ctx, item.ID, groups); err != nil {
				return err
			}
			_, err = p.tracker.MarkPhaseComplete(ctx, item.ID, domain.PhaseGrouping, time.Time{})
			return err
		})
		if err != nil {
			return err
		}
		if ok {
			report.Grouped++
		} else {
			report.Failed++
		}
	}
	return nil
}

// attempt counts one attempt of phase, runs fn and records its failure on the
// item. Storage and IO failures are returned instead, since recording them
// would hit the same broken store.
func (p *Pipeline) attempt(ctx context.Context, item domain.ItemHandle, phase domain.Phase, fn func() error) (bool, error) {
	if _, err := p.tracker.RecordAttempt(ctx, item.ID, phase, nil); err != nil {
		return false, err
	}

	procErr := fn()
	if procErr == nil {
		p.metrics.Attempt(phase, false)
		return true, nil
	}
	if domain.IsRetryable(procErr) || ctx.Err() != nil {
		return false, procErr
	}

	p.metrics.Attempt(phase, true)
	if err := p.tracker.RecordFailure(ctx, item.ID, phase, procErr); err != nil {
		return false, err
	}
	return false, nil
}

// enrich fetches the item page, stores media not linked yet and writes the detail.
func (p *Pipeline) enrich(ctx context.Context, target scanner.Target, item domain.ItemHandle, report *Report) error {
	detail, err := target.Scanner.FetchDetail(ctx, target.Source, item)
	if err != nil {
		return fmt.Errorf("fetch detail: %w", err)
	}

	linked, err := p.tracker.ItemMedia(ctx, item.ID)
	if err != nil {
		return err
	}
	for _, ref := range detail.Media {
		if _, ok := linked[ref.Role]; ok {
			continue
		}
		if err := p.attachMedia(ctx, item, ref, report); err != nil {
			return err
		}
	}

	if err := p.tracker.UpdateDetail(ctx, item.ID, detail.ItemDetail); err != nil {
		return err
	}
	_, err = p.tracker.MarkPhaseComplete(ctx, item.ID, domain.PhaseDetail, time.Time{})
	return err
}

func (p *Pipeline) attachMedia(ctx context.Context, item domain.ItemHandle, ref scanner.MediaRef, report *Report) error {
	if p.media == nil {
		return fmt.Errorf("%w: media store is not configured", domain.ErrValidation)
	}

	data := ref.Data
	if data == nil {
		if p.fetcher == nil {
			return fmt.Errorf("%w: no media fetcher for %s", domain.ErrValidation, ref.URL)
		}
		var err error
		if data, err = p.fetcher.Fetch(ctx, ref.URL); err != nil {
			return fmt.Errorf("fetch media %s: %w", ref.Role, err)
		}
	}

	h, err := p.media.Store(ctx, data, ref.Type)
	if err != nil {
		return fmt.Errorf("store media %s: %w", ref.Role, err)
	}

	linked, err := p.tracker.LinkMedia(ctx, item.ID, ref.Role, h)
	if err != nil || !linked {
		// one reference per (item, role)
		if _, rErr := p.media.Release(ctx, h); rErr != nil {
			p.logger.Warn("release media reference", slog.String("fingerprint", h.Fingerprint), slog.Any("error", rErr))
		}
		return err
	}

	if h.Deduplicated {
		report.MediaDeduplicated++
	} else {
		report.MediaStored++
	}
	return nil
}
