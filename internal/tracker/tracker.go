// Package tracker records, per item, which processing phases completed,
// how often processing was attempted and what failed.
package tracker

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"CreatorScanner/internal/domain"
	"CreatorScanner/internal/ports"
)

const defaultPageSize = 200

// Option customises a Tracker.
type Option func(*Tracker)

// WithPageSize sets how many items ItemsNeedingPhase reads per query.
func WithPageSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.pageSize = n
		}
	}
}

// WithMaxAttempts bounds ReadyForPhase. Zero means unbounded.
func WithMaxAttempts(n int) Option {
	return func(t *Tracker) { t.maxAttempts = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// Tracker is the item state tracker.
type Tracker struct {
	repo        ports.ItemRepository
	logger      *slog.Logger
	now         func() time.Time
	pageSize    int
	maxAttempts int
}

// New builds a Tracker over the item repository.
func New(repo ports.ItemRepository, opts ...Option) *Tracker {
	t := &Tracker{
		repo:     repo,
		logger:   slog.Default(),
		now:      time.Now,
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "tracker")
	return t
}

// MaxAttempts returns the configured retry bound.
func (t *Tracker) MaxAttempts() int {
	return t.maxAttempts
}

// CreateItem inserts an item with all phases pending. An existing
// (source, nativeID) pair fails with domain.ErrDuplicateItem.
func (t *Tracker) CreateItem(ctx context.Context, sourceID int64, nativeID, url string) (domain.ItemHandle, error) {
	nativeID = strings.TrimSpace(nativeID)
	if nativeID == "" {
		return domain.ItemHandle{}, fmt.Errorf("%w: item native id is required", domain.ErrValidation)
	}
	h, err := t.repo.CreateItem(ctx, sourceID, nativeID, url, t.now())
	if err != nil {
		return domain.ItemHandle{}, fmt.Errorf("create item: %w", err)
	}
	return h, nil
}

// Known reports which of nativeIDs the source already tracks, soft-deleted items included.
func (t *Tracker) Known(ctx context.Context, sourceID int64, nativeIDs []string) (map[string]bool, error) {
	if len(nativeIDs) == 0 {
		return map[string]bool{}, nil
	}
	known, err := t.repo.KnownNativeIDs(ctx, sourceID, nativeIDs)
	if err != nil {
		return nil, fmt.Errorf("known native ids: %w", err)
	}
	return known, nil
}

// MarkPhaseComplete sets the phase flag once. Repeated calls are no-ops that keep
// the first timestamp; the result reports whether this call changed anything.
func (t *Tracker) MarkPhaseComplete(ctx context.Context, itemID int64, phase domain.Phase, at time.Time) (bool, error) {
	if err := phase.Validate(); err != nil {
		return false, err
	}
	if at.IsZero() {
		at = t.now()
	}
	changed, err := t.repo.MarkPhaseComplete(ctx, itemID, phase, at)
	if err != nil {
		return false, fmt.Errorf("mark phase complete: %w", err)
	}
	return changed, nil
}

// RecordAttempt counts one processing attempt of phase. A non-nil procErr is
// stored as an error record; it is data, not a failure of this call.
func (t *Tracker) RecordAttempt(ctx context.Context, itemID int64, phase domain.Phase, procErr error) (int, error) {
	if err := phase.Validate(); err != nil {
		return 0, err
	}
	at := t.now()
	var rec *domain.ErrorRecord
	if procErr != nil {
		rec = &domain.ErrorRecord{Phase: phase, Message: procErr.Error(), OccurredAt: at}
	}
	count, err := t.repo.RecordAttempt(ctx, itemID, phase, rec, at)
	if err != nil {
		return 0, fmt.Errorf("record attempt: %w", err)
	}
	if procErr != nil {
		t.logger.Warn("item attempt failed",
			slog.Int64("item_id", itemID),
			slog.String("phase", string(phase)),
			slog.Int("attempts", count),
			slog.String("error", procErr.Error()),
		)
	}
	return count, nil
}

// RecordFailure attaches procErr to an attempt already counted with RecordAttempt.
func (t *Tracker) RecordFailure(ctx context.Context, itemID int64, phase domain.Phase, procErr error) error {
	if err := phase.Validate(); err != nil {
		return err
	}
	if procErr == nil {
		return nil
	}
	rec := domain.ErrorRecord{Phase: phase, Message: procErr.Error(), OccurredAt: t.now()}
	if err := t.repo.AppendError(ctx, itemID, rec); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	t.logger.Warn("item phase failed",
		slog.Int64("item_id", itemID),
		slog.String("phase", string(phase)),
		slog.String("error", procErr.Error()),
	)
	return nil
}

// ItemsNeedingPhase lazily yields every live item whose phase is incomplete, in
// creation order, optionally for one source (domain.AllSources for every source).
// Items are read a page at a time, so completing items while iterating is safe.
func (t *Tracker) ItemsNeedingPhase(ctx context.Context, sourceID int64, phase domain.Phase) iter.Seq2[domain.ItemHandle, error] {
	return t.pending(ctx, domain.PendingQuery{SourceID: sourceID, Phase: phase})
}

// ReadyForPhase is ItemsNeedingPhase restricted to items whose prior phase is
// complete and whose attempts at this phase are below the configured limit.
// Attempts spent on other phases do not count against the limit.
func (t *Tracker) ReadyForPhase(ctx context.Context, sourceID int64, phase domain.Phase) iter.Seq2[domain.ItemHandle, error] {
	return t.pending(ctx, domain.PendingQuery{
		SourceID:     sourceID,
		Phase:        phase,
		RequirePrior: true,
		MaxAttempts:  t.maxAttempts,
	})
}

// PendingPage returns one page of pending items after the cursor, plus the
// cursor for the next page (zero when exhausted).
func (t *Tracker) PendingPage(ctx context.Context, q domain.PendingQuery) ([]domain.ItemHandle, int64, error) {
	if err := q.Phase.Validate(); err != nil {
		return nil, 0, err
	}
	if q.Limit <= 0 {
		q.Limit = t.pageSize
	}
	page, err := t.repo.PendingItems(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("pending items: %w", err)
	}
	var next int64
	if len(page) == q.Limit {
		next = page[len(page)-1].ID
	}
	return page, next, nil
}

func (t *Tracker) pending(ctx context.Context, q domain.PendingQuery) iter.Seq2[domain.ItemHandle, error] {
	return func(yield func(domain.ItemHandle, error) bool) {
		q.Limit = t.pageSize
		for {
			page, next, err := t.PendingPage(ctx, q)
			if err != nil {
				yield(domain.ItemHandle{}, err)
				return
			}
			for _, h := range page {
				if !yield(h, nil) {
					return
				}
			}
			if next == 0 {
				return
			}
			q.AfterID = next
		}
	}
}

// Summary aggregates item counts for one source or, with domain.AllSources, all of them.
func (t *Tracker) Summary(ctx context.Context, sourceID int64) (domain.Summary, error) {
	sum, err := t.repo.Summary(ctx, sourceID)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("summary: %w", err)
	}
	return sum, nil
}

// Status returns the item's full tracking record.
func (t *Tracker) Status(ctx context.Context, itemID int64) (domain.ItemStatus, error) {
	status, err := t.repo.ItemStatus(ctx, itemID)
	if err != nil {
		return domain.ItemStatus{}, fmt.Errorf("item status: %w", err)
	}
	return status, nil
}

// Item returns the stored item.
func (t *Tracker) Item(ctx context.Context, itemID int64) (domain.Item, error) {
	item, err := t.repo.Item(ctx, itemID)
	if err != nil {
		return domain.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// Failures lists items with their latest error, newest first.
func (t *Tracker) Failures(ctx context.Context, sourceID int64, limit int) ([]domain.ItemFailure, error) {
	failures, err := t.repo.Failures(ctx, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failures: %w", err)
	}
	return failures, nil
}

// UpdateDetail writes phase 2 enrichment onto the item in place.
func (t *Tracker) UpdateDetail(ctx context.Context, itemID int64, detail domain.ItemDetail) error {
	if err := t.repo.UpdateItemDetail(ctx, itemID, detail); err != nil {
		return fmt.Errorf("update item detail: %w", err)
	}
	return nil
}

// LinkMedia records that the item uses the stored media under role. It reports
// false when the role was already linked, in which case the caller holds a
// surplus reference and should release it.
func (t *Tracker) LinkMedia(ctx context.Context, itemID int64, role string, h domain.MediaHandle) (bool, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return false, fmt.Errorf("%w: media role is required", domain.ErrValidation)
	}
	linked, err := t.repo.LinkMedia(ctx, itemID, role, h.Fingerprint)
	if err != nil {
		return false, fmt.Errorf("link media: %w", err)
	}
	return linked, nil
}

// ItemMedia returns role -> fingerprint for media already linked to the item.
func (t *Tracker) ItemMedia(ctx context.Context, itemID int64) (map[string]string, error) {
	media, err := t.repo.ItemMedia(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("item media: %w", err)
	}
	return media, nil
}

// AssignCollections links the item to its source's collections, creating them as needed.
func (t *Tracker) AssignCollections(ctx context.Context, itemID int64, groups []domain.Collection) error {
	for _, g := range groups {
		if strings.TrimSpace(g.NativeID) == "" {
			return fmt.Errorf("%w: collection native id is required", domain.ErrValidation)
		}
	}
	if len(groups) == 0 {
		return nil
	}
	if err := t.repo.AssignCollections(ctx, itemID, groups); err != nil {
		return fmt.Errorf("assign collections: %w", err)
	}
	return nil
}

// SoftDelete hides the item from pending lists and summaries. It stays known to discovery.
func (t *Tracker) SoftDelete(ctx context.Context, itemID int64) error {
	if err := t.repo.SoftDeleteItem(ctx, itemID, t.now()); err != nil {
		return fmt.Errorf("soft delete item: %w", err)
	}
	return nil
}

// AttachLegacySnapshot keeps an opaque copy of state imported from an older tracker.
func (t *Tracker) AttachLegacySnapshot(ctx context.Context, itemID int64, raw []byte) error {
	if err := t.repo.SetLegacySnapshot(ctx, itemID, raw); err != nil {
		return fmt.Errorf("attach legacy snapshot: %w", err)
	}
	return nil
}
