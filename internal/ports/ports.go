package ports

import (
	"context"
	"time"

	"CreatorScanner/internal/domain"
	"CreatorScanner/internal/scanner"
)

// SourceRepository persists creators and their platform sources.
type SourceRepository interface {
	// FindSource returns domain.ErrNotFound when no source matches.
	FindSource(ctx context.Context, platform, nativeID string) (domain.SourceHandle, error)
	// CreateSource finds or creates the creator by exact name and inserts the source
	// in one transaction. Returns domain.ErrConflict if the source already exists.
	CreateSource(ctx context.Context, src domain.NewSource) (domain.SourceHandle, error)
	MarkSourceScanned(ctx context.Context, sourceID int64, at time.Time) error
	SetSourceActive(ctx context.Context, sourceID int64, active bool) error
	ListSources(ctx context.Context, activeOnly bool) ([]domain.SourceHandle, error)
}

// ItemRepository persists items together with their one-to-one status records.
type ItemRepository interface {
	// CreateItem inserts item and status atomically. Returns domain.ErrDuplicateItem
	// when (sourceID, nativeID) already exists.
	CreateItem(ctx context.Context, sourceID int64, nativeID, url string, at time.Time) (domain.ItemHandle, error)
	KnownNativeIDs(ctx context.Context, sourceID int64, nativeIDs []string) (map[string]bool, error)
	// MarkPhaseComplete reports false when the phase was already complete.
	MarkPhaseComplete(ctx context.Context, itemID int64, phase domain.Phase, at time.Time) (bool, error)
	// RecordAttempt increments the counter, optionally appends rec, and returns the new count.
	RecordAttempt(ctx context.Context, itemID int64, phase domain.Phase, rec *domain.ErrorRecord, at time.Time) (int, error)
	AppendError(ctx context.Context, itemID int64, rec domain.ErrorRecord) error
	PendingItems(ctx context.Context, q domain.PendingQuery) ([]domain.ItemHandle, error)
	Item(ctx context.Context, itemID int64) (domain.Item, error)
	ItemStatus(ctx context.Context, itemID int64) (domain.ItemStatus, error)
	Summary(ctx context.Context, sourceID int64) (domain.Summary, error)
	Failures(ctx context.Context, sourceID int64, limit int) ([]domain.ItemFailure, error)
	UpdateItemDetail(ctx context.Context, itemID int64, detail domain.ItemDetail) error
	SoftDeleteItem(ctx context.Context, itemID int64, at time.Time) error
	SetLegacySnapshot(ctx context.Context, itemID int64, raw []byte) error
	// LinkMedia reports false when the (item, role) pair is already linked.
	LinkMedia(ctx context.Context, itemID int64, role, fingerprint string) (bool, error)
	ItemMedia(ctx context.Context, itemID int64) (map[string]string, error)
	AssignCollections(ctx context.Context, itemID int64, collections []domain.Collection) error
}

// ArtifactRepository is the fingerprint-keyed artifact index.
type ArtifactRepository interface {
	// AcquireArtifact increments the reference count of an existing artifact.
	// Returns domain.ErrNotFound when the fingerprint is unknown.
	AcquireArtifact(ctx context.Context, fingerprint string) (domain.Artifact, error)
	// InsertArtifact inserts with a reference count of 1, or increments the existing
	// row when another writer inserted the fingerprint first. The bool reports insertion.
	InsertArtifact(ctx context.Context, artifact domain.Artifact) (domain.Artifact, bool, error)
	// ReleaseArtifact decrements the count, never below zero.
	ReleaseArtifact(ctx context.Context, fingerprint string) (domain.Artifact, error)
	Artifact(ctx context.Context, fingerprint string) (domain.Artifact, error)
	UnreferencedArtifacts(ctx context.Context, limit int) ([]domain.Artifact, error)
}

// Store is the injected persistence handle shared by all core components.
type Store interface {
	SourceRepository
	ItemRepository
	ArtifactRepository
	Close() error
}

// TargetSource lists the configured sources, each bound to its scanner strategy.
type TargetSource interface {
	Targets() ([]scanner.Target, error)
}

// MediaFetcher downloads media bytes referenced by a parsed item.
type MediaFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Notifier streams run digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
