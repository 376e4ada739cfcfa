// Package memory is a process-local ports.Store used by tests and dry runs.
// It enforces the same uniqueness and ownership rules as the SQL store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"CreatorScanner/internal/domain"
	"CreatorScanner/internal/ports"
)

type sourceKey struct {
	platform string
	nativeID string
}

type itemKey struct {
	sourceID int64
	nativeID string
}

type itemRecord struct {
	item   domain.Item
	status domain.ItemStatus
	media  map[string]string
	groups map[int64]struct{}
}

type collectionKey struct {
	sourceID int64
	nativeID string
}

// Store keeps all state in maps guarded by a single mutex, so every
// operation is atomic with respect to the others.
type Store struct {
	mu sync.Mutex

	nextID int64

	creators      map[int64]domain.Creator
	creatorByName map[string]int64

	sources      map[int64]domain.Source
	sourceByKey  map[sourceKey]int64
	items        map[int64]*itemRecord
	itemByKey    map[itemKey]int64
	artifacts    map[string]domain.Artifact
	collections  map[collectionKey]int64
	collectionNm map[int64]string
}

var _ ports.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		creators:      map[int64]domain.Creator{},
		creatorByName: map[string]int64{},
		sources:       map[int64]domain.Source{},
		sourceByKey:   map[sourceKey]int64{},
		items:         map[int64]*itemRecord{},
		itemByKey:     map[itemKey]int64{},
		artifacts:     map[string]domain.Artifact{},
		collections:   map[collectionKey]int64{},
		collectionNm:  map[int64]string{},
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) handle(src domain.Source) domain.SourceHandle {
	creator := s.creators[src.CreatorID]
	return domain.SourceHandle{
		SourceID:    src.ID,
		CreatorID:   src.CreatorID,
		CreatorName: creator.Name,
		Platform:    src.Platform,
		NativeID:    src.NativeID,
		ProfileURL:  src.ProfileURL,
		Active:      src.Active,
	}
}

// FindSource looks a source up by its platform key.
func (s *Store) FindSource(_ context.Context, platform, nativeID string) (domain.SourceHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sourceByKey[sourceKey{platform, nativeID}]
	if !ok {
		return domain.SourceHandle{}, domain.ErrNotFound
	}
	return s.handle(s.sources[id]), nil
}

// CreateSource finds or creates the creator and inserts the source.
func (s *Store) CreateSource(_ context.Context, src domain.NewSource) (domain.SourceHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sourceKey{src.Platform, src.NativeID}
	if _, exists := s.sourceByKey[key]; exists {
		return domain.SourceHandle{}, fmt.Errorf("%w: source %s/%s", domain.ErrConflict, src.Platform, src.NativeID)
	}

	now := time.Now().UTC()
	creatorID, ok := s.creatorByName[src.CreatorName]
	if !ok {
		creatorID = s.id()
		s.creators[creatorID] = domain.Creator{ID: creatorID, Name: src.CreatorName, CreatedAt: now}
		s.creatorByName[src.CreatorName] = creatorID
	}

	row := domain.Source{
		ID:         s.id(),
		CreatorID:  creatorID,
		Platform:   src.Platform,
		NativeID:   src.NativeID,
		ProfileURL: src.ProfileURL,
		Active:     true,
		CreatedAt:  now,
	}
	s.sources[row.ID] = row
	s.sourceByKey[key] = row.ID

	h := s.handle(row)
	h.Created = true
	return h, nil
}

// MarkSourceScanned stamps the last scan time.
func (s *Store) MarkSourceScanned(_ context.Context, sourceID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[sourceID]
	if !ok {
		return domain.ErrNotFound
	}
	src.LastScannedAt = at
	s.sources[sourceID] = src
	return nil
}

// SetSourceActive toggles the soft activation flag.
func (s *Store) SetSourceActive(_ context.Context, sourceID int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[sourceID]
	if !ok {
		return domain.ErrNotFound
	}
	src.Active = active
	s.sources[sourceID] = src
	return nil
}

// ListSources returns sources ordered by ID.
func (s *Store) ListSources(_ context.Context, activeOnly bool) ([]domain.SourceHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.SourceHandle, 0, len(s.sources))
	for _, src := range s.sources {
		if activeOnly && !src.Active {
			continue
		}
		out = append(out, s.handle(src))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

// CreateItem inserts the item and its status record together.
func (s *Store) CreateItem(_ context.Context, sourceID int64, nativeID, url string, at time.Time) (domain.ItemHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sources[sourceID]; !ok {
		return domain.ItemHandle{}, fmt.Errorf("%w: source %d", domain.ErrNotFound, sourceID)
	}
	key := itemKey{sourceID, nativeID}
	if _, exists := s.itemByKey[key]; exists {
		return domain.ItemHandle{}, fmt.Errorf("%w: %s", domain.ErrDuplicateItem, nativeID)
	}

	id := s.id()
	s.items[id] = &itemRecord{
		item:   domain.Item{ID: id, SourceID: sourceID, NativeID: nativeID, URL: url, CreatedAt: at},
		status: domain.ItemStatus{ItemID: id},
		media:  map[string]string{},
		groups: map[int64]struct{}{},
	}
	s.itemByKey[key] = id
	return domain.ItemHandle{ID: id, SourceID: sourceID, NativeID: nativeID, URL: url}, nil
}

// KnownNativeIDs reports which of nativeIDs already exist for the source.
func (s *Store) KnownNativeIDs(_ context.Context, sourceID int64, nativeIDs []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]bool)
	for _, id := range nativeIDs {
		if _, ok := s.itemByKey[itemKey{sourceID, id}]; ok {
			known[id] = true
		}
	}
	return known, nil
}

func markerFor(status *domain.ItemStatus, phase domain.Phase) *domain.PhaseMarker {
	switch phase {
	case domain.PhaseDiscovery:
		return &status.Discovery
	case domain.PhaseDetail:
		return &status.Detail
	case domain.PhaseGrouping:
		return &status.Grouping
	default:
		return nil
	}
}

// MarkPhaseComplete sets the phase marker once.
func (s *Store) MarkPhaseComplete(_ context.Context, itemID int64, phase domain.Phase, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[itemID]
	if !ok {
		return false, domain.ErrNotFound
	}
	marker := markerFor(&rec.status, phase)
	if marker == nil {
		return false, phase.Validate()
	}
	if marker.Complete {
		return false, nil
	}
	marker.Complete = true
	marker.CompletedAt = at
	return true, nil
}

// RecordAttempt increments the counter and optionally appends an error.
func (s *Store) RecordAttempt(_ context.Context, itemID int64, phase domain.Phase, errRec *domain.ErrorRecord, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[itemID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	marker := markerFor(&rec.status, phase)
	if marker == nil {
		return 0, phase.Validate()
	}
	marker.Attempts++
	rec.status.AttemptCount++
	rec.status.LastAttemptAt = at
	if errRec != nil {
		rec.status.Errors = append(rec.status.Errors, *errRec)
	}
	return rec.status.AttemptCount, nil
}

// AppendError adds an error record without touching the counter.
func (s *Store) AppendError(_ context.Context, itemID int64, errRec domain.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[itemID]
	if !ok {
		return domain.ErrNotFound
	}
	rec.status.Errors = append(rec.status.Errors, errRec)
	return nil
}

// PendingItems returns one page of items whose phase is incomplete, ordered by ID.
func (s *Store) PendingItems(_ context.Context, q domain.PendingQuery) ([]domain.ItemHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.items))
	for id := range s.items {
		if id > q.AfterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	prior, hasPrior := q.Phase.Prior()
	var out []domain.ItemHandle
	for _, id := range ids {
		rec := s.items[id]
		if !rec.item.DeletedAt.IsZero() {
			continue
		}
		if q.SourceID != domain.AllSources && rec.item.SourceID != q.SourceID {
			continue
		}
		if rec.status.Marker(q.Phase).Complete {
			continue
		}
		if q.RequirePrior && hasPrior && !rec.status.Marker(prior).Complete {
			continue
		}
		if q.MaxAttempts > 0 && rec.status.Marker(q.Phase).Attempts >= q.MaxAttempts {
			continue
		}
		out = append(out, domain.ItemHandle{
			ID:           id,
			SourceID:     rec.item.SourceID,
			NativeID:     rec.item.NativeID,
			URL:          rec.item.URL,
			AttemptCount: rec.status.AttemptCount,
		})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// Item returns the stored item row.
func (s *Store) Item(_ context.Context, itemID int64) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[itemID]
	if !ok {
		return domain.Item{}, domain.ErrNotFound
	}
	item := rec.item
	item.Content = append([]byte(nil), rec.item.Content...)
	return item, nil
}

// ItemStatus returns a copy of the status record.
func (s *Store) ItemStatus(_ context.Context, itemID int64) (domain.ItemStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[itemID]
	if !ok {
		return domain.ItemStatus{}, domain.ErrNotFound
	}
	status := rec.status
	status.Errors = append([]domain.ErrorRecord(nil), rec.status.Errors...)
	status.LegacySnapshot = append([]byte(nil), rec.status.LegacySnapshot...)
	return status, nil
}

// Summary aggregates live items, optionally for one source.
func (s *Store) Summary(_ context.Context, sourceID int64) (domain.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum domain.Summary
	for _, rec := range s.items {
		if !rec.item.DeletedAt.IsZero() {
			continue
		}
		if sourceID != domain.AllSources && rec.item.SourceID != sourceID {
			continue
		}
		sum.Total++
		sum.Attempts += rec.status.AttemptCount
		if rec.status.Discovery.Complete {
			sum.DiscoveryDone++
		}
		if rec.status.Detail.Complete {
			sum.DetailDone++
		}
		if rec.status.Grouping.Complete {
			sum.GroupingDone++
		}
		if len(rec.status.Errors) > 0 {
			sum.ItemsWithErrors++
		}
	}
	return sum, nil
}

// Failures returns items with at least one error, newest error first.
func (s *Store) Failures(_ context.Context, sourceID int64, limit int) ([]domain.ItemFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ItemFailure
	for id, rec := range s.items {
		if len(rec.status.Errors) == 0 || !rec.item.DeletedAt.IsZero() {
			continue
		}
		if sourceID != domain.AllSources && rec.item.SourceID != sourceID {
			continue
		}
		out = append(out, domain.ItemFailure{
			Item: domain.ItemHandle{
				ID:           id,
				SourceID:     rec.item.SourceID,
				NativeID:     rec.item.NativeID,
				URL:          rec.item.URL,
				AttemptCount: rec.status.AttemptCount,
			},
			LastError: rec.status.Errors[len(rec.status.Errors)-1],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastError.OccurredAt.Equal(out[j].LastError.OccurredAt) {
			return out[i].Item.ID < out[j].Item.ID
		}
		return out[i].LastError.OccurredAt.After(out[j].LastError.OccurredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateItemDetail enriches the item in place.
func (s *Store) UpdateItemDetail(_ context.Context, itemID int64, detail domain.ItemDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[itemID]
	if !ok {
		return domain.ErrNotFound
	}
	rec.item.Title = detail.Title
	rec.item.Body = detail.Body
	rec.item.Content = append([]byte(nil), detail.Content...)
	rec.item.PublishedAt = detail.PublishedAt
	return nil
}

// SoftDeleteItem sets the administrative removal marker once.
func (s *Store) SoftDeleteItem(_ context.Context, itemID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[itemID]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.item.DeletedAt.IsZero() {
		rec.item.DeletedAt = at
	}
	return nil
}

// SetLegacySnapshot stores the opaque migrated-state blob.
func (s *Store) SetLegacySnapshot(_ context.Context, itemID int64, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[itemID]
	if !ok {
		return domain.ErrNotFound
	}
	rec.status.LegacySnapshot = append([]byte(nil), raw...)
	return nil
}

// LinkMedia records the (item, role) reference once.
func (s *Store) LinkMedia(_ context.Context, itemID int64, role, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[itemID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if _, ok := s.artifacts[fingerprint]; !ok {
		return false, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, fingerprint)
	}
	if _, linked := rec.media[role]; linked {
		return false, nil
	}
	rec.media[role] = fingerprint
	return true, nil
}

// ItemMedia returns role -> fingerprint for an item.
func (s *Store) ItemMedia(_ context.Context, itemID int64) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[itemID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make(map[string]string, len(rec.media))
	for role, fp := range rec.media {
		out[role] = fp
	}
	return out, nil
}

// AssignCollections upserts collections of the item's source and links the item.
func (s *Store) AssignCollections(_ context.Context, itemID int64, collections []domain.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[itemID]
	if !ok {
		return domain.ErrNotFound
	}
	for _, c := range collections {
		key := collectionKey{rec.item.SourceID, c.NativeID}
		id, ok := s.collections[key]
		if !ok {
			id = s.id()
			s.collections[key] = id
		}
		if strings.TrimSpace(c.Title) != "" {
			s.collectionNm[id] = c.Title
		}
		rec.groups[id] = struct{}{}
	}
	return nil
}

// AcquireArtifact increments an existing artifact's count.
func (s *Store) AcquireArtifact(_ context.Context, fingerprint string) (domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[fingerprint]
	if !ok {
		return domain.Artifact{}, domain.ErrNotFound
	}
	a.RefCount++
	s.artifacts[fingerprint] = a
	return a, nil
}

// InsertArtifact inserts or, on a fingerprint collision, increments.
func (s *Store) InsertArtifact(_ context.Context, artifact domain.Artifact) (domain.Artifact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.artifacts[artifact.Fingerprint]; ok {
		existing.RefCount++
		s.artifacts[artifact.Fingerprint] = existing
		return existing, false, nil
	}
	artifact.RefCount = 1
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	s.artifacts[artifact.Fingerprint] = artifact
	return artifact, true, nil
}

// ReleaseArtifact decrements the count, clamped at zero.
func (s *Store) ReleaseArtifact(_ context.Context, fingerprint string) (domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[fingerprint]
	if !ok {
		return domain.Artifact{}, domain.ErrNotFound
	}
	if a.RefCount > 0 {
		a.RefCount--
		s.artifacts[fingerprint] = a
	}
	return a, nil
}

// Artifact reads one artifact row.
func (s *Store) Artifact(_ context.Context, fingerprint string) (domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[fingerprint]
	if !ok {
		return domain.Artifact{}, domain.ErrNotFound
	}
	return a, nil
}

// UnreferencedArtifacts lists artifacts whose count dropped to zero.
func (s *Store) UnreferencedArtifacts(_ context.Context, limit int) ([]domain.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Artifact
	for _, a := range s.artifacts {
		if a.RefCount == 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Artifacts returns the number of artifact rows. Test helper for dedup checks.
func (s *Store) Artifacts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.artifacts)
}

// Creators returns the number of creator rows.
func (s *Store) Creators() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.creators)
}
