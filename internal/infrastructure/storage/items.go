package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"CreatorScanner/internal/domain"
)

// knownIDsChunk bounds the IN list so SQLite stays under its variable limit.
const knownIDsChunk = 500

func phaseColumn(p domain.Phase) (string, error) {
	switch p {
	case domain.PhaseDiscovery:
		return "discovered_at", nil
	case domain.PhaseDetail:
		return "detailed_at", nil
	case domain.PhaseGrouping:
		return "grouped_at", nil
	default:
		return "", p.Validate()
	}
}

func attemptsColumn(p domain.Phase) (string, error) {
	switch p {
	case domain.PhaseDiscovery:
		return "discovery_attempts", nil
	case domain.PhaseDetail:
		return "detail_attempts", nil
	case domain.PhaseGrouping:
		return "grouping_attempts", nil
	default:
		return "", p.Validate()
	}
}

func (s *SQLStore) itemExists(ctx context.Context, db execer, itemID int64) error {
	var exists int
	err := one(ctx, db, s.sb.Select("1").From("items").Where(sq.Eq{"id": itemID}), &exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: item %d", domain.ErrNotFound, itemID)
	}
	if err != nil {
		return wrapErr("check item", err)
	}
	return nil
}

// CreateItem inserts the item and its status record in one transaction.
func (s *SQLStore) CreateItem(ctx context.Context, sourceID int64, nativeID, url string, at time.Time) (domain.ItemHandle, error) {
	h := domain.ItemHandle{SourceID: sourceID, NativeID: nativeID, URL: url}

	err := s.withTx(ctx, "create item", func(tx *sql.Tx) error {
		var exists int
		err := one(ctx, tx, s.sb.Select("1").From("sources").Where(sq.Eq{"id": sourceID}), &exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: source %d", domain.ErrNotFound, sourceID)
		}
		if err != nil {
			return wrapErr("check source", err)
		}

		err = one(ctx, tx, s.sb.Insert("items").
			Columns("source_id", "native_id", "url", "created_at").
			Values(sourceID, nativeID, url, at.UTC()).
			Suffix("ON CONFLICT (source_id, native_id) DO NOTHING RETURNING id"), &h.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateItem, nativeID)
		}
		if err != nil {
			return wrapErr("insert item", err)
		}

		if _, err := exec(ctx, tx, s.sb.Insert("item_status").Columns("item_id").Values(h.ID)); err != nil {
			return wrapErr("insert item status", err)
		}
		return nil
	})
	if err != nil {
		return domain.ItemHandle{}, err
	}
	return h, nil
}

// KnownNativeIDs returns the subset of nativeIDs already stored for the source.
func (s *SQLStore) KnownNativeIDs(ctx context.Context, sourceID int64, nativeIDs []string) (map[string]bool, error) {
	result := make(map[string]bool)
	for start := 0; start < len(nativeIDs); start += knownIDsChunk {
		end := min(start+knownIDsChunk, len(nativeIDs))
		b := s.sb.Select("native_id").From("items").
			Where(sq.Eq{"source_id": sourceID, "native_id": nativeIDs[start:end]})

		err := many(ctx, s.db, b, func(rows *sql.Rows) error {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan id: %w", err)
			}
			result[id] = true
			return nil
		})
		if err != nil {
			return nil, wrapErr("query known ids", err)
		}
	}
	return result, nil
}

// MarkPhaseComplete sets the phase timestamp only while it is still NULL.
func (s *SQLStore) MarkPhaseComplete(ctx context.Context, itemID int64, phase domain.Phase, at time.Time) (bool, error) {
	col, err := phaseColumn(phase)
	if err != nil {
		return false, err
	}

	var changed bool
	err = s.withTx(ctx, "mark phase complete", func(tx *sql.Tx) error {
		n, err := exec(ctx, tx, s.sb.Update("item_status").
			Set(col, at.UTC()).
			Where(sq.Eq{"item_id": itemID}).
			Where(col+" IS NULL"))
		if err != nil {
			return wrapErr("update phase", err)
		}
		if n > 0 {
			changed = true
			return nil
		}
		return s.itemExists(ctx, tx, itemID)
	})
	return changed, err
}

// RecordAttempt increments the counter and appends the optional error record.
func (s *SQLStore) RecordAttempt(ctx context.Context, itemID int64, phase domain.Phase, rec *domain.ErrorRecord, at time.Time) (int, error) {
	attempts, err := attemptsColumn(phase)
	if err != nil {
		return 0, err
	}
	var count int
	err = s.withTx(ctx, "record attempt", func(tx *sql.Tx) error {
		err := one(ctx, tx, s.sb.Update("item_status").
			Set("attempt_count", sq.Expr("attempt_count + 1")).
			Set(attempts, sq.Expr(attempts+" + 1")).
			Set("last_attempt_at", at.UTC()).
			Set("last_attempt_phase", string(phase)).
			Where(sq.Eq{"item_id": itemID}).
			Suffix("RETURNING attempt_count"), &count)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: item %d", domain.ErrNotFound, itemID)
		}
		if err != nil {
			return wrapErr("increment attempts", err)
		}
		if rec == nil {
			return nil
		}
		return s.insertError(ctx, tx, itemID, *rec)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *SQLStore) insertError(ctx context.Context, tx execer, itemID int64, rec domain.ErrorRecord) error {
	_, err := exec(ctx, tx, s.sb.Insert("item_errors").
		Columns("item_id", "phase", "message", "occurred_at").
		Values(itemID, string(rec.Phase), rec.Message, rec.OccurredAt.UTC()))
	if err != nil {
		return wrapErr("insert error record", err)
	}
	return nil
}

// AppendError adds an error record without touching the counter.
func (s *SQLStore) AppendError(ctx context.Context, itemID int64, rec domain.ErrorRecord) error {
	return s.withTx(ctx, "append error", func(tx *sql.Tx) error {
		if err := s.itemExists(ctx, tx, itemID); err != nil {
			return err
		}
		return s.insertError(ctx, tx, itemID, rec)
	})
}

// PendingItems returns one keyset page of items whose phase is incomplete.
func (s *SQLStore) PendingItems(ctx context.Context, q domain.PendingQuery) ([]domain.ItemHandle, error) {
	col, err := phaseColumn(q.Phase)
	if err != nil {
		return nil, err
	}

	b := s.sb.Select("i.id", "i.source_id", "i.native_id", "i.url", "st.attempt_count").
		From("items i").
		Join("item_status st ON st.item_id = i.id").
		Where("i.deleted_at IS NULL").
		Where("st." + col + " IS NULL").
		Where(sq.Gt{"i.id": q.AfterID}).
		OrderBy("i.id")
	if q.SourceID != domain.AllSources {
		b = b.Where(sq.Eq{"i.source_id": q.SourceID})
	}
	if prior, ok := q.Phase.Prior(); ok && q.RequirePrior {
		priorCol, _ := phaseColumn(prior)
		b = b.Where("st." + priorCol + " IS NOT NULL")
	}
	if q.MaxAttempts > 0 {
		attempts, _ := attemptsColumn(q.Phase)
		b = b.Where(sq.Lt{"st." + attempts: q.MaxAttempts})
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	var out []domain.ItemHandle
	err = many(ctx, s.db, b, func(rows *sql.Rows) error {
		var h domain.ItemHandle
		if err := rows.Scan(&h.ID, &h.SourceID, &h.NativeID, &h.URL, &h.AttemptCount); err != nil {
			return fmt.Errorf("scan pending item: %w", err)
		}
		out = append(out, h)
		return nil
	})
	if err != nil {
		return nil, wrapErr("query pending items", err)
	}
	return out, nil
}

// Item reads one item row.
func (s *SQLStore) Item(ctx context.Context, itemID int64) (domain.Item, error) {
	var (
		item      domain.Item
		content   string
		published sql.NullTime
		deleted   sql.NullTime
	)
	err := one(ctx, s.db, s.sb.Select(
		"id", "source_id", "native_id", "url", "title", "body", "content", "published_at", "created_at", "deleted_at",
	).From("items").Where(sq.Eq{"id": itemID}),
		&item.ID, &item.SourceID, &item.NativeID, &item.URL, &item.Title, &item.Body,
		&content, &published, &item.CreatedAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Item{}, fmt.Errorf("%w: item %d", domain.ErrNotFound, itemID)
	}
	if err != nil {
		return domain.Item{}, wrapErr("get item", err)
	}
	if content != "" {
		item.Content = []byte(content)
	}
	item.PublishedAt = timeOf(published)
	item.DeletedAt = timeOf(deleted)
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}

// ItemStatus reads the status record with its ordered error history.
func (s *SQLStore) ItemStatus(ctx context.Context, itemID int64) (domain.ItemStatus, error) {
	status := domain.ItemStatus{ItemID: itemID}
	err := s.withTx(ctx, "get item status", func(tx *sql.Tx) error {
		var (
			discovered, detailed, grouped, lastAttempt sql.NullTime
			perPhase                                   [3]int
		)
		err := one(ctx, tx, s.sb.Select(
			"discovered_at", "detailed_at", "grouped_at", "attempt_count", "last_attempt_at", "legacy_snapshot",
			"discovery_attempts", "detail_attempts", "grouping_attempts",
		).From("item_status").Where(sq.Eq{"item_id": itemID}),
			&discovered, &detailed, &grouped, &status.AttemptCount, &lastAttempt, &status.LegacySnapshot,
			&perPhase[0], &perPhase[1], &perPhase[2])
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: item %d", domain.ErrNotFound, itemID)
		}
		if err != nil {
			return wrapErr("get status", err)
		}
		status.Discovery = marker(discovered, perPhase[0])
		status.Detail = marker(detailed, perPhase[1])
		status.Grouping = marker(grouped, perPhase[2])
		status.LastAttemptAt = timeOf(lastAttempt)

		err = many(ctx, tx, s.sb.Select("phase", "message", "occurred_at").
			From("item_errors").
			Where(sq.Eq{"item_id": itemID}).
			OrderBy("id"), func(rows *sql.Rows) error {
			var (
				rec   domain.ErrorRecord
				phase string
			)
			if err := rows.Scan(&phase, &rec.Message, &rec.OccurredAt); err != nil {
				return fmt.Errorf("scan error record: %w", err)
			}
			rec.Phase = domain.Phase(phase)
			rec.OccurredAt = rec.OccurredAt.UTC()
			status.Errors = append(status.Errors, rec)
			return nil
		})
		if err != nil {
			return wrapErr("list error records", err)
		}
		return nil
	})
	if err != nil {
		return domain.ItemStatus{}, err
	}
	return status, nil
}

func marker(t sql.NullTime, attempts int) domain.PhaseMarker {
	return domain.PhaseMarker{Complete: t.Valid, CompletedAt: timeOf(t), Attempts: attempts}
}

// Summary aggregates live items, optionally for one source.
func (s *SQLStore) Summary(ctx context.Context, sourceID int64) (domain.Summary, error) {
	totals := s.sb.Select(
		"COUNT(*)", "COUNT(st.discovered_at)", "COUNT(st.detailed_at)", "COUNT(st.grouped_at)",
		"COALESCE(SUM(st.attempt_count), 0)",
	).From("items i").
		Join("item_status st ON st.item_id = i.id").
		Where("i.deleted_at IS NULL")
	withErrors := s.sb.Select("COUNT(DISTINCT e.item_id)").
		From("item_errors e").
		Join("items i ON i.id = e.item_id").
		Where("i.deleted_at IS NULL")
	if sourceID != domain.AllSources {
		totals = totals.Where(sq.Eq{"i.source_id": sourceID})
		withErrors = withErrors.Where(sq.Eq{"i.source_id": sourceID})
	}

	var total, discovered, detailed, grouped, attempts, errored int64
	err := s.withTx(ctx, "summary", func(tx *sql.Tx) error {
		if err := one(ctx, tx, totals, &total, &discovered, &detailed, &grouped, &attempts); err != nil {
			return wrapErr("count items", err)
		}
		if err := one(ctx, tx, withErrors, &errored); err != nil {
			return wrapErr("count errored items", err)
		}
		return nil
	})
	if err != nil {
		return domain.Summary{}, err
	}

	return domain.Summary{
		Total:           int(total),
		DiscoveryDone:   int(discovered),
		DetailDone:      int(detailed),
		GroupingDone:    int(grouped),
		ItemsWithErrors: int(errored),
		Attempts:        int(attempts),
	}, nil
}

// Failures lists items with their latest error, newest first.
func (s *SQLStore) Failures(ctx context.Context, sourceID int64, limit int) ([]domain.ItemFailure, error) {
	b := s.sb.Select(
		"i.id", "i.source_id", "i.native_id", "i.url", "st.attempt_count", "e.phase", "e.message", "e.occurred_at",
	).From("item_errors e").
		Join("items i ON i.id = e.item_id").
		Join("item_status st ON st.item_id = i.id").
		Where("e.id IN (SELECT MAX(id) FROM item_errors GROUP BY item_id)").
		Where("i.deleted_at IS NULL").
		OrderBy("e.occurred_at DESC", "i.id")
	if sourceID != domain.AllSources {
		b = b.Where(sq.Eq{"i.source_id": sourceID})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	var out []domain.ItemFailure
	err := many(ctx, s.db, b, func(rows *sql.Rows) error {
		var (
			f     domain.ItemFailure
			phase string
		)
		if err := rows.Scan(&f.Item.ID, &f.Item.SourceID, &f.Item.NativeID, &f.Item.URL, &f.Item.AttemptCount,
			&phase, &f.LastError.Message, &f.LastError.OccurredAt); err != nil {
			return fmt.Errorf("scan failure: %w", err)
		}
		f.LastError.Phase = domain.Phase(phase)
		f.LastError.OccurredAt = f.LastError.OccurredAt.UTC()
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, wrapErr("list failures", err)
	}
	return out, nil
}

// UpdateItemDetail enriches the item row in place.
func (s *SQLStore) UpdateItemDetail(ctx context.Context, itemID int64, detail domain.ItemDetail) error {
	n, err := exec(ctx, s.db, s.sb.Update("items").
		Set("title", detail.Title).
		Set("body", detail.Body).
		Set("content", string(detail.Content)).
		Set("published_at", nullable(detail.PublishedAt)).
		Where(sq.Eq{"id": itemID}))
	if err != nil {
		return wrapErr("update item detail", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: item %d", domain.ErrNotFound, itemID)
	}
	return nil
}

// SoftDeleteItem sets the removal marker once.
func (s *SQLStore) SoftDeleteItem(ctx context.Context, itemID int64, at time.Time) error {
	return s.withTx(ctx, "soft delete item", func(tx *sql.Tx) error {
		n, err := exec(ctx, tx, s.sb.Update("items").
			Set("deleted_at", at.UTC()).
			Where(sq.Eq{"id": itemID}).
			Where("deleted_at IS NULL"))
		if err != nil {
			return wrapErr("mark deleted", err)
		}
		if n > 0 {
			return nil
		}
		return s.itemExists(ctx, tx, itemID)
	})
}

// SetLegacySnapshot stores the opaque migrated-state blob.
func (s *SQLStore) SetLegacySnapshot(ctx context.Context, itemID int64, raw []byte) error {
	n, err := exec(ctx, s.db, s.sb.Update("item_status").
		Set("legacy_snapshot", raw).
		Where(sq.Eq{"item_id": itemID}))
	if err != nil {
		return wrapErr("set legacy snapshot", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: item %d", domain.ErrNotFound, itemID)
	}
	return nil
}

// LinkMedia records the (item, role) reference once.
func (s *SQLStore) LinkMedia(ctx context.Context, itemID int64, role, fingerprint string) (bool, error) {
	var linked bool
	err := s.withTx(ctx, "link media", func(tx *sql.Tx) error {
		if err := s.itemExists(ctx, tx, itemID); err != nil {
			return err
		}
		var exists int
		err := one(ctx, tx, s.sb.Select("1").From("artifacts").Where(sq.Eq{"fingerprint": fingerprint}), &exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: artifact %s", domain.ErrNotFound, fingerprint)
		}
		if err != nil {
			return wrapErr("check artifact", err)
		}

		n, err := exec(ctx, tx, s.sb.Insert("item_media").
			Columns("item_id", "role", "fingerprint").
			Values(itemID, role, fingerprint).
			Suffix("ON CONFLICT (item_id, role) DO NOTHING"))
		if err != nil {
			return wrapErr("insert item media", err)
		}
		linked = n > 0
		return nil
	})
	return linked, err
}

// ItemMedia returns role -> fingerprint for an item.
func (s *SQLStore) ItemMedia(ctx context.Context, itemID int64) (map[string]string, error) {
	out := map[string]string{}
	err := s.withTx(ctx, "item media", func(tx *sql.Tx) error {
		if err := s.itemExists(ctx, tx, itemID); err != nil {
			return err
		}
		err := many(ctx, tx, s.sb.Select("role", "fingerprint").
			From("item_media").
			Where(sq.Eq{"item_id": itemID}), func(rows *sql.Rows) error {
			var role, fp string
			if err := rows.Scan(&role, &fp); err != nil {
				return fmt.Errorf("scan item media: %w", err)
			}
			out[role] = fp
			return nil
		})
		return wrapErr("list item media", err)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AssignCollections upserts the item's source collections and links the item.
func (s *SQLStore) AssignCollections(ctx context.Context, itemID int64, collections []domain.Collection) error {
	return s.withTx(ctx, "assign collections", func(tx *sql.Tx) error {
		var sourceID int64
		err := one(ctx, tx, s.sb.Select("source_id").From("items").Where(sq.Eq{"id": itemID}), &sourceID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: item %d", domain.ErrNotFound, itemID)
		}
		if err != nil {
			return wrapErr("get item source", err)
		}

		for _, c := range collections {
			var collectionID int64
			err := one(ctx, tx, s.sb.Insert("collections").
				Columns("source_id", "native_id", "title").
				Values(sourceID, c.NativeID, c.Title).
				Suffix(`ON CONFLICT (source_id, native_id) DO UPDATE
				SET title = CASE WHEN excluded.title <> '' THEN excluded.title ELSE collections.title END
				RETURNING id`), &collectionID)
			if err != nil {
				return wrapErr("upsert collection", err)
			}

			_, err = exec(ctx, tx, s.sb.Insert("collection_items").
				Columns("collection_id", "item_id").
				Values(collectionID, itemID).
				Suffix("ON CONFLICT (collection_id, item_id) DO NOTHING"))
			if err != nil {
				return wrapErr("link collection item", err)
			}
		}
		return nil
	})
}
