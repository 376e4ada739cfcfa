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

func (s *SQLStore) sourceSelect() sq.SelectBuilder {
	return s.sb.Select(
		"s.id", "s.creator_id", "c.name", "s.platform", "s.native_id", "s.profile_url", "s.active",
	).From("sources s").Join("creators c ON c.id = s.creator_id")
}

func scanSource(row interface{ Scan(...any) error }) (domain.SourceHandle, error) {
	var h domain.SourceHandle
	err := row.Scan(&h.SourceID, &h.CreatorID, &h.CreatorName, &h.Platform, &h.NativeID, &h.ProfileURL, &h.Active)
	return h, err
}

// FindSource looks a source up by (platform, native id).
func (s *SQLStore) FindSource(ctx context.Context, platform, nativeID string) (domain.SourceHandle, error) {
	query, args, err := s.sourceSelect().
		Where(sq.Eq{"s.platform": platform, "s.native_id": nativeID}).
		ToSql()
	if err != nil {
		return domain.SourceHandle{}, fmt.Errorf("build query: %w", err)
	}

	h, err := scanSource(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SourceHandle{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.SourceHandle{}, wrapErr("find source", err)
	}
	return h, nil
}

// CreateSource finds or creates the creator by exact name and inserts the source.
func (s *SQLStore) CreateSource(ctx context.Context, src domain.NewSource) (domain.SourceHandle, error) {
	now := time.Now().UTC()
	h := domain.SourceHandle{
		CreatorName: src.CreatorName,
		Platform:    src.Platform,
		NativeID:    src.NativeID,
		ProfileURL:  src.ProfileURL,
		Active:      true,
		Created:     true,
	}

	err := s.withTx(ctx, "create source", func(tx *sql.Tx) error {
		_, err := exec(ctx, tx, s.sb.Insert("creators").
			Columns("name", "created_at").
			Values(src.CreatorName, now).
			Suffix("ON CONFLICT (name) DO NOTHING"))
		if err != nil {
			return wrapErr("insert creator", err)
		}

		err = one(ctx, tx, s.sb.Select("id").From("creators").Where(sq.Eq{"name": src.CreatorName}), &h.CreatorID)
		if err != nil {
			return wrapErr("select creator", err)
		}

		err = one(ctx, tx, s.sb.Insert("sources").
			Columns("creator_id", "platform", "native_id", "profile_url", "active", "created_at").
			Values(h.CreatorID, src.Platform, src.NativeID, src.ProfileURL, true, now).
			Suffix("ON CONFLICT (platform, native_id) DO NOTHING RETURNING id"), &h.SourceID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: source %s/%s", domain.ErrConflict, src.Platform, src.NativeID)
		}
		if err != nil {
			return wrapErr("insert source", err)
		}
		return nil
	})
	if err != nil {
		return domain.SourceHandle{}, err
	}
	return h, nil
}

// MarkSourceScanned stamps the last scan time.
func (s *SQLStore) MarkSourceScanned(ctx context.Context, sourceID int64, at time.Time) error {
	n, err := exec(ctx, s.db, s.sb.Update("sources").
		Set("last_scanned_at", at.UTC()).
		Where(sq.Eq{"id": sourceID}))
	if err != nil {
		return wrapErr("mark source scanned", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetSourceActive toggles the soft activation flag.
func (s *SQLStore) SetSourceActive(ctx context.Context, sourceID int64, active bool) error {
	n, err := exec(ctx, s.db, s.sb.Update("sources").
		Set("active", active).
		Where(sq.Eq{"id": sourceID}))
	if err != nil {
		return wrapErr("set source active", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListSources returns sources ordered by ID.
func (s *SQLStore) ListSources(ctx context.Context, activeOnly bool) ([]domain.SourceHandle, error) {
	b := s.sourceSelect().OrderBy("s.id")
	if activeOnly {
		b = b.Where(sq.Eq{"s.active": true})
	}

	var out []domain.SourceHandle
	err := many(ctx, s.db, b, func(rows *sql.Rows) error {
		h, err := scanSource(rows)
		if err != nil {
			return fmt.Errorf("scan source: %w", err)
		}
		out = append(out, h)
		return nil
	})
	if err != nil {
		return nil, wrapErr("list sources", err)
	}
	return out, nil
}
