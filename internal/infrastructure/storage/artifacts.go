package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"CreatorScanner/internal/domain"
)

var artifactColumns = []string{"fingerprint", "path", "size", "media_type", "mime", "ref_count", "created_at"}

func scanArtifact(row interface{ Scan(...any) error }) (domain.Artifact, error) {
	var (
		a         domain.Artifact
		mediaType string
	)
	if err := row.Scan(&a.Fingerprint, &a.Path, &a.Size, &mediaType, &a.MIME, &a.RefCount, &a.CreatedAt); err != nil {
		return domain.Artifact{}, err
	}
	a.Type = domain.MediaType(mediaType)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func (s *SQLStore) adjustRefCount(ctx context.Context, db execer, fingerprint string, expr sq.Sqlizer) (domain.Artifact, error) {
	query, args, err := s.sb.Update("artifacts").
		Set("ref_count", expr).
		Where(sq.Eq{"fingerprint": fingerprint}).
		Suffix("RETURNING " + strings.Join(artifactColumns, ", ")).
		ToSql()
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("build statement: %w", err)
	}
	a, err := scanArtifact(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Artifact{}, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, fingerprint)
	}
	if err != nil {
		return domain.Artifact{}, wrapErr("update ref count", err)
	}
	return a, nil
}

// AcquireArtifact increments an existing artifact's reference count atomically.
func (s *SQLStore) AcquireArtifact(ctx context.Context, fingerprint string) (domain.Artifact, error) {
	return s.adjustRefCount(ctx, s.db, fingerprint, sq.Expr("ref_count + 1"))
}

// InsertArtifact inserts a fresh row or, when a concurrent writer won, increments it.
func (s *SQLStore) InsertArtifact(ctx context.Context, artifact domain.Artifact) (domain.Artifact, bool, error) {
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}

	var (
		out      domain.Artifact
		inserted bool
	)
	err := s.withTx(ctx, "insert artifact", func(tx *sql.Tx) error {
		query, args, err := s.sb.Insert("artifacts").
			Columns(artifactColumns...).
			Values(artifact.Fingerprint, artifact.Path, artifact.Size, string(artifact.Type),
				artifact.MIME, 1, artifact.CreatedAt.UTC()).
			Suffix("ON CONFLICT (fingerprint) DO NOTHING RETURNING " + strings.Join(artifactColumns, ", ")).
			ToSql()
		if err != nil {
			return fmt.Errorf("build statement: %w", err)
		}

		out, err = scanArtifact(tx.QueryRowContext(ctx, query, args...))
		if err == nil {
			inserted = true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return wrapErr("insert artifact", err)
		}

		out, err = s.adjustRefCount(ctx, tx, artifact.Fingerprint, sq.Expr("ref_count + 1"))
		return err
	})
	if err != nil {
		return domain.Artifact{}, false, err
	}
	return out, inserted, nil
}

// ReleaseArtifact decrements the reference count, clamped at zero.
func (s *SQLStore) ReleaseArtifact(ctx context.Context, fingerprint string) (domain.Artifact, error) {
	return s.adjustRefCount(ctx, s.db, fingerprint,
		sq.Expr("CASE WHEN ref_count > 0 THEN ref_count - 1 ELSE 0 END"))
}

// Artifact reads one artifact row.
func (s *SQLStore) Artifact(ctx context.Context, fingerprint string) (domain.Artifact, error) {
	query, args, err := s.sb.Select(artifactColumns...).
		From("artifacts").
		Where(sq.Eq{"fingerprint": fingerprint}).
		ToSql()
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("build query: %w", err)
	}
	a, err := scanArtifact(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Artifact{}, fmt.Errorf("%w: artifact %s", domain.ErrNotFound, fingerprint)
	}
	if err != nil {
		return domain.Artifact{}, wrapErr("get artifact", err)
	}
	return a, nil
}

// UnreferencedArtifacts lists reclamation candidates ordered by fingerprint.
func (s *SQLStore) UnreferencedArtifacts(ctx context.Context, limit int) ([]domain.Artifact, error) {
	b := s.sb.Select(artifactColumns...).
		From("artifacts").
		Where(sq.Eq{"ref_count": 0}).
		OrderBy("fingerprint")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}

	var out []domain.Artifact
	err := many(ctx, s.db, b, func(rows *sql.Rows) error {
		a, err := scanArtifact(rows)
		if err != nil {
			return fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, wrapErr("list unreferenced artifacts", err)
	}
	return out, nil
}
