package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CreatorScanner/internal/domain"
)

var testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newSource(platform, id string) domain.NewSource {
	return domain.NewSource{Platform: platform, NativeID: id, CreatorName: "creator-" + id}
}

func nativeID(i int) string {
	return fmt.Sprintf("post-%05d", i)
}

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db, DialectPostgres), mock
}

func TestWrapErrClassifiesDriverErrors(t *testing.T) {
	t.Parallel()

	unique := &pq.Error{Code: "23505"}
	assert.ErrorIs(t, wrapErr("insert", unique), domain.ErrConflict)
	assert.ErrorIs(t, wrapErr("insert", errors.New("connection reset")), domain.ErrStorage)
	assert.ErrorIs(t, wrapErr("insert", domain.ErrNotFound), domain.ErrNotFound)
	assert.NoError(t, wrapErr("noop", nil))
}

func TestCreateItemRollsBackOnStatusFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM sources WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO items")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO item_status")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.CreateItem(context.Background(), 7, "p1", "", testTime)
	require.ErrorIs(t, err, domain.ErrStorage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateItemDuplicateIsReported(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM sources")).
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO items")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.CreateItem(context.Background(), 7, "p1", "", testTime)
	require.ErrorIs(t, err, domain.ErrDuplicateItem)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertArtifactFallsBackToIncrement(t *testing.T) {
	t.Parallel()

	cols := []string{"fingerprint", "path", "size", "media_type", "mime", "ref_count", "created_at"}
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO artifacts")).
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE artifacts SET ref_count = ref_count + 1")).
		WithArgs("sha256:aa").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("sha256:aa", "/m/aa", 3, "image", "image/png", 2, testTime))
	mock.ExpectCommit()

	a, inserted, err := store.InsertArtifact(context.Background(), domain.Artifact{
		Fingerprint: "sha256:aa", Path: "/m/aa", Size: 3, Type: domain.MediaImage,
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, 2, a.RefCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewSQLStorePlaceholders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dialect Dialect
		want    string
	}{
		{DialectPostgres, "SELECT id FROM items WHERE id = $1"},
		{DialectSQLite, "SELECT id FROM items WHERE id = ?"},
	}
	for _, tt := range tests {
		t.Run(string(tt.dialect), func(t *testing.T) {
			t.Parallel()

			store := NewSQLStore(nil, tt.dialect)
			query, args, err := store.sb.Select("id").From("items").Where(sq.Eq{"id": 1}).ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.want, query)
			assert.Equal(t, []any{1}, args)
		})
	}
}

func TestRecordAttemptIncrementsPhaseCounter(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(
		"UPDATE item_status SET attempt_count = attempt_count + 1, detail_attempts = detail_attempts + 1")).
		WillReturnRows(sqlmock.NewRows([]string{"attempt_count"}).AddRow(3))
	mock.ExpectCommit()

	count, err := store.RecordAttempt(context.Background(), 5, domain.PhaseDetail, nil, testTime)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingItemsBudgetsThePhaseCounter(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("st.grouping_attempts < $")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "source_id", "native_id", "url", "attempt_count"}))

	_, err := store.PendingItems(context.Background(), domain.PendingQuery{
		SourceID:     domain.AllSources,
		Phase:        domain.PhaseGrouping,
		RequirePrior: true,
		MaxAttempts:  3,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAttemptRejectsUnknownPhase(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	_, err := store.RecordAttempt(context.Background(), 5, domain.Phase("publish"), nil, testTime)
	require.ErrorIs(t, err, domain.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}
