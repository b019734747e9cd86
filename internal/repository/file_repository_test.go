package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qbank-api/internal/models"
)

var fileRowColumns = []string{
	"id", "original_name", "stored_name", "storage_path", "file_type", "file_size", "category", "question_set_id",
	"uploaded_by", "mime_type", "language_type", "supports_preview", "replaces_file_id", "is_deleted", "deleted_at", "deleted_by",
	"created_at", "updated_at",
}

func newFileRepoMock(t *testing.T) (*FileRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewFileRepository(sqlx.NewDb(db, "sqlmock")), mock, func() { db.Close() }
}

func activeFileRow(rows *sqlmock.Rows, id, parentID int64, category models.FileCategory, createdAt time.Time) *sqlmock.Rows {
	return rows.AddRow(id, "kunci.py", "a1.py", "answers/a1.py", "PY", 120, string(category), parentID,
		int64(7), "text/x-python", "Python", false, nil, false, nil, nil, createdAt, createdAt)
}

func deletedFileRow(rows *sqlmock.Rows, id, parentID int64, category models.FileCategory, deletedAt time.Time) *sqlmock.Rows {
	return rows.AddRow(id, "old.py", "a0.py", "answers/a0.py", "PY", 90, string(category), parentID,
		int64(7), nil, "Python", false, nil, true, deletedAt, int64(7), deletedAt.Add(-time.Hour), deletedAt)
}

func TestFileRepositoryCreateValidates(t *testing.T) {
	repo, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	err := repo.Create(context.Background(), &models.FileRecord{OriginalName: "soal.pdf"})
	require.ErrorIs(t, err, ErrInvalidFile)
	assert.Contains(t, err.Error(), "storage_path")
	assert.Contains(t, err.Error(), "question_set_id")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryCreate(t *testing.T) {
	repo, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO files")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(31)))

	file := &models.FileRecord{
		OriginalName:  "cases.txt",
		StoredName:    "c.txt",
		StoragePath:   "testCases/c.txt",
		FileType:      "TXT",
		FileSize:      18,
		Category:      models.CategoryTestCases,
		QuestionSetID: 10,
		UploadedBy:    7,
	}
	require.NoError(t, repo.Create(context.Background(), file))
	assert.Equal(t, int64(31), file.ID)
	assert.False(t, file.IsDeleted)
	assert.Nil(t, file.DeletedAt)
	assert.False(t, file.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryListByParentFiltersCategories(t *testing.T) {
	repo, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows(fileRowColumns)
	activeFileRow(rows, 1, 10, models.CategoryQuestions, now)
	activeFileRow(rows, 2, 10, models.CategoryTestCases, now)
	mock.ExpectQuery(`(?s)SELECT .* FROM files WHERE question_set_id = ANY\(\$1\) AND is_deleted = FALSE AND category = ANY\(\$2\) ORDER BY question_set_id ASC, category ASC, id ASC`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rows)

	files, err := repo.ListByParent(context.Background(), 10, models.FileFilter{
		Categories: []models.FileCategory{models.CategoryQuestions, models.CategoryTestCases},
	})
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, models.CategoryTestCases, files[1].Category)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryListDeletedNewestFirst(t *testing.T) {
	repo, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(`is_deleted = TRUE ORDER BY deleted_at DESC, id DESC`).
		WillReturnRows(sqlmock.NewRows(fileRowColumns))

	files, err := repo.ListByParent(context.Background(), 10, models.FileFilter{OnlyDeleted: true, NewestFirst: true})
	require.NoError(t, err)
	assert.Empty(t, files)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositorySoftDeleteIsStateGuarded(t *testing.T) {
	repo, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE files SET is_deleted = TRUE")).
		WithArgs(int64(4), at, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE files SET is_deleted = TRUE")).
		WithArgs(int64(4), at, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SoftDelete(context.Background(), 4, 7, at))
	err := repo.SoftDelete(context.Background(), 4, 7, at)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryRestoreAndDestroy(t *testing.T) {
	repo, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE files SET is_deleted = FALSE, deleted_at = NULL, deleted_by = NULL")).
		WithArgs(int64(4), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM files WHERE id = $1 AND is_deleted = TRUE")).
		WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.ErrorIs(t, repo.Restore(context.Background(), 4), sql.ErrNoRows)
	require.NoError(t, repo.Destroy(context.Background(), 4))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryBulkRestoreReportsAffected(t *testing.T) {
	repo, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = ANY($1) AND is_deleted = TRUE RETURNING id")).
		WithArgs("{1,2,3}", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(3)))

	affected, err := repo.BulkRestore(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryBulkDestroyReturnsBlobKeys(t *testing.T) {
	repo, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM files WHERE id = ANY($1) AND is_deleted = TRUE RETURNING id, storage_path")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "storage_path"}).AddRow(int64(2), "answers/x.py"))

	destroyed, err := repo.BulkDestroy(context.Background(), []int64{2, 9})
	require.NoError(t, err)
	require.Len(t, destroyed, 1)
	assert.Equal(t, "answers/x.py", destroyed[0].StoragePath)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryReplaceCommitsBothChanges(t *testing.T) {
	repo, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	created := time.Now().Add(-24 * time.Hour)
	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND is_deleted = FALSE FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(activeFileRow(sqlmock.NewRows(fileRowColumns), 5, 10, models.CategoryAnswers, created))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO files")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(6)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE files SET is_deleted = TRUE")).
		WithArgs(int64(5), at, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	replacement := &models.FileRecord{OriginalName: "kunci_v2.py", StoredName: "b.py", StoragePath: "answers/b.py", FileType: "PY", FileSize: 40, UploadedBy: 7}
	old, err := repo.Replace(context.Background(), 5, replacement, 7, at)
	require.NoError(t, err)
	assert.Equal(t, int64(6), replacement.ID)
	assert.Equal(t, models.CategoryAnswers, replacement.Category)
	assert.Equal(t, int64(10), replacement.QuestionSetID)
	require.NotNil(t, replacement.ReplacesFileID)
	assert.Equal(t, int64(5), *replacement.ReplacesFileID)
	assert.True(t, old.IsDeleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryReplaceRollsBackWhenSoftDeleteFails(t *testing.T) {
	repo, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(activeFileRow(sqlmock.NewRows(fileRowColumns), 5, 10, models.CategoryAnswers, time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO files")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(6)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE files SET is_deleted = TRUE")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	replacement := &models.FileRecord{OriginalName: "kunci_v2.py", StoredName: "b.py", StoragePath: "answers/b.py", FileType: "PY", UploadedBy: 7}
	_, err := repo.Replace(context.Background(), 5, replacement, 7, time.Now())
	require.Error(t, err)
	assert.NotErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryReplaceMissingTarget(t *testing.T) {
	repo, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Replace(context.Background(), 5, &models.FileRecord{}, 7, time.Now())
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryRollbackWithoutCandidate(t *testing.T) {
	repo, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND is_deleted = FALSE FOR UPDATE")).
		WithArgs(int64(6)).
		WillReturnRows(activeFileRow(sqlmock.NewRows(fileRowColumns), 6, 10, models.CategoryAnswers, time.Now()))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY deleted_at DESC, id DESC LIMIT 1 FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(fileRowColumns))
	mock.ExpectRollback()

	_, _, err := repo.RollbackReplacement(context.Background(), 6, 7, time.Now())
	require.ErrorIs(t, err, ErrNoRollbackCandidate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryRollbackRestoresPrevious(t *testing.T) {
	repo, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	at := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND is_deleted = FALSE FOR UPDATE")).
		WithArgs(int64(6)).
		WillReturnRows(activeFileRow(sqlmock.NewRows(fileRowColumns), 6, 10, models.CategoryAnswers, created))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY deleted_at DESC, id DESC LIMIT 1 FOR UPDATE")).
		WithArgs(int64(10), "answers", created, int64(6)).
		WillReturnRows(deletedFileRow(sqlmock.NewRows(fileRowColumns), 5, 10, models.CategoryAnswers, created.Add(-time.Second)))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE files SET is_deleted = FALSE")).
		WithArgs(int64(5), at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE files SET is_deleted = TRUE")).
		WithArgs(int64(6), at, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	restored, removed, err := repo.RollbackReplacement(context.Background(), 6, 7, at)
	require.NoError(t, err)
	assert.Equal(t, int64(5), restored.ID)
	assert.False(t, restored.IsDeleted)
	assert.Nil(t, restored.DeletedAt)
	assert.Equal(t, int64(6), removed.ID)
	assert.True(t, removed.IsDeleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileRepositoryCompleteness(t *testing.T) {
	repo, mock, cleanup := newFileRepoMock(t)
	defer cleanup()

	mock.ExpectQuery(regexp.QuoteMeta("BOOL_OR(category = 'answers')")).
		WithArgs(int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"question_set_id", "has_questions", "has_answer_key", "has_test_case"}).
			AddRow(int64(10), true, true, false))

	result, err := repo.Completeness(context.Background(), 10)
	require.NoError(t, err)
	assert.True(t, result.HasAnswerKey)
	assert.False(t, result.HasTestCase)
	require.NoError(t, mock.ExpectationsWereMet())
}
