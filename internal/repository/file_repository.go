package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/qbank-api/internal/models"
)

var (
	// ErrInvalidFile is returned by Create when a required column is missing.
	ErrInvalidFile = errors.New("file record missing required fields")
	// ErrNoRollbackCandidate means no earlier version exists for a rollback.
	ErrNoRollbackCandidate = errors.New("no previous version to roll back to")
)

const fileColumns = `id, original_name, stored_name, storage_path, file_type, file_size, category, question_set_id,
       uploaded_by, mime_type, language_type, supports_preview, replaces_file_id, is_deleted, deleted_at, deleted_by,
       created_at, updated_at`

// DestroyedFile identifies a row removed by a permanent delete together with its blob key.
type DestroyedFile struct {
	ID          int64  `db:"id"`
	StoragePath string `db:"storage_path"`
}

// FileRepository persists question-set attachments.
type FileRepository struct {
	db *sqlx.DB
}

// NewFileRepository constructs the repository.
func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create validates and inserts a file record, filling in its id and timestamps.
func (r *FileRepository) Create(ctx context.Context, file *models.FileRecord) error {
	return insertFile(ctx, r.db, file)
}

func validateFile(file *models.FileRecord) error {
	var missing []string
	if strings.TrimSpace(file.OriginalName) == "" {
		missing = append(missing, "original_name")
	}
	if strings.TrimSpace(file.StoragePath) == "" {
		missing = append(missing, "storage_path")
	}
	if strings.TrimSpace(file.FileType) == "" {
		missing = append(missing, "file_type")
	}
	if file.FileSize < 0 {
		missing = append(missing, "file_size")
	}
	if file.Category == "" {
		missing = append(missing, "category")
	}
	if file.QuestionSetID <= 0 {
		missing = append(missing, "question_set_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidFile, strings.Join(missing, ", "))
	}
	return nil
}

func insertFile(ctx context.Context, q sqlx.QueryerContext, file *models.FileRecord) error {
	if err := validateFile(file); err != nil {
		return err
	}
	now := time.Now().UTC()
	if file.CreatedAt.IsZero() {
		file.CreatedAt = now
	}
	file.UpdatedAt = file.CreatedAt
	file.ClearDeleted()

	const query = `INSERT INTO files
	(original_name, stored_name, storage_path, file_type, file_size, category, question_set_id, uploaded_by,
	 mime_type, language_type, supports_preview, replaces_file_id, is_deleted, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, FALSE, $13, $14)
	RETURNING id`
	if err := q.QueryRowxContext(ctx, query,
		file.OriginalName, file.StoredName, file.StoragePath, file.FileType, file.FileSize, file.Category,
		file.QuestionSetID, file.UploadedBy, file.MimeType, file.LanguageType, file.SupportsPreview,
		file.ReplacesFileID, file.CreatedAt, file.UpdatedAt,
	).Scan(&file.ID); err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

// GetByID returns one file record regardless of its deletion state.
func (r *FileRepository) GetByID(ctx context.Context, id int64) (*models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1`
	var file models.FileRecord
	if err := r.db.GetContext(ctx, &file, query, id); err != nil {
		return nil, err
	}
	return &file, nil
}

// GetByIDs returns the rows matching ids ordered by id. Unknown ids are ignored.
func (r *FileRepository) GetByIDs(ctx context.Context, ids []int64) ([]models.FileRecord, error) {
	if len(ids) == 0 {
		return []models.FileRecord{}, nil
	}
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = ANY($1) ORDER BY id`
	var files []models.FileRecord
	if err := r.db.SelectContext(ctx, &files, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("get files by ids: %w", err)
	}
	return files, nil
}

// ListByParent lists the files of one question set.
func (r *FileRepository) ListByParent(ctx context.Context, parentID int64, filter models.FileFilter) ([]models.FileRecord, error) {
	return r.ListByParents(ctx, []int64{parentID}, filter)
}

// ListByParents lists files across question sets ordered by question set, category and id,
// or newest first when the filter asks for it.
func (r *FileRepository) ListByParents(ctx context.Context, parentIDs []int64, filter models.FileFilter) ([]models.FileRecord, error) {
	if len(parentIDs) == 0 {
		return []models.FileRecord{}, nil
	}

	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + fileColumns + ` FROM files WHERE question_set_id = ANY($1)`)
	args := []interface{}{pq.Array(parentIDs)}

	switch {
	case filter.OnlyDeleted:
		builder.WriteString(" AND is_deleted = TRUE")
	case !filter.IncludeDeleted:
		builder.WriteString(" AND is_deleted = FALSE")
	}
	if len(filter.Categories) > 0 {
		categories := make([]string, len(filter.Categories))
		for i, c := range filter.Categories {
			categories[i] = string(c)
		}
		args = append(args, pq.Array(categories))
		builder.WriteString(fmt.Sprintf(" AND category = ANY($%d)", len(args)))
	}

	switch {
	case filter.NewestFirst && filter.OnlyDeleted:
		builder.WriteString(" ORDER BY deleted_at DESC, id DESC")
	case filter.NewestFirst:
		builder.WriteString(" ORDER BY created_at DESC, id DESC")
	default:
		builder.WriteString(" ORDER BY question_set_id ASC, category ASC, id ASC")
	}

	var files []models.FileRecord
	if err := r.db.SelectContext(ctx, &files, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

// SoftDelete flips an active file to deleted. It returns sql.ErrNoRows when the
// row is missing or already deleted, so the flip happens exactly once.
func (r *FileRepository) SoftDelete(ctx context.Context, id, actorID int64, at time.Time) error {
	return softDeleteFile(ctx, r.db, id, actorID, at)
}

func softDeleteFile(ctx context.Context, e sqlx.ExecerContext, id, actorID int64, at time.Time) error {
	const query = `UPDATE files SET is_deleted = TRUE, deleted_at = $2, deleted_by = $3, updated_at = $2
	WHERE id = $1 AND is_deleted = FALSE`
	res, err := e.ExecContext(ctx, query, id, at, actorID)
	if err != nil {
		return fmt.Errorf("soft delete file: %w", err)
	}
	return expectOneRow(res, "soft delete file")
}

// Restore flips a deleted file back to active, clearing all deletion fields.
func (r *FileRepository) Restore(ctx context.Context, id int64) error {
	return restoreFile(ctx, r.db, id, time.Now().UTC())
}

func restoreFile(ctx context.Context, e sqlx.ExecerContext, id int64, at time.Time) error {
	const query = `UPDATE files SET is_deleted = FALSE, deleted_at = NULL, deleted_by = NULL, updated_at = $2
	WHERE id = $1 AND is_deleted = TRUE`
	res, err := e.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("restore file: %w", err)
	}
	return expectOneRow(res, "restore file")
}

// Destroy removes a soft-deleted row. Blob removal is the caller's concern.
func (r *FileRepository) Destroy(ctx context.Context, id int64) error {
	const query = `DELETE FROM files WHERE id = $1 AND is_deleted = TRUE`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("destroy file: %w", err)
	}
	return expectOneRow(res, "destroy file")
}

// BulkSoftDelete deletes the active rows among ids and returns the ids actually changed.
func (r *FileRepository) BulkSoftDelete(ctx context.Context, ids []int64, actorID int64, at time.Time) ([]int64, error) {
	if len(ids) == 0 {
		return []int64{}, nil
	}
	const query = `UPDATE files SET is_deleted = TRUE, deleted_at = $2, deleted_by = $3, updated_at = $2
	WHERE id = ANY($1) AND is_deleted = FALSE RETURNING id`
	affected := []int64{}
	if err := r.db.SelectContext(ctx, &affected, query, pq.Array(ids), at, actorID); err != nil {
		return nil, fmt.Errorf("bulk soft delete files: %w", err)
	}
	return affected, nil
}

// BulkRestore restores the deleted rows among ids and returns the ids actually changed.
func (r *FileRepository) BulkRestore(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return []int64{}, nil
	}
	const query = `UPDATE files SET is_deleted = FALSE, deleted_at = NULL, deleted_by = NULL, updated_at = $2
	WHERE id = ANY($1) AND is_deleted = TRUE RETURNING id`
	affected := []int64{}
	if err := r.db.SelectContext(ctx, &affected, query, pq.Array(ids), time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("bulk restore files: %w", err)
	}
	return affected, nil
}

// BulkDestroy removes the soft-deleted rows among ids and returns what was removed.
func (r *FileRepository) BulkDestroy(ctx context.Context, ids []int64) ([]DestroyedFile, error) {
	if len(ids) == 0 {
		return []DestroyedFile{}, nil
	}
	const query = `DELETE FROM files WHERE id = ANY($1) AND is_deleted = TRUE RETURNING id, storage_path`
	destroyed := []DestroyedFile{}
	if err := r.db.SelectContext(ctx, &destroyed, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("bulk destroy files: %w", err)
	}
	return destroyed, nil
}

// Replace swaps the active file targetID for replacement inside one transaction.
// The target row is locked, the replacement inherits its question set and category,
// and the target is soft-deleted. It returns the replaced row as it is after the commit.
// sql.ErrNoRows means the target is missing or no longer active.
func (r *FileRepository) Replace(ctx context.Context, targetID int64, replacement *models.FileRecord, actorID int64, at time.Time) (old *models.FileRecord, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin replace transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	old, err = lockActiveFile(ctx, tx, targetID)
	if err != nil {
		return nil, err
	}

	replacement.QuestionSetID = old.QuestionSetID
	replacement.Category = old.Category
	replacement.ReplacesFileID = &old.ID
	replacement.CreatedAt = at
	if err = insertFile(ctx, tx, replacement); err != nil {
		return nil, err
	}
	if err = softDeleteFile(ctx, tx, old.ID, actorID, at); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit replace: %w", err)
	}
	old.MarkDeleted(actorID, at)
	return old, nil
}

// RollbackReplacement restores the version currentID replaced and soft-deletes currentID,
// in one transaction. The previous version is the soft-deleted sibling in the same
// question set and category with the latest deleted_at not after current.created_at.
func (r *FileRepository) RollbackReplacement(ctx context.Context, currentID, actorID int64, at time.Time) (restored, removed *models.FileRecord, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin rollback transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, err := lockActiveFile(ctx, tx, currentID)
	if err != nil {
		return nil, nil, err
	}

	var previous models.FileRecord
	query := `SELECT ` + fileColumns + ` FROM files
	WHERE question_set_id = $1 AND category = $2 AND is_deleted = TRUE AND deleted_at <= $3 AND id <> $4
	ORDER BY deleted_at DESC, id DESC LIMIT 1 FOR UPDATE`
	if err = tx.GetContext(ctx, &previous, query, current.QuestionSetID, current.Category, current.CreatedAt, current.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = ErrNoRollbackCandidate
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("find previous version: %w", err)
	}

	if err = restoreFile(ctx, tx, previous.ID, at); err != nil {
		return nil, nil, err
	}
	if err = softDeleteFile(ctx, tx, current.ID, actorID, at); err != nil {
		return nil, nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit rollback: %w", err)
	}
	previous.ClearDeleted()
	current.MarkDeleted(actorID, at)
	return &previous, current, nil
}

func lockActiveFile(ctx context.Context, tx *sqlx.Tx, id int64) (*models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`
	var file models.FileRecord
	if err := tx.GetContext(ctx, &file, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("lock file: %w", err)
	}
	return &file, nil
}

// Completeness reports which categories have at least one active file.
func (r *FileRepository) Completeness(ctx context.Context, parentID int64) (*models.Completeness, error) {
	const query = `SELECT $1::BIGINT AS question_set_id,
       COALESCE(BOOL_OR(category = 'questions'), FALSE) AS has_questions,
       COALESCE(BOOL_OR(category = 'answers'), FALSE) AS has_answer_key,
       COALESCE(BOOL_OR(category = 'testCases'), FALSE) AS has_test_case
	FROM files WHERE question_set_id = $1 AND is_deleted = FALSE`
	var result models.Completeness
	if err := r.db.GetContext(ctx, &result, query, parentID); err != nil {
		return nil, fmt.Errorf("file completeness: %w", err)
	}
	return &result, nil
}

// Statistics aggregates per-category counts for a question set.
func (r *FileRepository) Statistics(ctx context.Context, parentID int64) ([]models.CategoryStatistics, error) {
	const query = `SELECT category,
       COUNT(*) AS total,
       COUNT(*) FILTER (WHERE is_deleted = FALSE) AS active,
       COUNT(*) FILTER (WHERE is_deleted = TRUE) AS deleted,
       COALESCE(SUM(file_size) FILTER (WHERE is_deleted = FALSE), 0) AS active_size
	FROM files WHERE question_set_id = $1
	GROUP BY category ORDER BY category`
	stats := []models.CategoryStatistics{}
	if err := r.db.SelectContext(ctx, &stats, query, parentID); err != nil {
		return nil, fmt.Errorf("file statistics: %w", err)
	}
	return stats, nil
}

// Activity lists upload and deletion events for a question set, newest first.
func (r *FileRepository) Activity(ctx context.Context, parentID int64, limit int) ([]models.ActivityEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `SELECT * FROM (
		SELECT id AS file_id, original_name, category, 'UPLOADED' AS action, uploaded_by AS actor_id, created_at AS occurred_at
		FROM files WHERE question_set_id = $1
		UNION ALL
		SELECT id AS file_id, original_name, category, 'DELETED' AS action, deleted_by AS actor_id, deleted_at AS occurred_at
		FROM files WHERE question_set_id = $1 AND is_deleted = TRUE
	) activity ORDER BY occurred_at DESC, file_id DESC LIMIT $2`
	entries := []models.ActivityEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, parentID, limit); err != nil {
		return nil, fmt.Errorf("file activity: %w", err)
	}
	return entries, nil
}

// ReferencedPaths returns the subset of keys still referenced by a file row.
func (r *FileRepository) ReferencedPaths(ctx context.Context, keys []string) (map[string]struct{}, error) {
	referenced := make(map[string]struct{}, len(keys))
	if len(keys) == 0 {
		return referenced, nil
	}
	const query = `SELECT DISTINCT storage_path FROM files WHERE storage_path = ANY($1)`
	var paths []string
	if err := r.db.SelectContext(ctx, &paths, query, pq.Array(keys)); err != nil {
		return nil, fmt.Errorf("referenced paths: %w", err)
	}
	for _, p := range paths {
		referenced[p] = struct{}{}
	}
	return referenced, nil
}

func expectOneRow(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
