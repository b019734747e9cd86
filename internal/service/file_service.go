package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/qbank-api/internal/models"
	"github.com/noah-isme/qbank-api/internal/repository"
	appErrors "github.com/noah-isme/qbank-api/pkg/errors"
	"github.com/noah-isme/qbank-api/pkg/middleware/requestid"
	"github.com/noah-isme/qbank-api/pkg/storage"
)

type fileStore interface {
	Create(ctx context.Context, file *models.FileRecord) error
	GetByID(ctx context.Context, id int64) (*models.FileRecord, error)
	GetByIDs(ctx context.Context, ids []int64) ([]models.FileRecord, error)
	ListByParent(ctx context.Context, parentID int64, filter models.FileFilter) ([]models.FileRecord, error)
	SoftDelete(ctx context.Context, id, actorID int64, at time.Time) error
	Restore(ctx context.Context, id int64) error
	Destroy(ctx context.Context, id int64) error
	BulkSoftDelete(ctx context.Context, ids []int64, actorID int64, at time.Time) ([]int64, error)
	BulkRestore(ctx context.Context, ids []int64) ([]int64, error)
	BulkDestroy(ctx context.Context, ids []int64) ([]repository.DestroyedFile, error)
	Replace(ctx context.Context, targetID int64, replacement *models.FileRecord, actorID int64, at time.Time) (*models.FileRecord, error)
	RollbackReplacement(ctx context.Context, currentID, actorID int64, at time.Time) (*models.FileRecord, *models.FileRecord, error)
	Completeness(ctx context.Context, parentID int64) (*models.Completeness, error)
	Statistics(ctx context.Context, parentID int64) ([]models.CategoryStatistics, error)
	Activity(ctx context.Context, parentID int64, limit int) ([]models.ActivityEntry, error)
}

type questionSetLookup interface {
	GetByID(ctx context.Context, id int64) (*models.QuestionSet, error)
	ListByIDs(ctx context.Context, ids []int64) ([]models.QuestionSet, error)
}

type auditWriter interface {
	Create(ctx context.Context, entry *models.AuditLog) error
}

// blobRemover deletes blobs after the owning rows are gone. Failures never reach the caller.
type blobRemover interface {
	Remove(ctx context.Context, keys ...string)
}

type linkSigner interface {
	Generate(fileID int64, storagePath string) (string, time.Time, error)
	Parse(token string) (storage.SignedLink, error)
}

// FileUpload carries one multipart file and the form fields sent with it.
type FileUpload struct {
	QuestionSetID int64
	Category      string
	Filename      string
	Size          int64
	MimeType      string
	Content       io.Reader
}

// FileContent is an opened blob ready to stream to a client.
type FileContent struct {
	Record      *models.FileRecord
	Filename    string
	ContentType string
	Inline      bool
	Reader      io.ReadCloser
}

// SignedFileLink is a shareable, expiring download URL for one file.
type SignedFileLink struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// GroupedFiles lists active files of a question set keyed by category.
type GroupedFiles map[models.FileCategory][]models.FileRecord

// FileServiceConfig holds upload limits and link settings.
type FileServiceConfig struct {
	MaxFileSize  int64
	APIPrefix    string
	TemplatePath string
}

// FileService runs the lifecycle of question-set attachments.
type FileService struct {
	files   fileStore
	sets    questionSetLookup
	blobs   storage.BlobStore
	cleaner blobRemover
	gate    *AuthorizationGate
	audit   auditWriter
	cache   *CacheService
	signer  linkSigner
	metrics *MetricsService
	logger  *zap.Logger
	cfg     FileServiceConfig
	now     func() time.Time
}

// NewFileService constructs the service with defaults. audit, cache, signer and metrics are optional.
func NewFileService(files fileStore, sets questionSetLookup, blobs storage.BlobStore, cleaner blobRemover, gate *AuthorizationGate, audit auditWriter, cache *CacheService, signer linkSigner, metrics *MetricsService, logger *zap.Logger, cfg FileServiceConfig) *FileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gate == nil {
		gate = NewAuthorizationGate(false, logger)
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api"
	}
	return &FileService{
		files:   files,
		sets:    sets,
		blobs:   blobs,
		cleaner: cleaner,
		gate:    gate,
		audit:   audit,
		cache:   cache,
		signer:  signer,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Upload validates, stores and records a new attachment.
func (s *FileService) Upload(ctx context.Context, upload FileUpload, actor models.Actor) (file *models.FileRecord, err error) {
	defer func() { s.metrics.RecordFileOperation("upload", err) }()

	if actor.UserID <= 0 {
		return nil, appErrors.ErrUnauthorized
	}
	if upload.Content == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.QuestionSetID <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "questionSetId is required")
	}
	parent, err := s.activeParent(ctx, upload.QuestionSetID)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanMutate(actor.UserID, actor.Role, parent.CreatedBy) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to modify files of this question set")
	}
	category, err := NormalizeCategory(upload.Category)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("unknown fileCategory %q", upload.Category))
	}

	record, err := s.storeBlob(ctx, upload, category, actor)
	if err != nil {
		return nil, err
	}
	record.QuestionSetID = parent.ID
	if err := s.files.Create(ctx, record); err != nil {
		s.discardBlob(ctx, record.StoragePath)
		if errors.Is(err, repository.ErrInvalidFile) {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "file metadata incomplete")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record file")
	}

	s.afterMutation(ctx, actor, models.AuditActionFileUpload, record, map[string]interface{}{
		"originalName": record.OriginalName,
		"category":     record.Category,
		"fileSize":     record.FileSize,
	})
	return record, nil
}

// storeBlob checks the extension and size, then writes the content under a fresh key.
// It returns an unsaved record describing the blob.
func (s *FileService) storeBlob(ctx context.Context, upload FileUpload, category models.FileCategory, actor models.Actor) (*models.FileRecord, error) {
	originalName := filepath.Base(strings.TrimSpace(upload.Filename))
	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" || !AllowedExtension(category, ext) {
		return nil, appErrors.Clone(appErrors.ErrInvalidFormat, fmt.Sprintf("extension %q is not allowed for %s", ext, category))
	}
	if upload.Size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(upload.Content, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if n == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	head = head[:n]

	key := path.Join(string(category), uuid.NewString()+ext)
	body := io.LimitReader(io.MultiReader(bytes.NewReader(head), upload.Content), s.cfg.MaxFileSize+1)
	written, err := s.blobs.Save(ctx, key, body)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to store file")
	}
	if written > s.cfg.MaxFileSize {
		s.discardBlob(ctx, key)
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}

	mimeType := strings.TrimSpace(upload.MimeType)
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(head)
	}
	return &models.FileRecord{
		OriginalName:    originalName,
		StoredName:      path.Base(key),
		StoragePath:     key,
		FileType:        FileTypeFromName(originalName),
		FileSize:        written,
		Category:        category,
		UploadedBy:      actor.UserID,
		MimeType:        &mimeType,
		LanguageType:    LanguageForExtension(ext),
		SupportsPreview: SupportsPreview(ext),
	}, nil
}

// Get returns one file record regardless of its deletion state.
func (s *FileService) Get(ctx context.Context, id int64) (*models.FileRecord, error) {
	file, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	return file, nil
}

// Download opens a file as an attachment.
func (s *FileService) Download(ctx context.Context, id int64) (*FileContent, error) {
	file, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, file, contentTypeOf(file), false)
}

// Preview opens a file for inline display. Text files are served as text/plain.
func (s *FileService) Preview(ctx context.Context, id int64) (*FileContent, error) {
	file, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !file.SupportsPreview {
		return nil, appErrors.Clone(appErrors.ErrInvalidFormat, "preview not available for this file type")
	}
	contentType := contentTypeOf(file)
	if file.FileType == "TXT" {
		contentType = "text/plain; charset=utf-8"
	}
	return s.open(ctx, file, contentType, true)
}

// Blob opens the raw file inline. PDFs are typed as such; anything else is an octet stream.
func (s *FileService) Blob(ctx context.Context, id int64) (*FileContent, error) {
	file, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	contentType := "application/octet-stream"
	if file.FileType == "PDF" {
		contentType = "application/pdf"
	}
	return s.open(ctx, file, contentType, true)
}

func (s *FileService) open(ctx context.Context, file *models.FileRecord, contentType string, inline bool) (*FileContent, error) {
	reader, err := s.blobs.Open(ctx, file.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file content missing from storage")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to open file")
	}
	return &FileContent{
		Record:      file,
		Filename:    file.OriginalName,
		ContentType: contentType,
		Inline:      inline,
		Reader:      reader,
	}, nil
}

func contentTypeOf(file *models.FileRecord) string {
	if file.MimeType != nil && *file.MimeType != "" {
		return *file.MimeType
	}
	return "application/octet-stream"
}

// Template opens the blank question template configured for lecturers.
func (s *FileService) Template(_ context.Context) (*FileContent, error) {
	if s.cfg.TemplatePath == "" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "template not configured")
	}
	f, err := os.Open(s.cfg.TemplatePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to open template")
	}
	return &FileContent{
		Filename:    filepath.Base(s.cfg.TemplatePath),
		ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		Reader:      f,
	}, nil
}

// SoftDelete moves an active file into the recycle bin and returns the deleted record.
func (s *FileService) SoftDelete(ctx context.Context, id int64, actor models.Actor) (file *models.FileRecord, err error) {
	defer func() { s.metrics.RecordFileOperation("soft_delete", err) }()

	file, err = s.authorize(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if file.IsDeleted {
		return nil, appErrors.ErrAlreadyDeleted
	}
	at := s.now()
	if err := s.files.SoftDelete(ctx, id, actor.UserID, at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrAlreadyDeleted
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete file")
	}
	file.MarkDeleted(actor.UserID, at)
	s.afterMutation(ctx, actor, models.AuditActionFileSoftDelete, file, nil)
	return file, nil
}

// Restore brings a file back from the recycle bin.
func (s *FileService) Restore(ctx context.Context, id int64, actor models.Actor) (file *models.FileRecord, err error) {
	defer func() { s.metrics.RecordFileOperation("restore", err) }()

	file, err = s.authorize(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !file.IsDeleted {
		return nil, appErrors.ErrNotDeleted
	}
	if err := s.files.Restore(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotDeleted
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restore file")
	}
	file.ClearDeleted()
	s.afterMutation(ctx, actor, models.AuditActionFileRestore, file, nil)
	return file, nil
}

// PermanentDelete removes a recycled file's row, then its blob.
func (s *FileService) PermanentDelete(ctx context.Context, id int64, actor models.Actor) (err error) {
	defer func() { s.metrics.RecordFileOperation("permanent_delete", err) }()

	file, err := s.authorize(ctx, id, actor)
	if err != nil {
		return err
	}
	if !file.IsDeleted {
		return appErrors.ErrNotInRecycleBin
	}
	if err := s.files.Destroy(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete file")
	}
	s.removeBlobs(ctx, file.StoragePath)
	s.afterMutation(ctx, actor, models.AuditActionFilePermanentDelete, file, map[string]interface{}{
		"originalName": file.OriginalName,
		"storagePath":  file.StoragePath,
	})
	return nil
}

// Replace swaps an active file for a new upload atomically. The new record
// inherits the question set and category of the one it replaces.
func (s *FileService) Replace(ctx context.Context, targetID int64, upload FileUpload, actor models.Actor) (result *models.ReplaceResult, err error) {
	defer func() { s.metrics.RecordFileOperation("replace", err) }()

	if upload.Content == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	target, err := s.authorize(ctx, targetID, actor)
	if err != nil {
		return nil, err
	}
	if target.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "file to replace is not active")
	}
	if upload.QuestionSetID > 0 && upload.QuestionSetID != target.QuestionSetID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file does not belong to the given question set")
	}

	replacement, err := s.storeBlob(ctx, upload, target.Category, actor)
	if err != nil {
		return nil, err
	}
	old, err := s.files.Replace(ctx, target.ID, replacement, actor.UserID, s.now())
	if err != nil {
		s.discardBlob(ctx, replacement.StoragePath)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file to replace is not active")
		case errors.Is(err, repository.ErrInvalidFile):
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "file metadata incomplete")
		default:
			return nil, appErrors.WrapAs(appErrors.ErrTransactionFailure, err, "failed to replace file")
		}
	}

	s.removeBlobs(ctx, old.StoragePath)
	s.afterMutation(ctx, actor, models.AuditActionFileReplace, replacement, map[string]interface{}{
		"replacedFileId": old.ID,
		"originalName":   replacement.OriginalName,
	})
	return &models.ReplaceResult{NewFile: replacement, ReplacedID: old.ID}, nil
}

// RollbackReplacement undoes the last replacement of currentID: the most recently
// deleted sibling that was deleted before currentID was created comes back and
// currentID goes into the recycle bin.
func (s *FileService) RollbackReplacement(ctx context.Context, currentID int64, actor models.Actor) (result *models.RollbackResult, err error) {
	defer func() { s.metrics.RecordFileOperation("rollback", err) }()

	current, err := s.authorize(ctx, currentID, actor)
	if err != nil {
		return nil, err
	}
	if current.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "file is not active")
	}
	restored, removed, err := s.files.RollbackReplacement(ctx, current.ID, actor.UserID, s.now())
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNoRollbackCandidate):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "nothing to roll back to")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file is not active")
		default:
			return nil, appErrors.WrapAs(appErrors.ErrTransactionFailure, err, "failed to roll back replacement")
		}
	}

	s.removeBlobs(ctx, removed.StoragePath)
	s.afterMutation(ctx, actor, models.AuditActionFileRollback, restored, map[string]interface{}{
		"removedFileId": removed.ID,
	})
	return &models.RollbackResult{RestoredFile: restored, RemovedFile: removed}, nil
}

// BulkSoftDelete moves the active files among ids the actor may modify into the recycle bin.
func (s *FileService) BulkSoftDelete(ctx context.Context, ids []int64, actor models.Actor) (result *models.BulkResult, err error) {
	defer func() { s.metrics.RecordFileOperation("bulk_soft_delete", err) }()

	permitted, err := s.permittedFiles(ctx, ids, actor)
	if err != nil {
		return nil, err
	}
	affected, err := s.files.BulkSoftDelete(ctx, fileIDs(permitted), actor.UserID, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete files")
	}
	s.afterBulk(ctx, actor, models.AuditActionFileBulkSoftDelete, permitted, affected)
	return &models.BulkResult{Requested: len(uniqueIDs(ids)), AffectedCount: len(affected), AffectedIDs: affected}, nil
}

// BulkRestore restores the recycled files among ids the actor may modify.
func (s *FileService) BulkRestore(ctx context.Context, ids []int64, actor models.Actor) (result *models.BulkResult, err error) {
	defer func() { s.metrics.RecordFileOperation("bulk_restore", err) }()

	permitted, err := s.permittedFiles(ctx, ids, actor)
	if err != nil {
		return nil, err
	}
	affected, err := s.files.BulkRestore(ctx, fileIDs(permitted))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restore files")
	}
	s.afterBulk(ctx, actor, models.AuditActionFileBulkRestore, permitted, affected)
	return &models.BulkResult{Requested: len(uniqueIDs(ids)), AffectedCount: len(affected), AffectedIDs: affected}, nil
}

// BulkPermanentDelete destroys the recycled files among ids the actor may modify.
func (s *FileService) BulkPermanentDelete(ctx context.Context, ids []int64, actor models.Actor) (result *models.BulkResult, err error) {
	defer func() { s.metrics.RecordFileOperation("bulk_permanent_delete", err) }()

	permitted, err := s.permittedFiles(ctx, ids, actor)
	if err != nil {
		return nil, err
	}
	destroyed, err := s.files.BulkDestroy(ctx, fileIDs(permitted))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete files")
	}
	affected := make([]int64, 0, len(destroyed))
	keys := make([]string, 0, len(destroyed))
	for _, d := range destroyed {
		affected = append(affected, d.ID)
		keys = append(keys, d.StoragePath)
	}
	s.removeBlobs(ctx, keys...)
	s.afterBulk(ctx, actor, models.AuditActionFileBulkDestroy, permitted, affected)
	return &models.BulkResult{Requested: len(uniqueIDs(ids)), AffectedCount: len(affected), AffectedIDs: affected}, nil
}

// permittedFiles keeps the files among ids whose question set the actor may modify.
func (s *FileService) permittedFiles(ctx context.Context, ids []int64, actor models.Actor) ([]models.FileRecord, error) {
	if actor.UserID <= 0 {
		return nil, appErrors.ErrUnauthorized
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "ids must not be empty")
	}
	files, err := s.files.GetByIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load files")
	}
	parentIDs := make([]int64, 0, len(files))
	for _, f := range files {
		parentIDs = append(parentIDs, f.QuestionSetID)
	}
	sets, err := s.sets.ListByIDs(ctx, uniqueIDs(parentIDs))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load question sets")
	}
	owners := make(map[int64]int64, len(sets))
	for _, set := range sets {
		owners[set.ID] = set.CreatedBy
	}
	permitted := make([]models.FileRecord, 0, len(files))
	for _, f := range files {
		owner, ok := owners[f.QuestionSetID]
		if !ok || !s.gate.CanMutate(actor.UserID, actor.Role, owner) {
			s.logger.Debug("bulk operation skipped file", zap.Int64("file_id", f.ID), zap.Int64("actor_id", actor.UserID))
			continue
		}
		permitted = append(permitted, f)
	}
	return permitted, nil
}

func fileIDs(files []models.FileRecord) []int64 {
	ids := make([]int64, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.ID)
	}
	return ids
}

// ListActive returns the active files of a question set grouped by category.
func (s *FileService) ListActive(ctx context.Context, questionSetID int64) (GroupedFiles, error) {
	files, err := s.files.ListByParent(ctx, questionSetID, models.FileFilter{})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list files")
	}
	grouped := GroupedFiles{}
	for _, category := range models.AllCategories {
		grouped[category] = []models.FileRecord{}
	}
	for _, f := range files {
		grouped[f.Category] = append(grouped[f.Category], f)
	}
	return grouped, nil
}

// ListDeleted returns the recycle bin of a question set, newest deletion first.
func (s *FileService) ListDeleted(ctx context.Context, questionSetID int64) ([]models.FileRecord, error) {
	files, err := s.files.ListByParent(ctx, questionSetID, models.FileFilter{OnlyDeleted: true, NewestFirst: true})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list deleted files")
	}
	return files, nil
}

// History returns every version of every file of a question set, newest first.
func (s *FileService) History(ctx context.Context, questionSetID int64) ([]models.FileRecord, error) {
	files, err := s.files.ListByParent(ctx, questionSetID, models.FileFilter{IncludeDeleted: true, NewestFirst: true})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file history")
	}
	return files, nil
}

// Completeness reports which categories of a question set have an active file.
func (s *FileService) Completeness(ctx context.Context, questionSetID int64) (*models.Completeness, error) {
	var result models.Completeness
	err := s.cache.Remember(ctx, questionSetCacheKey(cacheKindCompleteness, questionSetID), &result, func(ctx context.Context) error {
		loaded, err := s.files.Completeness(ctx, questionSetID)
		if err != nil {
			return err
		}
		result = *loaded
		return nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute completeness")
	}
	return &result, nil
}

// Statistics aggregates file counts per category for a question set.
func (s *FileService) Statistics(ctx context.Context, questionSetID int64) ([]models.CategoryStatistics, error) {
	var result []models.CategoryStatistics
	err := s.cache.Remember(ctx, questionSetCacheKey(cacheKindStatistics, questionSetID), &result, func(ctx context.Context) error {
		loaded, err := s.files.Statistics(ctx, questionSetID)
		if err != nil {
			return err
		}
		result = loaded
		return nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute statistics")
	}
	return result, nil
}

// Activity lists recent uploads and deletions of a question set.
func (s *FileService) Activity(ctx context.Context, questionSetID int64, limit int) ([]models.ActivityEntry, error) {
	entries, err := s.files.Activity(ctx, questionSetID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity")
	}
	return entries, nil
}

// SignedLink issues an expiring URL that downloads the file without a session.
func (s *FileService) SignedLink(ctx context.Context, id int64) (*SignedFileLink, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	file, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if file.IsDeleted {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	token, expiresAt, err := s.signer.Generate(file.ID, file.StoragePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return &SignedFileLink{URL: fmt.Sprintf("%s/files/shared/%s", base, token), ExpiresAt: expiresAt}, nil
}

// OpenShared resolves a signed token to the file it was issued for.
func (s *FileService) OpenShared(ctx context.Context, token string) (*FileContent, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	link, err := s.signer.Parse(token)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired token")
	}
	file, err := s.Get(ctx, link.FileID)
	if err != nil {
		return nil, err
	}
	if file.IsDeleted || file.StoragePath != link.StoragePath {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
	}
	return s.open(ctx, file, contentTypeOf(file), false)
}

// authorize loads the file and its question set and applies the authorization gate.
func (s *FileService) authorize(ctx context.Context, id int64, actor models.Actor) (*models.FileRecord, error) {
	if actor.UserID <= 0 {
		return nil, appErrors.ErrUnauthorized
	}
	file, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	parent, err := s.activeParent(ctx, file.QuestionSetID)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanMutate(actor.UserID, actor.Role, parent.CreatedBy) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to modify files of this question set")
	}
	return file, nil
}

func (s *FileService) activeParent(ctx context.Context, questionSetID int64) (*models.QuestionSet, error) {
	parent, err := s.sets.GetByID(ctx, questionSetID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrMissingParent
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load question set")
	}
	if parent.IsDeleted {
		return nil, appErrors.ErrMissingParent
	}
	return parent, nil
}

// discardBlob removes a blob whose row was never committed.
func (s *FileService) discardBlob(ctx context.Context, key string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("failed to discard uploaded blob", zap.String("key", key), zap.Error(err))
	}
}

func (s *FileService) removeBlobs(ctx context.Context, keys ...string) {
	if s.cleaner == nil || len(keys) == 0 {
		return
	}
	s.cleaner.Remove(ctx, keys...)
}

func (s *FileService) afterMutation(ctx context.Context, actor models.Actor, action string, file *models.FileRecord, details map[string]interface{}) {
	s.cache.InvalidateQuestionSet(ctx, file.QuestionSetID)
	fileID := file.ID
	setID := file.QuestionSetID
	s.emitAudit(ctx, actor, &models.AuditLog{
		Action:        action,
		ResourceType:  models.AuditResourceFile,
		ResourceID:    &fileID,
		QuestionSetID: &setID,
	}, details)
}

func (s *FileService) afterBulk(ctx context.Context, actor models.Actor, action string, candidates []models.FileRecord, affected []int64) {
	if len(affected) == 0 {
		return
	}
	changed := make(map[int64]struct{}, len(affected))
	for _, id := range affected {
		changed[id] = struct{}{}
	}
	invalidated := map[int64]struct{}{}
	for _, f := range candidates {
		if _, ok := changed[f.ID]; !ok {
			continue
		}
		if _, done := invalidated[f.QuestionSetID]; !done {
			invalidated[f.QuestionSetID] = struct{}{}
			s.cache.InvalidateQuestionSet(ctx, f.QuestionSetID)
		}
	}
	s.emitAudit(ctx, actor, &models.AuditLog{
		Action:       action,
		ResourceType: models.AuditResourceFile,
	}, map[string]interface{}{"fileIds": affected})
}

func (s *FileService) emitAudit(ctx context.Context, actor models.Actor, entry *models.AuditLog, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	actorID := actor.UserID
	entry.ActorID = &actorID
	entry.IPAddress = actor.IPAddress
	entry.UserAgent = actor.UserAgent
	if reqID := requestid.FromContext(ctx); reqID != "" {
		if details == nil {
			details = map[string]interface{}{}
		}
		details["requestId"] = reqID
	}
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err == nil {
			entry.Details = raw
		}
	}
	if err := s.audit.Create(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("failed to write file audit", zap.String("action", entry.Action), zap.Error(err))
	}
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
