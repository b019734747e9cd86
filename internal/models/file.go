package models

import "time"

// FileCategory classifies the role of an attached file within a question set.
type FileCategory string

const (
	CategoryQuestions FileCategory = "questions"
	CategoryAnswers   FileCategory = "answers"
	CategoryTestCases FileCategory = "testCases"
)

// AllCategories lists the canonical categories in storage order.
var AllCategories = []FileCategory{CategoryAnswers, CategoryQuestions, CategoryTestCases}

// FileRecord is the metadata row describing one uploaded attachment.
type FileRecord struct {
	ID              int64        `db:"id" json:"id"`
	OriginalName    string       `db:"original_name" json:"originalName"`
	StoredName      string       `db:"stored_name" json:"storedName"`
	StoragePath     string       `db:"storage_path" json:"-"`
	FileType        string       `db:"file_type" json:"fileType"`
	FileSize        int64        `db:"file_size" json:"fileSize"`
	Category        FileCategory `db:"category" json:"fileCategory"`
	QuestionSetID   int64        `db:"question_set_id" json:"questionSetId"`
	UploadedBy      int64        `db:"uploaded_by" json:"uploadedBy"`
	MimeType        *string      `db:"mime_type" json:"mimeType,omitempty"`
	LanguageType    *string      `db:"language_type" json:"languageType,omitempty"`
	SupportsPreview bool         `db:"supports_preview" json:"supportsPreview"`
	ReplacesFileID  *int64       `db:"replaces_file_id" json:"replacesFileId,omitempty"`
	IsDeleted       bool         `db:"is_deleted" json:"isDeleted"`
	DeletedAt       *time.Time   `db:"deleted_at" json:"deletedAt,omitempty"`
	DeletedBy       *int64       `db:"deleted_by" json:"deletedBy,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updatedAt"`
}

// MarkDeleted stamps the three deletion fields together.
func (f *FileRecord) MarkDeleted(actorID int64, at time.Time) {
	f.IsDeleted = true
	f.DeletedAt = &at
	f.DeletedBy = &actorID
}

// ClearDeleted resets the three deletion fields together.
func (f *FileRecord) ClearDeleted() {
	f.IsDeleted = false
	f.DeletedAt = nil
	f.DeletedBy = nil
}

// FileFilter narrows FileRecord queries.
type FileFilter struct {
	Categories     []FileCategory
	IncludeDeleted bool
	OnlyDeleted    bool
	// NewestFirst orders by created_at DESC for listing screens instead of category, id.
	NewestFirst bool
}

// ReplaceResult is returned by an atomic replace.
type ReplaceResult struct {
	NewFile    *FileRecord `json:"newFile"`
	ReplacedID int64       `json:"replacedFileId"`
}

// RollbackResult is returned by a rollback of a replacement.
type RollbackResult struct {
	RestoredFile *FileRecord `json:"restoredFile"`
	RemovedFile  *FileRecord `json:"removedFile"`
}

// BulkResult reports how many rows a bulk mutation actually changed.
type BulkResult struct {
	Requested     int     `json:"requestedCount"`
	AffectedCount int     `json:"affectedCount"`
	AffectedIDs   []int64 `json:"affectedIds"`
}

// Completeness tells whether a question set has its supporting files.
type Completeness struct {
	QuestionSetID int64 `db:"question_set_id" json:"questionSetId"`
	HasQuestions  bool  `db:"has_questions" json:"hasQuestions"`
	HasAnswerKey  bool  `db:"has_answer_key" json:"hasAnswerKey"`
	HasTestCase   bool  `db:"has_test_case" json:"hasTestCase"`
}

// CategoryStatistics aggregates file counts per category.
type CategoryStatistics struct {
	Category   FileCategory `db:"category" json:"category"`
	Total      int64        `db:"total" json:"total"`
	Active     int64        `db:"active" json:"active"`
	Deleted    int64        `db:"deleted" json:"deleted"`
	ActiveSize int64        `db:"active_size" json:"activeSize"`
}

// ActivityEntry is one upload or deletion event derived from file rows.
type ActivityEntry struct {
	FileID       int64        `db:"file_id" json:"fileId"`
	OriginalName string       `db:"original_name" json:"originalName"`
	Category     FileCategory `db:"category" json:"fileCategory"`
	Action       string       `db:"action" json:"action"`
	ActorID      *int64       `db:"actor_id" json:"actorId,omitempty"`
	OccurredAt   time.Time    `db:"occurred_at" json:"occurredAt"`
}

// Activity actions.
const (
	ActivityUploaded = "UPLOADED"
	ActivityDeleted  = "DELETED"
)
