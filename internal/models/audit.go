package models

import (
	"encoding/json"
	"time"
)

// Audit actions recorded for file mutations.
const (
	AuditActionFileUpload          = "FILE_UPLOAD"
	AuditActionFileReplace         = "FILE_REPLACE"
	AuditActionFileRollback        = "FILE_ROLLBACK"
	AuditActionFileSoftDelete      = "FILE_SOFT_DELETE"
	AuditActionFileRestore         = "FILE_RESTORE"
	AuditActionFilePermanentDelete = "FILE_PERMANENT_DELETE"
	AuditActionFileBulkSoftDelete  = "FILE_BULK_SOFT_DELETE"
	AuditActionFileBulkRestore     = "FILE_BULK_RESTORE"
	AuditActionFileBulkDestroy     = "FILE_BULK_PERMANENT_DELETE"
	AuditActionBlobSweep           = "BLOB_SWEEP"

	AuditResourceFile = "file"
	AuditResourceBlob = "blob"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID            int64           `db:"id" json:"id"`
	ActorID       *int64          `db:"actor_id" json:"actorId,omitempty"`
	Action        string          `db:"action" json:"action"`
	ResourceType  string          `db:"resource_type" json:"resourceType"`
	ResourceID    *int64          `db:"resource_id" json:"resourceId,omitempty"`
	QuestionSetID *int64          `db:"question_set_id" json:"questionSetId,omitempty"`
	Details       json.RawMessage `db:"details" json:"details,omitempty"`
	IPAddress     string          `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent     string          `db:"user_agent" json:"userAgent,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
}
