package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/qbank-api/internal/models"
)

// AuditRepository appends and reads audit trail rows.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts an audit log entry.
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var details interface{}
	if len(entry.Details) > 0 {
		details = string(entry.Details)
	}
	const query = `INSERT INTO audit_logs
	(actor_id, action, resource_type, resource_id, question_set_id, details, ip_address, user_agent, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	if err := r.db.QueryRowxContext(ctx, query,
		entry.ActorID, entry.Action, entry.ResourceType, entry.ResourceID, entry.QuestionSetID,
		details, entry.IPAddress, entry.UserAgent, entry.CreatedAt,
	).Scan(&entry.ID); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListByQuestionSet returns the newest audit entries for a question set.
func (r *AuditRepository) ListByQuestionSet(ctx context.Context, questionSetID int64, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `SELECT id, actor_id, action, resource_type, resource_id, question_set_id, details,
       COALESCE(ip_address, '') AS ip_address, COALESCE(user_agent, '') AS user_agent, created_at
	FROM audit_logs WHERE question_set_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`
	logs := []models.AuditLog{}
	if err := r.db.SelectContext(ctx, &logs, query, questionSetID, limit); err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return logs, nil
}
