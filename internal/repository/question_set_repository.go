package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/qbank-api/internal/models"
)

// QuestionSetRepository reads question sets owned by the question-set service.
type QuestionSetRepository struct {
	db *sqlx.DB
}

// NewQuestionSetRepository constructs the repository.
func NewQuestionSetRepository(db *sqlx.DB) *QuestionSetRepository {
	return &QuestionSetRepository{db: db}
}

// GetByID returns one question set, including soft-deleted ones.
func (r *QuestionSetRepository) GetByID(ctx context.Context, id int64) (*models.QuestionSet, error) {
	const query = `SELECT id, title, created_by, is_deleted FROM question_sets WHERE id = $1`
	var set models.QuestionSet
	if err := r.db.GetContext(ctx, &set, query, id); err != nil {
		return nil, err
	}
	return &set, nil
}

// ListByIDs returns the question sets among ids ordered by id.
func (r *QuestionSetRepository) ListByIDs(ctx context.Context, ids []int64) ([]models.QuestionSet, error) {
	if len(ids) == 0 {
		return []models.QuestionSet{}, nil
	}
	const query = `SELECT id, title, created_by, is_deleted FROM question_sets WHERE id = ANY($1) ORDER BY id`
	sets := []models.QuestionSet{}
	if err := r.db.SelectContext(ctx, &sets, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("list question sets: %w", err)
	}
	return sets, nil
}
