package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/qbank-api/internal/models"
	"github.com/noah-isme/qbank-api/internal/repository"
	"github.com/noah-isme/qbank-api/pkg/storage"
)

// memoryFileStore mirrors FileRepository semantics, including state-guarded flips.
type memoryFileStore struct {
	mu         sync.Mutex
	rows       map[int64]*models.FileRecord
	nextID     int64
	replaceErr error
	createErr  error
	calls      []string
}

func newMemoryFileStore() *memoryFileStore {
	return &memoryFileStore{rows: map[int64]*models.FileRecord{}}
}

func (m *memoryFileStore) seed(file models.FileRecord) *models.FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if file.ID == 0 {
		m.nextID++
		file.ID = m.nextID
	} else if file.ID > m.nextID {
		m.nextID = file.ID
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	row := file
	m.rows[row.ID] = &row
	return &row
}

func (m *memoryFileStore) get(id int64) *models.FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil
	}
	copied := *row
	return &copied
}

func (m *memoryFileStore) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *memoryFileStore) Create(_ context.Context, file *models.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Create")
	if m.createErr != nil {
		return m.createErr
	}
	m.insertLocked(file, time.Now().UTC())
	return nil
}

func (m *memoryFileStore) insertLocked(file *models.FileRecord, at time.Time) {
	m.nextID++
	file.ID = m.nextID
	if file.CreatedAt.IsZero() {
		file.CreatedAt = at
	}
	file.UpdatedAt = file.CreatedAt
	file.ClearDeleted()
	row := *file
	m.rows[row.ID] = &row
}

func (m *memoryFileStore) GetByID(_ context.Context, id int64) (*models.FileRecord, error) {
	if row := m.get(id); row != nil {
		return row, nil
	}
	return nil, sql.ErrNoRows
}

func (m *memoryFileStore) GetByIDs(_ context.Context, ids []int64) ([]models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.FileRecord
	for _, id := range ids {
		if row, ok := m.rows[id]; ok {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryFileStore) ListByParent(ctx context.Context, parentID int64, filter models.FileFilter) ([]models.FileRecord, error) {
	return m.ListByParents(ctx, []int64{parentID}, filter)
}

func (m *memoryFileStore) ListByParents(_ context.Context, parentIDs []int64, filter models.FileFilter) ([]models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parents := map[int64]struct{}{}
	for _, id := range parentIDs {
		parents[id] = struct{}{}
	}
	categories := map[models.FileCategory]struct{}{}
	for _, c := range filter.Categories {
		categories[c] = struct{}{}
	}
	var out []models.FileRecord
	for _, row := range m.rows {
		if _, ok := parents[row.QuestionSetID]; !ok {
			continue
		}
		if len(categories) > 0 {
			if _, ok := categories[row.Category]; !ok {
				continue
			}
		}
		switch {
		case filter.OnlyDeleted && !row.IsDeleted:
			continue
		case !filter.OnlyDeleted && !filter.IncludeDeleted && row.IsDeleted:
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if filter.NewestFirst {
			if filter.OnlyDeleted && !a.DeletedAt.Equal(*b.DeletedAt) {
				return a.DeletedAt.After(*b.DeletedAt)
			}
			if !filter.OnlyDeleted && !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.ID > b.ID
		}
		if a.QuestionSetID != b.QuestionSetID {
			return a.QuestionSetID < b.QuestionSetID
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (m *memoryFileStore) SoftDelete(_ context.Context, id, actorID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SoftDelete")
	return m.softDeleteLocked(id, actorID, at)
}

func (m *memoryFileStore) softDeleteLocked(id, actorID int64, at time.Time) error {
	row, ok := m.rows[id]
	if !ok || row.IsDeleted {
		return sql.ErrNoRows
	}
	row.MarkDeleted(actorID, at)
	return nil
}

func (m *memoryFileStore) Restore(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Restore")
	row, ok := m.rows[id]
	if !ok || !row.IsDeleted {
		return sql.ErrNoRows
	}
	row.ClearDeleted()
	return nil
}

func (m *memoryFileStore) Destroy(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Destroy")
	row, ok := m.rows[id]
	if !ok || !row.IsDeleted {
		return sql.ErrNoRows
	}
	delete(m.rows, id)
	return nil
}

func (m *memoryFileStore) BulkSoftDelete(_ context.Context, ids []int64, actorID int64, at time.Time) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("BulkSoftDelete")
	affected := []int64{}
	for _, id := range ids {
		if m.softDeleteLocked(id, actorID, at) == nil {
			affected = append(affected, id)
		}
	}
	return affected, nil
}

func (m *memoryFileStore) BulkRestore(_ context.Context, ids []int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("BulkRestore")
	affected := []int64{}
	for _, id := range ids {
		if row, ok := m.rows[id]; ok && row.IsDeleted {
			row.ClearDeleted()
			affected = append(affected, id)
		}
	}
	return affected, nil
}

func (m *memoryFileStore) BulkDestroy(_ context.Context, ids []int64) ([]repository.DestroyedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("BulkDestroy")
	destroyed := []repository.DestroyedFile{}
	for _, id := range ids {
		if row, ok := m.rows[id]; ok && row.IsDeleted {
			destroyed = append(destroyed, repository.DestroyedFile{ID: id, StoragePath: row.StoragePath})
			delete(m.rows, id)
		}
	}
	return destroyed, nil
}

func (m *memoryFileStore) Replace(_ context.Context, targetID int64, replacement *models.FileRecord, actorID int64, at time.Time) (*models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Replace")
	if m.replaceErr != nil {
		return nil, m.replaceErr
	}
	old, ok := m.rows[targetID]
	if !ok || old.IsDeleted {
		return nil, sql.ErrNoRows
	}
	replacement.QuestionSetID = old.QuestionSetID
	replacement.Category = old.Category
	replacement.ReplacesFileID = &old.ID
	replacement.CreatedAt = at
	m.insertLocked(replacement, at)
	old.MarkDeleted(actorID, at)
	copied := *old
	return &copied, nil
}

func (m *memoryFileStore) RollbackReplacement(_ context.Context, currentID, actorID int64, at time.Time) (*models.FileRecord, *models.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("RollbackReplacement")
	current, ok := m.rows[currentID]
	if !ok || current.IsDeleted {
		return nil, nil, sql.ErrNoRows
	}
	var previous *models.FileRecord
	for _, row := range m.rows {
		if row.ID == current.ID || !row.IsDeleted || row.QuestionSetID != current.QuestionSetID || row.Category != current.Category {
			continue
		}
		if row.DeletedAt.After(current.CreatedAt) {
			continue
		}
		if previous == nil || row.DeletedAt.After(*previous.DeletedAt) ||
			(row.DeletedAt.Equal(*previous.DeletedAt) && row.ID > previous.ID) {
			previous = row
		}
	}
	if previous == nil {
		return nil, nil, repository.ErrNoRollbackCandidate
	}
	previous.ClearDeleted()
	current.MarkDeleted(actorID, at)
	restored, removed := *previous, *current
	return &restored, &removed, nil
}

func (m *memoryFileStore) Completeness(_ context.Context, parentID int64) (*models.Completeness, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Completeness")
	result := &models.Completeness{QuestionSetID: parentID}
	for _, row := range m.rows {
		if row.QuestionSetID != parentID || row.IsDeleted {
			continue
		}
		switch row.Category {
		case models.CategoryQuestions:
			result.HasQuestions = true
		case models.CategoryAnswers:
			result.HasAnswerKey = true
		case models.CategoryTestCases:
			result.HasTestCase = true
		}
	}
	return result, nil
}

func (m *memoryFileStore) Statistics(_ context.Context, parentID int64) ([]models.CategoryStatistics, error) {
	return []models.CategoryStatistics{}, nil
}

func (m *memoryFileStore) Activity(_ context.Context, parentID int64, limit int) ([]models.ActivityEntry, error) {
	return []models.ActivityEntry{}, nil
}

type questionSetStub struct {
	sets map[int64]models.QuestionSet
}

func newQuestionSetStub(sets ...models.QuestionSet) *questionSetStub {
	stub := &questionSetStub{sets: map[int64]models.QuestionSet{}}
	for _, s := range sets {
		stub.sets[s.ID] = s
	}
	return stub
}

func (q *questionSetStub) GetByID(_ context.Context, id int64) (*models.QuestionSet, error) {
	set, ok := q.sets[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &set, nil
}

func (q *questionSetStub) ListByIDs(_ context.Context, ids []int64) ([]models.QuestionSet, error) {
	var out []models.QuestionSet
	for _, id := range ids {
		if set, ok := q.sets[id]; ok {
			out = append(out, set)
		}
	}
	return out, nil
}

type auditStub struct {
	mu      sync.Mutex
	entries []models.AuditLog
	err     error
}

func (a *auditStub) Create(_ context.Context, entry *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.entries = append(a.entries, *entry)
	return nil
}

func (a *auditStub) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Action
	}
	return out
}

// syncRemover deletes blobs inline so tests can assert on storage right away.
type syncRemover struct {
	blobs storage.BlobStore
	keys  []string
}

func (r *syncRemover) Remove(ctx context.Context, keys ...string) {
	for _, key := range keys {
		r.keys = append(r.keys, key)
		_ = r.blobs.Delete(ctx, key)
	}
}

func newTestStorage(t *testing.T) *storage.LocalStorage {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return store
}

func blobExists(t *testing.T, store storage.BlobStore, key string) bool {
	t.Helper()
	ok, err := store.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

var errStoreDown = errors.New("database unavailable")
