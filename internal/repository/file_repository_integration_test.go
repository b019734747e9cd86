//go:build integration

package repository

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/noah-isme/qbank-api/internal/models"
	"github.com/noah-isme/qbank-api/pkg/config"
	"github.com/noah-isme/qbank-api/pkg/database"
)

// setupPostgres starts a disposable PostgreSQL, applies the migrations and returns a client.
func setupPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:16-alpine",
		postgres.WithDatabase("qbank_test"),
		postgres.WithUsername("qbank"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	portNum, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	db, err := database.NewPostgres(config.DatabaseConfig{
		Host:     host,
		Port:     portNum,
		User:     "qbank",
		Password: "test-password",
		Name:     "qbank_test",
		SSLMode:  "disable",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(db, zap.NewNop()))
	return db
}

func seedQuestionSet(t *testing.T, db *sqlx.DB, owner int64) int64 {
	t.Helper()
	var id int64
	require.NoError(t, db.Get(&id, `INSERT INTO question_sets (title, created_by) VALUES ($1, $2) RETURNING id`, "Graf", owner))
	return id
}

func newRecord(setID int64, category models.FileCategory, name string) *models.FileRecord {
	return &models.FileRecord{
		OriginalName:  name,
		StoredName:    name,
		StoragePath:   "blob-" + name,
		FileType:      "PDF",
		FileSize:      42,
		Category:      category,
		QuestionSetID: setID,
		UploadedBy:    7,
	}
}

func TestFileRepositoryIntegrationReplaceAndRollback(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := NewFileRepository(db)
	setID := seedQuestionSet(t, db, 7)

	original := newRecord(setID, models.CategoryAnswers, "kunci_v1.pdf")
	require.NoError(t, repo.Create(ctx, original))

	at := time.Now().UTC().Truncate(time.Microsecond)
	replacement := newRecord(0, "", "kunci_v2.pdf")
	old, err := repo.Replace(ctx, original.ID, replacement, 7, at)
	require.NoError(t, err)
	assert.True(t, old.IsDeleted)
	assert.Equal(t, setID, replacement.QuestionSetID)
	assert.Equal(t, models.CategoryAnswers, replacement.Category)
	require.NotNil(t, replacement.ReplacesFileID)
	assert.Equal(t, original.ID, *replacement.ReplacesFileID)

	active, err := repo.ListByParent(ctx, setID, models.FileFilter{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, replacement.ID, active[0].ID)

	// A second replace of the already-deleted original must not touch anything.
	_, err = repo.Replace(ctx, original.ID, newRecord(0, "", "kunci_v3.pdf"), 7, at)
	assert.Error(t, err)

	restored, removed, err := repo.RollbackReplacement(ctx, replacement.ID, 7, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, replacement.ID, removed.ID)

	current, err := repo.GetByID(ctx, original.ID)
	require.NoError(t, err)
	assert.False(t, current.IsDeleted)
	assert.Nil(t, current.DeletedAt)
	assert.Nil(t, current.DeletedBy)

	_, _, err = repo.RollbackReplacement(ctx, original.ID, 7, at.Add(2*time.Minute))
	assert.ErrorIs(t, err, ErrNoRollbackCandidate)
}

func TestFileRepositoryIntegrationBulkAndAggregates(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := NewFileRepository(db)
	setID := seedQuestionSet(t, db, 7)

	q := newRecord(setID, models.CategoryQuestions, "soal.pdf")
	a := newRecord(setID, models.CategoryAnswers, "kunci.pdf")
	require.NoError(t, repo.Create(ctx, q))
	require.NoError(t, repo.Create(ctx, a))

	completeness, err := repo.Completeness(ctx, setID)
	require.NoError(t, err)
	assert.True(t, completeness.HasAnswerKey)
	assert.False(t, completeness.HasTestCase)

	now := time.Now().UTC()
	deleted, err := repo.BulkSoftDelete(ctx, []int64{q.ID, a.ID}, 7, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{q.ID, a.ID}, deleted)

	restored, err := repo.BulkRestore(ctx, []int64{a.ID, a.ID + 1000})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, restored)

	destroyed, err := repo.BulkDestroy(ctx, []int64{q.ID, a.ID})
	require.NoError(t, err)
	require.Len(t, destroyed, 1)
	assert.Equal(t, "blob-soal.pdf", destroyed[0].StoragePath)

	refs, err := repo.ReferencedPaths(ctx, []string{"blob-soal.pdf", "blob-kunci.pdf"})
	require.NoError(t, err)
	assert.Contains(t, refs, "blob-kunci.pdf")
	assert.NotContains(t, refs, "blob-soal.pdf")

	stats, err := repo.Statistics(ctx, setID)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, models.CategoryAnswers, stats[0].Category)
	assert.EqualValues(t, 1, stats[0].Active)
	assert.EqualValues(t, 42, stats[0].ActiveSize)
}
