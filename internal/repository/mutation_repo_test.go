package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/noah-isme/gema-sync/internal/models"
)

func setupMutationDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, MigrateMutationTables(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestMutationRepositoryInsertIsIdempotent(t *testing.T) {
	db := setupMutationDB(t)
	repo, err := NewMutationRepository(db)
	require.NoError(t, err)
	ctx := context.Background()

	record := map[string]any{
		"idempotency_key": "act-1",
		"student_id":      7,
		"class_id":        3,
		"date":            "2026-03-02",
		"status":          models.AttendancePresent,
	}
	require.NoError(t, repo.Insert(ctx, "attendance", record))
	require.NoError(t, repo.Insert(ctx, "attendance", record), "replay with the same key must not fail")

	var rows []models.Attendance
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.Equal(t, uint(7), rows[0].StudentID)
	require.NotNil(t, rows[0].IdempotencyKey)
	require.Equal(t, "act-1", *rows[0].IdempotencyKey)
	require.False(t, rows[0].CreatedAt.IsZero())
}

func TestMutationRepositoryUpdate(t *testing.T) {
	db := setupMutationDB(t)
	repo, err := NewMutationRepository(db)
	require.NoError(t, err)
	ctx := context.Background()

	payment := models.Payment{StudentID: 9, Amount: 150, Status: "recorded"}
	require.NoError(t, db.Create(&payment).Error)

	require.NoError(t, repo.Update(ctx, "payments", "1", map[string]any{"status": "confirmed"}))

	var stored models.Payment
	require.NoError(t, db.First(&stored, payment.ID).Error)
	require.Equal(t, "confirmed", stored.Status)

	err = repo.Update(ctx, "payments", "404", map[string]any{"status": "confirmed"})
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestMutationRepositoryUpsertOnNaturalKey(t *testing.T) {
	db := setupMutationDB(t)
	repo, err := NewMutationRepository(db)
	require.NoError(t, err)
	ctx := context.Background()

	conflict := []string{"student_id", "exam_id", "subject"}
	first := []map[string]any{
		{"student_id": 1, "exam_id": 10, "subject": "math", "score": 71.5},
		{"student_id": 2, "exam_id": 10, "subject": "math", "score": 64.0},
	}
	require.NoError(t, repo.Upsert(ctx, "exam_results", first, conflict))

	second := []map[string]any{
		{"student_id": 1, "exam_id": 10, "subject": "math", "score": 88.0, "grade": "A"},
	}
	require.NoError(t, repo.Upsert(ctx, "exam_results", second, conflict))

	var results []models.ExamResult
	require.NoError(t, db.Order("student_id").Find(&results).Error)
	require.Len(t, results, 2)
	require.Equal(t, 88.0, results[0].Score)
	require.Equal(t, "A", results[0].Grade)
	require.Equal(t, 64.0, results[1].Score)
}

func TestMutationRepositoryRejectsUnknownTargets(t *testing.T) {
	db := setupMutationDB(t)
	repo, err := NewMutationRepository(db)
	require.NoError(t, err)
	ctx := context.Background()

	err = repo.Insert(ctx, "users", map[string]any{"name": "mallory"})
	require.ErrorIs(t, err, ErrUnknownResource)

	err = repo.Insert(ctx, "messages", map[string]any{"body": "hi", "is_admin": true})
	require.ErrorIs(t, err, ErrUnknownColumn)

	err = repo.Upsert(ctx, "attendance", []map[string]any{{"student_id": 1}}, []string{"nope"})
	require.ErrorIs(t, err, ErrUnknownColumn)

	require.Equal(t, []string{"attendance", "exam_results", "grades", "messages", "payments"}, repo.Resources())
}
