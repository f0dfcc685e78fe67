package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nestcare-monitor/internal/models"
)

func setupMockEventsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, EventRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewEventRepository(db, logger)

	return db, mock, repo
}

func eventRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"event_id", "subject_id", "owner_id", "event_type",
		"quantity", "duration_minutes", "given", "occurred_at",
	})
}

func TestLastEvent_Success(t *testing.T) {
	db, mock, repo := setupMockEventsDB(t)
	defer db.Close()

	subjectID := uuid.New().String()
	ownerID := uuid.New().String()
	occurredAt := time.Now().Add(-2 * time.Hour)

	mock.ExpectQuery(`SELECT`).
		WithArgs(subjectID, ownerID, models.EventTypeFeeding, 1).
		WillReturnRows(eventRows().AddRow(
			uuid.New().String(), subjectID, ownerID, models.EventTypeFeeding,
			120.0, nil, nil, occurredAt,
		))

	event, err := repo.LastEvent(context.Background(), subjectID, ownerID, models.EventTypeFeeding)

	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, models.EventTypeFeeding, event.EventType)
	require.NotNil(t, event.Quantity)
	assert.Equal(t, 120.0, *event.Quantity)
	assert.Nil(t, event.DurationMinutes)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastEvent_NoHistory(t *testing.T) {
	db, mock, repo := setupMockEventsDB(t)
	defer db.Close()

	subjectID := uuid.New().String()
	ownerID := uuid.New().String()

	// 该类型从未记录过：返回 nil 而非错误
	mock.ExpectQuery(`SELECT`).
		WithArgs(subjectID, ownerID, models.EventTypeWeight, 1).
		WillReturnRows(eventRows())

	event, err := repo.LastEvent(context.Background(), subjectID, ownerID, models.EventTypeWeight)

	require.NoError(t, err)
	assert.Nil(t, event)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastEvents_Multiple(t *testing.T) {
	db, mock, repo := setupMockEventsDB(t)
	defer db.Close()

	subjectID := uuid.New().String()
	ownerID := uuid.New().String()
	now := time.Now()

	mock.ExpectQuery(`SELECT`).
		WithArgs(subjectID, ownerID, models.EventTypeFeeding, 2).
		WillReturnRows(eventRows().
			AddRow(uuid.New().String(), subjectID, ownerID, models.EventTypeFeeding,
				100.0, nil, nil, now.Add(-time.Hour)).
			AddRow(uuid.New().String(), subjectID, ownerID, models.EventTypeFeeding,
				90.0, nil, nil, now.Add(-90*time.Minute)))

	events, err := repo.LastEvents(context.Background(), subjectID, ownerID, models.EventTypeFeeding, 2)

	require.NoError(t, err)
	assert.Len(t, events, 2)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastEvents_InvalidArgs(t *testing.T) {
	db, mock, repo := setupMockEventsDB(t)
	defer db.Close()

	_, err := repo.LastEvents(context.Background(), "", "owner", models.EventTypeFeeding, 1)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "subject_id is required")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSumQuantitySince_Success(t *testing.T) {
	db, mock, repo := setupMockEventsDB(t)
	defer db.Close()

	subjectID := uuid.New().String()
	ownerID := uuid.New().String()
	since := time.Now().Truncate(24 * time.Hour)

	mock.ExpectQuery(`SELECT COALESCE`).
		WithArgs(subjectID, ownerID, models.EventTypeFeeding, since).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(310.0))

	total, err := repo.SumQuantitySince(context.Background(), subjectID, ownerID, models.EventTypeFeeding, since)

	require.NoError(t, err)
	assert.Equal(t, 310.0, total)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSumDurationSince_NoEvents(t *testing.T) {
	db, mock, repo := setupMockEventsDB(t)
	defer db.Close()

	subjectID := uuid.New().String()
	ownerID := uuid.New().String()
	since := time.Now().Truncate(24 * time.Hour)

	// COALESCE 保证无事件时返回 0
	mock.ExpectQuery(`SELECT COALESCE`).
		WithArgs(subjectID, ownerID, models.EventTypeSleep, since).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(0.0))

	total, err := repo.SumDurationSince(context.Background(), subjectID, ownerID, models.EventTypeSleep, since)

	require.NoError(t, err)
	assert.Equal(t, 0.0, total)

	require.NoError(t, mock.ExpectationsWereMet())
}
