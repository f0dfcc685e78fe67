package snapshot

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nestcare-monitor/internal/config"
	"nestcare-monitor/internal/models"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Publisher) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cfg := &config.Config{}
	cfg.Snapshot.KeyPrefix = "nestcare:subject:"
	cfg.Snapshot.Suffix = ":alerts"
	cfg.Snapshot.TTLSeconds = 60

	logger := zap.NewNop()
	publisher := NewPublisher(cfg, redisClient, logger)

	return mr, publisher
}

func TestPublish_WritesSnapshotWithTTL(t *testing.T) {
	mr, publisher := setupTestRedis(t)

	subjectID := uuid.New().String()
	alerts := []models.Alert{
		{
			AlertID:   uuid.New().String(),
			SubjectID: subjectID,
			RuleID:    "feeding-delay-fullterm",
			Severity:  models.SeverityHigh,
			Title:     "Feeding overdue",
			IsActive:  true,
		},
	}

	err := publisher.Publish(context.Background(), subjectID, alerts)
	require.NoError(t, err)

	key := "nestcare:subject:" + subjectID + ":alerts"
	val, err := mr.Get(key)
	require.NoError(t, err)

	var stored []models.Alert
	require.NoError(t, json.Unmarshal([]byte(val), &stored))
	require.Len(t, stored, 1)
	assert.Equal(t, "feeding-delay-fullterm", stored[0].RuleID)

	// 快照带 TTL
	ttl := mr.TTL(key)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, 60*time.Second)
}

func TestPublish_EmptyListOverwritesSnapshot(t *testing.T) {
	mr, publisher := setupTestRedis(t)

	subjectID := uuid.New().String()
	ctx := context.Background()

	alerts := []models.Alert{{AlertID: uuid.New().String(), RuleID: "weight-stale"}}
	require.NoError(t, publisher.Publish(ctx, subjectID, alerts))

	// 全部解除后：空列表也必须写入，外部读取方据此看到"无活跃报警"
	require.NoError(t, publisher.Publish(ctx, subjectID, nil))

	val, err := mr.Get("nestcare:subject:" + subjectID + ":alerts")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, val)
}

func TestGet_RoundTrip(t *testing.T) {
	_, publisher := setupTestRedis(t)

	subjectID := uuid.New().String()
	ctx := context.Background()

	alerts := []models.Alert{
		{AlertID: uuid.New().String(), RuleID: "sleep-daily-total", Severity: models.SeverityMedium},
	}
	require.NoError(t, publisher.Publish(ctx, subjectID, alerts))

	got, err := publisher.Get(ctx, subjectID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "sleep-daily-total", got[0].RuleID)
}

func TestGet_MissingKeyReturnsNil(t *testing.T) {
	_, publisher := setupTestRedis(t)

	got, err := publisher.Get(context.Background(), uuid.New().String())

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPublish_MissingSubjectID(t *testing.T) {
	_, publisher := setupTestRedis(t)

	err := publisher.Publish(context.Background(), "", nil)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "subject_id is required")
}
