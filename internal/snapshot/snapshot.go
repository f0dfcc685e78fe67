package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nestcare-monitor/internal/config"
	"nestcare-monitor/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Publisher 活跃报警快照发布器
// 每次评估后把对象的活跃报警列表写入 Redis（带 TTL），
// 供看板等外部读取方查询，不参与本服务自身的任何判定。
type Publisher struct {
	cfg         *config.Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewPublisher 创建快照发布器
func NewPublisher(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) *Publisher {
	return &Publisher{
		cfg:         cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// key 快照键，如 nestcare:subject:<subject_id>:alerts
func (p *Publisher) key(subjectID string) string {
	return fmt.Sprintf("%s%s%s", p.cfg.Snapshot.KeyPrefix, subjectID, p.cfg.Snapshot.Suffix)
}

// Publish 写入对象的活跃报警快照
func (p *Publisher) Publish(ctx context.Context, subjectID string, alerts []models.Alert) error {
	if subjectID == "" {
		return fmt.Errorf("subject_id is required")
	}
	// 快照必须反映"无活跃报警"，空列表也要写入
	if alerts == nil {
		alerts = []models.Alert{}
	}

	jsonData, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	ttl := time.Duration(p.cfg.Snapshot.TTLSeconds) * time.Second
	if err := p.redisClient.Set(ctx, p.key(subjectID), jsonData, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}

	p.logger.Debug("Alert snapshot published",
		zap.String("subject_id", subjectID),
		zap.Int("alert_count", len(alerts)),
	)

	return nil
}

// Get 读取对象的活跃报警快照，键不存在时返回 nil
func (p *Publisher) Get(ctx context.Context, subjectID string) ([]models.Alert, error) {
	val, err := p.redisClient.Get(ctx, p.key(subjectID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var alerts []models.Alert
	if err := json.Unmarshal([]byte(val), &alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return alerts, nil
}
