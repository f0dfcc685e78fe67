package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"nestcare-monitor/internal/models"

	"go.uber.org/zap"
)

// EventRepository 事件日志仓库（只读）
// events 表由路由层写入，本服务只做规则评估所需的有界读取：
// 最近 N 条或同一日历日窗口，绝不拉取完整历史。
type EventRepository interface {
	// LastEvent 最近一条指定类型的事件，不存在时返回 nil
	// 返回 nil 意味着该类型从未记录过（规则引擎据此抑制报警）
	LastEvent(ctx context.Context, subjectID, ownerID, eventType string) (*models.EventLog, error)
	// LastEvents 最近 N 条指定类型的事件（按时间倒序）
	LastEvents(ctx context.Context, subjectID, ownerID, eventType string, limit int) ([]models.EventLog, error)
	// SumQuantitySince 自 since 起指定类型事件的 quantity 之和
	SumQuantitySince(ctx context.Context, subjectID, ownerID, eventType string, since time.Time) (float64, error)
	// SumDurationSince 自 since 起指定类型事件的 duration_minutes 之和
	SumDurationSince(ctx context.Context, subjectID, ownerID, eventType string, since time.Time) (float64, error)
}

type eventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEventRepository 创建事件日志仓库
func NewEventRepository(db *sql.DB, logger *zap.Logger) EventRepository {
	return &eventRepository{db: db, logger: logger}
}

const eventColumns = `
	event_id, subject_id, owner_id, event_type,
	quantity, duration_minutes, given, occurred_at
`

func (r *eventRepository) LastEvent(ctx context.Context, subjectID, ownerID, eventType string) (*models.EventLog, error) {
	events, err := r.LastEvents(ctx, subjectID, ownerID, eventType, 1)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (r *eventRepository) LastEvents(ctx context.Context, subjectID, ownerID, eventType string, limit int) ([]models.EventLog, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	if eventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}
	if limit <= 0 {
		limit = 1
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM events
		WHERE subject_id = $1
		  AND owner_id = $2
		  AND event_type = $3
		ORDER BY occurred_at DESC
		LIMIT $4
	`, eventColumns)

	rows, err := r.db.QueryContext(ctx, query, subjectID, ownerID, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.EventLog
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

func (r *eventRepository) SumQuantitySince(ctx context.Context, subjectID, ownerID, eventType string, since time.Time) (float64, error) {
	return r.sumColumn(ctx, "quantity", subjectID, ownerID, eventType, since)
}

func (r *eventRepository) SumDurationSince(ctx context.Context, subjectID, ownerID, eventType string, since time.Time) (float64, error) {
	return r.sumColumn(ctx, "duration_minutes", subjectID, ownerID, eventType, since)
}

func (r *eventRepository) sumColumn(ctx context.Context, column, subjectID, ownerID, eventType string, since time.Time) (float64, error) {
	if subjectID == "" {
		return 0, fmt.Errorf("subject_id is required")
	}
	if ownerID == "" {
		return 0, fmt.Errorf("owner_id is required")
	}
	if eventType == "" {
		return 0, fmt.Errorf("event_type is required")
	}

	// column 只取自本文件内的固定列名，不接受外部输入
	query := fmt.Sprintf(`
		SELECT COALESCE(SUM(%s), 0)
		FROM events
		WHERE subject_id = $1
		  AND owner_id = $2
		  AND event_type = $3
		  AND occurred_at >= $4
	`, column)

	var total float64
	err := r.db.QueryRowContext(ctx, query, subjectID, ownerID, eventType, since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum events: %w", err)
	}

	return total, nil
}

// scanEvent 扫描单行事件记录
func scanEvent(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.EventLog, error) {
	var event models.EventLog
	var quantity, duration sql.NullFloat64
	var given sql.NullBool

	if err := scanner.Scan(
		&event.EventID,
		&event.SubjectID,
		&event.OwnerID,
		&event.EventType,
		&quantity,
		&duration,
		&given,
		&event.OccurredAt,
	); err != nil {
		return nil, err
	}

	if quantity.Valid {
		event.Quantity = &quantity.Float64
	}
	if duration.Valid {
		event.DurationMinutes = &duration.Float64
	}
	if given.Valid {
		event.Given = &given.Bool
	}

	return &event, nil
}
