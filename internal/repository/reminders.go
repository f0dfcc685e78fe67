package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"nestcare-monitor/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReminderRepository 提醒仓库
// reminders 表的索引要求：
//   - (status, next_trigger_at)：轮询任务查询到期提醒
//   - (subject_id, medicine_name, dose_time, scheduled_for)：计划派生提醒去重
type ReminderRepository interface {
	// CreateScheduled 计划派生提醒的条件创建：同一 (subject, 药名, 剂次时间, 日历日)
	// 已有记录时不插入并返回 false，单条语句保证并发展开下去重键的唯一性
	CreateScheduled(ctx context.Context, reminder *models.Reminder) (bool, error)
	// GetByID 按 ID 查询提醒，不存在时返回 nil
	GetByID(ctx context.Context, reminderID string) (*models.Reminder, error)
	// ListDue 查询到期的 pending 提醒（轮询任务使用，batch 限定单次工作量）
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error)
	// MarkSent 投递成功：pending → sent
	MarkSent(ctx context.Context, reminderID string) error
	// MarkFailed 所有渠道投递失败：pending → failed，记录 last_error
	MarkFailed(ctx context.Context, reminderID, lastError string) error
	// Dismiss 照护人手动确认：pending/sent/failed → dismissed
	Dismiss(ctx context.Context, ownerID, reminderID string) error
	// UpsertRuleReminder 规则派生提醒的条件创建：同一规则已有 pending 提醒时不重复创建
	UpsertRuleReminder(ctx context.Context, params RuleReminderParams) (*models.Reminder, bool, error)
	// ResolveRuleReminder 规则条件解除时撤销对应的 pending 提醒
	ResolveRuleReminder(ctx context.Context, subjectID, ownerID, ruleID string) (bool, error)
	// DeleteTerminalBefore 删除 cutoff 之前进入终态的提醒（清理任务使用，按批执行）
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type reminderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReminderRepository 创建提醒仓库
func NewReminderRepository(db *sql.DB, logger *zap.Logger) ReminderRepository {
	return &reminderRepository{db: db, logger: logger}
}

const reminderColumns = `
	reminder_id, subject_id, owner_id, type, rule_id,
	medicine_name, dose_time, title, body,
	scheduled_for, next_trigger_at, channels,
	status, attempt_count, last_error, created_at, updated_at
`

func (r *reminderRepository) CreateScheduled(ctx context.Context, reminder *models.Reminder) (bool, error) {
	if reminder == nil {
		return false, fmt.Errorf("reminder is required")
	}
	if reminder.SubjectID == "" {
		return false, fmt.Errorf("subject_id is required")
	}
	if reminder.OwnerID == "" {
		return false, fmt.Errorf("owner_id is required")
	}
	if reminder.MedicineName == nil || *reminder.MedicineName == "" {
		return false, fmt.Errorf("medicine_name is required")
	}
	if reminder.DoseTime == nil || *reminder.DoseTime == "" {
		return false, fmt.Errorf("dose_time is required")
	}
	if reminder.ReminderID == "" {
		reminder.ReminderID = uuid.New().String()
	}

	channelsJSON, err := json.Marshal(reminder.Channels)
	if err != nil {
		return false, fmt.Errorf("failed to marshal channels: %w", err)
	}

	// 去重键中的"日历日"按 scheduled_for 所在天界定
	day := reminder.ScheduledFor
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	// INSERT ... WHERE NOT EXISTS：检查与写入同一条语句完成，
	// 并发展开或重试下同一去重键只会落一条记录
	const query = `
		INSERT INTO reminders (
			reminder_id, subject_id, owner_id, type,
			medicine_name, dose_time, title, body,
			scheduled_for, next_trigger_at, channels,
			status, attempt_count, created_at, updated_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending', 0, $12, $12
		WHERE NOT EXISTS (
			SELECT 1 FROM reminders
			WHERE subject_id = $2
			  AND medicine_name = $5
			  AND dose_time = $6
			  AND scheduled_for >= $13
			  AND scheduled_for < $14
		)
	`

	now := time.Now()

	result, err := r.db.ExecContext(ctx, query,
		reminder.ReminderID,
		reminder.SubjectID,
		reminder.OwnerID,
		reminder.Type,
		reminder.MedicineName,
		reminder.DoseTime,
		reminder.Title,
		reminder.Body,
		reminder.ScheduledFor,
		reminder.NextTriggerAt,
		channelsJSON,
		now,
		dayStart,
		dayEnd,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create reminder: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// 同一去重键已有记录
		return false, nil
	}

	reminder.Status = models.ReminderStatusPending
	reminder.CreatedAt = now
	reminder.UpdatedAt = now

	return true, nil
}

func (r *reminderRepository) GetByID(ctx context.Context, reminderID string) (*models.Reminder, error) {
	if reminderID == "" {
		return nil, fmt.Errorf("reminder_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM reminders WHERE reminder_id = $1`, reminderColumns)

	reminder, err := scanReminder(r.db.QueryRowContext(ctx, query, reminderID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder: %w", err)
	}
	return reminder, nil
}

func (r *reminderRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM reminders
		WHERE status = 'pending'
		  AND next_trigger_at <= $1
		ORDER BY next_trigger_at ASC
		LIMIT $2
	`, reminderColumns)

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		reminder, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, *reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminders: %w", err)
	}

	return reminders, nil
}

func (r *reminderRepository) MarkSent(ctx context.Context, reminderID string) error {
	return r.transition(ctx, reminderID, models.ReminderStatusSent, nil)
}

func (r *reminderRepository) MarkFailed(ctx context.Context, reminderID, lastError string) error {
	return r.transition(ctx, reminderID, models.ReminderStatusFailed, &lastError)
}

// transition pending → sent/failed 状态迁移
// 只允许从 pending 出发，终态记录不会被覆盖
func (r *reminderRepository) transition(ctx context.Context, reminderID, status string, lastError *string) error {
	if reminderID == "" {
		return fmt.Errorf("reminder_id is required")
	}

	const query = `
		UPDATE reminders
		SET status = $1,
		    attempt_count = attempt_count + 1,
		    last_error = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE reminder_id = $3
		  AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, status, lastError, reminderID)
	if err != nil {
		return fmt.Errorf("failed to update reminder status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("reminder not found or not pending: reminder_id=%s", reminderID)
	}

	return nil
}

func (r *reminderRepository) Dismiss(ctx context.Context, ownerID, reminderID string) error {
	if ownerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if reminderID == "" {
		return fmt.Errorf("reminder_id is required")
	}

	const query = `
		UPDATE reminders
		SET status = 'dismissed',
		    updated_at = CURRENT_TIMESTAMP
		WHERE reminder_id = $1
		  AND owner_id = $2
		  AND status IN ('pending', 'sent', 'failed')
	`

	result, err := r.db.ExecContext(ctx, query, reminderID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to dismiss reminder: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("reminder not found or already dismissed: reminder_id=%s, owner_id=%s", reminderID, ownerID)
	}

	return nil
}

// RuleReminderParams 规则派生提醒参数
type RuleReminderParams struct {
	SubjectID string
	OwnerID   string
	RuleID    string
	Type      string // feeding 或 sleep
	Title     string
	Body      string
	Channels  []string
}

func (r *reminderRepository) UpsertRuleReminder(ctx context.Context, params RuleReminderParams) (*models.Reminder, bool, error) {
	if params.SubjectID == "" {
		return nil, false, fmt.Errorf("subject_id is required")
	}
	if params.OwnerID == "" {
		return nil, false, fmt.Errorf("owner_id is required")
	}
	if params.RuleID == "" {
		return nil, false, fmt.Errorf("rule_id is required")
	}

	channelsJSON, err := json.Marshal(params.Channels)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal channels: %w", err)
	}

	// INSERT ... WHERE NOT EXISTS：同一规则已有 pending 提醒时不创建，
	// 单条语句保证并发评估下的原子性
	const query = `
		INSERT INTO reminders (
			reminder_id, subject_id, owner_id, type, rule_id,
			title, body, scheduled_for, next_trigger_at, channels,
			status, attempt_count, created_at, updated_at
		)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $8, $9, 'pending', 0, $10, $10
		WHERE NOT EXISTS (
			SELECT 1 FROM reminders
			WHERE subject_id = $2
			  AND owner_id = $3
			  AND rule_id = $5
			  AND status = 'pending'
		)
	`

	now := time.Now()
	reminderID := uuid.New().String()

	result, err := r.db.ExecContext(ctx, query,
		reminderID, params.SubjectID, params.OwnerID, params.Type, params.RuleID,
		params.Title, params.Body, now, channelsJSON, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert rule reminder: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// 已存在 pending 提醒
		return nil, false, nil
	}

	return &models.Reminder{
		ReminderID:    reminderID,
		SubjectID:     params.SubjectID,
		OwnerID:       params.OwnerID,
		Type:          params.Type,
		RuleID:        &params.RuleID,
		Title:         params.Title,
		Body:          params.Body,
		ScheduledFor:  now,
		NextTriggerAt: now,
		Channels:      params.Channels,
		Status:        models.ReminderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, true, nil
}

func (r *reminderRepository) ResolveRuleReminder(ctx context.Context, subjectID, ownerID, ruleID string) (bool, error) {
	if subjectID == "" {
		return false, fmt.Errorf("subject_id is required")
	}
	if ownerID == "" {
		return false, fmt.Errorf("owner_id is required")
	}
	if ruleID == "" {
		return false, fmt.Errorf("rule_id is required")
	}

	const query = `
		UPDATE reminders
		SET status = 'dismissed',
		    updated_at = CURRENT_TIMESTAMP
		WHERE subject_id = $1
		  AND owner_id = $2
		  AND rule_id = $3
		  AND status = 'pending'
	`

	result, err := r.db.ExecContext(ctx, query, subjectID, ownerID, ruleID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve rule reminder: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func (r *reminderRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	// 边界语义：updated_at 恰好等于 cutoff 的记录也会被删除
	const query = `
		DELETE FROM reminders
		WHERE reminder_id IN (
			SELECT reminder_id
			FROM reminders
			WHERE status IN ('sent', 'failed', 'dismissed')
			  AND updated_at <= $1
			LIMIT $2
		)
	`

	result, err := r.db.ExecContext(ctx, query, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal reminders: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// scanReminder 扫描单行提醒记录
func scanReminder(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Reminder, error) {
	var reminder models.Reminder
	var ruleID, medicineName, doseTime, lastError sql.NullString
	var channelsRaw []byte

	if err := scanner.Scan(
		&reminder.ReminderID,
		&reminder.SubjectID,
		&reminder.OwnerID,
		&reminder.Type,
		&ruleID,
		&medicineName,
		&doseTime,
		&reminder.Title,
		&reminder.Body,
		&reminder.ScheduledFor,
		&reminder.NextTriggerAt,
		&channelsRaw,
		&reminder.Status,
		&reminder.AttemptCount,
		&lastError,
		&reminder.CreatedAt,
		&reminder.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if ruleID.Valid {
		reminder.RuleID = &ruleID.String
	}
	if medicineName.Valid {
		reminder.MedicineName = &medicineName.String
	}
	if doseTime.Valid {
		reminder.DoseTime = &doseTime.String
	}
	if lastError.Valid {
		reminder.LastError = &lastError.String
	}
	if len(channelsRaw) > 0 {
		if err := json.Unmarshal(channelsRaw, &reminder.Channels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
		}
	}

	return &reminder, nil
}
