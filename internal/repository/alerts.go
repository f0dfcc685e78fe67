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

// AlertRepository 报警仓库
// 核心操作是条件 upsert：每个 (subject_id, owner_id, rule_id) 最多一条活跃记录，
// 重复违反时原地更新而不是新建。
type AlertRepository interface {
	// UpsertActive 条件 upsert：存在活跃记录则原地更新，否则创建。
	// 返回的 IsNew / SeverityEscalated 供调用方决定是否触发通知。
	UpsertActive(ctx context.Context, params UpsertAlertParams) (*UpsertAlertResult, error)
	// ResolveActive 解除活跃报警（is_active=false, resolved=true）。
	// 没有活跃记录时不报错，返回 false。
	ResolveActive(ctx context.Context, subjectID, ownerID, ruleID string) (bool, error)
	// GetActive 查询指定规则的活跃报警，不存在时返回 nil
	GetActive(ctx context.Context, subjectID, ownerID, ruleID string) (*models.Alert, error)
	// ListActive 查询对象当前全部活跃报警
	ListActive(ctx context.Context, subjectID, ownerID string) ([]models.Alert, error)
	// Acknowledge 照护人确认报警（不影响 is_active 状态）
	Acknowledge(ctx context.Context, ownerID, alertID, acknowledgedBy string) error
}

type alertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository 创建报警仓库
func NewAlertRepository(db *sql.DB, logger *zap.Logger) AlertRepository {
	return &alertRepository{db: db, logger: logger}
}

// UpsertAlertParams 条件 upsert 参数
type UpsertAlertParams struct {
	SubjectID   string
	OwnerID     string
	RuleID      string
	Severity    string
	Title       string
	Description string
	TriggerData *models.TriggerData
}

// UpsertAlertResult 条件 upsert 结果
type UpsertAlertResult struct {
	Alert models.Alert
	// IsNew 为 true 表示本次创建了新记录
	IsNew bool
	// SeverityEscalated 为 true 表示已有记录的级别本次升级到了 HIGH
	SeverityEscalated bool
}

func (r *alertRepository) UpsertActive(ctx context.Context, params UpsertAlertParams) (*UpsertAlertResult, error) {
	if params.SubjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}
	if params.OwnerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	if params.RuleID == "" {
		return nil, fmt.Errorf("rule_id is required")
	}
	if models.SeverityRank(params.Severity) == 0 {
		return nil, fmt.Errorf("invalid severity: %s", params.Severity)
	}

	triggerDataJSON, err := json.Marshal(params.TriggerData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	// upsert 必须是原子单元：行锁防止并发评估创建出两条活跃记录
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const selectQuery = `
		SELECT alert_id, severity
		FROM alerts
		WHERE subject_id = $1
		  AND owner_id = $2
		  AND rule_id = $3
		  AND is_active = TRUE
		FOR UPDATE
	`

	now := time.Now()
	var alertID, prevSeverity string
	err = tx.QueryRowContext(ctx, selectQuery, params.SubjectID, params.OwnerID, params.RuleID).
		Scan(&alertID, &prevSeverity)

	switch {
	case err == sql.ErrNoRows:
		// 首次违反：创建新记录
		alertID = uuid.New().String()

		const insertQuery = `
			INSERT INTO alerts (
				alert_id, subject_id, owner_id, rule_id,
				severity, title, description, trigger_data,
				is_active, resolved, created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, TRUE, FALSE, $9, $9
			)
		`
		if _, err := tx.ExecContext(ctx, insertQuery,
			alertID, params.SubjectID, params.OwnerID, params.RuleID,
			params.Severity, params.Title, params.Description, triggerDataJSON,
			now,
		); err != nil {
			return nil, fmt.Errorf("failed to insert alert: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}

		return &UpsertAlertResult{
			Alert: models.Alert{
				AlertID:     alertID,
				SubjectID:   params.SubjectID,
				OwnerID:     params.OwnerID,
				RuleID:      params.RuleID,
				Severity:    params.Severity,
				Title:       params.Title,
				Description: params.Description,
				TriggerData: triggerDataJSON,
				IsActive:    true,
				Resolved:    false,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
			IsNew: true,
		}, nil

	case err != nil:
		return nil, fmt.Errorf("failed to query active alert: %w", err)
	}

	// 重复违反：原地更新（级别可升可降）
	const updateQuery = `
		UPDATE alerts
		SET severity = $1,
		    title = $2,
		    description = $3,
		    trigger_data = $4,
		    updated_at = $5
		WHERE alert_id = $6
		RETURNING created_at
	`

	var createdAt time.Time
	if err := tx.QueryRowContext(ctx, updateQuery,
		params.Severity, params.Title, params.Description, triggerDataJSON, now, alertID,
	).Scan(&createdAt); err != nil {
		return nil, fmt.Errorf("failed to update alert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	escalated := params.Severity == models.SeverityHigh &&
		models.SeverityRank(params.Severity) > models.SeverityRank(prevSeverity)

	return &UpsertAlertResult{
		Alert: models.Alert{
			AlertID:     alertID,
			SubjectID:   params.SubjectID,
			OwnerID:     params.OwnerID,
			RuleID:      params.RuleID,
			Severity:    params.Severity,
			Title:       params.Title,
			Description: params.Description,
			TriggerData: triggerDataJSON,
			IsActive:    true,
			Resolved:    false,
			CreatedAt:   createdAt,
			UpdatedAt:   now,
		},
		IsNew:             false,
		SeverityEscalated: escalated,
	}, nil
}

func (r *alertRepository) ResolveActive(ctx context.Context, subjectID, ownerID, ruleID string) (bool, error) {
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
		UPDATE alerts
		SET is_active = FALSE,
		    resolved = TRUE,
		    updated_at = CURRENT_TIMESTAMP
		WHERE subject_id = $1
		  AND owner_id = $2
		  AND rule_id = $3
		  AND is_active = TRUE
	`

	result, err := r.db.ExecContext(ctx, query, subjectID, ownerID, ruleID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func (r *alertRepository) GetActive(ctx context.Context, subjectID, ownerID, ruleID string) (*models.Alert, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}
	if ruleID == "" {
		return nil, fmt.Errorf("rule_id is required")
	}

	const query = `
		SELECT
			alert_id, subject_id, owner_id, rule_id,
			severity, title, description, trigger_data,
			is_active, resolved, acknowledged_by, acknowledged_at,
			created_at, updated_at
		FROM alerts
		WHERE subject_id = $1
		  AND owner_id = $2
		  AND rule_id = $3
		  AND is_active = TRUE
	`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, subjectID, ownerID, ruleID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active alert: %w", err)
	}
	return alert, nil
}

func (r *alertRepository) ListActive(ctx context.Context, subjectID, ownerID string) ([]models.Alert, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}

	const query = `
		SELECT
			alert_id, subject_id, owner_id, rule_id,
			severity, title, description, trigger_data,
			is_active, resolved, acknowledged_by, acknowledged_at,
			created_at, updated_at
		FROM alerts
		WHERE subject_id = $1
		  AND owner_id = $2
		  AND is_active = TRUE
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, subjectID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}

func (r *alertRepository) Acknowledge(ctx context.Context, ownerID, alertID, acknowledgedBy string) error {
	if ownerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if acknowledgedBy == "" {
		return fmt.Errorf("acknowledged_by is required")
	}

	const query = `
		UPDATE alerts
		SET acknowledged_by = $1,
		    acknowledged_at = CURRENT_TIMESTAMP,
		    updated_at = CURRENT_TIMESTAMP
		WHERE alert_id = $2
		  AND owner_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, acknowledgedBy, alertID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("alert not found: alert_id=%s, owner_id=%s", alertID, ownerID)
	}

	return nil
}

// scanAlert 扫描单行报警记录
func scanAlert(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Alert, error) {
	var alert models.Alert
	var triggerData []byte
	var acknowledgedBy sql.NullString
	var acknowledgedAt sql.NullTime

	if err := scanner.Scan(
		&alert.AlertID,
		&alert.SubjectID,
		&alert.OwnerID,
		&alert.RuleID,
		&alert.Severity,
		&alert.Title,
		&alert.Description,
		&triggerData,
		&alert.IsActive,
		&alert.Resolved,
		&acknowledgedBy,
		&acknowledgedAt,
		&alert.CreatedAt,
		&alert.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(triggerData) > 0 {
		alert.TriggerData = triggerData
	} else {
		alert.TriggerData = json.RawMessage("{}")
	}
	if acknowledgedBy.Valid {
		alert.AcknowledgedBy = &acknowledgedBy.String
	}
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		alert.AcknowledgedAt = &t
	}

	return &alert, nil
}
