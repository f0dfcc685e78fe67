package models

import (
	"encoding/json"
	"time"
)

// 报警级别（与规则表中的 severity 一致）
const (
	SeverityLow    = "LOW"
	SeverityMedium = "MEDIUM"
	SeverityHigh   = "HIGH"
)

// SeverityRank 返回级别的排序值（用于判断升级/降级）
// 未知级别返回 0
func SeverityRank(severity string) int {
	switch severity {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// Alert 报警记录（对应 alerts 表）
// 不变量：每个 (subject_id, owner_id, rule_id) 最多只有一条 is_active = true 的记录
type Alert struct {
	AlertID        string          `json:"alert_id" db:"alert_id"`
	SubjectID      string          `json:"subject_id" db:"subject_id"`
	OwnerID        string          `json:"owner_id" db:"owner_id"`
	RuleID         string          `json:"rule_id" db:"rule_id"`
	Severity       string          `json:"severity" db:"severity"` // LOW, MEDIUM, HIGH
	Title          string          `json:"title" db:"title"`
	Description    string          `json:"description" db:"description"`
	TriggerData    json.RawMessage `json:"trigger_data" db:"trigger_data"` // JSONB
	IsActive       bool            `json:"is_active" db:"is_active"`
	Resolved       bool            `json:"resolved" db:"resolved"`
	AcknowledgedBy *string         `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt *time.Time      `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// TriggerData 触发数据快照（JSONB 结构，解释报警原因）
type TriggerData struct {
	Value             *float64 `json:"value,omitempty"`              // 实测值（小时数、毫升数、天数）
	Threshold         *float64 `json:"threshold,omitempty"`          // 规则阈值
	CriticalThreshold *float64 `json:"critical_threshold,omitempty"` // 次级危急阈值（如有）
	Unit              string   `json:"unit,omitempty"`               // "hours", "ml", "days"
	Category          string   `json:"category"`                     // feeding, sleep, weight, medication
	RuleName          string   `json:"rule_name,omitempty"`
}
