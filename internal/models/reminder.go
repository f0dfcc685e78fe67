package models

import (
	"time"
)

// 提醒类型
const (
	ReminderTypeFeeding  = "feeding"
	ReminderTypeSleep    = "sleep"
	ReminderTypeMedicine = "medicine"
	ReminderTypeCustom   = "custom"
)

// 提醒状态机：pending → sent / failed / dismissed → 超过保留期后删除
// sent/failed/dismissed 之后不再变更状态（只允许删除）
const (
	ReminderStatusPending   = "pending"
	ReminderStatusSent      = "sent"
	ReminderStatusFailed    = "failed"
	ReminderStatusDismissed = "dismissed"
)

// 投递渠道
const (
	ChannelPush = "push"
	ChannelSMS  = "sms"
)

// Reminder 提醒记录（对应 reminders 表）
// 不变量：同一 (subject_id, medicine_name, dose_time, 日历日) 不允许出现两条记录
type Reminder struct {
	ReminderID    string     `json:"reminder_id" db:"reminder_id"`
	SubjectID     string     `json:"subject_id" db:"subject_id"`
	OwnerID       string     `json:"owner_id" db:"owner_id"`
	Type          string     `json:"type" db:"type"` // feeding, sleep, medicine, custom
	RuleID        *string    `json:"rule_id,omitempty" db:"rule_id"` // 规则派生提醒才有
	MedicineName  *string    `json:"medicine_name,omitempty" db:"medicine_name"`
	DoseTime      *string    `json:"dose_time,omitempty" db:"dose_time"` // "HH:mm"
	Title         string     `json:"title" db:"title"`
	Body          string     `json:"body" db:"body"`
	ScheduledFor  time.Time  `json:"scheduled_for" db:"scheduled_for"`
	NextTriggerAt time.Time  `json:"next_trigger_at" db:"next_trigger_at"` // 轮询索引字段
	Channels      []string   `json:"channels" db:"channels"`               // JSONB
	Status        string     `json:"status" db:"status"`
	AttemptCount  int        `json:"attempt_count" db:"attempt_count"`
	LastError     *string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}
