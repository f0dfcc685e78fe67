package models

import (
	"time"
)

// 事件日志类型（events 表由路由层写入，本服务只读）
const (
	EventTypeFeeding    = "feeding"
	EventTypeSleep      = "sleep"
	EventTypeMedication = "medication"
	EventTypeWeight     = "weight"
)

// EventLog 照护事件日志（对应 events 表，只读）
type EventLog struct {
	EventID         string    `json:"event_id" db:"event_id"`
	SubjectID       string    `json:"subject_id" db:"subject_id"`
	OwnerID         string    `json:"owner_id" db:"owner_id"`
	EventType       string    `json:"event_type" db:"event_type"`
	Quantity        *float64  `json:"quantity,omitempty" db:"quantity"`                 // 喂养量（ml）/体重（g）
	DurationMinutes *float64  `json:"duration_minutes,omitempty" db:"duration_minutes"` // 睡眠时长（分钟）
	Given           *bool     `json:"given,omitempty" db:"given"`                       // 用药是否完成
	OccurredAt      time.Time `json:"occurred_at" db:"occurred_at"`
}

// Subject 被监护对象（subjects 表，只读）
type Subject struct {
	SubjectID   string    `json:"subject_id" db:"subject_id"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Class       string    `json:"class" db:"subject_class"` // "preterm" 或 "full_term"
	BirthDate   time.Time `json:"birth_date" db:"birth_date"`
}

// CaregiverContact 照护人联系方式（caregivers 表，只读）
// 投递渠道按需取用：push 用 device_token，sms 用 phone_number
type CaregiverContact struct {
	OwnerID     string  `json:"owner_id" db:"owner_id"`
	DisplayName string  `json:"display_name" db:"display_name"`
	DeviceToken *string `json:"device_token,omitempty" db:"device_token"`
	PhoneNumber *string `json:"phone_number,omitempty" db:"phone_number"`
}

// ScheduleItem 用药计划条目
type ScheduleItem struct {
	Name       string   `json:"name"`
	Dosage     string   `json:"dosage"`
	TimesOfDay []string `json:"times_of_day"` // "HH:mm" 列表
}

// MedicationSchedule 已确认的用药计划（schedules 表由路由层维护，调用时随参数传入）
type MedicationSchedule struct {
	ScheduleID string         `json:"schedule_id"`
	SubjectID  string         `json:"subject_id"`
	OwnerID    string         `json:"owner_id"`
	Items      []ScheduleItem `json:"items"`
}
