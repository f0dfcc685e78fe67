package notifier

import (
	"context"

	"nestcare-monitor/internal/models"
)

// Message 投递内容（与渠道无关的统一载荷）
type Message struct {
	Title string
	Body  string
	// Data 附加数据（推送渠道透传给客户端）
	Data map[string]string
}

// Channel 投递渠道
// 每个渠道独立成败：单渠道失败绝不阻止其他渠道尝试
type Channel interface {
	// Name 渠道标识（push / sms）
	Name() string
	// Send 投递消息，成功时返回渠道方消息 ID
	Send(ctx context.Context, contact *models.CaregiverContact, msg Message) (string, error)
}

// ChannelResult 单渠道投递结果
type ChannelResult struct {
	Success           bool
	ProviderMessageID string
	Error             string
}

// DeliveryResult 各渠道投递结果汇总
type DeliveryResult map[string]ChannelResult

// Delivered 任一渠道成功即视为已投递
// 优先保证照护人能看到消息，而不是渠道层面的完整成功
func (r DeliveryResult) Delivered() bool {
	for _, cr := range r {
		if cr.Success {
			return true
		}
	}
	return false
}

// ErrorSummary 汇总各失败渠道的错误描述（记入 last_error）
func (r DeliveryResult) ErrorSummary() string {
	summary := ""
	for name, cr := range r {
		if cr.Success {
			continue
		}
		if summary != "" {
			summary += "; "
		}
		summary += name + ": " + cr.Error
	}
	return summary
}
