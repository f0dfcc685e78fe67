package notifier

import (
	"context"
	"errors"
	"fmt"

	"nestcare-monitor/internal/models"
	"nestcare-monitor/internal/repository"

	"go.uber.org/zap"
)

// ErrNotDeliverable 数据性投递失败：照护人不存在、渠道集合为空等，
// 重试不会成功。瞬时故障（联系方式查询出错等）不带此标记，调用方可重试。
var ErrNotDeliverable = errors.New("not deliverable")

// Dispatcher 通知调度器
// 把报警/提醒按渠道集合投递并汇总结果。投递策略：
//   - 报警：仅 HIGH 级别触发渠道投递，MEDIUM/LOW 只落库
//   - 提醒：尝试提醒自带 channels 集合中的全部渠道
//   - 任一渠道成功即视为已投递，全部失败才算失败
type Dispatcher struct {
	channels   map[string]Channel
	order      []string
	caregivers repository.CaregiverRepository
	logger     *zap.Logger
}

// NewDispatcher 创建通知调度器（channels 顺序即尝试顺序）
func NewDispatcher(channels []Channel, caregivers repository.CaregiverRepository, logger *zap.Logger) *Dispatcher {
	byName := make(map[string]Channel, len(channels))
	var order []string
	for _, c := range channels {
		byName[c.Name()] = c
		order = append(order, c.Name())
	}
	return &Dispatcher{
		channels:   byName,
		order:      order,
		caregivers: caregivers,
		logger:     logger,
	}
}

// SendAlert 投递报警通知
// 非 HIGH 级别直接返回（只落库不打扰）；HIGH 级别尝试全部已配置渠道
func (d *Dispatcher) SendAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.Severity != models.SeverityHigh {
		return nil
	}

	contact, err := d.caregivers.GetContact(ctx, alert.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to look up caregiver contact: %w", err)
	}
	if contact == nil {
		return fmt.Errorf("%w: caregiver not found: owner_id=%s", ErrNotDeliverable, alert.OwnerID)
	}

	msg := Message{
		Title: alert.Title,
		Body:  alert.Description,
		Data: map[string]string{
			"alert_id":   alert.AlertID,
			"subject_id": alert.SubjectID,
			"rule_id":    alert.RuleID,
			"severity":   alert.Severity,
		},
	}

	result := d.dispatch(ctx, contact, d.order, msg)

	d.logger.Info("Alert notification dispatched",
		zap.String("alert_id", alert.AlertID),
		zap.String("rule_id", alert.RuleID),
		zap.Bool("delivered", result.Delivered()),
	)

	if !result.Delivered() {
		return fmt.Errorf("all channels failed: %s", result.ErrorSummary())
	}
	return nil
}

// SendReminder 投递提醒，返回各渠道结果供调用方做状态迁移
func (d *Dispatcher) SendReminder(ctx context.Context, reminder *models.Reminder) (DeliveryResult, error) {
	if reminder == nil {
		return nil, fmt.Errorf("reminder is required")
	}
	if len(reminder.Channels) == 0 {
		return nil, fmt.Errorf("%w: reminder has no channels: reminder_id=%s", ErrNotDeliverable, reminder.ReminderID)
	}

	contact, err := d.caregivers.GetContact(ctx, reminder.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up caregiver contact: %w", err)
	}
	if contact == nil {
		return nil, fmt.Errorf("%w: caregiver not found: owner_id=%s", ErrNotDeliverable, reminder.OwnerID)
	}

	msg := Message{
		Title: reminder.Title,
		Body:  reminder.Body,
		Data: map[string]string{
			"reminder_id": reminder.ReminderID,
			"subject_id":  reminder.SubjectID,
			"type":        reminder.Type,
		},
	}

	result := d.dispatch(ctx, contact, reminder.Channels, msg)

	d.logger.Info("Reminder dispatched",
		zap.String("reminder_id", reminder.ReminderID),
		zap.Strings("channels", reminder.Channels),
		zap.Bool("delivered", result.Delivered()),
	)

	return result, nil
}

// dispatch 逐渠道投递并收集结果，单渠道失败不影响其余渠道
func (d *Dispatcher) dispatch(ctx context.Context, contact *models.CaregiverContact, names []string, msg Message) DeliveryResult {
	result := make(DeliveryResult, len(names))

	for _, name := range names {
		channel, ok := d.channels[name]
		if !ok {
			result[name] = ChannelResult{Error: "channel not configured"}
			continue
		}

		messageID, err := channel.Send(ctx, contact, msg)
		if err != nil {
			d.logger.Warn("Channel delivery failed",
				zap.String("channel", name),
				zap.String("owner_id", contact.OwnerID),
				zap.Error(err),
			)
			result[name] = ChannelResult{Error: err.Error()}
			continue
		}
		result[name] = ChannelResult{Success: true, ProviderMessageID: messageID}
	}

	return result
}
