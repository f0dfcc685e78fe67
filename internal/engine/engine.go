package engine

import (
	"context"
	"fmt"
	"time"

	"nestcare-monitor/internal/cache"
	"nestcare-monitor/internal/models"
	"nestcare-monitor/internal/repository"
	"nestcare-monitor/internal/rules"

	"go.uber.org/zap"
)

// AlertNotifier 报警通知接口
// 引擎只负责"判定"，通知策略（级别过滤、渠道选择）由实现方决定
type AlertNotifier interface {
	SendAlert(ctx context.Context, alert *models.Alert) error
}

// Deps 引擎依赖
type Deps struct {
	Rules     *rules.Table
	Events    repository.EventRepository
	Alerts    repository.AlertRepository
	Reminders repository.ReminderRepository
	Notifier  AlertNotifier
	Cache     *cache.Cache
	RollupTTL time.Duration
	Logger    *zap.Logger
}

// Engine 规则引擎
// 在事件写入的请求路径内同步执行：读取有界的近期事件窗口，
// 逐条规则比较阈值，违反则 upsert 报警，解除则 resolve。
// 评估本身不含任何推断逻辑，每个判定都是可审计的阈值比较。
type Engine struct {
	rules     *rules.Table
	events    repository.EventRepository
	alerts    repository.AlertRepository
	reminders repository.ReminderRepository
	notifier  AlertNotifier
	cache     *cache.Cache
	rollupTTL time.Duration
	logger    *zap.Logger
}

// NewEngine 创建规则引擎
func NewEngine(deps Deps) *Engine {
	return &Engine{
		rules:     deps.Rules,
		events:    deps.Events,
		alerts:    deps.Alerts,
		reminders: deps.Reminders,
		notifier:  deps.Notifier,
		cache:     deps.Cache,
		rollupTTL: deps.RollupTTL,
		logger:    deps.Logger,
	}
}

// Result 单次评估结果
type Result struct {
	Alerts    []models.Alert
	Reminders []models.Reminder
}

// Evaluate 对指定对象执行一次完整评估
// 分类之间相互独立：单个分类评估失败只记录日志，不影响其余分类，
// 调用方总能拿到一个（可能为空的）结果而不是错误。
func (e *Engine) Evaluate(ctx context.Context, subject *models.Subject) (*Result, error) {
	if subject == nil {
		return nil, fmt.Errorf("subject is required")
	}

	now := time.Now()
	result := &Result{}

	categories := []struct {
		category string
		fn       func(context.Context, *models.Subject, time.Time, *Result) error
	}{
		{rules.CategoryFeeding, e.evaluateFeeding},
		{rules.CategorySleep, e.evaluateSleep},
		{rules.CategoryWeight, e.evaluateWeight},
	}

	for _, c := range categories {
		if err := c.fn(ctx, subject, now, result); err != nil {
			e.logger.Error("Rule category evaluation failed",
				zap.String("category", c.category),
				zap.String("subject_id", subject.SubjectID),
				zap.Error(err),
			)
			continue
		}
	}

	return result, nil
}

// violation 单条规则的违反事实
type violation struct {
	rule         rules.Rule
	severity     string
	value        float64
	unit         string
	withReminder bool
	reminderType string
}

// applyViolation 落地违反事实：upsert 报警，必要时触发通知和伴随提醒
// 通知时机由 IsNew / SeverityEscalated 决定，通知失败不影响评估结果
func (e *Engine) applyViolation(ctx context.Context, subject *models.Subject, v violation, result *Result) error {
	trigger := &models.TriggerData{
		Value:     &v.value,
		Threshold: &v.rule.Threshold,
		Unit:      v.unit,
		Category:  v.rule.Category,
		RuleName:  v.rule.Name,
	}
	if v.rule.CriticalThreshold > 0 {
		trigger.CriticalThreshold = &v.rule.CriticalThreshold
	}

	description := fmt.Sprintf("%s: measured %.1f %s against threshold %.1f %s",
		v.rule.Description, v.value, v.unit, v.rule.Threshold, v.unit)

	upsert, err := e.alerts.UpsertActive(ctx, repository.UpsertAlertParams{
		SubjectID:   subject.SubjectID,
		OwnerID:     subject.OwnerID,
		RuleID:      v.rule.RuleID,
		Severity:    v.severity,
		Title:       v.rule.Name,
		Description: description,
		TriggerData: trigger,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert alert for rule %s: %w", v.rule.RuleID, err)
	}

	result.Alerts = append(result.Alerts, upsert.Alert)

	// 新建或升级到 HIGH 才值得通知，重复违反的原地更新不再打扰照护人
	if (upsert.IsNew || upsert.SeverityEscalated) && e.notifier != nil {
		if err := e.notifier.SendAlert(ctx, &upsert.Alert); err != nil {
			e.logger.Warn("Failed to send alert notification",
				zap.String("alert_id", upsert.Alert.AlertID),
				zap.String("rule_id", v.rule.RuleID),
				zap.Error(err),
			)
		}
	}

	if v.withReminder {
		reminder, created, err := e.reminders.UpsertRuleReminder(ctx, repository.RuleReminderParams{
			SubjectID: subject.SubjectID,
			OwnerID:   subject.OwnerID,
			RuleID:    v.rule.RuleID,
			Type:      v.reminderType,
			Title:     v.rule.Name,
			Body:      description,
			Channels:  []string{models.ChannelPush},
		})
		if err != nil {
			return fmt.Errorf("failed to upsert rule reminder for rule %s: %w", v.rule.RuleID, err)
		}
		if created {
			result.Reminders = append(result.Reminders, *reminder)
		}
	}

	return nil
}

// applyClear 条件解除：撤销该规则的活跃报警与 pending 提醒
func (e *Engine) applyClear(ctx context.Context, subject *models.Subject, rule rules.Rule, withReminder bool) error {
	resolved, err := e.alerts.ResolveActive(ctx, subject.SubjectID, subject.OwnerID, rule.RuleID)
	if err != nil {
		return fmt.Errorf("failed to resolve alert for rule %s: %w", rule.RuleID, err)
	}
	if resolved {
		e.logger.Info("Alert resolved",
			zap.String("subject_id", subject.SubjectID),
			zap.String("rule_id", rule.RuleID),
		)
	}

	if withReminder {
		if _, err := e.reminders.ResolveRuleReminder(ctx, subject.SubjectID, subject.OwnerID, rule.RuleID); err != nil {
			return fmt.Errorf("failed to resolve rule reminder for rule %s: %w", rule.RuleID, err)
		}
	}

	return nil
}

// dailyQuantityTotal 当日事件 quantity 汇总（读穿缓存）
// 服务层在写入新事件后会先失效对应的 rollup 键，保证读穿结果不陈旧
func (e *Engine) dailyQuantityTotal(ctx context.Context, subject *models.Subject, eventType string, now time.Time) (float64, error) {
	return e.dailyTotal(ctx, subject, eventType, "quantity", now, e.events.SumQuantitySince)
}

// dailyDurationTotal 当日事件 duration_minutes 汇总（读穿缓存）
func (e *Engine) dailyDurationTotal(ctx context.Context, subject *models.Subject, eventType string, now time.Time) (float64, error) {
	return e.dailyTotal(ctx, subject, eventType, "duration", now, e.events.SumDurationSince)
}

func (e *Engine) dailyTotal(
	ctx context.Context,
	subject *models.Subject,
	eventType, concern string,
	now time.Time,
	sum func(context.Context, string, string, string, time.Time) (float64, error),
) (float64, error) {
	local := now.In(time.Local)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
	key := cache.RollupKey(subject.SubjectID, eventType+"-"+concern, dayStart.Format("2006-01-02"))

	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			if total, ok := v.(float64); ok {
				return total, nil
			}
		}
	}

	total, err := sum(ctx, subject.SubjectID, subject.OwnerID, eventType, dayStart)
	if err != nil {
		return 0, err
	}

	if e.cache != nil {
		e.cache.Set(key, total, e.rollupTTL)
	}

	return total, nil
}
