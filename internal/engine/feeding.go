package engine

import (
	"context"
	"fmt"
	"time"

	"nestcare-monitor/internal/models"
	"nestcare-monitor/internal/rules"
)

// evaluateFeeding 喂养类规则评估
// 三种规则共享同一条"最近喂养记录"读取：
//   - feeding_delay：距上次喂养超过阈值（小时）
//   - feeding_interval：最近两次喂养间隔低于最小值（小时）
//   - feeding_daily_total：当日总量低于阈值（ml），低于危急阈值升级为 HIGH
func (e *Engine) evaluateFeeding(ctx context.Context, subject *models.Subject, now time.Time, result *Result) error {
	last, err := e.events.LastEvent(ctx, subject.SubjectID, subject.OwnerID, models.EventTypeFeeding)
	if err != nil {
		return fmt.Errorf("failed to load last feeding event: %w", err)
	}
	// 从未记录过喂养：对象尚未接入，抑制整个分类，避免首次使用即误报
	if last == nil {
		return nil
	}

	for _, rule := range e.rules.ForCategory(rules.CategoryFeeding) {
		if !rule.Matches(subject.Class) {
			continue
		}

		switch rule.Kind {
		case rules.KindFeedingDelay:
			if err := e.evaluateFeedingDelay(ctx, subject, rule, last, now, result); err != nil {
				return err
			}
		case rules.KindFeedingInterval:
			if err := e.evaluateFeedingInterval(ctx, subject, rule, result); err != nil {
				return err
			}
		case rules.KindFeedingDailyTotal:
			if err := e.evaluateFeedingDailyTotal(ctx, subject, rule, now, result); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Engine) evaluateFeedingDelay(ctx context.Context, subject *models.Subject, rule rules.Rule, last *models.EventLog, now time.Time, result *Result) error {
	elapsed := now.Sub(last.OccurredAt).Hours()

	if elapsed > rule.Threshold {
		return e.applyViolation(ctx, subject, violation{
			rule:         rule,
			severity:     rule.Severity,
			value:        elapsed,
			unit:         "hours",
			withReminder: true,
			reminderType: models.ReminderTypeFeeding,
		}, result)
	}
	return e.applyClear(ctx, subject, rule, true)
}

func (e *Engine) evaluateFeedingInterval(ctx context.Context, subject *models.Subject, rule rules.Rule, result *Result) error {
	recent, err := e.events.LastEvents(ctx, subject.SubjectID, subject.OwnerID, models.EventTypeFeeding, 2)
	if err != nil {
		return fmt.Errorf("failed to load recent feeding events: %w", err)
	}
	// 间隔需要两次记录才有定义
	if len(recent) < 2 {
		return e.applyClear(ctx, subject, rule, true)
	}

	interval := recent[0].OccurredAt.Sub(recent[1].OccurredAt).Hours()

	if interval < rule.Threshold {
		return e.applyViolation(ctx, subject, violation{
			rule:         rule,
			severity:     rule.Severity,
			value:        interval,
			unit:         "hours",
			withReminder: true,
			reminderType: models.ReminderTypeFeeding,
		}, result)
	}
	return e.applyClear(ctx, subject, rule, true)
}

func (e *Engine) evaluateFeedingDailyTotal(ctx context.Context, subject *models.Subject, rule rules.Rule, now time.Time, result *Result) error {
	total, err := e.dailyQuantityTotal(ctx, subject, models.EventTypeFeeding, now)
	if err != nil {
		return fmt.Errorf("failed to sum daily feeding total: %w", err)
	}

	if total < rule.Threshold {
		// 低于危急阈值时升级为 HIGH，否则按规则自带级别
		severity := rule.Severity
		if rule.CriticalThreshold > 0 && total < rule.CriticalThreshold {
			severity = models.SeverityHigh
		}

		return e.applyViolation(ctx, subject, violation{
			rule:         rule,
			severity:     severity,
			value:        total,
			unit:         "ml",
			withReminder: true,
			reminderType: models.ReminderTypeFeeding,
		}, result)
	}
	return e.applyClear(ctx, subject, rule, true)
}
