package engine

import (
	"context"
	"fmt"
	"time"

	"nestcare-monitor/internal/models"
	"nestcare-monitor/internal/rules"
)

// evaluateSleep 睡眠类规则评估
// sleep_daily_total：当日睡眠总时长（小时）低于阈值
func (e *Engine) evaluateSleep(ctx context.Context, subject *models.Subject, now time.Time, result *Result) error {
	last, err := e.events.LastEvent(ctx, subject.SubjectID, subject.OwnerID, models.EventTypeSleep)
	if err != nil {
		return fmt.Errorf("failed to load last sleep event: %w", err)
	}
	// 从未记录过睡眠：抑制整个分类
	if last == nil {
		return nil
	}

	for _, rule := range e.rules.ForCategory(rules.CategorySleep) {
		if !rule.Matches(subject.Class) {
			continue
		}
		if rule.Kind != rules.KindSleepDailyTotal {
			continue
		}

		totalMinutes, err := e.dailyDurationTotal(ctx, subject, models.EventTypeSleep, now)
		if err != nil {
			return fmt.Errorf("failed to sum daily sleep total: %w", err)
		}
		totalHours := totalMinutes / 60.0

		if totalHours < rule.Threshold {
			if err := e.applyViolation(ctx, subject, violation{
				rule:         rule,
				severity:     rule.Severity,
				value:        totalHours,
				unit:         "hours",
				withReminder: true,
				reminderType: models.ReminderTypeSleep,
			}, result); err != nil {
				return err
			}
			continue
		}
		if err := e.applyClear(ctx, subject, rule, true); err != nil {
			return err
		}
	}

	return nil
}
