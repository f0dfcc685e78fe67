package engine

import (
	"context"
	"fmt"
	"time"

	"nestcare-monitor/internal/models"
	"nestcare-monitor/internal/rules"
)

// evaluateWeight 体重类规则评估
// weight_stale：距上次体重记录超过阈值（天）
// 体重规则不派生伴随提醒，只产生报警记录
func (e *Engine) evaluateWeight(ctx context.Context, subject *models.Subject, now time.Time, result *Result) error {
	last, err := e.events.LastEvent(ctx, subject.SubjectID, subject.OwnerID, models.EventTypeWeight)
	if err != nil {
		return fmt.Errorf("failed to load last weight event: %w", err)
	}
	// 从未记录过体重：抑制整个分类
	if last == nil {
		return nil
	}

	for _, rule := range e.rules.ForCategory(rules.CategoryWeight) {
		if !rule.Matches(subject.Class) {
			continue
		}
		if rule.Kind != rules.KindWeightStale {
			continue
		}

		days := now.Sub(last.OccurredAt).Hours() / 24.0

		if days > rule.Threshold {
			if err := e.applyViolation(ctx, subject, violation{
				rule:     rule,
				severity: rule.Severity,
				value:    days,
				unit:     "days",
			}, result); err != nil {
				return err
			}
			continue
		}
		if err := e.applyClear(ctx, subject, rule, false); err != nil {
			return err
		}
	}

	return nil
}
