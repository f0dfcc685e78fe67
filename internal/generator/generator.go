package generator

import (
	"context"
	"fmt"
	"time"

	"nestcare-monitor/internal/cache"
	"nestcare-monitor/internal/models"
	"nestcare-monitor/internal/repository"

	"go.uber.org/zap"
)

// lookaheadDays 展开窗口：今天与明天两个日历日
const lookaheadDays = 2

// Generator 提醒生成器
// 把已确认的用药计划展开为未来两个日历日内的具体提醒实例。
// 展开是幂等的：去重键 (subject, 药名, 剂次时间, 日历日) 先查缓存省掉存储往返，
// 缓存未命中由存储层条件插入兜底，重试或并发展开同一计划都不会产生重复提醒。
type Generator struct {
	reminders repository.ReminderRepository
	cache     *cache.Cache
	dedupTTL  time.Duration
	logger    *zap.Logger
}

// NewGenerator 创建提醒生成器
func NewGenerator(reminders repository.ReminderRepository, c *cache.Cache, dedupTTL time.Duration, logger *zap.Logger) *Generator {
	return &Generator{
		reminders: reminders,
		cache:     c,
		dedupTTL:  dedupTTL,
		logger:    logger,
	}
}

// ExpandResult 展开结果
type ExpandResult struct {
	// CreatedIDs 本次新建的提醒 ID
	CreatedIDs []string
	// Skipped 因去重跳过的实例数
	Skipped int
}

// Expand 展开用药计划
// 计划格式错误（缺字段、非法时间）属于调用方契约违反，直接返回错误；
// 单个实例的存储写入失败只记录日志并跳过，不中断其余实例。
func (g *Generator) Expand(ctx context.Context, schedule *models.MedicationSchedule) (*ExpandResult, error) {
	if schedule == nil {
		return nil, fmt.Errorf("schedule is required")
	}
	if schedule.SubjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}
	if schedule.OwnerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}

	now := time.Now()
	result := &ExpandResult{}

	for _, item := range schedule.Items {
		if item.Name == "" {
			return nil, fmt.Errorf("schedule item name is required")
		}

		for _, timeOfDay := range item.TimesOfDay {
			parsed, err := time.Parse("15:04", timeOfDay)
			if err != nil {
				return nil, fmt.Errorf("invalid time of day %q for item %s: %w", timeOfDay, item.Name, err)
			}

			for offset := 0; offset < lookaheadDays; offset++ {
				local := now.In(time.Local).AddDate(0, 0, offset)
				instant := time.Date(local.Year(), local.Month(), local.Day(),
					parsed.Hour(), parsed.Minute(), 0, 0, time.Local)

				// 已经过去的时刻不生成
				if instant.Before(now) {
					continue
				}

				created, err := g.expandInstance(ctx, schedule, item, timeOfDay, instant)
				if err != nil {
					g.logger.Error("Failed to create schedule reminder",
						zap.String("subject_id", schedule.SubjectID),
						zap.String("medicine_name", item.Name),
						zap.String("dose_time", timeOfDay),
						zap.Time("scheduled_for", instant),
						zap.Error(err),
					)
					continue
				}
				if created == "" {
					result.Skipped++
					continue
				}
				result.CreatedIDs = append(result.CreatedIDs, created)
			}
		}
	}

	g.logger.Info("Schedule expanded",
		zap.String("subject_id", schedule.SubjectID),
		zap.Int("created", len(result.CreatedIDs)),
		zap.Int("skipped", result.Skipped),
	)

	return result, nil
}

// expandInstance 生成单个提醒实例，重复时返回空 ID
func (g *Generator) expandInstance(ctx context.Context, schedule *models.MedicationSchedule, item models.ScheduleItem, timeOfDay string, instant time.Time) (string, error) {
	day := instant.Format("2006-01-02")
	key := cache.DedupKey(schedule.SubjectID, item.Name, timeOfDay, day)

	if g.cache != nil {
		if _, hit := g.cache.Get(key); hit {
			return "", nil
		}
	}

	medicineName := item.Name
	doseTime := timeOfDay
	body := fmt.Sprintf("Time to give %s", item.Name)
	if item.Dosage != "" {
		body = fmt.Sprintf("Time to give %s (%s)", item.Name, item.Dosage)
	}

	reminder := &models.Reminder{
		SubjectID:     schedule.SubjectID,
		OwnerID:       schedule.OwnerID,
		Type:          models.ReminderTypeMedicine,
		MedicineName:  &medicineName,
		DoseTime:      &doseTime,
		Title:         "Medicine reminder",
		Body:          body,
		ScheduledFor:  instant,
		NextTriggerAt: instant,
		Channels:      []string{models.ChannelPush, models.ChannelSMS},
		Status:        models.ReminderStatusPending,
	}

	created, err := g.reminders.CreateScheduled(ctx, reminder)
	if err != nil {
		return "", fmt.Errorf("failed to create reminder: %w", err)
	}

	if g.cache != nil {
		g.cache.Set(key, true, g.dedupTTL)
	}

	if !created {
		return "", nil
	}
	return reminder.ReminderID, nil
}
