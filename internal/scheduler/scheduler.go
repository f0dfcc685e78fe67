package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"nestcare-monitor/internal/models"
	"nestcare-monitor/internal/notifier"
	"nestcare-monitor/internal/repository"

	"go.uber.org/zap"
)

// ReminderDispatcher 提醒投递接口（由 notifier.Dispatcher 实现）
type ReminderDispatcher interface {
	SendReminder(ctx context.Context, reminder *models.Reminder) (notifier.DeliveryResult, error)
}

// Config 调度配置
type Config struct {
	PollInterval     time.Duration // 到期提醒轮询间隔
	PollBatchSize    int           // 单次轮询最多处理的提醒数
	DispatchDelay    time.Duration // 批内逐条投递之间的间隔（保护下游限流）
	CleanupInterval  time.Duration // 清理任务间隔
	CleanupBatchSize int           // 清理单批删除数
	Retention        time.Duration // 终态提醒保留时长
}

// Scheduler 后台调度器
// 两个独立周期任务：
//   - 轮询任务：捞出到期的 pending 提醒逐条投递并迁移状态
//   - 清理任务：按批删除超过保留期的终态提醒
//
// 每个任务用 running 标志防止自身重入：上一轮未结束时跳过本轮 tick。
type Scheduler struct {
	cfg        Config
	reminders  repository.ReminderRepository
	dispatcher ReminderDispatcher
	logger     *zap.Logger

	pollRunning    atomic.Bool
	cleanupRunning atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler 创建后台调度器
func NewScheduler(cfg Config, reminders repository.ReminderRepository, dispatcher ReminderDispatcher, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		reminders:  reminders,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Start 启动轮询与清理两个周期任务
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.runLoop(ctx, s.cfg.PollInterval, s.tickPoll)
	go s.runLoop(ctx, s.cfg.CleanupInterval, s.tickCleanup)

	s.logger.Info("Scheduler started",
		zap.Duration("poll_interval", s.cfg.PollInterval),
		zap.Duration("cleanup_interval", s.cfg.CleanupInterval),
	)
}

// Stop 停止调度并等待当前轮次结束
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// tickPoll 单轮轮询：tick 失败不影响后续 tick
func (s *Scheduler) tickPoll(ctx context.Context) {
	if !s.pollRunning.CompareAndSwap(false, true) {
		s.logger.Warn("Previous poll still running, skipping tick")
		return
	}
	defer s.pollRunning.Store(false)

	if err := s.pollOnce(ctx); err != nil {
		s.logger.Error("Poll tick failed", zap.Error(err))
	}
}

// pollOnce 捞出到期提醒逐条投递
// 无到期提醒时静默返回；单条提醒的投递/状态迁移失败只记录日志
func (s *Scheduler) pollOnce(ctx context.Context) error {
	due, err := s.reminders.ListDue(ctx, time.Now(), s.cfg.PollBatchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}

	s.logger.Info("Processing due reminders", zap.Int("count", len(due)))

	for i := range due {
		reminder := &due[i]
		s.dispatchReminder(ctx, reminder)

		// 批内间隔，最后一条之后不再等待
		if i < len(due)-1 && s.cfg.DispatchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.DispatchDelay):
			}
		}
	}

	return nil
}

func (s *Scheduler) dispatchReminder(ctx context.Context, reminder *models.Reminder) {
	result, err := s.dispatcher.SendReminder(ctx, reminder)
	if err != nil {
		// 瞬时故障（联系方式查询出错等）：保持 pending，留到下一轮重试
		if !errors.Is(err, notifier.ErrNotDeliverable) {
			s.logger.Error("Failed to dispatch reminder, will retry next poll",
				zap.String("reminder_id", reminder.ReminderID),
				zap.Error(err),
			)
			return
		}

		// 数据问题（照护人不存在等）：重试不会成功，落库避免每轮重复捞出
		s.logger.Error("Reminder not deliverable",
			zap.String("reminder_id", reminder.ReminderID),
			zap.Error(err),
		)
		if err := s.reminders.MarkFailed(ctx, reminder.ReminderID, err.Error()); err != nil {
			s.logger.Error("Failed to mark reminder failed",
				zap.String("reminder_id", reminder.ReminderID),
				zap.Error(err),
			)
		}
		return
	}

	if result.Delivered() {
		if err := s.reminders.MarkSent(ctx, reminder.ReminderID); err != nil {
			s.logger.Error("Failed to mark reminder sent",
				zap.String("reminder_id", reminder.ReminderID),
				zap.Error(err),
			)
		}
		return
	}

	if err := s.reminders.MarkFailed(ctx, reminder.ReminderID, result.ErrorSummary()); err != nil {
		s.logger.Error("Failed to mark reminder failed",
			zap.String("reminder_id", reminder.ReminderID),
			zap.Error(err),
		)
	}
}

// tickCleanup 单轮清理
func (s *Scheduler) tickCleanup(ctx context.Context) {
	if !s.cleanupRunning.CompareAndSwap(false, true) {
		s.logger.Warn("Previous cleanup still running, skipping tick")
		return
	}
	defer s.cleanupRunning.Store(false)

	total, err := s.cleanupOnce(ctx)
	if err != nil {
		s.logger.Error("Cleanup tick failed", zap.Error(err))
		return
	}
	if total > 0 {
		s.logger.Info("Terminal reminders purged", zap.Int("deleted", total))
	}
}

// cleanupOnce 按批删除超过保留期的终态提醒，直到单批不满为止
func (s *Scheduler) cleanupOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.Retention)
	total := 0

	for {
		deleted, err := s.reminders.DeleteTerminalBefore(ctx, cutoff, s.cfg.CleanupBatchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < s.cfg.CleanupBatchSize {
			return total, nil
		}
	}
}
