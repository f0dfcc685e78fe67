package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nestcare-monitor/internal/cache"
	"nestcare-monitor/internal/config"
	"nestcare-monitor/internal/database"
	"nestcare-monitor/internal/engine"
	"nestcare-monitor/internal/generator"
	"nestcare-monitor/internal/models"
	"nestcare-monitor/internal/notifier"
	"nestcare-monitor/internal/repository"
	"nestcare-monitor/internal/rules"
	"nestcare-monitor/internal/scheduler"
	"nestcare-monitor/internal/snapshot"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 边界校验错误：属于调用方契约违反，路由层据此返回 4xx
var (
	ErrSubjectNotFound   = errors.New("subject not found")
	ErrOwnershipMismatch = errors.New("subject does not belong to owner")
)

// MonitorService 监护服务（整合各层）
// 对路由层只暴露两个触发入口：OnEventLogged 与 OnScheduleConfirmed，
// 以及照护人确认操作（DismissReminder / AcknowledgeAlert）。
type MonitorService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	localCache    *cache.Cache
	ruleTable     *rules.Table
	subjectRepo   repository.SubjectRepository
	caregiverRepo repository.CaregiverRepository
	eventRepo     repository.EventRepository
	alertRepo     repository.AlertRepository
	reminderRepo  repository.ReminderRepository
	dispatcher    *notifier.Dispatcher
	ruleEngine    *engine.Engine
	generator     *generator.Generator
	scheduler     *scheduler.Scheduler
	snapshot      *snapshot.Publisher

	cacheCancel context.CancelFunc
}

// NewMonitorService 创建监护服务
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 加载规则表（启动后只读）
	ruleTable, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	logger.Info("Rule table loaded", zap.Int("rule_count", ruleTable.Len()))

	// 4. 创建 Repository 层
	subjectRepo := repository.NewSubjectRepository(db, logger)
	caregiverRepo := repository.NewCaregiverRepository(db, logger)
	eventRepo := repository.NewEventRepository(db, logger)
	alertRepo := repository.NewAlertRepository(db, logger)
	reminderRepo := repository.NewReminderRepository(db, logger)

	// 5. 进程内缓存与投递渠道
	localCache := cache.NewCache(logger)

	var channels []notifier.Channel
	if cfg.Push.Enabled {
		channels = append(channels, notifier.NewPushChannel(cfg.Push, logger))
	}
	if cfg.SMS.Enabled {
		channels = append(channels, notifier.NewSMSChannel(cfg.SMS, logger))
	}
	dispatcher := notifier.NewDispatcher(channels, caregiverRepo, logger)

	// 6. 规则引擎与提醒生成器
	ruleEngine := engine.NewEngine(engine.Deps{
		Rules:     ruleTable,
		Events:    eventRepo,
		Alerts:    alertRepo,
		Reminders: reminderRepo,
		Notifier:  dispatcher,
		Cache:     localCache,
		RollupTTL: time.Duration(cfg.Cache.RollupTTLSeconds) * time.Second,
		Logger:    logger,
	})

	gen := generator.NewGenerator(reminderRepo, localCache,
		time.Duration(cfg.Cache.DedupTTLSeconds)*time.Second, logger)

	// 7. 后台调度器
	sched := scheduler.NewScheduler(scheduler.Config{
		PollInterval:     time.Duration(cfg.Scheduler.PollIntervalSeconds) * time.Second,
		PollBatchSize:    cfg.Scheduler.PollBatchSize,
		DispatchDelay:    time.Duration(cfg.Scheduler.DispatchDelayMs) * time.Millisecond,
		CleanupInterval:  time.Duration(cfg.Scheduler.CleanupIntervalSeconds) * time.Second,
		CleanupBatchSize: cfg.Scheduler.CleanupBatchSize,
		Retention:        time.Duration(cfg.Scheduler.RetentionDays) * 24 * time.Hour,
	}, reminderRepo, dispatcher, logger)

	return &MonitorService{
		config:        cfg,
		db:            db,
		redisClient:   redisClient,
		logger:        logger,
		localCache:    localCache,
		ruleTable:     ruleTable,
		subjectRepo:   subjectRepo,
		caregiverRepo: caregiverRepo,
		eventRepo:     eventRepo,
		alertRepo:     alertRepo,
		reminderRepo:  reminderRepo,
		dispatcher:    dispatcher,
		ruleEngine:    ruleEngine,
		generator:     gen,
		scheduler:     sched,
		snapshot:      snapshot.NewPublisher(cfg, redisClient, logger),
	}, nil
}

// Start 启动后台任务（调度器与缓存清理）
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("Starting monitor service")

	cacheCtx, cancel := context.WithCancel(ctx)
	s.cacheCancel = cancel
	s.localCache.StartJanitor(cacheCtx,
		time.Duration(s.config.Cache.CleanupIntervalSeconds)*time.Second)

	s.scheduler.Start(ctx)
	return nil
}

// Stop 停止服务并释放连接
func (s *MonitorService) Stop() error {
	s.logger.Info("Stopping monitor service")

	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	if s.cacheCancel != nil {
		s.cacheCancel()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}

	return nil
}

// OnEventLogged 事件写入后的同步评估入口
// 校验失败（对象不存在、归属不符）返回硬错误；
// 监护相关的内部失败已在引擎内降级，调用方总能拿到结果。
func (s *MonitorService) OnEventLogged(ctx context.Context, subjectID, ownerID string) (*engine.Result, error) {
	subject, err := s.resolveSubject(ctx, subjectID, ownerID)
	if err != nil {
		return nil, err
	}

	// 新事件改变当日汇总：先失效 rollup 缓存再评估
	day := time.Now().In(time.Local).Format("2006-01-02")
	s.localCache.Delete(cache.RollupKey(subjectID, "feeding-quantity", day))
	s.localCache.Delete(cache.RollupKey(subjectID, "sleep-duration", day))

	result, err := s.ruleEngine.Evaluate(ctx, subject)
	if err != nil {
		return nil, err
	}

	s.publishSnapshot(ctx, subjectID, ownerID)

	return result, nil
}

// OnScheduleConfirmed 用药计划确认后的展开入口
func (s *MonitorService) OnScheduleConfirmed(ctx context.Context, subjectID, ownerID string, schedule *models.MedicationSchedule) ([]string, error) {
	if _, err := s.resolveSubject(ctx, subjectID, ownerID); err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, fmt.Errorf("schedule is required")
	}
	if schedule.SubjectID != subjectID {
		return nil, fmt.Errorf("schedule subject mismatch: %s", schedule.SubjectID)
	}

	result, err := s.generator.Expand(ctx, schedule)
	if err != nil {
		return nil, err
	}
	return result.CreatedIDs, nil
}

// DismissReminder 照护人手动确认提醒
func (s *MonitorService) DismissReminder(ctx context.Context, ownerID, reminderID string) error {
	return s.reminderRepo.Dismiss(ctx, ownerID, reminderID)
}

// AcknowledgeAlert 照护人确认报警
func (s *MonitorService) AcknowledgeAlert(ctx context.Context, ownerID, alertID, acknowledgedBy string) error {
	return s.alertRepo.Acknowledge(ctx, ownerID, alertID, acknowledgedBy)
}

// ListActiveAlerts 查询对象当前活跃报警
func (s *MonitorService) ListActiveAlerts(ctx context.Context, subjectID, ownerID string) ([]models.Alert, error) {
	if _, err := s.resolveSubject(ctx, subjectID, ownerID); err != nil {
		return nil, err
	}
	return s.alertRepo.ListActive(ctx, subjectID, ownerID)
}

// resolveSubject 归属校验（缓存读穿，仅缓存校验通过的对象）
func (s *MonitorService) resolveSubject(ctx context.Context, subjectID, ownerID string) (*models.Subject, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}
	if ownerID == "" {
		return nil, fmt.Errorf("owner_id is required")
	}

	key := cache.OwnershipKey(subjectID, ownerID)
	if v, ok := s.localCache.Get(key); ok {
		if subject, ok := v.(*models.Subject); ok {
			return subject, nil
		}
	}

	subject, err := s.subjectRepo.Get(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if subject == nil {
		return nil, ErrSubjectNotFound
	}
	if subject.OwnerID != ownerID {
		return nil, ErrOwnershipMismatch
	}

	s.localCache.Set(key, subject,
		time.Duration(s.config.Cache.OwnershipTTLSeconds)*time.Second)

	return subject, nil
}

// publishSnapshot 评估后刷新 Redis 活跃报警快照，失败只记录日志
func (s *MonitorService) publishSnapshot(ctx context.Context, subjectID, ownerID string) {
	active, err := s.alertRepo.ListActive(ctx, subjectID, ownerID)
	if err != nil {
		s.logger.Warn("Failed to list active alerts for snapshot",
			zap.String("subject_id", subjectID),
			zap.Error(err),
		)
		return
	}
	if err := s.snapshot.Publish(ctx, subjectID, active); err != nil {
		s.logger.Warn("Failed to publish alert snapshot",
			zap.String("subject_id", subjectID),
			zap.Error(err),
		)
	}
}
