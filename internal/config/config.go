package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PushConfig 推送渠道配置（FCM HTTP）
type PushConfig struct {
	Enabled        bool
	Endpoint       string
	ServerKey      string
	TimeoutSeconds int // 单次推送调用超时（秒），默认 5
}

// SMSConfig 短信渠道配置（Twilio REST）
type SMSConfig struct {
	Enabled        bool
	Endpoint       string
	AccountSID     string
	AuthToken      string
	From           string
	TimeoutSeconds int // 单次短信调用超时（秒），默认 5
}

// Config 监护服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	// 规则表文件路径（为空则使用内置默认规则表）
	Rules struct {
		Path string
	}

	// 后台调度配置
	Scheduler struct {
		PollIntervalSeconds    int // 到期提醒轮询间隔（秒），默认 60
		PollBatchSize          int // 单次轮询最多处理的提醒数量，默认 50
		DispatchDelayMs        int // 批内逐条投递之间的间隔（毫秒），默认 200
		CleanupIntervalSeconds int // 清理任务间隔（秒），默认 86400（每天一次）
		CleanupBatchSize       int // 清理任务单批删除数量，默认 100
		RetentionDays          int // 终态提醒保留天数，默认 30
	}

	// 进程内缓存配置（仅作加速，正确性不依赖缓存）
	Cache struct {
		OwnershipTTLSeconds    int // 归属校验缓存 TTL（秒），默认 300
		DedupTTLSeconds        int // 去重检查缓存 TTL（秒），默认 600
		RollupTTLSeconds       int // 日/周汇总缓存 TTL（秒），默认 300
		CleanupIntervalSeconds int // 过期条目清理间隔（秒），默认 60
	}

	// Redis 活跃报警快照配置（供看板等外部读取方使用）
	Snapshot struct {
		KeyPrefix  string // 如 "nestcare:subject:"
		Suffix     string // 如 ":alerts"
		TTLSeconds int    // 默认 60
	}

	Push PushConfig
	SMS  SMSConfig

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "nestcare")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Rules.Path = getEnv("RULES_PATH", "")

	cfg.Scheduler.PollIntervalSeconds = getEnvInt("SCHEDULER_POLL_INTERVAL", 60)
	cfg.Scheduler.PollBatchSize = getEnvInt("SCHEDULER_POLL_BATCH_SIZE", 50)
	cfg.Scheduler.DispatchDelayMs = getEnvInt("SCHEDULER_DISPATCH_DELAY_MS", 200)
	cfg.Scheduler.CleanupIntervalSeconds = getEnvInt("SCHEDULER_CLEANUP_INTERVAL", 86400)
	cfg.Scheduler.CleanupBatchSize = getEnvInt("SCHEDULER_CLEANUP_BATCH_SIZE", 100)
	cfg.Scheduler.RetentionDays = getEnvInt("SCHEDULER_RETENTION_DAYS", 30)

	cfg.Cache.OwnershipTTLSeconds = getEnvInt("CACHE_OWNERSHIP_TTL", 300)
	cfg.Cache.DedupTTLSeconds = getEnvInt("CACHE_DEDUP_TTL", 600)
	cfg.Cache.RollupTTLSeconds = getEnvInt("CACHE_ROLLUP_TTL", 300)
	cfg.Cache.CleanupIntervalSeconds = getEnvInt("CACHE_CLEANUP_INTERVAL", 60)

	cfg.Snapshot.KeyPrefix = getEnv("SNAPSHOT_KEY_PREFIX", "nestcare:subject:")
	cfg.Snapshot.Suffix = ":alerts"
	cfg.Snapshot.TTLSeconds = getEnvInt("SNAPSHOT_TTL", 60)

	cfg.Push.Enabled = getEnvBool("PUSH_ENABLED", false)
	cfg.Push.Endpoint = getEnv("PUSH_ENDPOINT", "https://fcm.googleapis.com")
	cfg.Push.ServerKey = getEnv("PUSH_SERVER_KEY", "")
	cfg.Push.TimeoutSeconds = getEnvInt("PUSH_TIMEOUT", 5)

	cfg.SMS.Enabled = getEnvBool("SMS_ENABLED", false)
	cfg.SMS.Endpoint = getEnv("SMS_ENDPOINT", "https://api.twilio.com")
	cfg.SMS.AccountSID = getEnv("SMS_ACCOUNT_SID", "")
	cfg.SMS.AuthToken = getEnv("SMS_AUTH_TOKEN", "")
	cfg.SMS.From = getEnv("SMS_FROM", "")
	cfg.SMS.TimeoutSeconds = getEnvInt("SMS_TIMEOUT", 5)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
