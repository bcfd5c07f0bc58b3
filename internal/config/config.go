package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（对应 config/config.yaml）
type Config struct {
	App       AppConfig         `mapstructure:"app"`
	Server    ServerConfig      `mapstructure:"server"`
	Database  DatabaseConfig    `mapstructure:"database"`
	Redis     RedisConfig       `mapstructure:"redis"`
	RabbitMQ  RabbitMQConfig    `mapstructure:"rabbitmq"`
	Reserve   ReserveConfig     `mapstructure:"reserve"`
	Scheduler SchedulerConfig   `mapstructure:"scheduler"`
	Auth      AuthConfig        `mapstructure:"auth"`
	Log       LogConfig         `mapstructure:"log"`
	Tracing   TracingConfig     `mapstructure:"tracing"`
	Defaults  map[string]string `mapstructure:"defaults"` // configs 表初始值
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Timezone string `mapstructure:"timezone"` // 业务时区，默认 Asia/Shanghai
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // Gin运行模式：debug/release/test
	Pprof           bool          `mapstructure:"pprof"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig PostgreSQL 配置
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent/error/warn/info
}

// RedisConfig 容量存储配置
type RedisConfig struct {
	Driver    string `mapstructure:"driver"` // redis/memory
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	PoolSize  int    `mapstructure:"pool_size"`
	KeyPrefix string `mapstructure:"key_prefix"`
	// memory 模式下过期 key 的清理周期
	SweepEvery time.Duration `mapstructure:"sweep_every"`
}

// RabbitMQConfig 消息通道配置
type RabbitMQConfig struct {
	URL                  string        `mapstructure:"url"`
	Exchange             string        `mapstructure:"exchange"`
	Queue                string        `mapstructure:"queue"`
	RoutingKey           string        `mapstructure:"routing_key"`
	DeadLetterExchange   string        `mapstructure:"dead_letter_exchange"`
	DeadLetterQueue      string        `mapstructure:"dead_letter_queue"`
	DeadLetterRoutingKey string        `mapstructure:"dead_letter_routing_key"`
	ConfirmTimeout       time.Duration `mapstructure:"confirm_timeout"`
	Prefetch             int           `mapstructure:"prefetch"`
	RetryAttempts        int           `mapstructure:"retry_attempts"`
	RetryInitial         time.Duration `mapstructure:"retry_initial"`
	RetryMax             time.Duration `mapstructure:"retry_max"`
}

// ReserveConfig 抢场热路径配置
type ReserveConfig struct {
	RateLimitBackend  string        `mapstructure:"rate_limit_backend"` // redis/local
	RateLimitCapacity int           `mapstructure:"rate_limit_capacity"`
	RateLimitPeriod   time.Duration `mapstructure:"rate_limit_period"`
	SlotCapacity      int           `mapstructure:"slot_capacity"`
	PendingTTL        time.Duration `mapstructure:"pending_ttl"` // 0 表示保留到当天结束
}

// SchedulerConfig 定时任务配置
type SchedulerConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Cron        string `mapstructure:"cron"`
	ReaperBatch int    `mapstructure:"reaper_batch"`
}

// AuthConfig 鉴权配置
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	BcryptCost    int           `mapstructure:"bcrypt_cost"`
	AdminUser     string        `mapstructure:"admin_user"`     // 启动时确保存在的管理员学号
	AdminPassword string        `mapstructure:"admin_password"` // 通过 BF_ADMIN_PASSWORD 注入
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text/json
}

// TracingConfig OpenTelemetry 配置
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Environment string  `mapstructure:"environment"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// secrets 敏感项，只从环境变量读取，优先级高于 yaml
type secrets struct {
	DatabaseDSN   string `envconfig:"BF_DB_DSN"`
	RedisAddr     string `envconfig:"BF_REDIS_ADDR"`
	RedisPassword string `envconfig:"BF_REDIS_PASSWORD"`
	RabbitURL     string `envconfig:"BF_RABBIT_URL"`
	JWTSecret     string `envconfig:"BF_JWT_SECRET"`
	AdminPassword string `envconfig:"BF_ADMIN_PASSWORD"`
	OTLPEndpoint  string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "badminton-flash")
	v.SetDefault("app.timezone", "Asia/Shanghai")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("redis.driver", "redis")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.pool_size", 100)
	v.SetDefault("redis.key_prefix", "bf:")
	v.SetDefault("redis.sweep_every", time.Minute)
	v.SetDefault("rabbitmq.exchange", "reserve.direct")
	v.SetDefault("rabbitmq.queue", "reserve.queue")
	v.SetDefault("rabbitmq.routing_key", "reserve")
	v.SetDefault("rabbitmq.dead_letter_exchange", "reserve.dlx")
	v.SetDefault("rabbitmq.dead_letter_queue", "reserve.dlq")
	v.SetDefault("rabbitmq.dead_letter_routing_key", "reserve.dlq")
	v.SetDefault("rabbitmq.confirm_timeout", 3*time.Second)
	v.SetDefault("rabbitmq.prefetch", 50)
	v.SetDefault("rabbitmq.retry_attempts", 3)
	v.SetDefault("rabbitmq.retry_initial", time.Second)
	v.SetDefault("rabbitmq.retry_max", 5*time.Second)
	v.SetDefault("reserve.rate_limit_backend", "redis")
	v.SetDefault("reserve.rate_limit_capacity", 5)
	v.SetDefault("reserve.rate_limit_period", time.Minute)
	v.SetDefault("reserve.slot_capacity", 1)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "* * * * *")
	v.SetDefault("scheduler.reaper_batch", 500)
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("tracing.service_name", "badminton-flash")
	v.SetDefault("tracing.environment", "dev")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// LoadConfig 加载配置：dir 下的 config.yaml（为空时取 ./config），敏感项由环境变量覆盖
func LoadConfig(dir string) (*Config, error) {
	// 1. 加载 .env（若存在）
	_ = godotenv.Load() // 忽略错误（.env 可不存在）

	// 2. 读取 config.yaml
	if dir == "" {
		dir = "./config"
	}
	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 3. 敏感字段：用 env 覆盖（优先级 env > yaml）
	if err := overrideFromEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.Defaults = normalizeDefaults(cfg.Defaults)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) error {
	var s secrets
	if err := envconfig.Process("", &s); err != nil {
		return fmt.Errorf("读取环境变量失败: %w", err)
	}
	if s.DatabaseDSN != "" {
		cfg.Database.DSN = s.DatabaseDSN
	}
	if s.RedisAddr != "" {
		cfg.Redis.Addr = s.RedisAddr
	}
	if s.RedisPassword != "" {
		cfg.Redis.Password = s.RedisPassword
	}
	if s.RabbitURL != "" {
		cfg.RabbitMQ.URL = s.RabbitURL
	}
	if s.JWTSecret != "" {
		cfg.Auth.JWTSecret = s.JWTSecret
	}
	if s.AdminPassword != "" {
		cfg.Auth.AdminPassword = s.AdminPassword
	}
	if s.OTLPEndpoint != "" {
		cfg.Tracing.Endpoint = s.OTLPEndpoint
	}
	return nil
}

// viper 会把 map key 转成小写，configs 表 key 统一大写
func normalizeDefaults(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// Validate 启动前校验
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn 不能为空")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret 不能为空（可通过 BF_JWT_SECRET 设置）")
	}
	if c.Auth.RefreshTTL > 0 && c.Auth.RefreshTTL < c.Auth.TokenTTL {
		return fmt.Errorf("auth.refresh_ttl 不能短于 auth.token_ttl")
	}
	if c.Auth.AdminUser != "" && c.Auth.AdminPassword == "" {
		return fmt.Errorf("设置了 auth.admin_user 时必须提供 BF_ADMIN_PASSWORD")
	}
	switch c.Redis.Driver {
	case "redis", "memory":
	default:
		return fmt.Errorf("redis.driver 只支持 redis/memory: %s", c.Redis.Driver)
	}
	switch c.Reserve.RateLimitBackend {
	case "redis", "local":
	default:
		return fmt.Errorf("reserve.rate_limit_backend 只支持 redis/local: %s", c.Reserve.RateLimitBackend)
	}
	if c.Redis.Driver == "memory" && c.Reserve.RateLimitBackend == "redis" {
		return fmt.Errorf("redis.driver=memory 时 reserve.rate_limit_backend 必须为 local")
	}
	// reservations 上的活跃时段唯一索引限制每个时段只能有一个有效预约
	if c.Reserve.SlotCapacity != 1 {
		return fmt.Errorf("reserve.slot_capacity 只能为 1: %d", c.Reserve.SlotCapacity)
	}
	if c.Reserve.RateLimitCapacity <= 0 || c.Reserve.RateLimitPeriod <= 0 {
		return fmt.Errorf("reserve.rate_limit_capacity/rate_limit_period 必须为正")
	}
	if c.RabbitMQ.URL == "" {
		return fmt.Errorf("rabbitmq.url 不能为空")
	}
	return nil
}
