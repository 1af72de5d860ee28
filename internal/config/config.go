package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Sweeps   SweepConfig    `mapstructure:"sweeps"`
	Channels ChannelsConfig `mapstructure:"channels"`
}

type ServerConfig struct {
	Port      string        `mapstructure:"port"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Mode      string        `mapstructure:"mode"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second per client, 0 disables
	RateBurst int           `mapstructure:"rate_burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
	Seed   bool   `mapstructure:"seed"`
}

type RabbitMQConfig struct {
	URL         string `mapstructure:"url"`
	Exchange    string `mapstructure:"exchange"`
	SendQueue   string `mapstructure:"send_queue"`
	DelayQueue  string `mapstructure:"delay_queue"`
	FailedQueue string `mapstructure:"failed_queue"`
	Prefetch    int    `mapstructure:"prefetch"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// QueueConfig selects the task queue backend and sizes the worker pool.
type QueueConfig struct {
	Driver        string        `mapstructure:"driver"` // memory | redis | rabbitmq
	Concurrency   int           `mapstructure:"concurrency"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RatePerSecond float64       `mapstructure:"rate_per_second"` // per channel, 0 disables
	Burst         int           `mapstructure:"burst"`
	DedupeTTL     time.Duration `mapstructure:"dedupe_ttl"`
}

type DispatchConfig struct {
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBase        time.Duration `mapstructure:"retry_base"`
	RetryMax         time.Duration `mapstructure:"retry_max"`
	BreakerDriver    string        `mapstructure:"breaker_driver"` // local | redis
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
}

type SweepConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	ScheduledSpec string        `mapstructure:"scheduled_spec"`
	RetrySpec     string        `mapstructure:"retry_spec"`
	CleanupSpec   string        `mapstructure:"cleanup_spec"`
	RetentionDays int           `mapstructure:"retention_days"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	BatchSize     int           `mapstructure:"batch_size"`
}

type ChannelsConfig struct {
	Email    EmailConfig    `mapstructure:"email"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type EmailConfig struct {
	Backend              string        `mapstructure:"backend"` // smtp | postmark
	Host                 string        `mapstructure:"host"`
	Port                 int           `mapstructure:"port"`
	Username             string        `mapstructure:"username"`
	Password             string        `mapstructure:"password"`
	From                 string        `mapstructure:"from"`
	UseTLS               bool          `mapstructure:"use_tls"`
	PostmarkServerToken  string        `mapstructure:"postmark_server_token"`
	PostmarkAccountToken string        `mapstructure:"postmark_account_token"`
	Timeout              time.Duration `mapstructure:"timeout"`
}

type TelegramConfig struct {
	BotToken      string        `mapstructure:"bot_token"`
	DefaultChatID string        `mapstructure:"default_chat_id"`
	APIBase       string        `mapstructure:"api_base"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// Load reads config.yaml from the working directory (or ./config, or
// the given extra paths) and overlays DISPATCH_* environment variables, e.g.
// DISPATCH_QUEUE_DRIVER=redis.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	setDefaults(v)

	v.SetEnvPrefix("DISPATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.timeout", "10s")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_burst", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/dispatchd.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.seed", true)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "notifications.direct")
	v.SetDefault("rabbitmq.send_queue", "notifications.send")
	v.SetDefault("rabbitmq.delay_queue", "notifications.send.delay")
	v.SetDefault("rabbitmq.failed_queue", "notifications.failed")
	v.SetDefault("rabbitmq.prefetch", 10)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("queue.driver", "memory")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.poll_interval", "1s")
	v.SetDefault("queue.rate_per_second", 20)
	v.SetDefault("queue.burst", 5)
	v.SetDefault("queue.dedupe_ttl", "10m")

	v.SetDefault("dispatch.max_retries", 3)
	v.SetDefault("dispatch.retry_base", "60s")
	v.SetDefault("dispatch.retry_max", "6h")
	v.SetDefault("dispatch.breaker_driver", "local")
	v.SetDefault("dispatch.failure_threshold", 3)
	v.SetDefault("dispatch.recovery_timeout", "300s")

	v.SetDefault("sweeps.enabled", true)
	v.SetDefault("sweeps.scheduled_spec", "@every 1m")
	v.SetDefault("sweeps.retry_spec", "@every 5m")
	v.SetDefault("sweeps.cleanup_spec", "@daily")
	v.SetDefault("sweeps.retention_days", 30)
	v.SetDefault("sweeps.stale_after", "2h")
	v.SetDefault("sweeps.batch_size", 500)

	v.SetDefault("channels.email.backend", "smtp")
	v.SetDefault("channels.email.host", "")
	v.SetDefault("channels.email.port", 587)
	v.SetDefault("channels.email.username", "")
	v.SetDefault("channels.email.password", "")
	v.SetDefault("channels.email.from", "")
	v.SetDefault("channels.email.use_tls", false)
	v.SetDefault("channels.email.postmark_server_token", "")
	v.SetDefault("channels.email.postmark_account_token", "")
	v.SetDefault("channels.email.timeout", "30s")

	v.SetDefault("channels.telegram.bot_token", "")
	v.SetDefault("channels.telegram.default_chat_id", "")
	v.SetDefault("channels.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("channels.telegram.timeout", "30s")
}
