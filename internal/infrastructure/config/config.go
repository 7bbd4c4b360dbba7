package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Security  SecurityConfig  `mapstructure:"security"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Session   SessionConfig   `mapstructure:"session"`
	Retention RetentionConfig `mapstructure:"retention"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Log       LogConfig       `mapstructure:"log"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Type         string        `mapstructure:"type"` // sqlite, postgres
	DSN          string        `mapstructure:"dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	OpTimeout    time.Duration `mapstructure:"op_timeout"` // per-query deadline
}

// RedisConfig 热存储配置
type RedisConfig struct {
	URL       string        `mapstructure:"url"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// LLMConfig LLM 提供商配置
type LLMConfig struct {
	Provider     string        `mapstructure:"provider"` // gemini
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	EncryptionMasterKey string `mapstructure:"encryption_master_key"`
	APIKeySecret        string `mapstructure:"api_key_secret"`
	WebhookSecret       string `mapstructure:"webhook_secret"` // empty = signature verify disabled
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	DefaultLimit  int  `mapstructure:"default_limit"`
	WindowSeconds int  `mapstructure:"window_seconds"`
}

// SessionConfig 会话配置
type SessionConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxHistory int           `mapstructure:"max_history"`
}

// RetentionConfig 数据保留配置
type RetentionConfig struct {
	SweepEnabled  bool          `mapstructure:"sweep_enabled"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// TelegramConfig Telegram 出站配置 (回复投递, best-effort)
type TelegramConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load 加载配置: 默认值 → config.yaml → 环境变量 (AIADMIN_*)
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 环境变量覆盖, 如 AIADMIN_SECURITY_ENCRYPTION_MASTER_KEY
	v.SetEnvPrefix("AIADMIN")
	v.AutomaticEnv()
	bindEnvKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate 校验必填项
func (c *Config) Validate() error {
	if c.Security.EncryptionMasterKey == "" {
		return fmt.Errorf("security.encryption_master_key is required")
	}
	if c.Security.APIKeySecret == "" {
		return fmt.Errorf("security.api_key_secret is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	return nil
}

// setDefaults 设置默认配置
func setDefaults(v *viper.Viper) {
	// Gateway 默认值
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8000)
	v.SetDefault("gateway.mode", "local")

	// Database 默认值
	v.SetDefault("database.type", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.op_timeout", "5s")

	// Redis 默认值
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.op_timeout", "1s")

	// LLM 默认值
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.default_model", "gemini-2.0-flash-exp")
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("llm.max_retries", 2)

	// Rate limit 默认值
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.default_limit", 100)
	v.SetDefault("rate_limit.window_seconds", 60)

	// Session 默认值
	v.SetDefault("session.ttl", "1h")
	v.SetDefault("session.max_history", 20)

	// Retention 默认值
	v.SetDefault("retention.sweep_enabled", true)
	v.SetDefault("retention.sweep_interval", "24h")

	// Log 默认值
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// bindEnvKeys 显式绑定嵌套键, AutomaticEnv 对 Unmarshal 不生效
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"gateway.host", "gateway.port", "gateway.mode",
		"database.type", "database.dsn",
		"redis.url",
		"llm.provider", "llm.base_url", "llm.api_key", "llm.default_model",
		"security.encryption_master_key", "security.api_key_secret", "security.webhook_secret",
		"rate_limit.enabled", "rate_limit.default_limit",
		"session.ttl", "session.max_history",
		"retention.sweep_enabled", "retention.sweep_interval",
		"telegram.enabled",
		"log.level", "log.format",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}
