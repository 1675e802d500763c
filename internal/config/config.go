package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Redis    RedisConfig
	NATS     NATSConfig
	XMPP     XMPPConfig
	Auth     AuthConfig
	Limits   LimitsConfig
	Dispatch DispatchConfig
	API      APIConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL string
}

type XMPPConfig struct {
	ComponentName   string
	ComponentSecret string
	Host            string
	Port            int
}

func (c XMPPConfig) ComponentAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	AdminSecret string
	TokenExpiry time.Duration
}

// LimitsConfig holds the default per-user limits applied when a user has no
// tariff plan assignment. Zero means unlimited.
type LimitsConfig struct {
	MessagesPerMinute  int
	MessagesPerHour    int
	MessagesPerDay     int
	MaxMessageLength   int
	MaxContextMessages int
	MaxContextLength   int
}

// DispatchConfig tunes the outbound send path: the process-wide token
// bucket, the per-conversation burst guard and the retry policy.
type DispatchConfig struct {
	BucketCapacity   float64
	RefillPerSecond  float64
	BurstLimit       int
	BurstHorizon     time.Duration
	BurstRetryDelay  time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	SweepInterval    time.Duration
	SweepIdleHorizon time.Duration
}

type APIConfig struct {
	CORSAllowedOrigins []string
	RateLimitMaxReqs   int
	RateLimitWindowSec int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		XMPP: XMPPConfig{
			ComponentName:   k.String("xmpp.component.name"),
			ComponentSecret: k.String("xmpp.component.secret"),
			Host:            k.String("xmpp.host"),
			Port:            k.Int("xmpp.port"),
		},
		Auth: AuthConfig{
			AdminSecret: k.String("auth.admin.secret"),
		},
		Limits: LimitsConfig{
			MessagesPerMinute:  k.Int("limits.messages.per.minute"),
			MessagesPerHour:    k.Int("limits.messages.per.hour"),
			MessagesPerDay:     k.Int("limits.messages.per.day"),
			MaxMessageLength:   k.Int("limits.max.message.length"),
			MaxContextMessages: k.Int("limits.max.context.messages"),
			MaxContextLength:   k.Int("limits.max.context.length"),
		},
		Dispatch: DispatchConfig{
			BucketCapacity:  k.Float64("dispatch.bucket.capacity"),
			RefillPerSecond: k.Float64("dispatch.refill.per.second"),
			BurstLimit:      k.Int("dispatch.burst.limit"),
			MaxRetries:      k.Int("dispatch.max.retries"),
		},
		API: APIConfig{
			CORSAllowedOrigins: k.Strings("api.cors.allowed.origins"),
			RateLimitMaxReqs:   k.Int("api.ratelimit.max.reqs"),
			RateLimitWindowSec: k.Int("api.ratelimit.window.sec"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "aifriend"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "aifriend"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.XMPP.ComponentName == "" {
		cfg.XMPP.ComponentName = "companion.localhost"
	}
	if cfg.XMPP.Host == "" {
		cfg.XMPP.Host = "localhost"
	}
	if cfg.XMPP.Port == 0 {
		cfg.XMPP.Port = 5347
	}
	if cfg.Limits.MessagesPerMinute == 0 {
		cfg.Limits.MessagesPerMinute = 2
	}
	if cfg.Limits.MessagesPerHour == 0 {
		cfg.Limits.MessagesPerHour = 15
	}
	if cfg.Limits.MessagesPerDay == 0 {
		cfg.Limits.MessagesPerDay = 30
	}
	if cfg.Limits.MaxMessageLength == 0 {
		cfg.Limits.MaxMessageLength = 2000
	}
	if cfg.Limits.MaxContextMessages == 0 {
		cfg.Limits.MaxContextMessages = 10
	}
	if cfg.Limits.MaxContextLength == 0 {
		cfg.Limits.MaxContextLength = 4000
	}
	if cfg.Dispatch.BucketCapacity == 0 {
		cfg.Dispatch.BucketCapacity = 30
	}
	if cfg.Dispatch.RefillPerSecond == 0 {
		cfg.Dispatch.RefillPerSecond = 30
	}
	if cfg.Dispatch.BurstLimit == 0 {
		cfg.Dispatch.BurstLimit = 5
	}
	if cfg.Dispatch.MaxRetries == 0 {
		cfg.Dispatch.MaxRetries = 3
	}
	if cfg.API.RateLimitMaxReqs == 0 {
		cfg.API.RateLimitMaxReqs = 60
	}
	if cfg.API.RateLimitWindowSec == 0 {
		cfg.API.RateLimitWindowSec = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	cfg.Auth.TokenExpiry, err = parseDuration(k, "auth.token.expiry", "24h")
	if err != nil {
		return nil, err
	}
	cfg.Dispatch.BurstHorizon, err = parseDuration(k, "dispatch.burst.horizon", "10s")
	if err != nil {
		return nil, err
	}
	cfg.Dispatch.BurstRetryDelay, err = parseDuration(k, "dispatch.burst.retry.delay", "1s")
	if err != nil {
		return nil, err
	}
	cfg.Dispatch.RetryBaseDelay, err = parseDuration(k, "dispatch.retry.base.delay", "1s")
	if err != nil {
		return nil, err
	}
	cfg.Dispatch.SweepInterval, err = parseDuration(k, "dispatch.sweep.interval", "1h")
	if err != nil {
		return nil, err
	}
	cfg.Dispatch.SweepIdleHorizon, err = parseDuration(k, "dispatch.sweep.idle.horizon", "24h")
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseDuration(k *koanf.Koanf, key, fallback string) (time.Duration, error) {
	s := k.String(key)
	if s == "" {
		s = fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}
