package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Env string `validate:"oneof=development production test"`

	APIBaseURL string   `validate:"required,url"`
	PushURLs   []string `validate:"required,min=1,dive,url"`
	AuthToken  string   `validate:"required"`
	AuthKey    string   `validate:"required,min=16"`

	RoomPollInterval         time.Duration `validate:"gte=1s"`
	MessagePollInterval      time.Duration `validate:"gte=1s"`
	NotificationPollInterval time.Duration `validate:"gte=1s"`
	MaxToasts                int           `validate:"gte=1,lte=50"`
	HistoryPageSize          int           `validate:"gte=1,lte=500"`

	SurfacedBackend string `validate:"oneof=file redis postgres"`
	SurfacedDir     string `validate:"required_if=SurfacedBackend file"`
	RedisAddr       string `validate:"required_if=SurfacedBackend redis"`
	DatabaseURL     string `validate:"required_if=SurfacedBackend postgres"`

	FeatureChat          bool
	FeatureNotifications bool

	RelayPort string `validate:"required,numeric"`
}

type loader struct {
	log  *zap.Logger
	errs []error
}

// Load reads .env (if present) and the process environment. It only fails on
// values that do not parse; use ForSync or ForRelay to check completeness.
func Load(log *zap.Logger) (*Config, error) {
	log = log.Named("config")
	if err := godotenv.Load(); err != nil {
		log.Info("no .env file found, relying on system environment variables")
	} else {
		log.Info("loaded .env file")
	}

	l := &loader{log: log}
	cfg := &Config{
		Env:                      l.getEnv("APP_ENV", "development"),
		APIBaseURL:               l.getEnv("API_BASE_URL", "http://localhost:8080/api/"),
		PushURLs:                 l.getList("PUSH_URLS", "ws://localhost:8081/ws"),
		AuthToken:                l.getEnv("AUTH_TOKEN", ""),
		AuthKey:                  l.getEnv("AUTH_KEY", ""),
		RoomPollInterval:         l.getDuration("ROOM_POLL_INTERVAL", 30*time.Second),
		MessagePollInterval:      l.getDuration("MESSAGE_POLL_INTERVAL", 5*time.Second),
		NotificationPollInterval: l.getDuration("NOTIFICATION_POLL_INTERVAL", 30*time.Second),
		MaxToasts:                l.getInt("MAX_TOASTS", 5),
		HistoryPageSize:          l.getInt("HISTORY_PAGE_SIZE", 50),
		SurfacedBackend:          l.getEnv("SURFACED_BACKEND", BackendFile),
		SurfacedDir:              l.getEnv("SURFACED_DIR", ".surfaced"),
		RedisAddr:                l.getEnv("REDIS_ADDR", ""),
		DatabaseURL:              l.getEnv("DATABASE_URL", ""),
		FeatureChat:              l.getBool("FEATURE_CHAT", true),
		FeatureNotifications:     l.getBool("FEATURE_NOTIFICATIONS", true),
		RelayPort:                l.getEnv("RELAY_PORT", "8081"),
	}
	if err := errors.Join(l.errs...); err != nil {
		return nil, err
	}

	log.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("api", cfg.APIBaseURL),
		zap.Strings("push", cfg.PushURLs),
		zap.String("token", mask(cfg.AuthToken)),
		zap.String("surfacedBackend", cfg.SurfacedBackend),
		zap.String("database", maskDBSource(cfg.DatabaseURL)),
	)
	return cfg, nil
}

var validate = validator.New()

// ForSync checks the settings the sync daemon needs.
func (c *Config) ForSync() error {
	err := validate.StructPartial(c,
		"Env", "APIBaseURL", "PushURLs", "AuthToken",
		"RoomPollInterval", "MessagePollInterval", "NotificationPollInterval",
		"MaxToasts", "HistoryPageSize",
		"SurfacedBackend", "SurfacedDir", "RedisAddr", "DatabaseURL",
	)
	if err != nil {
		return fmt.Errorf("sync config: %w", err)
	}
	return nil
}

// ForRelay checks the settings the push relay needs.
func (c *Config) ForRelay() error {
	if err := validate.StructPartial(c, "Env", "AuthKey", "RelayPort"); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}
	return nil
}

func (c *Config) Development() bool {
	return c.Env == "development"
}

func (l *loader) lookup(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		l.log.Debug("variable not set, using default", zap.String("key", key))
		return "", false
	}
	return value, true
}

func (l *loader) getEnv(key, def string) string {
	if v, ok := l.lookup(key); ok {
		return v
	}
	return def
}

func (l *loader) getList(key, def string) []string {
	raw := l.getEnv(key, def)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (l *loader) getDuration(key string, def time.Duration) time.Duration {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (l *loader) getInt(key string, def int) int {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (l *loader) getBool(key string, def bool) bool {
	v, ok := l.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func mask(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}

func maskDBSource(dsn string) string {
	if dsn == "" {
		return ""
	}
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		return "invalid-dsn-format"
	}
	return "postgres://****:****@" + parts[len(parts)-1]
}
