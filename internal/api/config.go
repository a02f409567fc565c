package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the server configuration. Every key can be set through a
// SYNC_-prefixed environment variable or an optional config file.
type Config struct {
	ListenAddr      string
	ServerDBPath    string
	ShutdownTimeout time.Duration
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"

	RateLimitAuth  int // failed authentications per IP per minute (default: 10)
	RateLimitWrite int // create/update/delete per API key per minute (default: 600)
	RateLimitRead  int // fetch/list per API key per minute (default: 1200)

	MaxBodyBytes int64
	ListMaxLimit int

	CORSAllowedOrigins []string // empty = disabled

	TombstoneRetention      time.Duration // 0 keeps tombstones forever
	RateLimitEventRetention time.Duration // default: 30 days
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("server_db_path", "./data/server.db")
	v.SetDefault("shutdown_timeout", "30s")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_level", "info")
	v.SetDefault("rate_limit_auth", 10)
	v.SetDefault("rate_limit_write", 600)
	v.SetDefault("rate_limit_read", 1200)
	v.SetDefault("max_body_bytes", 1<<20)
	v.SetDefault("list_max_limit", 500)
	v.SetDefault("cors_allowed_origins", "")
	v.SetDefault("tombstone_retention", "0")
	v.SetDefault("rate_limit_event_retention", "30d")
}

// LoadConfig reads configuration from SYNC_* environment variables, the
// file named by SYNC_CONFIG_FILE when set, and defaults.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SYNC")
	v.AutomaticEnv()
	setDefaults(v)

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return configFrom(v), nil
}

func configFrom(v *viper.Viper) Config {
	cfg := Config{
		ListenAddr:              v.GetString("listen_addr"),
		ServerDBPath:            v.GetString("server_db_path"),
		ShutdownTimeout:         v.GetDuration("shutdown_timeout"),
		LogFormat:               v.GetString("log_format"),
		LogLevel:                v.GetString("log_level"),
		RateLimitAuth:           positive(v.GetInt("rate_limit_auth"), 10),
		RateLimitWrite:          positive(v.GetInt("rate_limit_write"), 600),
		RateLimitRead:           positive(v.GetInt("rate_limit_read"), 1200),
		MaxBodyBytes:            v.GetInt64("max_body_bytes"),
		ListMaxLimit:            positive(v.GetInt("list_max_limit"), 500),
		TombstoneRetention:      parseDaysDuration(v.GetString("tombstone_retention")),
		RateLimitEventRetention: parseDaysDuration(v.GetString("rate_limit_event_retention")),
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	for _, o := range strings.Split(v.GetString("cors_allowed_origins"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}
	return cfg
}

func positive(n, fallback int) int {
	if n > 0 {
		return n
	}
	return fallback
}

// parseDaysDuration parses a string like "90d", "30d" into a time.Duration.
// Falls back to time.ParseDuration for standard Go durations.
func parseDaysDuration(s string) time.Duration {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		numStr := strings.TrimSuffix(s, "d")
		if n, err := strconv.Atoi(numStr); err == nil && n > 0 {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return 0
}
