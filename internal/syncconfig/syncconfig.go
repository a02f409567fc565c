// Package syncconfig loads client settings and stored credentials for sn.
package syncconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Settings is the resolved client configuration.
type Settings struct {
	ServerURL string
	APIKey    string
	DeviceID  string
	UserID    string

	AutoSync bool
	Pull     bool
	Interval time.Duration
	Debounce time.Duration

	BackoffBase    time.Duration
	BackoffMax     time.Duration
	BackoffJitter  float64
	RequestTimeout time.Duration
	ProbeInterval  time.Duration

	QuotaBytes int64

	LogFile      string
	LogMaxSizeMB int
}

// AuthCredentials stores authentication state in auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	ServerURL string `json:"server_url"`
	DeviceID  string `json:"device_id"`
}

const defaultServerURL = "http://localhost:8080"

// Keys lists the settings `sn config` may read and write.
var Keys = []string{
	"server_url",
	"auto_sync",
	"pull",
	"interval",
	"debounce",
	"backoff_base",
	"backoff_max",
	"backoff_jitter",
	"request_timeout",
	"probe_interval",
	"quota_bytes",
	"log_file",
	"log_max_size_mb",
}

// IsValidKey reports whether key is a known setting.
func IsValidKey(key string) bool {
	return slices.Contains(Keys, key)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("auto_sync", true)
	v.SetDefault("pull", true)
	v.SetDefault("interval", "5m")
	v.SetDefault("debounce", "3s")
	v.SetDefault("backoff_base", "2s")
	v.SetDefault("backoff_max", "10m")
	v.SetDefault("backoff_jitter", 0.2)
	v.SetDefault("request_timeout", "15s")
	v.SetDefault("probe_interval", "30s")
	v.SetDefault("quota_bytes", 0)
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 10)
}

// ConfigDir returns the sn config directory, creating it if necessary.
// SN_CONFIG_DIR overrides the default ~/.config/sn.
func ConfigDir() (string, error) {
	dir := os.Getenv("SN_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "sn")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// newViper binds SN_* env vars and config.json in dir.
func newViper(dir string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("SN")
	v.AutomaticEnv()
	setDefaults(v)

	v.SetConfigFile(filepath.Join(dir, "config.json"))
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}

// Load resolves settings. Precedence: SN_* env (including a .env in the
// working directory) > config.json > auth.json > defaults.
func Load() (*Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dir)
}

// LoadFrom resolves settings against the config directory dir.
func LoadFrom(dir string) (*Settings, error) {
	v, err := newViper(dir)
	if err != nil {
		return nil, err
	}
	creds, err := loadAuth(dir)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		creds = &AuthCredentials{}
	}

	s := &Settings{
		ServerURL:      firstNonEmpty(v.GetString("server_url"), creds.ServerURL, defaultServerURL),
		APIKey:         firstNonEmpty(v.GetString("api_key"), creds.APIKey),
		DeviceID:       firstNonEmpty(v.GetString("device_id"), creds.DeviceID),
		UserID:         firstNonEmpty(v.GetString("user_id"), creds.UserID),
		AutoSync:       v.GetBool("auto_sync"),
		Pull:           v.GetBool("pull"),
		Interval:       duration(v, "interval", 5*time.Minute),
		Debounce:       duration(v, "debounce", 3*time.Second),
		BackoffBase:    duration(v, "backoff_base", 2*time.Second),
		BackoffMax:     duration(v, "backoff_max", 10*time.Minute),
		BackoffJitter:  v.GetFloat64("backoff_jitter"),
		RequestTimeout: duration(v, "request_timeout", 15*time.Second),
		ProbeInterval:  duration(v, "probe_interval", 30*time.Second),
		QuotaBytes:     v.GetInt64("quota_bytes"),
		LogFile:        v.GetString("log_file"),
		LogMaxSizeMB:   v.GetInt("log_max_size_mb"),
	}
	if s.BackoffJitter < 0 || s.BackoffJitter > 1 {
		s.BackoffJitter = 0.2
	}
	if s.LogFile == "" {
		s.LogFile = filepath.Join(dir, "daemon.log")
	}
	if s.DeviceID == "" {
		s.DeviceID = GenerateDeviceID()
	}
	return s, nil
}

// duration reads key as a duration. Unparseable values fall back; zero is
// kept since it disables the timers that use it.
func duration(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "0" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, s := range vals {
		if s != "" {
			return s
		}
	}
	return ""
}

// Get returns the effective value of a setting as a string.
func Get(key string) (string, error) {
	if !IsValidKey(key) {
		return "", fmt.Errorf("unknown config key: %s", key)
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	v, err := newViper(dir)
	if err != nil {
		return "", err
	}
	if key == "server_url" {
		s, err := LoadFrom(dir)
		if err != nil {
			return "", err
		}
		return s.ServerURL, nil
	}
	return v.GetString(key), nil
}

// Set validates and writes one setting to config.json.
func Set(key, value string) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return SetIn(dir, key, value)
}

// SetIn is Set against the config directory dir.
func SetIn(dir, key, value string) error {
	if !IsValidKey(key) {
		return fmt.Errorf("unknown config key: %s", key)
	}
	typed, err := parseValue(key, value)
	if err != nil {
		return err
	}

	// Write through a file-only viper so env overrides never leak into the file
	v := viper.New()
	path := filepath.Join(dir, "config.json")
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read config: %w", err)
	}
	v.Set(key, typed)
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func parseValue(key, value string) (any, error) {
	switch key {
	case "auto_sync", "pull":
		switch strings.ToLower(value) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		}
		return nil, fmt.Errorf("invalid bool value %q (use true/false/1/0)", value)
	case "interval", "debounce", "backoff_base", "backoff_max", "request_timeout", "probe_interval":
		if value == "0" {
			return value, nil
		}
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			return nil, fmt.Errorf("invalid duration %q for %s", value, key)
		}
		return value, nil
	case "backoff_jitter":
		var f float64
		if _, err := fmt.Sscan(value, &f); err != nil || f < 0 || f > 1 {
			return nil, fmt.Errorf("backoff_jitter must be between 0 and 1")
		}
		return f, nil
	case "quota_bytes", "log_max_size_mb":
		var n int64
		if _, err := fmt.Sscan(value, &n); err != nil || n < 0 {
			return nil, fmt.Errorf("invalid non-negative integer %q for %s", value, key)
		}
		return n, nil
	}
	return value, nil
}

// LoadAuth reads auth credentials from auth.json. Missing credentials are
// reported as nil, nil.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	return loadAuth(dir)
}

func loadAuth(dir string) (*AuthCredentials, error) {
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse auth.json: %w", err)
	}
	return &creds, nil
}

// SaveAuth writes auth credentials to auth.json (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return saveAuth(dir, creds)
}

func saveAuth(dir string, creds *AuthCredentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes auth.json but keeps the device id so a later login
// reuses it.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	creds, err := loadAuth(dir)
	if err != nil || creds == nil {
		return err
	}
	return saveAuth(dir, &AuthCredentials{DeviceID: creds.DeviceID})
}

// GenerateDeviceID creates a new random device id.
func GenerateDeviceID() string {
	return uuid.NewString()
}
