package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override, e.g. CASEDESK_API_TOKEN.
const EnvPrefix = "CASEDESK_"

type Config struct {
	DataDir       string `json:"data_dir" env:"DATA_DIR"`
	LogLevel      string `json:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	MaxConcurrent int    `json:"max_concurrent" env:"MAX_CONCURRENT" validate:"gte=1,lte=64"`
	API           struct {
		BaseURL        string `json:"base_url" env:"BASE_URL" validate:"required,url"`
		Token          string `json:"token" env:"TOKEN" validate:"required"`
		TimeoutSeconds int    `json:"timeout_seconds" env:"TIMEOUT_SECONDS" validate:"gte=1"`
	} `json:"api" envPrefix:"API_"`
	Viewer struct {
		Role     string `json:"role" env:"ROLE" validate:"oneof=employee manager"`
		Timezone string `json:"timezone" env:"TIMEZONE" validate:"omitempty,timezone"`
	} `json:"viewer" envPrefix:"VIEWER_"`
	Thread struct {
		ReconcileTextOnly     bool   `json:"reconcile_text_only" env:"RECONCILE_TEXT_ONLY"`
		AttachmentPlaceholder string `json:"attachment_placeholder" env:"ATTACHMENT_PLACEHOLDER"`
		Width                 int    `json:"width" env:"WIDTH" validate:"gte=0"`
	} `json:"thread" envPrefix:"THREAD_"`
	Watch struct {
		Schedule string `json:"schedule" env:"SCHEDULE"`
	} `json:"watch" envPrefix:"WATCH_"`
	Telegram struct {
		Token  string `json:"token" env:"TOKEN"`
		ChatID int64  `json:"chat_id" env:"CHAT_ID" validate:"required_with=Token"`
	} `json:"telegram" envPrefix:"TELEGRAM_"`
	Notices struct {
		Log bool `json:"log" env:"LOG"`
	} `json:"notices" envPrefix:"NOTICES_"`
	HTTP struct {
		Enabled bool   `json:"enabled" env:"ENABLED"`
		Listen  string `json:"listen" env:"LISTEN" validate:"required_if=Enabled true,omitempty,hostname_port"`
		Secret  string `json:"secret" env:"SECRET"`
	} `json:"http" envPrefix:"HTTP_"`
}

// Defaults returns the configuration written on first run.
func Defaults() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".casedesk"),
		LogLevel:      "info",
		MaxConcurrent: 4,
	}
	cfg.API.TimeoutSeconds = 60
	cfg.Viewer.Role = "employee"
	cfg.Thread.AttachmentPlaceholder = "📎 Attachment"
	cfg.Thread.Width = 72
	cfg.Watch.Schedule = "@every 1m"
	cfg.Notices.Log = true
	cfg.HTTP.Listen = "127.0.0.1:8787"
	return cfg
}

// Load reads path over the defaults (writing the defaults when the file
// does not exist), then applies .env files from envFiles and the process
// environment. The result is not validated; see Validate.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Defaults()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	if _, err := LoadEnv(envFiles); err != nil {
		return nil, err
	}
	// Override from env (highest precedence)
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}
	return cfg, nil
}

// LoadEnv loads the .env files that exist into the process environment.
// Variables already set are not overwritten. It returns how many files
// were loaded.
func LoadEnv(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config key rather than the Go name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks that cfg is complete enough to talk to the backend.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		_, key, _ := strings.Cut(fe.Namespace(), ".")
		msgs = append(msgs, fmt.Sprintf("%s: %s", key, describe(fe)))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "required_with":
		return "is required when " + strings.ToLower(fe.Param()) + " is set"
	case "url":
		return "must be a URL"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "timezone":
		return "must be an IANA time zone"
	case "hostname_port":
		return "must be host:port"
	default:
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
}

// Timeout is the HTTP client timeout.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// Location is the viewer's time zone, defaulting to the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Viewer.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Viewer.Timezone)
}

// WatchesPath is where watched cases are stored.
func (c *Config) WatchesPath() string {
	return filepath.Join(c.DataDir, "watches.json")
}

// Save writes cfg to path atomically (temp file + rename).
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to the generic JSON shape used by list/get/set.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns every config value under its dot key, optionally
// with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return m, nil
}

// GetValue reads one dot key straight from the file, without defaults or
// environment overrides.
func GetValue(path, key string) (any, error) {
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue writes one dot key. The value is parsed as JSON when it can be
// (numbers, booleans), otherwise stored as a string.
func SetValue(path, key, value string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(m)

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	if _, isString := flat[key].(string); isString {
		parsed = value
	}
	flat[key] = parsed

	nested, err := Unflatten(flat)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(nested, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}
