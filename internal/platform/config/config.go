// Package config loads process configuration once at start. A YAML file
// supplies structure and defaults; environment variables override secrets and
// endpoints. The resulting *Config is treated as immutable.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BotModePolling = "polling"
	BotModeWebhook = "webhook"

	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Bot        BotConfig        `yaml:"bot"`
	HTTP       HTTPConfig       `yaml:"http"`
	Panel      PanelConfig      `yaml:"panel"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Form       FormConfig       `yaml:"form"`
	Validation ValidationConfig `yaml:"validation"`
	Phone      PhoneConfig      `yaml:"phone"`
	Notify     NotifyConfig     `yaml:"notify"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Moderation ModerationConfig `yaml:"moderation"`
	// Admins are bootstrapped as super admins on every start.
	Admins []int64   `yaml:"admins"`
	Log    LogConfig `yaml:"log"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
	Debug bool   `yaml:"debug"`
}

type BotConfig struct {
	Mode          string `yaml:"mode"`
	PollTimeout   int    `yaml:"poll_timeout"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	PublicURL       string        `yaml:"public_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PanelConfig struct {
	TokenTTL      time.Duration `yaml:"token_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type DatabaseConfig struct {
	Driver       string        `yaml:"driver"`
	URL          string        `yaml:"url"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	TxTimeout    time.Duration `yaml:"tx_timeout"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
}

// RedisConfig is optional; an empty URL keeps sessions and tokens in memory.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
}

// KafkaConfig is optional; no brokers disables lifecycle event publishing.
type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	Topic             string   `yaml:"topic"`
	Partitions        int32    `yaml:"partitions"`
	ReplicationFactor int16    `yaml:"replication_factor"`
}

type FormConfig struct {
	Weapons    []string `yaml:"weapons"`
	Categories []string `yaml:"categories"`
	AgeGroups  []string `yaml:"age_groups"`
	ConfirmYes string   `yaml:"confirm_yes"`
	ConfirmNo  string   `yaml:"confirm_no"`
}

type ValidationConfig struct {
	NameMinLength       int `yaml:"name_min_length"`
	ExperienceMinLength int `yaml:"experience_min_length"`
}

type PhoneConfig struct {
	CountryCode string `yaml:"country_code"`
	TrunkPrefix string `yaml:"trunk_prefix"`
}

type NotifyConfig struct {
	MinInterval time.Duration `yaml:"min_interval"`
}

type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseBackoff  time.Duration `yaml:"base_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
}

type ModerationConfig struct {
	// AllowOverride lets moderators change the status of an already decided
	// registration.
	AllowOverride bool `yaml:"allow_override"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration usable for local development.
func Default() *Config {
	return &Config{
		Bot:  BotConfig{Mode: BotModePolling, PollTimeout: 60},
		HTTP: HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Panel: PanelConfig{
			TokenTTL:      30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Database: DatabaseConfig{
			Driver:       DriverSQLite,
			URL:          "regdesk.db",
			MaxOpenConns: 10,
			TxTimeout:    5 * time.Second,
			AutoMigrate:  true,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			SessionTTL:   24 * time.Hour,
		},
		Kafka: KafkaConfig{Topic: "regdesk.registrations", Partitions: 1, ReplicationFactor: 1},
		Form: FormConfig{
			Weapons:    []string{"Sabre", "Epee", "Foil"},
			Categories: []string{"Junior", "Adult", "Veteran"},
			AgeGroups:  []string{"Under 12", "13-15", "16-18", "19+"},
			ConfirmYes: "Yes",
			ConfirmNo:  "No",
		},
		Validation: ValidationConfig{NameMinLength: 2, ExperienceMinLength: 3},
		Phone:      PhoneConfig{CountryCode: "7", TrunkPrefix: "8"},
		Notify:     NotifyConfig{MinInterval: 50 * time.Millisecond},
		Outbox: OutboxConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    50,
			MaxAttempts:  5,
			BaseBackoff:  2 * time.Second,
			MaxBackoff:   5 * time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("REGDESK_TELEGRAM_TOKEN", &c.Telegram.Token)
	str("REGDESK_DATABASE_DRIVER", &c.Database.Driver)
	str("REGDESK_DATABASE_URL", &c.Database.URL)
	str("REGDESK_REDIS_URL", &c.Redis.URL)
	str("REGDESK_HTTP_ADDR", &c.HTTP.Addr)
	str("REGDESK_PUBLIC_URL", &c.HTTP.PublicURL)
	str("REGDESK_WEBHOOK_SECRET", &c.Bot.WebhookSecret)
	str("REGDESK_BOT_MODE", &c.Bot.Mode)
	str("REGDESK_LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("REGDESK_KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("REGDESK_ADMIN_IDS"); ok && v != "" {
		ids, err := parseIDs(v)
		if err != nil {
			return fmt.Errorf("REGDESK_ADMIN_IDS: %w", err)
		}
		c.Admins = ids
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	switch c.Bot.Mode {
	case BotModePolling:
	case BotModeWebhook:
		if c.HTTP.PublicURL == "" {
			errs = append(errs, errors.New("http.public_url is required in webhook mode"))
		}
		if c.Bot.WebhookSecret == "" {
			errs = append(errs, errors.New("bot.webhook_secret is required in webhook mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("bot.mode %q must be %q or %q", c.Bot.Mode, BotModePolling, BotModeWebhook))
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverSQLite:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if len(c.Form.Weapons) == 0 || len(c.Form.Categories) == 0 || len(c.Form.AgeGroups) == 0 {
		errs = append(errs, errors.New("form.weapons, form.categories and form.age_groups must not be empty"))
	}
	if c.Form.ConfirmYes == "" || c.Form.ConfirmNo == "" || c.Form.ConfirmYes == c.Form.ConfirmNo {
		errs = append(errs, errors.New("form.confirm_yes and form.confirm_no must be distinct and non-empty"))
	}
	if len(c.Phone.CountryCode) != 1 || len(c.Phone.TrunkPrefix) != 1 {
		errs = append(errs, errors.New("phone.country_code and phone.trunk_prefix must be single digits"))
	}
	if c.Notify.MinInterval < 0 {
		errs = append(errs, errors.New("notify.min_interval must not be negative"))
	}
	if c.Panel.TokenTTL <= 0 {
		errs = append(errs, errors.New("panel.token_ttl must be positive"))
	}
	if c.Outbox.MaxAttempts < 1 {
		errs = append(errs, errors.New("outbox.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// PanelBaseURL is the externally reachable panel root, or empty when the
// deployment has no public URL.
func (c *Config) PanelBaseURL() string {
	return strings.TrimRight(c.HTTP.PublicURL, "/")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIDs(v string) ([]int64, error) {
	var ids []int64
	for _, part := range splitList(v) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
