package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"

	"reminders/internal/render"
	"reminders/internal/scheduler"
	"reminders/internal/sweep"
)

// Config holds all configuration for the application.
type Config struct {
	Env      string `yaml:"env"`
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	Store    string `yaml:"store"` // "sqlite" or "redis"
	DBPath   string `yaml:"db_path"`
	RedisURL string `yaml:"redis_url"`

	// Notification sink; Telegram wins when both are set.
	BotToken   string `yaml:"bot_token"`
	ChatID     int64  `yaml:"chat_id"`
	WebhookURL string `yaml:"webhook_url"`

	SweepWindow      time.Duration `yaml:"sweep_window"`
	ReschedulePeriod time.Duration `yaml:"reschedule_period"`
	Placeholder      string        `yaml:"placeholder"`
	SweepCron        string        `yaml:"sweep_cron"` // empty disables the built-in trigger

	DispatchWorkers int `yaml:"dispatch_workers"`
	SendRate        int `yaml:"send_rate"`
}

func defaults() *Config {
	return &Config{
		Env:              "development",
		Port:             "3000",
		LogLevel:         "info",
		Store:            "sqlite",
		DBPath:           "data/reminders.db",
		SweepWindow:      sweep.DefaultWindow,
		ReschedulePeriod: sweep.DefaultReschedule,
		Placeholder:      render.DefaultPlaceholder,
		DispatchWorkers:  4,
		SendRate:         20,
	}
}

// Load builds the configuration from defaults, then the optional YAML file
// at path, then the environment. A .env file in the working directory is
// loaded into the environment first if present.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
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
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("ENV", &c.Env)
	str("PORT", &c.Port)
	str("LOG_LEVEL", &c.LogLevel)
	str("STORE", &c.Store)
	str("DB_PATH", &c.DBPath)
	str("REDIS_URL", &c.RedisURL)
	str("BOT_TOKEN", &c.BotToken)
	str("WEBHOOK_URL", &c.WebhookURL)
	str("PLACEHOLDER", &c.Placeholder)
	str("SWEEP_CRON", &c.SweepCron)

	var errs []error
	if v, ok := lookup("CHAT_ID"); ok && v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHAT_ID: %w", err))
		}
		c.ChatID = id
	}
	for key, dst := range map[string]*time.Duration{
		"SWEEP_WINDOW":      &c.SweepWindow,
		"RESCHEDULE_PERIOD": &c.ReschedulePeriod,
	} {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid duration %q: %w", key, v, err))
				continue
			}
			*dst = d
		}
	}
	for key, dst := range map[string]*int{
		"DISPATCH_WORKERS": &c.DispatchWorkers,
		"SEND_RATE":        &c.SendRate,
	} {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				continue
			}
			*dst = n
		}
	}
	return errors.Join(errs...)
}

func (c *Config) Validate() error {
	var errs []error
	if c.SweepWindow <= 0 {
		errs = append(errs, errors.New("sweep_window must be > 0"))
	}
	if c.ReschedulePeriod <= 0 {
		errs = append(errs, errors.New("reschedule_period must be > 0"))
	}
	if c.Placeholder == "" {
		errs = append(errs, errors.New("placeholder must not be empty"))
	}
	switch c.Store {
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, errors.New("db_path is required for the sqlite store"))
		}
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("redis_url is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want sqlite or redis)", c.Store))
	}
	if c.BotToken != "" && c.ChatID == 0 {
		errs = append(errs, errors.New("chat_id is required with bot_token"))
	}
	if c.SweepCron != "" {
		if err := scheduler.ValidateCronExpression(c.SweepCron); err != nil {
			errs = append(errs, fmt.Errorf("sweep_cron: %w", err))
		}
	}
	if c.DispatchWorkers <= 0 {
		errs = append(errs, errors.New("dispatch_workers must be > 0"))
	}
	// In production, refuse to run without a real sink.
	if c.Env == "production" && !c.HasTelegram() && c.WebhookURL == "" {
		errs = append(errs, errors.New("bot_token/chat_id or webhook_url is required in production"))
	}
	return errors.Join(errs...)
}

func (c *Config) HasTelegram() bool { return c.BotToken != "" && c.ChatID != 0 }

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) Addr() string { return ":" + c.Port }
