// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, listen address, metrics, and logging.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Webhook holds the shared-secret authentication settings.
type Webhook struct {
	Secret         string `yaml:"secret"`
	Passphrase     string `yaml:"passphrase"`
	MaxSkewSecs    int    `yaml:"max_clock_skew_secs"`
	NonceTTLSecs   int    `yaml:"nonce_ttl_secs"`
	NonceCapacity  int    `yaml:"nonce_capacity"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
	RawLogMaxBytes int    `yaml:"raw_log_max_bytes"`
}

// Risk encodes the entry filters.
type Risk struct {
	CooldownMinutes  int     `yaml:"cooldown_minutes"`
	MaxSignalsPerDay int     `yaml:"max_signals_per_day"`
	MinRR            float64 `yaml:"min_rr"`
}

// Telegram configures the chat notifier. Empty credentials disable it.
type Telegram struct {
	BotToken   string `yaml:"bot_token"`
	ChatID     string `yaml:"chat_id"`
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_secs"`
}

// Storage selects where position state and the audit journal live.
type Storage struct {
	Driver      string `yaml:"driver"`
	StatePath   string `yaml:"state_path"`
	JournalPath string `yaml:"journal_path"`
	DatabaseURL string `yaml:"database_url"`
}

// Stream toggles the websocket event feed.
type Stream struct {
	Enabled bool `yaml:"enabled"`
	Backlog int  `yaml:"backlog"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Webhook  Webhook  `yaml:"webhook"`
	Risk     Risk     `yaml:"risk"`
	Telegram Telegram `yaml:"telegram"`
	Storage  Storage  `yaml:"storage"`
	Stream   Stream   `yaml:"stream"`
}

// Storage drivers.
const (
	DriverJSONL    = "jsonl"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Default returns the settings used when no file or env override is present.
func Default() *Config {
	return &Config{
		App: App{
			Name:        "signalbot",
			Env:         "dev",
			Addr:        ":8000",
			MetricsAddr: ":9102",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Webhook: Webhook{
			MaxSkewSecs:    120,
			NonceTTLSecs:   600,
			NonceCapacity:  2000,
			MaxBodyBytes:   64 << 10,
			RawLogMaxBytes: 2000,
		},
		Risk: Risk{
			CooldownMinutes:  30,
			MaxSignalsPerDay: 5,
			MinRR:            1.2,
		},
		Telegram: Telegram{TimeoutSec: 10},
		Storage: Storage{
			Driver:      DriverJSONL,
			StatePath:   "data/state.json",
			JournalPath: "data/trades.jsonl",
		},
		Stream: Stream{Enabled: true, Backlog: 32},
	}
}

// Load reads a YAML file from disk on top of Default and then applies env overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file on top of Default. Env overrides are not applied.
func LoadFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg := Default()
	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays well-known environment variables.
func (c *Config) ApplyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}

	str("WEBHOOK_SECRET", &c.Webhook.Secret)
	str("WEBHOOK_PASSPHRASE", &c.Webhook.Passphrase)
	num("MAX_CLOCK_SKEW_SECS", &c.Webhook.MaxSkewSecs)
	num("COOLDOWN_MINUTES", &c.Risk.CooldownMinutes)
	num("MAX_SIGNALS_PER_DAY", &c.Risk.MaxSignalsPerDay)
	if v, ok := os.LookupEnv("MIN_RR"); ok && strings.TrimSpace(v) != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MIN_RR: %w", err))
		} else {
			c.Risk.MinRR = f
		}
	}
	str("TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken)
	str("TELEGRAM_CHAT_ID", &c.Telegram.ChatID)
	if v, ok := os.LookupEnv("DATABASE_URL"); ok && strings.TrimSpace(v) != "" {
		c.Storage.DatabaseURL = strings.TrimSpace(v)
		c.Storage.Driver = DriverPostgres
	}
	if v, ok := os.LookupEnv("PORT"); ok && strings.TrimSpace(v) != "" {
		c.App.Addr = ":" + strings.TrimSpace(v)
	}
	str("LOG_LEVEL", &c.App.LogLevel)
	str("METRICS_ADDR", &c.App.MetricsAddr)
	return errors.Join(errs...)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Webhook.MaxSkewSecs < 0 {
		errs = append(errs, errors.New("webhook.max_clock_skew_secs must be >= 0"))
	}
	if c.Webhook.NonceTTLSecs <= 0 {
		errs = append(errs, errors.New("webhook.nonce_ttl_secs must be > 0"))
	}
	if c.Webhook.NonceCapacity <= 0 {
		errs = append(errs, errors.New("webhook.nonce_capacity must be > 0"))
	}
	if c.Risk.CooldownMinutes < 0 {
		errs = append(errs, errors.New("risk.cooldown_minutes must be >= 0"))
	}
	if c.Risk.MaxSignalsPerDay < 0 {
		errs = append(errs, errors.New("risk.max_signals_per_day must be >= 0"))
	}
	if c.Risk.MinRR < 0 {
		errs = append(errs, errors.New("risk.min_rr must be >= 0"))
	}
	switch c.Storage.Driver {
	case DriverJSONL, DriverMemory:
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("storage.database_url required for postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	return errors.Join(errs...)
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
