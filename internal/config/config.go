package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"CreatorScanner/internal/domain"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "CREATOR_SCANNER_CONFIG"
	databaseDriverEnv = "DATABASE_DRIVER"
	databaseDSNEnv    = "DATABASE_DSN"
	mediaRootEnv      = "MEDIA_ROOT"
	logLevelEnv       = "LOG_LEVEL"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	metricsAddrEnv    = "METRICS_ADDR"
)

// Database drivers accepted in database.driver.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Database      DatabaseConfig     `yaml:"database"`
	Media         MediaConfig        `yaml:"media"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Scan          ScanConfig         `yaml:"scan"`
	HTTP          HTTPConfig         `yaml:"http"`
	Notifications NotificationConfig `yaml:"notifications"`
	Metrics       MetricsConfig      `yaml:"metrics"`
	Sources       []SourceConfig     `yaml:"sources"`
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes where tracking state lives.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// MediaConfig configures the deduplicating media store.
type MediaConfig struct {
	Root          string `yaml:"root"`
	HashAlgorithm string `yaml:"hashAlgorithm"`
	MaxBytes      int64  `yaml:"maxBytes"`
}

// SchedulerConfig defines when the pipeline should run.
type SchedulerConfig struct {
	CronExpression string         `yaml:"cronExpression"`
	Timezone       string         `yaml:"timezone"`
	location       *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// ScanConfig bounds one pipeline pass.
type ScanConfig struct {
	MaxPages        int  `yaml:"maxPages"`
	MaxAttempts     int  `yaml:"maxAttempts"`
	Concurrency     int  `yaml:"concurrency"`
	PendingPageSize int  `yaml:"pendingPageSize"`
	FullRescan      bool `yaml:"fullRescan"`
}

// HTTPConfig is shared by the page scanner and the media fetcher.
type HTTPConfig struct {
	UserAgent string        `yaml:"userAgent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether run digests should be published.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// MetricsConfig configures the Prometheus endpoint of the schedule command.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// SourceConfig describes one creator account with its scanner strategy.
type SourceConfig struct {
	Platform string            `yaml:"platform"`
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	URL      string            `yaml:"url"`
	Scanner  string            `yaml:"scanner"`
	Options  map[string]string `yaml:"options"`
}

// Load reads YAML configuration from path (or the CREATOR_SCANNER_CONFIG file
// when path is empty) and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg = mergeConfig(cfg, fileCfg)
	}

	cfg.applyEnvOverrides()
	if err := cfg.bindTimezone(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the application cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for driver %s", c.Database.Driver))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	switch strings.ToLower(c.Media.HashAlgorithm) {
	case "", "sha256", "blake3":
	default:
		errs = append(errs, fmt.Errorf("unknown media.hashAlgorithm %q", c.Media.HashAlgorithm))
	}
	if c.Media.Root == "" {
		errs = append(errs, errors.New("media.root is required"))
	}
	if c.Scan.Concurrency < 1 {
		errs = append(errs, errors.New("scan.concurrency must be positive"))
	}

	for i, src := range c.Sources {
		if strings.TrimSpace(src.Platform) == "" || strings.TrimSpace(src.ID) == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: platform and id are required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(errs...))
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDriverEnv); v != "" {
		c.Database.Driver = v
	}

	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
	}

	if v := os.Getenv(mediaRootEnv); v != "" {
		c.Media.Root = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(metricsAddrEnv); v != "" {
		c.Metrics.Addr = v
	}
}

func (c *Config) bindTimezone() error {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("%w: unknown scheduler timezone %q", domain.ErrValidation, tz)
	}
	c.Scheduler.location = loc
	return nil
}

func mergeConfig(base, override Config) Config {
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}

	if override.Database.Driver != "" {
		base.Database.Driver = override.Database.Driver
	}
	if override.Database.DSN != "" {
		base.Database.DSN = override.Database.DSN
	}

	if override.Media.Root != "" {
		base.Media.Root = override.Media.Root
	}
	if override.Media.HashAlgorithm != "" {
		base.Media.HashAlgorithm = override.Media.HashAlgorithm
	}
	if override.Media.MaxBytes != 0 {
		base.Media.MaxBytes = override.Media.MaxBytes
	}

	if override.Scheduler.CronExpression != "" {
		base.Scheduler.CronExpression = override.Scheduler.CronExpression
	}
	if override.Scheduler.Timezone != "" {
		base.Scheduler.Timezone = override.Scheduler.Timezone
	}

	if override.Scan.MaxPages != 0 {
		base.Scan.MaxPages = override.Scan.MaxPages
	}
	if override.Scan.MaxAttempts != 0 {
		base.Scan.MaxAttempts = override.Scan.MaxAttempts
	}
	if override.Scan.Concurrency != 0 {
		base.Scan.Concurrency = override.Scan.Concurrency
	}
	if override.Scan.PendingPageSize != 0 {
		base.Scan.PendingPageSize = override.Scan.PendingPageSize
	}
	if override.Scan.FullRescan {
		base.Scan.FullRescan = true
	}

	if override.HTTP.UserAgent != "" {
		base.HTTP.UserAgent = override.HTTP.UserAgent
	}
	if override.HTTP.Timeout != 0 {
		base.HTTP.Timeout = override.HTTP.Timeout
	}

	if override.Notifications.Telegram.BotToken != "" {
		base.Notifications.Telegram.BotToken = override.Notifications.Telegram.BotToken
	}
	if override.Notifications.Telegram.ChatID != "" {
		base.Notifications.Telegram.ChatID = override.Notifications.Telegram.ChatID
	}

	if override.Metrics.Addr != "" {
		base.Metrics.Addr = override.Metrics.Addr
	}

	if len(override.Sources) > 0 {
		base.Sources = override.Sources
	}

	return base
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Database:  DatabaseConfig{Driver: DriverSQLite, DSN: "file:creator-scanner.db"},
		Media:     MediaConfig{Root: "media", HashAlgorithm: "sha256", MaxBytes: 512 << 20},
		Scheduler: SchedulerConfig{CronExpression: "0 */6 * * *", Timezone: defaultTimezone, location: tz},
		Scan: ScanConfig{
			MaxPages:        50,
			MaxAttempts:     5,
			Concurrency:     2,
			PendingPageSize: 200,
		},
		HTTP: HTTPConfig{UserAgent: "CreatorScanner/1.0", Timeout: 30 * time.Second},
	}
}
