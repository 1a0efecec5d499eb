package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/salewatch/internal/store"
)

// EnvPrefix prefixes every environment override, e.g. SALEWATCH_NOTIFY_DELAY_MS.
const EnvPrefix = "SALEWATCH"

// DefaultShops is the store allow-list used when none is configured.
var DefaultShops = []string{"池袋店", "渋谷店", "新宿店", "立川若葉ケヤキモール店"}

// Config holds the full application configuration.
type Config struct {
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Extract  ExtractConfig  `yaml:"extract" mapstructure:"extract"`
	History  HistoryConfig  `yaml:"history" mapstructure:"history"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// FetchConfig configures the listing page download.
type FetchConfig struct {
	// URL overrides the generated dated URL when set.
	URL         string `yaml:"url" mapstructure:"url"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the download timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// CacheConfig configures the on-disk page cache.
type CacheConfig struct {
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// ExtractConfig configures record extraction.
type ExtractConfig struct {
	Shops    []string `yaml:"shops" mapstructure:"shops"`
	AllShops bool     `yaml:"all_shops" mapstructure:"all_shops"`
}

// AllowList returns the effective store filter. Nil means every store.
func (c ExtractConfig) AllowList() []string {
	if c.AllShops {
		return nil
	}
	return c.Shops
}

// HistoryConfig selects the notification history backend.
type HistoryConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// NotifyConfig configures webhook delivery.
type NotifyConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	Force           bool   `yaml:"force" mapstructure:"force"`
	WebhookURL      string `yaml:"webhook_url" mapstructure:"webhook_url"`
	Username        string `yaml:"username" mapstructure:"username"`
	DelayMs         int    `yaml:"delay_ms" mapstructure:"delay_ms"`
	MaxAttempts     int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryBackoffMs  int    `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	TimeoutSecs     int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	ContinueOnError bool   `yaml:"continue_on_error" mapstructure:"continue_on_error"`
}

// Delay returns the minimum pause between two deliveries.
func (c NotifyConfig) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// OutputConfig configures the report file.
type OutputConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ScheduleConfig configures the serve daemon's trigger.
type ScheduleConfig struct {
	Cron       string `yaml:"cron" mapstructure:"cron"`
	Timezone   string `yaml:"timezone" mapstructure:"timezone"`
	RunOnStart bool   `yaml:"run_on_start" mapstructure:"run_on_start"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Debug  bool   `yaml:"debug" mapstructure:"debug"`
}

// legacyEnv maps keys to the unprefixed variable names older deployments use.
var legacyEnv = map[string]string{
	"notify.webhook_url": "DISCORD_WEBHOOK_URL",
	"extract.shops":      "TARGET_SHOPS",
	"output.path":        "OUTPUT_FILE",
	"log.debug":          "DEBUG",
}

// Load reads configuration from .env, the config file and the environment.
// An empty path searches the working directory for config.yaml, which may be
// absent; an explicit path must exist.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", legacy)
		}
	}

	// Defaults. Every key needs an entry here or a BindEnv above, otherwise
	// its environment override is never seen by Unmarshal.
	v.SetDefault("fetch.url", "")
	v.SetDefault("fetch.base_url", "https://map.kaldi.co.jp/kaldi/articleList?account=kaldi&accmd=1&ftop=1")
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("cache.dir", "./data")
	v.SetDefault("cache.prefix", "kaldi_sale")
	v.SetDefault("extract.shops", DefaultShops)
	v.SetDefault("extract.all_shops", false)
	v.SetDefault("history.driver", store.DriverJSON)
	v.SetDefault("history.path", "./data/notified_sales.json")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.force", false)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.username", "")
	v.SetDefault("notify.delay_ms", 1000)
	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("notify.retry_backoff_ms", 1000)
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("notify.continue_on_error", true)
	v.SetDefault("output.path", "sales_output.txt")
	v.SetDefault("schedule.cron", "0 8 * * *")
	v.SetDefault("schedule.timezone", "Asia/Tokyo")
	v.SetDefault("schedule.run_on_start", false)
	v.SetDefault("server.port", 8000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.debug", false)

	// Read config file (optional unless named explicitly)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Extract.Shops = cleanList(cfg.Extract.Shops)

	return &cfg, nil
}

// loadDotEnv applies KEY=VALUE pairs from path without overriding variables
// already present in the environment. A missing file is ignored.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return eris.Wrapf(err, "config: load %s", path)
	}
	return nil
}

// cleanList trims every item and drops empty ones.
func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate checks the settings a mode depends on. Modes: "run", "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Fetch.TimeoutSecs <= 0 {
		errs = append(errs, "fetch.timeout_secs must be positive")
	}
	if c.Cache.Dir == "" {
		errs = append(errs, "cache.dir is required")
	}
	if c.History.Path == "" {
		errs = append(errs, "history.path is required")
	}
	switch strings.ToLower(c.History.Driver) {
	case "", store.DriverJSON, store.DriverSQLite:
	default:
		errs = append(errs, "history.driver must be json or sqlite")
	}
	if c.Notify.DelayMs < 0 {
		errs = append(errs, "notify.delay_ms must not be negative")
	}
	if c.Notify.MaxAttempts < 1 {
		errs = append(errs, "notify.max_attempts must be at least 1")
	}

	switch mode {
	case "run":
	case "serve":
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if strings.TrimSpace(c.Schedule.Cron) == "" {
			errs = append(errs, "schedule.cron is required")
		}
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			errs = append(errs, "schedule.timezone is not a known location")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Redacted returns a copy safe to print: the webhook URL is masked.
func (c Config) Redacted() Config {
	if c.Notify.WebhookURL != "" {
		c.Notify.WebhookURL = "********"
	}
	c.Extract.Shops = append([]string(nil), c.Extract.Shops...)
	return c
}

// InitLogger initializes the global zap logger. Debug forces the debug level.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	levelName := cfg.Level
	if cfg.Debug {
		levelName = "debug"
	}
	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
