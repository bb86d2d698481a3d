// Package config loads application configuration from file and environment
// and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	CRM   CRMConfig   `yaml:"crm" mapstructure:"crm"`
	Sync  SyncConfig  `yaml:"sync" mapstructure:"sync"`
	Task  TaskConfig  `yaml:"task" mapstructure:"task"`
	Store StoreConfig `yaml:"store" mapstructure:"store"`
	Poll  PollConfig  `yaml:"poll" mapstructure:"poll"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
}

// CRMConfig holds remote CRM credentials and client tuning.
type CRMConfig struct {
	Subdomain    string  `yaml:"subdomain" mapstructure:"subdomain"`
	Token        string  `yaml:"token" mapstructure:"token"`
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	RPS          float64 `yaml:"rps" mapstructure:"rps"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryEnabled bool    `yaml:"retry_enabled" mapstructure:"retry_enabled"`
	RetryMax     int     `yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"`
}

// Timeout returns the per-call HTTP timeout.
func (c CRMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// SyncConfig configures the lead/company reconciliation decisions.
type SyncConfig struct {
	PipelineName    string   `yaml:"pipeline" mapstructure:"pipeline"`
	StageName       string   `yaml:"stage" mapstructure:"stage"`
	MinBudget       float64  `yaml:"min_budget" mapstructure:"min_budget"`
	LeadTaxField    string   `yaml:"lead_tax_field" mapstructure:"lead_tax_field"`
	LeadLinkField   string   `yaml:"lead_link_field" mapstructure:"lead_link_field"`
	CompanyTaxField string   `yaml:"company_tax_field" mapstructure:"company_tax_field"`
	ExcludedOwners  []string `yaml:"excluded_owners" mapstructure:"excluded_owners"`
}

// TaskConfig configures follow-up task routing.
type TaskConfig struct {
	Text          string `yaml:"text" mapstructure:"text"`
	TypeName      string `yaml:"type_name" mapstructure:"type_name"`
	OffsetMinutes int    `yaml:"offset_minutes" mapstructure:"offset_minutes"`
	UnsortedUser  string `yaml:"unsorted_user" mapstructure:"unsorted_user"`
	Coordinator   string `yaml:"coordinator" mapstructure:"coordinator"`
	// EveryPass controls whether a matched lead gets a fresh task on every
	// pass (observed upstream behavior) or only when a lead or note was
	// actually created.
	EveryPass bool `yaml:"every_pass" mapstructure:"every_pass"`
}

// Offset returns the task deadline offset.
func (c TaskConfig) Offset() time.Duration {
	return time.Duration(c.OffsetMinutes) * time.Minute
}

// StoreConfig configures the record archive backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PollConfig configures the interval driver.
type PollConfig struct {
	IntervalSecs int    `yaml:"interval_secs" mapstructure:"interval_secs"`
	Source       string `yaml:"source" mapstructure:"source"`
}

// Interval returns the polling interval.
func (c PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TENDERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys with no meaningful default still get an empty one so
	// AutomaticEnv can populate them through Unmarshal.
	v.SetDefault("crm.subdomain", "")
	v.SetDefault("crm.token", "")
	v.SetDefault("crm.base_url", "")
	v.SetDefault("crm.rps", 2.0)
	v.SetDefault("crm.timeout_secs", 30)
	v.SetDefault("crm.retry_enabled", false)
	v.SetDefault("crm.retry_max_attempts", 3)
	v.SetDefault("sync.pipeline", "Гос.заказ - прогрев клиента")
	v.SetDefault("sync.stage", "Победители")
	v.SetDefault("sync.min_budget", 100_000)
	v.SetDefault("sync.lead_tax_field", "ИНН")
	v.SetDefault("sync.lead_link_field", "Ссылка на закупку")
	v.SetDefault("sync.company_tax_field", "ИНН")
	v.SetDefault("sync.excluded_owners", []string{})
	v.SetDefault("task.text", "Пришло обновление из базы победителей")
	v.SetDefault("task.type_name", "Связаться с клиентом")
	v.SetDefault("task.offset_minutes", 10)
	v.SetDefault("task.unsorted_user", "НЕРАЗОБРАННЫЕ ЗАЯВКИ")
	v.SetDefault("task.coordinator", "")
	v.SetDefault("task.every_pass", true)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "tendersync.db")
	v.SetDefault("poll.interval_secs", 60)
	v.SetDefault("poll.source", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings that have no usable default.
func (c *Config) Validate() error {
	if c.CRM.Subdomain == "" && c.CRM.BaseURL == "" {
		return eris.New("config: crm.subdomain (or crm.base_url) is required")
	}
	if c.CRM.Token == "" {
		return eris.New("config: crm.token is required")
	}
	if c.Task.Coordinator == "" {
		return eris.New("config: task.coordinator is required")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
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
