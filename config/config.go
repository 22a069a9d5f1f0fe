package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Push       PushConfig       `yaml:"push"`
	Email      EmailConfig      `yaml:"email"`
	SMS        SMSConfig        `yaml:"sms"`
	Windows    WindowsConfig    `yaml:"windows"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Sync       SyncConfig       `yaml:"sync"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // postgres | sqlite, inferred from DSN when empty
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogQueries             bool   `yaml:"log_queries"`
}

// AuthConfig holds the shared secret used to verify identity tokens.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	Issuer        string `yaml:"issuer"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey      string        `yaml:"vapid_public_key"`
	PrivateKey     string        `yaml:"vapid_private_key"`
	Subject        string        `yaml:"subject"`
	TTL            int           `yaml:"ttl"`
	Urgency        string        `yaml:"urgency"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
}

// EmailConfig holds the outbound SMTP relay settings.
type EmailConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"smtp_host"`
	Port           int           `yaml:"smtp_port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	From           string        `yaml:"from"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
}

// SMSConfig holds the HTTP SMS gateway settings.
type SMSConfig struct {
	Enabled         bool          `yaml:"enabled"`
	GatewayURL      string        `yaml:"gateway_url"`
	APIToken        string        `yaml:"api_token"`
	From            string        `yaml:"from"`
	HTTPProxy       string        `yaml:"http_proxy"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	TimeoutSeconds  int           `yaml:"timeout_seconds"`
	Timeout         time.Duration `yaml:"-"`
}

// WindowCategory is one configurable notification lead time.
type WindowCategory struct {
	Type             string `yaml:"type"`
	LeadMinutes      int    `yaml:"lead_minutes"`
	ToleranceSeconds int    `yaml:"tolerance_seconds"`
}

// WindowsConfig holds the notification window policy.
type WindowsConfig struct {
	Categories        []WindowCategory `yaml:"categories"`
	ExactGraceMinutes int              `yaml:"exact_grace_minutes"`
}

// DispatcherConfig holds the delivery loop and retry policy.
type DispatcherConfig struct {
	Enabled            bool          `yaml:"enabled"`
	IntervalSeconds    int           `yaml:"interval_seconds"`
	Interval           time.Duration `yaml:"-"`
	BatchSize          int           `yaml:"batch_size"`
	Workers            int           `yaml:"workers"`
	MaxAttempts        int           `yaml:"max_attempts"`
	BackoffBaseSeconds int           `yaml:"backoff_base_seconds"`
	BackoffMaxSeconds  int           `yaml:"backoff_max_seconds"`
	RunBudgetSeconds   int           `yaml:"run_budget_seconds"`
	RunBudget          time.Duration `yaml:"-"`
}

// SyncConfig holds the reconciliation sweep settings.
type SyncConfig struct {
	Enabled               bool          `yaml:"enabled"`
	SweepIntervalSeconds  int           `yaml:"sweep_interval_seconds"`
	SweepInterval         time.Duration `yaml:"-"`
	ClaimTimeoutSeconds   int           `yaml:"claim_timeout_seconds"`
	ClaimTimeout          time.Duration `yaml:"-"`
	RoutineHorizonDays    int           `yaml:"routine_horizon_days"`
	RoutineMaxOccurrences int           `yaml:"routine_max_occurrences"`
	OutboxBatchSize       int           `yaml:"outbox_batch_size"`
	OutboxMaxAttempts     int           `yaml:"outbox_max_attempts"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Debug bool   `yaml:"debug"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks settings that depend on each other. A claimed queue item is only
// released as stale once every send it could still be waiting on has timed out.
func (cfg *Config) Validate() error {
	longest := cfg.Push.Timeout
	if cfg.Email.Timeout > longest {
		longest = cfg.Email.Timeout
	}
	if cfg.SMS.Timeout > longest {
		longest = cfg.SMS.Timeout
	}
	if cfg.Sync.ClaimTimeout <= cfg.Dispatcher.RunBudget+longest {
		return fmt.Errorf("sync.claim_timeout_seconds (%s) must exceed dispatcher.run_budget_seconds plus the longest transport timeout (%s)",
			cfg.Sync.ClaimTimeout, cfg.Dispatcher.RunBudget+longest)
	}
	return nil
}

// ApplyDefaults fills unset values and derives the duration fields.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second

	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes <= 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}

	if cfg.Auth.TokenTTLHours <= 0 {
		cfg.Auth.TokenTTLHours = 24 * 7
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.Push.TimeoutSeconds <= 0 {
		cfg.Push.TimeoutSeconds = 10
	}
	cfg.Push.Timeout = time.Duration(cfg.Push.TimeoutSeconds) * time.Second

	if cfg.Email.Port <= 0 {
		cfg.Email.Port = 587
	}
	if cfg.Email.TimeoutSeconds <= 0 {
		cfg.Email.TimeoutSeconds = 30
	}
	cfg.Email.Timeout = time.Duration(cfg.Email.TimeoutSeconds) * time.Second

	if cfg.SMS.TimeoutSeconds <= 0 {
		cfg.SMS.TimeoutSeconds = 10
	}
	cfg.SMS.Timeout = time.Duration(cfg.SMS.TimeoutSeconds) * time.Second
	if cfg.SMS.RateLimitPerSec <= 0 {
		cfg.SMS.RateLimitPerSec = 5
	}

	if len(cfg.Windows.Categories) == 0 {
		cfg.Windows.Categories = []WindowCategory{
			{Type: "day_ahead", LeadMinutes: 24 * 60, ToleranceSeconds: 180},
			{Type: "near", LeadMinutes: 3 * 60, ToleranceSeconds: 180},
			{Type: "exact", LeadMinutes: 0, ToleranceSeconds: 180},
		}
	}
	for i := range cfg.Windows.Categories {
		if cfg.Windows.Categories[i].ToleranceSeconds <= 0 {
			cfg.Windows.Categories[i].ToleranceSeconds = 180
		}
	}
	if cfg.Windows.ExactGraceMinutes <= 0 {
		cfg.Windows.ExactGraceMinutes = 60
	}

	if cfg.Dispatcher.IntervalSeconds <= 0 {
		cfg.Dispatcher.IntervalSeconds = 60
	}
	cfg.Dispatcher.Interval = time.Duration(cfg.Dispatcher.IntervalSeconds) * time.Second
	if cfg.Dispatcher.BatchSize <= 0 {
		cfg.Dispatcher.BatchSize = 200
	}
	if cfg.Dispatcher.Workers <= 0 {
		cfg.Dispatcher.Workers = 4
	}
	if cfg.Dispatcher.MaxAttempts <= 0 {
		cfg.Dispatcher.MaxAttempts = 3
	}
	if cfg.Dispatcher.BackoffBaseSeconds <= 0 {
		cfg.Dispatcher.BackoffBaseSeconds = 60
	}
	if cfg.Dispatcher.BackoffMaxSeconds <= 0 {
		cfg.Dispatcher.BackoffMaxSeconds = 15 * 60
	}
	if cfg.Dispatcher.RunBudgetSeconds <= 0 {
		cfg.Dispatcher.RunBudgetSeconds = 50
	}
	cfg.Dispatcher.RunBudget = time.Duration(cfg.Dispatcher.RunBudgetSeconds) * time.Second

	if cfg.Sync.SweepIntervalSeconds <= 0 {
		cfg.Sync.SweepIntervalSeconds = 15 * 60
	}
	cfg.Sync.SweepInterval = time.Duration(cfg.Sync.SweepIntervalSeconds) * time.Second
	if cfg.Sync.ClaimTimeoutSeconds <= 0 {
		cfg.Sync.ClaimTimeoutSeconds = 10 * 60
	}
	cfg.Sync.ClaimTimeout = time.Duration(cfg.Sync.ClaimTimeoutSeconds) * time.Second
	if cfg.Sync.RoutineHorizonDays <= 0 {
		cfg.Sync.RoutineHorizonDays = 14
	}
	if cfg.Sync.RoutineMaxOccurrences <= 0 {
		cfg.Sync.RoutineMaxOccurrences = 60
	}
	if cfg.Sync.OutboxBatchSize <= 0 {
		cfg.Sync.OutboxBatchSize = 100
	}
	if cfg.Sync.OutboxMaxAttempts <= 0 {
		cfg.Sync.OutboxMaxAttempts = 5
	}
}
