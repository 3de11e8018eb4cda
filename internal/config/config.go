// Package config loads onebreath configuration from defaults, an optional
// YAML file, and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the variable pointing at a YAML config file.
const EnvConfigFile = "ONEBREATH_CONFIG_FILE"

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Blob     BlobConfig     `yaml:"blob"`
	Auth     AuthConfig     `yaml:"auth"`
	Mail     MailConfig     `yaml:"mail"`
	SMS      SMSConfig      `yaml:"sms"`
	LLM      LLMConfig      `yaml:"llm"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	RequestHistory  int           `yaml:"request_history"`
}

// StoreConfig selects and configures the sample store driver.
type StoreConfig struct {
	Driver             string        `yaml:"driver"` // memory, sqlite, postgres, mongo
	MongoURI           string        `yaml:"mongo_uri"`
	Database           string        `yaml:"database"`
	SamplesCollection  string        `yaml:"samples_collection"`
	AnalyzedCollection string        `yaml:"analyzed_collection"`
	PostgresDSN        string        `yaml:"postgres_dsn"`
	SQLitePath         string        `yaml:"sqlite_path"`
	Timeout            time.Duration `yaml:"timeout"`
}

// BlobConfig selects the document storage driver.
type BlobConfig struct {
	Driver          string        `yaml:"driver"` // fs, memory, s3, gcs
	FSRoot          string        `yaml:"fs_root"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	PathStyle       bool          `yaml:"path_style"`
	CredentialsFile string        `yaml:"credentials_file"`
	PresignExpiry   time.Duration `yaml:"presign_expiry"`
	BackupPrefix    string        `yaml:"backup_prefix"`
}

// AuthConfig selects the bearer token verifier.
type AuthConfig struct {
	Driver          string            `yaml:"driver"` // firebase, static
	ProjectID       string            `yaml:"project_id"`
	CredentialsFile string            `yaml:"credentials_file"`
	StaticTokens    map[string]string `yaml:"static_tokens"` // token -> uid
	Admins          []string          `yaml:"admins"`        // uids granted admin without a claim
}

// MailConfig configures SMTP notifications.
type MailConfig struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

// Enabled reports whether enough is configured to send mail.
func (m MailConfig) Enabled() bool { return m.Host != "" && len(m.Recipients) > 0 }

// SMSConfig configures Twilio notifications.
type SMSConfig struct {
	AccountSID string   `yaml:"account_sid"`
	AuthToken  string   `yaml:"auth_token"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

// Enabled reports whether enough is configured to send SMS.
func (s SMSConfig) Enabled() bool {
	return s.AccountSID != "" && s.AuthToken != "" && s.From != "" && len(s.Recipients) > 0
}

// LLMConfig configures the summarizer provider.
type LLMConfig struct {
	Provider     string        `yaml:"provider"` // openai, gemini, local
	APIKey       string        `yaml:"api_key"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// AnalysisConfig configures the insight cache.
type AnalysisConfig struct {
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	CacheCapacity int           `yaml:"cache_capacity"`
	MaxRecords    int           `yaml:"max_records"`
}

// MonitorConfig configures the lifecycle sweep.
type MonitorConfig struct {
	Enabled            bool          `yaml:"enabled"`
	Interval           time.Duration `yaml:"interval"`
	NudgeInterval      time.Duration `yaml:"nudge_interval"`
	SweepTimeout       time.Duration `yaml:"sweep_timeout"`
	ProcessingDuration time.Duration `yaml:"processing_duration"`
	NotifyOnFailure    bool          `yaml:"notify_on_failure"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level   string `yaml:"level"`  // debug, info, warn, error
	Format  string `yaml:"format"` // json, console
	History int    `yaml:"history"`
}

// Default returns the baseline configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":5000",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    75 * time.Second,
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
			RequestHistory:  1000,
		},
		Store: StoreConfig{
			Driver:             "sqlite",
			Database:           "onebreath",
			SamplesCollection:  "samples",
			AnalyzedCollection: "analyzed",
			SQLitePath:         "onebreath.db",
			Timeout:            30 * time.Second,
		},
		Blob: BlobConfig{
			Driver:        "fs",
			FSRoot:        "./blobdata",
			Region:        "us-east-1",
			PresignExpiry: 2 * time.Hour,
			BackupPrefix:  "database_backups",
		},
		Auth: AuthConfig{Driver: "firebase"},
		Mail: MailConfig{Host: "smtp.gmail.com", Port: 587},
		LLM: LLMConfig{
			Provider:     "openai",
			Model:        "gpt-4o-mini",
			Timeout:      25 * time.Second,
			MaxRetries:   3,
			RetryBackoff: time.Second,
		},
		Analysis: AnalysisConfig{
			CacheTTL:      5 * time.Minute,
			CacheCapacity: 128,
			MaxRecords:    10,
		},
		Monitor: MonitorConfig{
			Enabled:            true,
			Interval:           time.Minute,
			NudgeInterval:      5 * time.Minute,
			SweepTimeout:       30 * time.Second,
			ProcessingDuration: 2 * time.Hour,
			NotifyOnFailure:    true,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", History: 1000},
	}
}

// Load builds a Config from defaults, the YAML file at path (or
// $ONEBREATH_CONFIG_FILE when path is empty), and environment overrides.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup lookupFunc) (Config, error) {
	cfg := Default()
	if path == "" {
		if v, ok := lookup(EnvConfigFile); ok {
			path = strings.TrimSpace(v)
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	cfg = applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg Config) Config {
	d := Default()
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = d.Server.Addr
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = d.Server.ReadTimeout
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = d.Server.RequestTimeout
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = cfg.Server.RequestTimeout + 15*time.Second
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = d.Server.CORSOrigins
	}
	if cfg.Server.RequestHistory <= 0 {
		cfg.Server.RequestHistory = d.Server.RequestHistory
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = d.Store.Driver
	}
	if cfg.Store.Timeout <= 0 {
		cfg.Store.Timeout = d.Store.Timeout
	}
	if cfg.Blob.Driver == "" {
		cfg.Blob.Driver = d.Blob.Driver
	}
	if cfg.Blob.PresignExpiry <= 0 {
		cfg.Blob.PresignExpiry = d.Blob.PresignExpiry
	}
	if cfg.Blob.BackupPrefix == "" {
		cfg.Blob.BackupPrefix = d.Blob.BackupPrefix
	}
	if cfg.Auth.Driver == "" {
		cfg.Auth.Driver = d.Auth.Driver
	}
	if cfg.Mail.Port <= 0 {
		cfg.Mail.Port = d.Mail.Port
	}
	if cfg.Mail.From == "" {
		cfg.Mail.From = cfg.Mail.Username
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = d.LLM.Provider
	}
	if cfg.LLM.Timeout <= 0 {
		cfg.LLM.Timeout = d.LLM.Timeout
	}
	// zero disables retries; only a negative count is unset
	if cfg.LLM.MaxRetries < 0 {
		cfg.LLM.MaxRetries = d.LLM.MaxRetries
	}
	if cfg.LLM.RetryBackoff <= 0 {
		cfg.LLM.RetryBackoff = d.LLM.RetryBackoff
	}
	if cfg.Analysis.CacheTTL <= 0 {
		cfg.Analysis.CacheTTL = d.Analysis.CacheTTL
	}
	if cfg.Analysis.CacheCapacity <= 0 {
		cfg.Analysis.CacheCapacity = d.Analysis.CacheCapacity
	}
	if cfg.Analysis.MaxRecords <= 0 {
		cfg.Analysis.MaxRecords = d.Analysis.MaxRecords
	}
	if cfg.Monitor.Interval <= 0 {
		cfg.Monitor.Interval = d.Monitor.Interval
	}
	if cfg.Monitor.NudgeInterval <= 0 {
		cfg.Monitor.NudgeInterval = d.Monitor.NudgeInterval
	}
	if cfg.Monitor.SweepTimeout <= 0 {
		cfg.Monitor.SweepTimeout = d.Monitor.SweepTimeout
	}
	if cfg.Monitor.ProcessingDuration <= 0 {
		cfg.Monitor.ProcessingDuration = d.Monitor.ProcessingDuration
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.Logging.History <= 0 {
		cfg.Logging.History = d.Logging.History
	}
	return cfg
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn required for postgres driver"))
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			errs = append(errs, errors.New("store.mongo_uri required for mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3", "gcs":
		if c.Blob.Bucket == "" {
			errs = append(errs, fmt.Errorf("blob.bucket required for %s driver", c.Blob.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	switch c.Auth.Driver {
	case "firebase", "static":
	default:
		errs = append(errs, fmt.Errorf("unknown auth driver %q", c.Auth.Driver))
	}
	switch c.LLM.Provider {
	case "openai", "gemini", "local":
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider %q", c.LLM.Provider))
	}
	if c.LLM.Timeout >= c.Server.RequestTimeout {
		errs = append(errs, fmt.Errorf("llm.timeout (%s) must be shorter than server.request_timeout (%s)", c.LLM.Timeout, c.Server.RequestTimeout))
	}
	if c.Monitor.SweepTimeout > c.Monitor.Interval {
		errs = append(errs, fmt.Errorf("monitor.sweep_timeout (%s) must not exceed monitor.interval (%s)", c.Monitor.SweepTimeout, c.Monitor.Interval))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown logging format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}
