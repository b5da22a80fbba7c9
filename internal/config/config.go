// Package config provides configuration management for the full-text retrieval service.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// Config holds all configuration for the full-text retrieval service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Retrieval contains orchestrator and download settings.
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	// Retry contains retry scheduler settings.
	Retry RetryConfig `mapstructure:"retry"`
	// Batch contains batch driver settings.
	Batch BatchConfig `mapstructure:"batch"`
	// Events contains Kafka publisher settings for retrieval events.
	Events EventsConfig `mapstructure:"events"`
	// Providers contains the static provider catalog, keyed by provider name.
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	// Default is "require" for production security. Use "disable" only for local development.
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 50).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 10).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
}

// RetrievalConfig holds orchestrator and download settings.
type RetrievalConfig struct {
	// TargetDir is the default directory documents are written to.
	TargetDir string `mapstructure:"target_dir"`
	// MaxDocumentSize is the maximum accepted document size in bytes.
	MaxDocumentSize int64 `mapstructure:"max_document_size"`
	// UserAgent is the User-Agent header sent to providers.
	UserAgent string `mapstructure:"user_agent"`
	// AllowPrivateNetworks disables SSRF private-IP checks. This MUST only be
	// set to true in test environments.
	AllowPrivateNetworks bool `mapstructure:"allow_private_networks"`
}

// RetryConfig holds retry scheduler settings.
type RetryConfig struct {
	// MaxRetries is the retry cap per identifier; once retry_count reaches it
	// the entry is removed and the identifier reported as needing manual
	// intervention.
	MaxRetries int `mapstructure:"max_retries"`
	// RateLimitBaseDelay is the backoff base for rate_limit failures.
	RateLimitBaseDelay time.Duration `mapstructure:"rate_limit_base_delay"`
	// NetworkBaseDelay is the backoff base for timeout and network_error failures.
	NetworkBaseDelay time.Duration `mapstructure:"network_base_delay"`
	// ServerErrorBaseDelay is the backoff base for server_error failures.
	ServerErrorBaseDelay time.Duration `mapstructure:"server_error_base_delay"`
	// WorkerEnabled runs the retry worker inside the server process. Disable
	// it when draining is delegated to a standalone worker deployment.
	WorkerEnabled bool `mapstructure:"worker_enabled"`
	// WorkerInterval is how often the retry worker drains due entries.
	WorkerInterval time.Duration `mapstructure:"worker_interval"`
	// WorkerBatchSize caps how many due entries one drain processes.
	WorkerBatchSize int `mapstructure:"worker_batch_size"`
}

// BatchConfig holds batch driver settings.
type BatchConfig struct {
	// Concurrency is the default number of identifiers processed in parallel.
	Concurrency int `mapstructure:"concurrency"`
	// MaxConcurrency bounds the per-request concurrency override.
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// InterCallDelay is the minimum spacing between orchestrator invocations,
	// applied batch-wide to respect third-party rate limits.
	InterCallDelay time.Duration `mapstructure:"inter_call_delay"`
	// MaxIdentifiers bounds the worklist size accepted per batch.
	MaxIdentifiers int `mapstructure:"max_identifiers"`
}

// EventsConfig holds Kafka publisher settings for retrieval events.
type EventsConfig struct {
	// Enabled controls whether retrieval events are published.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic retrieval events are published to.
	Topic string `mapstructure:"topic"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// ProviderConfig holds the static catalog entry for a single provider.
type ProviderConfig struct {
	// Enabled controls whether this provider is used.
	Enabled bool `mapstructure:"enabled"`
	// Priority orders providers; lower values are tried earlier.
	Priority int `mapstructure:"priority"`
	// RequiresAuth indicates the provider needs an API key.
	RequiresAuth bool `mapstructure:"requires_auth"`
	// APIKey is the API key (loaded from environment variable, e.g.
	// FULLTEXT_PROVIDERS_CORE_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the URL template; "{identifier}" is replaced per request.
	BaseURL string `mapstructure:"base_url"`
	// Timeout bounds a single fetch against this provider.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second to this provider.
	RateLimit float64 `mapstructure:"rate_limit"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("FULLTEXT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/fulltext-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates provider API keys exclusively from environment
// variables, e.g. FULLTEXT_PROVIDERS_CORE_API_KEY for provider "core".
func loadSecrets(cfg *Config) {
	for name, pc := range cfg.Providers {
		envName := fmt.Sprintf("FULLTEXT_PROVIDERS_%s_API_KEY",
			strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name)))
		pc.APIKey = os.Getenv(envName)
		cfg.Providers[name] = pc
	}
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "fulltext")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "fulltext_service")
	// Default to "require" for production security. Use FULLTEXT_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 10)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Retrieval defaults
	v.SetDefault("retrieval.target_dir", "./documents")
	v.SetDefault("retrieval.max_document_size", 100*1024*1024)
	v.SetDefault("retrieval.user_agent", "Mozilla/5.0 (compatible; Helixir-FullText/1.0; +https://helixir.io/bot)")
	v.SetDefault("retrieval.allow_private_networks", false)

	// Retry defaults
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.rate_limit_base_delay", "60m")
	v.SetDefault("retry.network_base_delay", "5m")
	v.SetDefault("retry.server_error_base_delay", "10m")
	v.SetDefault("retry.worker_enabled", true)
	v.SetDefault("retry.worker_interval", "1m")
	v.SetDefault("retry.worker_batch_size", 50)

	// Batch defaults
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.max_concurrency", 16)
	v.SetDefault("batch.inter_call_delay", "500ms")
	v.SetDefault("batch.max_identifiers", 1000)

	// Events defaults
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.brokers", []string{"localhost:9092"})
	v.SetDefault("events.topic", "events.fulltext.document_retrieved")
	v.SetDefault("events.batch_timeout", "10ms")

	// Provider catalog defaults - Unpaywall
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("providers.unpaywall.enabled", true)
	v.SetDefault("providers.unpaywall.priority", 1)
	v.SetDefault("providers.unpaywall.requires_auth", false)
	v.SetDefault("providers.unpaywall.base_url", "https://api.unpaywall.org/v2/{identifier}")
	v.SetDefault("providers.unpaywall.timeout", "30s")
	v.SetDefault("providers.unpaywall.rate_limit", 10.0)

	// Provider catalog defaults - Europe PMC
	v.SetDefault("providers.europepmc.enabled", true)
	v.SetDefault("providers.europepmc.priority", 2)
	v.SetDefault("providers.europepmc.requires_auth", false)
	v.SetDefault("providers.europepmc.base_url", "https://www.ebi.ac.uk/europepmc/webservices/rest/{identifier}/fullTextPDF")
	v.SetDefault("providers.europepmc.timeout", "45s")
	v.SetDefault("providers.europepmc.rate_limit", 5.0)

	// Provider catalog defaults - CORE (requires API key)
	v.SetDefault("providers.core.enabled", false)
	v.SetDefault("providers.core.priority", 3)
	v.SetDefault("providers.core.requires_auth", true)
	v.SetDefault("providers.core.base_url", "https://api.core.ac.uk/v3/outputs/{identifier}/download")
	v.SetDefault("providers.core.timeout", "60s")
	v.SetDefault("providers.core.rate_limit", 2.0)

	// Provider catalog defaults - Crossref
	v.SetDefault("providers.crossref.enabled", true)
	v.SetDefault("providers.crossref.priority", 4)
	v.SetDefault("providers.crossref.requires_auth", false)
	v.SetDefault("providers.crossref.base_url", "https://api.crossref.org/works/{identifier}")
	v.SetDefault("providers.crossref.timeout", "30s")
	v.SetDefault("providers.crossref.rate_limit", 5.0)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate retry config
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative")
	}
	if c.Retry.RateLimitBaseDelay <= 0 || c.Retry.NetworkBaseDelay <= 0 || c.Retry.ServerErrorBaseDelay <= 0 {
		return fmt.Errorf("retry base delays must be positive")
	}

	// Validate batch config
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch concurrency must be positive")
	}
	if c.Batch.MaxConcurrency < c.Batch.Concurrency {
		return fmt.Errorf("batch max_concurrency (%d) must be >= concurrency (%d)",
			c.Batch.MaxConcurrency, c.Batch.Concurrency)
	}

	// Validate events config
	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			return fmt.Errorf("events brokers are required when events are enabled")
		}
		if c.Events.Topic == "" {
			return fmt.Errorf("events topic is required when events are enabled")
		}
	}

	// Validate provider catalog
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	for name, pc := range c.Providers {
		if pc.BaseURL == "" {
			return fmt.Errorf("provider %q: base_url is required", name)
		}
		if pc.Timeout <= 0 {
			return fmt.Errorf("provider %q: timeout must be positive", name)
		}
		if pc.RateLimit < 0 {
			return fmt.Errorf("provider %q: rate_limit must not be negative", name)
		}
		if pc.Enabled && pc.RequiresAuth && pc.APIKey == "" {
			return fmt.Errorf("provider %q requires FULLTEXT_PROVIDERS_%s_API_KEY to be set",
				name, strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name)))
		}
	}

	return nil
}
