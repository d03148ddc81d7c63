// Package config loads server configuration from defaults, a YAML file,
// TIODATA_ environment variables, and command line flags.
package config

import (
	"time"

	"tidb-odata/internal/naming"
)

// Config holds all application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Server        ServerConfig        `mapstructure:"server"`
	Paging        PagingConfig        `mapstructure:"paging"`
	Operations    OperationsConfig    `mapstructure:"operations"`
	Naming        naming.Config       `mapstructure:"naming"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// DatabaseConfig holds TiDB connection settings.
type DatabaseConfig struct {
	// ConnectionString, when set, replaces the discrete connection fields.
	ConnectionString string            `mapstructure:"dsn"`
	Host             string            `mapstructure:"host"`
	Port             int               `mapstructure:"port"`
	User             string            `mapstructure:"user"`
	Password         string            `mapstructure:"password"`
	PasswordFile     string            `mapstructure:"password_file"`
	PasswordPrompt   bool              `mapstructure:"password_prompt"`
	Database         string            `mapstructure:"database"`
	TLS              DatabaseTLSConfig `mapstructure:"tls"`
	Pool             PoolConfig        `mapstructure:"pool"`

	ConnectionTimeout       time.Duration `mapstructure:"connection_timeout"`
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// DatabaseTLSConfig configures TLS to the database.
type DatabaseTLSConfig struct {
	// Mode is one of off, skip-verify, verify-ca, verify-full. Empty leaves the driver default.
	Mode       string `mapstructure:"mode"`
	CAFile     string `mapstructure:"ca_file"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	ServerName string `mapstructure:"server_name"`
}

type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// BasePath is the service root; resource paths are resolved below it.
	BasePath           string        `mapstructure:"base_path"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`

	CORSEnabled          bool     `mapstructure:"cors_enabled"`
	CORSAllowedOrigins   []string `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string `mapstructure:"cors_allowed_headers"`
	CORSExposeHeaders    []string `mapstructure:"cors_expose_headers"`
	CORSAllowCredentials bool     `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           int      `mapstructure:"cors_max_age"`
}

// PagingConfig controls result windows.
type PagingConfig struct {
	// ServerDriven enables continuation tokens. Without it $skiptoken is rejected.
	ServerDriven    bool `mapstructure:"server_driven"`
	DefaultPageSize int  `mapstructure:"default_page_size"`
	MaxPageSize     int  `mapstructure:"max_page_size"`
	// DefaultTop applies when no $top is given and server-driven paging is off.
	DefaultTop int `mapstructure:"default_top"`
	// MaxTop caps $top. Zero means no cap.
	MaxTop   int           `mapstructure:"max_top"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// OperationsConfig locates the operation catalog.
type OperationsConfig struct {
	CatalogFile string `mapstructure:"catalog_file"`
	Namespace   string `mapstructure:"namespace"`
}

// ObservabilityConfig holds metrics, tracing, and logging settings.
type ObservabilityConfig struct {
	ServiceName         string        `mapstructure:"service_name"`
	ServiceVersion      string        `mapstructure:"service_version"`
	Environment         string        `mapstructure:"environment"`
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	TracingEnabled      bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64       `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool          `mapstructure:"sqlcommenter_enabled"`
	Logging             LoggingConfig `mapstructure:"logging"`
	OTLP                OTLPConfig    `mapstructure:"otlp"`
}

type LoggingConfig struct {
	Level          string `mapstructure:"level"`
	Format         string `mapstructure:"format"`
	ExportsEnabled bool   `mapstructure:"exports_enabled"`
}

// OTLPConfig is shared by trace and log exports.
type OTLPConfig struct {
	Endpoint    string            `mapstructure:"endpoint"`
	Protocol    string            `mapstructure:"protocol"`
	Insecure    bool              `mapstructure:"insecure"`
	CAFile      string            `mapstructure:"ca_file"`
	Headers     map[string]string `mapstructure:"headers"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	Compression string            `mapstructure:"compression"`
}
