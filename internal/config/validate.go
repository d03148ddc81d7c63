package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"

	"tidb-odata/internal/naming"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) warn(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration and returns fatal errors and warnings.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Server.validate(result)
	c.Paging.validate(result)
	c.Operations.validate(result)
	validateNamingConfig(result, c.Naming)
	c.Observability.validate(result)
	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	if d.ConnectionString != "" {
		parsed, err := mysql.ParseDSN(d.ConnectionString)
		if err != nil {
			result.fail("database.dsn", fmt.Sprintf("invalid DSN: %v", err), "use the user:pass@tcp(host:port)/db form")
			return
		}
		if d.Database != "" && parsed.DBName != "" && parsed.DBName != d.Database {
			result.fail("database.database",
				fmt.Sprintf("database mismatch: database.database=%q but database.dsn targets %q", d.Database, parsed.DBName),
				"either remove database.database or set it to match the DSN")
		}
	} else {
		if d.Host == "" {
			result.fail("database.host", "host is required when database.dsn is not set", "")
		}
		if d.Port < 1 || d.Port > 65535 {
			result.fail("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
		}
	}
	if d.DatabaseName() == "" {
		result.fail("database.database", "no database configured", "set database.database or include /<database> in database.dsn")
	}

	d.TLS.validate(result)

	if d.Pool.MaxOpen < 0 {
		result.fail("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.fail("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.warn("database.pool.max_idle", "max_idle is greater than max_open", "idle connections will be limited to max_open")
	}

	if d.ConnectionTimeout < 0 {
		result.fail("database.connection_timeout", "connection_timeout cannot be negative", "")
	}
	if d.ConnectionRetryInterval < 0 {
		result.fail("database.connection_retry_interval", "connection_retry_interval cannot be negative", "")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.fail("database.connection_retry_interval",
			"connection_retry_interval must be greater than 0 when connection_timeout is set",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.warn("database.connection_retry_interval", "connection_retry_interval is greater than connection_timeout", "only one connection attempt will be made")
	}
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	switch t.Mode {
	case "", "off", "verify-ca", "verify-full":
	case "skip-verify":
		result.warn("database.tls.mode", "skip-verify mode does not verify server certificates", "use verify-ca or verify-full in production")
	default:
		result.fail("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", t.Mode), "valid values are: off, skip-verify, verify-ca, verify-full")
	}
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.fail("database.tls.ca_file", "CA file is required for verify-ca and verify-full modes", "")
	}
	if (t.CertFile == "") != (t.KeyFile == "") {
		result.fail("database.tls.cert_file",
			"both cert_file and key_file must be specified for client certificate authentication",
			"provide both cert_file and key_file, or neither")
	}
}

func (s *ServerConfig) validate(result *ValidationResult) {
	if s.Port < 1 || s.Port > 65535 {
		result.fail("server.port", fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port), "")
	}
	if !strings.HasPrefix(s.BasePath, "/") || (len(s.BasePath) > 1 && strings.HasSuffix(s.BasePath, "/")) {
		result.fail("server.base_path", fmt.Sprintf("invalid base path %q", s.BasePath), "use an absolute path without a trailing slash, e.g. /odata")
	}
	for field, d := range map[string]int64{
		"server.read_timeout":         int64(s.ReadTimeout),
		"server.write_timeout":        int64(s.WriteTimeout),
		"server.idle_timeout":         int64(s.IdleTimeout),
		"server.shutdown_timeout":     int64(s.ShutdownTimeout),
		"server.health_check_timeout": int64(s.HealthCheckTimeout),
	} {
		if d < 0 {
			result.fail(field, "timeout cannot be negative", "")
		}
	}
	if s.CORSEnabled && len(s.CORSAllowedOrigins) == 0 {
		result.warn("server.cors_allowed_origins", "CORS is enabled but no origins are allowed", "set server.cors_allowed_origins")
	}
	if s.CORSAllowCredentials {
		for _, origin := range s.CORSAllowedOrigins {
			if origin == "*" {
				result.fail("server.cors_allow_credentials", "credentials cannot be allowed with a wildcard origin", "list explicit origins")
				break
			}
		}
	}
}

func (p *PagingConfig) validate(result *ValidationResult) {
	if p.DefaultTop < 0 {
		result.fail("paging.default_top", "default_top cannot be negative", "")
	}
	if p.MaxTop < 0 {
		result.fail("paging.max_top", "max_top cannot be negative", "")
	}
	if p.MaxTop > 0 && p.DefaultTop > p.MaxTop {
		result.warn("paging.default_top", "default_top is greater than max_top", "the default will be capped at max_top")
	}
	if !p.ServerDriven {
		return
	}
	if p.DefaultPageSize <= 0 {
		result.fail("paging.default_page_size", "default_page_size must be greater than 0 when server-driven paging is enabled", "")
	}
	if p.MaxPageSize < p.DefaultPageSize {
		result.fail("paging.max_page_size", "max_page_size cannot be smaller than default_page_size", "")
	}
	if p.TokenTTL <= 0 {
		result.fail("paging.token_ttl", "token_ttl must be greater than 0 when server-driven paging is enabled", "e.g. 10m")
	}
}

func (o *OperationsConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(o.Namespace) == "" {
		result.fail("operations.namespace", "namespace cannot be empty", "")
	} else if strings.ContainsAny(o.Namespace, " /()") {
		result.fail("operations.namespace", fmt.Sprintf("invalid namespace %q", o.Namespace), "use a dotted identifier such as TiDB or Acme.Sales")
	}
	if o.CatalogFile == "" {
		return
	}
	if _, err := os.Stat(o.CatalogFile); err != nil {
		result.fail("operations.catalog_file", fmt.Sprintf("catalog file is not readable: %v", err), "")
	}
}

func validateNamingConfig(result *ValidationResult, cfg naming.Config) {
	for singular, plural := range cfg.PluralOverrides {
		if strings.TrimSpace(singular) == "" || strings.TrimSpace(plural) == "" {
			result.fail("naming.plural_overrides", "override keys and values cannot be empty", "")
		}
	}
	for plural, singular := range cfg.SingularOverrides {
		if strings.TrimSpace(plural) == "" || strings.TrimSpace(singular) == "" {
			result.fail("naming.singular_overrides", "override keys and values cannot be empty", "")
		}
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.fail("observability.trace_sample_ratio", fmt.Sprintf("trace_sample_ratio %v is out of range", o.TraceSampleRatio), "use a value between 0.0 and 1.0")
	}
	switch o.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		result.fail("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level), "valid values are: debug, info, warn, error")
	}
	switch o.Logging.Format {
	case "json", "text":
	default:
		result.fail("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format), "valid values are: json, text")
	}
	if !o.TracingEnabled && !o.Logging.ExportsEnabled {
		return
	}
	if o.OTLP.Endpoint == "" {
		result.fail("observability.otlp.endpoint", "OTLP endpoint is required when tracing or log export is enabled", "")
	}
	switch strings.ToLower(o.OTLP.Protocol) {
	case "", "grpc", "http", "http/protobuf":
	default:
		result.fail("observability.otlp.protocol", fmt.Sprintf("invalid OTLP protocol %q", o.OTLP.Protocol), "valid values are: grpc, http/protobuf")
	}
	switch o.OTLP.Compression {
	case "", "none", "gzip":
	default:
		result.fail("observability.otlp.compression", fmt.Sprintf("invalid OTLP compression %q", o.OTLP.Compression), "valid values are: none, gzip")
	}
	if o.OTLP.Insecure {
		result.warn("observability.otlp.insecure", "OTLP export is not encrypted", "configure TLS for production collectors")
	}
}
