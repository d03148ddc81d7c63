package config

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes every environment variable, e.g. TIODATA_DATABASE_HOST.
const EnvPrefix = "TIODATA"

var defineFlagsOnce sync.Once

// Load loads configuration with the following precedence:
// 1. Explicit overrides (v.Set) used for password files and the interactive prompt
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
func Load() (*Config, error) {
	defineFlags()
	if !pflag.Parsed() {
		pflag.Parse()
	}
	cfgPath, _ := pflag.CommandLine.GetString("config")
	return load(cfgPath, promptPassword)
}

func load(cfgPath string, prompt func() (string, error)) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("tidb-odata")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/tidb-odata/")
		v.AddConfigPath("$HOME/.tidb-odata")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlagsToViper(v)

	if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
		pwd, err := readSecretFile(v.GetString("database.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set("database.password", pwd)
	}
	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := prompt()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// cliOnlyFlags are command line switches that are not configuration keys.
var cliOnlyFlags = map[string]bool{"config": true, "version": true, "check-config": true}

// bindChangedFlagsToViper copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(v *viper.Viper) {
	pflag.CommandLine.Visit(func(f *pflag.Flag) {
		if cliOnlyFlags[f.Name] {
			return
		}
		switch f.Value.Type() {
		case "int":
			val, _ := pflag.CommandLine.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := pflag.CommandLine.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := pflag.CommandLine.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := pflag.CommandLine.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := pflag.CommandLine.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// setting is one configuration key with its default. A non-empty usage also
// exposes the key as a command line flag.
type setting struct {
	key   string
	def   any
	usage string
}

var settings = []setting{
	{"database.dsn", "", "Complete MySQL DSN (user:pass@tcp(host:port)/db)"},
	{"database.host", "localhost", "Database host"},
	{"database.port", 4000, "Database port"},
	{"database.user", "root", "Database user"},
	{"database.password", "", "Database password"},
	{"database.password_file", "", "Path to file containing database password (use @- for stdin)"},
	{"database.password_prompt", false, "Prompt for database password securely"},
	{"database.database", "", "Database (schema) to expose"},
	{"database.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)"},
	{"database.tls.ca_file", "", "Path to CA certificate for server verification"},
	{"database.tls.cert_file", "", "Path to client certificate for mTLS"},
	{"database.tls.key_file", "", "Path to client private key for mTLS"},
	{"database.tls.server_name", "", "Override TLS server name for verification"},
	{"database.pool.max_open", 25, "Maximum open database connections"},
	{"database.pool.max_idle", 5, "Maximum idle connections in pool"},
	{"database.pool.max_lifetime", 5 * time.Minute, "Connection max lifetime (e.g. 5m, 30s)"},
	{"database.connection_timeout", 60 * time.Second, "Max time to wait for database on startup (0 = fail immediately)"},
	{"database.connection_retry_interval", 2 * time.Second, "Initial interval between connection retries"},

	{"server.port", 8080, "HTTP server port"},
	{"server.base_path", "/odata", "Service root path"},
	{"server.read_timeout", 15 * time.Second, "HTTP server read timeout"},
	{"server.write_timeout", 30 * time.Second, "HTTP server write timeout"},
	{"server.idle_timeout", 60 * time.Second, "HTTP server idle timeout"},
	{"server.shutdown_timeout", 30 * time.Second, "HTTP server graceful shutdown timeout"},
	{"server.health_check_timeout", 2 * time.Second, "Health check timeout"},
	{"server.cors_enabled", false, "Enable CORS (Cross-Origin Resource Sharing)"},
	{"server.cors_allowed_origins", []string{}, "Allowed CORS origins; https://*.example.com matches subdomains"},
	{"server.cors_allowed_methods", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}, ""},
	{"server.cors_allowed_headers", []string{"Authorization"}, ""},
	{"server.cors_expose_headers", []string{}, ""},
	{"server.cors_allow_credentials", false, ""},
	{"server.cors_max_age", 86400, ""},

	{"paging.server_driven", false, "Enable server-driven paging with $skiptoken continuation tokens"},
	{"paging.default_page_size", 100, "Page size when the client sends no odata.maxpagesize preference"},
	{"paging.max_page_size", 1000, "Upper bound for odata.maxpagesize"},
	{"paging.default_top", 100, "Default $top when server-driven paging is off"},
	{"paging.max_top", 0, "Maximum $top (0 = unlimited)"},
	{"paging.token_ttl", 10 * time.Minute, "Lifetime of continuation tokens"},

	{"operations.catalog_file", "", "YAML file declaring functions and actions"},
	{"operations.namespace", "TiDB", "Schema namespace for entity types and operations"},

	{"naming.plural_overrides", map[string]string{}, ""},
	{"naming.singular_overrides", map[string]string{}, ""},

	{"observability.service_name", "tidb-odata", "Service name for observability"},
	{"observability.service_version", "", "Service version for observability"},
	{"observability.environment", "development", "Environment name (dev, staging, prod)"},
	{"observability.metrics_enabled", true, "Enable metrics collection"},
	{"observability.tracing_enabled", false, "Enable distributed tracing"},
	{"observability.trace_sample_ratio", 1.0, "Trace sampling ratio from 0.0 to 1.0"},
	{"observability.sqlcommenter_enabled", true, "Inject trace context into SQL queries"},
	{"observability.logging.level", "info", "Log level (debug, info, warn, error)"},
	{"observability.logging.format", "json", "Log format (json, text)"},
	{"observability.logging.exports_enabled", false, "Enable OTLP log export"},
	{"observability.otlp.endpoint", "localhost:4317", "OTLP endpoint (e.g., localhost:4317)"},
	{"observability.otlp.protocol", "grpc", "OTLP protocol (grpc, http/protobuf)"},
	{"observability.otlp.insecure", false, "Use insecure OTLP connection (no TLS)"},
	{"observability.otlp.ca_file", "", "CA certificate for the OTLP collector"},
	{"observability.otlp.headers", map[string]string{}, ""},
	{"observability.otlp.timeout", 10 * time.Second, "OTLP export timeout"},
	{"observability.otlp.compression", "gzip", "OTLP compression (none, gzip)"},
}

// defineFlags registers a flag for every setting with a usage string. Flag
// defaults are zero values; the real defaults live in Viper so that only
// explicitly set flags override env and file values.
func defineFlags() {
	defineFlagsOnce.Do(func() {
		for _, s := range settings {
			if s.usage == "" {
				continue
			}
			switch s.def.(type) {
			case string:
				pflag.String(s.key, "", s.usage)
			case int:
				pflag.Int(s.key, 0, s.usage)
			case bool:
				pflag.Bool(s.key, false, s.usage)
			case float64:
				pflag.Float64(s.key, 0, s.usage)
			case time.Duration:
				pflag.Duration(s.key, 0, s.usage)
			case []string:
				pflag.StringSlice(s.key, nil, s.usage)
			}
		}
		pflag.StringP("config", "c", "", "Config file path")
	})
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
	}
}

// promptPassword prompts for a password without echoing to the terminal.
func promptPassword() (string, error) {
	fmt.Print("Enter database password: ")
	pwd, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

// readSecretFile reads a trimmed secret. "@-" reads stdin.
func readSecretFile(path string) (string, error) {
	var data []byte
	var err error
	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
