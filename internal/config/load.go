package config

import (
	"errors"
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

// EnvPrefix prefixes every environment variable override, e.g. TAXONOMY_SERVER_PORT.
const EnvPrefix = "TAXONOMY"

// setting is one configuration key. The default's Go type selects the flag
// type. Keys marked noDefault stay unset unless configured, which keeps
// optional blocks such as observability.traces nil after decoding.
type setting struct {
	key       string
	value     any
	usage     string
	noDefault bool
}

var settings = []setting{
	{"database.dsn", "", "Complete MySQL DSN (user:pass@tcp(host:port)/db)", false},
	{"database.dsn_file", "", "Path to file containing database DSN (use @- for stdin)", false},
	{"database.host", "localhost", "Database host", false},
	{"database.port", 3306, "Database port", false},
	{"database.user", "taxonomy", "Database user", false},
	{"database.password", "", "Database password", false},
	{"database.password_file", "", "Path to file containing database password (use @- for stdin)", false},
	{"database.password_prompt", false, "Prompt for database password securely", false},
	{"database.database", defaultDatabaseName, "Database name", false},

	{"database.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)", false},
	{"database.tls.ca_file", "", "Path to CA certificate for server verification", false},
	{"database.tls.ca_file_env", "", "Env var containing CA certificate path", false},
	{"database.tls.cert_file", "", "Path to client certificate for mTLS", false},
	{"database.tls.key_file", "", "Path to client private key for mTLS", false},
	{"database.tls.server_name", "", "Override TLS server name for verification", false},

	{"database.pool.max_open", 25, "Maximum open database connections", false},
	{"database.pool.max_idle", 5, "Maximum idle connections in pool", false},
	{"database.pool.max_lifetime", 5 * time.Minute, "Connection max lifetime (e.g. 5m, 30s)", false},

	{"database.connection_timeout", 60 * time.Second, "Max time to wait for database on startup (0 = fail immediately)", false},
	{"database.connection_retry_interval", 2 * time.Second, "Initial interval between connection retries", false},
	{"database.apply_schema", false, "Create the taxonomy tables at startup if missing", false},
	{"database.seed", false, "Load the embedded taxonomy at startup", false},

	{"server.port", 8080, "HTTP server port", false},
	{"server.graphql_max_depth", 8, "Maximum GraphQL query depth limit", false},
	{"server.graphiql_enabled", false, "Enable GraphiQL UI for /graphql (dev only)", false},
	{"server.max_body_bytes", int64(1 << 20), "Maximum accepted GraphQL request body size", false},

	{"server.auth.oidc_enabled", false, "Enable bearer token authentication", false},
	{"server.auth.oidc_issuer_url", "", "OIDC issuer URL (for discovery and JWKS)", false},
	{"server.auth.oidc_audience", "", "Expected JWT audience (client ID)", false},
	{"server.auth.oidc_clock_skew", 2 * time.Minute, "Allowed JWT clock skew (e.g. 2m)", false},
	{"server.auth.oidc_ca_file", "", "Extra CA bundle for the OIDC issuer", false},
	{"server.auth.oidc_skip_tls_verify", false, "Skip TLS verification for OIDC provider (dev only)", false},
	{"server.auth.jwt_public_key_file", "", "Verify tokens with this RSA public key instead of OIDC discovery", false},
	{"server.auth.allow_anonymous", false, "Allow unauthenticated read-only requests", false},
	{"server.auth.admin_claim", "admin", "JWT claim marking administrators (default: admin)", false},
	{"server.auth.org_permissions_claim", "org_permissions", "JWT claim holding per-organization permissions (default: org_permissions)", false},

	{"server.admin.seed_enabled", false, "Enable POST /admin/seed", false},
	{"server.admin.auth_token", "", "Shared secret required in X-Admin-Token header for admin endpoints", false},
	{"server.admin.auth_token_file", "", "Path to file containing admin auth token (use @- for stdin)", false},

	{"server.rate_limit_enabled", false, "Enable rate limiting for all HTTP endpoints", false},
	{"server.rate_limit_rps", 0.0, "Rate limit requests per second", false},
	{"server.rate_limit_burst", 0, "Rate limit burst size", false},
	{"server.rate_limit_per_client", true, "Apply the rate limit per client address", false},
	{"server.cors_enabled", false, "Enable CORS (Cross-Origin Resource Sharing)", false},
	{"server.cors_allowed_origins", []string{}, "Allowed CORS origins (comma-separated or repeated)", false},
	{"server.cors_allowed_methods", []string{"GET", "POST", "OPTIONS"}, "Allowed CORS methods (comma-separated or repeated)", false},
	{"server.cors_allowed_headers", []string{"Content-Type", "Authorization", "X-Request-ID"}, "Allowed CORS headers (comma-separated or repeated)", false},
	{"server.cors_expose_headers", []string{}, "CORS headers to expose to browser (comma-separated or repeated)", false},
	{"server.cors_allow_credentials", false, "Allow credentials in CORS requests", false},
	{"server.cors_max_age", 86400, "CORS preflight cache duration (seconds)", false},
	{"server.read_timeout", 15 * time.Second, "HTTP server read timeout", false},
	{"server.write_timeout", 15 * time.Second, "HTTP server write timeout", false},
	{"server.idle_timeout", 60 * time.Second, "HTTP server idle timeout", false},
	{"server.shutdown_timeout", 30 * time.Second, "HTTP server graceful shutdown timeout", false},
	{"server.health_check_timeout", 2 * time.Second, "Health check timeout", false},

	{"pagination.default_page_size", 10, "Page size when directionArgs.count is omitted", false},
	{"pagination.max_page_size", 50, "Largest accepted directionArgs.count", false},
	{"pagination.max_filter_depth", 0, "Maximum nested filter depth (0 = unlimited)", false},

	{"mutation.min_input_array_size", 1, "Smallest accepted mutation input list", false},
	{"mutation.max_input_array_size", 50, "Largest accepted mutation input list", false},

	{"observability.service_name", "taxonomy-graphql", "Service name for observability", false},
	{"observability.service_version", "", "Service version for observability", false},
	{"observability.environment", "development", "Environment name (dev, staging, prod)", false},
	{"observability.metrics_enabled", true, "Enable metrics collection", false},
	{"observability.tracing_enabled", false, "Enable distributed tracing", false},
	{"observability.trace_sample_ratio", 1.0, "Trace sampling ratio from 0.0 to 1.0", false},
	{"observability.sqlcommenter_enabled", true, "Inject trace context into SQL queries", false},

	{"observability.logging.level", "info", "Log level (debug, info, warn, error)", false},
	{"observability.logging.format", "json", "Log format (json, text)", false},
	{"observability.logging.exports_enabled", false, "Enable OTLP log export", false},

	{"observability.otlp.endpoint", "localhost:4317", "OTLP endpoint for all signals (e.g., localhost:4317)", false},
	{"observability.otlp.protocol", "grpc", "OTLP protocol for all signals (grpc, http/protobuf)", false},
	{"observability.otlp.insecure", false, "Use insecure connection (no TLS)", false},
	{"observability.otlp.tls_cert_file", "", "Path to TLS certificate file for server verification", false},
	{"observability.otlp.tls_client_cert_file", "", "Path to client certificate file for mTLS", false},
	{"observability.otlp.tls_client_key_file", "", "Path to client key file for mTLS", false},
	{"observability.otlp.timeout", 10 * time.Second, "OTLP export timeout", false},
	{"observability.otlp.compression", "gzip", "OTLP compression (none, gzip)", false},
	{"observability.otlp.retry_enabled", true, "Enable retry on transient errors", false},

	{"observability.traces.endpoint", "", "OTLP endpoint for traces only", true},
	{"observability.traces.protocol", "", "OTLP protocol for traces (grpc, http/protobuf)", true},
	{"observability.traces.insecure", false, "Use insecure connection for traces", true},
	{"observability.traces.timeout", time.Duration(0), "Timeout for trace exports", true},

	{"observability.logs.endpoint", "", "OTLP endpoint for logs only", true},
	{"observability.logs.protocol", "", "OTLP protocol for logs (grpc, http/protobuf)", true},
	{"observability.logs.insecure", false, "Use insecure connection for logs", true},
	{"observability.logs.timeout", time.Duration(0), "Timeout for log exports", true},
}

// secretSource fills key from the file named by fileKey when key is empty.
type secretSource struct {
	key      string
	fileKey  string
	label    string
	nonEmpty bool
}

var secretSources = []secretSource{
	{key: "database.dsn", fileKey: "database.dsn_file", label: "database DSN"},
	{key: "database.password", fileKey: "database.password_file", label: "database password"},
	{key: "server.admin.auth_token", fileKey: "server.admin.auth_token_file", label: "admin auth token", nonEmpty: true},
}

var (
	defineFlagsOnce sync.Once
	settingIndex    = indexSettings()
)

func indexSettings() map[string]setting {
	idx := make(map[string]setting, len(settings))
	for _, s := range settings {
		idx[s.key] = s
	}
	return idx
}

// Load reads configuration. Later sources win: defaults, the config file,
// TAXONOMY_* environment variables, then flags given on the command line.
// Secrets read from files or the terminal fill only keys left empty.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	defineFlags()
	if !pflag.Parsed() {
		pflag.Parse()
	}

	cfgPath, _ := pflag.CommandLine.GetString("config")
	if err := readConfigFile(v, cfgPath); err != nil {
		return nil, err
	}

	// database.pool.max_open reads TAXONOMY_DATABASE_POOL_MAX_OPEN.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	applyChangedFlags(v, pflag.CommandLine)
	return resolve(v)
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %q: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("taxonomy-graphql")
	for _, dir := range []string{"/etc/taxonomy-graphql/", "$HOME/.taxonomy-graphql", "."} {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// resolve expands secret references and decodes v into a Config.
func resolve(v *viper.Viper) (*Config, error) {
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}

	for _, src := range secretSources {
		if err := src.apply(v); err != nil {
			return nil, err
		}
	}
	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	if err := applyDSNDatabase(v); err != nil {
		return nil, err
	}
	return decode(v)
}

func (s secretSource) apply(v *viper.Viper) error {
	path := v.GetString(s.fileKey)
	if v.GetString(s.key) != "" || path == "" {
		return nil
	}
	secret, err := readSecretFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s file: %w", s.label, err)
	}
	if s.nonEmpty && secret == "" {
		return fmt.Errorf("%s file %q is empty", s.label, path)
	}
	v.Set(s.key, secret)
	return nil
}

// applyDSNDatabase lets a DSN naming its own database replace the default name.
func applyDSNDatabase(v *viper.Viper) error {
	dsn := strings.TrimSpace(v.GetString("database.dsn"))
	if dsn == "" {
		return nil
	}
	if current := strings.TrimSpace(v.GetString("database.database")); current != "" && current != defaultDatabaseName {
		return nil
	}
	name, err := parseDSNDatabaseName(dsn)
	if err != nil {
		return err
	}
	if name != "" {
		v.Set("database.database", name)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		stringToStringSliceHookFunc(","),
	))
	if err := v.UnmarshalExact(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// applyChangedFlags copies only flags the user set, so unset flags never
// shadow environment or file values.
func applyChangedFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		s, ok := settingIndex[f.Name]
		if !ok {
			return
		}
		var (
			val any
			err error
		)
		switch s.value.(type) {
		case string:
			val, err = fs.GetString(f.Name)
		case int:
			val, err = fs.GetInt(f.Name)
		case int64:
			val, err = fs.GetInt64(f.Name)
		case bool:
			val, err = fs.GetBool(f.Name)
		case float64:
			val, err = fs.GetFloat64(f.Name)
		case time.Duration:
			val, err = fs.GetDuration(f.Name)
		case []string:
			val, err = fs.GetStringSlice(f.Name)
		default:
			val = f.Value.String()
		}
		if err == nil {
			v.Set(f.Name, val)
		}
	})
}

// defineFlags registers one flag per setting on the global flag set. Flag
// defaults are zero values; real defaults live in viper.
func defineFlags() {
	defineFlagsOnce.Do(func() {
		registerFlags(pflag.CommandLine)
	})
}

func registerFlags(fs *pflag.FlagSet) {
	for _, s := range settings {
		switch s.value.(type) {
		case string:
			fs.String(s.key, "", s.usage)
		case int:
			fs.Int(s.key, 0, s.usage)
		case int64:
			fs.Int64(s.key, 0, s.usage)
		case bool:
			fs.Bool(s.key, false, s.usage)
		case float64:
			fs.Float64(s.key, 0, s.usage)
		case time.Duration:
			fs.Duration(s.key, 0, s.usage)
		case []string:
			fs.StringSlice(s.key, nil, s.usage)
		default:
			panic(fmt.Sprintf("config: unsupported setting type %T for %s", s.value, s.key))
		}
	}
	fs.StringP("config", "c", "", "Config file path")
}

func setDefaults(v *viper.Viper) {
	for _, s := range settings {
		if !s.noDefault {
			v.SetDefault(s.key, s.value)
		}
	}
}

func promptPassword() (string, error) {
	fmt.Print("Enter database password: ")
	pwd, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

// readSecretFile reads a trimmed secret from path, or from stdin for "@-".
func readSecretFile(path string) (string, error) {
	var (
		data []byte
		err  error
	)
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

// validateSingleStdinFileSource rejects configurations that would read more
// than one secret from stdin.
func validateSingleStdinFileSource(v *viper.Viper) error {
	var fromStdin []string
	for _, src := range secretSources {
		if strings.TrimSpace(v.GetString(src.fileKey)) == "@-" {
			fromStdin = append(fromStdin, src.fileKey)
		}
	}
	if len(fromStdin) > 1 {
		return fmt.Errorf("multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(fromStdin, ", "))
	}
	return nil
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
