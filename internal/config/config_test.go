package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "basic DSN",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     4000,
				User:     "root",
				Password: "password",
				Database: "taxonomy",
			},
			expected: "root:password@tcp(localhost:4000)/taxonomy?parseTime=true",
		},
		{
			name: "with special characters in password",
			config: DatabaseConfig{
				Host:     "db.example.com",
				Port:     3306,
				User:     "admin",
				Password: "p@ss:w0rd!",
				Database: "mydb",
			},
			expected: "admin:p@ss:w0rd!@tcp(db.example.com:3306)/mydb?parseTime=true",
		},
		{
			name: "empty password",
			config: DatabaseConfig{
				Host:     "localhost",
				Port:     4000,
				User:     "root",
				Database: "taxonomy",
			},
			expected: "root@tcp(localhost:4000)/taxonomy?parseTime=true",
		},
		{
			name: "connection string gains parse time and location",
			config: DatabaseConfig{
				ConnectionString: "root:pw@tcp(db:4000)/taxonomy",
			},
			expected: "root:pw@tcp(db:4000)/taxonomy?parseTime=true&loc=UTC",
		},
		{
			name: "connection string keeps existing params",
			config: DatabaseConfig{
				ConnectionString: "root:pw@tcp(db:4000)/taxonomy?parseTime=true&loc=Local",
				TLS:              DatabaseTLSConfig{Mode: "skip-verify"},
			},
			expected: "root:pw@tcp(db:4000)/taxonomy?parseTime=true&loc=Local&tls=skip-verify",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestDatabaseConfig_DSNAppliesTLSMode(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: 4000, User: "u", Database: "taxonomy"}

	cfg.TLS.Mode = "off"
	assert.Contains(t, cfg.DSN(), "tls=false")

	cfg.TLS.Mode = "verify-full"
	assert.Contains(t, cfg.DSN(), "tls="+tlsConfigName)

	cfg.TLS.Mode = ""
	assert.NotContains(t, cfg.DSN(), "tls=")
}

func TestEffectiveDatabaseName(t *testing.T) {
	tests := []struct {
		name       string
		database   string
		dsn        string
		wantName   string
		wantSource string
		wantErr    string
	}{
		{name: "explicit", database: "taxonomy", wantName: "taxonomy", wantSource: "database.database"},
		{name: "from dsn", dsn: "u:p@tcp(db:4000)/catalog", wantName: "catalog", wantSource: "dsn"},
		{name: "matching", database: "catalog", dsn: "u:p@tcp(db:4000)/catalog", wantName: "catalog", wantSource: "database.database"},
		{name: "mismatch", database: "taxonomy", dsn: "u:p@tcp(db:4000)/catalog", wantErr: "mismatch"},
		{name: "missing", wantErr: "no effective database name"},
		{name: "invalid dsn", dsn: "not a dsn", wantErr: "database.dsn is invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DatabaseConfig{Database: tt.database, ConnectionString: tt.dsn}
			name, source, err := cfg.EffectiveDatabaseName()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestDatabaseConfig_RegisterTLSNoopWithoutVerification(t *testing.T) {
	for _, mode := range []string{"", "off", "skip-verify"} {
		cfg := DatabaseConfig{TLS: DatabaseTLSConfig{Mode: mode}}
		assert.NoError(t, cfg.RegisterTLS(), mode)
	}
}

func TestDatabaseConfig_RegisterTLSMissingCA(t *testing.T) {
	cfg := DatabaseConfig{TLS: DatabaseTLSConfig{Mode: "verify-full", CAFile: "/nonexistent/ca.pem"}}
	err := cfg.RegisterTLS()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read CA file")
}

func TestMergeOTLPConfigs(t *testing.T) {
	obs := ObservabilityConfig{
		OTLP: OTLPConfig{
			Endpoint:    "collector:4317",
			Protocol:    "grpc",
			Headers:     map[string]string{"x-team": "taxonomy", "x-env": "dev"},
			Timeout:     10 * time.Second,
			Compression: "gzip",
		},
		Traces: &OTLPConfig{
			Endpoint: "tempo:4318",
			Protocol: "http/protobuf",
			Insecure: true,
			Headers:  map[string]string{"x-env": "prod"},
		},
	}

	traces := obs.GetTracesConfig()
	assert.Equal(t, "tempo:4318", traces.Endpoint)
	assert.Equal(t, "http/protobuf", traces.Protocol)
	assert.True(t, traces.Insecure)
	assert.Equal(t, map[string]string{"x-team": "taxonomy", "x-env": "prod"}, traces.Headers)
	assert.Equal(t, 10*time.Second, traces.Timeout)
	assert.Equal(t, "gzip", traces.Compression)

	logs := obs.GetLogsConfig()
	assert.Equal(t, obs.OTLP, logs)
}

func validConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:                    "localhost",
			Port:                    4000,
			User:                    "root",
			Database:                "taxonomy",
			TLS:                     DatabaseTLSConfig{Mode: "off"},
			Pool:                    PoolConfig{MaxOpen: 25, MaxIdle: 5},
			ConnectionTimeout:       time.Minute,
			ConnectionRetryInterval: 2 * time.Second,
		},
		Server: ServerConfig{
			Port: 8080,
			Auth: AuthConfig{
				OIDCEnabled:         true,
				OIDCIssuerURL:       "https://issuer.example.com",
				OIDCAudience:        "taxonomy-graphql",
				AdminClaim:          "admin",
				OrgPermissionsClaim: "org_permissions",
			},
		},
		Pagination: PaginationConfig{DefaultPageSize: 10, MaxPageSize: 50},
		Mutation:   MutationConfig{MinInputArraySize: 1, MaxInputArraySize: 50},
		Observability: ObservabilityConfig{
			TraceSampleRatio: 1,
			Logging:          LoggingConfig{Level: "info", Format: "json"},
			OTLP:             OTLPConfig{Protocol: "grpc", Compression: "gzip"},
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		wantErrors  []string
		wantWarning string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:       "database port out of range",
			mutate:     func(c *Config) { c.Database.Port = 70000 },
			wantErrors: []string{"database.port"},
		},
		{
			name:       "dsn skips port check",
			mutate:     func(c *Config) { c.Database.Port = 0; c.Database.ConnectionString = "u:p@tcp(db:4000)/taxonomy" },
			wantErrors: nil,
		},
		{
			name:       "invalid tls mode",
			mutate:     func(c *Config) { c.Database.TLS.Mode = "sometimes" },
			wantErrors: []string{"database.tls.mode"},
		},
		{
			name:       "verify-full needs a CA",
			mutate:     func(c *Config) { c.Database.TLS.Mode = "verify-full" },
			wantErrors: []string{"database.tls.ca_file"},
		},
		{
			name:       "client cert without key",
			mutate:     func(c *Config) { c.Database.TLS.CertFile = "client.pem" },
			wantErrors: []string{"database.tls.cert_file"},
		},
		{
			name:        "skip-verify warns",
			mutate:      func(c *Config) { c.Database.TLS.Mode = "skip-verify" },
			wantWarning: "database.tls.mode",
		},
		{
			name:        "idle above open warns",
			mutate:      func(c *Config) { c.Database.Pool.MaxIdle = 30 },
			wantWarning: "database.pool.max_idle",
		},
		{
			name:       "retry interval required with timeout",
			mutate:     func(c *Config) { c.Database.ConnectionRetryInterval = 0 },
			wantErrors: []string{"database.connection_retry_interval"},
		},
		{
			name:        "seed without schema warns",
			mutate:      func(c *Config) { c.Database.Seed = true },
			wantWarning: "database.seed",
		},
		{
			name:       "server port",
			mutate:     func(c *Config) { c.Server.Port = 0 },
			wantErrors: []string{"server.port"},
		},
		{
			name: "rate limit needs rps and burst",
			mutate: func(c *Config) {
				c.Server.RateLimitEnabled = true
			},
			wantErrors: []string{"server.rate_limit_rps", "server.rate_limit_burst"},
		},
		{
			name:        "rate limit values without enabling warn",
			mutate:      func(c *Config) { c.Server.RateLimitRPS = 5 },
			wantWarning: "server.rate_limit_enabled",
		},
		{
			name: "cors wildcard with credentials",
			mutate: func(c *Config) {
				c.Server.CORSEnabled = true
				c.Server.CORSAllowedOrigins = []string{"*"}
				c.Server.CORSAllowCredentials = true
			},
			wantErrors: []string{"server.cors_allowed_origins"},
		},
		{
			name:       "cors without origins",
			mutate:     func(c *Config) { c.Server.CORSEnabled = true },
			wantErrors: []string{"server.cors_allowed_origins"},
		},
		{
			name: "oidc needs issuer and audience",
			mutate: func(c *Config) {
				c.Server.Auth.OIDCIssuerURL = ""
				c.Server.Auth.OIDCAudience = ""
			},
			wantErrors: []string{"server.auth.oidc_issuer_url", "server.auth.oidc_audience"},
		},
		{
			name:       "oidc issuer must be https",
			mutate:     func(c *Config) { c.Server.Auth.OIDCIssuerURL = "http://issuer.example.com" },
			wantErrors: []string{"server.auth.oidc_issuer_url"},
		},
		{
			name: "public key replaces issuer discovery",
			mutate: func(c *Config) {
				c.Server.Auth.OIDCIssuerURL = ""
				c.Server.Auth.OIDCAudience = ""
				c.Server.Auth.JWTPublicKeyFile = "/etc/taxonomy/jwt.pub"
			},
		},
		{
			name:        "auth disabled warns",
			mutate:      func(c *Config) { c.Server.Auth.OIDCEnabled = false },
			wantWarning: "server.auth.oidc_enabled",
		},
		{
			name:       "empty claim names",
			mutate:     func(c *Config) { c.Server.Auth.AdminClaim = " " },
			wantErrors: []string{"server.auth.admin_claim"},
		},
		{
			name:       "seed endpoint requires a token",
			mutate:     func(c *Config) { c.Server.Admin.SeedEnabled = true },
			wantErrors: []string{"server.admin.auth_token"},
		},
		{
			name:       "default page size above max",
			mutate:     func(c *Config) { c.Pagination.DefaultPageSize = 60 },
			wantErrors: []string{"pagination.default_page_size"},
		},
		{
			name:       "negative filter depth",
			mutate:     func(c *Config) { c.Pagination.MaxFilterDepth = -1 },
			wantErrors: []string{"pagination.max_filter_depth"},
		},
		{
			name: "input bounds inverted",
			mutate: func(c *Config) {
				c.Mutation.MinInputArraySize = 10
				c.Mutation.MaxInputArraySize = 5
			},
			wantErrors: []string{"mutation.max_input_array_size"},
		},
		{
			name:       "log level",
			mutate:     func(c *Config) { c.Observability.Logging.Level = "verbose" },
			wantErrors: []string{"observability.logging.level"},
		},
		{
			name:       "sample ratio",
			mutate:     func(c *Config) { c.Observability.TraceSampleRatio = 2 },
			wantErrors: []string{"observability.trace_sample_ratio"},
		},
		{
			name: "http otlp endpoint",
			mutate: func(c *Config) {
				c.Observability.Traces = &OTLPConfig{Protocol: "http/protobuf", Endpoint: "not a host"}
			},
			wantErrors: []string{"observability.traces.endpoint"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			result := cfg.Validate()

			var fields []string
			for _, e := range result.Errors {
				fields = append(fields, e.Field)
			}
			if len(tt.wantErrors) == 0 {
				assert.False(t, result.HasErrors(), "unexpected errors: %s", result.Error())
			} else {
				assert.ElementsMatch(t, tt.wantErrors, fields)
			}

			if tt.wantWarning != "" {
				var warned bool
				for _, w := range result.Warnings {
					if w.Field == tt.wantWarning {
						warned = true
					}
				}
				assert.True(t, warned, "expected warning on %s, got %+v", tt.wantWarning, result.Warnings)
			}
		})
	}
}

func TestConfig_ValidateResolvesDatabaseFromDSN(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Database = ""
	cfg.Database.ConnectionString = "u:p@tcp(db:4000)/catalog"

	result := cfg.Validate()
	require.False(t, result.HasErrors(), result.Error())
	assert.Equal(t, "catalog", cfg.Database.Database)
}

func TestValidationResult_Error(t *testing.T) {
	result := &ValidationResult{}
	assert.Empty(t, result.Error())

	result.addError("server.port", "bad port", "")
	result.addError("database.port", "bad port", "use 4000")
	assert.Equal(t, "server.port: bad port; database.port: bad port (hint: use 4000)", result.Error())
}
