package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"taxonomy-graphql/internal/catalog"
	"taxonomy-graphql/internal/config"
	"taxonomy-graphql/internal/dbexec"
	"taxonomy-graphql/internal/logging"
	"taxonomy-graphql/internal/mutation"
	"taxonomy-graphql/internal/observability"
	"taxonomy-graphql/internal/planner"
	"taxonomy-graphql/internal/resolver"
	"taxonomy-graphql/internal/seed"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	"github.com/graphql-go/graphql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
		OTLPConfig:     exporterConfig(logsConfig),
	})
	if err != nil {
		return nil, nil, err
	}

	logger.Info("OpenTelemetry logging initialized successfully")

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func exporterConfig(c config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:          c.Endpoint,
		Protocol:          c.Protocol,
		Insecure:          c.Insecure,
		TLSCertFile:       c.TLSCertFile,
		TLSClientCertFile: c.TLSClientCertFile,
		TLSClientKeyFile:  c.TLSClientKeyFile,
		Headers:           c.Headers,
		Timeout:           c.Timeout,
		Compression:       c.Compression,
		RetryEnabled:      c.RetryEnabled,
	}
}

type telemetry struct {
	meterProvider   *observability.MeterProvider
	graphqlMetrics  *observability.GraphQLMetrics
	mutationMetrics *observability.MutationMetrics
	securityMetrics *observability.SecurityMetrics
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (telemetry, error) {
	if !cfg.Observability.MetricsEnabled {
		return telemetry{}, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
	)

	meterProvider, err := observability.InitMeterProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Environment:    cfg.Observability.Environment,
	})
	if err != nil {
		return telemetry{}, err
	}

	logger.Info("OpenTelemetry metrics initialized successfully")

	graphqlMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return telemetry{}, err
	}

	mutationMetrics, err := observability.InitMutationMetrics()
	if err != nil {
		return telemetry{}, err
	}

	securityMetrics, err := observability.InitSecurityMetrics()
	if err != nil {
		return telemetry{}, err
	}
	logger.Info("mutation and security metrics initialized")

	return telemetry{
		meterProvider:   meterProvider,
		graphqlMetrics:  graphqlMetrics,
		mutationMetrics: mutationMetrics,
		securityMetrics: securityMetrics,
	}, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
		slog.String("environment", cfg.Observability.Environment),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Bool("insecure", tracesConfig.Insecure),
	)

	tracerProvider, err := observability.InitTracerProvider(observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig:       exporterConfig(tracesConfig),
	})
	if err != nil {
		return nil, err
	}

	logger.Info("OpenTelemetry tracing initialized successfully")

	return tracerProvider, nil
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	dsn := cfg.Database.DSN()

	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, nil, err
		}
		return db, nil, nil
	}

	opts := []otelsql.Option{
		otelsql.WithAttributes(semconv.DBSystemMySQL),
	}
	if cfg.Observability.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
	}
	sqlCommenter := cfg.Observability.SQLCommenterEnabled && cfg.Observability.TracingEnabled
	if sqlCommenter {
		opts = append(opts, otelsql.WithSQLCommenter(true))
		logger.Info("SQLCommenter enabled - trace context will be injected into SQL queries")
	} else if cfg.Observability.SQLCommenterEnabled {
		logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	db, err := otelsql.Open("mysql", dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var dbStatsReg interface{ Unregister() error }
	if cfg.Observability.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(semconv.DBSystemMySQL))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}

	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", cfg.Observability.MetricsEnabled),
		slog.Bool("tracing", cfg.Observability.TracingEnabled),
		slog.Bool("sqlcommenter", sqlCommenter),
	)
	return db, dbStatsReg, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, effectiveDatabase string, databaseSource string, dsnPresent bool) error {
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("database_effective", effectiveDatabase),
		slog.String("database_source", databaseSource),
		slog.Bool("dsn_present", dsnPresent),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// maxRetryInterval caps the exponential backoff between connection attempts.
const maxRetryInterval = 30 * time.Second

func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db pinger) error {
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval

	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		attempt++
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = min(interval*2, maxRetryInterval)
	}
}

// prepareDatabase applies the schema and seeds the system taxonomy when
// configured. The returned seeder also backs the admin seed endpoint.
func prepareDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, exec dbexec.QueryExecutor, registry *catalog.Registry) (*seed.Seeder, error) {
	taxonomy, err := seed.DefaultTaxonomy()
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded taxonomy: %w", err)
	}
	seeder := seed.NewSeeder(exec, registry, taxonomy, logger.Logger)

	if cfg.Database.ApplySchema {
		if err := seeder.ApplySchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to apply database schema: %w", err)
		}
	}
	if cfg.Database.Seed {
		if _, err := seeder.Seed(ctx); err != nil {
			return nil, fmt.Errorf("failed to seed system taxonomy: %w", err)
		}
	}
	return seeder, nil
}

func paginationLimits(cfg *config.Config) planner.Limits {
	return planner.Limits{
		DefaultPageSize: cfg.Pagination.DefaultPageSize,
		MaxPageSize:     cfg.Pagination.MaxPageSize,
		MaxFilterDepth:  cfg.Pagination.MaxFilterDepth,
	}
}

func mutationLimits(cfg *config.Config) mutation.Limits {
	return mutation.Limits{
		MinInputArraySize: cfg.Mutation.MinInputArraySize,
		MaxInputArraySize: cfg.Mutation.MaxInputArraySize,
	}
}

func buildSchema(cfg *config.Config, logger *logging.Logger, exec dbexec.QueryExecutor, registry *catalog.Registry, metrics *observability.MutationMetrics) (graphql.Schema, error) {
	opts := mutation.Options{
		Limits: mutationLimits(cfg),
		Logger: logger.Logger,
	}
	if metrics != nil {
		opts.Metrics = metrics
	}
	pipeline, err := mutation.NewPipeline(exec, registry, opts)
	if err != nil {
		return graphql.Schema{}, err
	}

	r, err := resolver.NewResolver(exec, registry, pipeline, resolver.Options{
		Limits: paginationLimits(cfg),
		Logger: logger.Logger,
	})
	if err != nil {
		return graphql.Schema{}, err
	}

	start := time.Now()
	schema, err := r.BuildGraphQLSchema()
	if err != nil {
		return graphql.Schema{}, err
	}
	logger.Info("GraphQL schema built",
		slog.Int("entities", len(registry.Entities())),
		slog.Duration("duration", time.Since(start)),
	)
	return schema, nil
}
