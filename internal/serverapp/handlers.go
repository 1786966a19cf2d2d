package serverapp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"taxonomy-graphql/internal/config"
	"taxonomy-graphql/internal/dbexec"
	"taxonomy-graphql/internal/logging"
	"taxonomy-graphql/internal/middleware"
	"taxonomy-graphql/internal/observability"
	"taxonomy-graphql/internal/seed"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	seedRoute   = "/admin/seed"
	seedTimeout = 60 * time.Second
)

func authConfig(cfg *config.Config) middleware.AuthConfig {
	return middleware.AuthConfig{
		Enabled:        cfg.Server.Auth.OIDCEnabled,
		IssuerURL:      cfg.Server.Auth.OIDCIssuerURL,
		Audience:       cfg.Server.Auth.OIDCAudience,
		ClockSkew:      cfg.Server.Auth.OIDCClockSkew,
		CAFile:         cfg.Server.Auth.OIDCCAFile,
		SkipTLSVerify:  cfg.Server.Auth.OIDCSkipTLSVerify,
		PublicKeyFile:  cfg.Server.Auth.JWTPublicKeyFile,
		AllowAnonymous: cfg.Server.Auth.AllowAnonymous,
	}
}

func buildGraphQLHandler(cfg *config.Config, logger *logging.Logger, schema graphql.Schema, graphqlMetrics *observability.GraphQLMetrics, securityMetrics *observability.SecurityMetrics, executor dbexec.QueryExecutor) (http.Handler, error) {
	var h http.Handler = handler.New(&handler.Config{
		Schema:   &schema,
		Pretty:   true,
		GraphiQL: cfg.Server.GraphiQLEnabled,
	})

	// Chain: logging -> auth -> permissions -> analysis -> depth limit -> metrics -> tracing -> mutation tx -> graphql
	if executor != nil {
		h = middleware.MutationTransactionMiddleware(executor)(h)
		logger.Info("mutation transaction middleware enabled")
	}
	h = middleware.GraphQLTracingMiddleware()(h)
	if cfg.Observability.MetricsEnabled && graphqlMetrics != nil {
		h = middleware.GraphQLMetricsMiddleware(graphqlMetrics)(h)
		logger.Info("GraphQL metrics middleware enabled")
	}
	h = middleware.GraphQLDepthLimitMiddleware(cfg.Server.GraphQLMaxDepth)(h)
	h = middleware.GraphQLRequestAnalysisMiddleware(cfg.Server.MaxBodyBytes)(h)
	h = middleware.PermissionsMiddleware(middleware.PermissionsConfig{
		AdminClaim:          cfg.Server.Auth.AdminClaim,
		OrgPermissionsClaim: cfg.Server.Auth.OrgPermissionsClaim,
		Metrics:             securityMetrics,
	})(h)

	if cfg.Server.Auth.OIDCEnabled {
		authMiddleware, err := middleware.AuthMiddleware(authConfig(cfg), logger, securityMetrics)
		if err != nil {
			return nil, err
		}
		h = authMiddleware(h)
		logger.Info("auth middleware enabled",
			slog.Bool("allow_anonymous", cfg.Server.Auth.AllowAnonymous),
			slog.Bool("local_public_key", cfg.Server.Auth.JWTPublicKeyFile != ""),
		)
	} else {
		logger.Warn("authentication disabled - mutations will be rejected as unauthorized")
	}

	return middleware.LoggingMiddleware(logger)(h), nil
}

// buildAdminHandler returns nil when the seed endpoint is disabled.
func buildAdminHandler(cfg *config.Config, logger *logging.Logger, seeder *seed.Seeder, securityMetrics *observability.SecurityMetrics) (http.Handler, error) {
	if !cfg.Server.Admin.SeedEnabled {
		return nil, nil
	}

	tokenAuth, err := middleware.AdminTokenAuthMiddleware(middleware.AdminTokenAuthConfig{
		Token:     cfg.Server.Admin.AuthToken,
		Operation: "seed",
		Metrics:   securityMetrics,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("admin seed endpoint enabled", slog.String("path", seedRoute))

	return middleware.LoggingMiddleware(logger)(tokenAuth(seedHandler(seeder, securityMetrics))), nil
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, graphqlHandler http.Handler, adminHandler http.Handler, meterProvider *observability.MeterProvider) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/graphql", graphqlHandler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/graphql", http.StatusFound)
			return
		}
		http.NotFound(w, r)
	})

	mux.HandleFunc("/health", healthHandler(db, cfg.Server.HealthCheckTimeout))
	if cfg.Server.Admin.SeedEnabled && adminHandler != nil {
		mux.Handle(seedRoute, adminHandler)
	}

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	return mux
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, h http.Handler) http.Handler {
	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		h = otelhttp.NewHandler(h, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		h = middleware.CORSMiddleware(middleware.CORSConfig{
			Enabled:          cfg.Server.CORSEnabled,
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   cfg.Server.CORSAllowedMethods,
			AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
			ExposeHeaders:    cfg.Server.CORSExposeHeaders,
			AllowCredentials: cfg.Server.CORSAllowCredentials,
			MaxAge:           cfg.Server.CORSMaxAge,
		})(h)
	}

	if cfg.Server.RateLimitEnabled {
		h = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Enabled:   cfg.Server.RateLimitEnabled,
			RPS:       cfg.Server.RateLimitRPS,
			Burst:     cfg.Server.RateLimitBurst,
			PerClient: cfg.Server.RateLimitPerClient,
		})(h)
	}

	return h
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}

	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}

	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/", "/graphql", "/health", "/metrics", seedRoute:
		return rawPath
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, h http.Handler, serverAddr string) *http.Server {
	return &http.Server{
		Addr:         serverAddr,
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	go func() {
		logAttrs := []any{
			slog.String("address", serverAddr),
			slog.String("graphql_endpoint", "/graphql"),
			slog.String("health_endpoint", "/health"),
			slog.Int("graphql_max_depth", cfg.Server.GraphQLMaxDepth),
			slog.Int("default_page_size", cfg.Pagination.DefaultPageSize),
			slog.Int("max_page_size", cfg.Pagination.MaxPageSize),
			slog.String("log_level", cfg.Observability.Logging.Level),
			slog.String("log_format", cfg.Observability.Logging.Format),
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", "/metrics"))
		}
		if cfg.Server.Admin.SeedEnabled {
			logAttrs = append(logAttrs, slog.String("seed_endpoint", seedRoute))
		}
		if cfg.Server.RateLimitEnabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
			)
		}

		logger.Info("server starting", logAttrs...)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		reqLogger.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}

// seedHandler re-applies the embedded system taxonomy on POST.
func seedHandler(seeder *seed.Seeder, securityMetrics *observability.SecurityMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = fmt.Fprint(w, `{"error":"method not allowed"}`)
			return
		}
		if seeder == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"error":"seeding unavailable"}`)
			return
		}

		reqLogger.Info("admin endpoint accessed",
			slog.String("operation", "seed"),
			slog.String("remote_addr", r.RemoteAddr),
		)

		seedCtx, cancel := context.WithTimeout(r.Context(), seedTimeout)
		defer cancel()

		result, err := seeder.Seed(seedCtx)
		if err != nil {
			if securityMetrics != nil {
				securityMetrics.RecordAdminEndpointAccess(r.Context(), "seed", true, false)
			}
			reqLogger.Error("taxonomy seed failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprint(w, `{"error":"seed failed"}`)
			return
		}

		if securityMetrics != nil {
			securityMetrics.RecordAdminEndpointAccess(r.Context(), "seed", true, true)
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"result": result,
		})
	}
}
