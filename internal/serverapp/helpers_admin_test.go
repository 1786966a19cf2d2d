package serverapp

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"taxonomy-graphql/internal/config"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestBuildRouter_SeedRouteDisabledReturnsNotFound(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			HealthCheckTimeout: time.Second,
			Admin: config.AdminConfig{
				SeedEnabled: false,
			},
		},
	}
	graphqlHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	adminHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	mux := buildRouter(cfg, testLogger(), nil, graphqlHandler, adminHandler, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/seed", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestBuildRouter_SeedRouteEnabledInvokesHandler(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			HealthCheckTimeout: time.Second,
			Admin: config.AdminConfig{
				SeedEnabled: true,
			},
		},
	}
	graphqlHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	adminHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	mux := buildRouter(cfg, testLogger(), nil, graphqlHandler, adminHandler, nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/seed", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, rec.Code)
	}
}

func TestBuildRouter_RootRedirectsToGraphQL(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{HealthCheckTimeout: time.Second}}
	mux := buildRouter(cfg, testLogger(), nil, http.NotFoundHandler(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected status %d, got %d", http.StatusFound, rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/graphql" {
		t.Fatalf("expected redirect to /graphql, got %q", loc)
	}
}

func TestBuildAdminHandler_DisabledReturnsNil(t *testing.T) {
	cfg := &config.Config{}
	h, err := buildAdminHandler(cfg, testLogger(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h != nil {
		t.Fatalf("expected no admin handler when seeding is disabled")
	}
}

func TestBuildAdminHandler_MissingHeaderUnauthorized(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Admin: config.AdminConfig{
				SeedEnabled: true,
				AuthToken:   "secret-token",
			},
		},
	}

	adminHandler, err := buildAdminHandler(cfg, testLogger(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected buildAdminHandler error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/seed", nil)
	rec := httptest.NewRecorder()
	adminHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestBuildAdminHandler_ValidHeaderReachesHandler(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Admin: config.AdminConfig{
				SeedEnabled: true,
				AuthToken:   "secret-token",
			},
		},
	}

	adminHandler, err := buildAdminHandler(cfg, testLogger(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected buildAdminHandler error: %v", err)
	}

	// GET passes token auth and stops at the method check before seeding.
	req := httptest.NewRequest(http.MethodGet, "/admin/seed", nil)
	req.Header.Set("X-Admin-Token", "secret-token")
	rec := httptest.NewRecorder()
	adminHandler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestBuildAdminHandler_RequiresToken(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Admin: config.AdminConfig{
				SeedEnabled: true,
			},
		},
	}

	_, err := buildAdminHandler(cfg, testLogger(), nil, nil)
	if err == nil {
		t.Fatalf("expected missing token error, got nil")
	}
	if !strings.Contains(err.Error(), "admin auth token is required") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSeedHandler_WithoutSeederUnavailable(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/admin/seed", nil)
	rec := httptest.NewRecorder()
	seedHandler(nil, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantBody   string
	}{
		{name: "healthy", wantStatus: http.StatusOK, wantBody: `"status":"healthy"`},
		{name: "unhealthy", pingErr: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable, wantBody: `"status":"unhealthy"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
			if err != nil {
				t.Fatalf("sqlmock: %v", err)
			}
			defer db.Close()

			expect := mock.ExpectPing()
			if tt.pingErr != nil {
				expect.WillReturnError(tt.pingErr)
			}

			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			rec := httptest.NewRecorder()
			healthHandler(db, time.Second).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("unexpected body %q", rec.Body.String())
			}
			if strings.Contains(rec.Body.String(), "connection refused") {
				t.Fatalf("health response leaked error detail: %q", rec.Body.String())
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}
