package main

import (
	"bytes"
	"log/slog"
	"testing"

	"taxonomy-graphql/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportValidation(t *testing.T) {
	tests := []struct {
		name     string
		result   *config.ValidationResult
		wantErr  bool
		wantLogs []string
	}{
		{
			name:   "clean",
			result: &config.ValidationResult{},
		},
		{
			name: "warnings only",
			result: &config.ValidationResult{
				Warnings: []config.ValidationWarning{{Field: "database.seed", Message: "seed without apply_schema"}},
			},
			wantLogs: []string{"configuration warning", "database.seed"},
		},
		{
			name: "errors fail",
			result: &config.ValidationResult{
				Errors: []config.ValidationError{{Field: "pagination.max_page_size", Message: "must be positive"}},
			},
			wantErr:  true,
			wantLogs: []string{"configuration error", "pagination.max_page_size"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			err := reportValidation(logger, tt.result)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "must be positive")
			} else {
				require.NoError(t, err)
			}
			for _, want := range tt.wantLogs {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}
