package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantCategory ErrorCategory
		wantSeverity ErrorSeverity
	}{
		{"rate limit by status", errors.New("API returned 429 Too Many Requests"), ErrorCategoryRateLimit, SeverityLow},
		{"rate limit by phrase", errors.New("rate limit exceeded for model"), ErrorCategoryRateLimit, SeverityLow},
		{"auth", errors.New("invalid api key provided"), ErrorCategoryAuthentication, SeverityHigh},
		{"forbidden", errors.New("403 Forbidden"), ErrorCategoryAuthentication, SeverityHigh},
		{"database", errors.New("pq: duplicate key value violates unique constraint"), ErrorCategoryDatabase, SeverityHigh},
		{"network dial", errors.New("dial tcp 10.0.0.1:6334: connection refused"), ErrorCategoryNetwork, SeverityMedium},
		{"timeout", errors.New("context deadline exceeded: timeout awaiting response"), ErrorCategoryNetwork, SeverityMedium},
		{"validation", errors.New("invalid record: missing external_id"), ErrorCategoryValidation, SeverityMedium},
		{"unknown", errors.New("something odd happened"), ErrorCategoryUnknown, SeverityMedium},
		{"nil error", nil, ErrorCategoryUnknown, SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, severity := Categorize(tt.err)
			if category != tt.wantCategory {
				t.Errorf("category = %s, want %s", category, tt.wantCategory)
			}
			if severity != tt.wantSeverity {
				t.Errorf("severity = %s, want %s", severity, tt.wantSeverity)
			}
		})
	}
}

func TestCategorize_Wrapped(t *testing.T) {
	err := fmt.Errorf("failed to upsert point: %w", errors.New("connection reset by peer"))
	category, _ := Categorize(err)
	if category != ErrorCategoryNetwork {
		t.Errorf("expected network category through wrapping, got %s", category)
	}
}
