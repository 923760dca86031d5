package recovery

import (
	"errors"
	"testing"

	"github.com/splitkaro/billpipe/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorType
	}{
		{name: "nil error", err: nil, want: models.ErrorTypeBusinessLogic},
		{name: "sqlite error", err: errors.New("sqlite: disk I/O error"), want: models.ErrorTypeDatabase},
		{name: "postgres error", err: errors.New("pq: duplicate key value violates constraint"), want: models.ErrorTypeDatabase},
		{name: "redis error", err: errors.New("redis: connection pool exhausted"), want: models.ErrorTypeDatabase},
		{name: "timeout", err: errors.New("request timeout after 30s"), want: models.ErrorTypeExternalService},
		{name: "http failure", err: errors.New("http 503 from upstream"), want: models.ErrorTypeExternalService},
		{name: "deadline exceeded", err: errors.New("context deadline exceeded"), want: models.ErrorTypeExternalService},
		{name: "validation failure", err: errors.New("validation failed for field amount"), want: models.ErrorTypeValidation},
		{name: "missing field", err: errors.New("required field missing"), want: models.ErrorTypeValidation},
		{name: "parse failure", err: errors.New("failed to parse amount"), want: models.ErrorTypeInputProcessing},
		{name: "unmarshal failure", err: errors.New("cannot unmarshal reply"), want: models.ErrorTypeInputProcessing},
		{name: "anything else", err: errors.New("bill split does not balance"), want: models.ErrorTypeBusinessLogic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

// Database keywords win over external-service keywords so driver-level
// connection errors stay classified as database faults, even when the
// message never names the database.
func TestClassifyDatabaseBeatsExternalService(t *testing.T) {
	tests := []error{
		errors.New("database connection refused"),
		errors.New("dial tcp 10.0.0.5:5432: connection refused"),
		errors.New("connection reset by peer"),
	}
	for _, err := range tests {
		if got := Classify(err); got != models.ErrorTypeDatabase {
			t.Errorf("Classify(%v) = %s, want %s", err, got, models.ErrorTypeDatabase)
		}
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	err := errors.New("api timeout while extracting bill")
	first := Classify(err)
	for i := 0; i < 100; i++ {
		if got := Classify(err); got != first {
			t.Fatalf("Classify returned %s then %s for the same error", first, got)
		}
	}
}

func TestClassifySeverity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		ctx  models.ErrorContext
		want models.ErrorSeverity
	}{
		{name: "nil error", err: nil, want: models.SeverityLow},
		{name: "critical keyword", err: errors.New("fatal: index corruption detected"), want: models.SeverityCritical},
		{name: "database connection", err: errors.New("sql: connection refused"), want: models.SeverityHigh},
		{name: "multi user impact", err: errors.New("bill split mismatch"), ctx: models.ErrorContext{AffectsMultiUsers: true}, want: models.SeverityHigh},
		{name: "external service", err: errors.New("api timeout"), want: models.SeverityMedium},
		{name: "user facing", err: errors.New("split does not balance"), ctx: models.ErrorContext{UserFacing: true}, want: models.SeverityMedium},
		{name: "background business logic", err: errors.New("split does not balance"), want: models.SeverityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifySeverity(tt.err, tt.ctx); got != tt.want {
				t.Errorf("ClassifySeverity(%v, %+v) = %s, want %s", tt.err, tt.ctx, got, tt.want)
			}
		})
	}
}
