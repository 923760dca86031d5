package monitor

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/splitkaro/billpipe/internal/models"
)

func TestLogErrorReturnsTrackableID(t *testing.T) {
	m := NewErrorMonitor(10)

	id := m.LogError(errors.New("sql: connection lost"), models.ErrorContext{Service: "database", UserID: "u1"})
	if id == "" {
		t.Fatal("Expected a non-empty error id")
	}
	if !strings.HasPrefix(id, "err_") {
		t.Errorf("Expected err_ prefix, got %q", id)
	}

	if got := m.LogError(nil, models.ErrorContext{}); got != "" {
		t.Errorf("Expected empty id for nil error, got %q", got)
	}
}

func TestLogErrorClassifiesEvent(t *testing.T) {
	m := NewErrorMonitor(10)
	m.LogError(errors.New("api timeout"), models.ErrorContext{Service: "speech"})

	summary := m.GetErrorSummary()
	if summary.TotalErrors != 1 {
		t.Fatalf("Expected 1 error, got %d", summary.TotalErrors)
	}
	if summary.ServiceDistribution["speech"] != 1 {
		t.Errorf("Expected speech service count 1, got %v", summary.ServiceDistribution)
	}
	if len(summary.TopErrorTypes) != 1 || summary.TopErrorTypes[0].ErrorType != models.ErrorTypeExternalService {
		t.Errorf("Expected external_service as top type, got %v", summary.TopErrorTypes)
	}
}

func TestRingEvictsOldestWhenFull(t *testing.T) {
	m := NewErrorMonitor(3)

	for i := 0; i < 5; i++ {
		m.LogError(fmt.Errorf("failure %d in split", i), models.ErrorContext{Service: "split"})
	}

	summary := m.GetErrorSummary()
	if summary.TotalErrors != 3 {
		t.Errorf("Expected window capped at 3, got %d", summary.TotalErrors)
	}

	// Oldest events are gone; only the last three remain.
	var messages []string
	m.ring.each(func(ev *models.ErrorEvent) bool {
		messages = append(messages, ev.Message)
		return true
	})
	if len(messages) != 3 || messages[0] != "failure 2 in split" || messages[2] != "failure 4 in split" {
		t.Errorf("Unexpected window contents: %v", messages)
	}
}

func TestPatternAlertFiresAtThreshold(t *testing.T) {
	m := NewErrorMonitor(100)
	alerts := 0
	m.RegisterAlertCallback(func(ev models.ErrorEvent) { alerts++ })

	for i := 0; i < PatternAlertCount-1; i++ {
		m.LogError(errors.New("split imbalance"), models.ErrorContext{Service: "split"})
	}
	if alerts != 0 {
		t.Fatalf("Expected no alerts below pattern threshold, got %d", alerts)
	}

	m.LogError(errors.New("split imbalance"), models.ErrorContext{Service: "split"})
	if alerts == 0 {
		t.Error("Expected pattern alert at threshold")
	}
}

func TestAlertCallbackPanicDoesNotAbortLogging(t *testing.T) {
	m := NewErrorMonitor(100)
	m.RegisterAlertCallback(func(ev models.ErrorEvent) { panic("bad callback") })

	var id string
	for i := 0; i < PatternAlertCount; i++ {
		id = m.LogError(errors.New("split imbalance"), models.ErrorContext{Service: "split"})
	}
	if id == "" {
		t.Error("Expected logging to complete despite panicking callback")
	}
}

func TestResolveError(t *testing.T) {
	m := NewErrorMonitor(10)
	id := m.LogError(errors.New("validation failed"), models.ErrorContext{Service: "input"})

	if !m.ResolveError(id, "user re-entered data") {
		t.Fatal("Expected resolution to succeed")
	}

	summary := m.GetErrorSummary()
	for severity, count := range summary.UnresolvedBySeverity {
		if count != 0 {
			t.Errorf("Expected no unresolved %s errors, got %d", severity, count)
		}
	}

	if m.ResolveError("err_nonexistent", "") {
		t.Error("Expected resolution of unknown id to fail")
	}
}

func TestResolveErrorEvictedFromWindow(t *testing.T) {
	m := NewErrorMonitor(2)
	id := m.LogError(errors.New("first failure in split"), models.ErrorContext{Service: "split"})
	m.LogError(errors.New("second"), models.ErrorContext{Service: "split"})
	m.LogError(errors.New("third"), models.ErrorContext{Service: "split"})

	if m.ResolveError(id, "") {
		t.Error("Expected resolution to fail for an evicted event")
	}
}

func TestErrorRates(t *testing.T) {
	m := NewErrorMonitor(100)
	current := time.Now()
	m.now = func() time.Time { return current }

	// Two recent errors and one outside the 1h window.
	m.LogError(errors.New("old failure"), models.ErrorContext{Service: "a"})
	current = current.Add(2 * time.Hour)
	m.LogError(errors.New("recent one"), models.ErrorContext{Service: "a"})
	m.LogError(errors.New("recent two"), models.ErrorContext{Service: "a"})

	summary := m.GetErrorSummary()
	wantRate1h := 2.0 / 60
	if diff := summary.ErrorRate1h - wantRate1h; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected 1h rate %f, got %f", wantRate1h, summary.ErrorRate1h)
	}
	wantRate24h := 3.0 / (24 * 60)
	if diff := summary.ErrorRate24h - wantRate24h; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected 24h rate %f, got %f", wantRate24h, summary.ErrorRate24h)
	}
}

func TestSummaryTopTypesCappedAtFive(t *testing.T) {
	counts := []TypeCount{
		{ErrorType: "a", Count: 1}, {ErrorType: "b", Count: 7}, {ErrorType: "c", Count: 3},
		{ErrorType: "d", Count: 9}, {ErrorType: "e", Count: 2}, {ErrorType: "f", Count: 5},
	}
	sorted := sortTypeCounts(counts)
	if len(sorted) != 5 {
		t.Fatalf("Expected top list capped at 5, got %d", len(sorted))
	}
	if sorted[0].Count != 9 || sorted[4].Count != 2 {
		t.Errorf("Unexpected ordering: %v", sorted)
	}
}

func TestHourlyTrendCoversLastDay(t *testing.T) {
	m := NewErrorMonitor(10)
	m.LogError(errors.New("sql failure"), models.ErrorContext{Service: "database"})

	summary := m.GetErrorSummary()
	if len(summary.HourlyTrend) != 24 {
		t.Errorf("Expected 24 hourly buckets, got %d", len(summary.HourlyTrend))
	}
	currentHour := time.Now().Format("2006-01-02-15")
	if summary.HourlyTrend[currentHour] != 1 {
		t.Errorf("Expected 1 error in current hour bucket, got %d", summary.HourlyTrend[currentHour])
	}
}
