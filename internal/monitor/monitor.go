// Package monitor provides structured error monitoring for BillPipe.
//
// Every fault the conversation engine handles is recorded as a
// models.ErrorEvent in a bounded rolling window, with pattern detection,
// per-severity rate thresholds, and registered alert callbacks.
package monitor

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/recovery"
	"github.com/splitkaro/billpipe/internal/util"
)

// Default monitor configuration
const (
	// DefaultWindowSize is the capacity of the rolling error-event window
	DefaultWindowSize = 1000
	// PatternAlertCount is how many same type:service errors trigger a pattern alert
	PatternAlertCount = 5
)

// AlertCallback receives error events when a threshold or pattern is
// breached. Callbacks run fire-and-continue: a panicking or failing callback
// must not abort logging.
type AlertCallback func(models.ErrorEvent)

// eventRing is a fixed-capacity ring buffer of error events. The arena is
// allocated once; appends overwrite the oldest entry when full.
type eventRing struct {
	events []models.ErrorEvent
	next   int
	filled bool
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{events: make([]models.ErrorEvent, capacity)}
}

func (r *eventRing) append(ev models.ErrorEvent) {
	r.events[r.next] = ev
	r.next++
	if r.next == len(r.events) {
		r.next = 0
		r.filled = true
	}
}

func (r *eventRing) len() int {
	if r.filled {
		return len(r.events)
	}
	return r.next
}

// each invokes fn for every stored event, oldest first. fn may mutate the
// event in place (used for resolution).
func (r *eventRing) each(fn func(*models.ErrorEvent) bool) {
	start := 0
	if r.filled {
		start = r.next
	}
	n := r.len()
	for i := 0; i < n; i++ {
		if !fn(&r.events[(start+i)%len(r.events)]) {
			return
		}
	}
}

// ErrorMonitor tracks, analyzes, and alerts on application errors. All state
// is shared by every processing cycle, so mutation happens under the mutex.
type ErrorMonitor struct {
	mu              sync.Mutex
	ring            *eventRing
	typeCounts      map[models.ErrorType]int
	serviceCounts   map[string]int
	hourlyCounts    map[string]int
	patternCounts   map[string]int
	alertThresholds map[models.ErrorSeverity]int
	callbacks       []AlertCallback
	now             func() time.Time
}

// NewErrorMonitor creates a monitor with the given rolling window capacity
// (<=0 uses the default) and default per-severity errors/hour thresholds.
func NewErrorMonitor(windowSize int) *ErrorMonitor {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &ErrorMonitor{
		ring:          newEventRing(windowSize),
		typeCounts:    make(map[models.ErrorType]int),
		serviceCounts: make(map[string]int),
		hourlyCounts:  make(map[string]int),
		patternCounts: make(map[string]int),
		alertThresholds: map[models.ErrorSeverity]int{
			models.SeverityLow:      10,
			models.SeverityMedium:   5,
			models.SeverityHigh:     2,
			models.SeverityCritical: 1,
		},
		now: time.Now,
	}
}

// RegisterAlertCallback adds a callback invoked on threshold or pattern
// breach.
func (m *ErrorMonitor) RegisterAlertCallback(cb AlertCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// LogError classifies err, builds a structured ErrorEvent, appends it to the
// rolling window, emits a structured log line, updates pattern counters and
// rate thresholds, and returns the event id for tracking.
func (m *ErrorMonitor) LogError(err error, errCtx models.ErrorContext) string {
	if err == nil {
		return ""
	}
	event := models.ErrorEvent{
		ID:        util.GenerateErrorID(),
		Timestamp: m.now(),
		ErrorType: recovery.Classify(err),
		Severity:  recovery.ClassifySeverity(err, errCtx),
		Message:   err.Error(),
		Service:   errCtx.Service,
		UserID:    errCtx.UserID,
		RequestID: errCtx.RequestID,
	}
	if event.Service == "" {
		event.Service = "unknown"
	}

	m.mu.Lock()
	m.ring.append(event)
	m.typeCounts[event.ErrorType]++
	m.serviceCounts[event.Service]++
	m.hourlyCounts[event.Timestamp.Format("2006-01-02-15")]++
	patternKey := string(event.ErrorType) + ":" + event.Service
	m.patternCounts[patternKey]++
	patternHit := m.patternCounts[patternKey] >= PatternAlertCount
	rateHit := m.errorRateLocked(time.Hour) > float64(m.alertThresholds[event.Severity])/60
	callbacks := make([]AlertCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	m.logStructured(event)
	observeErrorEvent(event)

	if patternHit {
		slog.Warn("ErrorMonitor pattern detected", "pattern", patternKey, "count", m.patternCount(patternKey))
		m.fireAlerts(callbacks, event)
	} else if rateHit {
		slog.Warn("ErrorMonitor rate threshold exceeded", "severity", event.Severity, "service", event.Service)
		m.fireAlerts(callbacks, event)
	}

	return event.ID
}

// ResolveError flips the resolved flag for the given event id. It returns
// false if the event is no longer in the window.
func (m *ErrorMonitor) ResolveError(errorID, notes string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	m.ring.each(func(ev *models.ErrorEvent) bool {
		if ev.ID == errorID {
			now := m.now()
			ev.Resolved = true
			ev.ResolutionTime = &now
			found = true
			return false
		}
		return true
	})
	if found {
		slog.Info("ErrorMonitor error resolved", "error_id", errorID, "notes", notes)
	} else {
		slog.Warn("ErrorMonitor error not found for resolution", "error_id", errorID)
	}
	return found
}

// Summary aggregates rolling metrics for the monitoring surface.
type Summary struct {
	TotalErrors          int                          `json:"total_errors"`
	ErrorRate1h          float64                      `json:"error_rate_1h"`
	ErrorRate24h         float64                      `json:"error_rate_24h"`
	TopErrorTypes        []TypeCount                  `json:"top_error_types"`
	ServiceDistribution  map[string]int               `json:"service_distribution"`
	HourlyTrend          map[string]int               `json:"hourly_trend"`
	UnresolvedBySeverity map[models.ErrorSeverity]int `json:"unresolved_by_severity"`
	LastUpdated          time.Time                    `json:"last_updated"`
}

// TypeCount pairs an error type with its occurrence count.
type TypeCount struct {
	ErrorType models.ErrorType `json:"error_type"`
	Count     int              `json:"count"`
}

// GetErrorSummary returns aggregate metrics: 1h/24h rates (errors per
// minute), top error types, per-service distribution, the 24-hour hourly
// trend, and unresolved counts by severity.
func (m *ErrorMonitor) GetErrorSummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		TotalErrors:          m.ring.len(),
		ErrorRate1h:          m.errorRateLocked(time.Hour),
		ErrorRate24h:         m.errorRateLocked(24 * time.Hour),
		ServiceDistribution:  make(map[string]int, len(m.serviceCounts)),
		HourlyTrend:          make(map[string]int, 24),
		UnresolvedBySeverity: make(map[models.ErrorSeverity]int),
		LastUpdated:          m.now(),
	}
	for svc, n := range m.serviceCounts {
		s.ServiceDistribution[svc] = n
	}
	for errType, n := range m.typeCounts {
		s.TopErrorTypes = append(s.TopErrorTypes, TypeCount{ErrorType: errType, Count: n})
	}
	s.TopErrorTypes = sortTypeCounts(s.TopErrorTypes)
	currentHour := m.now().Truncate(time.Hour)
	for i := 0; i < 24; i++ {
		key := currentHour.Add(-time.Duration(i) * time.Hour).Format("2006-01-02-15")
		s.HourlyTrend[key] = m.hourlyCounts[key]
	}
	m.ring.each(func(ev *models.ErrorEvent) bool {
		if !ev.Resolved {
			s.UnresolvedBySeverity[ev.Severity]++
		}
		return true
	})
	return s
}

// errorRateLocked computes errors per minute inside the window. Caller holds
// the mutex.
func (m *ErrorMonitor) errorRateLocked(window time.Duration) float64 {
	cutoff := m.now().Add(-window)
	recent := 0
	m.ring.each(func(ev *models.ErrorEvent) bool {
		if ev.Timestamp.After(cutoff) {
			recent++
		}
		return true
	})
	if recent == 0 {
		return 0
	}
	return float64(recent) / window.Minutes()
}

func (m *ErrorMonitor) patternCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patternCounts[key]
}

func (m *ErrorMonitor) fireAlerts(callbacks []AlertCallback, event models.ErrorEvent) {
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("ErrorMonitor alert callback panicked", "panic", r)
				}
			}()
			cb(event)
		}()
	}
}

func (m *ErrorMonitor) logStructured(event models.ErrorEvent) {
	attrs := []any{
		"error_id", event.ID,
		"error_type", event.ErrorType,
		"severity", event.Severity,
		"service", event.Service,
		"message", event.Message,
	}
	if event.UserID != "" {
		attrs = append(attrs, "user_id", event.UserID)
	}
	switch event.Severity {
	case models.SeverityCritical, models.SeverityHigh:
		slog.Error("ErrorMonitor logged error", attrs...)
	case models.SeverityMedium:
		slog.Warn("ErrorMonitor logged error", attrs...)
	default:
		slog.Info("ErrorMonitor logged error", attrs...)
	}
}

func sortTypeCounts(counts []TypeCount) []TypeCount {
	sort.Slice(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	if len(counts) > 5 {
		counts = counts[:5]
	}
	return counts
}
