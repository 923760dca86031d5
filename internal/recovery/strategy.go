package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/splitkaro/billpipe/internal/models"
)

// Strategy is the recovery policy applied after an error is classified.
type Strategy string

const (
	StrategyRetry    Strategy = "retry"
	StrategyFallback Strategy = "fallback"
	StrategyDegrade  Strategy = "degrade"
	StrategySkip     Strategy = "skip"
	StrategyManual   Strategy = "manual"
)

// DefaultDegradationWindow is how long a service stays marked degraded after
// a degrade recovery, during which callers should short-circuit it.
const DefaultDegradationWindow = 10 * time.Minute

// Action defines the recovery behavior for one error type.
type Action struct {
	Strategy         Strategy
	MaxAttempts      int
	BaseDelay        time.Duration
	DegradedResponse string
	// Fallback produces a service-specific reply when retries are exhausted
	// or the strategy is fallback. Nil means use the canned response table.
	Fallback func(err error, ctx models.ErrorContext) models.Response
}

// Engine executes typed recovery strategies and tracks degraded services.
type Engine struct {
	mu       sync.Mutex
	actions  map[models.ErrorType]Action
	canned   map[string]string
	degraded map[string]time.Time
	window   time.Duration
	now      func() time.Time
}

// NewEngine creates a recovery engine with the default strategy table:
// external-service errors fall back, database errors retry with backoff,
// input-processing errors degrade, validation errors require manual
// re-entry, business-logic errors skip and continue the flow.
func NewEngine() *Engine {
	e := &Engine{
		canned:   defaultFallbackResponses(),
		degraded: make(map[string]time.Time),
		window:   DefaultDegradationWindow,
		now:      time.Now,
	}
	e.actions = map[models.ErrorType]Action{
		models.ErrorTypeExternalService: {
			Strategy:    StrategyFallback,
			MaxAttempts: 2,
			BaseDelay:   2 * time.Second,
			Fallback:    e.externalServiceFallback,
		},
		models.ErrorTypeDatabase: {
			Strategy:    StrategyRetry,
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Fallback: func(error, models.ErrorContext) models.Response {
				return models.NewTextResponse("I'm having trouble saving your information right now. Please try again in a moment, and I'll remember where we left off.").
					WithMeta("recovery_type", string(StrategyFallback)).
					WithMeta("fallback_from", "database")
			},
		},
		models.ErrorTypeInputProcessing: {
			Strategy:         StrategyDegrade,
			MaxAttempts:      1,
			DegradedResponse: "I had trouble processing your input. Please try providing the information in text format.",
		},
		models.ErrorTypeValidation: {
			Strategy:         StrategyManual,
			MaxAttempts:      1,
			DegradedResponse: "There's an issue with the data format. Please check your input and try again.",
		},
		models.ErrorTypeBusinessLogic: {
			Strategy:    StrategySkip,
			MaxAttempts: 1,
		},
	}
	return e
}

func defaultFallbackResponses() map[string]string {
	return map[string]string{
		"speech":      "I couldn't process your voice message. Please type your bill information instead.",
		"vision":      "I had trouble reading your bill image. Please type the bill details or send a clearer photo.",
		"extraction":  "I'm having trouble with text processing. Please provide simple, clear bill information.",
		"whatsapp":    "WhatsApp messaging is temporarily unavailable. Trying SMS instead.",
		"sms":         "Both WhatsApp and SMS are temporarily unavailable. Please try again later.",
		"database":    "I'm having trouble saving your information. Please try again in a moment.",
		"upi_service": "Payment link generation is temporarily unavailable. I'll provide manual payment instructions.",
	}
}

// Recover attempts to recover from a classified error. It returns the
// user-facing reply and true on success; false signals the error is
// unrecoverable by strategy and the caller must fall back to its own typed
// response.
func (e *Engine) Recover(ctx context.Context, err error, errCtx models.ErrorContext) (models.Response, bool) {
	errType := Classify(err)
	action, ok := e.actions[errType]
	if !ok {
		slog.Warn("Engine Recover no strategy for error type", "error_type", errType)
		return models.Response{}, false
	}

	slog.Info("Engine Recover executing strategy", "strategy", action.Strategy, "error_type", errType, "service", errCtx.Service, "user_id", errCtx.UserID)

	switch action.Strategy {
	case StrategyRetry:
		return e.retryRecovery(ctx, err, errCtx, action)
	case StrategyFallback:
		return e.fallbackRecovery(err, errCtx, action), true
	case StrategyDegrade:
		return e.degradeRecovery(errCtx, action), true
	case StrategySkip:
		return e.skipRecovery(errCtx), true
	case StrategyManual:
		return e.manualRecovery(errCtx, action), true
	default:
		return models.Response{}, false
	}
}

// retryRecovery re-invokes the caller-supplied operation up to MaxAttempts
// with delay BaseDelay * 2^(attempt-1), falling through to the fallback once
// attempts are exhausted.
func (e *Engine) retryRecovery(ctx context.Context, err error, errCtx models.ErrorContext, action Action) (models.Response, bool) {
	if errCtx.Operation == nil {
		slog.Warn("Engine retryRecovery no operation provided", "service", errCtx.Service)
		if action.Fallback != nil {
			return action.Fallback(err, errCtx), true
		}
		return models.Response{}, false
	}

	for attempt := 1; attempt <= action.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := action.BaseDelay * (1 << (attempt - 2))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return models.Response{}, false
			}
		}
		resp, opErr := errCtx.Operation()
		if opErr == nil {
			slog.Info("Engine retryRecovery succeeded", "service", errCtx.Service, "attempt", attempt)
			return resp, true
		}
		slog.Warn("Engine retryRecovery attempt failed", "service", errCtx.Service, "attempt", attempt, "error", opErr)
	}

	if action.Fallback != nil {
		return action.Fallback(err, errCtx), true
	}
	return models.Response{}, false
}

func (e *Engine) fallbackRecovery(err error, errCtx models.ErrorContext, action Action) models.Response {
	if action.Fallback != nil {
		return action.Fallback(err, errCtx)
	}
	msg, ok := e.canned[errCtx.Service]
	if !ok {
		msg = "Service temporarily unavailable. Please try again later."
	}
	return models.NewTextResponse(msg).
		WithMeta("recovery_type", string(StrategyFallback)).
		WithMeta("fallback_from", errCtx.Service)
}

func (e *Engine) degradeRecovery(errCtx models.ErrorContext, action Action) models.Response {
	e.MarkServiceDegraded(errCtx.Service)
	msg := action.DegradedResponse
	if msg == "" {
		if canned, ok := e.canned[errCtx.Service]; ok {
			msg = canned
		} else {
			msg = "Service is running in limited mode. Some features may be unavailable."
		}
	}
	return models.NewTextResponse(msg).
		WithMeta("recovery_type", string(StrategyDegrade)).
		WithMeta("service", errCtx.Service)
}

func (e *Engine) skipRecovery(errCtx models.ErrorContext) models.Response {
	slog.Info("Engine skipping failed operation", "service", errCtx.Service)
	return models.NewTextResponse("I encountered an issue with that step, but let's continue. Please provide the next piece of information.").
		WithMeta("recovery_type", string(StrategySkip)).
		WithMeta("skipped_service", errCtx.Service)
}

func (e *Engine) manualRecovery(errCtx models.ErrorContext, action Action) models.Response {
	msg := action.DegradedResponse
	if msg == "" {
		msg = "I need your help to continue. Please provide the information manually."
	}
	return models.NewTextResponse(msg).
		WithMeta("recovery_type", string(StrategyManual)).
		WithMeta("service", errCtx.Service)
}

// externalServiceFallback provides modality-specific replies for failed
// external calls: voice failures steer to typing, image failures to manual
// entry.
func (e *Engine) externalServiceFallback(err error, errCtx models.ErrorContext) models.Response {
	switch {
	case errCtx.Service == "speech" && errCtx.MessageType == models.MessageTypeVoice:
		return models.NewTextResponse("I couldn't process your voice message. Please type your bill information instead.").
			WithMeta("recovery_type", string(StrategyFallback)).
			WithMeta("fallback_from", "voice_to_text")
	case errCtx.Service == "vision" && errCtx.MessageType == models.MessageTypeImage:
		return models.NewTextResponse("I had trouble reading your bill image. Please type the bill details or send a clearer photo.").
			WithMeta("recovery_type", string(StrategyFallback)).
			WithMeta("fallback_from", "image_processing")
	default:
		return models.NewTextResponse("I'm having trouble with some services. Please provide your information in simple text format.").
			WithMeta("recovery_type", string(StrategyFallback)).
			WithMeta("fallback_from", errCtx.Service)
	}
}

// MarkServiceDegraded records the service as degraded from now.
func (e *Engine) MarkServiceDegraded(service string) {
	if service == "" {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.degraded[service] = e.now()
	slog.Warn("Engine marked service degraded", "service", service, "window", e.window)
}

// IsServiceDegraded reports whether the service is inside its degradation
// window. Callers use this to short-circuit repeated calls to a known-bad
// dependency.
func (e *Engine) IsServiceDegraded(service string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	since, ok := e.degraded[service]
	if !ok {
		return false
	}
	return e.now().Sub(since) < e.window
}

// ClearServiceDegradation removes the degraded mark for a service.
func (e *Engine) ClearServiceDegradation(service string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.degraded[service]; ok {
		delete(e.degraded, service)
		slog.Info("Engine cleared service degradation", "service", service)
	}
}

// DegradedServices returns a snapshot of currently degraded services and
// when they were marked.
func (e *Engine) DegradedServices() map[string]time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]time.Time, len(e.degraded))
	for svc, since := range e.degraded {
		if e.now().Sub(since) < e.window {
			out[svc] = since
		}
	}
	return out
}
