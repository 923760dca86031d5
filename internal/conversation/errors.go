package conversation

import (
	"context"
	"log/slog"

	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/monitor"
	"github.com/splitkaro/billpipe/internal/recovery"
)

// lastResortReply is returned when error handling itself fails. This path
// must never produce an error.
const lastResortReply = "I'm experiencing technical difficulties. Please try again later."

// typedReplies maps each error type to its user-facing reply when recovery
// produced nothing better.
var typedReplies = map[models.ErrorType]string{
	models.ErrorTypeInputProcessing: "I had trouble understanding your message. Please try rephrasing or provide more details about your bill.",
	models.ErrorTypeExternalService: "I'm having trouble connecting to some services right now. Please try again in a moment, or provide your bill information in text format.",
	models.ErrorTypeBusinessLogic:   "I encountered an issue processing your request. Please check your bill information and try again, or type 'help' for assistance.",
	models.ErrorTypeDatabase:        "I'm having trouble saving your information right now. Please try again in a moment.",
	models.ErrorTypeValidation:      "There seems to be an issue with the information provided. Please check the format and try again.",
}

// ErrorHandler converts faults raised during message processing into
// user-facing responses. Every path returns a Response; nothing escapes to
// the transport.
type ErrorHandler struct {
	engine  *recovery.Engine
	monitor *monitor.ErrorMonitor
}

// NewErrorHandler creates the conversation error facade.
func NewErrorHandler(engine *recovery.Engine, mon *monitor.ErrorMonitor) *ErrorHandler {
	return &ErrorHandler{engine: engine, monitor: mon}
}

// HandleConversationError classifies and logs the fault, attempts typed
// recovery, and falls back to the per-type reply. The returned response
// carries diagnostic metadata for the transport layer.
func (h *ErrorHandler) HandleConversationError(ctx context.Context, err error, userID string, msg models.Message) (resp models.Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ErrorHandler panicked while handling error", "panic", r, "user_id", userID)
			resp = LastResortResponse()
		}
	}()

	errCtx := models.ErrorContext{
		Service:     "conversation",
		UserID:      userID,
		MessageType: msg.MessageType,
		UserFacing:  true,
	}

	errorType := recovery.Classify(err)
	errorID := h.monitor.LogError(err, errCtx)
	slog.Error("Conversation error handled", "error", err, "error_type", errorType, "error_id", errorID, "user_id", userID)

	if resp, ok := h.engine.Recover(ctx, err, errCtx); ok {
		return withDiagnostics(resp, errorType, errorID)
	}

	reply, ok := typedReplies[errorType]
	if !ok {
		reply = "I encountered an unexpected error. Please try again or type 'reset' to start over."
	}
	return withDiagnostics(models.NewTextResponse(reply), errorType, errorID)
}

// HandleStateValidationError resets a corrupt state toward INITIAL and tells
// the user to start over.
func (h *ErrorHandler) HandleStateValidationError(err error, state *models.ConversationState) models.Response {
	errorID := h.monitor.LogError(err, models.ErrorContext{
		Service:    "conversation",
		UserID:     state.UserID,
		UserFacing: true,
	})
	slog.Warn("Conversation state failed validation, resetting", "error", err, "error_id", errorID, "user_id", state.UserID)

	state.CurrentStep = models.StepInitial
	state.Context = map[string]string{"error_reset": "true"}
	state.RetryCount = 0
	state.LastError = err.Error()

	return withDiagnostics(
		models.NewTextResponse("I'm having trouble processing your request. Let's start fresh. Please send me your bill information."),
		models.ErrorTypeValidation, errorID)
}

// HandleStepTransitionError handles an illegal transition by resetting
// toward INITIAL with the "got confused" reply.
func (h *ErrorHandler) HandleStepTransitionError(err error, state *models.ConversationState) models.Response {
	errorID := h.monitor.LogError(err, models.ErrorContext{
		Service:    "conversation",
		UserID:     state.UserID,
		UserFacing: true,
	})
	slog.Warn("Illegal step transition, resetting conversation", "error", err, "error_id", errorID, "user_id", state.UserID, "step", state.CurrentStep)

	state.CurrentStep = models.StepInitial
	state.Context = map[string]string{"error_reset": "true"}

	return withDiagnostics(
		models.NewTextResponse("I got a bit confused about where we are in our conversation. Let's start fresh. Please send me your bill information."),
		models.ErrorTypeBusinessLogic, errorID)
}

// LastResortResponse is the fixed fallback when handling itself fails.
func LastResortResponse() models.Response {
	return models.NewTextResponse(lastResortReply)
}

func withDiagnostics(resp models.Response, errorType models.ErrorType, errorID string) models.Response {
	return resp.
		WithMeta("error_type", string(errorType)).
		WithMeta("error_id", errorID)
}
