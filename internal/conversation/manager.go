package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/payments"
	"github.com/splitkaro/billpipe/internal/store"
)

// Defaults for manager configuration.
const (
	DefaultSessionTimeout = 24 * time.Hour
	DefaultMaxRetry       = 3
	// DefaultSessionID keys conversations when the transport supplies no
	// session of its own. One WhatsApp chat is one session.
	DefaultSessionID = "default"
)

// ManagerOpts holds configuration options for the conversation manager.
type ManagerOpts struct {
	SessionTimeout time.Duration
	MaxRetry       int
}

// ManagerOption defines a configuration option for the conversation manager.
type ManagerOption func(*ManagerOpts)

// WithSessionTimeout overrides the inactivity window after which a
// conversation resets.
func WithSessionTimeout(d time.Duration) ManagerOption {
	return func(o *ManagerOpts) { o.SessionTimeout = d }
}

// WithMaxRetry overrides the retry ceiling before a hard state reset.
func WithMaxRetry(n int) ManagerOption {
	return func(o *ManagerOpts) { o.MaxRetry = n }
}

// Manager is the top-level orchestrator: it owns state load/expiry/persist,
// the payment-confirmation short circuit, and the never-raise error path
// around the state machine.
type Manager struct {
	store         store.Store
	machine       *StateMachine
	errorHandler  *ErrorHandler
	confirmations *payments.ConfirmationService
	timeout       time.Duration
	maxRetry      int

	// sessionLocks serializes processing per (user, session); state
	// read-mutate-persist is not compare-and-swap protected.
	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex

	now func() time.Time
}

// NewManager creates a conversation manager. confirmations may be nil, which
// disables the payment short circuit (useful in tests).
func NewManager(st store.Store, machine *StateMachine, errorHandler *ErrorHandler, confirmations *payments.ConfirmationService, opts ...ManagerOption) *Manager {
	cfg := ManagerOpts{SessionTimeout: DefaultSessionTimeout, MaxRetry: DefaultMaxRetry}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Manager created", "session_timeout", cfg.SessionTimeout, "max_retry", cfg.MaxRetry)
	return &Manager{
		store:         st,
		machine:       machine,
		errorHandler:  errorHandler,
		confirmations: confirmations,
		timeout:       cfg.SessionTimeout,
		maxRetry:      cfg.MaxRetry,
		sessionLocks:  make(map[string]*sync.Mutex),
		now:           time.Now,
	}
}

// ProcessMessage handles one inbound message end to end. It never returns an
// error; every fault becomes a user-facing response.
func (m *Manager) ProcessMessage(ctx context.Context, userID string, msg models.Message) (resp models.Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Manager ProcessMessage panicked", "panic", r, "user_id", userID)
			resp = LastResortResponse()
		}
	}()

	if err := msg.Validate(); err != nil {
		slog.Warn("Manager rejected invalid message", "error", err, "user_id", userID)
		return m.errorHandler.HandleConversationError(ctx, err, userID, msg)
	}

	// Payment confirmations and inquiries can arrive at any step and must
	// not derail the organizer's conversation.
	if m.confirmations != nil {
		if resp, handled, err := m.confirmations.HandleMessage(ctx, msg); err != nil {
			slog.Error("Payment confirmation check failed", "error", err, "user_id", userID)
		} else if handled {
			return resp
		}
	}

	sessionID := sessionFromMessage(msg)
	unlock := m.lockSession(userID, sessionID)
	defer unlock()

	state, err := m.loadOrCreateState(userID, sessionID)
	if err != nil {
		return m.errorHandler.HandleConversationError(ctx, err, userID, msg)
	}

	if m.isExpired(state) {
		slog.Info("Conversation state expired, resetting", "user_id", userID, "session_id", sessionID)
		state, err = m.resetState(userID, sessionID)
		if err != nil {
			return m.errorHandler.HandleConversationError(ctx, err, userID, msg)
		}
	}

	response, err := m.machine.ProcessMessage(ctx, state, msg)
	if err != nil {
		if errors.Is(err, ErrIllegalTransition) || errors.Is(err, ErrNoHandler) {
			response = m.errorHandler.HandleStepTransitionError(err, state)
		} else {
			response = m.errorHandler.HandleConversationError(ctx, err, userID, msg)
			state.RetryCount++
			state.LastError = err.Error()
			if state.RetryCount >= m.maxRetry {
				slog.Warn("Retry ceiling reached, hard resetting state", "user_id", userID, "retry_count", state.RetryCount)
				state.CurrentStep = models.StepInitial
				state.Context = map[string]string{"error_reset": "true"}
				state.RetryCount = 0
				state.LastError = ""
				response = models.NewTextResponse("I'm having trouble processing your request. Let's start fresh. Please send me your bill information.")
			}
		}
	} else {
		state.RetryCount = 0
		state.LastError = ""
	}

	// Persist even after a failed cycle so retry bookkeeping survives.
	if err := m.UpdateState(state); err != nil {
		slog.Error("Failed to persist conversation state", "error", err, "user_id", userID, "session_id", sessionID)
	}

	return response
}

// GetState loads a conversation state, creating a fresh one when absent or
// invalid.
func (m *Manager) GetState(userID, sessionID string) (*models.ConversationState, error) {
	return m.loadOrCreateState(userID, sessionID)
}

// UpdateState validates the state and persists it with a refreshed
// timestamp. Invalid states are reset to INITIAL instead of persisted.
func (m *Manager) UpdateState(state *models.ConversationState) error {
	if err := state.Validate(m.maxRetry); err != nil {
		slog.Warn("State failed validation before persist, resetting", "error", err, "user_id", state.UserID, "step", state.CurrentStep)
		m.errorHandler.HandleStateValidationError(err, state)
	}
	state.UpdatedAt = m.now()
	return m.store.SaveConversationState(*state)
}

// ResetConversation replaces the session's state with a fresh INITIAL one.
func (m *Manager) ResetConversation(userID, sessionID string) (*models.ConversationState, error) {
	return m.resetState(userID, sessionID)
}

// CleanupExpired removes conversation states past the inactivity window.
// Returns how many were removed.
func (m *Manager) CleanupExpired() (int, error) {
	cutoff := m.now().Add(-m.timeout)
	count, err := m.store.DeleteExpiredConversationStates(cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired conversations: %w", err)
	}
	if count > 0 {
		slog.Info("Cleaned up expired conversation states", "count", count)
	}
	return count, nil
}

// GetConversationContext returns a debugging snapshot of a session.
func (m *Manager) GetConversationContext(userID, sessionID string) (map[string]interface{}, error) {
	state, err := m.store.GetConversationState(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, models.ErrStateNotFound
	}
	return map[string]interface{}{
		"user_id":          state.UserID,
		"session_id":       state.SessionID,
		"current_step":     string(state.CurrentStep),
		"step_description": models.StepDescription(state.CurrentStep),
		"context":          state.Context,
		"retry_count":      state.RetryCount,
		"last_error":       state.LastError,
		"created_at":       state.CreatedAt,
		"updated_at":       state.UpdatedAt,
		"expired":          m.isExpired(state),
	}, nil
}

func (m *Manager) loadOrCreateState(userID, sessionID string) (*models.ConversationState, error) {
	state, err := m.store.GetConversationState(userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation state: %w", err)
	}
	if state == nil {
		return m.createState(userID, sessionID)
	}
	if err := state.Validate(m.maxRetry); err != nil {
		slog.Warn("Loaded state failed validation, resetting", "error", err, "user_id", userID, "session_id", sessionID)
		return m.resetState(userID, sessionID)
	}
	return state, nil
}

func (m *Manager) createState(userID, sessionID string) (*models.ConversationState, error) {
	state := models.NewConversationState(userID, sessionID)
	state.CreatedAt = m.now()
	state.UpdatedAt = m.now()
	if err := m.store.SaveConversationState(*state); err != nil {
		return nil, fmt.Errorf("failed to persist new conversation state: %w", err)
	}
	slog.Debug("Created new conversation state", "user_id", userID, "session_id", sessionID)
	return state, nil
}

func (m *Manager) resetState(userID, sessionID string) (*models.ConversationState, error) {
	if err := m.store.DeleteConversationState(userID, sessionID); err != nil {
		slog.Warn("Failed to delete state during reset", "error", err, "user_id", userID)
	}
	return m.createState(userID, sessionID)
}

func (m *Manager) isExpired(state *models.ConversationState) bool {
	return m.now().Sub(state.UpdatedAt) > m.timeout
}

// lockSession grabs the per-session mutex, creating it on first use.
func (m *Manager) lockSession(userID, sessionID string) func() {
	key := userID + "|" + sessionID
	m.mu.Lock()
	lock, ok := m.sessionLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.sessionLocks[key] = lock
	}
	m.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// sessionFromMessage derives the session id. The transport can pin one via
// metadata; one chat otherwise maps to one long-lived session.
func sessionFromMessage(msg models.Message) string {
	if msg.Metadata != nil {
		if sid := msg.Metadata["session_id"]; sid != "" {
			return sid
		}
	}
	return DefaultSessionID
}
