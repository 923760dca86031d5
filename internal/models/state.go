// Package models defines conversation state structures for BillPipe.
package models

import "time"

// ConversationStep identifies where a session is in the bill splitting flow.
type ConversationStep string

const (
	StepInitial            ConversationStep = "initial"
	StepExtractingBill     ConversationStep = "extracting_bill"
	StepConfirmingBill     ConversationStep = "confirming_bill"
	StepCollectingContacts ConversationStep = "collecting_contacts"
	StepCalculatingSplits  ConversationStep = "calculating_splits"
	StepConfirmingSplits   ConversationStep = "confirming_splits"
	StepSendingRequests    ConversationStep = "sending_requests"
	StepTrackingPayments   ConversationStep = "tracking_payments"
	StepCompleted          ConversationStep = "completed"
)

// Context keys written by step handlers and required by state validation.
const (
	ContextKeyInputType        = "input_type"
	ContextKeyBillData         = "bill_data"
	ContextKeyParticipants     = "participants"
	ContextKeyContactsComplete = "contacts_complete"
	ContextKeySplitsCalculated = "splits_calculated"
	ContextKeySplitsConfirmed  = "splits_confirmed"
	ContextKeyBillID           = "bill_id"
	ContextKeyPaymentRequests  = "payment_requests"
	ContextKeyMessageCount     = "message_count"
	ContextKeySessionStarted   = "session_started"
)

// requiredContextKeys maps each step to the context keys that must be present
// for a state at that step to be considered valid.
var requiredContextKeys = map[ConversationStep][]string{
	StepInitial:            nil,
	StepExtractingBill:     {ContextKeyInputType},
	StepConfirmingBill:     {ContextKeyBillData},
	StepCollectingContacts: {ContextKeyBillData, ContextKeyParticipants},
	StepCalculatingSplits:  {ContextKeyBillData, ContextKeyParticipants, ContextKeyContactsComplete},
	StepConfirmingSplits:   {ContextKeyBillData, ContextKeyParticipants, ContextKeySplitsCalculated},
	StepSendingRequests:    {ContextKeyBillData, ContextKeyParticipants, ContextKeySplitsConfirmed},
	StepTrackingPayments:   {ContextKeyBillID, ContextKeyPaymentRequests},
	StepCompleted:          {ContextKeyBillID},
}

// IsValidStep checks if the given step is one of the nine defined steps.
func IsValidStep(s ConversationStep) bool {
	_, ok := requiredContextKeys[s]
	return ok
}

// RequiredContextKeys returns the context keys a state at the given step must
// carry. The returned slice must not be mutated.
func RequiredContextKeys(s ConversationStep) []string {
	return requiredContextKeys[s]
}

// StepDescription returns a human-readable description of a conversation step.
func StepDescription(s ConversationStep) string {
	switch s {
	case StepInitial:
		return "Ready to receive bill information"
	case StepExtractingBill:
		return "Processing bill information"
	case StepConfirmingBill:
		return "Confirming bill details"
	case StepCollectingContacts:
		return "Collecting participant contacts"
	case StepCalculatingSplits:
		return "Calculating bill splits"
	case StepConfirmingSplits:
		return "Confirming split amounts"
	case StepSendingRequests:
		return "Sending payment requests"
	case StepTrackingPayments:
		return "Tracking payment confirmations"
	case StepCompleted:
		return "Bill splitting completed"
	default:
		return "Unknown step"
	}
}

// ConversationState holds one session's position in the flow plus the
// step-specific context accumulated so far. One record exists per
// (user_id, session_id) pair; the conversation manager owns it for the
// duration of a single message-processing cycle.
type ConversationState struct {
	UserID      string            `json:"user_id"`
	SessionID   string            `json:"session_id"`
	CurrentStep ConversationStep  `json:"current_step"`
	Context     map[string]string `json:"context,omitempty"`
	RetryCount  int               `json:"retry_count"`
	LastError   string            `json:"last_error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// NewConversationState creates a fresh state at the initial step.
func NewConversationState(userID, sessionID string) *ConversationState {
	now := time.Now()
	return &ConversationState{
		UserID:      userID,
		SessionID:   sessionID,
		CurrentStep: StepInitial,
		Context: map[string]string{
			ContextKeySessionStarted: now.Format(time.RFC3339),
			ContextKeyMessageCount:   "0",
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks state integrity: identifiers present, step recognized,
// retry count within [0, 2*maxRetry], and context complete for the step.
func (s *ConversationState) Validate(maxRetry int) error {
	if s.UserID == "" {
		return ErrEmptyUserID
	}
	if s.SessionID == "" {
		return ErrEmptySessionID
	}
	if !IsValidStep(s.CurrentStep) {
		return ErrInvalidStep
	}
	if s.RetryCount < 0 || s.RetryCount > maxRetry*2 {
		return ErrRetryCountOutOfRange
	}
	for _, key := range requiredContextKeys[s.CurrentStep] {
		if _, ok := s.Context[key]; !ok {
			return ErrIncompleteContext
		}
	}
	return nil
}

// HasContext reports whether the given context key is present.
func (s *ConversationState) HasContext(key string) bool {
	_, ok := s.Context[key]
	return ok
}

// MergeContext applies context updates in place, allocating the map if the
// state was loaded without one.
func (s *ConversationState) MergeContext(updates map[string]string) {
	if len(updates) == 0 {
		return
	}
	if s.Context == nil {
		s.Context = make(map[string]string, len(updates))
	}
	for k, v := range updates {
		s.Context[k] = v
	}
}
