// Package conversation implements the bill-splitting conversation engine:
// the step state machine, the per-step handlers, the manager that owns
// persistence and expiry, and the error handling facade.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/monitor"
)

// ErrIllegalTransition is returned when a handler asks for a step the
// adjacency table does not allow from the current step.
var ErrIllegalTransition = errors.New("illegal conversation step transition")

// ErrNoHandler is returned when no handler is registered for a step.
var ErrNoHandler = errors.New("no handler registered for conversation step")

// StepResult is what a handler returns: the reply, the step to move to, and
// context entries to merge before the transition commits.
type StepResult struct {
	Response       models.Response
	NextStep       models.ConversationStep
	ContextUpdates map[string]string
	// Chain asks the machine to re-dispatch the same message to the next
	// step's handler once the transition commits, so a single inbound
	// message can classify and then extract in one processing cycle.
	Chain bool
}

// StepHandler processes one message for one conversation step.
type StepHandler interface {
	Handle(ctx context.Context, state *models.ConversationState, msg models.Message) (StepResult, error)
}

// validTransitions is the step adjacency table. Staying on the current step
// is always legal and not listed. COMPLETED loops back to INITIAL so a
// settled conversation can start a new bill.
var validTransitions = map[models.ConversationStep][]models.ConversationStep{
	models.StepInitial:            {models.StepExtractingBill},
	models.StepExtractingBill:     {models.StepConfirmingBill, models.StepInitial},
	models.StepConfirmingBill:     {models.StepCollectingContacts, models.StepExtractingBill, models.StepInitial},
	models.StepCollectingContacts: {models.StepCalculatingSplits, models.StepInitial},
	models.StepCalculatingSplits:  {models.StepConfirmingSplits, models.StepCollectingContacts, models.StepInitial},
	models.StepConfirmingSplits:   {models.StepSendingRequests, models.StepCalculatingSplits, models.StepInitial},
	models.StepSendingRequests:    {models.StepTrackingPayments, models.StepConfirmingSplits, models.StepInitial},
	models.StepTrackingPayments:   {models.StepCompleted, models.StepInitial},
	models.StepCompleted:          {models.StepInitial},
}

// IsValidTransition reports whether moving from one step to another is legal.
func IsValidTransition(from, to models.ConversationStep) bool {
	if from == to {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidNextSteps returns the steps reachable from the given step.
func ValidNextSteps(from models.ConversationStep) []models.ConversationStep {
	return validTransitions[from]
}

// StateMachine dispatches messages to step handlers and enforces the
// transition graph.
type StateMachine struct {
	handlers map[models.ConversationStep]StepHandler
}

// NewStateMachine creates a state machine with the given handler registry.
func NewStateMachine(handlers map[models.ConversationStep]StepHandler) *StateMachine {
	return &StateMachine{handlers: handlers}
}

// maxChainHops bounds chained same-message dispatches.
const maxChainHops = 2

// ProcessMessage runs the handler for the state's current step and commits
// the resulting context merge and transition. The state is mutated in place;
// the caller persists it.
func (m *StateMachine) ProcessMessage(ctx context.Context, state *models.ConversationState, msg models.Message) (models.Response, error) {
	return m.processMessage(ctx, state, msg, 0)
}

func (m *StateMachine) processMessage(ctx context.Context, state *models.ConversationState, msg models.Message, hop int) (models.Response, error) {
	handler, ok := m.handlers[state.CurrentStep]
	if !ok {
		return models.Response{}, fmt.Errorf("%w: %s", ErrNoHandler, state.CurrentStep)
	}

	slog.Debug("StateMachine dispatching message", "user_id", state.UserID, "step", state.CurrentStep, "message_type", msg.MessageType)
	result, err := handler.Handle(ctx, state, msg)
	if err != nil {
		return models.Response{}, err
	}

	if !IsValidTransition(state.CurrentStep, result.NextStep) {
		slog.Error("StateMachine illegal transition requested", "user_id", state.UserID, "from", state.CurrentStep, "to", result.NextStep)
		return models.Response{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, state.CurrentStep, result.NextStep)
	}

	if result.ContextUpdates["reset"] == "true" {
		// A handler-level reset discards accumulated bill context entirely.
		state.Context = make(map[string]string)
		state.RetryCount = 0
		state.LastError = ""
	} else {
		state.MergeContext(result.ContextUpdates)
	}
	bumpMessageCount(state)
	previous := state.CurrentStep
	state.CurrentStep = result.NextStep
	if previous != result.NextStep {
		slog.Info("StateMachine transition committed", "user_id", state.UserID, "from", previous, "to", result.NextStep)
	}
	monitor.ObserveMessage(result.NextStep)

	if result.Chain && previous != result.NextStep && hop < maxChainHops {
		return m.processMessage(ctx, state, msg, hop+1)
	}

	response := result.Response.WithMeta("conversation_step", string(result.NextStep))
	return response, nil
}

func bumpMessageCount(state *models.ConversationState) {
	count := 0
	if raw, ok := state.Context[models.ContextKeyMessageCount]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			count = n
		}
	}
	state.Context[models.ContextKeyMessageCount] = strconv.Itoa(count + 1)
}
