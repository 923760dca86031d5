package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/splitkaro/billpipe/internal/models"
)

// scriptedHandler returns a fixed result or error.
type scriptedHandler struct {
	result StepResult
	err    error
	calls  int
}

func (h *scriptedHandler) Handle(ctx context.Context, state *models.ConversationState, msg models.Message) (StepResult, error) {
	h.calls++
	return h.result, h.err
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to models.ConversationStep
		want     bool
	}{
		{models.StepInitial, models.StepExtractingBill, true},
		{models.StepInitial, models.StepInitial, true},
		{models.StepExtractingBill, models.StepConfirmingBill, true},
		{models.StepConfirmingBill, models.StepExtractingBill, true},
		{models.StepCompleted, models.StepInitial, true},
		{models.StepTrackingPayments, models.StepInitial, true},
		{models.StepInitial, models.StepSendingRequests, false},
		{models.StepExtractingBill, models.StepTrackingPayments, false},
		{models.StepCompleted, models.StepExtractingBill, false},
	}
	for _, tt := range tests {
		if got := IsValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("IsValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestValidNextStepsCoverEveryStep(t *testing.T) {
	steps := []models.ConversationStep{
		models.StepInitial, models.StepExtractingBill, models.StepConfirmingBill,
		models.StepCollectingContacts, models.StepCalculatingSplits, models.StepConfirmingSplits,
		models.StepSendingRequests, models.StepTrackingPayments, models.StepCompleted,
	}
	for _, step := range steps {
		if len(ValidNextSteps(step)) == 0 {
			t.Errorf("Step %s has no outgoing transitions", step)
		}
	}
}

func TestProcessMessageNoHandler(t *testing.T) {
	m := NewStateMachine(map[models.ConversationStep]StepHandler{})
	state := models.NewConversationState("u1", "s1")

	_, err := m.ProcessMessage(context.Background(), state, models.Message{Content: "hi"})
	if !errors.Is(err, ErrNoHandler) {
		t.Errorf("Expected ErrNoHandler, got %v", err)
	}
}

func TestProcessMessageIllegalTransition(t *testing.T) {
	handler := &scriptedHandler{result: StepResult{NextStep: models.StepSendingRequests}}
	m := NewStateMachine(map[models.ConversationStep]StepHandler{models.StepInitial: handler})
	state := models.NewConversationState("u1", "s1")

	_, err := m.ProcessMessage(context.Background(), state, models.Message{Content: "hi"})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("Expected ErrIllegalTransition, got %v", err)
	}
	if state.CurrentStep != models.StepInitial {
		t.Errorf("Illegal transition must not commit, state moved to %s", state.CurrentStep)
	}
}

func TestProcessMessageCommitsTransitionAndContext(t *testing.T) {
	handler := &scriptedHandler{result: StepResult{
		Response:       models.NewTextResponse("processing"),
		NextStep:       models.StepExtractingBill,
		ContextUpdates: map[string]string{"input_type": "text"},
	}}
	m := NewStateMachine(map[models.ConversationStep]StepHandler{models.StepInitial: handler})
	state := models.NewConversationState("u1", "s1")

	resp, err := m.ProcessMessage(context.Background(), state, models.Message{Content: "hi"})
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if state.CurrentStep != models.StepExtractingBill {
		t.Errorf("Expected transition committed, got %s", state.CurrentStep)
	}
	if state.Context["input_type"] != "text" {
		t.Errorf("Expected context merged, got %v", state.Context)
	}
	if state.Context[models.ContextKeyMessageCount] != "1" {
		t.Errorf("Expected message count bumped, got %q", state.Context[models.ContextKeyMessageCount])
	}
	if resp.Metadata["conversation_step"] != string(models.StepExtractingBill) {
		t.Errorf("Expected step metadata on response, got %v", resp.Metadata)
	}
}

func TestProcessMessageResetClearsContext(t *testing.T) {
	handler := &scriptedHandler{result: StepResult{
		Response:       models.NewTextResponse("starting over"),
		NextStep:       models.StepInitial,
		ContextUpdates: map[string]string{"reset": "true"},
	}}
	m := NewStateMachine(map[models.ConversationStep]StepHandler{models.StepConfirmingSplits: handler})

	state := models.NewConversationState("u1", "s1")
	state.CurrentStep = models.StepConfirmingSplits
	state.Context["bill_data"] = `{"total_amount": 50000}`
	state.RetryCount = 2
	state.LastError = "previous failure"

	if _, err := m.ProcessMessage(context.Background(), state, models.Message{Content: "reset"}); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if _, ok := state.Context["bill_data"]; ok {
		t.Error("Expected bill context discarded by reset")
	}
	if state.RetryCount != 0 || state.LastError != "" {
		t.Errorf("Expected retry bookkeeping cleared, got count=%d err=%q", state.RetryCount, state.LastError)
	}
	if state.CurrentStep != models.StepInitial {
		t.Errorf("Expected reset to INITIAL, got %s", state.CurrentStep)
	}
}

// chainCounter counts how many times it runs before settling on staying put.
type chainCounter struct {
	calls int
	next  models.ConversationStep
}

func (h *chainCounter) Handle(ctx context.Context, state *models.ConversationState, msg models.Message) (StepResult, error) {
	h.calls++
	return StepResult{
		Response: models.NewTextResponse("hop"),
		NextStep: h.next,
		Chain:    true,
	}, nil
}

func TestProcessMessageChainsToNextHandler(t *testing.T) {
	initial := &scriptedHandler{result: StepResult{
		Response: models.NewTextResponse("routing"),
		NextStep: models.StepExtractingBill,
		Chain:    true,
	}}
	extracting := &scriptedHandler{result: StepResult{
		Response: models.NewTextResponse("extracted"),
		NextStep: models.StepConfirmingBill,
	}}
	m := NewStateMachine(map[models.ConversationStep]StepHandler{
		models.StepInitial:        initial,
		models.StepExtractingBill: extracting,
	})
	state := models.NewConversationState("u1", "s1")

	resp, err := m.ProcessMessage(context.Background(), state, models.Message{Content: "dinner bill 500"})
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if extracting.calls != 1 {
		t.Errorf("Expected chained handler invoked once, got %d", extracting.calls)
	}
	if resp.Content != "extracted" {
		t.Errorf("Expected final handler's reply, got %q", resp.Content)
	}
	if state.CurrentStep != models.StepConfirmingBill {
		t.Errorf("Expected chained transition committed, got %s", state.CurrentStep)
	}
}

func TestProcessMessageChainDoesNotLoopOnSameStep(t *testing.T) {
	handler := &chainCounter{next: models.StepInitial}
	m := NewStateMachine(map[models.ConversationStep]StepHandler{models.StepInitial: handler})
	state := models.NewConversationState("u1", "s1")

	if _, err := m.ProcessMessage(context.Background(), state, models.Message{Content: "hi"}); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if handler.calls != 1 {
		t.Errorf("Chain must not re-dispatch when the step did not change, got %d calls", handler.calls)
	}
}
