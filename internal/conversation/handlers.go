package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/splitkaro/billpipe/internal/contacts"
	"github.com/splitkaro/billpipe/internal/extract"
	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/payments"
	"github.com/splitkaro/billpipe/internal/split"
	"github.com/splitkaro/billpipe/internal/store"
)

// MaxExtractionAttempts bounds clarification rounds before the handler gives
// fallback instructions instead of asking again.
const MaxExtractionAttempts = 2

// billKeywords mark a text message as carrying bill information.
var billKeywords = []string{"bill", "amount", "total", "split", "pay", "₹", "$", "rs", "rupees"}

// newBillKeywords restart a settled conversation.
var newBillKeywords = []string{"new bill", "another bill", "split another", "next bill"}

// NewHandlers builds the full step handler registry.
func NewHandlers(st store.Store, extractor extract.Extractor, book *contacts.Book, requests *payments.RequestService) map[models.ConversationStep]StepHandler {
	return map[models.ConversationStep]StepHandler{
		models.StepInitial:            &InitialHandler{},
		models.StepExtractingBill:     &ExtractingBillHandler{extractor: extractor},
		models.StepConfirmingBill:     &ConfirmingBillHandler{},
		models.StepCollectingContacts: &CollectingContactsHandler{book: book},
		models.StepCalculatingSplits:  &CalculatingSplitsHandler{},
		models.StepConfirmingSplits:   &ConfirmingSplitsHandler{},
		models.StepSendingRequests:    &SendingRequestsHandler{store: st, requests: requests},
		models.StepTrackingPayments:   &TrackingPaymentsHandler{store: st},
		models.StepCompleted:          &CompletedHandler{},
	}
}

// InitialHandler welcomes users and routes the first bill input into
// extraction.
type InitialHandler struct{}

func (h *InitialHandler) Handle(ctx context.Context, state *models.ConversationState, msg models.Message) (StepResult, error) {
	if isHelpCommand(msg.Content) {
		return StepResult{
			Response: models.NewTextResponse(initialHelpMessage),
			NextStep: models.StepInitial,
		}, nil
	}

	if containsBillInfo(msg) {
		return StepResult{
			Response: models.NewTextResponse("I see you've sent bill information. Let me process that for you..."),
			NextStep: models.StepExtractingBill,
			ContextUpdates: map[string]string{
				models.ContextKeyInputType:      string(msg.MessageType),
				models.ContextKeySessionStarted: time.Now().Format(time.RFC3339),
			},
			Chain: true,
		}, nil
	}

	return StepResult{
		Response: models.NewTextResponse("Hi! I'm here to help you split bills with friends. Please send me your bill information - you can type the details, send a photo of the bill, or record a voice message."),
		NextStep: models.StepInitial,
	}, nil
}

func containsBillInfo(msg models.Message) bool {
	if msg.MessageType == models.MessageTypeImage || msg.MessageType == models.MessageTypeVoice {
		return true
	}
	content := strings.ToLower(msg.Content)
	for _, kw := range billKeywords {
		if strings.Contains(content, kw) {
			return true
		}
	}
	return false
}

const initialHelpMessage = `I can help you split bills with friends! Here's how:

1. Send me your bill information by:
- Typing the bill details (amount, description, participants)
- Taking a photo of the bill
- Recording a voice message with the details

2. I'll help you:
- Extract the bill information
- Collect participant contacts
- Calculate splits
- Send payment requests via WhatsApp/SMS

Just send me your bill information to get started!`

// ExtractingBillHandler turns the inbound message into structured bill data
// and asks the user to confirm it.
type ExtractingBillHandler struct {
	extractor extract.Extractor
}

func (h *ExtractingBillHandler) Handle(ctx context.Context, state *models.ConversationState, msg models.Message) (StepResult, error) {
	if isResetCommand(msg.Content) {
		return resetResult(), nil
	}

	data, err := h.extractor.ExtractBill(ctx, msg)
	if err != nil {
		if errors.Is(err, extract.ErrNoBillFound) {
			return h.clarify(state, msg), nil
		}
		// Service-level failures go to the recovery path.
		return StepResult{}, fmt.Errorf("bill extraction failed: %w", err)
	}

	encoded, err := billDataToContext(data)
	if err != nil {
		return StepResult{}, err
	}

	summary := fmt.Sprintf("Here's what I found:\n%s: %s\n\nIs this correct? Reply 'yes' to continue or tell me what to change.",
		data.Description, models.FormatAmount(data.TotalAmount, data.Currency))

	return StepResult{
		Response: models.NewTextResponse(summary),
		NextStep: models.StepConfirmingBill,
		ContextUpdates: map[string]string{
			models.ContextKeyBillData: encoded,
			"attempt_count":           "0",
		},
	}, nil
}

func (h *ExtractingBillHandler) clarify(state *models.ConversationState, msg models.Message) StepResult {
	attempts := contextInt(state, "attempt_count")
	if attempts < MaxExtractionAttempts {
		return StepResult{
			Response: models.NewTextResponse("I couldn't find an amount in that. Could you tell me the total and what the bill was for? For example: 'Dinner at Cafe Mondegar, ₹2400'."),
			NextStep: state.CurrentStep,
			ContextUpdates: map[string]string{
				"attempt_count": strconv.Itoa(attempts + 1),
			},
		}
	}
	return StepResult{
		Response: models.NewTextResponse(fallbackInstructions(msg.MessageType)),
		NextStep: models.StepInitial,
		ContextUpdates: map[string]string{
			"reset": "true",
		},
	}
}

func fallbackInstructions(mt models.MessageType) string {
	switch mt {
	case models.MessageTypeVoice:
		return "I'm having trouble with voice messages right now. Please type your bill details instead, like 'Dinner ₹2400'."
	case models.MessageTypeImage:
		return "I'm having trouble reading that image. Please type the bill details instead, like 'Dinner ₹2400'."
	default:
		return "Let's start fresh. Please send your bill like 'Dinner ₹2400' with the total amount included."
	}
}

// ConfirmingBillHandler parses the user's yes/no on the extracted bill.
type ConfirmingBillHandler struct{}

func (h *ConfirmingBillHandler) Handle(ctx context.Context, state *models.ConversationState, msg models.Message) (StepResult, error) {
	if isResetCommand(msg.Content) {
		return resetResult(), nil
	}

	switch {
	case isConfirmationYes(msg.Content):
		return StepResult{
			Response: models.NewTextResponse("Great! Who shared this bill? Send names with phone numbers, like:\n'Asha 9876543210, Ravi 9876500000'"),
			NextStep: models.StepCollectingContacts,
			ContextUpdates: map[string]string{
				models.ContextKeyParticipants: "[]",
			},
		}, nil
	case isConfirmationNo(msg.Content):
		return StepResult{
			Response: models.NewTextResponse("No problem! Please send the bill details again with the correct information."),
			NextStep: models.StepExtractingBill,
		}, nil
	default:
		return StepResult{
			Response: models.NewTextResponse("Please reply 'yes' if the bill looks right, or 'no' to send corrected details."),
			NextStep: state.CurrentStep,
		}, nil
	}
}

// CollectingContactsHandler gathers participants until every one of them has
// a valid phone number.
type CollectingContactsHandler struct {
	book *contacts.Book
}

func (h *CollectingContactsHandler) Handle(ctx context.Context, state *models.ConversationState, msg models.Message) (StepResult, error) {
	if isResetCommand(msg.Content) {
		return resetResult(), nil
	}

	parsed, err := contacts.ParseParticipants(msg.Content)
	if err != nil {
		if errors.Is(err, contacts.ErrNoParticipants) {
			return StepResult{
				Response: models.NewTextResponse("I couldn't find any names in that. Please send participants like 'Asha 9876543210, Ravi 9876500000'."),
				NextStep: state.CurrentStep,
			}, nil
		}
		return StepResult{}, fmt.Errorf("participant parsing failed: %w", err)
	}

	resolved, _, err := h.book.Resolve(state.UserID, parsed)
	if err != nil {
		return StepResult{}, fmt.Errorf("contact resolution failed: %w", err)
	}

	existing, _ := participantsFromContext(state)
	merged := mergeParticipants(existing, resolved)

	encoded, err := participantsToContext(merged)
	if err != nil {
		return StepResult{}, err
	}

	// Completeness is judged on the merged set, not this round's parse;
	// a participant left phoneless in an earlier round still blocks.
	var missing []string
	for _, p := range merged {
		if p.PhoneNumber == "" {
			missing = append(missing, p.Name)
		}
	}

	if len(missing) > 0 {
		return StepResult{
			Response: models.NewTextResponse(fmt.Sprintf("I still need phone numbers for: %s.\nSend them like '%s 9876543210'.",
				strings.Join(missing, ", "), missing[0])),
			NextStep: state.CurrentStep,
			ContextUpdates: map[string]string{
				models.ContextKeyParticipants: encoded,
			},
		}, nil
	}

	return StepResult{
		Response: models.NewTextResponse("All contacts collected. Calculating splits..."),
		NextStep: models.StepCalculatingSplits,
		ContextUpdates: map[string]string{
			models.ContextKeyParticipants:     encoded,
			models.ContextKeyContactsComplete: "true",
		},
		Chain: true,
	}, nil
}

// mergeParticipants keeps earlier entries and fills their numbers in from
// later rounds; new names append.
func mergeParticipants(existing, incoming []models.Participant) []models.Participant {
	merged := make([]models.Participant, len(existing))
	copy(merged, existing)
	index := make(map[string]int, len(merged))
	for i, p := range merged {
		index[strings.ToLower(p.Name)] = i
	}
	for _, p := range incoming {
		if i, ok := index[strings.ToLower(p.Name)]; ok {
			if p.PhoneNumber != "" {
				merged[i].PhoneNumber = p.PhoneNumber
				merged[i].ContactID = p.ContactID
			}
			continue
		}
		index[strings.ToLower(p.Name)] = len(merged)
		merged = append(merged, p)
	}
	return merged
}

// CalculatingSplitsHandler divides the bill across participants, equally by
// default or per user-supplied custom amounts.
type CalculatingSplitsHandler struct{}

func (h *CalculatingSplitsHandler) Handle(ctx context.Context, state *models.ConversationState, msg models.Message) (StepResult, error) {
	if isResetCommand(msg.Content) {
		return resetResult(), nil
	}

	data, err := billDataFromContext(state)
	if err != nil {
		return StepResult{}, err
	}
	participants, err := participantsFromContext(state)
	if err != nil {
		return StepResult{}, err
	}
	if len(participants) == 0 {
		return StepResult{
			Response: models.NewTextResponse("I don't have any participants yet. Who shared this bill?"),
			NextStep: models.StepCollectingContacts,
		}, nil
	}

	if state.Context["splits_rejected"] == "true" && !strings.EqualFold(strings.TrimSpace(msg.Content), "equal") {
		if amounts, parseErr := split.ParseCustomAmounts(msg.Content); parseErr == nil {
			if applyErr := split.ApplyCustomSplit(data.TotalAmount, participants, amounts); applyErr != nil {
				return StepResult{
					Response: models.NewTextResponse(fmt.Sprintf("Those amounts don't work: %v\nThe shares must add up to %s. Try again, or reply 'equal' for an even split.",
						applyErr, models.FormatAmount(data.TotalAmount, data.Currency))),
					NextStep: state.CurrentStep,
				}, nil
			}
			return h.splitResult(data, participants, "Custom")
		}
	}

	if err := split.ApplyEqualSplit(data.TotalAmount, participants); err != nil {
		return StepResult{}, fmt.Errorf("split calculation failed: %w", err)
	}
	return h.splitResult(data, participants, "Equal")
}

func (h *CalculatingSplitsHandler) splitResult(data models.BillData, participants []models.Participant, kind string) (StepResult, error) {
	encoded, err := participantsToContext(participants)
	if err != nil {
		return StepResult{}, err
	}
	body := fmt.Sprintf("%s split:\n%s\n\nReply 'yes' to confirm, or send custom amounts like 'Asha 300, Ravi 200'.",
		kind, split.FormatSummary(data, participants))
	return StepResult{
		Response: models.NewTextResponse(body),
		NextStep: models.StepConfirmingSplits,
		ContextUpdates: map[string]string{
			models.ContextKeyParticipants:     encoded,
			models.ContextKeySplitsCalculated: "true",
			"splits_rejected":                 "false",
		},
	}, nil
}

// ConfirmingSplitsHandler parses the user's verdict on the computed splits.
type ConfirmingSplitsHandler struct{}

func (h *ConfirmingSplitsHandler) Handle(ctx context.Context, state *models.ConversationState, msg models.Message) (StepResult, error) {
	if isResetCommand(msg.Content) {
		return resetResult(), nil
	}

	switch {
	case isConfirmationYes(msg.Content):
		return StepResult{
			Response: models.NewTextResponse("Perfect! ✅ Splits confirmed.\n\nI'll now generate payment requests and send them to all participants. This may take a moment..."),
			NextStep: models.StepSendingRequests,
			ContextUpdates: map[string]string{
				models.ContextKeySplitsConfirmed: "true",
			},
			Chain: true,
		}, nil
	case isConfirmationNo(msg.Content):
		return StepResult{
			Response: models.NewTextResponse("No problem! Let's recalculate.\nReply 'equal' for an even split, or send custom amounts like 'Asha 300, Ravi 200'."),
			NextStep: models.StepCalculatingSplits,
			ContextUpdates: map[string]string{
				"splits_rejected": "true",
			},
		}, nil
	default:
		if _, err := split.ParseCustomAmounts(msg.Content); err == nil {
			return StepResult{
				Response: models.NewTextResponse("Recalculating with your amounts..."),
				NextStep: models.StepCalculatingSplits,
				ContextUpdates: map[string]string{
					"splits_rejected": "true",
				},
				Chain: true,
			}, nil
		}
		return StepResult{
			Response: models.NewTextResponse("Reply 'yes' to confirm the splits, 'no' to change them, or send custom amounts like 'Asha 300, Ravi 200'."),
			NextStep: state.CurrentStep,
		}, nil
	}
}

// SendingRequestsHandler persists the bill and dispatches payment requests
// to every participant.
type SendingRequestsHandler struct {
	store    store.Store
	requests *payments.RequestService
}

func (h *SendingRequestsHandler) Handle(ctx context.Context, state *models.ConversationState, msg models.Message) (StepResult, error) {
	if isResetCommand(msg.Content) {
		return resetResult(), nil
	}

	data, err := billDataFromContext(state)
	if err != nil {
		return StepResult{}, err
	}
	participants, err := participantsFromContext(state)
	if err != nil {
		return StepResult{}, err
	}

	bill := models.Bill{
		ID:           uuid.NewString(),
		OrganizerID:  state.UserID,
		Data:         data,
		Participants: participants,
		Status:       models.BillStatusActive,
		CreatedAt:    time.Now(),
	}
	if err := h.store.SaveBill(bill); err != nil {
		return StepResult{}, fmt.Errorf("failed to persist bill: %w", err)
	}

	result, err := h.requests.DispatchRequests(ctx, bill)
	if err != nil {
		return StepResult{}, fmt.Errorf("payment request dispatch failed: %w", err)
	}

	requestIDs := make([]string, 0, len(result.Sent))
	for _, req := range result.Sent {
		requestIDs = append(requestIDs, req.ID)
	}
	encodedIDs, err := json.Marshal(requestIDs)
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to encode payment request ids: %w", err)
	}

	body := fmt.Sprintf("Payment requests sent to %d participant(s). 📤\nI'll let you know as payments come in. Ask me 'status' anytime.", len(result.Sent))
	if len(result.Failed) > 0 {
		body += fmt.Sprintf("\n⚠️ Could not reach: %s. You may want to follow up with them directly.", strings.Join(result.Failed, ", "))
	}

	slog.Info("Payment requests dispatched from conversation", "user_id", state.UserID, "bill_id", bill.ID, "sent", len(result.Sent), "failed", len(result.Failed))

	return StepResult{
		Response: models.NewTextResponse(body),
		NextStep: models.StepTrackingPayments,
		ContextUpdates: map[string]string{
			models.ContextKeyBillID:          bill.ID,
			models.ContextKeyPaymentRequests: string(encodedIDs),
		},
	}, nil
}

// TrackingPaymentsHandler answers status inquiries and closes the
// conversation once every payment is confirmed.
type TrackingPaymentsHandler struct {
	store store.Store
}

func (h *TrackingPaymentsHandler) Handle(ctx context.Context, state *models.ConversationState, msg models.Message) (StepResult, error) {
	if isResetCommand(msg.Content) {
		return resetResult(), nil
	}

	billID := state.Context[models.ContextKeyBillID]
	requests, err := h.store.GetPaymentRequestsByBill(billID)
	if err != nil {
		return StepResult{}, fmt.Errorf("failed to load payment requests: %w", err)
	}

	confirmed := 0
	var pendingNames []string
	for _, req := range requests {
		if req.Status == models.PaymentStatusConfirmed {
			confirmed++
		} else {
			pendingNames = append(pendingNames, req.Participant)
		}
	}

	if len(requests) > 0 && confirmed == len(requests) {
		return StepResult{
			Response: models.NewTextResponse("All payments received! 🎉 The bill is settled. Send me a new bill anytime."),
			NextStep: models.StepCompleted,
		}, nil
	}

	body := fmt.Sprintf("Payment status: %d of %d paid.", confirmed, len(requests))
	if len(pendingNames) > 0 {
		body += fmt.Sprintf("\nStill waiting on: %s.", strings.Join(pendingNames, ", "))
	}
	return StepResult{
		Response: models.NewTextResponse(body),
		NextStep: state.CurrentStep,
	}, nil
}

// CompletedHandler acknowledges a settled bill and lets "new bill" restart
// the conversation.
type CompletedHandler struct{}

func (h *CompletedHandler) Handle(ctx context.Context, state *models.ConversationState, msg models.Message) (StepResult, error) {
	if isHelpCommand(msg.Content) {
		return StepResult{
			Response: models.NewTextResponse("This bill is settled! Send me new bill information anytime and I'll help you split it."),
			NextStep: state.CurrentStep,
		}, nil
	}

	if isNewBillRequest(msg.Content) || containsBillInfo(msg) {
		return StepResult{
			Response: models.NewTextResponse("Starting a new bill!"),
			NextStep: models.StepInitial,
			ContextUpdates: map[string]string{
				"reset": "true",
			},
			Chain: true,
		}, nil
	}

	return StepResult{
		Response: models.NewTextResponse("This bill is all settled. 🎉 Send me a new bill whenever you need to split one."),
		NextStep: state.CurrentStep,
	}, nil
}

func isNewBillRequest(content string) bool {
	normalized := strings.ToLower(strings.TrimSpace(content))
	for _, kw := range newBillKeywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}

func contextInt(state *models.ConversationState, key string) int {
	if raw, ok := state.Context[key]; ok {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return 0
}
