package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/splitkaro/billpipe/internal/messaging"
	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/store"
)

// confirmationKeywords mark an inbound message as a payment confirmation.
var confirmationKeywords = []string{"paid", "done", "payment done", "sent the money", "transferred", "✅", "👍"}

// inquiryKeywords mark an inbound message as a payment status inquiry.
var inquiryKeywords = []string{"status", "how much", "pending", "owe", "balance", "remind"}

// IsConfirmation reports whether a message reads as a payment confirmation.
func IsConfirmation(content string) bool {
	return containsKeyword(content, confirmationKeywords)
}

// IsInquiry reports whether a message reads as a payment status inquiry.
func IsInquiry(content string) bool {
	return containsKeyword(content, inquiryKeywords)
}

func containsKeyword(content string, keywords []string) bool {
	lowered := strings.ToLower(strings.TrimSpace(content))
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// ConfirmationService matches inbound messages from participants against
// their pending payment requests.
type ConfirmationService struct {
	store     store.Store
	deliverer *messaging.Deliverer
}

// NewConfirmationService creates a confirmation service.
func NewConfirmationService(st store.Store, deliverer *messaging.Deliverer) *ConfirmationService {
	return &ConfirmationService{store: st, deliverer: deliverer}
}

// HandleMessage checks whether the message is a payment confirmation or
// inquiry from someone with pending requests. The second return reports
// whether the message was consumed here; when false the message belongs to
// the conversation engine instead.
func (s *ConfirmationService) HandleMessage(ctx context.Context, msg models.Message) (models.Response, bool, error) {
	phone := msg.SenderPhone()
	if phone == "" {
		phone = msg.UserID
	}

	pending, err := s.store.FindPendingRequestsByPhone(phone)
	if err != nil {
		return models.Response{}, false, fmt.Errorf("failed to look up pending requests: %w", err)
	}
	if len(pending) == 0 {
		return models.Response{}, false, nil
	}

	switch {
	case IsConfirmation(msg.Content):
		resp, err := s.confirm(ctx, pending)
		return resp, true, err
	case IsInquiry(msg.Content):
		return s.inquire(pending), true, nil
	default:
		return models.Response{}, false, nil
	}
}

// confirm marks all the sender's pending requests as paid and closes the
// bill once every participant has confirmed.
func (s *ConfirmationService) confirm(ctx context.Context, pending []models.PaymentRequest) (models.Response, error) {
	now := time.Now()
	var total int64
	for _, req := range pending {
		if err := s.store.UpdatePaymentRequestStatus(req.ID, models.PaymentStatusConfirmed, &now); err != nil {
			return models.Response{}, fmt.Errorf("failed to confirm payment request %s: %w", req.ID, err)
		}
		total += req.Amount
		slog.Info("Payment confirmed", "request_id", req.ID, "bill_id", req.BillID, "participant", req.Participant)

		if err := s.checkBillCompletion(ctx, req.BillID); err != nil {
			slog.Error("Failed to check bill completion", "error", err, "bill_id", req.BillID)
		}
	}
	return models.NewTextResponse(fmt.Sprintf("Thanks! Your payment of %s is confirmed. 🎉",
		models.FormatAmount(total, "INR"))), nil
}

// inquire summarizes what the sender still owes.
func (s *ConfirmationService) inquire(pending []models.PaymentRequest) models.Response {
	var b strings.Builder
	b.WriteString("You have pending payments:\n")
	for _, req := range pending {
		fmt.Fprintf(&b, "- %s: %s\n  Pay here: %s\n", req.Participant, models.FormatAmount(req.Amount, "INR"), req.UPILink)
	}
	b.WriteString("Reply 'paid' once you've paid.")
	return models.NewTextResponse(b.String())
}

// checkBillCompletion marks a bill completed and notifies the organizer when
// every payment request has been confirmed.
func (s *ConfirmationService) checkBillCompletion(ctx context.Context, billID string) error {
	requests, err := s.store.GetPaymentRequestsByBill(billID)
	if err != nil {
		return fmt.Errorf("failed to load payment requests: %w", err)
	}
	for _, req := range requests {
		if req.Status != models.PaymentStatusConfirmed {
			return nil
		}
	}

	if err := s.store.UpdateBillStatus(billID, models.BillStatusCompleted); err != nil {
		return fmt.Errorf("failed to complete bill: %w", err)
	}
	slog.Info("Bill fully paid", "bill_id", billID)

	bill, err := s.store.GetBill(billID)
	if err != nil || bill == nil {
		return err
	}
	if s.deliverer != nil && bill.OrganizerID != "" {
		body := fmt.Sprintf("All payments received for %s (%s). The bill is settled! 🎉",
			bill.Data.Description, models.FormatAmount(bill.Data.TotalAmount, bill.Data.Currency))
		if _, err := s.deliverer.Deliver(ctx, bill.OrganizerID, body); err != nil {
			slog.Warn("Failed to notify organizer of settled bill", "error", err, "bill_id", billID)
		}
	}
	return nil
}
