// Package payments sends payment requests with UPI deep links and tracks
// participant confirmations against them.
package payments

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/splitkaro/billpipe/internal/messaging"
	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/store"
)

// BuildUPILink builds a upi://pay deep link for the given payee and amount.
// The amount is in paise and rendered as rupees in the link.
func BuildUPILink(payeeVPA, payeeName string, amountPaise int64, note string) string {
	params := url.Values{}
	params.Set("pa", payeeVPA)
	params.Set("pn", payeeName)
	params.Set("am", fmt.Sprintf("%d.%02d", amountPaise/100, amountPaise%100))
	params.Set("cu", "INR")
	if note != "" {
		params.Set("tn", note)
	}
	return "upi://pay?" + params.Encode()
}

// RequestService creates and dispatches payment requests for a bill.
type RequestService struct {
	store     store.Store
	deliverer *messaging.Deliverer
	payeeVPA  string
	payeeName string
}

// NewRequestService creates a payment request service. payeeVPA is the UPI
// address payments land in; payeeName is shown in the payer's UPI app.
func NewRequestService(st store.Store, deliverer *messaging.Deliverer, payeeVPA, payeeName string) *RequestService {
	return &RequestService{store: st, deliverer: deliverer, payeeVPA: payeeVPA, payeeName: payeeName}
}

// DispatchResult summarizes one round of payment request sends.
type DispatchResult struct {
	Sent   []models.PaymentRequest
	Failed []string // participant names whose sends failed on both channels
}

// DispatchRequests sends a payment request to every participant on the bill
// with a known phone number. A delivery failure for one participant does not
// stop the rest; failed names are reported back for the organizer.
func (s *RequestService) DispatchRequests(ctx context.Context, bill models.Bill) (DispatchResult, error) {
	slog.Debug("RequestService DispatchRequests invoked", "bill_id", bill.ID, "participants", len(bill.Participants))

	var result DispatchResult
	for _, p := range bill.Participants {
		if p.PhoneNumber == "" {
			slog.Warn("RequestService skipping participant without phone", "bill_id", bill.ID, "name", p.Name)
			result.Failed = append(result.Failed, p.Name)
			continue
		}

		req := models.PaymentRequest{
			ID:          uuid.NewString(),
			BillID:      bill.ID,
			Participant: p.Name,
			PhoneNumber: p.PhoneNumber,
			Amount:      p.AmountOwed,
			UPILink:     BuildUPILink(s.payeeVPA, s.payeeName, p.AmountOwed, bill.Data.Description),
			Status:      models.PaymentStatusPending,
			CreatedAt:   time.Now(),
		}

		body := requestMessageBody(bill, p, req.UPILink)
		delivery, err := s.deliverer.Deliver(ctx, p.PhoneNumber, body)
		if err != nil {
			slog.Error("RequestService delivery failed", "error", err, "bill_id", bill.ID, "name", p.Name)
			req.Status = models.PaymentStatusFailed
			result.Failed = append(result.Failed, p.Name)
		} else {
			req.Status = models.PaymentStatusSent
			req.SentVia = append(req.SentVia, delivery.MethodUsed)
		}

		if err := s.store.SavePaymentRequest(req); err != nil {
			return result, fmt.Errorf("failed to persist payment request for %s: %w", p.Name, err)
		}
		if req.Status == models.PaymentStatusSent {
			result.Sent = append(result.Sent, req)
		}
	}

	slog.Info("RequestService dispatch completed", "bill_id", bill.ID, "sent", len(result.Sent), "failed", len(result.Failed))
	return result, nil
}

func requestMessageBody(bill models.Bill, p models.Participant, upiLink string) string {
	return fmt.Sprintf("Hi %s! You owe %s for %s.\nPay here: %s\nReply 'paid' once you've paid.",
		p.Name, models.FormatAmount(p.AmountOwed, bill.Data.Currency), bill.Data.Description, upiLink)
}
