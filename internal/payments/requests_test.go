package payments

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/splitkaro/billpipe/internal/messaging"
	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/store"
)

func TestBuildUPILink(t *testing.T) {
	link := BuildUPILink("asha@upi", "Asha", 45050, "Dinner")
	if !strings.HasPrefix(link, "upi://pay?") {
		t.Fatalf("Expected upi://pay link, got %q", link)
	}
	for _, want := range []string{"pa=asha%40upi", "pn=Asha", "am=450.50", "cu=INR", "tn=Dinner"} {
		if !strings.Contains(link, want) {
			t.Errorf("Expected link to contain %q, got %q", want, link)
		}
	}
}

func TestBuildUPILinkWithoutNote(t *testing.T) {
	link := BuildUPILink("asha@upi", "Asha", 100, "")
	if strings.Contains(link, "tn=") {
		t.Errorf("Expected no tn param for empty note, got %q", link)
	}
	if !strings.Contains(link, "am=1.00") {
		t.Errorf("Expected am=1.00, got %q", link)
	}
}

func TestBuildUPILinkPaddedPaise(t *testing.T) {
	link := BuildUPILink("asha@upi", "Asha", 50005, "")
	if !strings.Contains(link, "am=500.05") {
		t.Errorf("Expected zero padded paise, got %q", link)
	}
}

func testBill() models.Bill {
	return models.Bill{
		ID:          "bill-1",
		OrganizerID: "+919876500000",
		Data:        models.BillData{TotalAmount: 60000, Description: "Dinner", Currency: "INR"},
		Participants: []models.Participant{
			{Name: "Asha", PhoneNumber: "+919876543210", AmountOwed: 30000, PaymentStatus: models.PaymentStatusPending},
			{Name: "Ravi", PhoneNumber: "+919876543211", AmountOwed: 30000, PaymentStatus: models.PaymentStatusPending},
		},
		Status:    models.BillStatusActive,
		CreatedAt: time.Now(),
	}
}

func newTestDeliverer(st store.Store) (*messaging.Deliverer, *messaging.MockSMSClient) {
	waClient := messaging.NewMockSMSClient()
	primary := messaging.NewSMSService(waClient)
	return messaging.NewDeliverer(primary, nil, st), waClient
}

func TestDispatchRequestsSendsToAllParticipants(t *testing.T) {
	st := store.NewInMemoryStore()
	deliverer, client := newTestDeliverer(st)
	svc := NewRequestService(st, deliverer, "organizer@upi", "BillPipe")

	result, err := svc.DispatchRequests(context.Background(), testBill())
	if err != nil {
		t.Fatalf("DispatchRequests failed: %v", err)
	}
	if len(result.Sent) != 2 || len(result.Failed) != 0 {
		t.Fatalf("Expected 2 sent and 0 failed, got %d/%d", len(result.Sent), len(result.Failed))
	}
	if len(client.SentMessages) != 2 {
		t.Errorf("Expected 2 outbound messages, got %d", len(client.SentMessages))
	}
	if !strings.Contains(client.SentMessages[0].Body, "upi://pay?") {
		t.Errorf("Expected UPI link in message body, got %q", client.SentMessages[0].Body)
	}

	saved, err := st.GetPaymentRequestsByBill("bill-1")
	if err != nil {
		t.Fatalf("GetPaymentRequestsByBill failed: %v", err)
	}
	if len(saved) != 2 {
		t.Fatalf("Expected 2 persisted requests, got %d", len(saved))
	}
	for _, req := range saved {
		if req.Status != models.PaymentStatusSent {
			t.Errorf("Expected sent status for %s, got %s", req.Participant, req.Status)
		}
		if len(req.SentVia) != 1 {
			t.Errorf("Expected delivery method recorded for %s, got %v", req.Participant, req.SentVia)
		}
	}
}

func TestDispatchRequestsSkipsMissingPhone(t *testing.T) {
	st := store.NewInMemoryStore()
	deliverer, _ := newTestDeliverer(st)
	svc := NewRequestService(st, deliverer, "organizer@upi", "BillPipe")

	bill := testBill()
	bill.Participants[1].PhoneNumber = ""

	result, err := svc.DispatchRequests(context.Background(), bill)
	if err != nil {
		t.Fatalf("DispatchRequests failed: %v", err)
	}
	if len(result.Sent) != 1 {
		t.Errorf("Expected 1 sent, got %d", len(result.Sent))
	}
	if len(result.Failed) != 1 || result.Failed[0] != "Ravi" {
		t.Errorf("Expected Ravi in failed list, got %v", result.Failed)
	}
}

func TestDispatchRequestsRecordsDeliveryFailures(t *testing.T) {
	st := store.NewInMemoryStore()
	deliverer, client := newTestDeliverer(st)
	client.Err = context.DeadlineExceeded
	svc := NewRequestService(st, deliverer, "organizer@upi", "BillPipe")

	result, err := svc.DispatchRequests(context.Background(), testBill())
	if err != nil {
		t.Fatalf("DispatchRequests failed: %v", err)
	}
	if len(result.Sent) != 0 || len(result.Failed) != 2 {
		t.Fatalf("Expected 0 sent and 2 failed, got %d/%d", len(result.Sent), len(result.Failed))
	}

	saved, _ := st.GetPaymentRequestsByBill("bill-1")
	for _, req := range saved {
		if req.Status != models.PaymentStatusFailed {
			t.Errorf("Expected failed status persisted, got %s", req.Status)
		}
	}
}
