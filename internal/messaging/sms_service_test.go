package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/splitkaro/billpipe/internal/models"
)

func TestSMSServiceSendMessage(t *testing.T) {
	client := NewMockSMSClient()
	svc := NewSMSService(client)
	defer svc.Stop()

	if err := svc.SendMessage(context.Background(), "(987) 654-3210", "pay up"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(client.SentMessages) != 1 {
		t.Fatalf("Expected 1 sent message, got %d", len(client.SentMessages))
	}
	if client.SentMessages[0].To != "+9876543210" {
		t.Errorf("Expected canonicalized recipient with plus, got %q", client.SentMessages[0].To)
	}

	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != "sent" || receipt.Method != models.DeliveryMethodSMS {
			t.Errorf("Unexpected receipt %+v", receipt)
		}
	case <-time.After(time.Second):
		t.Error("Expected a sent receipt")
	}
}

func TestSMSServiceSendMessageClientError(t *testing.T) {
	client := NewMockSMSClient()
	client.Err = errors.New("twilio unavailable")
	svc := NewSMSService(client)
	defer svc.Stop()

	if err := svc.SendMessage(context.Background(), "+919876543210", "pay up"); err == nil {
		t.Error("Expected client error to propagate")
	}
}

func TestSMSServiceSendAfterStop(t *testing.T) {
	svc := NewSMSService(NewMockSMSClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+919876543210", "pay up"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("Expected ErrServiceStopped, got %v", err)
	}
}

func TestSMSServiceStopIsIdempotent(t *testing.T) {
	svc := NewSMSService(NewMockSMSClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("First Stop failed: %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}
}

func TestSMSServiceEmitInboundMessage(t *testing.T) {
	svc := NewSMSService(NewMockSMSClient())
	defer svc.Stop()

	msg := models.Message{
		ID:          "sms-1",
		UserID:      "+919876543210",
		Content:     "paid",
		MessageType: models.MessageTypeText,
		Timestamp:   time.Now(),
	}
	svc.EmitInboundMessage(msg)

	select {
	case got := <-svc.Messages():
		if got.ID != "sms-1" || got.Content != "paid" {
			t.Errorf("Unexpected inbound message %+v", got)
		}
	case <-time.After(time.Second):
		t.Error("Expected inbound message on channel")
	}
}

func TestSMSServiceEmitAfterStopDropsMessage(t *testing.T) {
	svc := NewSMSService(NewMockSMSClient())
	svc.Stop()
	// Must not panic on the closed service.
	svc.EmitInboundMessage(models.Message{ID: "late", UserID: "+919876543210", Content: "paid"})
}

func TestSMSServiceValidateRecipient(t *testing.T) {
	svc := NewSMSService(NewMockSMSClient())
	defer svc.Stop()

	got, err := svc.ValidateAndCanonicalizeRecipient("+91 98765 43210")
	if err != nil {
		t.Fatalf("ValidateAndCanonicalizeRecipient failed: %v", err)
	}
	if got != "+919876543210" {
		t.Errorf("Expected +919876543210, got %q", got)
	}

	if _, err := svc.ValidateAndCanonicalizeRecipient("abc"); err == nil {
		t.Error("Expected validation error for non-numeric recipient")
	}
}
