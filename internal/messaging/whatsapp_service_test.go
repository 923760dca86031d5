package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/whatsapp"
)

func TestWhatsAppServiceSendMessage(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	if err := svc.SendMessage(context.Background(), "+91 98765 43210", "hello"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != "sent" || receipt.Method != models.DeliveryMethodWhatsApp {
			t.Errorf("Unexpected receipt %+v", receipt)
		}
		if receipt.To != "919876543210" {
			t.Errorf("Expected canonicalized recipient, got %q", receipt.To)
		}
	case <-time.After(time.Second):
		t.Error("Expected a sent receipt")
	}
}

func TestWhatsAppServiceRejectsBadRecipient(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.SendMessage(context.Background(), "not a number", "hello"); err == nil {
		t.Error("Expected validation error")
	}
}

func TestWhatsAppServiceStartWithMock(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	if err := svc.Start(context.Background()); err != nil {
		t.Errorf("Start with mock client failed: %v", err)
	}
}
