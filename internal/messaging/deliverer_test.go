package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/store"
)

// stubService is a minimal Service for deliverer tests.
type stubService struct {
	err   error
	calls int
	last  string
}

func (s *stubService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}

func (s *stubService) SendMessage(ctx context.Context, to string, body string) error {
	s.calls++
	s.last = to
	return s.err
}

func (s *stubService) Start(ctx context.Context) error { return nil }
func (s *stubService) Stop() error                     { return nil }
func (s *stubService) Receipts() <-chan models.Receipt { return nil }
func (s *stubService) Messages() <-chan models.Message { return nil }

func TestDeliverPrimarySuccess(t *testing.T) {
	primary := &stubService{}
	fallback := &stubService{}
	st := store.NewInMemoryStore()
	d := NewDeliverer(primary, fallback, st)

	result, err := d.Deliver(context.Background(), "+919876543210", "hello")
	if err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if !result.Success || result.MethodUsed != models.DeliveryMethodWhatsApp {
		t.Errorf("Expected whatsapp delivery, got %+v", result)
	}
	if fallback.calls != 0 {
		t.Errorf("Fallback should not be tried when primary succeeds")
	}

	receipts := st.GetReceipts()
	if len(receipts) != 1 || receipts[0].Status != "sent" || receipts[0].Method != models.DeliveryMethodWhatsApp {
		t.Errorf("Expected one sent whatsapp receipt, got %+v", receipts)
	}
}

func TestDeliverFallsBackToSMS(t *testing.T) {
	primary := &stubService{err: errors.New("whatsapp connection lost")}
	fallback := &stubService{}
	st := store.NewInMemoryStore()
	d := NewDeliverer(primary, fallback, st)

	result, err := d.Deliver(context.Background(), "+919876543210", "hello")
	if err != nil {
		t.Fatalf("Deliver should succeed via fallback: %v", err)
	}
	if result.MethodUsed != models.DeliveryMethodSMS {
		t.Errorf("Expected SMS fallback, got %v", result.MethodUsed)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Errorf("Expected both channels tried once, got primary=%d fallback=%d", primary.calls, fallback.calls)
	}
}

func TestDeliverAllChannelsFailed(t *testing.T) {
	primary := &stubService{err: errors.New("whatsapp down")}
	fallback := &stubService{err: errors.New("twilio down")}
	st := store.NewInMemoryStore()
	d := NewDeliverer(primary, fallback, st)

	_, err := d.Deliver(context.Background(), "+919876543210", "hello")
	if !errors.Is(err, ErrAllChannelsFailed) {
		t.Fatalf("Expected ErrAllChannelsFailed, got %v", err)
	}

	receipts := st.GetReceipts()
	if len(receipts) != 1 || receipts[0].Status != "failed" {
		t.Errorf("Expected one failed receipt, got %+v", receipts)
	}
}

func TestDeliverNoFallbackConfigured(t *testing.T) {
	primary := &stubService{err: errors.New("whatsapp down")}
	d := NewDeliverer(primary, nil, nil)

	_, err := d.Deliver(context.Background(), "+919876543210", "hello")
	if !errors.Is(err, ErrAllChannelsFailed) {
		t.Errorf("Expected ErrAllChannelsFailed without fallback, got %v", err)
	}
}

func TestDeliverBreakerSkipsFailingPrimary(t *testing.T) {
	primary := &stubService{err: errors.New("whatsapp down")}
	fallback := &stubService{}
	d := NewDeliverer(primary, fallback, nil)

	// Trip the primary breaker, then confirm primary is no longer invoked.
	for i := 0; i < 5; i++ {
		if _, err := d.Deliver(context.Background(), "+919876543210", "hello"); err != nil {
			t.Fatalf("Deliver %d failed: %v", i, err)
		}
	}
	callsWhenOpen := primary.calls
	if _, err := d.Deliver(context.Background(), "+919876543210", "hello"); err != nil {
		t.Fatalf("Deliver with open breaker failed: %v", err)
	}
	if primary.calls != callsWhenOpen {
		t.Errorf("Primary should be skipped once its breaker is open")
	}
}

func TestBreakerStatus(t *testing.T) {
	d := NewDeliverer(&stubService{}, &stubService{}, nil)
	status := d.BreakerStatus()
	for _, channel := range []string{"whatsapp", "sms"} {
		info, ok := status[channel].(map[string]interface{})
		if !ok {
			t.Fatalf("Expected breaker status map for %s, got %T", channel, status[channel])
		}
		if info["state"] != "closed" {
			t.Errorf("Expected %s breaker closed, got %v", channel, info["state"])
		}
	}
}

func TestCanonicalizePhone(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "+919876543210", want: "919876543210"},
		{input: "(987) 654-3210", want: "9876543210"},
		{input: "", wantErr: true},
		{input: "no digits here", wantErr: true},
		{input: "12345", wantErr: true},
	}
	for _, tt := range tests {
		got, err := canonicalizePhone(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("canonicalizePhone(%q) expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("canonicalizePhone(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("canonicalizePhone(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
