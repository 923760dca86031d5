package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/splitkaro/billpipe/internal/models"
)

// SMSService implements Service over the Twilio SMS client. It is the
// fallback tier; inbound SMS arrives through the HTTP webhook, not a live
// connection, so Start is a no-op.
type SMSService struct {
	client   SMSSender
	receipts chan models.Receipt
	messages chan models.Message
	done     chan struct{}
	mu       sync.RWMutex
	stopped  bool
}

// NewSMSService creates a new SMSService wrapping the given SMSSender.
func NewSMSService(client SMSSender) *SMSService {
	return &SMSService{
		client:   client,
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		messages: make(chan models.Message, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient strips formatting from a phone number and
// validates the remaining digits. SMS recipients keep the leading plus.
func (s *SMSService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	return "+" + canonical, nil
}

// Start is a no-op; inbound SMS arrives via webhook.
func (s *SMSService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the channels and stops the service.
func (s *SMSService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.receipts)
		close(s.messages)
	}()

	return nil
}

// SendMessage sends an SMS and emits a sent receipt.
func (s *SMSService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("SMSService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendSMS(ctx, canonicalTo, body); err != nil {
		return err
	}

	s.safeEmitReceipt(models.Receipt{To: canonicalTo, Method: models.DeliveryMethodSMS, Status: "sent", Time: time.Now().Unix()})
	return nil
}

// EmitInboundMessage feeds a webhook-delivered inbound message into the
// Messages channel.
func (s *SMSService) EmitInboundMessage(msg models.Message) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		slog.Warn("SMSService dropping inbound message (service stopped)", "from", msg.UserID)
		return
	}

	select {
	case s.messages <- msg:
		slog.Debug("SMSService emitted inbound message", "from", msg.UserID)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("SMSService messages channel blocked, dropping message", "from", msg.UserID)
	}
}

// Receipts returns the channel for sent message receipts.
func (s *SMSService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Messages returns the channel for inbound messages.
func (s *SMSService) Messages() <-chan models.Message {
	return s.messages
}

func (s *SMSService) safeEmitReceipt(receipt models.Receipt) {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return
	}

	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
	}
}
