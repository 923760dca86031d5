package messaging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.Sender
	waClient *whatsapp.Client // access to underlying client for event handling
	receipts chan models.Receipt
	messages chan models.Message
	done     chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		messages: make(chan models.Message, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}

	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient strips formatting from a phone number and
// validates the remaining digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical, err := canonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	if canonical != recipient {
		slog.Debug("WhatsAppService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.receipts)
	close(s.messages)
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	s.receipts <- models.Receipt{To: canonicalTo, Method: models.DeliveryMethodWhatsApp, Status: "sent", Time: time.Now().Unix()}
	slog.Info("WhatsAppService message sent and receipt emitted", "to", canonicalTo)
	return nil
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Messages returns a channel of inbound user messages.
func (s *WhatsAppService) Messages() <-chan models.Message {
	return s.messages
}

// handleEvents registers a whatsmeow event handler and feeds events into the
// service channels until the context is cancelled.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		default:
			// ignore other event types
		}
	})

	slog.Debug("WhatsAppService event handler registered")
	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage converts incoming WhatsApp messages into models.Message.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var content string
	messageType := models.MessageTypeText
	switch {
	case evt.Message.Conversation != nil:
		content = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		content = *evt.Message.ExtendedTextMessage.Text
	case evt.Message.AudioMessage != nil:
		// Transcription happens downstream; forward a marker the engine
		// treats as voice input.
		content = "[voice message]"
		messageType = models.MessageTypeVoice
	case evt.Message.ImageMessage != nil:
		content = "[image]"
		messageType = models.MessageTypeImage
		if evt.Message.ImageMessage.Caption != nil && *evt.Message.ImageMessage.Caption != "" {
			content = *evt.Message.ImageMessage.Caption
		}
	default:
		slog.Debug("WhatsAppService ignoring unsupported message type", "from", evt.Info.Sender.String())
		return
	}

	fromNumber := evt.Info.Sender.User
	if !strings.HasPrefix(fromNumber, "+") {
		fromNumber = "+" + fromNumber
	}

	msg := models.Message{
		ID:          evt.Info.ID,
		UserID:      fromNumber,
		Content:     content,
		MessageType: messageType,
		Timestamp:   evt.Info.Timestamp,
		Metadata:    map[string]string{"sender_phone": fromNumber, "channel": "whatsapp"},
	}

	select {
	case s.messages <- msg:
		slog.Info("WhatsAppService incoming message forwarded", "from", msg.UserID, "type", msg.MessageType)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService messages channel blocked, dropping message", "from", msg.UserID)
	}
}

// handleMessageReceipt processes delivery and read receipts.
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	toNumber := evt.MessageSource.Sender.User
	if !strings.HasPrefix(toNumber, "+") {
		toNumber = "+" + toNumber
	}

	var status string
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = "delivered"
	case events.ReceiptTypeRead:
		status = "read"
	case events.ReceiptTypeReadSelf:
		return
	default:
		return
	}

	receipt := models.Receipt{
		To:     toNumber,
		Method: models.DeliveryMethodWhatsApp,
		Status: status,
		Time:   evt.Timestamp.Unix(),
	}

	select {
	case s.receipts <- receipt:
		slog.Debug("WhatsAppService receipt forwarded", "to", receipt.To, "status", receipt.Status)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService receipts channel blocked, dropping receipt", "to", receipt.To)
	}
}
