// Package messaging provides pluggable outbound delivery channels for
// BillPipe and the two tier deliverer that routes between them.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/splitkaro/billpipe/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for receipt and message channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a message delivery channel.
// It supports sending messages and provides channels for receipt and
// inbound message events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Each service implements its own recipient rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins any background processing (e.g., event polling).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of delivery receipt events.
	Receipts() <-chan models.Receipt

	// Messages returns a channel of inbound user messages.
	Messages() <-chan models.Message
}

// canonicalizePhone strips non-digit characters and validates the result.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("invalid phone number: no digits found")
	}
	if len(canonical) < 6 {
		return "", errors.New("invalid phone number: too short (minimum 6 digits required)")
	}
	return canonical, nil
}
