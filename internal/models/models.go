// Package models defines the core data structures for BillPipe.
//
// It includes the inbound message and outbound response types shared across
// modules, plus validation helpers and sentinel errors.
package models

import (
	"errors"
	"time"
)

// MessageType identifies the modality of an inbound message. Voice and image
// content arrives pre-transcribed or pre-captioned by the AI client layer, so
// Content is always text by the time it reaches the conversation engine.
type MessageType string

const (
	// MessageTypeText is a plain text message.
	MessageTypeText MessageType = "text"
	// MessageTypeVoice is a voice note (content carries the transcript).
	MessageTypeVoice MessageType = "voice"
	// MessageTypeImage is an image (content carries the extracted caption/OCR text).
	MessageTypeImage MessageType = "image"
)

// Validation constants for input validation
const (
	// MaxMessageContentLength defines the maximum allowed length for inbound message content
	MaxMessageContentLength = 4096
	// MaxResponseContentLength defines the maximum allowed length for outbound response content
	MaxResponseContentLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyUserID          = errors.New("user id cannot be empty")
	ErrEmptySessionID       = errors.New("session id cannot be empty")
	ErrEmptyMessageID       = errors.New("message id cannot be empty")
	ErrEmptyContent         = errors.New("message content cannot be empty")
	ErrContentTooLong       = errors.New("message content exceeds maximum length")
	ErrInvalidMessageType   = errors.New("invalid message type")
	ErrInvalidStep          = errors.New("unrecognized conversation step")
	ErrIncompleteContext    = errors.New("context missing required keys for step")
	ErrRetryCountOutOfRange = errors.New("retry count out of range")
	ErrStateNotFound        = errors.New("conversation state not found")
	ErrErrorEventNotFound   = errors.New("error event not found")
)

// IsValidMessageType checks if the given message type is supported.
func IsValidMessageType(mt MessageType) bool {
	switch mt {
	case MessageTypeText, MessageTypeVoice, MessageTypeImage:
		return true
	default:
		return false
	}
}

// Message represents one inbound event from a participant. Immutable once
// received.
type Message struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Content     string            `json:"content"`
	MessageType MessageType       `json:"message_type"`
	Timestamp   time.Time         `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Validate performs validation on an inbound Message.
func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrEmptyMessageID
	}
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	if m.Content == "" {
		return ErrEmptyContent
	}
	if len(m.Content) > MaxMessageContentLength {
		return ErrContentTooLong
	}
	if !IsValidMessageType(m.MessageType) {
		return ErrInvalidMessageType
	}
	return nil
}

// SenderPhone returns the sender phone number carried in message metadata,
// or empty if the transport did not provide one.
func (m *Message) SenderPhone() string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata["sender_phone"]
}

// Response represents one outbound reply. Metadata carries diagnostic tags
// such as error_type, recovery_type and conversation_step.
type Response struct {
	Content     string            `json:"content"`
	MessageType MessageType       `json:"message_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewTextResponse builds a plain text Response.
func NewTextResponse(content string) Response {
	return Response{Content: content, MessageType: MessageTypeText}
}

// WithMeta returns a copy of the response with the given metadata key set.
func (r Response) WithMeta(key, value string) Response {
	meta := make(map[string]string, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		meta[k] = v
	}
	meta[key] = value
	r.Metadata = meta
	return r
}

// Receipt records the delivery outcome for one outbound message.
type Receipt struct {
	To     string         `json:"to"`
	Method DeliveryMethod `json:"method"`
	Status string         `json:"status"`
	Time   int64          `json:"time"`
}
