package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SMSSender is the outbound SMS interface (for production and testing).
type SMSSender interface {
	SendSMS(ctx context.Context, to string, body string) error
}

// TwilioOpts holds configuration options for the Twilio SMS client.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioOption defines a configuration option for the Twilio SMS client.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number in E.164 format.
func WithFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromNumber = from }
}

// TwilioClient wraps the Twilio REST API for SMS delivery.
type TwilioClient struct {
	client     *twilio.RestClient
	fromNumber string
}

// NewTwilioClient creates a Twilio SMS client, falling back to the standard
// TWILIO_* environment variables for any option not provided.
func NewTwilioClient(opts ...TwilioOption) (*TwilioClient, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioClient{client: client, fromNumber: cfg.FromNumber}, nil
}

// SendSMS sends a plain SMS using the Twilio API.
func (c *TwilioClient) SendSMS(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.fromNumber)
	params.SetBody(body)

	_, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendSMS failed", "to", to, "error", err)
		return fmt.Errorf("failed to send SMS to %s: %w", to, err)
	}

	slog.Debug("Twilio SMS sent", "to", to)
	return nil
}

// MockSMSClient records sent messages for tests.
type MockSMSClient struct {
	SentMessages []SentMessage
	Err          error
}

// SentMessage is one recorded outbound message.
type SentMessage struct {
	To   string
	Body string
}

func NewMockSMSClient() *MockSMSClient {
	return &MockSMSClient{SentMessages: []SentMessage{}}
}

func (m *MockSMSClient) SendSMS(ctx context.Context, to string, body string) error {
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}
