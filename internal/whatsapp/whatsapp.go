// Package whatsapp wraps the Whatsmeow client behind the small Sender
// surface BillPipe needs: pair a device, stay connected, send a text to a
// phone number.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/splitkaro/billpipe/internal/contacts"
	"github.com/splitkaro/billpipe/internal/store"
)

const (
	// DefaultSessionPath is where the whatsmeow session database lives when
	// no DSN is configured.
	DefaultSessionPath = "/var/lib/billpipe/whatsmeow.db"
	// jidSuffix is the WhatsApp JID server for regular user accounts.
	jidSuffix = "s.whatsapp.net"
)

// Send guard errors.
var (
	ErrNotConnected   = errors.New("whatsapp client not connected")
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
)

// Sender is the outbound message interface (for production and testing).
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow session database DSN
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow session database DSN.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the client to use a numeric login code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client wraps the Whatsmeow client for modular use.
type Client struct {
	waClient *whatsmeow.Client
}

// NewClient opens the session store, pairs the device if this is a first
// run, and connects. The session database driver is auto-detected from the
// DSN.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp NewClient options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	waClient, err := openSession(sessionDSN(cfg.DBDSN))
	if err != nil {
		return nil, err
	}

	if waClient.Store.ID == nil {
		if err := pairDevice(waClient, cfg); err != nil {
			return nil, err
		}
	} else {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := waClient.Connect(); err != nil {
			slog.Error("Failed to connect to WhatsApp server", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
	}

	slog.Info("WhatsApp client connected successfully")
	return &Client{waClient: waClient}, nil
}

// sessionDSN fills in the default path and, for SQLite sessions, enables
// foreign keys, which whatsmeow requires for its schema integrity.
func sessionDSN(dsn string) string {
	if dsn == "" {
		dsn = DefaultSessionPath
		slog.Debug("No WhatsApp session DSN provided, using default SQLite path", "default_path", dsn)
	}
	if store.DetectDSNType(dsn) == "postgres" {
		return dsn
	}
	if !strings.Contains(dsn, "foreign_keys") {
		if strings.Contains(dsn, "?") {
			dsn += "&_foreign_keys=on"
		} else {
			dsn = "file:" + dsn + "?_foreign_keys=on"
		}
		slog.Debug("Enabled foreign keys on WhatsApp session DSN", "dsn", dsn)
	}
	return dsn
}

// openSession initializes the whatsmeow session container and loads the
// first (only) paired device.
func openSession(dsn string) (*whatsmeow.Client, error) {
	driver := "sqlite3"
	if store.DetectDSNType(dsn) == "postgres" {
		driver = "postgres"
	}
	slog.Debug("WhatsApp opening session store", "driver", driver)

	ctx := context.Background()
	container, err := sqlstore.New(ctx, driver, dsn, waLog.Stdout("SessionDB", "INFO", true))
	if err != nil {
		slog.Error("Failed to initialize WhatsApp session store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("Failed to get device from session store", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp session store: %w", err)
	}
	return whatsmeow.NewClient(deviceStore, waLog.Stdout("Session", "INFO", true)), nil
}

// pairDevice runs the first-time login flow, emitting the pairing code as a
// terminal QR block or, when configured, as a numeric code.
func pairDevice(waClient *whatsmeow.Client, cfg Opts) error {
	slog.Info("WhatsApp login required, starting pairing flow")
	qrChan, _ := waClient.GetQRChannel(context.Background())
	if err := waClient.Connect(); err != nil {
		slog.Error("Failed to connect to WhatsApp during login", "error", err)
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}

	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			slog.Error("Failed to create QR file", "error", err)
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}

	for evt := range qrChan {
		if evt.Event == "code" {
			slog.Debug("WhatsApp pairing code received")
			if cfg.NumericCode {
				fmt.Fprintln(writer, evt.Code)
			} else {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
			}
		} else {
			slog.Debug("WhatsApp login event", "event", evt.Event)
			fmt.Println("Login event:", evt.Event)
		}
	}
	return nil
}

// RecipientJID converts a phone number to the WhatsApp JID for that user.
// Numbers are normalized the same way the contact book normalizes them, so a
// bare 10-digit Indian number gets its country code before the JID is built.
func RecipientJID(phone string) (types.JID, error) {
	formatted, err := contacts.FormatPhoneNumber(phone)
	if err != nil {
		return types.JID{}, err
	}
	return types.NewJID(strings.TrimPrefix(formatted, "+"), jidSuffix), nil
}

// SendMessage sends a WhatsApp text message to the given phone number.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil || c.waClient.Store == nil {
		return ErrNotConnected
	}
	if to == "" {
		return ErrEmptyRecipient
	}
	if body == "" {
		return ErrEmptyBody
	}

	jid, err := RecipientJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	slog.Debug("Sending WhatsApp message", "to", jid.User, "body_length", len(body))
	if _, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", jid.User)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	return nil
}

// Close disconnects from the WhatsApp server. The session store keeps the
// pairing, so the next start reconnects without a new login.
func (c *Client) Close() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// GetClient returns the underlying whatsmeow client for event handling.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.waClient
}

// MockSent records one outbound message sent through the MockClient.
type MockSent struct {
	To   string
	Body string
}

// MockClient implements Sender without a network, recording what was sent.
type MockClient struct {
	Sent []MockSent
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("MockClient send", "to", to, "body_length", len(body))
	m.Sent = append(m.Sent, MockSent{To: to, Body: body})
	return nil
}
