// Package store provides storage backends for BillPipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/splitkaro/billpipe/internal/models"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store over a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file path).
// The containing directory is created if needed and migrations are applied.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied")

	return &SQLiteStore{db: db}, nil
}

// GetConversationState retrieves a conversation state, or (nil, nil) when
// absent.
func (s *SQLiteStore) GetConversationState(userID, sessionID string) (*models.ConversationState, error) {
	row := s.db.QueryRow(
		`SELECT user_id, session_id, current_step, context, retry_count, last_error, created_at, updated_at
		 FROM conversation_states WHERE user_id = ? AND session_id = ?`, userID, sessionID)
	state, err := scanConversationState(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversationState not found", "user_id", userID, "session_id", sessionID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to query conversation state: %w", err)
	}
	return state, nil
}

// SaveConversationState stores or updates a conversation state.
func (s *SQLiteStore) SaveConversationState(state models.ConversationState) error {
	contextJSON, err := json.Marshal(state.Context)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState marshal failed", "error", err, "user_id", state.UserID)
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO conversation_states (user_id, session_id, current_step, context, retry_count, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, session_id) DO UPDATE SET
		   current_step = excluded.current_step,
		   context = excluded.context,
		   retry_count = excluded.retry_count,
		   last_error = excluded.last_error,
		   updated_at = excluded.updated_at`,
		state.UserID, state.SessionID, string(state.CurrentStep), string(contextJSON),
		state.RetryCount, nilIfEmpty(state.LastError), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "user_id", state.UserID, "session_id", state.SessionID)
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "user_id", state.UserID, "session_id", state.SessionID, "step", state.CurrentStep)
	return nil
}

// DeleteConversationState removes a conversation state.
func (s *SQLiteStore) DeleteConversationState(userID, sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE user_id = ? AND session_id = ?`, userID, sessionID)
	if err != nil {
		slog.Error("SQLiteStore DeleteConversationState failed", "error", err, "user_id", userID)
		return fmt.Errorf("failed to delete conversation state: %w", err)
	}
	return nil
}

// DeleteExpiredConversationStates removes states not updated since cutoff.
func (s *SQLiteStore) DeleteExpiredConversationStates(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM conversation_states WHERE updated_at < ?`, cutoff)
	if err != nil {
		slog.Error("SQLiteStore DeleteExpiredConversationStates failed", "error", err)
		return 0, fmt.Errorf("failed to delete expired conversation states: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// SaveContact stores or replaces a contact.
func (s *SQLiteStore) SaveContact(contact models.Contact) error {
	_, err := s.db.Exec(
		`INSERT INTO contacts (id, owner_id, name, phone_number, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, phone_number = excluded.phone_number`,
		contact.ID, contact.OwnerID, contact.Name, contact.PhoneNumber, contact.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveContact failed", "error", err, "owner_id", contact.OwnerID)
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}

// GetContactsByOwner returns all contacts saved by a user.
func (s *SQLiteStore) GetContactsByOwner(ownerID string) ([]models.Contact, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_id, name, phone_number, created_at FROM contacts WHERE owner_id = ?`, ownerID)
	if err != nil {
		slog.Error("SQLiteStore GetContactsByOwner query failed", "error", err, "owner_id", ownerID)
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.PhoneNumber, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan contact row: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// FindContactByPhone finds a user's contact by formatted phone number.
func (s *SQLiteStore) FindContactByPhone(ownerID, phoneNumber string) (*models.Contact, error) {
	row := s.db.QueryRow(
		`SELECT id, owner_id, name, phone_number, created_at FROM contacts WHERE owner_id = ? AND phone_number = ?`,
		ownerID, phoneNumber)
	var c models.Contact
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.PhoneNumber, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query contact: %w", err)
	}
	return &c, nil
}

// SaveBill stores or replaces a bill with its participants.
func (s *SQLiteStore) SaveBill(bill models.Bill) error {
	dataJSON, err := json.Marshal(bill.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal bill data: %w", err)
	}
	participantsJSON, err := json.Marshal(bill.Participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO bills (id, organizer_id, data, participants, status, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, participants = excluded.participants, status = excluded.status`,
		bill.ID, bill.OrganizerID, string(dataJSON), string(participantsJSON), string(bill.Status), bill.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveBill failed", "error", err, "bill_id", bill.ID)
		return fmt.Errorf("failed to save bill: %w", err)
	}
	slog.Debug("SQLiteStore SaveBill succeeded", "bill_id", bill.ID, "status", bill.Status)
	return nil
}

// GetBill retrieves a bill by id, or (nil, nil) when absent.
func (s *SQLiteStore) GetBill(billID string) (*models.Bill, error) {
	row := s.db.QueryRow(
		`SELECT id, organizer_id, data, participants, status, created_at FROM bills WHERE id = ?`, billID)
	var bill models.Bill
	var dataJSON, participantsJSON, status string
	err := row.Scan(&bill.ID, &bill.OrganizerID, &dataJSON, &participantsJSON, &status, &bill.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query bill: %w", err)
	}
	if err := json.Unmarshal([]byte(dataJSON), &bill.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bill data: %w", err)
	}
	if err := json.Unmarshal([]byte(participantsJSON), &bill.Participants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal participants: %w", err)
	}
	bill.Status = models.BillStatus(status)
	return &bill, nil
}

// UpdateBillStatus updates a bill's lifecycle status.
func (s *SQLiteStore) UpdateBillStatus(billID string, status models.BillStatus) error {
	res, err := s.db.Exec(`UPDATE bills SET status = ? WHERE id = ?`, string(status), billID)
	if err != nil {
		return fmt.Errorf("failed to update bill status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return models.ErrStateNotFound
	}
	return nil
}

// SavePaymentRequest stores or replaces a payment request.
func (s *SQLiteStore) SavePaymentRequest(req models.PaymentRequest) error {
	sentViaJSON, err := json.Marshal(req.SentVia)
	if err != nil {
		return fmt.Errorf("failed to marshal sent_via: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO payment_requests (id, bill_id, participant, phone_number, amount, upi_link, status, sent_via, created_at, paid_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, sent_via = excluded.sent_via, paid_at = excluded.paid_at`,
		req.ID, req.BillID, req.Participant, req.PhoneNumber, req.Amount, req.UPILink,
		string(req.Status), string(sentViaJSON), req.CreatedAt, req.PaidAt)
	if err != nil {
		slog.Error("SQLiteStore SavePaymentRequest failed", "error", err, "request_id", req.ID)
		return fmt.Errorf("failed to save payment request: %w", err)
	}
	return nil
}

// GetPaymentRequestsByBill returns all payment requests for a bill.
func (s *SQLiteStore) GetPaymentRequestsByBill(billID string) ([]models.PaymentRequest, error) {
	rows, err := s.db.Query(
		`SELECT id, bill_id, participant, phone_number, amount, upi_link, status, sent_via, created_at, paid_at
		 FROM payment_requests WHERE bill_id = ?`, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment requests: %w", err)
	}
	defer rows.Close()
	return scanPaymentRequests(rows)
}

// UpdatePaymentRequestStatus updates a payment request's status.
func (s *SQLiteStore) UpdatePaymentRequestStatus(requestID string, status models.PaymentStatus, paidAt *time.Time) error {
	res, err := s.db.Exec(`UPDATE payment_requests SET status = ?, paid_at = ? WHERE id = ?`,
		string(status), paidAt, requestID)
	if err != nil {
		return fmt.Errorf("failed to update payment request: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return models.ErrStateNotFound
	}
	return nil
}

// FindPendingRequestsByPhone returns unconfirmed payment requests for a
// phone number.
func (s *SQLiteStore) FindPendingRequestsByPhone(phoneNumber string) ([]models.PaymentRequest, error) {
	rows, err := s.db.Query(
		`SELECT id, bill_id, participant, phone_number, amount, upi_link, status, sent_via, created_at, paid_at
		 FROM payment_requests WHERE phone_number = ? AND status IN ('pending', 'sent')`, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending payment requests: %w", err)
	}
	defer rows.Close()
	return scanPaymentRequests(rows)
}

// AddReceipt records a delivery receipt.
func (s *SQLiteStore) AddReceipt(receipt models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, method, status, time) VALUES (?, ?, ?, ?)`,
		receipt.To, string(receipt.Method), receipt.Status, receipt.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", receipt.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", receipt.To, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
