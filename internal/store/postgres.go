package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/splitkaro/billpipe/internal/models"
)

// Connection pool settings for the Postgres store.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store over a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store with the given DSN and
// applies migrations.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetConversationState(userID, sessionID string) (*models.ConversationState, error) {
	row := s.db.QueryRow(
		`SELECT user_id, session_id, current_step, context, retry_count, last_error, created_at, updated_at
		 FROM conversation_states WHERE user_id = $1 AND session_id = $2`, userID, sessionID)
	state, err := scanConversationState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to query conversation state: %w", err)
	}
	return state, nil
}

func (s *PostgresStore) SaveConversationState(state models.ConversationState) error {
	contextJSON, err := json.Marshal(state.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO conversation_states (user_id, session_id, current_step, context, retry_count, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (user_id, session_id) DO UPDATE SET
		   current_step = EXCLUDED.current_step,
		   context = EXCLUDED.context,
		   retry_count = EXCLUDED.retry_count,
		   last_error = EXCLUDED.last_error,
		   updated_at = EXCLUDED.updated_at`,
		state.UserID, state.SessionID, string(state.CurrentStep), string(contextJSON),
		state.RetryCount, nilIfEmpty(state.LastError), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "user_id", state.UserID)
		return fmt.Errorf("failed to save conversation state: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteConversationState(userID, sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_states WHERE user_id = $1 AND session_id = $2`, userID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation state: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpiredConversationStates(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM conversation_states WHERE updated_at < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore DeleteExpiredConversationStates failed", "error", err)
		return 0, fmt.Errorf("failed to delete expired conversation states: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *PostgresStore) SaveContact(contact models.Contact) error {
	_, err := s.db.Exec(
		`INSERT INTO contacts (id, owner_id, name, phone_number, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone_number = EXCLUDED.phone_number`,
		contact.ID, contact.OwnerID, contact.Name, contact.PhoneNumber, contact.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save contact: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetContactsByOwner(ownerID string) ([]models.Contact, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_id, name, phone_number, created_at FROM contacts WHERE owner_id = $1`, ownerID)
	if err != nil {
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

func (s *PostgresStore) FindContactByPhone(ownerID, phoneNumber string) (*models.Contact, error) {
	row := s.db.QueryRow(
		`SELECT id, owner_id, name, phone_number, created_at FROM contacts WHERE owner_id = $1 AND phone_number = $2`,
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

func (s *PostgresStore) SaveBill(bill models.Bill) error {
	dataJSON, err := json.Marshal(bill.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal bill data: %w", err)
	}
	participantsJSON, err := json.Marshal(bill.Participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO bills (id, organizer_id, data, participants, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, participants = EXCLUDED.participants, status = EXCLUDED.status`,
		bill.ID, bill.OrganizerID, string(dataJSON), string(participantsJSON), string(bill.Status), bill.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveBill failed", "error", err, "bill_id", bill.ID)
		return fmt.Errorf("failed to save bill: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBill(billID string) (*models.Bill, error) {
	row := s.db.QueryRow(
		`SELECT id, organizer_id, data, participants, status, created_at FROM bills WHERE id = $1`, billID)
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

func (s *PostgresStore) UpdateBillStatus(billID string, status models.BillStatus) error {
	res, err := s.db.Exec(`UPDATE bills SET status = $1 WHERE id = $2`, string(status), billID)
	if err != nil {
		return fmt.Errorf("failed to update bill status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return models.ErrStateNotFound
	}
	return nil
}

func (s *PostgresStore) SavePaymentRequest(req models.PaymentRequest) error {
	sentViaJSON, err := json.Marshal(req.SentVia)
	if err != nil {
		return fmt.Errorf("failed to marshal sent_via: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO payment_requests (id, bill_id, participant, phone_number, amount, upi_link, status, sent_via, created_at, paid_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, sent_via = EXCLUDED.sent_via, paid_at = EXCLUDED.paid_at`,
		req.ID, req.BillID, req.Participant, req.PhoneNumber, req.Amount, req.UPILink,
		string(req.Status), string(sentViaJSON), req.CreatedAt, req.PaidAt)
	if err != nil {
		return fmt.Errorf("failed to save payment request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPaymentRequestsByBill(billID string) ([]models.PaymentRequest, error) {
	rows, err := s.db.Query(
		`SELECT id, bill_id, participant, phone_number, amount, upi_link, status, sent_via, created_at, paid_at
		 FROM payment_requests WHERE bill_id = $1`, billID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment requests: %w", err)
	}
	defer rows.Close()
	return scanPaymentRequests(rows)
}

func (s *PostgresStore) UpdatePaymentRequestStatus(requestID string, status models.PaymentStatus, paidAt *time.Time) error {
	res, err := s.db.Exec(`UPDATE payment_requests SET status = $1, paid_at = $2 WHERE id = $3`,
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

func (s *PostgresStore) FindPendingRequestsByPhone(phoneNumber string) ([]models.PaymentRequest, error) {
	rows, err := s.db.Query(
		`SELECT id, bill_id, participant, phone_number, amount, upi_link, status, sent_via, created_at, paid_at
		 FROM payment_requests WHERE phone_number = $1 AND status IN ('pending', 'sent')`, phoneNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending payment requests: %w", err)
	}
	defer rows.Close()
	return scanPaymentRequests(rows)
}

func (s *PostgresStore) AddReceipt(receipt models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, method, status, time) VALUES ($1, $2, $3, $4)`,
		receipt.To, string(receipt.Method), receipt.Status, receipt.Time)
	if err != nil {
		return fmt.Errorf("failed to insert receipt for %s: %w", receipt.To, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
