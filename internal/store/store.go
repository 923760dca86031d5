// Package store provides storage backends for BillPipe.
//
// It includes an in-memory store for tests, SQLite and PostgreSQL stores for
// persistent deployments, and a Redis-backed conversation-state overlay.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/splitkaro/billpipe/internal/models"
)

// Store is the persistence boundary the conversation engine depends on:
// a key-value conversation-state store plus simple relational lookups for
// contacts, bills and payment requests. Lookups that miss return (nil, nil);
// no transactional guarantee beyond last-write-wins is assumed.
type Store interface {
	// Conversation state, keyed by (user_id, session_id).
	GetConversationState(userID, sessionID string) (*models.ConversationState, error)
	SaveConversationState(state models.ConversationState) error
	DeleteConversationState(userID, sessionID string) error
	// DeleteExpiredConversationStates removes states untouched since cutoff
	// and returns how many were removed.
	DeleteExpiredConversationStates(cutoff time.Time) (int, error)

	// Contacts.
	SaveContact(contact models.Contact) error
	GetContactsByOwner(ownerID string) ([]models.Contact, error)
	FindContactByPhone(ownerID, phoneNumber string) (*models.Contact, error)

	// Bills.
	SaveBill(bill models.Bill) error
	GetBill(billID string) (*models.Bill, error)
	UpdateBillStatus(billID string, status models.BillStatus) error

	// Payment requests.
	SavePaymentRequest(req models.PaymentRequest) error
	GetPaymentRequestsByBill(billID string) ([]models.PaymentRequest, error)
	UpdatePaymentRequestStatus(requestID string, status models.PaymentStatus, paidAt *time.Time) error
	FindPendingRequestsByPhone(phoneNumber string) ([]models.PaymentRequest, error)

	// Delivery receipts.
	AddReceipt(receipt models.Receipt) error

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisURL sets the Redis connection URL for the state overlay.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.DSN = url }
}

// DetectDSNType classifies a DSN as "postgres", "redis", or "sqlite" (file
// paths default to SQLite).
func DetectDSNType(dsn string) string {
	switch {
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host="):
		return "postgres"
	case strings.HasPrefix(dsn, "redis://") || strings.HasPrefix(dsn, "rediss://"):
		return "redis"
	default:
		return "sqlite"
	}
}

// InMemoryStore is a mutex-guarded in-memory Store used in tests and as the
// default when no DSN is configured.
type InMemoryStore struct {
	mu       sync.Mutex
	states   map[string]models.ConversationState
	contacts map[string][]models.Contact
	bills    map[string]models.Bill
	requests map[string]models.PaymentRequest
	receipts []models.Receipt
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		states:   make(map[string]models.ConversationState),
		contacts: make(map[string][]models.Contact),
		bills:    make(map[string]models.Bill),
		requests: make(map[string]models.PaymentRequest),
	}
}

func stateKey(userID, sessionID string) string {
	return userID + "|" + sessionID
}

// GetConversationState retrieves a conversation state, or (nil, nil) when it
// does not exist.
func (s *InMemoryStore) GetConversationState(userID, sessionID string) (*models.ConversationState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[stateKey(userID, sessionID)]
	if !ok {
		return nil, nil
	}
	copied := state
	copied.Context = copyContext(state.Context)
	return &copied, nil
}

// SaveConversationState stores or replaces a conversation state.
func (s *InMemoryStore) SaveConversationState(state models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.Context = copyContext(state.Context)
	s.states[stateKey(state.UserID, state.SessionID)] = state
	return nil
}

// DeleteConversationState removes a conversation state if present.
func (s *InMemoryStore) DeleteConversationState(userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, stateKey(userID, sessionID))
	return nil
}

// DeleteExpiredConversationStates removes states not updated since cutoff.
func (s *InMemoryStore) DeleteExpiredConversationStates(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, state := range s.states {
		if state.UpdatedAt.Before(cutoff) {
			delete(s.states, key)
			removed++
		}
	}
	return removed, nil
}

// SaveContact stores a contact, replacing any entry with the same id.
func (s *InMemoryStore) SaveContact(contact models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.contacts[contact.OwnerID]
	for i, existing := range list {
		if existing.ID == contact.ID {
			list[i] = contact
			return nil
		}
	}
	s.contacts[contact.OwnerID] = append(list, contact)
	return nil
}

// GetContactsByOwner returns all contacts saved by a user.
func (s *InMemoryStore) GetContactsByOwner(ownerID string) ([]models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Contact(nil), s.contacts[ownerID]...), nil
}

// FindContactByPhone finds a user's contact by formatted phone number.
func (s *InMemoryStore) FindContactByPhone(ownerID, phoneNumber string) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, contact := range s.contacts[ownerID] {
		if contact.PhoneNumber == phoneNumber {
			copied := contact
			return &copied, nil
		}
	}
	return nil, nil
}

// SaveBill stores or replaces a bill.
func (s *InMemoryStore) SaveBill(bill models.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bills[bill.ID] = bill
	return nil
}

// GetBill retrieves a bill by id, or (nil, nil) when absent.
func (s *InMemoryStore) GetBill(billID string) (*models.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bill, ok := s.bills[billID]
	if !ok {
		return nil, nil
	}
	copied := bill
	return &copied, nil
}

// UpdateBillStatus updates a bill's lifecycle status.
func (s *InMemoryStore) UpdateBillStatus(billID string, status models.BillStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bill, ok := s.bills[billID]
	if !ok {
		return models.ErrStateNotFound
	}
	bill.Status = status
	s.bills[billID] = bill
	return nil
}

// SavePaymentRequest stores or replaces a payment request.
func (s *InMemoryStore) SavePaymentRequest(req models.PaymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

// GetPaymentRequestsByBill returns all payment requests for a bill.
func (s *InMemoryStore) GetPaymentRequestsByBill(billID string) ([]models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentRequest
	for _, req := range s.requests {
		if req.BillID == billID {
			out = append(out, req)
		}
	}
	return out, nil
}

// UpdatePaymentRequestStatus updates a payment request's status.
func (s *InMemoryStore) UpdatePaymentRequestStatus(requestID string, status models.PaymentStatus, paidAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return models.ErrStateNotFound
	}
	req.Status = status
	req.PaidAt = paidAt
	s.requests[requestID] = req
	return nil
}

// FindPendingRequestsByPhone returns unconfirmed payment requests addressed
// to the given phone number.
func (s *InMemoryStore) FindPendingRequestsByPhone(phoneNumber string) ([]models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentRequest
	for _, req := range s.requests {
		if req.PhoneNumber == phoneNumber && (req.Status == models.PaymentStatusPending || req.Status == models.PaymentStatusSent) {
			out = append(out, req)
		}
	}
	return out, nil
}

// AddReceipt records a delivery receipt.
func (s *InMemoryStore) AddReceipt(receipt models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, receipt)
	return nil
}

// GetReceipts returns all recorded receipts.
func (s *InMemoryStore) GetReceipts() []models.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Receipt(nil), s.receipts...)
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

func copyContext(ctx map[string]string) map[string]string {
	if ctx == nil {
		return nil
	}
	out := make(map[string]string, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}
