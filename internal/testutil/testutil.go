// Package testutil provides common test utilities and helpers for BillPipe tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/splitkaro/billpipe/internal/api"
	"github.com/splitkaro/billpipe/internal/contacts"
	"github.com/splitkaro/billpipe/internal/conversation"
	"github.com/splitkaro/billpipe/internal/extract"
	"github.com/splitkaro/billpipe/internal/messaging"
	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/monitor"
	"github.com/splitkaro/billpipe/internal/payments"
	"github.com/splitkaro/billpipe/internal/recovery"
	"github.com/splitkaro/billpipe/internal/store"
	"github.com/splitkaro/billpipe/internal/whatsapp"
)

// NewTestServer creates a test API server with in-memory dependencies.
// This centralizes the test server creation logic used across multiple test files.
func NewTestServer() (*api.Server, store.Store) {
	st := store.NewInMemoryStore()

	primary := messaging.NewWhatsAppService(whatsapp.NewMockClient())
	sms := messaging.NewSMSService(messaging.NewMockSMSClient())
	deliverer := messaging.NewDeliverer(primary, sms, st)

	book := contacts.NewBook(st)
	requests := payments.NewRequestService(st, deliverer, "test@upi", "Test Payee")
	confirmations := payments.NewConfirmationService(st, deliverer)

	mon := monitor.NewErrorMonitor(monitor.DefaultWindowSize)
	errorHandler := conversation.NewErrorHandler(recovery.NewEngine(), mon)
	handlers := conversation.NewHandlers(st, extract.NewStubExtractor(), book, requests)
	machine := conversation.NewStateMachine(handlers)
	manager := conversation.NewManager(st, machine, errorHandler, confirmations)

	health := monitor.NewHealthChecker()
	return api.NewServer(manager, mon, health, deliverer, sms), st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// SeedConversationState saves a conversation state at the given step for testing.
func SeedConversationState(t *testing.T, st store.Store, userID, sessionID string, step models.ConversationStep) {
	t.Helper()
	state := models.NewConversationState(userID, sessionID)
	state.CurrentStep = step
	if err := st.SaveConversationState(*state); err != nil {
		t.Fatalf("failed to seed conversation state: %v", err)
	}
}

// AssertReceiptCount validates the number of receipts recorded in the store.
func AssertReceiptCount(t *testing.T, st *store.InMemoryStore, expected int, context string) {
	t.Helper()
	receipts := st.GetReceipts()
	if len(receipts) != expected {
		t.Errorf("%s: expected %d receipts, got %d", context, expected, len(receipts))
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
