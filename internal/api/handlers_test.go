package api_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/splitkaro/billpipe/internal/models"
	"github.com/splitkaro/billpipe/internal/testutil"
)

func TestWebhookProcessesMessage(t *testing.T) {
	server, _ := testutil.NewTestServer()
	routes := server.Routes()

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/webhook", map[string]string{
		"user_id": "+919876500000",
		"content": "dinner bill 500",
	})
	rr := httptest.NewRecorder()
	routes.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "webhook")
	response := testutil.AssertJSONResponse(t, rr, "ok")

	data, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected result object in response, got %v", response)
	}
	content, _ := data["content"].(string)
	if !strings.Contains(content, "Is this correct?") {
		t.Errorf("Expected extraction summary in reply, got %q", content)
	}
}

func TestWebhookRejectsInvalidJSON(t *testing.T) {
	server, _ := testutil.NewTestServer()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid json")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestWebhookValidatesPayload(t *testing.T) {
	server, _ := testutil.NewTestServer()

	tests := []struct {
		name    string
		payload map[string]string
	}{
		{name: "missing user_id", payload: map[string]string{"content": "hello"}},
		{name: "missing content", payload: map[string]string{"user_id": "u1"}},
		{name: "bad message type", payload: map[string]string{"user_id": "u1", "content": "hi", "message_type": "video"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testutil.CreateHTTPRequest(t, http.MethodPost, "/webhook", tt.payload)
			rr := httptest.NewRecorder()
			server.Routes().ServeHTTP(rr, req)
			testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, tt.name)
		})
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	server, _ := testutil.NewTestServer()
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "webhook GET")
}

func TestSMSWebhook(t *testing.T) {
	server, _ := testutil.NewTestServer()

	form := url.Values{}
	form.Set("From", "+919876543210")
	form.Set("Body", "paid")
	req := httptest.NewRequest(http.MethodPost, "/webhook/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "sms webhook")
}

func TestSMSWebhookMissingFields(t *testing.T) {
	server, _ := testutil.NewTestServer()

	form := url.Values{}
	form.Set("From", "+919876543210")
	req := httptest.NewRequest(http.MethodPost, "/webhook/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "sms webhook missing body")
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := testutil.NewTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	testutil.AssertJSONResponse(t, rr, "ok")
}

func TestErrorSummaryEndpoint(t *testing.T) {
	server, _ := testutil.NewTestServer()
	req := httptest.NewRequest(http.MethodGet, "/errors/summary", nil)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "error summary")
	response := testutil.AssertJSONResponse(t, rr, "ok")
	data, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected summary object, got %v", response)
	}
	if _, ok := data["total_errors"]; !ok {
		t.Errorf("Expected total_errors in summary, got %v", data)
	}
}

func TestResetConversation(t *testing.T) {
	server, st := testutil.NewTestServer()
	testutil.SeedConversationState(t, st, "u1", "default", models.StepConfirmingBill)

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/conversations/reset", map[string]string{"user_id": "u1"})
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "reset")

	state, err := st.GetConversationState("u1", "default")
	if err != nil || state == nil {
		t.Fatalf("Expected fresh state after reset, err=%v", err)
	}
	if state.CurrentStep != models.StepInitial {
		t.Errorf("Expected INITIAL after reset, got %s", state.CurrentStep)
	}
}

func TestResetConversationRequiresUserID(t *testing.T) {
	server, _ := testutil.NewTestServer()
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/conversations/reset", map[string]string{})
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "reset without user_id")
}

func TestConversationContextEndpoint(t *testing.T) {
	server, st := testutil.NewTestServer()
	testutil.SeedConversationState(t, st, "u1", "default", models.StepInitial)

	req := httptest.NewRequest(http.MethodGet, "/conversations/context?user_id=u1", nil)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "context")
	response := testutil.AssertJSONResponse(t, rr, "ok")
	data, _ := response["result"].(map[string]interface{})
	if data["current_step"] != string(models.StepInitial) {
		t.Errorf("Expected initial step in snapshot, got %v", data["current_step"])
	}
}

func TestConversationContextNotFound(t *testing.T) {
	server, _ := testutil.NewTestServer()
	req := httptest.NewRequest(http.MethodGet, "/conversations/context?user_id=nobody", nil)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "context for unknown user")
}

func TestConversationContextRequiresUserID(t *testing.T) {
	server, _ := testutil.NewTestServer()
	req := httptest.NewRequest(http.MethodGet, "/conversations/context", nil)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "context without user_id")
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := testutil.NewTestServer()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "metrics")
}
