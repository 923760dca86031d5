package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/splitkaro/billpipe/internal/models"
)

// WebhookPayload is an inbound message delivered over HTTP.
type WebhookPayload struct {
	UserID      string `json:"user_id"`
	MessageID   string `json:"message_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	SenderPhone string `json:"sender_phone"`
	SessionID   string `json:"session_id"`
}

// Validate checks the webhook payload before it enters the engine.
func (p WebhookPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.UserID, validation.Required),
		validation.Field(&p.Content, validation.Required, validation.Length(1, models.MaxMessageContentLength)),
		validation.Field(&p.MessageType, validation.In("", "text", "voice", "image")),
	)
}

// webhookHandler accepts a JSON inbound message and returns the engine's
// reply.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var payload WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := payload.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	msg := messageFromPayload(payload)
	response := s.manager.ProcessMessage(r.Context(), payload.UserID, msg)
	writeJSONResponse(w, http.StatusOK, models.Success(response))
}

func messageFromPayload(payload WebhookPayload) models.Message {
	messageType := models.MessageType(payload.MessageType)
	if payload.MessageType == "" {
		messageType = models.MessageTypeText
	}
	messageID := payload.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	metadata := map[string]string{}
	if payload.SenderPhone != "" {
		metadata["sender_phone"] = payload.SenderPhone
	}
	if payload.SessionID != "" {
		metadata["session_id"] = payload.SessionID
	}
	return models.Message{
		ID:          messageID,
		UserID:      payload.UserID,
		Content:     payload.Content,
		MessageType: messageType,
		Timestamp:   time.Now(),
		Metadata:    metadata,
	}
}

// smsWebhookHandler accepts Twilio's form-encoded inbound SMS callback.
func (s *Server) smsWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	if s.sms == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("SMS channel not configured"))
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse SMS webhook form", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Bad request"))
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("SMS webhook missing fields", "from_set", from != "", "body_set", body != "")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required fields"))
		return
	}

	slog.Info("Inbound SMS received", "from", from)
	s.sms.EmitInboundMessage(models.Message{
		ID:          uuid.NewString(),
		UserID:      from,
		Content:     body,
		MessageType: models.MessageTypeText,
		Timestamp:   time.Now(),
		Metadata:    map[string]string{"sender_phone": from, "channel": "sms"},
	})
	w.WriteHeader(http.StatusOK)
}

// healthHandler runs the registered health checks.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	report := s.health.RunHealthChecks(ctx)

	status := http.StatusOK
	if report.OverallStatus != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, models.Success(report))
}

// errorSummaryHandler returns the monitor's aggregate error metrics.
func (s *Server) errorSummaryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.monitor.GetErrorSummary()))
}

// resetPayload identifies the conversation to reset.
type resetPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (p resetPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.UserID, validation.Required),
	)
}

// resetConversationHandler forces a conversation back to the start.
func (s *Server) resetConversationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	var payload resetPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := payload.Validate(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	sessionID := payload.SessionID
	if sessionID == "" {
		sessionID = "default"
	}

	state, err := s.manager.ResetConversation(payload.UserID, sessionID)
	if err != nil {
		slog.Error("Failed to reset conversation", "error", err, "user_id", payload.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Conversation reset", state))
}

// conversationContextHandler returns the debugging snapshot of a session.
func (s *Server) conversationContextHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("user_id is required"))
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = "default"
	}

	snapshot, err := s.manager.GetConversationContext(userID, sessionID)
	if err != nil {
		if err == models.ErrStateNotFound {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
			return
		}
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(snapshot))
}
