package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/splitkaro/billpipe/internal/models"
)

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversationState(row rowScanner) (*models.ConversationState, error) {
	var state models.ConversationState
	var step, contextJSON string
	var lastError sql.NullString
	if err := row.Scan(&state.UserID, &state.SessionID, &step, &contextJSON,
		&state.RetryCount, &lastError, &state.CreatedAt, &state.UpdatedAt); err != nil {
		return nil, err
	}
	state.CurrentStep = models.ConversationStep(step)
	state.LastError = lastError.String
	if contextJSON != "" {
		if err := json.Unmarshal([]byte(contextJSON), &state.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}
	if state.Context == nil {
		state.Context = make(map[string]string)
	}
	return &state, nil
}

func scanPaymentRequests(rows *sql.Rows) ([]models.PaymentRequest, error) {
	var requests []models.PaymentRequest
	for rows.Next() {
		var req models.PaymentRequest
		var status, sentViaJSON string
		var paidAt sql.NullTime
		if err := rows.Scan(&req.ID, &req.BillID, &req.Participant, &req.PhoneNumber,
			&req.Amount, &req.UPILink, &status, &sentViaJSON, &req.CreatedAt, &paidAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment request row: %w", err)
		}
		req.Status = models.PaymentStatus(status)
		if sentViaJSON != "" {
			if err := json.Unmarshal([]byte(sentViaJSON), &req.SentVia); err != nil {
				return nil, fmt.Errorf("failed to unmarshal sent_via: %w", err)
			}
		}
		if paidAt.Valid {
			t := paidAt.Time
			req.PaidAt = &t
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// nilIfEmpty maps an empty string to SQL NULL.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
