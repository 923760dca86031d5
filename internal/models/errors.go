// Package models defines error taxonomy types for BillPipe.
package models

import "time"

// ErrorType is the five-way error taxonomy every raised fault is classified
// into. Categories are mutually exclusive by classifier precedence.
type ErrorType string

const (
	ErrorTypeInputProcessing ErrorType = "input_processing"
	ErrorTypeExternalService ErrorType = "external_service"
	ErrorTypeBusinessLogic   ErrorType = "business_logic"
	ErrorTypeDatabase        ErrorType = "database"
	ErrorTypeValidation      ErrorType = "validation"
)

// ErrorSeverity ranks error events for monitoring and alerting.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorEvent is a structured monitoring record created for every logged
// fault. Events live in a bounded rolling window; only the Resolved flag and
// ResolutionTime mutate after creation.
type ErrorEvent struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	ErrorType      ErrorType         `json:"error_type"`
	Severity       ErrorSeverity     `json:"severity"`
	Message        string            `json:"message"`
	Service        string            `json:"service"`
	UserID         string            `json:"user_id,omitempty"`
	RequestID      string            `json:"request_id,omitempty"`
	StackTrace     string            `json:"stack_trace,omitempty"`
	Context        map[string]string `json:"context,omitempty"`
	Resolved       bool              `json:"resolved"`
	ResolutionTime *time.Time        `json:"resolution_time,omitempty"`
}

// ErrorContext bundles the signal the recovery engine and monitor need to act
// on a classified error.
type ErrorContext struct {
	Service           string
	UserID            string
	RequestID         string
	MessageType       MessageType
	UserFacing        bool
	AffectsMultiUsers bool
	// Operation, when set, lets retry recovery re-invoke the failed call.
	Operation func() (Response, error)
}
