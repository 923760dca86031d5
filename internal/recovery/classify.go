// Package recovery implements error classification, typed recovery
// strategies, retry with backoff, and circuit breaking for BillPipe.
//
// Every raised fault is mapped into one of the five models.ErrorType
// categories by keyword inspection, then handled by the strategy registered
// for that category.
package recovery

import (
	"strings"

	"github.com/splitkaro/billpipe/internal/models"
)

// Keyword families used by Classify. "connection" appears in both the
// DATABASE and EXTERNAL_SERVICE families; DATABASE is checked first so bare
// driver errors ("dial tcp: connection refused" from lib/pq) are retried
// rather than sent down the fallback path. This precedence is fixed policy,
// not an emergent property of map ordering.
var (
	databaseKeywords        = []string{"database", "sql", "sqlite", "postgres", "pq:", "redis", "connection", "constraint", "transaction"}
	externalServiceKeywords = []string{"timeout", "connection", "http", "api", "service", "unavailable", "deadline"}
	validationKeywords      = []string{"validation", "invalid", "format", "required", "missing"}
	inputProcessingKeywords = []string{"parse", "extract", "process", "decode", "unmarshal"}
	criticalKeywords        = []string{"critical", "fatal", "corruption"}
)

// Classify maps any error into the five-way taxonomy. Precedence:
// DATABASE, EXTERNAL_SERVICE, VALIDATION, INPUT_PROCESSING, then
// BUSINESS_LOGIC as the default.
func Classify(err error) models.ErrorType {
	if err == nil {
		return models.ErrorTypeBusinessLogic
	}
	msg := strings.ToLower(err.Error())

	if containsAny(msg, databaseKeywords) {
		return models.ErrorTypeDatabase
	}
	if containsAny(msg, externalServiceKeywords) {
		return models.ErrorTypeExternalService
	}
	if containsAny(msg, validationKeywords) {
		return models.ErrorTypeValidation
	}
	if containsAny(msg, inputProcessingKeywords) {
		return models.ErrorTypeInputProcessing
	}
	return models.ErrorTypeBusinessLogic
}

// ClassifySeverity assigns a severity to an error given its context.
func ClassifySeverity(err error, ctx models.ErrorContext) models.ErrorSeverity {
	if err == nil {
		return models.SeverityLow
	}
	msg := strings.ToLower(err.Error())

	if containsAny(msg, criticalKeywords) {
		return models.SeverityCritical
	}
	errType := Classify(err)
	if errType == models.ErrorTypeDatabase && strings.Contains(msg, "connection") {
		return models.SeverityHigh
	}
	if ctx.AffectsMultiUsers {
		return models.SeverityHigh
	}
	if errType == models.ErrorTypeExternalService {
		return models.SeverityMedium
	}
	if ctx.UserFacing {
		return models.SeverityMedium
	}
	return models.SeverityLow
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
