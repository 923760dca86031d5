// Package api provides the HTTP surface for BillPipe: inbound message
// webhooks, health and error reporting, and operational endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/splitkaro/billpipe/internal/models"
)

// Pre-marshaled fallback response to avoid runtime JSON encoding failures
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors are caught before headers go out.
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
