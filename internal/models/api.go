package models

// APIStatus represents the status of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard envelope for HTTP API responses.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// APIResponseBuilder builds APIResponse values fluently.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new API response builder.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithResult(result).Build()
}

// SuccessWithMessage creates a successful API response with a message and
// optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusOK).WithMessage(message).WithResult(result).Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().WithStatus(APIStatusError).WithMessage(message).Build()
}
