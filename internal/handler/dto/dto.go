// Package dto holds HTTP request and response bodies that are not domain
// entities.
package dto

// ErrorDetail is the machine-readable code and fixed message of an error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every error response:
// {"error":{"code":"...","message":"..."}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// NewError builds an ErrorResponse.
func NewError(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
}

// PingResponse is returned by the signed ping endpoint.
type PingResponse struct {
	Frontend   string `json:"frontend"`
	FrontendID string `json:"frontend_id"`
	BodyBytes  int    `json:"body_bytes"`
	RequestID  string `json:"request_id,omitempty"`
}
