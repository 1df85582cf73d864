package anthropic

import "net/http"

// Error type tags of the wire-level error taxonomy.
const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeNotFound       = "not_found_error"
	ErrTypeAPI            = "api_error"
)

// ErrorDetail is the inner error object of the error envelope.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse is the error envelope returned to clients. It implements
// error so handler code can return it directly and recover it with errors.As
// at the HTTP boundary.
type ErrorResponse struct {
	Type string      `json:"type"`
	Err  ErrorDetail `json:"error"`
}

// Error implements the error interface.
func (e *ErrorResponse) Error() string {
	return e.Err.Message
}

// HTTPStatus maps the error type to its HTTP status code.
func (e *ErrorResponse) HTTPStatus() int {
	switch e.Err.Type {
	case ErrTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrTypeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NewInvalidRequestError builds an invalid_request_error envelope.
func NewInvalidRequestError(message string) *ErrorResponse {
	return &ErrorResponse{Type: "error", Err: ErrorDetail{Type: ErrTypeInvalidRequest, Message: message}}
}

// NewNotFoundError builds a not_found_error envelope.
func NewNotFoundError(message string) *ErrorResponse {
	return &ErrorResponse{Type: "error", Err: ErrorDetail{Type: ErrTypeNotFound, Message: message}}
}

// NewAPIError builds an api_error envelope.
func NewAPIError(message string) *ErrorResponse {
	return &ErrorResponse{Type: "error", Err: ErrorDetail{Type: ErrTypeAPI, Message: message}}
}
