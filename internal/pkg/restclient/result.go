package restclient

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies a failed call into the uniform taxonomy shared by all
// third-party API clients.
type ErrorCode string

const (
	ErrNetwork         ErrorCode = "NETWORK_ERROR"
	ErrTimeout         ErrorCode = "TIMEOUT"
	ErrAuth            ErrorCode = "AUTH_ERROR"
	ErrNotFound        ErrorCode = "NOT_FOUND"
	ErrRateLimit       ErrorCode = "RATE_LIMIT"
	ErrServer          ErrorCode = "SERVER_ERROR"
	ErrValidation      ErrorCode = "VALIDATION_ERROR"
	ErrOperationFailed ErrorCode = "OPERATION_FAILED"
	ErrUnknown         ErrorCode = "UNKNOWN"
)

// APIError is the uniform error shape returned by the client. Messages are
// redacted before they leave the client, so they are safe to log.
type APIError struct {
	Code        ErrorCode       `json:"code"`
	Message     string          `json:"message"`
	Status      int             `json:"status,omitempty"`
	IsRetryable bool            `json:"is_retryable"`
	Details     json.RawMessage `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result is the discriminated outcome of one REST call. Callers must branch
// on Success; the client never panics or returns Go errors for API failures.
type Result struct {
	Success bool
	Status  int
	Data    json.RawMessage
	Error   *APIError
}

// Decode unmarshals the response payload into out.
func (r Result) Decode(out interface{}) error {
	if !r.Success {
		return r.Error
	}
	if len(r.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Data, out)
}

func failure(err *APIError) Result {
	return Result{Success: false, Status: err.Status, Error: err}
}
