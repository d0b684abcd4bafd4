package adapter

import "fmt"

// ErrorCode classifies an AdapterError so callers can decide whether to
// retry, surface to the user, or treat the agent as dead.
type ErrorCode string

const (
	ErrCodeNotFound     ErrorCode = "ADAPTER_NOT_FOUND"
	ErrCodeUnsupported  ErrorCode = "UNSUPPORTED_OPERATION"
	ErrCodeSpawnFailed  ErrorCode = "SPAWN_FAILED"
	ErrCodeStreamFailed ErrorCode = "STREAM_FAILED"
)

// AdapterError is a structured error returned by adapter operations.
type AdapterError struct {
	Code    ErrorCode
	Adapter string
	Message string
	Cause   error
}

func (e *AdapterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Adapter, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Adapter, e.Code, e.Message)
}

func (e *AdapterError) Unwrap() error { return e.Cause }

// NewUnsupported builds an AdapterError for a capability the adapter does
// not advertise (e.g. calling StartStructured on a PTY-only adapter).
func NewUnsupported(adapterName, op string) *AdapterError {
	return &AdapterError{
		Code:    ErrCodeUnsupported,
		Adapter: adapterName,
		Message: fmt.Sprintf("operation %q is not supported", op),
	}
}
