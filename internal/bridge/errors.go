package bridge

import "fmt"

// Error codes for the bridge package
const (
	ErrCodeInvalidShare        = 1
	ErrCodeUnknownJob          = 2
	ErrCodeReconstruction      = 3
	ErrCodeInvalidCommand      = 4
	ErrCodeHardwareUnavailable = 5
)

// BridgeError is a structured error type for the bridge package
type BridgeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *BridgeError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("bridge: [%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("bridge: [%d] %s", e.Code, e.Message)
}

// Is matches on code so detailed errors compare equal to the predefined ones.
func (e *BridgeError) Is(target error) bool {
	t, ok := target.(*BridgeError)
	return ok && t.Code == e.Code
}

func NewError(code int, message string, details ...string) error {
	err := &BridgeError{
		Code:    code,
		Message: message,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

// Predefined errors
var (
	ErrInvalidShare        = NewError(ErrCodeInvalidShare, "invalid share parameters")
	ErrUnknownJob          = NewError(ErrCodeUnknownJob, "no job context for share")
	ErrReconstruction      = NewError(ErrCodeReconstruction, "hash reconstruction failed")
	ErrInvalidCommand      = NewError(ErrCodeInvalidCommand, "invalid command")
	ErrHardwareUnavailable = NewError(ErrCodeHardwareUnavailable, "hardware control unavailable")
)
