package pipeline

import (
	"fmt"
)

// ErrorCode classifies pipeline errors.
type ErrorCode string

// ErrorCode constants for pipeline errors.
const (
	CodePower               ErrorCode = "POWER"
	CodeHardwareInit        ErrorCode = "HARDWARE_INIT"
	CodeSequencerTimeout    ErrorCode = "SEQUENCER_TIMEOUT"
	CodeEventAlreadyPending ErrorCode = "EVENT_ALREADY_PENDING"
	CodeInvalidLayer        ErrorCode = "INVALID_LAYER"
	CodeInvalidConfig       ErrorCode = "INVALID_CONFIG"
	CodePacket              ErrorCode = "PACKET"
	CodeNotEnabled          ErrorCode = "NOT_ENABLED"
)

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrPower               = &Error{Code: CodePower}
	ErrHardwareInit        = &Error{Code: CodeHardwareInit}
	ErrSequencerTimeout    = &Error{Code: CodeSequencerTimeout}
	ErrEventAlreadyPending = &Error{Code: CodeEventAlreadyPending}
	ErrInvalidLayer        = &Error{Code: CodeInvalidLayer}
	ErrInvalidConfig       = &Error{Code: CodeInvalidConfig}
	ErrPacket              = &Error{Code: CodePacket}
	ErrNotEnabled          = &Error{Code: CodeNotEnabled}
)

// Error represents an error in the pipeline package.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"cause,omitempty"`
}

func newError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	case e.Message != "":
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("[%s]", e.Code)
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any pipeline error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// HasCode checks if the error matches a specific code.
func (e *Error) HasCode(code ErrorCode) bool {
	return e.Code == code
}
