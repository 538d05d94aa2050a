package chat

import "errors"

// Error codes for domain errors.
const (
	ErrCodeNotInitialized  = "not_initialized"
	ErrCodeChannelNotFound = "channel_not_found"
	ErrCodeBadRequest      = "bad_request"
	ErrCodeSendFailed      = "send_failed"
	ErrCodeCreateFailed    = "create_failed"
	ErrCodeSessionInvalid  = "session_invalid"
)

var (
	// ErrNotInitialized is returned when a method is called before InitChat.
	// This is a programming error, not a recoverable condition.
	ErrNotInitialized = errors.New("chat: not initialized, call InitChat first")
	// ErrMissingHandlers is returned when InitChat receives an incomplete
	// callback set.
	ErrMissingHandlers = errors.New("chat: handler set is incomplete")
	// ErrChannelNotFound is returned when an operation targets an unknown channel.
	ErrChannelNotFound = errors.New("chat: channel not found")
)

// Error wraps a code and human-readable message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds a domain error with a stable code.
func NewError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}
