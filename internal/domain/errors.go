package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the connector.
var (
	ErrNoChannel       = fmt.Errorf("no channel specified")
	ErrInvalidPayload  = fmt.Errorf("payload failed schema validation")
	ErrSessionNotFound = fmt.Errorf("session not found")
	ErrFileTooLarge    = fmt.Errorf("file exceeds size limit")
	ErrConfigLoad      = fmt.Errorf("failed to load configuration")
	ErrSlackAPI        = fmt.Errorf("slack api call failed")
	ErrFeedbackPost    = fmt.Errorf("feedback post failed")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrStopped         = fmt.Errorf("component stopped")
)

// ConnectorError wraps a sentinel error with operation context.
type ConnectorError struct {
	Op     string // operation name (e.g., "output.Send")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *ConnectorError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ConnectorError) Unwrap() error { return e.Err }

// NewConnectorError creates a new ConnectorError.
func NewConnectorError(op string, err error, detail string) *ConnectorError {
	return &ConnectorError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown        ErrorCode = "UNKNOWN"
	CodeNoChannel      ErrorCode = "NO_CHANNEL"
	CodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"
	CodeSessionMissing ErrorCode = "SESSION_NOT_FOUND"
	CodeFileTooLarge   ErrorCode = "FILE_TOO_LARGE"
	CodeConfigLoad     ErrorCode = "CONFIG_LOAD"
	CodeSlackAPI       ErrorCode = "SLACK_API"
	CodeFeedbackPost   ErrorCode = "FEEDBACK_POST"
	CodeAuthInvalid    ErrorCode = "AUTH_INVALID"
	CodeStopped        ErrorCode = "STOPPED"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNoChannel:       CodeNoChannel,
	ErrInvalidPayload:  CodeInvalidPayload,
	ErrSessionNotFound: CodeSessionMissing,
	ErrFileTooLarge:    CodeFileTooLarge,
	ErrConfigLoad:      CodeConfigLoad,
	ErrSlackAPI:        CodeSlackAPI,
	ErrFeedbackPost:    CodeFeedbackPost,
	ErrAuthInvalid:     CodeAuthInvalid,
	ErrStopped:         CodeStopped,
}

// ErrorCodeOf returns the machine-parseable code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}
