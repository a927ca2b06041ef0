package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	// Tool-level failures: recovered locally, fed back to the model as
	// error tool results, never fatal to the conversation loop.
	ErrToolNotFound       = fmt.Errorf("tool not found")
	ErrValidation         = fmt.Errorf("invalid tool arguments")
	ErrExecutionFailed    = fmt.Errorf("tool execution failed")
	ErrConfirmationDenied = fmt.Errorf("tool execution denied by confirmation policy")

	// Loop-level failures: fatal to the current task.
	ErrStreamTransport   = fmt.Errorf("stream transport failed")
	ErrProtocolViolation = fmt.Errorf("assistant message carries neither content nor tool calls")
	ErrMaxTurns          = fmt.Errorf("conversation reached max turns")

	// Provider failures, mapped from transport status codes.
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrProviderError   = fmt.Errorf("provider error")

	// Security and configuration.
	ErrPathOutsideSandbox = fmt.Errorf("path is outside sandbox boundary")
	ErrCommandNotAllowed  = fmt.Errorf("command not in allowlist")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Executor.Execute")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed
// on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderError)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

// Error codes. Every sentinel error maps to exactly one code.
const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	CodeValidation         ErrorCode = "VALIDATION"
	CodeExecutionFailed    ErrorCode = "EXECUTION_FAILED"
	CodeConfirmationDenied ErrorCode = "CONFIRMATION_DENIED"
	CodeStreamTransport    ErrorCode = "STREAM_TRANSPORT"
	CodeProtocolViolation  ErrorCode = "PROTOCOL_VIOLATION"
	CodeMaxTurns           ErrorCode = "MAX_TURNS"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeContextOverflow    ErrorCode = "CONTEXT_OVERFLOW"
	CodeProviderError      ErrorCode = "PROVIDER_ERROR"
	CodePathOutsideSandbox ErrorCode = "PATH_OUTSIDE_SANDBOX"
	CodeCommandNotAllowed  ErrorCode = "COMMAND_NOT_ALLOWED"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrToolNotFound:       CodeToolNotFound,
	ErrValidation:         CodeValidation,
	ErrExecutionFailed:    CodeExecutionFailed,
	ErrConfirmationDenied: CodeConfirmationDenied,
	ErrStreamTransport:    CodeStreamTransport,
	ErrProtocolViolation:  CodeProtocolViolation,
	ErrMaxTurns:           CodeMaxTurns,
	ErrRateLimit:          CodeRateLimit,
	ErrAuthInvalid:        CodeAuthInvalid,
	ErrContextOverflow:    CodeContextOverflow,
	ErrProviderError:      CodeProviderError,
	ErrPathOutsideSandbox: CodePathOutsideSandbox,
	ErrCommandNotAllowed:  CodeCommandNotAllowed,
	ErrConfigLoad:         CodeConfigLoad,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
