package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the scheduler core.
type ErrorCode string

// Submission errors: fail fast, never enter the durable engine, never retried.
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrUnknownAgent   ErrorCode = "UNKNOWN_AGENT"
)

// Non-retryable domain errors: must short-circuit the retry policy.
const (
	ErrValidation   ErrorCode = "VALIDATION"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
)

// Transient backend errors: retried per policy, bounded attempts.
const (
	ErrUpstreamTimeout    ErrorCode = "UPSTREAM_TIMEOUT"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Infrastructure error codes.
const (
	ErrUnknownWorkflow ErrorCode = "UNKNOWN_WORKFLOW"
	ErrInternalError   ErrorCode = "INTERNAL_ERROR"
)

// NonRetryableErrorTypes 列出不应触发重试的错误类型
// 持久化后端把它配置进引擎的重试策略：对确定无效的请求重试
// 只会耗尽尝试预算、推迟暴露真实问题
func NonRetryableErrorTypes() []string {
	return []string{
		string(ErrInvalidRequest),
		string(ErrUnknownAgent),
		string(ErrValidation),
		string(ErrUnauthorized),
	}
}

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Summary 返回安全可展示的短摘要（不含 Cause 的诊断细节）
func (e *Error) Summary() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	retryable := false
	switch code {
	case ErrUpstreamTimeout, ErrServiceUnavailable:
		retryable = true
	}
	return &Error{Code: code, Message: message, Retryable: retryable}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Summarize 从任意错误提取安全摘要；非结构化错误只保留通用描述
func Summarize(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Summary()
	}
	return "task execution failed"
}
