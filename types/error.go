package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 是 svdflow 统一的错误码。
type ErrorCode string

// 请求与存储相关错误码
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrStorage        ErrorCode = "STORAGE_ERROR"
	ErrSubmitFailed   ErrorCode = "SUBMIT_FAILED"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// 轮询与产物相关错误码
const (
	ErrDecodeFailed  ErrorCode = "DECODE_FAILED"
	ErrEncodeFailed  ErrorCode = "ENCODE_FAILED"
	ErrRemoteFailure ErrorCode = "REMOTE_FAILURE"
	ErrTimeout       ErrorCode = "TIMEOUT"
	ErrCancelled     ErrorCode = "CANCELLED"
)

// Error represents a structured error with code, message, and cause.
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

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf 按格式化消息创建 Error。
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError 用错误码包装 cause；cause 为 nil 时返回 nil。
func WrapError(cause error, code ErrorCode, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: cause}
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

// AsError 沿错误链查找 *Error。
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode 判断错误链中是否包含指定错误码。
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// HTTPStatusFor 返回错误对应的 HTTP 状态码。
func HTTPStatusFor(err error) int {
	e, ok := AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	switch e.Code {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrSubmitFailed, ErrStorage, ErrRemoteFailure:
		return http.StatusBadGateway
	case ErrCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
