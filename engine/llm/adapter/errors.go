package llmadapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// Error codes for provider failures that carry no HTTP status.
const (
	ErrCodeRateLimit         = "RATE_LIMIT"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeConnectionRefused = "CONNECTION_REFUSED"
	ErrCodeConnectionReset   = "CONNECTION_RESET"
	ErrCodeEmptyResponse     = "EMPTY_RESPONSE"
	ErrCodeInvalidModel      = "INVALID_MODEL"
	ErrCodeQuotaExceeded     = "QUOTA_EXCEEDED"
)

// Error is a classified provider failure.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Provider   string
	Err        error
}

func NewError(statusCode int, message, provider string, err error) *Error {
	return &Error{StatusCode: statusCode, Message: message, Provider: provider, Err: err}
}

func NewErrorWithCode(code, message, provider string, err error) *Error {
	return &Error{Code: code, Message: message, Provider: provider, Err: err}
}

func (e *Error) Error() string {
	label := e.Code
	if e.StatusCode > 0 {
		label = strconv.Itoa(e.StatusCode)
	}
	if e.Provider == "" {
		return fmt.Sprintf("llm error [%s]: %s", label, e.Message)
	}
	return fmt.Sprintf("%s error [%s]: %s", e.Provider, label, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether repeating the same request may succeed.
func (e *Error) IsRetryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	switch e.Code {
	case ErrCodeRateLimit, ErrCodeTimeout, ErrCodeConnectionRefused, ErrCodeConnectionReset, ErrCodeEmptyResponse:
		return true
	}
	return false
}

var statusPattern = regexp.MustCompile(`(?:status code:?|http|error|code)\s*(\d{3})\b`)

// classifyError maps a raw provider error onto an *Error. Unrecognized errors keep
// their message and are treated as transient.
func classifyError(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCode(ErrCodeTimeout, msg, provider, err)
	}
	if m := statusPattern.FindStringSubmatch(lower); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil && code >= 400 && code < 600 {
			return NewError(code, msg, provider, err)
		}
	}
	switch {
	case containsAny(lower, "rate limit", "too many requests", "throttl"):
		return NewError(http.StatusTooManyRequests, msg, provider, err)
	case containsAny(lower, "insufficient_quota", "quota exceeded"):
		return NewErrorWithCode(ErrCodeQuotaExceeded, msg, provider, err)
	case containsAny(lower, "unauthorized", "invalid api key", "authentication"):
		return NewError(http.StatusUnauthorized, msg, provider, err)
	case containsAny(lower, "invalid model", "model not found"):
		return NewErrorWithCode(ErrCodeInvalidModel, msg, provider, err)
	case containsAny(lower, "service unavailable", "overloaded", "try again later"):
		return NewError(http.StatusServiceUnavailable, msg, provider, err)
	case containsAny(lower, "timeout", "timed out"):
		return NewErrorWithCode(ErrCodeTimeout, msg, provider, err)
	case strings.Contains(lower, "connection reset"):
		return NewErrorWithCode(ErrCodeConnectionReset, msg, provider, err)
	case containsAny(lower, "connection refused", "no such host"):
		return NewErrorWithCode(ErrCodeConnectionRefused, msg, provider, err)
	}
	return NewError(http.StatusInternalServerError, msg, provider, err)
}

func isRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}
	return true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
