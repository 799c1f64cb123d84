package knowledge

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies pipeline failures so callers can decide whether to retry.
type Kind string

const (
	KindInvalidConfig     Kind = "invalid_config"
	KindDimensionMismatch Kind = "dimension_mismatch"
	KindEmbeddingFailure  Kind = "embedding_failure"
	KindGenerationFailure Kind = "generation_failure"
	KindTemplateError     Kind = "template_error"
	KindTimeout           Kind = "timeout"
	KindNotFound          Kind = "not_found"
	KindCanceled          Kind = "canceled"
)

var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrEmbeddingFailure  = errors.New("embedding failure")
	ErrGenerationFailure = errors.New("generation failure")
	ErrTemplate          = errors.New("template error")
	ErrTimeout           = errors.New("timeout")
	ErrNotFound          = errors.New("not found")
	ErrCanceled          = errors.New("canceled")
)

var sentinels = map[Kind]error{
	KindInvalidConfig:     ErrInvalidConfig,
	KindDimensionMismatch: ErrDimensionMismatch,
	KindEmbeddingFailure:  ErrEmbeddingFailure,
	KindGenerationFailure: ErrGenerationFailure,
	KindTemplateError:     ErrTemplate,
	KindTimeout:           ErrTimeout,
	KindNotFound:          ErrNotFound,
	KindCanceled:          ErrCanceled,
}

// Error carries the failing stage and the underlying cause.
// errors.Is matches both the kind sentinel and anything in the cause chain.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func NewError(kind Kind, stage string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Errorf builds an Error whose cause is a formatted message.
func Errorf(kind Kind, stage string, format string, args ...any) *Error {
	return NewError(kind, stage, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	sentinel := e.sentinel()
	msg := e.Stage
	if msg != "" {
		msg += ": "
	}
	if sentinel != nil {
		msg += sentinel.Error()
	} else {
		msg += string(e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if sentinel := e.sentinel(); sentinel != nil {
		out = append(out, sentinel)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func (e *Error) sentinel() error {
	return sentinels[e.Kind]
}

// KindOf reports the kind of the first *Error in the chain, or "" when there is none.
func KindOf(err error) Kind {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Kind
	}
	return ""
}

// StageOf reports the stage of the first *Error in the chain.
func StageOf(err error) string {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Stage
	}
	return ""
}

// IsTimeout reports whether err is a pipeline timeout or a deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Classify wraps err for stage. Deadline expiry becomes KindTimeout, caller
// cancellation becomes KindCanceled and an error that already carries a kind is
// returned unchanged.
func Classify(stage string, fallback Kind, err error) *Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, stage, err)
	}
	if errors.Is(err, context.Canceled) {
		var kerr *Error
		if errors.As(err, &kerr) && kerr.Kind == KindCanceled {
			return kerr
		}
		return NewError(KindCanceled, stage, err)
	}
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr
	}
	return NewError(fallback, stage, err)
}
