package domain

import (
	"errors"
	"fmt"
)

// Engine error sentinels, matched with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrNotReady    = errors.New("index not ready")
	ErrUnavailable = errors.New("backend unavailable")
	ErrInternal    = errors.New("internal error")
)

// ErrorKind classifies an EngineError.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindNotReady    ErrorKind = "not_ready"
	KindUnavailable ErrorKind = "unavailable"
	KindInternal    ErrorKind = "internal"
)

// EngineError is returned by the decision engine and its indexes.
type EngineError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *EngineError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrNotReady:
		return e.Kind == KindNotReady
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrInternal:
		return e.Kind == KindInternal
	}
	return false
}

func NewValidationError(detail string, err error) *EngineError {
	return &EngineError{Kind: KindValidation, Detail: detail, Err: err}
}

func NewNotReadyError(detail string, err error) *EngineError {
	return &EngineError{Kind: KindNotReady, Detail: detail, Err: err}
}

func NewUnavailableError(detail string, err error) *EngineError {
	return &EngineError{Kind: KindUnavailable, Detail: detail, Err: err}
}

func NewInternalError(detail string, err error) *EngineError {
	return &EngineError{Kind: KindInternal, Detail: detail, Err: err}
}
