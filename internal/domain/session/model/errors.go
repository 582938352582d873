// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package model

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry policy.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindConflict          Kind = "CONFLICT"
	KindNotFound          Kind = "NOT_FOUND"
	KindAuth              Kind = "AUTH"
	KindTransport         Kind = "TRANSPORT"
	KindStorage           Kind = "STORAGE"
	KindInternal          Kind = "INTERNAL"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("not found")
	ErrAuth              = errors.New("authentication failed")
	ErrTransport         = errors.New("transport failure")
	ErrStorage           = errors.New("storage failure")
	ErrInternal          = errors.New("internal error")
)

func sentinel(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindInvalidTransition:
		return ErrInvalidTransition
	case KindConflict:
		return ErrConflict
	case KindNotFound:
		return ErrNotFound
	case KindAuth:
		return ErrAuth
	case KindTransport:
		return ErrTransport
	case KindStorage:
		return ErrStorage
	default:
		return ErrInternal
	}
}

// Error is the typed error surfaced by the core.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = sentinel(e.Kind).Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{sentinel(e.Kind)}
	}
	return []error{sentinel(e.Kind), e.Err}
}

func newError(k Kind, op string, err error, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: k, Op: op, Msg: msg, Err: err}
}

func Validation(op, format string, args ...any) *Error {
	return newError(KindValidation, op, nil, format, args...)
}

func InvalidTransition(op, format string, args ...any) *Error {
	return newError(KindInvalidTransition, op, nil, format, args...)
}

func Conflict(op, format string, args ...any) *Error {
	return newError(KindConflict, op, nil, format, args...)
}

func NotFound(op, format string, args ...any) *Error {
	return newError(KindNotFound, op, nil, format, args...)
}

func Auth(op, format string, args ...any) *Error {
	return newError(KindAuth, op, nil, format, args...)
}

func Transport(op string, err error) *Error {
	return newError(KindTransport, op, err, "")
}

func Storage(op string, err error) *Error {
	return newError(KindStorage, op, err, "")
}

// KindOf extracts the Kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range []Kind{KindValidation, KindInvalidTransition, KindConflict, KindNotFound, KindAuth, KindTransport, KindStorage} {
		if errors.Is(err, sentinel(k)) {
			return k
		}
	}
	return KindInternal
}

// IsRetryable reports whether err should be retried with backoff.
// Only transport failures qualify.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransport
}
