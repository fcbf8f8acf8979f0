package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Kind classifies every failure the core returns to its callers.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindForbidden           Kind = "Forbidden"
	KindInvalidState        Kind = "InvalidState"
	KindAlreadyCompleted    Kind = "AlreadyCompleted"
	KindAlreadyExists       Kind = "AlreadyExists"
	KindPayeeNotReady       Kind = "PayeeNotReady"
	KindInsufficientBalance Kind = "InsufficientBalance"
	KindTransferFailed      Kind = "TransferFailed"
	KindStorage             Kind = "StorageError"
	KindValidation          Kind = "Validation"
	KindProvider            Kind = "ProviderError"
	KindInProgress          Kind = "InProgress"
)

// Sentinels for errors.Is; matching is by Kind only.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrAlreadyCompleted    = &Error{Kind: KindAlreadyCompleted}
	ErrAlreadyExists       = &Error{Kind: KindAlreadyExists}
	ErrPayeeNotReady       = &Error{Kind: KindPayeeNotReady}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrTransferFailed      = &Error{Kind: KindTransferFailed}
	ErrStorage             = &Error{Kind: KindStorage}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrProvider            = &Error{Kind: KindProvider}
	ErrInProgress          = &Error{Kind: KindInProgress}
)

// Error is the single error type returned by the services.
//
// Available and Required are set for InsufficientBalance; ProviderMessage
// for TransferFailed when the provider explained the rejection.
type Error struct {
	Kind            Kind
	Msg             string
	Available       decimal.Decimal
	Required        decimal.Decimal
	ProviderMessage string
	Err             error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func storageError(op string, err error) *Error {
	return &Error{Kind: KindStorage, Msg: op, Err: err}
}

// KindOf reports the Kind of err, or "" when err is not a service error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
