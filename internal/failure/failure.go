// Package failure defines the reason codes shared by every settlement
// component. Callers branch on the code, never on message text.
package failure

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable failure reason.
type Code string

const (
	InputMalformed      Code = "INPUT_MALFORMED"
	ReplayDetected      Code = "REPLAY_DETECTED"
	LockNotFound        Code = "LOCK_NOT_FOUND"
	LockExpired         Code = "LOCK_EXPIRED"
	LockAlreadyUsed     Code = "LOCK_ALREADY_USED"
	AmountMismatch      Code = "AMOUNT_MISMATCH"
	ArithmeticOverflow  Code = "ARITHMETIC_OVERFLOW"
	NonFinite           Code = "NON_FINITE"
	DivisionByZero      Code = "DIVISION_BY_ZERO"
	ExternalTimeout     Code = "EXTERNAL_TIMEOUT"
	ExternalFailure     Code = "EXTERNAL_FAILURE"
	DecisionConflict    Code = "DECISION_CONFLICT"
	DecisionAlreadyMade Code = "DECISION_ALREADY_MADE"
	NotFound            Code = "NOT_FOUND"
	PaymentUnverified   Code = "PAYMENT_UNVERIFIED"
	OnchainMismatch     Code = "ONCHAIN_MISMATCH"
	Internal            Code = "INTERNAL"
)

// Hint tells the caller what to do next.
type Hint string

const (
	HintRecompute Hint = "recompute_and_retry"
	HintRetry     Hint = "retry"
	HintAbandon   Hint = "abandon"
)

// Hint returns the retry guidance for a code.
func (c Code) Hint() Hint {
	switch c {
	case LockNotFound, LockExpired, LockAlreadyUsed, AmountMismatch:
		return HintRecompute
	case ExternalTimeout, ExternalFailure, DecisionConflict:
		return HintRetry
	default:
		return HintAbandon
	}
}

// Error is a coded error. Err, when set, is the underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error with a formatted message.
func New(code Code, format string, args ...interface{}) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to cause. A nil cause yields nil.
func Wrap(code Code, cause error, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: cause}
}

// CodeOf returns the outermost code in err's chain, or Internal for
// uncoded errors. A nil error has no code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return Internal
}

// Is reports whether err carries code anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		var fe *Error
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Code == code {
			return true
		}
		err = fe.Err
	}
	return false
}
