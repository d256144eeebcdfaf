package ledger

import (
	"errors"
	"fmt"
)

// Kind classifies every error the ledger core returns.
type Kind int

const (
	// KindValidation indicates malformed input, rejected before any mutation
	KindValidation Kind = iota + 1
	// KindNotFound indicates the account number has no matching row
	KindNotFound
	// KindDuplicate indicates the account number already exists
	KindDuplicate
	// KindStateConflict indicates the operation is not allowed in the current account state
	KindStateConflict
	// KindInsufficientBalance indicates a debit precondition failed on balance
	KindInsufficientBalance
	// KindConcurrency indicates a lock was not acquired or a CAS update lost a race
	KindConcurrency
	// KindInfrastructure indicates a store or lock backend failure
	KindInfrastructure
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindNotFound:
		return "NOT_FOUND"
	case KindDuplicate:
		return "DUPLICATE"
	case KindStateConflict:
		return "STATE_CONFLICT"
	case KindInsufficientBalance:
		return "INSUFFICIENT_BALANCE"
	case KindConcurrency:
		return "CONCURRENCY"
	case KindInfrastructure:
		return "INFRASTRUCTURE"
	default:
		return "UNKNOWN"
	}
}

// Code returns the stable machine-readable code of the kind.
func (k Kind) Code() int {
	switch k {
	case KindNotFound:
		return 10001
	case KindDuplicate:
		return 10002
	case KindValidation:
		return 10003
	case KindStateConflict:
		return 10004
	case KindInsufficientBalance:
		return 10006
	case KindConcurrency:
		return 10008
	case KindInfrastructure:
		return 20001
	default:
		return 0
	}
}

// Error is the single error type surfaced by the ledger core.
// Two errors are considered equal by errors.Is when their kinds match,
// so callers compare against the sentinels below.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Kind.Code(), msg, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Kind.Code(), msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ledger error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Code returns the machine-readable code of the error kind.
func (e *Error) Code() int {
	return e.Kind.Code()
}

// Account errors
var (
	// ErrValidation indicates invalid input
	ErrValidation = &Error{Kind: KindValidation, Message: "account invalid parameter"}

	// ErrNotFound indicates the account does not exist
	ErrNotFound = &Error{Kind: KindNotFound, Message: "account not found"}

	// ErrDuplicate indicates the account already exists
	ErrDuplicate = &Error{Kind: KindDuplicate, Message: "duplicate account found"}

	// ErrStateConflict indicates the account state forbids the operation
	ErrStateConflict = &Error{Kind: KindStateConflict, Message: "account state conflict"}

	// ErrInsufficientBalance indicates the balance does not cover the amount
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance, Message: "insufficient balance for the operation"}

	// ErrConcurrency indicates a concurrent operation won the race
	ErrConcurrency = &Error{Kind: KindConcurrency, Message: "account concurrent operation limit"}

	// ErrInfrastructure indicates a backend failure
	ErrInfrastructure = &Error{Kind: KindInfrastructure, Message: "infrastructure failure"}
)

// Config errors
var (
	// ErrInvalidConfig indicates the configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Errorf builds an error of the given kind.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an error of the given kind around cause.
// A cause that already is a ledger error keeps its own kind.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	var le *Error
	if errors.As(cause, &le) {
		return cause
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind of err. Errors that did not originate in the
// ledger core report KindInfrastructure.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindInfrastructure
}
