package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the protocol can surface.
type ErrorKind string

// Provider side
const (
	ErrMalformedProof            ErrorKind = "MalformedProof"
	ErrUnsupportedChain          ErrorKind = "UnsupportedChain"
	ErrAlreadyRedeemed           ErrorKind = "AlreadyRedeemed"
	ErrTransactionNotFound       ErrorKind = "TransactionNotFound"
	ErrNotConfirmed              ErrorKind = "NotConfirmed"
	ErrTransactionFailed         ErrorKind = "TransactionFailed"
	ErrInsufficientConfirmations ErrorKind = "InsufficientConfirmations"
	ErrExpired                   ErrorKind = "Expired"
	ErrWrongRecipient            ErrorKind = "WrongRecipient"
	ErrWrongToken                ErrorKind = "WrongToken"
	ErrInsufficientAmount        ErrorKind = "InsufficientAmount"
	ErrVerificationTimeout       ErrorKind = "VerificationTimeout"
	ErrRPC                       ErrorKind = "RPCError"
	ErrInvalidInput              ErrorKind = "InvalidInput"
	ErrConfig                    ErrorKind = "ConfigError"
)

// Client side
const (
	ErrPaymentParse                    ErrorKind = "PaymentParseError"
	ErrPriceExceeded                   ErrorKind = "PriceExceeded"
	ErrPaymentCancelled                ErrorKind = "PaymentCancelled"
	ErrPaymentTransactionFailed        ErrorKind = "PaymentTransactionFailed"
	ErrPaymentAcceptedButRequestFailed ErrorKind = "PaymentAcceptedButRequestFailed"
	ErrRequestFailed                   ErrorKind = "RequestFailed"
)

// IsRetryable reports whether repeating a verification can change the outcome
// for the same transaction hash.
func IsRetryable(kind ErrorKind) bool {
	switch kind {
	case ErrTransactionNotFound, ErrWrongRecipient, ErrTransactionFailed,
		ErrWrongToken, ErrMalformedProof, ErrUnsupportedChain, ErrAlreadyRedeemed,
		ErrInvalidInput, ErrConfig:
		return false
	}
	return true
}

// X402Error is the error type returned across package boundaries.
type X402Error struct {
	Code    ErrorKind   `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Cause   error       `json:"-"`
}

func (e *X402Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *X402Error) Unwrap() error {
	return e.Cause
}

// NewError creates an X402Error.
func NewError(code ErrorKind, cause error, format string, args ...any) *X402Error {
	return &X402Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// KindOf extracts the error kind from err, or "" when err is not an X402Error.
func KindOf(err error) ErrorKind {
	var xe *X402Error
	if errors.As(err, &xe) {
		return xe.Code
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
