// Package apierror provides standardized error response structures for the API.
// All errors returned to clients go through this package to ensure consistency
// and to prevent leaking internal details (stack traces, DB errors, etc.).
package apierror

import (
	"errors"
	"net/http"
)

// APIError is the canonical error envelope for all 4xx/5xx HTTP responses.
type APIError struct {
	Detail string `json:"detail"`
	Code   Code   `json:"code,omitempty"`
}

// New returns a plain API error with the given message.
func New(msg string) *APIError {
	return &APIError{Detail: msg}
}

// Validation wraps multiple field errors.
type ValidationError struct {
	Detail string            `json:"detail"`
	Code   Code              `json:"code"`
	Fields map[string]string `json:"fields"`
}

// NewValidation wraps per-field validation messages.
func NewValidation(fields map[string]string) *ValidationError {
	return &ValidationError{Detail: "Error de validación", Code: CodeValidation, Fields: fields}
}

// Code identifies a failure class. Codes are stable and part of the API contract.
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeInternal   Code = "INTERNAL_ERROR"

	// state conflicts
	CodeSessionAlreadyOpen   Code = "SESSION_ALREADY_OPEN"
	CodeSessionClosed        Code = "SESSION_CLOSED"
	CodeNoOpenSession        Code = "NO_OPEN_SESSION"
	CodeSaleNotVoidable      Code = "SALE_NOT_VOIDABLE"
	CodeSaleNotRefundable    Code = "SALE_NOT_REFUNDABLE"
	CodeSaleFullyRefunded    Code = "SALE_FULLY_REFUNDED"
	CodeRefundExceedsBalance Code = "REFUND_EXCEEDS_BALANCE"
	CodeOverRefundItem       Code = "OVER_REFUND_ITEM"
	CodeRecordAlreadyExists  Code = "RECORD_ALREADY_EXISTS"
	CodeRecordNotPending     Code = "RECORD_NOT_PENDING"
	CodeRecordNotAccepted    Code = "RECORD_NOT_ACCEPTED"
	CodeVoucherExpired       Code = "VOUCHER_EXPIRED"
	CodeVoucherExhausted     Code = "VOUCHER_EXHAUSTED"

	// resources
	CodeInsufficientStock   Code = "INSUFFICIENT_STOCK"
	CodeInsufficientPayment Code = "INSUFFICIENT_PAYMENT"

	// external collaborators
	CodeSubmissionFailed   Code = "SUBMISSION_FAILED"
	CodeCertificateInvalid Code = "CERTIFICATE_INVALID"

	// integrity
	CodeChainIntegrity Code = "CHAIN_INTEGRITY"
	CodeChainHalted    Code = "CHAIN_HALTED"
)

var statusByCode = map[Code]int{
	CodeValidation:           http.StatusBadRequest,
	CodeNotFound:             http.StatusNotFound,
	CodeInternal:             http.StatusInternalServerError,
	CodeSessionAlreadyOpen:   http.StatusConflict,
	CodeSessionClosed:        http.StatusConflict,
	CodeNoOpenSession:        http.StatusConflict,
	CodeSaleNotVoidable:      http.StatusConflict,
	CodeSaleNotRefundable:    http.StatusConflict,
	CodeSaleFullyRefunded:    http.StatusConflict,
	CodeRefundExceedsBalance: http.StatusConflict,
	CodeOverRefundItem:       http.StatusConflict,
	CodeRecordAlreadyExists:  http.StatusConflict,
	CodeRecordNotPending:     http.StatusConflict,
	CodeRecordNotAccepted:    http.StatusConflict,
	CodeVoucherExpired:       http.StatusConflict,
	CodeVoucherExhausted:     http.StatusConflict,
	CodeInsufficientStock:    http.StatusUnprocessableEntity,
	CodeInsufficientPayment:  http.StatusUnprocessableEntity,
	CodeSubmissionFailed:     http.StatusBadGateway,
	CodeCertificateInvalid:   http.StatusBadGateway,
	CodeChainIntegrity:       http.StatusInternalServerError,
	CodeChainHalted:          http.StatusLocked,
}

// StatusFor maps a code to its HTTP status. Unknown codes are internal errors.
func StatusFor(code Code) int {
	if st, ok := statusByCode[code]; ok {
		return st
	}
	return http.StatusInternalServerError
}

// Error is a typed domain failure. Two Errors with the same code compare equal
// under errors.Is, so package-level sentinels can be matched after wrapping.
type Error struct {
	code    Code
	message string
	cause   error
}

// NewError builds a typed error carrying a machine-readable code.
func NewError(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Wrap attaches a cause to a typed error. The cause is logged, never sent to clients.
func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.code == e.code
}

func (e *Error) Code() Code { return e.code }

func (e *Error) Message() string { return e.message }

func (e *Error) HTTPStatus() int { return StatusFor(e.code) }

func (e *Error) Public() *APIError { return &APIError{Detail: e.message, Code: e.code} }

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{code: e.code, message: msg, cause: e.cause}
}

// CodeOf extracts the code of the first typed error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return ""
}
