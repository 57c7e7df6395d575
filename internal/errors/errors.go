package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	AccountNotFound  ErrorCode = "account_not_found"
	DuplicateAccount ErrorCode = "duplicate_account"
	InvalidAmount    ErrorCode = "invalid_amount"
	InvalidInput     ErrorCode = "invalid_input"
	InternalError    ErrorCode = "internal_error"

	// Device and protocol failures.
	ConnectionError   ErrorCode = "connection_error"
	WriteError        ErrorCode = "write_error"
	TransportError    ErrorCode = "transport_error"
	DeviceTimeout     ErrorCode = "device_timeout"
	MalformedResponse ErrorCode = "malformed_response"
	EnrollmentFailed  ErrorCode = "enrollment_failed"
	NoMatch           ErrorCode = "no_match"
	SensorFailed      ErrorCode = "sensor_failed"

	// Payment business rules.
	PayerNotFound              ErrorCode = "payer_not_found"
	InsufficientBalance        ErrorCode = "insufficient_balance"
	IdentityMismatch           ErrorCode = "identity_mismatch"
	IdentityVerificationFailed ErrorCode = "identity_verification_failed"

	PersistenceError ErrorCode = "persistence_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches any AppError carrying the same code, so wrapped copies of the
// predefined errors still satisfy errors.Is against the originals.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetails returns a copy of e carrying details.
func (e *AppError) WithDetails(details string) *AppError {
	c := *e
	c.Details = details
	return &c
}

// WithCause returns a copy of e wrapping cause.
func (e *AppError) WithCause(cause error) *AppError {
	c := *e
	c.cause = cause
	if c.Details == "" && cause != nil {
		c.Details = cause.Error()
	}
	return &c
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case AccountNotFound, PayerNotFound:
		return http.StatusNotFound
	case DuplicateAccount:
		return http.StatusConflict
	case InvalidAmount, InvalidInput:
		return http.StatusBadRequest
	case InsufficientBalance:
		return http.StatusUnprocessableEntity
	case IdentityMismatch, IdentityVerificationFailed, NoMatch:
		return http.StatusUnauthorized
	case DeviceTimeout:
		return http.StatusGatewayTimeout
	case ConnectionError, WriteError, TransportError, MalformedResponse, EnrollmentFailed, SensorFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in err's chain, or
// InternalError when there is none.
func CodeOf(err error) ErrorCode {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return InternalError
}

// Reason returns the code of the innermost AppError in err's chain: the
// most specific account of what went wrong.
func Reason(err error) ErrorCode {
	reason := InternalError
	for e := err; e != nil; e = stderrors.Unwrap(e) {
		if appErr, ok := e.(*AppError); ok {
			reason = appErr.Code
		}
	}
	return reason
}

// Predefined errors for common cases
var (
	ErrAccountNotFound   = NewAppError(AccountNotFound, "account not found")
	ErrDuplicateAccount  = NewAppError(DuplicateAccount, "account already exists")
	ErrInvalidAmount     = NewAppError(InvalidAmount, "amount must be greater than zero")
	ErrInvalidInput      = NewAppError(InvalidInput, "invalid input")
	ErrDuplicateIdentity = NewAppError(DuplicateAccount, "identity already bound to another account")

	ErrConnection        = NewAppError(ConnectionError, "sensor port unavailable")
	ErrWrite             = NewAppError(WriteError, "failed to write to sensor")
	ErrTransport         = NewAppError(TransportError, "sensor link failed")
	ErrDeviceTimeout     = NewAppError(DeviceTimeout, "sensor did not respond in time")
	ErrMalformedResponse = NewAppError(MalformedResponse, "sensor returned an unparsable response")
	ErrEnrollmentFailed  = NewAppError(EnrollmentFailed, "fingerprint enrollment failed")
	ErrNoMatch           = NewAppError(NoMatch, "fingerprint did not match any enrolled template")
	ErrSensorFailed      = NewAppError(SensorFailed, "sensor reported a failure")

	ErrPayerNotFound              = NewAppError(PayerNotFound, "payer not found")
	ErrInsufficientBalance        = NewAppError(InsufficientBalance, "insufficient balance")
	ErrIdentityMismatch           = NewAppError(IdentityMismatch, "fingerprint does not belong to this account")
	ErrIdentityVerificationFailed = NewAppError(IdentityVerificationFailed, "fingerprint verification failed")

	ErrPersistence = NewAppError(PersistenceError, "ledger could not be persisted")
)
