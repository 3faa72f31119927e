package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Error Kinds
// ============================================================================

// Kind is the stable classification of a failed dispatch. Callers branch on
// Kind, never on Message.
type Kind string

const (
	KindTimeout        Kind = "timeout"
	KindUnauthorized   Kind = "unauthorized"
	KindForbidden      Kind = "forbidden"
	KindNotFound       Kind = "not_found"
	KindClientError    Kind = "client_error"
	KindServerError    Kind = "server_error"
	KindNetworkFailure Kind = "network_failure"
	KindMalformedToken Kind = "malformed_token"
)

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }

// Reason is the structured cause of a transport-level failure, reported by the
// transport adapter so that nothing has to inspect free-text error messages.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonTimeout    Reason = "timeout"
	ReasonConnection Reason = "connection"
	ReasonProxy      Reason = "proxy"
	ReasonCanceled   Reason = "canceled"
	ReasonUnknown    Reason = "unknown"
)

// ============================================================================
// User-facing messages
// ============================================================================

// The kind to message mapping is part of the contract: calling layers show
// these strings to users as-is.
const (
	MsgTimeout        = "request timed out"
	MsgUnauthorized   = "login has expired, please sign in again"
	MsgForbidden      = "you do not have permission to perform this action"
	MsgNotFound       = "the requested resource does not exist"
	MsgMalformedToken = "session token is malformed"
	MsgBodyTooLarge   = "response is too large to process"

	MsgNetworkTimeout    = "request timed out, please check the network"
	MsgNetworkConnection = "network connection failed, please check network settings"
	MsgNetworkProxy      = "proxy connection failed, please check network configuration"
	MsgNetworkCanceled   = "request was canceled"
	MsgNetworkGeneric    = "network request failed"
)

// ============================================================================
// Error
// ============================================================================

// Error is a classified dispatch failure. It is built once per failed
// dispatch and never mutated afterwards.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind Kind

	// Message is the fixed user-facing text for Kind (and Status/Reason).
	Message string

	// Status is the HTTP status code, 0 when no response was obtained.
	Status int

	// Reason is set for NetworkFailure errors.
	Reason Reason

	// Detail carries server-provided text for diagnostics, never shown to users.
	Detail string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// Is matches another *Error by Kind. A target with a non-zero Status must also
// match the status, so errors.Is(err, ErrNotFound) and
// errors.Is(err, &Error{Kind: KindClientError, Status: 409}) both work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Status == 0 || t.Status == e.Status
}

// Retryable reports whether the dispatcher may re-issue the request. Only
// transport failures that never produced a response qualify.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetworkFailure && e.Reason != ReasonCanceled
}

// ============================================================================
// Sentinels
// ============================================================================

var (
	ErrTimeout        = &Error{Kind: KindTimeout, Message: MsgTimeout}
	ErrUnauthorized   = &Error{Kind: KindUnauthorized, Message: MsgUnauthorized}
	ErrForbidden      = &Error{Kind: KindForbidden, Message: MsgForbidden}
	ErrNotFound       = &Error{Kind: KindNotFound, Message: MsgNotFound}
	ErrClientError    = &Error{Kind: KindClientError}
	ErrServerError    = &Error{Kind: KindServerError}
	ErrNetworkFailure = &Error{Kind: KindNetworkFailure, Message: MsgNetworkGeneric}
	ErrMalformedToken = &Error{Kind: KindMalformedToken, Message: MsgMalformedToken}
)

// ============================================================================
// Constructors
// ============================================================================

// New creates an error of the given kind with a custom message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// Timeout returns the error for an attempt that did not settle in time.
func Timeout() *Error {
	return &Error{Kind: KindTimeout, Message: MsgTimeout}
}

// MalformedToken returns the error for a token that cannot be decoded.
func MalformedToken(cause error) *Error {
	return &Error{Kind: KindMalformedToken, Message: MsgMalformedToken, cause: cause}
}

// FromStatus classifies a non-2xx HTTP status. detail is the server body
// (already truncated by the caller) and is kept out of Message.
func FromStatus(status int, detail string) *Error {
	e := &Error{Status: status, Detail: detail}

	switch {
	case status == http.StatusUnauthorized:
		e.Kind, e.Message = KindUnauthorized, MsgUnauthorized
	case status == http.StatusForbidden:
		e.Kind, e.Message = KindForbidden, MsgForbidden
	case status == http.StatusNotFound:
		e.Kind, e.Message = KindNotFound, MsgNotFound
	case status >= 500:
		e.Kind, e.Message = KindServerError, fmt.Sprintf("server error: %d", status)
	default:
		e.Kind, e.Message = KindClientError, fmt.Sprintf("request error: %d", status)
	}

	return e
}

// FromTransport classifies a transport failure by its structured reason.
func FromTransport(reason Reason, cause error) *Error {
	e := &Error{Kind: KindNetworkFailure, Reason: reason, cause: cause}

	switch reason {
	case ReasonTimeout:
		e.Message = MsgNetworkTimeout
	case ReasonConnection:
		e.Message = MsgNetworkConnection
	case ReasonProxy:
		e.Message = MsgNetworkProxy
	case ReasonCanceled:
		e.Message = MsgNetworkCanceled
	default:
		e.Reason = ReasonUnknown
		e.Message = MsgNetworkGeneric
	}

	return e
}

// ============================================================================
// Helpers
// ============================================================================

// KindOf returns the Kind of err, or "" when err is not a classified error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
