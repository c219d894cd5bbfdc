// Package errkind defines the shared error-kind taxonomy used across the
// connection, discovery, toolset, and router layers so callers branch on a
// stable kind rather than on transport- or library-specific error types.
package errkind

// Kind identifies the category of a failure without naming its cause.
type Kind string

// Configuration errors — fatal at process init.
const (
	KindDuplicateServer   Kind = "duplicate_server"
	KindUnknownTransport  Kind = "unknown_transport"
	KindMissingField      Kind = "missing_field"
	KindSelfReference     Kind = "self_reference"
)

// Transport errors.
const (
	KindConnect Kind = "connect"
	KindSend    Kind = "send"
	KindClosed  Kind = "closed"
	KindParse   Kind = "parse"
	KindTimeout Kind = "timeout"
	KindPing    Kind = "ping"
)

// Discovery errors.
const (
	KindListFailed Kind = "list_failed"
)

// Resolution errors.
const (
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindStaleRef      Kind = "stale_reference"
	KindInvalidRef    Kind = "invalid_reference"
)

// Call / router errors.
const (
	KindInvalidParams  Kind = "invalid_parameters"
	KindServerDown     Kind = "server_not_connected"
	KindRoutingError   Kind = "routing_error"
	KindCircuitOpen    Kind = "circuit_open"
)

// Error is the common error variant carried by every layer: a stable Kind,
// a human-readable Detail, and flags describing whether a caller should
// retry the operation (Retryable) or whether the failure was absorbed
// locally without corrupting state (Recoverable).
type Error struct {
	Kind        Kind
	Detail      string
	Retryable   bool
	Recoverable bool
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Detail + ": " + e.Err.Error()
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the given kind and detail.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an Error wrapping an underlying cause.
func Wrap(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// WithRetry marks the error as retryable and returns it for chaining.
func (e *Error) WithRetry() *Error {
	e.Retryable = true
	return e
}

// WithRecoverable marks the error as recoverable and returns it for chaining.
func (e *Error) WithRecoverable() *Error {
	e.Recoverable = true
	return e
}
