package redisclient

import (
	"github.com/pkg/errors"
)

/*
Error Kinds

The core recognizes four distinct failure kinds:

  - TransportError: socket-level failure (dial refused, read/write error,
    EOF before a reply arrived).
  - TimeoutError: a deadline was exceeded on a synchronous operation.
  - ProtocolError: the Parser returned StatusError; the byte stream is not
    valid RESP2.
  - StateError: the caller issued an operation the connection's current
    State does not permit.

A well-formed "-ERR ..." reply is NOT one of these: it is a ServerError,
carried inside a Value of Kind KindError and handed back to the caller
like any other reply, never raised at the API boundary.

Each kind wraps its underlying cause with github.com/pkg/errors so the
original call site is preserved in the error chain, while still
supporting stdlib errors.Is/errors.As against the kind via the sentinel
wrapper types below.
*/

// TransportError reports a socket-level failure.
type TransportError struct{ cause error }

func (e *TransportError) Error() string { return "redisclient: transport error: " + e.cause.Error() }
func (e *TransportError) Unwrap() error { return e.cause }
func (e *TransportError) Cause() error  { return errors.Cause(e.cause) }

func newTransportError(format string, args ...interface{}) *TransportError {
	return &TransportError{cause: errors.Errorf(format, args...)}
}

func wrapTransportError(err error, msg string) *TransportError {
	return &TransportError{cause: errors.Wrap(err, msg)}
}

// TimeoutError reports a deadline exceeded on a synchronous operation.
type TimeoutError struct{ cause error }

func (e *TimeoutError) Error() string { return "redisclient: timeout: " + e.cause.Error() }
func (e *TimeoutError) Unwrap() error { return e.cause }

func newTimeoutError(format string, args ...interface{}) *TimeoutError {
	return &TimeoutError{cause: errors.Errorf(format, args...)}
}

// ProtocolError reports invalid RESP2 on the wire.
type ProtocolError struct{ cause error }

func (e *ProtocolError) Error() string { return "redisclient: protocol error: " + e.cause.Error() }
func (e *ProtocolError) Unwrap() error { return e.cause }

func newProtocolError(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{cause: errors.Errorf(format, args...)}
}

// StateError reports an operation issued in a State that does not permit
// it, e.g. a command before Connect.
type StateError struct{ cause error }

func (e *StateError) Error() string { return "redisclient: " + e.cause.Error() }
func (e *StateError) Unwrap() error { return e.cause }

func newStateError(op string, s State) *StateError {
	return &StateError{cause: errors.Errorf("cannot %s while %s", op, s)}
}

// errConnectionClosed is the cause every pending reply continuation is
// completed with, exactly once, when the Engine transitions to Closed.
func errConnectionClosed() *TransportError {
	return newTransportError("connection closed")
}
