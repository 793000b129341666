// Package errors provides the error taxonomy for the analysis server
// protocol. Every client-visible failure maps to a Kind; the Kind's wire
// message is part of the protocol contract and is rendered byte-for-byte
// by the session layer with the "ERROR: " prefix.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a protocol error for handling and wire rendering.
type Kind int

const (
	// KindInternal represents server-internal failures surfaced to the
	// client as a generic exception summary.
	KindInternal Kind = iota
	// KindNoSuchObject represents a reference to an instance name the
	// session never started.
	KindNoSuchObject
	// KindNoSuchProperty represents an unresolvable property path.
	KindNoSuchProperty
	// KindCannotSet represents a write to a read-only attribute.
	KindCannotSet
	// KindInvalidSyntax represents a command argument arity/shape error.
	KindInvalidSyntax
	// KindNotImplemented represents a recognized but unimplemented verb.
	KindNotImplemented
	// KindBadTransition represents an invalid stream mode transition.
	KindBadTransition
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindNoSuchObject:
		return "no-such-object"
	case KindNoSuchProperty:
		return "no-such-property"
	case KindCannotSet:
		return "cannot-set"
	case KindInvalidSyntax:
		return "invalid-syntax"
	case KindNotImplemented:
		return "not-implemented"
	case KindBadTransition:
		return "bad-transition"
	default:
		return "internal"
	}
}

// Standard error variables for conditions that carry no parameters.
var (
	// ErrConnClosed reports end-of-connection on the transport. It
	// terminates the owning session loop and is never sent on the wire.
	ErrConnClosed = errors.New("connection closed")

	// ErrBadTransition is the fixed stream mode transition error. The
	// message text is part of the wire contract.
	ErrBadTransition error = &ProtocolError{
		Kind:    KindBadTransition,
		Message: "Can only transition from 'cooked' to 'raw'",
	}
)

// ProtocolError is a client-visible error with a fixed wire message.
type ProtocolError struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (pe *ProtocolError) Error() string {
	return pe.Message
}

// Unwrap returns the underlying error, if any.
func (pe *ProtocolError) Unwrap() error {
	return pe.Err
}

// NoSuchObject reports a reference to an unknown instance name.
func NoSuchObject(name string) error {
	return &ProtocolError{
		Kind:    KindNoSuchObject,
		Message: fmt.Sprintf("no such object: <%s>", name),
	}
}

// NoSuchProperty reports an unresolvable external property path.
func NoSuchProperty(path string) error {
	return &ProtocolError{
		Kind:    KindNoSuchProperty,
		Message: fmt.Sprintf("no such property <%s>.", path),
	}
}

// CannotSet reports a write to a read-only attribute.
func CannotSet(path string) error {
	return &ProtocolError{
		Kind:    KindCannotSet,
		Message: fmt.Sprintf("cannot set <%s>.", path),
	}
}

// InvalidSyntax reports a command argument mismatch. The usage string is
// the command's canonical usage line and must match the legacy text.
func InvalidSyntax(usage string) error {
	return &ProtocolError{
		Kind:    KindInvalidSyntax,
		Message: "invalid syntax. Proper syntax:\n" + usage,
	}
}

// NotImplemented reports a recognized but unimplemented command.
func NotImplemented(what string) error {
	return &ProtocolError{
		Kind:    KindNotImplemented,
		Message: "not implemented: " + what,
	}
}

// Internal wraps a server-internal failure for wire rendering as an
// exception summary without a stack trace.
func Internal(err error) error {
	return &ProtocolError{
		Kind:    KindInternal,
		Message: fmt.Sprintf("Exception: %s", err),
		Err:     err,
	}
}

// Internalf is Internal with formatting.
func Internalf(format string, args ...any) error {
	return Internal(fmt.Errorf(format, args...))
}

// KindOf returns the Kind for an error. Unclassified errors are internal.
func KindOf(err error) Kind {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// IsKind checks whether err carries the given protocol kind.
func IsKind(err error, kind Kind) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}

// WireMessage renders the message sent to the client (without the
// "ERROR: " prefix). Errors that never carried a fixed wire message are
// rendered as exception summaries.
func WireMessage(err error) string {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return fmt.Sprintf("Exception: %s", err)
}

// Wrap creates a standardized internal error with context following the
// pattern "component.method: action failed: %w". Used for server-side
// failures that are logged, not sent on the wire.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}
