// Package bridgeerr defines the closed set of error kinds the bridge
// surfaces to clients, and a wrapper type that carries one alongside
// the underlying cause.
package bridgeerr

import "fmt"

// Kind is one of the six wire-visible error categories.
type Kind string

const (
	KindBus               Kind = "dBusError"
	KindServer            Kind = "serverError"
	KindUnsupportedFormat Kind = "unsupportedFormat"
	KindJSON              Kind = "jsonError"
	KindBusFormat         Kind = "dBusFormatError"
	KindBusValue          Kind = "dBusValueError"
)

// Error wraps an underlying cause with a wire-visible Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind from a message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap annotates an existing error with a Kind, unless it already carries one.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if As(err, &existing) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// As is a thin re-export point so callers don't need a second import
// for the common case of recovering the Kind from an error chain.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// KindOf recovers the Kind of err, defaulting to KindServer when err
// carries none (anything reaching the top uncategorized is a server
// error, per the propagation policy).
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindServer
}
