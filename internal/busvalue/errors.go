package busvalue

import (
	"errors"
	"fmt"
)

// Sentinel causes for the codec-level mismatches named in the error
// handling design (kind busValue); wrapped with %w so callers can
// still errors.Is against them after bridgeerr.Wrap.
var (
	errEmptyStructure     = errors.New("empty structure")
	errElementsTypeDiffer = errors.New("The elements have different types")
)

// ErrEmptyStructure reports whether err is (or wraps) the empty
// struct violation.
func ErrEmptyStructure(err error) bool { return errors.Is(err, errEmptyStructure) }

// ErrElementsTypeDiffer reports whether err is (or wraps) the
// heterogeneous array/dict violation.
func ErrElementsTypeDiffer(err error) bool { return errors.Is(err, errElementsTypeDiffer) }

// FormatError marks a failure coming from the bus library itself while
// it serializes a value for the wire (e.g. a malformed DBus signature
// string), as distinct from a codec-level value mismatch.
type FormatError struct {
	err error
}

func (e *FormatError) Error() string { return e.err.Error() }
func (e *FormatError) Unwrap() error { return e.err }

func newFormatError(format string, args ...any) error {
	return &FormatError{err: fmt.Errorf(format, args...)}
}

// IsFormatError reports whether err is (or wraps) a bus-library
// serialization failure.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
