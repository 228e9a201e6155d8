package validator

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// AssertionError is a failed expectation on a response. Any other error
// reaching the report is classified as an exception.
type AssertionError struct {
	err error
}

func assertf(format string, args ...any) error {
	return &AssertionError{err: errors.Errorf(format, args...)}
}

// asAssertion reclassifies err as an assertion failure.
func asAssertion(err error) error {
	return &AssertionError{err: errors.WithStack(err)}
}

func (e *AssertionError) Error() string {
	return e.err.Error()
}

func (e *AssertionError) Unwrap() error {
	return e.err
}

// Format prints the stack trace for %+v.
func (e *AssertionError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = fmt.Fprintf(s, "%+v", e.err)
			return
		}

		fallthrough
	case 's':
		_, _ = io.WriteString(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}

// IsAssertion reports whether err is, or wraps, an assertion failure.
func IsAssertion(err error) bool {
	var ae *AssertionError
	return errors.As(err, &ae)
}
