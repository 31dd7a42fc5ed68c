// Package errors annotates errors with context messages, detail
// strings and stack traces while keeping the original (root) error
// available for comparison against package-level sentinels.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target.
// It is the standard library's errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is the standard library's errors.As.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// wrapperError carries the annotations added by Wrap and friends.
type wrapperError struct {
	msg    string
	detail []string
	stack  []StackFrame
	root   error
}

func (e wrapperError) Error() string { return e.msg }

// Unwrap lets the standard library's errors.Is and errors.As
// see through the annotations to the root.
func (e wrapperError) Unwrap() error { return e.root }

// Root returns the original error that was wrapped by one or more
// calls to Wrap, Sub or WithDetail. An error that was never wrapped
// is returned as-is.
func Root(e error) error {
	if w, ok := e.(wrapperError); ok {
		return w.root
	}
	return e
}

// wrap prepends msg to err's message. The stack is captured only the
// first time an error is wrapped; stackSkip counts frames above the
// caller of wrap.
func wrap(err error, msg string, stackSkip int) error {
	if err == nil {
		return nil
	}

	w, ok := err.(wrapperError)
	if !ok {
		w.root = err
		w.msg = err.Error()
		w.stack = getStack(stackSkip+2, stackTraceSize)
	}
	if msg != "" {
		w.msg = msg + ": " + w.msg
	}
	return w
}

// Wrap adds a context message and stack trace to err.
// Arguments are handled as in fmt.Print.
// Wrap returns nil if err is nil.
func Wrap(err error, a ...interface{}) error {
	return wrap(err, fmt.Sprint(a...), 1)
}

// Wrapf is like Wrap, but arguments are handled as in fmt.Printf.
func Wrapf(err error, format string, a ...interface{}) error {
	return wrap(err, fmt.Sprintf(format, a...), 1)
}

// WithDetail wraps err with text as additional context.
// Detail returns the accumulated text.
func WithDetail(err error, text string) error {
	if err == nil {
		return nil
	}
	if text == "" {
		return err
	}
	w := wrap(err, text, 1).(wrapperError)
	w.detail = append(w.detail[:len(w.detail):len(w.detail)], text)
	return w
}

// WithDetailf is like WithDetail, except it formats
// the detail message as in fmt.Printf.
func WithDetailf(err error, format string, v ...interface{}) error {
	if err == nil {
		return nil
	}
	text := fmt.Sprintf(format, v...)
	w := wrap(err, text, 1).(wrapperError)
	w.detail = append(w.detail[:len(w.detail):len(w.detail)], text)
	return w
}

// Detail returns the detail messages contained in err, if any,
// joined with "; ".
func Detail(err error) string {
	w, _ := err.(wrapperError)
	return strings.Join(w.detail, "; ")
}

// Sub returns an error whose root is new and whose message, stack
// and details are those of err. It is used to translate an error from
// a lower layer into one of this package's sentinels without losing
// where it came from.
// Sub returns nil when err is nil.
func Sub(new, err error) error {
	if err == nil {
		return nil
	}
	w, ok := err.(wrapperError)
	if !ok {
		w.msg = err.Error()
		w.stack = getStack(2, stackTraceSize)
	}
	w.msg = new.Error() + ": " + w.msg
	w.root = new
	return w
}
