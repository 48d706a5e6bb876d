// Package errors provides coded errors for taxiflow.
// Every failure that ends a run carries a Code so callers and the run ledger
// can classify it without string matching.
package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"runtime"
	"sort"
	"strings"
)

// Code classifies an error for programmatic handling.
type Code string

const (
	// Acquisition
	CodeAuthentication Code = "AUTHENTICATION"
	CodeNetwork        Code = "NETWORK"

	// Output directory
	CodePermission Code = "PERMISSION"
	CodeIO         Code = "IO"
	CodeLocked     Code = "LOCKED"

	// Transformation
	CodeInputNotFound Code = "INPUT_NOT_FOUND"
	CodeSchema        Code = "SCHEMA"
	CodeParse         Code = "PARSE"

	// System
	CodeCanceled Code = "CANCELED"
	CodeConfig   Code = "CONFIG"
	CodeUnknown  Code = "UNKNOWN"
)

// Error is the base error type for all taxiflow errors.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	e := New(code, fmt.Sprintf(format, args...))
	e.StackTrace = captureStack(2)
	return e
}

// Wrap wraps an existing error with a code and message. Wrap(nil, ...) is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	e := Wrap(err, code, fmt.Sprintf(format, args...))
	e.StackTrace = captureStack(2)
	return e
}

// WrapFS wraps a filesystem error, choosing CodePermission for permission
// failures and CodeIO for everything else.
func WrapFS(err error, message string) *Error {
	if err == nil {
		return nil
	}
	code := CodeIO
	if errors.Is(err, fs.ErrPermission) {
		code = CodePermission
	}
	e := Wrap(err, code, message)
	e.StackTrace = captureStack(2)
	return e
}

func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// InputNotFound reports that no input file could be selected.
func InputNotFound(dir string) *Error {
	e := New(CodeInputNotFound, "no input file found").WithContext("dir", dir)
	e.StackTrace = captureStack(2)
	return e
}

// MissingColumns reports required columns absent from the header.
func MissingColumns(missing, available []string) *Error {
	e := New(CodeSchema, "input is missing required columns").
		WithContext("missing", missing).
		WithContext("available", available)
	e.StackTrace = captureStack(2)
	return e
}

// ParseError reports a row-level or file-level parse failure.
func ParseError(path string, row int64, err error) *Error {
	e := Wrap(err, CodeParse, "parse error")
	if e == nil {
		e = New(CodeParse, "parse error")
	}
	e.WithContext("path", path)
	if row > 0 {
		e.WithContext("row", row)
	}
	e.StackTrace = captureStack(2)
	return e
}

// Canceled reports that an operation stopped because its context ended.
func Canceled(operation string, err error) *Error {
	e := Wrap(err, CodeCanceled, "operation canceled")
	if e == nil {
		e = New(CodeCanceled, "operation canceled")
	}
	e.WithContext("operation", operation)
	return e
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var tfErr *Error
	if errors.As(err, &tfErr) {
		return tfErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var tfErr *Error
	if errors.As(err, &tfErr) {
		return tfErr.Code
	}
	return CodeUnknown
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
