// Package errors provides standardized error values for the class runtime.
package errors

import (
	"fmt"
	"runtime"

	cerr "github.com/cockroachdb/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryMemory ErrorCategory = "MEMORY"
	CategoryMisuse ErrorCategory = "MISUSE"
)

// Markers used with Is. Every StandardError is marked with the marker of
// its category.
var (
	ErrOutOfMemory = cerr.New("out of memory")
	ErrMisuse      = cerr.New("class runtime misuse")
)

// StandardError provides a consistent error format
type StandardError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
}

// Error implements the error interface
func (e *StandardError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// NewStandardError creates a new standardized error. The caller recorded is
// the function that invoked the constructor helper.
func NewStandardError(category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	return newStandardError(2, category, code, message, context)
}

func newStandardError(skip int, category ErrorCategory, code, message string, context map[string]interface{}) *StandardError {
	pc, _, _, ok := runtime.Caller(skip)
	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// OutOfMemory reports that a reservation of size bytes for what could not be
// satisfied within limit.
func OutOfMemory(what string, size, inUse, limit uintptr) error {
	se := newStandardError(2, CategoryMemory, "OUT_OF_MEMORY",
		fmt.Sprintf("cannot reserve %d bytes for %s (%d of %d in use)", size, what, inUse, limit),
		map[string]interface{}{"what": what, "size": size, "in_use": inUse, "limit": limit})
	return cerr.WithHint(cerr.Mark(se, ErrOutOfMemory), "raise the allocator memory limit")
}

// NilDescriptor reports an operation invoked without a class descriptor.
func NilDescriptor(operation string) error {
	se := newStandardError(2, CategoryMisuse, "NIL_DESCRIPTOR",
		fmt.Sprintf("nil class descriptor passed to %s", operation),
		map[string]interface{}{"operation": operation})
	return cerr.Mark(cerr.WithAssertionFailure(se), ErrMisuse)
}

// DepthExceeded reports a parent chain longer than the configured bound,
// which usually means the chain contains a cycle.
func DepthExceeded(class string, limit int) error {
	se := newStandardError(2, CategoryMisuse, "DEPTH_EXCEEDED",
		fmt.Sprintf("parent chain of %q exceeds %d levels", class, limit),
		map[string]interface{}{"class": class, "limit": limit})
	return cerr.WithHint(cerr.Mark(cerr.WithAssertionFailure(se), ErrMisuse), "check the parent chain for a cycle")
}

// IsOutOfMemory reports whether err carries the out-of-memory marker.
func IsOutOfMemory(err error) bool {
	return cerr.Is(err, ErrOutOfMemory)
}

// IsMisuse reports whether err carries the misuse marker.
func IsMisuse(err error) bool {
	return cerr.Is(err, ErrMisuse)
}

// Category extracts the category of the StandardError wrapped by err, or ""
// when err does not wrap one.
func Category(err error) ErrorCategory {
	var se *StandardError
	if cerr.As(err, &se) {
		return se.Category
	}
	return ""
}
