package extract

import (
	"errors"
	"fmt"
)

// ErrorType categorizes extraction failures.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeFileUnreadable
	ErrorTypeIdentityMismatch
	ErrorTypeMissingField
	ErrorTypeUnknownLayout
)

// String returns a string representation of the ErrorType
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeFileUnreadable:
		return "FILE_UNREADABLE"
	case ErrorTypeIdentityMismatch:
		return "IDENTITY_MISMATCH"
	case ErrorTypeMissingField:
		return "MISSING_FIELD"
	case ErrorTypeUnknownLayout:
		return "UNKNOWN_LAYOUT"
	default:
		return "UNKNOWN"
	}
}

// Error is returned for every failed extraction. No fields are returned
// alongside it.
type Error struct {
	Type     ErrorType `json:"type"`
	Document Kind      `json:"document"`
	Path     string    `json:"path,omitempty"`
	Field    string    `json:"field,omitempty"`
	Expected string    `json:"expected,omitempty"`
	Found    string    `json:"found,omitempty"`
	Err      error     `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	switch e.Type {
	case ErrorTypeIdentityMismatch:
		return fmt.Sprintf("[%s] %s: case id %q does not match %q in %s", e.Type, e.Document, e.Found, e.Expected, e.Path)
	case ErrorTypeMissingField:
		return fmt.Sprintf("[%s] %s: field %q is empty in %s", e.Type, e.Document, e.Field, e.Path)
	case ErrorTypeUnknownLayout:
		return fmt.Sprintf("[%s] no layout for document kind %s", e.Type, e.Document)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Type, e.Document, e.Path, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Document, e.Path)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func isType(err error, t ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}

// IsFileUnreadable reports whether err is an extraction error for a file that
// could not be opened or parsed.
func IsFileUnreadable(err error) bool { return isType(err, ErrorTypeFileUnreadable) }

// IsIdentityMismatch reports whether the document belongs to a different case.
func IsIdentityMismatch(err error) bool { return isType(err, ErrorTypeIdentityMismatch) }

func IsMissingField(err error) bool { return isType(err, ErrorTypeMissingField) }

func IsUnknownLayout(err error) bool { return isType(err, ErrorTypeUnknownLayout) }
