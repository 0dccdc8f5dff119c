package record

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfig marks a record that is missing required fields.
	ErrConfig = errors.New("record: configuration error")
	// ErrParse marks a persisted record that could not be decoded.
	ErrParse = errors.New("record: parse error")
	// ErrImmutableField is returned when a mutation targets the record uid.
	ErrImmutableField = errors.New("record: field is immutable")
	// ErrFieldNotFound is returned when deleting a key the record does not own.
	ErrFieldNotFound = errors.New("record: field not found")
)

// MissingFieldsError names the required fields absent from a record.
type MissingFieldsError struct {
	Kind   string
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("record: %s: missing required fields: %s", e.Kind, strings.Join(e.Fields, ", "))
}

func (e *MissingFieldsError) Unwrap() error { return ErrConfig }

// ParseError reports a malformed persisted document.
type ParseError struct {
	Document int // zero-based index in the stream
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("record: parse document %d: %v", e.Document, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }
