package common

import (
	"fmt"
	"strings"
)

// SchemaError reports a malformed or ambiguous schema declaration.
type SchemaError struct {
	// Entry names the schema entry, Field the offending field (if any).
	Entry  string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema %s.%s: %s", e.Entry, e.Field, e.Reason)
	}
	if e.Entry != "" {
		return fmt.Sprintf("schema %s: %s", e.Entry, e.Reason)
	}
	return "schema: " + e.Reason
}

// NewSchemaError builds a SchemaError with a formatted reason.
func NewSchemaError(entry, field, format string, args ...interface{}) *SchemaError {
	return &SchemaError{Entry: entry, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ExtractionError reports a locator that could not be resolved as required.
type ExtractionError struct {
	Locator string
	Reason  string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %q: %s", e.Locator, e.Reason)
}

// PropertyError reports access to an unknown property or field.
type PropertyError struct {
	Name string
	// Known lists the valid names, for diagnostics.
	Known []string
}

func (e *PropertyError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown property: %s", e.Name)
	}
	return fmt.Sprintf("unknown property: %s (have %s)", e.Name, strings.Join(e.Known, ", "))
}

// StateError reports an operation invoked in the wrong state.
type StateError struct {
	Op     string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// WriteConflict reports a change document rejected by the device with fatal severity.
type WriteConflict struct {
	Err *RPCError
}

func (e *WriteConflict) Error() string {
	return "write rejected: " + e.Err.Error()
}

// Unwrap delivers the underlying rpc error.
func (e *WriteConflict) Unwrap() error {
	return e.Err
}
