package errors

import (
	"fmt"
	"strings"
)

// ValidationError aggregates field-level validation failures for one entity
// into a single operator-readable error. The entity is identified by, in
// priority order: label, guid, raw id.
type ValidationError struct {
	Label  string
	GUID   string
	ID     string
	Fields map[string][]string // field name -> messages
}

// NewValidationError creates an empty validation error for an entity.
func NewValidationError(label, guid, id string) *ValidationError {
	return &ValidationError{
		Label:  label,
		GUID:   guid,
		ID:     id,
		Fields: make(map[string][]string),
	}
}

// AddFieldError records a validation failure for a field.
func (e *ValidationError) AddFieldError(field, message string) {
	e.Fields[field] = append(e.Fields[field], message)
}

// HasErrors reports whether any field failures were recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// Identifier returns the best available handle for the offending entity.
func (e *ValidationError) Identifier() string {
	switch {
	case e.Label != "":
		return e.Label
	case e.GUID != "":
		return e.GUID
	default:
		return e.ID
	}
}

func (e *ValidationError) Error() string {
	var parts []string
	for field, msgs := range e.Fields {
		for _, msg := range msgs {
			parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
		}
	}
	return fmt.Sprintf("validation failed for entity %q: %s",
		e.Identifier(), strings.Join(parts, "; "))
}
