package position

import "fmt"

// MalformedRowError is returned when a row lacks an identity column or
// carries a value that cannot be coerced to the column's type.
type MalformedRowError struct {
	Field  string
	Reason string
}

func (e *MalformedRowError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("malformed row: missing %s", e.Field)
	}
	return fmt.Sprintf("malformed row: %s: %s", e.Field, e.Reason)
}

func missing(field string) error {
	return &MalformedRowError{Field: field}
}

func badValue(field string, v any, err error) error {
	reason := fmt.Sprintf("cannot use %v (%T)", v, v)
	if err != nil {
		reason += ": " + err.Error()
	}
	return &MalformedRowError{Field: field, Reason: reason}
}
