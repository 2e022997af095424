package schema

import "errors"

// ErrNoDefinition is returned when an operation needs a declarative table
// definition and the caller supplied none. A blind CREATE is never attempted.
var ErrNoDefinition = errors.New("no schema definition for table")

// ValidationError reports an invalid parameter or table definition.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "invalid parameter: " + e.Msg
}
