package event

import (
	"fmt"
	"slices"
)

// Type names what happened. Types are free form, the constants cover the common entity life cycle.
type Type string

const (
	Create Type = "create"
	Update Type = "update"
	Delete Type = "delete"
)

var MissingTypeError = fmt.Errorf("event type is missing")

// OfType is a filter accepting events of any of the given types.
func OfType[MT any](types ...Type) func(Info[MT]) bool {
	return func(i Info[MT]) bool {
		return slices.Contains(types, i.Type)
	}
}

// All is the filter that accepts everything.
func All[MT any](Info[MT]) bool {
	return true
}
