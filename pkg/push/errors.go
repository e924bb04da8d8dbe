package push

import (
	"errors"
	"fmt"
)

// ErrInvalidEventName matches every InvalidEventNameError via errors.Is.
var ErrInvalidEventName = errors.New("invalid event name")

// InvalidEventNameError is returned when an event name is outside the closed set.
type InvalidEventNameError struct {
	Name string
}

func (e *InvalidEventNameError) Error() string {
	return fmt.Sprintf("invalid event name %q: must be one of received, opened, ids", e.Name)
}

func (e *InvalidEventNameError) Is(target error) bool {
	return target == ErrInvalidEventName
}
