package render

import (
	"errors"
	"fmt"
)

// ErrEmptyOutput is reported when the engine returns no markup.
var ErrEmptyOutput = errors.New("engine returned empty svg")

// RenderError records a failed render of one catalogue entry.
type RenderError struct {
	Category string
	Name     string
	Source   string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("cannot render %s/%s (%s): %v", e.Category, e.Name, e.Source, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
