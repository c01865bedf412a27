package iface

import (
	"errors"
	"fmt"
)

// ErrNoFrame marks an acquisition gap: the source had nothing to return.
var ErrNoFrame = errors.New("no frame available")

type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func ConfigErrorf(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type InitializationError struct {
	Component string
	Err       error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization of %s failed: %v", e.Component, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// ClassificationError is scoped to a single window (or the whole frame).
type ClassificationError struct {
	Window Window
	Err    error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification of window %d at (%d,%d) failed: %v", e.Window.Index, e.Window.X, e.Window.Y, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}
