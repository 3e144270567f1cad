// Package fault classifies pipeline failures into configuration errors, which
// abort a run with a clear message, and input errors raised by stages that
// receive structurally invalid arguments.
package fault

import (
	"errors"

	"github.com/rotisserie/eris"
)

// ConfigError marks a fatal configuration problem: a degenerate accessible
// area, a zero-sum probability surface, an empty dataset, or an invalid
// setting. It is never coerced to a default.
type ConfigError struct {
	Stage string
	Err   error
}

func (e *ConfigError) Error() string {
	return "configuration error in " + e.Stage + ": " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Config wraps a formatted message as a ConfigError raised by stage.
func Config(stage, format string, args ...any) *ConfigError {
	return &ConfigError{Stage: stage, Err: eris.Errorf(format, args...)}
}

// InputError marks structurally invalid input to a split, index, or sampling
// stage, such as a non-positive distance or fold count.
type InputError struct {
	Op  string
	Err error
}

func (e *InputError) Error() string {
	return e.Op + ": invalid input: " + e.Err.Error()
}

func (e *InputError) Unwrap() error {
	return e.Err
}

// Input wraps a formatted message as an InputError raised by op.
func Input(op, format string, args ...any) *InputError {
	return &InputError{Op: op, Err: eris.Errorf(format, args...)}
}

// IsConfig returns true if err (or any error in its chain) is a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsInput returns true if err (or any error in its chain) is an InputError.
func IsInput(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}
