package neuralnet

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks malformed network descriptions: unknown tags, bad widths,
	// truncated bodies, inconsistent training settings.
	ErrConfig = errors.New("configuration error")

	// ErrDimensionMismatch marks violated shape contracts between chained
	// components or between features and targets.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// ConfigError returns an error wrapping ErrConfig.
func ConfigError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// DimensionError returns an error wrapping ErrDimensionMismatch.
func DimensionError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDimensionMismatch, fmt.Sprintf(format, args...))
}
