// Package onn structured error types for better error handling
package onn

import (
	"fmt"
)

// ErrorType represents categories of errors
type ErrorType int

const (
	// Invalid argument errors
	ErrTypeInvalidArg ErrorType = iota
	// Tensor/grid shape mismatch errors
	ErrTypeShape
	// Numerical errors
	ErrTypeNumerical
	// Not implemented errors
	ErrTypeNotImplemented
)

// ONNError represents a structured error with context
type ONNError struct {
	Type    ErrorType
	Op      string // Operation that failed
	Message string // Human-readable message
	Err     error  // Underlying error if any
}

// Error implements the error interface
func (e *ONNError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("onn %s error in %s: %s (caused by: %v)",
			e.Type.String(), e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("onn %s error in %s: %s",
		e.Type.String(), e.Op, e.Message)
}

// Unwrap allows error chain inspection
func (e *ONNError) Unwrap() error {
	return e.Err
}

// String returns the error type as a string
func (t ErrorType) String() string {
	switch t {
	case ErrTypeInvalidArg:
		return "InvalidArgument"
	case ErrTypeShape:
		return "Shape"
	case ErrTypeNumerical:
		return "Numerical"
	case ErrTypeNotImplemented:
		return "NotImplemented"
	default:
		return "Unknown"
	}
}

// Common error constructors

// NewInvalidArgError creates an invalid argument error
func NewInvalidArgError(op string, message string) error {
	return &ONNError{
		Type:    ErrTypeInvalidArg,
		Op:      op,
		Message: message,
	}
}

// NewShapeError creates a shape mismatch error
func NewShapeError(op string, message string) error {
	return &ONNError{
		Type:    ErrTypeShape,
		Op:      op,
		Message: message,
	}
}

// NewNumericalError creates a numerical error
func NewNumericalError(op string, message string, err error) error {
	return &ONNError{
		Type:    ErrTypeNumerical,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NewNotImplementedError creates a not implemented error
func NewNotImplementedError(op string, message string) error {
	return &ONNError{
		Type:    ErrTypeNotImplemented,
		Op:      op,
		Message: message,
	}
}

// IsShapeError checks if an error is a shape mismatch error
func IsShapeError(err error) bool {
	if e, ok := err.(*ONNError); ok {
		return e.Type == ErrTypeShape
	}
	return false
}

// IsNotImplementedError checks if an error is a not implemented error
func IsNotImplementedError(err error) bool {
	if e, ok := err.(*ONNError); ok {
		return e.Type == ErrTypeNotImplemented
	}
	return false
}
