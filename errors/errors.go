// Package errors provides standardized error handling patterns for the media
// pipeline. It includes error classification, standard error variables, and
// helper functions for consistent error wrapping across the system.
package errors

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorInvalid represents errors due to malformed caller input
	ErrorInvalid ErrorClass = iota
	// ErrorUnsupported represents errors where a negotiated format diverges
	// from what was requested
	ErrorUnsupported
	// ErrorDevice represents open/import/streaming failures from the device layer
	ErrorDevice
	// ErrorProtocol represents operations invoked in the wrong lifecycle state
	ErrorProtocol
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorInvalid:
		return "invalid"
	case ErrorUnsupported:
		return "unsupported"
	case ErrorDevice:
		return "device"
	case ErrorProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Caller input errors
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNilBuffer       = errors.New("nil frame buffer")
	ErrStreamIndex     = errors.New("stream index out of range")
	ErrBufferAliased   = errors.New("output buffer shared between streams")
	ErrBufferPending   = errors.New("input buffer already has a pending conversion")

	// Format negotiation errors
	ErrFormatUnsupported = errors.New("format not supported by device")

	// Device layer errors
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrDeviceClosed      = errors.New("device closed")

	// Lifecycle errors
	ErrNotConfigured  = errors.New("converter not configured")
	ErrNotStarted     = errors.New("converter not started")
	ErrAlreadyStarted = errors.New("converter already started")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsInvalid checks if an error is due to malformed caller input
func IsInvalid(err error) bool {
	return hasClass(err, ErrorInvalid) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrNilBuffer) ||
		errors.Is(err, ErrStreamIndex) ||
		errors.Is(err, ErrBufferAliased) ||
		errors.Is(err, ErrBufferPending)
}

// IsUnsupported checks if an error is a format negotiation mismatch
func IsUnsupported(err error) bool {
	return hasClass(err, ErrorUnsupported) || errors.Is(err, ErrFormatUnsupported)
}

// IsDevice checks if an error originated in the device layer
func IsDevice(err error) bool {
	return hasClass(err, ErrorDevice) ||
		errors.Is(err, ErrDeviceUnavailable) ||
		errors.Is(err, ErrDeviceClosed)
}

// IsProtocol checks if an error is a lifecycle state violation
func IsProtocol(err error) bool {
	return hasClass(err, ErrorProtocol) ||
		errors.Is(err, ErrNotConfigured) ||
		errors.Is(err, ErrNotStarted) ||
		errors.Is(err, ErrAlreadyStarted)
}

func hasClass(err error, class ErrorClass) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == class
	}
	return false
}

// Classify returns the error class for an error. Unclassified errors default
// to the device class, matching how unexpected failures from the driver layer
// surface without explicit wrapping.
func Classify(err error) ErrorClass {
	if IsInvalid(err) {
		return ErrorInvalid
	}
	if IsUnsupported(err) {
		return ErrorUnsupported
	}
	if IsProtocol(err) {
		return ErrorProtocol
	}
	return ErrorDevice
}

// newClassified creates a new classified error.
// This is an internal helper - use the Wrap* variants instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapInvalid wraps an error as invalid caller input with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// WrapUnsupported wraps an error as a format mismatch with context
func WrapUnsupported(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorUnsupported, wrappedErr, component, method, wrappedErr.Error())
}

// WrapDevice wraps an error as a device layer failure with context
func WrapDevice(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorDevice, wrappedErr, component, method, wrappedErr.Error())
}

// WrapProtocol wraps an error as a lifecycle violation with context
func WrapProtocol(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorProtocol, wrappedErr, component, method, wrappedErr.Error())
}
