package modbus

import (
	"errors"
	"fmt"
)

var (
	// ErrTooShort is returned when a response is smaller than its fixed header.
	ErrTooShort = errors.New("modbus: response too short")
	// ErrTruncated is returned when a response ends before the structure it
	// declares has been read completely.
	ErrTruncated = errors.New("modbus: response truncated")
	// ErrUnexpectedResponse is returned when the device answers with a
	// function code other than the requested one or its exception.
	ErrUnexpectedResponse = errors.New("modbus: unexpected response")
)

// TransportError wraps failures of the underlying packager or transporter.
type TransportError struct {
	FunctionCode byte
	Err          error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("modbus: function '%v' transport failed: %v", e.FunctionCode, e.Err)
}

// Unwrap returns the underlying failure.
func (e *TransportError) Unwrap() error {
	return e.Err
}

func truncatedError(what string, want, have int) error {
	return fmt.Errorf("%w: %s needs '%v' bytes, have '%v'", ErrTruncated, what, want, have)
}
