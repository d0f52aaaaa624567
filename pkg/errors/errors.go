// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the fatal decode error taxonomy for coapscope.
package errors

import (
	"errors"
	"fmt"
)

// Fatal decode conditions. Any of these stops option decoding; the header and
// every option decoded before the failure remain valid.
var (
	// ErrTruncated indicates the buffer ended inside a fixed field, the token
	// or an option header extension.
	ErrTruncated = errors.New("message truncated")

	// ErrReservedDelta indicates a delta nibble of 15 outside the 0xFF end marker.
	ErrReservedDelta = errors.New("reserved option delta 15 outside end-of-options marker")

	// ErrReservedLength indicates a length nibble of 15.
	ErrReservedLength = errors.New("reserved option length 15")

	// ErrOptionOverflow indicates an option value running past the message end.
	ErrOptionOverflow = errors.New("option longer than the message")
)

// DecodeError wraps a fatal condition with its position in the message.
type DecodeError struct {
	Op     string // Decoding stage that failed (header, token, option)
	Offset int    // Byte offset where the failing element starts
	Option int    // 1-based index of the failing option, 0 outside options
	Err    error  // Underlying sentinel
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Option > 0 {
		return fmt.Sprintf("coap %s #%d at offset %d: %v", e.Op, e.Option, e.Offset, e.Err)
	}
	return fmt.Sprintf("coap %s at offset %d: %v", e.Op, e.Offset, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// New creates a new DecodeError.
func New(op string, offset, option int, err error) error {
	if err == nil {
		return nil
	}
	return &DecodeError{
		Op:     op,
		Offset: offset,
		Option: option,
		Err:    err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
