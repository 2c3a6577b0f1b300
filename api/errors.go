// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for usock.

package api

import (
	"errors"
	"fmt"
)

// Sentinel errors used across the library.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotSupported      = errors.New("operation not supported")
	ErrSetup             = errors.New("endpoint setup failed")
	ErrSend              = errors.New("send failed")
	ErrPartialSend       = errors.New("partial send")
	ErrReceive           = errors.New("receive failed")
	ErrPeerClosed        = errors.New("peer closed connection")
	ErrNotConnected      = errors.New("endpoint not connected")
	ErrStopped           = errors.New("endpoint stopped")
	ErrCapacityExceeded  = errors.New("registry capacity exceeded")
	ErrWaitFailed        = errors.New("multiplexed wait failed")
	ErrUnexpectedTimeout = errors.New("multiplexed wait timed out unexpectedly")
	ErrRegistryClosed    = errors.New("registry closed")
	ErrInterrupted       = errors.New("event wait interrupted")
)

// ErrorCode classifies failures for callers that react per class.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeSetup
	ErrCodeTransient
	ErrCodePeerClosed
	ErrCodeCapacity
	ErrCodeFatal
	ErrCodeInvalidArgument
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeSetup:
		return "setup"
	case ErrCodeTransient:
		return "transient"
	case ErrCodePeerClosed:
		return "peer-closed"
	case ErrCodeCapacity:
		return "capacity"
	case ErrCodeFatal:
		return "fatal"
	case ErrCodeInvalidArgument:
		return "invalid-argument"
	default:
		return "internal"
	}
}

// Error represents a structured error with code, context and an optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap exposes the cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap creates a structured error around cause.
func Wrap(code ErrorCode, cause error, message string) *Error {
	e := NewError(code, message)
	e.Cause = cause
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Classify maps err onto the taxonomy. A structured *Error keeps its own code.
func Classify(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var se *Error
	if errors.As(err, &se) && se.Code != ErrCodeOK {
		return se.Code
	}
	switch {
	case errors.Is(err, ErrPeerClosed):
		return ErrCodePeerClosed
	case errors.Is(err, ErrCapacityExceeded):
		return ErrCodeCapacity
	case errors.Is(err, ErrWaitFailed), errors.Is(err, ErrUnexpectedTimeout):
		return ErrCodeFatal
	case errors.Is(err, ErrSetup):
		return ErrCodeSetup
	case errors.Is(err, ErrSend), errors.Is(err, ErrPartialSend),
		errors.Is(err, ErrReceive), errors.Is(err, ErrNotConnected):
		return ErrCodeTransient
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidArgument
	}
	return ErrCodeInternal
}
