package custerror

import (
	"errors"
	"fmt"
)

const (
	CodeInternal           uint32 = 1
	CodeNotFound           uint32 = 2
	CodeInvalidArgument    uint32 = 3
	CodeAlreadyExists      uint32 = 4
	CodeUnavailable        uint32 = 5
	CodeResourceExhausted  uint32 = 6
	CodeFailedPrecondition uint32 = 7
)

type CustomError struct {
	Code    uint32
	Message string
	cause   *CustomError
}

func (e *CustomError) Error() string {
	return e.Message
}

func (e *CustomError) Unwrap() error {
	if e.cause == nil {
		return nil
	}
	return e.cause
}

var (
	ErrorInternal           = &CustomError{Code: CodeInternal, Message: "internal error"}
	ErrorNotFound           = &CustomError{Code: CodeNotFound, Message: "not found"}
	ErrorInvalidArgument    = &CustomError{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrorAlreadyExists      = &CustomError{Code: CodeAlreadyExists, Message: "already exists"}
	ErrorUnavailable        = &CustomError{Code: CodeUnavailable, Message: "unavailable"}
	ErrorResourceExhausted  = &CustomError{Code: CodeResourceExhausted, Message: "resource exhausted"}
	ErrorFailedPrecondition = &CustomError{Code: CodeFailedPrecondition, Message: "failed precondition"}
)

func newFormatted(base *CustomError, format string, args ...interface{}) *CustomError {
	return &CustomError{
		Code:    base.Code,
		Message: fmt.Sprintf(format, args...),
		cause:   base,
	}
}

func FormatInternalError(format string, args ...interface{}) error {
	return newFormatted(ErrorInternal, format, args...)
}

func FormatNotFound(format string, args ...interface{}) error {
	return newFormatted(ErrorNotFound, format, args...)
}

func FormatInvalidArgument(format string, args ...interface{}) error {
	return newFormatted(ErrorInvalidArgument, format, args...)
}

func FormatAlreadyExists(format string, args ...interface{}) error {
	return newFormatted(ErrorAlreadyExists, format, args...)
}

func FormatUnavailable(format string, args ...interface{}) error {
	return newFormatted(ErrorUnavailable, format, args...)
}

func FormatResourceExhausted(format string, args ...interface{}) error {
	return newFormatted(ErrorResourceExhausted, format, args...)
}

func FormatFailedPrecondition(format string, args ...interface{}) error {
	return newFormatted(ErrorFailedPrecondition, format, args...)
}

// CodeOf returns the code carried by err, or CodeInternal when err is not a CustomError.
func CodeOf(err error) uint32 {
	var custErr *CustomError
	if errors.As(err, &custErr) {
		return custErr.Code
	}
	return CodeInternal
}
