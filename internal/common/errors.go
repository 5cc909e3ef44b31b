package common

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")

	// ErrAlreadyExists is a uniqueness violation on a caller-chosen key.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConcurrencyConflict means a guarded update lost its precondition.
	// Callers re-read and may retry once.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrRewardExists        = errors.New("reward already exists")
	ErrConfigUnavailable   = errors.New("configuration unavailable")
	ErrProcessingTimeout   = errors.New("processing timeout")
	ErrPayloadMismatch     = errors.New("redemption payload mismatch")
	ErrRewardExpired       = errors.New("reward expired")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Conflict builds a ConcurrencyConflict error for a record whose status moved.
func Conflict(kind string, id fmt.Stringer, expected, actual string) error {
	return NewAppError("CONCURRENCY_CONFLICT",
		fmt.Sprintf("%s %s: expected status %q, found %q", kind, id, expected, actual),
		ErrConcurrencyConflict)
}

// GRPCStatus maps domain errors onto gRPC status errors.
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrPayloadMismatch):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrConcurrencyConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, ErrRewardExists), errors.Is(err, ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ErrRewardExpired), errors.Is(err, ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrProcessingTimeout), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, ErrConfigUnavailable), errors.Is(err, ErrDatabase):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func NotFoundError(message string) error {
	return status.Error(codes.NotFound, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}

func PermissionDeniedError(message string) error {
	return status.Error(codes.PermissionDenied, message)
}
