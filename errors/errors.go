package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrWorkerPanic      = fmt.Errorf("worker panic")
	ErrUnavailable      = fmt.Errorf("resource unavailable")
	ErrStale            = fmt.Errorf("subscription is stale")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrInvalidIdentity  = fmt.Errorf("invalid identity")
	ErrInvalidPayload   = fmt.Errorf("invalid payload")
	ErrUnknownChange    = fmt.Errorf("unknown change")
	ErrNotInitialized   = fmt.Errorf("store is not initialized")
	ErrFeedClosed       = fmt.Errorf("change feed closed")
	ErrAlreadySubmitted = fmt.Errorf("attempt already submitted")
	ErrNotFound         = fmt.Errorf("not found")
	ErrReadOnly         = fmt.Errorf("backend does not accept writes")
)

// MapToGRPCError translates domain errors into gRPC status errors.
func MapToGRPCError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotAuthenticated), errors.Is(err, ErrInvalidIdentity):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrFeedClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, ErrStale), errors.Is(err, ErrNotInitialized):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, ErrAlreadySubmitted):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrUnknownChange):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrReadOnly):
		return status.Error(codes.Unimplemented, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
