package server

import (
	"context"
	"errors"

	"VaultLedger/internal/core"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/ledger"
	"VaultLedger/internal/weights"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps the ledger error taxonomy onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, ingestion.ErrMalformed), errors.Is(err, weights.ErrUnknownTier):
		code = codes.InvalidArgument
	case errors.Is(err, ledger.ErrUnknownRecord):
		code = codes.NotFound
	case errors.Is(err, ledger.ErrNotOwner):
		code = codes.PermissionDenied
	case errors.Is(err, ledger.ErrCycleInFlight):
		code = codes.Aborted
	case errors.Is(err, ledger.ErrInvalidTransition):
		code = codes.FailedPrecondition
	case errors.Is(err, ledger.ErrInsufficientBalance):
		code = codes.ResourceExhausted
	case errors.Is(err, ledger.ErrExternalVenueFailure):
		code = codes.Unavailable
	case errors.Is(err, ledger.ErrInvariantViolation):
		code = codes.Internal
	case errors.Is(err, core.ErrActorStopped):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
