package nbi

import (
	"errors"

	"github.com/signalsfoundry/unifilar/core"
	sim "github.com/signalsfoundry/unifilar/internal/sim/state"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToStatusError maps diagram errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, sim.ErrTerminalNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, sim.ErrInvalidTerminalKind),
		errors.Is(err, core.ErrCorruptDiagram):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, sim.ErrCellNotPainted),
		errors.Is(err, sim.ErrNoEmitters),
		errors.Is(err, sim.ErrNoReceptors):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, sim.ErrTerminalOccupied):
		return status.Error(codes.AlreadyExists, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
