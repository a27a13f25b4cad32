package api

import (
	"context"
	"errors"

	"github.com/matheus3301/parley/internal/companion"
	"github.com/matheus3301/parley/internal/delivery"
	"github.com/matheus3301/parley/internal/directory"
	"github.com/matheus3301/parley/internal/membership"
	"github.com/matheus3301/parley/internal/msglog"
	"github.com/matheus3301/parley/internal/presence"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

var errorCodes = []struct {
	err  error
	code codes.Code
}{
	{presence.ErrUnknownUser, codes.NotFound},
	{directory.ErrUnknownChannel, codes.NotFound},
	{msglog.ErrNotFound, codes.NotFound},

	{directory.ErrDuplicateChannel, codes.AlreadyExists},

	{presence.ErrInvalidStatus, codes.InvalidArgument},
	{directory.ErrInvalidKind, codes.InvalidArgument},
	{membership.ErrInvalidFlag, codes.InvalidArgument},
	{msglog.ErrInvalidReaction, codes.InvalidArgument},
	{msglog.ErrInvalidKind, codes.InvalidArgument},
	{msglog.ErrEmptyBody, codes.InvalidArgument},
	{msglog.ErrMalformed, codes.InvalidArgument},

	{msglog.ErrNotSender, codes.PermissionDenied},

	{membership.ErrNotAMember, codes.FailedPrecondition},
	{membership.ErrChannelNotVoice, codes.FailedPrecondition},
	{membership.ErrChannelNotText, codes.FailedPrecondition},
	{msglog.ErrReplyTarget, codes.FailedPrecondition},
	{msglog.ErrDurable, codes.FailedPrecondition},
	{delivery.ErrNotPending, codes.FailedPrecondition},
	{delivery.ErrNotFailed, codes.FailedPrecondition},

	{delivery.ErrRateLimited, codes.ResourceExhausted},
	{delivery.ErrDeliveryTimeout, codes.DeadlineExceeded},
	{delivery.ErrClosed, codes.Unavailable},
	{companion.ErrNoGenerator, codes.Unavailable},
	{companion.ErrClosed, codes.Unavailable},

	{context.Canceled, codes.Canceled},
	{context.DeadlineExceeded, codes.DeadlineExceeded},
}

// toStatus converts a domain error into a gRPC status error.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return grpcstatus.Error(ec.code, err.Error())
		}
	}
	return grpcstatus.Error(codes.Internal, err.Error())
}

func invalid(msg string) error {
	return grpcstatus.Error(codes.InvalidArgument, msg)
}
