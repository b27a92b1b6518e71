package grpcserver

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/and161185/squadcal/api/squadcal/v1"
	"github.com/and161185/squadcal/internal/errs"
)

// toStatus maps service errors to gRPC statuses. NotFound and
// PermissionDenied collapse into one NotFound so hidden threads cannot be
// probed. Storage failures are logged and returned without detail.
func (s *Server) toStatus(op string, err error) error {
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
		return err
	}
	var cm *errs.ConcurrentModificationError
	switch {
	case errors.As(err, &cm):
		return pb.ConcurrentModificationStatus(cm.ServerText).Err()
	case errors.Is(err, errs.ErrConcurrentModification):
		return status.Error(codes.FailedPrecondition, "concurrent modification")
	case errors.Is(err, errs.ErrInvalidParameters):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrPermissionDenied):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, op+": canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, op+": deadline exceeded")
	}
	s.log.Error("rpc failed", zap.String("op", op), zap.Error(err))
	return status.Errorf(codes.Internal, "%s: internal error", op)
}
