package grpcserver

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/and161185/squadcal/api/squadcal/v1"
	"github.com/and161185/squadcal/internal/convert"
	"github.com/and161185/squadcal/internal/model"
)

// CreateThread creates a thread, or a sub-thread when ParentThreadID is set.
func (s *Server) CreateThread(ctx context.Context, req *pb.CreateThreadRequest) (*pb.CreateThreadResponse, error) {
	v, err := s.viewer(ctx)
	if err != nil {
		return nil, err
	}
	nt, err := convert.FromWireNewThread(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad members: %v", err)
	}
	t, msgs, err := s.threads.Create(ctx, v, nt)
	if err != nil {
		return nil, s.toStatus("create thread", err)
	}
	wm, err := convert.ToWireMessages(msgs)
	if err != nil {
		return nil, s.toStatus("create thread", err)
	}
	return &pb.CreateThreadResponse{Thread: convert.ToWireThread(t), Messages: wm}, nil
}

// JoinThread adds the viewer to a thread it may join.
func (s *Server) JoinThread(ctx context.Context, req *pb.JoinThreadRequest) (*pb.ThreadChangeResponse, error) {
	return s.change(ctx, "join thread", func(v model.Viewer) (model.Message, error) {
		return s.threads.Join(ctx, v, req.ThreadID)
	})
}

// LeaveThread removes the viewer from a thread.
func (s *Server) LeaveThread(ctx context.Context, req *pb.LeaveThreadRequest) (*pb.ThreadChangeResponse, error) {
	return s.change(ctx, "leave thread", func(v model.Viewer) (model.Message, error) {
		return s.threads.Leave(ctx, v, req.ThreadID)
	})
}

// AddMembers adds users to a thread.
func (s *Server) AddMembers(ctx context.Context, req *pb.AddMembersRequest) (*pb.ThreadChangeResponse, error) {
	ids, err := convert.ParseUserIDs(req.UserIDs)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad users: %v", err)
	}
	return s.change(ctx, "add members", func(v model.Viewer) (model.Message, error) {
		return s.threads.AddMembers(ctx, v, req.ThreadID, ids)
	})
}

// RemoveMembers removes users from a thread.
func (s *Server) RemoveMembers(ctx context.Context, req *pb.RemoveMembersRequest) (*pb.ThreadChangeResponse, error) {
	ids, err := convert.ParseUserIDs(req.UserIDs)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad users: %v", err)
	}
	return s.change(ctx, "remove members", func(v model.Viewer) (model.Message, error) {
		return s.threads.RemoveMembers(ctx, v, req.ThreadID, ids)
	})
}

// ChangeRole assigns a thread role to members.
func (s *Server) ChangeRole(ctx context.Context, req *pb.ChangeRoleRequest) (*pb.ThreadChangeResponse, error) {
	ids, err := convert.ParseUserIDs(req.UserIDs)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad users: %v", err)
	}
	return s.change(ctx, "change role", func(v model.Viewer) (model.Message, error) {
		return s.threads.ChangeRole(ctx, v, req.ThreadID, ids, req.Role)
	})
}

// ChangeThreadSettings updates one thread field.
func (s *Server) ChangeThreadSettings(ctx context.Context, req *pb.ChangeThreadSettingsRequest) (*pb.ThreadChangeResponse, error) {
	return s.change(ctx, "change settings", func(v model.Viewer) (model.Message, error) {
		return s.threads.ChangeSettings(ctx, v, req.ThreadID, req.Field, req.Value)
	})
}

func (s *Server) change(ctx context.Context, op string, do func(model.Viewer) (model.Message, error)) (*pb.ThreadChangeResponse, error) {
	v, err := s.viewer(ctx)
	if err != nil {
		return nil, err
	}
	msg, err := do(v)
	if err != nil {
		return nil, s.toStatus(op, err)
	}
	wm, err := convert.ToWireMessage(msg)
	if err != nil {
		return nil, s.toStatus(op, err)
	}
	return &pb.ThreadChangeResponse{Message: wm}, nil
}
