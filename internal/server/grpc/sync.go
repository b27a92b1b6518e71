package grpcserver

import (
	"context"

	pb "github.com/and161185/squadcal/api/squadcal/v1"
	"github.com/and161185/squadcal/internal/convert"
)

// GetThreadDirectory returns every thread the viewer may know of.
func (s *Server) GetThreadDirectory(ctx context.Context, _ *pb.GetThreadDirectoryRequest) (*pb.GetThreadDirectoryResponse, error) {
	v, err := s.viewer(ctx)
	if err != nil {
		return nil, err
	}
	dir, err := s.directory.Build(ctx, v)
	if err != nil {
		return nil, s.toStatus("directory", err)
	}
	return convert.ToWireDirectory(dir), nil
}

// FetchMessages returns the newest page of each selected thread.
func (s *Server) FetchMessages(ctx context.Context, req *pb.FetchMessagesRequest) (*pb.FetchMessagesResponse, error) {
	v, err := s.viewer(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.messages.FetchInitial(ctx, v, convert.FromWireSelection(req.Selection), req.Limit)
	if err != nil {
		return nil, s.toStatus("fetch messages", err)
	}
	s.metrics.ObserveTruncation("initial", res.Truncation)
	out, err := convert.ToWireMessagesResult(res)
	if err != nil {
		return nil, s.toStatus("fetch messages", err)
	}
	return out, nil
}

// FetchMessagesSince returns messages newer than req.Since.
func (s *Server) FetchMessagesSince(ctx context.Context, req *pb.FetchMessagesSinceRequest) (*pb.FetchMessagesResponse, error) {
	v, err := s.viewer(ctx)
	if err != nil {
		return nil, err
	}
	res, err := s.messages.FetchSince(ctx, v, convert.FromWireSelection(req.Selection), req.Since, req.Max)
	if err != nil {
		return nil, s.toStatus("fetch messages since", err)
	}
	s.metrics.ObserveTruncation("since", res.Truncation)
	out, err := convert.ToWireMessagesResult(res)
	if err != nil {
		return nil, s.toStatus("fetch messages since", err)
	}
	return out, nil
}

// SendTextMessage stores a text message and echoes the client's local id.
// Resending the same (session, local id) returns the stored message.
func (s *Server) SendTextMessage(ctx context.Context, req *pb.SendTextMessageRequest) (*pb.SendTextMessageResponse, error) {
	v, err := s.viewer(ctx)
	if err != nil {
		return nil, err
	}
	ack, err := s.messages.SendText(ctx, v, req.ThreadID, req.LocalID, req.SessionID, req.Text)
	if err != nil {
		return nil, s.toStatus("send text", err)
	}
	return &pb.SendTextMessageResponse{LocalID: ack.LocalID, ID: ack.ID, Time: ack.Time}, nil
}
