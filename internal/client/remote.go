package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/and161185/squadcal/api/squadcal/v1"
	"github.com/and161185/squadcal/internal/convert"
	"github.com/and161185/squadcal/internal/errs"
	"github.com/and161185/squadcal/internal/model"
)

// GRPCRemote talks to the SquadCal service.
type GRPCRemote struct {
	c pb.SquadCalClient
}

// NewGRPCRemote wraps a typed client.
func NewGRPCRemote(c pb.SquadCalClient) *GRPCRemote { return &GRPCRemote{c: c} }

// fromStatus turns a gRPC status back into the sentinel it was mapped from.
func fromStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	if text, ok := pb.ConcurrentModification(err); ok {
		return &errs.ConcurrentModificationError{ServerText: text}
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	var sentinel error
	switch st.Code() {
	case codes.NotFound:
		sentinel = errs.ErrNotFound
	case codes.InvalidArgument:
		sentinel = errs.ErrInvalidParameters
	case codes.Unauthenticated:
		sentinel = errs.ErrUnauthorized
	case codes.ResourceExhausted:
		sentinel = errs.ErrRateLimited
	case codes.AlreadyExists:
		sentinel = errs.ErrAlreadyExists
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %s: %w", op, st.Message(), sentinel)
}

// SendText implements Remote.
func (r *GRPCRemote) SendText(ctx context.Context, localID, sessionID string, threadID int64, text string) (model.MessageAck, error) {
	resp, err := r.c.SendTextMessage(ctx, &pb.SendTextMessageRequest{
		LocalID: localID, SessionID: sessionID, ThreadID: threadID, Text: text,
	})
	if err != nil {
		return model.MessageAck{}, fromStatus("send text", err)
	}
	return model.MessageAck{LocalID: resp.LocalID, ID: resp.ID, Time: resp.Time}, nil
}

// SaveEntry implements Remote.
func (r *GRPCRemote) SaveEntry(ctx context.Context, in model.SaveEntry) (model.EntryAck, error) {
	resp, err := r.c.SaveEntry(ctx, &pb.SaveEntryRequest{
		EntryID:   in.EntryID,
		LocalID:   in.LocalID,
		ThreadID:  in.ThreadID,
		Day:       in.Day,
		Text:      in.Text,
		PrevText:  in.PrevText,
		SessionID: in.SessionID,
		Timestamp: in.Timestamp,
	})
	if err != nil {
		return model.EntryAck{}, fromStatus("save entry", err)
	}
	ack := model.EntryAck{LocalID: resp.LocalID, EntryID: resp.EntryID, Time: resp.Time}
	if resp.Message != nil {
		m, err := convert.FromWireMessage(*resp.Message)
		if err != nil {
			return model.EntryAck{}, fmt.Errorf("save entry: %w", err)
		}
		ack.Message = &m
	}
	return ack, nil
}

// DeleteEntry implements Remote.
func (r *GRPCRemote) DeleteEntry(ctx context.Context, in model.DeleteEntry) (model.Entry, error) {
	resp, err := r.c.DeleteEntry(ctx, &pb.DeleteEntryRequest{
		EntryID: in.EntryID, PrevText: in.PrevText, SessionID: in.SessionID, Timestamp: in.Timestamp,
	})
	if err != nil {
		return model.Entry{}, fromStatus("delete entry", err)
	}
	return convert.FromWireEntry(resp.Entry)
}

// FetchInitial implements SyncRemote.
func (r *GRPCRemote) FetchInitial(ctx context.Context, sel model.ThreadSelection, limit int) (model.MessagesResult, error) {
	resp, err := r.c.FetchMessages(ctx, &pb.FetchMessagesRequest{Selection: convert.ToWireSelection(sel), Limit: limit})
	if err != nil {
		return model.MessagesResult{}, fromStatus("fetch messages", err)
	}
	return convert.FromWireMessagesResult(resp)
}

// FetchSince implements SyncRemote.
func (r *GRPCRemote) FetchSince(
	ctx context.Context, sel model.ThreadSelection, since int64, maxPerThread int,
) (model.MessagesResult, error) {
	resp, err := r.c.FetchMessagesSince(ctx, &pb.FetchMessagesSinceRequest{
		Selection: convert.ToWireSelection(sel), Since: since, Max: maxPerThread,
	})
	if err != nil {
		return model.MessagesResult{}, fromStatus("fetch messages since", err)
	}
	return convert.FromWireMessagesResult(resp)
}

// FetchEntries lists entries of threads in a day range.
func (r *GRPCRemote) FetchEntries(ctx context.Context, q model.EntryQuery) ([]model.Entry, error) {
	resp, err := r.c.FetchEntries(ctx, &pb.FetchEntriesRequest{
		ThreadIDs: q.ThreadIDs, From: q.From, To: q.To, IncludeDeleted: q.IncludeDeleted,
	})
	if err != nil {
		return nil, fromStatus("fetch entries", err)
	}
	out := make([]model.Entry, 0, len(resp.Entries))
	for _, w := range resp.Entries {
		e, err := convert.FromWireEntry(w)
		if err != nil {
			return nil, fmt.Errorf("fetch entries: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
