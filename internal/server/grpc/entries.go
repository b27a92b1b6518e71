package grpcserver

import (
	"context"

	pb "github.com/and161185/squadcal/api/squadcal/v1"
	"github.com/and161185/squadcal/internal/convert"
	"github.com/and161185/squadcal/internal/model"
)

// SaveEntry creates (EntryID 0) or updates an entry. A stale PrevText fails
// with FailedPrecondition carrying the current server text.
func (s *Server) SaveEntry(ctx context.Context, req *pb.SaveEntryRequest) (*pb.SaveEntryResponse, error) {
	v, err := s.viewer(ctx)
	if err != nil {
		return nil, err
	}
	ack, err := s.entries.Save(ctx, v, convert.FromWireSaveEntry(req))
	if err != nil {
		return nil, s.toStatus("save entry", err)
	}
	out, err := convert.ToWireEntryAck(ack)
	if err != nil {
		return nil, s.toStatus("save entry", err)
	}
	return out, nil
}

// DeleteEntry tombstones an entry.
func (s *Server) DeleteEntry(ctx context.Context, req *pb.DeleteEntryRequest) (*pb.EntryResponse, error) {
	v, err := s.viewer(ctx)
	if err != nil {
		return nil, err
	}
	e, err := s.entries.Delete(ctx, v, model.DeleteEntry{
		EntryID:   req.EntryID,
		PrevText:  req.PrevText,
		SessionID: req.SessionID,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		return nil, s.toStatus("delete entry", err)
	}
	return &pb.EntryResponse{Entry: convert.ToWireEntry(e)}, nil
}

// RestoreEntry clears a tombstone.
func (s *Server) RestoreEntry(ctx context.Context, req *pb.RestoreEntryRequest) (*pb.EntryResponse, error) {
	v, err := s.viewer(ctx)
	if err != nil {
		return nil, err
	}
	e, err := s.entries.Restore(ctx, v, req.EntryID, req.SessionID)
	if err != nil {
		return nil, s.toStatus("restore entry", err)
	}
	return &pb.EntryResponse{Entry: convert.ToWireEntry(e)}, nil
}

// FetchEntries lists entries of visible threads in a day range.
func (s *Server) FetchEntries(ctx context.Context, req *pb.FetchEntriesRequest) (*pb.FetchEntriesResponse, error) {
	v, err := s.viewer(ctx)
	if err != nil {
		return nil, err
	}
	es, err := s.entries.Fetch(ctx, v, model.EntryQuery{
		ThreadIDs:      req.ThreadIDs,
		From:           req.From,
		To:             req.To,
		IncludeDeleted: req.IncludeDeleted,
	})
	if err != nil {
		return nil, s.toStatus("fetch entries", err)
	}
	return &pb.FetchEntriesResponse{Entries: convert.ToWireEntries(es)}, nil
}

// FetchEntryRevisions returns the history of one entry, newest first.
func (s *Server) FetchEntryRevisions(ctx context.Context, req *pb.FetchEntryRevisionsRequest) (*pb.FetchEntryRevisionsResponse, error) {
	v, err := s.viewer(ctx)
	if err != nil {
		return nil, err
	}
	revs, err := s.entries.Revisions(ctx, v, req.EntryID)
	if err != nil {
		return nil, s.toStatus("entry revisions", err)
	}
	return &pb.FetchEntryRevisionsResponse{Revisions: convert.ToWireRevisions(revs)}, nil
}
