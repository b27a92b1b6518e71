package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/squadcal/internal/model"
	"github.com/and161185/squadcal/internal/permission"
	"github.com/and161185/squadcal/internal/repository"
)

// maxEntryRange bounds FetchEntries to roughly one year of days.
const maxEntryRange = 366

// EntryService manages calendar entries.
type EntryService struct {
	entries repository.EntryRepository
	threads repository.ThreadRepository
	log     *zap.Logger
	now     func() int64
}

// NewEntryService constructs EntryService.
func NewEntryService(entries repository.EntryRepository, threads repository.ThreadRepository, log *zap.Logger) *EntryService {
	if log == nil {
		log = zap.NewNop()
	}
	return &EntryService{entries: entries, threads: threads, log: log, now: nowMillis}
}

// Save creates an entry (EntryID 0) or replaces its text. Updates and
// deletes are rejected with *errs.ConcurrentModificationError when the
// stored text no longer equals PrevText.
func (s *EntryService) Save(ctx context.Context, v model.Viewer, in model.SaveEntry) (model.EntryAck, error) {
	if in.EntryID < 0 {
		return model.EntryAck{}, invalid("entry id")
	}
	threadID := in.ThreadID
	if in.EntryID != 0 {
		cur, err := s.entries.Get(ctx, in.EntryID)
		if err != nil {
			return model.EntryAck{}, fmt.Errorf("entry %d: %w", in.EntryID, err)
		}
		threadID = cur.ThreadID
	} else {
		if in.ThreadID <= 0 {
			return model.EntryAck{}, invalid("thread id")
		}
		if _, err := model.ParseDay(in.Day); err != nil {
			return model.EntryAck{}, invalid("day %q", in.Day)
		}
	}
	if err := s.allowed(ctx, v, threadID, permission.EditEntries); err != nil {
		return model.EntryAck{}, err
	}

	var (
		e   model.Entry
		msg *model.Message
		err error
	)
	if in.EntryID == 0 {
		e, msg, err = s.entries.Create(ctx, in, creatorOf(v), s.now())
	} else {
		e, msg, err = s.entries.Update(ctx, in, creatorOf(v), s.now())
	}
	if err != nil {
		return model.EntryAck{}, fmt.Errorf("save entry: %w", err)
	}
	t := e.LastUpdate
	if in.EntryID == 0 {
		// a resent create acks with the original creation time
		t = e.CreationTime
	}
	return model.EntryAck{LocalID: in.LocalID, EntryID: e.ID, Time: t, Message: msg}, nil
}

// Delete tombstones an entry.
func (s *EntryService) Delete(ctx context.Context, v model.Viewer, in model.DeleteEntry) (model.Entry, error) {
	cur, err := s.entries.Get(ctx, in.EntryID)
	if err != nil {
		return model.Entry{}, fmt.Errorf("entry %d: %w", in.EntryID, err)
	}
	if err := s.allowed(ctx, v, cur.ThreadID, permission.EditEntries); err != nil {
		return model.Entry{}, err
	}
	e, err := s.entries.Delete(ctx, in, creatorOf(v), s.now())
	if err != nil {
		return model.Entry{}, fmt.Errorf("delete entry: %w", err)
	}
	return e, nil
}

// Restore brings a deleted entry back.
func (s *EntryService) Restore(ctx context.Context, v model.Viewer, entryID int64, sessionID string) (model.Entry, error) {
	cur, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return model.Entry{}, fmt.Errorf("entry %d: %w", entryID, err)
	}
	if err := s.allowed(ctx, v, cur.ThreadID, permission.EditEntries); err != nil {
		return model.Entry{}, err
	}
	e, err := s.entries.Restore(ctx, entryID, sessionID, creatorOf(v), s.now())
	if err != nil {
		return model.Entry{}, fmt.Errorf("restore entry: %w", err)
	}
	return e, nil
}

// Fetch lists entries of the requested threads the viewer can see.
// Threads without VISIBLE are skipped silently.
func (s *EntryService) Fetch(ctx context.Context, v model.Viewer, q model.EntryQuery) ([]model.Entry, error) {
	if len(q.ThreadIDs) == 0 {
		return nil, invalid("no threads")
	}
	from, err := model.ParseDay(q.From)
	if err != nil {
		return nil, invalid("from %q", q.From)
	}
	to, err := model.ParseDay(q.To)
	if err != nil {
		return nil, invalid("to %q", q.To)
	}
	if to.Before(from) || to.Sub(from).Hours()/24 > maxEntryRange {
		return nil, invalid("day range %s..%s", q.From, q.To)
	}

	sc, err := loadScope(ctx, s.threads, q.ThreadIDs...)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, id := range q.ThreadIDs {
		if sc.graph.Resolve(id, v).Has(permission.Visible) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return []model.Entry{}, nil
	}
	q.ThreadIDs = ids
	out, err := s.entries.Fetch(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("fetch entries: %w", err)
	}
	return out, nil
}

// Revisions returns an entry's history, newest first.
func (s *EntryService) Revisions(ctx context.Context, v model.Viewer, entryID int64) ([]model.Revision, error) {
	cur, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", entryID, err)
	}
	if err := s.allowed(ctx, v, cur.ThreadID, permission.Visible); err != nil {
		return nil, err
	}
	return s.entries.Revisions(ctx, entryID)
}

func (s *EntryService) allowed(ctx context.Context, v model.Viewer, threadID int64, caps ...permission.Capability) error {
	sc, err := loadScope(ctx, s.threads, threadID)
	if err != nil {
		return err
	}
	_, err = sc.require(threadID, v, caps...)
	return err
}
