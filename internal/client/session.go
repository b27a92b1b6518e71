package client

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/squadcal/internal/model"
)

// SyncRemote serves the paged timeline.
type SyncRemote interface {
	FetchInitial(ctx context.Context, sel model.ThreadSelection, limit int) (model.MessagesResult, error)
	FetchSince(ctx context.Context, sel model.ThreadSelection, since int64, maxPerThread int) (model.MessagesResult, error)
}

// Server is everything a Session needs from the service.
type Server interface {
	Remote
	SyncRemote
}

// SessionConfig tunes paging and housekeeping.
type SessionConfig struct {
	UserID       uuid.UUID // uuid.Nil when anonymous
	PageSize     int
	MaxSince     int
	PollInterval time.Duration
	PruneKeep    int
	PruneIdle    time.Duration
}

func (c *SessionConfig) defaults() {
	if c.PageSize <= 0 {
		c.PageSize = 20
	}
	if c.MaxSince <= 0 {
		c.MaxSince = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PruneKeep <= 0 {
		c.PruneKeep = 50
	}
	if c.PruneIdle <= 0 {
		c.PruneIdle = 10 * time.Minute
	}
}

// Session keeps a MessageStore in step with the server and routes local
// creates through a Reconciler.
type Session struct {
	server Server
	store  *MessageStore
	rec    *Reconciler
	cfg    SessionConfig
	log    *zap.Logger

	mu     sync.Mutex
	users  map[uuid.UUID]model.UserInfo
	synced bool
}

// NewSession builds the store and the reconciler. Messages still pending in
// the outbox reappear in the store.
func NewSession(server Server, cfg SessionConfig, log *zap.Logger, opts ...Option) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.defaults()
	s := &Session{
		server: server,
		store:  NewMessageStore(),
		cfg:    cfg,
		log:    log,
		users:  map[uuid.UUID]model.UserInfo{},
	}
	opts = append([]Option{WithLogger(log)}, opts...)
	rec, err := NewReconciler(server, append(opts, WithChangeHook(s.onChange))...)
	if err != nil {
		return nil, err
	}
	s.rec = rec
	for _, p := range rec.All() {
		if p.Kind == KindMessage {
			_ = s.store.AddLocal(s.localMessage(p))
			if p.ID != 0 {
				s.store.Acknowledge(p.LocalID, p.ID, p.Time)
			}
		}
	}
	return s, nil
}

// Store returns the local timeline.
func (s *Session) Store() *MessageStore { return s.store }

// Reconciler returns the entity reconciler.
func (s *Session) Reconciler() *Reconciler { return s.rec }

func (s *Session) localMessage(p Pending) model.Message {
	return model.Message{
		LocalID:   p.LocalID,
		ThreadID:  p.ThreadID,
		CreatorID: s.cfg.UserID,
		Time:      p.Created,
		Payload:   model.TextPayload{Text: p.Text},
	}
}

func (s *Session) onChange(p Pending) {
	if p.Kind != KindMessage {
		return
	}
	switch {
	case p.ID != 0:
		s.store.Acknowledge(p.LocalID, p.ID, p.Time)
	case p.Deleted:
		s.store.Drop(p.LocalID)
	}
}

func (s *Session) mergeUsers(in map[uuid.UUID]model.UserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.users, in)
}

// Users returns every user referenced by fetched messages.
func (s *Session) Users() map[uuid.UUID]model.UserInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.users)
}

// Sync brings the store up to date: an initial fetch of every joined thread
// the first time, a since-fetch afterwards. Threads reported truncated by the
// since-fetch lose their window and are fetched again from the newest end.
func (s *Session) Sync(ctx context.Context) error {
	s.mu.Lock()
	synced := s.synced
	s.mu.Unlock()

	if !synced {
		res, err := s.server.FetchInitial(ctx, model.ThreadSelection{AllJoined: true}, s.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("initial sync: %w", err)
		}
		s.mergeUsers(res.Users)
		s.store.MergeInitial(res, nil)
		s.mu.Lock()
		s.synced = true
		s.mu.Unlock()
		return nil
	}

	res, err := s.server.FetchSince(ctx, model.ThreadSelection{AllJoined: true}, s.store.NewestTime(), s.cfg.MaxSince)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	s.mergeUsers(res.Users)
	refetch := s.store.MergeSince(res)
	if len(refetch) == 0 {
		return nil
	}
	s.log.Info("refetching truncated threads", zap.Int64s("threads", refetch))
	cursors := make(map[int64]int64, len(refetch))
	for _, id := range refetch {
		cursors[id] = 0
	}
	return s.fetchPage(ctx, cursors)
}

// LoadMore fetches the page of messages older than a thread's window. It is
// a no-op for a complete window; an empty window gets its newest page.
func (s *Session) LoadMore(ctx context.Context, threadID int64) error {
	if w, ok := s.store.Window(threadID); ok && w.StartReached() {
		return nil
	}
	return s.fetchPage(ctx, map[int64]int64{threadID: s.store.OldestID(threadID)})
}

func (s *Session) fetchPage(ctx context.Context, cursors map[int64]int64) error {
	res, err := s.server.FetchInitial(ctx, model.ThreadSelection{Cursors: cursors}, s.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("fetch page: %w", err)
	}
	s.mergeUsers(res.Users)
	s.store.MergeInitial(res, cursors)
	return nil
}

// SendText shows the message locally at once and submits it. The local id
// is returned even when the submit fails; Flush retries it later.
func (s *Session) SendText(ctx context.Context, threadID int64, text string) (string, error) {
	localID, err := s.rec.CreateLocalMessage(threadID, text)
	if err != nil {
		return "", err
	}
	p, _ := s.rec.Get(localID)
	if err := s.store.AddLocal(s.localMessage(p)); err != nil {
		return "", err
	}
	if _, err := s.rec.Submit(ctx, localID); err != nil {
		return localID, err
	}
	return localID, s.rec.Forget(localID)
}

// Flush submits everything the outbox still owes the server and forgets
// acknowledged messages.
func (s *Session) Flush(ctx context.Context) error {
	err := s.rec.Flush(ctx, 4)
	for _, p := range s.rec.All() {
		if p.Kind == KindMessage && p.State == StateAcknowledged {
			err = errors.Join(err, s.rec.Forget(p.LocalID))
		}
	}
	return err
}

// Run syncs, flushes and prunes every poll interval until ctx ends. Errors
// are logged and retried on the next tick.
func (s *Session) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.PollInterval)
	defer t.Stop()
	for {
		if err := s.Sync(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("sync failed", zap.Error(err))
		}
		if err := s.Flush(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn("flush failed", zap.Error(err))
		}
		if pruned := s.store.Prune(s.cfg.PruneKeep, s.cfg.PruneIdle); len(pruned) > 0 {
			s.log.Debug("pruned windows", zap.Int64s("threads", pruned))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
