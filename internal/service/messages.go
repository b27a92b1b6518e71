package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/squadcal/internal/model"
	"github.com/and161185/squadcal/internal/permission"
	"github.com/and161185/squadcal/internal/repository"
)

// MessageService serves paged timelines and text messages.
type MessageService struct {
	msgs     repository.MessageRepository
	threads  repository.ThreadRepository
	users    UserLookup
	maxLimit int
	log      *zap.Logger
	now      func() int64
}

// NewMessageService constructs MessageService. maxLimit caps per-thread page sizes.
func NewMessageService(
	msgs repository.MessageRepository, threads repository.ThreadRepository, users UserLookup, maxLimit int, log *zap.Logger,
) *MessageService {
	if maxLimit <= 0 {
		maxLimit = 200
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageService{msgs: msgs, threads: threads, users: users, maxLimit: maxLimit, log: log, now: nowMillis}
}

func (s *MessageService) validate(sel model.ThreadSelection, limit int) error {
	if sel.Empty() {
		return invalid("empty thread selection")
	}
	if limit <= 0 || limit > s.maxLimit {
		return invalid("limit %d out of range 1..%d", limit, s.maxLimit)
	}
	for id, cur := range sel.Cursors {
		if id <= 0 || cur < 0 {
			return invalid("cursor %d:%d", id, cur)
		}
	}
	return nil
}

// FetchInitial returns up to limit newest messages per selected thread older
// than the thread's cursor. A thread is TRUNCATED when older messages remain
// and EXHAUSTIVE otherwise.
func (s *MessageService) FetchInitial(
	ctx context.Context, v model.Viewer, sel model.ThreadSelection, limit int,
) (model.MessagesResult, error) {
	if err := s.validate(sel, limit); err != nil {
		return model.MessagesResult{}, err
	}
	rows, err := s.msgs.FetchInitial(ctx, v, sel, limit)
	if err != nil {
		return model.MessagesResult{}, fmt.Errorf("fetch messages: %w", err)
	}

	trunc, err := s.seed(ctx, v, sel, model.TruncationExhaustive)
	if err != nil {
		return model.MessagesResult{}, err
	}
	var kept []model.MessageRow
	for _, batch := range groupByThread(rows) {
		tid := batch[0].ThreadID
		if len(batch) > limit {
			trunc[tid] = model.TruncationTruncated
			batch = batch[:limit]
		} else {
			trunc[tid] = model.TruncationExhaustive
		}
		kept = append(kept, batch...)
	}
	return s.finish(ctx, v, kept, trunc)
}

// FetchSince returns messages newer than since. A thread with more than max
// new messages is TRUNCATED (the client must discard its window), a thread
// whose batch contains its creation is EXHAUSTIVE and returned whole, and
// any other thread is UNCHANGED.
func (s *MessageService) FetchSince(
	ctx context.Context, v model.Viewer, sel model.ThreadSelection, since int64, max int,
) (model.MessagesResult, error) {
	if err := s.validate(sel, max); err != nil {
		return model.MessagesResult{}, err
	}
	if since < 0 {
		return model.MessagesResult{}, invalid("negative since")
	}
	rows, err := s.msgs.FetchSince(ctx, v, sel, since, max)
	if err != nil {
		return model.MessagesResult{}, fmt.Errorf("fetch messages since: %w", err)
	}

	trunc, err := s.seed(ctx, v, sel, model.TruncationUnchanged)
	if err != nil {
		return model.MessagesResult{}, err
	}
	var kept []model.MessageRow
	for _, batch := range groupByThread(rows) {
		tid := batch[0].ThreadID
		switch {
		case containsCreate(batch):
			trunc[tid] = model.TruncationExhaustive
		case len(batch) > max:
			trunc[tid] = model.TruncationTruncated
			batch = batch[:max]
		default:
			trunc[tid] = model.TruncationUnchanged
		}
		kept = append(kept, batch...)
	}
	return s.finish(ctx, v, kept, trunc)
}

// seed gives every selected thread a status before any rows are seen, so
// threads without messages are reported too.
func (s *MessageService) seed(
	ctx context.Context, v model.Viewer, sel model.ThreadSelection, st model.TruncationStatus,
) (map[int64]model.TruncationStatus, error) {
	trunc := make(map[int64]model.TruncationStatus, len(sel.Cursors))
	if sel.AllJoined && !v.Anonymous {
		joined, err := s.threads.JoinedThreads(ctx, v.UserID)
		if err != nil {
			return nil, fmt.Errorf("joined threads: %w", err)
		}
		for _, id := range joined {
			trunc[id] = st
		}
	}
	for id := range sel.Cursors {
		trunc[id] = st
	}
	return trunc, nil
}

// finish decodes rows, hides sub-thread announcements of threads the viewer
// cannot know of and resolves referenced users in one batch.
func (s *MessageService) finish(
	ctx context.Context, v model.Viewer, rows []model.MessageRow, trunc map[int64]model.TruncationStatus,
) (model.MessagesResult, error) {
	msgs := make([]model.Message, 0, len(rows))
	var children []int64
	for _, r := range rows {
		p, err := model.DecodeContent(r.Type, r.Content)
		if err != nil {
			return model.MessagesResult{}, fmt.Errorf("message %d: %w", r.ID, err)
		}
		if c, ok := p.(model.CreateSubThreadPayload); ok {
			children = append(children, c.ChildThreadID)
		}
		msgs = append(msgs, model.Message{ID: r.ID, ThreadID: r.ThreadID, CreatorID: r.CreatorID, Time: r.Time, Payload: p})
	}

	if len(children) > 0 {
		sc, err := loadScope(ctx, s.threads, children...)
		if err != nil {
			return model.MessagesResult{}, err
		}
		visible := msgs[:0]
		for _, m := range msgs {
			if c, ok := m.Payload.(model.CreateSubThreadPayload); ok &&
				!sc.graph.Resolve(c.ChildThreadID, v).Has(permission.KnowOf) {
				continue
			}
			visible = append(visible, m)
		}
		msgs = visible
	}

	var ids []uuid.UUID
	for _, m := range msgs {
		ids = append(ids, m.ReferencedUsers()...)
	}
	users, err := s.users.Lookup(ctx, ids)
	if err != nil {
		return model.MessagesResult{}, err
	}
	return model.MessagesResult{Messages: msgs, Truncation: trunc, Users: users}, nil
}

// SendText stores a TEXT message; the caller needs VOICED on the thread.
// A retry with the same localID and sessionID acks the stored message.
func (s *MessageService) SendText(
	ctx context.Context, v model.Viewer, threadID int64, localID, sessionID, text string,
) (model.MessageAck, error) {
	if threadID <= 0 {
		return model.MessageAck{}, invalid("thread id")
	}
	if strings.TrimSpace(text) == "" {
		return model.MessageAck{}, invalid("empty text")
	}
	sc, err := loadScope(ctx, s.threads, threadID)
	if err != nil {
		return model.MessageAck{}, err
	}
	if _, err := sc.require(threadID, v, permission.Voiced); err != nil {
		return model.MessageAck{}, err
	}
	out, err := s.msgs.Create(ctx, []model.NewMessage{{
		ThreadID:  threadID,
		CreatorID: creatorOf(v),
		Time:      s.now(),
		Payload:   model.TextPayload{Text: text},
		LocalID:   localID,
		SessionID: sessionID,
	}})
	if err != nil {
		return model.MessageAck{}, fmt.Errorf("create message: %w", err)
	}
	return model.MessageAck{LocalID: localID, ID: out[0].ID, Time: out[0].Time}, nil
}

func creatorOf(v model.Viewer) uuid.UUID {
	if v.Anonymous {
		return uuid.Nil
	}
	return v.UserID
}

// groupByThread splits rows ordered by thread into per-thread batches.
func groupByThread(rows []model.MessageRow) [][]model.MessageRow {
	var out [][]model.MessageRow
	for i := 0; i < len(rows); {
		j := i + 1
		for j < len(rows) && rows[j].ThreadID == rows[i].ThreadID {
			j++
		}
		out = append(out, rows[i:j])
		i = j
	}
	return out
}

func containsCreate(batch []model.MessageRow) bool {
	for _, r := range batch {
		if r.Type == model.MessageCreateThread {
			return true
		}
	}
	return false
}
