package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/squadcal/internal/errs"
	"github.com/and161185/squadcal/internal/model"
)

// Kind tells which create RPC a pending entity uses.
type Kind int

const (
	KindMessage Kind = iota
	KindEntry
)

// State is the lifecycle of one locally created entity.
//
//	Unsubmitted -> InFlight -> Acknowledged (-> InFlight for each follow-up)
//	any follow-up with a stale baseline -> Conflicted -> Acknowledged
type State int

const (
	StateUnsubmitted State = iota
	StateInFlight
	StateAcknowledged
	StateConflicted
)

func (s State) String() string {
	switch s {
	case StateUnsubmitted:
		return "unsubmitted"
	case StateInFlight:
		return "in-flight"
	case StateAcknowledged:
		return "acknowledged"
	case StateConflicted:
		return "conflicted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// FollowUp is a mutation of an entity that must wait for its server id.
type FollowUp struct {
	Delete bool   `json:"delete,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Pending is the reconciler's record of one entity keyed by its local id.
// Text is the last text the server accepted (or the text to create with);
// it is the baseline sent as prevText with the next follow-up. Once a create
// has been sent it may have been stored even if no ack came back, so from then
// on Text is frozen and edits wait in QueuedUpdate until the create is acked.
type Pending struct {
	LocalID      string    `json:"localID"`
	Kind         Kind      `json:"kind"`
	State        State     `json:"state"`
	ThreadID     int64     `json:"threadID"`
	Day          string    `json:"day,omitempty"`
	Text         string    `json:"text"`
	Created      int64     `json:"created"`
	ID           int64     `json:"id,omitempty"`
	Time         int64     `json:"time,omitempty"`
	Deleted      bool      `json:"deleted,omitempty"`
	Sent         bool      `json:"sent,omitempty"`
	QueuedUpdate *string   `json:"queuedUpdate,omitempty"`
	QueuedDelete bool      `json:"queuedDelete,omitempty"`
	Sending      *FollowUp `json:"sending,omitempty"`
	ServerText   string    `json:"serverText,omitempty"`
}

// Ack is the server's answer to a create.
type Ack struct {
	ID   int64
	Time int64
}

func (p *Pending) ack() Ack { return Ack{ID: p.ID, Time: p.Time} }

func (p *Pending) hasWork() bool {
	switch p.State {
	case StateUnsubmitted:
		return !p.Deleted
	case StateAcknowledged:
		return !p.Deleted && (p.QueuedDelete || p.QueuedUpdate != nil)
	}
	return false
}

func (p *Pending) clone() Pending {
	c := *p
	if p.QueuedUpdate != nil {
		t := *p.QueuedUpdate
		c.QueuedUpdate = &t
	}
	if p.Sending != nil {
		s := *p.Sending
		c.Sending = &s
	}
	return c
}

// Remote is the server side of the reconciler. Creates carry the local id
// and session id so that the server stores a resent create only once.
type Remote interface {
	SendText(ctx context.Context, localID, sessionID string, threadID int64, text string) (model.MessageAck, error)
	SaveEntry(ctx context.Context, in model.SaveEntry) (model.EntryAck, error)
	DeleteEntry(ctx context.Context, in model.DeleteEntry) (model.Entry, error)
}

// DefaultSubmitTimeout bounds one create or follow-up request.
const DefaultSubmitTimeout = 30 * time.Second

// Reconciler owns every entity created on this client until the server has
// acknowledged it, and serializes the mutations of each entity so that the
// server observes create, edits and delete in the order they were issued.
type Reconciler struct {
	remote    Remote
	outbox    *Outbox
	ids       *LocalIDs
	sessionID string
	timeout   time.Duration
	now       func() time.Time
	onChange  func(Pending)
	log       *zap.Logger

	mu      sync.Mutex
	pending map[string]*Pending
	byID    map[int64]string // tracked server entry id -> local id
	sf      singleflight.Group
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithOutbox persists pending entities and the local id counter.
func WithOutbox(o *Outbox) Option { return func(r *Reconciler) { r.outbox = o } }

// WithSubmitTimeout bounds each request sent on behalf of an entity.
func WithSubmitTimeout(d time.Duration) Option { return func(r *Reconciler) { r.timeout = d } }

// WithSessionID sets the id sent with every create and recorded in entry
// revisions. Without it the outbox's session id is used.
func WithSessionID(id string) Option { return func(r *Reconciler) { r.sessionID = id } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(r *Reconciler) { r.log = l } }

// WithChangeHook is called, outside the reconciler lock, after an entity is
// acknowledged, edited, deleted or dropped.
func WithChangeHook(fn func(Pending)) Option { return func(r *Reconciler) { r.onChange = fn } }

// NewReconciler restores pending entities from the outbox, if any. Entities
// that were in flight when the client stopped are resubmitted from their
// last durable state.
func NewReconciler(remote Remote, opts ...Option) (*Reconciler, error) {
	r := &Reconciler{
		remote:  remote,
		timeout: DefaultSubmitTimeout,
		now:     time.Now,
		log:     zap.NewNop(),
		pending: map[string]*Pending{},
		byID:    map[int64]string{},
	}
	for _, o := range opts {
		o(r)
	}
	var last uint64
	if r.outbox != nil {
		var err error
		if last, err = r.outbox.LastLocalID(); err != nil {
			return nil, err
		}
		if r.sessionID == "" {
			if r.sessionID, err = r.outbox.SessionID(); err != nil {
				return nil, err
			}
		}
		recs, err := r.outbox.List()
		if err != nil {
			return nil, err
		}
		for i := range recs {
			p := recs[i]
			if p.State == StateInFlight {
				p.State = StateAcknowledged
				if p.ID == 0 {
					p.State = StateUnsubmitted
				}
			}
			if f := p.Sending; f != nil {
				if f.Delete {
					p.QueuedDelete = true
				} else if p.QueuedUpdate == nil {
					t := f.Text
					p.QueuedUpdate = &t
				}
				p.Sending = nil
			}
			r.pending[p.LocalID] = &p
			if p.ID != 0 && p.Kind == KindEntry {
				r.byID[p.ID] = p.LocalID
			}
		}
		if len(recs) > 0 {
			r.log.Info("outbox restored", zap.Int("entities", len(recs)))
		}
	}
	r.ids = NewLocalIDs(last)
	return r, nil
}

func (r *Reconciler) nowMillis() int64 { return r.now().UnixMilli() }

// persist writes p to the outbox. Called with r.mu held.
func (r *Reconciler) persist(p *Pending) error {
	if r.outbox == nil {
		return nil
	}
	if err := r.outbox.Put(*p); err != nil {
		r.log.Error("outbox write failed", zap.String("local_id", p.LocalID), zap.Error(err))
		return fmt.Errorf("outbox: %w", err)
	}
	return nil
}

func (r *Reconciler) notify(p *Pending) {
	if r.onChange != nil && p != nil {
		r.onChange(*p)
	}
}

func (r *Reconciler) create(p Pending) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// counter values reach the outbox in increasing order
	id, n := r.ids.Next()
	p.LocalID = id
	p.State = StateUnsubmitted
	p.Created = r.nowMillis()
	if r.outbox != nil {
		if err := r.outbox.Create(p, n); err != nil {
			return "", fmt.Errorf("outbox: %w", err)
		}
	}
	r.pending[id] = &p
	return id, nil
}

// CreateLocalMessage records a text message that has not been sent yet.
func (r *Reconciler) CreateLocalMessage(threadID int64, text string) (string, error) {
	if threadID <= 0 {
		return "", fmt.Errorf("thread id: %w", errs.ErrInvalidParameters)
	}
	return r.create(Pending{Kind: KindMessage, ThreadID: threadID, Text: text})
}

// CreateLocalEntry records a calendar entry that has not been sent yet.
func (r *Reconciler) CreateLocalEntry(threadID int64, day, text string) (string, error) {
	if threadID <= 0 {
		return "", fmt.Errorf("thread id: %w", errs.ErrInvalidParameters)
	}
	if _, err := model.ParseDay(day); err != nil {
		return "", fmt.Errorf("day %q: %w", day, errs.ErrInvalidParameters)
	}
	return r.create(Pending{Kind: KindEntry, ThreadID: threadID, Day: day, Text: text})
}

// TrackEntry registers an entry that already exists on the server so that
// its edits go through the same per-entity queue. Tracking the same entry
// twice returns the same local id.
func (r *Reconciler) TrackEntry(e model.Entry) (string, error) {
	if e.ID <= 0 {
		return "", fmt.Errorf("entry id: %w", errs.ErrInvalidParameters)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byID[e.ID]; ok {
		return id, nil
	}
	id, n := r.ids.Next()
	p := Pending{
		LocalID: id, Kind: KindEntry, State: StateAcknowledged,
		ThreadID: e.ThreadID, Day: e.Day, Text: e.Text, Created: e.CreationTime,
		ID: e.ID, Time: e.CreationTime, Deleted: e.Deleted,
	}
	if r.outbox != nil {
		if err := r.outbox.Create(p, n); err != nil {
			return "", fmt.Errorf("outbox: %w", err)
		}
	}
	r.pending[id] = &p
	r.byID[e.ID] = id
	return id, nil
}

// Get returns a copy of the entity record.
func (r *Reconciler) Get(localID string) (Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[localID]
	if !ok {
		return Pending{}, false
	}
	return p.clone(), true
}

// All returns every record in creation order.
func (r *Reconciler) All() []Pending {
	r.mu.Lock()
	out := make([]Pending, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p.clone())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created != out[j].Created {
			return out[i].Created < out[j].Created
		}
		return out[i].LocalID < out[j].LocalID
	})
	return out
}

// Submit sends whatever the entity still owes the server: the create if it
// was never acknowledged, then each queued follow-up, one per ack. Only one
// submission per entity runs at a time; concurrent callers share it. Once
// started, a submission is not cancelled with ctx: the caller stops waiting
// but the request runs to an ack or an error, bounded by the submit timeout.
// An acknowledged entity with nothing queued returns its stored ack.
func (r *Reconciler) Submit(ctx context.Context, localID string) (Ack, error) {
	detached := context.WithoutCancel(ctx)
	for {
		ch := r.sf.DoChan(localID, func() (any, error) {
			return r.run(detached, localID)
		})
		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return Ack{}, ctx.Err()
		}
		if res.Err != nil {
			return Ack{}, res.Err
		}
		// A follow-up queued after the shared run looked at the slots.
		r.mu.Lock()
		p, ok := r.pending[localID]
		more := ok && p.hasWork()
		r.mu.Unlock()
		if !more {
			return res.Val.(Ack), nil
		}
	}
}

type opKind int

const (
	opCreate opKind = iota
	opUpdate
	opDelete
)

type step struct {
	op   opKind
	rec  Pending
	text string
}

func (r *Reconciler) run(ctx context.Context, localID string) (Ack, error) {
	var last *Ack
	for {
		st, err := r.next(localID)
		if errors.Is(err, errs.ErrNotFound) && last != nil {
			// forgotten right after its final ack
			return *last, nil
		}
		if err != nil {
			return Ack{}, err
		}
		if st == nil {
			r.mu.Lock()
			defer r.mu.Unlock()
			p, ok := r.pending[localID]
			if !ok {
				return Ack{}, fmt.Errorf("local id %s: %w", localID, errs.ErrNotFound)
			}
			return p.ack(), nil
		}
		cctx, cancel := context.WithTimeout(ctx, r.timeout)
		a, err := r.send(cctx, st)
		cancel()
		if err := r.finish(st, a, err); err != nil {
			return Ack{}, err
		}
		if st.op == opCreate {
			last = &a
		} else {
			last = &Ack{ID: st.rec.ID, Time: st.rec.Time}
		}
	}
}

// next picks the one request to send now and marks the entity in flight.
func (r *Reconciler) next(localID string) (*step, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[localID]
	if !ok {
		return nil, fmt.Errorf("local id %s: %w", localID, errs.ErrNotFound)
	}
	st := &step{}
	switch {
	case p.State == StateConflicted:
		return nil, &errs.ConcurrentModificationError{ServerText: p.ServerText}
	case !p.hasWork():
		return nil, nil
	case p.State == StateUnsubmitted:
		st.op = opCreate
		p.Sent = true
	case p.QueuedDelete:
		// delete pre-empts a queued edit
		st.op = opDelete
		p.Sending = &FollowUp{Delete: true}
		p.QueuedDelete, p.QueuedUpdate = false, nil
	default:
		st.op, st.text = opUpdate, *p.QueuedUpdate
		p.Sending = &FollowUp{Text: st.text}
		p.QueuedUpdate = nil
	}
	p.State = StateInFlight
	if err := r.persist(p); err != nil {
		return nil, err
	}
	st.rec = p.clone()
	return st, nil
}

func (r *Reconciler) send(ctx context.Context, st *step) (Ack, error) {
	p := st.rec
	switch {
	case st.op == opCreate && p.Kind == KindMessage:
		a, err := r.remote.SendText(ctx, p.LocalID, r.sessionID, p.ThreadID, p.Text)
		return Ack{ID: a.ID, Time: a.Time}, err
	case st.op == opCreate:
		a, err := r.remote.SaveEntry(ctx, model.SaveEntry{
			LocalID: p.LocalID, ThreadID: p.ThreadID, Day: p.Day, Text: p.Text,
			SessionID: r.sessionID, Timestamp: p.Created,
		})
		return Ack{ID: a.EntryID, Time: a.Time}, err
	case st.op == opUpdate:
		a, err := r.remote.SaveEntry(ctx, model.SaveEntry{
			EntryID: p.ID, Text: st.text, PrevText: p.Text,
			SessionID: r.sessionID, Timestamp: r.nowMillis(),
		})
		return Ack{ID: a.EntryID, Time: a.Time}, err
	default:
		e, err := r.remote.DeleteEntry(ctx, model.DeleteEntry{
			EntryID: p.ID, PrevText: p.Text, SessionID: r.sessionID, Timestamp: r.nowMillis(),
		})
		return Ack{ID: e.ID, Time: e.LastUpdate}, err
	}
}

// finish records the outcome of one request.
func (r *Reconciler) finish(st *step, a Ack, sendErr error) error {
	r.mu.Lock()
	p, ok := r.pending[st.rec.LocalID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("local id %s: %w", st.rec.LocalID, errs.ErrNotFound)
	}
	var cm *errs.ConcurrentModificationError
	switch {
	case sendErr == nil:
		switch st.op {
		case opCreate:
			if _, err := r.applyAckLocked(p, a); err != nil {
				p.State = StateUnsubmitted
				_ = r.persist(p)
				r.mu.Unlock()
				return err
			}
		case opUpdate:
			p.Text = st.text
		case opDelete:
			p.Deleted = true
			p.QueuedUpdate, p.QueuedDelete = nil, false
		}
		p.Sending = nil
		p.State = StateAcknowledged
	case errors.As(sendErr, &cm):
		p.State = StateConflicted
		p.ServerText = cm.ServerText
		p.QueuedUpdate, p.QueuedDelete, p.Sending = nil, false, nil
		r.log.Info("concurrent modification", zap.String("local_id", p.LocalID), zap.Int64("id", p.ID))
	case st.op == opCreate:
		p.State = StateUnsubmitted
	default:
		// put the follow-up back unless something newer replaced it
		if st.op == opDelete {
			p.QueuedDelete = true
		} else if p.QueuedUpdate == nil && !p.QueuedDelete {
			t := st.text
			p.QueuedUpdate = &t
		}
		p.Sending = nil
		p.State = StateAcknowledged
	}
	perr := r.persist(p)
	snapshot := p.clone()
	r.mu.Unlock()

	if sendErr != nil {
		return sendErr
	}
	r.notify(&snapshot)
	return perr
}

// ApplyAck merges a server ack into the entity, keeping its local id so
// already rendered state stays keyed the same way. Applying the same ack
// again is a no-op and reports false.
func (r *Reconciler) ApplyAck(localID string, a Ack) (bool, error) {
	r.mu.Lock()
	p, ok := r.pending[localID]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("local id %s: %w", localID, errs.ErrNotFound)
	}
	applied, err := r.applyAckLocked(p, a)
	if applied && p.State != StateInFlight {
		p.State = StateAcknowledged
	}
	if applied {
		if perr := r.persist(p); perr != nil && err == nil {
			err = perr
		}
	}
	snapshot := p.clone()
	r.mu.Unlock()

	if applied {
		r.notify(&snapshot)
	}
	return applied, err
}

func (r *Reconciler) applyAckLocked(p *Pending, a Ack) (bool, error) {
	if a.ID <= 0 {
		return false, fmt.Errorf("ack for %s without id: %w", p.LocalID, errs.ErrInvalidParameters)
	}
	if p.ID == a.ID {
		return false, nil
	}
	if p.ID != 0 {
		return false, fmt.Errorf("local id %s already acknowledged as %d, got %d: %w",
			p.LocalID, p.ID, a.ID, errs.ErrInvalidParameters)
	}
	p.ID, p.Time = a.ID, a.Time
	if p.Kind == KindEntry {
		r.byID[a.ID] = p.LocalID
	}
	return true, nil
}

// UpdateEntry sets new text for an entry. While the create or another
// mutation is in flight the edit waits in the entity's update slot, where a
// later edit replaces an earlier one. Edits of a never-sent entry change the
// create itself; after a create was sent they queue behind its resubmission.
func (r *Reconciler) UpdateEntry(ctx context.Context, localID, text string) error {
	r.mu.Lock()
	p, err := r.mutable(localID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	kick := false
	switch {
	case p.State == StateUnsubmitted && !p.Sent:
		p.Text = text
		p.QueuedUpdate = nil
	case p.State == StateAcknowledged:
		if p.Text == text && p.QueuedUpdate == nil {
			r.mu.Unlock()
			return nil
		}
		kick = true
		fallthrough
	default:
		t := text
		p.QueuedUpdate = &t
	}
	err = r.persist(p)
	r.mu.Unlock()
	if err != nil || !kick {
		return err
	}
	_, err = r.Submit(ctx, localID)
	return err
}

// DeleteEntry deletes an entry once it exists on the server. A never-sent
// entry is dropped locally; one whose create was sent is deleted after the
// resubmitted create is acked.
func (r *Reconciler) DeleteEntry(ctx context.Context, localID string) error {
	r.mu.Lock()
	p, err := r.mutable(localID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if p.State == StateUnsubmitted && !p.Sent {
		p.Deleted = true
		snapshot := p.clone()
		delete(r.pending, localID)
		if r.outbox != nil {
			err = r.outbox.Delete(localID)
		}
		r.mu.Unlock()
		r.notify(&snapshot)
		return err
	}
	p.QueuedDelete = true
	p.QueuedUpdate = nil
	kick := p.State == StateAcknowledged
	err = r.persist(p)
	r.mu.Unlock()
	if err != nil || !kick {
		return err
	}
	_, err = r.Submit(ctx, localID)
	return err
}

// mutable returns the entry record if it still accepts edits. Called with r.mu held.
func (r *Reconciler) mutable(localID string) (*Pending, error) {
	p, ok := r.pending[localID]
	switch {
	case !ok:
		return nil, fmt.Errorf("local id %s: %w", localID, errs.ErrNotFound)
	case p.Kind != KindEntry:
		return nil, fmt.Errorf("local id %s is not an entry: %w", localID, errs.ErrInvalidParameters)
	case p.Deleted || p.QueuedDelete:
		return nil, fmt.Errorf("entry %s deleted: %w", localID, errs.ErrNotFound)
	case p.State == StateConflicted:
		return nil, &errs.ConcurrentModificationError{ServerText: p.ServerText}
	}
	return p, nil
}

// ResolveConflict accepts the server's text as the new baseline and, if
// text differs from it, sends text as an edit on top of it.
func (r *Reconciler) ResolveConflict(ctx context.Context, localID, text string) error {
	r.mu.Lock()
	p, ok := r.pending[localID]
	if !ok || p.State != StateConflicted {
		r.mu.Unlock()
		return fmt.Errorf("local id %s has no conflict: %w", localID, errs.ErrInvalidParameters)
	}
	p.Text, p.ServerText = p.ServerText, ""
	p.State = StateAcknowledged
	kick := text != p.Text
	if kick {
		t := text
		p.QueuedUpdate = &t
	}
	err := r.persist(p)
	snapshot := p.clone()
	r.mu.Unlock()
	r.notify(&snapshot)
	if err != nil || !kick {
		return err
	}
	_, err = r.Submit(ctx, localID)
	return err
}

// Forget drops an acknowledged entity with nothing left to send.
func (r *Reconciler) Forget(localID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[localID]
	if !ok {
		return nil
	}
	if p.State != StateAcknowledged || p.hasWork() {
		return fmt.Errorf("local id %s is %s: %w", localID, p.State, errs.ErrInvalidParameters)
	}
	delete(r.pending, localID)
	if p.Kind == KindEntry {
		delete(r.byID, p.ID)
	}
	if r.outbox != nil {
		return r.outbox.Delete(localID)
	}
	return nil
}

// Flush submits every entity that still owes the server something, up to
// parallel entities at a time.
func (r *Reconciler) Flush(ctx context.Context, parallel int) error {
	if parallel <= 0 {
		parallel = 4
	}
	var ids []string
	for _, p := range r.All() {
		if p.hasWork() {
			ids = append(ids, p.LocalID)
		}
	}

	var (
		mu     sync.Mutex
		failed []error
		g      errgroup.Group
	)
	g.SetLimit(parallel)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := r.Submit(ctx, id); err != nil {
				mu.Lock()
				failed = append(failed, fmt.Errorf("%s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(failed...)
}
