package service

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/squadcal/internal/errs"
	"github.com/and161185/squadcal/internal/model"
	"github.com/and161185/squadcal/internal/permission"
	"github.com/and161185/squadcal/internal/repository"
)

type fakeThreads struct {
	snap    model.DirectorySnapshot
	loadErr error

	accessCalls [][]int64
	drafts      []model.ThreadDraft
	changes     []model.MembershipChange
	settings    []model.ChangeSettingsPayload
	nextID      int64
}

var _ repository.ThreadRepository = (*fakeThreads)(nil)

func (f *fakeThreads) LoadDirectory(context.Context) (model.DirectorySnapshot, error) {
	return f.snap, f.loadErr
}
func (f *fakeThreads) LoadAccess(_ context.Context, ids []int64) (model.DirectorySnapshot, error) {
	f.accessCalls = append(f.accessCalls, ids)
	return f.snap, f.loadErr
}
func (f *fakeThreads) JoinedThreads(_ context.Context, userID uuid.UUID) ([]int64, error) {
	var out []int64
	for _, m := range f.snap.Memberships {
		if m.UserID == userID && m.RoleID != 0 {
			out = append(out, m.ThreadID)
		}
	}
	return out, f.loadErr
}
func (f *fakeThreads) CreateThread(_ context.Context, d model.ThreadDraft, now int64) (model.Thread, []model.Message, error) {
	f.drafts = append(f.drafts, d)
	th := d.Thread
	th.ID, th.CreationTime, th.CreatorID = 100, now, d.CreatorID
	return th, []model.Message{{ID: 101, ThreadID: 100, Payload: model.CreateThreadPayload{Name: th.Name}}}, nil
}
func (f *fakeThreads) ChangeMemberships(_ context.Context, ch model.MembershipChange) (model.Message, error) {
	f.changes = append(f.changes, ch)
	f.nextID++
	return model.Message{ID: f.nextID, ThreadID: ch.ThreadID, CreatorID: ch.Message.CreatorID, Payload: ch.Message.Payload}, nil
}
func (f *fakeThreads) ChangeSettings(_ context.Context, threadID int64, p model.ChangeSettingsPayload, nm model.NewMessage) (model.Message, error) {
	f.settings = append(f.settings, p)
	return model.Message{ID: 1, ThreadID: threadID, Payload: nm.Payload}, nil
}

type fakeMessages struct {
	rows    []model.MessageRow
	err     error
	gotSel  model.ThreadSelection
	gotLim  int
	created []model.NewMessage
	stored  map[string]model.Message
}

var _ repository.MessageRepository = (*fakeMessages)(nil)

func (f *fakeMessages) FetchInitial(_ context.Context, _ model.Viewer, sel model.ThreadSelection, limit int) ([]model.MessageRow, error) {
	f.gotSel, f.gotLim = sel, limit
	return f.rows, f.err
}
func (f *fakeMessages) FetchSince(_ context.Context, _ model.Viewer, sel model.ThreadSelection, _ int64, limit int) ([]model.MessageRow, error) {
	f.gotSel, f.gotLim = sel, limit
	return f.rows, f.err
}
func (f *fakeMessages) Create(_ context.Context, msgs []model.NewMessage) ([]model.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.Message, len(msgs))
	for i, n := range msgs {
		key := n.CreatorID.String() + "/" + n.SessionID + "/" + n.LocalID
		if m, ok := f.stored[key]; ok && n.LocalID != "" {
			out[i] = m
			continue
		}
		f.created = append(f.created, n)
		out[i] = model.Message{ID: int64(500 + len(f.created)), ThreadID: n.ThreadID, CreatorID: n.CreatorID, Time: n.Time, Payload: n.Payload}
		if n.LocalID != "" {
			if f.stored == nil {
				f.stored = map[string]model.Message{}
			}
			f.stored[key] = out[i]
		}
	}
	return out, nil
}

type fakeEntries struct {
	byID    map[int64]model.Entry
	saveErr error
	queries []model.EntryQuery
	updates []model.SaveEntry
	// stored answers creates as an entry the same client already created
	stored *model.Entry
}

var _ repository.EntryRepository = (*fakeEntries)(nil)

func (f *fakeEntries) Create(_ context.Context, in model.SaveEntry, author uuid.UUID, now int64) (model.Entry, *model.Message, error) {
	if f.saveErr != nil {
		return model.Entry{}, nil, f.saveErr
	}
	if f.stored != nil {
		e := *f.stored
		e.LocalID = in.LocalID
		return e, nil, nil
	}
	e := model.Entry{ID: 900, LocalID: in.LocalID, ThreadID: in.ThreadID, Day: in.Day, Text: in.Text, CreatorID: author, CreationTime: now, LastUpdate: now}
	f.byID[e.ID] = e
	return e, &model.Message{ID: 901, ThreadID: in.ThreadID}, nil
}
func (f *fakeEntries) Update(_ context.Context, in model.SaveEntry, _ uuid.UUID, now int64) (model.Entry, *model.Message, error) {
	f.updates = append(f.updates, in)
	if f.saveErr != nil {
		return model.Entry{}, nil, f.saveErr
	}
	e := f.byID[in.EntryID]
	e.Text, e.LastUpdate = in.Text, now
	return e, &model.Message{ID: 902, ThreadID: e.ThreadID}, nil
}
func (f *fakeEntries) Delete(_ context.Context, in model.DeleteEntry, _ uuid.UUID, now int64) (model.Entry, error) {
	e := f.byID[in.EntryID]
	e.Deleted, e.LastUpdate = true, now
	return e, nil
}
func (f *fakeEntries) Restore(_ context.Context, id int64, _ string, _ uuid.UUID, now int64) (model.Entry, error) {
	e := f.byID[id]
	e.Deleted, e.LastUpdate = false, now
	return e, nil
}
func (f *fakeEntries) Get(_ context.Context, id int64) (model.Entry, error) {
	e, ok := f.byID[id]
	if !ok {
		return model.Entry{}, errs.ErrNotFound
	}
	return e, nil
}
func (f *fakeEntries) Fetch(_ context.Context, q model.EntryQuery) ([]model.Entry, error) {
	f.queries = append(f.queries, q)
	var out []model.Entry
	for _, e := range f.byID {
		for _, id := range q.ThreadIDs {
			if e.ThreadID == id {
				out = append(out, e)
			}
		}
	}
	return out, nil
}
func (f *fakeEntries) Revisions(_ context.Context, id int64) ([]model.Revision, error) {
	return []model.Revision{{ID: 1, EntryID: id}}, nil
}

type fakeLookup struct {
	names map[uuid.UUID]string
	calls [][]uuid.UUID
	err   error
}

func (f *fakeLookup) Lookup(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]model.UserInfo, error) {
	f.calls = append(f.calls, ids)
	if f.err != nil {
		return nil, f.err
	}
	out := map[uuid.UUID]model.UserInfo{}
	for _, id := range ids {
		if n, ok := f.names[id]; ok {
			out[id] = model.UserInfo{ID: id, Username: n}
		}
	}
	return out, nil
}

// world is a small hierarchy:
//
//	1 general (open, anybody edits)  alice admin, dave invisible
//	└─ 2 plans (secret)              bob member
//	3 staff (closed)                 carol member
type world struct {
	alice, bob, carol, dave uuid.UUID
	snap                    model.DirectorySnapshot
}

func threadRoles(id int64, vis permission.Visibility, edit permission.EditRule) []model.Role {
	return []model.Role{
		{ID: id*10 + 1, ThreadID: id, Name: "Guests", Permissions: guestMask(vis, edit), IsDefault: true},
		{ID: id*10 + 2, ThreadID: id, Name: "Members", Permissions: memberMask},
		{ID: id*10 + 3, ThreadID: id, Name: "Admins", Permissions: permission.AllMask},
	}
}

func newWorld() world {
	w := world{
		alice: uuid.Must(uuid.NewV4()),
		bob:   uuid.Must(uuid.NewV4()),
		carol: uuid.Must(uuid.NewV4()),
		dave:  uuid.Must(uuid.NewV4()),
	}
	mk := func(id, parent int64, name string, vis permission.Visibility, edit permission.EditRule) model.Thread {
		return model.Thread{ID: id, Name: name, Visibility: vis, EditRule: edit, ParentThreadID: parent,
			DefaultRoleID: id*10 + 1, MemberRoleID: id*10 + 2, CreatorID: w.alice}
	}
	w.snap.Threads = []model.Thread{
		mk(1, 0, "general", permission.VisibilityOpen, permission.EditAnybody),
		mk(2, 1, "plans", permission.VisibilitySecret, permission.EditAnybody),
		mk(3, 0, "staff", permission.VisibilityClosed, permission.EditLoggedIn),
	}
	for _, t := range w.snap.Threads {
		w.snap.Roles = append(w.snap.Roles, threadRoles(t.ID, t.Visibility, t.EditRule)...)
	}
	w.snap.Memberships = []model.Membership{
		{ThreadID: 1, UserID: w.alice, RoleID: 13, Visible: true, Subscribed: true},
		{ThreadID: 1, UserID: w.dave, RoleID: 0, Visible: false},
		{ThreadID: 2, UserID: w.bob, RoleID: 22, Visible: true, Subscribed: true},
		{ThreadID: 3, UserID: w.carol, RoleID: 32, Visible: true},
	}
	return w
}

func (w world) names() map[uuid.UUID]string {
	return map[uuid.UUID]string{w.alice: "alice", w.bob: "bob", w.carol: "carol", w.dave: "dave"}
}
