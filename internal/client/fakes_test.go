package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/and161185/squadcal/internal/errs"
	"github.com/and161185/squadcal/internal/model"
)

type call struct {
	op      string // send, create, update, delete
	localID string
	entryID int64
	text    string
	prev    string
}

// fakeRemote keeps entry texts like the server does and records every call.
// When gate is set, creates block until it is closed. Creates are keyed by
// local id, so a resent create gets the id of the stored one.
type fakeRemote struct {
	mu       sync.Mutex
	calls    []call
	nextID   int64
	texts    map[int64]string
	byLocal  map[string]int64
	gate     chan struct{}
	started  chan string
	failNext error
	// loseAck stores the next create and then fails it, as when the
	// response never reaches the client.
	loseAck error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{nextID: 100, texts: map[int64]string{}, byLocal: map[string]int64{}, started: make(chan string, 16)}
}

// createOnce allocates an id for localID unless a create for it was stored.
func (f *fakeRemote) createOnce(localID, text string) (int64, error) {
	if _, err := f.record(call{op: "create", localID: localID, text: text}); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byLocal[localID]
	if !ok {
		f.nextID++
		id = f.nextID
		f.byLocal[localID] = id
		f.texts[id] = text
	}
	if err := f.loseAck; err != nil {
		f.loseAck = nil
		return 0, err
	}
	return id, nil
}

func (f *fakeRemote) record(c call) (int64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	gate := f.gate
	f.mu.Unlock()
	if c.op == "send" || c.op == "create" {
		f.started <- c.localID
		if gate != nil {
			<-gate
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failNext; err != nil {
		f.failNext = nil
		return 0, err
	}
	if c.op == "create" {
		return 0, nil
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeRemote) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeRemote) SendText(_ context.Context, localID, _ string, _ int64, text string) (model.MessageAck, error) {
	id, err := f.record(call{op: "send", localID: localID, text: text})
	if err != nil {
		return model.MessageAck{}, err
	}
	return model.MessageAck{LocalID: localID, ID: id, Time: id * 10}, nil
}

func (f *fakeRemote) SaveEntry(_ context.Context, in model.SaveEntry) (model.EntryAck, error) {
	if in.EntryID == 0 {
		id, err := f.createOnce(in.LocalID, in.Text)
		if err != nil {
			return model.EntryAck{}, err
		}
		return model.EntryAck{LocalID: in.LocalID, EntryID: id, Time: id * 10}, nil
	}
	if _, err := f.record(call{op: "update", entryID: in.EntryID, text: in.Text, prev: in.PrevText}); err != nil {
		return model.EntryAck{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.texts[in.EntryID]
	if !ok {
		return model.EntryAck{}, fmt.Errorf("entry %d: %w", in.EntryID, errs.ErrNotFound)
	}
	if cur != in.PrevText {
		return model.EntryAck{}, &errs.ConcurrentModificationError{ServerText: cur}
	}
	f.texts[in.EntryID] = in.Text
	return model.EntryAck{EntryID: in.EntryID, Time: 1}, nil
}

func (f *fakeRemote) DeleteEntry(_ context.Context, in model.DeleteEntry) (model.Entry, error) {
	if _, err := f.record(call{op: "delete", entryID: in.EntryID, prev: in.PrevText}); err != nil {
		return model.Entry{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.texts[in.EntryID]
	if !ok {
		return model.Entry{}, errs.ErrNotFound
	}
	if cur != in.PrevText {
		return model.Entry{}, &errs.ConcurrentModificationError{ServerText: cur}
	}
	delete(f.texts, in.EntryID)
	return model.Entry{ID: in.EntryID, Text: cur, Deleted: true, LastUpdate: 2}, nil
}

func (f *fakeRemote) Text(id int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.texts[id]
	return t, ok
}

var errBoom = errors.New("boom")
