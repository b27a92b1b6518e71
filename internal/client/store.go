package client

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/and161185/squadcal/internal/errs"
	"github.com/and161185/squadcal/internal/model"
)

// WindowState says how much of a thread's history the client holds.
type WindowState int

const (
	// WindowUninitialized: never fetched, or discarded after a truncated
	// since-fetch. Needs a fresh initial fetch.
	WindowUninitialized WindowState = iota
	// WindowPartial: newest messages held, older history may exist.
	WindowPartial
	// WindowComplete: every message back to the thread's creation is held.
	WindowComplete
)

func (s WindowState) String() string {
	switch s {
	case WindowUninitialized:
		return "uninitialized"
	case WindowPartial:
		return "partial"
	case WindowComplete:
		return "complete"
	}
	return "WindowState(" + strconv.Itoa(int(s)) + ")"
}

// ThreadWindow is the client's view of one thread's timeline.
type ThreadWindow struct {
	MessageKeys     []string // newest first
	State           WindowState
	LastNavigatedTo int64 // unix ms
	LastPruned      int64 // unix ms
}

// StartReached reports whether nothing older than the window exists.
func (w ThreadWindow) StartReached() bool { return w.State == WindowComplete }

// MessageStore holds fetched and locally created messages. Server messages
// are keyed by id, local ones by local id; the two are merged only when an
// ack ties a local id to a server id.
type MessageStore struct {
	mu       sync.RWMutex
	messages map[string]model.Message
	byID     map[int64]string
	threads  map[int64]*ThreadWindow
	now      func() time.Time
}

// NewMessageStore returns an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		messages: map[string]model.Message{},
		byID:     map[int64]string{},
		threads:  map[int64]*ThreadWindow{},
		now:      time.Now,
	}
}

func (s *MessageStore) window(threadID int64) *ThreadWindow {
	w, ok := s.threads[threadID]
	if !ok {
		w = &ThreadWindow{}
		s.threads[threadID] = w
	}
	return w
}

// put stores a server message, reusing the key of an acknowledged local
// copy if there is one. Returns the key.
func (s *MessageStore) put(m model.Message) string {
	if k, ok := s.byID[m.ID]; ok {
		m.LocalID = s.messages[k].LocalID
		s.messages[k] = m
		return k
	}
	k := strconv.FormatInt(m.ID, 10)
	m.LocalID = ""
	s.messages[k] = m
	s.byID[m.ID] = k
	return k
}

// AddLocal stores a message that is not acknowledged yet at the new end of
// its thread.
func (s *MessageStore) AddLocal(m model.Message) error {
	if m.LocalID == "" || m.ID != 0 {
		return errInvalid("local message needs a local id and no id")
	}
	if err := m.Validate(); err != nil {
		return errInvalid(err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.LocalID]; ok {
		return nil
	}
	s.messages[m.LocalID] = m
	w := s.window(m.ThreadID)
	w.MessageKeys = append(w.MessageKeys, m.LocalID)
	s.sortLocked(w)
	return nil
}

// Acknowledge ties a local message to its server id and time. If a fetch
// already delivered the server copy, that copy is folded into the local key.
// A repeated ack changes nothing and reports false.
func (s *MessageStore) Acknowledge(localID string, id, at int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[localID]
	if !ok || m.ID == id {
		return false
	}
	if k, dup := s.byID[id]; dup && k != localID {
		delete(s.messages, k)
		for _, w := range s.threads {
			w.MessageKeys = removeKey(w.MessageKeys, k)
		}
	}
	m.ID, m.Time = id, at
	s.messages[localID] = m
	s.byID[id] = localID
	s.sortLocked(s.window(m.ThreadID))
	return true
}

// Drop removes a local message that will never be sent.
func (s *MessageStore) Drop(localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[localID]
	if !ok || m.ID != 0 {
		return
	}
	delete(s.messages, localID)
	if w, ok := s.threads[m.ThreadID]; ok {
		w.MessageKeys = removeKey(w.MessageKeys, localID)
	}
}

// MergeInitial applies a FetchInitial result. cursors are the per-thread
// cursors of the request: a zero cursor replaces the window's server
// messages with the newest page, a non-zero cursor extends the old end.
func (s *MessageStore) MergeInitial(res model.MessagesResult, cursors map[int64]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byThread := groupMessages(res.Messages)
	for tid, st := range res.Truncation {
		w := s.window(tid)
		if cursors[tid] == 0 {
			s.resetLocked(w, byThread[tid])
		}
		for _, m := range byThread[tid] {
			w.MessageKeys = appendUnique(w.MessageKeys, s.put(m))
		}
		switch st {
		case model.TruncationExhaustive:
			w.State = WindowComplete
		case model.TruncationTruncated:
			w.State = WindowPartial
		default:
			if w.State == WindowUninitialized {
				w.State = WindowPartial
			}
		}
		s.sortLocked(w)
	}
}

// MergeSince applies a FetchSince result and returns the threads whose
// window was discarded because of an unknown gap; they need a fresh
// initial fetch.
func (s *MessageStore) MergeSince(res model.MessagesResult) (refetch []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byThread := groupMessages(res.Messages)
	for tid, st := range res.Truncation {
		w := s.window(tid)
		if st == model.TruncationTruncated {
			s.invalidateLocked(w)
			refetch = append(refetch, tid)
			continue
		}
		for _, m := range byThread[tid] {
			w.MessageKeys = appendUnique(w.MessageKeys, s.put(m))
		}
		switch {
		case st == model.TruncationExhaustive:
			w.State = WindowComplete
		case w.State == WindowUninitialized && len(byThread[tid]) > 0:
			w.State = WindowPartial
		}
		s.sortLocked(w)
	}
	sort.Slice(refetch, func(i, j int) bool { return refetch[i] < refetch[j] })
	return refetch
}

// Invalidate discards a thread's server messages; local ones stay.
func (s *MessageStore) Invalidate(threadID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.threads[threadID]; ok {
		s.invalidateLocked(w)
	}
}

func (s *MessageStore) invalidateLocked(w *ThreadWindow) {
	keep := s.pendingKeys(w.MessageKeys)
	for _, k := range w.MessageKeys {
		if !slices.Contains(keep, k) {
			s.forgetLocked(k)
		}
	}
	w.MessageKeys = keep
	w.State = WindowUninitialized
}

// resetLocked drops the window's server messages that page does not
// contain again.
func (s *MessageStore) resetLocked(w *ThreadWindow, page []model.Message) {
	fresh := make(map[int64]bool, len(page))
	for _, m := range page {
		fresh[m.ID] = true
	}
	keep := w.MessageKeys[:0]
	for _, k := range w.MessageKeys {
		m := s.messages[k]
		switch {
		case m.Pending():
			keep = append(keep, k)
		case !fresh[m.ID]:
			s.forgetLocked(k)
		}
	}
	w.MessageKeys = keep
}

// pendingKeys filters keys down to unacknowledged local messages.
func (s *MessageStore) pendingKeys(keys []string) []string {
	var out []string
	for _, k := range keys {
		if m, ok := s.messages[k]; ok && m.Pending() {
			out = append(out, k)
		}
	}
	return out
}

func (s *MessageStore) forgetLocked(k string) {
	m, ok := s.messages[k]
	if !ok {
		return
	}
	delete(s.messages, k)
	if m.ID != 0 && s.byID[m.ID] == k {
		delete(s.byID, m.ID)
	}
}

// sortLocked orders a window newest first: unacknowledged messages in
// creation order ahead of everything the server has numbered.
func (s *MessageStore) sortLocked(w *ThreadWindow) {
	sort.SliceStable(w.MessageKeys, func(i, j int) bool {
		a, b := s.messages[w.MessageKeys[i]], s.messages[w.MessageKeys[j]]
		switch {
		case a.Pending() != b.Pending():
			return a.Pending()
		case a.Pending():
			return a.Time > b.Time
		default:
			return a.ID > b.ID
		}
	})
}

// Window returns a copy of a thread's window.
func (s *MessageStore) Window(threadID int64) (ThreadWindow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.threads[threadID]
	if !ok {
		return ThreadWindow{}, false
	}
	c := *w
	c.MessageKeys = append([]string(nil), w.MessageKeys...)
	return c, true
}

// Messages returns a thread's messages newest first.
func (s *MessageStore) Messages(threadID int64) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.threads[threadID]
	if !ok {
		return nil
	}
	out := make([]model.Message, 0, len(w.MessageKeys))
	for _, k := range w.MessageKeys {
		out = append(out, s.messages[k])
	}
	return out
}

// Threads lists every thread with a window, ascending.
func (s *MessageStore) Threads() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.threads))
	for id := range s.threads {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// OldestID returns the smallest server id in the window, the cursor for
// loading older messages. Zero if the window holds no server message.
func (s *MessageStore) OldestID(threadID int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.threads[threadID]
	if !ok {
		return 0
	}
	var oldest int64
	for _, k := range w.MessageKeys {
		if id := s.messages[k].ID; id != 0 && (oldest == 0 || id < oldest) {
			oldest = id
		}
	}
	return oldest
}

// NewestTime returns the latest server time held, the starting point for
// the next since-fetch.
func (s *MessageStore) NewestTime() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest int64
	for _, m := range s.messages {
		if !m.Pending() && m.Time > newest {
			newest = m.Time
		}
	}
	return newest
}

// Navigate marks a thread as just viewed so Prune leaves it alone.
func (s *MessageStore) Navigate(threadID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window(threadID).LastNavigatedTo = s.now().UnixMilli()
}

// Prune trims windows of threads not navigated to within idle down to their
// keep newest messages. A trimmed window loses its start. Threads pruned
// within idle are skipped. Returns the pruned threads.
func (s *MessageStore) Prune(keep int, idle time.Duration) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UnixMilli()
	cutoff := now - idle.Milliseconds()

	var pruned []int64
	for tid, w := range s.threads {
		if w.LastNavigatedTo > cutoff || w.LastPruned > cutoff || len(w.MessageKeys) <= keep {
			continue
		}
		tail := w.MessageKeys[keep:]
		stay := s.pendingKeys(tail)
		for _, k := range tail {
			if !slices.Contains(stay, k) {
				s.forgetLocked(k)
			}
		}
		w.MessageKeys = append(w.MessageKeys[:keep:keep], stay...)
		if w.State == WindowComplete {
			w.State = WindowPartial
		}
		w.LastPruned = now
		pruned = append(pruned, tid)
	}
	sort.Slice(pruned, func(i, j int) bool { return pruned[i] < pruned[j] })
	return pruned
}

func groupMessages(in []model.Message) map[int64][]model.Message {
	out := map[int64][]model.Message{}
	for _, m := range in {
		if m.ID == 0 {
			continue
		}
		out[m.ThreadID] = append(out[m.ThreadID], m)
	}
	return out
}

func appendUnique(keys []string, k string) []string {
	if slices.Contains(keys, k) {
		return keys
	}
	return append(keys, k)
}

func removeKey(keys []string, k string) []string {
	return slices.DeleteFunc(keys, func(x string) bool { return x == k })
}

func errInvalid(msg string) error { return fmt.Errorf("%s: %w", msg, errs.ErrInvalidParameters) }
