package model

import (
	"sort"

	"github.com/gofrs/uuid/v5"
)

// TruncationStatus tells a client what a fetch result means for its cached window.
type TruncationStatus string

const (
	// TruncationTruncated: more history exists, or (for since-fetches) the
	// cached window has an unknown gap and must be discarded.
	TruncationTruncated TruncationStatus = "truncated"
	// TruncationUnchanged: the cached window is still valid.
	TruncationUnchanged TruncationStatus = "unchanged"
	// TruncationExhaustive: the result reaches the start of the thread.
	TruncationExhaustive TruncationStatus = "exhaustive"
)

// Valid reports whether s is a known status.
func (s TruncationStatus) Valid() bool {
	switch s {
	case TruncationTruncated, TruncationUnchanged, TruncationExhaustive:
		return true
	}
	return false
}

// ThreadSelection names the threads a fetch covers. Cursors maps a thread
// to the id of the newest message NOT to return; 0 means start from newest.
type ThreadSelection struct {
	AllJoined bool
	Cursors   map[int64]int64
}

// Empty reports whether nothing is selected.
func (s ThreadSelection) Empty() bool { return !s.AllJoined && len(s.Cursors) == 0 }

// ThreadIDs returns the explicitly selected threads in ascending order.
func (s ThreadSelection) ThreadIDs() []int64 {
	out := make([]int64, 0, len(s.Cursors))
	for id := range s.Cursors {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MessageRow is a stored message as read back, before payload decoding.
type MessageRow struct {
	ID        int64
	ThreadID  int64
	CreatorID uuid.UUID
	Type      MessageType
	Content   *string
	Time      int64
}

// MessagesResult is the output of both fetch entry points.
type MessagesResult struct {
	Messages   []Message
	Truncation map[int64]TruncationStatus
	Users      map[uuid.UUID]UserInfo
}

// NewMessage is a message to persist. Time is the server clock in unix ms.
// A message with a LocalID is stored at most once per creator and SessionID.
type NewMessage struct {
	ThreadID  int64
	CreatorID uuid.UUID
	Time      int64
	Payload   Payload
	LocalID   string
	SessionID string
}

// MessageAck is the server's answer to a create.
type MessageAck struct {
	LocalID string
	ID      int64
	Time    int64
}
