package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// DayLayout is the calendar day format used by entries.
const DayLayout = "2006-01-02"

// Entry is a calendar entry on one day of a thread.
type Entry struct {
	ID           int64
	LocalID      string
	ThreadID     int64
	Day          string
	Text         string
	CreatorID    uuid.UUID
	CreationTime int64
	LastUpdate   int64
	Deleted      bool
}

// Revision is one historical version of an entry.
type Revision struct {
	ID         int64
	EntryID    int64
	AuthorID   uuid.UUID
	Text       string
	SessionID  string
	LastUpdate int64
	Deleted    bool
}

// SaveEntry creates (EntryID == 0) or updates an entry. PrevText is the
// text the client based its edit on.
type SaveEntry struct {
	EntryID   int64
	LocalID   string
	ThreadID  int64
	Day       string
	Text      string
	PrevText  string
	SessionID string
	Timestamp int64
}

// DeleteEntry tombstones an entry if PrevText still matches.
type DeleteEntry struct {
	EntryID   int64
	PrevText  string
	SessionID string
	Timestamp int64
}

// EntryAck reports the stored entry and the timeline message it produced.
type EntryAck struct {
	LocalID string
	EntryID int64
	Time    int64
	Message *Message
}

// EntryQuery selects entries by thread and inclusive day range.
type EntryQuery struct {
	ThreadIDs      []int64
	From           string
	To             string
	IncludeDeleted bool
}

// ParseDay validates a calendar day.
func ParseDay(s string) (time.Time, error) { return time.Parse(DayLayout, s) }
