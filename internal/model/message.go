package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/squadcal/internal/permission"
)

// MessageType is the discriminator of the message union. Values are persisted.
type MessageType int

const (
	MessageText MessageType = iota
	MessageCreateThread
	MessageAddMembers
	MessageCreateSubThread
	MessageChangeSettings
	MessageRemoveMembers
	MessageChangeRole
	MessageLeaveThread
	MessageJoinThread
	MessageCreateEntry
	MessageEditEntry
)

var messageTypeNames = map[MessageType]string{
	MessageText:            "TEXT",
	MessageCreateThread:    "CREATE_THREAD",
	MessageAddMembers:      "ADD_MEMBERS",
	MessageCreateSubThread: "CREATE_SUB_THREAD",
	MessageChangeSettings:  "CHANGE_SETTINGS",
	MessageRemoveMembers:   "REMOVE_MEMBERS",
	MessageChangeRole:      "CHANGE_ROLE",
	MessageLeaveThread:     "LEAVE_THREAD",
	MessageJoinThread:      "JOIN_THREAD",
	MessageCreateEntry:     "CREATE_ENTRY",
	MessageEditEntry:       "EDIT_ENTRY",
}

func (t MessageType) String() string {
	if n, ok := messageTypeNames[t]; ok {
		return n
	}
	return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
}

// Payload is the type-specific body of a message.
type Payload interface {
	MessageType() MessageType
}

type TextPayload struct {
	Text string `json:"text"`
}

type CreateThreadPayload struct {
	Name           string                `json:"name"`
	Description    string                `json:"description,omitempty"`
	Color          string                `json:"color,omitempty"`
	Visibility     permission.Visibility `json:"visibilityRules"`
	EditRule       permission.EditRule   `json:"editRules"`
	ParentThreadID int64                 `json:"parentThreadID,omitempty"`
	MemberIDs      []uuid.UUID           `json:"memberIDs"`
}

type AddMembersPayload struct {
	UserIDs []uuid.UUID `json:"addedUserIDs"`
}

type CreateSubThreadPayload struct {
	ChildThreadID int64 `json:"childThreadID"`
}

// ChangeSettingsPayload records one changed thread field.
type ChangeSettingsPayload struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type RemoveMembersPayload struct {
	UserIDs []uuid.UUID `json:"removedUserIDs"`
}

type ChangeRolePayload struct {
	UserIDs []uuid.UUID `json:"userIDs"`
	NewRole int64       `json:"newRole"`
}

type LeaveThreadPayload struct{}

type JoinThreadPayload struct{}

// EntryPayload is shared by CREATE_ENTRY and EDIT_ENTRY.
type EntryPayload struct {
	EntryID int64  `json:"entryID"`
	Day     string `json:"date"`
	Text    string `json:"text"`
}

type CreateEntryPayload struct{ EntryPayload }

type EditEntryPayload struct{ EntryPayload }

func (TextPayload) MessageType() MessageType            { return MessageText }
func (CreateThreadPayload) MessageType() MessageType    { return MessageCreateThread }
func (AddMembersPayload) MessageType() MessageType      { return MessageAddMembers }
func (CreateSubThreadPayload) MessageType() MessageType { return MessageCreateSubThread }
func (ChangeSettingsPayload) MessageType() MessageType  { return MessageChangeSettings }
func (RemoveMembersPayload) MessageType() MessageType   { return MessageRemoveMembers }
func (ChangeRolePayload) MessageType() MessageType      { return MessageChangeRole }
func (LeaveThreadPayload) MessageType() MessageType     { return MessageLeaveThread }
func (JoinThreadPayload) MessageType() MessageType      { return MessageJoinThread }
func (CreateEntryPayload) MessageType() MessageType     { return MessageCreateEntry }
func (EditEntryPayload) MessageType() MessageType       { return MessageEditEntry }

// Message is any update to a thread. A message either carries a server ID or
// is still pending and carries only a LocalID.
type Message struct {
	ID        int64
	LocalID   string
	ThreadID  int64
	CreatorID uuid.UUID // uuid.Nil for anonymous creators
	Time      int64     // unix ms
	Payload   Payload
}

// Type returns the discriminator of the payload.
func (m Message) Type() MessageType {
	if m.Payload == nil {
		return -1
	}
	return m.Payload.MessageType()
}

// Pending reports whether the message has not been acknowledged yet.
func (m Message) Pending() bool { return m.ID == 0 }

// Key prefers the local ID so rendered state keeps a stable identity across ack.
func (m Message) Key() string {
	if m.LocalID != "" {
		return m.LocalID
	}
	return strconv.FormatInt(m.ID, 10)
}

// Validate checks the identity invariant and the payload presence.
func (m Message) Validate() error {
	if m.ID == 0 && m.LocalID == "" {
		return errors.New("message has neither id nor local id")
	}
	if m.Payload == nil {
		return errors.New("message has no payload")
	}
	if m.ThreadID <= 0 {
		return errors.New("message has no thread")
	}
	return nil
}

// ReferencedUsers lists every user a client needs a name for to render m.
func (m Message) ReferencedUsers() []uuid.UUID {
	var out []uuid.UUID
	if m.CreatorID != uuid.Nil {
		out = append(out, m.CreatorID)
	}
	switch p := m.Payload.(type) {
	case AddMembersPayload:
		out = append(out, p.UserIDs...)
	case CreateThreadPayload:
		out = append(out, p.MemberIDs...)
	}
	return out
}

// EncodeContent renders the payload the way it is stored. TEXT is stored
// raw, CREATE_SUB_THREAD as the decimal child id, LEAVE/JOIN carry nothing,
// everything else is JSON.
func EncodeContent(p Payload) (*string, error) {
	var s string
	switch v := p.(type) {
	case TextPayload:
		s = v.Text
	case CreateSubThreadPayload:
		s = strconv.FormatInt(v.ChildThreadID, 10)
	case LeaveThreadPayload, JoinThreadPayload:
		return nil, nil
	case ChangeSettingsPayload:
		b, err := json.Marshal(map[string]string{v.Field: v.Value})
		if err != nil {
			return nil, err
		}
		s = string(b)
	case nil:
		return nil, errors.New("nil payload")
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		s = string(b)
	}
	return &s, nil
}

// DecodeContent is the inverse of EncodeContent.
func DecodeContent(t MessageType, content *string) (Payload, error) {
	var raw string
	if content != nil {
		raw = *content
	}
	switch t {
	case MessageText:
		return TextPayload{Text: raw}, nil
	case MessageCreateSubThread:
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("child thread id: %w", err)
		}
		return CreateSubThreadPayload{ChildThreadID: id}, nil
	case MessageLeaveThread:
		return LeaveThreadPayload{}, nil
	case MessageJoinThread:
		return JoinThreadPayload{}, nil
	case MessageChangeSettings:
		var kv map[string]string
		if err := json.Unmarshal([]byte(raw), &kv); err != nil {
			return nil, err
		}
		if len(kv) != 1 {
			return nil, fmt.Errorf("change settings: want 1 field, got %d", len(kv))
		}
		var p ChangeSettingsPayload
		for k, v := range kv {
			p = ChangeSettingsPayload{Field: k, Value: v}
		}
		return p, nil
	case MessageCreateThread:
		return decodeJSON[CreateThreadPayload](raw)
	case MessageAddMembers:
		return decodeJSON[AddMembersPayload](raw)
	case MessageRemoveMembers:
		return decodeJSON[RemoveMembersPayload](raw)
	case MessageChangeRole:
		return decodeJSON[ChangeRolePayload](raw)
	case MessageCreateEntry:
		p, err := decodeJSON[EntryPayload](raw)
		return CreateEntryPayload{p}, err
	case MessageEditEntry:
		p, err := decodeJSON[EntryPayload](raw)
		return EditEntryPayload{p}, err
	default:
		return nil, fmt.Errorf("unknown message type %d", t)
	}
}

func decodeJSON[T any](raw string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(raw), &v)
	return v, err
}
