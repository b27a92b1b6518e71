// Package convert maps domain types to the squadcal.v1 wire types and back.
package convert

import (
	"fmt"
	"strings"

	u "github.com/gofrs/uuid/v5"

	pb "github.com/and161185/squadcal/api/squadcal/v1"
	model "github.com/and161185/squadcal/internal/model"
	"github.com/and161185/squadcal/internal/permission"
)

// --- helpers ---

// UserID renders a user id; the anonymous creator becomes "".
func UserID(id u.UUID) string {
	if id == u.Nil {
		return ""
	}
	return id.String()
}

// ParseUserID is the inverse of UserID.
func ParseUserID(s string) (u.UUID, error) {
	if s == "" {
		return u.Nil, nil
	}
	id, err := u.FromString(s)
	if err != nil {
		return u.Nil, fmt.Errorf("invalid user id %q: %w", s, err)
	}
	return id, nil
}

// ParseUserIDs parses a list of non-empty user ids.
func ParseUserIDs(in []string) ([]u.UUID, error) {
	out := make([]u.UUID, 0, len(in))
	for i, s := range in {
		id, err := u.FromString(s)
		if err != nil {
			return nil, fmt.Errorf("user[%d]: %w", i, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// CapabilityName is the wire name of c, e.g. KNOW_OF.
func CapabilityName(c permission.Capability) string { return strings.ToUpper(c.String()) }

// --- permissions ---

// ToWirePermissions lists every capability with its grant and source.
func ToWirePermissions(s permission.Set) pb.Permissions {
	out := make(pb.Permissions, len(s))
	for _, c := range permission.Capabilities() {
		g := s[c]
		w := pb.Grant{Value: g.Granted}
		if g.Granted {
			w.Source = g.Source.String()
		}
		out[CapabilityName(c)] = w
	}
	return out
}

// ToWireMask lists the capability names contained in m.
func ToWireMask(m permission.Mask) []string {
	out := []string{}
	for _, c := range permission.Capabilities() {
		if m.Has(c) {
			out = append(out, CapabilityName(c))
		}
	}
	return out
}

// FromWireMask parses capability names. Unknown names are an error.
func FromWireMask(names []string) (permission.Mask, error) {
	var m permission.Mask
	for _, n := range names {
		c, ok := permission.ParseCapability(n)
		if !ok {
			return 0, fmt.Errorf("unknown capability %q", n)
		}
		m = m.With(c)
	}
	return m, nil
}

// FromWirePermissions keeps the granted capabilities of p.
func FromWirePermissions(p pb.Permissions) permission.Mask {
	var m permission.Mask
	for name, g := range p {
		if c, ok := permission.ParseCapability(name); ok && g.Value {
			m = m.With(c)
		}
	}
	return m
}

// --- threads ---

// ToWireThread converts a resolved thread.
func ToWireThread(t model.Thread) pb.ThreadInfo {
	ti := pb.ThreadInfo{
		ID:             t.ID,
		Name:           t.Name,
		Description:    t.Description,
		Color:          t.Color,
		Visibility:     int(t.Visibility),
		EditRule:       int(t.EditRule),
		CreationTime:   t.CreationTime,
		ParentThreadID: t.ParentThreadID,
		CreatorID:      UserID(t.CreatorID),
		Roles:          make([]pb.RoleInfo, 0, len(t.Roles)),
		Members:        make([]pb.MemberInfo, 0, len(t.Members)),
		CurrentUser: pb.CurrentUserInfo{
			Role:        t.CurrentUser.RoleID,
			Permissions: ToWirePermissions(t.CurrentUser.Permissions),
			Subscribed:  t.CurrentUser.Subscribed,
		},
	}
	for _, r := range t.Roles {
		ti.Roles = append(ti.Roles, pb.RoleInfo{
			ID:          r.ID,
			Name:        r.Name,
			Permissions: ToWireMask(r.Permissions),
			IsDefault:   r.IsDefault,
		})
	}
	for _, m := range t.Members {
		ti.Members = append(ti.Members, pb.MemberInfo{
			ID:          m.UserID.String(),
			Role:        m.RoleID,
			Permissions: ToWirePermissions(m.Permissions),
		})
	}
	return ti
}

// ToWireUsers keys users by their string id.
func ToWireUsers(in map[u.UUID]model.UserInfo) map[string]pb.UserInfo {
	out := make(map[string]pb.UserInfo, len(in))
	for id, ui := range in {
		out[id.String()] = pb.UserInfo{ID: id.String(), Username: ui.Username}
	}
	return out
}

// FromWireUsers is the inverse of ToWireUsers. Malformed ids are skipped.
func FromWireUsers(in map[string]pb.UserInfo) map[u.UUID]model.UserInfo {
	out := make(map[u.UUID]model.UserInfo, len(in))
	for k, ui := range in {
		id, err := u.FromString(k)
		if err != nil {
			continue
		}
		out[id] = model.UserInfo{ID: id, Username: ui.Username}
	}
	return out
}

// ToWireDirectory converts a built directory.
func ToWireDirectory(d model.Directory) *pb.GetThreadDirectoryResponse {
	out := &pb.GetThreadDirectoryResponse{
		Threads: make(map[int64]pb.ThreadInfo, len(d.Threads)),
		Users:   ToWireUsers(d.Users),
	}
	for id, t := range d.Threads {
		out.Threads[id] = ToWireThread(t)
	}
	return out
}

// FromWireNewThread converts a create request.
func FromWireNewThread(in *pb.CreateThreadRequest) (model.NewThread, error) {
	members, err := ParseUserIDs(in.MemberIDs)
	if err != nil {
		return model.NewThread{}, err
	}
	return model.NewThread{
		Name:           in.Name,
		Description:    in.Description,
		Color:          in.Color,
		Visibility:     permission.Visibility(in.Visibility),
		EditRule:       permission.EditRule(in.EditRule),
		ParentThreadID: in.ParentThreadID,
		MemberIDs:      members,
	}, nil
}

// --- messages ---

// ToWireMessage encodes the payload with its stored representation.
func ToWireMessage(m model.Message) (pb.MessageInfo, error) {
	content, err := model.EncodeContent(m.Payload)
	if err != nil {
		return pb.MessageInfo{}, fmt.Errorf("message %s: %w", m.Key(), err)
	}
	return pb.MessageInfo{
		ID:        m.ID,
		LocalID:   m.LocalID,
		ThreadID:  m.ThreadID,
		CreatorID: UserID(m.CreatorID),
		Time:      m.Time,
		Type:      int(m.Type()),
		Content:   content,
	}, nil
}

// ToWireMessages converts a slice, failing on the first bad message.
func ToWireMessages(in []model.Message) ([]pb.MessageInfo, error) {
	out := make([]pb.MessageInfo, 0, len(in))
	for _, m := range in {
		w, err := ToWireMessage(m)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// FromWireMessage decodes a message received from the server.
func FromWireMessage(in pb.MessageInfo) (model.Message, error) {
	creator, err := ParseUserID(in.CreatorID)
	if err != nil {
		return model.Message{}, err
	}
	p, err := model.DecodeContent(model.MessageType(in.Type), in.Content)
	if err != nil {
		return model.Message{}, fmt.Errorf("message %d: %w", in.ID, err)
	}
	return model.Message{
		ID:        in.ID,
		LocalID:   in.LocalID,
		ThreadID:  in.ThreadID,
		CreatorID: creator,
		Time:      in.Time,
		Payload:   p,
	}, nil
}

// ToWireSelection converts a thread selection.
func ToWireSelection(s model.ThreadSelection) pb.ThreadSelection {
	return pb.ThreadSelection{AllJoined: s.AllJoined, Cursors: s.Cursors}
}

// FromWireSelection converts a thread selection.
func FromWireSelection(s pb.ThreadSelection) model.ThreadSelection {
	return model.ThreadSelection{AllJoined: s.AllJoined, Cursors: s.Cursors}
}

// ToWireMessagesResult converts either fetch result.
func ToWireMessagesResult(r model.MessagesResult) (*pb.FetchMessagesResponse, error) {
	msgs, err := ToWireMessages(r.Messages)
	if err != nil {
		return nil, err
	}
	trunc := make(map[int64]string, len(r.Truncation))
	for id, st := range r.Truncation {
		trunc[id] = string(st)
	}
	return &pb.FetchMessagesResponse{Messages: msgs, Truncation: trunc, Users: ToWireUsers(r.Users)}, nil
}

// FromWireMessagesResult decodes a fetch response. Unknown truncation
// statuses are rejected.
func FromWireMessagesResult(in *pb.FetchMessagesResponse) (model.MessagesResult, error) {
	out := model.MessagesResult{
		Messages:   make([]model.Message, 0, len(in.Messages)),
		Truncation: make(map[int64]model.TruncationStatus, len(in.Truncation)),
		Users:      FromWireUsers(in.Users),
	}
	for _, w := range in.Messages {
		m, err := FromWireMessage(w)
		if err != nil {
			return model.MessagesResult{}, err
		}
		out.Messages = append(out.Messages, m)
	}
	for id, s := range in.Truncation {
		st := model.TruncationStatus(s)
		if !st.Valid() {
			return model.MessagesResult{}, fmt.Errorf("thread %d: unknown truncation status %q", id, s)
		}
		out.Truncation[id] = st
	}
	return out, nil
}

// --- entries ---

// ToWireEntry converts an entry.
func ToWireEntry(e model.Entry) pb.EntryInfo {
	return pb.EntryInfo{
		ID:           e.ID,
		ThreadID:     e.ThreadID,
		Day:          e.Day,
		Text:         e.Text,
		CreatorID:    UserID(e.CreatorID),
		CreationTime: e.CreationTime,
		LastUpdate:   e.LastUpdate,
		Deleted:      e.Deleted,
	}
}

// FromWireEntry converts an entry.
func FromWireEntry(in pb.EntryInfo) (model.Entry, error) {
	creator, err := ParseUserID(in.CreatorID)
	if err != nil {
		return model.Entry{}, err
	}
	return model.Entry{
		ID:           in.ID,
		ThreadID:     in.ThreadID,
		Day:          in.Day,
		Text:         in.Text,
		CreatorID:    creator,
		CreationTime: in.CreationTime,
		LastUpdate:   in.LastUpdate,
		Deleted:      in.Deleted,
	}, nil
}

// ToWireEntries converts a slice of entries.
func ToWireEntries(in []model.Entry) []pb.EntryInfo {
	out := make([]pb.EntryInfo, 0, len(in))
	for _, e := range in {
		out = append(out, ToWireEntry(e))
	}
	return out
}

// ToWireRevisions converts entry history.
func ToWireRevisions(in []model.Revision) []pb.RevisionInfo {
	out := make([]pb.RevisionInfo, 0, len(in))
	for _, r := range in {
		out = append(out, pb.RevisionInfo{
			ID:         r.ID,
			EntryID:    r.EntryID,
			AuthorID:   UserID(r.AuthorID),
			Text:       r.Text,
			SessionID:  r.SessionID,
			LastUpdate: r.LastUpdate,
			Deleted:    r.Deleted,
		})
	}
	return out
}

// FromWireSaveEntry converts a save request.
func FromWireSaveEntry(in *pb.SaveEntryRequest) model.SaveEntry {
	return model.SaveEntry{
		EntryID:   in.EntryID,
		LocalID:   in.LocalID,
		ThreadID:  in.ThreadID,
		Day:       in.Day,
		Text:      in.Text,
		PrevText:  in.PrevText,
		SessionID: in.SessionID,
		Timestamp: in.Timestamp,
	}
}

// ToWireEntryAck converts a save acknowledgement.
func ToWireEntryAck(a model.EntryAck) (*pb.SaveEntryResponse, error) {
	out := &pb.SaveEntryResponse{LocalID: a.LocalID, EntryID: a.EntryID, Time: a.Time}
	if a.Message != nil {
		m, err := ToWireMessage(*a.Message)
		if err != nil {
			return nil, err
		}
		out.Message = &m
	}
	return out, nil
}
