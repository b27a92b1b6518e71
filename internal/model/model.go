// Package model holds domain types shared by repositories, services and transport.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/squadcal/internal/permission"
)

// Viewer is the identity every read and write is scoped by.
type Viewer = permission.Viewer

// User represents an account.
type User struct {
	ID        uuid.UUID
	Username  string
	PwdHash   string
	CreatedAt time.Time
}

// Tokens returned after successful login.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}

// UserInfo is the public part of a user referenced by threads or messages.
type UserInfo struct {
	ID       uuid.UUID
	Username string
}

// Role is a named capability mask on one thread.
type Role struct {
	ID          int64
	ThreadID    int64
	Name        string
	Permissions permission.Mask
	IsDefault   bool
}

// Membership is a stored (thread, user) row. RoleID 0 means default role.
type Membership struct {
	ThreadID   int64
	UserID     uuid.UUID
	RoleID     int64
	Visible    bool
	Subscribed bool
}

// Member is a thread member as presented to a viewer.
type Member struct {
	UserID      uuid.UUID
	RoleID      int64
	Permissions permission.Set
}

// CurrentUser is the viewer's own standing on a thread.
type CurrentUser struct {
	Permissions permission.Set
	RoleID      int64
	Subscribed  bool
}

// Thread is a chat room / calendar feed.
type Thread struct {
	ID             int64
	Name           string
	Description    string
	Color          string
	Visibility     permission.Visibility
	EditRule       permission.EditRule
	CreationTime   int64 // unix ms
	ParentThreadID int64
	DefaultRoleID  int64
	MemberRoleID   int64 // role assigned on join
	CreatorID      uuid.UUID
	Roles          []Role
	Members        []Member
	CurrentUser    CurrentUser
}

// Node returns the permission-relevant projection of t and its roles.
func (t Thread) Node(roles []Role) permission.ThreadNode {
	n := permission.ThreadNode{
		ID:            t.ID,
		ParentID:      t.ParentThreadID,
		Visibility:    t.Visibility,
		EditRule:      t.EditRule,
		DefaultRoleID: t.DefaultRoleID,
		Roles:         make(map[int64]permission.Mask, len(roles)),
	}
	for _, r := range roles {
		n.Roles[r.ID] = r.Permissions
	}
	return n
}

// DirectorySnapshot is the raw thread/role/membership state read in one transaction.
type DirectorySnapshot struct {
	Threads     []Thread
	Roles       []Role
	Memberships []Membership
}

// Directory is what a viewer may know about threads and their users.
type Directory struct {
	Threads map[int64]Thread
	Users   map[uuid.UUID]UserInfo
}

// NewThread describes a thread to create.
type NewThread struct {
	Name           string
	Description    string
	Color          string
	Visibility     permission.Visibility
	EditRule       permission.EditRule
	ParentThreadID int64
	MemberIDs      []uuid.UUID
}

// RoleDraft is a role to create with a new thread.
type RoleDraft struct {
	Name        string
	Permissions permission.Mask
	Default     bool // assigned to users without an explicit role
	Member      bool // assigned on join and to added members
	Admin       bool // assigned to the creator
}

// ThreadDraft is a prepared thread. The repository allocates the thread
// and role ids.
type ThreadDraft struct {
	Thread    Thread
	Roles     []RoleDraft
	CreatorID uuid.UUID
	MemberIDs []uuid.UUID
}

// MembershipChange is one membership mutation and the timeline message
// recording it, applied atomically.
type MembershipChange struct {
	ThreadID int64
	Upsert   []Membership
	Remove   []uuid.UUID
	Message  NewMessage
}
