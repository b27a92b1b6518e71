// Package permission resolves per-thread capabilities for a viewer from
// thread visibility, edit rules, role assignments and the parent hierarchy.
package permission

import (
	"strings"

	"github.com/gofrs/uuid/v5"
)

// Capability is one permission a viewer may hold on a thread.
type Capability uint8

const (
	KnowOf Capability = iota
	Visible
	Voiced
	EditEntries
	EditThread
	RemoveThread
	CreateSubthreads
	JoinThread
	AddMembers
	RemoveMembers
	ChangeRole
	LeaveThread

	numCapabilities
)

var capabilityNames = [numCapabilities]string{
	KnowOf:           "know_of",
	Visible:          "visible",
	Voiced:           "voiced",
	EditEntries:      "edit_entries",
	EditThread:       "edit_thread",
	RemoveThread:     "remove_thread",
	CreateSubthreads: "create_subthreads",
	JoinThread:       "join_thread",
	AddMembers:       "add_members",
	RemoveMembers:    "remove_members",
	ChangeRole:       "change_role",
	LeaveThread:      "leave_thread",
}

func (c Capability) String() string {
	if c >= numCapabilities {
		return "unknown"
	}
	return capabilityNames[c]
}

// Capabilities returns every capability in declaration order.
func Capabilities() []Capability {
	out := make([]Capability, numCapabilities)
	for i := range out {
		out[i] = Capability(i)
	}
	return out
}

// ParseCapability maps a wire name back to a capability.
func ParseCapability(s string) (Capability, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range capabilityNames {
		if n == s {
			return Capability(i), true
		}
	}
	return 0, false
}

// Mask is a bitset of capabilities as stored on a role.
type Mask uint32

// AllMask holds every capability.
const AllMask Mask = 1<<numCapabilities - 1

// MaskOf builds a mask from the given capabilities.
func MaskOf(caps ...Capability) Mask {
	var m Mask
	for _, c := range caps {
		m = m.With(c)
	}
	return m
}

// Has reports whether c is set.
func (m Mask) Has(c Capability) bool { return c < numCapabilities && m&(1<<c) != 0 }

// With returns m with c set.
func (m Mask) With(c Capability) Mask { return m | 1<<c }

// Without returns m with c cleared.
func (m Mask) Without(c Capability) Mask { return m &^ (1 << c) }

// Valid reports whether m only uses known capability bits.
func (m Mask) Valid() bool { return m&^AllMask == 0 }

// Source records why a capability was granted.
type Source uint8

const (
	SourceNone Source = iota
	SourceOpenVisibility
	SourceRole
	SourceAncestor
)

func (s Source) String() string {
	switch s {
	case SourceOpenVisibility:
		return "open-visibility"
	case SourceRole:
		return "role"
	case SourceAncestor:
		return "ancestor"
	default:
		return "none"
	}
}

// Grant is the resolved value of one capability.
type Grant struct {
	Granted bool
	Source  Source
}

// Set is the resolved capability set, indexed by Capability.
type Set [numCapabilities]Grant

// Has reports whether c was granted.
func (s Set) Has(c Capability) bool { return c < numCapabilities && s[c].Granted }

// Mask flattens the set into a bitset.
func (s Set) Mask() Mask {
	var m Mask
	for i, g := range s {
		if g.Granted {
			m = m.With(Capability(i))
		}
	}
	return m
}

func (s *Set) grant(c Capability, src Source) { s[c] = Grant{Granted: true, Source: src} }

// Viewer identifies who permissions are resolved for.
type Viewer struct {
	UserID    uuid.UUID
	Anonymous bool
}

// AnonymousViewer returns the viewer for requests without credentials.
func AnonymousViewer() Viewer { return Viewer{Anonymous: true} }

// LoggedIn returns the viewer for an authenticated user.
func LoggedIn(id uuid.UUID) Viewer { return Viewer{UserID: id} }
