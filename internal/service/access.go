// Package service implements the thread directory, synchronization, entry,
// thread-mutation and authentication use cases on top of the repositories.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/squadcal/internal/errs"
	"github.com/and161185/squadcal/internal/model"
	"github.com/and161185/squadcal/internal/permission"
	"github.com/and161185/squadcal/internal/repository"
)

// UserLookup resolves user ids in one batch.
type UserLookup interface {
	Lookup(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.UserInfo, error)
}

// scope is a thread/role/membership snapshot with its permission graph.
type scope struct {
	graph   *permission.Graph
	threads map[int64]model.Thread
	roles   map[int64][]model.Role
	members map[int64]map[uuid.UUID]model.Membership
}

func newScope(snap model.DirectorySnapshot) (*scope, error) {
	s := &scope{
		threads: make(map[int64]model.Thread, len(snap.Threads)),
		roles:   make(map[int64][]model.Role),
		members: make(map[int64]map[uuid.UUID]model.Membership),
	}
	for _, r := range snap.Roles {
		s.roles[r.ThreadID] = append(s.roles[r.ThreadID], r)
	}
	nodes := make([]permission.ThreadNode, 0, len(snap.Threads))
	for _, t := range snap.Threads {
		s.threads[t.ID] = t
		nodes = append(nodes, t.Node(s.roles[t.ID]))
	}
	as := make([]permission.Assignment, 0, len(snap.Memberships))
	for _, m := range snap.Memberships {
		if s.members[m.ThreadID] == nil {
			s.members[m.ThreadID] = make(map[uuid.UUID]model.Membership)
		}
		s.members[m.ThreadID][m.UserID] = m
		as = append(as, permission.Assignment{ThreadID: m.ThreadID, UserID: m.UserID, RoleID: m.RoleID, Visible: m.Visible})
	}
	g, err := permission.NewGraph(nodes, as)
	if err != nil {
		return nil, err
	}
	s.graph = g
	return s, nil
}

func loadScope(ctx context.Context, threads repository.ThreadRepository, ids ...int64) (*scope, error) {
	snap, err := threads.LoadAccess(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load threads: %w", err)
	}
	return newScope(snap)
}

// require fails with ErrNotFound when the viewer cannot know the thread
// exists, and with ErrPermissionDenied when a capability is missing.
func (s *scope) require(threadID int64, v model.Viewer, caps ...permission.Capability) (permission.Set, error) {
	set := s.graph.Resolve(threadID, v)
	if !set.Has(permission.KnowOf) {
		return set, fmt.Errorf("thread %d: %w", threadID, errs.ErrNotFound)
	}
	for _, c := range caps {
		if !set.Has(c) {
			return set, fmt.Errorf("thread %d: %s: %w", threadID, c, errs.ErrPermissionDenied)
		}
	}
	return set, nil
}

func (s *scope) hasRole(threadID, roleID int64) bool {
	for _, r := range s.roles[threadID] {
		if r.ID == roleID {
			return true
		}
	}
	return false
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func invalid(format string, args ...any) error {
	return fmt.Errorf("validation: "+format+": %w", append(args, errs.ErrInvalidParameters)...)
}
