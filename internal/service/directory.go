package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/squadcal/internal/model"
	"github.com/and161185/squadcal/internal/permission"
	"github.com/and161185/squadcal/internal/repository"
)

// DirectoryService builds the per-viewer thread directory.
type DirectoryService struct {
	threads repository.ThreadRepository
	users   UserLookup
	log     *zap.Logger
}

// NewDirectoryService constructs DirectoryService.
func NewDirectoryService(threads repository.ThreadRepository, users UserLookup, log *zap.Logger) *DirectoryService {
	if log == nil {
		log = zap.NewNop()
	}
	return &DirectoryService{threads: threads, users: users, log: log}
}

// Build returns every thread the viewer resolves KNOW_OF on, with roles,
// members and the viewer's own permissions, plus the referenced users.
// Any failure fails the whole call.
func (s *DirectoryService) Build(ctx context.Context, v model.Viewer) (model.Directory, error) {
	snap, err := s.threads.LoadDirectory(ctx)
	if err != nil {
		return model.Directory{}, fmt.Errorf("load directory: %w", err)
	}
	sc, err := newScope(snap)
	if err != nil {
		return model.Directory{}, err
	}

	dir := model.Directory{Threads: make(map[int64]model.Thread)}
	var userIDs []uuid.UUID
	for _, id := range sc.graph.ThreadIDs() {
		set := sc.graph.Resolve(id, v)
		if !set.Has(permission.KnowOf) {
			continue
		}
		t := sc.threads[id]
		t.Roles = sc.roles[id]
		t.Members = s.members(sc, t)
		t.CurrentUser = model.CurrentUser{Permissions: set, RoleID: t.DefaultRoleID}
		if m, ok := sc.members[id][v.UserID]; ok && !v.Anonymous {
			if m.RoleID != 0 {
				t.CurrentUser.RoleID = m.RoleID
			}
			t.CurrentUser.Subscribed = m.Subscribed
		}
		for _, m := range t.Members {
			userIDs = append(userIDs, m.UserID)
		}
		if t.CreatorID != uuid.Nil {
			userIDs = append(userIDs, t.CreatorID)
		}
		dir.Threads[id] = t
	}

	dir.Users, err = s.users.Lookup(ctx, userIDs)
	if err != nil {
		return model.Directory{}, err
	}
	s.log.Debug("directory built",
		zap.Int("threads", len(dir.Threads)),
		zap.Int("users", len(dir.Users)),
	)
	return dir, nil
}

// members lists joined members and invisible rows that can change roles.
func (s *DirectoryService) members(sc *scope, t model.Thread) []model.Member {
	var out []model.Member
	for _, a := range sc.graph.Members(t.ID) {
		set := sc.graph.Resolve(t.ID, permission.LoggedIn(a.UserID))
		if !a.Visible && !set.Has(permission.ChangeRole) {
			continue
		}
		roleID := a.RoleID
		if roleID == 0 {
			roleID = t.DefaultRoleID
		}
		out = append(out, model.Member{UserID: a.UserID, RoleID: roleID, Permissions: set})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out
}
