package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/squadcal/internal/errs"
	"github.com/and161185/squadcal/internal/model"
	"github.com/and161185/squadcal/internal/permission"
	"github.com/and161185/squadcal/internal/repository"
)

// Role templates of a new thread.
var (
	memberMask = permission.MaskOf(
		permission.KnowOf, permission.Visible, permission.Voiced, permission.EditEntries,
		permission.CreateSubthreads, permission.AddMembers, permission.LeaveThread,
	)
	openGuestMask = permission.MaskOf(permission.KnowOf, permission.Visible, permission.JoinThread)
)

// guestMask is the default role of a new thread.
func guestMask(vis permission.Visibility, edit permission.EditRule) permission.Mask {
	switch vis {
	case permission.VisibilityOpen, permission.VisibilityNestedOpen:
		if edit == permission.EditAnybody {
			return openGuestMask.With(permission.EditEntries)
		}
		return openGuestMask
	case permission.VisibilityClosed:
		return permission.MaskOf(permission.KnowOf)
	default:
		return 0
	}
}

// ThreadService applies thread and membership mutations. Every mutation
// is permission-checked first and records a timeline message atomically.
type ThreadService struct {
	threads repository.ThreadRepository
	log     *zap.Logger
	now     func() int64
}

// NewThreadService constructs ThreadService.
func NewThreadService(threads repository.ThreadRepository, log *zap.Logger) *ThreadService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ThreadService{threads: threads, log: log, now: nowMillis}
}

func loggedIn(v model.Viewer) error {
	if v.Anonymous || v.UserID == uuid.Nil {
		return fmt.Errorf("anonymous viewer: %w", errs.ErrUnauthorized)
	}
	return nil
}

func uniqueUsers(ids []uuid.UUID) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			return nil, invalid("empty user id")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

// Create makes a thread with Guests (default), Members and Admins roles.
// The creator becomes admin; a sub-thread needs CREATE_SUBTHREADS on the parent.
func (s *ThreadService) Create(ctx context.Context, v model.Viewer, nt model.NewThread) (model.Thread, []model.Message, error) {
	if err := loggedIn(v); err != nil {
		return model.Thread{}, nil, err
	}
	nt.Name = strings.TrimSpace(nt.Name)
	if nt.Name == "" {
		return model.Thread{}, nil, invalid("empty name")
	}
	if !nt.Visibility.Valid() || !nt.EditRule.Valid() {
		return model.Thread{}, nil, invalid("visibility %d / edit rule %d", nt.Visibility, nt.EditRule)
	}
	members, err := uniqueUsers(nt.MemberIDs)
	if err != nil {
		return model.Thread{}, nil, err
	}
	if nt.ParentThreadID != 0 {
		sc, err := loadScope(ctx, s.threads, nt.ParentThreadID)
		if err != nil {
			return model.Thread{}, nil, err
		}
		if _, err := sc.require(nt.ParentThreadID, v, permission.CreateSubthreads); err != nil {
			return model.Thread{}, nil, err
		}
	}

	d := model.ThreadDraft{
		Thread: model.Thread{
			Name:           nt.Name,
			Description:    nt.Description,
			Color:          nt.Color,
			Visibility:     nt.Visibility,
			EditRule:       nt.EditRule,
			ParentThreadID: nt.ParentThreadID,
		},
		Roles: []model.RoleDraft{
			{Name: "Guests", Permissions: guestMask(nt.Visibility, nt.EditRule), Default: true},
			{Name: "Members", Permissions: memberMask, Member: true},
			{Name: "Admins", Permissions: permission.AllMask, Admin: true},
		},
		CreatorID: v.UserID,
		MemberIDs: members,
	}
	th, msgs, err := s.threads.CreateThread(ctx, d, s.now())
	if err != nil {
		return model.Thread{}, nil, fmt.Errorf("create thread: %w", err)
	}
	s.log.Info("thread created", zap.Int64("thread", th.ID), zap.Int64("parent", th.ParentThreadID))
	return th, msgs, nil
}

// Join makes the viewer a visible member with the thread's member role.
func (s *ThreadService) Join(ctx context.Context, v model.Viewer, threadID int64) (model.Message, error) {
	sc, err := s.guard(ctx, v, threadID, permission.JoinThread)
	if err != nil {
		return model.Message{}, err
	}
	return s.apply(ctx, model.MembershipChange{
		ThreadID: threadID,
		Upsert: []model.Membership{{
			ThreadID: threadID, UserID: v.UserID, RoleID: sc.threads[threadID].MemberRoleID, Visible: true, Subscribed: true,
		}},
		Message: s.message(v, threadID, model.JoinThreadPayload{}),
	})
}

// Leave drops the viewer's membership.
func (s *ThreadService) Leave(ctx context.Context, v model.Viewer, threadID int64) (model.Message, error) {
	if _, err := s.guard(ctx, v, threadID, permission.LeaveThread); err != nil {
		return model.Message{}, err
	}
	return s.apply(ctx, model.MembershipChange{
		ThreadID: threadID,
		Remove:   []uuid.UUID{v.UserID},
		Message:  s.message(v, threadID, model.LeaveThreadPayload{}),
	})
}

// AddMembers adds users with the member role.
func (s *ThreadService) AddMembers(ctx context.Context, v model.Viewer, threadID int64, userIDs []uuid.UUID) (model.Message, error) {
	users, err := uniqueUsers(userIDs)
	if err != nil {
		return model.Message{}, err
	}
	if len(users) == 0 {
		return model.Message{}, invalid("no users")
	}
	sc, err := s.guard(ctx, v, threadID, permission.AddMembers)
	if err != nil {
		return model.Message{}, err
	}
	ch := model.MembershipChange{ThreadID: threadID, Message: s.message(v, threadID, model.AddMembersPayload{UserIDs: users})}
	for _, u := range users {
		m := model.Membership{ThreadID: threadID, UserID: u, RoleID: sc.threads[threadID].MemberRoleID, Visible: true, Subscribed: true}
		if cur, ok := sc.members[threadID][u]; ok && cur.RoleID != 0 {
			m.RoleID = cur.RoleID
		}
		ch.Upsert = append(ch.Upsert, m)
	}
	return s.apply(ctx, ch)
}

// RemoveMembers drops users from a thread.
func (s *ThreadService) RemoveMembers(ctx context.Context, v model.Viewer, threadID int64, userIDs []uuid.UUID) (model.Message, error) {
	users, err := uniqueUsers(userIDs)
	if err != nil {
		return model.Message{}, err
	}
	if len(users) == 0 {
		return model.Message{}, invalid("no users")
	}
	if _, err := s.guard(ctx, v, threadID, permission.RemoveMembers); err != nil {
		return model.Message{}, err
	}
	return s.apply(ctx, model.MembershipChange{
		ThreadID: threadID,
		Remove:   users,
		Message:  s.message(v, threadID, model.RemoveMembersPayload{UserIDs: users}),
	})
}

// ChangeRole assigns roleID, which must belong to the thread, to existing members.
func (s *ThreadService) ChangeRole(
	ctx context.Context, v model.Viewer, threadID int64, userIDs []uuid.UUID, roleID int64,
) (model.Message, error) {
	users, err := uniqueUsers(userIDs)
	if err != nil {
		return model.Message{}, err
	}
	if len(users) == 0 {
		return model.Message{}, invalid("no users")
	}
	sc, err := s.guard(ctx, v, threadID, permission.ChangeRole)
	if err != nil {
		return model.Message{}, err
	}
	if !sc.hasRole(threadID, roleID) {
		return model.Message{}, invalid("role %d not on thread %d", roleID, threadID)
	}
	ch := model.MembershipChange{
		ThreadID: threadID,
		Message:  s.message(v, threadID, model.ChangeRolePayload{UserIDs: users, NewRole: roleID}),
	}
	for _, u := range users {
		cur, ok := sc.members[threadID][u]
		if !ok {
			return model.Message{}, invalid("user %s is not a member", u)
		}
		cur.RoleID = roleID
		ch.Upsert = append(ch.Upsert, cur)
	}
	return s.apply(ctx, ch)
}

// ChangeSettings updates name, description or color.
func (s *ThreadService) ChangeSettings(
	ctx context.Context, v model.Viewer, threadID int64, field, value string,
) (model.Message, error) {
	switch field {
	case "name":
		value = strings.TrimSpace(value)
		if value == "" {
			return model.Message{}, invalid("empty name")
		}
	case "description", "color":
	default:
		return model.Message{}, invalid("setting %q", field)
	}
	if _, err := s.guard(ctx, v, threadID, permission.EditThread); err != nil {
		return model.Message{}, err
	}
	p := model.ChangeSettingsPayload{Field: field, Value: value}
	msg, err := s.threads.ChangeSettings(ctx, threadID, p, s.message(v, threadID, p))
	if err != nil {
		return model.Message{}, fmt.Errorf("change settings: %w", err)
	}
	return msg, nil
}

func (s *ThreadService) guard(ctx context.Context, v model.Viewer, threadID int64, c permission.Capability) (*scope, error) {
	if err := loggedIn(v); err != nil {
		return nil, err
	}
	if threadID <= 0 {
		return nil, invalid("thread id")
	}
	sc, err := loadScope(ctx, s.threads, threadID)
	if err != nil {
		return nil, err
	}
	if _, err := sc.require(threadID, v, c); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *ThreadService) message(v model.Viewer, threadID int64, p model.Payload) model.NewMessage {
	return model.NewMessage{ThreadID: threadID, CreatorID: v.UserID, Time: s.now(), Payload: p}
}

func (s *ThreadService) apply(ctx context.Context, ch model.MembershipChange) (model.Message, error) {
	msg, err := s.threads.ChangeMemberships(ctx, ch)
	if err != nil {
		return model.Message{}, fmt.Errorf("%s: %w", ch.Message.Payload.MessageType(), err)
	}
	return msg, nil
}
