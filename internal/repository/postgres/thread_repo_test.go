package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/gofrs/uuid/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/squadcal/internal/errs"
	"github.com/and161185/squadcal/internal/model"
	"github.com/and161185/squadcal/internal/permission"
)

var (
	threadCols = []string{"id", "name", "description", "color", "visibility", "edit_rule", "creation_time",
		"parent_thread_id", "default_role_id", "member_role_id", "creator_id"}
	roleCols       = []string{"id", "thread_id", "name", "permissions"}
	membershipCols = []string{"thread_id", "user_id", "role_id", "visible", "subscribed"}
)

func TestThreadRepo_LoadDirectory(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewThreadRepo(db)
	user := uuid.Must(uuid.NewV4())

	mock.ExpectBeginTx(readSnapshot)
	mock.ExpectQuery(`FROM threads ORDER BY id`).
		WillReturnRows(pgxmock.NewRows(threadCols).
			AddRow(int64(1), "general", "", "ff0000", int16(0), int16(1), int64(1000), int64(0), int64(2), int64(3), uuid.NullUUID{UUID: user, Valid: true}).
			AddRow(int64(4), "sub", "d", "", int16(2), int16(0), int64(2000), int64(1), int64(5), int64(0), uuid.NullUUID{}))
	mock.ExpectQuery(`SELECT id, thread_id, name, permissions FROM roles ORDER BY thread_id, id`).
		WillReturnRows(pgxmock.NewRows(roleCols).
			AddRow(int64(2), int64(1), "Guests", int64(permission.MaskOf(permission.KnowOf))).
			AddRow(int64(3), int64(1), "Members", int64(permission.AllMask)).
			AddRow(int64(5), int64(4), "Guests", int64(0)))
	mock.ExpectQuery(`FROM memberships ORDER BY thread_id, user_id`).
		WillReturnRows(pgxmock.NewRows(membershipCols).
			AddRow(int64(1), user, int64(3), true, true))
	mock.ExpectCommit()

	snap, err := r.LoadDirectory(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Threads, 2)
	require.Equal(t, permission.EditLoggedIn, snap.Threads[0].EditRule)
	require.Equal(t, user, snap.Threads[0].CreatorID)
	require.Equal(t, uuid.Nil, snap.Threads[1].CreatorID)
	require.Equal(t, int64(1), snap.Threads[1].ParentThreadID)
	require.True(t, snap.Roles[0].IsDefault)
	require.False(t, snap.Roles[1].IsDefault)
	require.Equal(t, permission.AllMask, snap.Roles[1].Permissions)
	require.Equal(t, []model.Membership{{ThreadID: 1, UserID: user, RoleID: 3, Visible: true, Subscribed: true}}, snap.Memberships)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThreadRepo_JoinedThreads(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewThreadRepo(db)
	user := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`m.role_id IS NOT NULL AND \(m.visible OR t.visibility IN \(0, 3\)\)`).
		WithArgs(user).
		WillReturnRows(pgxmock.NewRows([]string{"thread_id"}).AddRow(int64(1)).AddRow(int64(4)))

	ids, err := r.JoinedThreads(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 4}, ids)

	mock.ExpectQuery(`FROM memberships m`).WithArgs(user).WillReturnError(errors.New("down"))
	_, err = r.JoinedThreads(context.Background(), user)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThreadRepo_LoadDirectory_FailureIsAtomic(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewThreadRepo(db)

	mock.ExpectBeginTx(readSnapshot)
	mock.ExpectQuery(`FROM threads ORDER BY id`).
		WillReturnRows(pgxmock.NewRows(threadCols).
			AddRow(int64(1), "general", "", "", int16(0), int16(0), int64(1000), int64(0), int64(2), int64(0), uuid.NullUUID{}))
	mock.ExpectQuery(`FROM roles`).WillReturnError(errors.New("conn reset"))
	mock.ExpectRollback()

	_, err := r.LoadDirectory(context.Background())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThreadRepo_LoadAccess_WalksAncestors(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewThreadRepo(db)

	mock.ExpectBeginTx(readSnapshot)
	mock.ExpectQuery(`WITH RECURSIVE chain`).
		WithArgs([]int64{7}, maxThreadDepth).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)).AddRow(int64(1)))
	mock.ExpectQuery(`FROM threads WHERE id = ANY\(\$1\)`).
		WithArgs([]int64{7, 1}).
		WillReturnRows(pgxmock.NewRows(threadCols).
			AddRow(int64(1), "root", "", "", int16(1), int16(0), int64(1), int64(0), int64(2), int64(0), uuid.NullUUID{}).
			AddRow(int64(7), "leaf", "", "", int16(2), int16(0), int64(2), int64(1), int64(8), int64(0), uuid.NullUUID{}))
	mock.ExpectQuery(`FROM roles WHERE thread_id = ANY\(\$1\)`).
		WithArgs([]int64{7, 1}).
		WillReturnRows(pgxmock.NewRows(roleCols))
	mock.ExpectQuery(`FROM memberships WHERE thread_id = ANY\(\$1\)`).
		WithArgs([]int64{7, 1}).
		WillReturnRows(pgxmock.NewRows(membershipCols))
	mock.ExpectCommit()

	snap, err := r.LoadAccess(context.Background(), []int64{7})
	require.NoError(t, err)
	require.Len(t, snap.Threads, 2)

	snap, err = r.LoadAccess(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, snap.Threads)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThreadRepo_CreateThread_SubThread(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewThreadRepo(db)
	creator := uuid.Must(uuid.NewV4())
	friend := uuid.Must(uuid.NewV4())
	now := int64(1_700_000_000_000)

	d := model.ThreadDraft{
		Thread: model.Thread{Name: "trip", Visibility: permission.VisibilityClosed, ParentThreadID: 1},
		Roles: []model.RoleDraft{
			{Name: "Guests", Permissions: permission.MaskOf(permission.KnowOf), Default: true},
			{Name: "Members", Permissions: permission.MaskOf(permission.KnowOf, permission.Visible), Member: true},
			{Name: "Admins", Permissions: permission.AllMask, Admin: true},
		},
		CreatorID: creator,
		MemberIDs: []uuid.UUID{friend, creator},
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT nextval\('ids'\) FROM generate_series\(1, \$1\)`).
		WithArgs(4).
		WillReturnRows(pgxmock.NewRows([]string{"nextval"}).
			AddRow(int64(10)).AddRow(int64(11)).AddRow(int64(12)).AddRow(int64(13)))
	mock.ExpectExec(`INSERT INTO threads`).
		WithArgs(int64(10), "trip", "", "", int16(1), int16(0), now,
			pgxmock.AnyArg(), int64(11), pgxmock.AnyArg(), nullUUID(creator)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	for _, id := range []int64{11, 12, 13} {
		mock.ExpectExec(`INSERT INTO roles`).
			WithArgs(id, int64(10), pgxmock.AnyArg(), pgxmock.AnyArg(), now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectExec(`INSERT INTO memberships`).
		WithArgs(int64(10), creator, pgxmock.AnyArg(), true, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO memberships`).
		WithArgs(int64(10), friend, pgxmock.AnyArg(), true, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(int64(10), nullUUID(creator), int16(model.MessageCreateThread), pgxmock.AnyArg(), now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(14)))
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(int64(1), nullUUID(creator), int16(model.MessageCreateSubThread), pgxmock.AnyArg(), now).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(15)))
	mock.ExpectCommit()

	th, msgs, err := r.CreateThread(context.Background(), d, now)
	require.NoError(t, err)
	require.Equal(t, int64(10), th.ID)
	require.Equal(t, int64(11), th.DefaultRoleID)
	require.Equal(t, int64(12), th.MemberRoleID)
	require.Len(t, th.Roles, 3)
	require.Len(t, msgs, 2)
	cp, ok := msgs[0].Payload.(model.CreateThreadPayload)
	require.True(t, ok)
	require.Equal(t, []uuid.UUID{creator, friend}, cp.MemberIDs)
	require.Equal(t, model.CreateSubThreadPayload{ChildThreadID: 10}, msgs[1].Payload)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThreadRepo_CreateThread_RollsBackOnMessageFailure(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewThreadRepo(db)

	d := model.ThreadDraft{
		Thread: model.Thread{Name: "t"},
		Roles:  []model.RoleDraft{{Name: "Guests", Default: true}},
	}
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT nextval`).WithArgs(2).
		WillReturnRows(pgxmock.NewRows([]string{"nextval"}).AddRow(int64(1)).AddRow(int64(2)))
	mock.ExpectExec(`INSERT INTO threads`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO roles`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`INSERT INTO messages`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, _, err := r.CreateThread(context.Background(), d, 5)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThreadRepo_ChangeMemberships(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewThreadRepo(db)
	joiner, leaver := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO memberships`).
		WithArgs(int64(3), joiner, pgxmock.AnyArg(), true, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM memberships WHERE thread_id=\$1 AND user_id=\$2`).
		WithArgs(int64(3), leaver).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(int64(3), nullUUID(joiner), int16(model.MessageJoinThread), pgxmock.AnyArg(), int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(77)))
	mock.ExpectCommit()

	msg, err := r.ChangeMemberships(context.Background(), model.MembershipChange{
		ThreadID: 3,
		Upsert:   []model.Membership{{UserID: joiner, RoleID: 4, Visible: true, Subscribed: true}},
		Remove:   []uuid.UUID{leaver},
		Message:  model.NewMessage{ThreadID: 3, CreatorID: joiner, Time: 9, Payload: model.JoinThreadPayload{}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(77), msg.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThreadRepo_ChangeSettings(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewThreadRepo(db)
	ctx := context.Background()

	_, err := r.ChangeSettings(ctx, 1, model.ChangeSettingsPayload{Field: "visibility", Value: "0"}, model.NewMessage{})
	require.ErrorIs(t, err, errs.ErrInvalidParameters)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE threads SET color=\$2 WHERE id=\$1`).
		WithArgs(int64(1), "00ff00").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()
	p := model.ChangeSettingsPayload{Field: "color", Value: "00ff00"}
	_, err = r.ChangeSettings(ctx, 1, p, model.NewMessage{ThreadID: 1, Payload: p})
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
