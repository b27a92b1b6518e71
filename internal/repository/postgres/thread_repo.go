package postgres

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/squadcal/internal/errs"
	"github.com/and161185/squadcal/internal/model"
	"github.com/and161185/squadcal/internal/permission"
)

// ThreadRepo implements ThreadRepository using PostgreSQL.
type ThreadRepo struct{ db *DB }

// NewThreadRepo constructs a thread repository.
func NewThreadRepo(db *DB) *ThreadRepo { return &ThreadRepo{db: db} }

// maxThreadDepth bounds the ancestor walk in SQL; deeper chains are cut.
const maxThreadDepth = 64

const (
	selThreads = `
SELECT id, name, description, color, visibility, edit_rule, creation_time,
  COALESCE(parent_thread_id, 0), default_role_id, COALESCE(member_role_id, 0), creator_id
FROM threads`
	selRoles       = `SELECT id, thread_id, name, permissions FROM roles`
	selMemberships = `SELECT thread_id, user_id, COALESCE(role_id, 0), visible, subscribed FROM memberships`

	selChain = `
WITH RECURSIVE chain(id, depth) AS (
  SELECT id, 0 FROM threads WHERE id = ANY($1)
  UNION
  SELECT t.parent_thread_id, c.depth + 1
  FROM threads t JOIN chain c ON t.id = c.id
  WHERE t.parent_thread_id IS NOT NULL AND c.depth < $2
)
SELECT DISTINCT id FROM chain`

	upsertMembership = `
INSERT INTO memberships (thread_id, user_id, role_id, visible, subscribed)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (thread_id, user_id)
DO UPDATE SET role_id=EXCLUDED.role_id, visible=EXCLUDED.visible, subscribed=EXCLUDED.subscribed`
	delMembership = `DELETE FROM memberships WHERE thread_id=$1 AND user_id=$2`

	selJoined = `
SELECT m.thread_id FROM memberships m
JOIN threads t ON t.id = m.thread_id
WHERE m.user_id = $1 AND m.role_id IS NOT NULL AND (m.visible OR t.visibility IN (0, 3))
ORDER BY m.thread_id`
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// LoadDirectory reads the whole thread hierarchy in one repeatable-read snapshot.
func (r *ThreadRepo) LoadDirectory(ctx context.Context) (snap model.DirectorySnapshot, err error) {
	err = r.db.inTx(ctx, readSnapshot, func(tx pgx.Tx) error {
		snap, err = loadSnapshot(ctx, tx,
			selThreads+` ORDER BY id`,
			selRoles+` ORDER BY thread_id, id`,
			selMemberships+` ORDER BY thread_id, user_id`,
		)
		return err
	})
	return snap, err
}

// JoinedThreads uses the same row filter as the joined-threads message fetch.
func (r *ThreadRepo) JoinedThreads(ctx context.Context, userID uuid.UUID) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx, selJoined, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// LoadAccess reads the given threads and all their ancestors.
func (r *ThreadRepo) LoadAccess(ctx context.Context, threadIDs []int64) (snap model.DirectorySnapshot, err error) {
	if len(threadIDs) == 0 {
		return model.DirectorySnapshot{}, nil
	}
	err = r.db.inTx(ctx, readSnapshot, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, selChain, threadIDs, maxThreadDepth)
		if err != nil {
			return err
		}
		chain, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return err
		}
		if len(chain) == 0 {
			return nil
		}
		snap, err = loadSnapshot(ctx, tx,
			selThreads+` WHERE id = ANY($1) ORDER BY id`,
			selRoles+` WHERE thread_id = ANY($1) ORDER BY thread_id, id`,
			selMemberships+` WHERE thread_id = ANY($1) ORDER BY thread_id, user_id`,
			chain,
		)
		return err
	})
	return snap, err
}

func loadSnapshot(ctx context.Context, q querier, thrSQL, roleSQL, memSQL string, args ...any) (model.DirectorySnapshot, error) {
	var snap model.DirectorySnapshot

	rows, err := q.Query(ctx, thrSQL, args...)
	if err != nil {
		return snap, err
	}
	defaults := make(map[int64]int64)
	for rows.Next() {
		var (
			t       model.Thread
			vis     int16
			edit    int16
			creator uuid.NullUUID
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Color, &vis, &edit, &t.CreationTime,
			&t.ParentThreadID, &t.DefaultRoleID, &t.MemberRoleID, &creator); err != nil {
			rows.Close()
			return snap, err
		}
		t.Visibility = permission.Visibility(vis)
		t.EditRule = permission.EditRule(edit)
		t.CreatorID = creator.UUID
		defaults[t.ID] = t.DefaultRoleID
		snap.Threads = append(snap.Threads, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	rows, err = q.Query(ctx, roleSQL, args...)
	if err != nil {
		return snap, err
	}
	for rows.Next() {
		var (
			role model.Role
			mask int64
		)
		if err := rows.Scan(&role.ID, &role.ThreadID, &role.Name, &mask); err != nil {
			rows.Close()
			return snap, err
		}
		role.Permissions = permission.Mask(mask)
		role.IsDefault = defaults[role.ThreadID] == role.ID
		snap.Roles = append(snap.Roles, role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return snap, err
	}

	rows, err = q.Query(ctx, memSQL, args...)
	if err != nil {
		return snap, err
	}
	defer rows.Close()
	for rows.Next() {
		var m model.Membership
		if err := rows.Scan(&m.ThreadID, &m.UserID, &m.RoleID, &m.Visible, &m.Subscribed); err != nil {
			return snap, err
		}
		snap.Memberships = append(snap.Memberships, m)
	}
	return snap, rows.Err()
}

// CreateThread allocates ids and inserts the thread, its roles, initial
// memberships and the CREATE_THREAD / CREATE_SUB_THREAD messages atomically.
func (r *ThreadRepo) CreateThread(
	ctx context.Context, d model.ThreadDraft, now int64,
) (th model.Thread, msgs []model.Message, err error) {
	err = r.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		ids, err := allocIDs(ctx, tx, 1+len(d.Roles))
		if err != nil {
			return err
		}
		th = d.Thread
		th.ID = ids[0]
		th.CreationTime = now
		th.CreatorID = d.CreatorID
		th.Roles = make([]model.Role, 0, len(d.Roles))
		var adminRole int64
		for i, rd := range d.Roles {
			role := model.Role{ID: ids[i+1], ThreadID: th.ID, Name: rd.Name, Permissions: rd.Permissions, IsDefault: rd.Default}
			switch {
			case rd.Default:
				th.DefaultRoleID = role.ID
			case rd.Admin:
				adminRole = role.ID
			}
			if rd.Member {
				th.MemberRoleID = role.ID
			}
			th.Roles = append(th.Roles, role)
		}
		if th.DefaultRoleID == 0 {
			return fmt.Errorf("thread draft without default role: %w", errs.ErrInvalidParameters)
		}

		const insThread = `
INSERT INTO threads (id, name, description, color, visibility, edit_rule, creation_time,
  parent_thread_id, default_role_id, member_role_id, creator_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
		if _, err := tx.Exec(ctx, insThread, th.ID, th.Name, th.Description, th.Color,
			int16(th.Visibility), int16(th.EditRule), now, nullID(th.ParentThreadID),
			th.DefaultRoleID, nullID(th.MemberRoleID), nullUUID(d.CreatorID)); err != nil {
			return err
		}

		const insRole = `INSERT INTO roles (id, thread_id, name, permissions, creation_time) VALUES ($1, $2, $3, $4, $5)`
		for _, role := range th.Roles {
			if _, err := tx.Exec(ctx, insRole, role.ID, th.ID, role.Name, int64(role.Permissions), now); err != nil {
				return err
			}
		}

		var memberIDs []uuid.UUID
		if d.CreatorID != uuid.Nil {
			roleID := adminRole
			if roleID == 0 {
				roleID = th.MemberRoleID
			}
			if _, err := tx.Exec(ctx, upsertMembership, th.ID, d.CreatorID, nullID(roleID), true, true); err != nil {
				return err
			}
			memberIDs = append(memberIDs, d.CreatorID)
		}
		for _, u := range d.MemberIDs {
			if u == d.CreatorID {
				continue
			}
			if _, err := tx.Exec(ctx, upsertMembership, th.ID, u, nullID(th.MemberRoleID), true, true); err != nil {
				return err
			}
			memberIDs = append(memberIDs, u)
		}

		news := []model.NewMessage{{
			ThreadID:  th.ID,
			CreatorID: d.CreatorID,
			Time:      now,
			Payload: model.CreateThreadPayload{
				Name:           th.Name,
				Description:    th.Description,
				Color:          th.Color,
				Visibility:     th.Visibility,
				EditRule:       th.EditRule,
				ParentThreadID: th.ParentThreadID,
				MemberIDs:      memberIDs,
			},
		}}
		if th.ParentThreadID != 0 {
			news = append(news, model.NewMessage{
				ThreadID:  th.ParentThreadID,
				CreatorID: d.CreatorID,
				Time:      now,
				Payload:   model.CreateSubThreadPayload{ChildThreadID: th.ID},
			})
		}
		msgs, err = insertMessages(ctx, tx, news)
		return err
	})
	if err != nil {
		return model.Thread{}, nil, err
	}
	return th, msgs, nil
}

// ChangeMemberships applies upserts and removals and records the message.
func (r *ThreadRepo) ChangeMemberships(ctx context.Context, ch model.MembershipChange) (msg model.Message, err error) {
	err = r.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, m := range ch.Upsert {
			if _, err := tx.Exec(ctx, upsertMembership, ch.ThreadID, m.UserID, nullID(m.RoleID), m.Visible, m.Subscribed); err != nil {
				return err
			}
		}
		for _, u := range ch.Remove {
			if _, err := tx.Exec(ctx, delMembership, ch.ThreadID, u); err != nil {
				return err
			}
		}
		ms, err := insertMessages(ctx, tx, []model.NewMessage{ch.Message})
		if err != nil {
			return err
		}
		msg = ms[0]
		return nil
	})
	return msg, err
}

var settingColumns = map[string]string{
	"name":        "name",
	"description": "description",
	"color":       "color",
}

// ChangeSettings updates a whitelisted thread column.
func (r *ThreadRepo) ChangeSettings(
	ctx context.Context, threadID int64, p model.ChangeSettingsPayload, nm model.NewMessage,
) (msg model.Message, err error) {
	col, ok := settingColumns[p.Field]
	if !ok {
		return model.Message{}, fmt.Errorf("setting %q: %w", p.Field, errs.ErrInvalidParameters)
	}
	err = r.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE threads SET `+col+`=$2 WHERE id=$1`, threadID, p.Value)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrNotFound
		}
		ms, err := insertMessages(ctx, tx, []model.NewMessage{nm})
		if err != nil {
			return err
		}
		msg = ms[0]
		return nil
	})
	return msg, err
}

func allocIDs(ctx context.Context, tx pgx.Tx, n int) ([]int64, error) {
	rows, err := tx.Query(ctx, `SELECT nextval('ids') FROM generate_series(1, $1)`, n)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	if len(ids) != n {
		return nil, fmt.Errorf("allocated %d ids, want %d", len(ids), n)
	}
	return ids, nil
}
