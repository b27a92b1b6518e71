package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/squadcal/internal/model"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Rows are visible when the viewer joined (visible membership) or the thread
// is open-class. Selection is either "threads where the viewer holds a role"
// or explicit (thread, cursor) pairs; cursor 0 means newest.
const (
	fetchInitialSQL = `
SELECT id, thread_id, user_id, type, content, time FROM (
  SELECT m.id, m.thread_id, m.user_id, m.type, m.content, m.time,
    ROW_NUMBER() OVER (PARTITION BY m.thread_id ORDER BY m.id DESC) AS rn
  FROM messages m
  JOIN threads t ON t.id = m.thread_id
  LEFT JOIN memberships mm ON mm.thread_id = m.thread_id AND mm.user_id = $1
  LEFT JOIN unnest($3::bigint[], $4::bigint[]) AS sel(thread_id, cur) ON sel.thread_id = m.thread_id
  WHERE (COALESCE(mm.visible, false) OR t.visibility IN (0, 3))
    AND (($2 AND mm.role_id IS NOT NULL AND sel.thread_id IS NULL)
      OR (sel.thread_id IS NOT NULL AND (sel.cur = 0 OR m.id < sel.cur)))
) x
WHERE rn <= $5
ORDER BY thread_id, id DESC`

	fetchSinceSQL = `
SELECT id, thread_id, user_id, type, content, time FROM (
  SELECT m.id, m.thread_id, m.user_id, m.type, m.content, m.time,
    ROW_NUMBER() OVER (PARTITION BY m.thread_id ORDER BY m.time DESC, m.id DESC) AS rn,
    bool_or(m.type = 1) OVER (PARTITION BY m.thread_id) AS has_create
  FROM messages m
  JOIN threads t ON t.id = m.thread_id
  LEFT JOIN memberships mm ON mm.thread_id = m.thread_id AND mm.user_id = $1
  LEFT JOIN unnest($3::bigint[]) AS sel(thread_id) ON sel.thread_id = m.thread_id
  WHERE (COALESCE(mm.visible, false) OR t.visibility IN (0, 3))
    AND m.time > $4
    AND (($2 AND mm.role_id IS NOT NULL) OR sel.thread_id IS NOT NULL)
) x
WHERE rn <= $5 OR has_create
ORDER BY thread_id, time DESC, id DESC`

	insMessage = `
INSERT INTO messages (thread_id, user_id, type, content, time)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`

	// A resent create finds the row stored by the first attempt.
	insKeyedMessage = `
INSERT INTO messages (thread_id, user_id, type, content, time, local_id, session_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, session_id, local_id) WHERE local_id IS NOT NULL DO NOTHING
RETURNING id`
	selKeyedMessage = `SELECT id, thread_id, time FROM messages WHERE user_id=$1 AND session_id=$2 AND local_id=$3`
)

// FetchInitial returns up to limit+1 rows per selected thread so the caller
// can tell "exactly limit" from "more than limit".
func (r *MessageRepo) FetchInitial(
	ctx context.Context, v model.Viewer, sel model.ThreadSelection, limit int,
) ([]model.MessageRow, error) {
	threads := sel.ThreadIDs()
	cursors := make([]int64, len(threads))
	for i, id := range threads {
		cursors[i] = sel.Cursors[id]
	}
	rows, err := r.db.Pool.Query(ctx, fetchInitialSQL,
		viewerArg(v.UserID, v.Anonymous), sel.AllJoined, threads, cursors, limit+1)
	if err != nil {
		return nil, err
	}
	return scanMessageRows(rows)
}

// FetchSince returns up to limit+1 rows per selected thread newer than since,
// or every new row of threads created after since.
func (r *MessageRepo) FetchSince(
	ctx context.Context, v model.Viewer, sel model.ThreadSelection, since int64, limit int,
) ([]model.MessageRow, error) {
	rows, err := r.db.Pool.Query(ctx, fetchSinceSQL,
		viewerArg(v.UserID, v.Anonymous), sel.AllJoined, sel.ThreadIDs(), since, limit+1)
	if err != nil {
		return nil, err
	}
	return scanMessageRows(rows)
}

func scanMessageRows(rows pgx.Rows) ([]model.MessageRow, error) {
	defer rows.Close()
	var out []model.MessageRow
	for rows.Next() {
		var (
			m       model.MessageRow
			creator uuid.NullUUID
			typ     int16
		)
		if err := rows.Scan(&m.ID, &m.ThreadID, &creator, &typ, &m.Content, &m.Time); err != nil {
			return nil, err
		}
		m.CreatorID = creator.UUID
		m.Type = model.MessageType(typ)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create inserts all messages in one transaction. A message carrying a
// LocalID that its creator already stored under the same SessionID is not
// inserted again; the stored id and time are returned instead.
func (r *MessageRepo) Create(ctx context.Context, msgs []model.NewMessage) (out []model.Message, err error) {
	if len(msgs) == 0 {
		return []model.Message{}, nil
	}
	err = r.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		out, err = insertMessages(ctx, tx, msgs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func insertMessages(ctx context.Context, tx pgx.Tx, msgs []model.NewMessage) ([]model.Message, error) {
	out := make([]model.Message, 0, len(msgs))
	for _, n := range msgs {
		content, err := model.EncodeContent(n.Payload)
		if err != nil {
			return nil, err
		}
		m := model.Message{
			ThreadID:  n.ThreadID,
			CreatorID: n.CreatorID,
			Time:      n.Time,
			Payload:   n.Payload,
		}
		typ := int16(n.Payload.MessageType())
		if n.LocalID == "" || n.CreatorID == uuid.Nil {
			err = tx.QueryRow(ctx, insMessage, n.ThreadID, nullUUID(n.CreatorID), typ, content, n.Time).Scan(&m.ID)
		} else {
			err = tx.QueryRow(ctx, insKeyedMessage, n.ThreadID, nullUUID(n.CreatorID), typ, content, n.Time,
				n.LocalID, n.SessionID).Scan(&m.ID)
			if errors.Is(err, pgx.ErrNoRows) {
				err = tx.QueryRow(ctx, selKeyedMessage, nullUUID(n.CreatorID), n.SessionID, n.LocalID).
					Scan(&m.ID, &m.ThreadID, &m.Time)
			}
		}
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
