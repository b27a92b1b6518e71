package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/squadcal/internal/errs"
	"github.com/and161185/squadcal/internal/model"
)

// EntryRepo implements EntryRepository using PostgreSQL.
type EntryRepo struct{ db *DB }

// NewEntryRepo constructs an entry repository.
func NewEntryRepo(db *DB) *EntryRepo { return &EntryRepo{db: db} }

const (
	entryCols     = `id, thread_id, day, text, creator_id, creation_time, last_update, deleted`
	selEntry      = `SELECT ` + entryCols + ` FROM entries WHERE id=$1`
	selEntryForUp = selEntry + ` FOR UPDATE`
	selEntryByKey = `SELECT ` + entryCols + ` FROM entries WHERE creator_id=$1 AND session_id=$2 AND local_id=$3`
	insRevision   = `
INSERT INTO revisions (entry_id, author_id, text, session_id, last_update, deleted)
VALUES ($1, $2, $3, $4, $5, $6)`
)

type scanner interface{ Scan(dest ...any) error }

func scanEntry(row scanner) (model.Entry, error) {
	var (
		e       model.Entry
		day     time.Time
		creator uuid.NullUUID
	)
	if err := row.Scan(&e.ID, &e.ThreadID, &day, &e.Text, &creator, &e.CreationTime, &e.LastUpdate, &e.Deleted); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Entry{}, errs.ErrNotFound
		}
		return model.Entry{}, err
	}
	e.Day = day.Format(model.DayLayout)
	e.CreatorID = creator.UUID
	return e, nil
}

// Create inserts the entry, its first revision and a CREATE_ENTRY message.
// If the author already created in.LocalID under in.SessionID, the stored
// entry is returned with a nil message and nothing is written.
func (r *EntryRepo) Create(
	ctx context.Context, in model.SaveEntry, author uuid.UUID, now int64,
) (e model.Entry, msg *model.Message, err error) {
	day, err := model.ParseDay(in.Day)
	if err != nil {
		return model.Entry{}, nil, fmt.Errorf("day: %w", errs.ErrInvalidParameters)
	}
	err = r.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		const ins = `
INSERT INTO entries (thread_id, day, text, creator_id, creation_time, last_update, deleted, local_id, session_id)
VALUES ($1, $2, $3, $4, $5, $6, false, $7, $8)
ON CONFLICT (creator_id, session_id, local_id) WHERE local_id IS NOT NULL DO NOTHING
RETURNING id`
		var localKey *string
		if in.LocalID != "" && author != uuid.Nil {
			localKey = &in.LocalID
		}
		err := tx.QueryRow(ctx, ins, in.ThreadID, day, in.Text, nullUUID(author), now, now, localKey, in.SessionID).Scan(&e.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			e, err = scanEntry(tx.QueryRow(ctx, selEntryByKey, nullUUID(author), in.SessionID, in.LocalID))
			e.LocalID = in.LocalID
			return err
		}
		if err != nil {
			return err
		}
		e.ThreadID, e.Day, e.Text, e.CreatorID = in.ThreadID, in.Day, in.Text, author
		e.CreationTime, e.LastUpdate, e.LocalID = now, now, in.LocalID

		if _, err := tx.Exec(ctx, insRevision, e.ID, nullUUID(author), in.Text, in.SessionID, now, false); err != nil {
			return err
		}
		ms, err := insertMessages(ctx, tx, []model.NewMessage{{
			ThreadID:  in.ThreadID,
			CreatorID: author,
			Time:      now,
			Payload:   model.CreateEntryPayload{EntryPayload: model.EntryPayload{EntryID: e.ID, Day: in.Day, Text: in.Text}},
		}})
		if err != nil {
			return err
		}
		msg = &ms[0]
		return nil
	})
	if err != nil {
		return model.Entry{}, nil, err
	}
	return e, msg, nil
}

// lockCurrent loads and locks an entry, enforcing the prevText baseline.
func lockCurrent(ctx context.Context, tx pgx.Tx, id int64, prevText string) (model.Entry, error) {
	cur, err := scanEntry(tx.QueryRow(ctx, selEntryForUp, id))
	if err != nil {
		return model.Entry{}, err
	}
	if cur.Deleted {
		return model.Entry{}, fmt.Errorf("entry %d deleted: %w", id, errs.ErrNotFound)
	}
	if cur.Text != prevText {
		return model.Entry{}, &errs.ConcurrentModificationError{ServerText: cur.Text}
	}
	return cur, nil
}

// Update replaces the text if the stored text still equals in.PrevText.
// Saving identical text is a no-op and yields no message.
func (r *EntryRepo) Update(
	ctx context.Context, in model.SaveEntry, author uuid.UUID, now int64,
) (e model.Entry, msg *model.Message, err error) {
	err = r.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		cur, err := lockCurrent(ctx, tx, in.EntryID, in.PrevText)
		if err != nil {
			return err
		}
		e = cur
		if cur.Text == in.Text {
			return nil
		}
		const upd = `UPDATE entries SET text=$2, last_update=$3 WHERE id=$1`
		if _, err := tx.Exec(ctx, upd, in.EntryID, in.Text, now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insRevision, in.EntryID, nullUUID(author), in.Text, in.SessionID, now, false); err != nil {
			return err
		}
		e.Text, e.LastUpdate = in.Text, now

		ms, err := insertMessages(ctx, tx, []model.NewMessage{{
			ThreadID:  cur.ThreadID,
			CreatorID: author,
			Time:      now,
			Payload:   model.EditEntryPayload{EntryPayload: model.EntryPayload{EntryID: in.EntryID, Day: cur.Day, Text: in.Text}},
		}})
		if err != nil {
			return err
		}
		msg = &ms[0]
		return nil
	})
	if err != nil {
		return model.Entry{}, nil, err
	}
	return e, msg, nil
}

// Delete tombstones the entry if in.PrevText still matches.
func (r *EntryRepo) Delete(ctx context.Context, in model.DeleteEntry, author uuid.UUID, now int64) (e model.Entry, err error) {
	err = r.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		cur, err := lockCurrent(ctx, tx, in.EntryID, in.PrevText)
		if err != nil {
			return err
		}
		const upd = `UPDATE entries SET deleted=true, last_update=$2 WHERE id=$1`
		if _, err := tx.Exec(ctx, upd, in.EntryID, now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insRevision, in.EntryID, nullUUID(author), cur.Text, in.SessionID, now, true); err != nil {
			return err
		}
		e = cur
		e.Deleted, e.LastUpdate = true, now
		return nil
	})
	if err != nil {
		return model.Entry{}, err
	}
	return e, nil
}

// Restore clears a tombstone. Restoring a live entry is a no-op.
func (r *EntryRepo) Restore(
	ctx context.Context, entryID int64, sessionID string, author uuid.UUID, now int64,
) (e model.Entry, err error) {
	err = r.db.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		cur, err := scanEntry(tx.QueryRow(ctx, selEntryForUp, entryID))
		if err != nil {
			return err
		}
		e = cur
		if !cur.Deleted {
			return nil
		}
		const upd = `UPDATE entries SET deleted=false, last_update=$2 WHERE id=$1`
		if _, err := tx.Exec(ctx, upd, entryID, now); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insRevision, entryID, nullUUID(author), cur.Text, sessionID, now, false); err != nil {
			return err
		}
		e.Deleted, e.LastUpdate = false, now
		return nil
	})
	if err != nil {
		return model.Entry{}, err
	}
	return e, nil
}

// Get returns a single entry by id.
func (r *EntryRepo) Get(ctx context.Context, id int64) (model.Entry, error) {
	return scanEntry(r.db.Pool.QueryRow(ctx, selEntry, id))
}

// Fetch lists entries of the threads within [From, To].
func (r *EntryRepo) Fetch(ctx context.Context, q model.EntryQuery) ([]model.Entry, error) {
	from, err := model.ParseDay(q.From)
	if err != nil {
		return nil, fmt.Errorf("from: %w", errs.ErrInvalidParameters)
	}
	to, err := model.ParseDay(q.To)
	if err != nil {
		return nil, fmt.Errorf("to: %w", errs.ErrInvalidParameters)
	}
	const sel = `
SELECT ` + entryCols + `
FROM entries
WHERE thread_id = ANY($1) AND day BETWEEN $2 AND $3 AND (NOT deleted OR $4)
ORDER BY day, creation_time, id`
	rows, err := r.db.Pool.Query(ctx, sel, q.ThreadIDs, from, to, q.IncludeDeleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Revisions returns the entry history, newest first.
func (r *EntryRepo) Revisions(ctx context.Context, entryID int64) ([]model.Revision, error) {
	const q = `
SELECT id, entry_id, author_id, text, session_id, last_update, deleted
FROM revisions WHERE entry_id=$1
ORDER BY last_update DESC, id DESC`
	rows, err := r.db.Pool.Query(ctx, q, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Revision
	for rows.Next() {
		var (
			rv     model.Revision
			author uuid.NullUUID
		)
		if err := rows.Scan(&rv.ID, &rv.EntryID, &author, &rv.Text, &rv.SessionID, &rv.LastUpdate, &rv.Deleted); err != nil {
			return nil, err
		}
		rv.AuthorID = author.UUID
		out = append(out, rv)
	}
	return out, rows.Err()
}
