package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/squadcal/internal/errs"
	"github.com/and161185/squadcal/internal/model"
)

var entryColNames = []string{"id", "thread_id", "day", "text", "creator_id", "creation_time", "last_update", "deleted"}

func day(s string) time.Time {
	d, _ := model.ParseDay(s)
	return d
}

func entryRow(id int64, text string, deleted bool) *pgxmock.Rows {
	return pgxmock.NewRows(entryColNames).
		AddRow(id, int64(3), day("2024-05-01"), text, uuid.NullUUID{}, int64(10), int64(20), deleted)
}

func TestEntryRepo_Create(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntryRepo(db)
	author := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO entries`).
		WithArgs(int64(3), day("2024-05-01"), "dentist", uuid.NullUUID{UUID: author, Valid: true}, int64(50), int64(50),
			strp("local-1"), "s1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(900)))
	mock.ExpectExec(`INSERT INTO revisions`).
		WithArgs(int64(900), uuid.NullUUID{UUID: author, Valid: true}, "dentist", "s1", int64(50), false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(int64(3), uuid.NullUUID{UUID: author, Valid: true}, int16(model.MessageCreateEntry), pgxmock.AnyArg(), int64(50)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(901)))
	mock.ExpectCommit()

	e, msg, err := r.Create(context.Background(), model.SaveEntry{
		LocalID: "local-1", ThreadID: 3, Day: "2024-05-01", Text: "dentist", SessionID: "s1",
	}, author, 50)
	require.NoError(t, err)
	require.Equal(t, int64(900), e.ID)
	require.Equal(t, "local-1", e.LocalID)
	require.NotNil(t, msg)
	require.Equal(t, int64(901), msg.ID)

	_, _, err = r.Create(context.Background(), model.SaveEntry{ThreadID: 3, Day: "May 1"}, author, 50)
	require.ErrorIs(t, err, errs.ErrInvalidParameters)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepo_Create_ResentLocalID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntryRepo(db)
	author := uuid.Must(uuid.NewV4())
	owner := uuid.NullUUID{UUID: author, Valid: true}

	mock.ExpectBegin()
	mock.ExpectQuery(`ON CONFLICT \(creator_id, session_id, local_id\) WHERE local_id IS NOT NULL DO NOTHING`).
		WithArgs(int64(3), day("2024-05-01"), "dentist", owner, int64(80), int64(80), strp("local-1"), "s1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectQuery(`FROM entries WHERE creator_id=\$1 AND session_id=\$2 AND local_id=\$3`).
		WithArgs(owner, "s1", "local-1").
		WillReturnRows(entryRow(900, "dentist", false))
	mock.ExpectCommit()

	e, msg, err := r.Create(context.Background(), model.SaveEntry{
		LocalID: "local-1", ThreadID: 3, Day: "2024-05-01", Text: "dentist", SessionID: "s1",
	}, author, 80)
	require.NoError(t, err)
	require.Equal(t, int64(900), e.ID)
	require.Equal(t, int64(10), e.CreationTime)
	require.Equal(t, "local-1", e.LocalID)
	require.Nil(t, msg, "no second CREATE_ENTRY message")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepo_Update_StaleBaseline(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntryRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM entries WHERE id=\$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(entryRow(7, "server text", false))
	mock.ExpectRollback()

	_, _, err := r.Update(context.Background(), model.SaveEntry{EntryID: 7, Text: "mine", PrevText: "old"}, uuid.Nil, 99)
	require.ErrorIs(t, err, errs.ErrConcurrentModification)
	var cm *errs.ConcurrentModificationError
	require.ErrorAs(t, err, &cm)
	require.Equal(t, "server text", cm.ServerText)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepo_Update_OK(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntryRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(7)).WillReturnRows(entryRow(7, "old", false))
	mock.ExpectExec(`UPDATE entries SET text=\$2, last_update=\$3 WHERE id=\$1`).
		WithArgs(int64(7), "new", int64(99)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO revisions`).
		WithArgs(int64(7), uuid.NullUUID{}, "new", "s", int64(99), false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(int64(3), uuid.NullUUID{}, int16(model.MessageEditEntry), pgxmock.AnyArg(), int64(99)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1000)))
	mock.ExpectCommit()

	e, msg, err := r.Update(context.Background(),
		model.SaveEntry{EntryID: 7, Text: "new", PrevText: "old", SessionID: "s"}, uuid.Nil, 99)
	require.NoError(t, err)
	require.Equal(t, "new", e.Text)
	require.Equal(t, int64(99), e.LastUpdate)
	require.Equal(t, model.EditEntryPayload{EntryPayload: model.EntryPayload{EntryID: 7, Day: "2024-05-01", Text: "new"}}, msg.Payload)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepo_Update_SameTextIsNoop(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntryRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(7)).WillReturnRows(entryRow(7, "same", false))
	mock.ExpectCommit()

	_, msg, err := r.Update(context.Background(), model.SaveEntry{EntryID: 7, Text: "same", PrevText: "same"}, uuid.Nil, 1)
	require.NoError(t, err)
	require.Nil(t, msg)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepo_Delete(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntryRepo(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(7)).WillReturnRows(entryRow(7, "x", false))
	mock.ExpectExec(`UPDATE entries SET deleted=true`).
		WithArgs(int64(7), int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO revisions`).
		WithArgs(int64(7), uuid.NullUUID{}, "x", "", int64(5), true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	e, err := r.Delete(ctx, model.DeleteEntry{EntryID: 7, PrevText: "x"}, uuid.Nil, 5)
	require.NoError(t, err)
	require.True(t, e.Deleted)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(7)).WillReturnRows(entryRow(7, "x", true))
	mock.ExpectRollback()
	_, err = r.Delete(ctx, model.DeleteEntry{EntryID: 7, PrevText: "x"}, uuid.Nil, 6)
	require.ErrorIs(t, err, errs.ErrNotFound)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(8)).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()
	_, err = r.Delete(ctx, model.DeleteEntry{EntryID: 8}, uuid.Nil, 6)
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepo_Restore(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntryRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).WithArgs(int64(7)).WillReturnRows(entryRow(7, "x", true))
	mock.ExpectExec(`UPDATE entries SET deleted=false`).
		WithArgs(int64(7), int64(8)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO revisions`).
		WithArgs(int64(7), uuid.NullUUID{}, "x", "s", int64(8), false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	e, err := r.Restore(context.Background(), 7, "s", uuid.Nil, 8)
	require.NoError(t, err)
	require.False(t, e.Deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRepo_FetchAndRevisions(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewEntryRepo(db)
	ctx := context.Background()

	mock.ExpectQuery(`day BETWEEN \$2 AND \$3 AND \(NOT deleted OR \$4\)`).
		WithArgs([]int64{3}, day("2024-05-01"), day("2024-05-31"), false).
		WillReturnRows(entryRow(7, "x", false))
	got, err := r.Fetch(ctx, model.EntryQuery{ThreadIDs: []int64{3}, From: "2024-05-01", To: "2024-05-31"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "2024-05-01", got[0].Day)

	_, err = r.Fetch(ctx, model.EntryQuery{ThreadIDs: []int64{3}, From: "bad", To: "2024-05-31"})
	require.ErrorIs(t, err, errs.ErrInvalidParameters)

	mock.ExpectQuery(`FROM revisions WHERE entry_id=\$1`).
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "entry_id", "author_id", "text", "session_id", "last_update", "deleted"}).
			AddRow(int64(2), int64(7), uuid.NullUUID{}, "b", "s", int64(20), false).
			AddRow(int64(1), int64(7), uuid.NullUUID{}, "a", "s", int64(10), false))
	revs, err := r.Revisions(ctx, 7)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	require.Equal(t, "b", revs[0].Text)
	require.NoError(t, mock.ExpectationsWereMet())
}
