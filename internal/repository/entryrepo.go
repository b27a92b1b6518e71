package repository

import (
	"context"

	"github.com/and161185/squadcal/internal/model"
	"github.com/gofrs/uuid/v5"
)

// EntryRepository stores calendar entries and their revision history.
type EntryRepository interface {
	// Create inserts an entry, its first revision and a CREATE_ENTRY message.
	Create(ctx context.Context, in model.SaveEntry, author uuid.UUID, now int64) (model.Entry, *model.Message, error)
	// Update replaces the text if the stored text still equals in.PrevText,
	// otherwise returns *errs.ConcurrentModificationError.
	Update(ctx context.Context, in model.SaveEntry, author uuid.UUID, now int64) (model.Entry, *model.Message, error)
	// Delete tombstones the entry under the same baseline check as Update.
	Delete(ctx context.Context, in model.DeleteEntry, author uuid.UUID, now int64) (model.Entry, error)
	// Restore clears the tombstone.
	Restore(ctx context.Context, entryID int64, sessionID string, author uuid.UUID, now int64) (model.Entry, error)
	// Get loads a single entry.
	Get(ctx context.Context, id int64) (model.Entry, error)
	// Fetch lists entries of the given threads within the day range.
	Fetch(ctx context.Context, q model.EntryQuery) ([]model.Entry, error)
	// Revisions lists an entry's history, newest first.
	Revisions(ctx context.Context, entryID int64) ([]model.Revision, error)
}
