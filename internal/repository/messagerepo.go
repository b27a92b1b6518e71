package repository

import (
	"context"

	"github.com/and161185/squadcal/internal/model"
)

// MessageRepository reads and writes thread timelines.
type MessageRepository interface {
	// FetchInitial returns, per selected thread, up to limit+1 newest visible
	// messages older than the thread's cursor, ordered by thread then newest first.
	FetchInitial(ctx context.Context, v model.Viewer, sel model.ThreadSelection, limit int) ([]model.MessageRow, error)
	// FetchSince returns, per selected thread, up to limit+1 newest visible
	// messages newer than since. Threads whose new messages include their
	// CREATE_THREAD message are returned uncapped.
	FetchSince(ctx context.Context, v model.Viewer, sel model.ThreadSelection, since int64, limit int) ([]model.MessageRow, error)
	// Create stores all messages or none.
	Create(ctx context.Context, msgs []model.NewMessage) ([]model.Message, error)
}
