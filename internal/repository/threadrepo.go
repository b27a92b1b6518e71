package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/squadcal/internal/model"
)

// ThreadRepository reads thread/role/membership state and applies thread mutations.
type ThreadRepository interface {
	// LoadDirectory reads every thread, role and membership in one consistent snapshot.
	LoadDirectory(ctx context.Context) (model.DirectorySnapshot, error)
	// LoadAccess reads the given threads together with their ancestor chains.
	LoadAccess(ctx context.Context, threadIDs []int64) (model.DirectorySnapshot, error)
	// JoinedThreads lists the threads whose timelines a joined-threads fetch
	// selects for the user: those where they hold a role and may see messages.
	JoinedThreads(ctx context.Context, userID uuid.UUID) ([]int64, error)
	// CreateThread persists a thread, its roles, initial members and creation messages.
	CreateThread(ctx context.Context, d model.ThreadDraft, now int64) (model.Thread, []model.Message, error)
	// ChangeMemberships applies a membership change and records its message.
	ChangeMemberships(ctx context.Context, ch model.MembershipChange) (model.Message, error)
	// ChangeSettings updates one thread field and records a CHANGE_SETTINGS message.
	ChangeSettings(ctx context.Context, threadID int64, p model.ChangeSettingsPayload, msg model.NewMessage) (model.Message, error)
}
