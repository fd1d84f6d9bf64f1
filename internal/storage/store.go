package storage

import (
	"context"
	"time"

	"github.com/chatcore/internal/model"
)

// MessageQuery selects messages for aggregation. A nil Tag disables tag filtering.
type MessageQuery struct {
	ConversationIDs []string
	Start, End      time.Time
	Tag             *model.Tag
	IncludeDeleted  bool
}

// MessageStore owns message records. Implementations: repository.MessageRepository (PostgreSQL),
// memory.MessageStore (-memory runs and tests). Every single-record mutation must be atomic.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	// SoftDelete sets deleted=true and returns the record after the transition.
	SoftDelete(ctx context.Context, id string) (*model.Message, error)
	// ReplaceTags overwrites the whole tag set and returns the updated record.
	ReplaceTags(ctx context.Context, id string, tags []model.Tag) (*model.Message, error)
	// Find returns messages inside the inclusive window, ordered by (createdAt, seq) per conversation.
	Find(ctx context.Context, q MessageQuery) ([]model.Message, error)
	// CountUnread counts messages after the marker (all when nil) not sent by userID, deleted included.
	CountUnread(ctx context.Context, conversationID, userID string, after *time.Time) (int, error)
	// Latest returns the newest non-deleted message, or nil when there is none.
	Latest(ctx context.Context, conversationID string) (*model.Message, error)
	// ListPage returns up to limit messages older than beforeID (newest first).
	ListPage(ctx context.Context, conversationID, beforeID string, limit int) ([]model.Message, error)
}

// ConversationStore is the membership/permission collaborator.
type ConversationStore interface {
	Create(ctx context.Context, c *model.Conversation) error
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	FindDirect(ctx context.Context, userA, userB string) (*model.Conversation, error)
	Exists(ctx context.Context, id string) (bool, error)
	// MembersOf returns ErrNotFound when the conversation does not exist.
	MembersOf(ctx context.Context, id string) ([]model.Member, error)
	AddMember(ctx context.Context, id, userID string) error
	RemoveMember(ctx context.Context, id, userID string) error
	// SetBlocked adds or removes userID from the blocked set of every existing conversation in ids
	// and returns how many conversations were touched.
	SetBlocked(ctx context.Context, ids []string, userID string, blocked bool) (int, error)
	UpdateTags(ctx context.Context, id string, tags []model.Tag) error
	MarkRead(ctx context.Context, id, userID string, at time.Time) error
	SetPermissions(ctx context.Context, id string, perms []model.Permission) error
	// SetLastMessage writes the denormalized pointer; an empty messageID clears it.
	SetLastMessage(ctx context.Context, id, messageID string) error
	// ListIDs pages over all conversation ids in ascending order, starting after afterID.
	ListIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// ReportStore keeps the summary of the last run of each migration job.
// Implementations: redis.Client, memory.ReportStore.
type ReportStore interface {
	SaveReport(ctx context.Context, r *model.MigrationReport) error
	// LastReport returns ErrNotFound when the job never ran.
	LastReport(ctx context.Context, job string) (*model.MigrationReport, error)
}
