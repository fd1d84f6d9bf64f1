package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
)

type UnreadCounter struct {
	messages      storage.MessageStore
	conversations storage.ConversationStore
}

func NewUnreadCounter(messages storage.MessageStore, conversations storage.ConversationStore) *UnreadCounter {
	return &UnreadCounter{messages: messages, conversations: conversations}
}

// markerFor returns the user's last-read marker, nil when the user has none or is not a member.
func markerFor(members []model.Member, userID string) *time.Time {
	for _, m := range members {
		if m.UserID == userID {
			return m.LastReadAt
		}
	}
	return nil
}

// UnreadCounts returns exactly one entry per requested conversation, in request order.
// Messages the user sent never count; soft-deleted messages do. An unknown conversation counts 0.
func (u *UnreadCounter) UnreadCounts(ctx context.Context, userID string, conversationIDs []string) ([]model.UnreadCount, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userId is required", model.ErrValidation)
	}
	out := make([]model.UnreadCount, 0, len(conversationIDs))
	cache := make(map[string]int, len(conversationIDs))
	for _, id := range conversationIDs {
		count, ok := cache[id]
		if !ok {
			var err error
			count, err = u.count(ctx, userID, id)
			if err != nil {
				return nil, err
			}
			cache[id] = count
		}
		out = append(out, model.UnreadCount{ConversationID: id, UserID: userID, Count: count})
	}
	return out, nil
}

func (u *UnreadCounter) count(ctx context.Context, userID, conversationID string) (int, error) {
	members, err := u.conversations.MembersOf(ctx, conversationID)
	if errors.Is(err, model.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("unread %s: %w", conversationID, err)
	}
	n, err := u.messages.CountUnread(ctx, conversationID, userID, markerFor(members, userID))
	if err != nil {
		return 0, fmt.Errorf("unread %s: %w", conversationID, err)
	}
	return n, nil
}
