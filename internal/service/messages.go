// Package service is the message retrieval, tagging and aggregation engine. It talks to
// storage only through the storage interfaces, so the same code runs on PostgreSQL and memory.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
	"github.com/chatcore/internal/tags"
)

const (
	DefaultPageSize = 40
	MaxPageSize     = 100
)

// now is the clock used for createdAt and read markers. PostgreSQL keeps microseconds,
// so values are truncated to keep stored and returned records equal.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

type MessageService struct {
	messages      storage.MessageStore
	conversations storage.ConversationStore
	clock         func() time.Time
}

func NewMessageService(messages storage.MessageStore, conversations storage.ConversationStore) *MessageService {
	return &MessageService{messages: messages, conversations: conversations, clock: now}
}

func (s *MessageService) Create(ctx context.Context, in model.NewMessage) (*model.Message, error) {
	if strings.TrimSpace(in.ConversationID) == "" || strings.TrimSpace(in.SenderID) == "" {
		return nil, fmt.Errorf("%w: conversationId and senderId are required", model.ErrValidation)
	}
	if len(in.RichContent) > 0 && !json.Valid(in.RichContent) {
		return nil, fmt.Errorf("%w: richContent must be valid JSON", model.ErrValidation)
	}
	exists, err := s.conversations.Exists(ctx, in.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("messages.Create: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("conversation %s: %w", in.ConversationID, model.ErrNotFound)
	}
	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		Text:           in.Text,
		RichContent:    in.RichContent,
		Tags:           []model.Tag{},
		Likes:          []string{},
		Reactions:      []model.Reaction{},
		CreatedAt:      s.clock(),
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("messages.Create: %w", err)
	}
	return m, nil
}

// Get returns the message even when it is soft-deleted.
func (s *MessageService) Get(ctx context.Context, id string) (*model.Message, error) {
	m, err := s.messages.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", id, err)
	}
	return m, nil
}

// Delete is idempotent: a second call returns the same deleted record.
func (s *MessageService) Delete(ctx context.Context, id string) (*model.Message, error) {
	m, err := s.messages.SoftDelete(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", id, err)
	}
	return m, nil
}

// ReplaceTags overwrites the tag set with the normalized input. It never merges.
func (s *MessageService) ReplaceTags(ctx context.Context, id string, set []model.Tag) (*model.Message, error) {
	normalized, err := tags.Normalize(set)
	if err != nil {
		return nil, err
	}
	m, err := s.messages.ReplaceTags(ctx, id, normalized)
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", id, err)
	}
	return m, nil
}

// List returns one page of a conversation, newest first, strictly older than beforeID.
func (s *MessageService) List(ctx context.Context, conversationID, beforeID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	exists, err := s.conversations.Exists(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("messages.List: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, model.ErrNotFound)
	}
	page, err := s.messages.ListPage(ctx, conversationID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("messages.List: %w", err)
	}
	return page, nil
}
