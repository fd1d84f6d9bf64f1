// Package memory holds in-process stores for -memory runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
	"github.com/chatcore/internal/tags"
)

type MessageStore struct {
	mu   sync.RWMutex
	seq  int64
	byID map[string]*model.Message
}

func NewMessageStore() *MessageStore {
	return &MessageStore{byID: make(map[string]*model.Message)}
}

func cloneMessage(m *model.Message) *model.Message {
	c := *m
	c.Tags = append([]model.Tag{}, m.Tags...)
	c.Likes = append([]string{}, m.Likes...)
	c.Reactions = append([]model.Reaction{}, m.Reactions...)
	if m.RichContent != nil {
		c.RichContent = append(json.RawMessage{}, m.RichContent...)
	}
	return &c
}

func (s *MessageStore) Create(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	m.Seq = s.seq
	s.byID[m.ID] = cloneMessage(m)
	return nil
}

func (s *MessageStore) GetByID(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *MessageStore) SoftDelete(ctx context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	m.Deleted = true
	return cloneMessage(m), nil
}

func (s *MessageStore) ReplaceTags(ctx context.Context, id string, set []model.Tag) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	m.Tags = append([]model.Tag{}, set...)
	return cloneMessage(m), nil
}

func (s *MessageStore) Find(ctx context.Context, q storage.MessageQuery) ([]model.Message, error) {
	ids := make(map[string]struct{}, len(q.ConversationIDs))
	for _, id := range q.ConversationIDs {
		ids[id] = struct{}{}
	}
	filter := tags.ForTag(q.Tag)

	s.mu.RLock()
	out := make([]model.Message, 0)
	for _, m := range s.byID {
		if _, ok := ids[m.ConversationID]; !ok {
			continue
		}
		if m.Deleted && !q.IncludeDeleted {
			continue
		}
		if m.CreatedAt.Before(q.Start) || m.CreatedAt.After(q.End) {
			continue
		}
		if !filter.Match(m) {
			continue
		}
		out = append(out, *cloneMessage(m))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out, nil
}

func (s *MessageStore) CountUnread(ctx context.Context, conversationID, userID string, after *time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.byID {
		if m.ConversationID != conversationID || m.SenderID == userID {
			continue
		}
		if after != nil && !m.CreatedAt.After(*after) {
			continue
		}
		n++
	}
	return n, nil
}

func (s *MessageStore) Latest(ctx context.Context, conversationID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *model.Message
	for _, m := range s.byID {
		if m.ConversationID != conversationID || m.Deleted {
			continue
		}
		if latest == nil || latest.Before(m) {
			latest = m
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneMessage(latest), nil
}

func (s *MessageStore) ListPage(ctx context.Context, conversationID, beforeID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var cursor *model.Message
	if beforeID != "" {
		c, ok := s.byID[beforeID]
		if !ok || c.ConversationID != conversationID {
			return nil, model.ErrNotFound
		}
		cursor = c
	}
	all := make([]*model.Message, 0)
	for _, m := range s.byID {
		if m.ConversationID != conversationID {
			continue
		}
		if cursor != nil && !m.Before(cursor) {
			continue
		}
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[j].Before(all[i]) })
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]model.Message, 0, len(all))
	for _, m := range all {
		out = append(out, *cloneMessage(m))
	}
	return out, nil
}
