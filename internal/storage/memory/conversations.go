package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chatcore/internal/model"
)

type ConversationStore struct {
	mu   sync.RWMutex
	byID map[string]*model.Conversation
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{byID: make(map[string]*model.Conversation)}
}

func cloneConversation(c *model.Conversation) *model.Conversation {
	out := *c
	out.Members = make([]model.Member, 0, len(c.Members))
	for _, m := range c.Members {
		if m.LastReadAt != nil {
			t := *m.LastReadAt
			m.LastReadAt = &t
		}
		out.Members = append(out.Members, m)
	}
	out.BlockedMembers = append([]string{}, c.BlockedMembers...)
	out.Permissions = append([]model.Permission{}, c.Permissions...)
	out.Tags = append([]model.Tag{}, c.Tags...)
	return &out
}

func (s *ConversationStore) Create(ctx context.Context, c *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[c.ID] = cloneConversation(c)
	return nil
}

func (s *ConversationStore) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneConversation(c), nil
}

func hasMember(c *model.Conversation, userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (s *ConversationStore) FindDirect(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.byID {
		if c.Direct && len(c.Members) == 2 && hasMember(c, userA) && hasMember(c, userB) {
			return cloneConversation(c), nil
		}
	}
	return nil, model.ErrNotFound
}

func (s *ConversationStore) Exists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok, nil
}

func (s *ConversationStore) MembersOf(ctx context.Context, id string) ([]model.Member, error) {
	c, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Members, nil
}

// update runs fn on the stored record under the write lock.
func (s *ConversationStore) update(id string, fn func(c *model.Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return model.ErrNotFound
	}
	fn(c)
	return nil
}

func (s *ConversationStore) AddMember(ctx context.Context, id, userID string) error {
	return s.update(id, func(c *model.Conversation) {
		if !hasMember(c, userID) {
			c.Members = append(c.Members, model.Member{UserID: userID})
		}
	})
}

func (s *ConversationStore) RemoveMember(ctx context.Context, id, userID string) error {
	return s.update(id, func(c *model.Conversation) {
		kept := c.Members[:0]
		for _, m := range c.Members {
			if m.UserID != userID {
				kept = append(kept, m)
			}
		}
		c.Members = kept
	})
}

func (s *ConversationStore) SetBlocked(ctx context.Context, ids []string, userID string, blocked bool) (int, error) {
	n := 0
	for _, id := range ids {
		err := s.update(id, func(c *model.Conversation) {
			kept := make([]string, 0, len(c.BlockedMembers)+1)
			for _, b := range c.BlockedMembers {
				if b != userID {
					kept = append(kept, b)
				}
			}
			if blocked {
				kept = append(kept, userID)
			}
			c.BlockedMembers = kept
		})
		if err == nil {
			n++
		}
	}
	return n, nil
}

func (s *ConversationStore) UpdateTags(ctx context.Context, id string, set []model.Tag) error {
	return s.update(id, func(c *model.Conversation) {
		c.Tags = append([]model.Tag{}, set...)
	})
}

func (s *ConversationStore) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	var found bool
	err := s.update(id, func(c *model.Conversation) {
		for i := range c.Members {
			if c.Members[i].UserID == userID {
				t := at
				c.Members[i].LastReadAt = &t
				found = true
			}
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return model.ErrNotFound
	}
	return nil
}

func (s *ConversationStore) SetPermissions(ctx context.Context, id string, perms []model.Permission) error {
	return s.update(id, func(c *model.Conversation) {
		c.Permissions = append([]model.Permission{}, perms...)
	})
}

func (s *ConversationStore) SetLastMessage(ctx context.Context, id, messageID string) error {
	return s.update(id, func(c *model.Conversation) {
		c.LastMessageID = messageID
	})
}

func (s *ConversationStore) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
