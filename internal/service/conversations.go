package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
	"github.com/chatcore/internal/tags"
)

// ConversationService covers the membership side the engine reads from: creation, members,
// blocking, tags and read markers.
type ConversationService struct {
	conversations storage.ConversationStore
	clock         func() time.Time
}

func NewConversationService(conversations storage.ConversationStore) *ConversationService {
	return &ConversationService{conversations: conversations, clock: now}
}

type NewConversation struct {
	Name      string      `json:"name"`
	Product   string      `json:"product"`
	MemberIDs []string    `json:"memberIds"`
	Tags      []model.Tag `json:"tags"`
}

func (s *ConversationService) Create(ctx context.Context, in NewConversation) (*model.Conversation, error) {
	members := uniqueIDs(in.MemberIDs)
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: at least one member is required", model.ErrValidation)
	}
	set, err := tags.Normalize(in.Tags)
	if err != nil {
		return nil, err
	}
	c := s.newConversation(strings.TrimSpace(in.Name), in.Product, members, set, false)
	if err := s.conversations.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("conversations.Create: %w", err)
	}
	return c, nil
}

// CreateDirect returns the existing direct conversation of the pair when there is one.
func (s *ConversationService) CreateDirect(ctx context.Context, userA, userB, product string) (*model.Conversation, error) {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" || userA == userB {
		return nil, fmt.Errorf("%w: two different users are required", model.ErrValidation)
	}
	existing, err := s.conversations.FindDirect(ctx, userA, userB)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, fmt.Errorf("conversations.CreateDirect: %w", err)
	}
	c := s.newConversation("", product, []string{userA, userB}, []model.Tag{}, true)
	if err := s.conversations.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("conversations.CreateDirect: %w", err)
	}
	return c, nil
}

func (s *ConversationService) newConversation(name, product string, memberIDs []string, set []model.Tag, direct bool) *model.Conversation {
	members := make([]model.Member, 0, len(memberIDs))
	for _, id := range memberIDs {
		members = append(members, model.Member{UserID: id})
	}
	return &model.Conversation{
		ID:             uuid.New().String(),
		Name:           name,
		Product:        product,
		Direct:         direct,
		Members:        members,
		BlockedMembers: []string{},
		Permissions:    []model.Permission{},
		Tags:           set,
		CreatedAt:      s.clock(),
	}
}

func (s *ConversationService) Get(ctx context.Context, id string) (*model.Conversation, error) {
	c, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("conversation %s: %w", id, err)
	}
	return c, nil
}

func (s *ConversationService) AddMember(ctx context.Context, id, userID string) (*model.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userId is required", model.ErrValidation)
	}
	if err := s.conversations.AddMember(ctx, id, userID); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

func (s *ConversationService) RemoveMember(ctx context.Context, id, userID string) (*model.Conversation, error) {
	if err := s.conversations.RemoveMember(ctx, id, userID); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

// SetBlocked blocks or unblocks userID in every listed conversation; unknown ids are ignored.
func (s *ConversationService) SetBlocked(ctx context.Context, conversationIDs []string, userID string, blocked bool) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: userId is required", model.ErrValidation)
	}
	ids := uniqueIDs(conversationIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.conversations.SetBlocked(ctx, ids, userID, blocked)
	if err != nil {
		return 0, fmt.Errorf("conversations.SetBlocked: %w", err)
	}
	return n, nil
}

func (s *ConversationService) UpdateTags(ctx context.Context, id string, set []model.Tag) (*model.Conversation, error) {
	normalized, err := tags.Normalize(set)
	if err != nil {
		return nil, err
	}
	if err := s.conversations.UpdateTags(ctx, id, normalized); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", id, err)
	}
	return s.Get(ctx, id)
}

// MarkRead moves the user's read marker; a zero at means now.
func (s *ConversationService) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: userId is required", model.ErrValidation)
	}
	if at.IsZero() {
		at = s.clock()
	}
	if err := s.conversations.MarkRead(ctx, id, userID, at.UTC()); err != nil {
		return fmt.Errorf("conversation %s member %s: %w", id, userID, err)
	}
	return nil
}
