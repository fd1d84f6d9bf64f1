package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chatcore/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Create вставляет беседу и её участников в одной транзакции.
func (r *ConversationRepository) Create(ctx context.Context, c *model.Conversation) error {
	defer track("conversation.Create")()
	perms, err := jsonb(c.Permissions)
	if err != nil {
		return fmt.Errorf("conversationRepo.Create: %w", err)
	}
	tags, err := jsonb(c.Tags)
	if err != nil {
		return fmt.Errorf("conversationRepo.Create: %w", err)
	}
	blocked := c.BlockedMembers
	if blocked == nil {
		blocked = []string{}
	}
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversations (id, name, product, direct, blocked_members, permissions, tags, last_message_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
			c.ID, c.Name, c.Product, c.Direct, blocked, perms, tags, c.LastMessageID, c.CreatedAt,
		); err != nil {
			return err
		}
		for i, m := range c.Members {
			if _, err := tx.Exec(ctx,
				`INSERT INTO conversation_members (conversation_id, user_id, last_read_at, position)
				 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
				c.ID, m.UserID, m.LastReadAt, i,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("conversationRepo.Create: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer track("conversation.GetByID")()
	c := &model.Conversation{}
	var perms, tags []byte
	var lastMessageID *string
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, product, direct, blocked_members, permissions, tags, last_message_id, created_at
		 FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Product, &c.Direct, &c.BlockedMembers, &perms, &tags, &lastMessageID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.GetByID: %w", err)
	}
	c.Permissions, c.Tags = []model.Permission{}, []model.Tag{}
	if err := json.Unmarshal(perms, &c.Permissions); err != nil {
		return nil, fmt.Errorf("conversationRepo.GetByID permissions: %w", err)
	}
	if err := json.Unmarshal(tags, &c.Tags); err != nil {
		return nil, fmt.Errorf("conversationRepo.GetByID tags: %w", err)
	}
	if c.BlockedMembers == nil {
		c.BlockedMembers = []string{}
	}
	if lastMessageID != nil {
		c.LastMessageID = *lastMessageID
	}
	c.CreatedAt = c.CreatedAt.UTC()

	members, err := r.members(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.GetByID: %w", err)
	}
	c.Members = members
	return c, nil
}

func (r *ConversationRepository) members(ctx context.Context, id string) ([]model.Member, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, last_read_at FROM conversation_members
		 WHERE conversation_id = $1 ORDER BY position, user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("members query: %w", err)
	}
	defer rows.Close()
	out := make([]model.Member, 0, 4)
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.UserID, &m.LastReadAt); err != nil {
			return nil, fmt.Errorf("members scan: %w", err)
		}
		if m.LastReadAt != nil {
			t := m.LastReadAt.UTC()
			m.LastReadAt = &t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *ConversationRepository) FindDirect(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	defer track("conversation.FindDirect")()
	var id string
	err := r.pool.QueryRow(ctx,
		`SELECT c.id FROM conversations c
		 WHERE c.direct
		   AND EXISTS (SELECT 1 FROM conversation_members WHERE conversation_id = c.id AND user_id = $1)
		   AND EXISTS (SELECT 1 FROM conversation_members WHERE conversation_id = c.id AND user_id = $2)
		 ORDER BY c.created_at
		 LIMIT 1`, userA, userB,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.FindDirect: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *ConversationRepository) Exists(ctx context.Context, id string) (bool, error) {
	defer track("conversation.Exists")()
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("conversationRepo.Exists: %w", err)
	}
	return exists, nil
}

func (r *ConversationRepository) MembersOf(ctx context.Context, id string) ([]model.Member, error) {
	defer track("conversation.MembersOf")()
	exists, err := r.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}
	members, err := r.members(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.MembersOf: %w", err)
	}
	return members, nil
}

func (r *ConversationRepository) AddMember(ctx context.Context, id, userID string) error {
	defer track("conversation.AddMember")()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO conversation_members (conversation_id, user_id, position)
		 SELECT c.id, $2, COALESCE((SELECT MAX(position) + 1 FROM conversation_members WHERE conversation_id = c.id), 0)
		 FROM conversations c WHERE c.id = $1
		 ON CONFLICT DO NOTHING`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("conversationRepo.AddMember: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.requireExists(ctx, id)
	}
	return nil
}

func (r *ConversationRepository) RemoveMember(ctx context.Context, id, userID string) error {
	defer track("conversation.RemoveMember")()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM conversation_members WHERE conversation_id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("conversationRepo.RemoveMember: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.requireExists(ctx, id)
	}
	return nil
}

// requireExists различает «ничего не изменилось» и «беседы нет».
func (r *ConversationRepository) requireExists(ctx context.Context, id string) error {
	exists, err := r.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (r *ConversationRepository) SetBlocked(ctx context.Context, ids []string, userID string, blocked bool) (int, error) {
	defer track("conversation.SetBlocked")()
	sql := `UPDATE conversations SET blocked_members = array_remove(blocked_members, $2) WHERE id = ANY($1)`
	if blocked {
		sql = `UPDATE conversations SET blocked_members = array_append(array_remove(blocked_members, $2), $2) WHERE id = ANY($1)`
	}
	tag, err := r.pool.Exec(ctx, sql, ids, userID)
	if err != nil {
		return 0, fmt.Errorf("conversationRepo.SetBlocked: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// updateOne runs a single-row UPDATE and maps zero affected rows to ErrNotFound.
func (r *ConversationRepository) updateOne(ctx context.Context, op, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("conversationRepo.%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ConversationRepository) UpdateTags(ctx context.Context, id string, set []model.Tag) error {
	defer track("conversation.UpdateTags")()
	tags, err := jsonb(set)
	if err != nil {
		return fmt.Errorf("conversationRepo.UpdateTags: %w", err)
	}
	return r.updateOne(ctx, "UpdateTags", `UPDATE conversations SET tags = $2 WHERE id = $1`, id, tags)
}

func (r *ConversationRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) error {
	defer track("conversation.MarkRead")()
	return r.updateOne(ctx, "MarkRead",
		`UPDATE conversation_members SET last_read_at = $3 WHERE conversation_id = $1 AND user_id = $2`,
		id, userID, at)
}

func (r *ConversationRepository) SetPermissions(ctx context.Context, id string, perms []model.Permission) error {
	defer track("conversation.SetPermissions")()
	data, err := jsonb(perms)
	if err != nil {
		return fmt.Errorf("conversationRepo.SetPermissions: %w", err)
	}
	return r.updateOne(ctx, "SetPermissions", `UPDATE conversations SET permissions = $2 WHERE id = $1`, id, data)
}

func (r *ConversationRepository) SetLastMessage(ctx context.Context, id, messageID string) error {
	defer track("conversation.SetLastMessage")()
	return r.updateOne(ctx, "SetLastMessage",
		`UPDATE conversations SET last_message_id = NULLIF($2, '') WHERE id = $1`, id, messageID)
}

func (r *ConversationRepository) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	defer track("conversation.ListIDs")()
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM conversations WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.ListIDs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.ListIDs: %w", err)
	}
	return ids, nil
}
