package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// messageCols — порядок соответствует scanMessage.
const messageCols = `seq, id, conversation_id, sender_id, text, rich_content, tags, likes, reactions, resolved, deleted, created_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func scanMessage(s pgx.Row, m *model.Message) error {
	var rich, tagsRaw, likesRaw, reactionsRaw []byte
	if err := s.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.SenderID, &m.Text, &rich,
		&tagsRaw, &likesRaw, &reactionsRaw, &m.Resolved, &m.Deleted, &m.CreatedAt); err != nil {
		return err
	}
	if len(rich) > 0 {
		m.RichContent = json.RawMessage(rich)
	}
	m.Tags, m.Likes, m.Reactions = []model.Tag{}, []string{}, []model.Reaction{}
	if err := json.Unmarshal(tagsRaw, &m.Tags); err != nil {
		return fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal(likesRaw, &m.Likes); err != nil {
		return fmt.Errorf("decode likes: %w", err)
	}
	if err := json.Unmarshal(reactionsRaw, &m.Reactions); err != nil {
		return fmt.Errorf("decode reactions: %w", err)
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return nil
}

func collectMessages(rows pgx.Rows, op string) ([]model.Message, error) {
	defer rows.Close()
	out := make([]model.Message, 0, 16)
	for rows.Next() {
		var m model.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("msgRepo.%s scan: %w", op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.%s rows: %w", op, err)
	}
	return out, nil
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer track("msg.Create")()
	tags, err := jsonb(m.Tags)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	likes, err := jsonb(m.Likes)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	reactions, err := jsonb(m.Reactions)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	var rich []byte
	if len(m.RichContent) > 0 {
		rich = m.RichContent
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, text, rich_content, tags, likes, reactions, resolved, deleted, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING seq`,
		m.ID, m.ConversationID, m.SenderID, m.Text, rich, tags, likes, reactions, m.Resolved, m.Deleted, m.CreatedAt,
	).Scan(&m.Seq)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer track("msg.GetByID")()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx, `SELECT `+messageCols+` FROM messages WHERE id = $1`, id), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// SoftDelete marks a message as deleted. Repeated calls are no-ops that still return the record.
func (r *MessageRepository) SoftDelete(ctx context.Context, id string) (*model.Message, error) {
	defer track("msg.SoftDelete")()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		`UPDATE messages SET deleted = true WHERE id = $1 RETURNING `+messageCols, id), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	return m, nil
}

// ReplaceTags overwrites the tag set in a single statement.
func (r *MessageRepository) ReplaceTags(ctx context.Context, id string, set []model.Tag) (*model.Message, error) {
	defer track("msg.ReplaceTags")()
	tags, err := jsonb(set)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ReplaceTags: %w", err)
	}
	m := &model.Message{}
	err = scanMessage(r.pool.QueryRow(ctx,
		`UPDATE messages SET tags = $2 WHERE id = $1 RETURNING `+messageCols, id, tags), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ReplaceTags: %w", err)
	}
	return m, nil
}

func (r *MessageRepository) Find(ctx context.Context, q storage.MessageQuery) ([]model.Message, error) {
	defer track("msg.Find")()
	sql := `SELECT ` + messageCols + ` FROM messages
		 WHERE conversation_id = ANY($1) AND created_at >= $2 AND created_at <= $3`
	args := []any{q.ConversationIDs, q.Start, q.End}
	if !q.IncludeDeleted {
		sql += ` AND deleted = false`
	}
	if q.Tag != nil {
		filter, err := jsonb([]model.Tag{*q.Tag})
		if err != nil {
			return nil, fmt.Errorf("msgRepo.Find: %w", err)
		}
		args = append(args, filter)
		sql += fmt.Sprintf(` AND tags @> $%d::jsonb`, len(args))
	}
	sql += ` ORDER BY created_at, seq`

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Find query: %w", err)
	}
	return collectMessages(rows, "Find")
}

// CountUnread counts messages after the marker that the user did not send. Deleted messages count.
func (r *MessageRepository) CountUnread(ctx context.Context, conversationID, userID string, after *time.Time) (int, error) {
	defer track("msg.CountUnread")()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE conversation_id = $1 AND sender_id <> $2
		   AND ($3::timestamptz IS NULL OR created_at > $3::timestamptz)`,
		conversationID, userID, after,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.CountUnread: %w", err)
	}
	return count, nil
}

func (r *MessageRepository) Latest(ctx context.Context, conversationID string) (*model.Message, error) {
	defer track("msg.Latest")()
	m := &model.Message{}
	err := scanMessage(r.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM messages
		 WHERE conversation_id = $1 AND deleted = false
		 ORDER BY created_at DESC, seq DESC
		 LIMIT 1`, conversationID), m)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.Latest: %w", err)
	}
	return m, nil
}

func (r *MessageRepository) ListPage(ctx context.Context, conversationID, beforeID string, limit int) ([]model.Message, error) {
	defer track("msg.ListPage")()
	var (
		rows pgx.Rows
		err  error
	)
	if beforeID == "" {
		rows, err = r.pool.Query(ctx,
			`SELECT `+messageCols+` FROM messages
			 WHERE conversation_id = $1
			 ORDER BY created_at DESC, seq DESC
			 LIMIT $2`, conversationID, limit)
	} else {
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1 AND conversation_id = $2)`,
			beforeID, conversationID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("msgRepo.ListPage cursor: %w", err)
		}
		if !exists {
			return nil, ErrNotFound
		}
		rows, err = r.pool.Query(ctx,
			`SELECT `+messageCols+` FROM messages m
			 WHERE m.conversation_id = $1
			   AND (m.created_at, m.seq) < (SELECT created_at, seq FROM messages WHERE id = $2)
			 ORDER BY m.created_at DESC, m.seq DESC
			 LIMIT $3`, conversationID, beforeID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListPage query: %w", err)
	}
	return collectMessages(rows, "ListPage")
}
