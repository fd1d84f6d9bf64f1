package model

import (
	"encoding/json"
	"time"
)

// TagType classifies a tag. The set of accepted values is closed (see tags.KnownTypes);
// stored records keep the raw string, so adding a type needs no data migration.
type TagType string

const (
	TagTypeSubTopic TagType = "subTopic"
)

type Tag struct {
	ID   string  `json:"id"`
	Type TagType `json:"type"`
}

type Reaction struct {
	UserID          string `json:"userId"`
	Reaction        string `json:"reaction"`
	ReactionUnicode string `json:"reactionUnicode"`
}

// Message is the persisted message record. Messages are never hard-deleted:
// Deleted is a terminal flag set by the store.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	Text           string          `json:"text"`
	RichContent    json.RawMessage `json:"richContent,omitempty"`
	Tags           []Tag           `json:"tags"`
	Likes          []string        `json:"likes"`
	Reactions      []Reaction      `json:"reactions"`
	Resolved       bool            `json:"resolved"`
	Deleted        bool            `json:"deleted"`
	CreatedAt      time.Time       `json:"createdAt"`

	// Seq is the insertion order; breaks createdAt ties inside a conversation.
	Seq int64 `json:"-"`
}

// NewMessage is the input of MessageStore.Create.
type NewMessage struct {
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	Text           string          `json:"text"`
	RichContent    json.RawMessage `json:"richContent,omitempty"`
}

// Before reports whether m sorts before o inside one conversation.
func (m *Message) Before(o *Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	if m.Seq != o.Seq {
		return m.Seq < o.Seq
	}
	return m.ID < o.ID
}

// MessageGroup is one conversation's slice of an aggregation result.
type MessageGroup struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}
