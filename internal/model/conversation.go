package model

import "time"

type Member struct {
	UserID string `json:"userId"`
	// LastReadAt is the member's last-read marker; nil means the member has read nothing yet.
	LastReadAt *time.Time `json:"lastReadAt,omitempty"`
}

type Conversation struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Product        string       `json:"product"`
	Direct         bool         `json:"direct"`
	Members        []Member     `json:"members"`
	BlockedMembers []string     `json:"blockedMembers"`
	Permissions    []Permission `json:"permissions"`
	Tags           []Tag        `json:"tags"`
	LastMessageID  string       `json:"lastMessageId,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// MemberIDs returns the ids of all members in stored order.
func (c *Conversation) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// UnreadCount is a computed projection, never persisted.
type UnreadCount struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Count          int    `json:"count"`
}
