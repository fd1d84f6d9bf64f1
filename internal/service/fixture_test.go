package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/storage/memory"
)

var t0 = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return t0.Add(time.Duration(minutes) * time.Minute) }

func subTopic(id string) model.Tag { return model.Tag{ID: id, Type: model.TagTypeSubTopic} }

type fixture struct {
	ctx     context.Context
	msgs    *memory.MessageStore
	convs   *memory.ConversationStore
	reports *memory.ReportStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		ctx:     context.Background(),
		msgs:    memory.NewMessageStore(),
		convs:   memory.NewConversationStore(),
		reports: memory.NewReportStore(),
	}
}

func (f *fixture) conversation(t *testing.T, id string, members ...model.Member) {
	t.Helper()
	require.NoError(t, f.convs.Create(f.ctx, &model.Conversation{
		ID:             id,
		Product:        "community",
		Members:        members,
		BlockedMembers: []string{},
		Permissions:    []model.Permission{},
		Tags:           []model.Tag{},
		CreatedAt:      t0,
	}))
}

// message stores a message with an explicit createdAt, bypassing the service clock.
func (f *fixture) message(t *testing.T, conversationID, senderID string, createdAt time.Time, set ...model.Tag) *model.Message {
	t.Helper()
	if set == nil {
		set = []model.Tag{}
	}
	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           "hello",
		Tags:           set,
		Likes:          []string{},
		Reactions:      []model.Reaction{},
		CreatedAt:      createdAt,
	}
	require.NoError(t, f.msgs.Create(f.ctx, m))
	return m
}

func (f *fixture) deleted(t *testing.T, m *model.Message) {
	t.Helper()
	_, err := f.msgs.SoftDelete(f.ctx, m.ID)
	require.NoError(t, err)
}

func ids(msgs []model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func member(userID string, lastRead *time.Time) model.Member {
	return model.Member{UserID: userID, LastReadAt: lastRead}
}

func ptr(t time.Time) *time.Time { return &t }
