package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/chatcore/internal/config"
	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
	"github.com/chatcore/internal/storage/memory"
)

type testServer struct {
	router http.Handler
	msgs   *memory.MessageStore
	convs  *memory.ConversationStore
}

func newTestServer(t *testing.T, migrations config.MigrationsConfig) *testServer {
	t.Helper()
	msgs := memory.NewMessageStore()
	convs := memory.NewConversationStore()
	reports := memory.NewReportStore()

	r := chi.NewRouter()
	NewMessageHandler(
		service.NewMessageService(msgs, convs),
		service.NewAggregator(msgs),
		service.NewUnreadCounter(msgs, convs),
		7*24*time.Hour,
	).Register(r)
	NewConversationHandler(service.NewConversationService(convs)).Register(r)
	NewMigrationHandler(service.NewMigrator(msgs, convs, reports, migrations), migrations).Register(r)
	return &testServer{router: r, msgs: msgs, convs: convs}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) seed(t *testing.T, conversationID, senderID string, createdAt time.Time, set ...model.Tag) *model.Message {
	t.Helper()
	if set == nil {
		set = []model.Tag{}
	}
	m := &model.Message{
		ID:             conversationID + "-" + createdAt.Format("150405"),
		ConversationID: conversationID,
		SenderID:       senderID,
		Tags:           set,
		Likes:          []string{},
		Reactions:      []model.Reaction{},
		CreatedAt:      createdAt,
	}
	require.NoError(t, s.msgs.Create(context.Background(), m))
	return m
}

func (s *testServer) conversation(t *testing.T, id string, members ...model.Member) {
	t.Helper()
	require.NoError(t, s.convs.Create(context.Background(), &model.Conversation{ID: id, Product: "community", Members: members}))
}

var day = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func TestMessageLifecycle(t *testing.T) {
	s := newTestServer(t, config.MigrationsConfig{})
	s.conversation(t, "c1", model.Member{UserID: "u1"})

	rec := s.do(t, http.MethodPost, "/message", map[string]any{
		"conversationId": "c1", "senderId": "u1", "text": "hello",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[model.Message](t, rec)
	require.Equal(t, "hello", created.Text)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	for _, key := range []string{"id", "conversationId", "senderId", "text", "tags", "likes", "reactions", "resolved", "deleted", "createdAt"} {
		require.Contains(t, raw, key)
	}
	require.NotContains(t, raw, "seq")

	rec = s.do(t, http.MethodPut, "/message/"+created.ID+"/tags", []model.Tag{
		{ID: "t1", Type: model.TagTypeSubTopic}, {ID: "t1", Type: model.TagTypeSubTopic},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[model.Message](t, rec).Tags, 1)

	rec = s.do(t, http.MethodPut, "/message/"+created.ID+"/tags", []model.Tag{{ID: "t1", Type: "topic"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 0; i < 2; i++ {
		rec = s.do(t, http.MethodDelete, "/message/"+created.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.True(t, decode[model.Message](t, rec).Deleted)
	}

	rec = s.do(t, http.MethodGet, "/message/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[model.Message](t, rec).Deleted)

	rec = s.do(t, http.MethodGet, "/message/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/message", map[string]any{"conversationId": "nope", "senderId": "u1"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/conversation/c1/messages?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]model.Message](t, rec), 1)
}

func TestGroupByConversationEndpoint(t *testing.T) {
	s := newTestServer(t, config.MigrationsConfig{})
	s.conversation(t, "C1")
	s.conversation(t, "C2")
	tag := model.Tag{ID: "tag1", Type: model.TagTypeSubTopic}
	m1 := s.seed(t, "C1", "u1", day.Add(1*time.Hour), tag)
	s.seed(t, "C1", "u1", day.Add(2*time.Hour))
	m3 := s.seed(t, "C1", "u1", day.Add(3*time.Hour), tag)

	rec := s.do(t, http.MethodGet,
		"/conversation/messages?conversationIds=C1&conversationIds=C2&startDate=2024-03-01&endDate=2024-03-01&tag_id=tag1&tag_type=subTopic", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	groups := decode[[]model.MessageGroup](t, rec)
	require.Len(t, groups, 1)
	require.Equal(t, "C1", groups[0].ConversationID)
	require.Equal(t, []string{m1.ID, m3.ID}, []string{groups[0].Messages[0].ID, groups[0].Messages[1].ID})

	rec = s.do(t, http.MethodGet, "/conversation/messages?conversationIds=C2&startDate=2024-03-01&endDate=2024-03-02", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestGroupByConversationEndpoint_Validation(t *testing.T) {
	s := newTestServer(t, config.MigrationsConfig{})
	cases := []struct {
		name, query string
		status      int
	}{
		{"window wider than seven days", "conversationIds=C1&startDate=2024-03-01&endDate=2024-03-09", http.StatusBadRequest},
		{"seven full days", "conversationIds=C1&startDate=2024-03-01&endDate=2024-03-08", http.StatusOK},
		{"start after end", "conversationIds=C1&startDate=2024-03-05T00:00:00Z&endDate=2024-03-01T00:00:00Z", http.StatusBadRequest},
		{"malformed date", "conversationIds=C1&startDate=yesterday&endDate=2024-03-01", http.StatusBadRequest},
		{"bad tag type", "conversationIds=C1&startDate=2024-03-01&endDate=2024-03-02&tag_id=t&tag_type=topic", http.StatusBadRequest},
		{"tag id without type", "conversationIds=C1&startDate=2024-03-01&endDate=2024-03-02&tag_id=t", http.StatusBadRequest},
		{"no conversations", "startDate=2024-03-01&endDate=2024-03-02", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/conversation/messages?"+tc.query, nil)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestUnreadCountEndpoint(t *testing.T) {
	s := newTestServer(t, config.MigrationsConfig{})
	marker := day.Add(2 * time.Hour)
	s.conversation(t, "C1", model.Member{UserID: "U", LastReadAt: &marker}, model.Member{UserID: "V"})
	s.seed(t, "C1", "V", day.Add(1*time.Hour))
	s.seed(t, "C1", "V", day.Add(2*time.Hour))
	s.seed(t, "C1", "V", day.Add(3*time.Hour))
	s.seed(t, "C1", "U", day.Add(4*time.Hour))

	rec := s.do(t, http.MethodGet, "/conversation/unread-message-count/U?conversationIds=C1,missing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []model.UnreadCount{
		{ConversationID: "C1", UserID: "U", Count: 1},
		{ConversationID: "missing", UserID: "U", Count: 0},
	}, decode[[]model.UnreadCount](t, rec))
}

func TestConversationEndpoints(t *testing.T) {
	s := newTestServer(t, config.MigrationsConfig{})

	rec := s.do(t, http.MethodPost, "/conversation", map[string]any{
		"name": "team", "product": "community", "memberIds": []string{"u1", "u2"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	c := decode[model.Conversation](t, rec)

	rec = s.do(t, http.MethodPost, "/conversation/"+c.ID+"/member", map[string]string{"userId": "u3"})
	require.Equal(t, http.StatusOK, rec.Code)
	withMember := decode[model.Conversation](t, rec)
	require.Equal(t, []string{"u1", "u2", "u3"}, withMember.MemberIDs())

	rec = s.do(t, http.MethodDelete, "/conversation/"+c.ID+"/member/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/conversation/block-user", map[string]any{"memberId": "u9", "conversationIds": []string{c.ID, "missing"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"updated":1}`, rec.Body.String())

	// userId по-прежнему принимается
	rec = s.do(t, http.MethodPost, "/conversation/block-user", map[string]any{"userId": "u8", "conversationIds": []string{c.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/conversation/unblock-user", map[string]any{"memberId": "u8", "conversationIds": []string{c.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"updated":1}`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/conversation/"+c.ID+"/read", map[string]any{"userId": "u2", "at": day})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPut, "/conversation/"+c.ID+"/tags", []model.Tag{{ID: "x", Type: model.TagTypeSubTopic}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/conversation/"+c.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[model.Conversation](t, rec)
	require.Equal(t, []string{"u9"}, got.BlockedMembers)
	require.Equal(t, []model.Tag{{ID: "x", Type: model.TagTypeSubTopic}}, got.Tags)

	rec = s.do(t, http.MethodPost, "/conversation/direct", map[string]string{"userId": "a", "otherUserId": "b"})
	require.Equal(t, http.StatusOK, rec.Code)
	direct := decode[model.Conversation](t, rec)
	rec = s.do(t, http.MethodPost, "/conversation/direct", map[string]string{"userId": "b", "otherUserId": "a"})
	require.Equal(t, direct.ID, decode[model.Conversation](t, rec).ID)

	rec = s.do(t, http.MethodGet, "/conversation/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMigrationEndpoints_Gate(t *testing.T) {
	s := newTestServer(t, config.MigrationsConfig{AllowMigrations: false, PermissionProduct: "community"})

	rec := s.do(t, http.MethodPost, "/conversation/migrate-last-messages", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(t, http.MethodPost, "/conversation/migrate-permissions", map[string]any{"product": "community"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMigrationEndpoints(t *testing.T) {
	s := newTestServer(t, config.MigrationsConfig{AllowMigrations: true, PermissionProduct: "community", Concurrency: 2, PageSize: 10})
	s.conversation(t, "C1")
	m := s.seed(t, "C1", "u1", day)

	rec := s.do(t, http.MethodPost, "/conversation/migrate-permissions", map[string]any{
		"product": "enterprise", "conversationIds": []string{"C1"},
	})
	require.Equal(t, http.StatusNotImplemented, rec.Code)

	rec = s.do(t, http.MethodPost, "/conversation/migrate-permissions", map[string]any{
		"product":         "community",
		"conversationIds": []string{"C1", "gone"},
		"permissions":     []model.Permission{{Action: "read", Subject: "message"}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[model.MigrationResult](t, rec)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, 1, res.Skipped)

	rec = s.do(t, http.MethodPost, "/conversation/migrate-last-messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decode[model.MigrationResult](t, rec).Updated)

	c, err := s.convs.GetByID(context.Background(), "C1")
	require.NoError(t, err)
	require.Equal(t, m.ID, c.LastMessageID)

	rec = s.do(t, http.MethodGet, "/conversation/migrations/"+model.JobLastMessages, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[model.MigrationReport](t, rec).Completed)

	rec = s.do(t, http.MethodGet, "/conversation/migrations/unknown", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
