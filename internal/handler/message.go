package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
	"github.com/chatcore/internal/tags"
)

type MessageHandler struct {
	messages  *service.MessageService
	agg       *service.Aggregator
	unread    *service.UnreadCounter
	maxWindow time.Duration
}

func NewMessageHandler(messages *service.MessageService, agg *service.Aggregator, unread *service.UnreadCounter, maxWindow time.Duration) *MessageHandler {
	return &MessageHandler{messages: messages, agg: agg, unread: unread, maxWindow: maxWindow}
}

func (h *MessageHandler) Register(r chi.Router) {
	r.Post("/message", h.Create)
	r.Get("/message/{messageId}", h.Get)
	r.Delete("/message/{messageId}", h.Delete)
	r.Put("/message/{messageId}/tags", h.ReplaceTags)
	r.Get("/conversation/messages", h.GroupByConversation)
	r.Get("/conversation/unread-message-count/{userId}", h.UnreadCounts)
	r.Get("/conversation/{conversationId}/messages", h.List)
}

type createMessageRequest struct {
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	Text           string          `json:"text"`
	RichContent    json.RawMessage `json:"richContent,omitempty"`
}

func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.messages.Create(r.Context(), model.NewMessage{
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Text:           req.Text,
		RichContent:    req.RichContent,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.messages.Get(r.Context(), chi.URLParam(r, "messageId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	m, err := h.messages.Delete(r.Context(), chi.URLParam(r, "messageId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ReplaceTags принимает массив тегов [{id, type}] и полностью заменяет набор.
func (h *MessageHandler) ReplaceTags(w http.ResponseWriter, r *http.Request) {
	var set []model.Tag
	if !decodeJSON(w, r, &set) {
		return
	}
	m, err := h.messages.ReplaceTags(r.Context(), chi.URLParam(r, "messageId"), set)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := h.messages.List(r.Context(),
		chi.URLParam(r, "conversationId"),
		r.URL.Query().Get("offsetId"),
		queryInt(r, "limit", service.DefaultPageSize),
	)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GroupByConversation проверяет ширину окна (не больше maxWindow) и фильтр тега до вызова агрегатора.
func (h *MessageHandler) GroupByConversation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := tags.NewFilter(q.Get("tag_id"), q.Get("tag_type"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	start, _, err := parseDate("startDate", q.Get("startDate"), false)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	end, endDateOnly, err := parseDate("endDate", q.Get("endDate"), true)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	width := end.Sub(start)
	if endDateOnly {
		// the end day is included in full, so measure from its midnight
		width = end.Add(time.Nanosecond - 24*time.Hour).Sub(start)
	}
	if h.maxWindow > 0 && width > h.maxWindow {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("duration must be within %d days", int(h.maxWindow.Hours()/24)))
		return
	}

	groups, err := h.agg.GroupByConversation(r.Context(), service.GroupQuery{
		ConversationIDs: queryIDs(r, "conversationIds"),
		Start:           start,
		End:             end,
		Filter:          filter,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (h *MessageHandler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.unread.UnreadCounts(r.Context(), chi.URLParam(r, "userId"), queryIDs(r, "conversationIds"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
