package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
)

type ConversationHandler struct {
	conversations *service.ConversationService
}

func NewConversationHandler(conversations *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

func (h *ConversationHandler) Register(r chi.Router) {
	r.Post("/conversation", h.Create)
	r.Post("/conversation/direct", h.CreateDirect)
	r.Post("/conversation/block-user", h.Block)
	r.Post("/conversation/unblock-user", h.Unblock)
	r.Get("/conversation/{conversationId}", h.Get)
	r.Put("/conversation/{conversationId}/tags", h.UpdateTags)
	r.Post("/conversation/{conversationId}/member", h.AddMember)
	r.Delete("/conversation/{conversationId}/member/{memberId}", h.RemoveMember)
	r.Post("/conversation/{conversationId}/read", h.MarkRead)
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.NewConversation
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.conversations.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

type directRequest struct {
	UserID      string `json:"userId"`
	OtherUserID string `json:"otherUserId"`
	Product     string `json:"product"`
}

// CreateDirect возвращает существующий личный чат пары, если он уже есть.
func (h *ConversationHandler) CreateDirect(w http.ResponseWriter, r *http.Request) {
	var req directRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.conversations.CreateDirect(r.Context(), req.UserID, req.OtherUserID, req.Product)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.conversations.Get(r.Context(), chi.URLParam(r, "conversationId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ConversationHandler) UpdateTags(w http.ResponseWriter, r *http.Request) {
	var set []model.Tag
	if !decodeJSON(w, r, &set) {
		return
	}
	c, err := h.conversations.UpdateTags(r.Context(), chi.URLParam(r, "conversationId"), set)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type memberRequest struct {
	UserID string `json:"userId"`
}

func (h *ConversationHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	c, err := h.conversations.AddMember(r.Context(), chi.URLParam(r, "conversationId"), req.UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ConversationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	c, err := h.conversations.RemoveMember(r.Context(), chi.URLParam(r, "conversationId"), chi.URLParam(r, "memberId"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// blockRequest принимает memberId; userId оставлен для старых клиентов.
type blockRequest struct {
	MemberID        string   `json:"memberId"`
	UserID          string   `json:"userId"`
	ConversationIDs []string `json:"conversationIds"`
}

func (r blockRequest) member() string {
	if r.MemberID != "" {
		return r.MemberID
	}
	return r.UserID
}

type blockResponse struct {
	Updated int `json:"updated"`
}

func (h *ConversationHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, true)
}

func (h *ConversationHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.setBlocked(w, r, false)
}

func (h *ConversationHandler) setBlocked(w http.ResponseWriter, r *http.Request, blocked bool) {
	var req blockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	n, err := h.conversations.SetBlocked(r.Context(), req.ConversationIDs, req.member(), blocked)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, blockResponse{Updated: n})
}

type readRequest struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

// MarkRead сдвигает маркер прочтения; без "at" используется текущее время.
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.conversations.MarkRead(r.Context(), chi.URLParam(r, "conversationId"), req.UserID, req.At); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
