package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chatcore/internal/model"
	"github.com/chatcore/internal/service"
)

// MigrationHandler exposes the batch jobs. Both run synchronously within the request and are
// refused while the gate is off.
type MigrationHandler struct {
	migrator *service.Migrator
	gate     service.MigrationGate
}

func NewMigrationHandler(migrator *service.Migrator, gate service.MigrationGate) *MigrationHandler {
	return &MigrationHandler{migrator: migrator, gate: gate}
}

func (h *MigrationHandler) Register(r chi.Router) {
	r.Post("/conversation/migrate-permissions", h.MigratePermissions)
	r.Post("/conversation/migrate-last-messages", h.MigrateLastMessages)
	r.Get("/conversation/migrations/{job}", h.LastReport)
}

type migratePermissionsRequest struct {
	Permissions     []model.Permission `json:"permissions"`
	Product         string             `json:"product"`
	ConversationIDs []string           `json:"conversationIds"`
}

func (h *MigrationHandler) MigratePermissions(w http.ResponseWriter, r *http.Request) {
	if err := service.RequireMigrations(h.gate); err != nil {
		writeServiceError(w, r, err)
		return
	}
	var req migratePermissionsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.migrator.MigratePermissions(r.Context(), req.Permissions, req.Product, req.ConversationIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *MigrationHandler) MigrateLastMessages(w http.ResponseWriter, r *http.Request) {
	if err := service.RequireMigrations(h.gate); err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := h.migrator.MigrateLastMessages(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *MigrationHandler) LastReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.migrator.LastReport(r.Context(), chi.URLParam(r, "job"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
