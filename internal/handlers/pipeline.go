package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/models"
	"github.com/benvon/studygen/internal/pipeline"
	"github.com/benvon/studygen/internal/request"
)

// PipelineService is the pipeline as used by the HTTP layer
type PipelineService interface {
	Enqueue(ctx context.Context, caller *request.Caller, in pipeline.EnqueueInput) (*models.GenerationRequest, error)
	Status(ctx context.Context, ownerID uuid.UUID) (*pipeline.Status, error)
	Current(ctx context.Context, ownerID uuid.UUID) (*models.ContentVersion, error)
	Versions(ctx context.Context, ownerID uuid.UUID) ([]*models.VersionSummary, error)
	Restore(ctx context.Context, caller *request.Caller, versionID uuid.UUID) (*models.ContentVersion, error)
	UpdateContent(ctx context.Context, caller *request.Caller, content string) (*models.ContentVersion, error)
	Reset(ctx context.Context, caller *request.Caller) (*pipeline.ResetResult, error)
	Blob(ctx context.Context, ownerID, versionID uuid.UUID, area models.BlobArea) (*models.Blob, error)
	Chat(ctx context.Context, caller *request.Caller, in pipeline.ChatInput) (*pipeline.ChatReply, error)
	ClearChat(caller *request.Caller) error
	Rubric(ctx context.Context, caller *request.Caller, topic string) (string, error)
}

var _ PipelineService = (*pipeline.Service)(nil)

// PipelineHandler exposes the generation pipeline over HTTP. Every route acts on the
// owner named in the caller's token.
type PipelineHandler struct {
	service PipelineService
	logger  *zap.Logger
}

// NewPipelineHandler creates a new pipeline handler
func NewPipelineHandler(service PipelineService, log *zap.Logger) *PipelineHandler {
	return &PipelineHandler{service: service, logger: logger.OrNop(log).Named("handlers")}
}

// RegisterRoutes registers the content routes that answer quickly
func (h *PipelineHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/generations", h.Enqueue).Methods(http.MethodPost)
	r.HandleFunc("/status", h.Status).Methods(http.MethodGet)
	r.HandleFunc("/content", h.Current).Methods(http.MethodGet)
	r.HandleFunc("/content", h.UpdateContent).Methods(http.MethodPut)
	r.HandleFunc("/content", h.Reset).Methods(http.MethodDelete)
	r.HandleFunc("/versions", h.Versions).Methods(http.MethodGet)
	r.HandleFunc("/versions/{id}/restore", h.Restore).Methods(http.MethodPost)
	r.HandleFunc("/versions/{id}/blobs/{area}", h.Blob).Methods(http.MethodGet)
}

// RegisterAssistantRoutes registers the chat and rubric routes, which wait on the LLM
// backend. Both /chat methods live here so the path is owned by one router.
func (h *PipelineHandler) RegisterAssistantRoutes(r *mux.Router) {
	r.HandleFunc("/chat", h.Chat).Methods(http.MethodPost)
	r.HandleFunc("/chat", h.ClearChat).Methods(http.MethodDelete)
	r.HandleFunc("/rubric", h.Rubric).Methods(http.MethodPost)
}

// EnqueueResponse acknowledges a queued generation
type EnqueueResponse struct {
	QueueID uuid.UUID             `json:"queue_id"`
	Type    models.GenerationType `json:"type"`
	Status  string                `json:"status"`
}

// ContentUpdateRequest replaces the current version's content
type ContentUpdateRequest struct {
	Content string `json:"content"`
}

// RubricRequest asks for an assessment rubric
type RubricRequest struct {
	Topic string `json:"topic"`
}

// Enqueue handles POST /api/v1/generations
func (h *PipelineHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var in pipeline.EnqueueInput
	if err := decodeJSON(r, &in); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	req, err := h.service.Enqueue(r.Context(), request.CallerFromContext(r.Context()), in)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusAccepted, EnqueueResponse{
		QueueID: req.ID,
		Type:    req.Type,
		Status:  req.Status.String(),
	})
}

// Status handles GET /api/v1/status
func (h *PipelineHandler) Status(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	status, err := h.service.Status(r.Context(), caller.OwnerID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// Current handles GET /api/v1/content
func (h *PipelineHandler) Current(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	v, err := h.service.Current(r.Context(), caller.OwnerID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// UpdateContent handles PUT /api/v1/content
func (h *PipelineHandler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	var req ContentUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	v, err := h.service.UpdateContent(r.Context(), request.CallerFromContext(r.Context()), req.Content)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// Reset handles DELETE /api/v1/content
func (h *PipelineHandler) Reset(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Reset(r.Context(), request.CallerFromContext(r.Context()))
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Versions handles GET /api/v1/versions
func (h *PipelineHandler) Versions(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	versions, err := h.service.Versions(r.Context(), caller.OwnerID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	if versions == nil {
		versions = []*models.VersionSummary{}
	}
	respondJSON(w, http.StatusOK, versions)
}

// Restore handles POST /api/v1/versions/{id}/restore
func (h *PipelineHandler) Restore(w http.ResponseWriter, r *http.Request) {
	versionID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid version ID")
		return
	}
	v, err := h.service.Restore(r.Context(), request.CallerFromContext(r.Context()), versionID)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// Blob handles GET /api/v1/versions/{id}/blobs/{area} and streams the stored file
func (h *PipelineHandler) Blob(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	versionID, err := uuid.Parse(vars["id"])
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Invalid version ID")
		return
	}
	area := models.BlobArea(vars["area"])
	if !area.Valid() {
		respondJSONError(w, http.StatusBadRequest, "Bad Request", "Unknown blob area")
		return
	}

	blob, err := h.service.Blob(r.Context(), caller.OwnerID, versionID, area)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", blob.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", blob.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(blob.Data); err != nil {
		h.logger.Warn("blob_write_failed", zap.Error(err))
	}
}

// Chat handles POST /api/v1/chat
func (h *PipelineHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var in pipeline.ChatInput
	if err := decodeJSON(r, &in); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	reply, err := h.service.Chat(r.Context(), request.CallerFromContext(r.Context()), in)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

// ClearChat handles DELETE /api/v1/chat
func (h *PipelineHandler) ClearChat(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearChat(request.CallerFromContext(r.Context())); err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rubric handles POST /api/v1/rubric
func (h *PipelineHandler) Rubric(w http.ResponseWriter, r *http.Request) {
	var req RubricRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondServiceError(w, h.logger, err)
			return
		}
	}
	rubric, err := h.service.Rubric(r.Context(), request.CallerFromContext(r.Context()), req.Topic)
	if err != nil {
		respondServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"rubric": rubric})
}

func (h *PipelineHandler) caller(w http.ResponseWriter, r *http.Request) (*request.Caller, bool) {
	caller := request.CallerFromContext(r.Context())
	if caller == nil {
		respondServiceError(w, h.logger, pipeline.ErrNoCaller)
		return nil, false
	}
	return caller, true
}
