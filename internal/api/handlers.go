package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shubhsaxena/event-search-service/internal/models"
)

// SearchService is the read surface the handlers expose.
type SearchService interface {
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResult, error)
	Autocomplete(ctx context.Context, prefix string, max int) ([]models.Suggestion, error)
	SimilarTo(ctx context.Context, id string, max int) (*models.SearchResult, error)
	Popular(ctx context.Context, category, city string, max int) (*models.SearchResult, error)
}

// IndexService is the mutation surface the handlers expose.
type IndexService interface {
	Upsert(ctx context.Context, doc *models.EventDocument, version string) error
	Update(ctx context.Context, doc *models.EventDocument, version string) error
	BulkUpsert(ctx context.Context, docs []models.EventDocument) error
	Delete(ctx context.Context, id, version string) error
	Exists(ctx context.Context, id string) (bool, error)
}

type Handlers struct {
	search SearchService
	index  IndexService
	logger *zap.Logger
}

func NewHandlers(search SearchService, index IndexService, logger *zap.Logger) *Handlers {
	return &Handlers{search: search, index: index, logger: logger}
}

func (h *Handlers) SearchEvents(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if query.MinPrice != nil && query.MaxPrice != nil && *query.MinPrice > *query.MaxPrice {
		respondError(w, http.StatusBadRequest, "minPrice must not exceed maxPrice")
		return
	}
	if query.StartDate != nil && query.EndDate != nil && query.StartDate.After(*query.EndDate) {
		respondError(w, http.StatusBadRequest, "startDate must not be after endDate")
		return
	}

	result, err := h.search.Search(r.Context(), &query)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) Autocomplete(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("query")
	max, err := queryInt(r, "maxResults", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "maxResults must be an integer")
		return
	}

	suggestions, err := h.search.Autocomplete(r.Context(), prefix, max)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "autocomplete failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (h *Handlers) SimilarEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "eventId")
	if id == "" {
		respondError(w, http.StatusBadRequest, "eventId required")
		return
	}
	max, err := queryInt(r, "maxResults", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "maxResults must be an integer")
		return
	}

	result, err := h.search.SimilarTo(r.Context(), id, max)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "similar lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) PopularEvents(w http.ResponseWriter, r *http.Request) {
	max, err := queryInt(r, "maxResults", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "maxResults must be an integer")
		return
	}

	result, err := h.search.Popular(
		r.Context(),
		r.URL.Query().Get("category"),
		r.URL.Query().Get("city"),
		max,
	)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "popular lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) IndexEvent(w http.ResponseWriter, r *http.Request) {
	var doc models.EventDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if doc.ID == "" {
		respondError(w, http.StatusBadRequest, "document id required")
		return
	}

	if err := h.index.Upsert(r.Context(), &doc, ""); err != nil {
		h.logger.Error("index upsert failed", zap.String("id", doc.ID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "indexing failed")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": doc.ID, "status": "indexed"})
}

func (h *Handlers) BulkIndexEvents(w http.ResponseWriter, r *http.Request) {
	var docs []models.EventDocument
	if err := json.NewDecoder(r.Body).Decode(&docs); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(docs) == 0 {
		respondError(w, http.StatusBadRequest, "at least one document required")
		return
	}

	if err := h.index.BulkUpsert(r.Context(), docs); err != nil {
		h.logger.Error("bulk index failed", zap.Int("count", len(docs)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "bulk indexing failed")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"indexed": len(docs), "status": "indexed"})
}

func (h *Handlers) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "eventId")

	var doc models.EventDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if doc.ID == "" {
		doc.ID = id
	}
	if doc.ID != id {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("path id %s does not match body id %s", id, doc.ID))
		return
	}

	if err := h.index.Update(r.Context(), &doc, ""); err != nil {
		h.logger.Error("index update failed", zap.String("id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "update failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "updated"})
}

func (h *Handlers) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "eventId")
	if id == "" {
		respondError(w, http.StatusBadRequest, "eventId required")
		return
	}

	if err := h.index.Delete(r.Context(), id, ""); err != nil {
		h.logger.Error("index delete failed", zap.String("id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (h *Handlers) EventExists(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "eventId")
	if id == "" {
		respondError(w, http.StatusBadRequest, "eventId required")
		return
	}

	exists, err := h.index.Exists(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "existence check failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "exists": exists})
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
