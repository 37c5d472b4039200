package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/leeaandrob/cloracle/internal/chat"
	"github.com/leeaandrob/cloracle/internal/llm"
	"github.com/leeaandrob/cloracle/internal/models"
	"github.com/leeaandrob/cloracle/internal/oracle"
	"github.com/leeaandrob/cloracle/internal/storage"
)

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondFailure maps an operation error to its status code. Unclassified
// errors become a 500 carrying the error text as details.
func respondFailure(w http.ResponseWriter, err error, message string) {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "Event not found")
	case errors.Is(err, chat.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "message is required")
	case errors.As(err, &validationErrs):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, llm.ErrRateLimited):
		respondError(w, http.StatusTooManyRequests, "API rate limit reached. Please wait a moment before trying again.")
	case errors.Is(err, oracle.ErrInconclusive):
		respondError(w, http.StatusServiceUnavailable, "Analysis temporarily unavailable. Please try again in a few moments.")
	default:
		log.Error().Err(err).Msg(message)
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   message,
			"details": err.Error(),
		})
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func getLimit(r *http.Request, defaultLimit int) int {
	limit := defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	return limit
}

func getOffset(r *http.Request) int {
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return 0
}

// ============================================================================
// GENERAL HANDLERS
// ============================================================================

// HealthCheck returns service health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// GetStats returns general statistics.
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.Stats(r.Context())
	if err != nil {
		respondFailure(w, err, "Failed to fetch stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// GetCategories lists the category labels.
func (s *Server) GetCategories(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"categories": models.DefaultCategories,
		"count":      len(models.DefaultCategories),
	})
}

// ============================================================================
// EVENT HANDLERS
// ============================================================================

// ListEvents returns a page of active events with their latest prediction.
func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.EventFilter{
		ActiveOnly:   true,
		AnalyzedOnly: q.Get("analyzed") == "true",
		Order:        storage.OrderUpdatedDesc,
		Limit:        getLimit(r, 50),
		Offset:       getOffset(r),
	}
	if c := q.Get("category"); c != "" && c != "all" {
		filter.Category = c
	}

	page, err := storage.ListEvents(r.Context(), s.deps.Store, filter)
	if err != nil {
		respondFailure(w, err, "Failed to fetch events")
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// GetEvent returns one event with its full prediction history, newest first.
func (s *Server) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := s.deps.Store.GetEvent(r.Context(), id)
	if err != nil {
		respondFailure(w, err, "Failed to fetch event")
		return
	}

	predictions, err := s.deps.Store.ListPredictions(r.Context(), id, 0)
	if err != nil {
		respondFailure(w, err, "Failed to fetch event")
		return
	}
	if predictions == nil {
		predictions = []models.Prediction{}
	}

	respondJSON(w, http.StatusOK, struct {
		*models.Event
		Divergence  *float64            `json:"divergence"`
		Predictions []models.Prediction `json:"predictions"`
	}{event, event.Divergence(), predictions})
}

// DeleteEvent removes an event and its predictions.
func (s *Server) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondFailure(w, err, "Failed to delete event")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// ============================================================================
// SYNC HANDLERS
// ============================================================================

// SyncNow fetches the market feed and reconciles it.
func (s *Server) SyncNow(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Syncer.SyncOnce(r.Context())
	if err != nil {
		respondFailure(w, err, "Failed to sync events")
		return
	}

	message := "Sync completed successfully"
	if res.Total == 0 {
		message = "No events fetched from Polymarket"
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":     message,
		"created":     res.Created,
		"updated":     res.Updated,
		"skipped":     res.Skipped,
		"deactivated": res.Deactivated,
		"total":       res.Total,
	})
}

// SyncStatus returns event counts and the last sync time.
func (s *Server) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.deps.Syncer.Status(r.Context())
	if err != nil {
		respondFailure(w, err, "Failed to get sync status")
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// ============================================================================
// ANALYSIS HANDLERS
// ============================================================================

type analyzeRequest struct {
	EventID string `json:"eventId" validate:"required"`
}

type analyzeBatchRequest struct {
	EventIDs []string `json:"eventIds" validate:"omitempty,max=50,dive,required"`
	Limit    int      `json:"limit" validate:"omitempty,min=1,max=50"`
}

// AnalyzeEvent analyzes one event.
func (s *Server) AnalyzeEvent(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "eventId is required")
		return
	}

	event, analysis, err := s.deps.Oracle.AnalyzeOne(r.Context(), req.EventID)
	if err != nil {
		respondFailure(w, err, "Analysis failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"event":    event,
		"analysis": analysis,
	})
}

// AnalyzeBatch analyzes the given events, or a few unanalyzed ones.
func (s *Server) AnalyzeBatch(w http.ResponseWriter, r *http.Request) {
	var req analyzeBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondFailure(w, err, "Batch analysis failed")
		return
	}

	res, err := s.deps.Oracle.AnalyzeBatch(r.Context(), req.EventIDs, req.Limit)
	if err != nil && res == nil {
		respondFailure(w, err, "Batch analysis failed")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// AnalyzeAll runs one auto-analysis batch over the backlog.
func (s *Server) AnalyzeAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.deps.BatchBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deps.BatchBudget)
		defer cancel()
	}

	res, err := s.deps.Oracle.RunAutoAnalyzeBatch(ctx)
	if err != nil {
		respondFailure(w, err, "Failed to auto-analyze events")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ============================================================================
// CATEGORY HANDLERS
// ============================================================================

// Reclassify re-runs the classifier over every stored event.
func (s *Server) Reclassify(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Syncer.ReclassifyAll(r.Context())
	if err != nil {
		respondFailure(w, err, "Failed to reclassify events")
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// CategoryDistribution counts stored events per category.
func (s *Server) CategoryDistribution(w http.ResponseWriter, r *http.Request) {
	counts, total, err := s.deps.Syncer.CategoryDistribution(r.Context())
	if err != nil {
		respondFailure(w, err, "Failed to get categories")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"categories": counts,
		"total":      total,
	})
}

// ============================================================================
// CHAT HANDLERS
// ============================================================================

// Chat answers a user message, optionally about an event.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	reply, err := s.deps.Chat.Respond(r.Context(), req)
	if err != nil {
		respondFailure(w, err, "Chat failed")
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

// ChatHistory returns recent chat messages, oldest first.
func (s *Server) ChatHistory(w http.ResponseWriter, r *http.Request) {
	var eventID *string
	if id := r.URL.Query().Get("eventId"); id != "" {
		eventID = &id
	}

	messages, err := s.deps.Chat.History(r.Context(), eventID, getLimit(r, chat.DefaultHistoryLimit))
	if err != nil {
		respondFailure(w, err, "Failed to fetch chat history")
		return
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}
