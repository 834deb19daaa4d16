// Package api exposes the bot core over HTTP. The chat transport is a
// separate process; it identifies the end user via the X-User-ID header and
// this layer does the rest: gate, match, catalog admin, whitelist admin.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/rmedgar/nekowat/internal/catalog"
	"github.com/rmedgar/nekowat/internal/usage"
	"github.com/rmedgar/nekowat/internal/wat"
	"github.com/rmedgar/nekowat/internal/wat/dispatcher"
	"github.com/rmedgar/nekowat/internal/wat/matcher"
	apperrors "github.com/rmedgar/nekowat/pkg/errors"
	"github.com/rmedgar/nekowat/pkg/logger"
	"github.com/rmedgar/nekowat/pkg/middleware"
)

// Tracker receives usage events from served requests. *usage.Collector
// satisfies it.
type Tracker interface {
	Track(usage.MatchEvent)
}

// Handler serves the bot API. collector and aggregator are optional.
type Handler struct {
	dispatcher *dispatcher.Dispatcher
	catalog    *catalog.Service
	collector  Tracker
	aggregator *usage.Aggregator
	logger     *slog.Logger
}

// New creates the API handler.
func New(d *dispatcher.Dispatcher, cat *catalog.Service, collector Tracker, aggregator *usage.Aggregator) *Handler {
	return &Handler{
		dispatcher: d,
		catalog:    cat,
		collector:  collector,
		aggregator: aggregator,
		logger:     slog.Default().With("component", "api-handler"),
	}
}

type watResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	FileIDs     []string `json:"file_ids"`
	FileID      string   `json:"file_id"`       // largest variant, for direct replies
	ThumbFileID string   `json:"thumb_file_id"` // smallest variant, for inline thumbnails
	Tags        []string `json:"tags"`
}

type matchResponse struct {
	WATs     []watResponse `json:"wats"`
	Wildcard bool          `json:"wildcard"`
	TookMs   float64       `json:"took_ms"`
}

// Match answers GET /v1/wat: a single image for the expression in q.
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	h.serveMatch(w, r, matcher.ModeSingle)
}

// Inline answers GET /v1/inline: a ranked page of images for the expression,
// the shape inline query UIs consume.
func (h *Handler) Inline(w http.ResponseWriter, r *http.Request) {
	h.serveMatch(w, r, matcher.ModeRanked)
}

func (h *Handler) serveMatch(w http.ResponseWriter, r *http.Request, mode matcher.Mode) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	userID, err := requestUserID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	expression := r.URL.Query().Get("q")

	result, err := h.dispatcher.Match(ctx, userID, expression, mode)
	if err != nil {
		if h.collector != nil && errors.Is(err, apperrors.ErrPermissionDenied) {
			h.collector.Track(usage.MatchEvent{
				Type:      usage.EventDenied,
				UserID:    userID,
				Timestamp: time.Now().UTC(),
				RequestID: middleware.GetRequestID(ctx),
			})
		}
		log.Warn("match failed", "user_id", userID, "mode", mode.String(), "error", err)
		h.writeError(w, err)
		return
	}

	tookMs := float64(time.Since(start).Microseconds()) / 1000
	resp := matchResponse{
		WATs:     make([]watResponse, 0, len(result.WATs)),
		Wildcard: result.Wildcard,
		TookMs:   tookMs,
	}
	for _, record := range result.WATs {
		resp.WATs = append(resp.WATs, toWatResponse(record))
	}

	if h.collector != nil {
		served := make([]string, 0, len(result.WATs))
		for _, record := range result.WATs {
			served = append(served, record.ID)
		}
		h.collector.Track(usage.MatchEvent{
			Type:       usage.EventMatch,
			UserID:     userID,
			Expression: expression,
			Mode:       mode.String(),
			Wildcard:   result.Wildcard,
			Served:     served,
			CacheHit:   result.CacheHit,
			LatencyMs:  time.Since(start).Milliseconds(),
			Timestamp:  time.Now().UTC(),
			RequestID:  middleware.GetRequestID(ctx),
		})
	}

	log.Info("match served",
		"user_id", userID,
		"mode", mode.String(),
		"wildcard", result.Wildcard,
		"returned", len(resp.WATs),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// Me answers GET /v1/me with the caller's standing.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    userID,
		"authorized": h.dispatcher.Authorize(userID),
		"owner":      h.dispatcher.IsOwner(userID),
	})
}

// Stats answers GET /v1/stats. Owner only.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !h.dispatcher.IsOwner(userID) {
		h.writeError(w, apperrors.Newf(apperrors.ErrPermissionDenied, http.StatusForbidden, "user %d is not the owner", userID))
		return
	}
	if h.aggregator == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	topN, err := queryInt(r, "top", 10)
	if err != nil {
		h.writeError(w, err)
		return
	}
	stats := h.aggregator.Stats(topN)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"catalog_size": h.catalog.Size(),
		"usage":        stats,
	})
}

// ListWATs answers GET /v1/wats with the whole catalog. Owner only.
func (h *Handler) ListWATs(w http.ResponseWriter, r *http.Request) {
	if !h.requireOwner(w, r) {
		return
	}
	records := h.catalog.List()
	resp := make([]watResponse, 0, len(records))
	for _, record := range records {
		resp = append(resp, toWatResponse(record))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"wats": resp, "total": len(resp)})
}

type createWatRequest struct {
	ID      string   `json:"id,omitempty"`
	Name    string   `json:"name"`
	FileIDs []string `json:"file_ids"`
	Tags    []string `json:"tags"`
}

// CreateWAT answers POST /v1/wats. Owner only.
func (h *Handler) CreateWAT(w http.ResponseWriter, r *http.Request) {
	if !h.requireOwner(w, r) {
		return
	}
	var req createWatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body"))
		return
	}

	added, err := h.catalog.Add(r.Context(), &wat.WAT{
		ID:      req.ID,
		Name:    req.Name,
		FileIDs: req.FileIDs,
		Tags:    req.Tags,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toWatResponse(added))
}

// DeleteWAT answers DELETE /v1/wats/{id}. Owner only.
func (h *Handler) DeleteWAT(w http.ResponseWriter, r *http.Request) {
	if !h.requireOwner(w, r) {
		return
	}
	id := r.PathValue("id")
	if err := h.catalog.Remove(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "id": id})
}

type setTagsRequest struct {
	Tags []string `json:"tags"`
}

// SetWATTags answers PUT /v1/wats/{id}/tags. Owner only.
func (h *Handler) SetWATTags(w http.ResponseWriter, r *http.Request) {
	if !h.requireOwner(w, r) {
		return
	}
	id := r.PathValue("id")
	var req setTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body"))
		return
	}
	if err := h.catalog.SetTags(r.Context(), id, req.Tags); err != nil {
		h.writeError(w, err)
		return
	}
	record, ok := h.catalog.Get(id)
	if !ok {
		// Removed between SetTags and the re-read.
		h.writeError(w, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "wat %q not found", id))
		return
	}
	h.writeJSON(w, http.StatusOK, toWatResponse(record))
}

// ListWhitelist answers GET /v1/whitelist. Owner only (enforced by the gate).
func (h *Handler) ListWhitelist(w http.ResponseWriter, r *http.Request) {
	userID, err := requestUserID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	entries, err := h.dispatcher.ListUsers(userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"enabled": h.dispatcher.WhitelistEnabled(),
		"entries": entries,
		"total":   len(entries),
	})
}

type whitelistRequest struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

// AddWhitelist answers POST /v1/whitelist.
func (h *Handler) AddWhitelist(w http.ResponseWriter, r *http.Request) {
	requesterID, err := requestUserID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req whitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "user_id is required"))
		return
	}

	entry, err := h.dispatcher.AddUser(r.Context(), requesterID, req.UserID, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, entry)
}

// RemoveWhitelist answers DELETE /v1/whitelist/{id}.
func (h *Handler) RemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	requesterID, err := requestUserID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	targetID, err := pathInt64(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.dispatcher.RemoveUser(r.Context(), requesterID, targetID); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "removed", "user_id": targetID})
}

func (h *Handler) requireOwner(w http.ResponseWriter, r *http.Request) bool {
	userID, err := requestUserID(r)
	if err != nil {
		h.writeError(w, err)
		return false
	}
	if !h.dispatcher.IsOwner(userID) {
		h.writeError(w, apperrors.Newf(apperrors.ErrPermissionDenied, http.StatusForbidden, "user %d is not the owner", userID))
		return false
	}
	return true
}

func toWatResponse(record *wat.WAT) watResponse {
	return watResponse{
		ID:          record.ID,
		Name:        record.Name,
		FileIDs:     record.FileIDs,
		FileID:      record.LargestFileID(),
		ThumbFileID: record.SmallestFileID(),
		Tags:        record.Tags,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
