// Package handler exposes the search service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spadhi7/datahub/internal/analytics"
	"github.com/spadhi7/datahub/internal/search"
	"github.com/spadhi7/datahub/pkg/config"
	apperrors "github.com/spadhi7/datahub/pkg/errors"
	"github.com/spadhi7/datahub/pkg/logger"
)

const maxBodyBytes = 1 << 20

type Searcher interface {
	Search(ctx context.Context, req search.SearchRequest) (*search.SearchResult, error)
	SearchAcrossEntities(ctx context.Context, req search.SearchRequest) (*search.SearchResult, error)
	ScrollAcrossEntities(ctx context.Context, req search.ScrollRequest) (*search.ScrollResult, error)
	DocCountPerEntity(ctx context.Context, entityNames []string) (map[string]int64, error)
}

type CacheAdmin interface {
	Invalidate(ctx context.Context) error
	Stats() (hits, misses int64)
}

type Tracker interface {
	Track(event analytics.SearchEvent)
}

type Handler struct {
	searcher    Searcher
	cache       CacheAdmin
	tracker     Tracker
	defaultSize int
	maxSize     int
	logger      *slog.Logger
}

// New creates a Handler. cache and tracker may be nil.
func New(searcher Searcher, cache CacheAdmin, tracker Tracker, cfg config.SearchConfig) *Handler {
	return &Handler{
		searcher:    searcher,
		cache:       cache,
		tracker:     tracker,
		defaultSize: cfg.DefaultSize,
		maxSize:     cfg.MaxSize,
		logger:      slog.Default().With("component", "search-handler"),
	}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/search", h.Search)
		r.Post("/search/across", h.SearchAcrossEntities)
		r.Post("/search/scroll", h.ScrollAcrossEntities)
		r.Get("/entities/counts", h.DocCounts)
		r.Post("/cache/invalidate", h.CacheInvalidate)
		r.Get("/cache/stats", h.CacheStats)
	})
}

// Search serves GET /api/v1/search?q=...&entities=a,b&from=0&size=10&fulltext=true.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()

	from, err := intParam(q.Get("from"), 0)
	if err != nil {
		h.writeError(w, r, apperrors.InvalidInputf("from: %v", err))
		return
	}
	size, err := intParam(q.Get("size"), 0)
	if err != nil {
		h.writeError(w, r, apperrors.InvalidInputf("size: %v", err))
		return
	}
	req := search.SearchRequest{
		Entities: listParam(q.Get("entities")),
		Input:    q.Get("q"),
		From:     from,
		Size:     size,
	}
	if fulltext, _ := strconv.ParseBool(q.Get("fulltext")); fulltext {
		req.Flags = &search.SearchFlags{Fulltext: true}
	}
	if err := h.normalizePage(&req.From, &req.Size); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.track(r.Context(), analytics.EventSearch, req, result, start)
	h.writeJSON(w, http.StatusOK, result)
}

// SearchAcrossEntities serves POST /api/v1/search/across with a JSON
// search request body.
func (h *Handler) SearchAcrossEntities(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req search.SearchRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.normalizePage(&req.From, &req.Size); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.searcher.SearchAcrossEntities(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.track(r.Context(), analytics.EventSearchAcross, req, result, start)
	h.writeJSON(w, http.StatusOK, result)
}

// ScrollAcrossEntities serves POST /api/v1/search/scroll. Passing the
// returned scrollId continues the scroll.
func (h *Handler) ScrollAcrossEntities(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req search.ScrollRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	from := 0
	if err := h.normalizePage(&from, &req.Size); err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.searcher.ScrollAcrossEntities(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.tracker != nil {
		h.tracker.Track(analytics.SearchEvent{
			Type:      analytics.EventScroll,
			Input:     req.Input,
			Entities:  req.Entities,
			TotalHits: result.NumEntities,
			Returned:  len(result.Entities),
			PageSize:  result.PageSize,
			LatencyMs: time.Since(start).Milliseconds(),
			Timestamp: time.Now().UTC(),
			RequestID: logger.RequestID(r.Context()),
		})
	}
	h.writeJSON(w, http.StatusOK, result)
}

// DocCounts serves GET /api/v1/entities/counts?entities=a,b.
func (h *Handler) DocCounts(w http.ResponseWriter, r *http.Request) {
	entities := listParam(r.URL.Query().Get("entities"))
	if len(entities) == 0 {
		h.writeError(w, r, apperrors.InvalidInputf("query parameter 'entities' is required"))
		return
	}
	counts, err := h.searcher.DocCountPerEntity(r.Context(), entities)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, r, apperrors.ErrCacheDisabled)
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.writeError(w, r, fmt.Errorf("invalidating cache: %w", err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// normalizePage applies the default page size and caps it at the maximum.
func (h *Handler) normalizePage(from, size *int) error {
	if *from < 0 {
		return apperrors.InvalidInputf("from must not be negative")
	}
	switch {
	case *size < 0:
		return apperrors.InvalidInputf("size must not be negative")
	case *size == 0:
		*size = h.defaultSize
	case *size > h.maxSize:
		*size = h.maxSize
	}
	return nil
}

func (h *Handler) track(ctx context.Context, typ analytics.EventType, req search.SearchRequest, result *search.SearchResult, start time.Time) {
	if h.tracker == nil {
		return
	}
	if result.NumEntities == 0 {
		typ = analytics.EventZeroResult
	}
	h.tracker.Track(analytics.SearchEvent{
		Type:      typ,
		Input:     req.Input,
		Entities:  req.Entities,
		Facets:    req.Facets,
		TotalHits: result.NumEntities,
		Returned:  len(result.Entities),
		From:      result.From,
		PageSize:  result.PageSize,
		LatencyMs: time.Since(start).Milliseconds(),
		Timestamp: time.Now().UTC(),
		RequestID: logger.RequestID(ctx),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError maps err to a status code. Server-side failures are logged and
// reported with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
		)
		var rankErr *search.RankingError
		switch {
		case errors.As(err, &rankErr):
			message = "ranking failed"
		case errors.Is(err, apperrors.ErrCacheDisabled):
			message = "caching is disabled"
		case errors.Is(err, apperrors.ErrBackendUnavailable), errors.Is(err, apperrors.ErrTimeout):
			message = "search backend unavailable"
		default:
			message = "search failed"
		}
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.InvalidInputf("malformed request body: %v", err)
	}
	return nil
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func listParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
