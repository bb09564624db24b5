// Package search orchestrates multi-entity searches: it prunes entity types
// with no indexed documents, delegates to a search backend, reconciles the
// legacy "entity" aggregation and ranks plain search hits.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spadhi7/datahub/pkg/logger"
	"github.com/spadhi7/datahub/pkg/metrics"
	"github.com/spadhi7/datahub/pkg/tracing"
)

const (
	opSearch       = "search"
	opSearchAcross = "search_across_entities"
	opScroll       = "scroll_across_entities"
)

// Service is safe for concurrent use. It holds no mutable state of its own.
type Service struct {
	docCounts DocCountCache
	backend   Backend
	ranker    Ranker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewService wires the orchestrator. m may be nil.
func NewService(docCounts DocCountCache, backend Backend, ranker Ranker, m *metrics.Metrics) *Service {
	return &Service{
		docCounts: docCounts,
		backend:   backend,
		ranker:    ranker,
		metrics:   m,
		logger:    slog.Default().With("component", "search-service"),
	}
}

// DocCountPerEntity returns the cached document count for each name, keyed
// by the name as given. Unknown entity types count as zero.
func (s *Service) DocCountPerEntity(ctx context.Context, entityNames []string) (map[string]int64, error) {
	counts, err := s.docCounts.EntityDocCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading entity doc counts: %w", err)
	}
	result := make(map[string]int64, len(entityNames))
	for _, name := range entityNames {
		result[name] = counts[strings.ToLower(name)]
	}
	return result, nil
}

// Search runs a paged search and ranks the returned hits. A ranker failure
// fails the whole call with a *RankingError.
func (s *Service) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, opSearch)
	defer span.End()
	entities, err := s.entitiesToSearch(ctx, req.Entities)
	if err != nil {
		s.observe(opSearch, "error", start)
		return nil, err
	}
	if len(entities) == 0 {
		span.SetAttr("short_circuit", true)
		s.observe(opSearch, "short_circuit", start)
		return emptySearchResult(req.From, req.Size), nil
	}

	backendReq := req
	backendReq.Entities = entities
	backendReq.Facets = nil
	span.SetAttr("entities", entities)
	result, err := s.backend.Search(ctx, backendReq)
	if err != nil {
		s.observe(opSearch, "error", start)
		return nil, fmt.Errorf("searching entities %v: %w", entities, err)
	}

	ranked, err := s.rank(ctx, result)
	if err != nil {
		s.observe(opSearch, "ranking_error", start)
		return nil, err
	}
	s.observe(opSearch, "ok", start)
	return ranked, nil
}

// SearchAcrossEntities runs an aggregated search. When req.Facets is nil or
// names "entity" or "_entityType", the result also carries an "entity"
// aggregation with per-entity-type counts.
func (s *Service) SearchAcrossEntities(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, opSearchAcross)
	defer span.End()
	logger.FromContext(ctx).Debug("searching across entities",
		"entities", req.Entities,
		"input", req.Input,
		"filter", req.Filter,
		"sort", req.Sort,
		"from", req.From,
		"size", req.Size,
	)

	facets := req.Facets
	if slices.Contains(facets, LegacyEntityFacet) {
		facets = withVirtualIndexFacet(facets)
	}

	entities, err := s.entitiesToSearch(ctx, req.Entities)
	if err != nil {
		s.observe(opSearchAcross, "error", start)
		return nil, err
	}
	if len(entities) == 0 {
		span.SetAttr("short_circuit", true)
		s.observe(opSearchAcross, "short_circuit", start)
		return emptySearchResult(req.From, req.Size), nil
	}

	backendReq := req
	backendReq.Entities = entities
	backendReq.Facets = facets
	span.SetAttr("entities", entities)
	result, err := s.backend.Search(ctx, backendReq)
	if err != nil {
		s.observe(opSearchAcross, "error", start)
		return nil, fmt.Errorf("searching across entities %v: %w", entities, err)
	}

	if needsLegacyEntityAggregation(req.Facets) {
		shaped := *result
		shaped.Metadata.Aggregations = append(
			slices.Clone(result.Metadata.Aggregations),
			legacyEntityAggregation(result),
		)
		result = &shaped
	}
	s.observe(opSearchAcross, "ok", start)
	return result, nil
}

// ScrollAcrossEntities fetches one page of a cursor-based search. Results are
// returned as produced by the backend.
func (s *Service) ScrollAcrossEntities(ctx context.Context, req ScrollRequest) (*ScrollResult, error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, opScroll)
	defer span.End()
	logger.FromContext(ctx).Debug("scrolling across entities",
		"entities", req.Entities,
		"input", req.Input,
		"filter", req.Filter,
		"sort", req.Sort,
		"scroll_id", req.ScrollID,
		"size", req.Size,
	)

	entities, err := s.entitiesToSearch(ctx, req.Entities)
	if err != nil {
		s.observe(opScroll, "error", start)
		return nil, err
	}
	if len(entities) == 0 {
		span.SetAttr("short_circuit", true)
		s.observe(opScroll, "short_circuit", start)
		return emptyScrollResult(req.Size), nil
	}

	backendReq := req
	backendReq.Entities = entities
	span.SetAttr("entities", entities)
	result, err := s.backend.Scroll(ctx, backendReq)
	if err != nil {
		s.observe(opScroll, "error", start)
		return nil, fmt.Errorf("scrolling entities %v: %w", entities, err)
	}
	s.observe(opScroll, "ok", start)
	return result, nil
}

func (s *Service) rank(ctx context.Context, result *SearchResult) (*SearchResult, error) {
	ctx, span := tracing.Start(ctx, "rank")
	defer span.End()
	span.SetAttr("num_entities", len(result.Entities))

	ranked, err := s.ranker.Rank(ctx, result.Entities)
	if err == nil && !isPermutation(result.Entities, ranked) {
		err = fmt.Errorf("ranker returned %d entities for %d inputs or changed membership", len(ranked), len(result.Entities))
	}
	if err != nil {
		logger.FromContext(ctx).Error("failed to rank",
			"num_entities", result.NumEntities,
			"from", result.From,
			"page_size", result.PageSize,
			"urns", entityUrns(result.Entities),
			"error", err,
		)
		return nil, &RankingError{Result: result, Err: err}
	}
	out := *result
	out.Entities = ranked
	return &out, nil
}

func (s *Service) observe(operation, outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(operation, outcome).Inc()
	s.metrics.SearchLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func isPermutation(in, out []SearchEntity) bool {
	if len(in) != len(out) {
		return false
	}
	seen := make(map[string]int, len(in))
	for _, e := range in {
		seen[e.EntityType+"\x00"+e.Urn]++
	}
	for _, e := range out {
		key := e.EntityType + "\x00" + e.Urn
		if seen[key] == 0 {
			return false
		}
		seen[key]--
	}
	return true
}

func entityUrns(entities []SearchEntity) []string {
	urns := make([]string, len(entities))
	for i, e := range entities {
		urns[i] = e.Urn
	}
	return urns
}

func emptySearchResult(from, size int) *SearchResult {
	return &SearchResult{
		Entities:    []SearchEntity{},
		NumEntities: 0,
		From:        from,
		PageSize:    size,
		Metadata:    SearchResultMetadata{Aggregations: []AggregationMetadata{}},
	}
}

func emptyScrollResult(size int) *ScrollResult {
	return &ScrollResult{
		Entities:    []SearchEntity{},
		NumEntities: 0,
		PageSize:    size,
		Metadata:    SearchResultMetadata{Aggregations: []AggregationMetadata{}},
	}
}
