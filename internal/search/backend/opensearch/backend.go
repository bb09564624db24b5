// Package opensearch implements the search backend and the per-entity
// document counter on top of OpenSearch. Every entity type lives in its own
// index named <prefix><entity>index_v2.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"golang.org/x/sync/errgroup"

	"github.com/spadhi7/datahub/internal/search"
	"github.com/spadhi7/datahub/pkg/config"
	apperrors "github.com/spadhi7/datahub/pkg/errors"
	"github.com/spadhi7/datahub/pkg/metrics"
	"github.com/spadhi7/datahub/pkg/resilience"
)

const (
	indexSuffix      = "index_v2"
	maxParallelCount = 4
)

// StatusError is a non-2xx OpenSearch response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("opensearch %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusBadRequest:
		return apperrors.ErrInvalidInput
	case e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests:
		return apperrors.ErrBackendUnavailable
	default:
		return nil
	}
}

// Backend is safe for concurrent use.
type Backend struct {
	transport opensearchapi.Transport
	cfg       config.OpenSearchConfig
	breaker   *resilience.CircuitBreaker
	logger    *slog.Logger
}

var _ search.Backend = (*Backend)(nil)

// NewClient builds the OpenSearch client used as the Backend transport.
func NewClient(cfg config.OpenSearchConfig) (*opensearch.Client, error) {
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("creating opensearch client: %w", err)
	}
	return client, nil
}

// New creates a Backend over transport. m may be nil.
func New(transport opensearchapi.Transport, cfg config.OpenSearchConfig, m *metrics.Metrics) *Backend {
	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
	}
	if m != nil {
		cbCfg.OnStateChange = func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &Backend{
		transport: transport,
		cfg:       cfg,
		breaker:   resilience.NewCircuitBreaker("opensearch", cbCfg),
		logger:    slog.Default().With("component", "opensearch-backend"),
	}
}

func (b *Backend) Search(ctx context.Context, req search.SearchRequest) (*search.SearchResult, error) {
	body := b.searchBody(req.Entities, req.Input, req.Filter, req.Sort, req.Flags, req.Facets)
	body["from"] = req.From
	body["size"] = req.Size
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding search body: %w", err)
	}

	var resp searchResponse
	err = b.do(ctx, "search", func(ctx context.Context) (*opensearchapi.Response, error) {
		return opensearchapi.SearchRequest{
			Index:             b.indices(req.Entities),
			Body:              bytes.NewReader(payload),
			IgnoreUnavailable: boolPtr(true),
		}.Do(ctx, b.transport)
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &search.SearchResult{
		Entities:    b.entities(resp.Hits.Hits),
		NumEntities: int(resp.Hits.Total.Value),
		From:        req.From,
		PageSize:    req.Size,
		Metadata:    search.SearchResultMetadata{Aggregations: b.aggregations(resp.Aggregations, req.Entities, req.Facets, req.Filter)},
	}, nil
}

// Scroll opens a scroll context when req.ScrollID is empty and continues it
// otherwise. The returned ScrollID is empty once a page comes back short.
func (b *Backend) Scroll(ctx context.Context, req search.ScrollRequest) (*search.ScrollResult, error) {
	keepAlive := b.cfg.DefaultKeepAlive
	if req.KeepAlive != "" {
		d, err := time.ParseDuration(req.KeepAlive)
		if err != nil || d <= 0 {
			return nil, apperrors.InvalidInputf("invalid keepAlive %q", req.KeepAlive)
		}
		keepAlive = d
	}

	var resp searchResponse
	var err error
	if req.ScrollID == "" {
		body := b.searchBody(req.Entities, req.Input, req.Filter, req.Sort, req.Flags, nil)
		body["size"] = req.Size
		payload, encErr := json.Marshal(body)
		if encErr != nil {
			return nil, fmt.Errorf("encoding scroll body: %w", encErr)
		}
		err = b.do(ctx, "scroll", func(ctx context.Context) (*opensearchapi.Response, error) {
			return opensearchapi.SearchRequest{
				Index:             b.indices(req.Entities),
				Body:              bytes.NewReader(payload),
				Scroll:            keepAlive,
				IgnoreUnavailable: boolPtr(true),
			}.Do(ctx, b.transport)
		}, &resp)
	} else {
		err = b.do(ctx, "scroll", func(ctx context.Context) (*opensearchapi.Response, error) {
			return opensearchapi.ScrollRequest{
				ScrollID: req.ScrollID,
				Scroll:   keepAlive,
			}.Do(ctx, b.transport)
		}, &resp)
	}
	if err != nil {
		return nil, err
	}

	result := &search.ScrollResult{
		Entities:    b.entities(resp.Hits.Hits),
		NumEntities: int(resp.Hits.Total.Value),
		PageSize:    req.Size,
		Metadata:    search.SearchResultMetadata{Aggregations: b.aggregations(resp.Aggregations, req.Entities, nil, req.Filter)},
	}
	if len(resp.Hits.Hits) > 0 && len(resp.Hits.Hits) >= req.Size {
		result.ScrollID = resp.ScrollID
	} else if resp.ScrollID != "" {
		b.clearScroll(ctx, resp.ScrollID)
	}
	return result, nil
}

// Count returns the number of documents in each entity's index. Missing
// indices count as zero.
func (b *Backend) Count(ctx context.Context, entities []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(entities))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelCount)
	for _, entity := range entities {
		g.Go(func() error {
			n, err := b.count(gctx, entity)
			if err != nil {
				return fmt.Errorf("counting %s: %w", entity, err)
			}
			mu.Lock()
			counts[strings.ToLower(entity)] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return counts, nil
}

// Ping checks that the cluster answers.
func (b *Backend) Ping(ctx context.Context) error {
	res, err := opensearchapi.PingRequest{}.Do(ctx, b.transport)
	if err != nil {
		return fmt.Errorf("pinging opensearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("pinging opensearch: status %d", res.StatusCode)
	}
	return nil
}

func (b *Backend) count(ctx context.Context, entity string) (int64, error) {
	var resp struct {
		Count int64 `json:"count"`
	}
	err := b.do(ctx, "count", func(ctx context.Context) (*opensearchapi.Response, error) {
		return opensearchapi.CountRequest{Index: []string{b.indexName(entity)}}.Do(ctx, b.transport)
	}, &resp)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (b *Backend) clearScroll(ctx context.Context, scrollID string) {
	res, err := opensearchapi.ClearScrollRequest{ScrollID: []string{scrollID}}.Do(ctx, b.transport)
	if err != nil {
		b.logger.Warn("clear scroll failed", "error", err)
		return
	}
	res.Body.Close()
}

// do runs call through the circuit breaker and the configured timeout and
// decodes a successful response into out.
func (b *Backend) do(ctx context.Context, op string, call func(ctx context.Context) (*opensearchapi.Response, error), out any) error {
	err := b.breaker.Execute(func() error {
		return resilience.WithTimeout(ctx, b.cfg.Timeout, "opensearch "+op, func(ctx context.Context) error {
			res, err := call(ctx)
			if err != nil {
				return fmt.Errorf("opensearch %s: %w: %w", op, apperrors.ErrBackendUnavailable, err)
			}
			defer res.Body.Close()
			if res.IsError() {
				raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
				return &StatusError{Op: op, StatusCode: res.StatusCode, Body: string(raw)}
			}
			if err := json.NewDecoder(res.Body).Decode(out); err != nil {
				return fmt.Errorf("decoding opensearch %s response: %w", op, err)
			}
			return nil
		})
	}, isBackendFailure)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%w: %w", apperrors.ErrBackendUnavailable, err)
	}
	return err
}

// isBackendFailure reports whether err says something about the health of
// the cluster rather than about the request.
func isBackendFailure(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

func (b *Backend) indexName(entity string) string {
	return b.cfg.IndexPrefix + strings.ToLower(entity) + indexSuffix
}

func (b *Backend) indices(entities []string) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = b.indexName(e)
	}
	return out
}

// entityFromIndex maps a concrete index name, which may carry a suffix
// after index_v2, back to its entity type.
func (b *Backend) entityFromIndex(index string) string {
	name := strings.TrimPrefix(index, b.cfg.IndexPrefix)
	if i := strings.Index(name, indexSuffix); i > 0 {
		return name[:i]
	}
	return name
}

func boolPtr(v bool) *bool { return &v }
