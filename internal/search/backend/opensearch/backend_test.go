package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spadhi7/datahub/internal/search"
	"github.com/spadhi7/datahub/internal/search/ranker"
	"github.com/spadhi7/datahub/pkg/config"
	apperrors "github.com/spadhi7/datahub/pkg/errors"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// fakeTransport answers every request with respond and records what it saw.
type fakeTransport struct {
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(r recordedRequest) (int, string)
}

func (f *fakeTransport) Perform(req *http.Request) (*http.Response, error) {
	rec := recordedRequest{Method: req.Method, Path: req.URL.Path, Query: req.URL.RawQuery}
	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		rec.Body = string(raw)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()

	status, body := f.respond(rec)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}, nil
}

func (f *fakeTransport) last(t *testing.T) recordedRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func testConfig() config.OpenSearchConfig {
	return config.OpenSearchConfig{
		IndexPrefix:      "test_",
		FacetFields:      []string{"platform", "tags"},
		MaxAggValues:     10,
		Timeout:          time.Second,
		DefaultKeepAlive: 5 * time.Minute,
	}
}

const searchResponseBody = `{
  "_scroll_id": "scroll-1",
  "hits": {
    "total": {"value": 42},
    "hits": [
      {"_index": "test_datasetindex_v2", "_id": "a", "_score": 3.5,
       "_source": {"urn": "urn:li:dataset:a"},
       "highlight": {"name": ["<em>orders</em>"]}},
      {"_index": "test_chartindex_v2_1690000000", "_id": "urn:li:chart:b", "_score": 1.0, "_source": {}}
    ]
  },
  "aggregations": {
    "_entityType": {"buckets": [
      {"key": "test_datasetindex_v2", "doc_count": 30},
      {"key": "test_chartindex_v2_1690000000", "doc_count": 12}
    ]},
    "platform": {"buckets": [
      {"key": "hive", "doc_count": 25},
      {"key": "kafka", "doc_count": 17}
    ]}
  }
}`

func decodeBody(t *testing.T, body string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

func TestSearch_ParsesHitsAndAggregations(t *testing.T) {
	tr := &fakeTransport{respond: func(recordedRequest) (int, string) { return 200, searchResponseBody }}
	b := New(tr, testConfig(), nil)

	res, err := b.Search(context.Background(), search.SearchRequest{
		Entities: []string{"dataset", "chart"},
		Input:    "orders",
		From:     0,
		Size:     2,
		Filter: &search.Filter{Or: []search.ConjunctiveCriterion{{And: []search.Criterion{
			{Field: "platform", Value: "hive"},
		}}}},
	})
	require.NoError(t, err)

	req := tr.last(t)
	assert.Equal(t, "/test_datasetindex_v2,test_chartindex_v2/_search", req.Path)

	assert.Equal(t, 42, res.NumEntities)
	assert.Equal(t, 2, res.PageSize)
	require.Len(t, res.Entities, 2)
	assert.Equal(t, "urn:li:dataset:a", res.Entities[0].Urn)
	assert.Equal(t, "dataset", res.Entities[0].EntityType)
	assert.Equal(t, 3.5, res.Entities[0].Score)
	assert.Equal(t, []search.MatchedField{{Name: "name", Value: "<em>orders</em>"}}, res.Entities[0].MatchedFields)
	assert.Equal(t, "urn:li:chart:b", res.Entities[1].Urn, "falls back to the document id")
	assert.Equal(t, "chart", res.Entities[1].EntityType)

	types, ok := res.Metadata.Aggregation(search.IndexVirtualField)
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"dataset": 30, "chart": 12}, types.Aggregations)
	assert.Equal(t, search.LegacyEntityDisplayName, types.DisplayName)

	platform, ok := res.Metadata.Aggregation("platform")
	require.True(t, ok)
	assert.Equal(t, []search.FilterValue{
		{Value: "hive", FacetCount: 25, Filtered: true},
		{Value: "kafka", FacetCount: 17},
	}, platform.FilterValues)
}

func TestSearch_RequestBody(t *testing.T) {
	tr := &fakeTransport{respond: func(recordedRequest) (int, string) { return 200, `{"hits":{"total":{"value":0},"hits":[]}}` }}
	b := New(tr, testConfig(), nil)

	_, err := b.Search(context.Background(), search.SearchRequest{
		Entities: []string{"dataset"},
		Input:    "orders",
		From:     20,
		Size:     10,
		Flags:    &search.SearchFlags{Fulltext: true, SkipHighlighting: true},
		Facets:   []string{"platform", "unknown", search.IndexVirtualField},
		Sort:     &search.SortCriterion{Field: "name", Order: search.SortDescending},
	})
	require.NoError(t, err)

	body := decodeBody(t, tr.last(t).Body)
	assert.EqualValues(t, 20, body["from"])
	assert.EqualValues(t, 10, body["size"])
	assert.Contains(t, body["query"], "simple_query_string")
	assert.NotContains(t, body, "highlight")
	assert.NotContains(t, body, "post_filter")

	aggs := body["aggs"].(map[string]any)
	assert.Len(t, aggs, 2)
	assert.Contains(t, aggs, "platform")
	assert.Contains(t, aggs, search.IndexVirtualField)

	sortClause := body["sort"].([]any)
	assert.Equal(t, map[string]any{"name": map[string]any{"order": "desc"}}, sortClause[0])
}

func TestSearch_EmptyFacetsRequestsNoAggregations(t *testing.T) {
	tr := &fakeTransport{respond: func(recordedRequest) (int, string) { return 200, `{"hits":{"total":{"value":0},"hits":[]}}` }}
	b := New(tr, testConfig(), nil)

	_, err := b.Search(context.Background(), search.SearchRequest{Entities: []string{"dataset"}, Input: "*", Size: 10, Facets: []string{}})
	require.NoError(t, err)

	body := decodeBody(t, tr.last(t).Body)
	assert.NotContains(t, body, "aggs")
	assert.Equal(t, map[string]any{"match_all": map[string]any{}}, body["query"])
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name  string
		input string
		flags *search.SearchFlags
		want  string
	}{
		{"empty", "", nil, "match_all"},
		{"wildcard", " * ", nil, "match_all"},
		{"structured", "name:orders", nil, "query_string"},
		{"fulltext", "orders", &search.SearchFlags{Fulltext: true}, "simple_query_string"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, buildQuery(tt.input, tt.flags), tt.want)
		})
	}
}

func TestPostFilter(t *testing.T) {
	b := New(&fakeTransport{}, testConfig(), nil)

	assert.Nil(t, b.postFilter(nil))
	assert.Nil(t, b.postFilter(&search.Filter{}))

	got := b.postFilter(&search.Filter{Or: []search.ConjunctiveCriterion{
		{And: []search.Criterion{
			{Field: search.IndexVirtualField, Values: []string{"Dataset"}},
			{Field: "name", Value: "ord", Condition: search.ConditionStartWith},
			{Field: "deprecated", Condition: search.ConditionExists, Negated: true},
		}},
		{And: []search.Criterion{
			{Field: "description", Value: "pii", Condition: search.ConditionContain},
		}},
	}})

	want := object{"bool": object{
		"minimum_should_match": 1,
		"should": []any{
			object{"bool": object{
				"filter": []any{
					object{"terms": object{"_index": []string{"test_datasetindex_v2"}}},
					object{"prefix": object{"name": object{"value": "ord"}}},
				},
				"must_not": []any{
					object{"exists": object{"field": "deprecated"}},
				},
			}},
			object{"bool": object{
				"filter": []any{
					object{"wildcard": object{"description": object{"value": "*pii*", "case_insensitive": true}}},
				},
			}},
		},
	}}
	assert.Equal(t, want, got)
}

func TestScroll_FirstAndLastPage(t *testing.T) {
	var clearCalls int
	tr := &fakeTransport{}
	tr.respond = func(r recordedRequest) (int, string) {
		switch {
		case r.Method == http.MethodDelete:
			clearCalls++
			return 200, `{"succeeded": true}`
		case strings.HasPrefix(r.Path, "/_search/scroll"):
			return 200, `{"_scroll_id": "scroll-2", "hits": {"total": {"value": 3}, "hits": [
				{"_index": "test_datasetindex_v2", "_id": "c", "_source": {"urn": "urn:li:dataset:c"}}]}}`
		default:
			return 200, searchResponseBody
		}
	}
	b := New(tr, testConfig(), nil)
	ctx := context.Background()

	first, err := b.Scroll(ctx, search.ScrollRequest{Entities: []string{"dataset", "chart"}, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, "scroll-1", first.ScrollID)
	assert.Contains(t, tr.last(t).Query, "scroll=")
	assert.Len(t, first.Entities, 2)

	second, err := b.Scroll(ctx, search.ScrollRequest{ScrollID: first.ScrollID, KeepAlive: "1m", Size: 2})
	require.NoError(t, err)
	assert.Empty(t, second.ScrollID, "a short page ends the scroll")
	assert.Len(t, second.Entities, 1)
	assert.Equal(t, 1, clearCalls)
}

func TestScroll_InvalidKeepAlive(t *testing.T) {
	b := New(&fakeTransport{}, testConfig(), nil)
	_, err := b.Scroll(context.Background(), search.ScrollRequest{KeepAlive: "forever", Size: 1})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCount_MissingIndexIsZero(t *testing.T) {
	tr := &fakeTransport{respond: func(r recordedRequest) (int, string) {
		if strings.Contains(r.Path, "chartindex_v2") {
			return 404, `{"error": {"type": "index_not_found_exception"}}`
		}
		return 200, `{"count": 7}`
	}}
	b := New(tr, testConfig(), nil)

	counts, err := b.Count(context.Background(), []string{"Dataset", "chart"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"dataset": 7, "chart": 0}, counts)
}

func TestErrors_MapToSentinels(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"bad query", http.StatusBadRequest, apperrors.ErrInvalidInput},
		{"cluster down", http.StatusServiceUnavailable, apperrors.ErrBackendUnavailable},
		{"throttled", http.StatusTooManyRequests, apperrors.ErrBackendUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := &fakeTransport{respond: func(recordedRequest) (int, string) { return tt.status, `{"error":"x"}` }}
			b := New(tr, testConfig(), nil)
			_, err := b.Search(context.Background(), search.SearchRequest{Entities: []string{"dataset"}, Size: 1})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCircuitBreaker_OpensOnServerErrors(t *testing.T) {
	cfg := testConfig()
	cfg.CircuitBreaker.FailureThreshold = 2
	cfg.CircuitBreaker.ResetTimeout = time.Hour
	tr := &fakeTransport{respond: func(recordedRequest) (int, string) { return 500, `{}` }}
	b := New(tr, cfg, nil)
	req := search.SearchRequest{Entities: []string{"dataset"}, Size: 1}

	for i := 0; i < 2; i++ {
		_, err := b.Search(context.Background(), req)
		require.Error(t, err)
	}
	_, err := b.Search(context.Background(), req)
	assert.ErrorIs(t, err, apperrors.ErrBackendUnavailable)
	assert.Len(t, tr.requests, 2, "open circuit short-circuits the request")
}

func TestCircuitBreaker_IgnoresBadRequests(t *testing.T) {
	cfg := testConfig()
	cfg.CircuitBreaker.FailureThreshold = 1
	tr := &fakeTransport{respond: func(recordedRequest) (int, string) { return 400, `{}` }}
	b := New(tr, cfg, nil)
	req := search.SearchRequest{Entities: []string{"dataset"}, Size: 1}

	for i := 0; i < 3; i++ {
		_, err := b.Search(context.Background(), req)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	}
	assert.Len(t, tr.requests, 3)
}

const datasetOnlyBody = `{
  "hits": {"total": {"value": 3}, "hits": [
    {"_index": "test_datasetindex_v2", "_id": "urn:li:dataset:a", "_source": {}}
  ]},
  "aggregations": {
    "_entityType": {"buckets": [{"key": "test_datasetindex_v2", "doc_count": 3}]}
  }
}`

func TestSearch_EntityTypeAggregationReportsZeroCounts(t *testing.T) {
	tr := &fakeTransport{respond: func(recordedRequest) (int, string) { return 200, datasetOnlyBody }}
	b := New(tr, testConfig(), nil)

	res, err := b.Search(context.Background(), search.SearchRequest{
		Entities: []string{"dataset", "CorpUser"},
		Input:    "orders",
		Size:     10,
		Facets:   []string{search.IndexVirtualField},
	})
	require.NoError(t, err)

	body := decodeBody(t, tr.last(t).Body)
	terms := body["aggs"].(map[string]any)[search.IndexVirtualField].(map[string]any)["terms"].(map[string]any)
	assert.EqualValues(t, 0, terms["min_doc_count"])

	types, ok := res.Metadata.Aggregation(search.IndexVirtualField)
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"dataset": 3, "corpuser": 0}, types.Aggregations)
}

type staticDocCounts map[string]int64

func (c staticDocCounts) EntityDocCount(context.Context) (map[string]int64, error) {
	return c, nil
}

func (c staticDocCounts) NonEmptyEntities(context.Context) ([]string, error) {
	var out []string
	for name, n := range c {
		if n > 0 {
			out = append(out, name)
		}
	}
	return out, nil
}

func TestSearchAcrossEntities_LegacyFacetThroughBackend(t *testing.T) {
	tr := &fakeTransport{respond: func(recordedRequest) (int, string) { return 200, datasetOnlyBody }}
	svc := search.NewService(
		staticDocCounts{"dataset": 10, "corpuser": 4},
		New(tr, testConfig(), nil),
		ranker.Identity{},
		nil,
	)

	res, err := svc.SearchAcrossEntities(context.Background(), search.SearchRequest{
		Entities: []string{"dataset", "corpuser"},
		Input:    "orders",
		Size:     10,
		Facets:   []string{search.LegacyEntityFacet, search.IndexVirtualField},
	})
	require.NoError(t, err)

	counts := map[string]int{}
	for _, agg := range res.Metadata.Aggregations {
		counts[agg.Name]++
	}
	assert.Equal(t, map[string]int{search.IndexVirtualField: 1, search.LegacyEntityFacet: 1}, counts)

	legacy, ok := res.Metadata.Aggregation(search.LegacyEntityFacet)
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"dataset": 3, "corpuser": 0}, legacy.Aggregations)
}

type cancelledTransport struct{ calls int }

func (c *cancelledTransport) Perform(*http.Request) (*http.Response, error) {
	c.calls++
	return nil, context.Canceled
}

func TestCircuitBreaker_IgnoresCancelledCallers(t *testing.T) {
	cfg := testConfig()
	cfg.CircuitBreaker.FailureThreshold = 1
	cfg.CircuitBreaker.ResetTimeout = time.Hour
	tr := &cancelledTransport{}
	b := New(tr, cfg, nil)
	req := search.SearchRequest{Entities: []string{"dataset"}, Size: 1}

	for i := 0; i < 3; i++ {
		_, err := b.Search(context.Background(), req)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, 3, tr.calls)
}
