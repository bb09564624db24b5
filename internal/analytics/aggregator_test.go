package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_Stats(t *testing.T) {
	a := NewAggregator()
	a.Record(SearchEvent{Type: EventSearch, Input: "orders", Entities: []string{"dataset"}, TotalHits: 4, LatencyMs: 10})
	a.Record(SearchEvent{Type: EventSearch, Input: " orders ", Entities: []string{"DATASET"}, TotalHits: 2, LatencyMs: 20})
	a.Record(SearchEvent{Type: EventSearchAcross, Input: "nothing", Entities: []string{"chart", "dataset"}, TotalHits: 0, LatencyMs: 30})

	stats := a.Stats()
	assert.Equal(t, int64(3), stats.TotalSearches)
	assert.Equal(t, map[EventType]int64{EventSearch: 2, EventSearchAcross: 1}, stats.ByType)
	assert.Equal(t, int64(1), stats.ZeroResultCount)
	assert.InDelta(t, 20.0, stats.AvgLatencyMs, 0.001)
	assert.Equal(t, int64(20), stats.P50LatencyMs)
	assert.Equal(t, int64(30), stats.P99LatencyMs)
	assert.Equal(t, []Count{{Key: "orders", Count: 2}, {Key: "nothing", Count: 1}}, stats.TopQueries)
	assert.Equal(t, []Count{{Key: "nothing", Count: 1}}, stats.ZeroResultQueries)
	assert.Equal(t, []Count{{Key: "dataset", Count: 3}, {Key: "chart", Count: 1}}, stats.TopEntities)
}

func TestAggregator_LatencyWindowWraps(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < latencyWindow; i++ {
		a.Record(SearchEvent{Type: EventSearch, LatencyMs: 1, TotalHits: 1})
	}
	for i := 0; i < latencyWindow; i++ {
		a.Record(SearchEvent{Type: EventSearch, LatencyMs: 5, TotalHits: 1})
	}

	stats := a.Stats()
	assert.Equal(t, int64(2*latencyWindow), stats.TotalSearches)
	assert.InDelta(t, 5.0, stats.AvgLatencyMs, 0.001)
	assert.Len(t, a.latencies, latencyWindow)
}

func TestAggregator_HandleEvent(t *testing.T) {
	a := NewAggregator()
	value, err := json.Marshal(SearchEvent{Type: EventScroll, Input: "x", TotalHits: 1})
	require.NoError(t, err)

	require.NoError(t, a.HandleEvent(context.Background(), nil, value))
	require.NoError(t, a.HandleEvent(context.Background(), nil, []byte("{not json")))

	assert.Equal(t, int64(1), a.Stats().TotalSearches)
	assert.Equal(t, int64(1), a.Stats().ByType[EventScroll])
}

func TestTopN_TiesAndLimit(t *testing.T) {
	got := topN(map[string]int64{"b": 2, "a": 2, "c": 5, "d": 1}, 3)
	assert.Equal(t, []Count{{Key: "c", Count: 5}, {Key: "a", Count: 2}, {Key: "b", Count: 2}}, got)
}

func TestAggregator_StatsHandler(t *testing.T) {
	a := NewAggregator()
	a.Record(SearchEvent{Type: EventSearch, Input: "orders", TotalHits: 1, LatencyMs: 7})

	rec := httptest.NewRecorder()
	a.StatsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analytics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var stats AggregatedStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalSearches)
	assert.Equal(t, int64(7), stats.P50LatencyMs)
}
