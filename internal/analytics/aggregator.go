package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spadhi7/datahub/pkg/kafka"
)

const (
	latencyWindow = 10000
	topLimit      = 10
)

type AggregatedStats struct {
	TotalSearches     int64               `json:"total_searches"`
	ByType            map[EventType]int64 `json:"by_type"`
	ZeroResultCount   int64               `json:"zero_result_count"`
	AvgLatencyMs      float64             `json:"avg_latency_ms"`
	P50LatencyMs      int64               `json:"p50_latency_ms"`
	P95LatencyMs      int64               `json:"p95_latency_ms"`
	P99LatencyMs      int64               `json:"p99_latency_ms"`
	TopQueries        []Count             `json:"top_queries"`
	ZeroResultQueries []Count             `json:"zero_result_queries"`
	TopEntities       []Count             `json:"top_entities"`
	QueriesPerMinute  float64             `json:"queries_per_minute"`
}

type Count struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// Aggregator folds the search events read back from the analytics topic
// into in-memory statistics. Latency percentiles cover the most recent
// events only.
type Aggregator struct {
	mu          sync.RWMutex
	total       int64
	byType      map[EventType]int64
	zeroResults int64
	latencies   []int64
	next        int
	queries     map[string]int64
	zeroQueries map[string]int64
	entities    map[string]int64
	startTime   time.Time
	logger      *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		byType:      make(map[EventType]int64),
		latencies:   make([]int64, 0, latencyWindow),
		queries:     make(map[string]int64),
		zeroQueries: make(map[string]int64),
		entities:    make(map[string]int64),
		startTime:   time.Now(),
		logger:      slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent is a kafka.MessageHandler for the analytics topic.
func (a *Aggregator) HandleEvent(_ context.Context, _ []byte, value []byte) error {
	event, err := kafka.DecodeJSON[SearchEvent](value)
	if err != nil {
		a.logger.Warn("dropping malformed analytics event", "error", err)
		return nil
	}
	a.Record(event)
	return nil
}

func (a *Aggregator) Record(event SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total++
	a.byType[event.Type]++
	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.next] = event.LatencyMs
		a.next = (a.next + 1) % latencyWindow
	}

	query := strings.TrimSpace(event.Input)
	a.queries[query]++
	if event.TotalHits == 0 {
		a.zeroResults++
		a.zeroQueries[query]++
	}
	for _, e := range event.Entities {
		a.entities[strings.ToLower(e)]++
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:     a.total,
		ByType:            make(map[EventType]int64, len(a.byType)),
		ZeroResultCount:   a.zeroResults,
		TopQueries:        topN(a.queries, topLimit),
		ZeroResultQueries: topN(a.zeroQueries, topLimit),
		TopEntities:       topN(a.entities, topLimit),
	}
	for t, n := range a.byType {
		stats.ByType[t] = n
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(a.total) / elapsed
	}
	return stats
}

// StatsHandler serves the current statistics as JSON.
func (a *Aggregator) StatsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.Stats()); err != nil {
		a.logger.Error("failed to write analytics response", "error", err)
	}
}

func percentile(sorted []int64, pct int) int64 {
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN returns the n largest counts, ties broken by key.
func topN(counts map[string]int64, n int) []Count {
	result := make([]Count, 0, len(counts))
	for key, count := range counts {
		result = append(result, Count{Key: key, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Key < result[j].Key
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
