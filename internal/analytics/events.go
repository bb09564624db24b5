// Package analytics publishes search activity to Kafka and reacts to
// indexing notifications from it.
package analytics

import "time"

type EventType string

const (
	EventSearch       EventType = "search"
	EventSearchAcross EventType = "search_across_entities"
	EventScroll       EventType = "scroll_across_entities"
	EventZeroResult   EventType = "zero_result"
)

// SearchEvent describes one served search request.
type SearchEvent struct {
	Type      EventType `json:"type"`
	Input     string    `json:"input"`
	Entities  []string  `json:"entities"`
	Facets    []string  `json:"facets,omitempty"`
	TotalHits int       `json:"total_hits"`
	Returned  int       `json:"returned"`
	From      int       `json:"from"`
	PageSize  int       `json:"page_size"`
	LatencyMs int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// IndexCompleteEvent is published by the indexing pipeline once documents
// of the listed entity types have been written. An empty Entities list
// means any entity type may have changed.
type IndexCompleteEvent struct {
	Entities  []string  `json:"entities"`
	Documents int       `json:"documents"`
	Timestamp time.Time `json:"timestamp"`
}
