package analytics

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spadhi7/datahub/pkg/kafka"
)

type DocCountRefresher interface {
	Refresh(ctx context.Context) error
}

type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// InvalidationListener reloads document counts and drops cached search
// results whenever the indexing pipeline reports new documents.
type InvalidationListener struct {
	docCounts DocCountRefresher
	cache     CacheInvalidator
	logger    *slog.Logger
}

// NewInvalidationListener creates a listener. cache may be nil when result
// caching is disabled.
func NewInvalidationListener(docCounts DocCountRefresher, cache CacheInvalidator) *InvalidationListener {
	return &InvalidationListener{
		docCounts: docCounts,
		cache:     cache,
		logger:    slog.Default().With("component", "invalidation-listener"),
	}
}

// HandleIndexComplete is a kafka.MessageHandler. Undecodable messages are
// logged and dropped.
func (l *InvalidationListener) HandleIndexComplete(ctx context.Context, key, value []byte) error {
	event, err := kafka.DecodeJSON[IndexCompleteEvent](value)
	if err != nil {
		l.logger.Warn("dropping malformed index-complete event", "key", string(key), "error", err)
		return nil
	}

	if err := l.docCounts.Refresh(ctx); err != nil {
		return fmt.Errorf("refreshing doc counts: %w", err)
	}
	if l.cache != nil {
		if err := l.cache.Invalidate(ctx); err != nil {
			return fmt.Errorf("invalidating search cache: %w", err)
		}
	}
	l.logger.Info("index update applied",
		"entities", event.Entities,
		"documents", event.Documents,
		"cache_invalidated", l.cache != nil,
	)
	return nil
}
