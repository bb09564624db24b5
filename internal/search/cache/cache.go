// Package cache decorates a search backend with a Redis-backed result cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/spadhi7/datahub/internal/search"
	"github.com/spadhi7/datahub/pkg/metrics"
)

const keyPrefix = "search:"

// Store is the key-value store results are cached in. *redis.Client
// satisfies it.
type Store interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

// Backend caches paged search results of the wrapped backend. Scroll
// requests always go to the wrapped backend.
type Backend struct {
	next    search.Backend
	store   Store
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

var _ search.Backend = (*Backend)(nil)

// New wraps next. m may be nil.
func New(next search.Backend, store Store, ttl time.Duration, m *metrics.Metrics) *Backend {
	return &Backend{
		next:    next,
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "search-cache"),
	}
}

func (b *Backend) Search(ctx context.Context, req search.SearchRequest) (*search.SearchResult, error) {
	if req.Flags != nil && req.Flags.SkipCache {
		return b.next.Search(ctx, req)
	}
	key, err := buildKey(req)
	if err != nil {
		b.logger.Error("cache key build failed", "error", err)
		return b.next.Search(ctx, req)
	}
	if result, ok := b.get(ctx, key); ok {
		b.recordHit()
		return result, nil
	}

	val, err, _ := b.group.Do(key, func() (interface{}, error) {
		if result, ok := b.get(ctx, key); ok {
			return result, nil
		}
		result, err := b.next.Search(ctx, req)
		if err != nil {
			return nil, err
		}
		b.set(ctx, key, result)
		return result, nil
	})
	b.recordMiss()
	if err != nil {
		return nil, err
	}
	return val.(*search.SearchResult), nil
}

func (b *Backend) Scroll(ctx context.Context, req search.ScrollRequest) (*search.ScrollResult, error) {
	return b.next.Scroll(ctx, req)
}

// Invalidate drops every cached search result.
func (b *Backend) Invalidate(ctx context.Context) error {
	deleted, err := b.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	b.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (b *Backend) Stats() (hits, misses int64) {
	return b.hits.Load(), b.misses.Load()
}

func (b *Backend) get(ctx context.Context, key string) (*search.SearchResult, bool) {
	data, found, err := b.store.Lookup(ctx, key)
	if err != nil {
		b.logger.Error("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var result search.SearchResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		b.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	b.logger.Debug("cache hit", "key", key)
	return &result, true
}

func (b *Backend) set(ctx context.Context, key string, result *search.SearchResult) {
	data, err := json.Marshal(result)
	if err != nil {
		b.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := b.store.Set(ctx, key, data, b.ttl); err != nil {
		b.logger.Error("cache set failed", "key", key, "error", err)
	}
}

func (b *Backend) recordHit() {
	b.hits.Add(1)
	if b.metrics != nil {
		b.metrics.CacheHitsTotal.Inc()
	}
}

func (b *Backend) recordMiss() {
	b.misses.Add(1)
	if b.metrics != nil {
		b.metrics.CacheMissesTotal.Inc()
	}
}

func buildKey(req search.SearchRequest) (string, error) {
	req.Input = strings.Join(strings.Fields(req.Input), " ")
	raw, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(raw)
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16]), nil
}
