// Package doccount keeps a periodically refreshed snapshot of how many
// documents each entity type has, and derives the list of entity types
// worth searching from it.
package doccount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/spadhi7/datahub/internal/search"
	"github.com/spadhi7/datahub/pkg/metrics"
	"github.com/spadhi7/datahub/pkg/resilience"
)

// Counter returns document counts for the given entity types. Counters may
// return additional entity types they know about. Keys are lowercase.
type Counter interface {
	Count(ctx context.Context, entities []string) (map[string]int64, error)
}

type snapshot struct {
	counts    map[string]int64
	nonEmpty  []string
	fetchedAt time.Time
}

// Cache serves doc counts from an in-memory snapshot that is reloaded once
// it is older than the TTL. Concurrent reloads collapse into one counter
// call. When a reload fails and a previous snapshot exists, the stale
// snapshot is served.
type Cache struct {
	counter  Counter
	entities []string
	ttl      time.Duration
	retry    resilience.RetryConfig
	metrics  *metrics.Metrics
	group    singleflight.Group
	current  atomic.Pointer[snapshot]
	now      func() time.Time
	logger   *slog.Logger
}

var _ search.DocCountCache = (*Cache)(nil)

// NewCache creates a Cache for the configured entity types, whose order
// determines the order of NonEmptyEntities. m may be nil.
func NewCache(counter Counter, entities []string, ttl time.Duration, m *metrics.Metrics) *Cache {
	lowered := make([]string, 0, len(entities))
	for _, e := range entities {
		e = strings.ToLower(e)
		if !slices.Contains(lowered, e) {
			lowered = append(lowered, e)
		}
	}
	return &Cache{
		counter:  counter,
		entities: lowered,
		ttl:      ttl,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
			Retryable: func(err error) bool {
				return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
			},
		},
		metrics: m,
		now:     time.Now,
		logger:  slog.Default().With("component", "doc-count-cache"),
	}
}

// EntityDocCount returns a copy of the current counts keyed by lowercase
// entity type. Configured entity types missing from the index count as 0.
func (c *Cache) EntityDocCount(ctx context.Context) (map[string]int64, error) {
	s, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return maps.Clone(s.counts), nil
}

// NonEmptyEntities returns the entity types with at least one document.
func (c *Cache) NonEmptyEntities(ctx context.Context) ([]string, error) {
	s, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return slices.Clone(s.nonEmpty), nil
}

// Refresh reloads the snapshot regardless of its age.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err := c.load(ctx)
	return err
}

func (c *Cache) snapshot(ctx context.Context) (*snapshot, error) {
	s := c.current.Load()
	if s != nil && c.now().Sub(s.fetchedAt) < c.ttl {
		return s, nil
	}
	fresh, err := c.load(ctx)
	if err != nil {
		if s != nil {
			c.logger.Warn("serving stale doc counts", "age", c.now().Sub(s.fetchedAt), "error", err)
			return s, nil
		}
		return nil, err
	}
	return fresh, nil
}

func (c *Cache) load(ctx context.Context) (*snapshot, error) {
	v, err, _ := c.group.Do("counts", func() (any, error) {
		var counts map[string]int64
		err := resilience.Retry(ctx, "doc-count-refresh", c.retry, func() error {
			var err error
			counts, err = c.counter.Count(ctx, c.entities)
			return err
		})
		if err != nil {
			c.recordRefresh("error")
			return nil, fmt.Errorf("refreshing doc counts: %w", err)
		}

		s := c.build(counts)
		c.current.Store(s)
		c.recordRefresh("ok")
		if c.metrics != nil {
			for entity, n := range s.counts {
				c.metrics.EntityDocCount.WithLabelValues(entity).Set(float64(n))
			}
		}
		c.logger.Debug("doc counts refreshed", "entities", len(s.counts), "non_empty", len(s.nonEmpty))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot), nil
}

// build orders non-empty entities by configuration first, then any extra
// entity types reported by the counter in name order.
func (c *Cache) build(raw map[string]int64) *snapshot {
	counts := make(map[string]int64, len(raw)+len(c.entities))
	for e, n := range raw {
		counts[strings.ToLower(e)] += n
	}
	for _, e := range c.entities {
		if _, ok := counts[e]; !ok {
			counts[e] = 0
		}
	}

	nonEmpty := make([]string, 0, len(counts))
	for _, e := range c.entities {
		if counts[e] > 0 {
			nonEmpty = append(nonEmpty, e)
		}
	}
	var extra []string
	for e, n := range counts {
		if n > 0 && !slices.Contains(c.entities, e) {
			extra = append(extra, e)
		}
	}
	sort.Strings(extra)
	nonEmpty = append(nonEmpty, extra...)

	return &snapshot{counts: counts, nonEmpty: nonEmpty, fetchedAt: c.now()}
}

func (c *Cache) recordRefresh(status string) {
	if c.metrics != nil {
		c.metrics.DocCountRefreshesTotal.WithLabelValues(status).Inc()
	}
}
