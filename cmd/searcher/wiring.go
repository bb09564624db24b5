package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spadhi7/datahub/internal/search"
	osbackend "github.com/spadhi7/datahub/internal/search/backend/opensearch"
	"github.com/spadhi7/datahub/internal/search/cache"
	"github.com/spadhi7/datahub/internal/search/doccount"
	"github.com/spadhi7/datahub/internal/search/ranker"
	"github.com/spadhi7/datahub/pkg/config"
	"github.com/spadhi7/datahub/pkg/health"
	"github.com/spadhi7/datahub/pkg/metrics"
	"github.com/spadhi7/datahub/pkg/postgres"
	pkgredis "github.com/spadhi7/datahub/pkg/redis"
)

// components holds everything the commands share. searchCache is nil when
// caching is disabled or Redis is unreachable.
type components struct {
	service     *search.Service
	backend     *osbackend.Backend
	docCounts   *doccount.Cache
	searchCache *cache.Backend
	redis       *pkgredis.Client
	postgres    *postgres.Client
	closers     []func() error
}

func buildComponents(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*components, error) {
	c := &components{}

	client, err := osbackend.NewClient(cfg.OpenSearch)
	if err != nil {
		return nil, err
	}
	c.backend = osbackend.New(client, cfg.OpenSearch, m)

	var counter doccount.Counter = c.backend
	if cfg.DocCount.Source == config.DocCountSourcePostgres {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c.postgres, err = postgres.New(pingCtx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, c.postgres.Close)
		pgCounter, err := doccount.NewPostgresCounter(c.postgres.DB, cfg.DocCount.Table)
		if err != nil {
			c.Close()
			return nil, err
		}
		counter = pgCounter
	}
	c.docCounts = doccount.NewCache(counter, cfg.Search.Entities, cfg.DocCount.TTL, m)

	var backend search.Backend = c.backend
	if cfg.Search.CacheEnabled {
		c.redis, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			c.closers = append(c.closers, c.redis.Close)
			c.searchCache = cache.New(c.backend, c.redis, cfg.Redis.CacheTTL, m)
			backend = c.searchCache
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	rk, err := ranker.New(cfg.Search.Ranker)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.service = search.NewService(c.docCounts, backend, rk, m)
	return c, nil
}

func (c *components) registerHealthChecks(checker *health.Checker) {
	checker.Register("opensearch", health.PingCheck(c.backend, false))
	if c.postgres != nil {
		checker.Register("postgres", health.PingCheck(c.postgres, false))
	}
	if c.redis != nil {
		checker.Register("redis", health.PingCheck(c.redis, true))
	}
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("closing components: %w", errors.Join(errs...))
	}
	return nil
}
