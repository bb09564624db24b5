// Command loadtest drives a running searcher with a mix of plain and
// across-entity searches and reports latency per operation.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

const (
	opSearch = "search"
	opAcross = "search_across_entities"
)

var defaultQueries = []string{
	"orders", "customers", "revenue", "pii", "events",
	"clickstream", "dashboard", "finance", "marketing", "*",
}

type loadConfig struct {
	baseURL     string
	concurrency int
	duration    time.Duration
	queries     []string
	entities    []string
	acrossEvery int
}

func main() {
	app := &cli.Command{
		Name:  "loadtest",
		Usage: "Load test the search API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8080", Usage: "Base URL of the search service"},
			&cli.IntFlag{Name: "concurrency", Value: 10, Usage: "Number of concurrent workers"},
			&cli.DurationFlag{Name: "duration", Value: 30 * time.Second, Usage: "Test duration"},
			&cli.StringSliceFlag{Name: "query", Usage: "Query to cycle through (repeatable)"},
			&cli.StringSliceFlag{Name: "entity", Usage: "Entity types to search (repeatable)"},
			&cli.IntFlag{Name: "across-every", Value: 3, Usage: "Issue an across-entities search every N requests; 0 disables"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := loadConfig{
				baseURL:     strings.TrimRight(c.String("url"), "/"),
				concurrency: c.Int("concurrency"),
				duration:    c.Duration("duration"),
				queries:     c.StringSlice("query"),
				entities:    c.StringSlice("entity"),
				acrossEvery: c.Int("across-every"),
			}
			if len(cfg.queries) == 0 {
				cfg.queries = defaultQueries
			}
			return run(ctx, cfg, os.Stdout)
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg loadConfig, w io.Writer) error {
	fmt.Fprintf(w, "target %s, %d workers for %s\n\n", cfg.baseURL, cfg.concurrency, cfg.duration)

	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.concurrency * 2,
			MaxIdleConnsPerHost: cfg.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.duration)
	defer cancel()

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for worker := 0; worker < cfg.concurrency; worker++ {
		g.Go(func() error {
			for i := worker; ctx.Err() == nil; i++ {
				query := cfg.queries[i%len(cfg.queries)]
				op := opSearch
				if cfg.acrossEvery > 0 && i%cfg.acrossEvery == 0 {
					op = opAcross
				}
				req, err := buildRequest(ctx, cfg, op, query)
				if err != nil {
					return err
				}
				began := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(began)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					stats.Record(op, elapsed, 0, err)
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.Record(op, elapsed, resp.StatusCode, nil)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	summaries := stats.Summaries()
	printReport(w, summaries, time.Since(start))
	if len(summaries) == 0 {
		return fmt.Errorf("no requests completed; is the service running at %s?", cfg.baseURL)
	}
	return nil
}

func buildRequest(ctx context.Context, cfg loadConfig, op, query string) (*http.Request, error) {
	if op == opSearch {
		params := url.Values{"q": {query}, "size": {"10"}}
		if len(cfg.entities) > 0 {
			params.Set("entities", strings.Join(cfg.entities, ","))
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, cfg.baseURL+"/api/v1/search?"+params.Encode(), nil)
	}

	body, err := json.Marshal(map[string]any{
		"entities": cfg.entities,
		"input":    query,
		"size":     10,
		"facets":   []string{"entity", "platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/api/v1/search/across", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
