package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/spadhi7/datahub/internal/search"
	"github.com/spadhi7/datahub/internal/search/handler"
	"github.com/spadhi7/datahub/pkg/metrics"
)

type searchOptions struct {
	query    string
	entities []string
	facets   []string
	from     int
	size     int
	across   bool
	fulltext bool
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Run a single search and print the result as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Search input", Value: "*"},
			&cli.StringSliceFlag{Name: "entity", Usage: "Entity type to search (repeatable); all when omitted"},
			&cli.StringSliceFlag{Name: "facet", Usage: "Facet to aggregate (repeatable, implies --across)"},
			&cli.IntFlag{Name: "from", Usage: "Offset of the first result"},
			&cli.IntFlag{Name: "size", Usage: "Page size", Value: 10},
			&cli.BoolFlag{Name: "across", Usage: "Search across entities with facet aggregations"},
			&cli.BoolFlag{Name: "fulltext", Usage: "Treat the input as free text"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			comps, err := buildComponents(ctx, cfg, metrics.New(prometheus.NewRegistry()))
			if err != nil {
				return err
			}
			defer comps.Close()

			return runSearch(ctx, comps.service, searchOptions{
				query:    c.String("query"),
				entities: c.StringSlice("entity"),
				facets:   c.StringSlice("facet"),
				from:     c.Int("from"),
				size:     c.Int("size"),
				across:   c.Bool("across"),
				fulltext: c.Bool("fulltext"),
			}, os.Stdout)
		},
	}
}

func runSearch(ctx context.Context, s handler.Searcher, opts searchOptions, w io.Writer) error {
	req := search.SearchRequest{
		Entities: opts.entities,
		Input:    opts.query,
		From:     opts.from,
		Size:     opts.size,
	}
	if len(opts.facets) > 0 {
		req.Facets = opts.facets
	}
	if opts.fulltext {
		req.Flags = &search.SearchFlags{Fulltext: true}
	}

	var result *search.SearchResult
	var err error
	if opts.across || len(opts.facets) > 0 {
		result, err = s.SearchAcrossEntities(ctx, req)
	} else {
		result, err = s.Search(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("searching %q: %w", opts.query, err)
	}
	return writeJSON(w, result)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
