package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/spadhi7/datahub/internal/search/handler"
	"github.com/spadhi7/datahub/pkg/metrics"
)

func countsCommand() *cli.Command {
	return &cli.Command{
		Name:  "counts",
		Usage: "Print the document count of each entity type",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "entity", Usage: "Entity type to count (repeatable); configured entities when omitted"},
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

			entities := c.StringSlice("entity")
			if len(entities) == 0 {
				entities = cfg.Search.Entities
			}
			return runCounts(ctx, comps.service, entities, os.Stdout)
		},
	}
}

func runCounts(ctx context.Context, s handler.Searcher, entities []string, w io.Writer) error {
	counts, err := s.DocCountPerEntity(ctx, entities)
	if err != nil {
		return fmt.Errorf("counting documents: %w", err)
	}
	return writeJSON(w, counts)
}
