// Command searcher runs the entity search service and offers one-shot
// search and doc-count commands against the same backends.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/spadhi7/datahub/pkg/config"
	"github.com/spadhi7/datahub/pkg/logger"
)

func main() {
	app := &cli.Command{
		Name:  "searcher",
		Usage: "Search across metadata entities",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Configuration file (.yaml, .yml or .toml); defaults apply when empty",
				Sources: cli.EnvVars("SP_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override the configured log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			searchCommand(),
			countsCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "searcher: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config named by the global flags and installs the
// logger. Logs go to stderr so that command output stays parseable.
func loadConfig(c *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if level := c.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	return cfg, nil
}
