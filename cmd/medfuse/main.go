// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/medfuse/config"
	"github.com/urfave/cli/v2"
)

func main() {
	// Secrets such as MEDFUSE_API_KEY may live in .env
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "medfuse",
		Usage: "Index clinical documents and search them with multi-modal fusion",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML config file (default ./" + config.DefaultFileName + " when present)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory for the badger database, checkpoints and error log",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "index",
				Usage:  "Index every item of a source, resuming from checkpoints",
				Action: indexCommand,
				Flags: append(sourceFlags(),
					&cli.BoolFlag{
						Name:  "resume",
						Usage: "Skip items already completed by an earlier run",
						Value: true,
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of items embedded per provider call",
					},
					&cli.StringFlag{
						Name:  "checkpoint-path",
						Usage: "SQLite checkpoint database",
					},
					&cli.StringFlag{
						Name:  "error-log",
						Usage: "File receiving per-item failures",
					},
				),
			},
			{
				Name:   "sync",
				Usage:  "Index items modified since the last sync",
				Action: syncCommand,
				Flags:  sourceFlags(),
			},
			{
				Name:   "watch",
				Usage:  "Sync a source whenever it changes",
				Action: watchCommand,
				Flags: append(sourceFlags(),
					&cli.DurationFlag{
						Name:  "debounce",
						Usage: "Quiet period before a change triggers a sync",
						Value: 500 * time.Millisecond,
					},
				),
			},
			{
				Name:      "query",
				Usage:     "Search indexed documents",
				ArgsUsage: "<query text>",
				Action:    queryCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of results (default from config)",
					},
					&cli.StringFlag{
						Name:    "patient",
						Aliases: []string{"p"},
						Usage:   "Only return items of this patient",
					},
					&cli.StringFlag{
						Name:  "type",
						Usage: "Only return items of this type (note, report, image)",
					},
					&cli.Float64Flag{
						Name:  "threshold",
						Usage: "Minimum vector similarity",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the response as JSON",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show checkpoint counts, sync watermark and recent errors",
				Action: statusCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "errors",
						Usage: "Number of recent error log entries to show",
						Value: 5,
					},
				},
			},
			{
				Name:      "reset",
				Usage:     "Return items to pending so the next run retries them",
				ArgsUsage: "[item_id...]",
				Action:    resetCommand,
			},
			{
				Name:   "config",
				Usage:  "Print the effective configuration",
				Action: configCommand,
			},
		},
	}
}

func sourceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "input",
			Aliases:  []string{"i"},
			Usage:    "JSONL file, FHIR bundle or directory to index",
			Required: true,
		},
	}
}

// loadConfig reads the config file, then the environment, then flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if c.IsSet("log-level") {
		cfg.LogLevel = strings.ToLower(c.String("log-level"))
	}
	if v := c.String("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if c.IsSet("batch-size") {
		cfg.Indexer.BatchSize = c.Int("batch-size")
	}
	if v := c.String("checkpoint-path"); v != "" {
		cfg.Storage.CheckpointPath = v
	}
	if v := c.String("error-log"); v != "" {
		cfg.Indexer.ErrorLog = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	level, err := parseLevel(levelStr)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

func parseLevel(levelStr string) (slog.Level, error) {
	switch levelStr {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}
}
