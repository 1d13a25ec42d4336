// Package main is the paperflow CLI: resumable batch analysis of reference
// library items.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/liuchzzyy/paperflow/pkg/log"
)

func main() {
	logger := log.WithComponent("cli")

	cmd := &cli.Command{
		Name:                  "paperflow",
		Usage:                 "Run and resume batch analysis over a reference library",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			runCommand(),
			resumeCommand(),
			listCommand(),
			showCommand(),
			pauseCommand(),
			deleteCommand(),
			pruneCommand(),
			serveCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Checkpoint storage URL: a directory path or postgres:// URL",
			Value:   "./data",
			Sources: cli.EnvVars("PAPERFLOW_DATABASE_URL", "DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

func libraryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "zotero-library-id",
			Usage:    "Zotero library ID",
			Required: true,
			Sources:  cli.EnvVars("ZOTERO_LIBRARY_ID"),
		},
		&cli.StringFlag{
			Name:    "zotero-library-type",
			Usage:   "Zotero library type (user or group)",
			Value:   "user",
			Sources: cli.EnvVars("ZOTERO_LIBRARY_TYPE"),
		},
		&cli.StringFlag{
			Name:    "zotero-api-key",
			Usage:   "Zotero API key",
			Sources: cli.EnvVars("ZOTERO_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "zotero-base-url",
			Usage:   "Zotero API base URL",
			Sources: cli.EnvVars("ZOTERO_BASE_URL"),
		},
	}
}

func analysisFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "anthropic-api-key",
			Usage:    "Anthropic API key",
			Required: true,
			Sources:  cli.EnvVars("ANTHROPIC_API_KEY"),
		},
		&cli.StringFlag{
			Name:    "analysis-settings",
			Usage:   "Path to the YAML analysis settings file",
			Sources: cli.EnvVars("PAPERFLOW_ANALYSIS_SETTINGS"),
		},
	}
}

func processingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Resolve and fetch, but do not analyze or write anything",
		},
		&cli.BoolFlag{
			Name:  "skip-existing",
			Usage: "Skip items that already have an analysis record",
			Value: true,
		},
		&cli.BoolFlag{
			Name:  "full-text",
			Usage: "Include extracted full text in the analysis prompt",
			Value: true,
		},
		&cli.BoolFlag{
			Name:  "annotations",
			Usage: "Include reader annotations in the analysis prompt",
			Value: true,
		},
		&cli.BoolFlag{
			Name:  "children",
			Usage: "List the item's attachments and notes in the analysis prompt",
		},
		&cli.IntFlag{
			Name:  "fetch-batch",
			Usage: "How many items to hand to the fetcher at a time",
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Maximum concurrent item fetches",
		},
	}
}

func joinFlags(groups ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, group := range groups {
		flags = append(flags, group...)
	}

	return flags
}
