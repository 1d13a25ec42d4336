package main

import (
	"context"
	"fmt"

	cli "github.com/urfave/cli/v3"

	"github.com/liuchzzyy/paperflow/pkg/analysis"
	"github.com/liuchzzyy/paperflow/pkg/cmd"
	"github.com/liuchzzyy/paperflow/pkg/engine"
	"github.com/liuchzzyy/paperflow/pkg/fetcher"
	"github.com/liuchzzyy/paperflow/pkg/log"
	"github.com/liuchzzyy/paperflow/pkg/models"
)

func runCommand() *cli.Command {
	flags := joinFlags(storeFlags(), libraryFlags(), analysisFlags(), processingFlags(),
		[]cli.Flag{
			&cli.StringFlag{
				Name:    "collection",
				Aliases: []string{"c"},
				Usage:   "Analyze every item of this collection (key or name)",
			},
			&cli.IntFlag{
				Name:    "recent",
				Aliases: []string{"r"},
				Usage:   "Analyze the N most recently added items",
			},
		})

	return &cli.Command{
		Name:  "run",
		Usage: "Start a new batch-analysis workflow",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			source, err := sourceFromFlags(command)
			if err != nil {
				return err
			}

			eng, analysisOpts, closeStore, err := buildEngine(ctx, command)
			if err != nil {
				return err
			}
			defer closeStore()

			summary, err := eng.Start(ctx, source, runOptions(command, analysisOpts))
			if err != nil {
				if summary != nil {
					printSummary(summary)
				}

				return err
			}

			printSummary(summary)

			return nil
		},
	}
}

func resumeCommand() *cli.Command {
	flags := joinFlags(storeFlags(), libraryFlags(), analysisFlags(), processingFlags())

	return &cli.Command{
		Name:      "resume",
		Usage:     "Resume an interrupted or partially failed workflow",
		ArgsUsage: "<workflow-id>",
		Flags:     flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			workflowID := command.Args().First()
			if workflowID == "" {
				return fmt.Errorf("a workflow ID is required")
			}

			eng, analysisOpts, closeStore, err := buildEngine(ctx, command)
			if err != nil {
				return err
			}
			defer closeStore()

			summary, err := eng.Resume(ctx, workflowID, runOptions(command, analysisOpts))
			if err != nil {
				if summary != nil {
					printSummary(summary)
				}

				return err
			}

			printSummary(summary)

			return nil
		},
	}
}

func sourceFromFlags(command *cli.Command) (models.Source, error) {
	collection := command.String("collection")
	recent := command.Int("recent")

	switch {
	case collection != "" && recent > 0:
		return models.Source{}, fmt.Errorf("--collection and --recent are mutually exclusive")
	case collection != "":
		return models.CollectionSource(collection), nil
	case recent > 0:
		return models.RecentSource(fmt.Sprintf("%d", recent)), nil
	default:
		return models.Source{}, fmt.Errorf("one of --collection or --recent is required")
	}
}

// buildEngine wires the checkpoint store, library, fetcher and analyzer from
// the command flags. The returned func closes the checkpoint store.
func buildEngine(ctx context.Context, command *cli.Command) (*engine.Engine, analysis.Options, func(), error) {
	log.Setup(command.String("log-level"))
	logger := log.WithComponent("engine")

	store, err := cmd.NewCheckpointStore(ctx, logger, command.String("database-url"))
	if err != nil {
		return nil, analysis.Options{}, nil, fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	closeStore := func() {
		if closeErr := store.Close(ctx); closeErr != nil {
			logger.Error("Failed to close checkpoint store", "error", closeErr)
		}
	}

	library, err := cmd.NewLibrary(log.WithComponent("zotero"), cmd.LibraryConfig{
		BaseURL:     command.String("zotero-base-url"),
		LibraryType: command.String("zotero-library-type"),
		LibraryID:   command.String("zotero-library-id"),
		APIKey:      command.String("zotero-api-key"),
	})
	if err != nil {
		closeStore()

		return nil, analysis.Options{}, nil, err
	}

	analyzer, settings, err := cmd.NewAnalyzer(log.WithComponent("analysis"),
		command.String("anthropic-api-key"), command.String("analysis-settings"))
	if err != nil {
		closeStore()

		return nil, analysis.Options{}, nil, err
	}

	bundleFetcher := fetcher.New(library, log.WithComponent("fetcher"))

	return engine.New(store, library, bundleFetcher, analyzer, logger), settings.Options(), closeStore, nil
}

func runOptions(command *cli.Command, analysisOpts analysis.Options) engine.RunOptions {
	return engine.RunOptions{
		SkipExisting:       command.Bool("skip-existing"),
		DryRun:             command.Bool("dry-run"),
		FetchBatch:         command.Int("fetch-batch"),
		Concurrency:        command.Int("concurrency"),
		IncludeFullText:    command.Bool("full-text"),
		IncludeAnnotations: command.Bool("annotations"),
		IncludeChildren:    command.Bool("children"),
		Analysis:           analysisOpts,
		Progress: func(completed, total int, title string) {
			fmt.Printf("[%d/%d] %s\n", completed, total, title)
		},
	}
}

func printSummary(summary *models.Summary) {
	if summary.DryRun {
		fmt.Printf("dry run: %d item(s) would be processed\n", len(summary.WouldProcess))

		for _, key := range summary.WouldProcess {
			fmt.Printf("  %s\n", key)
		}

		return
	}

	fmt.Printf("workflow %s: %s\n", summary.WorkflowID, summary.Status)
	fmt.Printf("  processed: %d  skipped: %d  failed: %d  (of %d)\n",
		summary.Processed, summary.Skipped, summary.Failed, summary.TotalItems)

	for _, result := range summary.Results {
		if result.Error != "" {
			fmt.Printf("  failed %s: %s\n", result.Key, result.Error)
		}
	}

	if summary.CanResume {
		fmt.Printf("  resume with: paperflow resume %s\n", summary.WorkflowID)
	}
}
