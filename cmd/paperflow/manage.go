package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/liuchzzyy/paperflow/pkg/checkpoint"
	"github.com/liuchzzyy/paperflow/pkg/cmd"
	"github.com/liuchzzyy/paperflow/pkg/log"
	"github.com/liuchzzyy/paperflow/pkg/models"
)

// withStore opens the checkpoint store for a management command and closes it
// afterwards.
func withStore(ctx context.Context, command *cli.Command, fn func(store checkpoint.Store) error) error {
	log.Setup(command.String("log-level"))
	logger := log.WithComponent("cli")

	store, err := cmd.NewCheckpointStore(ctx, logger, command.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to open checkpoint store: %w", err)
	}

	defer func() {
		if closeErr := store.Close(ctx); closeErr != nil {
			logger.Error("Failed to close checkpoint store", "error", closeErr)
		}
	}()

	return fn(store)
}

func listCommand() *cli.Command {
	flags := joinFlags(storeFlags(), []cli.Flag{
		&cli.StringFlag{
			Name:  "status",
			Usage: "Filter by status (running, paused, completed, failed)",
		},
	})

	return &cli.Command{
		Name:  "list",
		Usage: "List workflow records",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			return withStore(ctx, command, func(store checkpoint.Store) error {
				var statusFilter *models.WorkflowStatus

				if statusStr := command.String("status"); statusStr != "" {
					status, err := checkpoint.ParseStatus(statusStr)
					if err != nil {
						return err
					}

					statusFilter = &status
				}

				workflows, err := store.List(ctx, statusFilter)
				if err != nil {
					return err
				}

				if len(workflows) == 0 {
					fmt.Println("no workflows")

					return nil
				}

				for _, w := range workflows {
					fmt.Printf("%s  %-9s  %s %s  %d/%d done  %d failed  %s\n",
						w.ID, w.Status, w.SourceType, w.SourceIdentifier,
						len(w.ProcessedKeys)+len(w.SkippedKeys), w.TotalItems,
						len(w.FailedKeys), w.UpdatedAt.Format(time.RFC3339))
				}

				return nil
			})
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print one workflow record as JSON",
		ArgsUsage: "<workflow-id>",
		Flags:     storeFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			workflowID := command.Args().First()
			if workflowID == "" {
				return fmt.Errorf("a workflow ID is required")
			}

			return withStore(ctx, command, func(store checkpoint.Store) error {
				workflow, err := store.Load(ctx, workflowID)
				if err != nil {
					return err
				}

				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")

				return encoder.Encode(workflow)
			})
		},
	}
}

func pauseCommand() *cli.Command {
	return &cli.Command{
		Name:      "pause",
		Usage:     "Mark a running workflow as paused",
		ArgsUsage: "<workflow-id>",
		Flags:     storeFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			workflowID := command.Args().First()
			if workflowID == "" {
				return fmt.Errorf("a workflow ID is required")
			}

			return withStore(ctx, command, func(store checkpoint.Store) error {
				workflow, err := store.Load(ctx, workflowID)
				if err != nil {
					return err
				}

				if err := workflow.TransitionTo(models.WorkflowStatusPaused); err != nil {
					return err
				}

				if err := store.Save(ctx, workflow); err != nil {
					return err
				}

				fmt.Printf("workflow %s paused\n", workflow.ID)

				return nil
			})
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a workflow record",
		ArgsUsage: "<workflow-id>",
		Flags:     storeFlags(),
		Action: func(ctx context.Context, command *cli.Command) error {
			workflowID := command.Args().First()
			if workflowID == "" {
				return fmt.Errorf("a workflow ID is required")
			}

			return withStore(ctx, command, func(store checkpoint.Store) error {
				existed, err := store.Delete(ctx, workflowID)
				if err != nil {
					return err
				}

				if !existed {
					return fmt.Errorf("workflow %s not found", workflowID)
				}

				fmt.Printf("workflow %s deleted\n", workflowID)

				return nil
			})
		},
	}
}

func pruneCommand() *cli.Command {
	flags := joinFlags(storeFlags(), []cli.Flag{
		&cli.DurationFlag{
			Name:  "age",
			Usage: "Delete completed and failed records older than this",
			Value: 30 * 24 * time.Hour,
		},
	})

	return &cli.Command{
		Name:  "prune",
		Usage: "Delete old terminal workflow records",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			return withStore(ctx, command, func(store checkpoint.Store) error {
				pruned, err := store.PruneOlderThan(ctx, command.Duration("age"))
				if err != nil {
					return err
				}

				fmt.Printf("pruned %d workflow record(s)\n", pruned)

				return nil
			})
		},
	}
}
