package main

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	cli "github.com/urfave/cli/v3"

	"github.com/liuchzzyy/paperflow/pkg/checkpoint"
	"github.com/liuchzzyy/paperflow/pkg/engine"
	"github.com/liuchzzyy/paperflow/pkg/log"
	"github.com/liuchzzyy/paperflow/pkg/web"
)

const defaultPort = 9290

func serveCommand() *cli.Command {
	flags := joinFlags(storeFlags(), []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		},
	})

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the workflow-record HTTP API",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			return withStore(ctx, command, func(store checkpoint.Store) error {
				logger := log.WithComponent("api")

				// The API manages checkpoint records only; runs are started
				// from the CLI, so the engine needs no library or analyzer.
				eng := engine.New(store, nil, nil, nil, logger)
				app := newApp(eng)

				logger.Info("Starting API server", "port", command.Int("port"))

				return app.Listen(":" + strconv.Itoa(command.Int("port")))
			})
		},
	}
}

func newApp(eng *engine.Engine) *fiber.App {
	handlers := web.NewHandlers(eng, log.WithComponent("web"))

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Get("/:id", handlers.GetWorkflow)
	w.Post("/:id/pause", handlers.PauseWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/prune", handlers.PruneWorkflows)

	app.Get("/health", handlers.HealthCheck)

	return app
}
