package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/flowlane/flowlane/pkg/cmd"
	"github.com/flowlane/flowlane/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "flowlane-ingest",
		EnableShellCompletion: true,
		Usage:                 "Serve the authoring, enrollment and webhook ingest API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Usage:   "Port to listen on",
				Value:   8080,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("flowlane-ingest")
			logger.InfoContext(ctx, "Initializing Flowlane API")

			persistence, err := cmd.NewPersistence(ctx, command.String("database-url"), logger)
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), "flowlane-ingest", logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			api := NewAPI(logger, persistence, eventBus)

			return api.Start(command.Int("port"))
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
