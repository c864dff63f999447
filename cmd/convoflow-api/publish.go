package main

import (
	"context"
	"fmt"

	"github.com/dukex/convoflow/pkg/cmd"
	"github.com/dukex/convoflow/pkg/flow"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/models"
	cli "github.com/urfave/cli/v3"
)

func NewPublishCommand() *cli.Command {
	flags := []cli.Flag{cmd.DatabaseURLFlag()}
	flags = append(flags, cmd.LogFlags()...)

	return &cli.Command{
		Name:      "publish",
		Usage:     "Validate flow definition files and publish them as new versions",
		ArgsUsage: "<file>...",
		Flags:     flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("convoflow-api").With("action", "publish")

			flowValidator, err := flow.NewValidator()
			if err != nil {
				return err
			}

			// Nothing is published unless every file is valid.
			graphs, err := loadValid(ctx, flowValidator, command.Args().Slice(), func(path string, _ *models.FlowGraph, err error) {
				if err != nil {
					logger.ErrorContext(ctx, "Invalid flow", "file", path, "error", err)
				}
			})
			if err != nil {
				return err
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			publisher := flow.NewPublisher(persistence.FlowRepository(), flowValidator, logger)

			for _, graph := range graphs {
				_, err := publisher.Publish(ctx, graph)
				if err != nil {
					return fmt.Errorf("failed to publish flow of chatbot %s: %w", graph.ChatbotID, err)
				}
			}

			return nil
		},
	}
}
