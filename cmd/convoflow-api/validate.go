package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/convoflow/pkg/flow"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/models"
	cli "github.com/urfave/cli/v3"
)

var errInvalidFlows = errors.New("some flow definitions are invalid")

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate flow definition files (JSON or YAML)",
		ArgsUsage: "<file>...",
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.WithModule("convoflow-api").With("action", "validate")

			flowValidator, err := flow.NewValidator()
			if err != nil {
				return err
			}

			_, err = loadValid(ctx, flowValidator, command.Args().Slice(), func(path string, graph *models.FlowGraph, err error) {
				if err != nil {
					logger.ErrorContext(ctx, "Invalid flow", "file", path, "error", err)

					return
				}

				logger.InfoContext(ctx, "Flow is valid", "file", path, "chatbot_id", graph.ChatbotID, "nodes", len(graph.Nodes))
			})

			return err
		},
	}
}

// loadValid loads and validates every file, reporting each result. It
// returns the valid graphs, or errInvalidFlows if any file failed.
func loadValid(
	ctx context.Context,
	flowValidator *flow.Validator,
	paths []string,
	report func(path string, graph *models.FlowGraph, err error),
) ([]*models.FlowGraph, error) {
	if len(paths) == 0 {
		return nil, errors.New("no flow files given")
	}

	graphs := make([]*models.FlowGraph, 0, len(paths))
	failed := 0

	for _, path := range paths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		graph, err := flow.LoadFile(path)
		if err == nil {
			err = flowValidator.Validate(graph)
		}

		report(path, graph, err)

		if err != nil {
			failed++

			continue
		}

		graphs = append(graphs, graph)
	}

	if failed > 0 {
		return graphs, fmt.Errorf("%w: %d of %d", errInvalidFlows, failed, len(paths))
	}

	return graphs, nil
}
