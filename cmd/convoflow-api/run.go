package main

import (
	"context"
	"fmt"

	"github.com/dukex/convoflow/pkg/cmd"
	"github.com/dukex/convoflow/pkg/flow"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/web"
	"github.com/dukex/convoflow/pkg/worker"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func NewRunCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   cmd.DefaultPort,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.BoolFlag{
			Name:    "enqueue",
			Usage:   "Queue start, event and cancel requests as triggers for the workers",
			Sources: cli.EnvVars("API_ENQUEUE"),
		},
		&cli.BoolFlag{
			Name:    "embedded-worker",
			Usage:   "Also consume triggers and fire timers in this process (implied for in-memory timers and the gochannel bus)",
			Sources: cli.EnvVars("EMBEDDED_WORKER"),
		},
	}
	flags = append(flags, cmd.RuntimeFlags()...)
	flags = append(flags, cmd.LogFlags()...)

	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start api",
		Flags:   flags,
		Action:  runAPI,
	}
}

func runAPI(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	instanceID := "api-" + uuid.New().String()[:8]
	logger := log.WithModule("convoflow-api").With("instance_id", instanceID)

	logger.InfoContext(ctx, "Initializing Convoflow API")

	runtime, err := cmd.NewRuntime(ctx, command, "convoflow-api", instanceID, logger)
	if err != nil {
		return err
	}
	defer runtime.Close(ctx)

	flowValidator, err := flow.NewValidator()
	if err != nil {
		return err
	}

	var options []web.HandlerOption
	if command.Bool("enqueue") {
		options = append(options, web.WithTriggerQueue(runtime.EventBus))
	}

	handlers := web.NewAPIHandlers(
		runtime.Engine,
		runtime.Dispatcher,
		flow.NewPublisher(runtime.Persistence.FlowRepository(), flowValidator, logger),
		runtime.Persistence,
		validator.New(validator.WithRequiredStructEnabled()),
		options...,
	)

	runTimers, consume := backgroundDuties(command)

	if runTimers {
		err = runtime.RunTimers(ctx, command)
		if err != nil {
			return err
		}
	}

	if consume {
		manager, err := worker.NewWorkerManager(instanceID, runtime.Engine, runtime.Dispatcher, runtime.EventBus, worker.DefaultRetryConfig, logger)
		if err != nil {
			return err
		}

		go func() {
			err := manager.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Embedded worker stopped", "error", err)
			}
		}()
	}

	logger.InfoContext(ctx, "Background duties", "timers", runTimers, "consumer", consume)

	err = NewAPI(logger, handlers).Start(ctx, command.Int("port"))
	if err != nil {
		return fmt.Errorf("api server failed: %w", err)
	}

	return nil
}

// backgroundDuties decides whether this process fires timers and consumes
// triggers. --embedded-worker forces both; in-memory timers and the gochannel
// bus force their own duty since no worker process can reach them.
func backgroundDuties(command *cli.Command) (timers, consumer bool) {
	if command.Bool("embedded-worker") {
		return true, true
	}

	return cmd.InProcess(command)
}
