package main

import (
	"context"

	"github.com/dukex/convoflow/pkg/cmd"
	"github.com/dukex/convoflow/pkg/log"
	"github.com/dukex/convoflow/pkg/worker"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("convoflow-worker").With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing Convoflow Worker")

	runtime, err := cmd.NewRuntime(ctx, command, "convoflow-worker", workerID, logger)
	if err != nil {
		return err
	}
	defer runtime.Close(ctx)

	manager, err := worker.NewWorkerManager(workerID, runtime.Engine, runtime.Dispatcher, runtime.EventBus, worker.DefaultRetryConfig, logger)
	if err != nil {
		return err
	}

	err = runtime.RunTimers(ctx, command)
	if err != nil {
		return err
	}

	return manager.Start(ctx)
}
