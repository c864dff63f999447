// Package main runs the trigger consumers that drive chatbot flow executions.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/convoflow/pkg/cmd"
	cli "github.com/urfave/cli/v3"
)

func main() {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Value:   "",
			Sources: cli.EnvVars("WORKER_ID"),
		},
	}
	flags = append(flags, cmd.RuntimeFlags()...)
	flags = append(flags, cmd.LogFlags()...)

	command := &cli.Command{
		Name:                  "convoflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Consume triggers and run chatbot flow executions",
		Flags:                 flags,
		Action:                run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		panic(err)
	}
}
