// Package main provides the Convoflow API server and flow definition tooling.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "convoflow-api",
		Usage:                 "Publish chatbot flows and drive conversations over HTTP",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewRunCommand(),
			NewValidateCommand(),
			NewPublishCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := command.Run(ctx, os.Args)
	if err != nil {
		panic(err)
	}
}
