package main

import (
	"context"
	"log/slog"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "procflow",
		Usage: "Build, run and serve processor sequences",
		Commands: []*cli.Command{
			newServeCommand(),
			newRunCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("procflow failed", "err", err)
		os.Exit(1)
	}
}
