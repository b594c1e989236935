package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"hapibridge/internal/command"
	"hapibridge/internal/config"
)

var version = "dev"

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig: config.LoadConfig,
		RunServe: func(ctx context.Context, cfg config.Config) error {
			return runServe(ctx, cfg, os.Stderr)
		},
		RunStatus: func(ctx context.Context, cfg config.Config) error {
			return runStatus(ctx, cfg, os.Stdout)
		},
		RunMigrateUp: func(ctx context.Context, cfg config.Config) error {
			return runMigrateUp(ctx, cfg, os.Stdout)
		},
	})
	app.Version = version

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
