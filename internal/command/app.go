package command

import (
	"context"
	"errors"

	"github.com/urfave/cli/v2"

	"hapibridge/internal/config"
)

type Deps struct {
	LoadConfig   func() config.Config
	RunServe     func(context.Context, config.Config) error
	RunStatus    func(context.Context, config.Config) error
	RunMigrateUp func(context.Context, config.Config) error
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "hapibridge",
		Usage: "chat bridge for remote coding agent sessions",
		Action: func(ctx *cli.Context) error {
			return runServe(ctx.Context, deps, loadConfig(deps))
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "connect to the agent server and start dispatching",
				Action: func(ctx *cli.Context) error {
					return runServe(ctx.Context, deps, loadConfig(deps))
				},
			},
			{
				Name:  "status",
				Usage: "check server reachability and list sessions",
				Action: func(ctx *cli.Context) error {
					return runStatus(ctx.Context, deps, loadConfig(deps))
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							return runMigrateUp(ctx.Context, deps, loadConfig(deps))
						},
					},
				},
			},
		},
	}
}

func loadConfig(deps Deps) config.Config {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig()
}

func runServe(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg)
}

func runStatus(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunStatus == nil {
		return errors.New("status runner is not configured")
	}
	return deps.RunStatus(ctx, cfg)
}

func runMigrateUp(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunMigrateUp == nil {
		return errors.New("migrate up runner is not configured")
	}
	return deps.RunMigrateUp(ctx, cfg)
}
