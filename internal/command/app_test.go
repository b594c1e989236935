package command

import (
	"context"
	"testing"

	"hapibridge/internal/config"
)

func TestBuildApp_DefaultCommandIsServe(t *testing.T) {
	serveCalled := 0
	statusCalled := 0
	migrateCalled := 0
	app := BuildApp(Deps{
		LoadConfig: func() config.Config {
			return config.Config{}
		},
		RunServe: func(context.Context, config.Config) error {
			serveCalled++
			return nil
		},
		RunStatus: func(context.Context, config.Config) error {
			statusCalled++
			return nil
		},
		RunMigrateUp: func(context.Context, config.Config) error {
			migrateCalled++
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"hapibridge"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if serveCalled != 1 || statusCalled != 0 || migrateCalled != 0 {
		t.Fatalf("unexpected call count serve=%d status=%d migrate=%d", serveCalled, statusCalled, migrateCalled)
	}
}

func TestBuildApp_StatusCommand(t *testing.T) {
	serveCalled := 0
	statusCalled := 0
	app := BuildApp(Deps{
		LoadConfig: func() config.Config {
			return config.Config{}
		},
		RunServe: func(context.Context, config.Config) error {
			serveCalled++
			return nil
		},
		RunStatus: func(context.Context, config.Config) error {
			statusCalled++
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"hapibridge", "status"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if serveCalled != 0 || statusCalled != 1 {
		t.Fatalf("unexpected call count serve=%d status=%d", serveCalled, statusCalled)
	}
}

func TestBuildApp_MigrateUpCommand(t *testing.T) {
	migrateCalled := 0
	app := BuildApp(Deps{
		LoadConfig: func() config.Config {
			return config.Config{}
		},
		RunServe:  func(context.Context, config.Config) error { return nil },
		RunStatus: func(context.Context, config.Config) error { return nil },
		RunMigrateUp: func(context.Context, config.Config) error {
			migrateCalled++
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"hapibridge", "migrate", "up"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if migrateCalled != 1 {
		t.Fatalf("expected migrate command called once, got %d", migrateCalled)
	}
}

func TestBuildApp_MissingRunner(t *testing.T) {
	app := BuildApp(Deps{
		LoadConfig: func() config.Config { return config.Config{} },
	})
	if err := app.RunContext(context.Background(), []string{"hapibridge", "serve"}); err == nil {
		t.Fatalf("expected error when serve runner is unset")
	}
}
