package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dukex/notiflow/pkg/cmd"
	"github.com/dukex/notiflow/pkg/config"
	"github.com/dukex/notiflow/pkg/log"
	"github.com/dukex/notiflow/pkg/registry"
	cli "github.com/urfave/cli/v3"
)

func ServeCommand(defaults config.Config) *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Serve the workflows of a manifest over the bridge protocol",
		Flags:   serveFlags(defaults),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("bridge")
			cfg := configFromCommand(command)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoContext(ctx, "Initializing notiflow", "event_bus", cfg.EventBus, "digest_store", cfg.DigestStore)

			runtime, err := cmd.NewRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := runtime.Close(context.WithoutCancel(ctx)); err != nil {
					logger.ErrorContext(ctx, "Failed to close runtime", "error", err)
				}
			}()

			if _, err := runtime.LoadWorkflows(cfg.WorkflowsPath); err != nil {
				return err
			}

			if err := runtime.Sweeper.Start(ctx); err != nil {
				return err
			}

			app := NewAPI(logger, runtime.Registry).App()

			errCh := make(chan error, 1)
			go func() {
				errCh <- app.Listen(fmt.Sprintf(":%d", cfg.Port))
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				logger.Info("Shutting down bridge")

				return app.ShutdownWithTimeout(shutdownTimeout)
			}
		},
	}
}

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check that every workflow of a manifest registers",
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			reg, err := loadManifest(command.String("workflows"))
			if err != nil {
				return err
			}

			health := reg.HealthCheck()

			_, err = fmt.Fprintf(command.Root().Writer, "%s: %d workflows, %d steps\n",
				command.String("workflows"), health.Discovered.Workflows, health.Discovered.Steps)

			return err
		},
	}
}

func DescribeCommand() *cli.Command {
	return &cli.Command{
		Name:  "describe",
		Usage: "Print the discovery document of a manifest",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "workflow-id",
				Usage: "Describe only this workflow",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			reg, err := loadManifest(command.String("workflows"))
			if err != nil {
				return err
			}

			response, err := reg.Describe(command.String("workflow-id"))
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(command.Root().Writer)
			encoder.SetIndent("", "  ")

			return encoder.Encode(response)
		},
	}
}

func loadManifest(path string) (*registry.Registry, error) {
	manifest, err := config.LoadManifest(path)
	if err != nil {
		return nil, err
	}

	reg := registry.NewRegistry(registry.WithLogger(log.WithModule("validate")))

	if _, err := manifest.Register(reg); err != nil {
		return nil, err
	}

	return reg, nil
}
