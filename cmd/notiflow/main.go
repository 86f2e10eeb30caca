// Package main provides the notiflow server and manifest tooling.
package main

import (
	"context"
	"os"
	"time"

	"github.com/dukex/notiflow/pkg/config"
	cli "github.com/urfave/cli/v3"
)

func main() {
	err := NewCommand().Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func NewCommand() *cli.Command {
	defaults := config.Default()

	return &cli.Command{
		Name:                  "notiflow",
		Usage:                 "Run notification workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   defaults.LogLevel,
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   defaults.LogFormat,
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
			&cli.StringFlag{
				Name:    "workflows",
				Aliases: []string{"w"},
				Usage:   "Path to the workflow manifest",
				Value:   defaults.WorkflowsPath,
				Sources: cli.EnvVars("WORKFLOWS_PATH"),
			},
		},
		Commands: []*cli.Command{
			ServeCommand(defaults),
			ValidateCommand(),
			DescribeCommand(),
		},
	}
}

func serveFlags(defaults config.Config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the bridge on",
			Value:   defaults.Port,
			Sources: cli.EnvVars("PORT"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   defaults.EventBus,
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers, required when the event bus is kafka",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "digest-store",
			Usage:   "Digest store: memory or a redis:// URL",
			Value:   defaults.DigestStore,
			Sources: cli.EnvVars("DIGEST_STORE_URL"),
		},
		&cli.DurationFlag{
			Name:    "step-timeout",
			Usage:   "Upper bound for rendering and delivering one step",
			Value:   defaults.StepTimeout,
			Sources: cli.EnvVars("STEP_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "digest-sweep",
			Usage:   "Cron spec of the job flushing closed digest windows",
			Value:   defaults.DigestSweep,
			Sources: cli.EnvVars("DIGEST_SWEEP_SCHEDULE"),
		},
		&cli.StringSliceFlag{
			Name:    "log-channels",
			Usage:   "Channels written to the log instead of the event bus",
			Sources: cli.EnvVars("LOG_CHANNELS"),
		},
		&cli.BoolFlag{
			Name:    "otel",
			Usage:   "Export traces through OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "service-name",
			Usage:   "Service name reported in traces",
			Value:   defaults.ServiceName,
			Sources: cli.EnvVars("OTEL_SERVICE_NAME"),
		},
	}
}

func configFromCommand(command *cli.Command) config.Config {
	return config.Config{
		Port:          int(command.Int("port")),
		LogLevel:      command.String("log-level"),
		LogFormat:     command.String("log-format"),
		WorkflowsPath: command.String("workflows"),
		EventBus:      command.String("event-bus"),
		KafkaBrokers:  command.StringSlice("kafka-brokers"),
		DigestStore:   command.String("digest-store"),
		StepTimeout:   command.Duration("step-timeout"),
		DigestSweep:   command.String("digest-sweep"),
		LogChannels:   command.StringSlice("log-channels"),
		Tracing:       command.Bool("otel"),
		ServiceName:   command.String("service-name"),
	}
}

const shutdownTimeout = 10 * time.Second
