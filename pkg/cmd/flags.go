package cmd

import (
	"github.com/dukex/convoflow/pkg/engine"
	"github.com/dukex/convoflow/pkg/timer"
	"github.com/urfave/cli/v3"
)

const DefaultPort = 9091

func DatabaseURLFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Database connection URL for persistence (postgres://, sqlite://, file://)",
		Required: true,
		Sources:  cli.EnvVars("DATABASE_URL"),
	}
}

func LogFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// RuntimeFlags configure everything needed to run the engine.
func RuntimeFlags() []cli.Flag {
	return []cli.Flag{
		DatabaseURLFlag(),
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Trigger queue (kafka, gochannel)",
			Value:   "gochannel",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka bootstrap brokers",
			Value:   []string{"localhost:9092"},
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for conversation locks and timers (in-memory when empty)",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.IntFlag{
			Name:    "max-steps",
			Usage:   "Node steps allowed per invocation unless the flow overrides it",
			Value:   engine.DefaultMaxSteps,
			Sources: cli.EnvVars("MAX_STEPS"),
		},
		&cli.DurationFlag{
			Name:    "lock-ttl",
			Usage:   "Conversation lease duration",
			Value:   engine.DefaultLockTTL,
			Sources: cli.EnvVars("LOCK_TTL"),
		},
		&cli.StringFlag{
			Name:    "sender-url",
			Usage:   "Channel gateway base URL for outbound messages (logged only when empty)",
			Sources: cli.EnvVars("SENDER_URL"),
		},
		&cli.DurationFlag{
			Name:    "action-timeout",
			Usage:   "Default timeout of action node calls",
			Value:   engine.DefaultActionTimeout,
			Sources: cli.EnvVars("ACTION_TIMEOUT"),
		},
		&cli.DurationFlag{
			Name:    "timer-poll-interval",
			Usage:   "How often due timers are published",
			Value:   timer.DefaultPollInterval,
			Sources: cli.EnvVars("TIMER_POLL_INTERVAL"),
		},
		&cli.StringFlag{
			Name:    "sweep-schedule",
			Usage:   "Cron schedule of the overdue timer sweep",
			Value:   timer.DefaultSweepSchedule,
			Sources: cli.EnvVars("SWEEP_SCHEDULE"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP (OTEL_EXPORTER_OTLP_* variables apply)",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	}
}

// EngineConfig reads the engine settings from RuntimeFlags.
func EngineConfig(command *cli.Command, owner string) engine.Config {
	return engine.Config{
		MaxSteps:      command.Int("max-steps"),
		LockTTL:       command.Duration("lock-ttl"),
		ActionTimeout: command.Duration("action-timeout"),
		Owner:         owner,
	}
}
