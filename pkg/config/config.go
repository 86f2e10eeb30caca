package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the runtime configuration of the notiflow server.
type Config struct {
	Port          int           `validate:"required,min=1,max=65535"`
	LogLevel      string        `validate:"required,oneof=debug info warn error"`
	LogFormat     string        `validate:"required,oneof=text json"`
	WorkflowsPath string        `validate:"required"`
	EventBus      string        `validate:"required,oneof=gochannel kafka"`
	KafkaBrokers  []string      `validate:"required_if=EventBus kafka,dive,required"`
	DigestStore   string        `validate:"required"`
	StepTimeout   time.Duration `validate:"gt=0"`
	DigestSweep   string        `validate:"required"`
	LogChannels   []string      `validate:"dive,oneof=in_app email sms push chat"` // Written to the log instead of the event bus
	ServiceName   string        `validate:"required"`
	Tracing       bool
}

// Default returns the configuration used when no flag or environment variable is set.
func Default() Config {
	return Config{
		Port:          3000,
		LogLevel:      "info",
		LogFormat:     "text",
		WorkflowsPath: "workflows.yaml",
		EventBus:      "gochannel",
		DigestStore:   "memory",
		StepTimeout:   30 * time.Second,
		DigestSweep:   "@every 1m",
		ServiceName:   "notiflow",
	}
}

// Validate checks the configuration fields.
func (c Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}
